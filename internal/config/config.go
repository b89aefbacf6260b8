package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	MySQL     MySQLConfig     `mapstructure:"mysql"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Posts     PostsConfig     `mapstructure:"posts"`
}

type ServerConfig struct {
	Environment     string        `mapstructure:"environment"`
	Port            string        `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig selects the store backend: "mysql" or "memory".
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
}

type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type QueueConfig struct {
	Prefix        string        `mapstructure:"prefix"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	LeaseTimeout  time.Duration `mapstructure:"lease_timeout"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	BackoffBase   time.Duration `mapstructure:"backoff_base"`
	FailedHistory int           `mapstructure:"failed_history"`
	// ReconcileInterval is how often stale projects are swept. Zero disables it.
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
}

type ProviderConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	// DryRun logs posts instead of calling the provider.
	DryRun bool `mapstructure:"dry_run"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `mapstructure:"requests_per_second"`
}

type PostsConfig struct {
	MaxLength int `mapstructure:"max_length"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.environment", "dev")
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("mysql.dsn", "")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("queue.prefix", "postpilot")
	v.SetDefault("queue.poll_interval", time.Second)
	v.SetDefault("queue.lease_timeout", 5*time.Minute)
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.backoff_base", time.Minute)
	v.SetDefault("queue.failed_history", 50)
	v.SetDefault("queue.reconcile_interval", 5*time.Minute)
	v.SetDefault("provider.base_url", "https://api.twitter.com")
	v.SetDefault("provider.timeout", 15*time.Second)
	v.SetDefault("provider.requests_per_second", 1.0)
	v.SetDefault("provider.dry_run", false)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "postpilot")
	v.SetDefault("ratelimit.requests_per_second", 5)
	v.SetDefault("posts.max_length", 280)
}

// Load reads config.yaml from the working directory (or ./config) and
// overlays POSTPILOT_* environment variables.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("POSTPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql":
		if c.MySQL.DSN == "" {
			return errors.New("mysql.dsn is required when database.driver is mysql")
		}
	case "memory":
	default:
		return errors.New("database.driver must be mysql or memory")
	}
	if c.Queue.MaxAttempts < 1 {
		return errors.New("queue.max_attempts must be at least 1")
	}
	if c.Posts.MaxLength < 1 {
		return errors.New("posts.max_length must be positive")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	return nil
}
