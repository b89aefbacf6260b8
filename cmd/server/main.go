package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"postpilot/internal/api"
	"postpilot/internal/config"
	"postpilot/internal/delivery"
	"postpilot/internal/metrics"
	"postpilot/internal/middleware"
	"postpilot/internal/provider"
	"postpilot/internal/queue"
	"postpilot/internal/repository"
	"postpilot/internal/service"
	"postpilot/internal/worker"
	"postpilot/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.InitLogger(cfg.Server.Environment)
	defer logger.Sync()

	if err := run(cfg); err != nil {
		logger.Error("application startup failed", zap.Error(err))
		os.Exit(1)
	}
}

type stores struct {
	projects repository.ProjectInterface
	posts    repository.PostInterface
	accounts repository.AccountInterface
}

func run(cfg *config.Config) error {
	// 2. Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Initialize Infrastructure
	rdb, err := initRedis(cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	st, err := initStores(cfg)
	if err != nil {
		return err
	}

	// 4. Queue, delivery and workers
	observer := metrics.NewPrometheusObserver()
	broker := queue.NewRedisBroker(rdb, cfg.Queue.Prefix,
		queue.WithPolicy(queue.Policy{MaxAttempts: cfg.Queue.MaxAttempts, BackoffBase: cfg.Queue.BackoffBase}),
		queue.WithLease(cfg.Queue.LeaseTimeout),
		queue.WithFailedHistory(cfg.Queue.FailedHistory),
	)

	exec := delivery.NewExecutor(st.projects, st.posts, st.accounts, initPoster(cfg.Provider), delivery.WithObserver(observer))
	registry := worker.NewRegistry(delivery.ConsumerFactory(broker, exec, cfg.Queue.PollInterval), observer)
	exec.UseWorkers(registry)

	// 5. Initialize Services
	lifecycle := service.NewLifecycleService(st.projects, st.posts, broker, registry)
	projectSvc := service.NewProjectService(st.projects, st.posts, st.accounts, broker, lifecycle)
	postSvc := service.NewPostService(st.posts, lifecycle, cfg.Posts.MaxLength)
	accountSvc := service.NewAccountService(st.accounts, st.projects)
	tokens := service.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.Issuer)

	// 6. Restore workers of projects that were running before the restart
	if err := lifecycle.RecoverOnBoot(ctx); err != nil {
		return fmt.Errorf("failed to recover projects: %w", err)
	}

	reconciler := service.NewReconciler(lifecycle, cfg.Queue.ReconcileInterval)
	limiter := middleware.NewRateLimiter(rdb, cfg.Queue.Prefix, cfg.RateLimit.RequestsPerSecond)

	// 7. Setup HTTP Server
	r := api.RegisterRoutes(
		api.NewProjectHandler(projectSvc, lifecycle),
		api.NewPostHandler(postSvc),
		api.NewAccountHandler(accountSvc),
		api.NewHealthHandler(map[string]api.Check{
			"redis": broker.Ping,
			"store": st.projects.PingContext,
		}),
		tokens,
		limiter,
		cfg.Server.Environment,
	)

	srv := &http.Server{
		Addr:    cfg.Server.Port,
		Handler: r,
	}

	// 8. Start Server and background routines; the first failure or a
	// signal cancels the group.
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(sigCtx)

	g.Go(func() error {
		logger.Info("starting reconciler")
		reconciler.Run(gctx)
		return nil
	})
	g.Go(func() error {
		limiter.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("server starting",
			zap.String("addr", cfg.Server.Port),
			zap.String("env", cfg.Server.Environment),
			zap.String("store", cfg.Database.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen failed: %w", err)
		}
		return nil
	})

	// 9. Graceful Shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		return shutdown(shutdownCtx, srv, registry)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server exited properly")
	return nil
}

type httpShutdowner interface {
	Shutdown(ctx context.Context) error
}

type workerStopper interface {
	StopAll(ctx context.Context) error
}

// shutdown stops accepting requests, then waits for in-flight deliveries
// however the HTTP side ended. Queued tasks stay in Redis for the next boot.
func shutdown(ctx context.Context, srv httpShutdowner, workers workerStopper) error {
	shutdownErr := srv.Shutdown(ctx)
	if err := workers.StopAll(ctx); err != nil {
		logger.Warn("workers did not finish in time", zap.Error(err))
	}
	if shutdownErr != nil {
		return fmt.Errorf("server forced to shutdown: %w", shutdownErr)
	}
	return nil
}

// -- Infrastructure Initializers --

func initRedis(cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}

func initStores(cfg *config.Config) (*stores, error) {
	if cfg.Database.Driver == "memory" {
		logger.Warn("using in-memory store, data is lost on restart")
		mem := repository.NewMemoryStore()
		return &stores{projects: mem.Projects(), posts: mem.Posts(), accounts: mem.Accounts()}, nil
	}

	db, err := initDB(cfg.MySQL)
	if err != nil {
		return nil, err
	}
	return &stores{
		projects: repository.NewProjectRepository(db),
		posts:    repository.NewPostRepository(db),
		accounts: repository.NewAccountRepository(db),
	}, nil
}

func initDB(cfg config.MySQLConfig) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mysql: %w", err)
	}

	// Simple auto-migrate for dev convenience
	if err := db.AutoMigrate(repository.Models()...); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

func initPoster(cfg config.ProviderConfig) provider.Poster {
	if cfg.DryRun {
		logger.Warn("provider dry-run enabled, posts are logged and not published")
		return provider.DryRun{}
	}
	return provider.NewTwitterClient(cfg.BaseURL, cfg.Timeout, cfg.RequestsPerSecond)
}
