package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var l = zap.NewNop()

// InitLogger builds the process logger for env ("prod", "test" or anything
// else for a development console logger).
func InitLogger(env string) {
	var cfg zap.Config

	switch env {
	case "test":
		l = zap.NewNop()
		return
	case "prod":
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "time"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		cfg = zap.NewDevelopmentConfig()
	}

	logger, err := cfg.Build(zap.AddCaller(), zap.AddCallerSkip(1))
	if err != nil {
		panic(err)
	}

	l = logger
}

func Info(msg string, fields ...zap.Field) {
	l.Info(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	l.Error(msg, fields...)
}

func Debug(msg string, fields ...zap.Field) {
	l.Debug(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	l.Warn(msg, fields...)
}

// Project returns a child logger tagged with the project id. It skips the
// wrapper frame like the package-level helpers do.
func Project(projectID string) *zap.Logger {
	return l.WithOptions(zap.AddCallerSkip(-1)).With(zap.String("project_id", projectID))
}

func Sync() error {
	return l.Sync()
}
