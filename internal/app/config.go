package app

import (
	"time"

	"github.com/aerodocs/techpubs-backend/internal/platform/envutil"
	"github.com/aerodocs/techpubs-backend/internal/platform/logger"
)

type Config struct {
	ServiceName     string
	Environment     string
	Version         string
	HTTPPort        string
	ShutdownTimeout time.Duration
}

func LoadConfig(log *logger.Logger) Config {
	shutdownSeconds := envutil.GetEnvAsInt("SHUTDOWN_TIMEOUT_SECONDS", 15, log)
	return Config{
		ServiceName:     envutil.GetEnv("SERVICE_NAME", "techpubs-api", log),
		Environment:     envutil.GetEnv("APP_ENV", "development", log),
		Version:         envutil.GetEnv("APP_VERSION", "dev", log),
		HTTPPort:        envutil.GetEnv("PORT", "8080", log),
		ShutdownTimeout: time.Duration(shutdownSeconds) * time.Second,
	}
}
