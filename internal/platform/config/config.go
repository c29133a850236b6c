package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv      string `env:"APP_ENV" default:"development"`
	Port        string `env:"PORT" default:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`
	ViewerID    string `env:"VIEWER_ID"`
	LogLevel    string `env:"LOG_LEVEL" default:"info"`
	LogFormat   string `env:"LOG_FORMAT" default:"text"`

	MutationRatePerSecond float64       `env:"MUTATION_RATE_PER_SECOND" default:"10"`
	MutationBurst         int           `env:"MUTATION_BURST" default:"20"`
	ShutdownTimeout       time.Duration `env:"SHUTDOWN_TIMEOUT" default:"10s"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	required := map[string]string{
		"DATABASE_URL": cfg.DatabaseURL,
		"REDIS_URL":    cfg.RedisURL,
		"VIEWER_ID":    cfg.ViewerID,
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	if cfg.MutationRatePerSecond <= 0 {
		return fmt.Errorf("MUTATION_RATE_PER_SECOND must be positive, got %v", cfg.MutationRatePerSecond)
	}
	if cfg.MutationBurst < 1 {
		return fmt.Errorf("MUTATION_BURST must be at least 1, got %d", cfg.MutationBurst)
	}

	return nil
}
