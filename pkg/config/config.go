package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the service configuration loaded from environment variables.
type Config struct {
	Port         string `env:"PORT" envDefault:"8080"`
	DatabasePath string `env:"DATABASE_PATH" envDefault:"loyalty.db"`

	// Phone normalization defaults to Turkish numbers.
	CountryCode       string `env:"PHONE_COUNTRY_CODE" envDefault:"90"`
	LocalNumberLength int    `env:"PHONE_LOCAL_LENGTH" envDefault:"10"`

	// Per-phone daily request caps for the public endpoints.
	ConsumeDailyLimit int `env:"RATE_LIMIT_CONSUME" envDefault:"10"`
	ClaimDailyLimit   int `env:"RATE_LIMIT_CLAIM" envDefault:"5"`

	AdminKey  string `env:"ADMIN_KEY"`
	JWTSecret string `env:"JWT_SECRET"`

	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"1h"`
}

// Load parses the configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
