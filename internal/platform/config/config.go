// Package config loads process configuration from environment variables so
// main stays lean. Empty connection settings mean the corresponding backend
// is disabled and an in-memory fallback is used.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// App captures everything the orders binary needs to wire itself.
type App struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"KEEL_LOG_LEVEL" envDefault:"info"`

	// PostgresDSN switches the order repository to postgres when set.
	PostgresDSN string `env:"KEEL_POSTGRES_DSN"`

	// RedisAddr switches the cache store to redis when set.
	RedisAddr string `env:"KEEL_REDIS_ADDR"`

	// KafkaBrokers enables commit-event publishing to Kafka when non-empty.
	KafkaBrokers []string `env:"KEEL_KAFKA_BROKERS" envSeparator:","`

	// MetricsAddr exposes the prometheus endpoint.
	MetricsAddr string `env:"KEEL_METRICS_ADDR" envDefault:":9090"`
}

// FromEnv builds the app config from environment variables.
func FromEnv() (App, error) {
	var cfg App
	if err := env.Parse(&cfg); err != nil {
		return App{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
