// Package config содержит логику чтения конфигурации сервиса лидербордов.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Поддерживаемые драйверы хранилища.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress        string        `env:"RUN_ADDRESS"`
	DatabaseURI       string        `env:"DATABASE_URI"`
	StorageDriver     string        `env:"STORAGE_DRIVER"`
	StorageTimeout    time.Duration `env:"STORAGE_TIMEOUT"`
	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL"`

	StorageRetries      uint64        `env:"STORAGE_RETRIES" envDefault:"2"`
	DailyOffset         time.Duration `env:"DAILY_OFFSET" envDefault:"5h30m"`
	UniformWindowBounds bool          `env:"UNIFORM_WINDOW_BOUNDS" envDefault:"false"`
	AuthSecret          string        `env:"AUTH_SECRET" envDefault:"claimboard-secret"`
	CORSOrigins         []string      `env:"CORS_ORIGINS" envDefault:"*" envSeparator:","`
}

// Parse считывает конфигурацию из .env, переменных окружения и флагов командной строки.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envStorageDriver := cfg.StorageDriver
	envStorageTimeout := cfg.StorageTimeout
	envReconcileInterval := cfg.ReconcileInterval

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI (PostgreSQL DSN or SQLite file path)")
	flag.StringVar(&cfg.StorageDriver, "s", "", "storage driver: memory, postgres or sqlite")
	flag.DurationVar(&cfg.StorageTimeout, "t", 3*time.Second, "timeout of a single storage call")
	flag.DurationVar(&cfg.ReconcileInterval, "i", time.Minute, "balance reconciliation interval, 0 disables it")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envStorageDriver != "" {
		cfg.StorageDriver = envStorageDriver
	}
	if envStorageTimeout != 0 {
		cfg.StorageTimeout = envStorageTimeout
	}
	if envReconcileInterval != 0 {
		cfg.ReconcileInterval = envReconcileInterval
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if err := cfg.resolveDriver(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) resolveDriver() error {
	if c.StorageDriver == "" {
		if c.DatabaseURI != "" {
			c.StorageDriver = DriverPostgres
		} else {
			c.StorageDriver = DriverMemory
		}
	}

	switch c.StorageDriver {
	case DriverMemory:
		return nil
	case DriverPostgres, DriverSQLite:
		if c.DatabaseURI == "" {
			return fmt.Errorf("storage driver %q requires a database URI", c.StorageDriver)
		}
		return nil
	default:
		return fmt.Errorf("unknown storage driver %q", c.StorageDriver)
	}
}
