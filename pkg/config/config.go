// Package config loads engine configuration from an optional YAML file with
// environment variable overrides. Secrets only ever come from the
// environment.
package config

import (
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/felineworks/resolve-engine/pkg/matching"
)

// Config holds all configuration for resolve-engine.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8090"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Redis configuration (optional; generator run-locks)
	Redis RedisConfig `yaml:"redis"`

	// Generator configuration
	Generator GeneratorConfig `yaml:"generator"`

	// Matching thresholds
	Matching matching.Thresholds `yaml:"matching"`

	// MigrationsPath is the directory holding SQL migration files.
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"resolve"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"resolve_engine"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
}

// URL builds a connection string from the database configuration.
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// RedisConfig holds Redis connection configuration. An empty host disables
// Redis entirely.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// GeneratorConfig holds candidate generator scheduling configuration.
type GeneratorConfig struct {
	// IntervalMinutes is how often the periodic batch runs per entity kind.
	IntervalMinutes int `yaml:"interval_minutes" env:"GENERATOR_INTERVAL_MINUTES" env-default:"30"`
	// LockTTLMinutes bounds how long a run-lock can be held before it expires.
	LockTTLMinutes int `yaml:"lock_ttl_minutes" env:"GENERATOR_LOCK_TTL_MINUTES" env-default:"25"`
	// Enabled turns the in-process scheduler on or off.
	Enabled bool `yaml:"enabled" env:"GENERATOR_ENABLED" env-default:"true"`
}

// Load reads configuration from config.yaml (when present) and the
// environment. Environment variables always win.
func Load(version string) (*Config, error) {
	cfg := &Config{}

	const configFile = "config.yaml"
	if _, err := os.Stat(configFile); err == nil {
		if err := cleanenv.ReadConfig(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", configFile, err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	cfg.Version = version
	return cfg, nil
}
