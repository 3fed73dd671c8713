// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Postgres, Kafka, Redis, Lifecycle, Sources, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Sources   []SourceConfig  `yaml:"sources"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Health    HealthConfig    `yaml:"health"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers []string    `yaml:"brokers"`
	Topics  KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	CDCEvents string `yaml:"cdcEvents"`
}

// RedisConfig holds Redis connection parameters for the per-source run locks.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"poolSize"`
}

// LifecycleConfig controls reconciliation thresholds, run budgets, and the
// bootstrap circuit breaker.
type LifecycleConfig struct {
	MinFetchRatio         float64       `yaml:"minFetchRatio"`
	RunTimeout            time.Duration `yaml:"runTimeout"`
	BootstrapMaxFailures  int           `yaml:"bootstrapMaxFailures"`
	BootstrapCooldown     time.Duration `yaml:"bootstrapCooldown"`
	SourceConcurrency     int           `yaml:"sourceConcurrency"`
	RunInterval           time.Duration `yaml:"runInterval"`
	SweepInterval         time.Duration `yaml:"sweepInterval"`
	RelayPollInterval     time.Duration `yaml:"relayPollInterval"`
	RelayBatchSize        int           `yaml:"relayBatchSize"`
	ReportHistoryPerCheck int           `yaml:"reportHistoryPerCheck"`
}

// SourceConfig identifies one external content source and its default
// collection mode ("verify" or "bootstrap").
type SourceConfig struct {
	Name string `yaml:"name"`
	Mode string `yaml:"mode"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// HealthConfig controls the liveness/readiness HTTP endpoint.
type HealthConfig struct {
	Port int `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// defaultConfig returns a Config with production-ready defaults for local
// development.
func defaultConfig() *Config {
	return &Config{
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "lifecycle",
			User:            "lifecycle",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topics: KafkaTopics{
				CDCEvents: "cdc-events",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
		},
		Lifecycle: LifecycleConfig{
			MinFetchRatio:         0.70,
			RunTimeout:            10 * time.Minute,
			BootstrapMaxFailures:  3,
			BootstrapCooldown:     6 * time.Hour,
			SourceConcurrency:     4,
			RunInterval:           1 * time.Hour,
			SweepInterval:         15 * time.Minute,
			RelayPollInterval:     30 * time.Second,
			RelayBatchSize:        100,
			ReportHistoryPerCheck: 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
		Health: HealthConfig{
			Port: 8086,
		},
	}
}

// applyEnvOverrides reads LP_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LP_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("LP_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("LP_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("LP_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("LP_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("LP_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("LP_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("LP_KAFKA_TOPIC_CDC_EVENTS"); v != "" {
		cfg.Kafka.Topics.CDCEvents = v
	}
	if v := os.Getenv("LP_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("LP_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("LP_LIFECYCLE_MIN_FETCH_RATIO"); v != "" {
		if ratio, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Lifecycle.MinFetchRatio = ratio
		}
	}
	if v := os.Getenv("LP_LIFECYCLE_RUN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Lifecycle.RunTimeout = d
		}
	}
	if v := os.Getenv("LP_LIFECYCLE_BOOTSTRAP_MAX_FAILURES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Lifecycle.BootstrapMaxFailures = n
		}
	}
	if v := os.Getenv("LP_LIFECYCLE_BOOTSTRAP_COOLDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Lifecycle.BootstrapCooldown = d
		}
	}
	if v := os.Getenv("LP_LIFECYCLE_SOURCE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Lifecycle.SourceConcurrency = n
		}
	}
	if v := os.Getenv("LP_LIFECYCLE_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Lifecycle.SweepInterval = d
		}
	}
	if v := os.Getenv("LP_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LP_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
