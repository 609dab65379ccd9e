package config

import (
	"fmt"
	"net"
	"time"

	pkgconfig "github.com/Sumudu01/NayanaPharma/pkg/config"
	"github.com/Sumudu01/NayanaPharma/pkg/database"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Sale delete policies.
const (
	SaleDeleteRetain  = "retain"
	SaleDeleteRestock = "restock"
)

// Config holds all configuration for the pharmacy service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort           int      `env:"HTTP_PORT" envDefault:"8080"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// Per-client limit on cart and checkout calls. 0 disables it.
	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"20"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"40"`

	// Persistence
	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"pharmacy"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"pharmacy_secret"`
	PostgresDB   string `env:"POSTGRES_DB" envDefault:"nayana_pharma"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Database pool
	DBMaxConns            int32 `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns            int32 `env:"DB_MIN_CONNS" envDefault:"5"`
	DBMaxConnLifetimeMins int   `env:"DB_MAX_CONN_LIFETIME_MINS" envDefault:"60"`
	DBMaxConnIdleTimeMins int   `env:"DB_MAX_CONN_IDLE_TIME_MINS" envDefault:"30"`

	// Slow query logging
	SlowQueryThresholdMs int `env:"SLOW_QUERY_THRESHOLD_MS" envDefault:"200"`

	// Redis (cart sessions, idempotency keys). Empty host keeps them in memory.
	RedisHost     string `env:"REDIS_HOST" envDefault:""`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Kafka
	KafkaEnabled bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// Reservations and checkout
	ReservationTTLSeconds int    `env:"RESERVATION_TTL_SECONDS" envDefault:"900"`
	SweepIntervalSeconds  int    `env:"SWEEP_INTERVAL_SECONDS" envDefault:"60"`
	SweepBatchSize        int    `env:"SWEEP_BATCH_SIZE" envDefault:"500"`
	LowStockThreshold     int    `env:"LOW_STOCK_THRESHOLD" envDefault:"10"`
	SaleDeletePolicy      string `env:"SALE_DELETE_POLICY" envDefault:"retain"`
	CartSessionTTLHours   int    `env:"CART_SESSION_TTL_HOURS" envDefault:"24"`
	IdempotencyTTLHours   int    `env:"IDEMPOTENCY_TTL_HOURS" envDefault:"24"`

	// Collaborators. Empty URLs fall back to the local catalog and an
	// accept-all customer directory.
	CatalogURL           string `env:"CATALOG_URL" envDefault:""`
	CustomerDirectoryURL string `env:"CUSTOMER_DIRECTORY_URL" envDefault:""`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// Pprof debug endpoints (IP allowlist in CIDR notation)
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"10.0.0.0/8,172.16.0.0/12,192.168.0.0/16,127.0.0.0/8,::1/128" envSeparator:","`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load pharmacy config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	switch c.StoreDriver {
	case DriverPostgres:
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required")
		}
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverMemory, c.StoreDriver)
	}
	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when KAFKA_ENABLED is set")
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be >= 0")
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	if c.ReservationTTLSeconds <= 0 {
		return fmt.Errorf("RESERVATION_TTL_SECONDS must be > 0, got %d", c.ReservationTTLSeconds)
	}
	if c.SweepIntervalSeconds <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL_SECONDS must be > 0, got %d", c.SweepIntervalSeconds)
	}
	if c.SweepBatchSize <= 0 {
		return fmt.Errorf("SWEEP_BATCH_SIZE must be > 0, got %d", c.SweepBatchSize)
	}
	if c.LowStockThreshold < 0 {
		return fmt.Errorf("LOW_STOCK_THRESHOLD must be >= 0, got %d", c.LowStockThreshold)
	}
	if c.SaleDeletePolicy != SaleDeleteRetain && c.SaleDeletePolicy != SaleDeleteRestock {
		return fmt.Errorf("SALE_DELETE_POLICY must be %q or %q, got %q", SaleDeleteRetain, SaleDeleteRestock, c.SaleDeletePolicy)
	}
	if c.CartSessionTTLHours <= 0 || c.IdempotencyTTLHours <= 0 {
		return fmt.Errorf("CART_SESSION_TTL_HOURS and IDEMPOTENCY_TTL_HOURS must be > 0")
	}
	for _, cidr := range c.PprofAllowedCIDRs {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("PPROF_ALLOWED_CIDRS: %w", err)
		}
	}
	return nil
}

// Postgres returns the pool configuration.
func (c *Config) Postgres() database.PostgresConfig {
	return database.PostgresConfig{
		Host:            c.PostgresHost,
		Port:            c.PostgresPort,
		User:            c.PostgresUser,
		Password:        c.PostgresPass,
		DBName:          c.PostgresDB,
		SSLMode:         c.PostgresSSL,
		MaxConns:        c.DBMaxConns,
		MinConns:        c.DBMinConns,
		MaxConnLifetime: time.Duration(c.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(c.DBMaxConnIdleTimeMins) * time.Minute,
	}
}

// Redis returns the Redis configuration.
func (c *Config) Redis() database.RedisConfig {
	return database.RedisConfig{Host: c.RedisHost, Port: c.RedisPort, Password: c.RedisPassword, DB: c.RedisDB}
}

// RedisEnabled reports whether sessions and idempotency keys live in Redis.
func (c *Config) RedisEnabled() bool { return c.RedisHost != "" }

// ReservationTTL is the lifetime of a cart hold.
func (c *Config) ReservationTTL() time.Duration {
	return time.Duration(c.ReservationTTLSeconds) * time.Second
}

// SweepInterval is the period of the expiry sweep.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// CartSessionTTL is the lifetime of an idle cart session.
func (c *Config) CartSessionTTL() time.Duration {
	return time.Duration(c.CartSessionTTLHours) * time.Hour
}

// IdempotencyTTL is how long checkout idempotency keys are remembered.
func (c *Config) IdempotencyTTL() time.Duration {
	return time.Duration(c.IdempotencyTTLHours) * time.Hour
}

// SlowQueryThreshold is the duration above which SQL statements are logged.
func (c *Config) SlowQueryThreshold() time.Duration {
	return time.Duration(c.SlowQueryThresholdMs) * time.Millisecond
}
