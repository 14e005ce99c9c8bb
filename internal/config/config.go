package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the application.
type Config struct {
	Server  ServerConfig
	DB      DBConfig
	Redis   RedisConfig
	Log     LogConfig
	Outbox  OutboxConfig
	Payment PaymentConfig
	Point   PointConfig
	Coupon  CouponConfig
	Stats   StatsConfig
	Lock    LockConfig
	Order   OrderConfig
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port            string `envconfig:"SERVER_PORT" default:"3000"`
	ShutdownTimeout int    `envconfig:"SHUTDOWN_TIMEOUT" default:"30"` // seconds
}

// DBConfig holds database-related configuration.
// WARNING: Default password is for local development only.
// In production, always set DB_PASSWORD via environment variable.
// In production, set DB_SSLMODE to "require" or "verify-full".
type DBConfig struct {
	Host     string `envconfig:"DB_HOST" default:"localhost"`
	Port     int    `envconfig:"DB_PORT" default:"5432"`
	User     string `envconfig:"DB_USER" default:"postgres"`
	Password string `envconfig:"DB_PASSWORD" default:"postgres"` // CHANGE IN PRODUCTION
	Name     string `envconfig:"DB_NAME" default:"ecommerce_db"`
	SSLMode  string `envconfig:"DB_SSLMODE" default:"disable"` // Use "require" in production
	MaxConns int    `envconfig:"DB_MAX_CONNS" default:"25"`
	MinConns int    `envconfig:"DB_MIN_CONNS" default:"5"`
}

// DSN returns the PostgreSQL connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d&pool_min_conns=%d",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode, c.MaxConns, c.MinConns)
}

// RedisConfig holds memory-store configuration.
type RedisConfig struct {
	Addr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password string `envconfig:"REDIS_PASSWORD" default:""`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
	PoolSize int    `envconfig:"REDIS_POOL_SIZE" default:"50"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Pretty bool   `envconfig:"LOG_PRETTY" default:"false"`
}

// OutboxConfig tunes the outbox dispatcher and DLQ monitor.
type OutboxConfig struct {
	PollInterval      time.Duration `envconfig:"OUTBOX_POLL_INTERVAL" default:"5s"`
	BatchSize         int           `envconfig:"OUTBOX_BATCH_SIZE" default:"50"`
	MaxRetry          int           `envconfig:"OUTBOX_MAX_RETRY" default:"5"`
	DLQCheckInterval  time.Duration `envconfig:"OUTBOX_DLQ_CHECK_INTERVAL" default:"60s"`
	DLQAlertThreshold int           `envconfig:"OUTBOX_DLQ_ALERT_THRESHOLD" default:"10"`
	DLQReportInterval time.Duration `envconfig:"OUTBOX_DLQ_REPORT_INTERVAL" default:"10m"`
	Retention         time.Duration `envconfig:"OUTBOX_RETENTION" default:"24h"`
	CleanupInterval   time.Duration `envconfig:"OUTBOX_CLEANUP_INTERVAL" default:"1h"`
}

// PaymentConfig holds payment-gateway configuration.
type PaymentConfig struct {
	GatewayBaseURL string        `envconfig:"PG_BASE_URL" default:"http://localhost:8090"`
	GatewayTimeout time.Duration `envconfig:"PG_TIMEOUT" default:"30s"`
}

// PointConfig bounds the point-balance engine.
type PointConfig struct {
	MaxBalance    int64 `envconfig:"POINT_MAX_BALANCE" default:"10000000"`
	DailyUseLimit int64 `envconfig:"POINT_DAILY_USE_LIMIT" default:"1000000"`
}

// CouponConfig tunes the limited-issue coupon engine.
type CouponConfig struct {
	DrainInterval  time.Duration `envconfig:"COUPON_DRAIN_INTERVAL" default:"1s"`
	DrainBatchSize int           `envconfig:"COUPON_DRAIN_BATCH_SIZE" default:"100"`
}

// StatsConfig tunes the statistics aggregator.
type StatsConfig struct {
	FoldInterval time.Duration `envconfig:"STATS_FOLD_INTERVAL" default:"30m"`
	ChunkSize    int           `envconfig:"STATS_CHUNK_SIZE" default:"100"`
}

// OrderConfig bounds the order expiry worker.
type OrderConfig struct {
	PaymentWindow  time.Duration `envconfig:"ORDER_PAYMENT_WINDOW" default:"30m"`
	ExpiryInterval time.Duration `envconfig:"ORDER_EXPIRY_INTERVAL" default:"1m"`
	ExpiryBatch    int           `envconfig:"ORDER_EXPIRY_BATCH" default:"100"`
}

// LockConfig tunes the distributed lock manager.
type LockConfig struct {
	TTL         time.Duration `envconfig:"LOCK_TTL" default:"3s"`
	WaitTimeout time.Duration `envconfig:"LOCK_WAIT_TIMEOUT" default:"5s"`
}

// Load parses environment variables into the Config struct.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
