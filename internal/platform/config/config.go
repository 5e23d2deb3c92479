// Package config loads process configuration from the environment so main
// stays lean.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	platformstrings "auditcore/pkg/platform/strings"
)

// Config is the full process configuration for the audit pipeline daemon.
type Config struct {
	// OpsAddr serves /healthz and /metrics.
	OpsAddr string `env:"AUDITCORE_OPS_ADDR" envDefault:":9090"`

	// LogLevel is one of debug|info|warn|error.
	LogLevel string `env:"AUDITCORE_LOG_LEVEL" envDefault:"info"`

	// MasterKey is the master secret tenant keys are derived from. Must
	// be at least 32 characters; validated by the key provider.
	MasterKey string `env:"AUDITCORE_MASTER_KEY"`

	// EncryptedColumns names the columns handled by the column
	// encryption service.
	EncryptedColumns []string `env:"AUDITCORE_ENCRYPTED_COLUMNS" envSeparator:"," envDefault:"details,actor_display_name,entity_display_name"`

	// PostgresDSN connects the outbox store. Empty disables the
	// Postgres outbox (events stay in the in-memory outbox; dev only).
	PostgresDSN string `env:"AUDITCORE_POSTGRES_DSN"`

	// RedisURL connects the flag store. Empty disables per-tenant flag
	// overrides; defaults then apply to every tenant.
	RedisURL string `env:"AUDITCORE_REDIS_URL"`

	Redis  RedisConfig
	Writer WriterConfig
	Flags  FlagsConfig
	Export ExportConfig
}

// RedisConfig tunes the Redis connection used by the flag store.
type RedisConfig struct {
	PoolSize     int           `env:"AUDITCORE_REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"AUDITCORE_REDIS_MIN_IDLE" envDefault:"2"`
	DialTimeout  time.Duration `env:"AUDITCORE_REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"AUDITCORE_REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"AUDITCORE_REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// WriterConfig tunes the resilient writer and its circuit breaker.
type WriterConfig struct {
	BufferCapacity   int           `env:"AUDITCORE_WRITER_BUFFER_CAP" envDefault:"10000"`
	EnqueueTimeout   time.Duration `env:"AUDITCORE_WRITER_ENQUEUE_TIMEOUT" envDefault:"2s"`
	FailureThreshold int           `env:"AUDITCORE_BREAKER_FAILURE_THRESHOLD" envDefault:"5"`
	SuccessThreshold int           `env:"AUDITCORE_BREAKER_SUCCESS_THRESHOLD" envDefault:"3"`
	Cooldown         time.Duration `env:"AUDITCORE_BREAKER_COOLDOWN" envDefault:"30s"`
	DrainInterval    time.Duration `env:"AUDITCORE_WRITER_DRAIN_INTERVAL" envDefault:"5s"`
	DrainBatchSize   int           `env:"AUDITCORE_WRITER_DRAIN_BATCH" envDefault:"100"`
}

// FlagsConfig sets the static flag defaults and cache TTL.
type FlagsConfig struct {
	CacheTTL          time.Duration `env:"AUDITCORE_FLAGS_TTL" envDefault:"30s"`
	DefaultWriteMode  string        `env:"AUDITCORE_DEFAULT_WRITE_MODE" envDefault:"outbox"`
	HashChainEnabled  bool          `env:"AUDITCORE_HASH_CHAIN_ENABLED" envDefault:"true"`
	TimelineEnabled   bool          `env:"AUDITCORE_TIMELINE_ENABLED" envDefault:"true"`
	EncryptionEnabled bool          `env:"AUDITCORE_ENCRYPTION_ENABLED" envDefault:"true"`
}

// ExportConfig configures the compliance export sink.
type ExportConfig struct {
	Bucket       string `env:"AUDITCORE_EXPORT_BUCKET"`
	Region       string `env:"AUDITCORE_EXPORT_REGION" envDefault:"us-east-1"`
	Endpoint     string `env:"AUDITCORE_EXPORT_ENDPOINT"`
	UsePathStyle bool   `env:"AUDITCORE_EXPORT_PATH_STYLE" envDefault:"false"`
	Prefix       string `env:"AUDITCORE_EXPORT_PREFIX" envDefault:"audit-exports"`
}

// Load parses the configuration from environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.EncryptedColumns = platformstrings.DedupeAndTrimLower(cfg.EncryptedColumns)
	return cfg, nil
}
