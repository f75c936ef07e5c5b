// Package config loads the service configuration from environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	TokenSchemeLegacy = "legacy"
	TokenSchemeSigned = "signed"

	BackendPostgres   = "postgres"
	BackendRedis      = "redis"
	BackendCloudinary = "cloudinary"
	BackendMemory     = "memory"
)

type Config struct {
	AppEnv   string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Port     string `envconfig:"PORT" default:"8080"`

	DatabaseURL            string        `envconfig:"DATABASE_URL" required:"true"`
	DBMaxOpenConns         int           `envconfig:"DB_MAX_OPEN_CONNS" default:"10"`
	DBMaxIdleConns         int           `envconfig:"DB_MAX_IDLE_CONNS" default:"5"`
	DBConnMaxLifetime      time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"30m"`
	DBConnMaxIdleTime      time.Duration `envconfig:"DB_CONN_MAX_IDLE_TIME" default:"10m"`
	RunMigrationsOnStartup bool          `envconfig:"RUN_MIGRATIONS_ON_STARTUP" default:"false"`

	// AdminPassword doubles as the token secret unless TokenSecret is set.
	AdminPassword     string        `envconfig:"ADMIN_PASSWORD"`
	AdminPasswordHash string        `envconfig:"ADMIN_PASSWORD_HASH"`
	TokenSecret       string        `envconfig:"TOKEN_SECRET"`
	TokenScheme       string        `envconfig:"TOKEN_SCHEME" default:"legacy"`
	TokenTTL          time.Duration `envconfig:"TOKEN_TTL" default:"24h"`

	LoginMaxAttempts      int           `envconfig:"LOGIN_MAX_ATTEMPTS" default:"5"`
	LoginLockDuration     time.Duration `envconfig:"LOGIN_LOCK_DURATION" default:"1h"`
	LoginRateLimitMax     int           `envconfig:"LOGIN_RATE_LIMIT_MAX" default:"30"`
	LoginRateLimitWindow  time.Duration `envconfig:"LOGIN_RATE_LIMIT_WINDOW" default:"1m"`
	AttemptStore          string        `envconfig:"ATTEMPT_STORE" default:"postgres"`
	RedisURL              string        `envconfig:"REDIS_URL"`
	LoginAttemptRetention time.Duration `envconfig:"LOGIN_ATTEMPT_RETENTION" default:"720h"`

	BlobBackend    string `envconfig:"BLOB_BACKEND" default:"postgres"`
	CloudinaryURL  string `envconfig:"CLOUDINARY_URL"`
	MaxUploadBytes int64  `envconfig:"MAX_UPLOAD_BYTES" default:"10485760"`

	SentryDSN       string `envconfig:"SENTRY_DSN"`
	CORSAllowOrigin string `envconfig:"CORS_ALLOW_ORIGIN" default:"*"`

	// TrustProxyHeaders takes the client IP from CF-Connecting-IP,
	// X-Forwarded-For or X-Real-IP. Disable when not behind a proxy.
	TrustProxyHeaders bool `envconfig:"TRUST_PROXY_HEADERS" default:"true"`

	CronSecret       string `envconfig:"CRON_SECRET"`
	CleanupSchedule  string `envconfig:"CLEANUP_SCHEDULE" default:"@every 1h"`
	CleanupBatchSize int    `envconfig:"CLEANUP_BATCH_SIZE" default:"500"`
}

// Load reads the environment, optionally seeded from a local .env file.
func Load(loadDotEnv bool) (*Config, error) {
	if loadDotEnv {
		_ = godotenv.Load()
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	cfg.TokenScheme = strings.ToLower(strings.TrimSpace(cfg.TokenScheme))
	cfg.AttemptStore = strings.ToLower(strings.TrimSpace(cfg.AttemptStore))
	cfg.BlobBackend = strings.ToLower(strings.TrimSpace(cfg.BlobBackend))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Secret returns the value tokens are derived from.
func (c *Config) Secret() string {
	if c.TokenSecret != "" {
		return c.TokenSecret
	}
	return c.AdminPassword
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.AdminPassword == "" && c.AdminPasswordHash == "" {
		return fmt.Errorf("ADMIN_PASSWORD or ADMIN_PASSWORD_HASH is required")
	}
	if c.Secret() == "" {
		return fmt.Errorf("TOKEN_SECRET is required when only ADMIN_PASSWORD_HASH is set")
	}

	switch c.TokenScheme {
	case TokenSchemeLegacy, TokenSchemeSigned:
	default:
		return fmt.Errorf("unknown TOKEN_SCHEME %q", c.TokenScheme)
	}

	switch c.AttemptStore {
	case BackendPostgres, BackendMemory:
	case BackendRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			return fmt.Errorf("REDIS_URL is required when ATTEMPT_STORE=redis")
		}
	default:
		return fmt.Errorf("unknown ATTEMPT_STORE %q", c.AttemptStore)
	}

	switch c.BlobBackend {
	case BackendPostgres, BackendMemory:
	case BackendCloudinary:
		if strings.TrimSpace(c.CloudinaryURL) == "" {
			return fmt.Errorf("CLOUDINARY_URL is required when BLOB_BACKEND=cloudinary")
		}
	default:
		return fmt.Errorf("unknown BLOB_BACKEND %q", c.BlobBackend)
	}

	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be > 0")
	}
	if c.LoginMaxAttempts <= 0 {
		return fmt.Errorf("LOGIN_MAX_ATTEMPTS must be > 0")
	}
	if c.LoginLockDuration <= 0 {
		return fmt.Errorf("LOGIN_LOCK_DURATION must be > 0")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be > 0")
	}
	if c.DBMaxOpenConns <= 0 || c.DBMaxIdleConns < 0 || c.DBMaxIdleConns > c.DBMaxOpenConns {
		return fmt.Errorf("invalid DB_MAX_OPEN_CONNS/DB_MAX_IDLE_CONNS")
	}
	return nil
}
