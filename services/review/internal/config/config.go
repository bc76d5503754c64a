package config

import (
	"fmt"
	"net/url"
	"time"

	pkgconfig "github.com/Nutcoco971/ProjectavisFew/pkg/config"
	"github.com/Nutcoco971/ProjectavisFew/pkg/database"
)

// Config holds all configuration for the review service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"REVIEW_HTTP_PORT" envDefault:"8010"`

	// PostgreSQL. DatabaseURL, when set, overrides the discrete fields.
	DatabaseURL  string `env:"DATABASE_URL" envDefault:""`
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"projetavis"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"projetavis_secret"`
	PostgresDB   string `env:"REVIEW_DB_NAME" envDefault:"review_db"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Database pool
	DBMaxConns            int32 `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns            int32 `env:"DB_MIN_CONNS" envDefault:"5"`
	DBMaxConnLifetimeMins int   `env:"DB_MAX_CONN_LIFETIME_MINUTES" envDefault:"60"`
	DBMaxConnIdleTimeMins int   `env:"DB_MAX_CONN_IDLE_TIME_MINUTES" envDefault:"30"`

	// Redis. When disabled, submissions are serialized in process and the
	// catalog is not cached.
	RedisEnabled  bool   `env:"REDIS_ENABLED" envDefault:"true"`
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Kafka change feed
	KafkaBrokers     []string      `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	FeedGroupPrefix  string        `env:"FEED_GROUP_PREFIX" envDefault:"review-service-feed"`
	FeedMinBackoff   time.Duration `env:"FEED_MIN_BACKOFF" envDefault:"500ms"`
	FeedMaxBackoff   time.Duration `env:"FEED_MAX_BACKOFF" envDefault:"30s"`
	FeedDedupeWindow time.Duration `env:"FEED_DEDUPE_WINDOW" envDefault:"24h"`

	// Local view maintenance
	FeedResyncInterval time.Duration `env:"FEED_RESYNC_INTERVAL" envDefault:"1m"`
	FeedIdleTTL        time.Duration `env:"FEED_IDLE_TTL" envDefault:"15m"`

	// Submissions
	SubmissionLockTTL time.Duration `env:"SUBMISSION_LOCK_TTL" envDefault:"10s"`
	SubmitRateLimit   float64       `env:"SUBMIT_RATE_LIMIT_RPS" envDefault:"0.2"`
	SubmitRateBurst   int           `env:"SUBMIT_RATE_LIMIT_BURST" envDefault:"5"`

	// Content catalog. An empty CatalogURL reads the local contents table.
	CatalogURL      string        `env:"CATALOG_URL" envDefault:""`
	CatalogCacheTTL time.Duration `env:"CATALOG_CACHE_TTL" envDefault:"5m"`
	CatalogMissTTL  time.Duration `env:"CATALOG_MISS_TTL" envDefault:"15s"`

	// Expired ephemeral review purge
	ReaperEnabled  bool          `env:"REAPER_ENABLED" envDefault:"false"`
	ReaperInterval time.Duration `env:"REAPER_INTERVAL" envDefault:"1h"`

	// Session tokens
	JWTSecret string `env:"JWT_SECRET" envDefault:""`
	JWTIssuer string `env:"JWT_ISSUER" envDefault:"projetavis"`

	// CORS and websocket origins
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// Slow query logging
	SlowQueryThresholdMs int `env:"LOG_SLOW_QUERY_MS" envDefault:"500"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load review config: %w", err)
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
	if c.PostgresHost == "" {
		return fmt.Errorf("POSTGRES_HOST is required")
	}
	if c.PostgresUser == "" {
		return fmt.Errorf("POSTGRES_USER is required")
	}
	if len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required")
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	if c.FeedMinBackoff <= 0 || c.FeedMaxBackoff < c.FeedMinBackoff {
		return fmt.Errorf("FEED_MAX_BACKOFF must be >= FEED_MIN_BACKOFF > 0, got %s and %s", c.FeedMaxBackoff, c.FeedMinBackoff)
	}
	if c.SubmissionLockTTL <= 0 {
		return fmt.Errorf("SUBMISSION_LOCK_TTL must be > 0, got %s", c.SubmissionLockTTL)
	}
	if c.FeedResyncInterval <= 0 || c.FeedIdleTTL <= 0 {
		return fmt.Errorf("FEED_RESYNC_INTERVAL and FEED_IDLE_TTL must be > 0, got %s and %s", c.FeedResyncInterval, c.FeedIdleTTL)
	}
	if c.SubmitRateLimit <= 0 || c.SubmitRateBurst < 1 {
		return fmt.Errorf("SUBMIT_RATE_LIMIT_RPS must be > 0 and SUBMIT_RATE_LIMIT_BURST >= 1, got %g and %d", c.SubmitRateLimit, c.SubmitRateBurst)
	}
	if c.CatalogMissTTL <= 0 || c.CatalogMissTTL > c.CatalogCacheTTL {
		return fmt.Errorf("CATALOG_MISS_TTL must be > 0 and <= CATALOG_CACHE_TTL, got %s", c.CatalogMissTTL)
	}
	if c.ReaperEnabled && c.ReaperInterval <= 0 {
		return fmt.Errorf("REAPER_INTERVAL must be > 0 when the reaper is enabled, got %s", c.ReaperInterval)
	}
	if c.CatalogURL != "" {
		u, err := url.Parse(c.CatalogURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("CATALOG_URL must be an absolute http(s) URL, got %q", c.CatalogURL)
		}
	}
	if c.Environment == "production" && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}
	return nil
}

// PostgresConfig returns the connection pool settings.
func (c *Config) PostgresConfig() database.PostgresConfig {
	return database.PostgresConfig{
		URL:             c.DatabaseURL,
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

// PostgresDSN returns the PostgreSQL connection string.
func (c *Config) PostgresDSN() string {
	pg := c.PostgresConfig()
	return pg.DSN()
}

// RedisConfig returns the Redis connection settings.
func (c *Config) RedisConfig() database.RedisConfig {
	return database.RedisConfig{
		Host:     c.RedisHost,
		Port:     c.RedisPort,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}
