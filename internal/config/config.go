// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// MinJWTSecretBytes is the shortest accepted access-token signing secret.
const MinJWTSecretBytes = 32

// Rate limiter backends.
const (
	RateLimitBackendMemory = "memory"
	RateLimitBackendRedis  = "redis"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP API listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address of the internal gRPC endpoint (health, session introspection). Empty disables it.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// Env is the application environment ("development", "production"). Cookies are Secure in production.
	Env string `mapstructure:"APP_ENV"`
	// LogLevel is the zap level name (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// JWTSecret signs access tokens (HS256). Must be at least 32 bytes and used for nothing else.
	JWTSecret string `mapstructure:"JWT_SECRET"`
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim checked on every access token.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the session (refresh token) lifetime (e.g. "168h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	// ImpersonationTTLRaw is the fixed lifetime of impersonation sessions (e.g. "1h").
	ImpersonationTTLRaw string `mapstructure:"IMPERSONATION_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// HashWorkers bounds concurrent bcrypt operations; 0 means GOMAXPROCS.
	HashWorkers int `mapstructure:"HASH_WORKERS"`

	// RateLimitBackend is "memory" (single process) or "redis" (shared across instances).
	RateLimitBackend string `mapstructure:"RATE_LIMIT_BACKEND"`
	RedisAddr        string `mapstructure:"REDIS_ADDR"`
	RedisPassword    string `mapstructure:"REDIS_PASSWORD"`
	RedisDB          int    `mapstructure:"REDIS_DB"`
	// TrustProxy makes the HTTP server take the client address from X-Forwarded-For / X-Real-IP.
	// Enable only behind a proxy that overwrites those headers; otherwise any caller can pick its IP.
	TrustProxy bool `mapstructure:"TRUST_PROXY"`
	// AuthBurstPerMinute is the coarse per-IP request budget for /auth routes; 0 disables it.
	AuthBurstPerMinute int `mapstructure:"AUTH_BURST_PER_MINUTE"`
	// SessionPurgeIntervalRaw controls how often expired sessions are deleted (e.g. "1h"). "0" disables.
	SessionPurgeIntervalRaw string `mapstructure:"SESSION_PURGE_INTERVAL"`

	// OTLPEndpoint is the OpenTelemetry collector endpoint; empty uses no-op providers.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// KafkaBrokers is a comma-separated broker list; when set, security events are published to Kafka.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// SecurityEventsTopic is the Kafka topic for security events.
	SecurityEventsTopic string `mapstructure:"SECURITY_EVENTS_TOPIC"`
	// Worker-only: consumer group and Loki push URL.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	LokiURL      string `mapstructure:"LOKI_URL"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GRPC_ADDR", ":9090")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_ISSUER", "study-planner-auth")
	v.SetDefault("JWT_AUDIENCE", "study-planner-api")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "168h") // 7d
	v.SetDefault("IMPERSONATION_TTL", "1h")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("HASH_WORKERS", 0)
	v.SetDefault("RATE_LIMIT_BACKEND", RateLimitBackendMemory)
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("TRUST_PROXY", false)
	v.SetDefault("AUTH_BURST_PER_MINUTE", 120)
	v.SetDefault("SESSION_PURGE_INTERVAL", "1h")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("SECURITY_EVENTS_TOPIC", "study-planner-security")
	v.SetDefault("KAFKA_GROUP_ID", "study-planner-security-worker")
	v.SetDefault("LOKI_URL", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks invariants shared by every binary (server, worker, migrate, seed).
// The JWT secret is checked separately by RequireAuthSecrets.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = 12
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if c.HashWorkers < 0 {
		return errors.New("config: HASH_WORKERS must not be negative")
	}
	c.RateLimitBackend = strings.ToLower(strings.TrimSpace(c.RateLimitBackend))
	switch c.RateLimitBackend {
	case "", RateLimitBackendMemory:
		c.RateLimitBackend = RateLimitBackendMemory
	case RateLimitBackendRedis:
		if c.RedisAddr == "" {
			return errors.New("config: REDIS_ADDR must be set when RATE_LIMIT_BACKEND=redis")
		}
	default:
		return errors.New("config: RATE_LIMIT_BACKEND must be memory or redis")
	}
	return nil
}

// RequireAuthSecrets returns an error unless the access-token secret is long enough.
// Called by binaries that issue or verify tokens (server, seed).
func (c *Config) RequireAuthSecrets() error {
	if len(c.JWTSecret) < MinJWTSecretBytes {
		return errors.New("config: JWT_SECRET must be at least 32 bytes")
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Env), "production")
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return parseDuration(c.JWTAccessTTL, 15*time.Minute)
}

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	return parseDuration(c.JWTRefreshTTL, 168*time.Hour)
}

// ImpersonationTTL returns the impersonation session lifetime. Returns 1h if unset or invalid.
func (c *Config) ImpersonationTTL() time.Duration {
	return parseDuration(c.ImpersonationTTLRaw, time.Hour)
}

// SessionPurgeInterval returns how often expired sessions are purged; 0 disables purging.
func (c *Config) SessionPurgeInterval() time.Duration {
	if strings.TrimSpace(c.SessionPurgeIntervalRaw) == "0" {
		return 0
	}
	return parseDuration(c.SessionPurgeIntervalRaw, time.Hour)
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
