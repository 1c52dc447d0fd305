// Package config loads the storefront audit service configuration from an optional config.yaml
// and environment overrides. An environment variable overrides the key with dots replaced by
// underscores, e.g. AUDIT_WRITE_TIMEOUT overrides audit.write_timeout.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"storefront/pkg/platform/audit/policy"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// DevJWTSigningKey is used when no signing key is configured. Production deployments must
// override auth.jwt_signing_key.
const DevJWTSigningKey = "dev-secret-key-change-in-production"

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Store    StoreConfig    `mapstructure:"store"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig captures HTTP server level configuration.
type ServerConfig struct {
	Addr              string        `mapstructure:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig selects the audit store backend.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
}

// DatabaseConfig describes the PostgreSQL connection.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	EnsureSchema    bool          `mapstructure:"ensure_schema"`
}

// RedisConfig describes the Redis connection.
type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// AuthConfig configures bearer token validation.
type AuthConfig struct {
	JWTSigningKey string `mapstructure:"jwt_signing_key"`
	Issuer        string `mapstructure:"issuer"`
	Audience      string `mapstructure:"audience"`
}

// AuditConfig tunes the audit service and carries the data-protection policy table.
type AuditConfig struct {
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	RetryAttempts      uint          `mapstructure:"retry_attempts"`
	RetryDelay         time.Duration `mapstructure:"retry_delay"`
	BreakerFailures    uint32        `mapstructure:"breaker_failures"`
	BreakerOpenTimeout time.Duration `mapstructure:"breaker_open_timeout"`
	AsyncLimit         int64         `mapstructure:"async_limit"`
	SessionCookie      string        `mapstructure:"session_cookie"`

	Policy policy.Config `mapstructure:"policy"`
}

// LoggerConfig configures the slog handler.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// Load reads config.yaml from the search paths (the working directory and ./configs when none
// are given), applies environment overrides and defaults, and validates the result. A missing
// file is not an error.
func Load(searchPaths ...string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(searchPaths) == 0 {
		searchPaths = []string{".", "./configs"}
	}
	for _, p := range searchPaths {
		v.AddConfigPath(p)
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Every key that may be overridden from the environment needs a default here; viper only
// consults the environment for keys it already knows.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_header_timeout", 5*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("store.driver", StoreMemory)

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 15)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.ensure_schema", false)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.key_prefix", "audit")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)

	v.SetDefault("auth.jwt_signing_key", DevJWTSigningKey)
	v.SetDefault("auth.issuer", "storefront")
	v.SetDefault("auth.audience", "storefront-api")

	v.SetDefault("audit.write_timeout", 2*time.Second)
	v.SetDefault("audit.retry_attempts", 2)
	v.SetDefault("audit.retry_delay", 20*time.Millisecond)
	v.SetDefault("audit.breaker_failures", 5)
	v.SetDefault("audit.breaker_open_timeout", 30*time.Second)
	v.SetDefault("audit.async_limit", 1024)
	v.SetDefault("audit.session_cookie", "storefront_session")

	def := policy.DefaultConfig()
	v.SetDefault("audit.policy.sensitive_fields", def.SensitiveFields)
	v.SetDefault("audit.policy.pii_fields", def.PIIFields)
	v.SetDefault("audit.policy.retention.short_days", def.Retention.ShortDays)
	v.SetDefault("audit.policy.retention.medium_days", def.Retention.MediumDays)
	v.SetDefault("audit.policy.retention.long_days", def.Retention.LongDays)
	v.SetDefault("audit.policy.retention.short_actions", def.Retention.ShortActions)
	v.SetDefault("audit.policy.retention.long_actions", def.Retention.LongActions)
	v.SetDefault("audit.policy.role_permissions", def.RolePermissions)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreMemory:
	case StorePostgres:
		if c.Database.URL == "" {
			return errors.New("config: database.url is required for the postgres store")
		}
	case StoreRedis:
		if c.Redis.URL == "" {
			return errors.New("config: redis.url is required for the redis store")
		}
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.Auth.JWTSigningKey == "" {
		return errors.New("config: auth.jwt_signing_key must not be empty")
	}
	if c.Audit.RetryAttempts == 0 {
		return errors.New("config: audit.retry_attempts must be at least 1")
	}
	return nil
}
