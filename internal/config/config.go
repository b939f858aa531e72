package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                     = "CANVAS"
	defaultHTTPAddress            = "0.0.0.0:8080"
	defaultDatabaseDriver         = DatabaseDriverSQLite
	defaultDatabasePath           = "canvas.db"
	defaultLogLevel               = "info"
	defaultSessionTTLMinutes      = 12 * 60
	defaultLockBackend            = LockBackendDatabase
	defaultLockTTLSeconds         = 300
	defaultCleanupIntervalSeconds = 60
	defaultAllowedOrigins         = "*"
)

// Database drivers.
const (
	DatabaseDriverSQLite   = "sqlite"
	DatabaseDriverPostgres = "postgres"
)

// Lock store backends.
const (
	LockBackendDatabase = "database"
	LockBackendRedis    = "redis"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress      string
	DatabaseDriver   string
	DatabasePath     string
	DatabaseDSN      string
	LogLevel         string
	SharedCredential string
	SigningSecret    string
	SessionTTL       time.Duration
	LockBackend      string
	LockRedisURL     string
	LockTTL          time.Duration
	CleanupInterval  time.Duration
	AllowedOrigins   []string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.shared_credential", "")
	configViper.SetDefault("auth.signing_secret", "")
	configViper.SetDefault("auth.session_ttl_minutes", defaultSessionTTLMinutes)
	configViper.SetDefault("locks.backend", defaultLockBackend)
	configViper.SetDefault("locks.redis_url", "")
	configViper.SetDefault("locks.ttl_seconds", defaultLockTTLSeconds)
	configViper.SetDefault("locks.cleanup_interval_seconds", defaultCleanupIntervalSeconds)
	configViper.SetDefault("cors.allowed_origins", defaultAllowedOrigins)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:      configViper.GetString("http.address"),
		DatabaseDriver:   strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:     configViper.GetString("database.path"),
		DatabaseDSN:      configViper.GetString("database.dsn"),
		LogLevel:         configViper.GetString("log.level"),
		SharedCredential: configViper.GetString("auth.shared_credential"),
		SigningSecret:    configViper.GetString("auth.signing_secret"),
		SessionTTL:       time.Duration(configViper.GetInt("auth.session_ttl_minutes")) * time.Minute,
		LockBackend:      strings.ToLower(strings.TrimSpace(configViper.GetString("locks.backend"))),
		LockRedisURL:     configViper.GetString("locks.redis_url"),
		LockTTL:          time.Duration(configViper.GetInt("locks.ttl_seconds")) * time.Second,
		CleanupInterval:  time.Duration(configViper.GetInt("locks.cleanup_interval_seconds")) * time.Second,
		AllowedOrigins:   splitList(configViper.GetString("cors.allowed_origins")),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// LoadStorage parses only the settings needed to reach the database and the
// lock store, for maintenance commands that do not serve HTTP.
func LoadStorage(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		DatabaseDriver:  strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:    configViper.GetString("database.path"),
		DatabaseDSN:     configViper.GetString("database.dsn"),
		LogLevel:        configViper.GetString("log.level"),
		LockBackend:     strings.ToLower(strings.TrimSpace(configViper.GetString("locks.backend"))),
		LockRedisURL:    configViper.GetString("locks.redis_url"),
		LockTTL:         time.Duration(configViper.GetInt("locks.ttl_seconds")) * time.Second,
		CleanupInterval: time.Duration(configViper.GetInt("locks.cleanup_interval_seconds")) * time.Second,
	}
	if err := cfg.validateStorage(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SharedCredential) == "" {
		return fmt.Errorf("auth.shared_credential is required")
	}
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("auth.session_ttl_minutes must be positive")
	}
	return c.validateStorage()
}

func (c AppConfig) validateStorage() error {
	switch c.DatabaseDriver {
	case DatabaseDriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case DatabaseDriverPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	switch c.LockBackend {
	case LockBackendDatabase:
	case LockBackendRedis:
		if strings.TrimSpace(c.LockRedisURL) == "" {
			return fmt.Errorf("locks.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("locks.backend %q is not supported", c.LockBackend)
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("locks.ttl_seconds must be positive")
	}
	if c.CleanupInterval < 0 {
		return fmt.Errorf("locks.cleanup_interval_seconds must not be negative")
	}
	return nil
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
