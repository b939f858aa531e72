package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.shared_credential", "staff-pass")
	configViper.Set("auth.signing_secret", "secret")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.DatabaseDriver != DatabaseDriverSQLite || cfg.DatabasePath != defaultDatabasePath {
		t.Fatalf("unexpected database defaults %#v", cfg)
	}
	if cfg.LockBackend != LockBackendDatabase || cfg.LockTTL != 5*time.Minute || cfg.CleanupInterval != time.Minute {
		t.Fatalf("unexpected lock defaults %#v", cfg)
	}
	if cfg.SessionTTL != 12*time.Hour {
		t.Fatalf("unexpected session ttl %v", cfg.SessionTTL)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
		t.Fatalf("unexpected origins %v", cfg.AllowedOrigins)
	}
}

func TestLoadValidatesSettings(t *testing.T) {
	cases := []struct {
		name     string
		settings map[string]any
		expected string
	}{
		{name: "missing-credential", settings: map[string]any{"auth.signing_secret": "secret"}, expected: "auth.shared_credential"},
		{name: "missing-secret", settings: map[string]any{"auth.shared_credential": "pass"}, expected: "auth.signing_secret"},
		{name: "postgres-without-dsn", settings: map[string]any{"database.driver": "postgres"}, expected: "database.dsn"},
		{name: "redis-without-url", settings: map[string]any{"locks.backend": "redis"}, expected: "locks.redis_url"},
		{name: "unknown-backend", settings: map[string]any{"locks.backend": "etcd"}, expected: "locks.backend"},
		{name: "zero-ttl", settings: map[string]any{"locks.ttl_seconds": 0}, expected: "locks.ttl_seconds"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			configViper := NewViper()
			configViper.Set("auth.shared_credential", "pass")
			configViper.Set("auth.signing_secret", "secret")
			for key, value := range tc.settings {
				configViper.Set(key, value)
			}
			if tc.name == "missing-credential" {
				configViper.Set("auth.shared_credential", "")
			}
			if tc.name == "missing-secret" {
				configViper.Set("auth.signing_secret", "")
			}
			_, err := Load(configViper)
			if err == nil || !strings.Contains(err.Error(), tc.expected) {
				t.Fatalf("expected error mentioning %s, got %v", tc.expected, err)
			}
		})
	}
}

func TestLoadStorageSkipsAuthSettings(t *testing.T) {
	configViper := NewViper()
	configViper.Set("cors.allowed_origins", "https://a.example.com, https://b.example.com")
	if _, err := LoadStorage(configViper); err != nil {
		t.Fatalf("storage config should not require auth settings: %v", err)
	}
	if origins := splitList(configViper.GetString("cors.allowed_origins")); len(origins) != 2 || origins[1] != "https://b.example.com" {
		t.Fatalf("unexpected origins %v", origins)
	}
}
