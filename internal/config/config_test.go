package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type mapEnv map[string]string

func (m mapEnv) Getenv(key string) string { return m[key] }

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadConfigFromEnv(mapEnv{"SESSION_SECRET": "x"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Port != 3000 {
		t.Fatalf("expected default port 3000, got %d", cfg.Port)
	}
	if cfg.GinMode != "release" {
		t.Fatalf("expected default gin mode release, got %q", cfg.GinMode)
	}
	if cfg.DatabasePath != "portal.db" {
		t.Fatalf("expected default database path, got %q", cfg.DatabasePath)
	}
	if cfg.TokenExpiry != 7*24*time.Hour {
		t.Fatalf("unexpected default expiry %v", cfg.TokenExpiry)
	}
}

func TestLoadConfigFromEnv_MissingSecret(t *testing.T) {
	_, err := LoadConfigFromEnv(mapEnv{})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestLoadConfigFromEnv_Overrides(t *testing.T) {
	cfg, err := LoadConfigFromEnv(mapEnv{
		"SESSION_SECRET":       "x",
		"PORT":                 "1234",
		"TOKEN_EXPIRY_SECONDS": "60",
		"COOKIE_SECURE":        "true",
		"LOG_FORMAT":           "json",
		"NATS_URL":             "nats://localhost:4222",
	})
	require.NoError(t, err)
	require.Equal(t, 1234, cfg.Port)
	require.Equal(t, time.Minute, cfg.TokenExpiry)
	require.True(t, cfg.CookieSecure)
	require.Equal(t, "json", cfg.LogFormat)
	require.Equal(t, "nats://localhost:4222", cfg.NATSURL)
	require.Equal(t, "portal.changes", cfg.NATSSubjectPrefix)
}

func TestLoadConfigFromEnv_Invalid(t *testing.T) {
	cases := map[string]mapEnv{
		"port":   {"SESSION_SECRET": "x", "PORT": "99999"},
		"expiry": {"SESSION_SECRET": "x", "TOKEN_EXPIRY_SECONDS": "-1"},
		"cookie": {"SESSION_SECRET": "x", "COOKIE_SECURE": "maybe"},
		"level":  {"SESSION_SECRET": "x", "LOG_LEVEL": "loud"},
		"format": {"SESSION_SECRET": "x", "LOG_FORMAT": "xml"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfigFromEnv(env)
			require.Error(t, err)
		})
	}
}

func TestYAMLThenEnv(t *testing.T) {
	cfg, err := parseYAML(Defaults(), []byte(`
port: 8080
session_secret: from-file
database_path: /var/lib/portal.db
token_expiry: 2h
log_level: debug
`))
	require.NoError(t, err)

	cfg, err = applyEnv(cfg, mapEnv{"PORT": "9090"})
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Port)
	require.Equal(t, "from-file", cfg.SessionSecret)
	require.Equal(t, "/var/lib/portal.db", cfg.DatabasePath)
	require.Equal(t, 2*time.Hour, cfg.TokenExpiry)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "text", cfg.LogFormat)
}

func TestParseYAML_Malformed(t *testing.T) {
	_, err := parseYAML(Defaults(), []byte("port: ["))
	require.Error(t, err)
}
