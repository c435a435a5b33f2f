package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.SessionTTL != 30*time.Minute {
		t.Fatalf("SessionTTL = %v, want 30m", cfg.SessionTTL)
	}
	if cfg.SessionSweepInterval != 5*time.Minute {
		t.Fatalf("SessionSweepInterval = %v, want 5m", cfg.SessionSweepInterval)
	}
	if cfg.SessionMaxMessages != 50 {
		t.Fatalf("SessionMaxMessages = %d, want 50", cfg.SessionMaxMessages)
	}
	if cfg.RelayHistoryLimit != 10 {
		t.Fatalf("RelayHistoryLimit = %d, want 10", cfg.RelayHistoryLimit)
	}
	if cfg.RelayUpstreamTimeout != 30*time.Second {
		t.Fatalf("RelayUpstreamTimeout = %v, want 30s", cfg.RelayUpstreamTimeout)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SESSION_TTL", "90s")
	t.Setenv("SESSION_MAX_MESSAGES", "5")
	t.Setenv("RELAY_HISTORY_LIMIT", "5")
	t.Setenv("UPSTREAM_MODE", "mock")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SessionTTL != 90*time.Second {
		t.Fatalf("SessionTTL = %v, want 90s", cfg.SessionTTL)
	}
	if cfg.SessionMaxMessages != 5 {
		t.Fatalf("SessionMaxMessages = %d, want 5", cfg.SessionMaxMessages)
	}
	if cfg.UpstreamMode != "mock" {
		t.Fatalf("UpstreamMode = %q, want %q", cfg.UpstreamMode, "mock")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"ttl too small", "SESSION_TTL", "100ms"},
		{"sweep too small", "SESSION_SWEEP_INTERVAL", "10ms"},
		{"ttl garbage", "SESSION_TTL", "soon"},
		{"max messages zero", "SESSION_MAX_MESSAGES", "0"},
		{"history limit zero", "RELAY_HISTORY_LIMIT", "0"},
		{"history above max", "RELAY_HISTORY_LIMIT", "200"},
		{"message cap zero", "RELAY_MAX_MESSAGE_BYTES", "0"},
		{"bad bool", "APP_ALLOW_ANY_ORIGIN", "maybe"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() expected error for %s=%s", tc.key, tc.value)
			}
		})
	}
}
