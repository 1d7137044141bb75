package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "")
	t.Setenv("UPSTREAM_TIMEOUT", "")
	t.Setenv("DB_DSN", "")
	t.Setenv("HTTP_ADDR", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PollInterval != 60*time.Second {
		t.Errorf("PollInterval = %v", cfg.PollInterval)
	}
	if cfg.UpstreamTimeout != 20*time.Second {
		t.Errorf("UpstreamTimeout = %v", cfg.UpstreamTimeout)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.DBDsn == "" {
		t.Error("DBDsn default missing")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "15s")
	t.Setenv("UPSTREAM_TIMEOUT", "5s")
	t.Setenv("HTTP_ADDR", ":9999")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PollInterval != 15*time.Second {
		t.Errorf("PollInterval = %v", cfg.PollInterval)
	}
	if cfg.UpstreamTimeout != 5*time.Second {
		t.Errorf("UpstreamTimeout = %v", cfg.UpstreamTimeout)
	}
	if cfg.HTTPAddr != ":9999" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
}

func TestLoadRejectsBadDurations(t *testing.T) {
	for _, v := range []string{"nope", "-5s", "0"} {
		t.Setenv("POLL_INTERVAL", v)
		if _, err := Load(); err == nil {
			t.Errorf("POLL_INTERVAL=%q accepted", v)
		}
	}
}

func TestValidatePollReady(t *testing.T) {
	cfg := &Config{}
	if err := cfg.ValidatePollReady(); err == nil {
		t.Error("expected error with no keys")
	}
	cfg.NomiAPIKey = "n"
	if err := cfg.ValidatePollReady(); err == nil {
		t.Error("expected error with missing llm key")
	}
	cfg.LLMAPIKey = "l"
	if err := cfg.ValidatePollReady(); err != nil {
		t.Errorf("ValidatePollReady: %v", err)
	}
}
