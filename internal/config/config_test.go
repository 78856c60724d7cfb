package config

import (
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.ResultTTL != 5*time.Minute {
		t.Fatalf("want 5m result ttl, got %s", cfg.ResultTTL)
	}
	if cfg.FastBudget != time.Second {
		t.Fatalf("want 1s fast budget, got %s", cfg.FastBudget)
	}
	if cfg.CanvasSize != 48 {
		t.Fatalf("want canvas size 48, got %d", cfg.CanvasSize)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Fatalf("unexpected log format %q", cfg.LogFormat)
	}
	if cfg.QueueCompactSpec != "@every 10m" || cfg.PublicURL != "http://localhost:8080" {
		t.Fatalf("unexpected defaults %q %q", cfg.QueueCompactSpec, cfg.PublicURL)
	}
}

func TestParseOverrides(t *testing.T) {
	t.Setenv("RESULT_TTL", "90s")
	t.Setenv("WORKERS_PER_TOPIC", "2")
	t.Setenv("CHAT_PUBLIC_KEY", "abcd")

	cfg, err := Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.ResultTTL != 90*time.Second {
		t.Fatalf("override not applied: %s", cfg.ResultTTL)
	}
	if cfg.WorkersPerTopic != 2 {
		t.Fatalf("want 2 workers, got %d", cfg.WorkersPerTopic)
	}
	if cfg.ChatPublicKey != "abcd" {
		t.Fatalf("unexpected key %q", cfg.ChatPublicKey)
	}
}

func TestParseRejectsBadDuration(t *testing.T) {
	t.Setenv("FAST_BUDGET", "soon")
	if _, err := Parse(); err == nil {
		t.Fatalf("expected error for malformed duration")
	}
}
