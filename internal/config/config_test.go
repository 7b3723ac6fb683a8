package config

import (
	"errors"
	"testing"
	"time"
)

const testKey = "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("MASTER_KEY_B64", testKey)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Quota.Free != 100 || cfg.Quota.Basic != 1000 || cfg.Quota.Premium != 5000 {
		t.Fatalf("unexpected quota defaults: %+v", cfg.Quota)
	}
	if cfg.AI.DefaultProvider != "gemini" {
		t.Fatalf("expected gemini default provider, got %q", cfg.AI.DefaultProvider)
	}
	if cfg.Auth.TokenTTL != 30*time.Minute {
		t.Fatalf("unexpected token ttl %s", cfg.Auth.TokenTTL)
	}
	if cfg.Rate.ChatPerMinute != 0 {
		t.Fatalf("chat rate limiter must be off by default, got %d", cfg.Rate.ChatPerMinute)
	}
	if cfg.Crypto.CurrentKeyID != "default" {
		t.Fatalf("expected default key id, got %q", cfg.Crypto.CurrentKeyID)
	}
}

func TestLoadRequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("MASTER_KEY_B64", testKey)

	_, err := Load()
	if !errors.Is(err, ErrMissingJWTSecret) {
		t.Fatalf("expected ErrMissingJWTSecret, got %v", err)
	}
}

func TestLoadRejectsZeroQuota(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("MASTER_KEY_B64", testKey)
	t.Setenv("QUOTA_BASIC", "0")

	_, err := Load()
	if !errors.Is(err, ErrInvalidQuota) {
		t.Fatalf("expected ErrInvalidQuota, got %v", err)
	}
}

func TestLoadBaseURLOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("MASTER_KEY_B64", testKey)
	t.Setenv("AI_BASE_URL_DEEPSEEK", "http://localhost:9999/v1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.AI.BaseURLs["deepseek"]; got != "http://localhost:9999/v1" {
		t.Fatalf("unexpected deepseek base url %q", got)
	}
}

func TestLoadRejectsShortMasterKey(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("MASTER_KEY_B64", "c2hvcnQ=")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for short master key")
	}
}
