package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keygate.yaml")

	content := `
server:
  port: 9090
  dev: true
auth:
  jwt_secret: file-secret
  session_ttl: 2h
rate_limit:
  backend: redis
  redis_addr: localhost:6380
  actions:
    chat:
      limit: 10
      window: 30s
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9090 || !cfg.Server.Dev {
		t.Fatalf("server = %+v", cfg.Server)
	}
	// Unset fields keep their defaults.
	if cfg.Server.Host != "0.0.0.0" {
		t.Fatalf("host = %q", cfg.Server.Host)
	}
	if cfg.Auth.JWTSecret != "file-secret" {
		t.Fatalf("jwt_secret = %q", cfg.Auth.JWTSecret)
	}

	ttl, err := cfg.Auth.SessionTTLDuration()
	if err != nil || ttl != 2*time.Hour {
		t.Fatalf("session ttl = %v, %v", ttl, err)
	}

	if cfg.RateLimit.Backend != "redis" || cfg.RateLimit.RedisAddr != "localhost:6380" {
		t.Fatalf("rate_limit = %+v", cfg.RateLimit)
	}
	chat := cfg.RateLimit.Actions["chat"]
	w, err := chat.WindowDuration()
	if err != nil || chat.Limit != 10 || w != 30*time.Second {
		t.Fatalf("chat budget = %+v (%v, %v)", chat, w, err)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("KEYGATE_TEST_SECRET", "from-env")

	dir := t.TempDir()
	path := filepath.Join(dir, "keygate.yaml")
	content := "auth:\n  jwt_secret: ${KEYGATE_TEST_SECRET}\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Auth.JWTSecret != "from-env" {
		t.Fatalf("jwt_secret = %q", cfg.Auth.JWTSecret)
	}
}

func TestWriteDefaultRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keygate.yaml")

	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def := Default()
	if cfg.Server.Port != def.Server.Port || cfg.Logging.Level != def.Logging.Level {
		t.Fatalf("round-tripped config differs: %+v", cfg)
	}
}

func TestDurationParseErrors(t *testing.T) {
	a := AuthConfig{SessionTTL: "not-a-duration"}
	if _, err := a.SessionTTLDuration(); err == nil {
		t.Fatal("expected error for bad session_ttl")
	}
	s := ServerConfig{ShutdownTimeout: "bogus"}
	if _, err := s.ShutdownTimeoutDuration(); err == nil {
		t.Fatal("expected error for bad shutdown_timeout")
	}
	b := BudgetConfig{Window: "bogus"}
	if _, err := b.WindowDuration(); err == nil {
		t.Fatal("expected error for bad window")
	}
}
