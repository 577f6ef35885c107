package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: "9000"
redis:
  addr: "localhost:6379"
  ttl: "5m"
judge:
  url: "http://judge.local/execute"
  timeout: "15s"
engine:
  languages: [python, javascript]
  codingScoring: tests
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PROCTOR_REDIS_ADDR", "redis:6380")
	t.Setenv("PROCTOR_ENGINE_ACK_DURATION", "5s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "9000" {
		t.Fatalf("expected yaml port, got %q", cfg.Server.Port)
	}
	if cfg.Redis.Addr != "redis:6380" {
		t.Fatalf("expected env override, got %q", cfg.Redis.Addr)
	}
	if got := TTLDuration(cfg.Engine.AckDuration, time.Second); got != 5*time.Second {
		t.Fatalf("expected 5s ack, got %s", got)
	}
	if len(cfg.Engine.Languages) != 2 || cfg.Engine.CodingScoring != "tests" {
		t.Fatalf("unexpected engine config %+v", cfg.Engine)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestTTLDuration(t *testing.T) {
	if got := TTLDuration("", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback, got %s", got)
	}
	if got := TTLDuration("garbage", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback on parse error, got %s", got)
	}
	if got := TTLDuration("90s", time.Minute); got != 90*time.Second {
		t.Fatalf("expected 90s, got %s", got)
	}
}

func TestKeysAreScoped(t *testing.T) {
	k := NewKeys("")
	a := k.Answers(k.Scope("c1", "coding"), "python")
	b := k.Answers(k.Scope("c2", "coding"), "python")
	if a == b {
		t.Fatalf("keys of different candidates must differ")
	}
	if got := k.TimerRemaining(k.Scope("c1", "mcq")); got != "proctor:candidate:c1:mcq:timer:remaining" {
		t.Fatalf("unexpected timer key %q", got)
	}
}
