package memory

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"proctor-engine/internal/app"
	"proctor-engine/internal/config"
	"proctor-engine/internal/domain"
	"proctor-engine/internal/lockdown"
)

type nopSurface struct{}

func (nopSurface) Install(context.Context, lockdown.Policy) error { return nil }
func (nopSurface) Uninstall(context.Context) error                { return nil }

func TestSessionStoreLifecycle(t *testing.T) {
	store := NewSessionStore()
	ctx := context.Background()

	c, err := app.NewController(app.SessionConfig{SessionID: "s-1", CandidateID: "c1", Type: domain.AssessmentMCQ}, app.Deps{
		KV:       NewKV(),
		Keys:     config.NewKeys(""),
		Lockdown: lockdown.NewMonitor(nopSurface{}, lockdown.DefaultPolicy(), zerolog.Nop(), nil),
		Logger:   zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}

	store.Put(ctx, c)
	if got, ok := store.Get(ctx, "s-1"); !ok || got != c {
		t.Fatalf("expected session present")
	}
	store.Delete(ctx, "s-1")
	if _, ok := store.Get(ctx, "s-1"); ok || store.Len() != 0 {
		t.Fatalf("expected session removed")
	}
}

func TestKVRoundTrip(t *testing.T) {
	kv := NewKV()
	ctx := context.Background()
	if err := kv.Set(ctx, "k", ""); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, ok, err := kv.Get(ctx, "k")
	if err != nil || !ok || v != "" {
		t.Fatalf("expected stored empty string, got %q %v %v", v, ok, err)
	}
	if err := kv.Delete(ctx, "k", "missing"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := kv.Get(ctx, "k"); ok {
		t.Fatalf("expected key deleted")
	}
}
