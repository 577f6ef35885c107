package answers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type mapKV struct {
	mu     sync.Mutex
	data   map[string]string
	sets   int
	failed bool
}

func newMapKV() *mapKV { return &mapKV{data: map[string]string{}} }

func (m *mapKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapKV) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failed {
		return errors.New("storage quota exceeded")
	}
	m.sets++
	m.data[key] = value
	return nil
}

func (m *mapKV) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *mapKV) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}

func keyFor(scope string) KeyFunc {
	return func(lang string) string { return "proctor:" + scope + ":answers:" + lang }
}

func TestRoundTripThroughReload(t *testing.T) {
	ctx := context.Background()
	kv := newMapKV()

	values := map[string]string{
		"q1": "def solve(): pass",
		"q2": "",
		"q3": "multi\nline\tvalue",
	}
	store := NewStore(kv, keyFor("s1"))
	for q, v := range values {
		store.Set(q, "python", v)
	}
	store.Set("q1", "javascript", "function solve() {}")
	if err := store.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	reloaded := NewStore(kv, keyFor("s1"))
	defer reloaded.Close(ctx)
	if err := reloaded.Restore(ctx, "python", "javascript"); err != nil {
		t.Fatalf("restore: %v", err)
	}
	for q, want := range values {
		got, ok := reloaded.Get(q, "python")
		if !ok || got != want {
			t.Fatalf("get %s: expected %q, got %q (ok=%v)", q, want, got, ok)
		}
	}
	if got, _ := reloaded.Get("q1", "javascript"); got != "function solve() {}" {
		t.Fatalf("languages must not collide, got %q", got)
	}
}

func TestScopesDoNotCollide(t *testing.T) {
	ctx := context.Background()
	kv := newMapKV()

	a := NewStore(kv, keyFor("a"))
	a.Set("q1", "", "1")
	_ = a.Close(ctx)

	b := NewStore(kv, keyFor("b"))
	defer b.Close(ctx)
	_ = b.Restore(ctx, DefaultLanguage)
	if _, ok := b.Get("q1", ""); ok {
		t.Fatalf("scope b must not see scope a answers")
	}
}

func TestSetOverwrites(t *testing.T) {
	store := NewStore(newMapKV(), keyFor("s1"))
	defer store.Close(context.Background())

	store.Set("q1", "", "first")
	store.Set("q1", "", "second")
	answers := store.Answers("")
	if len(answers) != 1 || answers["q1"] != "second" {
		t.Fatalf("expected single overwritten record, got %v", answers)
	}
}

func TestPersistsInBackground(t *testing.T) {
	kv := newMapKV()
	store := NewStore(kv, keyFor("s1"))
	defer store.Close(context.Background())

	store.Set("q1", "go", "package main")
	deadline := time.Now().Add(2 * time.Second)
	for !kv.has("proctor:s1:answers:go") {
		if time.Now().After(deadline) {
			t.Fatalf("expected background persistence")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPersistenceFailureIsNonFatal(t *testing.T) {
	ctx := context.Background()
	kv := newMapKV()
	kv.failed = true
	store := NewStore(kv, keyFor("s1"))

	store.Set("q1", "", "2")
	if err := store.Flush(ctx); err == nil {
		t.Fatalf("expected flush to surface the failure")
	}
	if got, ok := store.Get("q1", ""); !ok || got != "2" {
		t.Fatalf("answer must stay usable from memory, got %q", got)
	}

	kv.mu.Lock()
	kv.failed = false
	kv.mu.Unlock()
	if err := store.Close(ctx); err != nil {
		t.Fatalf("retry on close: %v", err)
	}
	if !kv.has("proctor:s1:answers:default") {
		t.Fatalf("expected failed write retried")
	}
}

func TestPlaceholderPerLanguage(t *testing.T) {
	store := NewStore(newMapKV(), keyFor("s1"), WithPlaceholder(func(q, lang string) string {
		return "// " + lang + " solution for " + q
	}))
	defer store.Close(context.Background())

	if got := store.Value("q1", "java"); got != "// java solution for q1" {
		t.Fatalf("unexpected placeholder %q", got)
	}
	if _, ok := store.Get("q1", "java"); ok {
		t.Fatalf("placeholder must not count as a stored answer")
	}
	store.Set("q1", "java", "class Solution {}")
	if got := store.Value("q1", "java"); got != "class Solution {}" {
		t.Fatalf("stored answer must win over placeholder, got %q", got)
	}
}

func TestClearRemovesPersistedSlots(t *testing.T) {
	ctx := context.Background()
	kv := newMapKV()
	store := NewStore(kv, keyFor("s1"))
	store.Set("q1", "", "0")
	_ = store.Flush(ctx)
	if err := store.Clear(ctx, ""); err != nil {
		t.Fatalf("clear: %v", err)
	}
	_ = store.Close(ctx)
	if kv.has("proctor:s1:answers:default") {
		t.Fatalf("expected slot removed")
	}
}
