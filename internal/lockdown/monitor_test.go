package lockdown

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"proctor-engine/internal/domain"
)

type countingSurface struct {
	mu          sync.Mutex
	installs    int
	uninstalls  int
	failInstall error
}

func (s *countingSurface) Install(context.Context, Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.installs++
	return s.failInstall
}

func (s *countingSurface) Uninstall(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uninstalls++
	return nil
}

func (s *countingSurface) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.installs, s.uninstalls
}

func TestEnableIsIdempotentAndPaired(t *testing.T) {
	ctx := context.Background()
	surface := &countingSurface{}
	monitor := NewMonitor(surface, DefaultPolicy(), zerolog.Nop(), nil)

	token, err := monitor.Acquire("s1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := token.Enable(ctx); err != nil {
			t.Fatalf("enable: %v", err)
		}
	}
	if in, _ := surface.counts(); in != 1 {
		t.Fatalf("expected a single install, got %d", in)
	}

	// Several exit paths racing to tear down.
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = token.Release(ctx)
			_ = token.Disable(ctx)
		}()
	}
	wg.Wait()

	in, out := surface.counts()
	if in != 1 || out != 1 {
		t.Fatalf("expected 1 install / 1 uninstall, got %d / %d", in, out)
	}
	if monitor.Owner() != "" {
		t.Fatalf("expected ownership released, got %q", monitor.Owner())
	}
	if err := token.Enable(ctx); !errors.Is(err, domain.ErrTokenReleased) {
		t.Fatalf("expected released token error, got %v", err)
	}
}

func TestSingleOwner(t *testing.T) {
	ctx := context.Background()
	monitor := NewMonitor(&countingSurface{}, DefaultPolicy(), zerolog.Nop(), nil)

	first, err := monitor.Acquire("mcq-session")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := monitor.Acquire("coding-session"); !errors.Is(err, domain.ErrLockdownHeld) {
		t.Fatalf("expected held error, got %v", err)
	}
	_ = first.Release(ctx)
	if _, err := monitor.Acquire("coding-session"); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestFailedInstallRollsBack(t *testing.T) {
	ctx := context.Background()
	surface := &countingSurface{failInstall: errors.New("fullscreen rejected")}
	monitor := NewMonitor(surface, DefaultPolicy(), zerolog.Nop(), nil)
	token, _ := monitor.Acquire("s1")

	if err := token.Enable(ctx); err == nil {
		t.Fatalf("expected install error")
	}
	if token.Enabled() {
		t.Fatalf("token must not report enabled after failure")
	}
	_ = token.Release(ctx)

	in, out := surface.counts()
	if in != 1 || out != 1 {
		t.Fatalf("expected rollback uninstall, got %d / %d", in, out)
	}
}

func TestViolationsReachOwnerOnlyWhileEnabled(t *testing.T) {
	ctx := context.Background()
	monitor := NewMonitor(&countingSurface{}, DefaultPolicy(), zerolog.Nop(), nil)
	token, _ := monitor.Acquire("s1")

	var got []Violation
	token.OnViolation(func(v Violation) { got = append(got, v) })

	monitor.Report(Violation{Kind: "shortcut"})
	if len(got) != 0 {
		t.Fatalf("violation before enable must be dropped")
	}
	_ = token.Enable(ctx)
	monitor.Report(Violation{Kind: "shortcut", Detail: "F12"})
	if len(got) != 1 || got[0].At.IsZero() {
		t.Fatalf("expected timestamped violation, got %+v", got)
	}
	_ = token.Release(ctx)
	monitor.Report(Violation{Kind: "clipboard"})
	if len(got) != 1 {
		t.Fatalf("violation after release must be dropped")
	}
}

func TestPolicyBlocksShortcuts(t *testing.T) {
	p := DefaultPolicy()
	for _, raw := range []string{"F12", "Ctrl+Shift+i", "Ctrl+U", "Ctrl+S", "Escape"} {
		s, err := ParseShortcut(raw)
		if err != nil {
			t.Fatalf("parse %s: %v", raw, err)
		}
		if !p.Blocks(s) {
			t.Fatalf("expected %s blocked", raw)
		}
	}
	if s, _ := ParseShortcut("Ctrl+C"); p.Blocks(s) {
		t.Fatalf("Ctrl+C is a clipboard restriction, not a shortcut")
	}
	if _, err := ParseShortcut("Hyper+X"); err == nil {
		t.Fatalf("expected unknown modifier error")
	}
	if got := (Shortcut{Key: "I", Ctrl: true, Shift: true}).String(); got != "Ctrl+Shift+I" {
		t.Fatalf("unexpected string %q", got)
	}
}
