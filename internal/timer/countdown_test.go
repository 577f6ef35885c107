package timer

import (
	"sync"
	"testing"
	"time"
)

func TestCountdownIsMonotonicAndExpiresOnce(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	var (
		ticks   []int
		expired int
	)
	cd := NewCountdown(ScopeGlobal, 3,
		WithClock(clock),
		OnTick(func(r int) { ticks = append(ticks, r) }),
		OnExpire(func() { expired++ }),
	)
	cd.Start()

	clock.Advance(10 * time.Second)

	if expired != 1 {
		t.Fatalf("expected one expiry, got %d", expired)
	}
	if len(ticks) != 3 || ticks[0] != 2 || ticks[1] != 1 || ticks[2] != 0 {
		t.Fatalf("unexpected ticks %v", ticks)
	}
	if cd.Remaining() != 0 || cd.Running() || !cd.Expired() {
		t.Fatalf("expected stopped at zero, remaining=%d running=%v", cd.Remaining(), cd.Running())
	}
	if clock.Pending() != 0 {
		t.Fatalf("expected ticker released, pending=%d", clock.Pending())
	}

	cd.Start()
	clock.Advance(5 * time.Second)
	if expired != 1 {
		t.Fatalf("restart after expiry must not fire again, got %d", expired)
	}
}

func TestCountdownCatchesUpLostSeconds(t *testing.T) {
	expired := 0
	cd := NewCountdown(ScopeGlobal, 5, WithClock(NewManualClock(time.Now())), OnExpire(func() { expired++ }))
	cd.Start()

	cd.Advance(3)
	if got := cd.Remaining(); got != 2 {
		t.Fatalf("expected 2 remaining, got %d", got)
	}
	// A suspended process resumes with more seconds lost than remain.
	cd.Advance(7)
	if cd.Remaining() != 0 || expired != 1 {
		t.Fatalf("expected clamp at zero with one expiry, remaining=%d expired=%d", cd.Remaining(), expired)
	}
}

func TestCountdownStartWithNothingLeftFiresImmediately(t *testing.T) {
	expired := 0
	cd := NewCountdown(ScopeGlobal, 0, WithClock(NewManualClock(time.Now())), OnExpire(func() { expired++ }))
	cd.Start()
	if expired != 1 {
		t.Fatalf("expected immediate expiry, got %d", expired)
	}
}

func TestCountdownPauseAndReset(t *testing.T) {
	clock := NewManualClock(time.Now())
	cd := NewCountdown(ScopeQuestion, 120, WithClock(clock))

	clock.Advance(5 * time.Second)
	if cd.Remaining() != 120 {
		t.Fatalf("countdown must not run before Start, got %d", cd.Remaining())
	}

	cd.Start()
	clock.Advance(10 * time.Second)
	cd.Pause()
	clock.Advance(30 * time.Second)
	if cd.Remaining() != 110 {
		t.Fatalf("expected 110 after pause, got %d", cd.Remaining())
	}

	cd.Reset(120)
	if cd.Remaining() != 120 || cd.Running() {
		t.Fatalf("expected rearmed at 120 and stopped")
	}
}

func TestCountdownConcurrentAdvanceFiresOnce(t *testing.T) {
	var (
		mu      sync.Mutex
		expired int
	)
	cd := NewCountdown(ScopeGlobal, 50, WithClock(NewManualClock(time.Now())), OnExpire(func() {
		mu.Lock()
		expired++
		mu.Unlock()
	}))
	cd.Start()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cd.Advance(5)
		}()
	}
	wg.Wait()

	if expired != 1 {
		t.Fatalf("expected exactly one expiry, got %d", expired)
	}
}
