package lockdown

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"proctor-engine/internal/domain"
	"proctor-engine/internal/metrics"
)

// Surface is whatever renders the assessment UI and can install the restrictions on it.
type Surface interface {
	Install(ctx context.Context, policy Policy) error
	Uninstall(ctx context.Context) error
}

// Violation is a blocked action reported back by the surface.
type Violation struct {
	Kind   string    `json:"kind"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// Monitor owns the lockdown of one surface. At most one Token exists at a time; the next
// session can only acquire after the previous token was released.
type Monitor struct {
	surface Surface
	policy  Policy
	log     zerolog.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	token *Token
}

func NewMonitor(surface Surface, policy Policy, log zerolog.Logger, m *metrics.Metrics) *Monitor {
	return &Monitor{
		surface: surface,
		policy:  policy,
		log:     log.With().Str("component", "lockdown").Logger(),
		metrics: m,
	}
}

func (m *Monitor) Policy() Policy { return m.policy }

// Acquire hands out the lockdown token to owner.
func (m *Monitor) Acquire(owner string) (*Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token != nil {
		return nil, fmt.Errorf("acquire lockdown for %s (held by %s): %w", owner, m.token.owner, domain.ErrLockdownHeld)
	}
	m.token = &Token{monitor: m, owner: owner}
	return m.token, nil
}

// Owner returns the current token holder, empty when free.
func (m *Monitor) Owner() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == nil {
		return ""
	}
	return m.token.owner
}

// Report forwards a violation to the current owner. Reports while nothing is installed are dropped.
func (m *Monitor) Report(v Violation) {
	m.mu.Lock()
	token := m.token
	m.mu.Unlock()
	if token == nil {
		return
	}
	if v.At.IsZero() {
		v.At = time.Now()
	}
	token.report(v)
}

func (m *Monitor) release(t *Token) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == t {
		m.token = nil
	}
}

// Token is the single owner's handle on the lockdown. Enable, Disable and Release are idempotent.
type Token struct {
	monitor *Monitor
	owner   string

	mu          sync.Mutex
	enabled     bool
	released    bool
	onViolation func(Violation)
}

func (t *Token) Owner() string { return t.owner }

// OnViolation sets the handler that receives reported violations while enabled.
func (t *Token) OnViolation(fn func(Violation)) {
	t.mu.Lock()
	t.onViolation = fn
	t.mu.Unlock()
}

// Enable installs the restrictions. A failed install is rolled back so nothing stays partially
// applied.
func (t *Token) Enable(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.released {
		return domain.ErrTokenReleased
	}
	if t.enabled {
		return nil
	}
	m := t.monitor
	if err := m.surface.Install(ctx, m.policy); err != nil {
		if uerr := m.surface.Uninstall(ctx); uerr != nil {
			m.log.Warn().Err(uerr).Str("owner", t.owner).Msg("rollback of failed lockdown install")
		}
		return fmt.Errorf("install lockdown: %w", err)
	}
	t.enabled = true
	m.metrics.LockdownEnabled()
	m.log.Debug().Str("owner", t.owner).Msg("lockdown enabled")
	return nil
}

// Disable removes the restrictions if they are installed.
func (t *Token) Disable(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.disableLocked(ctx)
}

func (t *Token) disableLocked(ctx context.Context) error {
	if !t.enabled {
		return nil
	}
	t.enabled = false
	m := t.monitor
	m.metrics.LockdownDisabled()
	if err := m.surface.Uninstall(ctx); err != nil {
		m.log.Warn().Err(err).Str("owner", t.owner).Msg("lockdown uninstall failed")
		return fmt.Errorf("uninstall lockdown: %w", err)
	}
	m.log.Debug().Str("owner", t.owner).Msg("lockdown disabled")
	return nil
}

// Release disables the lockdown and returns ownership to the monitor.
func (t *Token) Release(ctx context.Context) error {
	t.mu.Lock()
	if t.released {
		t.mu.Unlock()
		return nil
	}
	err := t.disableLocked(ctx)
	t.released = true
	t.onViolation = nil
	t.mu.Unlock()

	t.monitor.release(t)
	return err
}

func (t *Token) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *Token) report(v Violation) {
	t.mu.Lock()
	fn := t.onViolation
	enabled := t.enabled
	t.mu.Unlock()
	if !enabled || fn == nil {
		return
	}
	t.monitor.metrics.Violation(v.Kind)
	fn(v)
}
