package timer

import (
	"sync"
	"time"
)

// Scope tells a global session timer apart from a per-question timer.
type Scope string

const (
	ScopeGlobal   Scope = "global"
	ScopeQuestion Scope = "question"
)

// Countdown counts whole seconds down to zero. Remaining never goes below zero and never
// increases while running; reaching zero fires the expiry callback exactly once and stops.
type Countdown struct {
	scope Scope
	clock Clock

	mu        sync.Mutex
	remaining int
	running   bool
	expired   bool
	gen       uint64
	stop      func()

	onTick   func(remaining int)
	onExpire func()
}

type Option func(*Countdown)

// WithClock replaces the real ticker, mostly for tests.
func WithClock(c Clock) Option {
	return func(cd *Countdown) { cd.clock = c }
}

// OnTick registers a callback invoked after every decrement with the new remaining value.
func OnTick(fn func(remaining int)) Option {
	return func(cd *Countdown) { cd.onTick = fn }
}

// OnExpire registers the one-shot expiry callback.
func OnExpire(fn func()) Option {
	return func(cd *Countdown) { cd.onExpire = fn }
}

func NewCountdown(scope Scope, seconds int, opts ...Option) *Countdown {
	if seconds < 0 {
		seconds = 0
	}
	cd := &Countdown{
		scope:     scope,
		clock:     RealClock{},
		remaining: seconds,
	}
	for _, opt := range opts {
		opt(cd)
	}
	return cd
}

func (c *Countdown) Scope() Scope { return c.scope }

// Start begins ticking. Starting a countdown that already has nothing left fires expiry at once.
func (c *Countdown) Start() {
	c.mu.Lock()
	if c.running || c.expired {
		c.mu.Unlock()
		return
	}
	if c.remaining <= 0 {
		c.expired = true
		c.mu.Unlock()
		c.fireExpire()
		return
	}
	c.running = true
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	stop := c.clock.Every(time.Second, func(n int) { c.advance(gen, n) })

	c.mu.Lock()
	if c.gen != gen || !c.running {
		c.mu.Unlock()
		stop()
		return
	}
	c.stop = stop
	c.mu.Unlock()
}

// Pause stops ticking and keeps the remaining value.
func (c *Countdown) Pause() {
	c.mu.Lock()
	stop := c.haltLocked()
	c.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// Reset stops the countdown and rearms it with seconds remaining.
func (c *Countdown) Reset(seconds int) {
	if seconds < 0 {
		seconds = 0
	}
	c.mu.Lock()
	stop := c.haltLocked()
	c.remaining = seconds
	c.expired = false
	c.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (c *Countdown) haltLocked() func() {
	c.running = false
	c.gen++
	stop := c.stop
	c.stop = nil
	return stop
}

// Advance consumes n seconds as if the ticker had fired n times.
func (c *Countdown) Advance(n int) {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	c.advance(gen, n)
}

func (c *Countdown) advance(gen uint64, n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	if gen != c.gen || !c.running || c.expired {
		c.mu.Unlock()
		return
	}
	c.remaining -= n
	if c.remaining < 0 {
		c.remaining = 0
	}
	remaining := c.remaining
	var stop func()
	if remaining == 0 {
		c.expired = true
		stop = c.haltLocked()
	}
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
	if c.onTick != nil {
		c.onTick(remaining)
	}
	if remaining == 0 {
		c.fireExpire()
	}
}

func (c *Countdown) fireExpire() {
	if c.onExpire != nil {
		c.onExpire()
	}
}

func (c *Countdown) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

func (c *Countdown) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Countdown) Expired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expired
}
