package timer

import (
	"sync"
	"time"
)

// Clock schedules the periodic callbacks that drive a Countdown.
type Clock interface {
	Now() time.Time
	// Every calls fn once per elapsed period. n is the number of whole periods that passed since
	// the previous call, so a callback delayed by a suspended process still observes lost time.
	Every(d time.Duration, fn func(n int)) (stop func())
	// AfterFunc calls fn once after d.
	AfterFunc(d time.Duration, fn func()) (stop func())
}

// RealClock is a Clock backed by time.Ticker.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) Every(d time.Duration, fn func(n int)) func() {
	if d <= 0 {
		d = time.Second
	}
	ticker := time.NewTicker(d)
	done := make(chan struct{})
	var once sync.Once

	go func() {
		last := time.Now()
		for {
			select {
			case now := <-ticker.C:
				n := int(now.Sub(last) / d)
				if n < 1 {
					n = 1
				}
				last = last.Add(time.Duration(n) * d)
				fn(n)
			case <-done:
				return
			}
		}
	}()

	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}

func (RealClock) AfterFunc(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}

// ManualClock is a deterministic Clock for tests. Callbacks run synchronously inside Advance.
type ManualClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*manualTicker
}

type manualTicker struct {
	period  time.Duration
	elapsed time.Duration
	once    bool
	stopped bool
	fn      func(n int)
}

func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (m *ManualClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *ManualClock) Every(d time.Duration, fn func(n int)) func() {
	if d <= 0 {
		d = time.Second
	}
	return m.add(&manualTicker{period: d, fn: fn})
}

func (m *ManualClock) AfterFunc(d time.Duration, fn func()) func() {
	if d <= 0 {
		d = time.Nanosecond
	}
	return m.add(&manualTicker{period: d, once: true, fn: func(int) { fn() }})
}

func (m *ManualClock) add(t *manualTicker) func() {
	m.mu.Lock()
	m.tickers = append(m.tickers, t)
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.removeLocked(t)
	}
}

func (m *ManualClock) removeLocked(t *manualTicker) {
	t.stopped = true
	for i, other := range m.tickers {
		if other == t {
			m.tickers = append(m.tickers[:i], m.tickers[i+1:]...)
			return
		}
	}
}

// Pending returns the number of scheduled callbacks that have not been stopped.
func (m *ManualClock) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tickers)
}

// Advance moves time forward by d, firing every callback that falls due in order.
func (m *ManualClock) Advance(d time.Duration) {
	for d > 0 {
		m.mu.Lock()
		step := d
		for _, t := range m.tickers {
			if due := t.period - t.elapsed; due < step {
				step = due
			}
		}
		m.now = m.now.Add(step)
		var due []*manualTicker
		for _, t := range append([]*manualTicker(nil), m.tickers...) {
			t.elapsed += step
			if t.elapsed >= t.period {
				t.elapsed -= t.period
				due = append(due, t)
				if t.once {
					m.removeLocked(t)
				}
			}
		}
		m.mu.Unlock()

		for _, t := range due {
			if t.once || !m.isStopped(t) {
				t.fn(1)
			}
		}
		d -= step
	}
}

func (m *ManualClock) isStopped(t *manualTicker) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return t.stopped
}
