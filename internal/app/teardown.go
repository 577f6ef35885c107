package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// teardown is the exit-path guard of an active session. Steps run in reverse order of
// registration, exactly once, however many exit paths race to run them.
type teardown struct {
	mu    sync.Mutex
	steps []teardownStep
	ran   bool
}

type teardownStep struct {
	name string
	fn   func(ctx context.Context) error
}

func (t *teardown) push(name string, fn func(ctx context.Context) error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.steps = append(t.steps, teardownStep{name: name, fn: fn})
}

func (t *teardown) run(ctx context.Context, log zerolog.Logger) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ran {
		return
	}
	t.ran = true
	for i := len(t.steps) - 1; i >= 0; i-- {
		step := t.steps[i]
		if err := step.fn(ctx); err != nil {
			log.Warn().Err(err).Str("step", step.name).Msg("teardown step failed")
		}
	}
	t.steps = nil
}
