package judge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"proctor-engine/internal/domain"
	"proctor-engine/internal/metrics"
)

// Runner serializes judge invocations of one session. Every Start issues a new token and
// supersedes the previous invocation; only the result carrying the latest token is applied.
type Runner struct {
	exec    Executor
	timeout time.Duration
	log     zerolog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	latest  uint64
	cancel  context.CancelFunc
	settled bool
	current domain.JudgeResult
}

func NewRunner(exec Executor, timeout time.Duration, log zerolog.Logger, m *metrics.Metrics) *Runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Runner{
		exec:    exec,
		timeout: timeout,
		log:     log.With().Str("component", "judge_runner").Logger(),
		metrics: m,
		settled: true,
	}
}

// Call is one registered invocation. Do executes it.
type Call struct {
	Token  uint64
	runner *Runner
	ctx    context.Context
	cancel context.CancelFunc
	run    func(ctx context.Context) domain.JudgeResult
}

// Start registers a run of req. The prior outstanding invocation, if any, is canceled.
func (r *Runner) Start(ctx context.Context, req domain.JudgeRequest) *Call {
	if req.Timeout <= 0 {
		req.Timeout = r.timeout
	}
	exec := r.exec
	return r.begin(ctx, func(ctx context.Context) domain.JudgeResult {
		return exec.Execute(ctx, req)
	})
}

// StartTests registers a run of req against each example of a coding problem.
func (r *Runner) StartTests(ctx context.Context, questionID string, req domain.JudgeRequest, examples []domain.Example) *Call {
	if req.Timeout <= 0 {
		req.Timeout = r.timeout
	}
	exec := r.exec
	return r.begin(ctx, func(ctx context.Context) domain.JudgeResult {
		return runExamples(ctx, exec, questionID, req, examples)
	})
}

// Run is Start followed by Do.
func (r *Runner) Run(ctx context.Context, req domain.JudgeRequest) (domain.JudgeResult, bool) {
	return r.Start(ctx, req).Do()
}

func (r *Runner) begin(ctx context.Context, run func(context.Context) domain.JudgeResult) *Call {
	// The ceiling bounds the whole invocation, however many examples it runs.
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)

	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.latest++
	token := r.latest
	r.cancel = cancel
	r.settled = false
	r.current = domain.JudgeResult{Token: token, Outcome: domain.JudgeRunning}
	r.mu.Unlock()

	return &Call{Token: token, runner: r, ctx: callCtx, cancel: cancel, run: run}
}

// Do blocks until the invocation finishes or hits the runner's ceiling, which settles it as
// timed out. The bool reports whether the result is the session's current one; superseded or
// canceled invocations return false.
func (c *Call) Do() (domain.JudgeResult, bool) {
	return c.DoApply(nil)
}

// DoApply is Do with apply invoked on the current result before a later Start can begin, so
// whatever apply publishes is ordered before the next invocation's running state.
func (c *Call) DoApply(apply func(domain.JudgeResult)) (domain.JudgeResult, bool) {
	started := time.Now()
	out := make(chan domain.JudgeResult, 1)
	go func() { out <- c.run(c.ctx) }()

	var res domain.JudgeResult
	select {
	case res = <-out:
	case <-c.ctx.Done():
		if errors.Is(c.ctx.Err(), context.DeadlineExceeded) {
			break
		}
		res = <-out
	}
	if errors.Is(c.ctx.Err(), context.DeadlineExceeded) {
		res = domain.JudgeResult{Outcome: domain.JudgeTimeout, Error: "execution timed out", Report: res.Report}
	}
	c.cancel()
	res.Token = c.Token
	c.runner.metrics.JudgeRun(string(res.Outcome), time.Since(started))
	return c.runner.settle(res, apply)
}

func (r *Runner) settle(res domain.JudgeResult, apply func(domain.JudgeResult)) (domain.JudgeResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if res.Token != r.latest || r.settled {
		r.metrics.StaleJudgeResult()
		r.log.Debug().Uint64("token", res.Token).Uint64("latest", r.latest).Msg("discarding stale judge result")
		return res, false
	}
	r.settled = true
	r.cancel = nil
	r.current = res
	if apply != nil {
		apply(res)
	}
	return res, true
}

// Cancel settles the outstanding invocation as canceled. It reports false when nothing was running.
func (r *Runner) Cancel() (domain.JudgeResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.settled {
		return r.current, false
	}
	r.cancel()
	r.cancel = nil
	r.settled = true
	r.current = domain.JudgeResult{Token: r.latest, Outcome: domain.JudgeCanceled, Error: "execution canceled"}
	return r.current, true
}

// Current is the result the session displays.
func (r *Runner) Current() domain.JudgeResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Close cancels whatever is outstanding.
func (r *Runner) Close() {
	_, _ = r.Cancel()
}

func runExamples(ctx context.Context, exec Executor, questionID string, req domain.JudgeRequest, examples []domain.Example) domain.JudgeResult {
	report := &domain.TestReport{QuestionID: questionID, Total: len(examples)}
	for i, ex := range examples {
		caseReq := req
		caseReq.Input = ex.Input
		res := exec.Execute(ctx, caseReq)

		tc := domain.TestCaseResult{
			Index:    i,
			Input:    ex.Input,
			Expected: ex.Output,
			Actual:   res.Output,
			Outcome:  res.Outcome,
			Error:    res.Error,
		}
		tc.Passed = res.Outcome == domain.JudgeOK && res.Error == "" && OutputsEqual(ex.Output, res.Output)
		if tc.Passed {
			report.Passed++
		}
		report.Cases = append(report.Cases, tc)

		if res.Outcome == domain.JudgeCanceled || ctx.Err() != nil {
			return domain.JudgeResult{Outcome: domain.JudgeCanceled, Error: "execution canceled", Report: report}
		}
	}
	return domain.JudgeResult{Outcome: domain.JudgeOK, Report: report}
}
