package judge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"proctor-engine/internal/domain"
)

// gatedExecutor blocks each call until released or canceled.
type gatedExecutor struct {
	mu    sync.Mutex
	gates map[string]chan domain.JudgeResult
}

func newGatedExecutor() *gatedExecutor {
	return &gatedExecutor{gates: map[string]chan domain.JudgeResult{}}
}

func (e *gatedExecutor) gate(code string) chan domain.JudgeResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch, ok := e.gates[code]
	if !ok {
		ch = make(chan domain.JudgeResult, 1)
		e.gates[code] = ch
	}
	return ch
}

func (e *gatedExecutor) Execute(ctx context.Context, req domain.JudgeRequest) domain.JudgeResult {
	select {
	case res := <-e.gate(req.Code):
		return res
	case <-ctx.Done():
		// Late arrival of a superseded request still produces a result.
		return domain.JudgeResult{Outcome: domain.JudgeCanceled}
	}
}

// ignoringExecutor returns its scripted result after release regardless of cancellation.
type ignoringExecutor struct {
	release chan struct{}
	result  domain.JudgeResult
}

func (e *ignoringExecutor) Execute(context.Context, domain.JudgeRequest) domain.JudgeResult {
	<-e.release
	return e.result
}

func TestSupersededResultNeverOverwrites(t *testing.T) {
	exec := &ignoringExecutor{release: make(chan struct{}), result: domain.JudgeResult{Outcome: domain.JudgeOK, Output: "r1"}}
	r := NewRunner(exec, time.Second, zerolog.Nop(), nil)
	ctx := context.Background()

	c1 := r.Start(ctx, domain.JudgeRequest{Code: "one"})
	done1 := make(chan bool)
	go func() {
		_, applied := c1.Do()
		done1 <- applied
	}()

	second := &ignoringExecutor{release: make(chan struct{}), result: domain.JudgeResult{Outcome: domain.JudgeOK, Output: "r2"}}
	r.exec = second
	c2 := r.Start(ctx, domain.JudgeRequest{Code: "two"})
	close(second.release)
	res2, applied2 := c2.Do()
	if !applied2 || res2.Output != "r2" {
		t.Fatalf("expected r2 applied, got %+v applied=%v", res2, applied2)
	}

	// R1 arrives after R2 was issued and settled.
	close(exec.release)
	if applied := <-done1; applied {
		t.Fatalf("superseded result must be discarded")
	}
	if got := r.Current(); got.Output != "r2" || got.Token != c2.Token {
		t.Fatalf("expected current result r2, got %+v", got)
	}
}

func TestCancelBeforeResponse(t *testing.T) {
	exec := newGatedExecutor()
	r := NewRunner(exec, time.Second, zerolog.Nop(), nil)

	call := r.Start(context.Background(), domain.JudgeRequest{Code: "slow"})
	done := make(chan bool)
	go func() {
		_, applied := call.Do()
		done <- applied
	}()

	res, ok := r.Cancel()
	if !ok || res.Outcome != domain.JudgeCanceled {
		t.Fatalf("expected canceled result, got %+v ok=%v", res, ok)
	}
	if applied := <-done; applied {
		t.Fatalf("canceled call must not apply its late result")
	}
	if got := r.Current(); got.Outcome != domain.JudgeCanceled {
		t.Fatalf("expected canceled state, got %+v", got)
	}
	if _, ok := r.Cancel(); ok {
		t.Fatalf("second cancel must report nothing outstanding")
	}
}

// sleepyExecutor takes d per call and ignores cancellation.
type sleepyExecutor struct{ d time.Duration }

func (e sleepyExecutor) Execute(context.Context, domain.JudgeRequest) domain.JudgeResult {
	time.Sleep(e.d)
	return domain.JudgeResult{Outcome: domain.JudgeOK, Output: "x"}
}

func TestRunTestsHonorsCeiling(t *testing.T) {
	r := NewRunner(sleepyExecutor{d: 80 * time.Millisecond}, 100*time.Millisecond, zerolog.Nop(), nil)
	examples := []domain.Example{{Output: "x"}, {Output: "x"}, {Output: "x"}, {Output: "x"}}

	started := time.Now()
	res, applied := r.StartTests(context.Background(), "q", domain.JudgeRequest{}, examples).Do()
	if elapsed := time.Since(started); elapsed > 250*time.Millisecond {
		t.Fatalf("invocation ran %v past a 100ms ceiling", elapsed)
	}
	if !applied || res.Outcome != domain.JudgeTimeout || res.Error != "execution timed out" {
		t.Fatalf("expected applied timeout, got %+v applied=%v", res, applied)
	}
	if got := r.Current(); got.Outcome != domain.JudgeTimeout {
		t.Fatalf("expected timeout state, got %+v", got)
	}
}

func TestApplyRunsBeforeNextStart(t *testing.T) {
	exec := newGatedExecutor()
	r := NewRunner(exec, time.Second, zerolog.Nop(), nil)
	call := r.Start(context.Background(), domain.JudgeRequest{Code: "one"})
	exec.gate("one") <- domain.JudgeResult{Outcome: domain.JudgeOK, Output: "r1"}

	entered := make(chan struct{})
	hold := make(chan struct{})
	go call.DoApply(func(res domain.JudgeResult) {
		if res.Output != "r1" {
			t.Errorf("unexpected applied result %+v", res)
		}
		close(entered)
		<-hold
	})
	<-entered

	next := make(chan struct{})
	go func() {
		r.Start(context.Background(), domain.JudgeRequest{Code: "two"})
		close(next)
	}()
	select {
	case <-next:
		t.Fatalf("next invocation began while the previous result was being applied")
	case <-time.After(50 * time.Millisecond):
	}
	close(hold)
	select {
	case <-next:
	case <-time.After(time.Second):
		t.Fatalf("next invocation never began")
	}
}

type scriptedExecutor struct {
	outputs map[string]string
}

func (e scriptedExecutor) Execute(_ context.Context, req domain.JudgeRequest) domain.JudgeResult {
	return domain.JudgeResult{Outcome: domain.JudgeOK, Output: e.outputs[req.Input]}
}

func TestRunTestsReportsPerCase(t *testing.T) {
	exec := scriptedExecutor{outputs: map[string]string{
		"[2,7,11,15], 9": "[0, 1]",
		"[3,2,4], 6":     "[2,1]",
		"hello":          "hello\n",
	}}
	r := NewRunner(exec, time.Second, zerolog.Nop(), nil)

	res, applied := r.StartTests(context.Background(), "two-sum", domain.JudgeRequest{Language: "python"}, []domain.Example{
		{Input: "[2,7,11,15], 9", Output: "[0,1]"},
		{Input: "[3,2,4], 6", Output: "[1,2]"},
		{Input: "hello", Output: "hello"},
	}).Do()
	if !applied || res.Report == nil {
		t.Fatalf("expected applied report, got %+v", res)
	}
	if res.Report.Total != 3 || res.Report.Passed != 2 {
		t.Fatalf("expected 2/3 passed, got %+v", res.Report)
	}
	if res.Report.Cases[1].Passed {
		t.Fatalf("order-sensitive mismatch must fail")
	}
	if res.Report.AllPassed() {
		t.Fatalf("report must not be all-passed")
	}
}

func TestOutputsEqual(t *testing.T) {
	cases := []struct {
		expected, actual string
		want             bool
	}{
		{`{"a":1,"b":[1,2]}`, `{"b":[1,2],"a":1}`, true},
		{"[0,1]", "[0, 1]", true},
		{"3", "3.0", true},
		{"hello world", "hello world\n", true},
		{"true", "True", false},
		{"[1,2]", "not json", false},
	}
	for _, tc := range cases {
		if got := OutputsEqual(tc.expected, tc.actual); got != tc.want {
			t.Fatalf("OutputsEqual(%q, %q) = %v, want %v", tc.expected, tc.actual, got, tc.want)
		}
	}
}
