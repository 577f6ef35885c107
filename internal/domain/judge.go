package domain

import "time"

// JudgeOutcome distinguishes how a judge invocation ended.
type JudgeOutcome string

const (
	JudgeOK       JudgeOutcome = "ok"
	JudgeError    JudgeOutcome = "error"
	JudgeTimeout  JudgeOutcome = "timeout"
	JudgeCanceled JudgeOutcome = "canceled"
	JudgeRunning  JudgeOutcome = "running"
)

// JudgeRequest is one code execution request. Transient, never persisted.
type JudgeRequest struct {
	Language string        `json:"language"`
	Code     string        `json:"code"`
	Input    string        `json:"input"`
	Timeout  time.Duration `json:"-"`
}

// JudgeResult is the normalized response of the execution service.
type JudgeResult struct {
	Token   uint64       `json:"token"`
	Outcome JudgeOutcome `json:"outcome"`
	Output  string       `json:"output"`
	Error   string       `json:"error,omitempty"`
	Logs    []string     `json:"logs,omitempty"`
	Report  *TestReport  `json:"report,omitempty"`
}

// TestCaseResult is the verdict for one example of a coding problem.
type TestCaseResult struct {
	Index    int          `json:"index"`
	Input    string       `json:"input"`
	Expected string       `json:"expected"`
	Actual   string       `json:"actual"`
	Passed   bool         `json:"passed"`
	Outcome  JudgeOutcome `json:"outcome"`
	Error    string       `json:"error,omitempty"`
}

// TestReport aggregates the examples of one runTests invocation.
type TestReport struct {
	QuestionID string           `json:"questionId"`
	Passed     int              `json:"passed"`
	Total      int              `json:"total"`
	Cases      []TestCaseResult `json:"perCase"`
}

// AllPassed reports whether every case passed. Empty reports never pass.
func (r TestReport) AllPassed() bool {
	return r.Total > 0 && r.Passed == r.Total
}
