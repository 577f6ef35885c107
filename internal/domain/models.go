package domain

import (
	"strconv"
	"strings"
	"time"
)

// AssessmentType selects which driver runs a session.
type AssessmentType string

const (
	AssessmentMCQ       AssessmentType = "mcq"
	AssessmentCoding    AssessmentType = "coding"
	AssessmentInterview AssessmentType = "interview"
)

// Valid reports whether t is one of the known assessment types.
func (t AssessmentType) Valid() bool {
	switch t {
	case AssessmentMCQ, AssessmentCoding, AssessmentInterview:
		return true
	}
	return false
}

// NeedsMedia reports whether the type requests camera/microphone capture before starting.
func (t AssessmentType) NeedsMedia() bool {
	return t == AssessmentCoding || t == AssessmentInterview
}

// Status is the session lifecycle state.
type Status string

const (
	StatusConfiguring        Status = "configuring"
	StatusPermissionsPending Status = "permissions_pending"
	StatusActive             Status = "active"
	StatusSubmitting         Status = "submitting"
	StatusCompleted          Status = "completed"
)

// Example is one input/output pair attached to a coding problem.
type Example struct {
	Input       string `json:"input"`
	Output      string `json:"output"`
	Explanation string `json:"explanation,omitempty"`
}

// Question is one MCQ item, coding problem or interview prompt. Immutable once loaded.
type Question struct {
	ID         string         `json:"id"`
	Type       AssessmentType `json:"type"`
	Prompt     string         `json:"prompt"`
	Technology string         `json:"technology,omitempty"`
	Difficulty string         `json:"difficulty,omitempty"`

	// MCQ
	Options      []string `json:"options,omitempty"`
	CorrectIndex *int     `json:"correctIndex,omitempty"`

	// Coding
	Title       string            `json:"title,omitempty"`
	Description string            `json:"description,omitempty"`
	Examples    []Example         `json:"examples,omitempty"`
	Constraints []string          `json:"constraints,omitempty"`
	StarterCode map[string]string `json:"starterCode,omitempty"`

	// Interview
	SpokenPrompt     string   `json:"spokenPrompt,omitempty"`
	TimeLimitSeconds int      `json:"timeLimitSeconds,omitempty"`
	Category         string   `json:"category,omitempty"`
	Tips             []string `json:"tips,omitempty"`
}

// Text returns the human-readable title of the question for submissions.
func (q Question) Text() string {
	if q.Title != "" {
		return q.Title
	}
	return q.Prompt
}

// Speech returns what the system says aloud for an interview question.
func (q Question) Speech() string {
	if q.SpokenPrompt != "" {
		return q.SpokenPrompt
	}
	return q.Prompt
}

// QuestionSet is a stored or generated batch of questions of one type.
type QuestionSet struct {
	ID         string         `json:"id"`
	Type       AssessmentType `json:"type"`
	Technology string         `json:"technology"`
	Difficulty string         `json:"difficulty"`
	Questions  []Question     `json:"questions"`
}

// GenerateRequest is sent to the remote question generation service.
type GenerateRequest struct {
	Type       AssessmentType `json:"-"`
	Technology string         `json:"technology"`
	Difficulty string         `json:"difficulty"`
	Count      int            `json:"count"`
}

// Answer is the candidate's current answer for one (question, language) pair.
type Answer struct {
	QuestionID string `json:"questionId"`
	Language   string `json:"language,omitempty"`
	Value      string `json:"value"`
}

// SelectionValue encodes an MCQ option index as a stored answer value.
func SelectionValue(index int) string {
	return strconv.Itoa(index)
}

// ParseSelection decodes a stored MCQ answer; ok is false for empty or malformed values.
func ParseSelection(value string) (int, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, false
	}
	return n, true
}

// QuestionStatus is one row of the question status overview.
type QuestionStatus struct {
	Number   int  `json:"number"`
	Answered bool `json:"answered"`
	Current  bool `json:"current"`
}

// SubmittedQuestion is the per-question record sent to the history service.
type SubmittedQuestion struct {
	Question      string `json:"question"`
	UserAnswer    any    `json:"userAnswer"`
	CorrectAnswer any    `json:"correctAnswer"`
	IsCorrect     *bool  `json:"isCorrect"`
	Technology    string `json:"technology"`
}

// Submission is the scored result of a session. Score is a completion/engagement metric for
// coding and interview types, not a correctness grade.
type Submission struct {
	SessionID      string              `json:"sessionId"`
	CandidateID    string              `json:"candidateId,omitempty"`
	Type           AssessmentType      `json:"type"`
	Technologies   []string            `json:"technologies"`
	Difficulty     string              `json:"difficulty"`
	Score          int                 `json:"score"`
	TotalQuestions int                 `json:"totalQuestions"`
	TimeSpent      int                 `json:"timeSpent"`
	Questions      []SubmittedQuestion `json:"questions"`
	Feedback       string              `json:"feedback"`
	Violations     int                 `json:"violations"`
	Reason         SubmitReason        `json:"reason"`
	CompletedAt    time.Time           `json:"completedAt"`
}

// Percentage returns the rounded score percentage, zero for empty sessions.
func (s Submission) Percentage() int {
	if s.TotalQuestions == 0 {
		return 0
	}
	return (s.Score*100 + s.TotalQuestions/2) / s.TotalQuestions
}

// SubmitReason records which trigger moved the session to Submitting.
type SubmitReason string

const (
	SubmitManual        SubmitReason = "manual"
	SubmitGlobalTimeout SubmitReason = "global_timeout"
	SubmitQuestionTimer SubmitReason = "question_timeout"
)
