package app

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"proctor-engine/internal/answers"
	"proctor-engine/internal/domain"
	"proctor-engine/internal/judge"
	"proctor-engine/internal/timer"
	"proctor-engine/internal/voice"
)

// Snapshot is the externally visible state of a session.
type Snapshot struct {
	SessionID         string                  `json:"sessionId"`
	Type              domain.AssessmentType   `json:"type"`
	Status            domain.Status           `json:"status"`
	Index             int                     `json:"index"`
	Total             int                     `json:"total"`
	Language          string                  `json:"language,omitempty"`
	Remaining         int                     `json:"remaining"`
	QuestionRemaining int                     `json:"questionRemaining,omitempty"`
	Violations        int                     `json:"violations"`
	MediaDenied       bool                    `json:"mediaDenied"`
	Speech            voice.State             `json:"speech,omitempty"`
	Overview          []domain.QuestionStatus `json:"overview"`
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	s := Snapshot{
		SessionID:   c.cfg.SessionID,
		Type:        c.cfg.Type,
		Status:      c.status,
		Index:       c.index,
		Total:       len(c.cfg.Questions),
		Violations:  c.violations,
		MediaDenied: c.mediaDenied,
	}
	if c.cfg.Type == domain.AssessmentCoding {
		s.Language = c.language
	}
	global, question, orch := c.global, c.question, c.voice
	c.mu.Unlock()

	if global != nil {
		s.Remaining = global.Remaining()
	}
	if question != nil {
		s.QuestionRemaining = question.Remaining()
	}
	if orch != nil {
		s.Speech = orch.State()
	}
	s.Overview = c.Overview()
	return s
}

// Overview lists every question with its answered flag and the current marker.
func (c *Controller) Overview() []domain.QuestionStatus {
	c.mu.Lock()
	store, index, language := c.store, c.index, c.language
	c.mu.Unlock()

	out := make([]domain.QuestionStatus, len(c.cfg.Questions))
	for i, q := range c.cfg.Questions {
		out[i] = domain.QuestionStatus{Number: i + 1, Current: i == index}
		if store != nil {
			out[i].Answered = c.answered(store, q, language)
		}
	}
	return out
}

func (c *Controller) answered(store *answers.Store, q domain.Question, language string) bool {
	switch c.cfg.Type {
	case domain.AssessmentMCQ:
		v, _ := store.Get(q.ID, answers.DefaultLanguage)
		_, ok := domain.ParseSelection(v)
		return ok
	case domain.AssessmentCoding:
		v, ok := store.Get(q.ID, language)
		return ok && strings.TrimSpace(v) != "" && v != c.placeholder(q.ID, language)
	default:
		v, _ := store.Get(q.ID, answers.DefaultLanguage)
		return strings.TrimSpace(v) != ""
	}
}

func (c *Controller) placeholder(questionID, language string) string {
	if c.cfg.Type != domain.AssessmentCoding {
		return ""
	}
	for _, q := range c.cfg.Questions {
		if q.ID != questionID {
			continue
		}
		if code, ok := q.StarterCode[language]; ok {
			return code
		}
		break
	}
	return StarterFor(language, "")
}

func (c *Controller) questionByID(id string) (domain.Question, int, bool) {
	for i, q := range c.cfg.Questions {
		if q.ID == id {
			return q, i, true
		}
	}
	return domain.Question{}, -1, false
}

// activeParts returns the live collaborators, or ErrInvalidTransition outside Active.
func (c *Controller) activeParts() (*answers.Store, int, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.hasSubmitted || c.status != domain.StatusActive {
		return nil, 0, "", domain.ErrInvalidTransition
	}
	return c.store, c.index, c.language, nil
}

func (c *Controller) publishQuestion() {
	c.mu.Lock()
	store, index, language := c.store, c.index, c.language
	c.mu.Unlock()
	if store == nil || index >= len(c.cfg.Questions) {
		return
	}
	q := c.cfg.Questions[index]
	lang := answers.DefaultLanguage
	payload := domain.QuestionPayload{Index: index, Total: len(c.cfg.Questions), Question: q}
	if c.cfg.Type == domain.AssessmentCoding {
		lang = language
		payload.Language = language
	}
	if c.cfg.Type == domain.AssessmentMCQ {
		payload.Question.CorrectIndex = nil
	}
	payload.Answer = store.Value(q.ID, lang)
	payload.Overview = c.Overview()
	c.publish(domain.EventQuestion, payload)
}

// Refresh republishes the status and the current question, for clients that subscribed late.
func (c *Controller) Refresh() {
	c.publishStatus(c.Status())
	c.publishQuestion()
}

// Navigation

func (c *Controller) Next(ctx context.Context) error {
	c.mu.Lock()
	idx := c.index + 1
	c.mu.Unlock()
	return c.JumpTo(ctx, idx)
}

func (c *Controller) Previous(ctx context.Context) error {
	c.mu.Lock()
	idx := c.index - 1
	c.mu.Unlock()
	return c.JumpTo(ctx, idx)
}

// JumpTo makes idx the current question. Jumping to the current question is a no-op.
func (c *Controller) JumpTo(ctx context.Context, idx int) error {
	c.navMu.Lock()
	defer c.navMu.Unlock()

	c.mu.Lock()
	if c.closed || c.hasSubmitted || c.status != domain.StatusActive {
		c.mu.Unlock()
		return domain.ErrInvalidTransition
	}
	if idx < 0 || idx >= len(c.cfg.Questions) {
		c.mu.Unlock()
		return fmt.Errorf("jump to %d of %d: %w", idx, len(c.cfg.Questions), domain.ErrIndexOutOfRange)
	}
	if idx == c.index {
		c.mu.Unlock()
		return nil
	}
	c.index = idx
	orch := c.voice
	c.mu.Unlock()

	if orch != nil {
		orch.Finish(ctx)
		c.beginSpoken(idx)
	}
	c.publishQuestion()
	return nil
}

// beginSpoken starts the speak-then-listen cycle of an interview question. Callers hold navMu.
func (c *Controller) beginSpoken(idx int) {
	c.mu.Lock()
	orch, question, store := c.voice, c.question, c.store
	c.questionFor = idx
	c.mu.Unlock()
	if orch == nil {
		return
	}
	if question != nil {
		question.Reset(c.limitSeconds(idx))
	}
	q := c.cfg.Questions[idx]
	transcript := ""
	if store != nil {
		transcript = store.Value(q.ID, answers.DefaultLanguage)
	}
	orch.Begin(c.ctx, q.ID, q.Speech(), transcript)
}

// Answers

// SelectOption records an MCQ choice for questionID.
func (c *Controller) SelectOption(ctx context.Context, questionID string, option int) error {
	if c.cfg.Type != domain.AssessmentMCQ {
		return domain.ErrWrongAssessmentType
	}
	store, _, _, err := c.activeParts()
	if err != nil {
		return err
	}
	q, _, ok := c.questionByID(questionID)
	if !ok {
		return fmt.Errorf("select %q: %w", questionID, domain.ErrQuestionNotFound)
	}
	if option < 0 || option >= len(q.Options) {
		return fmt.Errorf("select option %d of %d: %w", option, len(q.Options), domain.ErrOptionOutOfRange)
	}
	store.Set(questionID, answers.DefaultLanguage, domain.SelectionValue(option))
	c.publish(domain.EventAnswer, domain.Answer{QuestionID: questionID, Value: domain.SelectionValue(option)})
	return nil
}

// EditCode stores the editor contents of questionID in the current language.
func (c *Controller) EditCode(ctx context.Context, questionID, code string) error {
	if c.cfg.Type != domain.AssessmentCoding {
		return domain.ErrWrongAssessmentType
	}
	store, _, language, err := c.activeParts()
	if err != nil {
		return err
	}
	if _, _, ok := c.questionByID(questionID); !ok {
		return fmt.Errorf("edit %q: %w", questionID, domain.ErrQuestionNotFound)
	}
	store.Set(questionID, language, code)
	return nil
}

// SwitchLanguage changes the editor language. Answers of the new language are restored; answers of
// the old one are kept untouched.
func (c *Controller) SwitchLanguage(ctx context.Context, language string) error {
	if c.cfg.Type != domain.AssessmentCoding {
		return domain.ErrWrongAssessmentType
	}
	language = strings.TrimSpace(language)
	if language == "" {
		return fmt.Errorf("switch language: empty name: %w", domain.ErrInvalidTransition)
	}
	store, _, _, err := c.activeParts()
	if err != nil {
		return err
	}
	if err := store.Restore(ctx, language); err != nil {
		c.log.Warn().Err(err).Str("language", language).Msg("restore answers for language")
	}
	c.mu.Lock()
	c.language = language
	c.mu.Unlock()
	c.publish(domain.EventLanguage, map[string]string{"language": language})
	c.publishQuestion()
	return nil
}

// Judge

// RunCode executes the current answer with input. The result arrives as an EventJudge; a later run
// or CancelRun supersedes it.
func (c *Controller) RunCode(ctx context.Context, input string) (uint64, error) {
	return c.startRun(input, false)
}

// RunTests executes the current answer against every example of the current problem.
func (c *Controller) RunTests(ctx context.Context) (uint64, error) {
	return c.startRun("", true)
}

func (c *Controller) startRun(input string, tests bool) (uint64, error) {
	if c.cfg.Type != domain.AssessmentCoding {
		return 0, domain.ErrWrongAssessmentType
	}
	store, index, language, err := c.activeParts()
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	runner := c.runner
	c.mu.Unlock()
	if runner == nil || index >= len(c.cfg.Questions) {
		return 0, domain.ErrInvalidTransition
	}

	q := c.cfg.Questions[index]
	req := domain.JudgeRequest{Language: language, Code: store.Value(q.ID, language), Input: input, Timeout: c.cfg.JudgeTimeout}
	var call *judge.Call
	if tests {
		call = runner.StartTests(c.ctx, q.ID, req, q.Examples)
	} else {
		call = runner.Start(c.ctx, req)
	}
	c.publish(domain.EventJudge, domain.JudgeResult{Token: call.Token, Outcome: domain.JudgeRunning})

	go call.DoApply(func(res domain.JudgeResult) {
		if res.Report != nil {
			c.mu.Lock()
			c.reports[res.Report.QuestionID] = *res.Report
			c.mu.Unlock()
		}
		c.publish(domain.EventJudge, res)
	})
	return call.Token, nil
}

// CancelRun settles the outstanding run as canceled. It reports false when nothing was running.
func (c *Controller) CancelRun() (domain.JudgeResult, bool) {
	c.mu.Lock()
	runner := c.runner
	c.mu.Unlock()
	if runner == nil {
		return domain.JudgeResult{}, false
	}
	res, ok := runner.Cancel()
	if ok {
		c.publish(domain.EventJudge, res)
	}
	return res, ok
}

// Voice

func (c *Controller) voiceHooks() voice.Hooks {
	return voice.Hooks{
		OnSpeakStart: func(questionID, utteranceID, text string) {
			c.publish(domain.EventSpeak, map[string]string{"questionId": questionID, "utteranceId": utteranceID, "text": text})
		},
		OnListenStart: func(questionID string) {
			c.mu.Lock()
			question := c.question
			current := c.questionFor < len(c.cfg.Questions) && c.cfg.Questions[c.questionFor].ID == questionID
			c.mu.Unlock()
			if current && question != nil && !question.Running() && !question.Expired() {
				question.Start()
			}
			c.publish(domain.EventListen, map[string]string{"questionId": questionID})
		},
		OnPreview: func(questionID, text string) {
			c.publish(domain.EventPreview, map[string]string{"questionId": questionID, "text": text})
		},
		OnCommit: func(questionID, transcript string) {
			c.mu.Lock()
			store := c.store
			c.mu.Unlock()
			if store != nil {
				store.Set(questionID, answers.DefaultLanguage, transcript)
			}
			c.publish(domain.EventTranscript, domain.Answer{QuestionID: questionID, Value: transcript})
		},
	}
}

func (c *Controller) voiceOrchestrator() (*voice.Orchestrator, error) {
	if c.cfg.Type != domain.AssessmentInterview {
		return nil, domain.ErrWrongAssessmentType
	}
	if _, _, _, err := c.activeParts(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.voice, nil
}

// StartListening resumes recognition on the current question. It is refused while speaking.
func (c *Controller) StartListening(ctx context.Context) error {
	orch, err := c.voiceOrchestrator()
	if err != nil {
		return err
	}
	return orch.Listen(c.ctx)
}

// SubmitSpokenAnswer commits the current transcript and moves on. On the last question it
// submits the session.
func (c *Controller) SubmitSpokenAnswer(ctx context.Context) error {
	orch, err := c.voiceOrchestrator()
	if err != nil {
		return err
	}
	orch.Finish(ctx)

	c.mu.Lock()
	idx := c.index
	c.mu.Unlock()
	if idx >= len(c.cfg.Questions)-1 {
		_, err := c.Submit(ctx)
		return err
	}
	return c.JumpTo(ctx, idx+1)
}

// OnSpeakEnd forwards the UI's end-of-utterance callback.
func (c *Controller) OnSpeakEnd(ctx context.Context, utteranceID string) {
	if orch, err := c.voiceOrchestrator(); err == nil {
		orch.OnSpeakEnd(c.ctx, utteranceID)
	}
}

func (c *Controller) OnRecognitionResult(listenID, text string, final bool) {
	if orch, err := c.voiceOrchestrator(); err == nil {
		orch.OnRecognitionResult(listenID, text, final)
	}
}

func (c *Controller) OnRecognitionEnd(ctx context.Context, listenID string) {
	if orch, err := c.voiceOrchestrator(); err == nil {
		orch.OnRecognitionEnd(c.ctx, listenID)
	}
}

// Scoring

func (c *Controller) buildSubmission(reason domain.SubmitReason) domain.Submission {
	c.mu.Lock()
	store, global, language, startedAt, violations := c.store, c.global, c.language, c.startedAt, c.violations
	reports := make(map[string]domain.TestReport, len(c.reports))
	for k, v := range c.reports {
		reports[k] = v
	}
	c.mu.Unlock()

	sub := domain.Submission{
		SessionID:      c.cfg.SessionID,
		CandidateID:    c.cfg.CandidateID,
		Type:           c.cfg.Type,
		Technologies:   c.technologies(),
		Difficulty:     c.cfg.Difficulty,
		TotalQuestions: len(c.cfg.Questions),
		Violations:     violations,
		Reason:         reason,
		CompletedAt:    c.deps.Clock.Now(),
	}

	languages := c.knownLanguages()
	for _, q := range c.cfg.Questions {
		rec := domain.SubmittedQuestion{Question: q.Text(), Technology: orDefault(q.Technology, sub.Technologies[0])}
		switch c.cfg.Type {
		case domain.AssessmentMCQ:
			value, _ := store.Get(q.ID, answers.DefaultLanguage)
			picked, ok := domain.ParseSelection(value)
			if ok {
				rec.UserAnswer = picked
			}
			if q.CorrectIndex != nil {
				rec.CorrectAnswer = *q.CorrectIndex
				correct := ok && picked == *q.CorrectIndex
				rec.IsCorrect = &correct
				if correct {
					sub.Score++
				}
			}
		case domain.AssessmentCoding:
			code, done := c.codingAnswer(store, q, language, languages)
			rec.UserAnswer = code
			if c.cfg.Scoring == ScoreTests {
				report, ran := reports[q.ID]
				passed := ran && report.AllPassed()
				rec.IsCorrect = &passed
				if passed {
					sub.Score++
				}
			} else if done {
				sub.Score++
			}
		default:
			transcript, _ := store.Get(q.ID, answers.DefaultLanguage)
			rec.UserAnswer = transcript
			if strings.TrimSpace(transcript) != "" {
				sub.Score++
			}
		}
		sub.Questions = append(sub.Questions, rec)
	}

	sub.TimeSpent = c.timeSpent(global, startedAt, sub.CompletedAt)
	sub.Feedback = c.feedback(sub)
	return sub
}

// codingAnswer prefers the current language, then any other language holding a real edit.
func (c *Controller) codingAnswer(store *answers.Store, q domain.Question, current string, languages []string) (string, bool) {
	order := append([]string{current}, languages...)
	for _, lang := range order {
		v, ok := store.Get(q.ID, lang)
		if ok && strings.TrimSpace(v) != "" && v != c.placeholder(q.ID, lang) {
			return v, true
		}
	}
	return "", false
}

// timeSpent is reported in whole minutes.
func (c *Controller) timeSpent(global *timer.Countdown, startedAt, now time.Time) int {
	var seconds float64
	if global != nil && c.cfg.TimeBudget > 0 {
		seconds = c.cfg.TimeBudget.Seconds() - float64(global.Remaining())
	} else if !startedAt.IsZero() {
		seconds = now.Sub(startedAt).Seconds()
	}
	return int(math.Max(0, math.Round(seconds/60)))
}

func (c *Controller) technologies() []string {
	if len(c.cfg.Technologies) > 0 {
		return c.cfg.Technologies
	}
	seen := map[string]bool{}
	var out []string
	for _, q := range c.cfg.Questions {
		if q.Technology != "" && !seen[q.Technology] {
			seen[q.Technology] = true
			out = append(out, q.Technology)
		}
	}
	if len(out) == 0 {
		return []string{"General"}
	}
	return out
}

func (c *Controller) feedback(sub domain.Submission) string {
	if sub.TotalQuestions == 0 {
		return "No questions were presented in this session."
	}
	switch c.cfg.Type {
	case domain.AssessmentMCQ:
		return fmt.Sprintf("You answered %d of %d questions correctly (%d%%).", sub.Score, sub.TotalQuestions, sub.Percentage())
	case domain.AssessmentCoding:
		if c.cfg.Scoring == ScoreTests {
			return fmt.Sprintf("%d of %d problems passed every example.", sub.Score, sub.TotalQuestions)
		}
		return fmt.Sprintf("You attempted %d of %d problems.", sub.Score, sub.TotalQuestions)
	}
	return fmt.Sprintf("You responded to %d of %d questions.", sub.Score, sub.TotalQuestions)
}
