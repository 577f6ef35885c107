package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"proctor-engine/internal/answers"
	"proctor-engine/internal/config"
	"proctor-engine/internal/domain"
	"proctor-engine/internal/judge"
	"proctor-engine/internal/lockdown"
	"proctor-engine/internal/metrics"
	"proctor-engine/internal/timer"
	"proctor-engine/internal/voice"
)

// KV is the durable per-key storage used for timer, answers and session identifiers.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
}

// MediaCapture gates the session on camera/microphone access. Request returns
// domain.ErrPermissionDenied when the candidate refuses.
type MediaCapture interface {
	Request(ctx context.Context, video, audio bool) error
	Release(ctx context.Context) error
}

// HistoryRecorder persists a finished submission. Failures never block completion.
type HistoryRecorder interface {
	Save(ctx context.Context, sub domain.Submission) error
}

// ScoringMode selects how coding sessions are scored.
type ScoringMode string

const (
	// ScoreCompletion counts edited, non-empty answers.
	ScoreCompletion ScoringMode = "completion"
	// ScoreTests counts problems whose latest test run passed every example.
	ScoreTests ScoringMode = "tests"
)

const (
	DefaultQuestionLimit  = 120 * time.Second
	DefaultAckDuration    = 3 * time.Second
	DefaultHistoryTimeout = 10 * time.Second
	DefaultLanguage       = "javascript"
)

// SessionConfig describes one assessment run.
type SessionConfig struct {
	SessionID    string
	CandidateID  string
	Scope        string
	Type         domain.AssessmentType
	Technologies []string
	Difficulty   string
	Questions    []domain.Question
	// TimeBudget is the global limit. Zero means untimed.
	TimeBudget     time.Duration
	QuestionLimit  time.Duration
	Language       string
	Languages      []string
	Scoring        ScoringMode
	AckDuration    time.Duration
	JudgeTimeout   time.Duration
	HistoryTimeout time.Duration
}

// Deps are the collaborators of a Controller. Media, Synth, Recognizer, Judge and History may be nil.
type Deps struct {
	Clock      timer.Clock
	KV         KV
	Keys       config.Keys
	Lockdown   *lockdown.Monitor
	Media      MediaCapture
	Synth      voice.Synthesizer
	Recognizer voice.Recognizer
	Judge      judge.Executor
	History    HistoryRecorder
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics
}

// Controller owns the lifecycle of one session:
// Configuring -> PermissionsPending -> Active -> Submitting -> Completed.
// Collaborators are never called while mu is held.
type Controller struct {
	cfg    SessionConfig
	deps   Deps
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	// navMu serializes question changes and submission side effects.
	navMu sync.Mutex

	mu           sync.Mutex
	status       domain.Status
	hasSubmitted bool
	closed       bool
	index        int
	language     string
	startedAt    time.Time
	violations   int
	mediaDenied  bool
	questionFor  int
	reports      map[string]domain.TestReport
	submission   *domain.Submission
	global       *timer.Countdown
	question     *timer.Countdown
	store        *answers.Store
	runner       *judge.Runner
	voice        *voice.Orchestrator
	teardown     *teardown
	// starting tracks a Start in flight so Close can wait for it to back out.
	starting sync.WaitGroup

	subMu       sync.Mutex
	subscribers map[chan domain.Event]struct{}

	done     chan struct{}
	doneOnce sync.Once
}

func NewController(cfg SessionConfig, deps Deps) (*Controller, error) {
	if !cfg.Type.Valid() {
		return nil, fmt.Errorf("new controller: %w", domain.ErrUnknownAssessmentType)
	}
	if deps.KV == nil || deps.Lockdown == nil {
		return nil, errors.New("new controller: kv and lockdown are required")
	}
	if deps.Clock == nil {
		deps.Clock = timer.RealClock{}
	}
	if cfg.QuestionLimit <= 0 {
		cfg.QuestionLimit = DefaultQuestionLimit
	}
	if cfg.AckDuration <= 0 {
		cfg.AckDuration = DefaultAckDuration
	}
	if cfg.HistoryTimeout <= 0 {
		cfg.HistoryTimeout = DefaultHistoryTimeout
	}
	if cfg.Scoring == "" {
		cfg.Scoring = ScoreCompletion
	}
	if cfg.Scope == "" {
		cfg.Scope = deps.Keys.Scope(cfg.CandidateID, string(cfg.Type))
	}

	language := answers.DefaultLanguage
	if cfg.Type == domain.AssessmentCoding {
		language = cfg.Language
		if language == "" && len(cfg.Languages) > 0 {
			language = cfg.Languages[0]
		}
		if language == "" {
			language = DefaultLanguage
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		cfg:    cfg,
		deps:   deps,
		ctx:    ctx,
		cancel: cancel,
		log: deps.Logger.With().
			Str("component", "session").
			Str("session", cfg.SessionID).
			Str("type", string(cfg.Type)).
			Logger(),
		status:      domain.StatusConfiguring,
		language:    language,
		reports:     make(map[string]domain.TestReport),
		subscribers: make(map[chan domain.Event]struct{}),
		done:        make(chan struct{}),
	}, nil
}

func (c *Controller) ID() string                  { return c.cfg.SessionID }
func (c *Controller) Type() domain.AssessmentType { return c.cfg.Type }
func (c *Controller) CandidateID() string         { return c.cfg.CandidateID }

// Done is closed once the session completed and its acknowledgment elapsed, or it was closed.
func (c *Controller) Done() <-chan struct{} { return c.done }

func (c *Controller) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Submission returns the produced submission once Completed.
func (c *Controller) Submission() (domain.Submission, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.submission == nil {
		return domain.Submission{}, false
	}
	return *c.submission, true
}

// Start requests media permissions where the type needs them and enters Active. Permission
// denial degrades the session; missing speech recognition refuses an interview start and
// returns the session to Configuring.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed || c.status != domain.StatusConfiguring {
		c.mu.Unlock()
		return domain.ErrInvalidTransition
	}
	c.status = domain.StatusPermissionsPending
	c.starting.Add(1)
	c.mu.Unlock()
	defer c.starting.Done()
	c.publishStatus(domain.StatusPermissionsPending)

	// Close cancels c.ctx; a prompt still pending then is abandoned.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	td := &teardown{}
	media := c.deps.Media
	if c.cfg.Type.NeedsMedia() && media != nil {
		err := media.Request(ctx, true, c.cfg.Type == domain.AssessmentInterview)
		if c.ctx.Err() != nil {
			// An abandoned prompt holds nothing; a grant that raced Close is given back.
			if err == nil {
				td.push("media", media.Release)
			}
			return c.abortStart(td, domain.ErrInvalidTransition)
		}
		if err != nil {
			c.log.Warn().Err(err).Msg("media permission not granted, continuing degraded")
			c.mu.Lock()
			c.mediaDenied = true
			c.mu.Unlock()
			c.publish(domain.EventWarning, domain.NoticePayload{
				Code:    "media_denied",
				Message: "Camera or microphone access was not granted. The session continues without it.",
			})
		} else {
			td.push("media", media.Release)
		}
	}

	if c.cfg.Type == domain.AssessmentInterview && (c.deps.Recognizer == nil || !c.deps.Recognizer.Available()) {
		c.publish(domain.EventNotice, domain.NoticePayload{
			Code:    "recognition_unavailable",
			Message: "Speech recognition is not available. The interview needs it to record answers.",
		})
		return c.abortStart(td, domain.ErrRecognitionUnavailable)
	}

	return c.activate(ctx, td)
}

func (c *Controller) abortStart(td *teardown, err error) error {
	td.run(context.Background(), c.log)
	c.mu.Lock()
	c.status = domain.StatusConfiguring
	c.mu.Unlock()
	c.publishStatus(domain.StatusConfiguring)
	return err
}

// activate is the single synchronization point into Active. Every resource acquired here is
// registered on the teardown stack before the next one is acquired.
func (c *Controller) activate(ctx context.Context, td *teardown) error {
	token, err := c.deps.Lockdown.Acquire(c.cfg.SessionID)
	if err != nil {
		return c.abortStart(td, err)
	}
	td.push("lockdown", token.Release)
	token.OnViolation(c.onViolation)

	store := answers.NewStore(c.deps.KV,
		func(lang string) string { return c.deps.Keys.Answers(c.cfg.Scope, lang) },
		answers.WithPlaceholder(c.placeholder),
		answers.WithLogger(c.log),
		answers.WithMetrics(c.deps.Metrics),
	)
	td.push("answers", store.Close)
	if err := store.Restore(ctx, c.restoreLanguages()...); err != nil {
		c.log.Warn().Err(err).Msg("restore answers")
	}

	if err := token.Enable(ctx); err != nil {
		return c.abortStart(td, err)
	}

	var runner *judge.Runner
	if c.cfg.Type == domain.AssessmentCoding && c.deps.Judge != nil {
		runner = judge.NewRunner(c.deps.Judge, c.cfg.JudgeTimeout, c.log, c.deps.Metrics)
		td.push("judge", func(context.Context) error { runner.Close(); return nil })
	}

	var orch *voice.Orchestrator
	var question *timer.Countdown
	if c.cfg.Type == domain.AssessmentInterview {
		orch = voice.NewOrchestrator(c.deps.Synth, c.deps.Recognizer, c.voiceHooks(), c.log)
		td.push("voice", func(ctx context.Context) error { orch.Finish(ctx); return nil })
		question = timer.NewCountdown(timer.ScopeQuestion, c.limitSeconds(0),
			timer.WithClock(c.deps.Clock),
			timer.OnTick(func(n int) { c.guard(func() { c.onQuestionTick(n) }) }),
			timer.OnExpire(func() { c.guard(c.onQuestionExpire) }),
		)
		td.push("question_timer", func(context.Context) error { question.Pause(); return nil })
	}

	var global *timer.Countdown
	if c.cfg.TimeBudget > 0 {
		global = timer.NewCountdown(timer.ScopeGlobal, c.restoreRemaining(ctx),
			timer.WithClock(c.deps.Clock),
			timer.OnTick(func(n int) { c.guard(func() { c.onGlobalTick(n) }) }),
			timer.OnExpire(func() { c.guard(c.onGlobalExpire) }),
		)
		td.push("global_timer", func(context.Context) error { global.Pause(); return nil })
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return c.abortStart(td, domain.ErrInvalidTransition)
	}
	c.status = domain.StatusActive
	c.startedAt = c.deps.Clock.Now()
	c.index = 0
	c.store = store
	c.runner = runner
	c.voice = orch
	c.question = question
	c.global = global
	c.teardown = td
	c.mu.Unlock()

	c.deps.Metrics.SessionStarted(string(c.cfg.Type))
	td.push("metrics", func(context.Context) error { c.deps.Metrics.SessionEnded(); return nil })
	c.rememberSessionID(ctx)
	c.log.Info().Int("questions", len(c.cfg.Questions)).Msg("session active")

	c.publishStatus(domain.StatusActive)
	c.publishQuestion()

	if orch != nil && len(c.cfg.Questions) > 0 {
		c.navMu.Lock()
		c.beginSpoken(0)
		c.navMu.Unlock()
	}
	// Last: a restored countdown with nothing left submits right here.
	if global != nil {
		global.Start()
	}
	return nil
}

// Submit finalizes the session on candidate request.
func (c *Controller) Submit(ctx context.Context) (domain.Submission, error) {
	return c.submit(ctx, domain.SubmitManual)
}

// submit runs Active -> Submitting -> Completed. The first trigger wins; every later trigger gets
// ErrAlreadySubmitted and has no effect.
func (c *Controller) submit(ctx context.Context, reason domain.SubmitReason) (domain.Submission, error) {
	c.mu.Lock()
	if c.hasSubmitted {
		c.mu.Unlock()
		return domain.Submission{}, domain.ErrAlreadySubmitted
	}
	if c.closed || c.status != domain.StatusActive {
		c.mu.Unlock()
		return domain.Submission{}, domain.ErrInvalidTransition
	}
	c.hasSubmitted = true
	c.status = domain.StatusSubmitting
	global, question, orch, runner, store, td := c.global, c.question, c.voice, c.runner, c.store, c.teardown
	c.mu.Unlock()
	c.publishStatus(domain.StatusSubmitting)

	c.navMu.Lock()
	defer c.navMu.Unlock()

	if global != nil {
		global.Pause()
	}
	if question != nil {
		question.Pause()
	}
	if orch != nil {
		orch.Finish(ctx)
	}
	if runner != nil {
		runner.Close()
	}
	if err := store.Flush(ctx); err != nil {
		c.log.Warn().Err(err).Msg("flush answers before submission")
	}

	sub := c.buildSubmission(reason)
	c.saveHistory(sub)

	td.run(ctx, c.log)
	c.clearPersisted()

	c.mu.Lock()
	c.status = domain.StatusCompleted
	c.submission = &sub
	c.mu.Unlock()

	c.deps.Metrics.SessionCompleted(string(c.cfg.Type), string(reason))
	c.log.Info().Int("score", sub.Score).Int("total", sub.TotalQuestions).Str("reason", string(reason)).Msg("session submitted")

	c.publishStatus(domain.StatusCompleted)
	c.publish(domain.EventSubmitted, domain.SubmittedPayload{Submission: sub, AckMillis: c.cfg.AckDuration.Milliseconds()})
	c.deps.Clock.AfterFunc(c.cfg.AckDuration, c.finish)
	return sub, nil
}

func (c *Controller) saveHistory(sub domain.Submission) {
	if c.deps.History == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HistoryTimeout)
	defer cancel()
	if err := c.deps.History.Save(ctx, sub); err != nil {
		c.deps.Metrics.PersistFailed("history")
		c.log.Warn().Err(err).Msg("save submission history")
	}
}

// Close tears the session down from any state, as when the candidate's UI goes away. Persisted
// timer and answers are kept so a reload resumes.
func (c *Controller) Close(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.starting.Wait()

	c.mu.Lock()
	td := c.teardown
	c.mu.Unlock()
	if td != nil {
		td.run(ctx, c.log)
	}
	c.publish(domain.EventClosed, nil)
	c.finish()
}

// Abort leaves Active after an unexpected fault. Teardown runs before the fault is reported and
// the session returns to Configuring so the candidate can retry or exit.
func (c *Controller) Abort(ctx context.Context, fault error) {
	c.mu.Lock()
	if c.closed || c.hasSubmitted || c.status != domain.StatusActive {
		c.mu.Unlock()
		return
	}
	td := c.teardown
	c.teardown = nil
	c.status = domain.StatusConfiguring
	c.store, c.runner, c.voice, c.global, c.question = nil, nil, nil, nil, nil
	c.mu.Unlock()

	if td != nil {
		td.run(ctx, c.log)
	}
	c.log.Error().Err(fault).Msg("session aborted")
	c.publishStatus(domain.StatusConfiguring)
	c.publish(domain.EventNotice, domain.NoticePayload{Code: "session_error", Message: fault.Error()})
}

// guard runs a timer callback and turns a panic in it into an Abort.
func (c *Controller) guard(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.Abort(context.Background(), fmt.Errorf("session fault: %v", r))
		}
	}()
	fn()
}

func (c *Controller) finish() {
	c.doneOnce.Do(func() {
		c.cancel()
		close(c.done)
	})
}

// Timers

func (c *Controller) restoreRemaining(ctx context.Context) int {
	budget := int(c.cfg.TimeBudget / time.Second)
	raw, ok, err := c.deps.KV.Get(ctx, c.deps.Keys.TimerRemaining(c.cfg.Scope))
	if err != nil {
		c.log.Warn().Err(err).Msg("restore timer")
		return budget
	}
	if !ok {
		return budget
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 || n > budget {
		return budget
	}
	return n
}

func (c *Controller) onGlobalTick(remaining int) {
	c.mu.Lock()
	active := c.status == domain.StatusActive && !c.closed
	c.mu.Unlock()
	if !active {
		return
	}
	ctx, cancel := context.WithTimeout(c.ctx, time.Second)
	defer cancel()
	if err := c.deps.KV.Set(ctx, c.deps.Keys.TimerRemaining(c.cfg.Scope), strconv.Itoa(remaining)); err != nil {
		c.deps.Metrics.PersistFailed("timer")
		c.log.Warn().Err(err).Msg("persist timer")
	}
	c.publish(domain.EventTick, domain.TickPayload{Remaining: remaining})
}

func (c *Controller) onGlobalExpire() {
	if _, err := c.submit(c.ctx, domain.SubmitGlobalTimeout); err != nil && !errors.Is(err, domain.ErrAlreadySubmitted) {
		c.log.Debug().Err(err).Msg("global expiry ignored")
	}
}

func (c *Controller) onQuestionTick(remaining int) {
	c.publish(domain.EventQuestionTick, domain.TickPayload{Remaining: remaining})
}

// onQuestionExpire advances past the question whose timer ran out, or submits on the last one.
func (c *Controller) onQuestionExpire() {
	c.mu.Lock()
	idx := c.questionFor
	current := c.status == domain.StatusActive && !c.hasSubmitted && !c.closed && idx == c.index
	last := idx == len(c.cfg.Questions)-1
	c.mu.Unlock()
	if !current {
		return
	}
	if last {
		if _, err := c.submit(c.ctx, domain.SubmitQuestionTimer); err != nil && !errors.Is(err, domain.ErrAlreadySubmitted) {
			c.log.Debug().Err(err).Msg("question expiry submit ignored")
		}
		return
	}
	if err := c.JumpTo(c.ctx, idx+1); err != nil {
		c.log.Debug().Err(err).Msg("question expiry advance ignored")
	}
}

func (c *Controller) limitSeconds(idx int) int {
	limit := int(c.cfg.QuestionLimit / time.Second)
	if idx >= 0 && idx < len(c.cfg.Questions) && c.cfg.Questions[idx].TimeLimitSeconds > 0 {
		limit = c.cfg.Questions[idx].TimeLimitSeconds
	}
	if limit < 1 {
		limit = 1
	}
	return limit
}

// Persistence helpers

func (c *Controller) restoreLanguages() []string {
	if c.cfg.Type != domain.AssessmentCoding {
		return []string{answers.DefaultLanguage}
	}
	return c.knownLanguages()
}

func (c *Controller) knownLanguages() []string {
	seen := map[string]bool{}
	var out []string
	add := func(lang string) {
		if lang != "" && !seen[lang] {
			seen[lang] = true
			out = append(out, lang)
		}
	}
	c.mu.Lock()
	add(c.language)
	c.mu.Unlock()
	for _, lang := range c.cfg.Languages {
		add(lang)
	}
	for _, q := range c.cfg.Questions {
		for lang := range q.StarterCode {
			add(lang)
		}
	}
	return out
}

// rememberSessionID keeps the session identifier next to the scope so a reload reattaches.
func (c *Controller) rememberSessionID(ctx context.Context) {
	if err := c.deps.KV.Set(ctx, c.deps.Keys.SessionID(c.cfg.Scope), c.cfg.SessionID); err != nil {
		c.log.Warn().Err(err).Msg("persist session id")
	}
}

func (c *Controller) clearPersisted() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	keys := []string{c.deps.Keys.TimerRemaining(c.cfg.Scope), c.deps.Keys.SessionID(c.cfg.Scope)}
	for _, lang := range c.restoreLanguages() {
		keys = append(keys, c.deps.Keys.Answers(c.cfg.Scope, lang))
	}
	if err := c.deps.KV.Delete(ctx, keys...); err != nil {
		c.log.Warn().Err(err).Msg("clear persisted session state")
	}
}

// Events

// Subscribe returns a channel of session events. The caller must invoke the returned cancel
// function to avoid leaks.
func (c *Controller) Subscribe() (<-chan domain.Event, func()) {
	ch := make(chan domain.Event, 64)

	c.subMu.Lock()
	c.subscribers[ch] = struct{}{}
	c.subMu.Unlock()

	ch <- domain.Event{Type: domain.EventStatus, Payload: domain.StatusPayload{Status: c.Status()}}

	cancel := func() {
		c.subMu.Lock()
		if _, ok := c.subscribers[ch]; ok {
			delete(c.subscribers, ch)
			close(ch)
		}
		c.subMu.Unlock()
	}
	return ch, cancel
}

func (c *Controller) publish(typ domain.EventType, payload any) {
	ev := domain.Event{Type: typ, Payload: payload}
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for ch := range c.subscribers {
		select {
		case ch <- ev:
		default:
			// Slow subscribers lose the oldest event rather than blocking the session.
			select {
			case <-ch:
			default:
			}
			ch <- ev
		}
	}
}

func (c *Controller) publishStatus(s domain.Status) {
	c.publish(domain.EventStatus, domain.StatusPayload{Status: s})
}

func (c *Controller) onViolation(v lockdown.Violation) {
	c.mu.Lock()
	c.violations++
	count := c.violations
	c.mu.Unlock()
	c.log.Info().Str("kind", v.Kind).Str("detail", v.Detail).Int("count", count).Msg("lockdown violation")
	c.publish(domain.EventViolation, map[string]any{"violation": v, "count": count})
}
