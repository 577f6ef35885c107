package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"proctor-engine/internal/config"
	"proctor-engine/internal/domain"
	"proctor-engine/internal/judge"
	"proctor-engine/internal/lockdown"
	"proctor-engine/internal/logger"
	"proctor-engine/internal/metrics"
	"proctor-engine/internal/timer"
	"proctor-engine/internal/voice"
)

// SessionRepository abstracts where live controllers are registered (in-memory, Redis-marked, etc).
type SessionRepository interface {
	Put(ctx context.Context, c *Controller)
	Get(ctx context.Context, id string) (*Controller, bool)
	Delete(ctx context.Context, id string)
}

// QuestionSetRepository loads stored question sets (from cache/backing store).
type QuestionSetRepository interface {
	GetQuestionSet(ctx context.Context, id string) (domain.QuestionSet, error)
}

// QuestionGenerator asks a remote service for fresh questions.
type QuestionGenerator interface {
	Generate(ctx context.Context, req domain.GenerateRequest) ([]RawQuestion, error)
}

// Recorders fans a submission out to several history sinks. Every sink is tried.
type Recorders []HistoryRecorder

func (r Recorders) Save(ctx context.Context, sub domain.Submission) error {
	var errs []error
	for _, rec := range r {
		if rec == nil {
			continue
		}
		if err := rec.Save(ctx, sub); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ServiceConfig carries per-type defaults applied to every launched session.
type ServiceConfig struct {
	Budgets        map[domain.AssessmentType]time.Duration
	QuestionLimit  time.Duration
	AckDuration    time.Duration
	Scoring        ScoringMode
	Languages      []string
	QuestionCount  int
	JudgeTimeout   time.Duration
	HistoryTimeout time.Duration
}

// DefaultBudgets are the global limits per assessment type.
var DefaultBudgets = map[domain.AssessmentType]time.Duration{
	domain.AssessmentMCQ:       30 * time.Minute,
	domain.AssessmentCoding:    60 * time.Minute,
	domain.AssessmentInterview: 45 * time.Minute,
}

// ServiceDeps are shared by every session the service launches.
type ServiceDeps struct {
	Sessions  SessionRepository
	Sets      QuestionSetRepository
	Generator QuestionGenerator
	KV        KV
	Keys      config.Keys
	Clock     timer.Clock
	Judge     judge.Executor
	History   HistoryRecorder
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
}

// LaunchRequest selects what to run for a candidate. Questions, when given, are used as-is and the
// session starts immediately; otherwise QuestionSetID or the generator supplies them.
type LaunchRequest struct {
	CandidateID   string                `json:"candidateId" validate:"required"`
	Type          domain.AssessmentType `json:"type" validate:"required,oneof=mcq coding interview"`
	Technology    string                `json:"technology"`
	Difficulty    string                `json:"difficulty" validate:"omitempty,oneof=easy medium hard Easy Medium Hard"`
	Count         int                   `json:"count" validate:"omitempty,min=1,max=50"`
	QuestionSetID string                `json:"questionSetId"`
	Language      string                `json:"language"`
	Questions     []domain.Question     `json:"questions,omitempty"`

	// Per-connection collaborators.
	Lockdown   *lockdown.Monitor `json:"-" validate:"required"`
	Media      MediaCapture      `json:"-"`
	Synth      voice.Synthesizer `json:"-"`
	Recognizer voice.Recognizer  `json:"-"`

	// OnCreated, when set, sees the controller before a prebuilt session starts.
	OnCreated func(*Controller) `json:"-"`
}

// SessionService launches sessions and keeps at most one live session per candidate. Switching
// modes closes the previous session, releasing lockdown and media, before the next one acquires.
type SessionService struct {
	cfg      ServiceConfig
	deps     ServiceDeps
	log      zerolog.Logger
	validate *validator.Validate

	mu     sync.Mutex
	launch map[string]*sync.Mutex
	active map[string]*Controller
}

func NewSessionService(cfg ServiceConfig, deps ServiceDeps) *SessionService {
	if cfg.Budgets == nil {
		cfg.Budgets = DefaultBudgets
	}
	if cfg.QuestionCount <= 0 {
		cfg.QuestionCount = 10
	}
	if deps.Clock == nil {
		deps.Clock = timer.RealClock{}
	}
	return &SessionService{
		cfg:      cfg,
		deps:     deps,
		log:      logger.Component(deps.Logger, "session_service"),
		validate: validator.New(),
		launch:   make(map[string]*sync.Mutex),
		active:   make(map[string]*Controller),
	}
}

// Launch prepares a session for req.CandidateID. Any session the candidate still owns is closed
// first.
func (s *SessionService) Launch(ctx context.Context, req LaunchRequest) (*Controller, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("launch: %w", err)
	}

	lock := s.candidateLock(req.CandidateID)
	lock.Lock()
	locked := true
	defer func() {
		if locked {
			lock.Unlock()
		}
	}()

	s.mu.Lock()
	prev := s.active[req.CandidateID]
	s.mu.Unlock()
	if prev != nil {
		s.log.Info().Str("candidate", req.CandidateID).Str("session", prev.ID()).Msg("closing previous session")
		s.end(ctx, prev)
	}

	questions, prebuilt, err := s.questions(ctx, req)
	if err != nil {
		return nil, err
	}

	scope := s.deps.Keys.Scope(req.CandidateID, string(req.Type))
	sessionCfg := SessionConfig{
		SessionID:      s.sessionID(ctx, scope),
		CandidateID:    req.CandidateID,
		Scope:          scope,
		Type:           req.Type,
		Difficulty:     req.Difficulty,
		Questions:      questions,
		TimeBudget:     s.cfg.Budgets[req.Type],
		QuestionLimit:  s.cfg.QuestionLimit,
		Language:       req.Language,
		Languages:      s.cfg.Languages,
		Scoring:        s.cfg.Scoring,
		AckDuration:    s.cfg.AckDuration,
		JudgeTimeout:   s.cfg.JudgeTimeout,
		HistoryTimeout: s.cfg.HistoryTimeout,
	}
	if req.Technology != "" {
		sessionCfg.Technologies = []string{req.Technology}
	}

	c, err := NewController(sessionCfg, Deps{
		Clock:      s.deps.Clock,
		KV:         s.deps.KV,
		Keys:       s.deps.Keys,
		Lockdown:   req.Lockdown,
		Media:      req.Media,
		Synth:      req.Synth,
		Recognizer: req.Recognizer,
		Judge:      s.deps.Judge,
		History:    s.deps.History,
		Logger:     s.deps.Logger,
		Metrics:    s.deps.Metrics,
	})
	if err != nil {
		return nil, err
	}

	s.deps.Sessions.Put(ctx, c)
	s.mu.Lock()
	s.active[req.CandidateID] = c
	s.mu.Unlock()
	go s.forgetWhenDone(c)

	s.log.Info().Str("candidate", req.CandidateID).Str("session", c.ID()).Str("type", string(req.Type)).
		Int("questions", len(questions)).Msg("session launched")

	if req.OnCreated != nil {
		req.OnCreated(c)
	}
	// A later Launch may close c while it waits on a permission prompt.
	lock.Unlock()
	locked = false
	if prebuilt {
		if err := c.Start(ctx); err != nil {
			return c, err
		}
	}
	return c, nil
}

// Get returns a live session by id.
func (s *SessionService) Get(ctx context.Context, id string) (*Controller, error) {
	c, ok := s.deps.Sessions.Get(ctx, id)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return c, nil
}

// Active returns the candidate's current session, if any.
func (s *SessionService) Active(candidateID string) (*Controller, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.active[candidateID]
	return c, ok
}

// End closes a session. Persisted timer and answers are kept for a later reload.
func (s *SessionService) End(ctx context.Context, id string) error {
	c, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	s.end(ctx, c)
	return nil
}

// Shutdown closes every live session.
func (s *SessionService) Shutdown(ctx context.Context) {
	s.mu.Lock()
	live := make([]*Controller, 0, len(s.active))
	for _, c := range s.active {
		live = append(live, c)
	}
	s.mu.Unlock()
	for _, c := range live {
		s.end(ctx, c)
	}
}

func (s *SessionService) end(ctx context.Context, c *Controller) {
	c.Close(ctx)
	s.forget(ctx, c)
}

func (s *SessionService) forgetWhenDone(c *Controller) {
	<-c.Done()
	s.forget(context.Background(), c)
}

// forget unregisters c. A reloaded session reuses its id, so only c's own entry is removed.
func (s *SessionService) forget(ctx context.Context, c *Controller) {
	if cur, ok := s.deps.Sessions.Get(ctx, c.ID()); ok && cur == c {
		s.deps.Sessions.Delete(ctx, c.ID())
	}
	s.mu.Lock()
	if s.active[c.cfg.CandidateID] == c {
		delete(s.active, c.cfg.CandidateID)
	}
	s.mu.Unlock()
}

func (s *SessionService) candidateLock(candidateID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.launch[candidateID]
	if !ok {
		l = &sync.Mutex{}
		s.launch[candidateID] = l
	}
	return l
}

// sessionID reuses the id persisted for scope so a reload reattaches to the same session.
func (s *SessionService) sessionID(ctx context.Context, scope string) string {
	if s.deps.KV != nil {
		id, ok, err := s.deps.KV.Get(ctx, s.deps.Keys.SessionID(scope))
		if err != nil {
			s.log.Warn().Err(err).Msg("read persisted session id")
		}
		if ok && id != "" {
			return id
		}
	}
	return uuid.NewString()
}

func (s *SessionService) questions(ctx context.Context, req LaunchRequest) ([]domain.Question, bool, error) {
	if len(req.Questions) > 0 {
		return req.Questions, true, nil
	}

	if req.QuestionSetID != "" {
		if s.deps.Sets == nil {
			return nil, false, domain.ErrQuestionSetNotFound
		}
		set, err := s.deps.Sets.GetQuestionSet(ctx, req.QuestionSetID)
		if err != nil {
			return nil, false, fmt.Errorf("load question set %s: %w", req.QuestionSetID, err)
		}
		if set.Type != "" && set.Type != req.Type {
			return nil, false, fmt.Errorf("question set %s is %s: %w", set.ID, set.Type, domain.ErrWrongAssessmentType)
		}
		return set.Questions, false, nil
	}

	count := req.Count
	if count <= 0 {
		count = s.cfg.QuestionCount
	}
	var raw []RawQuestion
	var genErr error
	if s.deps.Generator == nil {
		genErr = domain.ErrQuestionSetNotFound
	} else {
		raw, genErr = s.deps.Generator.Generate(ctx, domain.GenerateRequest{
			Type:       req.Type,
			Technology: req.Technology,
			Difficulty: req.Difficulty,
			Count:      count,
		})
	}

	switch req.Type {
	case domain.AssessmentCoding:
		var problems []domain.Question
		if genErr == nil {
			problems = NormalizeCoding(raw, req.Technology, req.Difficulty, req.Language)
		} else {
			s.log.Warn().Err(genErr).Msg("coding generation failed, using built-in problem")
		}
		if len(problems) == 0 {
			problems = []domain.Question{TwoSumProblem(req.Language)}
		}
		return problems, false, nil
	case domain.AssessmentInterview:
		if genErr != nil {
			return nil, false, fmt.Errorf("generate interview questions: %w", genErr)
		}
		limit := int(s.cfg.QuestionLimit / time.Second)
		if limit <= 0 {
			limit = int(DefaultQuestionLimit / time.Second)
		}
		return NormalizeInterview(raw, req.Technology, limit), false, nil
	default:
		if genErr != nil {
			return nil, false, fmt.Errorf("generate mcq questions: %w", genErr)
		}
		return NormalizeMCQ(raw, req.Technology, req.Difficulty), false, nil
	}
}
