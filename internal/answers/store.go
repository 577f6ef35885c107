package answers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"proctor-engine/internal/metrics"
)

// DefaultLanguage is the slot used by assessment types without a language dimension.
const DefaultLanguage = "default"

// KV is durable string storage. Get reports false for missing keys.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
}

// KeyFunc maps a language to the durable slot of the session scope.
type KeyFunc func(language string) string

// Placeholder supplies the editor value for a question without a stored answer.
type Placeholder func(questionID, language string) string

// Store holds the answers of one session keyed by language then question. Mutations apply to
// memory synchronously; persistence runs on a background goroutine that coalesces bursts of
// edits into one write per language.
type Store struct {
	kv          KV
	key         KeyFunc
	placeholder Placeholder
	timeout     time.Duration
	log         zerolog.Logger
	metrics     *metrics.Metrics

	mu      sync.Mutex
	answers map[string]map[string]string
	dirty   map[string]struct{}
	closed  bool

	persistMu sync.Mutex
	wake      chan struct{}
	done      chan struct{}
	loopDone  chan struct{}
}

type Option func(*Store)

func WithPlaceholder(p Placeholder) Option {
	return func(s *Store) { s.placeholder = p }
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) { s.log = log.With().Str("component", "answers").Logger() }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithWriteTimeout bounds every persistence call.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func NewStore(kv KV, key KeyFunc, opts ...Option) *Store {
	s := &Store{
		kv:       kv,
		key:      key,
		timeout:  5 * time.Second,
		log:      zerolog.Nop(),
		answers:  make(map[string]map[string]string),
		dirty:    make(map[string]struct{}),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.loop()
	return s
}

func normalize(language string) string {
	if language == "" {
		return DefaultLanguage
	}
	return language
}

// Get returns the stored answer. The empty string is a valid stored answer.
func (s *Store) Get(questionID, language string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.answers[normalize(language)][questionID]
	return v, ok
}

// Value is the editor content: the stored answer or the placeholder for the language.
func (s *Store) Value(questionID, language string) string {
	if v, ok := s.Get(questionID, language); ok {
		return v
	}
	if s.placeholder != nil {
		return s.placeholder(questionID, normalize(language))
	}
	return ""
}

// Set overwrites the answer for (questionID, language) and schedules persistence.
func (s *Store) Set(questionID, language, value string) {
	language = normalize(language)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.log.Warn().Str("question", questionID).Msg("answer set after store closed")
		return
	}
	slot, ok := s.answers[language]
	if !ok {
		slot = make(map[string]string)
		s.answers[language] = slot
	}
	slot[questionID] = value
	s.dirty[language] = struct{}{}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Answers returns a copy of the answers of a language.
func (s *Store) Answers(language string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.answers[normalize(language)]))
	for k, v := range s.answers[normalize(language)] {
		out[k] = v
	}
	return out
}

// Languages lists the languages holding at least one answer.
func (s *Store) Languages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.answers))
	for lang := range s.answers {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}

// Restore loads the persisted slot of each language. Answers already edited in memory win.
func (s *Store) Restore(ctx context.Context, languages ...string) error {
	var errs []error
	for _, lang := range languages {
		lang = normalize(lang)
		raw, ok, err := s.kv.Get(ctx, s.key(lang))
		if err != nil {
			errs = append(errs, fmt.Errorf("restore answers %s: %w", lang, err))
			continue
		}
		if !ok {
			continue
		}
		persisted := map[string]string{}
		if err := json.Unmarshal([]byte(raw), &persisted); err != nil {
			errs = append(errs, fmt.Errorf("decode answers %s: %w", lang, err))
			continue
		}

		s.mu.Lock()
		slot, exists := s.answers[lang]
		if !exists {
			slot = make(map[string]string, len(persisted))
			s.answers[lang] = slot
		}
		for qid, v := range persisted {
			if _, edited := slot[qid]; !edited {
				slot[qid] = v
			}
		}
		s.mu.Unlock()
	}
	return errors.Join(errs...)
}

// Flush writes every pending language now.
func (s *Store) Flush(ctx context.Context) error {
	return s.persist(ctx)
}

// Clear drops the persisted slots of the given languages, used once a session is submitted.
func (s *Store) Clear(ctx context.Context, languages ...string) error {
	keys := make([]string, 0, len(languages))
	for _, lang := range languages {
		keys = append(keys, s.key(normalize(lang)))
	}
	if len(keys) == 0 {
		return nil
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	s.mu.Lock()
	for _, lang := range languages {
		delete(s.dirty, normalize(lang))
	}
	s.mu.Unlock()
	return s.kv.Delete(ctx, keys...)
}

// Close flushes pending writes and stops the persistence goroutine. Idempotent.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	<-s.loopDone
	return s.persist(ctx)
}

func (s *Store) loop() {
	defer close(s.loopDone)
	for {
		select {
		case <-s.wake:
			ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
			_ = s.persist(ctx)
			cancel()
		case <-s.done:
			return
		}
	}
}

// persist writes the dirty languages. Failures are logged and leave the answers usable from memory.
func (s *Store) persist(ctx context.Context) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	pending := make(map[string][]byte, len(s.dirty))
	for lang := range s.dirty {
		data, err := json.Marshal(s.answers[lang])
		if err != nil {
			continue
		}
		pending[lang] = data
	}
	s.dirty = make(map[string]struct{})
	s.mu.Unlock()

	var errs []error
	for lang, data := range pending {
		if err := s.kv.Set(ctx, s.key(lang), string(data)); err != nil {
			s.metrics.PersistFailed("answers")
			s.log.Warn().Err(err).Str("language", lang).Msg("persist answers failed")
			errs = append(errs, err)
			s.mu.Lock()
			s.dirty[lang] = struct{}{}
			s.mu.Unlock()
		}
	}
	return errors.Join(errs...)
}
