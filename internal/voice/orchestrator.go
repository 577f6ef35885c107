package voice

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"proctor-engine/internal/domain"
)

// State of the turn-taking protocol. Only one party holds the floor at a time.
type State string

const (
	Idle      State = "idle"
	Speaking  State = "speaking"
	Listening State = "listening"
)

// Synthesizer speaks a prompt and later reports the end through Orchestrator.OnSpeakEnd with the
// same utterance id.
type Synthesizer interface {
	Speak(ctx context.Context, utteranceID, text string) error
	CancelSpeech(ctx context.Context) error
}

// Recognizer captures the candidate's speech and reports results through
// Orchestrator.OnRecognitionResult and OnRecognitionEnd with the listen id it was started with.
type Recognizer interface {
	Available() bool
	StartListening(ctx context.Context, listenID string) error
	StopListening(ctx context.Context) error
}

// Hooks observe protocol transitions. They run outside the orchestrator lock.
type Hooks struct {
	OnSpeakStart  func(questionID, utteranceID, text string)
	OnSpeakEnd    func(questionID string)
	OnListenStart func(questionID string)
	OnPreview     func(questionID, text string)
	OnCommit      func(questionID, transcript string)
}

// Orchestrator drives Speak -> Listen for one question at a time. Callbacks carrying an utterance
// or listen id that is no longer current are ignored.
type Orchestrator struct {
	synth Synthesizer
	rec   Recognizer
	hooks Hooks
	log   zerolog.Logger

	mu         sync.Mutex
	state      State
	questionID string
	utterance  string
	listenID   string
	transcript string
	interim    string
}

func NewOrchestrator(synth Synthesizer, rec Recognizer, hooks Hooks, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		synth: synth,
		rec:   rec,
		hooks: hooks,
		log:   log.With().Str("component", "voice").Logger(),
		state: Idle,
	}
}

// Available reports whether a recognizer exists, which the interview flow cannot do without.
func (o *Orchestrator) Available() bool {
	return o.rec != nil && o.rec.Available()
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) QuestionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.questionID
}

// Transcript is the committed text of the current question.
func (o *Orchestrator) Transcript() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.transcript
}

// Begin moves the floor to a new question: anything in flight for the previous one is stopped,
// then the prompt is spoken. transcript seeds the running answer when a question is re-entered.
func (o *Orchestrator) Begin(ctx context.Context, questionID, prompt, transcript string) {
	o.mu.Lock()
	prev := o.state
	utterance := uuid.NewString()
	o.state = Speaking
	o.questionID = questionID
	o.utterance = utterance
	o.listenID = ""
	o.transcript = transcript
	o.interim = ""
	o.mu.Unlock()

	o.halt(ctx, prev)

	if o.hooks.OnSpeakStart != nil {
		o.hooks.OnSpeakStart(questionID, utterance, prompt)
	}
	if o.synth == nil {
		o.OnSpeakEnd(ctx, utterance)
		return
	}
	if err := o.synth.Speak(ctx, utterance, prompt); err != nil {
		if !errors.Is(err, domain.ErrSynthesisUnavailable) {
			o.log.Warn().Err(err).Str("question", questionID).Msg("speech synthesis failed")
		}
		o.OnSpeakEnd(ctx, utterance)
	}
}

// OnSpeakEnd releases the floor after the prompt and starts listening.
func (o *Orchestrator) OnSpeakEnd(ctx context.Context, utteranceID string) {
	o.mu.Lock()
	if o.state != Speaking || utteranceID != o.utterance {
		o.mu.Unlock()
		o.log.Debug().Str("utterance", utteranceID).Msg("ignoring stale speak end")
		return
	}
	o.state = Idle
	o.utterance = ""
	questionID := o.questionID
	o.mu.Unlock()

	if o.hooks.OnSpeakEnd != nil {
		o.hooks.OnSpeakEnd(questionID)
	}
	if err := o.Listen(ctx); err != nil {
		o.log.Warn().Err(err).Str("question", questionID).Msg("could not start listening")
	}
}

// Listen starts recognition. It is refused while the prompt is still being spoken.
func (o *Orchestrator) Listen(ctx context.Context) error {
	o.mu.Lock()
	switch o.state {
	case Speaking:
		o.mu.Unlock()
		return domain.ErrSpeaking
	case Listening:
		o.mu.Unlock()
		return nil
	}
	if o.questionID == "" {
		o.mu.Unlock()
		return domain.ErrQuestionNotFound
	}
	if !o.Available() {
		o.mu.Unlock()
		return domain.ErrRecognitionUnavailable
	}
	listenID := uuid.NewString()
	o.state = Listening
	o.listenID = listenID
	o.interim = ""
	questionID := o.questionID
	o.mu.Unlock()

	if o.hooks.OnListenStart != nil {
		o.hooks.OnListenStart(questionID)
	}
	if err := o.rec.StartListening(ctx, listenID); err != nil {
		o.mu.Lock()
		if o.listenID == listenID {
			o.state = Idle
			o.listenID = ""
		}
		o.mu.Unlock()
		return err
	}
	return nil
}

// OnRecognitionResult applies one recognizer result. Interim text is only previewed; final
// segments are appended to the running transcript separated by a single space.
func (o *Orchestrator) OnRecognitionResult(listenID, text string, final bool) {
	o.mu.Lock()
	if o.state != Listening || listenID != o.listenID {
		o.mu.Unlock()
		return
	}
	segment := strings.TrimSpace(text)
	questionID := o.questionID

	if !final {
		o.interim = segment
		preview := join(o.transcript, segment)
		o.mu.Unlock()
		if o.hooks.OnPreview != nil {
			o.hooks.OnPreview(questionID, preview)
		}
		return
	}

	o.interim = ""
	if segment == "" {
		o.mu.Unlock()
		return
	}
	o.transcript = join(o.transcript, segment)
	transcript := o.transcript
	o.mu.Unlock()

	if o.hooks.OnCommit != nil {
		o.hooks.OnCommit(questionID, transcript)
	}
}

// OnRecognitionEnd handles the recognizer stopping on its own. Interim text is kept and listening
// resumes; only the question timer or an explicit finish ends the turn.
func (o *Orchestrator) OnRecognitionEnd(ctx context.Context, listenID string) {
	o.mu.Lock()
	if o.state != Listening || listenID != o.listenID {
		o.mu.Unlock()
		return
	}
	committed := o.foldLocked()
	o.state = Idle
	o.listenID = ""
	questionID, transcript := o.questionID, o.transcript
	o.mu.Unlock()

	if committed && o.hooks.OnCommit != nil {
		o.hooks.OnCommit(questionID, transcript)
	}
	if err := o.Listen(ctx); err != nil {
		o.log.Warn().Err(err).Str("question", questionID).Msg("could not resume listening")
	}
}

// Finish ends the current turn: pending speech is canceled, listening stops and any interim text
// is folded into the transcript so nothing spoken is dropped. It returns the final transcript.
func (o *Orchestrator) Finish(ctx context.Context) (questionID, transcript string) {
	o.mu.Lock()
	prev := o.state
	committed := o.foldLocked()
	o.state = Idle
	o.utterance = ""
	o.listenID = ""
	questionID, transcript = o.questionID, o.transcript
	o.mu.Unlock()

	o.halt(ctx, prev)

	if committed && o.hooks.OnCommit != nil {
		o.hooks.OnCommit(questionID, transcript)
	}
	return questionID, transcript
}

func (o *Orchestrator) foldLocked() bool {
	if o.interim == "" {
		return false
	}
	o.transcript = join(o.transcript, o.interim)
	o.interim = ""
	return true
}

func (o *Orchestrator) halt(ctx context.Context, prev State) {
	switch prev {
	case Speaking:
		if o.synth != nil {
			if err := o.synth.CancelSpeech(ctx); err != nil {
				o.log.Debug().Err(err).Msg("cancel speech")
			}
		}
	case Listening:
		if o.rec != nil {
			if err := o.rec.StopListening(ctx); err != nil {
				o.log.Debug().Err(err).Msg("stop listening")
			}
		}
	}
}

func join(transcript, segment string) string {
	switch {
	case segment == "":
		return transcript
	case transcript == "":
		return segment
	}
	return transcript + " " + segment
}
