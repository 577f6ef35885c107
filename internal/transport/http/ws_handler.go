package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"proctor-engine/internal/app"
	"proctor-engine/internal/domain"
	"proctor-engine/internal/lockdown"
	"proctor-engine/internal/logger"
	"proctor-engine/internal/metrics"
)

const (
	writeWait = 10 * time.Second
	// endTimeout bounds the teardown of a session whose connection went away.
	endTimeout = 15 * time.Second
)

var (
	errNoSession = errors.New("no active session")
	errInternal  = errors.New("internal error")
)

// WSConfig tunes the websocket endpoint.
type WSConfig struct {
	AllowedOrigins []string
	Policy         lockdown.Policy
	// RunsPerMinute caps judge runs per connection. Zero disables the cap.
	RunsPerMinute int
}

type WSHandler struct {
	service  *app.SessionService
	auth     Authenticator
	cfg      WSConfig
	upgrader websocket.Upgrader
	log      zerolog.Logger
	metrics  *metrics.Metrics
}

func NewWSHandler(service *app.SessionService, auth Authenticator, cfg WSConfig, log zerolog.Logger, m *metrics.Metrics) *WSHandler {
	if len(cfg.Policy.Restrictions) == 0 && len(cfg.Policy.BlockedShortcuts) == 0 {
		cfg.Policy = lockdown.DefaultPolicy()
	}
	h := &WSHandler{
		service: service,
		auth:    auth,
		cfg:     cfg,
		log:     logger.Component(log, "ws"),
		metrics: m,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// ServeWS upgrades the request and runs the candidate's sessions over the connection. The
// browser on the other end is the lockdown surface, the speech engine and the media source.
// When the query names a type, a session is launched right away.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	candidateID, err := h.auth.CandidateID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	q := r.URL.Query()
	initial, hasInitial := launchFromQuery(q)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	send := make(chan outboundMessage[any], 64)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})

	// The send queue is never closed: session teardown may still push commands from other
	// goroutines after the connection is gone. The writer stops on closeSignals instead.
	go func() {
		defer close(writerDone)
		for {
			select {
			case msg := <-send:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(msg); err != nil {
					h.log.Debug().Err(err).Msg("ws write error")
					_ = conn.Close()
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	b := newBridge(send, closeSignals, writerDone, boolParam(q, "recognition", false), boolParam(q, "synthesis", true))
	sc := &socket{
		h:           h,
		candidateID: candidateID,
		ctx:         ctx,
		bridge:      b,
		monitor:     lockdown.NewMonitor(b, h.cfg.Policy, h.log, h.metrics),
		limiter:     rate.NewLimiter(rate.Limit(30), 50),
		log:         h.log.With().Str("candidate", candidateID).Logger(),
	}
	if h.cfg.RunsPerMinute > 0 {
		sc.runs = rate.NewLimiter(rate.Every(time.Minute/time.Duration(h.cfg.RunsPerMinute)), h.cfg.RunsPerMinute)
	}

	if hasInitial {
		sc.goLaunch("launch", initial)
	}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		if !sc.limiter.Allow() {
			sc.fail(inbound.Type, errors.New("rate limited"))
			continue
		}
		sc.handle(inbound)
	}

	cancel()
	close(closeSignals)
	sc.shutdown()
	<-writerDone
}

// socket is the per-connection state of ServeWS.
type socket struct {
	h           *WSHandler
	candidateID string
	ctx         context.Context
	bridge      *bridge
	monitor     *lockdown.Monitor
	limiter     *rate.Limiter
	runs        *rate.Limiter
	log         zerolog.Logger

	tasks sync.WaitGroup

	mu          sync.Mutex
	ctrl        *app.Controller
	unsubscribe func()
	gone        bool
}

func (s *socket) push(typ string, payload any) {
	_ = s.bridge.push(s.ctx, typ, payload)
}

func (s *socket) fail(request string, err error) {
	s.push("error", errorPayload{Message: err.Error(), Request: request})
}

func (s *socket) current() (*app.Controller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctrl == nil {
		return nil, errNoSession
	}
	return s.ctrl, nil
}

// spawn runs fn off the read loop. Operations that wait on the browser (permission prompts,
// teardown) must not block inbound messages.
func (s *socket) spawn(request string, fn func() error) {
	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		defer s.recoverFault(request)
		if err := fn(); err != nil {
			s.fail(request, err)
		}
	}()
}

func (s *socket) handle(in inboundMessage) {
	defer s.recoverFault(in.Type)
	s.dispatch(in)
}

// recoverFault aborts the attached session when handling request panicked, so its lockdown and
// media are released before the candidate sees the error.
func (s *socket) recoverFault(request string) {
	r := recover()
	if r == nil {
		return
	}
	fault := fmt.Errorf("%s: %v", request, r)
	s.log.Error().Err(fault).Msg("ws handler panic")
	if c, err := s.current(); err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), endTimeout)
		defer cancel()
		c.Abort(ctx, fault)
	}
	s.fail(request, errInternal)
}

func (s *socket) goLaunch(request string, p launchPayload) {
	if p.Recognition != nil || p.Synthesis != nil {
		recognition, synthesis := s.bridge.Available(), true
		if p.Recognition != nil {
			recognition = *p.Recognition
		}
		if p.Synthesis != nil {
			synthesis = *p.Synthesis
		}
		s.bridge.setCapabilities(recognition, synthesis)
	}
	s.spawn(request, func() error {
		_, err := s.h.service.Launch(s.ctx, app.LaunchRequest{
			CandidateID:   s.candidateID,
			Type:          p.Type,
			Technology:    p.Technology,
			Difficulty:    p.Difficulty,
			Count:         p.Count,
			QuestionSetID: p.QuestionSetID,
			Language:      p.Language,
			Questions:     p.Questions,
			Lockdown:      s.monitor,
			Media:         s.bridge,
			Synth:         s.bridge,
			Recognizer:    s.bridge,
			OnCreated:     s.attach,
		})
		return err
	})
}

// attach makes c the connection's session and forwards its events to the browser.
func (s *socket) attach(c *app.Controller) {
	s.mu.Lock()
	if s.gone {
		s.mu.Unlock()
		s.end(c)
		return
	}
	events, unsubscribe := c.Subscribe()
	prev := s.unsubscribe
	s.ctrl = c
	s.unsubscribe = unsubscribe
	s.mu.Unlock()
	if prev != nil {
		prev()
	}

	s.push("launched", launchedPayload{SessionID: c.ID(), Type: c.Type()})

	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				if err := s.bridge.push(s.ctx, string(ev.Type), ev.Payload); err != nil {
					return
				}
			case <-s.bridge.closed:
				return
			}
		}
	}()
	c.Refresh()
}

// shutdown closes the connection's session. Persisted progress stays so a reconnect resumes it.
func (s *socket) shutdown() {
	s.mu.Lock()
	s.gone = true
	c := s.ctrl
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if c != nil {
		s.end(c)
	}
	s.tasks.Wait()
}

// end closes c unless the candidate already moved on to another session.
func (s *socket) end(c *app.Controller) {
	if active, ok := s.h.service.Active(s.candidateID); !ok || active != c {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), endTimeout)
	defer cancel()
	if err := s.h.service.End(ctx, c.ID()); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
		s.log.Warn().Err(err).Str("session", c.ID()).Msg("end session on disconnect")
	}
}

func (s *socket) dispatch(in inboundMessage) {
	switch in.Type {
	case "launch":
		var p launchPayload
		if err := json.Unmarshal(in.Payload, &p); err != nil {
			s.fail(in.Type, errors.New("invalid launch payload"))
			return
		}
		s.goLaunch(in.Type, p)
	case "permission":
		var p permissionPayload
		if err := json.Unmarshal(in.Payload, &p); err != nil {
			s.fail(in.Type, errors.New("invalid permission payload"))
			return
		}
		if !s.bridge.answerPermission(p.Granted) {
			s.fail(in.Type, errors.New("no permission request pending"))
		}
	case "violation":
		var p violationPayload
		if err := json.Unmarshal(in.Payload, &p); err != nil || p.Kind == "" {
			s.fail(in.Type, errors.New("invalid violation payload"))
			return
		}
		v, ok, err := s.classify(p)
		if err != nil {
			s.fail(in.Type, err)
			return
		}
		if ok {
			s.monitor.Report(v)
		}
	default:
		c, err := s.current()
		if err != nil {
			s.fail(in.Type, err)
			return
		}
		if err := s.session(c, in); err != nil {
			s.fail(in.Type, err)
		}
	}
}

// classify turns a browser report into a violation. Shortcut reports count only when the
// combination is one the policy blocks.
func (s *socket) classify(p violationPayload) (lockdown.Violation, bool, error) {
	if lockdown.Restriction(p.Kind) != lockdown.RestrictShortcuts && p.Kind != "shortcut" {
		return lockdown.Violation{Kind: p.Kind, Detail: p.Detail}, true, nil
	}
	combo, err := lockdown.ParseShortcut(p.Detail)
	if err != nil {
		return lockdown.Violation{}, false, fmt.Errorf("invalid shortcut: %w", err)
	}
	if !s.monitor.Policy().Blocks(combo) {
		return lockdown.Violation{}, false, nil
	}
	return lockdown.Violation{Kind: "shortcut", Detail: combo.String()}, true, nil
}

// session handles the messages addressed to the attached controller.
func (s *socket) session(c *app.Controller, in inboundMessage) error {
	switch in.Type {
	case "start":
		s.spawn(in.Type, func() error { return c.Start(s.ctx) })
	case "submit":
		s.spawn(in.Type, func() error {
			_, err := c.Submit(s.ctx)
			return err
		})
	case "submitSpoken":
		s.spawn(in.Type, func() error { return c.SubmitSpokenAnswer(s.ctx) })
	case "end":
		s.spawn(in.Type, func() error { return s.h.service.End(s.ctx, c.ID()) })
	case "answer":
		var p answerPayload
		if err := json.Unmarshal(in.Payload, &p); err != nil {
			return errors.New("invalid answer payload")
		}
		switch {
		case p.Option != nil:
			return c.SelectOption(s.ctx, p.QuestionID, *p.Option)
		case p.Code != nil:
			return c.EditCode(s.ctx, p.QuestionID, *p.Code)
		default:
			return errors.New("answer needs option or code")
		}
	case "navigate":
		var p navigatePayload
		if err := json.Unmarshal(in.Payload, &p); err != nil {
			return errors.New("invalid navigate payload")
		}
		if p.Index != nil {
			return c.JumpTo(s.ctx, *p.Index)
		}
		switch p.Direction {
		case "next":
			return c.Next(s.ctx)
		case "previous", "prev":
			return c.Previous(s.ctx)
		}
		return errors.New("navigate needs index or direction")
	case "language":
		var p languagePayload
		if err := json.Unmarshal(in.Payload, &p); err != nil {
			return errors.New("invalid language payload")
		}
		return c.SwitchLanguage(s.ctx, p.Language)
	case "run", "runTests":
		if s.runs != nil && !s.runs.Allow() {
			return errors.New("too many runs, try again shortly")
		}
		if in.Type == "runTests" {
			_, err := c.RunTests(s.ctx)
			return err
		}
		var p runPayload
		if len(in.Payload) > 0 {
			if err := json.Unmarshal(in.Payload, &p); err != nil {
				return errors.New("invalid run payload")
			}
		}
		_, err := c.RunCode(s.ctx, p.Input)
		return err
	case "cancelRun":
		if _, ok := c.CancelRun(); !ok {
			return errors.New("nothing is running")
		}
	case "listen":
		return c.StartListening(s.ctx)
	case "speakEnd":
		var p speakEndPayload
		if err := json.Unmarshal(in.Payload, &p); err != nil {
			return errors.New("invalid speakEnd payload")
		}
		c.OnSpeakEnd(s.ctx, p.UtteranceID)
	case "recognition":
		var p recognitionPayload
		if err := json.Unmarshal(in.Payload, &p); err != nil {
			return errors.New("invalid recognition payload")
		}
		c.OnRecognitionResult(p.ListenID, p.Text, p.Final)
	case "recognitionEnd":
		var p recognitionPayload
		if err := json.Unmarshal(in.Payload, &p); err != nil {
			return errors.New("invalid recognitionEnd payload")
		}
		c.OnRecognitionEnd(s.ctx, p.ListenID)
	case "snapshot":
		s.push("snapshot", c.Snapshot())
	default:
		return errors.New("unsupported message type")
	}
	return nil
}

func launchFromQuery(q url.Values) (launchPayload, bool) {
	typ := q.Get("type")
	if typ == "" {
		return launchPayload{}, false
	}
	p := launchPayload{
		Type:          domain.AssessmentType(typ),
		Technology:    q.Get("technology"),
		Difficulty:    q.Get("difficulty"),
		QuestionSetID: q.Get("questionSetId"),
		Language:      q.Get("language"),
	}
	if n, err := strconv.Atoi(q.Get("count")); err == nil {
		p.Count = n
	}
	return p, true
}

func boolParam(q url.Values, name string, def bool) bool {
	v, err := strconv.ParseBool(q.Get(name))
	if err != nil {
		return def
	}
	return v
}
