package http

import (
	"context"
	"errors"
	"sync"
	"time"

	"proctor-engine/internal/domain"
	"proctor-engine/internal/lockdown"
)

var errConnectionClosed = errors.New("connection closed")

// permissionTimeout bounds how long a permission prompt may stay unanswered.
const permissionTimeout = 60 * time.Second

// bridge drives the candidate's browser over one websocket connection. It is the lockdown
// surface, the speech synthesizer and recognizer, and the media capture of the sessions launched
// on that connection. Commands are written to the connection's send queue; the browser reports
// back through inbound messages.
type bridge struct {
	send   chan<- outboundMessage[any]
	closed <-chan struct{}
	// writerGone is closed when the connection writer stopped draining send.
	writerGone <-chan struct{}

	mu          sync.Mutex
	recognition bool
	synthesis   bool
	permission  chan bool
}

func newBridge(send chan<- outboundMessage[any], closed, writerGone <-chan struct{}, recognition, synthesis bool) *bridge {
	return &bridge{send: send, closed: closed, writerGone: writerGone, recognition: recognition, synthesis: synthesis}
}

func (b *bridge) push(ctx context.Context, typ string, payload any) error {
	select {
	case b.send <- outboundMessage[any]{Type: typ, Payload: payload}:
		return nil
	case <-b.closed:
		return errConnectionClosed
	case <-b.writerGone:
		return errConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *bridge) setCapabilities(recognition, synthesis bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recognition = recognition
	b.synthesis = synthesis
}

// Lockdown surface

type lockdownPayload struct {
	Restrictions     []lockdown.Restriction `json:"restrictions"`
	BlockedShortcuts []string               `json:"blockedShortcuts"`
	HideChrome       bool                   `json:"hideChrome"`
}

func (b *bridge) Install(ctx context.Context, p lockdown.Policy) error {
	payload := lockdownPayload{Restrictions: p.Restrictions, HideChrome: p.HideChrome}
	for _, s := range p.BlockedShortcuts {
		payload.BlockedShortcuts = append(payload.BlockedShortcuts, s.String())
	}
	return b.push(ctx, "lockdown", payload)
}

func (b *bridge) Uninstall(ctx context.Context) error {
	err := b.push(ctx, "unlock", struct{}{})
	if errors.Is(err, errConnectionClosed) {
		// The page that held the handlers is gone.
		return nil
	}
	return err
}

// Speech

func (b *bridge) Speak(ctx context.Context, utteranceID, text string) error {
	b.mu.Lock()
	enabled := b.synthesis
	b.mu.Unlock()
	if !enabled {
		return domain.ErrSynthesisUnavailable
	}
	return b.push(ctx, "speak", map[string]string{"utteranceId": utteranceID, "text": text})
}

func (b *bridge) CancelSpeech(ctx context.Context) error {
	return b.push(ctx, "cancelSpeech", struct{}{})
}

func (b *bridge) Available() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.recognition
}

func (b *bridge) StartListening(ctx context.Context, listenID string) error {
	return b.push(ctx, "startListening", map[string]string{"listenId": listenID})
}

func (b *bridge) StopListening(ctx context.Context) error {
	return b.push(ctx, "stopListening", struct{}{})
}

// Media capture

// Request prompts the browser for camera (and microphone) access and waits for the reply.
func (b *bridge) Request(ctx context.Context, video, audio bool) error {
	reply := make(chan bool, 1)
	b.mu.Lock()
	b.permission = reply
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		if b.permission == reply {
			b.permission = nil
		}
		b.mu.Unlock()
	}()

	if err := b.push(ctx, "requestMedia", map[string]bool{"video": video, "audio": audio}); err != nil {
		return err
	}

	timeout := time.NewTimer(permissionTimeout)
	defer timeout.Stop()
	select {
	case granted := <-reply:
		if !granted {
			return domain.ErrPermissionDenied
		}
		return nil
	case <-timeout.C:
		return domain.ErrPermissionDenied
	case <-b.closed:
		return errConnectionClosed
	case <-b.writerGone:
		return errConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// answerPermission delivers the browser's reply to a pending Request. It reports false when no
// prompt is outstanding.
func (b *bridge) answerPermission(granted bool) bool {
	b.mu.Lock()
	reply := b.permission
	b.permission = nil
	b.mu.Unlock()
	if reply == nil {
		return false
	}
	reply <- granted
	return true
}

func (b *bridge) Release(ctx context.Context) error {
	err := b.push(ctx, "releaseMedia", struct{}{})
	if errors.Is(err, errConnectionClosed) {
		return nil
	}
	return err
}
