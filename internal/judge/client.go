package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"proctor-engine/internal/domain"
)

// DefaultTimeout is the ceiling applied to an invocation that does not carry its own.
const DefaultTimeout = 20 * time.Second

// TimedOutMessage is the error text of an invocation that exceeded its ceiling.
const TimedOutMessage = "execution timed out"

// Executor runs one piece of code. Transport failures are reported as result outcomes, never errors.
type Executor interface {
	Execute(ctx context.Context, req domain.JudgeRequest) domain.JudgeResult
}

// Client talks to a remote execution service over HTTP.
type Client struct {
	url     string
	token   string
	timeout time.Duration
	http    *http.Client
	log     zerolog.Logger
}

type ClientOption func(*Client)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.http = c }
}

// WithBearerToken authenticates each request.
func WithBearerToken(token string) ClientOption {
	return func(cl *Client) { cl.token = token }
}

func WithTimeout(d time.Duration) ClientOption {
	return func(cl *Client) {
		if d > 0 {
			cl.timeout = d
		}
	}
}

func NewClient(url string, log zerolog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		url:     url,
		timeout: DefaultTimeout,
		http:    &http.Client{},
		log:     log.With().Str("component", "judge").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type executeRequest struct {
	Language string `json:"language"`
	Code     string `json:"code"`
	Input    string `json:"input"`
}

func (c *Client) Execute(ctx context.Context, req domain.JudgeRequest) domain.JudgeResult {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(executeRequest{Language: req.Language, Code: req.Code, Input: req.Input})
	if err != nil {
		return failed(fmt.Sprintf("encode request: %v", err))
	}
	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return failed(fmt.Sprintf("build request: %v", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return c.classify(ctx, callCtx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return c.classify(ctx, callCtx, err)
	}

	fields := map[string]json.RawMessage{}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &fields); err != nil && resp.StatusCode < 300 {
			// Plain-text bodies are taken as program output.
			return domain.JudgeResult{Outcome: domain.JudgeOK, Output: string(raw)}
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := firstString(fields, "error", "stderr", "message")
		if msg == "" {
			msg = fmt.Sprintf("judge returned %s", resp.Status)
		}
		c.log.Warn().Int("status", resp.StatusCode).Str("language", req.Language).Msg("judge request rejected")
		return failed(msg)
	}

	return domain.JudgeResult{
		Outcome: domain.JudgeOK,
		Output:  firstString(fields, "output", "stdout", "result"),
		Error:   firstString(fields, "error", "stderr"),
		Logs:    stringList(fields["logs"]),
	}
}

// classify separates caller cancellation from the per-call ceiling and from network failures.
func (c *Client) classify(parent, call context.Context, err error) domain.JudgeResult {
	switch {
	case errors.Is(parent.Err(), context.Canceled):
		return domain.JudgeResult{Outcome: domain.JudgeCanceled, Error: "execution canceled"}
	case errors.Is(call.Err(), context.DeadlineExceeded):
		return domain.JudgeResult{Outcome: domain.JudgeTimeout, Error: TimedOutMessage}
	}
	c.log.Warn().Err(err).Msg("judge transport failure")
	return failed(err.Error())
}

func failed(msg string) domain.JudgeResult {
	return domain.JudgeResult{Outcome: domain.JudgeError, Error: msg}
}

func firstString(fields map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		raw, ok := fields[k]
		if !ok {
			continue
		}
		if s := rawString(raw); s != "" {
			return s
		}
	}
	return ""
}

func rawString(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return s
	}
	return string(trimmed)
}

func stringList(raw json.RawMessage) []string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		if s := rawString(trimmed); s != "" {
			return strings.Split(strings.TrimRight(s, "\n"), "\n")
		}
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, rawString(item))
	}
	return out
}
