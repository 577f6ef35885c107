package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

// Option configures the HTTP clients of this package.
type Option func(*base)

func WithHTTPClient(c *http.Client) Option {
	return func(b *base) { b.http = c }
}

// WithBearerToken authenticates each request.
func WithBearerToken(token string) Option {
	return func(b *base) { b.token = token }
}

func WithTimeout(d time.Duration) Option {
	return func(b *base) {
		if d > 0 {
			b.timeout = d
		}
	}
}

type base struct {
	url     string
	token   string
	timeout time.Duration
	http    *http.Client
}

func newBase(url string, opts []Option) base {
	b := base{url: strings.TrimRight(url, "/"), timeout: defaultTimeout, http: &http.Client{}}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// postJSON sends body to url and returns the response body of a 2xx reply.
func (b base) postJSON(ctx context.Context, url string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}

	resp, err := b.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("post %s: status %d: %s", url, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}
