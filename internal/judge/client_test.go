package judge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"proctor-engine/internal/domain"
)

func TestClientNormalizesFieldNames(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		output string
		errMsg string
		logs   int
	}{
		{name: "output", body: `{"output":"3\n","logs":["a","b"]}`, output: "3\n", logs: 2},
		{name: "stdout and stderr", body: `{"stdout":"hi","stderr":"warning"}`, output: "hi", errMsg: "warning"},
		{name: "numeric result", body: `{"result":42,"logs":"line1\nline2"}`, output: "42", logs: 2},
		{name: "error field", body: `{"output":"","error":"SyntaxError: invalid"}`, errMsg: "SyntaxError: invalid"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			res := NewClient(srv.URL, zerolog.Nop()).Execute(context.Background(), domain.JudgeRequest{Language: "python", Code: "print(3)"})
			if res.Outcome != domain.JudgeOK {
				t.Fatalf("expected ok, got %+v", res)
			}
			if res.Output != tc.output || res.Error != tc.errMsg || len(res.Logs) != tc.logs {
				t.Fatalf("unexpected result %+v", res)
			}
		})
	}
}

func TestClientSendsRequestFields(t *testing.T) {
	var got executeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"output":"ok"}`))
	}))
	defer srv.Close()

	NewClient(srv.URL, zerolog.Nop(), WithBearerToken("secret")).Execute(context.Background(), domain.JudgeRequest{
		Language: "javascript", Code: "console.log(1)", Input: "1 2",
	})
	if got.Language != "javascript" || got.Code != "console.log(1)" || got.Input != "1 2" {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestClientTimeoutIsDistinct(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	res := NewClient(srv.URL, zerolog.Nop()).Execute(context.Background(), domain.JudgeRequest{Timeout: 50 * time.Millisecond})
	if res.Outcome != domain.JudgeTimeout || res.Error != TimedOutMessage {
		t.Fatalf("expected timeout, got %+v", res)
	}
}

func TestClientCancellationIsDistinct(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	res := NewClient(srv.URL, zerolog.Nop()).Execute(ctx, domain.JudgeRequest{})
	if res.Outcome != domain.JudgeCanceled {
		t.Fatalf("expected canceled, got %+v", res)
	}
}

func TestClientServerErrorIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"message":"sandbox unavailable"}`))
	}))
	defer srv.Close()

	res := NewClient(srv.URL, zerolog.Nop()).Execute(context.Background(), domain.JudgeRequest{})
	if res.Outcome != domain.JudgeError || res.Error != "sandbox unavailable" {
		t.Fatalf("expected error outcome, got %+v", res)
	}
}
