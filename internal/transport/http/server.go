package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"proctor-engine/internal/app"
	"proctor-engine/internal/domain"
	"proctor-engine/internal/infra/postgres"
)

// Server is the candidate-facing HTTP server.
type Server struct {
	srv *http.Server
	log zerolog.Logger
}

// HistoryLister reads a candidate's finished sessions.
type HistoryLister interface {
	List(ctx context.Context, candidateID string, limit int) ([]postgres.PracticeSession, error)
}

// RouterDeps are the handlers mounted by NewRouter.
type RouterDeps struct {
	Service  *app.SessionService
	WS       *WSHandler
	History  HistoryLister
	Auth     Authenticator
	Gatherer prometheus.Gatherer
	Logger   zerolog.Logger
}

func NewRouter(deps RouterDeps) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(deps.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}
	if deps.WS != nil {
		r.Get("/ws", deps.WS.ServeWS)
	}
	if deps.Service != nil {
		r.Get("/sessions/{sessionID}", func(w http.ResponseWriter, r *http.Request) {
			candidateID, err := deps.Auth.CandidateID(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}
			c, err := deps.Service.Get(r.Context(), chi.URLParam(r, "sessionID"))
			if err == nil && c.CandidateID() != candidateID {
				// Other candidates' sessions are indistinguishable from missing ones.
				err = domain.ErrSessionNotFound
			}
			if errors.Is(err, domain.ErrSessionNotFound) {
				writeError(w, http.StatusNotFound, err.Error())
				return
			}
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, c.Snapshot())
		})
	}
	if deps.History != nil {
		r.Get("/history", func(w http.ResponseWriter, r *http.Request) {
			candidateID, err := deps.Auth.CandidateID(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			rows, err := deps.History.List(r.Context(), candidateID, limit)
			if err != nil {
				deps.Logger.Error().Err(err).Str("candidate", candidateID).Msg("list history")
				writeError(w, http.StatusInternalServerError, "could not load history")
				return
			}
			writeJSON(w, http.StatusOK, rows)
		})
	}
	return r
}

func NewServer(addr string, handler http.Handler, log zerolog.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		log: log,
	}
}

func (s *Server) Run(_ context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.srv.Addr, err)
	}
	s.log.Info().Str("addr", s.srv.Addr).Msg("http server listening")

	err = s.srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

func requestLogger(log zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				log.Info().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Int("bytes", ww.BytesWritten()).
					Int64("duration_ms", time.Since(start).Milliseconds()).
					Str("request_id", middleware.GetReqID(r.Context())).
					Msg("http request")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
