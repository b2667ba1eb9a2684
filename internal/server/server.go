// Package server exposes the quiz solver over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/PipeOpsHQ/quiz-agent/agent"
	observestore "github.com/PipeOpsHQ/quiz-agent/observe/store"
	"github.com/PipeOpsHQ/quiz-agent/state"
	"github.com/PipeOpsHQ/quiz-agent/types"
)

// Solver is the part of agent.Session the handlers need.
type Solver interface {
	SolveQuiz(ctx context.Context, req agent.QuizRequest) types.SolveResult
}

type Config struct {
	Addr    string
	AppName string
	// Secret is compared against the secret field of every quiz request.
	Secret          string
	Solver          Solver
	StateStore      state.Store
	TraceStore      observestore.Store
	SolveTimeout    time.Duration
	RatePerMinute   int
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
	// Now is overridable for tests.
	Now func() time.Time
}

type Server struct {
	cfg     Config
	router  *mux.Router
	handler http.Handler
	limiter *rate.Limiter
	logger  *slog.Logger
	http    *http.Server
	once    sync.Once
}

func New(cfg Config) (*Server, error) {
	if cfg.Solver == nil {
		return nil, errors.New("solver is required")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = ":5000"
	}
	if strings.TrimSpace(cfg.AppName) == "" {
		cfg.AppName = "TDS Project API"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		cfg:    cfg,
		router: mux.NewRouter(),
		logger: logger,
	}
	if cfg.RatePerMinute > 0 {
		s.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMinute)), cfg.RatePerMinute)
	}
	s.registerRoutes()
	s.handler = otelhttp.NewHandler(s.router, "quiz-agent.http")
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(corsMiddleware)
	api.HandleFunc("/hello", s.handleHello).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/quiz_solver", s.handleQuizSolver).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/runs", s.handleRuns).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/runs/{id}", s.handleRun).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/runs/{id}/events", s.handleRunEvents).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/metrics/summary", s.handleMetrics).Methods(http.MethodGet, http.MethodOptions)
}

func (s *Server) Handler() http.Handler {
	if s == nil {
		return http.NotFoundHandler()
	}
	return s.handler
}

// ListenAndServe blocks until ctx is cancelled or the listener fails.
// In-flight solves inherit ctx, so cancelling it aborts them.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("server is nil")
	}
	s.http.BaseContext = func(net.Listener) context.Context { return ctx }

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.cfg.Addr)
		err := s.http.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
		if err := s.Close(); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) Close() error {
	if s == nil {
		return nil
	}
	var outErr error
	s.once.Do(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		outErr = s.http.Shutdown(shutdownCtx)
		if outErr != nil {
			s.logger.Warn("http shutdown failed", "error", outErr)
			return
		}
		s.logger.Info("http server stopped")
	})
	return outErr
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "app": s.cfg.AppName})
}

func (s *Server) handleHello(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"app":       s.cfg.AppName,
		"message":   "Hello from Go with CORS!",
		"timestamp": s.cfg.Now().UTC().Format("2006-01-02T15:04:05.000000") + "Z",
		"client":    clientIP(r),
	})
}

func (s *Server) handleQuizSolver(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON payload.")
		return
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil || payload == nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON payload.")
		return
	}

	var missing []string
	for _, field := range []string{"email", "secret", "url"} {
		if !present(payload[field]) {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Missing required field(s): %s.", strings.Join(missing, ", ")))
		return
	}

	secret, ok := payload["secret"].(string)
	if !ok || !agent.CheckSecret(secret, s.cfg.Secret).Correct {
		s.logger.Warn("quiz request rejected", "email", fmt.Sprint(payload["email"]), "reason", "secret mismatch")
		writeError(w, http.StatusForbidden, "Forbidden: secret mismatch.")
		return
	}
	if s.limiter != nil && !s.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "Too many quiz requests, retry later.")
		return
	}
	req := agent.QuizRequest{
		Email:  fmt.Sprint(payload["email"]),
		Secret: secret,
		URL:    fmt.Sprint(payload["url"]),
	}

	ctx := r.Context()
	if s.cfg.SolveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.SolveTimeout)
		defer cancel()
	}
	s.logger.Info("solving quiz", "email", req.Email, "url", req.URL)
	res := s.cfg.Solver.SolveQuiz(ctx, req)

	if res.Status != types.RunCompleted {
		message := res.Error
		if message == "" {
			message = "Quiz solver failed."
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"status":    res.Status,
			"message":   message,
			"thread_id": nullable(res.ThreadID),
			"run_id":    nullable(res.RunID),
		})
		return
	}
	attachments := res.Attachments
	if attachments == nil {
		attachments = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"thread_id":   res.ThreadID,
		"run_id":      res.RunID,
		"answer":      res.Answer,
		"attachments": attachments,
		"email":       payload["email"],
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.cfg.StateStore == nil {
		writeJSON(w, http.StatusOK, []state.RunRecord{})
		return
	}
	q := state.ListRunsQuery{
		Email:  strings.TrimSpace(r.URL.Query().Get("email")),
		Status: strings.TrimSpace(r.URL.Query().Get("status")),
		Limit:  parseInt(r.URL.Query().Get("limit"), 50),
		Offset: parseInt(r.URL.Query().Get("offset"), 0),
	}
	runs, err := s.cfg.StateStore.ListRuns(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.cfg.StateStore == nil {
		writeError(w, http.StatusNotFound, "run history is disabled")
		return
	}
	rec, err := s.cfg.StateStore.LoadRun(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, state.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	if s.cfg.TraceStore == nil {
		writeError(w, http.StatusNotFound, "trace store is disabled")
		return
	}
	events, err := s.cfg.TraceStore.ListEventsByRun(r.Context(), mux.Vars(r)["id"], observestore.ListQuery{
		Limit:  parseInt(r.URL.Query().Get("limit"), 500),
		Offset: parseInt(r.URL.Query().Get("offset"), 0),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.cfg.TraceStore == nil {
		writeError(w, http.StatusNotFound, "trace store is disabled")
		return
	}
	var q observestore.MetricsQuery
	if raw := strings.TrimSpace(r.URL.Query().Get("since")); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		q.Since = &since
	}
	summary, err := s.cfg.TraceStore.AggregateMetrics(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// corsMiddleware allows any origin on the API routes and answers preflights.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// present mirrors a truthiness check: absent, null, empty, false and zero
// all count as missing.
func present(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	case float64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func parseInt(raw string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
