package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/patent-crawler/internal/crawler"
	"github.com/JakeFAU/patent-crawler/internal/metrics"
	"github.com/JakeFAU/patent-crawler/internal/middleware"
	"github.com/JakeFAU/patent-crawler/internal/progress"
	"github.com/JakeFAU/patent-crawler/internal/storage"
	"github.com/JakeFAU/patent-crawler/internal/worker"
)

const (
	defaultSession    = "default"
	defaultMaxResults = 5
	defaultLimit      = 50
)

// Submitter queues extraction tasks; worker.Pool implements it.
type Submitter interface {
	Submit(ctx context.Context, task worker.Task) (worker.Outcome, error)
}

// Config controls request defaults and the protective middleware.
type Config struct {
	DefaultMaxResults int
	// MaxResultsLimit caps max_results on /v1/patents.
	MaxResultsLimit int
	FetchMode       crawler.FetchMode
	// RequestTimeout bounds a whole extraction request, queue wait included.
	RequestTimeout time.Duration
	APIKeys        []string
	RateLimit      middleware.RateLimitConfig
	// CORSOrigins enables CORS for the listed origins; empty disables it.
	CORSOrigins []string
}

// Deps are the server's collaborators. Results and Ready are optional.
type Deps struct {
	Runs    Submitter
	Results crawler.ResultReader
	Ready   func(context.Context) error
	Logger  *zap.Logger
}

// Server wires HTTP handlers to the run pool and result store.
type Server struct {
	router chi.Router
	cfg    Config
	deps   Deps
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(cfg Config, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.DefaultMaxResults <= 0 {
		cfg.DefaultMaxResults = defaultMaxResults
	}
	if cfg.MaxResultsLimit <= 0 {
		cfg.MaxResultsLimit = defaultLimit
	}
	metrics.Init()

	s := &Server{cfg: cfg, deps: deps, logger: deps.Logger}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(s.logger))
	r.Use(middleware.Recover(s.logger))
	r.Use(metrics.Middleware)
	r.Use(traced)
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID", "Retry-After"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	limiter := middleware.NewRateLimiter(cfg.RateLimit)
	r.Group(func(r chi.Router) {
		r.Use(middleware.APIKey(cfg.APIKeys))
		r.Use(limiter.Handler)
		r.Post("/get_patents_detailed", s.getPatentsDetailed)
		r.Route("/v1", func(r chi.Router) {
			r.Post("/patents", s.extractPatents)
			r.Get("/sessions/{session_id}", s.getSession)
		})
	})

	s.router = r
	return s
}

// traced starts a server span per request and extracts incoming trace
// context and baggage, which then ride along to run notices.
func traced(next http.Handler) http.Handler {
	return otelhttp.NewHandler(next, "patents-api",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.deps.Ready(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false, "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
}

type legacyRequest struct {
	Description string `json:"description"`
	SessionID   string `json:"session_id"`
}

type legacyResponse struct {
	Patents []crawler.PatentRecord `json:"patents"`
}

func (s *Server) getPatentsDetailed(w http.ResponseWriter, r *http.Request) {
	var req legacyRequest
	if err := decodeJSON(r, &req); err != nil {
		s.reject(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	task, msg := s.task(req.Description, nil, req.SessionID, "")
	if msg != "" {
		s.reject(w, http.StatusBadRequest, msg)
		return
	}
	out, ok := s.submit(w, r, task)
	if !ok {
		return
	}
	s.logger.Info("stored patents for session",
		zap.Int("count", len(out.Records)),
		zap.String("session_key", task.SessionKey),
	)
	writeJSON(w, http.StatusOK, legacyResponse{Patents: out.Records})
}

type patentsRequest struct {
	Query      string `json:"query"`
	MaxResults *int   `json:"max_results"`
	SessionID  string `json:"session_id"`
	FetchMode  string `json:"fetch_mode"`
}

type patentsResponse struct {
	SessionID string                 `json:"session_id"`
	Count     int                    `json:"count"`
	Patents   []crawler.PatentRecord `json:"patents"`
	Events    []EventView            `json:"events"`
}

func (s *Server) extractPatents(w http.ResponseWriter, r *http.Request) {
	var req patentsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.reject(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	task, msg := s.task(req.Query, req.MaxResults, req.SessionID, req.FetchMode)
	if msg != "" {
		s.reject(w, http.StatusBadRequest, msg)
		return
	}
	out, ok := s.submit(w, r, task)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, patentsResponse{
		SessionID: task.SessionKey,
		Count:     len(out.Records),
		Patents:   out.Records,
		Events:    EventViews(out.Events),
	})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.Results == nil {
		writeError(w, http.StatusNotImplemented, "configured store does not support reads")
		return
	}
	key := chi.URLParam(r, "session_id")
	records, err := s.deps.Results.GetResults(r.Context(), key)
	switch {
	case errors.Is(err, storage.ErrInvalidKey):
		writeError(w, http.StatusBadRequest, "invalid session_id")
	case errors.Is(err, crawler.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case err != nil:
		s.logger.Error("read session failed", zap.String("session_key", key), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read session")
	default:
		writeJSON(w, http.StatusOK, map[string]any{"session_id": key, "patents": records})
	}
}

// task validates request fields and applies defaults. A non-empty message
// means the request is invalid.
func (s *Server) task(query string, maxResults *int, session, mode string) (worker.Task, string) {
	query = strings.TrimSpace(query)
	if query == "" {
		return worker.Task{}, "query is required"
	}
	limit := s.cfg.DefaultMaxResults
	if maxResults != nil {
		limit = *maxResults
	}
	if limit < 0 || limit > s.cfg.MaxResultsLimit {
		return worker.Task{}, "max_results out of range"
	}
	if session == "" {
		session = defaultSession
	}
	if err := storage.ValidateKey(session); err != nil {
		return worker.Task{}, "invalid session_id"
	}
	fetchMode := s.cfg.FetchMode
	if mode != "" {
		parsed, err := crawler.ParseFetchMode(mode)
		if err != nil {
			return worker.Task{}, err.Error()
		}
		fetchMode = parsed
	}
	return worker.Task{Query: query, MaxResults: limit, SessionKey: session, FetchMode: fetchMode}, ""
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, task worker.Task) (worker.Outcome, bool) {
	ctx := r.Context()
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}
	out, err := s.deps.Runs.Submit(ctx, task)
	switch {
	case err == nil:
		metrics.ObserveSubmission("ok")
		return out, true
	case errors.Is(err, worker.ErrQueueFull):
		metrics.ObserveSubmission("queue_full")
		w.Header().Set("Retry-After", "5")
		writeError(w, http.StatusServiceUnavailable, "extraction queue is full")
	case errors.Is(err, worker.ErrClosed):
		metrics.ObserveSubmission("rejected")
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
	case errors.Is(err, context.DeadlineExceeded):
		metrics.ObserveSubmission("canceled")
		writeError(w, http.StatusGatewayTimeout, "extraction timed out")
	default:
		metrics.ObserveSubmission("canceled")
		s.logger.Warn("extraction request ended early", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "extraction canceled")
	}
	return worker.Outcome{}, false
}

func (s *Server) reject(w http.ResponseWriter, status int, msg string) {
	metrics.ObserveSubmission("invalid")
	writeError(w, status, msg)
}

// EventView is the JSON shape of a progress event.
type EventView struct {
	RunID      string    `json:"run_id"`
	Seq        int64     `json:"seq"`
	TS         time.Time `json:"ts"`
	Level      string    `json:"level"`
	Stage      string    `json:"stage"`
	Message    string    `json:"message"`
	URL        string    `json:"url,omitempty"`
	Field      string    `json:"field,omitempty"`
	Mode       string    `json:"mode,omitempty"`
	Count      int       `json:"count,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
}

// EventViews converts events for output, preserving order.
func EventViews(events []progress.Event) []EventView {
	out := make([]EventView, 0, len(events))
	for _, evt := range events {
		out = append(out, EventView{
			RunID:      evt.RunUUID().String(),
			Seq:        evt.Seq,
			TS:         evt.TS,
			Level:      string(evt.Level),
			Stage:      string(evt.Stage),
			Message:    evt.Message,
			URL:        evt.URL,
			Field:      evt.Field,
			Mode:       evt.Mode,
			Count:      evt.Count,
			DurationMS: evt.Dur.Milliseconds(),
		})
	}
	return out
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
