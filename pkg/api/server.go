// Package api provides the HTTP intake for diff plans.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/odvcencio/autopilot/pkg/diffplan"
	apierrors "github.com/odvcencio/autopilot/pkg/errors"
	"github.com/odvcencio/autopilot/pkg/logging"
	"github.com/odvcencio/autopilot/pkg/orchestrator"
	"github.com/odvcencio/autopilot/pkg/runlog"
)

const defaultMaxBodyBytes = 4 << 20

// Processor runs one diff plan through the pipeline.
type Processor interface {
	Process(ctx context.Context, plan *diffplan.Plan, repoURL string, dryRun bool) (orchestrator.Outcome, error)
}

// History lists recorded runs.
type History interface {
	Recent(ctx context.Context, limit int) ([]runlog.Entry, error)
}

// Server is the autopilot HTTP server.
type Server struct {
	processor    Processor
	history      History
	gatherer     prometheus.Gatherer
	maxBodyBytes int64
	version      string
	logger       *zap.Logger
	httpServer   *http.Server
}

// ServerConfig configures the API server.
type ServerConfig struct {
	// Address to listen on (default: 127.0.0.1:8085)
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxBodyBytes int64

	Processor Processor
	// History backs GET /v1/runs (optional)
	History History
	// Gatherer backs GET /metrics (default: prometheus.DefaultGatherer)
	Gatherer prometheus.Gatherer
	Version  string
	Logger   *zap.Logger
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:8085"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		// Publishing makes several gateway round trips with retries.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		processor:    cfg.Processor,
		history:      cfg.History,
		gatherer:     cfg.Gatherer,
		maxBodyBytes: cfg.MaxBodyBytes,
		version:      cfg.Version,
		logger:       logging.ForCategory(logging.OrNop(cfg.Logger), logging.CategoryNetwork),
	}
	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.withLogging)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/plans", s.handleSubmitPlan)
		r.Get("/runs", s.handleListRuns)
	})
	return r
}

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.httpServer.Addr }

// Start serves until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("api server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	body := map[string]string{"status": "ok"}
	if s.version != "" {
		body["version"] = s.version
	}
	respondJSON(w, http.StatusOK, body)
}

func (s *Server) handleSubmitPlan(w http.ResponseWriter, r *http.Request) {
	if s.processor == nil {
		respondError(w, http.StatusServiceUnavailable, apierrors.New(apierrors.ErrCodeInternal, "pipeline not configured"))
		return
	}

	query := r.URL.Query()
	dryRun := false
	if raw := strings.TrimSpace(query.Get("dry_run")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, apierrors.New(apierrors.ErrCodeInvalidInput, "dry_run must be a boolean").
				WithContext("dry_run", raw))
			return
		}
		dryRun = v
	}

	body := http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	plan, err := diffplan.Decode(body, formatForContentType(r.Header.Get("Content-Type")))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, apierrors.New(apierrors.ErrCodeInvalidInput, "diff plan exceeds the request size limit").
				WithContext("limit_bytes", tooLarge.Limit))
			return
		}
		respondError(w, statusForError(err), err)
		return
	}

	outcome, err := s.processor.Process(r.Context(), plan, strings.TrimSpace(query.Get("repo_url")), dryRun)
	if err != nil {
		s.logger.Warn("plan rejected",
			logging.PlanID(plan.ID()),
			zap.String("code", string(apierrors.GetCode(err))),
			zap.Error(err),
		)
		respondError(w, statusForError(err), err)
		return
	}
	respondJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondError(w, http.StatusNotFound, apierrors.New(apierrors.ErrCodeNotImplemented, "run history is disabled").
			WithRemediation("set history.enabled in the autopilot config"))
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, apierrors.New(apierrors.ErrCodeInvalidInput, "limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	entries, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		respondError(w, statusForError(err), err)
		return
	}
	if entries == nil {
		entries = []runlog.Entry{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"runs": entries})
}

func formatForContentType(contentType string) diffplan.Format {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "json"):
		return diffplan.FormatJSON
	case strings.Contains(ct, "yaml"):
		return diffplan.FormatYAML
	}
	return diffplan.FormatAuto
}

// statusForError maps error codes to HTTP statuses.
func statusForError(err error) int {
	switch apierrors.GetCode(err) {
	case apierrors.ErrCodePlanParse, apierrors.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case apierrors.ErrCodePlanInvalid:
		return http.StatusUnprocessableEntity
	case apierrors.ErrCodeGatewayRateLimit:
		return http.StatusServiceUnavailable
	case apierrors.ErrCodeGateway, apierrors.ErrCodeGatewayAuth:
		return http.StatusBadGateway
	case apierrors.ErrCodeNotImplemented:
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
