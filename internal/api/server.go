package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/runcalcs-crawler/internal/logging"
	"github.com/JakeFAU/runcalcs-crawler/internal/metrics"
	"github.com/JakeFAU/runcalcs-crawler/internal/pipeline"
)

const (
	defaultRequestTimeout = 60 * time.Second
	defaultRunTimeout     = 15 * time.Minute
	maxRunRequestBytes    = 64 << 10
)

// Target binds a runner to the run configuration resolved at startup.
type Target struct {
	Runner pipeline.Runner
	Config pipeline.RunConfig
}

// Options tunes the server.
type Options struct {
	AuthEnabled bool
	APIKey      string
	// RequestTimeout bounds every route except run triggers.
	RequestTimeout time.Duration
	// RunTimeout bounds a triggered run.
	RunTimeout time.Duration
	// Ready reports whether downstream dependencies are usable. Nil means always ready.
	Ready func(context.Context) error
}

// Server wires HTTP handlers to the pipeline runners.
type Server struct {
	router  chi.Router
	targets map[pipeline.Variant]Target
	locks   map[pipeline.Variant]*sync.Mutex
	opts    Options
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. runs may be nil.
func NewServer(targets map[pipeline.Variant]Target, runs RunLister, opts Options, logger *zap.Logger) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = defaultRunTimeout
	}
	s := &Server{
		targets: targets,
		locks:   make(map[pipeline.Variant]*sync.Mutex, len(targets)),
		opts:    opts,
		logger:  logging.OrNop(logger).Named("api"),
	}
	for v := range targets {
		s.locks[v] = &sync.Mutex{}
	}
	runHandler := NewRunHandler(runs, s.logger)

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))

	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(opts.RequestTimeout))
		r.Get("/healthz", s.healthz)
		r.Get("/readyz", s.readyz)
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	})

	r.Route("/v1", func(r chi.Router) {
		if opts.AuthEnabled {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Post("/runs/{variant}", s.triggerRun)
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(opts.RequestTimeout))
			r.Get("/runs", runHandler.ListRuns)
			r.Get("/datasets/{variant}", s.getDataset)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		if err := s.opts.Ready(r.Context()); err != nil {
			s.logger.Warn("Readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// triggerRun handles POST /v1/runs/{variant}. The body may override the page budget and seeds.
// It answers 200 with the result on success, 500 with the result on failure, 404 for an unknown
// variant and 409 while another run of the same variant is in flight.
func (s *Server) triggerRun(w http.ResponseWriter, r *http.Request) {
	variant := pipeline.Variant(chi.URLParam(r, "variant"))
	target, ok := s.targets[variant]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown variant")
		return
	}
	var req runRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	cfg := target.Config
	if req.PageBudget != nil {
		if *req.PageBudget <= 0 {
			writeError(w, http.StatusBadRequest, "page_budget must be positive")
			return
		}
		cfg.PageBudget = *req.PageBudget
	}
	if len(req.Seeds) > 0 {
		cfg.Seeds = append([]string(nil), req.Seeds...)
	}

	lock := s.locks[variant]
	if !lock.TryLock() {
		writeError(w, http.StatusConflict, "run already in progress")
		return
	}
	defer lock.Unlock()

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.RunTimeout)
	defer cancel()
	result, err := target.Runner.Run(ctx, cfg)
	if err != nil {
		s.logger.Error("Triggered run failed", zap.String("variant", string(variant)), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) getDataset(w http.ResponseWriter, r *http.Request) {
	target, ok := s.targets[pipeline.Variant(chi.URLParam(r, "variant"))]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown variant")
		return
	}
	records, err := target.Runner.Records(r.Context())
	if err != nil {
		s.logger.Error("Load dataset failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load dataset")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

type runRequest struct {
	PageBudget *int     `json:"page_budget"`
	Seeds      []string `json:"seeds"`
}

// decodeOptionalJSON decodes the body into dst; an empty body leaves dst untouched.
func decodeOptionalJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRunRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
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
