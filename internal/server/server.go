// Package server exposes the optimization service over REST and JSON-RPC 2.0.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"

	"github.com/copyleftdev/annealer/internal/catalog"
	"github.com/copyleftdev/annealer/internal/config"
	apperrors "github.com/copyleftdev/annealer/internal/errors"
	"github.com/copyleftdev/annealer/internal/jobs"
	"github.com/copyleftdev/annealer/internal/logging"
	"github.com/copyleftdev/annealer/internal/metrics"
)

const maxBodyBytes = 1 << 20

// Server implements the HTTP and JSON-RPC server for the optimization service.
// Runs are owned by the job manager; the server only translates requests.
type Server struct {
	cfg      *config.Config
	logger   *logging.Logger
	jobs     *jobs.Manager
	catalog  *catalog.Catalog
	metrics  *metrics.Metrics
	limiter  *rate.Limiter
	validate *validator.Validate
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics sets the metrics rejected submissions are counted in.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// NewServer creates a new server instance. Submissions are rate limited by
// OPT_SUBMIT_RATE and OPT_SUBMIT_BURST; a zero rate disables the limiter.
func NewServer(cfg *config.Config, logger *logging.Logger, mgr *jobs.Manager, cat *catalog.Catalog, opts ...Option) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		jobs:     mgr,
		catalog:  cat,
		validate: v,
	}
	if cfg != nil && cfg.Optimization.SubmitRate > 0 {
		burst := cfg.Optimization.SubmitBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.Optimization.SubmitRate), burst)
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	return s
}

// RegisterRoutes mounts the REST API under /api/v1 and JSON-RPC on /rpc.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/optimize", s.handleOptimize)
		r.Get("/status/{id}", s.handleStatus)
		r.Get("/result/{id}", s.handleResult)
		r.Get("/optimizations", s.handleList)
		r.Delete("/optimization/{id}", s.handleCancel)
		r.Delete("/optimizations/{id}", s.handleDelete)
		r.Post("/evaluate", s.handleEvaluate)
		r.Post("/schedule", s.handleSchedule)
		r.Get("/presets", s.handlePresets)
		r.Get("/presets/{name}", s.handlePreset)
	})

	// JSON-RPC 2.0 endpoint
	r.Post("/rpc", s.handleJSONRPC)
}

// handleOptimize handles POST /api/v1/optimize.
func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var req OptimizeRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.startOptimization(r.Context(), req)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	s.respond(w, http.StatusAccepted, resp)
}

// handleStatus handles GET /api/v1/status/{id}.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := s.optimizationStatus(r.Context(), IDRequest{OptimizationID: chi.URLParam(r, "id")})
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, resp)
}

// handleResult handles GET /api/v1/result/{id}. With wait=true the request
// blocks until the run finishes or the request is cancelled.
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	req := IDRequest{OptimizationID: chi.URLParam(r, "id")}
	if raw := r.URL.Query().Get("wait"); raw != "" {
		wait, err := strconv.ParseBool(raw)
		if err != nil {
			s.respondWithError(w, r, fmt.Errorf("%w: wait must be a boolean", apperrors.ErrInvalidInput))
			return
		}
		req.Wait = wait
	}

	resp, err := s.optimizationResult(r.Context(), req)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, resp)
}

// handleList handles GET /api/v1/optimizations?limit=N.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	var req ListRequest
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			s.respondWithError(w, r, fmt.Errorf("%w: limit must be an integer", apperrors.ErrInvalidInput))
			return
		}
		req.Limit = limit
	}

	resp, err := s.listOptimizations(r.Context(), req)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]interface{}{"optimizations": resp})
}

// handleCancel handles DELETE /api/v1/optimization/{id}.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	resp, err := s.cancelOptimization(r.Context(), IDRequest{OptimizationID: chi.URLParam(r, "id")})
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	s.respond(w, http.StatusAccepted, resp)
}

// handleDelete handles DELETE /api/v1/optimizations/{id}. Only finished
// runs can be deleted.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.deleteOptimization(r.Context(), IDRequest{OptimizationID: chi.URLParam(r, "id")}); err != nil {
		s.respondWithError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleEvaluate handles POST /api/v1/evaluate.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.evaluate(r.Context(), req)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, resp)
}

// handleSchedule handles POST /api/v1/schedule.
func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.previewSchedule(r.Context(), req)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, resp)
}

// handlePresets handles GET /api/v1/presets.
func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, map[string]interface{}{"presets": s.catalog.List()})
}

// handlePreset handles GET /api/v1/presets/{name}.
func (s *Server) handlePreset(w http.ResponseWriter, r *http.Request) {
	preset, err := s.catalog.Get(chi.URLParam(r, "name"))
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, preset)
}

// decode reads a JSON body into v. It answers 400 and returns false when the
// body is malformed.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.respondWithError(w, r, fmt.Errorf("%w: invalid request body: %v", apperrors.ErrInvalidInput, err))
		return false
	}
	return true
}

func (s *Server) respond(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("Failed to write response", map[string]interface{}{"error": err})
	}
}

// respondWithError sends a REST error response.
func (s *Server) respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	apperrors.Log(s.requestLogger(r.Context()), err, map[string]interface{}{
		"method": r.Method,
		"path":   r.URL.Path,
	})
	apperrors.WriteJSON(w, err)
}

func (s *Server) requestLogger(ctx context.Context) *logging.Logger {
	return logging.FromContextOr(ctx, s.logger)
}
