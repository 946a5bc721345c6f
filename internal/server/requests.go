package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/copyleftdev/annealer/internal/errors"
	"github.com/copyleftdev/annealer/internal/jobs"
	"github.com/copyleftdev/annealer/internal/optimization"
	"github.com/copyleftdev/annealer/internal/optimization/annealing"
	"github.com/copyleftdev/annealer/internal/optimization/energy"
	"github.com/copyleftdev/annealer/internal/optimization/schedule"
	"github.com/copyleftdev/annealer/internal/store"
)

const (
	defaultPreviewLimit = 100
	maxPreviewLimit     = 10000
	defaultListLimit    = 50
)

// OptimizeRequest starts a run from an inline problem or a named preset.
// Config fields overlay the preset's configuration, or the defaults when no
// preset is named.
type OptimizeRequest struct {
	Preset       string                `json:"preset,omitempty" validate:"omitempty,max=128"`
	Problem      *optimization.Problem `json:"problem,omitempty" validate:"required_without=Preset"`
	Config       json.RawMessage       `json:"config,omitempty"`
	InitialState optimization.State    `json:"initial_state,omitempty"`
}

// OptimizeResponse acknowledges a submitted run.
type OptimizeResponse struct {
	OptimizationID string       `json:"optimization_id"`
	Status         store.Status `json:"status"`
}

// IDRequest names a run.
type IDRequest struct {
	OptimizationID string `json:"optimization_id" validate:"required"`
	Wait           bool   `json:"wait,omitempty"`
}

// ListRequest pages through runs.
type ListRequest struct {
	Limit int `json:"limit,omitempty" validate:"gte=0,lte=1000"`
}

// EvaluateRequest scores a state against a problem or preset.
type EvaluateRequest struct {
	Preset  string                `json:"preset,omitempty" validate:"omitempty,max=128"`
	Problem *optimization.Problem `json:"problem,omitempty" validate:"required_without=Preset"`
	State   optimization.State    `json:"state" validate:"required"`
}

// EvaluateResponse is the energy breakdown of a state.
type EvaluateResponse struct {
	energy.Breakdown
	Unrecognized []string `json:"unrecognized,omitempty"`
}

// ScheduleRequest previews a cooling schedule.
type ScheduleRequest struct {
	Config json.RawMessage `json:"config,omitempty"`
	Limit  int             `json:"limit,omitempty" validate:"gte=0,lte=10000"`
}

// ScheduleResponse is a temperature sequence preview.
type ScheduleResponse struct {
	Schedule     schedule.Kind `json:"schedule"`
	Steps        int           `json:"steps"`
	Truncated    bool          `json:"truncated"`
	Temperatures []float64     `json:"temperatures"`
}

// StatusResponse reports the state of a run.
type StatusResponse struct {
	OptimizationID string       `json:"optimization_id"`
	Status         store.Status `json:"status"`
	Preset         string       `json:"preset,omitempty"`
	Problem        string       `json:"problem"`
	Progress       float64      `json:"progress"`
	Iteration      int          `json:"iteration"`
	BestEnergy     float64      `json:"best_energy"`
	Error          string       `json:"error,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	StartedAt      *time.Time   `json:"started_at,omitempty"`
	FinishedAt     *time.Time   `json:"finished_at,omitempty"`
}

// ResultResponse carries the outcome of a finished run.
type ResultResponse struct {
	StatusResponse
	Result  *optimization.Result  `json:"result,omitempty"`
	Summary *optimization.Summary `json:"summary,omitempty"`
}

func newStatusResponse(rec *store.Record) StatusResponse {
	return StatusResponse{
		OptimizationID: rec.ID,
		Status:         rec.Status,
		Preset:         rec.Preset,
		Problem:        rec.Problem.Name,
		Progress:       rec.Progress,
		Iteration:      rec.Iteration,
		BestEnergy:     rec.BestEnergy,
		Error:          rec.Error,
		CreatedAt:      rec.CreatedAt,
		StartedAt:      rec.StartedAt,
		FinishedAt:     rec.FinishedAt,
	}
}

func newResultResponse(rec *store.Record) ResultResponse {
	resp := ResultResponse{StatusResponse: newStatusResponse(rec), Result: rec.Result}
	if rec.Result != nil && len(rec.Result.History) > 0 {
		summary := annealing.Summarize(rec.Result.History)
		resp.Summary = &summary
	}
	return resp
}

// check validates a request body against its tags.
func (s *Server) check(v interface{}) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("%w: %s failed %q", apperrors.ErrInvalidInput, fe.Namespace(), fe.Tag())
	}
	return fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
}

// overlayConfig decodes raw onto base so omitted fields keep their values.
func overlayConfig(base optimization.AnnealingConfig, raw json.RawMessage) (optimization.AnnealingConfig, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return base, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&base); err != nil {
		return base, fmt.Errorf("%w: config: %v", apperrors.ErrInvalidInput, err)
	}
	return base, nil
}

func (s *Server) startOptimization(ctx context.Context, req OptimizeRequest) (*OptimizeResponse, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}

	jobReq := jobs.Request{Preset: req.Preset, Config: optimization.DefaultAnnealingConfig()}
	if req.Preset != "" {
		preset, err := s.catalog.Get(req.Preset)
		if err != nil {
			return nil, err
		}
		jobReq.Problem = preset.Problem
		jobReq.Config = preset.Config
		jobReq.InitialState = preset.InitialState
	}
	if req.Problem != nil {
		jobReq.Problem = *req.Problem
	}
	if req.InitialState != nil {
		jobReq.InitialState = req.InitialState
	}

	cfg, err := overlayConfig(jobReq.Config, req.Config)
	if err != nil {
		return nil, err
	}
	jobReq.Config = cfg

	if s.limiter != nil && !s.limiter.Allow() {
		s.metrics.Rejected("rate_limited")
		return nil, fmt.Errorf("%w: too many submissions, retry later", apperrors.ErrRateLimited)
	}

	rec, err := s.jobs.Submit(ctx, jobReq)
	if err != nil {
		return nil, err
	}
	return &OptimizeResponse{OptimizationID: rec.ID, Status: rec.Status}, nil
}

func (s *Server) optimizationStatus(ctx context.Context, req IDRequest) (*StatusResponse, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	rec, err := s.jobs.Get(ctx, req.OptimizationID)
	if err != nil {
		return nil, err
	}
	resp := newStatusResponse(rec)
	return &resp, nil
}

func (s *Server) optimizationResult(ctx context.Context, req IDRequest) (*ResultResponse, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}

	var (
		rec *store.Record
		err error
	)
	if req.Wait {
		rec, err = s.jobs.Wait(ctx, req.OptimizationID)
	} else {
		rec, err = s.jobs.Get(ctx, req.OptimizationID)
	}
	if err != nil {
		return nil, err
	}
	if !rec.Status.Terminal() {
		return nil, fmt.Errorf("%w: run %s is still %s", apperrors.ErrConflict, rec.ID, rec.Status)
	}
	resp := newResultResponse(rec)
	return &resp, nil
}

func (s *Server) cancelOptimization(ctx context.Context, req IDRequest) (*OptimizeResponse, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	if err := s.jobs.Cancel(ctx, req.OptimizationID); err != nil {
		return nil, err
	}
	return &OptimizeResponse{OptimizationID: req.OptimizationID, Status: "cancelling"}, nil
}

func (s *Server) deleteOptimization(ctx context.Context, req IDRequest) error {
	if err := s.check(req); err != nil {
		return err
	}
	return s.jobs.Delete(ctx, req.OptimizationID)
}

func (s *Server) listOptimizations(ctx context.Context, req ListRequest) ([]StatusResponse, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit == 0 {
		limit = defaultListLimit
	}
	records, err := s.jobs.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]StatusResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, newStatusResponse(rec))
	}
	return out, nil
}

func (s *Server) evaluate(_ context.Context, req EvaluateRequest) (*EvaluateResponse, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}

	var problem optimization.Problem
	if req.Problem != nil {
		problem = *req.Problem
	} else {
		preset, err := s.catalog.Get(req.Preset)
		if err != nil {
			return nil, err
		}
		problem = preset.Problem
	}
	if err := problem.Validate(); err != nil {
		return nil, err
	}

	ev, err := energy.Compile(&problem)
	if err != nil {
		return nil, err
	}
	breakdown, err := ev.Breakdown(req.State)
	if err != nil {
		return nil, err
	}
	return &EvaluateResponse{Breakdown: breakdown, Unrecognized: ev.Unrecognized()}, nil
}

func (s *Server) previewSchedule(_ context.Context, req ScheduleRequest) (*ScheduleResponse, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	cfg, err := overlayConfig(optimization.DefaultAnnealingConfig(), req.Config)
	if err != nil {
		return nil, err
	}
	// Steps walks the whole schedule, so the service iteration cap applies
	// here as it does to submissions.
	if cfg, err = s.jobs.Limit(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sched, err := schedule.New(cfg.CoolingSchedule, cfg.ScheduleParams())
	if err != nil {
		return nil, &optimization.InvalidConfigurationError{Field: "config.cooling_schedule", Reason: err.Error()}
	}

	limit := req.Limit
	if limit == 0 {
		limit = defaultPreviewLimit
	}
	if limit > maxPreviewLimit {
		limit = maxPreviewLimit
	}

	steps := schedule.Steps(sched, cfg.InitialTemperature, cfg.FinalTemperature, cfg.MaxIterations)
	return &ScheduleResponse{
		Schedule:     sched.Kind(),
		Steps:        steps,
		Truncated:    steps > limit,
		Temperatures: schedule.Generate(sched, cfg.InitialTemperature, cfg.FinalTemperature, min(steps, limit)),
	}, nil
}
