// Package jobs runs optimizations in the background on a bounded worker pool
// and keeps their records in the run store.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	apperrors "github.com/copyleftdev/annealer/internal/errors"
	"github.com/copyleftdev/annealer/internal/metrics"
	"github.com/copyleftdev/annealer/internal/optimization"
	"github.com/copyleftdev/annealer/internal/optimization/annealing"
	"github.com/copyleftdev/annealer/internal/store"
)

const tracerName = "github.com/copyleftdev/annealer/internal/jobs"

// ErrClosed is returned by Submit after Close.
var ErrClosed = fmt.Errorf("%w: job manager is closed", apperrors.ErrConflict)

// Store is the persistence the manager needs.
type Store interface {
	Put(ctx context.Context, rec *store.Record) error
	Get(ctx context.Context, id string) (*store.Record, error)
	List(ctx context.Context, limit int) ([]*store.Record, error)
	Delete(ctx context.Context, id string) error
}

// Config bounds what the manager accepts and runs.
type Config struct {
	// Workers is the number of runs executing at once.
	Workers int

	// RunTimeout caps every run's deadline. Zero leaves runs unbounded
	// unless they set their own timeout.
	RunTimeout time.Duration

	// MaxIterationsLimit rejects runs asking for more iterations. Zero
	// disables the cap.
	MaxIterationsLimit int

	// ProgressSteps is how many progress updates a run publishes over its
	// iteration budget.
	ProgressSteps int
}

// Request describes a run to submit.
type Request struct {
	Preset       string
	Problem      optimization.Problem
	Config       optimization.AnnealingConfig
	InitialState optimization.State
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics sets the metrics the manager reports to.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		if mt != nil {
			m.metrics = mt
		}
	}
}

// WithTracer sets the tracer used for run spans.
func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) {
		if t != nil {
			m.tracer = t
		}
	}
}

type job struct {
	mu              sync.Mutex
	rec             *store.Record
	optimizer       optimization.Optimizer
	ctx             context.Context
	cancel          context.CancelFunc
	cancelRequested bool
	done            chan struct{}
}

func (j *job) snapshot() *store.Record {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.rec.Clone()
}

// Manager owns the background runs. It is safe for concurrent use.
type Manager struct {
	cfg     Config
	store   Store
	logger  *zap.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	sem     *semaphore.Weighted

	baseCtx   context.Context
	cancelAll context.CancelFunc

	mu     sync.Mutex
	jobs   map[string]*job
	closed bool
	wg     sync.WaitGroup
}

// NewManager creates a manager persisting to st.
func NewManager(cfg Config, st Store, opts ...Option) (*Manager, error) {
	if st == nil {
		return nil, errors.New("jobs: store is required")
	}
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("jobs: worker count must be positive, got %d", cfg.Workers)
	}
	if cfg.ProgressSteps <= 0 {
		cfg.ProgressSteps = 100
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:       cfg,
		store:     st,
		logger:    zap.NewNop(),
		tracer:    otel.Tracer(tracerName),
		sem:       semaphore.NewWeighted(int64(cfg.Workers)),
		baseCtx:   ctx,
		cancelAll: cancel,
		jobs:      make(map[string]*job),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = metrics.New()
	}
	return m, nil
}

// Limit applies the service caps to cfg: the iteration limit is enforced
// and the run timeout is the smaller of the requested and the service one.
func (m *Manager) Limit(cfg optimization.AnnealingConfig) (optimization.AnnealingConfig, error) {
	cfg = cfg.WithDefaults()
	if limit := m.cfg.MaxIterationsLimit; limit > 0 && cfg.MaxIterations > limit {
		return cfg, &optimization.InvalidConfigurationError{
			Field:  "config.max_iterations",
			Reason: fmt.Sprintf("must not exceed the service limit of %d", limit),
		}
	}
	if ceiling := m.cfg.RunTimeout; ceiling > 0 && (cfg.TimeoutMs <= 0 || cfg.Timeout() > ceiling) {
		cfg.TimeoutMs = ceiling.Milliseconds()
	}
	return cfg, nil
}

// Submit validates req and queues it. Invalid problems and configurations
// are rejected here with an InvalidConfigurationError; the returned record
// is pending.
func (m *Manager) Submit(ctx context.Context, req Request) (*store.Record, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		m.metrics.Rejected("closed")
		return nil, ErrClosed
	}

	cfg, err := m.Limit(req.Config)
	if err != nil {
		m.metrics.Rejected("invalid")
		return nil, err
	}

	problem := req.Problem
	j := &job{done: make(chan struct{})}

	opts := []annealing.Option{
		annealing.WithLogger(m.logger),
		annealing.WithTracer(m.tracer),
		annealing.WithProgress(progressEvery(cfg.MaxIterations, m.cfg.ProgressSteps), m.onProgress(j)),
	}
	if req.InitialState != nil {
		opts = append(opts, annealing.WithInitialState(req.InitialState))
	}
	a, err := annealing.New(&problem, cfg, opts...)
	if err != nil {
		m.metrics.Rejected("invalid")
		return nil, err
	}

	now := time.Now().UTC()
	j.optimizer = a
	j.rec = &store.Record{
		ID:           uuid.NewString(),
		Status:       store.StatusPending,
		Preset:       req.Preset,
		Problem:      problem,
		Config:       cfg,
		InitialState: req.InitialState.Clone(),
		CreatedAt:    now,
	}
	j.ctx, j.cancel = context.WithCancel(m.baseCtx)

	if err := m.store.Put(ctx, j.rec); err != nil {
		j.cancel()
		return nil, fmt.Errorf("persist run %s: %w", j.rec.ID, err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		j.cancel()
		m.metrics.Rejected("closed")
		return nil, ErrClosed
	}
	m.jobs[j.rec.ID] = j
	m.wg.Add(1)
	m.mu.Unlock()

	m.metrics.JobQueued(1)
	m.logger.Info("run submitted",
		zap.String("run_id", j.rec.ID),
		zap.String("problem", problem.Name),
		zap.String("schedule", string(cfg.CoolingSchedule)),
		zap.Int("max_iterations", cfg.MaxIterations))

	rec := j.snapshot()
	go m.execute(j)
	return rec, nil
}

func progressEvery(maxIterations, steps int) int {
	every := maxIterations / steps
	if every < 1 {
		every = 1
	}
	return every
}

func (m *Manager) onProgress(j *job) annealing.ProgressFunc {
	return func(p annealing.Progress) {
		j.mu.Lock()
		j.rec.Progress = p.Fraction()
		j.rec.Iteration = p.Iteration
		j.rec.BestEnergy = p.BestEnergy
		j.mu.Unlock()
		m.persist(j)
	}
}

func (m *Manager) persist(j *job) {
	rec := j.snapshot()
	if err := m.store.Put(context.Background(), rec); err != nil {
		m.logger.Warn("failed to persist run", zap.String("run_id", rec.ID), zap.Error(err))
	}
}

func (m *Manager) execute(j *job) {
	defer m.wg.Done()
	defer j.cancel()

	id := j.rec.ID
	schedule := string(j.rec.Config.CoolingSchedule)

	if err := m.sem.Acquire(j.ctx, 1); err != nil {
		m.metrics.JobQueued(-1)
		m.finish(j, nil, context.Canceled, 0)
		m.metrics.ObserveRun(schedule, string(store.StatusCancelled), 0, 0, 0)
		return
	}
	defer m.sem.Release(1)
	m.metrics.JobQueued(-1)
	m.metrics.JobStarted()
	defer m.metrics.JobFinished()

	ctx, span := m.tracer.Start(j.ctx, "jobs.Run",
		trace.WithAttributes(
			attribute.String("run.id", id),
			attribute.String("run.problem", j.rec.Problem.Name),
			attribute.String("run.schedule", schedule),
		),
	)
	defer span.End()

	started := time.Now().UTC()
	j.mu.Lock()
	j.rec.Status = store.StatusRunning
	j.rec.StartedAt = &started
	j.mu.Unlock()
	m.persist(j)
	m.logger.Debug("run started", zap.String("run_id", id))

	result, err := j.optimizer.Optimize(ctx)
	elapsed := time.Since(started)

	status := m.finish(j, result, err, elapsed)
	if status == store.StatusFailed {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.SetAttributes(attribute.String("run.status", string(status)))

	var iterations int
	var acceptance float64
	if result != nil {
		iterations = result.Iterations
		acceptance = result.AcceptanceRate
	}
	m.metrics.ObserveRun(schedule, string(status), elapsed, iterations, acceptance)
	if status == store.StatusCompleted && result != nil {
		m.metrics.ObserveBestEnergy(result.BestEnergy)
	}
}

// finish records the outcome, persists it and releases waiters. A deadline
// is a normal end of run: the partial result is kept and the run completes.
func (m *Manager) finish(j *job, result *optimization.Result, err error, elapsed time.Duration) store.Status {
	finished := time.Now().UTC()

	j.mu.Lock()
	switch {
	case err == nil:
		j.rec.Status = store.StatusCompleted
	case errors.Is(err, context.DeadlineExceeded) && !j.cancelRequested:
		j.rec.Status = store.StatusCompleted
	case errors.Is(err, context.Canceled) || j.cancelRequested:
		j.rec.Status = store.StatusCancelled
		j.rec.Error = "cancelled"
	default:
		j.rec.Status = store.StatusFailed
		j.rec.Error = err.Error()
	}
	if result != nil {
		j.rec.Result = result
		j.rec.Iteration = result.Iterations
		j.rec.BestEnergy = result.BestEnergy
	}
	if j.rec.Status == store.StatusCompleted {
		j.rec.Progress = 1
	}
	j.rec.FinishedAt = &finished
	status := j.rec.Status
	id := j.rec.ID
	j.mu.Unlock()

	m.persist(j)

	m.mu.Lock()
	delete(m.jobs, id)
	m.mu.Unlock()
	close(j.done)

	fields := []zap.Field{
		zap.String("run_id", id),
		zap.String("status", string(status)),
		zap.Duration("elapsed", elapsed),
	}
	if result != nil {
		fields = append(fields,
			zap.Int("iterations", result.Iterations),
			zap.Float64("best_energy", result.BestEnergy),
			zap.String("termination", string(result.Termination)))
	}
	if status == store.StatusFailed {
		m.logger.Error("run failed", append(fields, zap.Error(err))...)
	} else {
		m.logger.Info("run finished", fields...)
	}
	return status
}

func (m *Manager) live(id string) (*job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	return j, ok
}

// Get returns the current record of a run.
func (m *Manager) Get(ctx context.Context, id string) (*store.Record, error) {
	if j, ok := m.live(id); ok {
		return j.snapshot(), nil
	}
	return m.store.Get(ctx, id)
}

// List returns up to limit runs, newest first.
func (m *Manager) List(ctx context.Context, limit int) ([]*store.Record, error) {
	records, err := m.store.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	for i, rec := range records {
		if j, ok := m.live(rec.ID); ok {
			records[i] = j.snapshot()
		}
	}
	return records, nil
}

// Wait blocks until the run reaches a terminal status or ctx is done, and
// returns its record.
func (m *Manager) Wait(ctx context.Context, id string) (*store.Record, error) {
	if j, ok := m.live(id); ok {
		select {
		case <-j.done:
			return j.snapshot(), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return m.store.Get(ctx, id)
}

// Cancel stops a pending or running run. Cancelling a finished run is a
// conflict.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	j, ok := m.live(id)
	if !ok {
		rec, err := m.store.Get(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: run %s is %s", apperrors.ErrConflict, id, rec.Status)
	}

	j.mu.Lock()
	if j.rec.Status.Terminal() {
		status := j.rec.Status
		j.mu.Unlock()
		return fmt.Errorf("%w: run %s is %s", apperrors.ErrConflict, id, status)
	}
	j.cancelRequested = true
	j.mu.Unlock()

	j.optimizer.Stop()
	j.cancel()
	m.logger.Info("run cancellation requested", zap.String("run_id", id))
	return nil
}

// Delete removes the record of a finished run. Active runs must be
// cancelled first.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if _, ok := m.live(id); ok {
		return fmt.Errorf("%w: run %s is still active", apperrors.ErrConflict, id)
	}
	if err := m.store.Delete(ctx, id); err != nil {
		return err
	}
	m.logger.Info("run deleted", zap.String("run_id", id))
	return nil
}

// Recover marks runs left pending or running by a previous process as
// failed. It returns how many records it changed.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	records, err := m.store.List(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("list runs: %w", err)
	}

	n := 0
	for _, rec := range records {
		if rec.Status.Terminal() {
			continue
		}
		if _, ok := m.live(rec.ID); ok {
			continue
		}
		finished := time.Now().UTC()
		rec.Status = store.StatusFailed
		rec.Error = "interrupted by service restart"
		rec.FinishedAt = &finished
		if err := m.store.Put(ctx, rec); err != nil {
			return n, fmt.Errorf("mark run %s failed: %w", rec.ID, err)
		}
		n++
	}
	if n > 0 {
		m.logger.Warn("marked interrupted runs as failed", zap.Int("count", n))
	}
	return n, nil
}

// Close stops accepting runs, cancels the ones in flight and waits for them
// to persist their final state or for ctx to end.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	for _, j := range m.jobs {
		j.mu.Lock()
		j.cancelRequested = true
		j.mu.Unlock()
	}
	m.mu.Unlock()
	m.cancelAll()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
