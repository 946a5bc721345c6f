// Package annealing implements the simulated annealing optimizer.
package annealing

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/copyleftdev/annealer/internal/optimization"
	"github.com/copyleftdev/annealer/internal/optimization/acceptance"
	"github.com/copyleftdev/annealer/internal/optimization/energy"
	"github.com/copyleftdev/annealer/internal/optimization/schedule"
)

const tracerName = "github.com/copyleftdev/annealer/internal/optimization/annealing"

// NeighborFunc writes a candidate into dst. On entry dst holds a copy of
// src. The loop clamps dst to [0,1] afterwards.
type NeighborFunc func(dst, src optimization.State, temperature float64)

// Progress is a snapshot of a running optimization.
type Progress struct {
	Iteration          int
	MaxIterations      int
	Temperature        float64
	InitialTemperature float64
	FinalTemperature   float64
	CurrentEnergy      float64
	BestEnergy         float64
	// State is the current state. It is reused by the run and must not be
	// retained after the callback returns.
	State optimization.State
}

// Fraction estimates completion as the larger of the iteration share and
// the share of the logarithmic temperature range already covered.
func (p Progress) Fraction() float64 {
	f := 0.0
	if p.MaxIterations > 0 {
		f = float64(p.Iteration) / float64(p.MaxIterations)
	}
	if p.InitialTemperature > p.FinalTemperature && p.FinalTemperature > 0 && p.Temperature > 0 {
		span := logRatio(p.InitialTemperature, p.FinalTemperature)
		if t := logRatio(p.InitialTemperature, p.Temperature) / span; t > f {
			f = t
		}
	}
	return optimization.Clamp01(f)
}

func logRatio(a, b float64) float64 {
	return math.Log(a / b)
}

// ProgressFunc receives progress snapshots from the run goroutine.
type ProgressFunc func(Progress)

// Option configures an Annealer.
type Option func(*Annealer)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Annealer) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithProgress registers fn to be called every `every` iterations.
func WithProgress(every int, fn ProgressFunc) Option {
	return func(a *Annealer) {
		if every < 1 {
			every = 1
		}
		a.progressEvery = every
		a.progress = fn
	}
}

// WithNeighbor replaces the default random perturbation.
func WithNeighbor(fn NeighborFunc) Option {
	return func(a *Annealer) {
		a.neighbor = fn
	}
}

// WithInitialState starts the run from s instead of a random state.
func WithInitialState(s optimization.State) Option {
	return func(a *Annealer) {
		a.initial = s.Clone()
	}
}

// WithTracer sets the tracer used for run spans.
func WithTracer(t trace.Tracer) Option {
	return func(a *Annealer) {
		if t != nil {
			a.tracer = t
		}
	}
}

// Annealer runs simulated annealing over one problem. A single Annealer is
// meant for one run at a time; independent runs use independent Annealers.
type Annealer struct {
	problem   *optimization.Problem
	config    optimization.AnnealingConfig
	layout    []optimization.Variable
	fallbacks []string

	evaluator *energy.Evaluator
	schedule  schedule.Schedule
	criterion acceptance.Criterion
	generator *Generator
	rng       *rand.Rand

	logger        *zap.Logger
	tracer        trace.Tracer
	progress      ProgressFunc
	progressEvery int
	neighbor      NeighborFunc
	initial       optimization.State

	mu      sync.Mutex
	best    *optimization.Solution
	history []optimization.Evaluation
	cancel  context.CancelFunc
	stopped bool
}

// New validates the problem and the configuration and prepares a run.
// Validation failures are InvalidConfigurationError or
// UnknownVariableTypeError; terms reading undeclared variables are
// EvaluationError.
func New(problem *optimization.Problem, cfg optimization.AnnealingConfig, opts ...Option) (*Annealer, error) {
	if problem == nil {
		return nil, &optimization.InvalidConfigurationError{Field: "problem", Reason: "is required"}
	}
	cfg = cfg.WithDefaults()
	if err := problem.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return build(problem, cfg, opts...)
}

// build assembles an Annealer without validating cfg.
func build(problem *optimization.Problem, cfg optimization.AnnealingConfig, opts ...Option) (*Annealer, error) {
	a := &Annealer{
		problem: problem,
		config:  cfg,
		logger:  zap.NewNop(),
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(a)
	}

	layout, fallbacks, err := problem.ResolveLayout(cfg.LenientShapes)
	if err != nil {
		return nil, err
	}
	a.layout = layout
	a.fallbacks = fallbacks
	for _, name := range fallbacks {
		a.logger.Warn("variable has no known shape, treating it as scalar",
			zap.String("variable", name))
	}

	if a.evaluator, err = energy.Compile(problem); err != nil {
		return nil, err
	}
	if a.schedule, err = schedule.New(cfg.CoolingSchedule, cfg.ScheduleParams()); err != nil {
		return nil, &optimization.InvalidConfigurationError{Field: "config.cooling_schedule", Reason: err.Error()}
	}
	a.criterion = acceptance.NewMetropolis(cfg.BoostFactor)

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	src := rand.NewPCG(uint64(seed), uint64(seed)>>1|1)
	a.rng = rand.New(src)
	a.generator = NewGenerator(layout, cfg, src)

	if a.initial != nil {
		if err := a.initial.Conforms(layout); err != nil {
			return nil, err
		}
	}

	return a, nil
}

// Anneal optimizes problem with cfg and returns the result of the run.
func Anneal(ctx context.Context, problem *optimization.Problem, cfg optimization.AnnealingConfig, opts ...Option) (*optimization.Result, error) {
	a, err := New(problem, cfg, opts...)
	if err != nil {
		return nil, err
	}
	return a.Optimize(ctx)
}

// Layout returns the resolved variable layout.
func (a *Annealer) Layout() []optimization.Variable {
	return append([]optimization.Variable(nil), a.layout...)
}

// Fallbacks returns the variables that were treated as scalars because their
// shape was unknown and the run is lenient.
func (a *Annealer) Fallbacks() []string {
	return append([]string(nil), a.fallbacks...)
}

// Evaluator returns the compiled energy function.
func (a *Annealer) Evaluator() *energy.Evaluator {
	return a.evaluator
}

// GetBestSolution returns a copy of the best solution found so far, or nil
// before the first evaluation.
func (a *Annealer) GetBestSolution() *optimization.Solution {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.best == nil {
		return nil
	}
	return &optimization.Solution{State: a.best.State.Clone(), Energy: a.best.Energy}
}

// GetHistory returns a copy of the sampled trajectory.
func (a *Annealer) GetHistory() []optimization.Evaluation {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]optimization.Evaluation(nil), a.history...)
}

// Stop cancels a running optimization. The run returns its partial result.
// Calling Stop before Optimize makes the next run stop immediately.
func (a *Annealer) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
	if a.cancel != nil {
		a.cancel()
	}
}

func (a *Annealer) setCancel(cancel context.CancelFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancel = cancel
	if a.stopped {
		cancel()
	}
}

func (a *Annealer) publishBest(state optimization.State, e float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.best = &optimization.Solution{State: state.Clone(), Energy: e}
}

func (a *Annealer) record(ev optimization.Evaluation) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append(a.history, ev)
}

// Optimize runs the annealing loop until the temperature reaches the floor,
// the iteration cap is hit, the deadline passes, or the run is cancelled.
// On cancellation or deadline the partial result is returned together with
// an error wrapping the context error.
func (a *Annealer) Optimize(ctx context.Context) (*optimization.Result, error) {
	cfg := a.config

	ctx, span := a.tracer.Start(ctx, "annealing.Optimize",
		trace.WithAttributes(
			attribute.String("annealing.problem", a.problem.Name),
			attribute.String("annealing.schedule", string(a.schedule.Kind())),
			attribute.Int("annealing.max_iterations", cfg.MaxIterations),
			attribute.Float64("annealing.initial_temperature", cfg.InitialTemperature),
		),
	)
	defer span.End()

	if timeout := cfg.Timeout(); timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, timeout)
		defer cancelTimeout()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.setCancel(cancel)

	a.mu.Lock()
	a.best = nil
	a.history = nil
	a.mu.Unlock()

	result, err := a.run(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	if result != nil {
		span.SetAttributes(
			attribute.Int("annealing.iterations", result.Iterations),
			attribute.Float64("annealing.best_energy", result.BestEnergy),
			attribute.String("annealing.termination", string(result.Termination)),
		)
	}
	return result, err
}

func (a *Annealer) run(ctx context.Context) (*optimization.Result, error) {
	cfg := a.config
	start := time.Now()
	pool := newStatePool(a.layout)

	current := pool.Get()
	if a.initial != nil {
		current.CopyFrom(a.initial)
	} else {
		current.CopyFrom(a.generator.Initial())
	}
	clamp(current)

	currentEnergy, err := a.evaluator.Evaluate(current)
	if err != nil {
		return nil, &optimization.Error{Op: "evaluate", Component: "annealing", Message: "scoring initial state", Err: err}
	}

	best := current.Clone()
	bestEnergy := currentEnergy
	a.publishBest(best, bestEnergy)

	result := &optimization.Result{
		InitialEnergy: currentEnergy,
		Unrecognized:  a.evaluator.Unrecognized(),
	}

	interval := cfg.HistoryStride()
	temperature := cfg.InitialTemperature
	if interval > 0 {
		a.record(optimization.Evaluation{Temperature: temperature, CurrentEnergy: currentEnergy, BestEnergy: bestEnergy})
	}

	a.logger.Debug("annealing run started",
		zap.String("problem", a.problem.Name),
		zap.String("schedule", string(a.schedule.Kind())),
		zap.Int("variables", len(a.layout)),
		zap.Float64("initial_energy", currentEnergy),
	)

	var ctxErr error
	k := 0
	for temperature > cfg.FinalTemperature && k < cfg.MaxIterations {
		if ctxErr = ctx.Err(); ctxErr != nil {
			break
		}

		candidate := pool.Get()
		candidate.CopyFrom(current)
		if a.neighbor != nil {
			a.neighbor(candidate, current, temperature)
			clamp(candidate)
		} else {
			a.generator.Perturb(candidate, temperature)
		}

		candidateEnergy, err := a.evaluator.Evaluate(candidate)
		if err != nil {
			return nil, &optimization.Error{Op: "evaluate", Component: "annealing", Message: "scoring candidate", Err: err}
		}

		accepted := acceptance.Accept(a.criterion, candidateEnergy-currentEnergy, temperature, a.rng.Float64())
		if accepted {
			pool.Put(current)
			current, currentEnergy = candidate, candidateEnergy
			result.Accepted++
			if currentEnergy < bestEnergy {
				best.CopyFrom(current)
				bestEnergy = currentEnergy
				result.Improvements++
				a.publishBest(best, bestEnergy)
			}
		} else {
			pool.Put(candidate)
		}

		temperature = a.schedule.Next(temperature, k)
		k++

		if interval > 0 && k%interval == 0 {
			a.record(optimization.Evaluation{
				Iteration:     k,
				Temperature:   temperature,
				CurrentEnergy: currentEnergy,
				BestEnergy:    bestEnergy,
				Accepted:      accepted,
			})
		}
		if a.progress != nil && k%a.progressEvery == 0 {
			a.progress(Progress{
				Iteration:          k,
				MaxIterations:      cfg.MaxIterations,
				Temperature:        temperature,
				InitialTemperature: cfg.InitialTemperature,
				FinalTemperature:   cfg.FinalTemperature,
				CurrentEnergy:      currentEnergy,
				BestEnergy:         bestEnergy,
				State:              current,
			})
		}
	}

	switch {
	case ctxErr != nil && errors.Is(ctxErr, context.DeadlineExceeded):
		result.Termination = optimization.TerminatedDeadline
	case ctxErr != nil:
		result.Termination = optimization.TerminatedCancelled
	case temperature <= cfg.FinalTemperature:
		result.Termination = optimization.TerminatedTemperatureFloor
	default:
		result.Termination = optimization.TerminatedMaxIterations
	}

	if cfg.Refine && ctxErr == nil {
		refined, refinedEnergy, evals, improved, err := a.refine(ctx, best, bestEnergy)
		if err != nil {
			return nil, &optimization.Error{Op: "refine", Component: "annealing", Message: "polishing best state", Err: err}
		}
		result.RefineEvaluations = evals
		if improved {
			best, bestEnergy = refined, refinedEnergy
			result.Refined = true
			a.publishBest(best, bestEnergy)
		}
	}

	breakdown, err := a.evaluator.Breakdown(best)
	if err != nil {
		return nil, &optimization.Error{Op: "evaluate", Component: "annealing", Message: "scoring best state", Err: err}
	}

	result.BestState = best
	result.BestEnergy = bestEnergy
	result.CurrentEnergy = currentEnergy
	result.Iterations = k
	result.FinalTemperature = temperature
	result.Feasible = breakdown.Feasible
	if len(breakdown.Violations) > 0 {
		result.Violations = breakdown.Violations
	}
	if k > 0 {
		result.AcceptanceRate = float64(result.Accepted) / float64(k)
	}
	result.DurationMs = time.Since(start).Milliseconds()
	result.History = a.GetHistory()

	a.logger.Debug("annealing run finished",
		zap.String("problem", a.problem.Name),
		zap.String("termination", string(result.Termination)),
		zap.Int("iterations", k),
		zap.Float64("best_energy", bestEnergy),
		zap.Float64("acceptance_rate", result.AcceptanceRate),
	)

	if ctxErr != nil {
		return result, &optimization.Error{Op: "optimize", Component: "annealing", Message: "run interrupted", Err: ctxErr}
	}
	return result, nil
}
