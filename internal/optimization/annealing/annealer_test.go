package annealing

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/copyleftdev/annealer/internal/optimization"
	"github.com/copyleftdev/annealer/internal/optimization/schedule"
)

func timelineProblem() *optimization.Problem {
	return &optimization.Problem{
		Name:      "timeline",
		Variables: []optimization.Variable{{Name: "timeline"}},
		Objectives: []optimization.Objective{
			{Name: "minimize_total_duration", Weight: 1, Direction: optimization.Minimize},
		},
	}
}

func constructionProblem() *optimization.Problem {
	return &optimization.Problem{
		Name: "construction",
		Variables: []optimization.Variable{
			{Name: "timeline"},
			{Name: "quality_targets"},
			{Name: "resource_distribution"},
			{Name: "specialist_allocation"},
		},
		Objectives: []optimization.Objective{
			{Name: "minimize_total_duration", Weight: 1, Direction: optimization.Minimize},
			{Name: "maximize_quality", Weight: 2, Direction: optimization.Maximize},
			{Name: "minimize_cost", Weight: 1, Direction: optimization.Minimize},
			{Name: "balance_resources", Weight: 0.5, Direction: optimization.Minimize},
		},
		Constraints: []optimization.Constraint{
			{Name: "minimum_quality", Threshold: 0.6},
			{Name: "budget_limit", Kind: optimization.Soft, Threshold: 0.7, Penalty: 10},
		},
	}
}

func smallConfig() optimization.AnnealingConfig {
	cfg := optimization.DefaultAnnealingConfig()
	cfg.InitialTemperature = 10
	cfg.FinalTemperature = 1e-3
	cfg.CoolingRate = 0.99
	cfg.MaxIterations = 2000
	cfg.Seed = 42
	return cfg
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name    string
		problem *optimization.Problem
		mutate  func(*optimization.AnnealingConfig)
		check   func(t *testing.T, err error)
	}{
		{
			name:    "nil problem",
			problem: nil,
			check: func(t *testing.T, err error) {
				assert.True(t, optimization.IsInvalidConfiguration(err))
			},
		},
		{
			name:    "final above initial",
			problem: timelineProblem(),
			mutate:  func(c *optimization.AnnealingConfig) { c.FinalTemperature = 20 },
			check: func(t *testing.T, err error) {
				var cfgErr *optimization.InvalidConfigurationError
				require.True(t, errors.As(err, &cfgErr))
				assert.Equal(t, "config.final_temperature", cfgErr.Field)
			},
		},
		{
			name:    "cooling rate of one",
			problem: timelineProblem(),
			mutate:  func(c *optimization.AnnealingConfig) { c.CoolingRate = 1 },
			check: func(t *testing.T, err error) {
				var cfgErr *optimization.InvalidConfigurationError
				require.True(t, errors.As(err, &cfgErr))
				assert.Equal(t, "config.cooling_rate", cfgErr.Field)
			},
		},
		{
			name:    "zero iterations",
			problem: timelineProblem(),
			mutate:  func(c *optimization.AnnealingConfig) { c.MaxIterations = 0 },
			check: func(t *testing.T, err error) {
				assert.True(t, optimization.IsInvalidConfiguration(err))
			},
		},
		{
			name: "unknown shape",
			problem: &optimization.Problem{
				Variables: []optimization.Variable{{Name: "crane_count"}},
			},
			check: func(t *testing.T, err error) {
				var shapeErr *optimization.UnknownVariableTypeError
				require.True(t, errors.As(err, &shapeErr))
				assert.Equal(t, "crane_count", shapeErr.Variable)
			},
		},
		{
			name: "objective on undeclared variable",
			problem: &optimization.Problem{
				Variables:  []optimization.Variable{{Name: "timeline"}},
				Objectives: []optimization.Objective{{Name: "minimize_risk", Weight: 1, Direction: optimization.Minimize}},
			},
			check: func(t *testing.T, err error) {
				assert.True(t, optimization.IsEvaluationError(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := smallConfig()
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			a, err := New(tt.problem, cfg)
			require.Error(t, err)
			assert.Nil(t, a)
			tt.check(t, err)
		})
	}
}

func TestLenientShapesFallBackToScalar(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)

	p := &optimization.Problem{
		Variables:  []optimization.Variable{{Name: "crane_count"}, {Name: "timeline"}},
		Objectives: []optimization.Objective{{Name: "variable:crane_count", Weight: 1, Direction: optimization.Minimize}},
	}
	cfg := smallConfig()
	cfg.LenientShapes = true

	a, err := New(p, cfg, WithLogger(zap.New(core)))
	require.NoError(t, err)
	assert.Equal(t, []string{"crane_count"}, a.Fallbacks())
	assert.Equal(t, optimization.ShapeScalar, a.Layout()[0].Shape)
	assert.Equal(t, 1, logs.FilterField(zap.String("variable", "crane_count")).Len())

	result, err := a.Optimize(context.Background())
	require.NoError(t, err)
	assert.Len(t, result.BestState["crane_count"].Components, 1)
}

func TestDownhillMoveIsAccepted(t *testing.T) {
	cfg := smallConfig()
	cfg.MaxIterations = 1

	initial := optimization.State{"timeline": optimization.Scalar(0.5)}
	raise := func(dst, src optimization.State, _ float64) {
		dst["timeline"] = optimization.Scalar(src["timeline"].Float() * 1.1)
	}

	result, err := Anneal(context.Background(), timelineProblem(), cfg,
		WithInitialState(initial),
		WithNeighbor(raise),
	)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Iterations)
	assert.Equal(t, 1, result.Accepted)
	assert.Less(t, result.CurrentEnergy, result.InitialEnergy)
	assert.InDelta(t, 0.5, result.InitialEnergy, 1e-12)
	assert.InDelta(t, 0.45, result.CurrentEnergy, 1e-12)
	assert.Equal(t, optimization.TerminatedMaxIterations, result.Termination)
}

func TestBestEnergyIsMonotoneAndStatesStayClamped(t *testing.T) {
	cfg := smallConfig()
	cfg.MutationStrength = 0.8

	var (
		snapshots int
		lastBest  = math.Inf(1)
	)
	progress := func(p Progress) {
		snapshots++
		assert.LessOrEqual(t, p.BestEnergy, lastBest)
		assert.LessOrEqual(t, p.BestEnergy, p.CurrentEnergy)
		assert.True(t, p.State.InUnitInterval(), "state left [0,1] at iteration %d", p.Iteration)
		lastBest = p.BestEnergy
	}

	result, err := Anneal(context.Background(), constructionProblem(), cfg, WithProgress(1, progress))
	require.NoError(t, err)

	assert.Equal(t, result.Iterations, snapshots)
	assert.True(t, result.BestState.InUnitInterval())
	assert.LessOrEqual(t, result.BestEnergy, result.InitialEnergy)
	assert.InDelta(t, lastBest, result.BestEnergy, 0)
}

func TestRunTerminatesAtTemperatureFloor(t *testing.T) {
	cfg := smallConfig()

	result, err := Anneal(context.Background(), constructionProblem(), cfg)
	require.NoError(t, err)

	s, err := schedule.New(cfg.CoolingSchedule, cfg.ScheduleParams())
	require.NoError(t, err)
	expected := schedule.Steps(s, cfg.InitialTemperature, cfg.FinalTemperature, cfg.MaxIterations)

	assert.Equal(t, optimization.TerminatedTemperatureFloor, result.Termination)
	assert.Equal(t, expected, result.Iterations)
	assert.LessOrEqual(t, result.FinalTemperature, cfg.FinalTemperature)
	assert.InDelta(t, float64(result.Accepted)/float64(result.Iterations), result.AcceptanceRate, 1e-12)
}

func TestNonCoolingRunStopsAtIterationCap(t *testing.T) {
	cfg := smallConfig()
	cfg.CoolingRate = 1.0
	cfg.MaxIterations = 300

	a, err := build(timelineProblem(), cfg.WithDefaults())
	require.NoError(t, err)

	result, err := a.Optimize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 300, result.Iterations)
	assert.Equal(t, optimization.TerminatedMaxIterations, result.Termination)
	assert.Equal(t, cfg.InitialTemperature, result.FinalTemperature)
}

func TestScheduleSelectionChangesIterations(t *testing.T) {
	iterations := make(map[schedule.Kind]int)
	for _, kind := range schedule.Kinds {
		cfg := smallConfig()
		cfg.InitialTemperature = 100
		cfg.FinalTemperature = 1e-3
		cfg.CoolingRate = 0.95
		cfg.MaxIterations = 10000
		cfg.CoolingSchedule = kind

		result, err := Anneal(context.Background(), timelineProblem(), cfg)
		require.NoError(t, err, "schedule %s", kind)
		iterations[kind] = result.Iterations
	}

	assert.Equal(t, 225, iterations[schedule.Exponential])
	assert.Equal(t, 10000, iterations[schedule.Linear])
	assert.NotEqual(t, iterations[schedule.Exponential], iterations[schedule.Logarithmic])
	assert.NotEqual(t, iterations[schedule.Linear], iterations[schedule.Logarithmic])
}

func TestSameSeedIsDeterministic(t *testing.T) {
	for _, perturbation := range []optimization.Perturbation{optimization.PerturbUniform, optimization.PerturbGaussian} {
		t.Run(string(perturbation), func(t *testing.T) {
			cfg := smallConfig()
			cfg.Perturbation = perturbation

			first, err := Anneal(context.Background(), constructionProblem(), cfg)
			require.NoError(t, err)
			second, err := Anneal(context.Background(), constructionProblem(), cfg)
			require.NoError(t, err)

			assert.Equal(t, first.BestState, second.BestState)
			assert.Equal(t, first.BestEnergy, second.BestEnergy)
			assert.Equal(t, first.Accepted, second.Accepted)
			assert.Equal(t, first.History, second.History)
		})
	}
}

func TestDeadlineReturnsPartialResult(t *testing.T) {
	cfg := smallConfig()
	cfg.CoolingRate = 0.999999
	cfg.MaxIterations = math.MaxInt32
	cfg.TimeoutMs = 20

	start := time.Now()
	result, err := Anneal(context.Background(), constructionProblem(), cfg)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	require.NotNil(t, result)
	assert.Equal(t, optimization.TerminatedDeadline, result.Termination)
	assert.Greater(t, result.Iterations, 0)
	assert.NotNil(t, result.BestState)
}

func TestStopCancelsRun(t *testing.T) {
	cfg := smallConfig()
	cfg.CoolingRate = 0.999999
	cfg.MaxIterations = math.MaxInt32

	var a *Annealer
	stopAt := 100
	a, err := New(constructionProblem(), cfg, WithProgress(stopAt, func(p Progress) {
		a.Stop()
	}))
	require.NoError(t, err)

	result, err := a.Optimize(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, optimization.TerminatedCancelled, result.Termination)
	assert.Equal(t, stopAt, result.Iterations)

	best := a.GetBestSolution()
	require.NotNil(t, best)
	assert.Equal(t, result.BestEnergy, best.Energy)
}

func TestStopBeforeOptimize(t *testing.T) {
	a, err := New(timelineProblem(), smallConfig())
	require.NoError(t, err)
	a.Stop()

	result, err := a.Optimize(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, result.Iterations)
	assert.Equal(t, result.InitialEnergy, result.BestEnergy)
}

func TestInitialStateMustConform(t *testing.T) {
	tests := []struct {
		name  string
		state optimization.State
	}{
		{name: "out of range", state: optimization.State{"timeline": optimization.Scalar(1.5)}},
		{name: "missing", state: optimization.State{}},
		{name: "wrong shape", state: optimization.State{"timeline": optimization.Sequence(0.1, 0.2)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(timelineProblem(), smallConfig(), WithInitialState(tt.state))
			require.Error(t, err)
			assert.True(t, optimization.IsInvalidConfiguration(err))
		})
	}
}

func TestHistorySampling(t *testing.T) {
	cfg := smallConfig()
	cfg.HistoryInterval = 50

	a, err := New(constructionProblem(), cfg)
	require.NoError(t, err)
	result, err := a.Optimize(context.Background())
	require.NoError(t, err)

	history := a.GetHistory()
	require.NotEmpty(t, history)
	assert.Equal(t, result.History, history)
	assert.Equal(t, 0, history[0].Iteration)
	assert.Equal(t, 1+result.Iterations/50, len(history))
	for i := 1; i < len(history); i++ {
		assert.Equal(t, history[i-1].Iteration+50, history[i].Iteration)
		assert.LessOrEqual(t, history[i].BestEnergy, history[i-1].BestEnergy)
	}

	summary := Summarize(history)
	assert.Equal(t, len(history), summary.Samples)
	assert.LessOrEqual(t, summary.MinEnergy, summary.MeanEnergy)
	assert.GreaterOrEqual(t, summary.MaxEnergy, summary.MeanEnergy)
}

func TestHistoryBoundedForLongRuns(t *testing.T) {
	cfg := smallConfig()
	cfg.CoolingRate = 0.9999999
	cfg.MaxIterations = 500_000

	result, err := Anneal(context.Background(), timelineProblem(), cfg)
	require.NoError(t, err)
	assert.Equal(t, optimization.TerminatedMaxIterations, result.Termination)
	assert.Equal(t, 500_000, result.Iterations)
	assert.Len(t, result.History, optimization.MaxHistorySamples+1)
	assert.Equal(t, 500, result.History[1].Iteration)
}

func TestHistoryDisabled(t *testing.T) {
	cfg := smallConfig()
	cfg.HistoryInterval = -1

	result, err := Anneal(context.Background(), timelineProblem(), cfg)
	require.NoError(t, err)
	assert.Empty(t, result.History)
}

func TestFeasibilityReported(t *testing.T) {
	cfg := smallConfig()
	initial := optimization.State{
		"timeline":              optimization.Scalar(0.5),
		"quality_targets":       optimization.Scalar(0.1),
		"resource_distribution": optimization.Sequence(0.5, 0.5, 0.5, 0.5),
		"specialist_allocation": optimization.Sequence(0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5),
	}
	freeze := func(dst, src optimization.State, _ float64) {}

	result, err := Anneal(context.Background(), constructionProblem(), cfg,
		WithInitialState(initial), WithNeighbor(freeze))
	require.NoError(t, err)

	assert.False(t, result.Feasible)
	assert.Equal(t, []string{"minimum_quality"}, result.Violations)
	assert.Equal(t, 0, result.Improvements)
}

func TestRefineNeverWorsensBest(t *testing.T) {
	cfg := smallConfig()
	cfg.MaxIterations = 50
	cfg.Refine = true
	cfg.RefineEvaluations = 200

	result, err := Anneal(context.Background(), constructionProblem(), cfg)
	require.NoError(t, err)
	assert.Greater(t, result.RefineEvaluations, 0)
	assert.True(t, result.BestState.InUnitInterval())

	unrefined := cfg
	unrefined.Refine = false
	baseline, err := Anneal(context.Background(), constructionProblem(), unrefined)
	require.NoError(t, err)

	assert.LessOrEqual(t, result.BestEnergy, baseline.BestEnergy)
	if result.Refined {
		assert.Less(t, result.BestEnergy, baseline.BestEnergy)
	}
}

func TestProgressFraction(t *testing.T) {
	p := Progress{Iteration: 10, MaxIterations: 100, Temperature: 1, InitialTemperature: 100, FinalTemperature: 0.01}
	assert.InDelta(t, 0.5, p.Fraction(), 1e-12)

	p.Temperature = 100
	assert.InDelta(t, 0.1, p.Fraction(), 1e-12)

	p.Temperature = 0.001
	assert.Equal(t, 1.0, p.Fraction())
}
