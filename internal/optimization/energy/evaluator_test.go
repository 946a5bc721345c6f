package energy

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/annealer/internal/optimization"
)

func constructionProblem() *optimization.Problem {
	return &optimization.Problem{
		Name: "construction",
		Variables: []optimization.Variable{
			{Name: "timeline"},
			{Name: "quality_targets"},
			{Name: "resource_distribution"},
			{Name: "specialist_allocation"},
			{Name: "risk_tolerance"},
		},
	}
}

func constructionState() optimization.State {
	return optimization.State{
		"timeline":              optimization.Scalar(0.4),
		"quality_targets":       optimization.Scalar(0.7),
		"resource_distribution": optimization.Sequence(0.2, 0.4, 0.6, 0.8),
		"specialist_allocation": optimization.Sequence(0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5),
		"risk_tolerance":        optimization.Scalar(0.3),
	}
}

func TestObjectiveContributions(t *testing.T) {
	tests := []struct {
		name      string
		objective optimization.Objective
		expected  float64
	}{
		{
			name:      "duration minimized",
			objective: optimization.Objective{Name: "minimize_total_duration", Weight: 1, Direction: optimization.Minimize},
			expected:  0.6,
		},
		{
			name:      "quality maximized",
			objective: optimization.Objective{Name: "maximize_quality", Weight: 2, Direction: optimization.Maximize},
			expected:  2 * 0.3,
		},
		{
			name:      "cost minimized",
			objective: optimization.Objective{Name: "minimize_cost", Weight: 1, Direction: optimization.Minimize},
			expected:  0.5,
		},
		{
			name:      "balanced specialists",
			objective: optimization.Objective{Name: "balance_resources", Weight: 3, Direction: optimization.Minimize},
			expected:  0,
		},
		{
			name:      "risk minimized",
			objective: optimization.Objective{Name: "minimize_risk", Weight: 0.5, Direction: optimization.Minimize},
			expected:  0.15,
		},
		{
			name:      "generic variable",
			objective: optimization.Objective{Name: "variable:resource_distribution", Weight: 1, Direction: optimization.Maximize},
			expected:  0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := constructionProblem()
			p.Objectives = []optimization.Objective{tt.objective}

			e, err := Compile(p)
			require.NoError(t, err)

			got, err := e.Evaluate(constructionState())
			require.NoError(t, err)
			assert.InDelta(t, tt.expected, got, 1e-12)
		})
	}
}

func TestBalanceResourcesPenalizesSpread(t *testing.T) {
	p := constructionProblem()
	p.Objectives = []optimization.Objective{{Name: "balance_resources", Weight: 1, Direction: optimization.Minimize}}
	e, err := Compile(p)
	require.NoError(t, err)

	state := constructionState()
	state["specialist_allocation"] = optimization.Sequence(0, 1, 0, 1, 0, 1, 0)

	got, err := e.Evaluate(state)
	require.NoError(t, err)
	assert.Greater(t, got, 0.9)
	assert.LessOrEqual(t, got, 1.0)
}

func TestConstraintPenalties(t *testing.T) {
	tests := []struct {
		name       string
		constraint optimization.Constraint
		violated   bool
	}{
		{name: "quality satisfied", constraint: optimization.Constraint{Name: "minimum_quality", Threshold: 0.6}},
		{name: "quality violated", constraint: optimization.Constraint{Name: "minimum_quality", Threshold: 0.8}, violated: true},
		{name: "duration violated", constraint: optimization.Constraint{Name: "maximum_duration", Threshold: 0.5}, violated: true},
		{name: "budget satisfied", constraint: optimization.Constraint{Name: "budget_limit", Threshold: 0.55}},
		{name: "budget violated", constraint: optimization.Constraint{Name: "budget_limit", Threshold: 0.4}, violated: true},
		{name: "coverage violated", constraint: optimization.Constraint{Name: "minimum_specialist_coverage", Threshold: 0.6}, violated: true},
		{name: "risk satisfied", constraint: optimization.Constraint{Name: "maximum_risk", Threshold: 0.3}},
		{name: "generic min", constraint: optimization.Constraint{Name: "min:risk_tolerance", Threshold: 0.5}, violated: true},
		{name: "generic max", constraint: optimization.Constraint{Name: "max:timeline", Threshold: 0.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := constructionProblem()
			p.Constraints = []optimization.Constraint{tt.constraint}

			e, err := Compile(p)
			require.NoError(t, err)

			b, err := e.Breakdown(constructionState())
			require.NoError(t, err)

			if tt.violated {
				assert.Equal(t, optimization.DefaultPenalty, b.Energy)
				assert.Equal(t, []string{tt.constraint.Name}, b.Violations)
				assert.False(t, b.Feasible)
			} else {
				assert.Zero(t, b.Energy)
				assert.Empty(t, b.Violations)
				assert.True(t, b.Feasible)
			}
		})
	}
}

func TestSoftConstraintKeepsFeasibility(t *testing.T) {
	p := constructionProblem()
	p.Constraints = []optimization.Constraint{
		{Name: "minimum_quality", Kind: optimization.Soft, Threshold: 0.9, Penalty: 5},
	}
	e, err := Compile(p)
	require.NoError(t, err)

	b, err := e.Breakdown(constructionState())
	require.NoError(t, err)
	assert.Equal(t, 5.0, b.Energy)
	assert.Equal(t, 5.0, b.Penalty)
	assert.True(t, b.Feasible)
	assert.Equal(t, []string{"minimum_quality"}, b.Violations)
}

func TestUnrecognizedTermsAreNeutral(t *testing.T) {
	p := constructionProblem()
	p.Objectives = []optimization.Objective{
		{Name: "maximize_synergy", Weight: 10, Direction: optimization.Maximize},
		{Name: "minimize_risk", Weight: 1, Direction: optimization.Minimize},
	}
	p.Constraints = []optimization.Constraint{{Name: "hoai_phase_order", Threshold: 1}}

	e, err := Compile(p)
	require.NoError(t, err)
	assert.Equal(t, []string{"maximize_synergy", "hoai_phase_order"}, e.Unrecognized())

	got, err := e.Evaluate(constructionState())
	require.NoError(t, err)
	assert.InDelta(t, 0.3, got, 1e-12)
}

func TestCompileRejectsUndeclaredVariable(t *testing.T) {
	p := &optimization.Problem{
		Variables:  []optimization.Variable{{Name: "timeline"}},
		Objectives: []optimization.Objective{{Name: "maximize_quality", Weight: 1, Direction: optimization.Maximize}},
	}

	_, err := Compile(p)
	require.Error(t, err)
	assert.True(t, optimization.IsEvaluationError(err))
	assert.True(t, errors.Is(err, optimization.ErrMissingVariable))
}

func TestEvaluateFailsOnMissingStateVariable(t *testing.T) {
	p := constructionProblem()
	p.Objectives = []optimization.Objective{{Name: "minimize_risk", Weight: 1, Direction: optimization.Minimize}}
	e, err := Compile(p)
	require.NoError(t, err)

	state := constructionState()
	delete(state, "risk_tolerance")

	_, err = e.Evaluate(state)
	require.Error(t, err)

	var evalErr *optimization.EvaluationError
	require.True(t, errors.As(err, &evalErr))
	assert.Equal(t, "minimize_risk", evalErr.Term)
}

func TestEvaluateFailsOnNonFiniteEnergy(t *testing.T) {
	p := constructionProblem()
	p.Objectives = []optimization.Objective{{Name: "minimize_risk", Weight: 1, Direction: optimization.Minimize}}
	e, err := Compile(p)
	require.NoError(t, err)

	state := constructionState()
	state["risk_tolerance"] = optimization.Scalar(math.NaN())

	_, err = e.Evaluate(state)
	require.Error(t, err)
	assert.True(t, errors.Is(err, optimization.ErrNonFiniteEnergy))
}

func TestEvaluateIsPure(t *testing.T) {
	p := constructionProblem()
	p.Objectives = []optimization.Objective{
		{Name: "minimize_total_duration", Weight: 1, Direction: optimization.Minimize},
		{Name: "balance_resources", Weight: 1, Direction: optimization.Minimize},
	}
	p.Constraints = []optimization.Constraint{{Name: "budget_limit", Threshold: 0.1}}
	e, err := Compile(p)
	require.NoError(t, err)

	state := constructionState()
	before := state.Clone()

	first, err := e.Evaluate(state)
	require.NoError(t, err)
	second, err := e.Evaluate(state)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, before, state)
}

func TestBreakdownMatchesEvaluate(t *testing.T) {
	p := constructionProblem()
	p.Objectives = []optimization.Objective{
		{Name: "minimize_total_duration", Weight: 1, Direction: optimization.Minimize},
		{Name: "maximize_quality", Weight: 2, Direction: optimization.Maximize},
	}
	p.Constraints = []optimization.Constraint{{Name: "maximum_duration", Threshold: 0.5, Penalty: 50}}
	e, err := Compile(p)
	require.NoError(t, err)

	energy, err := e.Evaluate(constructionState())
	require.NoError(t, err)
	b, err := e.Breakdown(constructionState())
	require.NoError(t, err)

	assert.InDelta(t, energy, b.Energy, 1e-12)
	assert.Len(t, b.Objectives, 2)
	assert.Equal(t, 50.0, b.Penalty)
}

func TestBuiltinNames(t *testing.T) {
	assert.Contains(t, ObjectiveNames(), "balance_resources")
	assert.Contains(t, ConstraintNames(), "minimum_specialist_coverage")
	assert.IsIncreasing(t, ObjectiveNames())
}

func TestConstraintViolationRaisesEnergyByPenalty(t *testing.T) {
	p := constructionProblem()
	p.Objectives = []optimization.Objective{{Name: "maximize_quality", Weight: 1, Direction: optimization.Maximize}}
	p.Constraints = []optimization.Constraint{{Name: "minimum_quality", Threshold: 0.95, Penalty: 1000}}
	e, err := Compile(p)
	require.NoError(t, err)

	low := constructionState()
	low["quality_targets"] = optimization.Scalar(0.80)
	high := constructionState()
	high["quality_targets"] = optimization.Scalar(0.96)

	lowEnergy, err := e.Evaluate(low)
	require.NoError(t, err)
	highEnergy, err := e.Evaluate(high)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, lowEnergy-highEnergy, 1000.0)
}
