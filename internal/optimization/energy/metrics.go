package energy

import (
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	// VariablePrefix selects the mean of an arbitrary variable as an objective.
	VariablePrefix = "variable:"
	// MinPrefix and MaxPrefix build lower and upper bound constraints on the
	// mean of an arbitrary variable.
	MinPrefix = "min:"
	MaxPrefix = "max:"
)

// reducer maps the components of one variable to a raw quantity.
type reducer func(x []float64) float64

// metric reads a raw quantity in [0,1] from one variable of a state.
type metric struct {
	variable string
	reduce   reducer
}

func mean(x []float64) float64 {
	return stat.Mean(x, nil)
}

func complement(x []float64) float64 {
	return 1 - stat.Mean(x, nil)
}

// spread is four times the population variance, which maps allocations in
// [0,1] back onto [0,1].
func spread(x []float64) float64 {
	if len(x) < 2 {
		return 0
	}
	_, v := stat.PopMeanVariance(x, nil)
	return 4 * v
}

func minimum(x []float64) float64 {
	return floats.Min(x)
}

var objectiveMetrics = map[string]metric{
	"minimize_total_duration":  {variable: "timeline", reduce: complement},
	"maximize_quality":         {variable: "quality_targets", reduce: mean},
	"minimize_cost":            {variable: "resource_distribution", reduce: mean},
	"balance_resources":        {variable: "specialist_allocation", reduce: spread},
	"minimize_risk":            {variable: "risk_tolerance", reduce: mean},
	"maximize_cost_efficiency": {variable: "cost_efficiency", reduce: mean},
}

// predicate reports a violation given the raw quantity and the threshold.
type predicate func(r, threshold float64) bool

func below(r, threshold float64) bool { return r < threshold }
func above(r, threshold float64) bool { return r > threshold }

type rule struct {
	metric
	violated predicate
}

var constraintRules = map[string]rule{
	"minimum_quality":             {metric{"quality_targets", mean}, below},
	"maximum_duration":            {metric{"timeline", complement}, above},
	"budget_limit":                {metric{"resource_distribution", mean}, above},
	"minimum_specialist_coverage": {metric{"specialist_allocation", minimum}, below},
	"maximum_risk":                {metric{"risk_tolerance", mean}, above},
}

func lookupObjective(name string) (metric, bool) {
	if m, ok := objectiveMetrics[name]; ok {
		return m, true
	}
	if v, ok := strings.CutPrefix(name, VariablePrefix); ok && v != "" {
		return metric{variable: v, reduce: mean}, true
	}
	return metric{}, false
}

func lookupConstraint(name string) (rule, bool) {
	if r, ok := constraintRules[name]; ok {
		return r, true
	}
	if v, ok := strings.CutPrefix(name, MinPrefix); ok && v != "" {
		return rule{metric{v, mean}, below}, true
	}
	if v, ok := strings.CutPrefix(name, MaxPrefix); ok && v != "" {
		return rule{metric{v, mean}, above}, true
	}
	return rule{}, false
}

// ObjectiveNames lists the built-in objective names.
func ObjectiveNames() []string {
	return sortedKeys(objectiveMetrics)
}

// ConstraintNames lists the built-in constraint names.
func ConstraintNames() []string {
	return sortedKeys(constraintRules)
}
