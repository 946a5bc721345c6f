// Package energy scores candidate states against the weighted objectives and
// penalized constraints of a problem.
package energy

import (
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/copyleftdev/annealer/internal/optimization"
)

// Contribution is the share of one objective in the total energy.
type Contribution struct {
	Name         string  `json:"name"`
	Raw          float64 `json:"raw"`
	Contribution float64 `json:"contribution"`
}

// Breakdown explains how a state's energy was obtained.
type Breakdown struct {
	Energy     float64        `json:"energy"`
	Objectives []Contribution `json:"objectives"`
	Penalty    float64        `json:"penalty"`
	Violations []string       `json:"violations"`
	Feasible   bool           `json:"feasible"`
}

type objectiveTerm struct {
	name      string
	weight    float64
	direction optimization.Direction
	metric    metric
}

type constraintTerm struct {
	name      string
	kind      optimization.ConstraintKind
	threshold float64
	penalty   float64
	rule      rule
}

// Evaluator computes the energy of candidate states for one problem. It holds
// no mutable state and is safe for concurrent use.
type Evaluator struct {
	objectives   []objectiveTerm
	constraints  []constraintTerm
	unrecognized []string
}

// Compile resolves every objective and constraint of the problem to its
// metric. A recognized term that reads a variable the problem does not declare
// fails with an EvaluationError.
func Compile(p *optimization.Problem) (*Evaluator, error) {
	e := &Evaluator{}

	for _, o := range p.Objectives {
		m, ok := lookupObjective(o.Name)
		if !ok {
			e.unrecognized = append(e.unrecognized, o.Name)
			continue
		}
		if _, declared := p.Variable(m.variable); !declared {
			return nil, missingVariable(o.Name, m.variable)
		}
		e.objectives = append(e.objectives, objectiveTerm{
			name:      o.Name,
			weight:    o.Weight,
			direction: o.Direction,
			metric:    m,
		})
	}

	for _, c := range p.Constraints {
		r, ok := lookupConstraint(c.Name)
		if !ok {
			e.unrecognized = append(e.unrecognized, c.Name)
			continue
		}
		if _, declared := p.Variable(r.variable); !declared {
			return nil, missingVariable(c.Name, r.variable)
		}
		e.constraints = append(e.constraints, constraintTerm{
			name:      c.Name,
			kind:      c.EffectiveKind(),
			threshold: c.Threshold,
			penalty:   c.EffectivePenalty(),
			rule:      r,
		})
	}

	return e, nil
}

// Unrecognized returns the objective and constraint names that have no
// built-in metric. They contribute nothing to the energy.
func (e *Evaluator) Unrecognized() []string {
	return slices.Clone(e.unrecognized)
}

// Evaluate returns the energy of state. It does not modify state.
func (e *Evaluator) Evaluate(state optimization.State) (float64, error) {
	var total float64

	for _, o := range e.objectives {
		r, err := o.metric.read(o.name, state)
		if err != nil {
			return 0, err
		}
		total += o.weight * directed(o.direction, r)
	}

	for _, c := range e.constraints {
		r, err := c.rule.read(c.name, state)
		if err != nil {
			return 0, err
		}
		if c.rule.violated(r, c.threshold) {
			total += c.penalty
		}
	}

	if math.IsNaN(total) || math.IsInf(total, 0) {
		return 0, &optimization.EvaluationError{Err: optimization.ErrNonFiniteEnergy}
	}
	return total, nil
}

// Breakdown evaluates state and reports the contribution of every term.
func (e *Evaluator) Breakdown(state optimization.State) (Breakdown, error) {
	b := Breakdown{
		Objectives: make([]Contribution, 0, len(e.objectives)),
		Violations: []string{},
		Feasible:   true,
	}

	for _, o := range e.objectives {
		r, err := o.metric.read(o.name, state)
		if err != nil {
			return Breakdown{}, err
		}
		contrib := o.weight * directed(o.direction, r)
		b.Objectives = append(b.Objectives, Contribution{Name: o.name, Raw: r, Contribution: contrib})
		b.Energy += contrib
	}

	for _, c := range e.constraints {
		r, err := c.rule.read(c.name, state)
		if err != nil {
			return Breakdown{}, err
		}
		if !c.rule.violated(r, c.threshold) {
			continue
		}
		b.Penalty += c.penalty
		b.Violations = append(b.Violations, c.name)
		if c.kind == optimization.Hard {
			b.Feasible = false
		}
	}
	b.Energy += b.Penalty

	if math.IsNaN(b.Energy) || math.IsInf(b.Energy, 0) {
		return Breakdown{}, &optimization.EvaluationError{Err: optimization.ErrNonFiniteEnergy}
	}
	return b, nil
}

// directed applies the direction transform: minimized terms contribute r,
// maximized terms contribute 1-r.
func directed(d optimization.Direction, r float64) float64 {
	if d == optimization.Maximize {
		return 1 - r
	}
	return r
}

func (m metric) read(term string, state optimization.State) (float64, error) {
	x, ok := state.Components(m.variable)
	if !ok {
		return 0, missingVariable(term, m.variable)
	}
	if len(x) == 0 {
		return 0, &optimization.EvaluationError{Term: term, Err: fmt.Errorf("variable %q has no components", m.variable)}
	}
	return m.reduce(x), nil
}

func missingVariable(term, variable string) error {
	return &optimization.EvaluationError{
		Term: term,
		Err:  fmt.Errorf("%w %q", optimization.ErrMissingVariable, variable),
	}
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
