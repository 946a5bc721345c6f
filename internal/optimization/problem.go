package optimization

import (
	"fmt"
	"math"
	"strings"
)

// Shape describes whether a variable holds a single value or a sequence.
type Shape string

const (
	// ShapeScalar is a single value in [0,1].
	ShapeScalar Shape = "scalar"
	// ShapeSequence is a fixed-length sequence of values in [0,1].
	ShapeSequence Shape = "sequence"
)

// Direction is the optimization sense of an objective.
type Direction string

const (
	Minimize Direction = "minimize"
	Maximize Direction = "maximize"
)

// ConstraintKind separates constraints that decide feasibility from
// constraints that only shape the energy landscape.
type ConstraintKind string

const (
	Hard ConstraintKind = "hard"
	Soft ConstraintKind = "soft"
)

// DefaultPenalty is added to the energy for a violated constraint that does
// not declare its own penalty.
const DefaultPenalty = 1000.0

// KnownVariables maps well-known variable names to their shapes. A variable
// declared without a shape is resolved against this table.
var KnownVariables = map[string]Variable{
	"timeline":              {Name: "timeline", Shape: ShapeScalar},
	"quality_targets":       {Name: "quality_targets", Shape: ShapeScalar},
	"risk_tolerance":        {Name: "risk_tolerance", Shape: ShapeScalar},
	"cost_efficiency":       {Name: "cost_efficiency", Shape: ShapeScalar},
	"resource_distribution": {Name: "resource_distribution", Shape: ShapeSequence, Length: 4},
	"specialist_allocation": {Name: "specialist_allocation", Shape: ShapeSequence, Length: 7},
}

// Variable is a named dimension of the search space.
type Variable struct {
	Name   string `json:"name" yaml:"name" validate:"required"`
	Shape  Shape  `json:"shape,omitempty" yaml:"shape,omitempty" validate:"omitempty,oneof=scalar sequence"`
	Length int    `json:"length,omitempty" yaml:"length,omitempty" validate:"gte=0"`
}

// Resolve returns the variable with a concrete shape and length.
// Scalars always have length 1.
func (v Variable) Resolve() (Variable, error) {
	shape := v.Shape
	length := v.Length

	if shape == "" {
		known, ok := KnownVariables[v.Name]
		if !ok {
			return v, &UnknownVariableTypeError{Variable: v.Name, Reason: "no shape declared and name is not a known variable"}
		}
		shape = known.Shape
		if length <= 0 {
			length = known.Length
		}
	}

	switch shape {
	case ShapeScalar:
		return Variable{Name: v.Name, Shape: ShapeScalar, Length: 1}, nil
	case ShapeSequence:
		if length <= 0 {
			if known, ok := KnownVariables[v.Name]; ok && known.Shape == ShapeSequence {
				length = known.Length
			}
		}
		if length <= 0 {
			return v, &UnknownVariableTypeError{Variable: v.Name, Reason: "sequence variable has no length"}
		}
		return Variable{Name: v.Name, Shape: ShapeSequence, Length: length}, nil
	default:
		return v, &UnknownVariableTypeError{Variable: v.Name, Reason: fmt.Sprintf("unsupported shape %q", shape)}
	}
}

// Objective is one weighted term of the energy.
type Objective struct {
	Name      string    `json:"name" yaml:"name" validate:"required"`
	Weight    float64   `json:"weight" yaml:"weight" validate:"gte=0"`
	Direction Direction `json:"direction" yaml:"direction" validate:"required,oneof=minimize maximize"`
}

// Constraint adds a flat penalty to the energy when its predicate is violated.
type Constraint struct {
	Name      string         `json:"name" yaml:"name" validate:"required"`
	Kind      ConstraintKind `json:"kind,omitempty" yaml:"kind,omitempty" validate:"omitempty,oneof=hard soft"`
	Threshold float64        `json:"threshold" yaml:"threshold"`
	Penalty   float64        `json:"penalty,omitempty" yaml:"penalty,omitempty" validate:"gte=0"`
}

// EffectivePenalty returns the declared penalty or DefaultPenalty.
func (c Constraint) EffectivePenalty() float64 {
	if c.Penalty == 0 {
		return DefaultPenalty
	}
	return c.Penalty
}

// EffectiveKind returns the declared kind, defaulting to Hard.
func (c Constraint) EffectiveKind() ConstraintKind {
	if c.Kind == "" {
		return Hard
	}
	return c.Kind
}

// Problem is an immutable description of what is being optimized.
// It is constructed once per request and only read afterwards.
type Problem struct {
	Name        string       `json:"name,omitempty" yaml:"name,omitempty"`
	Variables   []Variable   `json:"variables" yaml:"variables" validate:"required,min=1,dive"`
	Objectives  []Objective  `json:"objectives" yaml:"objectives" validate:"dive"`
	Constraints []Constraint `json:"constraints,omitempty" yaml:"constraints,omitempty" validate:"dive"`
}

// Validate checks the structure of the problem. Shapes are resolved later,
// when the candidate layout is built, because leniency is a run setting.
func (p *Problem) Validate() error {
	if err := validateStruct(p); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(p.Variables))
	for i, v := range p.Variables {
		if strings.TrimSpace(v.Name) == "" {
			return &InvalidConfigurationError{Field: fmt.Sprintf("problem.variables[%d].name", i), Reason: "must not be blank"}
		}
		if _, dup := seen[v.Name]; dup {
			return &InvalidConfigurationError{Field: fmt.Sprintf("problem.variables[%d].name", i), Reason: fmt.Sprintf("duplicate variable %q", v.Name)}
		}
		seen[v.Name] = struct{}{}
	}

	for i, o := range p.Objectives {
		if math.IsNaN(o.Weight) || math.IsInf(o.Weight, 0) {
			return &InvalidConfigurationError{Field: fmt.Sprintf("problem.objectives[%d].weight", i), Reason: "must be finite"}
		}
	}
	for i, c := range p.Constraints {
		if math.IsNaN(c.Threshold) || math.IsInf(c.Threshold, 0) {
			return &InvalidConfigurationError{Field: fmt.Sprintf("problem.constraints[%d].threshold", i), Reason: "must be finite"}
		}
	}

	return nil
}

// Variable looks up a declared variable by name.
func (p *Problem) Variable(name string) (Variable, bool) {
	for _, v := range p.Variables {
		if v.Name == name {
			return v, true
		}
	}
	return Variable{}, false
}

// ResolveLayout resolves the shape of every variable in declaration order.
// With lenient set, variables whose shape cannot be determined fall back to
// scalars and their names are returned in fallbacks.
func (p *Problem) ResolveLayout(lenient bool) (layout []Variable, fallbacks []string, err error) {
	layout = make([]Variable, 0, len(p.Variables))
	for _, v := range p.Variables {
		resolved, err := v.Resolve()
		if err != nil {
			if !lenient {
				return nil, nil, err
			}
			fallbacks = append(fallbacks, v.Name)
			resolved = Variable{Name: v.Name, Shape: ShapeScalar, Length: 1}
		}
		layout = append(layout, resolved)
	}
	return layout, fallbacks, nil
}
