package optimization

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Value is the value of one variable in a candidate state: a scalar, or an
// ordered sequence of sub-allocations.
type Value struct {
	Components []float64
	Sequence   bool
}

// Scalar builds a scalar value.
func Scalar(v float64) Value {
	return Value{Components: []float64{v}}
}

// Sequence builds a sequence value. The slice is copied.
func Sequence(vs ...float64) Value {
	return Value{Components: append([]float64(nil), vs...), Sequence: true}
}

// Float returns the first component, or 0 for an empty value.
func (v Value) Float() float64 {
	if len(v.Components) == 0 {
		return 0
	}
	return v.Components[0]
}

// Clone returns a deep copy.
func (v Value) Clone() Value {
	return Value{Components: append([]float64(nil), v.Components...), Sequence: v.Sequence}
}

// MarshalJSON encodes scalars as numbers and sequences as arrays.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.Sequence {
		return json.Marshal(v.Float())
	}
	if v.Components == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(v.Components)
}

// UnmarshalJSON accepts a number or an array of numbers.
func (v *Value) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*v = Scalar(f)
		return nil
	}
	var fs []float64
	if err := json.Unmarshal(data, &fs); err != nil {
		return fmt.Errorf("value must be a number or an array of numbers: %w", err)
	}
	*v = Value{Components: fs, Sequence: true}
	return nil
}

// MarshalYAML writes scalars as numbers and sequences as lists.
func (v Value) MarshalYAML() (interface{}, error) {
	if v.Sequence {
		return v.Components, nil
	}
	return v.Float(), nil
}

// UnmarshalYAML accepts a number or a sequence of numbers.
func (v *Value) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var f float64
	if err := unmarshal(&f); err == nil {
		*v = Scalar(f)
		return nil
	}
	var fs []float64
	if err := unmarshal(&fs); err != nil {
		return fmt.Errorf("value must be a number or a list of numbers: %w", err)
	}
	*v = Value{Components: fs, Sequence: true}
	return nil
}

// State maps variable names to values. It is a point in the search space.
type State map[string]Value

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	if s == nil {
		return nil
	}
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v.Clone()
	}
	return out
}

// CopyFrom overwrites s with the contents of src, reusing component slices
// whenever their lengths match.
func (s State) CopyFrom(src State) {
	for k, v := range src {
		dst, ok := s[k]
		if ok && len(dst.Components) == len(v.Components) {
			copy(dst.Components, v.Components)
			dst.Sequence = v.Sequence
			s[k] = dst
			continue
		}
		s[k] = v.Clone()
	}
	for k := range s {
		if _, ok := src[k]; !ok {
			delete(s, k)
		}
	}
}

// Components returns the components of a variable.
func (s State) Components(name string) ([]float64, bool) {
	v, ok := s[name]
	if !ok {
		return nil, false
	}
	return v.Components, true
}

// Names returns the variable names in sorted order.
func (s State) Names() []string {
	names := make([]string, 0, len(s))
	for k := range s {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// InUnitInterval reports whether every component lies in [0,1].
func (s State) InUnitInterval() bool {
	for _, v := range s {
		for _, c := range v.Components {
			if !(c >= 0 && c <= 1) {
				return false
			}
		}
	}
	return true
}

// Conforms checks that the state matches a resolved layout: every variable is
// present with the right shape and length, and every component is in [0,1].
func (s State) Conforms(layout []Variable) error {
	for _, v := range layout {
		val, ok := s[v.Name]
		if !ok {
			return &InvalidConfigurationError{Field: "initial_state." + v.Name, Reason: "missing"}
		}
		if (v.Shape == ShapeSequence) != val.Sequence {
			return &InvalidConfigurationError{Field: "initial_state." + v.Name, Reason: fmt.Sprintf("expected %s", v.Shape)}
		}
		if len(val.Components) != v.Length {
			return &InvalidConfigurationError{Field: "initial_state." + v.Name, Reason: fmt.Sprintf("expected %d components, got %d", v.Length, len(val.Components))}
		}
		for i, c := range val.Components {
			if math.IsNaN(c) || c < 0 || c > 1 {
				return &InvalidConfigurationError{Field: fmt.Sprintf("initial_state.%s[%d]", v.Name, i), Reason: "must lie in [0,1]"}
			}
		}
	}
	return nil
}

// Clamp01 clamps x into [0,1]. NaN maps to 0.
func Clamp01(x float64) float64 {
	if math.IsNaN(x) || x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
