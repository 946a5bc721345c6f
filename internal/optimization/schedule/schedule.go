// Package schedule implements the cooling schedules that drive an annealing run.
package schedule

import (
	"fmt"
	"math"
)

// Kind selects a cooling schedule.
type Kind string

const (
	// Exponential multiplies the temperature by a constant rate each step.
	Exponential Kind = "exponential"
	// Linear subtracts initial/maxIterations each step.
	Linear Kind = "linear"
	// Logarithmic divides the temperature by 1+ln(1+k) at step k.
	Logarithmic Kind = "logarithmic"
)

// Kinds lists the supported schedules.
var Kinds = []Kind{Exponential, Linear, Logarithmic}

// Schedule maps the current temperature and step index to the next temperature.
// Implementations must never return a value above the current temperature.
type Schedule interface {
	// Next returns the temperature after step k.
	Next(temperature float64, k int) float64

	// Kind returns the schedule selector.
	Kind() Kind
}

// Params carries the configuration a schedule may need.
type Params struct {
	Initial       float64
	Final         float64
	Rate          float64
	MaxIterations int
}

// ExponentialSchedule implements T_{k+1} = T_k * rate.
type ExponentialSchedule struct {
	rate float64
}

// NewExponential creates an exponential schedule. A rate of 1 or more never
// cools; runs using it terminate only through the iteration cap.
func NewExponential(rate float64) *ExponentialSchedule {
	return &ExponentialSchedule{rate: rate}
}

// Next applies one exponential cooling step.
func (s *ExponentialSchedule) Next(temperature float64, _ int) float64 {
	next := temperature * s.rate
	if next > temperature {
		return temperature
	}
	return next
}

// Kind returns Exponential.
func (s *ExponentialSchedule) Kind() Kind { return Exponential }

// Rate returns the cooling rate.
func (s *ExponentialSchedule) Rate() float64 { return s.rate }

// LinearSchedule implements T_{k+1} = T_k - step, floored at zero.
type LinearSchedule struct {
	step float64
}

// NewLinear creates a linear schedule that would reach zero after maxIterations steps.
func NewLinear(initial float64, maxIterations int) *LinearSchedule {
	if maxIterations <= 0 {
		maxIterations = 1
	}
	return &LinearSchedule{step: initial / float64(maxIterations)}
}

// Next applies one linear cooling step.
func (s *LinearSchedule) Next(temperature float64, _ int) float64 {
	return math.Max(0, temperature-s.step)
}

// Kind returns Linear.
func (s *LinearSchedule) Kind() Kind { return Linear }

// Step returns the per-step decrement.
func (s *LinearSchedule) Step() float64 { return s.step }

// LogarithmicSchedule implements T_{k+1} = T_k / (1 + ln(1+k)).
type LogarithmicSchedule struct{}

// NewLogarithmic creates a logarithmic schedule.
func NewLogarithmic() *LogarithmicSchedule {
	return &LogarithmicSchedule{}
}

// Next applies one logarithmic cooling step. Step 0 leaves the temperature unchanged.
func (s *LogarithmicSchedule) Next(temperature float64, k int) float64 {
	if k < 0 {
		k = 0
	}
	return temperature / (1 + math.Log1p(float64(k)))
}

// Kind returns Logarithmic.
func (s *LogarithmicSchedule) Kind() Kind { return Logarithmic }

// New builds the schedule selected by kind. An empty kind selects Exponential.
func New(kind Kind, p Params) (Schedule, error) {
	switch kind {
	case Exponential, "":
		if p.Rate <= 0 {
			return nil, fmt.Errorf("exponential schedule requires a positive rate, got %v", p.Rate)
		}
		return NewExponential(p.Rate), nil
	case Linear:
		if p.Initial <= 0 {
			return nil, fmt.Errorf("linear schedule requires a positive initial temperature, got %v", p.Initial)
		}
		return NewLinear(p.Initial, p.MaxIterations), nil
	case Logarithmic:
		return NewLogarithmic(), nil
	default:
		return nil, fmt.Errorf("unknown cooling schedule %q", kind)
	}
}

// Generate returns the temperature sequence [T0, T1, ...] produced by s. The
// sequence stops once a temperature is at or below final, or after maxSteps
// cooling steps, whichever comes first.
func Generate(s Schedule, initial, final float64, maxSteps int) []float64 {
	out := []float64{initial}
	t := initial
	for k := 0; t > final && k < maxSteps; k++ {
		t = s.Next(t, k)
		out = append(out, t)
	}
	return out
}

// Steps counts the cooling steps Generate would take without materializing
// the sequence.
func Steps(s Schedule, initial, final float64, maxSteps int) int {
	t := initial
	k := 0
	for ; t > final && k < maxSteps; k++ {
		t = s.Next(t, k)
	}
	return k
}
