// Package acceptance decides whether an annealing run moves to a proposed state.
package acceptance

import (
	"math"
)

// Criterion computes the probability of moving to a candidate whose energy
// differs from the current one by delta.
type Criterion interface {
	Probability(delta, temperature float64) float64
}

// Metropolis implements the Metropolis criterion with a multiplicative boost.
//
// Worse moves are accepted with probability min(1, exp(-delta/T) * Boost).
// The boost was historically described as a tunneling term computed as
// min(1, classical*Boost) and combined with max(tunneling, classical); for
// Boost >= 1 that collapses to the expression above, so it is nothing more
// than a scaled Metropolis probability.
type Metropolis struct {
	// Boost multiplies the classical acceptance probability. Values below 1
	// are treated as 1.
	Boost float64
}

// NewMetropolis creates a Metropolis criterion with the given boost.
func NewMetropolis(boost float64) *Metropolis {
	return &Metropolis{Boost: boost}
}

// Probability returns the acceptance probability for an energy change delta
// at the given temperature. Improving moves always have probability 1.
func (m *Metropolis) Probability(delta, temperature float64) float64 {
	if delta < 0 {
		return 1
	}
	if temperature <= 0 || math.IsNaN(delta) {
		return 0
	}

	classical := math.Exp(-delta / temperature)
	boost := m.Boost
	if boost < 1 {
		boost = 1
	}
	return math.Min(1, classical*boost)
}

// Accept decides a move given a uniform draw u in [0,1). Improving moves are
// accepted without consuming the draw's value.
func Accept(c Criterion, delta, temperature, u float64) bool {
	if delta < 0 {
		return true
	}
	return u < c.Probability(delta, temperature)
}
