package annealing

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/copyleftdev/annealer/internal/optimization"
)

// Summarize describes the current energies sampled in history.
func Summarize(history []optimization.Evaluation) optimization.Summary {
	if len(history) == 0 {
		return optimization.Summary{}
	}

	energies := make([]float64, len(history))
	for i, ev := range history {
		energies[i] = ev.CurrentEnergy
	}

	mean, variance := stat.PopMeanVariance(energies, nil)
	return optimization.Summary{
		Samples:      len(energies),
		MeanEnergy:   mean,
		StdDevEnergy: math.Sqrt(variance),
		MinEnergy:    floats.Min(energies),
		MaxEnergy:    floats.Max(energies),
	}
}
