package annealing

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/copyleftdev/annealer/internal/optimization"
)

// Generator produces random initial states and temperature-scaled neighbors
// for a resolved variable layout.
type Generator struct {
	layout      []optimization.Variable
	initialTemp float64
	strength    float64

	rng *rand.Rand
	// draw returns a sample from a symmetric unit-scale distribution.
	draw func() float64
}

// NewGenerator creates a generator. All randomness is taken from src.
func NewGenerator(layout []optimization.Variable, cfg optimization.AnnealingConfig, src rand.Source) *Generator {
	g := &Generator{
		layout:      layout,
		initialTemp: cfg.InitialTemperature,
		strength:    cfg.MutationStrength,
		rng:         rand.New(src),
	}

	switch cfg.Perturbation {
	case optimization.PerturbGaussian:
		g.draw = distuv.Normal{Mu: 0, Sigma: 1, Src: src}.Rand
	default:
		g.draw = distuv.Uniform{Min: -1, Max: 1, Src: src}.Rand
	}

	return g
}

// Initial returns a state with every component drawn uniformly from [0,1).
func (g *Generator) Initial() optimization.State {
	s := make(optimization.State, len(g.layout))
	for _, v := range g.layout {
		c := make([]float64, v.Length)
		for i := range c {
			c[i] = g.rng.Float64()
		}
		s[v.Name] = optimization.Value{Components: c, Sequence: v.Shape == optimization.ShapeSequence}
	}
	return s
}

// Scale returns the perturbation scale at the given temperature:
// sqrt(T/T0) times the mutation strength.
func (g *Generator) Scale(temperature float64) float64 {
	if temperature <= 0 || g.initialTemp <= 0 {
		return 0
	}
	return math.Sqrt(temperature/g.initialTemp) * g.strength
}

// Neighbor writes into dst a copy of src in which every component has been
// perturbed and clamped to [0,1].
func (g *Generator) Neighbor(dst, src optimization.State, temperature float64) {
	dst.CopyFrom(src)
	g.Perturb(dst, temperature)
}

// Perturb moves every component of s in place.
func (g *Generator) Perturb(s optimization.State, temperature float64) {
	scale := g.Scale(temperature)
	for _, v := range g.layout {
		c := s[v.Name].Components
		for i := range c {
			c[i] = optimization.Clamp01(c[i] + scale*g.draw())
		}
	}
}

// clamp forces every component of s into [0,1].
func clamp(s optimization.State) {
	for _, v := range s {
		for i, c := range v.Components {
			v.Components[i] = optimization.Clamp01(c)
		}
	}
}
