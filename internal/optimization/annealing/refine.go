package annealing

import (
	"context"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/optimize"

	"github.com/copyleftdev/annealer/internal/optimization"
)

// refine polishes the best state with a bounded Nelder-Mead search over the
// flattened components. Every probe is clamped to [0,1]. The refined state
// is reported only if it strictly improves on bestEnergy.
func (a *Annealer) refine(ctx context.Context, best optimization.State, bestEnergy float64) (optimization.State, float64, int, bool, error) {
	x0 := a.flatten(best)
	if len(x0) == 0 {
		return nil, 0, 0, false, nil
	}

	scratch := best.Clone()
	var evalErr error

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			a.unflatten(scratch, x)
			e, err := a.evaluator.Evaluate(scratch)
			if err != nil {
				if evalErr == nil {
					evalErr = err
				}
				return math.Inf(1)
			}
			return e
		},
		Status: func() (optimize.Status, error) {
			if evalErr != nil {
				return optimize.Failure, evalErr
			}
			if err := ctx.Err(); err != nil {
				return optimize.Failure, err
			}
			return optimize.NotTerminated, nil
		},
	}

	settings := &optimize.Settings{
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-9,
			Relative:   1e-9,
			Iterations: 50,
		},
		FuncEvaluations: a.config.RefineEvaluations,
	}

	method := &optimize.NelderMead{
		Reflection:  1.0,
		Expansion:   2.0,
		Contraction: 0.5,
		Shrink:      0.5,
		SimplexSize: 0.05,
	}

	result, err := optimize.Minimize(problem, x0, settings, method)
	if evalErr != nil {
		return nil, 0, 0, false, evalErr
	}
	if result == nil {
		return nil, 0, 0, false, err
	}
	if err != nil {
		a.logger.Debug("refinement stopped early", zap.Error(err))
	}

	evaluations := result.Stats.FuncEvaluations
	if !(result.F < bestEnergy) {
		return nil, 0, evaluations, false, nil
	}

	refined := best.Clone()
	a.unflatten(refined, result.X)
	refinedEnergy, err := a.evaluator.Evaluate(refined)
	if err != nil {
		return nil, 0, evaluations, false, err
	}
	if refinedEnergy >= bestEnergy {
		return nil, 0, evaluations, false, nil
	}

	a.logger.Debug("refinement improved best state",
		zap.Float64("before", bestEnergy),
		zap.Float64("after", refinedEnergy),
		zap.Int("evaluations", evaluations),
	)
	return refined, refinedEnergy, evaluations, true, nil
}

// flatten lays the components of s out in layout order.
func (a *Annealer) flatten(s optimization.State) []float64 {
	var x []float64
	for _, v := range a.layout {
		x = append(x, s[v.Name].Components...)
	}
	return x
}

// unflatten writes x back into s in layout order, clamping every component.
func (a *Annealer) unflatten(s optimization.State, x []float64) {
	i := 0
	for _, v := range a.layout {
		c := s[v.Name].Components
		for j := range c {
			c[j] = optimization.Clamp01(x[i])
			i++
		}
	}
}
