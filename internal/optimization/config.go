package optimization

import (
	"time"

	"github.com/copyleftdev/annealer/internal/optimization/schedule"
)

// Perturbation selects the symmetric distribution used for neighbor moves.
type Perturbation string

const (
	PerturbUniform  Perturbation = "uniform"
	PerturbGaussian Perturbation = "gaussian"
)

const (
	// DefaultMutationStrength scales neighbor perturbations at T = T0.
	DefaultMutationStrength = 0.1
	// DefaultBoostFactor multiplies the Metropolis acceptance probability.
	DefaultBoostFactor = 1.2
	// DefaultRefineEvaluations bounds the local refinement pass.
	DefaultRefineEvaluations = 500
	// DefaultHistoryInterval is the sampling interval of the run trajectory.
	DefaultHistoryInterval = 10
	// MaxHistorySamples bounds the trajectory of one run, not counting the
	// initial sample.
	MaxHistorySamples = 1000
)

// AnnealingConfig contains the parameters of a single annealing run.
type AnnealingConfig struct {
	InitialTemperature float64       `json:"initial_temperature" yaml:"initial_temperature" validate:"gt=0"`
	FinalTemperature   float64       `json:"final_temperature" yaml:"final_temperature" validate:"gt=0,ltfield=InitialTemperature"`
	CoolingSchedule    schedule.Kind `json:"cooling_schedule" yaml:"cooling_schedule" validate:"omitempty,oneof=exponential linear logarithmic"`
	CoolingRate        float64       `json:"cooling_rate" yaml:"cooling_rate"`
	MaxIterations      int           `json:"max_iterations" yaml:"max_iterations" validate:"gt=0"`

	MutationStrength float64      `json:"mutation_strength,omitempty" yaml:"mutation_strength,omitempty" validate:"gte=0"`
	BoostFactor      float64      `json:"boost_factor,omitempty" yaml:"boost_factor,omitempty" validate:"gte=0"`
	Perturbation     Perturbation `json:"perturbation,omitempty" yaml:"perturbation,omitempty" validate:"omitempty,oneof=uniform gaussian"`

	// Seed makes runs reproducible. Zero selects a time-based seed.
	Seed int64 `json:"seed,omitempty" yaml:"seed,omitempty"`
	// TimeoutMs bounds the wall-clock duration of the run. Zero disables it.
	TimeoutMs int64 `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty" validate:"gte=0"`
	// LenientShapes falls back to scalars for variables of unknown shape.
	LenientShapes bool `json:"lenient_shapes,omitempty" yaml:"lenient_shapes,omitempty"`

	Refine            bool `json:"refine,omitempty" yaml:"refine,omitempty"`
	RefineEvaluations int  `json:"refine_evaluations,omitempty" yaml:"refine_evaluations,omitempty" validate:"gte=0"`
	// HistoryInterval samples the trajectory every N iterations. Zero selects
	// DefaultHistoryInterval and a negative value disables history.
	HistoryInterval int `json:"history_interval,omitempty" yaml:"history_interval,omitempty"`
}

// DefaultAnnealingConfig returns the configuration used when a caller does not
// provide one.
func DefaultAnnealingConfig() AnnealingConfig {
	return AnnealingConfig{
		InitialTemperature: 1000,
		FinalTemperature:   0.01,
		CoolingSchedule:    schedule.Exponential,
		CoolingRate:        0.95,
		MaxIterations:      10000,
		MutationStrength:   DefaultMutationStrength,
		BoostFactor:        DefaultBoostFactor,
		Perturbation:       PerturbUniform,
		RefineEvaluations:  DefaultRefineEvaluations,
		HistoryInterval:    DefaultHistoryInterval,
	}
}

// WithDefaults fills optional zero fields.
func (c AnnealingConfig) WithDefaults() AnnealingConfig {
	if c.CoolingSchedule == "" {
		c.CoolingSchedule = schedule.Exponential
	}
	if c.MutationStrength == 0 {
		c.MutationStrength = DefaultMutationStrength
	}
	if c.BoostFactor == 0 {
		c.BoostFactor = DefaultBoostFactor
	}
	if c.Perturbation == "" {
		c.Perturbation = PerturbUniform
	}
	if c.RefineEvaluations == 0 {
		c.RefineEvaluations = DefaultRefineEvaluations
	}
	if c.HistoryInterval == 0 {
		c.HistoryInterval = DefaultHistoryInterval
	}
	return c
}

// HistoryStride returns the effective sampling interval: HistoryInterval,
// widened so that a run records at most MaxHistorySamples samples. Zero
// means no history is recorded.
func (c AnnealingConfig) HistoryStride() int {
	if c.HistoryInterval <= 0 {
		return 0
	}
	return max(c.HistoryInterval, (c.MaxIterations+MaxHistorySamples-1)/MaxHistorySamples)
}

// Validate reports the first invalid field as an InvalidConfigurationError.
// It expects defaults to have been applied.
func (c AnnealingConfig) Validate() error {
	if err := validateStruct(c); err != nil {
		return err
	}
	if c.CoolingSchedule == schedule.Exponential && (c.CoolingRate <= 0 || c.CoolingRate >= 1) {
		return &InvalidConfigurationError{Field: "config.cooling_rate", Reason: "must lie in (0,1) for the exponential schedule"}
	}
	if c.BoostFactor < 1 {
		return &InvalidConfigurationError{Field: "config.boost_factor", Reason: "must be at least 1"}
	}
	if c.MutationStrength <= 0 {
		return &InvalidConfigurationError{Field: "config.mutation_strength", Reason: "must be greater than 0"}
	}
	return nil
}

// Timeout returns the run deadline as a duration.
func (c AnnealingConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// ScheduleParams returns the parameters needed to build the cooling schedule.
func (c AnnealingConfig) ScheduleParams() schedule.Params {
	return schedule.Params{
		Initial:       c.InitialTemperature,
		Final:         c.FinalTemperature,
		Rate:          c.CoolingRate,
		MaxIterations: c.MaxIterations,
	}
}
