package optimization

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/annealer/internal/optimization/schedule"
)

func TestAnnealingConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *AnnealingConfig)
		field  string
	}{
		{name: "defaults", mutate: func(*AnnealingConfig) {}},
		{name: "zero initial", mutate: func(c *AnnealingConfig) { c.InitialTemperature = 0 }, field: "config.initial_temperature"},
		{name: "final above initial", mutate: func(c *AnnealingConfig) { c.FinalTemperature = 2000 }, field: "config.final_temperature"},
		{name: "zero final", mutate: func(c *AnnealingConfig) { c.FinalTemperature = 0 }, field: "config.final_temperature"},
		{name: "unknown schedule", mutate: func(c *AnnealingConfig) { c.CoolingSchedule = "cubic" }, field: "config.cooling_schedule"},
		{name: "zero iterations", mutate: func(c *AnnealingConfig) { c.MaxIterations = 0 }, field: "config.max_iterations"},
		{name: "rate of one", mutate: func(c *AnnealingConfig) { c.CoolingRate = 1 }, field: "config.cooling_rate"},
		{name: "rate ignored for linear", mutate: func(c *AnnealingConfig) {
			c.CoolingSchedule = schedule.Linear
			c.CoolingRate = 0
		}},
		{name: "boost below one", mutate: func(c *AnnealingConfig) { c.BoostFactor = 0.5 }, field: "config.boost_factor"},
		{name: "bad perturbation", mutate: func(c *AnnealingConfig) { c.Perturbation = "cauchy" }, field: "config.perturbation"},
		{name: "negative timeout", mutate: func(c *AnnealingConfig) { c.TimeoutMs = -1 }, field: "config.timeout_ms"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultAnnealingConfig()
			tt.mutate(&cfg)

			err := cfg.WithDefaults().Validate()
			if tt.field == "" {
				require.NoError(t, err)
				return
			}
			var cfgErr *InvalidConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestAnnealingConfigWithDefaults(t *testing.T) {
	cfg := AnnealingConfig{InitialTemperature: 10, FinalTemperature: 1, MaxIterations: 5}.WithDefaults()

	assert.Equal(t, schedule.Exponential, cfg.CoolingSchedule)
	assert.Equal(t, DefaultMutationStrength, cfg.MutationStrength)
	assert.Equal(t, DefaultBoostFactor, cfg.BoostFactor)
	assert.Equal(t, PerturbUniform, cfg.Perturbation)
	assert.Equal(t, DefaultRefineEvaluations, cfg.RefineEvaluations)
	assert.Equal(t, DefaultHistoryInterval, cfg.HistoryInterval)
	assert.Equal(t, -1, AnnealingConfig{HistoryInterval: -1}.WithDefaults().HistoryInterval)
	assert.Equal(t, 250*time.Millisecond, AnnealingConfig{TimeoutMs: 250}.Timeout())
}

func TestHistoryStride(t *testing.T) {
	tests := []struct {
		name     string
		interval int
		maxIter  int
		want     int
	}{
		{name: "short run keeps interval", interval: 10, maxIter: 2000, want: 10},
		{name: "long run widens", interval: 10, maxIter: 1_000_000, want: 1000},
		{name: "rounds up", interval: 1, maxIter: 1500, want: 2},
		{name: "disabled", interval: -1, maxIter: 1_000_000, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := AnnealingConfig{HistoryInterval: tt.interval, MaxIterations: tt.maxIter}
			assert.Equal(t, tt.want, cfg.HistoryStride())
		})
	}
}

func TestErrorFormatting(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := &Error{Op: "evaluate", Component: "annealing", Message: "scoring candidate", Err: cause}

	assert.Equal(t, "annealing: evaluate: scoring candidate: disk full", err.Error())
	assert.True(t, errors.Is(err, cause))

	evalErr := &EvaluationError{Term: "minimize_cost", Err: ErrMissingVariable}
	wrapped := &Error{Message: "run", Err: evalErr}
	assert.True(t, IsEvaluationError(wrapped))
	assert.True(t, errors.Is(wrapped, ErrMissingVariable))
	assert.False(t, IsInvalidConfiguration(wrapped))

	assert.Equal(t, "invalid configuration: config.cooling_rate must be positive",
		(&InvalidConfigurationError{Field: "config.cooling_rate", Reason: "must be positive"}).Error())
}
