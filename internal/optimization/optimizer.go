package optimization

import (
	"context"
)

// Optimizer defines the interface for optimization algorithms
type Optimizer interface {
	// Optimize runs the optimization process until it terminates, the
	// context is done, or Stop is called.
	Optimize(ctx context.Context) (*Result, error)

	// GetBestSolution returns the best solution found so far
	GetBestSolution() *Solution

	// GetHistory returns the sampled trajectory of the run
	GetHistory() []Evaluation

	// Stop gracefully stops the optimization process
	Stop()
}

// Termination records why a run left the RUNNING state.
type Termination string

const (
	TerminatedTemperatureFloor Termination = "temperature_floor"
	TerminatedMaxIterations    Termination = "max_iterations"
	TerminatedCancelled        Termination = "cancelled"
	TerminatedDeadline         Termination = "deadline"
)

// Solution is a candidate state together with its energy.
type Solution struct {
	State  State   `json:"state"`
	Energy float64 `json:"energy"`
}

// Evaluation is one sampled point of the run trajectory.
type Evaluation struct {
	Iteration     int     `json:"iteration"`
	Temperature   float64 `json:"temperature"`
	CurrentEnergy float64 `json:"current_energy"`
	BestEnergy    float64 `json:"best_energy"`
	Accepted      bool    `json:"accepted"`
}

// Result contains the outcome of an annealing run.
type Result struct {
	BestState        State   `json:"best_state"`
	BestEnergy       float64 `json:"best_energy"`
	Iterations       int     `json:"iterations"`
	FinalTemperature float64 `json:"final_temperature"`

	InitialEnergy  float64     `json:"initial_energy"`
	CurrentEnergy  float64     `json:"current_energy"`
	Accepted       int         `json:"accepted"`
	Improvements   int         `json:"improvements"`
	AcceptanceRate float64     `json:"acceptance_rate"`
	Termination    Termination `json:"termination"`

	Feasible     bool     `json:"feasible"`
	Violations   []string `json:"violations,omitempty"`
	Unrecognized []string `json:"unrecognized,omitempty"`

	Refined           bool `json:"refined,omitempty"`
	RefineEvaluations int  `json:"refine_evaluations,omitempty"`

	DurationMs int64        `json:"duration_ms"`
	History    []Evaluation `json:"history,omitempty"`
}

// Summary describes the sampled energies of a run.
type Summary struct {
	Samples      int     `json:"samples"`
	MeanEnergy   float64 `json:"mean_energy"`
	StdDevEnergy float64 `json:"stddev_energy"`
	MinEnergy    float64 `json:"min_energy"`
	MaxEnergy    float64 `json:"max_energy"`
}
