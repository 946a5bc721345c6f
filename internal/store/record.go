package store

import (
	"time"

	"github.com/copyleftdev/annealer/internal/optimization"
)

// Status is the lifecycle state of an optimization job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Record is the persisted state of one optimization job.
type Record struct {
	ID     string `json:"id"`
	Status Status `json:"status"`
	Preset string `json:"preset,omitempty"`

	Problem      optimization.Problem         `json:"problem"`
	Config       optimization.AnnealingConfig `json:"config"`
	InitialState optimization.State           `json:"initial_state,omitempty"`

	Progress   float64 `json:"progress"`
	Iteration  int     `json:"iteration"`
	BestEnergy float64 `json:"best_energy,omitempty"`

	Result *optimization.Result `json:"result,omitempty"`
	Error  string               `json:"error,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Clone returns a copy that shares no mutable state with r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Problem.Variables = append([]optimization.Variable(nil), r.Problem.Variables...)
	out.Problem.Objectives = append([]optimization.Objective(nil), r.Problem.Objectives...)
	out.Problem.Constraints = append([]optimization.Constraint(nil), r.Problem.Constraints...)
	out.InitialState = r.InitialState.Clone()
	if r.Result != nil {
		res := *r.Result
		res.BestState = r.Result.BestState.Clone()
		res.Violations = append([]string(nil), r.Result.Violations...)
		res.Unrecognized = append([]string(nil), r.Result.Unrecognized...)
		res.History = append([]optimization.Evaluation(nil), r.Result.History...)
		out.Result = &res
	}
	if r.StartedAt != nil {
		t := *r.StartedAt
		out.StartedAt = &t
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		out.FinishedAt = &t
	}
	return &out
}
