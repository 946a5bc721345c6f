package optimization

import (
	"errors"
	"fmt"
)

// Error represents an optimization error with context
// that can be wrapped with additional information.
type Error struct {
	// Message describes the error that occurred.
	Message string
	// Op is the operation that caused the error.
	Op string
	// Component is the component where the error occurred.
	Component string
	// Err is the underlying error that triggered this one, if any.
	Err error
}

// Error returns the string representation of the error.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var prefix string
	if e.Component != "" && e.Op != "" {
		prefix = fmt.Sprintf("%s: %s", e.Component, e.Op)
	} else if e.Component != "" {
		prefix = e.Component
	} else if e.Op != "" {
		prefix = e.Op
	}

	if e.Err != nil {
		if prefix != "" {
			return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}

	if prefix != "" {
		return fmt.Sprintf("%s: %s", prefix, e.Message)
	}
	return e.Message
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// InvalidConfigurationError is returned before a run starts when the
// annealing configuration, the problem, or the initial state is malformed.
type InvalidConfigurationError struct {
	Field  string
	Reason string
}

func (e *InvalidConfigurationError) Error() string {
	if e.Field == "" {
		return "invalid configuration: " + e.Reason
	}
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Reason)
}

// UnknownVariableTypeError is returned when the shape of a variable cannot be
// determined while building the candidate layout.
type UnknownVariableTypeError struct {
	Variable string
	Reason   string
}

func (e *UnknownVariableTypeError) Error() string {
	return fmt.Sprintf("unknown variable type for %q: %s", e.Variable, e.Reason)
}

// EvaluationError wraps any failure while scoring objectives or constraints.
type EvaluationError struct {
	// Term is the objective or constraint being evaluated, if known.
	Term string
	Err  error
}

func (e *EvaluationError) Error() string {
	if e.Term == "" {
		return fmt.Sprintf("evaluation failed: %v", e.Err)
	}
	return fmt.Sprintf("evaluation failed for %q: %v", e.Term, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// ErrMissingVariable is wrapped by EvaluationError when a term references a
// variable absent from the problem or the state.
var ErrMissingVariable = errors.New("missing variable")

// ErrNonFiniteEnergy is wrapped by EvaluationError when a state scores NaN or Inf.
var ErrNonFiniteEnergy = errors.New("non-finite energy")

// IsInvalidConfiguration reports whether err is, or wraps, an
// InvalidConfigurationError or an UnknownVariableTypeError. Both are
// detected before a run starts.
func IsInvalidConfiguration(err error) bool {
	var cfgErr *InvalidConfigurationError
	var shapeErr *UnknownVariableTypeError
	return errors.As(err, &cfgErr) || errors.As(err, &shapeErr)
}

// IsEvaluationError reports whether err is, or wraps, an EvaluationError.
func IsEvaluationError(err error) bool {
	var evalErr *EvaluationError
	return errors.As(err, &evalErr)
}
