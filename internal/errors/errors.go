// Package errors classifies service errors for the HTTP and JSON-RPC
// transports and carries stack traces for server-side failures.
package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"

	"github.com/copyleftdev/annealer/internal/catalog"
	"github.com/copyleftdev/annealer/internal/optimization"
	"github.com/copyleftdev/annealer/internal/store"
)

// JSON-RPC error codes. The -32xxx application codes mirror the HTTP status
// they map to.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeServerError    = -32000
	CodeEvaluation     = -32001
	CodeNotFound       = -32004
	CodeConflict       = -32009
	CodeRateLimited    = -32029
)

// StatusClientClosedRequest answers a request whose client went away first.
const StatusClientClosedRequest = 499

var (
	// ErrNotFound marks a missing run, preset or record.
	ErrNotFound = stderrors.New("not found")
	// ErrConflict marks an operation that does not fit the current run state.
	ErrConflict = stderrors.New("conflict")
	// ErrRateLimited marks a rejected submission.
	ErrRateLimited = stderrors.New("rate limited")
	// ErrInvalidInput marks a malformed request.
	ErrInvalidInput = stderrors.New("invalid input")
)

// Error is a classified failure. Status and Code are what the REST and
// JSON-RPC transports answer with.
type Error struct {
	Err     error
	Message string
	Status  int
	Code    int
	// Stack is captured for server errors only.
	Stack []string
}

func (e *Error) Error() string {
	switch {
	case e.Err == nil:
		return e.Message
	case e.Message == "":
		return e.Err.Error()
	default:
		return e.Message + ": " + e.Err.Error()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Internal reports whether e is a server-side failure.
func (e *Error) Internal() bool {
	return e.Status >= http.StatusInternalServerError
}

// Public returns the message shown to API clients. Server errors hide the
// underlying cause.
func (e *Error) Public() string {
	if !e.Internal() {
		if s := e.Error(); s != "" {
			return s
		}
		return http.StatusText(e.Status)
	}
	if e.Message != "" {
		return e.Message
	}
	return http.StatusText(e.Status)
}

// Internalf returns a server error with a formatted message and the
// caller's stack.
func Internalf(format string, args ...interface{}) *Error {
	return &Error{
		Message: fmt.Sprintf(format, args...),
		Status:  http.StatusInternalServerError,
		Code:    CodeServerError,
		Stack:   callers(),
	}
}

// Wrap classifies err and attaches msg. A nil err gives nil.
func Wrap(err error, msg string) *Error {
	if err == nil {
		return nil
	}
	e := classify(err)
	e.Message = msg
	return e
}

// FromError returns err as an *Error, classifying it when it is not one
// already.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}
	return classify(err)
}

func classify(err error) *Error {
	e := &Error{Err: err}
	switch {
	case optimization.IsInvalidConfiguration(err), stderrors.Is(err, ErrInvalidInput):
		e.Status, e.Code = http.StatusBadRequest, CodeInvalidParams
	case optimization.IsEvaluationError(err):
		e.Status, e.Code = http.StatusUnprocessableEntity, CodeEvaluation
	case stderrors.Is(err, ErrNotFound), stderrors.Is(err, store.ErrNotFound), stderrors.Is(err, catalog.ErrNotFound):
		e.Status, e.Code = http.StatusNotFound, CodeNotFound
	case stderrors.Is(err, ErrConflict):
		e.Status, e.Code = http.StatusConflict, CodeConflict
	case stderrors.Is(err, ErrRateLimited):
		e.Status, e.Code = http.StatusTooManyRequests, CodeRateLimited
	case stderrors.Is(err, context.DeadlineExceeded):
		e.Status, e.Code = http.StatusGatewayTimeout, CodeServerError
	case stderrors.Is(err, context.Canceled):
		e.Status, e.Code = StatusClientClosedRequest, CodeServerError
	default:
		e.Status, e.Code = http.StatusInternalServerError, CodeServerError
		e.Stack = callers()
	}
	return e
}

// WriteJSON writes err as a JSON body with its HTTP status.
func WriteJSON(w http.ResponseWriter, err error) {
	e := FromError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": e.Public(),
		"code":  e.Status,
	})
}

// callers lists the frames above the package's own functions.
func callers() []string {
	pcs := make([]uintptr, 32)
	pcs = pcs[:runtime.Callers(2, pcs)]
	var out []string
	frames := runtime.CallersFrames(pcs)
	for frame, more := frames.Next(); ; frame, more = frames.Next() {
		if frame.Function != "" && !strings.HasPrefix(frame.Function, "runtime.") &&
			!strings.Contains(frame.Function, "/internal/errors.") {
			out = append(out, fmt.Sprintf("%s (%s:%d)", frame.Function, frame.File, frame.Line))
		}
		if !more {
			return out
		}
	}
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}
