package errors

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/copyleftdev/annealer/internal/logging"
)

// RecoveryMiddleware returns a middleware that recovers from panics and
// answers with a JSON 500.
func RecoveryMiddleware(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				logger.Error("Recovered from panic", map[string]interface{}{
					"error":  fmt.Sprint(rec),
					"stack":  string(debug.Stack()),
					"method": r.Method,
					"path":   r.URL.Path,
					"query":  r.URL.RawQuery,
				})

				WriteJSON(w, Internalf("internal server error"))
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// Log records err at a level matching its classification. Server errors
// carry their stack trace.
func Log(logger *logging.Logger, err error, fields map[string]interface{}) {
	e := FromError(err)
	if e == nil {
		return
	}
	entry := make(map[string]interface{}, len(fields)+3)
	for k, v := range fields {
		entry[k] = v
	}
	entry["status"] = e.Status
	entry["error"] = e.Error()

	if e.Internal() {
		if len(e.Stack) > 0 {
			entry["stack"] = e.Stack
		}
		logger.Error("Request error", entry)
		return
	}
	logger.Debug("Request rejected", entry)
}
