package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveRun(t *testing.T) {
	m := New()

	m.ObserveRun("exponential", "completed", 120*time.Millisecond, 225, 0.4)
	m.ObserveRun("exponential", "completed", 80*time.Millisecond, 225, 0.5)
	m.ObserveRun("linear", "cancelled", time.Millisecond, 0, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.runsTotal.WithLabelValues("exponential", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsTotal.WithLabelValues("linear", "cancelled")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.runDuration))
	assert.Equal(t, 1, testutil.CollectAndCount(m.runIterations))
}

func TestJobGauges(t *testing.T) {
	m := New()

	m.JobQueued(1)
	m.JobQueued(-1)
	m.JobStarted()
	m.JobStarted()
	m.JobFinished()
	m.Rejected("rate_limited")

	assert.Equal(t, 0.0, testutil.ToFloat64(m.jobsQueued))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejected.WithLabelValues("rate_limited")))
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	m := New()

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/v1/status/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b", "c"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/status/"+id, nil))
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/api/v1/status/{id}", "404")))
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.ObserveRun("logarithmic", "failed", time.Second, 10, 0.1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `annealer_runs_total{outcome="failed",schedule="logarithmic"} 1`))
	assert.Contains(t, body, "go_goroutines")
}
