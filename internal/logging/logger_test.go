package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observed(level zapcore.Level) (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return FromZap(zap.New(core)), logs
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(InfoLevel, &buf)

	logger.WithField("run_id", "abc").Info("run started", map[string]interface{}{"iterations": 225})
	logger.Debug("hidden")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "run started", entry["message"])
	assert.Equal(t, "abc", entry["run_id"])
	assert.EqualValues(t, 225, entry["iterations"])
	assert.Contains(t, entry, "timestamp")
}

func TestFieldsAndErrors(t *testing.T) {
	logger, logs := observed(zapcore.DebugLevel)

	logger.WithFields(map[string]interface{}{"component": "jobs"}).
		WithError(errors.New("boom")).
		Warn("run failed", map[string]interface{}{"cause": errors.New("deadline")})

	require.Equal(t, 1, logs.Len())
	ctx := logs.All()[0].ContextMap()
	assert.Equal(t, "jobs", ctx["component"])
	assert.Equal(t, "boom", ctx["error"])
	assert.Equal(t, "deadline", ctx["cause"])
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{in: "debug", want: DebugLevel},
		{in: "INFO", want: InfoLevel},
		{in: "", want: InfoLevel},
		{in: "warning", want: WarnLevel},
		{in: "Error", want: ErrorLevel},
		{in: "fatal", want: FatalLevel},
		{in: "panic", wantErr: true},
		{in: "verbose", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveFormat(t *testing.T) {
	tests := []struct {
		format, dest, want string
		wantErr            bool
	}{
		{format: "console", dest: "stderr", want: FormatConsole},
		{format: "text", dest: "stdout", want: FormatConsole},
		{format: "JSON", dest: "stderr", want: FormatJSON},
		{format: "", dest: "stderr", want: FormatJSON},
		{format: "auto", dest: "/var/log/annealer.log", want: FormatJSON},
		{format: "xml", dest: "stderr", wantErr: true},
	}
	for _, tt := range tests {
		got, err := resolveFormat(tt.format, tt.dest)
		if tt.wantErr {
			assert.Error(t, err, tt.format)
			continue
		}
		require.NoError(t, err, tt.format)
		assert.Equal(t, tt.want, got, tt.format)
	}
}

func TestNewLoggerRejectsUnknownSettings(t *testing.T) {
	_, err := NewLogger(&Config{Level: "loud"})
	assert.Error(t, err)

	_, err = NewLogger(&Config{Level: "info", Format: "xml"})
	assert.Error(t, err)

	_, err = NewLogger(&Config{Output: filepath.Join(t.TempDir(), "missing", "dir", "x.log")})
	assert.Error(t, err)
}

func TestNewLoggerFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "service.log")
	logger, err := NewLogger(&Config{Level: "warn", Format: "json", Output: path})
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("kept")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "dropped")
	assert.Contains(t, string(data), "kept")
}

func TestContextLogger(t *testing.T) {
	logger, logs := observed(zapcore.InfoLevel)
	ctx := (&CtxLogger{logger}).WithContext(context.Background())

	FromContext(ctx).Info("from context")
	assert.Equal(t, 1, logs.Len())

	assert.NotNil(t, FromContext(context.Background()))
}

func TestMiddleware(t *testing.T) {
	logger, logs := observed(zapcore.DebugLevel)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(Middleware(logger))
	r.Get("/api/v1/optimizations/{id}", func(w http.ResponseWriter, r *http.Request) {
		FromContext(r.Context()).Info("handler")
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/optimizations/xyz", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	handler := logs.FilterMessage("handler").All()
	require.Len(t, handler, 1)
	assert.NotEmpty(t, handler[0].ContextMap()["request_id"])

	done := logs.FilterMessage("Request completed").All()
	require.Len(t, done, 1)
	fields := done[0].ContextMap()
	assert.Equal(t, zapcore.WarnLevel, done[0].Level)
	assert.EqualValues(t, http.StatusNotFound, fields["status"])
	assert.Equal(t, "/api/v1/optimizations/{id}", fields["route"])
}
