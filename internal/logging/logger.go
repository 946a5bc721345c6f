// Package logging provides structured logging for the annealer service.
package logging

import (
	"context"
	"io"
	"os"
	"sort"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel is the minimum severity a Logger writes.
type LogLevel string

// Levels in increasing severity. Info is the default.
const (
	DebugLevel LogLevel = "DEBUG"
	InfoLevel  LogLevel = "INFO"
	WarnLevel  LogLevel = "WARN"
	ErrorLevel LogLevel = "ERROR"
	// FatalLevel entries exit the process after they are written.
	FatalLevel LogLevel = "FATAL"
)

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	case FatalLevel:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// Logger represents an active logging object. It wraps a *zap.Logger and
// keeps the map-of-fields API used by the service layer.
type Logger struct {
	z *zap.Logger
}

// New writes JSON entries at level and above to output.
func New(level LogLevel, output io.Writer) *Logger {
	return newLogger(level, FormatJSON, output)
}

// FromZap wraps an existing zap logger.
func FromZap(z *zap.Logger) *Logger {
	if z == nil {
		z = zap.NewNop()
	}
	return &Logger{z: z}
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return FromZap(zap.NewNop())
}

func newLogger(level LogLevel, format string, output io.Writer) *Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.MessageKey = "message"
	encCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder

	var enc zapcore.Encoder
	if format == FormatConsole {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	if enc == nil {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(output), level.zapLevel())
	return &Logger{z: zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))}
}

// Zap returns the underlying zap logger for packages that log through zap
// directly.
func (l *Logger) Zap() *zap.Logger {
	return l.z.WithOptions(zap.AddCallerSkip(-1))
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.z.Sync()
}

// WithFields returns a child Logger that adds fields to every entry.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{z: l.z.With(toZapFields(fields)...)}
}

func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{z: l.z.With(zap.Any(key, value))}
}

func (l *Logger) WithError(err error) *Logger {
	return &Logger{z: l.z.With(zap.Error(err))}
}

// Debug, Info, Warn and Error write msg with the first field map, if any.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.z.Debug(msg, firstFields(fields)...)
}

func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.z.Info(msg, firstFields(fields)...)
}

func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.z.Warn(msg, firstFields(fields)...)
}

func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.z.Error(msg, firstFields(fields)...)
}

// Fatal writes msg and exits with status 1.
func (l *Logger) Fatal(msg string, fields ...map[string]interface{}) {
	l.z.Fatal(msg, firstFields(fields)...)
}

func firstFields(fields []map[string]interface{}) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	return toZapFields(fields[0])
}

// toZapFields converts a field map in key order so output is stable.
func toZapFields(fields map[string]interface{}) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		if err, ok := fields[k].(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, fields[k]))
	}
	return out
}

// CtxLogger is the Logger carried by a request context.
type CtxLogger struct {
	*Logger
}

// FromContext returns the request logger, or an info-level stderr logger
// when ctx carries none.
func FromContext(ctx context.Context) *CtxLogger {
	if cl, ok := ctx.Value(ctxLoggerKey{}).(*CtxLogger); ok {
		return cl
	}
	return &CtxLogger{Logger: New(InfoLevel, os.Stderr)}
}

// FromContextOr returns the logger stored in ctx, or fallback when there is
// none.
func FromContextOr(ctx context.Context, fallback *Logger) *Logger {
	if cl, ok := ctx.Value(ctxLoggerKey{}).(*CtxLogger); ok {
		return cl.Logger
	}
	return fallback
}

// WithContext stores l in a child of ctx.
func (l *CtxLogger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxLoggerKey{}, l)
}

type ctxLoggerKey struct{}
