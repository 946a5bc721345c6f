package logging

import (
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	FormatJSON    = "json"
	FormatConsole = "console"
	// FormatAuto picks console output on a terminal and JSON otherwise.
	FormatAuto = "auto"
)

// Config selects the level, encoding and destination of a Logger.
type Config struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// Output is stdout, stderr or a file path. Files are appended to.
	Output string `yaml:"output"`
}

// DefaultConfig logs JSON at info level to stderr.
func DefaultConfig() *Config {
	return &Config{Level: "info", Format: FormatJSON, Output: "stderr"}
}

// NewLogger builds a Logger from cfg. An unknown level or format is an error.
func NewLogger(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	dest := cfg.Output
	if dest == "" {
		dest = "stderr"
	}
	format, err := resolveFormat(cfg.Format, dest)
	if err != nil {
		return nil, err
	}

	sink, _, err := zap.Open(dest)
	if err != nil {
		return nil, fmt.Errorf("open log output %q: %w", dest, err)
	}
	return newLogger(level, format, sink), nil
}

// ParseLevel reads a level name case-insensitively. An empty name is info.
func ParseLevel(name string) (LogLevel, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return InfoLevel, nil
	}
	if strings.EqualFold(name, "warning") {
		return WarnLevel, nil
	}
	lvl, err := zapcore.ParseLevel(name)
	if err != nil {
		return "", fmt.Errorf("unknown log level %q", name)
	}
	switch lvl {
	case zapcore.DebugLevel:
		return DebugLevel, nil
	case zapcore.InfoLevel:
		return InfoLevel, nil
	case zapcore.WarnLevel:
		return WarnLevel, nil
	case zapcore.ErrorLevel:
		return ErrorLevel, nil
	case zapcore.FatalLevel:
		return FatalLevel, nil
	default:
		return "", fmt.Errorf("unsupported log level %q", name)
	}
}

func resolveFormat(format, dest string) (string, error) {
	switch strings.ToLower(format) {
	case FormatJSON, "":
		return FormatJSON, nil
	case FormatConsole, "text":
		return FormatConsole, nil
	case FormatAuto:
		if isTerminal(dest) {
			return FormatConsole, nil
		}
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown log format %q", format)
	}
}

func isTerminal(dest string) bool {
	var f *os.File
	switch dest {
	case "stdout":
		f = os.Stdout
	case "stderr":
		f = os.Stderr
	default:
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
