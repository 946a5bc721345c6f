package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL" envDefault:"info"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	Store struct {
		Path       string `env:"STORE_PATH" envDefault:"data/runs"`
		InMemory   bool   `env:"STORE_IN_MEMORY" envDefault:"false"`
		SyncWrites bool   `env:"STORE_SYNC_WRITES" envDefault:"true"`
	}
	Optimization struct {
		WorkerCount        int           `env:"OPT_WORKER_COUNT" envDefault:"10"`
		RunTimeout         time.Duration `env:"OPT_RUN_TIMEOUT" envDefault:"5m"`
		MaxIterationsLimit int           `env:"OPT_MAX_ITERATIONS_LIMIT" envDefault:"1000000"`
		SubmitRate         float64       `env:"OPT_SUBMIT_RATE" envDefault:"20"`
		SubmitBurst        int           `env:"OPT_SUBMIT_BURST" envDefault:"40"`
	}
	Catalog struct {
		Dir   string `env:"CATALOG_DIR"`
		Watch bool   `env:"CATALOG_WATCH" envDefault:"false"`
	}
	Telemetry struct {
		Exporter     string `env:"OTEL_TRACES_EXPORTER" envDefault:"none"`
		OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
		ServiceName  string `env:"OTEL_SERVICE_NAME" envDefault:"annealer"`
	}
}

func Load() (*Config, error) {
	cfg := &Config{}

	// Parse environment variables
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Set default logging level based on environment
	if cfg.Environment == "development" && cfg.Logging.Level == "" {
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be in 1..65535, got %d", c.HTTP.Port)
	}
	if c.Optimization.WorkerCount <= 0 {
		return fmt.Errorf("OPT_WORKER_COUNT must be positive, got %d", c.Optimization.WorkerCount)
	}
	if c.Optimization.RunTimeout < 0 {
		return fmt.Errorf("OPT_RUN_TIMEOUT must not be negative, got %s", c.Optimization.RunTimeout)
	}
	if c.Optimization.MaxIterationsLimit < 0 {
		return fmt.Errorf("OPT_MAX_ITERATIONS_LIMIT must not be negative, got %d", c.Optimization.MaxIterationsLimit)
	}
	if c.Optimization.SubmitRate < 0 || c.Optimization.SubmitBurst < 0 {
		return fmt.Errorf("OPT_SUBMIT_RATE and OPT_SUBMIT_BURST must not be negative")
	}
	if !c.Store.InMemory && c.Store.Path == "" {
		return fmt.Errorf("STORE_PATH is required unless STORE_IN_MEMORY is set")
	}
	switch c.Telemetry.Exporter {
	case "none", "stdout", "otlp":
	default:
		return fmt.Errorf("OTEL_TRACES_EXPORTER must be one of none, stdout, otlp, got %q", c.Telemetry.Exporter)
	}
	return nil
}
