package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/copyleftdev/annealer/internal/catalog"
	"github.com/copyleftdev/annealer/internal/logging"
)

const (
	outputText = "text"
	outputJSON = "json"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	presetsDir string
	logLevel   string
	output     string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:           "annealctl",
		Short:         "Simulated annealing for construction decision problems",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			switch g.output {
			case outputText, outputJSON:
				return nil
			default:
				return fmt.Errorf("unknown output format %q (want text or json)", g.output)
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.presetsDir, "presets-dir", os.Getenv("OPT_PRESETS_DIR"), "directory of additional preset files")
	pf.StringVar(&g.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	pf.StringVarP(&g.output, "output", "o", outputText, "output format (text or json)")

	root.AddCommand(
		newRunCmd(g),
		newScheduleCmd(g),
		newPresetsCmd(g),
		newEvaluateCmd(g),
	)
	return root
}

// logger writes to stderr so that stdout only carries command output.
func (g *globalFlags) logger() (*logging.Logger, error) {
	return logging.NewLogger(&logging.Config{
		Level:  strings.ToUpper(g.logLevel),
		Format: "auto",
		Output: "stderr",
	})
}

func (g *globalFlags) catalog(logger *logging.Logger) (*catalog.Catalog, error) {
	return catalog.New(g.presetsDir, logger.Zap().Named("catalog"))
}

// loadPreset resolves the problem a command works on: a preset file given as
// the only argument, or a named preset from the catalog.
func (g *globalFlags) loadPreset(logger *logging.Logger, name string, args []string) (*catalog.Preset, error) {
	switch {
	case len(args) == 1 && name != "":
		return nil, fmt.Errorf("give either a problem file or --preset, not both")
	case len(args) == 1:
		return catalog.LoadFile(args[0])
	case name != "":
		cat, err := g.catalog(logger)
		if err != nil {
			return nil, err
		}
		return cat.Get(name)
	default:
		return nil, fmt.Errorf("a problem file or --preset is required")
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
