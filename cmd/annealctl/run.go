package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/copyleftdev/annealer/internal/optimization"
	"github.com/copyleftdev/annealer/internal/optimization/annealing"
	"github.com/copyleftdev/annealer/internal/optimization/schedule"
)

// configFlags override fields of a preset's run configuration. Only flags set
// on the command line are applied.
type configFlags struct {
	schedule      string
	initialTemp   float64
	finalTemp     float64
	rate          float64
	maxIterations int
	mutation      float64
	boost         float64
	perturbation  string
	seed          int64
	timeout       time.Duration
	refine        bool
	lenient       bool
}

func (f *configFlags) register(cmd *cobra.Command) {
	def := optimization.DefaultAnnealingConfig()
	fs := cmd.Flags()
	fs.StringVar(&f.schedule, "schedule", string(def.CoolingSchedule), "cooling schedule (exponential, linear, logarithmic)")
	fs.Float64Var(&f.initialTemp, "initial-temp", def.InitialTemperature, "initial temperature")
	fs.Float64Var(&f.finalTemp, "final-temp", def.FinalTemperature, "final temperature")
	fs.Float64Var(&f.rate, "rate", def.CoolingRate, "cooling rate of the exponential schedule")
	fs.IntVar(&f.maxIterations, "max-iterations", def.MaxIterations, "iteration cap")
	fs.Float64Var(&f.mutation, "mutation", def.MutationStrength, "neighbor perturbation strength at the initial temperature")
	fs.Float64Var(&f.boost, "boost", def.BoostFactor, "acceptance probability multiplier")
	fs.StringVar(&f.perturbation, "perturbation", string(def.Perturbation), "neighbor distribution (uniform, gaussian)")
	fs.Int64Var(&f.seed, "seed", 0, "random seed, 0 for a time-based seed")
	fs.DurationVar(&f.timeout, "timeout", 0, "wall-clock limit of the run, 0 for none")
	fs.BoolVar(&f.refine, "refine", false, "polish the best state with a local search")
	fs.BoolVar(&f.lenient, "lenient", false, "treat variables of unknown shape as scalars")
}

func (f *configFlags) apply(cmd *cobra.Command, cfg optimization.AnnealingConfig) optimization.AnnealingConfig {
	changed := cmd.Flags().Changed
	if changed("schedule") {
		cfg.CoolingSchedule = schedule.Kind(f.schedule)
	}
	if changed("initial-temp") {
		cfg.InitialTemperature = f.initialTemp
	}
	if changed("final-temp") {
		cfg.FinalTemperature = f.finalTemp
	}
	if changed("rate") {
		cfg.CoolingRate = f.rate
	}
	if changed("max-iterations") {
		cfg.MaxIterations = f.maxIterations
	}
	if changed("mutation") {
		cfg.MutationStrength = f.mutation
	}
	if changed("boost") {
		cfg.BoostFactor = f.boost
	}
	if changed("perturbation") {
		cfg.Perturbation = optimization.Perturbation(f.perturbation)
	}
	if changed("seed") {
		cfg.Seed = f.seed
	}
	if changed("timeout") {
		cfg.TimeoutMs = f.timeout.Milliseconds()
	}
	if changed("refine") {
		cfg.Refine = f.refine
	}
	if changed("lenient") {
		cfg.LenientShapes = f.lenient
	}
	return cfg
}

func newRunCmd(g *globalFlags) *cobra.Command {
	var (
		preset   string
		progress bool
		history  bool
		cf       configFlags
	)

	cmd := &cobra.Command{
		Use:   "run [problem.yaml]",
		Short: "Optimize a problem file or a named preset",
		Long: `Run simulated annealing on a problem and print the best state found.

The problem is read from a preset file (YAML or JSON) or taken from the
catalog with --preset. Flags override the preset's run configuration.
Interrupting the run prints the best state found so far.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := g.logger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			p, err := g.loadPreset(logger, preset, args)
			if err != nil {
				return err
			}
			cfg := cf.apply(cmd, p.Config)

			opts := []annealing.Option{annealing.WithLogger(logger.Zap().Named("annealing"))}
			if p.InitialState != nil {
				opts = append(opts, annealing.WithInitialState(p.InitialState))
			}
			if progress {
				stderr := cmd.ErrOrStderr()
				opts = append(opts, annealing.WithProgress(cfg.MaxIterations/100, func(pr annealing.Progress) {
					fmt.Fprintf(stderr, "\r%5.1f%%  T=%-10.4g best=%.6f", 100*pr.Fraction(), pr.Temperature, pr.BestEnergy)
				}))
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			result, err := annealing.Anneal(ctx, &p.Problem, cfg, opts...)
			if progress {
				fmt.Fprintln(cmd.ErrOrStderr())
			}
			if err != nil && (result == nil || !isInterruption(err)) {
				return err
			}
			if !history {
				result.History = nil
			}

			if g.output == outputJSON {
				return writeJSON(cmd.OutOrStdout(), result)
			}
			return printResult(cmd.OutOrStdout(), p.Problem.Name, result)
		},
	}

	cmd.Flags().StringVarP(&preset, "preset", "p", "", "name of a catalog preset")
	cmd.Flags().BoolVar(&progress, "progress", false, "report progress on stderr")
	cmd.Flags().BoolVar(&history, "history", false, "include the sampled trajectory in JSON output")
	cf.register(cmd)
	return cmd
}

// isInterruption reports whether err ended the run early with a usable
// partial result.
func isInterruption(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func printResult(w io.Writer, name string, r *optimization.Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "problem\t%s\n", name)
	fmt.Fprintf(tw, "termination\t%s\n", r.Termination)
	fmt.Fprintf(tw, "iterations\t%d\n", r.Iterations)
	fmt.Fprintf(tw, "final temperature\t%.6g\n", r.FinalTemperature)
	fmt.Fprintf(tw, "acceptance rate\t%.3f\n", r.AcceptanceRate)
	fmt.Fprintf(tw, "initial energy\t%.6f\n", r.InitialEnergy)
	fmt.Fprintf(tw, "best energy\t%.6f\n", r.BestEnergy)
	fmt.Fprintf(tw, "feasible\t%t\n", r.Feasible)
	for _, v := range r.Violations {
		fmt.Fprintf(tw, "violation\t%s\n", v)
	}
	if r.Refined {
		fmt.Fprintf(tw, "refine evaluations\t%d\n", r.RefineEvaluations)
	}
	fmt.Fprintf(tw, "duration\t%s\n", time.Duration(r.DurationMs)*time.Millisecond)
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "variable\tvalue")
	for _, name := range r.BestState.Names() {
		fmt.Fprintf(tw, "%s\t%s\n", name, formatValue(r.BestState[name]))
	}
	return tw.Flush()
}

func formatValue(v optimization.Value) string {
	if !v.Sequence {
		return fmt.Sprintf("%.4f", v.Float())
	}
	parts := make([]string, len(v.Components))
	for i, c := range v.Components {
		parts[i] = fmt.Sprintf("%.4f", c)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
