package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/copyleftdev/annealer/internal/optimization"
	"github.com/copyleftdev/annealer/internal/optimization/schedule"
)

type schedulePreview struct {
	Schedule     schedule.Kind `json:"schedule"`
	Steps        int           `json:"steps"`
	Truncated    bool          `json:"truncated"`
	Temperatures []float64     `json:"temperatures"`
}

func newScheduleCmd(g *globalFlags) *cobra.Command {
	var (
		limit     int
		stepsOnly bool
		cf        configFlags
	)

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Print the temperature sequence of a cooling schedule",
		Long: `Print the temperatures a run would visit, from the initial temperature
until the floor or the iteration cap, and the number of cooling steps.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := cf.apply(cmd, optimization.DefaultAnnealingConfig()).WithDefaults()
			if err := cfg.Validate(); err != nil {
				return err
			}
			sched, err := schedule.New(cfg.CoolingSchedule, cfg.ScheduleParams())
			if err != nil {
				return err
			}

			steps := schedule.Steps(sched, cfg.InitialTemperature, cfg.FinalTemperature, cfg.MaxIterations)
			if stepsOnly {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), steps)
				return err
			}

			n := steps
			if limit > 0 && limit < n {
				n = limit
			}
			preview := schedulePreview{
				Schedule:     sched.Kind(),
				Steps:        steps,
				Truncated:    n < steps,
				Temperatures: schedule.Generate(sched, cfg.InitialTemperature, cfg.FinalTemperature, n),
			}
			if g.output == outputJSON {
				return writeJSON(cmd.OutOrStdout(), preview)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "# %s schedule, %d steps\n", preview.Schedule, preview.Steps)
			for k, t := range preview.Temperatures {
				fmt.Fprintf(tw, "%d\t%.6g\n", k, t)
			}
			if preview.Truncated {
				fmt.Fprintf(tw, "...\t(%d more)\n", steps+1-len(preview.Temperatures))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "print at most this many steps, 0 for all")
	cmd.Flags().BoolVar(&stepsOnly, "steps-only", false, "print only the number of cooling steps")
	cf.register(cmd)
	return cmd
}
