package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/copyleftdev/annealer/internal/optimization"
	"github.com/copyleftdev/annealer/internal/optimization/energy"
)

type evaluation struct {
	energy.Breakdown
	Unrecognized []string `json:"unrecognized,omitempty"`
}

func newEvaluateCmd(g *globalFlags) *cobra.Command {
	var preset, statePath string

	cmd := &cobra.Command{
		Use:   "evaluate [problem.yaml] --state state.json",
		Short: "Score a candidate state against a problem",
		Long: `Compute the energy of a state and show how each objective and
constraint contributes to it. The state file is a JSON object mapping
variable names to numbers or arrays of numbers.`,
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
			state, err := readState(statePath)
			if err != nil {
				return err
			}

			ev, err := energy.Compile(&p.Problem)
			if err != nil {
				return err
			}
			b, err := ev.Breakdown(state)
			if err != nil {
				return err
			}
			res := evaluation{Breakdown: b, Unrecognized: ev.Unrecognized()}

			if g.output == outputJSON {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "OBJECTIVE\tRAW\tCONTRIBUTION")
			for _, c := range res.Objectives {
				fmt.Fprintf(tw, "%s\t%.6f\t%.6f\n", c.Name, c.Raw, c.Contribution)
			}
			for _, name := range res.Unrecognized {
				fmt.Fprintf(tw, "%s\t-\tignored\n", name)
			}
			fmt.Fprintln(tw)
			fmt.Fprintf(tw, "penalty\t%.6f\n", res.Penalty)
			for _, v := range res.Violations {
				fmt.Fprintf(tw, "violation\t%s\n", v)
			}
			fmt.Fprintf(tw, "feasible\t%t\n", res.Feasible)
			fmt.Fprintf(tw, "energy\t%.6f\n", res.Energy)
			return tw.Flush()
		},
	}

	cmd.Flags().StringVarP(&preset, "preset", "p", "", "name of a catalog preset")
	cmd.Flags().StringVarP(&statePath, "state", "s", "", "JSON file holding the state to score")
	_ = cmd.MarkFlagRequired("state")
	return cmd
}

func readState(path string) (optimization.State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read state: %w", err)
	}
	var s optimization.State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}
