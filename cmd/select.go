package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/callbatch/internal/filter"
	"github.com/sells-group/callbatch/internal/orchestrate"
)

var selectCmd = &cobra.Command{
	Use:   "select",
	Short: "Filter the registry down to today's candidate lines",
	Long:  "Loads the registry, exclusion lists, status store and the previous day's report, runs the filter stages and writes the candidate file.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if rules, _ := cmd.Flags().GetString("rules"); rules != "" {
			cfg.Selection.RulesFile = rules
		}
		if output, _ := cmd.Flags().GetString("output"); output != "" {
			cfg.Selection.Output = output
		}

		env, err := initBatch(ctx, "select", false)
		if err != nil {
			return err
		}
		defer env.Close()

		sel := filter.NewSelector(selectConfig(cfg), env.Resolver, nil)

		var res *filter.SelectResult
		step := orchestrate.StepFunc{StepName: orchestrate.StepSelect, Fn: func(ctx context.Context) (orchestrate.Outcome, error) {
			r, err := sel.Run(ctx)
			if err != nil {
				return orchestrate.Outcome{}, err
			}
			res = r
			return orchestrate.Outcome{Rows: int64(r.Candidates)}, nil
		}}
		if _, err := orchestrate.New(env.Ledger, env.Notifier).Run(ctx, step); err != nil {
			return err
		}

		formatSelectResult(os.Stdout, res)
		return nil
	},
}

func init() {
	selectCmd.Flags().String("rules", "", "YAML file overriding the filter rules (default from config)")
	selectCmd.Flags().String("output", "", "candidate file to write (default from config)")
	rootCmd.AddCommand(selectCmd)
}

// formatSelectResult writes the input summary and per-stage counts to w.
func formatSelectResult(out io.Writer, res *filter.SelectResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Registry rows:\t%d\n", res.Registry.Rows)
	_, _ = fmt.Fprintf(w, "  Blank:\t%d\n", res.Registry.Blank)
	_, _ = fmt.Fprintf(w, "  Duplicates:\t%d\n", res.Registry.Duplicates)
	_, _ = fmt.Fprintf(w, "  Kept:\t%d\n", res.Registry.Kept)
	for _, ex := range res.Exclusions {
		_, _ = fmt.Fprintf(w, "Exclusion %s:\t%d\n", ex.Name, ex.Keys)
	}
	_, _ = fmt.Fprintf(w, "Status keys:\t%d\n", res.StatusKeys)
	_, _ = fmt.Fprintf(w, "Contacted yesterday:\t%d\n", res.Contacted)
	_ = w.Flush()

	_, _ = fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STAGE\tBEFORE\tREMOVED\tINVALID\tREMAINING")
	_, _ = fmt.Fprintln(w, "-----\t------\t-------\t-------\t---------")
	for _, st := range res.Stages {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n", st.Name, st.Before, st.Removed, st.Invalid, st.Remaining)
	}
	_ = w.Flush()

	_, _ = fmt.Fprintf(out, "\n%d candidates written to %s\n", res.Candidates, res.Output)
}
