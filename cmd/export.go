package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/callbatch/internal/export"
	"github.com/sells-group/callbatch/internal/orchestrate"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Build the dialer batch file from the candidate file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if cmd.Flags().Changed("seed") {
			cfg.Export.Seed, _ = cmd.Flags().GetUint64("seed")
		}

		env, err := initBatch(ctx, "export", false)
		if err != nil {
			return err
		}
		defer env.Close()

		exp := export.New(exportConfig(cfg), env.Resolver)

		var res *export.Result
		step := orchestrate.StepFunc{StepName: orchestrate.StepExport, Fn: func(ctx context.Context) (orchestrate.Outcome, error) {
			r, err := exp.Run(ctx)
			if err != nil {
				return orchestrate.Outcome{}, err
			}
			res = r
			return orchestrate.Outcome{Rows: int64(r.Rows), Output: r.Output}, nil
		}}
		if _, err := orchestrate.New(env.Ledger, env.Notifier).Run(ctx, step); err != nil {
			return err
		}

		formatExportResult(os.Stdout, res)
		return nil
	},
}

func init() {
	exportCmd.Flags().Uint64("seed", 0, "seed for the shuffles; 0 seeds from the clock (default from config)")
	rootCmd.AddCommand(exportCmd)
}

// formatExportResult writes the export counters to w.
func formatExportResult(out io.Writer, res *export.Result) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Candidates:\t%d\n", res.Candidates)
	_, _ = fmt.Fprintf(w, "  Duplicate lines:\t%d\n", res.Duplicates)
	_, _ = fmt.Fprintf(w, "  Over person cap:\t%d\n", res.Capped)
	_, _ = fmt.Fprintf(w, "Lookup matched:\t%d\n", res.Enrich.Matched)
	_, _ = fmt.Fprintf(w, "Lookup unmatched:\t%d\n", res.Enrich.Unmatched)
	_, _ = fmt.Fprintf(w, "Group TM:\t%d\n", res.GroupA)
	_, _ = fmt.Fprintf(w, "Group TT:\t%d\n", res.GroupB)
	_, _ = fmt.Fprintf(w, "Rows:\t%d\n", res.Rows)
	_, _ = fmt.Fprintf(w, "Output:\t%s\n", res.Output)
	_ = w.Flush()
}
