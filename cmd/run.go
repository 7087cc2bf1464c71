package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/callbatch/internal/orchestrate"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run ingest, select and export in order and deliver the batch",
	Long:  "Runs the full chain, halting on the first failed step. Progress and the final batch file go to the configured notifiers.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		noNotify, _ := cmd.Flags().GetBool("no-notify")
		env, err := initBatch(ctx, "run", !noNotify)
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := orchestrate.New(env.Ledger, env.Notifier).Run(ctx, chainSteps(env)...)
		if report != nil {
			formatReport(os.Stdout, report)
		}
		return err
	},
}

func init() {
	runCmd.Flags().Bool("no-notify", false, "log progress only, skip Telegram and webhook notifiers")
	rootCmd.AddCommand(runCmd)
}

// formatReport writes one line per executed step to w.
func formatReport(out io.Writer, r *orchestrate.Report) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STEP\tRUN\tROWS\tDURATION\tERROR")
	_, _ = fmt.Fprintln(w, "----\t---\t----\t--------\t-----")
	for _, s := range r.Steps {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			s.Name,
			truncateID(s.RunID),
			s.Rows,
			msDuration(s.DurationMS),
			s.Error,
		)
	}
	_ = w.Flush()
	if r.Output != "" {
		_, _ = fmt.Fprintf(out, "\nBatch: %s (%s)\n", r.Output, msDuration(r.DurationMS))
	}
}

func msDuration(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).Round(time.Second).String()
}
