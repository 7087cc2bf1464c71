package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/callbatch/internal/model"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect step runs and consumed input files",
}

// -- ledger runs --

var ledgerRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded step runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initBatch(ctx, "ledger", false)
		if err != nil {
			return err
		}
		defer env.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := env.Ledger.ListRuns(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "ledger runs")
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- ledger sources --

var ledgerSourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List input files already merged into a store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initBatch(ctx, "ledger", false)
		if err != nil {
			return err
		}
		defer env.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		sources, err := env.Ledger.ListConsumed(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "ledger sources")
		}
		if len(sources) == 0 {
			fmt.Fprintln(os.Stderr, "No consumed sources found.")
			return nil
		}

		formatSourcesList(os.Stdout, sources)
		return nil
	},
}

func init() {
	ledgerRunsCmd.Flags().Int("limit", 50, "max number of runs to display")
	ledgerSourcesCmd.Flags().Int("limit", 50, "max number of sources to display")

	ledgerCmd.AddCommand(ledgerRunsCmd)
	ledgerCmd.AddCommand(ledgerSourcesCmd)
	rootCmd.AddCommand(ledgerCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTEP\tSTATUS\tROWS\tSTARTED\tDURATION\tERROR")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t----\t-------\t--------\t-----")

	for _, r := range runs {
		dur := ""
		if r.CompletedAt != nil {
			dur = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}

		errMsg := r.Error
		if len(errMsg) > 40 {
			errMsg = errMsg[:37] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.Step,
			r.Status,
			r.Rows,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
			errMsg,
		)
	}
	_ = w.Flush()
}

// formatSourcesList writes a tabular list of consumed sources to w.
func formatSourcesList(out io.Writer, sources []model.ConsumedSource) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SOURCE\tKIND\tROWS\tCONSUMED")
	_, _ = fmt.Fprintln(w, "------\t----\t----\t--------")
	for _, s := range sources {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
			s.Source,
			s.Kind,
			s.Rows,
			s.ConsumedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
