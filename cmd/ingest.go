package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/callbatch/internal/ingest"
	"github.com/sells-group/callbatch/internal/orchestrate"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Merge new dialer reports and status feeds into their stores",
	Long:  "Parses every report and status file not yet recorded in the ledger, merges them into the consolidated stores and marks them consumed.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initBatch(ctx, "ingest", false)
		if err != nil {
			return err
		}
		defer env.Close()

		in := ingest.New(ingestConfig(cfg), env.Ledger)

		var res *ingest.Result
		step := orchestrate.StepFunc{StepName: orchestrate.StepIngest, Fn: func(ctx context.Context) (orchestrate.Outcome, error) {
			r, err := in.Run(ctx)
			if err != nil {
				return orchestrate.Outcome{}, err
			}
			res = r
			return orchestrate.Outcome{Rows: r.Rows()}, nil
		}}
		if _, err := orchestrate.New(env.Ledger, env.Notifier).Run(ctx, step); err != nil {
			return err
		}

		formatIngestResult(os.Stdout, res)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

// formatIngestResult writes one line per source kind to w.
func formatIngestResult(out io.Writer, res *ingest.Result) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "KIND\tFILES\tSKIPPED\tFAILED\tENTRIES\tADDED\tUPDATED\tTOTAL")
	_, _ = fmt.Fprintln(w, "----\t-----\t-------\t------\t-------\t-----\t-------\t-----")
	for _, kr := range []ingest.KindResult{res.Reports, res.Status} {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
			kr.Kind,
			len(kr.Files),
			kr.Skipped,
			len(kr.Failed),
			kr.Parse.Entries,
			kr.Merge.Added,
			kr.Merge.Updated,
			kr.Total,
		)
	}
	_ = w.Flush()
}
