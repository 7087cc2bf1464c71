package orchestrate

import (
	"context"

	"github.com/sells-group/callbatch/internal/export"
	"github.com/sells-group/callbatch/internal/filter"
	"github.com/sells-group/callbatch/internal/ingest"
)

// Step names, also used as ledger run steps.
const (
	StepIngest = "ingest"
	StepSelect = "select"
	StepExport = "export"
)

// IngestStep wraps the ingester.
func IngestStep(in *ingest.Ingester) Step {
	return StepFunc{StepName: StepIngest, Fn: func(ctx context.Context) (Outcome, error) {
		res, err := in.Run(ctx)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Rows: res.Rows()}, nil
	}}
}

// SelectStep wraps the selector. Its candidate file is not delivered.
func SelectStep(s *filter.Selector) Step {
	return StepFunc{StepName: StepSelect, Fn: func(ctx context.Context) (Outcome, error) {
		res, err := s.Run(ctx)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Rows: int64(res.Candidates)}, nil
	}}
}

// ExportStep wraps the exporter.
func ExportStep(e *export.Exporter) Step {
	return StepFunc{StepName: StepExport, Fn: func(ctx context.Context) (Outcome, error) {
		res, err := e.Run(ctx)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Rows: int64(res.Rows), Output: res.Output}, nil
	}}
}
