// Package filter narrows the registry to the rows eligible for today's batch.
// Stages run strictly in order over the shrinking set and every stage always
// runs, so the caller gets a complete trail of counts.
package filter

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/callbatch/internal/model"
)

// Verdict is a stage's decision for one row.
type Verdict int

const (
	Keep Verdict = iota
	Drop
	// Invalid drops a row whose field could not be parsed.
	Invalid
)

func (v Verdict) String() string {
	switch v {
	case Keep:
		return "keep"
	case Drop:
		return "drop"
	case Invalid:
		return "invalid"
	}
	return "unknown"
}

// Stage is one predicate in the pipeline.
type Stage interface {
	Name() string
	// Bind resolves the columns the stage reads. An error means the input
	// lacks a required column and aborts the run.
	Bind(h model.Header) error
	Evaluate(r model.Record) Verdict
}

// StageResult counts one stage's effect. Invalid rows are included in Removed.
type StageResult struct {
	Name      string `json:"name"`
	Before    int    `json:"before"`
	Removed   int    `json:"removed"`
	Remaining int    `json:"remaining"`
	Invalid   int    `json:"invalid"`
}

// Reporter receives each stage result as soon as the stage finishes.
type Reporter interface {
	StageDone(ctx context.Context, res StageResult)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, res StageResult)

func (f ReporterFunc) StageDone(ctx context.Context, res StageResult) { f(ctx, res) }

// LogReporter writes stage results to the global logger.
type LogReporter struct{}

func (LogReporter) StageDone(_ context.Context, res StageResult) {
	zap.L().Info("filter: stage complete",
		zap.String("component", "filter"),
		zap.String("stage", res.Name),
		zap.Int("before", res.Before),
		zap.Int("removed", res.Removed),
		zap.Int("invalid", res.Invalid),
		zap.Int("remaining", res.Remaining),
	)
}

// Pipeline runs stages in order.
type Pipeline struct {
	stages   []Stage
	reporter Reporter
}

// NewPipeline creates a Pipeline. A nil reporter logs.
func NewPipeline(reporter Reporter, stages ...Stage) *Pipeline {
	if reporter == nil {
		reporter = LogReporter{}
	}
	return &Pipeline{stages: stages, reporter: reporter}
}

// Stages returns the stage names in execution order.
func (p *Pipeline) Stages() []string {
	out := make([]string, len(p.stages))
	for i, s := range p.stages {
		out[i] = s.Name()
	}
	return out
}

// Run binds every stage, then filters tbl through them. The input table is
// not modified. Cancellation is honored between stages only.
func (p *Pipeline) Run(ctx context.Context, tbl *model.Table) (*model.Table, []StageResult, error) {
	for _, s := range p.stages {
		if err := s.Bind(tbl.Header); err != nil {
			return nil, nil, eris.Wrapf(err, "filter: bind stage %s", s.Name())
		}
	}

	rows := tbl.Rows
	results := make([]StageResult, 0, len(p.stages))
	for _, s := range p.stages {
		if err := ctx.Err(); err != nil {
			return nil, results, eris.Wrapf(err, "filter: cancelled before stage %s", s.Name())
		}

		res := StageResult{Name: s.Name(), Before: len(rows)}
		kept := make([]model.Record, 0, len(rows))
		for _, r := range rows {
			switch s.Evaluate(r) {
			case Keep:
				kept = append(kept, r)
			case Invalid:
				res.Invalid++
			}
		}
		res.Remaining = len(kept)
		res.Removed = res.Before - res.Remaining
		rows = kept

		results = append(results, res)
		p.reporter.StageDone(ctx, res)
	}
	return tbl.WithRows(rows), results, nil
}
