// Package orchestrate runs the batch steps in order, records each in the
// ledger and keeps the operators informed.
package orchestrate

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/callbatch/internal/notify"
)

// Outcome is what a step reports back.
type Outcome struct {
	Rows int64
	// Output is the file a step produced, if any. The last non-empty Output
	// of a successful chain is delivered.
	Output string
}

// Step is one unit of the chain.
type Step interface {
	Name() string
	Run(ctx context.Context) (Outcome, error)
}

// StepFunc adapts a function to Step.
type StepFunc struct {
	StepName string
	Fn       func(ctx context.Context) (Outcome, error)
}

func (s StepFunc) Name() string                             { return s.StepName }
func (s StepFunc) Run(ctx context.Context) (Outcome, error) { return s.Fn(ctx) }

// RunLedger records step runs.
type RunLedger interface {
	StartRun(ctx context.Context, step string) (string, error)
	CompleteRun(ctx context.Context, id string, rows int64) error
	FailRun(ctx context.Context, id, msg string) error
}

// StepReport is the result of one executed step.
type StepReport struct {
	Name       string `json:"name"`
	RunID      string `json:"run_id,omitempty"`
	Rows       int64  `json:"rows"`
	Output     string `json:"output,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// Report is the result of a chain.
type Report struct {
	Steps      []StepReport `json:"steps"`
	Output     string       `json:"output,omitempty"`
	DurationMS int64        `json:"duration_ms"`
}

// Engine executes step chains.
type Engine struct {
	ledger   RunLedger
	notifier notify.Notifier
	log      *zap.Logger
}

// New creates an Engine. A nil notifier logs only.
func New(l RunLedger, n notify.Notifier) *Engine {
	if n == nil {
		n = notify.NewLog()
	}
	return &Engine{
		ledger:   l,
		notifier: n,
		log:      zap.L().With(zap.String("component", "orchestrate")),
	}
}

// Run executes steps in order and stops at the first failure, which is
// reported to the notifier and returned. After every step succeeded the last
// produced file is delivered.
func (e *Engine) Run(ctx context.Context, steps ...Step) (*Report, error) {
	start := time.Now()
	report := &Report{}
	total := len(steps)

	e.log.Info("orchestrate: starting chain", zap.Int("steps", total))
	e.notifier.Progress(ctx, "Iniciando pipeline de filtrado.\nEste proceso puede tardar varios minutos...")

	for i, step := range steps {
		name := step.Name()
		e.notifier.Progress(ctx, fmt.Sprintf("Paso %d/%d: %s\nEjecutando...", i+1, total, name))

		sr, err := e.runStep(ctx, step)
		report.Steps = append(report.Steps, sr)
		if err != nil {
			report.DurationMS = time.Since(start).Milliseconds()
			e.notifier.Progress(ctx, fmt.Sprintf("Error en paso %d/%d: %s\n\n%s", i+1, total, name, err.Error()))
			e.notifier.Progress(ctx, "Pipeline detenido debido al error")
			return report, eris.Wrapf(err, "orchestrate: step %s", name)
		}
		if sr.Output != "" {
			report.Output = sr.Output
		}
		e.notifier.Progress(ctx, fmt.Sprintf("Paso %d/%d completado: %s (%d filas)", i+1, total, name, sr.Rows))
	}

	elapsed := time.Since(start)
	report.DurationMS = elapsed.Milliseconds()
	e.log.Info("orchestrate: chain complete",
		zap.Int64("duration_ms", report.DurationMS),
		zap.String("output", report.Output),
	)
	e.notifier.Progress(ctx, fmt.Sprintf("Pipeline completado exitosamente.\nTiempo total: %dm %ds",
		int(elapsed.Minutes()), int(elapsed.Seconds())%60))

	if report.Output == "" {
		e.notifier.Progress(ctx, "Pipeline completado pero no se generó un archivo final")
		return report, nil
	}
	e.notifier.Progress(ctx, "Enviando archivo final: "+filepath.Base(report.Output))
	e.notifier.Deliver(ctx, report.Output)
	return report, nil
}

func (e *Engine) runStep(ctx context.Context, step Step) (StepReport, error) {
	name := step.Name()
	sr := StepReport{Name: name}

	// A chain whose runs cannot be recorded does not start the step.
	id, err := e.ledger.StartRun(ctx, name)
	if err != nil {
		return sr, eris.Wrap(err, "orchestrate: start run")
	}
	sr.RunID = id

	begin := time.Now()
	out, runErr := step.Run(ctx)
	sr.DurationMS = time.Since(begin).Milliseconds()

	if runErr != nil {
		sr.Error = runErr.Error()
		e.log.Error("orchestrate: step failed",
			zap.String("step", name),
			zap.String("run_id", id),
			zap.Int64("duration_ms", sr.DurationMS),
			zap.Error(runErr),
		)
		if ferr := e.ledger.FailRun(ctx, id, runErr.Error()); ferr != nil {
			e.log.Warn("orchestrate: failed to record failure", zap.String("run_id", id), zap.Error(ferr))
		}
		return sr, runErr
	}

	sr.Rows = out.Rows
	sr.Output = out.Output
	if err := e.ledger.CompleteRun(ctx, id, out.Rows); err != nil {
		e.log.Warn("orchestrate: failed to record completion", zap.String("run_id", id), zap.Error(err))
	}
	e.log.Info("orchestrate: step complete",
		zap.String("step", name),
		zap.String("run_id", id),
		zap.Int64("rows", out.Rows),
		zap.Int64("duration_ms", sr.DurationMS),
	)
	return sr, nil
}
