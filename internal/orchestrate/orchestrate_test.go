package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type runRecord struct {
	step   string
	status string
	rows   int64
	msg    string
}

type fakeLedger struct {
	mu       sync.Mutex
	runs     map[string]*runRecord
	order    []string
	startErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{runs: make(map[string]*runRecord)}
}

func (l *fakeLedger) StartRun(_ context.Context, step string) (string, error) {
	if l.startErr != nil {
		return "", l.startErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	id := fmt.Sprintf("run-%d", len(l.order)+1)
	l.runs[id] = &runRecord{step: step, status: "running"}
	l.order = append(l.order, id)
	return id, nil
}

func (l *fakeLedger) CompleteRun(_ context.Context, id string, rows int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runs[id].status = "complete"
	l.runs[id].rows = rows
	return nil
}

func (l *fakeLedger) FailRun(_ context.Context, id, msg string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runs[id].status = "failed"
	l.runs[id].msg = msg
	return nil
}

type recorder struct {
	progress []string
	files    []string
}

func (r *recorder) Progress(_ context.Context, text string) { r.progress = append(r.progress, text) }
func (r *recorder) Deliver(_ context.Context, path string)  { r.files = append(r.files, path) }

func step(name string, out Outcome, err error, calls *[]string) Step {
	return StepFunc{StepName: name, Fn: func(context.Context) (Outcome, error) {
		*calls = append(*calls, name)
		return out, err
	}}
}

func TestEngine_RunSuccessDeliversLastOutput(t *testing.T) {
	l := newFakeLedger()
	n := &recorder{}
	var calls []string

	report, err := New(l, n).Run(context.Background(),
		step("ingest", Outcome{Rows: 10}, nil, &calls),
		step("select", Outcome{Rows: 4, Output: "/tmp/candidatos.csv"}, nil, &calls),
		step("export", Outcome{Rows: 3, Output: "/out/BASE_FINAL_20260310_MIXTA.csv"}, nil, &calls),
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"ingest", "select", "export"}, calls)
	require.Len(t, report.Steps, 3)
	assert.Equal(t, "/out/BASE_FINAL_20260310_MIXTA.csv", report.Output)
	assert.Equal(t, []string{"/out/BASE_FINAL_20260310_MIXTA.csv"}, n.files)

	for i, id := range l.order {
		assert.Equal(t, "complete", l.runs[id].status)
		assert.Equal(t, report.Steps[i].RunID, id)
	}
	assert.Equal(t, int64(3), l.runs["run-3"].rows)
	assert.Contains(t, n.progress[len(n.progress)-1], "BASE_FINAL_20260310_MIXTA.csv")
}

func TestEngine_RunHaltsOnFirstFailure(t *testing.T) {
	l := newFakeLedger()
	n := &recorder{}
	var calls []string
	boom := errors.New("registry not found")

	report, err := New(l, n).Run(context.Background(),
		step("ingest", Outcome{Rows: 1}, nil, &calls),
		step("select", Outcome{}, boom, &calls),
		step("export", Outcome{Output: "x.csv"}, nil, &calls),
	)
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))

	assert.Equal(t, []string{"ingest", "select"}, calls)
	require.Len(t, report.Steps, 2)
	assert.Equal(t, "registry not found", report.Steps[1].Error)
	assert.Empty(t, n.files)

	assert.Equal(t, "complete", l.runs["run-1"].status)
	assert.Equal(t, "failed", l.runs["run-2"].status)
	assert.Equal(t, "registry not found", l.runs["run-2"].msg)

	joined := strings.Join(n.progress, "\n")
	assert.Contains(t, joined, "Error en paso 2/3: select")
	assert.Contains(t, joined, "Pipeline detenido")
}

func TestEngine_RunWithoutOutputDeliversNothing(t *testing.T) {
	n := &recorder{}
	var calls []string

	report, err := New(newFakeLedger(), n).Run(context.Background(), step("ingest", Outcome{Rows: 2}, nil, &calls))
	require.NoError(t, err)
	assert.Empty(t, report.Output)
	assert.Empty(t, n.files)
}

func TestEngine_LedgerUnavailableStopsChain(t *testing.T) {
	l := newFakeLedger()
	l.startErr = errors.New("database is locked")
	var calls []string

	_, err := New(l, &recorder{}).Run(context.Background(), step("ingest", Outcome{}, nil, &calls))
	require.Error(t, err)
	assert.Empty(t, calls)
}

func TestEngine_NilNotifier(t *testing.T) {
	var calls []string
	_, err := New(newFakeLedger(), nil).Run(context.Background(), step("export", Outcome{Output: "f.csv"}, nil, &calls))
	require.NoError(t, err)
	assert.Equal(t, []string{"export"}, calls)
}
