package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sells-group/callbatch/internal/consolidate"
	"github.com/sells-group/callbatch/internal/model"
)

type memLedger struct {
	mu       sync.Mutex
	consumed map[string]model.SourceKind
	rows     map[string]int
	markErr  error
}

func newMemLedger() *memLedger {
	return &memLedger{consumed: map[string]model.SourceKind{}, rows: map[string]int{}}
}

func (m *memLedger) Consumed(_ context.Context, source string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.consumed[source]
	return ok, nil
}

func (m *memLedger) MarkConsumed(_ context.Context, source string, kind model.SourceKind, rows int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return m.markErr
	}
	m.consumed[source] = kind
	m.rows[source] = rows
	return nil
}

type fixture struct {
	root   string
	cfg    Config
	ledger *memLedger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	return &fixture{
		root: root,
		cfg: Config{
			ReportsDir:  filepath.Join(root, "raw", "reportes"),
			ReportStore: filepath.Join(root, "processed", "tipificaciones.db"),
			StatusDir:   filepath.Join(root, "raw", "estados"),
			StatusStore: filepath.Join(root, "processed", "estados.parquet"),
		},
		ledger: newMemLedger(),
	}
}

func (f *fixture) run(t *testing.T) *Result {
	t.Helper()
	res, err := New(f.cfg, f.ledger).WithClock(func() time.Time { return runDay }).Run(context.Background())
	require.NoError(t, err)
	return res
}

func TestIngester_FirstRun(t *testing.T) {
	f := newFixture(t)
	r1 := writeFile(t, f.cfg.ReportsDir, "a.csv", reportHeader+"01/3/2026 10:00:00;1144445555;Venta;;1;S\n")
	writeFile(t, f.cfg.StatusDir, "e.txt", "1144445555&01/03/2026&Activa\n3514445555&02/03/2026&Port Out\n")

	res := f.run(t)

	assert.Len(t, res.Reports.Files, 1)
	assert.Equal(t, 1, res.Reports.Merge.Added)
	assert.True(t, res.Reports.Persisted)
	assert.Equal(t, 2, res.Status.Merge.Added)
	assert.True(t, res.Status.Persisted)
	assert.Equal(t, int64(3), res.Rows())

	abs, _ := filepath.Abs(r1)
	assert.Equal(t, model.SourceReport, f.ledger.consumed[abs])
	assert.Equal(t, 1, f.ledger.rows[abs])

	reports := consolidate.Open(f.cfg.ReportStore, "Cliente").Load(context.Background())
	require.Len(t, reports, 1)
	assert.Equal(t, "1144445555", reports[0].Key)

	status := consolidate.Open(f.cfg.StatusStore, "linea").Load(context.Background())
	assert.Len(t, status, 2)
}

func TestIngester_SkipsConsumedSources(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.cfg.ReportsDir, "a.csv", reportHeader+"01/3/2026 10:00:00;1144445555;Venta;;1;S\n")
	f.run(t)

	res := f.run(t)
	assert.Empty(t, res.Reports.Files)
	assert.Equal(t, 1, res.Reports.Skipped)
	assert.False(t, res.Reports.Persisted)
}

func TestIngester_NewerObservationWins(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.cfg.ReportsDir, "a.csv", reportHeader+"01/3/2026 10:00:00;1144445555;Venta;;1;S\n")
	f.run(t)

	writeFile(t, f.cfg.ReportsDir, "b.csv", reportHeader+
		"05/3/2026 10:00:00;1144445555;Ya tiene MVS;;1;S\n"+
		"01/3/2026 10:00:00;1144445556;Venta;;1;S\n")
	res := f.run(t)
	assert.Equal(t, 1, res.Reports.Merge.Updated)
	assert.Equal(t, 1, res.Reports.Merge.Added)
	assert.Equal(t, 2, res.Reports.Total)

	got := byKey(consolidate.Open(f.cfg.ReportStore, "Cliente").Load(context.Background()))
	assert.Equal(t, "Ya tiene MVS", got["1144445555"].Field(FieldOutcome))

	// An older report for a known key changes nothing and leaves the store alone.
	writeFile(t, f.cfg.ReportsDir, "c.csv", reportHeader+"20/2/2026 10:00:00;1144445555;Venta;;1;S\n")
	res = f.run(t)
	assert.False(t, res.Reports.Merge.Changed())
	assert.False(t, res.Reports.Persisted)
	assert.Len(t, res.Reports.Files, 1)
}

func TestIngester_MissingDirectoryWarns(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	f := newFixture(t)
	res := f.run(t)
	assert.Empty(t, res.Reports.Files)
	assert.Empty(t, res.Status.Files)
	assert.Equal(t, 2, logs.FilterMessage("ingest: input directory not found").Len())
}

func TestIngester_BrokenFileLeftUnconsumed(t *testing.T) {
	f := newFixture(t)
	bad := writeFile(t, f.cfg.ReportsDir, "bad.csv", "Inicio;Cliente\n01/3/2026 10:00:00;1144445555\n")
	writeFile(t, f.cfg.ReportsDir, "good.csv", reportHeader+"01/3/2026 10:00:00;1144445555;Venta;;1;S\n")

	res := f.run(t)
	assert.Equal(t, []string{bad}, res.Reports.Failed)
	assert.Len(t, res.Reports.Files, 1)

	abs, _ := filepath.Abs(bad)
	_, marked := f.ledger.consumed[abs]
	assert.False(t, marked)
}

func TestIngester_FilesWithoutEntriesAreConsumed(t *testing.T) {
	f := newFixture(t)
	path := writeFile(t, f.cfg.ReportsDir, "a.csv", reportHeader+"01/3/2026 10:00:00;1144445555;Ocupado;;1;S\n")

	res := f.run(t)
	assert.False(t, res.Reports.Persisted)
	abs, _ := filepath.Abs(path)
	assert.Contains(t, f.ledger.consumed, abs)
}

func TestIngester_MarkFailureIsReturned(t *testing.T) {
	f := newFixture(t)
	f.ledger.markErr = errors.New("ledger down")
	writeFile(t, f.cfg.ReportsDir, "a.csv", reportHeader+"01/3/2026 10:00:00;1144445555;Venta;;1;S\n")

	_, err := New(f.cfg, f.ledger).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ledger down")
}

func TestScan(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.csv", "")
	writeFile(t, dir, "a.csv", "")
	writeFile(t, dir, "skip.txt", "")

	files, err := scan(dir, "*.csv")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.csv"), filepath.Join(dir, "b.csv")}, files)

	files, err = scan(filepath.Join(dir, "missing"), "*.csv")
	require.NoError(t, err)
	assert.Nil(t, files)

	_, err = scan(filepath.Join(dir, "a.csv"), "*")
	assert.Error(t, err)
}
