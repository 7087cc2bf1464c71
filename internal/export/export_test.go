package export

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/callbatch/internal/fetcher"
	"github.com/sells-group/callbatch/internal/model"
	"github.com/sells-group/callbatch/internal/partition"
	"github.com/sells-group/callbatch/internal/resilience"
)

var runDay = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

const candidates = "linea;nombre_completo;tipo_doc;dni;compania;contrato;fecha_portout;cantidad_de_lineas;otras_lineas\n" +
	"1144445501;ANA;DNI;111;Claro;Contrato CPP;2024-09-17;3;1144440000\n" +
	"1144445501;ANA REPETIDA;DNI;111;Claro;Contrato CPP;2024-09-17;3;\n" +
	"1144445502;ANA;DNI;111;Claro;Contrato CPP;2024-09-17;3;\n" +
	"1144445503;ANA;DNI;111;Claro;Contrato CPP;2024-09-17;3;\n" +
	"2214445504;BETO;DNI;222.0;Claro;Activa (Prepago);2025-01-05;1;\n" +
	"3514445505;CARLA;DNI;333;Claro;Contrato CPP;2024-02-01;2;\n"

func write(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newExporter(t *testing.T, seed uint64) (*Exporter, string) {
	t.Helper()
	root := t.TempDir()
	cfg := Config{
		Input:     write(t, filepath.Join(root, "candidatos.csv"), candidates),
		OutputDir: filepath.Join(root, "out"),
		Lookup: LookupConfig{
			Location: write(t, filepath.Join(root, "base_cuit.csv"), "DNI,CUIT\n222,20222000001.0\n999,1\n"),
		},
		Seed: seed,
	}
	return New(cfg, &fetcher.Resolver{}).WithClock(func() time.Time { return runDay }), root
}

func readBatch(t *testing.T, path string) *model.Table {
	t.Helper()
	tbl, _, err := fetcher.ReadTable(context.Background(), path, fetcher.TableOptions{Delimiter: ';'})
	require.NoError(t, err)
	return tbl
}

func TestExporter_Run(t *testing.T) {
	e, root := newExporter(t, 42)

	res, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "out", "BASE_FINAL_20260310_MIXTA.csv"), res.Output)
	assert.Equal(t, 6, res.Candidates)
	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, 1, res.Capped)
	assert.Equal(t, partition.EnrichStats{Matched: 1, Unmatched: 4}, res.Enrich)
	assert.Equal(t, 4, res.Rows)
	assert.Equal(t, 2, res.GroupA)
	assert.Equal(t, 2, res.GroupB)

	tbl := readBatch(t, res.Output)
	assert.Equal(t, Columns, tbl.Header.Names())
	require.Len(t, tbl.Rows, 4)

	perID := map[string]int{}
	labels := map[string]int{}
	for _, r := range tbl.Rows {
		perID[tbl.Value(r, "DNI")]++
		labels[tbl.Value(r, "BBDD")]++
		assert.Empty(t, tbl.Value(r, "Generico"))
	}
	assert.Equal(t, 2, perID["111"])
	assert.Equal(t, map[string]int{
		"20260310_Mza_MIXTA_TM": 2,
		"20260310_Mza_MIXTA_TT": 2,
	}, labels)

	var beto model.Record
	for _, r := range tbl.Rows {
		if tbl.Value(r, "Linea2") == "2214445504" {
			beto = r
		}
	}
	require.NotNil(t, beto)
	assert.Equal(t, "BETO", tbl.Value(beto, "Nombre del Cliente"))
	assert.Equal(t, "222", tbl.Value(beto, "DNI"))
	assert.Equal(t, "221", tbl.Value(beto, "ANI1"))
	assert.Equal(t, "221154445504", tbl.Value(beto, "Linea1"))
	assert.Equal(t, "Activa (Prepago)", tbl.Value(beto, "PlanActual"))
	assert.Equal(t, "Claro", tbl.Value(beto, "OperadorActual"))
	assert.Equal(t, "1", tbl.Value(beto, "CP"))
	assert.Equal(t, "2025-01-05", tbl.Value(beto, "Localidad"))
	assert.Equal(t, "BASE CUIT", tbl.Value(beto, "email"))
	assert.Equal(t, "20222000001", tbl.Value(beto, "Provincia"))
}

func TestExporter_SameSeedSameBatch(t *testing.T) {
	a, _ := newExporter(t, 7)
	b, _ := newExporter(t, 7)

	ra, err := a.Run(context.Background())
	require.NoError(t, err)
	rb, err := b.Run(context.Background())
	require.NoError(t, err)

	da, err := os.ReadFile(ra.Output)
	require.NoError(t, err)
	db, err := os.ReadFile(rb.Output)
	require.NoError(t, err)
	assert.Equal(t, string(da), string(db))
}

func TestExporter_MissingLookupLeavesRowsUnmatched(t *testing.T) {
	e, root := newExporter(t, 1)
	e.cfg.Lookup.Location = filepath.Join(root, "nope.csv")

	res, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Enrich.Matched)

	tbl := readBatch(t, res.Output)
	for _, r := range tbl.Rows {
		assert.Empty(t, tbl.Value(r, "email"))
		assert.Empty(t, tbl.Value(r, "Provincia"))
	}
}

func TestExporter_RequiredLookupMissing(t *testing.T) {
	e, root := newExporter(t, 1)
	e.cfg.Lookup.Location = filepath.Join(root, "nope.csv")
	e.cfg.Lookup.Required = true

	_, err := e.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, resilience.ErrMissingInputSource))
}

func TestExporter_MissingCandidates(t *testing.T) {
	e, root := newExporter(t, 1)
	e.cfg.Input = filepath.Join(root, "missing.csv")

	_, err := e.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, resilience.ErrMissingInputSource))
	_, statErr := os.Stat(filepath.Join(root, "out"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestExporter_CandidatesWithoutLineColumn(t *testing.T) {
	e, root := newExporter(t, 1)
	e.cfg.Input = write(t, filepath.Join(root, "bad.csv"), "dni;nombre_completo\n111;ANA\n")

	_, err := e.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, resilience.ErrMissingInputSource))
}

func TestExporter_EmptyCandidates(t *testing.T) {
	e, root := newExporter(t, 1)
	e.cfg.Input = write(t, filepath.Join(root, "empty.csv"), strings.SplitN(candidates, "\n", 2)[0]+"\n")

	res, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Rows)

	tbl := readBatch(t, res.Output)
	assert.Equal(t, Columns, tbl.Header.Names())
	assert.Empty(t, tbl.Rows)
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "20260310_Mza_MIXTA_TM", Label(runDay, DefaultLabelPrefix, partition.GroupA))
	assert.Equal(t, "20260310_X_TT", Label(runDay, "X", partition.GroupB))
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "BASE_FINAL_20261231_MIXTA.csv", FileName(time.Date(2026, 12, 31, 23, 0, 0, 0, time.UTC)))
}

func TestFormat_BuenosAiresLine(t *testing.T) {
	tbl := model.NewTable(ColLine, ColID, ColName, indicatorColumn, valueColumn)
	rec := model.Record{"1144445501.0", "111", " ANA ", "", ""}
	tbl.Rows = []model.Record{rec}

	rows := Format(tbl, []partition.Assignment{{Record: rec, Label: partition.GroupA}}, runDay, "P")
	require.Len(t, rows, 1)
	require.Len(t, rows[0], len(Columns))
	assert.Equal(t, "ANA", rows[0][0])
	assert.Equal(t, "11", rows[0][2])
	assert.Equal(t, "111544445501", rows[0][3])
	assert.Equal(t, "1144445501", rows[0][4])
	assert.Equal(t, "20260310_P_TM", rows[0][12])
}
