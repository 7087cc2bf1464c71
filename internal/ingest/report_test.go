package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/callbatch/internal/model"
	"github.com/sells-group/callbatch/internal/resilience"
)

const reportHeader = "Inicio;Cliente;Tipificación;Causa Terminación;TalkingTime;Sentido\n"

var runDay = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func byKey(entries []model.Entry) map[string]model.Entry {
	out := make(map[string]model.Entry, len(entries))
	for _, e := range entries {
		out[e.Key] = e
	}
	return out
}

func TestParseReport_FiltersAndCanonicalizes(t *testing.T) {
	path := writeFile(t, t.TempDir(), "r.csv", reportHeader+
		"24/9/2025  11:10:59;01144445555;Venta;;30;Saliente\n"+
		"24/9/2025 12:00:00;3514445555;Ocupado;;0;Saliente\n"+
		"25/9/2025 08:00:00;0351154445556;No Disp.;La Linea se encuentra en reparación;0;Saliente\n"+
		"25/9/2025 08:00:00;123;Venta;;0;Saliente\n",
	)

	entries, stats, err := ParseReport(context.Background(), path, ReportOptions{}, runDay)
	require.NoError(t, err)

	assert.Equal(t, 4, stats.Rows)
	assert.Equal(t, 1, stats.Filtered)
	assert.Equal(t, 1, stats.Rejected)
	assert.Equal(t, 2, stats.Entries)

	got := byKey(entries)
	require.Contains(t, got, "1144445555")
	sale := got["1144445555"]
	assert.Equal(t, "Venta", sale.Field(FieldOutcome))
	assert.Equal(t, "2025-09-24", sale.Field(FieldDate))
	assert.Equal(t, "2026-03-10", sale.Field(FieldIngested))
	assert.Equal(t, time.Date(2025, 9, 24, 0, 0, 0, 0, time.UTC), sale.Observed)

	require.Contains(t, got, "3514445556")
	assert.Equal(t, "La Linea se encuentra en reparación", got["3514445556"].Field(FieldOutcome))
}

func TestParseReport_LatestRowPerClient(t *testing.T) {
	path := writeFile(t, t.TempDir(), "r.csv", reportHeader+
		"01/3/2026 10:00:00;1144445555;Venta;;1;S\n"+
		"03/3/2026 10:00:00;1144445555;Ya tiene MVS;;1;S\n"+
		"02/3/2026 10:00:00;1144445555;Edificio sin Disp de Caja;;1;S\n",
	)

	entries, _, err := ParseReport(context.Background(), path, ReportOptions{}, runDay)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Ya tiene MVS", entries[0].Field(FieldOutcome))
	assert.Equal(t, "2026-03-03", entries[0].Field(FieldDate))
}

func TestParseReport_BadStartIsMalformed(t *testing.T) {
	path := writeFile(t, t.TempDir(), "r.csv", reportHeader+
		"yesterday;1144445555;Venta;;1;S\n"+
		"01/3/2026 10:00:00;1144445556;Venta;;1;S\n",
	)

	entries, stats, err := ParseReport(context.Background(), path, ReportOptions{}, runDay)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, 1, stats.Malformed)
}

func TestParseReport_CustomAllowLists(t *testing.T) {
	path := writeFile(t, t.TempDir(), "r.csv", reportHeader+
		"01/3/2026 10:00:00;1144445555;Venta;;1;S\n"+
		"01/3/2026 10:00:00;1144445556;Rellamar;;1;S\n",
	)

	entries, _, err := ParseReport(context.Background(), path, ReportOptions{Outcomes: []string{"Rellamar"}, Causes: []string{"x"}}, runDay)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "1144445556", entries[0].Key)
}

func TestParseReport_HeaderMatchIgnoresAccentsAndCase(t *testing.T) {
	path := writeFile(t, t.TempDir(), "r.csv",
		"INICIO;cliente;Tipificacion;Causa Terminacion\n"+
			"01/3/2026 10:00:00;1144445555;Venta;\n",
	)

	entries, _, err := ParseReport(context.Background(), path, ReportOptions{}, runDay)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestParseReport_MissingColumn(t *testing.T) {
	path := writeFile(t, t.TempDir(), "r.csv", "Inicio;Cliente\n01/3/2026 10:00:00;1144445555\n")

	_, _, err := ParseReport(context.Background(), path, ReportOptions{}, runDay)
	require.Error(t, err)
	assert.True(t, errors.Is(err, resilience.ErrMalformedRecord))
}

func TestParseReport_Latin1(t *testing.T) {
	// "Tipificación" and "Terminación" encoded as ISO-8859-1.
	content := []byte("Inicio;Cliente;Tipificaci\xf3n;Causa Terminaci\xf3n\n01/3/2026 10:00:00;1144445555;Venta;\n")
	dir := t.TempDir()
	path := filepath.Join(dir, "r.csv")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	entries, _, err := ParseReport(context.Background(), path, ReportOptions{Encoding: "latin1"}, runDay)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestParseStart(t *testing.T) {
	got, err := parseStart(" 5/10/2025   07:08:09 ")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 10, 5, 7, 8, 9, 0, time.UTC), got)

	_, err = parseStart("2025-10-05")
	assert.True(t, errors.Is(err, resilience.ErrUnparsableField))
}
