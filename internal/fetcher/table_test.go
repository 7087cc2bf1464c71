package fetcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadTable_HeaderFromFile(t *testing.T) {
	path := writeFile(t, "base.csv", "linea;dni\n1144445555;20111222\n3514445555;30111222\n")

	tbl, stats, err := ReadTable(context.Background(), path, TableOptions{Delimiter: ';'})
	require.NoError(t, err)

	assert.Equal(t, []string{"linea", "dni"}, tbl.Header.Names())
	assert.Equal(t, 2, tbl.Len())
	assert.Equal(t, 2, stats.Rows)
	assert.Equal(t, "30111222", tbl.Value(tbl.Rows[1], "dni"))
}

func TestReadTable_HeaderlessWithColumns(t *testing.T) {
	path := writeFile(t, "iris.txt", "1144445555&01/05/2024&Port Out\n")

	tbl, _, err := ReadTable(context.Background(), path, TableOptions{
		Delimiter: '&',
		Columns:   []string{"linea", "fecha", "estado"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, tbl.Len())
	assert.Equal(t, "Port Out", tbl.Value(tbl.Rows[0], "estado"))
}

func TestReadTable_LazyQuotes(t *testing.T) {
	path := writeFile(t, "x.csv", "a,b\n1,2\n3,4\"x\n5,6\n")

	tbl, stats, err := ReadTable(context.Background(), path, TableOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, tbl.Len())
	assert.Equal(t, 3, stats.Rows)
	assert.Equal(t, 0, stats.Malformed)
	assert.Equal(t, `4"x`, tbl.Value(tbl.Rows[1], "b"))
}

func TestReadTable_EmptyFile(t *testing.T) {
	path := writeFile(t, "empty.csv", "")

	tbl, _, err := ReadTable(context.Background(), path, TableOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, tbl.Len())
	assert.Equal(t, 0, tbl.Header.Len())
}

func TestReadTable_Missing(t *testing.T) {
	_, _, err := ReadTable(context.Background(), filepath.Join(t.TempDir(), "nope.csv"), TableOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestReadTable_Spreadsheet(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Sheet1": {{"linea"}, {"1144445555"}, {"3514445555"}},
	})

	tbl, stats, err := ReadTable(context.Background(), path, TableOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"linea"}, tbl.Header.Names())
	assert.Equal(t, 2, stats.Rows)
}

func TestParseDelimiter(t *testing.T) {
	assert.Equal(t, ';', ParseDelimiter("", ';'))
	assert.Equal(t, ',', ParseDelimiter("", ','))
	assert.Equal(t, ',', ParseDelimiter(" , ", ';'))
	assert.Equal(t, '\t', ParseDelimiter(`\t`, ';'))
	assert.Equal(t, '\t', ParseDelimiter("tab", ';'))
	assert.Equal(t, '&', ParseDelimiter("&", ';'))
}
