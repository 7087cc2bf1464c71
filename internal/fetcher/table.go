package fetcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/callbatch/internal/model"
	"github.com/sells-group/callbatch/internal/resilience"
)

// TableOptions describes how to read one tabular input.
type TableOptions struct {
	// Delimiter for text files; ignored for xlsx.
	Delimiter rune
	// Columns names the fields of a headerless file. When empty the first row
	// is the header.
	Columns  []string
	Encoding string
	// Sheet selects an xlsx sheet by name; the first sheet is used otherwise.
	Sheet string
}

// ReadStats counts rows the reader could not use.
type ReadStats struct {
	Rows      int
	Malformed int
}

// ParseDelimiter turns a configured delimiter into a rune. "" yields def;
// "tab" and `\t` yield a tab.
func ParseDelimiter(s string, def rune) rune {
	s = strings.TrimSpace(s)
	switch s {
	case "":
		return def
	case `\t`, "tab":
		return '\t'
	}
	return []rune(s)[0]
}

// IsSpreadsheet reports whether path names an xlsx workbook.
func IsSpreadsheet(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".xlsx")
}

// ReadTable loads a whole delimited, xlsx or parquet file into memory. Every value is
// kept as text. Rows the delimited parser rejects are counted and skipped.
func ReadTable(ctx context.Context, path string, opts TableOptions) (*model.Table, ReadStats, error) {
	if IsSpreadsheet(path) {
		return readSpreadsheet(path, opts)
	}
	if IsParquet(path) {
		return readParquet(path, opts)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, ReadStats{}, eris.Wrapf(err, "table: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	var stats ReadStats
	hasHeader := len(opts.Columns) == 0
	headerCh := make(chan []string, 1)

	rowCh, errCh := StreamCSV(ctx, f, CSVOptions{
		Delimiter:  opts.Delimiter,
		HasHeader:  hasHeader,
		HeaderCh:   headerCh,
		LazyQuotes: true,
		Encoding:   opts.Encoding,
		OnMalformed: func(line int, err error) {
			stats.Malformed++
			zap.L().Debug("table: skipping unparseable line",
				zap.String("path", path),
				zap.Int("line", line),
				zap.Error(err),
			)
		},
	})

	var rows []model.Record
	for row := range rowCh {
		rows = append(rows, model.Record(row))
	}
	for err := range errCh {
		if err != nil {
			return nil, stats, eris.Wrapf(err, "table: read %s", path)
		}
	}

	columns := opts.Columns
	if hasHeader {
		select {
		case h := <-headerCh:
			columns = h
		default:
			// empty file: no header, no rows
		}
	}

	stats.Rows = len(rows)
	return &model.Table{Header: model.NewHeader(columns), Rows: rows}, stats, nil
}

func readSpreadsheet(path string, opts TableOptions) (*model.Table, ReadStats, error) {
	raw, err := ReadXLSX(path, XLSXOptions{SheetName: opts.Sheet})
	if err != nil {
		return nil, ReadStats{}, err
	}

	columns := opts.Columns
	if len(columns) == 0 && len(raw) > 0 {
		columns, raw = raw[0], raw[1:]
	}
	rows := make([]model.Record, len(raw))
	for i, r := range raw {
		rows[i] = model.Record(r)
	}
	return &model.Table{Header: model.NewHeader(columns), Rows: rows}, ReadStats{Rows: len(rows)}, nil
}

// Locator turns an input location into a local path.
type Locator interface {
	Resolve(ctx context.Context, location string) (string, error)
}

// OpenTable resolves location and reads it as a table. An input that cannot
// be found, downloaded or opened is reported as a missing input source under
// the given name.
func OpenTable(ctx context.Context, loc Locator, name, location string, opts TableOptions) (*model.Table, ReadStats, error) {
	if location == "" {
		return nil, ReadStats{}, resilience.NewMissingInput(name, location, eris.New("no location configured"))
	}
	path, err := loc.Resolve(ctx, location)
	if err != nil {
		return nil, ReadStats{}, resilience.NewMissingInput(name, location, err)
	}
	tbl, stats, err := ReadTable(ctx, path, opts)
	if err != nil {
		return nil, stats, resilience.NewMissingInput(name, location, err)
	}
	return tbl, stats, nil
}
