// Package registry loads the contact registry the batch is selected from and
// applies the cleanup every run needs before filtering.
package registry

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/callbatch/internal/fetcher"
	"github.com/sells-group/callbatch/internal/model"
	"github.com/sells-group/callbatch/internal/phone"
	"github.com/sells-group/callbatch/internal/resilience"
)

// Registry columns the cleanup depends on.
const (
	ColLine    = "linea"
	ColID      = "dni"
	ColPortOut = "fecha_portout"
)

// SourceName identifies the registry in errors and logs.
const SourceName = "registry"

// Options locates and decodes the registry.
type Options struct {
	Location  string
	Delimiter rune // default ';'
	Sheet     string
	Encoding  string
}

// Stats reports what the cleanup removed.
type Stats struct {
	Rows       int `json:"rows"`
	Blank      int `json:"blank"`
	Duplicates int `json:"duplicates"`
	Kept       int `json:"kept"`
}

// Load reads and cleans the registry. A missing file or a missing required
// column is a missing input source.
func Load(ctx context.Context, loc fetcher.Locator, opts Options) (*model.Table, Stats, error) {
	delim := opts.Delimiter
	if delim == 0 {
		delim = ';'
	}
	tbl, _, err := fetcher.OpenTable(ctx, loc, SourceName, opts.Location, fetcher.TableOptions{
		Delimiter: delim,
		Sheet:     opts.Sheet,
		Encoding:  opts.Encoding,
	})
	if err != nil {
		return nil, Stats{}, err
	}

	cleaned, stats, err := Clean(tbl)
	if err != nil {
		return nil, stats, resilience.NewMissingInput(SourceName, opts.Location, err)
	}
	zap.L().With(zap.String("component", "registry")).Info("registry: loaded",
		zap.String("location", opts.Location),
		zap.Int("rows", stats.Rows),
		zap.Int("blank", stats.Blank),
		zap.Int("duplicates", stats.Duplicates),
		zap.Int("kept", stats.Kept),
	)
	return cleaned, stats, nil
}

// Clean trims the line, id and port-out columns, strips the ".0" a
// spreadsheet round trip leaves on the line, drops rows missing any of the
// three and keeps the first row per line.
func Clean(tbl *model.Table) (*model.Table, Stats, error) {
	idx := make([]int, 3)
	for i, name := range []string{ColLine, ColID, ColPortOut} {
		j, ok := tbl.Header.Index(name)
		if !ok {
			return nil, Stats{}, eris.Errorf("registry: column %q not found", name)
		}
		idx[i] = j
	}
	lineIdx := idx[0]

	stats := Stats{Rows: tbl.Len()}
	seen := make(map[string]struct{}, tbl.Len())
	kept := make([]model.Record, 0, tbl.Len())

	for _, r := range tbl.Rows {
		r = widen(r, tbl.Header.Len())
		for _, j := range idx {
			r[j] = strings.TrimSpace(r[j])
		}
		r[lineIdx] = phone.StripDecimal(r[lineIdx])

		if r[idx[0]] == "" || r[idx[1]] == "" || r[idx[2]] == "" {
			stats.Blank++
			continue
		}
		if _, dup := seen[r[lineIdx]]; dup {
			stats.Duplicates++
			continue
		}
		seen[r[lineIdx]] = struct{}{}
		kept = append(kept, r)
	}

	stats.Kept = len(kept)
	return tbl.WithRows(kept), stats, nil
}

func widen(r model.Record, n int) model.Record {
	if len(r) >= n {
		return r
	}
	out := make(model.Record, n)
	copy(out, r)
	return out
}
