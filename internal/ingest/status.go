package ingest

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/callbatch/internal/fetcher"
	"github.com/sells-group/callbatch/internal/model"
)

// Status feed fields, in file order.
const (
	FieldLine   = "linea"
	FieldStatus = "estado"
)

// StatusDateLayout is the layout of the status feed date field.
const StatusDateLayout = "2/1/2006"

var statusColumns = []string{FieldLine, FieldDate, FieldStatus}

// ParseStatus reads one '&'-delimited status feed. Lines must carry exactly
// three non-empty fields, a parseable date and an all-digit line number;
// anything else is counted as malformed. The most recent row per line wins.
func ParseStatus(ctx context.Context, path, encoding string, now time.Time) ([]model.Entry, ParseStats, error) {
	var stats ParseStats

	tbl, rs, err := fetcher.ReadTable(ctx, path, fetcher.TableOptions{
		Delimiter: '&',
		Columns:   statusColumns,
		Encoding:  encoding,
	})
	if err != nil {
		return nil, stats, eris.Wrapf(err, "ingest: read status feed %s", path)
	}
	stats.Rows = rs.Rows + rs.Malformed
	stats.Malformed = rs.Malformed

	ingested := now.Format(model.DateLayout)
	index := make(map[string]int)
	var entries []model.Entry
	for _, r := range tbl.Rows {
		if !wellFormed(r) {
			stats.Malformed++
			continue
		}
		line := strings.TrimSpace(r[0])
		if !allDigits(line) {
			stats.Rejected++
			continue
		}
		day, err := time.Parse(StatusDateLayout, strings.TrimSpace(r[1]))
		if err != nil {
			stats.Malformed++
			continue
		}
		e := model.Entry{
			Key: line,
			Fields: map[string]string{
				FieldStatus:   strings.TrimSpace(r[2]),
				FieldDate:     day.Format(model.DateLayout),
				FieldIngested: ingested,
			},
			Observed: day,
		}
		if i, ok := index[line]; ok {
			if e.Observed.After(entries[i].Observed) {
				entries[i] = e
			}
			continue
		}
		index[line] = len(entries)
		entries = append(entries, e)
	}
	stats.Entries = len(entries)
	return entries, stats, nil
}

func wellFormed(r model.Record) bool {
	if len(r) != len(statusColumns) {
		return false
	}
	for _, v := range r {
		if strings.TrimSpace(v) == "" {
			return false
		}
	}
	return true
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
