package ingest

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/callbatch/internal/fetcher"
	"github.com/sells-group/callbatch/internal/model"
	"github.com/sells-group/callbatch/internal/phone"
	"github.com/sells-group/callbatch/internal/resilience"
)

// Report column names as they appear in the dialer export.
const (
	ColStart   = "Inicio"
	ColClient  = "Cliente"
	ColOutcome = "Tipificación"
	ColCause   = "Causa Terminación"
)

// Fields written to report entries.
const (
	FieldOutcome  = "Tipificacion"
	FieldDate     = "fecha"
	FieldIngested = "fecha_consulta"
)

// NotAvailable is the outcome the dialer writes when the real result lives in
// the termination cause.
const NotAvailable = "No Disp."

// ReportStartLayout is the layout of the Inicio column.
const ReportStartLayout = "2/1/2006 15:04:05"

// DefaultOutcomes are the outcomes that make a contact worth remembering.
var DefaultOutcomes = []string{
	"Cliente moroso (Supera umbral)",
	"Edificio sin Disp de Caja",
	"Venta",
	"Ya tiene MVS",
}

// DefaultCauses are the termination causes that make a contact worth
// remembering regardless of outcome.
var DefaultCauses = []string{
	"Se discó un número que no corresponde a un abonado en servicio",
	"La Linea se encuentra en reparación",
}

// ReportOptions configures call report parsing.
type ReportOptions struct {
	Outcomes []string
	Causes   []string
	Encoding string
}

// ParseStats counts what a parser did with one file.
type ParseStats struct {
	Rows      int // rows read
	Filtered  int // rows outside the allow-lists
	Malformed int // rows that could not be parsed
	Rejected  int // rows whose key was rejected by the canonicalizer
	Entries   int // entries produced
}

type reportRow struct {
	client  string
	started time.Time
	outcome string
	cause   string
}

// ParseReport reads one call report and returns one entry per canonical key.
// now stamps the ingestion date.
func ParseReport(ctx context.Context, path string, opts ReportOptions, now time.Time) ([]model.Entry, ParseStats, error) {
	var stats ParseStats

	tbl, rs, err := fetcher.ReadTable(ctx, path, fetcher.TableOptions{Delimiter: ';', Encoding: opts.Encoding})
	if err != nil {
		return nil, stats, eris.Wrapf(err, "ingest: read report %s", path)
	}
	stats.Rows = rs.Rows + rs.Malformed
	stats.Malformed = rs.Malformed

	cols := make(map[string]int, 4)
	for _, name := range []string{ColStart, ColClient, ColOutcome, ColCause} {
		i, ok := tbl.Header.Index(name)
		if !ok {
			return nil, stats, eris.Wrapf(resilience.ErrMalformedRecord, "ingest: report %s has no %q column", path, name)
		}
		cols[name] = i
	}

	outcomes := toSet(opts.Outcomes, DefaultOutcomes)
	causes := toSet(opts.Causes, DefaultCauses)

	// Most recent row per raw client value; ties keep the first row seen.
	latest := make(map[string]int)
	var kept []reportRow
	for _, r := range tbl.Rows {
		outcome := strings.TrimSpace(r.Get(cols[ColOutcome]))
		cause := strings.TrimSpace(r.Get(cols[ColCause]))
		_, okOutcome := outcomes[outcome]
		_, okCause := causes[cause]
		if !okOutcome && !okCause {
			stats.Filtered++
			continue
		}

		started, err := parseStart(r.Get(cols[ColStart]))
		if err != nil {
			stats.Malformed++
			continue
		}

		row := reportRow{
			client:  strings.TrimSpace(r.Get(cols[ColClient])),
			started: started,
			outcome: outcome,
			cause:   cause,
		}
		if i, ok := latest[row.client]; ok {
			if row.started.After(kept[i].started) {
				kept[i] = row
			}
			continue
		}
		latest[row.client] = len(kept)
		kept = append(kept, row)
	}

	ingested := now.Format(model.DateLayout)
	entries := make([]model.Entry, 0, len(kept))
	for _, row := range kept {
		key, ok := phone.Canonical(row.client)
		if !ok {
			stats.Rejected++
			continue
		}
		outcome := row.outcome
		if outcome == NotAvailable {
			outcome = row.cause
		}
		day := truncateDay(row.started)
		entries = append(entries, model.Entry{
			Key: key,
			Fields: map[string]string{
				FieldOutcome:  outcome,
				FieldDate:     day.Format(model.DateLayout),
				FieldIngested: ingested,
			},
			Observed: day,
		})
	}
	stats.Entries = len(entries)
	return entries, stats, nil
}

// parseStart parses an Inicio value. The dialer sometimes pads the gap between
// date and time with extra spaces.
func parseStart(s string) (time.Time, error) {
	s = strings.Join(strings.Fields(s), " ")
	t, err := time.Parse(ReportStartLayout, s)
	if err != nil {
		return time.Time{}, eris.Wrap(resilience.ErrUnparsableField, err.Error())
	}
	return t, nil
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func toSet(values, fallback []string) map[string]struct{} {
	if len(values) == 0 {
		values = fallback
	}
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[strings.TrimSpace(v)] = struct{}{}
	}
	return out
}
