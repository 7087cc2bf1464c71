// Package export formats the filtered candidates into the dialer's fixed
// 14-column batch file.
package export

import (
	"context"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/callbatch/internal/fetcher"
	"github.com/sells-group/callbatch/internal/model"
	"github.com/sells-group/callbatch/internal/partition"
	"github.com/sells-group/callbatch/internal/phone"
	"github.com/sells-group/callbatch/internal/registry"
	"github.com/sells-group/callbatch/internal/resilience"
)

// Source columns read from the candidate file.
const (
	ColName      = "nombre_completo"
	ColID        = registry.ColID
	ColLine      = registry.ColLine
	ColContract  = "contrato"
	ColCarrier   = "compania"
	ColOthers    = "otras_lineas"
	ColLineCount = "cantidad_de_lineas"
	ColPortOut   = registry.ColPortOut
)

const (
	// CandidatesSourceName and LookupSourceName identify inputs in errors.
	CandidatesSourceName = "candidates"
	LookupSourceName     = "reference-lookup"

	// DefaultLabelPrefix sits between the date and the shift in BBDD labels.
	DefaultLabelPrefix = "Mza_MIXTA"

	indicatorColumn = "_lookup_indicator"
	valueColumn     = "_lookup_value"
)

// Columns is the header of the batch file, in order.
var Columns = []string{
	"Nombre del Cliente", "DNI", "ANI1", "Linea1", "Linea2",
	"PlanActual", "OperadorActual", "Domicilio", "CP", "Localidad",
	"email", "Provincia", "BBDD", "Generico",
}

// Shift names used in labels for each group.
var shifts = map[partition.Label]string{
	partition.GroupA: "TM",
	partition.GroupB: "TT",
}

// LookupConfig locates the reference table joined on the person id.
type LookupConfig struct {
	Location  string `mapstructure:"location" yaml:"location"`
	Delimiter string `mapstructure:"delimiter" yaml:"delimiter"` // default ","
	Key       string `mapstructure:"key" yaml:"key"`             // default "DNI"
	Value     string `mapstructure:"value" yaml:"value"`         // default "CUIT"
	Sheet     string `mapstructure:"sheet" yaml:"sheet"`
	// Required makes a missing lookup fatal. Otherwise every row is unmatched.
	Required bool `mapstructure:"required" yaml:"required"`
}

// Config configures the export step.
type Config struct {
	// Input is the candidate file written by the select step.
	Input     string
	OutputDir string
	Lookup    LookupConfig

	MaxPerPerson int    // default 2
	LabelPrefix  string // default DefaultLabelPrefix
	Marker       string // default partition.DefaultMarker
	// Seed fixes the shuffles; 0 seeds from the clock.
	Seed uint64
}

// Result summarizes one export step.
type Result struct {
	Candidates int                   `json:"candidates"`
	Duplicates int                   `json:"duplicates"`
	Capped     int                   `json:"capped"`
	Enrich     partition.EnrichStats `json:"enrich"`
	GroupA     int                   `json:"group_a"`
	GroupB     int                   `json:"group_b"`
	Rows       int                   `json:"rows"`
	Output     string                `json:"output"`
}

// Exporter runs the export step.
type Exporter struct {
	cfg Config
	loc fetcher.Locator
	now func() time.Time
	rng *rand.Rand
	log *zap.Logger
}

// New creates an Exporter.
func New(cfg Config, loc fetcher.Locator) *Exporter {
	if cfg.MaxPerPerson <= 0 {
		cfg.MaxPerPerson = 2
	}
	if cfg.LabelPrefix == "" {
		cfg.LabelPrefix = DefaultLabelPrefix
	}
	if cfg.Marker == "" {
		cfg.Marker = partition.DefaultMarker
	}
	if cfg.Lookup.Key == "" {
		cfg.Lookup.Key = "DNI"
	}
	if cfg.Lookup.Value == "" {
		cfg.Lookup.Value = "CUIT"
	}
	return &Exporter{
		cfg: cfg,
		loc: loc,
		now: time.Now,
		rng: partition.NewRand(cfg.Seed),
		log: zap.L().With(zap.String("component", "export")),
	}
}

// WithClock replaces the clock used for the file name and labels.
func (e *Exporter) WithClock(now func() time.Time) *Exporter {
	e.now = now
	return e
}

// FileName returns the batch file name for day.
func FileName(day time.Time) string {
	return "BASE_FINAL_" + day.Format("20060102") + "_MIXTA.csv"
}

// Label returns the BBDD value for a group on day.
func Label(day time.Time, prefix string, group partition.Label) string {
	return day.Format("20060102") + "_" + prefix + "_" + shifts[group]
}

// Run executes the step and returns the written file in Result.Output.
func (e *Exporter) Run(ctx context.Context) (*Result, error) {
	day := e.now()

	tbl, _, err := fetcher.OpenTable(ctx, e.loc, CandidatesSourceName, e.cfg.Input, fetcher.TableOptions{Delimiter: ';'})
	if err != nil {
		return nil, err
	}
	for _, c := range []string{ColLine, ColID} {
		if !tbl.Header.Has(c) {
			return nil, resilience.NewMissingInput(CandidatesSourceName, e.cfg.Input,
				eris.Errorf("export: column %q not found", c))
		}
	}

	res := Result{Candidates: tbl.Len()}
	tbl = uniqueLines(tbl)
	res.Duplicates = res.Candidates - tbl.Len()

	lookup, err := e.loadLookup(ctx)
	if err != nil {
		return nil, err
	}
	tbl, res.Enrich, err = partition.Enrich(tbl, lookup, partition.EnrichOptions{
		JoinColumn:      ColID,
		LookupKey:       e.cfg.Lookup.Key,
		LookupValue:     e.cfg.Lookup.Value,
		IndicatorColumn: indicatorColumn,
		ValueColumn:     valueColumn,
		Marker:          e.cfg.Marker,
	})
	if err != nil {
		return nil, eris.Wrap(err, "export: enrich")
	}

	before := tbl.Len()
	tbl, err = partition.DedupeBySecondaryKey(tbl, ColID, e.cfg.MaxPerPerson, e.rng)
	if err != nil {
		return nil, eris.Wrap(err, "export: cap per person")
	}
	res.Capped = before - tbl.Len()

	assignments := partition.BalancedSplit(tbl, e.rng)
	rows := Format(tbl, assignments, day, e.cfg.LabelPrefix)
	for _, a := range assignments {
		if a.Label == partition.GroupA {
			res.GroupA++
		} else {
			res.GroupB++
		}
	}

	if e.cfg.OutputDir == "" {
		return nil, eris.New("export: no output directory configured")
	}
	out := filepath.Join(e.cfg.OutputDir, FileName(day))
	if err := fetcher.WriteDelimited(out, Columns, rows, fetcher.WriteOptions{Delimiter: ';'}); err != nil {
		return nil, eris.Wrap(err, "export: write batch")
	}
	res.Rows = len(rows)
	res.Output = out

	e.log.Info("export: batch written",
		zap.String("output", out),
		zap.Int("rows", res.Rows),
		zap.Int("group_a", res.GroupA),
		zap.Int("group_b", res.GroupB),
		zap.Int("lookup_matched", res.Enrich.Matched),
	)
	return &res, nil
}

// Format maps each assignment onto the batch columns. tbl supplies the
// header of the assigned records and must carry the lookup columns.
func Format(tbl *model.Table, assignments []partition.Assignment, day time.Time, prefix string) [][]string {
	out := make([][]string, len(assignments))
	for i, a := range assignments {
		v := func(col string) string { return strings.TrimSpace(tbl.Value(a.Record, col)) }
		line := phone.StripDecimal(v(ColLine))
		out[i] = []string{
			v(ColName),
			phone.StripDecimal(v(ColID)),
			phone.AreaCode(line),
			phone.WithMobileMarker(line),
			line,
			v(ColContract),
			v(ColCarrier),
			v(ColOthers),
			v(ColLineCount),
			v(ColPortOut),
			v(indicatorColumn),
			v(valueColumn),
			Label(day, prefix, a.Label),
			"",
		}
	}
	return out
}

// uniqueLines keeps the first row per line.
func uniqueLines(tbl *model.Table) *model.Table {
	idx, _ := tbl.Header.Index(ColLine)
	seen := make(map[string]struct{}, tbl.Len())
	rows := make([]model.Record, 0, tbl.Len())
	for _, r := range tbl.Rows {
		k := phone.StripDecimal(r.Get(idx))
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		rows = append(rows, r)
	}
	return tbl.WithRows(rows)
}

func (e *Exporter) loadLookup(ctx context.Context) (*model.Table, error) {
	lc := e.cfg.Lookup
	if lc.Location == "" {
		if lc.Required {
			return nil, resilience.NewMissingInput(LookupSourceName, "", eris.New("no location configured"))
		}
		return nil, nil
	}
	if !fetcher.IsRemote(lc.Location) && !lc.Required {
		if _, err := os.Stat(lc.Location); err != nil {
			e.log.Warn("export: reference lookup not found, rows stay unmatched",
				zap.String("location", lc.Location))
			return nil, nil
		}
	}

	tbl, _, err := fetcher.OpenTable(ctx, e.loc, LookupSourceName, lc.Location, fetcher.TableOptions{
		Delimiter: fetcher.ParseDelimiter(lc.Delimiter, ','),
		Sheet:     lc.Sheet,
	})
	if err != nil {
		return nil, err
	}
	for _, c := range []string{lc.Key, lc.Value} {
		if !tbl.Header.Has(c) {
			return nil, resilience.NewMissingInput(LookupSourceName, lc.Location,
				eris.Errorf("export: column %q not found", c))
		}
	}
	return tbl, nil
}
