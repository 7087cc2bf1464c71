// Package ingest folds new call reports and status feeds into their
// consolidated stores. Files already recorded in the ledger are skipped, and
// a file is recorded only after the store it fed was persisted.
package ingest

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/callbatch/internal/consolidate"
	"github.com/sells-group/callbatch/internal/model"
)

// Ledger is the part of the ingestion ledger the ingester needs.
type Ledger interface {
	Consumed(ctx context.Context, source string) (bool, error)
	MarkConsumed(ctx context.Context, source string, kind model.SourceKind, rows int) error
}

// Config locates inputs and stores.
type Config struct {
	ReportsDir  string
	ReportsGlob string // default "*.csv"
	ReportStore string
	// ReportKey names the key column of the report store.
	ReportKey string // default "Cliente"

	StatusDir   string
	StatusGlob  string // default "*.txt"
	StatusStore string
	StatusKey   string // default "linea"

	Report         ReportOptions
	StatusEncoding string
}

func (c *Config) defaults() {
	if c.ReportsGlob == "" {
		c.ReportsGlob = "*.csv"
	}
	if c.StatusGlob == "" {
		c.StatusGlob = "*.txt"
	}
	if c.ReportKey == "" {
		c.ReportKey = ColClient
	}
	if c.StatusKey == "" {
		c.StatusKey = FieldLine
	}
}

// KindResult summarizes one kind of input.
type KindResult struct {
	Kind      model.SourceKind `json:"kind"`
	Files     []string         `json:"files"`
	Skipped   int              `json:"skipped"`
	Failed    []string         `json:"failed,omitempty"`
	Parse     ParseStats       `json:"parse"`
	Merge     model.MergeStats `json:"merge"`
	Total     int              `json:"total"`
	Persisted bool             `json:"persisted"`
}

// Result is the outcome of one ingest step.
type Result struct {
	Reports KindResult `json:"reports"`
	Status  KindResult `json:"status"`
}

// Rows is the number of store entries added or updated.
func (r *Result) Rows() int64 {
	return int64(r.Reports.Merge.Added + r.Reports.Merge.Updated + r.Status.Merge.Added + r.Status.Merge.Updated)
}

// Ingester runs the ingest step.
type Ingester struct {
	cfg    Config
	ledger Ledger
	now    func() time.Time
	log    *zap.Logger
}

// New creates an Ingester.
func New(cfg Config, l Ledger) *Ingester {
	cfg.defaults()
	return &Ingester{
		cfg:    cfg,
		ledger: l,
		now:    time.Now,
		log:    zap.L().With(zap.String("component", "ingest")),
	}
}

// WithClock replaces the clock used to stamp the ingestion date.
func (in *Ingester) WithClock(now func() time.Time) *Ingester {
	in.now = now
	return in
}

type parseFunc func(ctx context.Context, path string, now time.Time) ([]model.Entry, ParseStats, error)

// Run ingests reports, then status feeds.
func (in *Ingester) Run(ctx context.Context) (*Result, error) {
	now := in.now()
	res := &Result{}

	reports, err := in.ingestKind(ctx, model.SourceReport, in.cfg.ReportsDir, in.cfg.ReportsGlob,
		consolidate.Open(in.cfg.ReportStore, in.cfg.ReportKey),
		func(ctx context.Context, path string, now time.Time) ([]model.Entry, ParseStats, error) {
			return ParseReport(ctx, path, in.cfg.Report, now)
		}, now)
	if err != nil {
		return nil, err
	}
	res.Reports = *reports

	status, err := in.ingestKind(ctx, model.SourceStatus, in.cfg.StatusDir, in.cfg.StatusGlob,
		consolidate.Open(in.cfg.StatusStore, in.cfg.StatusKey),
		func(ctx context.Context, path string, now time.Time) ([]model.Entry, ParseStats, error) {
			return ParseStatus(ctx, path, in.cfg.StatusEncoding, now)
		}, now)
	if err != nil {
		return nil, err
	}
	res.Status = *status

	in.log.Info("ingest: complete",
		zap.Int("report_files", len(res.Reports.Files)),
		zap.Int("status_files", len(res.Status.Files)),
		zap.Int64("rows", res.Rows()),
	)
	return res, nil
}

func (in *Ingester) ingestKind(
	ctx context.Context,
	kind model.SourceKind,
	dir, glob string,
	store *consolidate.Store,
	parse parseFunc,
	now time.Time,
) (*KindResult, error) {
	log := in.log.With(zap.String("kind", string(kind)), zap.String("dir", dir))
	res := &KindResult{Kind: kind}

	files, err := scan(dir, glob)
	if err != nil {
		return nil, err
	}
	if files == nil {
		log.Warn("ingest: input directory not found")
		return res, nil
	}

	var incoming []model.Entry
	produced := make(map[string]int)
	for _, path := range files {
		source, err := sourceID(path)
		if err != nil {
			return nil, err
		}
		done, err := in.ledger.Consumed(ctx, source)
		if err != nil {
			return nil, eris.Wrap(err, "ingest: check ledger")
		}
		if done {
			res.Skipped++
			continue
		}

		entries, stats, err := parse(ctx, path, now)
		if err != nil {
			log.Error("ingest: file failed, leaving it unconsumed", zap.String("file", path), zap.Error(err))
			res.Failed = append(res.Failed, path)
			continue
		}
		log.Info("ingest: file parsed",
			zap.String("file", path),
			zap.Int("rows", stats.Rows),
			zap.Int("filtered", stats.Filtered),
			zap.Int("malformed", stats.Malformed),
			zap.Int("rejected", stats.Rejected),
			zap.Int("entries", stats.Entries),
		)
		res.Files = append(res.Files, source)
		res.Parse = addStats(res.Parse, stats)
		produced[source] = len(entries)
		incoming = append(incoming, entries...)
	}

	if len(res.Files) == 0 {
		log.Info("ingest: no new files")
		return res, nil
	}

	if len(incoming) > 0 {
		existing := store.Load(ctx)
		merged, mstats := consolidate.Merge(existing, incoming)
		res.Merge = mstats
		res.Total = len(merged)
		log.Info("ingest: merged",
			zap.Int("updated", mstats.Updated),
			zap.Int("added", mstats.Added),
			zap.Int("skipped", mstats.Skipped),
			zap.Int("total", len(merged)),
		)
		if mstats.Changed() {
			if err := store.Persist(ctx, merged); err != nil {
				return nil, eris.Wrapf(err, "ingest: persist %s store", kind)
			}
			res.Persisted = true
		}
	} else {
		log.Info("ingest: no new entries, store left untouched")
	}

	for _, source := range res.Files {
		if err := in.ledger.MarkConsumed(ctx, source, kind, produced[source]); err != nil {
			return nil, eris.Wrapf(err, "ingest: mark %s consumed", source)
		}
	}
	return res, nil
}

// scan lists the files in dir matching glob in name order. A missing
// directory yields nil.
func scan(dir, glob string) ([]string, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: stat %s", dir)
	}
	if !info.IsDir() {
		return nil, eris.Errorf("ingest: %s is not a directory", dir)
	}
	matches, err := filepath.Glob(filepath.Join(dir, glob))
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: glob %s", glob)
	}
	files := make([]string, 0, len(matches))
	for _, m := range matches {
		if fi, err := os.Stat(m); err == nil && fi.Mode().IsRegular() {
			files = append(files, m)
		}
	}
	sort.Strings(files)
	return files, nil
}

func sourceID(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", eris.Wrapf(err, "ingest: resolve %s", path)
	}
	return abs, nil
}

func addStats(a, b ParseStats) ParseStats {
	return ParseStats{
		Rows:      a.Rows + b.Rows,
		Filtered:  a.Filtered + b.Filtered,
		Malformed: a.Malformed + b.Malformed,
		Rejected:  a.Rejected + b.Rejected,
		Entries:   a.Entries + b.Entries,
	}
}
