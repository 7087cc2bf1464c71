package filter

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/callbatch/internal/consolidate"
	"github.com/sells-group/callbatch/internal/exclusion"
	"github.com/sells-group/callbatch/internal/fetcher"
	"github.com/sells-group/callbatch/internal/ingest"
	"github.com/sells-group/callbatch/internal/model"
	"github.com/sells-group/callbatch/internal/phone"
	"github.com/sells-group/callbatch/internal/registry"
	"github.com/sells-group/callbatch/internal/resilience"
)

// ContactedSourceName identifies the previous day's report in errors.
const ContactedSourceName = "contacted-report"

// SelectConfig locates the select step's inputs and output.
type SelectConfig struct {
	Registry   registry.Options
	Exclusions []exclusion.Source

	StatusStore string
	StatusKey   string // default "linea"

	// ContactedDir holds the dialer reports; the one for the previous day is
	// named by ContactedLayout, a Go time layout ("010206.csv" = mmddyy.csv).
	ContactedDir      string
	ContactedLayout   string
	ContactedRequired bool
	ContactedEncoding string

	RulesFile string
	// Output is the candidate file handed to the export step.
	Output string
}

// SelectResult summarizes one select step.
type SelectResult struct {
	Registry   registry.Stats          `json:"registry"`
	Exclusions []exclusion.SourceCount `json:"exclusions"`
	StatusKeys int                     `json:"status_keys"`
	Contacted  int                     `json:"contacted"`
	Stages     []StageResult           `json:"stages"`
	Candidates int                     `json:"candidates"`
	Output     string                  `json:"output"`
}

// Selector runs the select step: load inputs, filter, write candidates.
type Selector struct {
	cfg      SelectConfig
	loc      fetcher.Locator
	reporter Reporter
	now      func() time.Time
	log      *zap.Logger
}

// NewSelector creates a Selector. A nil reporter logs stage results.
func NewSelector(cfg SelectConfig, loc fetcher.Locator, reporter Reporter) *Selector {
	if cfg.StatusKey == "" {
		cfg.StatusKey = ingest.FieldLine
	}
	if cfg.ContactedLayout == "" {
		cfg.ContactedLayout = "010206.csv"
	}
	return &Selector{
		cfg:      cfg,
		loc:      loc,
		reporter: reporter,
		now:      time.Now,
		log:      zap.L().With(zap.String("component", "select")),
	}
}

// WithClock replaces the clock used for date thresholds.
func (s *Selector) WithClock(now func() time.Time) *Selector {
	s.now = now
	return s
}

// Run executes the step. Nothing is written unless every input loaded and
// every stage ran.
func (s *Selector) Run(ctx context.Context) (*SelectResult, error) {
	now := s.now()
	rules, err := LoadRules(s.cfg.RulesFile)
	if err != nil {
		return nil, err
	}

	var (
		res       SelectResult
		base      *model.Table
		excluded  exclusion.Set
		status    map[string]string
		contacted exclusion.Set
	)

	// Inputs are independent and read-only.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tbl, stats, err := registry.Load(gctx, s.loc, s.cfg.Registry)
		if err != nil {
			return err
		}
		base, res.Registry = tbl, stats
		return nil
	})
	g.Go(func() error {
		set, counts, err := exclusion.NewLoader(s.loc).Load(gctx, s.cfg.Exclusions)
		if err != nil {
			return err
		}
		excluded, res.Exclusions = set, counts
		return nil
	})
	g.Go(func() error {
		status = LoadStatus(gctx, s.cfg.StatusStore, s.cfg.StatusKey)
		return nil
	})
	g.Go(func() error {
		set, err := s.loadContacted(gctx, now)
		if err != nil {
			return err
		}
		contacted = set
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "select: load inputs")
	}
	res.StatusKeys = len(status)
	res.Contacted = contacted.Len()

	p := NewPipeline(s.reporter, rules.BuildStages(Inputs{
		Exclusion: excluded,
		Status:    status,
		Contacted: contacted,
	}, now)...)
	out, stages, err := p.Run(ctx, base)
	if err != nil {
		return nil, eris.Wrap(err, "select: filter")
	}
	res.Stages = stages
	res.Candidates = out.Len()

	if s.cfg.Output == "" {
		return nil, eris.New("select: no output path configured")
	}
	if err := fetcher.WriteTable(s.cfg.Output, out, fetcher.WriteOptions{Delimiter: ';'}); err != nil {
		return nil, eris.Wrap(err, "select: write candidates")
	}
	res.Output = s.cfg.Output

	s.log.Info("select: candidates written",
		zap.String("output", res.Output),
		zap.Int("registry_rows", res.Registry.Kept),
		zap.Int("candidates", res.Candidates),
	)
	return &res, nil
}

// LoadStatus returns key -> most recent status from the status store. A
// missing or unreadable store yields an empty map.
func LoadStatus(ctx context.Context, path, keyField string) map[string]string {
	if path == "" {
		return map[string]string{}
	}
	entries := consolidate.Open(path, keyField).Load(ctx)
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		out[e.Key] = e.Field(ingest.FieldStatus)
	}
	return out
}

// ContactedPath returns the previous day's report path for now.
func ContactedPath(dir, layout string, now time.Time) string {
	return filepath.Join(dir, now.AddDate(0, 0, -1).Format(layout))
}

func (s *Selector) loadContacted(ctx context.Context, now time.Time) (exclusion.Set, error) {
	set := make(exclusion.Set)
	if s.cfg.ContactedDir == "" {
		if s.cfg.ContactedRequired {
			return nil, resilience.NewMissingInput(ContactedSourceName, "", eris.New("no report directory configured"))
		}
		return set, nil
	}

	path := ContactedPath(s.cfg.ContactedDir, s.cfg.ContactedLayout, now)
	if _, err := os.Stat(path); err != nil && !s.cfg.ContactedRequired {
		s.log.Warn("select: previous day report not found, skipping recently-contacted exclusion",
			zap.String("path", path))
		return set, nil
	}

	tbl, _, err := fetcher.OpenTable(ctx, s.loc, ContactedSourceName, path, fetcher.TableOptions{
		Delimiter: ';',
		Encoding:  s.cfg.ContactedEncoding,
	})
	if err != nil {
		return nil, err
	}
	clients, ok := tbl.Column(ingest.ColClient)
	if !ok {
		return nil, resilience.NewMissingInput(ContactedSourceName, path,
			eris.Errorf("select: column %q not found", ingest.ColClient))
	}

	var rec phone.Recency
	for _, c := range clients {
		if strings.TrimSpace(c) == "" {
			continue
		}
		if k, ok := rec.Canonicalize(c); ok {
			set.Add(k)
		}
	}
	s.log.Info("select: contacted set loaded", zap.String("path", path), zap.Int("keys", set.Len()))
	return set, nil
}
