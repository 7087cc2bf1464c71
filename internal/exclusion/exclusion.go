// Package exclusion builds the suppression set: the union of every
// do-not-call and already-worked list, keyed by line number.
package exclusion

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/callbatch/internal/fetcher"
	"github.com/sells-group/callbatch/internal/phone"
	"github.com/sells-group/callbatch/internal/resilience"
)

// DefaultColumn is the key column of a suppression list.
const DefaultColumn = "linea"

// Source is one suppression list.
type Source struct {
	Name      string `mapstructure:"name" yaml:"name"`
	Location  string `mapstructure:"location" yaml:"location"` // path or http(s)/ftp URL
	Column    string `mapstructure:"column" yaml:"column"`
	Delimiter string `mapstructure:"delimiter" yaml:"delimiter"` // default ";"
	Sheet     string `mapstructure:"sheet" yaml:"sheet"`
	Encoding  string `mapstructure:"encoding" yaml:"encoding"`
}

// SourceCount reports how many rows and distinct keys one source contributed.
type SourceCount struct {
	Name string `json:"name"`
	Rows int    `json:"rows"`
	Keys int    `json:"keys"`
}

// Set is a set of line keys.
type Set map[string]struct{}

// Has reports whether key is in the set.
func (s Set) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Add inserts key.
func (s Set) Add(key string) { s[key] = struct{}{} }

// Len returns the number of keys.
func (s Set) Len() int { return len(s) }

// Loader reads suppression sources.
type Loader struct {
	loc fetcher.Locator
	log *zap.Logger
}

// NewLoader creates a Loader that resolves locations through loc.
func NewLoader(loc fetcher.Locator) *Loader {
	return &Loader{loc: loc, log: zap.L().With(zap.String("component", "exclusion"))}
}

// Load returns the union of every source's keys. Keys are trimmed and lose a
// trailing ".0". Any source that cannot be read, or lacks its key column,
// fails the whole load.
func (l *Loader) Load(ctx context.Context, sources []Source) (Set, []SourceCount, error) {
	set := make(Set)
	counts := make([]SourceCount, 0, len(sources))

	for _, src := range sources {
		name := src.Name
		if name == "" {
			name = src.Location
		}
		column := src.Column
		if column == "" {
			column = DefaultColumn
		}

		tbl, _, err := fetcher.OpenTable(ctx, l.loc, name, src.Location, fetcher.TableOptions{
			Delimiter: fetcher.ParseDelimiter(src.Delimiter, ';'),
			Sheet:     src.Sheet,
			Encoding:  src.Encoding,
		})
		if err != nil {
			return nil, nil, err
		}
		values, ok := tbl.Column(column)
		if !ok {
			return nil, nil, resilience.NewMissingInput(name, src.Location,
				eris.Errorf("exclusion: column %q not found", column))
		}

		own := make(map[string]struct{}, len(values))
		for _, v := range values {
			k := phone.StripDecimal(v)
			if k == "" {
				continue
			}
			own[k] = struct{}{}
			set.Add(k)
		}
		c := SourceCount{Name: name, Rows: len(values), Keys: len(own)}
		counts = append(counts, c)
		l.log.Info("exclusion: source loaded",
			zap.String("source", name),
			zap.Int("rows", c.Rows),
			zap.Int("keys", c.Keys),
		)
	}

	l.log.Info("exclusion: set built", zap.Int("sources", len(sources)), zap.Int("keys", set.Len()))
	return set, counts, nil
}
