// Package partition shapes the candidate set into the final batch: it caps
// rows per person, joins the reference lookup and splits the rows between the
// two shifts. All randomness comes from the caller's *rand.Rand.
package partition

import (
	"math/rand/v2"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/callbatch/internal/model"
	"github.com/sells-group/callbatch/internal/phone"
)

// Label is the group a row is assigned to.
type Label string

const (
	GroupA Label = "A"
	GroupB Label = "B"
)

// Assignment is one row of the final batch with its group.
type Assignment struct {
	Record model.Record
	Label  Label
}

// NewRand returns a PCG-backed source. seed 0 seeds from the clock so every
// production run differs.
func NewRand(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func shuffled(rows []model.Record, rng *rand.Rand) []model.Record {
	out := make([]model.Record, len(rows))
	copy(out, rows)
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// DedupeBySecondaryKey shuffles the rows and keeps at most maxPerKey rows per
// value of column. Rows with an empty value are kept.
func DedupeBySecondaryKey(tbl *model.Table, column string, maxPerKey int, rng *rand.Rand) (*model.Table, error) {
	idx, ok := tbl.Header.Index(column)
	if !ok {
		return nil, eris.Errorf("partition: column %q not found", column)
	}
	if maxPerKey < 1 {
		return nil, eris.Errorf("partition: max per key must be positive, got %d", maxPerKey)
	}

	counts := make(map[string]int)
	var kept []model.Record
	for _, r := range shuffled(tbl.Rows, rng) {
		v := strings.TrimSpace(r.Get(idx))
		if v != "" {
			if counts[v] >= maxPerKey {
				continue
			}
			counts[v]++
		}
		kept = append(kept, r)
	}
	return tbl.WithRows(kept), nil
}

// EnrichOptions configures the reference join.
type EnrichOptions struct {
	// JoinColumn is the column of the batch joined against the lookup.
	JoinColumn string
	// LookupKey and LookupValue name the lookup's columns.
	LookupKey   string
	LookupValue string
	// IndicatorColumn receives Marker on a match; ValueColumn the lookup value.
	IndicatorColumn string
	ValueColumn     string
	Marker          string
}

// DefaultMarker flags rows found in the reference lookup.
const DefaultMarker = "BASE CUIT"

// EnrichStats counts join matches.
type EnrichStats struct {
	Matched   int `json:"matched"`
	Unmatched int `json:"unmatched"`
}

// Enrich left-joins the batch with lookup. Matched rows get the marker and
// the lookup value (without a trailing ".0"); unmatched rows get empty
// strings. No row is dropped or duplicated; the first lookup row per key wins.
// A nil lookup leaves every row unmatched.
func Enrich(tbl *model.Table, lookup *model.Table, opts EnrichOptions) (*model.Table, EnrichStats, error) {
	var stats EnrichStats
	if opts.Marker == "" {
		opts.Marker = DefaultMarker
	}
	if opts.IndicatorColumn == "" || opts.ValueColumn == "" {
		return nil, stats, eris.New("partition: indicator and value columns are required")
	}
	join, ok := tbl.Header.Index(opts.JoinColumn)
	if !ok {
		return nil, stats, eris.Errorf("partition: join column %q not found", opts.JoinColumn)
	}

	values := make(map[string]string)
	if lookup != nil {
		ki, ok := lookup.Header.Index(opts.LookupKey)
		if !ok {
			return nil, stats, eris.Errorf("partition: lookup key column %q not found", opts.LookupKey)
		}
		vi, ok := lookup.Header.Index(opts.LookupValue)
		if !ok {
			return nil, stats, eris.Errorf("partition: lookup value column %q not found", opts.LookupValue)
		}
		for _, r := range lookup.Rows {
			k := phone.StripDecimal(r.Get(ki))
			if k == "" {
				continue
			}
			if _, seen := values[k]; !seen {
				values[k] = phone.StripDecimal(r.Get(vi))
			}
		}
	}

	rows := make([]model.Record, len(tbl.Rows))
	for i, r := range tbl.Rows {
		rows[i] = append(model.Record(nil), r...)
	}
	out := tbl.WithRows(rows)

	for _, r := range rows {
		if _, ok := values[phone.StripDecimal(r.Get(join))]; ok {
			stats.Matched++
		} else {
			stats.Unmatched++
		}
	}

	out.AddColumn(opts.IndicatorColumn, func(r model.Record) string {
		if _, ok := values[phone.StripDecimal(r.Get(join))]; ok {
			return opts.Marker
		}
		return ""
	})
	out.AddColumn(opts.ValueColumn, func(r model.Record) string {
		return values[phone.StripDecimal(r.Get(join))]
	})
	return out, stats, nil
}

// BalancedSplit shuffles the rows and assigns the first ceil(n/2) to GroupA
// and the rest to GroupB.
func BalancedSplit(tbl *model.Table, rng *rand.Rand) []Assignment {
	rows := shuffled(tbl.Rows, rng)
	half := (len(rows) + 1) / 2
	out := make([]Assignment, len(rows))
	for i, r := range rows {
		label := GroupB
		if i < half {
			label = GroupA
		}
		out[i] = Assignment{Record: r, Label: label}
	}
	return out
}
