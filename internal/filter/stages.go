package filter

import (
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/callbatch/internal/model"
	"github.com/sells-group/callbatch/internal/phone"
)

// Stage names as they appear in results and logs.
const (
	StageExclusion = "exclusion"
	StageIDRange   = "id-range"
	StageContract  = "contract"
	StageMinAge    = "min-age"
	StageYear      = "contract-year"
	StageLineCount = "line-count"
	StageCarrier   = "carrier"
	StageKeyRange  = "key-range"
	StageStatus    = "status"
	StageContacted = "recently-contacted"
)

// DateLayouts are the layouts accepted for registry dates, tried in order.
var DateLayouts = []string{"2006-01-02", "2006-01-02 15:04:05", "02/01/2006"}

type column struct {
	name string
	idx  int
}

func (c *column) bind(h model.Header) error {
	i, ok := h.Index(c.name)
	if !ok {
		return eris.Errorf("filter: column %q not found", c.name)
	}
	c.idx = i
	return nil
}

func (c *column) value(r model.Record) string {
	return strings.TrimSpace(r.Get(c.idx))
}

// KeySet is a membership test over line keys.
type KeySet interface {
	Has(key string) bool
}

// SetStage drops rows whose column value is in a key set.
type SetStage struct {
	name string
	col  column
	set  KeySet
}

// NewSetStage creates a stage that drops rows whose column is in set.
func NewSetStage(name, col string, set KeySet) *SetStage {
	return &SetStage{name: name, col: column{name: col}, set: set}
}

func (s *SetStage) Name() string              { return s.name }
func (s *SetStage) Bind(h model.Header) error { return s.col.bind(h) }
func (s *SetStage) Evaluate(r model.Record) Verdict {
	if s.set != nil && s.set.Has(phone.StripDecimal(s.col.value(r))) {
		return Drop
	}
	return Keep
}

// RangeStage keeps rows whose numeric column lies in [Min, Max].
type RangeStage struct {
	name    string
	col     column
	min     float64
	max     float64
	integer bool
}

// NewIntRange creates a range stage over an integer column. A trailing ".0"
// is tolerated.
func NewIntRange(name, col string, minV, maxV int64) *RangeStage {
	return &RangeStage{name: name, col: column{name: col}, min: float64(minV), max: float64(maxV), integer: true}
}

// NewNumericRange creates a range stage over a numeric column.
func NewNumericRange(name, col string, minV, maxV float64) *RangeStage {
	return &RangeStage{name: name, col: column{name: col}, min: minV, max: maxV}
}

func (s *RangeStage) Name() string              { return s.name }
func (s *RangeStage) Bind(h model.Header) error { return s.col.bind(h) }
func (s *RangeStage) Evaluate(r model.Record) Verdict {
	raw := s.col.value(r)
	var v float64
	if s.integer {
		n, err := strconv.ParseInt(phone.StripDecimal(raw), 10, 64)
		if err != nil {
			return Invalid
		}
		v = float64(n)
	} else {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Invalid
		}
		v = f
	}
	if v < s.min || v > s.max {
		return Drop
	}
	return Keep
}

// AllowStage keeps rows whose column equals one of the allowed values.
type AllowStage struct {
	name    string
	col     column
	allowed map[string]struct{}
}

// NewAllowStage creates an allow-list stage.
func NewAllowStage(name, col string, values ...string) *AllowStage {
	allowed := make(map[string]struct{}, len(values))
	for _, v := range values {
		allowed[v] = struct{}{}
	}
	return &AllowStage{name: name, col: column{name: col}, allowed: allowed}
}

func (s *AllowStage) Name() string              { return s.name }
func (s *AllowStage) Bind(h model.Header) error { return s.col.bind(h) }
func (s *AllowStage) Evaluate(r model.Record) Verdict {
	if _, ok := s.allowed[s.col.value(r)]; ok {
		return Keep
	}
	return Drop
}

// ParseDate parses a registry date with any of DateLayouts.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range DateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// MinAgeStage keeps rows whose date is strictly before now minus the minimum age.
type MinAgeStage struct {
	col    column
	cutoff time.Time
}

// NewMinAge creates the min-age stage.
func NewMinAge(col string, minAge time.Duration, now time.Time) *MinAgeStage {
	return &MinAgeStage{col: column{name: col}, cutoff: now.Add(-minAge)}
}

func (s *MinAgeStage) Name() string              { return StageMinAge }
func (s *MinAgeStage) Bind(h model.Header) error { return s.col.bind(h) }
func (s *MinAgeStage) Evaluate(r model.Record) Verdict {
	t, ok := ParseDate(s.col.value(r))
	if !ok {
		return Invalid
	}
	// Registry dates carry no zone; compare wall clock values.
	cutoff := time.Date(s.cutoff.Year(), s.cutoff.Month(), s.cutoff.Day(),
		s.cutoff.Hour(), s.cutoff.Minute(), s.cutoff.Second(), s.cutoff.Nanosecond(), time.UTC)
	if t.Before(cutoff) {
		return Keep
	}
	return Drop
}

// YearRule allows a category when its date falls in one of Years.
type YearRule struct {
	Category string `yaml:"category"`
	Years    []int  `yaml:"years"`
}

// YearStage keeps rows that match at least one category/year rule.
type YearStage struct {
	category column
	date     column
	rules    map[string]map[int]struct{}
}

// NewYearStage creates the contract-year stage.
func NewYearStage(categoryCol, dateCol string, rules []YearRule) *YearStage {
	m := make(map[string]map[int]struct{}, len(rules))
	for _, r := range rules {
		years, ok := m[r.Category]
		if !ok {
			years = make(map[int]struct{}, len(r.Years))
			m[r.Category] = years
		}
		for _, y := range r.Years {
			years[y] = struct{}{}
		}
	}
	return &YearStage{category: column{name: categoryCol}, date: column{name: dateCol}, rules: m}
}

func (s *YearStage) Name() string { return StageYear }

func (s *YearStage) Bind(h model.Header) error {
	if err := s.category.bind(h); err != nil {
		return err
	}
	return s.date.bind(h)
}

func (s *YearStage) Evaluate(r model.Record) Verdict {
	years, ok := s.rules[s.category.value(r)]
	if !ok {
		return Drop
	}
	t, ok := ParseDate(s.date.value(r))
	if !ok {
		return Invalid
	}
	if _, ok := years[t.Year()]; ok {
		return Keep
	}
	return Drop
}

// KeyRangeStage keeps rows whose numeric key is below a threshold or whose
// decimal form starts with one of the prefixes.
type KeyRangeStage struct {
	col       column
	threshold int64
	prefixes  []string
}

// NewKeyRange creates the key-range stage.
func NewKeyRange(col string, threshold int64, prefixes []string) *KeyRangeStage {
	return &KeyRangeStage{col: column{name: col}, threshold: threshold, prefixes: prefixes}
}

func (s *KeyRangeStage) Name() string              { return StageKeyRange }
func (s *KeyRangeStage) Bind(h model.Header) error { return s.col.bind(h) }
func (s *KeyRangeStage) Evaluate(r model.Record) Verdict {
	n, err := strconv.ParseInt(phone.StripDecimal(s.col.value(r)), 10, 64)
	if err != nil {
		return Invalid
	}
	if n < s.threshold {
		return Keep
	}
	digits := strconv.FormatInt(n, 10)
	for _, p := range s.prefixes {
		if strings.HasPrefix(digits, p) {
			return Keep
		}
	}
	return Drop
}

// StatusStage drops rows whose key has a known status other than the allowed one.
type StatusStage struct {
	col     column
	status  map[string]string
	allowed string
}

// NewStatusStage creates the status carve-out stage. status maps a key to its
// most recent status.
func NewStatusStage(col string, status map[string]string, allowed string) *StatusStage {
	return &StatusStage{col: column{name: col}, status: status, allowed: allowed}
}

func (s *StatusStage) Name() string              { return StageStatus }
func (s *StatusStage) Bind(h model.Header) error { return s.col.bind(h) }
func (s *StatusStage) Evaluate(r model.Record) Verdict {
	st, ok := s.status[s.col.value(r)]
	if !ok || st == s.allowed {
		return Keep
	}
	return Drop
}
