package model

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Record is one raw row. Every value is kept as text until a stage parses it.
type Record []string

// Get returns the value at i, or "" when the row is short.
func (r Record) Get(i int) string {
	if i < 0 || i >= len(r) {
		return ""
	}
	return r[i]
}

// Header resolves column names to record positions.
type Header struct {
	names  []string
	index  map[string]int
	folded map[string]int
}

// NewHeader builds a Header from the column names in file order.
// Duplicate names resolve to the first occurrence.
func NewHeader(names []string) Header {
	h := Header{
		names:  make([]string, len(names)),
		index:  make(map[string]int, len(names)),
		folded: make(map[string]int, len(names)),
	}
	for i, n := range names {
		n = strings.TrimSpace(strings.TrimPrefix(n, "\ufeff"))
		h.names[i] = n
		if _, ok := h.index[n]; !ok {
			h.index[n] = i
		}
		f := FoldName(n)
		if _, ok := h.folded[f]; !ok {
			h.folded[f] = i
		}
	}
	return h
}

// Names returns a copy of the column names.
func (h Header) Names() []string {
	out := make([]string, len(h.names))
	copy(out, h.names)
	return out
}

// Len returns the number of columns.
func (h Header) Len() int { return len(h.names) }

// Index returns the position of the column. Exact names win; otherwise the
// name is compared case- and accent-insensitively ("Tipificación" matches
// "tipificacion").
func (h Header) Index(name string) (int, bool) {
	if i, ok := h.index[name]; ok {
		return i, true
	}
	i, ok := h.folded[FoldName(name)]
	return i, ok
}

// Has reports whether the column exists.
func (h Header) Has(name string) bool {
	_, ok := h.Index(name)
	return ok
}

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// FoldName lowercases a column name and strips diacritics and surrounding space.
func FoldName(s string) string {
	out, _, err := transform.String(foldTransformer, strings.TrimSpace(s))
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// Table is a resident working set of rows sharing one header.
type Table struct {
	Header Header
	Rows   []Record
}

// NewTable creates an empty table with the given columns.
func NewTable(columns ...string) *Table {
	return &Table{Header: NewHeader(columns)}
}

// Len returns the row count.
func (t *Table) Len() int { return len(t.Rows) }

// Value returns the named column of a row, or "" when the column is absent.
func (t *Table) Value(r Record, column string) string {
	i, ok := t.Header.Index(column)
	if !ok {
		return ""
	}
	return r.Get(i)
}

// Column returns every value of the named column in row order.
func (t *Table) Column(column string) ([]string, bool) {
	i, ok := t.Header.Index(column)
	if !ok {
		return nil, false
	}
	out := make([]string, len(t.Rows))
	for j, r := range t.Rows {
		out[j] = r.Get(i)
	}
	return out, true
}

// WithRows returns a table with the same header and the given rows.
func (t *Table) WithRows(rows []Record) *Table {
	return &Table{Header: t.Header, Rows: rows}
}

// AddColumn appends a column whose value is computed per row. If the column
// already exists its values are overwritten.
func (t *Table) AddColumn(name string, fill func(Record) string) {
	if i, ok := t.Header.index[name]; ok {
		for j, r := range t.Rows {
			v := fill(r)
			if i >= len(r) {
				r = pad(r, i+1)
			}
			r[i] = v
			t.Rows[j] = r
		}
		return
	}
	width := t.Header.Len()
	t.Header = NewHeader(append(t.Header.Names(), name))
	for j, r := range t.Rows {
		v := fill(r)
		r = pad(r, width)
		t.Rows[j] = append(r, v)
	}
}

func pad(r Record, n int) Record {
	if len(r) >= n {
		return r[:n:n]
	}
	out := make(Record, n)
	copy(out, r)
	return out
}
