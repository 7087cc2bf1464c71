package model

import "time"

// Entry is the latest known record for one key in a consolidated store.
// Observed is the record's own date, not the time it was ingested.
type Entry struct {
	Key      string            `json:"key"`
	Fields   map[string]string `json:"fields"`
	Observed time.Time         `json:"observed"`
}

// Field returns a named field, or "" when absent.
func (e Entry) Field(name string) string {
	if e.Fields == nil {
		return ""
	}
	return e.Fields[name]
}

// MergeStats counts what a merge did with the incoming entries.
type MergeStats struct {
	Updated int `json:"updated"`
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
}

// Changed reports whether the merge altered the store.
func (s MergeStats) Changed() bool {
	return s.Updated > 0 || s.Added > 0
}

// DateLayout is the day-resolution layout used for stored dates.
const DateLayout = "2006-01-02"
