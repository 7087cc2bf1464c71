package consolidate

import (
	"sort"

	"github.com/sells-group/callbatch/internal/model"
)

// Merge folds incoming into existing using "latest observation per key wins".
//
// Duplicate keys in existing are collapsed first, keeping the most recent
// entry (the first one after a stable newest-first sort, so ties resolve to
// input order). An incoming entry replaces the stored one only when its date
// is strictly later. Incoming entries without a key are counted as skipped.
// The result holds one entry per key, ordered by key.
func Merge(existing, incoming []model.Entry) ([]model.Entry, model.MergeStats) {
	var stats model.MergeStats

	index := dedupeLatest(existing)

	for _, e := range incoming {
		if e.Key == "" {
			stats.Skipped++
			continue
		}
		cur, ok := index[e.Key]
		if !ok {
			index[e.Key] = e
			stats.Added++
			continue
		}
		if e.Observed.After(cur.Observed) {
			index[e.Key] = e
			stats.Updated++
		}
	}

	return flatten(index), stats
}

func dedupeLatest(entries []model.Entry) map[string]model.Entry {
	sorted := make([]model.Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Observed.After(sorted[j].Observed)
	})

	index := make(map[string]model.Entry, len(sorted))
	for _, e := range sorted {
		if e.Key == "" {
			continue
		}
		if _, seen := index[e.Key]; !seen {
			index[e.Key] = e
		}
	}
	return index
}

func flatten(index map[string]model.Entry) []model.Entry {
	out := make([]model.Entry, 0, len(index))
	for _, e := range index {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Index maps entries by key. Later duplicates do not replace earlier ones.
func Index(entries []model.Entry) map[string]model.Entry {
	m := make(map[string]model.Entry, len(entries))
	for _, e := range entries {
		if _, ok := m[e.Key]; !ok {
			m[e.Key] = e
		}
	}
	return m
}
