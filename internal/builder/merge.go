package builder

import (
	"sort"

	"github.com/vanshika/churngraph/internal/config"
)

// mergeStats counts what entity resolution folded together.
type mergeStats struct {
	duplicates int
	conflicts  int
}

// resolve folds records sharing an identity key into one record per key,
// keeping the first or last occurrence per policy. Output is sorted by key.
func resolve[T any, K comparable](records []T, key func(T) K, same func(a, b T) bool, less func(a, b K) bool, policy string) ([]T, mergeStats) {
	var stats mergeStats
	index := make(map[K]int, len(records))
	out := make([]T, 0, len(records))
	for _, rec := range records {
		k := key(rec)
		pos, seen := index[k]
		if !seen {
			index[k] = len(out)
			out = append(out, rec)
			continue
		}
		stats.duplicates++
		if !same(out[pos], rec) {
			stats.conflicts++
			if policy == config.MergeLastWriteWins {
				out[pos] = rec
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return less(key(out[i]), key(out[j])) })
	return out, stats
}

func lessInt64(a, b int64) bool   { return a < b }
func lessString(a, b string) bool { return a < b }
