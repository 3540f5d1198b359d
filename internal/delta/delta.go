// Package delta implements change detection over freshly fetched result
// items: it splits a batch into new-vs-seen against the last known item key
// and folds the new part into a bounded newest-first history.
package delta

import (
	"time"

	"github.com/pagewatch/pagewatch/internal/watch"
)

// NewItems walks fresh in crawl order (newest first) and returns everything
// strictly before the first item whose identity key equals oldKey. When no
// item matches, the entire batch is new: either a first observation or a
// total turnover of the page.
func NewItems(oldKey string, fresh []watch.Item) []watch.Item {
	toInsert := make([]watch.Item, 0, len(fresh))
	for _, item := range fresh {
		if item.Key() == oldKey {
			break
		}
		toInsert = append(toInsert, item)
	}
	return toInsert
}

// MergeHistory prepends toInsert into history so it stays newest-first:
// the oldest of the new batch is inserted first, the newest ends up at the
// head. The result is truncated to max entries. history is not mutated.
func MergeHistory(history []watch.HistoryEntry, toInsert []watch.Item, now time.Time, max int) []watch.HistoryEntry {
	merged := make([]watch.HistoryEntry, 0, len(history)+len(toInsert))
	for _, item := range toInsert {
		merged = append(merged, watch.HistoryEntry{Result: item, Time: now})
	}
	merged = append(merged, history...)
	if max > 0 && len(merged) > max {
		merged = merged[:max]
	}
	return merged
}
