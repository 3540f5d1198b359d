package delta

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pagewatch/pagewatch/internal/watch"
)

func item(key string) watch.Item {
	return watch.Item{"text": "entry " + key, "__key__": key}
}

func TestNewItemsUnchangedBatchIsNoOp(t *testing.T) {
	t.Parallel()

	fresh := []watch.Item{item("a"), item("b"), item("c")}
	require.Empty(t, NewItems(fresh[0].Key(), fresh))
}

func TestNewItemsStopsAtBoundary(t *testing.T) {
	t.Parallel()

	a, b, k, c := item("a"), item("b"), item("k"), item("c")
	got := NewItems(k.Key(), []watch.Item{a, b, k, c})
	require.Equal(t, []watch.Item{a, b}, got)
}

func TestNewItemsTotalTurnover(t *testing.T) {
	t.Parallel()

	fresh := []watch.Item{item("x"), item("y")}
	require.Equal(t, fresh, NewItems(item("gone").Key(), fresh))
}

func TestNewItemsFirstObservation(t *testing.T) {
	t.Parallel()

	// a fresh task starts with an empty latest result
	fresh := []watch.Item{item("a")}
	require.Equal(t, fresh, NewItems(watch.Item{}.Key(), fresh))
}

func TestNewItemsFallsBackToWholeItemKey(t *testing.T) {
	t.Parallel()

	old := watch.Item{"text": "same"}
	fresh := []watch.Item{{"text": "new"}, {"text": "same"}}
	got := NewItems(old.Key(), fresh)
	require.Equal(t, []watch.Item{{"text": "new"}}, got)
}

func TestMergeHistoryKeepsNewestFirst(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	history := []watch.HistoryEntry{
		{Result: item("old1"), Time: now.Add(-time.Hour)},
		{Result: item("old2"), Time: now.Add(-2 * time.Hour)},
	}
	a, b := item("a"), item("b")

	merged := MergeHistory(history, []watch.Item{a, b}, now, 10)
	require.Len(t, merged, 4)
	require.Equal(t, a, merged[0].Result)
	require.Equal(t, b, merged[1].Result)
	require.Equal(t, item("old1"), merged[2].Result)
	require.Equal(t, now, merged[0].Time)
}

func TestMergeHistoryTruncatesToCap(t *testing.T) {
	t.Parallel()

	now := time.Now()
	var history []watch.HistoryEntry
	for i := 0; i < 8; i++ {
		history = MergeHistory(history, []watch.Item{item(string(rune('a' + i)))}, now, 3)
	}
	require.Len(t, history, 3)
	require.Equal(t, item("h"), history[0].Result)
	require.Equal(t, item("g"), history[1].Result)
	require.Equal(t, item("f"), history[2].Result)
}

func TestMergeHistoryDoesNotMutateInput(t *testing.T) {
	t.Parallel()

	now := time.Now()
	history := []watch.HistoryEntry{{Result: item("old"), Time: now}}
	_ = MergeHistory(history, []watch.Item{item("new")}, now, 10)
	require.Equal(t, item("old"), history[0].Result)
}
