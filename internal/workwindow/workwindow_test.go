package workwindow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// 2020-03-14 11:47:32 is a Saturday.
var testNow = time.Date(2020, 3, 14, 11, 47, 32, 0, time.UTC)

func TestEvaluateMatching(t *testing.T) {
	t.Parallel()

	exprs := []string{
		"0, 24",
		"[1, 2, 3, 11]",
		"[1, 2, 3, 11];%Y==2020",
		"%d==14",
		"16, 24|[11]",
		"16, 24|%M==47",
		"%M==46|%M==47",
		"%H!=11|%d!=12",
		"16, 24|%M!=41",
	}
	for _, expr := range exprs {
		ok, err := Evaluate(expr, testNow)
		require.NoError(t, err, expr)
		require.True(t, ok, expr)
	}
}

func TestEvaluateNonMatching(t *testing.T) {
	t.Parallel()

	exprs := []string{
		"0, 5",
		"[1, 2, 3, 5]",
		"[1, 2, 3, 11];%Y==2021",
		"%d==11",
		"16, 24|[12]",
		"%M==17|16, 24",
		"%M==46|[1, 2, 3]",
		"%H!=11&%d!=12",
		"%M!=46;%M!=47",
	}
	for _, expr := range exprs {
		ok, err := Evaluate(expr, testNow)
		require.NoError(t, err, expr)
		require.False(t, ok, expr)
	}
}

func TestEvaluateMixedCombinatorsRejected(t *testing.T) {
	t.Parallel()

	for _, expr := range []string{"16, 24|%M==47&%d==14", "[1]|%H==11;%M==47"} {
		_, err := Evaluate(expr, testNow)
		require.ErrorIs(t, err, ErrMixedCombinators, expr)
	}
}

func TestEvaluateDefaultsToFullDay(t *testing.T) {
	t.Parallel()

	ok, err := Evaluate("", testNow)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestNextCheckTimeInsideWindow(t *testing.T) {
	t.Parallel()

	due, next, err := NextCheckTime("0, 24", testNow, time.Time{}, 5*time.Minute)
	require.NoError(t, err)
	require.True(t, due)
	require.Equal(t, testNow.Add(5*time.Minute), next)
}

func TestNextCheckTimeProbesForward(t *testing.T) {
	t.Parallel()

	// window opens at 16:00; probing in hour steps from 11:47 lands inside
	due, next, err := NextCheckTime("16, 24", testNow, time.Time{}, time.Hour)
	require.NoError(t, err)
	require.False(t, due)
	require.True(t, next.After(testNow))

	ok, err := Evaluate("16, 24", next)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestNextCheckTimeProbeBudgetExhausted(t *testing.T) {
	t.Parallel()

	// 60 one-minute probes from 11:47 never reach 16:00; the last probed
	// instant comes back and the caller logs the schedule as degraded.
	due, next, err := NextCheckTime("16, 24", testNow, time.Time{}, time.Minute)
	require.NoError(t, err)
	require.False(t, due)
	require.Equal(t, testNow.Add(60*time.Minute), next)

	ok, err := Evaluate("16, 24", next)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestNextCheckTimeChangeIntervalGate(t *testing.T) {
	t.Parallel()

	lastChange := testNow.Add(-30 * time.Minute)

	// changed 30m ago, gate requires 1h of quiet: not due yet
	due, next, err := NextCheckTime("0, 24#3600", testNow, lastChange, 5*time.Minute)
	require.NoError(t, err)
	require.False(t, due)
	require.Equal(t, lastChange.Add(time.Hour), next)

	// gate satisfied once the hour has elapsed
	later := lastChange.Add(61 * time.Minute)
	due, next, err = NextCheckTime("0, 24#3600", later, lastChange, 5*time.Minute)
	require.NoError(t, err)
	require.True(t, due)
	require.Equal(t, later.Add(5*time.Minute), next)
}
