package guard

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDoRejectsConcurrentInvocation(t *testing.T) {
	t.Parallel()

	g := New()
	started := make(chan struct{})
	release := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := g.Do("cycle", func() error {
			close(started)
			<-release
			return nil
		})
		require.NoError(t, err)
	}()

	<-started
	start := time.Now()
	err := g.Do("cycle", func() error {
		t.Error("second invocation must not run")
		return nil
	})
	require.ErrorIs(t, err, ErrAlreadyRunning)
	require.Less(t, time.Since(start), 100*time.Millisecond, "collision must fail fast")

	close(release)
	wg.Wait()
}

func TestDoReleasesNameAfterCompletion(t *testing.T) {
	t.Parallel()

	g := New()
	require.NoError(t, g.Do("cycle", func() error { return nil }))
	require.False(t, g.Running("cycle"))
	require.NoError(t, g.Do("cycle", func() error { return nil }))
}

func TestDoReleasesNameAfterPanic(t *testing.T) {
	t.Parallel()

	g := New()
	require.Panics(t, func() {
		_ = g.Do("cycle", func() error { panic("boom") })
	})
	require.False(t, g.Running("cycle"))
}

func TestDoDistinctNamesDoNotCollide(t *testing.T) {
	t.Parallel()

	g := New()
	block := make(chan struct{})
	go func() {
		_ = g.Do("backup", func() error { <-block; return nil })
	}()

	require.Eventually(t, func() bool { return g.Running("backup") }, time.Second, time.Millisecond)
	require.NoError(t, g.Do("cycle", func() error { return nil }))
	close(block)
}
