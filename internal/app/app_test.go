package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pagewatch/pagewatch/internal/config"
)

func testConfig() config.Config {
	cfg := config.Config{}
	cfg.Server.Port = 8080
	cfg.Scheduler.ChunkSize = 20
	cfg.Scheduler.CrawlTimeoutSeconds = 60
	cfg.Scheduler.CheckIntervalSeconds = 60
	cfg.Crawl.UserAgent = "pagewatch-test"
	cfg.Crawl.TimeoutSeconds = 15
	cfg.Throttle.DefaultN = 1
	cfg.Throttle.DefaultIntervalSeconds = 1
	cfg.Logging.Development = false
	return cfg
}

func TestNewWiresInMemoryServices(t *testing.T) {
	t.Parallel()

	a, err := New(context.Background(), testConfig())
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.Tasks)
	require.NotNil(t, a.Metas)
	require.NotNil(t, a.Throttle)
	require.NotNil(t, a.Scheduler)
	require.NotNil(t, a.Server)
	require.Equal(t, ":8080", a.ListenAddr())

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSchedulerRunsAgainstEmptyStore(t *testing.T) {
	t.Parallel()

	a, err := New(context.Background(), testConfig())
	require.NoError(t, err)
	defer a.Close()

	hasMore, err := a.Scheduler.RunCycle(context.Background())
	require.NoError(t, err)
	require.False(t, hasMore)
}
