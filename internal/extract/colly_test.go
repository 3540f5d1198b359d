package extract

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pagewatch/pagewatch/internal/watch"
)

const feedHTML = `<html><body>
<ul>
  <li class="entry" data-id="3"><a href="/posts/3">Third post</a></li>
  <li class="entry" data-id="2"><a href="/posts/2">Second post</a></li>
  <li class="entry" data-id="1"><a href="/posts/1">First post</a></li>
</ul>
</body></html>`

func TestExtractSelectsItems(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(feedHTML))
	}))
	defer srv.Close()

	e := New(Config{UserAgent: "pagewatch-test", Timeout: 5 * time.Second}, nil, zap.NewNop())
	tree, err := e.Extract(context.Background(), watch.RequestArgs{
		Name:     "entries",
		URL:      srv.URL,
		Selector: "li.entry",
		KeyAttr:  "data-id",
	})
	require.NoError(t, err)
	require.Len(t, tree, 1)

	items, ok := tree["entries"].([]watch.Item)
	require.True(t, ok)
	require.Len(t, items, 3)
	require.Equal(t, "Third post", items[0].Text())
	require.Equal(t, srv.URL+"/posts/3", items[0].URL())
	require.Equal(t, "3", items[0]["__key__"])
}

func TestExtractMissingRuleFields(t *testing.T) {
	t.Parallel()

	e := New(Config{}, nil, zap.NewNop())

	_, err := e.Extract(context.Background(), watch.RequestArgs{Selector: "li"})
	require.ErrorIs(t, err, watch.ErrRuleNotFound)

	_, err = e.Extract(context.Background(), watch.RequestArgs{URL: "https://example.com"})
	require.ErrorIs(t, err, watch.ErrRuleNotFound)
}

func TestExtractPropagatesHTTPErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := New(Config{Timeout: 5 * time.Second}, nil, zap.NewNop())
	_, err := e.Extract(context.Background(), watch.RequestArgs{
		URL:      srv.URL,
		Selector: "li",
	})
	require.Error(t, err)
	require.NotErrorIs(t, err, watch.ErrRuleNotFound)
}

func TestExtractSendsConfiguredHeaders(t *testing.T) {
	t.Parallel()

	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Watch-Token")
		_, _ = w.Write([]byte(`<div class="x">ok</div>`))
	}))
	defer srv.Close()

	e := New(Config{Timeout: 5 * time.Second}, nil, zap.NewNop())
	_, err := e.Extract(context.Background(), watch.RequestArgs{
		URL:      srv.URL,
		Selector: "div.x",
		Headers:  map[string]string{"X-Watch-Token": "secret"},
	})
	require.NoError(t, err)
	require.Equal(t, "secret", gotHeader)
}
