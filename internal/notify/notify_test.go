package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pagewatch/pagewatch/internal/watch"
)

type recordingHandler struct {
	mu    sync.Mutex
	name  string
	calls []string
	args  []string
	err   error
}

func (h *recordingHandler) Name() string { return h.name }

func (h *recordingHandler) Notify(_ context.Context, task watch.Task, arg string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, task.Name)
	h.args = append(h.args, arg)
	if h.err != nil {
		return "", h.err
	}
	return "ok", nil
}

func TestDispatchRoutesByCustomInfo(t *testing.T) {
	t.Parallel()

	def := &recordingHandler{name: ""}
	wh := &recordingHandler{name: "webhook"}
	d := NewDispatcher(zap.NewNop(), def, wh)

	d.Dispatch(context.Background(), watch.Task{
		Name:       "a",
		CustomInfo: "webhook:https://hooks.example.com/x",
	})

	require.Equal(t, []string{"a"}, wh.calls)
	require.Equal(t, []string{"https://hooks.example.com/x"}, wh.args)
	require.Empty(t, def.calls)
}

func TestDispatchFallsBackToDefaultHandler(t *testing.T) {
	t.Parallel()

	def := &recordingHandler{name: ""}
	d := NewDispatcher(zap.NewNop(), def)

	d.Dispatch(context.Background(), watch.Task{Name: "plain"})
	d.Dispatch(context.Background(), watch.Task{Name: "unrouted", CustomInfo: "pagerduty:P123"})

	require.Equal(t, []string{"plain", "unrouted"}, def.calls)
}

func TestDispatchMissingHandlerIsNoOp(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(zap.NewNop())
	// No handlers registered at all: must not panic or error.
	d.Dispatch(context.Background(), watch.Task{Name: "orphan", CustomInfo: "slack:#ops"})
}

func TestDispatchSwallowsHandlerFailure(t *testing.T) {
	t.Parallel()

	failing := &recordingHandler{name: "webhook", err: errors.New("boom")}
	d := NewDispatcher(zap.NewNop(), failing)

	d.Dispatch(context.Background(), watch.Task{Name: "a", CustomInfo: "webhook:x"})
	require.Equal(t, []string{"a"}, failing.calls)
}

func TestWebhookHandlerPostsPayload(t *testing.T) {
	t.Parallel()

	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	h := NewWebhookHandler(srv.Client())
	changed := time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)
	receipt, err := h.Notify(context.Background(), watch.Task{
		Name:           "pep-watch",
		LatestResult:   watch.Item{"text": "PEP 900 accepted", "url": "https://example.com/pep-900"},
		LastChangeTime: changed,
	}, srv.URL)

	require.NoError(t, err)
	require.Contains(t, receipt, "204")
	require.Equal(t, "pep-watch", got.Task)
	require.Equal(t, "PEP 900 accepted", got.Text)
	require.Equal(t, "https://example.com/pep-900", got.URL)
	require.Equal(t, "2023-11-14T22:13:20Z", got.Time)
}

func TestWebhookHandlerRejectsServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	h := NewWebhookHandler(srv.Client())
	_, err := h.Notify(context.Background(), watch.Task{Name: "a"}, srv.URL)
	require.ErrorContains(t, err, "502")
}

func TestWebhookHandlerRequiresURL(t *testing.T) {
	t.Parallel()

	h := NewWebhookHandler(nil)
	_, err := h.Notify(context.Background(), watch.Task{Name: "a"}, "")
	require.ErrorContains(t, err, "url missing")
}

func TestSplitCustomInfo(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		in, name, arg string
	}{
		{"", "", ""},
		{"webhook:https://h/x", "webhook", "https://h/x"},
		{"pubsub:", "pubsub", ""},
		{"lognote", "lognote", ""},
		{"  webhook : https://h/y ", "webhook", "https://h/y"},
	} {
		name, arg := splitCustomInfo(tc.in)
		require.Equal(t, tc.name, name, tc.in)
		require.Equal(t, tc.arg, arg, tc.in)
	}
}
