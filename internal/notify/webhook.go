package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pagewatch/pagewatch/internal/watch"
)

// webhookPayload is the JSON body posted to the configured endpoint.
type webhookPayload struct {
	Task string `json:"task"`
	Text string `json:"text"`
	URL  string `json:"url,omitempty"`
	Time string `json:"time"`
}

// WebhookHandler POSTs change notifications to the URL carried in the
// task's custom_info argument.
type WebhookHandler struct {
	client *http.Client
}

// NewWebhookHandler creates a WebhookHandler. A nil client gets a default
// with a 10s timeout.
func NewWebhookHandler(client *http.Client) *WebhookHandler {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookHandler{client: client}
}

func (h *WebhookHandler) Name() string { return "webhook" }

func (h *WebhookHandler) Notify(ctx context.Context, task watch.Task, arg string) (string, error) {
	if arg == "" {
		return "", fmt.Errorf("webhook url missing in custom_info for task %q", task.Name)
	}
	body, err := json.Marshal(webhookPayload{
		Task: task.Name,
		Text: task.LatestResult.Text(),
		URL:  task.LatestResult.URL(),
		Time: task.LastChangeTime.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, arg, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("webhook %s returned %d", arg, resp.StatusCode)
	}
	return fmt.Sprintf("%s %d", arg, resp.StatusCode), nil
}
