package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/pagewatch/pagewatch/internal/watch"
)

// changeEvent is the message schema published for downstream consumers.
type changeEvent struct {
	Task   string     `json:"task"`
	Result watch.Item `json:"result"`
	Time   string     `json:"time"`
}

// PubSubHandler publishes change notifications to a Google Cloud Pub/Sub
// topic.
type PubSubHandler struct {
	publisher *pubsub.Publisher
}

// NewPubSubHandler creates a PubSubHandler for the provided topic publisher.
func NewPubSubHandler(publisher *pubsub.Publisher) *PubSubHandler {
	return &PubSubHandler{publisher: publisher}
}

func (h *PubSubHandler) Name() string { return "pubsub" }

func (h *PubSubHandler) Notify(ctx context.Context, task watch.Task, arg string) (string, error) {
	if h.publisher == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(changeEvent{
		Task:   task.Name,
		Result: task.LatestResult,
		Time:   task.LastChangeTime.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", fmt.Errorf("marshal change event: %w", err)
	}

	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"task": task.Name},
	}
	if arg != "" {
		msg.Attributes["channel"] = arg
	}

	result := h.publisher.Publish(ctx, msg)
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish change event: %w", err)
	}
	return id, nil
}
