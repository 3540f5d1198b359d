// Package watch defines the domain types shared by the scheduling core:
// tasks, extracted items, crawl outcomes, and host frequency policies.
package watch

import (
	"encoding/json"
	"time"
)

// Item is one extracted content record. Every normalized item carries a
// "text" field; "url", "title" and "__key__" are optional.
type Item map[string]any

// Key returns the identity key used for change detection. When the item
// carries an explicit "__key__" that value alone identifies the item, so
// extraction noise around it cannot defeat dedup. Otherwise the whole item
// is serialized canonically (JSON object keys are sorted by encoding/json).
func (it Item) Key() string {
	if k, ok := it["__key__"]; ok {
		b, err := json.Marshal(k)
		if err == nil {
			return string(b)
		}
	}
	b, err := json.Marshal(it)
	if err != nil {
		return ""
	}
	return string(b)
}

// Text returns the item's text field, if any.
func (it Item) Text() string {
	if s, ok := it["text"].(string); ok {
		return s
	}
	return ""
}

// URL returns the item's url field, if any.
func (it Item) URL() string {
	if s, ok := it["url"].(string); ok {
		return s
	}
	return ""
}

// HistoryEntry is one retained observation in a task's result history.
type HistoryEntry struct {
	Result Item      `json:"result"`
	Time   time.Time `json:"time"`
}

// RequestArgs describes what to fetch and how to extract items from it.
// It is stored as an opaque JSON document on the task and interpreted by
// the extractor.
type RequestArgs struct {
	Name     string            `json:"name,omitempty"`
	URL      string            `json:"url"`
	Method   string            `json:"method,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
	Selector string            `json:"selector"`
	URLAttr  string            `json:"url_attr,omitempty"`
	KeyAttr  string            `json:"key_attr,omitempty"`
}

// Task is one monitored target with its own schedule and bounded history.
type Task struct {
	ID             int64
	Name           string
	Enabled        bool
	Interval       int // seconds
	WorkWindow     string
	RequestArgs    RequestArgs
	MaxResultCount int
	LatestResult   Item
	ResultHistory  []HistoryEntry
	LastCheckTime  time.Time
	NextCheckTime  time.Time
	LastChangeTime time.Time
	LastError      string
	CustomInfo     string
}

// IntervalDuration returns the polling cadence as a duration.
func (t Task) IntervalDuration() time.Duration {
	return time.Duration(t.Interval) * time.Second
}

// Outcome is the ephemeral result of attempting one task in a cycle.
// A nil Items slice means the crawl produced no usable data and the task's
// history must not be touched; a non-nil slice (possibly holding a synthetic
// placeholder) flows through the regular comparison channel.
type Outcome struct {
	Task  Task
	Error string
	Items []Item
}

// ScheduleUpdate carries the schedule fields persisted for every selected
// task before its crawl completes.
type ScheduleUpdate struct {
	ID            int64
	LastCheckTime time.Time
	NextCheckTime time.Time
}

// ErrorUpdate records a task's error-state transition.
type ErrorUpdate struct {
	ID    int64
	Error string
}

// ResultUpdate persists a detected change: the new latest item, the merged
// history, and the change instant.
type ResultUpdate struct {
	ID             int64
	LatestResult   Item
	ResultHistory  []HistoryEntry
	LastChangeTime time.Time
}

// HostFrequency is a per-host request budget: at most N acquisitions per
// rolling window of IntervalSeconds.
type HostFrequency struct {
	N               int `json:"n"`
	IntervalSeconds int `json:"interval"`
}
