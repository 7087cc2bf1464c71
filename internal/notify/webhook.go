package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// EventType identifies the kind of webhook event.
type EventType string

const (
	EventProgress EventType = "progress"
	EventDelivery EventType = "delivery"
)

// Event is the JSON body posted to the webhook.
type Event struct {
	Type      EventType `json:"type"`
	Message   string    `json:"message,omitempty"`
	Path      string    `json:"path,omitempty"`
	File      string    `json:"file,omitempty"`
	Bytes     int64     `json:"bytes,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Webhook posts events as JSON. Files are announced, never uploaded.
type Webhook struct {
	url    string
	client *http.Client
	log    *zap.Logger
}

// NewWebhook creates a Webhook notifier for url.
func NewWebhook(url string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: timeout},
		log:    zap.L().With(zap.String("component", "notify.webhook")),
	}
}

func (w *Webhook) Progress(ctx context.Context, text string) {
	w.post(ctx, Event{Type: EventProgress, Message: text, Timestamp: time.Now().UTC()})
}

func (w *Webhook) Deliver(ctx context.Context, path string) {
	size, err := fileSize(path)
	if err != nil {
		logFailure(w.log, "webhook", "stat", err)
		return
	}
	w.post(ctx, Event{
		Type:      EventDelivery,
		Path:      path,
		File:      filepath.Base(path),
		Bytes:     size,
		Timestamp: time.Now().UTC(),
	})
}

func (w *Webhook) post(ctx context.Context, ev Event) {
	if err := w.send(ctx, ev); err != nil {
		logFailure(w.log, "webhook", string(ev.Type), err)
	}
}

func (w *Webhook) send(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "notify: marshal event")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "notify: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "notify: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("notify: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
