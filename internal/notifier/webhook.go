// Package notifier posts download events to a chat webhook.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type EventType string

const (
	DownloadFinished EventType = "download_finished"
	DownloadFailed   EventType = "download_failed"
)

type Event struct {
	Type      EventType `json:"type"`
	ContentID string    `json:"contentId"`
	Title     string    `json:"title"`
	Detail    string    `json:"detail,omitempty"`
	Time      time.Time `json:"time"`
}

// Text renders the event as a single chat line.
func (e Event) Text() string {
	name := e.Title
	if name == "" {
		name = e.ContentID
	}

	switch e.Type {
	case DownloadFinished:
		return "✅ Download finished: " + name
	case DownloadFailed:
		if e.Detail != "" {
			return "❌ Download failed: " + name + " (" + e.Detail + ")"
		}

		return "❌ Download failed: " + name
	default:
		return string(e.Type) + ": " + name
	}
}

type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// WebhookNotifier posts {"content": text, "event": event}. The content field
// makes the payload readable by Discord and Slack-compatible webhooks.
type WebhookNotifier struct {
	WebhookURL string
	Client     *http.Client
}

func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	if n.WebhookURL == "" {
		return fmt.Errorf("webhook URL is not set")
	}

	payload := struct {
		Content string `json:"content"`
		Event   Event  `json:"event"`
	}{Content: event.Text(), Event: event}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook failed with status %d", resp.StatusCode)
	}

	return nil
}
