// Package notify delivers recording-readiness callbacks to the upstream
// case-management system.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Event describes a finished recording run.
type Event struct {
	ApplicationID string `json:"application_id"`
	Status        string `json:"status"`
	VideoURL      string `json:"video_url"`
	PartsCount    int    `json:"parts_count"`
	Format        string `json:"format"`
}

// Notifier announces finalized recordings. Delivery is best effort; a
// returned error is for logging only and never fails the recording.
type Notifier interface {
	RecordingReady(ctx context.Context, bearer string, ev Event) error
}

// Webhook posts events as JSON to a fixed endpoint, forwarding the caller's
// bearer token so the upstream can authenticate the request against the same
// identity that drove the call.
type Webhook struct {
	url    string
	client *http.Client
	log    *slog.Logger
}

func NewWebhook(url string, log *slog.Logger) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}
}

// Enabled reports whether a destination is configured. Deployments without
// an upstream simply leave the URL empty.
func (w *Webhook) Enabled() bool { return w.url != "" }

func (w *Webhook) RecordingReady(ctx context.Context, bearer string, ev Event) error {
	if !w.Enabled() {
		return nil
	}
	if ev.Status == "" {
		ev.Status = "Pending"
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode notify payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify upstream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify upstream: unexpected status %d", resp.StatusCode)
	}
	w.log.Info("recording notification delivered",
		slog.String("application_id", ev.ApplicationID),
		slog.String("format", ev.Format))
	return nil
}
