package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWebhook_PostsEventWithBearer(t *testing.T) {
	var gotAuth string
	var gotEvent Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotEvent)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, slog.New(slog.NewTextHandler(io.Discard, nil)))
	err := wh.RecordingReady(context.Background(), "tok-123", Event{
		ApplicationID: "APP-9",
		VideoURL:      "https://cdn.example/videos/session_1.webm",
		PartsCount:    3,
		Format:        "webm",
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if gotAuth != "Bearer tok-123" {
		t.Fatalf("expected bearer passthrough, got %q", gotAuth)
	}
	if gotEvent.Status != "Pending" {
		t.Fatalf("expected default Pending status, got %q", gotEvent.Status)
	}
	if gotEvent.ApplicationID != "APP-9" || gotEvent.PartsCount != 3 {
		t.Fatalf("unexpected payload: %+v", gotEvent)
	}
}

func TestWebhook_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := wh.RecordingReady(context.Background(), "", Event{ApplicationID: "APP-9"}); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}

func TestWebhook_DisabledWhenUnconfigured(t *testing.T) {
	wh := NewWebhook("", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if wh.Enabled() {
		t.Fatal("empty URL must disable delivery")
	}
	if err := wh.RecordingReady(context.Background(), "tok", Event{}); err != nil {
		t.Fatalf("disabled webhook must be a no-op, got %v", err)
	}
}
