package diagnostics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSlackAlerter_PostsMessage(t *testing.T) {
	var received struct {
		Text string `json:"text"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	alerter := NewSlackAlerter(server.URL, "#ops-alerts")
	if err := alerter.Alert(context.Background(), "subscription renewal failed for sub-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(received.Text, "sub-1") {
		t.Fatalf("expected alert text to mention sub-1, got %q", received.Text)
	}
}

func TestSlackAlerter_NoopWithoutWebhookURL(t *testing.T) {
	alerter := NewSlackAlerter("", "")
	if err := alerter.Alert(context.Background(), "should not be sent"); err != nil {
		t.Fatalf("expected a no-op to never error, got %v", err)
	}
}
