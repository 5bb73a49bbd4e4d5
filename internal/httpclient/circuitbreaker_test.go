package httpclient

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sony/gobreaker"
)

func fastSettings(name string) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		Timeout:     20 * time.Millisecond,
		MaxRequests: 1,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 2
		},
	}
}

func TestBreakerRegistry_OpensAfterFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	registry := NewBreakerRegistry(fastSettings)
	client := http.DefaultClient

	call := func() (*http.Response, error) {
		return registry.Execute("rpa-dev", func() (*http.Response, error) {
			return client.Get(server.URL)
		})
	}

	for i := 0; i < 2; i++ {
		if _, err := call(); err != nil {
			t.Fatalf("unexpected transport error on attempt %d: %v", i, err)
		}
	}

	if got := registry.State("rpa-dev"); got != "open" {
		t.Fatalf("expected breaker to be open after consecutive failures, got %q", got)
	}

	if _, err := call(); err != gobreaker.ErrOpenState {
		t.Fatalf("expected ErrOpenState while breaker is open, got %v", err)
	}
}

func TestBreakerRegistry_StaysClosedOnSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	registry := NewBreakerRegistry(fastSettings)
	resp, err := registry.Execute("rpa-prod", func() (*http.Response, error) {
		return http.DefaultClient.Get(server.URL)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := registry.State("rpa-prod"); got != "closed" {
		t.Fatalf("expected breaker to remain closed, got %q", got)
	}
}

func TestBreakerRegistry_UnknownNameIsClosed(t *testing.T) {
	registry := NewBreakerRegistry(DefaultBreakerSettings)
	if got := registry.State("never-used"); got != "closed" {
		t.Fatalf("expected unused breaker to report closed, got %q", got)
	}
}
