package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDo_RetriesOnServerErrorThenSucceeds(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}
	resp, err, attempts := Do(context.Background(), policy,
		func(ctx context.Context) (*http.Response, error) {
			return http.DefaultClient.Get(server.URL)
		},
		func(resp *http.Response, err error) Classification {
			if err != nil {
				return ClassRetryable
			}
			if resp.StatusCode >= 500 {
				return ClassRetryable
			}
			return ClassSuccess
		},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestDo_TerminalStopsImmediately(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond}
	_, _, attempts := Do(context.Background(), policy,
		func(ctx context.Context) (*http.Response, error) {
			return http.DefaultClient.Get(server.URL)
		},
		func(resp *http.Response, err error) Classification {
			if resp != nil && resp.StatusCode == http.StatusBadRequest {
				return ClassTerminal
			}
			return ClassRetryable
		},
	)
	if attempts != 1 {
		t.Fatalf("expected 1 attempt for terminal error, got %d", attempts)
	}
	if calls != 1 {
		t.Fatalf("expected 1 HTTP call, got %d", calls)
	}
}

func TestDo_HonorsRetryAfter(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	policy := RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond}
	start := time.Now()
	resp, _, attempts := Do(context.Background(), policy,
		func(ctx context.Context) (*http.Response, error) {
			return http.DefaultClient.Get(server.URL)
		},
		func(resp *http.Response, err error) Classification {
			if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
				return ClassRetryable
			}
			return ClassSuccess
		},
	)
	if time.Since(start) > time.Second {
		t.Fatalf("expected Retry-After: 0 to avoid long backoff")
	}
	if attempts != 2 || resp.StatusCode != http.StatusOK {
		t.Fatalf("expected success on 2nd attempt, got attempts=%d status=%v", attempts, resp)
	}
}

func TestDo_ExhaustsMaxAttempts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	policy := RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond}
	resp, err, attempts := Do(context.Background(), policy,
		func(ctx context.Context) (*http.Response, error) {
			return http.DefaultClient.Get(server.URL)
		},
		func(resp *http.Response, err error) Classification {
			return ClassRetryable
		},
	)
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected last response to be returned, got %v", resp.StatusCode)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}
