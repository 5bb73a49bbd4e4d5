package subscriptions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/bburrets/sp-webhook-integration-sub001/internal/httpclient"
	"github.com/bburrets/sp-webhook-integration-sub001/internal/tracking"
)

func TestCreate_ValidatesCallbackMustBeHTTPS(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer db.Close()

	manager := NewManager(nil, tracking.New(db))
	_, err = manager.Create(context.Background(), CreateInput{
		Resource:    "lists/abc",
		CallbackURL: "http://not-secure.example.com/ingress",
	})
	if err == nil {
		t.Fatal("expected validation error for a non-HTTPS callback URL")
	}
}

func TestCreate_ValidatesClientStateLength(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer db.Close()

	manager := NewManager(nil, tracking.New(db))
	_, err = manager.Create(context.Background(), CreateInput{
		Resource:    "lists/abc",
		CallbackURL: "https://hub.example.com/ingress",
		ClientState: repeatString("x", 200),
	})
	if err == nil {
		t.Fatal("expected validation error for an over-length client_state")
	}
}

func TestCreate_RequestsMaxExpiryAndUpsertsTracking(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer db.Close()
	mock.ExpectExec("INSERT INTO tracking_records").WillReturnResult(sqlmock.NewResult(1, 1))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req CreateRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.ExpiresAt.Sub(time.Now()) < 71*time.Hour {
			t.Fatalf("expected expiry close to the platform maximum, got %v", req.ExpiresAt)
		}
		_ = json.NewEncoder(w).Encode(Subscription{
			ID: "sub-1", Resource: req.Resource, ClientState: req.ClientState, ExpiresAt: req.ExpiresAt,
		})
	}))
	defer server.Close()

	policy := httpclient.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond}
	breakers := httpclient.NewBreakerRegistry(httpclient.DefaultBreakerSettings)
	api := New(server.Client(), server.URL, func(ctx context.Context) (string, error) { return "tok", nil }, breakers, policy)

	manager := NewManager(api, tracking.New(db))
	sub, err := manager.Create(context.Background(), CreateInput{
		Resource:    "lists/abc",
		CallbackURL: "https://hub.example.com/ingress",
		ClientState: "destination:forward|url:https://x/y",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.ID != "sub-1" {
		t.Fatalf("expected sub-1, got %q", sub.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDelete_MarksTrackingRecordDeleted(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer db.Close()
	mock.ExpectExec("UPDATE tracking_records SET status").WithArgs(tracking.StatusDeleted, "sub-1").WillReturnResult(sqlmock.NewResult(0, 1))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	policy := httpclient.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond}
	breakers := httpclient.NewBreakerRegistry(httpclient.DefaultBreakerSettings)
	api := New(server.Client(), server.URL, func(ctx context.Context) (string, error) { return "tok", nil }, breakers, policy)

	manager := NewManager(api, tracking.New(db))
	if err := manager.Delete(context.Background(), "sub-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDescribe_ForwardDestination(t *testing.T) {
	desc := describe("lists/abc", "destination:forward|url:https://x/y|mode:withData")
	if desc != "lists/abc -> forward https://x/y (withData)" {
		t.Fatalf("unexpected description: %q", desc)
	}
}

func TestDescribe_RpaQueueDestination(t *testing.T) {
	desc := describe("lists/abc", "destination:uipath|handler:document|queue:Q|tenant:DEV")
	if desc != "lists/abc -> queue Q via document [DEV]" {
		t.Fatalf("unexpected description: %q", desc)
	}
}

func TestDescribe_NoRoutingFallback(t *testing.T) {
	desc := describe("lists/abc", "")
	if desc != "lists/abc (no routing)" {
		t.Fatalf("unexpected description: %q", desc)
	}
}

func repeatString(s string, n int) string {
	out := make([]byte, 0, len(s)*n)
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return string(out)
}
