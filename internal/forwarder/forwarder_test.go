package forwarder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bburrets/sp-webhook-integration-sub001/internal/changedetector"
	"github.com/bburrets/sp-webhook-integration-sub001/internal/clientstate"
	"github.com/bburrets/sp-webhook-integration-sub001/internal/httpclient"
)

func newTestForwarder(client *http.Client, callbackHost string) *Forwarder {
	if client == nil {
		client = http.DefaultClient
	}
	policy := httpclient.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}
	breakers := httpclient.NewBreakerRegistry(httpclient.DefaultBreakerSettings)
	return New(client, callbackHost, breakers, policy)
}

// S5: change-detection forwarding.
func TestForward_S5_WithChangesEnvelope(t *testing.T) {
	var received Envelope
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dest := clientstate.Destination{
		Kind:                   clientstate.KindForward,
		URL:                    server.URL,
		Mode:                   clientstate.ModeWithChanges,
		ChangeDetectionEnabled: true,
	}

	previous := map[string]interface{}{"Status": "Pending", "Amount": 5000.0}
	current := map[string]interface{}{"Status": "Approved", "Amount": 5500.0}
	diff := changedetector.Diff{
		Modified: map[string]changedetector.FieldChange{
			"Status": {Old: "Pending", New: "Approved"},
			"Amount": {Old: 5000.0, New: 5500.0},
		},
	}

	env := BuildEnvelope("ingress", map[string]interface{}{"id": "1"}, dest, current, previous, &diff, time.Now())

	f := newTestForwarder(server.Client(), "")
	result, err := f.Forward(context.Background(), server.URL, env)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", result.StatusCode)
	}

	if received.Changes == nil {
		t.Fatal("expected changes to be populated")
	}
	statusChange, ok := received.Changes.Details.Modified["Status"]
	if !ok || statusChange.Old != "Pending" || statusChange.New != "Approved" {
		t.Fatalf("unexpected Status change: %+v", statusChange)
	}
	amountChange, ok := received.Changes.Details.Modified["Amount"]
	if !ok || amountChange.Old != 5000.0 || amountChange.New != 5500.0 {
		t.Fatalf("unexpected Amount change: %+v", amountChange)
	}
	if received.CurrentState["Status"] != "Approved" {
		t.Fatalf("expected current_state to carry Approved status, got %v", received.CurrentState)
	}
	if received.PreviousState["Status"] != "Pending" {
		t.Fatalf("expected previous_state to carry Pending status, got %v", received.PreviousState)
	}
}

func TestForward_RejectsNonHTTPS(t *testing.T) {
	f := newTestForwarder(nil, "")
	_, err := f.Forward(context.Background(), "http://example.com/hook", Envelope{})
	if err == nil {
		t.Fatal("expected an error for a non-HTTPS URL")
	}
}

func TestForward_RejectsLoopToOwnCallbackHost(t *testing.T) {
	f := newTestForwarder(nil, "hub.internal.example.com")
	_, err := f.Forward(context.Background(), "https://hub.internal.example.com/ingress", Envelope{})
	if err == nil {
		t.Fatal("expected an error when forwarding to the process's own callback host")
	}
}

func TestForward_DoesNotRetryOn4xx(t *testing.T) {
	var calls int32
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	f := newTestForwarder(server.Client(), "")
	result, err := f.Forward(context.Background(), server.URL, Envelope{})
	if err != nil {
		t.Fatalf("a 4xx terminal response should not surface as a transport error: %v", err)
	}
	if result.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", result.StatusCode)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 attempt for a 4xx response, got %d", calls)
	}
}

func TestForward_RetriesOn5xxThenSucceeds(t *testing.T) {
	var calls int32
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	f := newTestForwarder(server.Client(), "")
	result, err := f.Forward(context.Background(), server.URL, Envelope{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.StatusCode != http.StatusOK {
		t.Fatalf("expected eventual 200, got %d", result.StatusCode)
	}
	if calls < 2 {
		t.Fatalf("expected at least 2 attempts, got %d", calls)
	}
}

func TestBuildEnvelope_SimpleModeOmitsState(t *testing.T) {
	dest := clientstate.Destination{Kind: clientstate.KindForward, Mode: clientstate.ModeSimple}
	env := BuildEnvelope("ingress", nil, dest, map[string]interface{}{"a": 1}, nil, nil, time.Now())
	if env.CurrentState != nil || env.PreviousState != nil || env.Changes != nil {
		t.Fatalf("simple mode must omit state fields, got %+v", env)
	}
}

// S5: client_state `destination:forward|url:https://x/y|changeDetection:enabled`
// carries no explicit mode, so it defaults to simple -- but the explicit
// changeDetection flag still forces the changes payload onto the envelope.
func TestBuildEnvelope_ChangeDetectionEnabledForcesChangesUnderSimpleMode(t *testing.T) {
	dest := clientstate.Destination{Kind: clientstate.KindForward, Mode: clientstate.ModeSimple, ChangeDetectionEnabled: true}
	diff := changedetector.Diff{Modified: map[string]changedetector.FieldChange{
		"Status": {Old: "Pending", New: "Approved"},
		"Amount": {Old: 5000.0, New: 5500.0},
	}}
	env := BuildEnvelope("ingress", nil, dest,
		map[string]interface{}{"Status": "Approved", "Amount": 5500.0},
		map[string]interface{}{"Status": "Pending", "Amount": 5000.0},
		&diff, time.Now())

	if env.Changes == nil {
		t.Fatal("expected changeDetection:enabled to force a changes payload even under simple mode")
	}
	change, ok := env.Changes.Details.Modified["Status"]
	if !ok || change.Old != "Pending" || change.New != "Approved" {
		t.Fatalf("unexpected Status change: %+v", change)
	}
}

func TestBuildEnvelope_WithDataModeOmitsPreviousAndChanges(t *testing.T) {
	dest := clientstate.Destination{Kind: clientstate.KindForward, Mode: clientstate.ModeWithData}
	env := BuildEnvelope("ingress", nil, dest, map[string]interface{}{"a": 1}, map[string]interface{}{"a": 0}, nil, time.Now())
	if env.CurrentState == nil {
		t.Fatal("with_data mode must include current_state")
	}
	if env.PreviousState != nil || env.Changes != nil {
		t.Fatalf("with_data mode must omit previous_state/changes, got %+v", env)
	}
}
