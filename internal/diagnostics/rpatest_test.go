package diagnostics

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bburrets/sp-webhook-integration-sub001/internal/apperrors"
	"github.com/bburrets/sp-webhook-integration-sub001/internal/queueclient"
)

type fakeSubmitter struct {
	result queueclient.Result
	err    error

	gotTenantTag string
	gotFolderID  string
	gotItem      queueclient.QueueItem
}

func (f *fakeSubmitter) Submit(_ context.Context, tenantTag, folderIDOverride string, item queueclient.QueueItem) (queueclient.Result, error) {
	f.gotTenantTag = tenantTag
	f.gotFolderID = folderIDOverride
	f.gotItem = item
	return f.result, f.err
}

func TestRPATester_GetReturnsUsage(t *testing.T) {
	tester := NewRPATester(&fakeSubmitter{})

	req := httptest.NewRequest(http.MethodGet, "/rpa/test", nil)
	rec := httptest.NewRecorder()
	tester.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode usage body: %v", err)
	}
	if body["usage"] == "" {
		t.Fatal("expected a non-empty usage message")
	}
}

func TestRPATester_PostSubmitsQueueItem(t *testing.T) {
	sub := &fakeSubmitter{result: queueclient.Result{Class: queueclient.ClassSuccess, ItemID: "item-1", Attempts: 1}}
	tester := NewRPATester(sub)

	payload, _ := json.Marshal(testRequest{
		TenantTag: "tenant-a",
		FolderID:  "folder-9",
		Item:      queueclient.QueueItem{Name: "TestQueue", Priority: queueclient.PriorityNormal, Reference: "ref-1"},
	})
	req := httptest.NewRequest(http.MethodPost, "/rpa/test", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	tester.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if sub.gotTenantTag != "tenant-a" || sub.gotFolderID != "folder-9" {
		t.Fatalf("submitter received unexpected args: tenantTag=%q folderID=%q", sub.gotTenantTag, sub.gotFolderID)
	}
	if sub.gotItem.Reference != "ref-1" {
		t.Fatalf("expected submitter to receive the decoded item, got %+v", sub.gotItem)
	}

	var result queueclient.Result
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	if result.Class != queueclient.ClassSuccess || result.ItemID != "item-1" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestRPATester_PostSubmissionFailureStillReturns200(t *testing.T) {
	sub := &fakeSubmitter{err: apperrors.ConfigurationError("rpa tenant tag", "no preset registered for \"tenant-z\"")}
	tester := NewRPATester(sub)

	payload, _ := json.Marshal(testRequest{TenantTag: "tenant-z", Item: queueclient.QueueItem{Name: "TestQueue"}})
	req := httptest.NewRequest(http.MethodPost, "/rpa/test", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	tester.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected a submission failure to still return 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	if body["error"] == "" {
		t.Fatal("expected a non-empty error field")
	}
}

func TestRPATester_PostMalformedBodyReturns400(t *testing.T) {
	tester := NewRPATester(&fakeSubmitter{})

	req := httptest.NewRequest(http.MethodPost, "/rpa/test", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	tester.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", rec.Code)
	}
}
