package diagnostics

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/bburrets/sp-webhook-integration-sub001/internal/queueclient"
)

// QueueSubmitter is the dependency RPATester exercises. Satisfied by
// *queueclient.Client.
type QueueSubmitter interface {
	Submit(ctx context.Context, tenantTag, folderIDOverride string, item queueclient.QueueItem) (queueclient.Result, error)
}

// RPATester serves /rpa/test: GET reports usage, POST submits a caller-
// supplied QueueItem through the real QueueClient so an operator can
// confirm a tenant's credentials, queue name, and folder id are wired up
// correctly without constructing a real notification.
type RPATester struct {
	submitter QueueSubmitter
}

// NewRPATester builds an RPATester backed by submitter.
func NewRPATester(submitter QueueSubmitter) *RPATester {
	return &RPATester{submitter: submitter}
}

type testRequest struct {
	TenantTag string               `json:"tenant_tag"`
	FolderID  string               `json:"folder_id"`
	Item      queueclient.QueueItem `json:"item"`
}

func (t *RPATester) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method == http.MethodGet {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"usage": "POST {tenant_tag, folder_id, item: {Name, Priority, Reference, SpecificContent, DueDate}} to submit a test queue item",
		})
		return
	}

	var req testRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid request body"})
		return
	}

	result, err := t.submitter.Submit(r.Context(), req.TenantTag, req.FolderID, req.Item)
	if err != nil {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(result)
}
