package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/bburrets/sp-webhook-integration-sub001/internal/subscriptions"
)

// SubscriptionsHandler adapts subscriptions.Manager and subscriptions.Reconciler
// to the four /subscriptions HTTP operations.
type SubscriptionsHandler struct {
	manager    *subscriptions.Manager
	reconciler *subscriptions.Reconciler
	logger     *zap.Logger
}

// NewSubscriptionsHandler builds a SubscriptionsHandler.
func NewSubscriptionsHandler(manager *subscriptions.Manager, reconciler *subscriptions.Reconciler, logger *zap.Logger) *SubscriptionsHandler {
	return &SubscriptionsHandler{manager: manager, reconciler: reconciler, logger: logger}
}

// List handles GET /subscriptions.
func (h *SubscriptionsHandler) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.manager.List(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, entries)
}

// Create handles POST /subscriptions.
func (h *SubscriptionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input subscriptions.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	sub, err := h.manager.Create(r.Context(), input)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, sub)
}

// Delete handles DELETE /subscriptions/{id}.
func (h *SubscriptionsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.manager.Delete(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Sync handles POST /subscriptions/sync, triggering a manual reconciliation
// tick outside its regular schedule.
func (h *SubscriptionsHandler) Sync(w http.ResponseWriter, r *http.Request) {
	report, err := h.reconciler.Run(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

func (h *SubscriptionsHandler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *SubscriptionsHandler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if strings.Contains(err.Error(), "validation failed") {
		status = http.StatusBadRequest
	}
	h.logger.Error("subscriptions request failed", zap.Error(err))
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}
