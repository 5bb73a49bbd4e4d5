package server

import (
	"context"
	"encoding/json"
	"net/http"
)

// StateInitializer is the dependency /states/init exercises. Satisfied by
// *statestore.Store.
type StateInitializer interface {
	BatchInit(ctx context.Context, resource string, fieldsByID map[string]map[string]interface{}) error
}

type statesInitHandler struct {
	store StateInitializer
}

// NewStatesInitHandler builds the /states/init handler, used to seed a
// resource's change-detection baseline before its subscription starts
// delivering notifications, avoiding a spurious first-seen diff for every
// pre-existing item.
func NewStatesInitHandler(store StateInitializer) http.Handler {
	return &statesInitHandler{store: store}
}

type statesInitRequest struct {
	Resource string                            `json:"resource"`
	Items    map[string]map[string]interface{} `json:"items"`
}

func (h *statesInitHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var req statesInitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Resource == "" {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "request must include a resource and an items map"})
		return
	}

	if err := h.store.BatchInit(r.Context(), req.Resource, req.Items); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]int{"initialized": len(req.Items)})
}
