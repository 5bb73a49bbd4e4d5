// Package ingress implements the notification callback: handshake,
// dedup, routing-spec parse, item enrichment, and bounded fan-out to
// every destination a subscription's client_state names.
package ingress

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bburrets/sp-webhook-integration-sub001/internal/changedetector"
	"github.com/bburrets/sp-webhook-integration-sub001/internal/clientstate"
	"github.com/bburrets/sp-webhook-integration-sub001/internal/dedup"
	"github.com/bburrets/sp-webhook-integration-sub001/internal/logging"
	"github.com/bburrets/sp-webhook-integration-sub001/internal/metrics"
)

// Notification is one entry of a notification callback's `value` array.
type Notification struct {
	SubscriptionID string       `json:"subscriptionId"`
	Resource       string       `json:"resource"`
	ChangeType     string       `json:"changeType"`
	ClientState    string       `json:"clientState"`
	ResourceData   ResourceData `json:"resourceData"`
}

// ResourceData carries the changed item's id, when the platform includes
// it; some change types omit it entirely.
type ResourceData struct {
	ID string `json:"id"`
}

type notificationBatch struct {
	Value []json.RawMessage `json:"value"`
}

// TrackingStore is the dependency used for the fire-and-forget
// notification counter bump. Satisfied by *tracking.Store.
type TrackingStore interface {
	IncrementNotificationCount(ctx context.Context, subscriptionID string) error
}

// PlatformFetcher resolves an item's current field state. Satisfied by
// *platformapi.Client.
type PlatformFetcher interface {
	GetItemFields(ctx context.Context, resource, itemID string) (map[string]interface{}, error)
	GetMostRecentChange(ctx context.Context, resource string) (itemID string, fields map[string]interface{}, err error)
}

// Handler wires every Ingress dependency into the HTTP handshake and
// notification pipeline.
type Handler struct {
	logger      *zap.Logger
	dedupCache  *dedup.Cache
	dedupWindow time.Duration
	platform    PlatformFetcher
	detector    *changedetector.Detector
	dispatcher  *Dispatcher
	tracking    TrackingStore
	metrics     *metrics.Registry
	now         func() time.Time
}

// New builds a Handler. now defaults to time.Now when nil, overridable in
// tests for deterministic dedup bucketing. dedupWindow <= 0 defaults to one
// minute, approximating the dedup cache's own TTL.
func New(logger *zap.Logger, dedupCache *dedup.Cache, dedupWindow time.Duration, platform PlatformFetcher, detector *changedetector.Detector, dispatcher *Dispatcher, trackingStore TrackingStore, m *metrics.Registry, now func() time.Time) *Handler {
	if now == nil {
		now = time.Now
	}
	if dedupWindow <= 0 {
		dedupWindow = time.Minute
	}
	return &Handler{
		logger:      logger,
		dedupCache:  dedupCache,
		dedupWindow: dedupWindow,
		platform:    platform,
		detector:    detector,
		dispatcher:  dispatcher,
		tracking:    trackingStore,
		metrics:     m,
		now:         now,
	}
}

// ServeHTTP dispatches to the handshake or notification path. Every
// outcome, including an unreadable or malformed request body, returns 200:
// a non-200 here risks the platform suspending the subscription.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if token := r.URL.Query().Get("validationToken"); token != "" {
		h.handshake(w, token)
		return
	}
	h.handleNotifications(w, r)
}

// handshake echoes the validation token verbatim, ahead of any
// authenticated work, satisfying the platform's time-sensitive handshake
// contract.
func (h *Handler) handshake(w http.ResponseWriter, token string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(token))
}

func (h *Handler) handleNotifications(w http.ResponseWriter, r *http.Request) {
	correlationID := uuid.NewString()
	fields := logging.NewFields().Component("ingress").Operation("handle_notifications").RequestID(correlationID)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Warn("failed to read notification body", fields.Error(err).ToZap()...)
		w.WriteHeader(http.StatusOK)
		return
	}

	var batch notificationBatch
	if err := json.Unmarshal(body, &batch); err != nil {
		h.logger.Warn("failed to parse notification batch", fields.Error(err).ToZap()...)
		w.WriteHeader(http.StatusOK)
		return
	}

	ctx := r.Context()
	for _, raw := range batch.Value {
		var n Notification
		if err := json.Unmarshal(raw, &n); err != nil {
			h.logger.Warn("dropping malformed notification entry", fields.Error(err).ToZap()...)
			continue
		}
		h.processOne(ctx, n, correlationID)
	}

	w.WriteHeader(http.StatusOK)
}

// processOne runs one Notification through steps 2-8 of the pipeline.
// Every error is logged and swallowed: a single bad notification must
// never affect its siblings or the caller-visible response.
func (h *Handler) processOne(ctx context.Context, n Notification, correlationID string) {
	fields := logging.NewFields().Component("ingress").Operation("process_notification").
		RequestID(correlationID).Resource(n.Resource, n.ResourceData.ID)

	// Notification bodies carry no per-event timestamp (the platform's
	// callback payload stops at subscription id, resource, and change
	// type), so the dedup bucket is the item's own identity plus
	// processing time truncated to dedupWindow: two deliveries of the
	// same change landing in the same window collide regardless of a few
	// seconds' delivery jitter between them.
	bucket := h.now().Truncate(h.dedupWindow)
	dedupSubject := n.SubscriptionID + "|" + n.Resource + "|" + n.ResourceData.ID
	dedupKey := dedup.Key(dedupSubject, bucket)
	if h.dedupCache != nil {
		seen, err := h.dedupCache.CheckAndSet(ctx, dedupKey)
		if err != nil {
			h.logger.Warn("dedup check failed, proceeding without suppression", fields.Error(err).ToZap()...)
		} else if seen {
			h.observeOutcome("duplicate")
			h.logger.Info("suppressed duplicate notification", fields.Custom("outcome", "duplicate").ToZap()...)
			return
		}
	}

	spec, err := clientstate.Parse(n.ClientState)
	if err != nil {
		h.observeOutcome("invalid_client_state")
		h.logger.Warn("failed to parse client_state", fields.Error(err).ToZap()...)
		return
	}
	for _, destErr := range spec.Errors {
		h.logger.Warn("skipping malformed destination", fields.Error(destErr).ToZap()...)
	}

	var current, previous map[string]interface{}
	itemID := n.ResourceData.ID

	if spec.RequiresItemData() {
		current, itemID, err = h.fetchCurrent(ctx, n.Resource, itemID)
		if err != nil {
			h.observeOutcome("fetch_failed")
			h.logger.Warn("failed to fetch item state", fields.Error(err).ToZap()...)
			return
		}
		if h.detector != nil {
			previous, _, err = h.detector.Previous(ctx, n.Resource, itemID)
			if err != nil {
				h.logger.Warn("failed to load previous snapshot", fields.Error(err).ToZap()...)
			}
		}
	}

	h.dispatcher.Dispatch(ctx, dispatchInput{
		Resource:      n.Resource,
		ItemID:        itemID,
		Notification:  n,
		RoutingSpec:   spec,
		Current:       current,
		Previous:      previous,
		CorrelationID: correlationID,
	})
	h.observeOutcome("dispatched")

	if h.tracking != nil {
		go func() {
			if err := h.tracking.IncrementNotificationCount(context.Background(), n.SubscriptionID); err != nil {
				h.logger.Warn("failed to increment notification counter", fields.Error(err).ToZap()...)
			}
		}()
	}
}

// fetchCurrent resolves resourceData.id via PlatformAPI, falling back to
// the best-effort most-recent-change lookup when no id was supplied.
func (h *Handler) fetchCurrent(ctx context.Context, resource, itemID string) (map[string]interface{}, string, error) {
	if itemID == "" {
		resolvedID, fields, err := h.platform.GetMostRecentChange(ctx, resource)
		if err != nil {
			return nil, "", err
		}
		return fields, resolvedID, nil
	}
	fields, err := h.platform.GetItemFields(ctx, resource, itemID)
	if err != nil {
		return nil, "", err
	}
	return fields, itemID, nil
}

func (h *Handler) observeOutcome(outcome string) {
	if h.metrics == nil {
		return
	}
	h.metrics.IngressNotifications.WithLabelValues(outcome).Inc()
}
