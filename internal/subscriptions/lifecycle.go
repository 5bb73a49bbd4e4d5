package subscriptions

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/bburrets/sp-webhook-integration-sub001/internal/apperrors"
	"github.com/bburrets/sp-webhook-integration-sub001/internal/clientstate"
	"github.com/bburrets/sp-webhook-integration-sub001/internal/tracking"
)

// maxExpiry is the platform's typical maximum subscription lifetime.
const maxExpiry = 72 * time.Hour

// resourcePathPattern matches the platform's list-resource path grammar,
// e.g. "sites/{site-id}/lists/{list-id}" or the legacy
// "Lists/MyList('00000000-0000-0000-0000-000000000000')" shape.
var resourcePathPattern = regexp.MustCompile(`^([A-Za-z0-9_.\-]+/)*[A-Za-z0-9_.\-]+(\('[0-9A-Fa-f-]+'\))?$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("resourcepath", func(fl validator.FieldLevel) bool {
		return resourcePathPattern.MatchString(fl.Field().String())
	})
	return v
}

// CreateInput is the caller-supplied payload for LifecycleManager.Create.
// Tags enforce the §4.7 create-validation rules with validator/v10 instead
// of hand-rolled checks.
type CreateInput struct {
	Resource    string `validate:"required,resourcepath"`
	ChangeType  ChangeType
	CallbackURL string `validate:"required,url,startswith=https://"`
	ClientState string `validate:"max=128"`
}

// Manager implements the three LifecycleManager HTTP operations: create,
// list, delete. Renewal and tracking-list convergence live in Reconciler.
type Manager struct {
	api      *API
	tracking *tracking.Store
	now      func() time.Time
}

// NewManager builds a Manager.
func NewManager(api *API, trackingStore *tracking.Store) *Manager {
	return &Manager{api: api, tracking: trackingStore, now: time.Now}
}

// Create validates input, requests the platform's maximum allowed expiry,
// and upserts a TrackingRecord with an auto-generated human-readable
// description derived from the parsed RoutingSpec.
func (m *Manager) Create(ctx context.Context, input CreateInput) (Subscription, error) {
	if err := validate.Struct(input); err != nil {
		return Subscription{}, apperrors.ValidationError("subscription create request", err.Error())
	}
	if input.ChangeType == "" {
		input.ChangeType = ChangeUpdated
	}

	expiresAt := m.now().Add(maxExpiry)
	sub, err := m.api.Create(ctx, CreateRequest{
		Resource:    input.Resource,
		ChangeType:  input.ChangeType,
		CallbackURL: input.CallbackURL,
		ClientState: input.ClientState,
		ExpiresAt:   expiresAt,
	})
	if err != nil {
		return Subscription{}, err
	}

	record := tracking.Record{
		SubscriptionID:    sub.ID,
		Resource:          sub.Resource,
		ClientState:       sub.ClientState,
		ExpiresAt:         sub.ExpiresAt,
		Description:       describe(sub.Resource, sub.ClientState),
		NotificationCount: 0,
		Status:            tracking.StatusActive,
	}
	if err := m.tracking.Upsert(ctx, record); err != nil {
		return sub, apperrors.Wrapf(err, "subscription %s created on platform but tracking record upsert failed", sub.ID)
	}
	return sub, nil
}

// List enumerates live platform subscriptions joined with their tracking
// records for display. A subscription with no matching tracking record
// still appears, with a zero-value TrackingRecord.
func (m *Manager) List(ctx context.Context) ([]ListEntry, error) {
	live, err := m.api.List(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]ListEntry, 0, len(live))
	for _, sub := range live {
		record, _, err := m.tracking.Get(ctx, sub.ID)
		if err != nil {
			return nil, err
		}
		entries = append(entries, ListEntry{Subscription: sub, Tracking: record})
	}
	return entries, nil
}

// ListEntry pairs a live Subscription with its TrackingRecord mirror.
type ListEntry struct {
	Subscription Subscription
	Tracking     tracking.Record
}

// Delete removes id from the platform and marks its tracking record deleted.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.api.Delete(ctx, id); err != nil {
		return err
	}
	return m.tracking.MarkDeleted(ctx, id)
}

// describe builds a human-readable TrackingRecord description from a
// resource and its parsed RoutingSpec, falling back to the raw client_state
// on parse failure so the description is never empty.
func describe(resource, clientStateRaw string) string {
	spec, err := clientstate.Parse(clientStateRaw)
	if err != nil || len(spec.Destinations) == 0 {
		return fmt.Sprintf("%s (no routing)", resource)
	}
	dest := spec.Destinations[0]
	switch dest.Kind {
	case clientstate.KindForward:
		return fmt.Sprintf("%s -> forward %s (%s)", resource, dest.URL, dest.Mode)
	case clientstate.KindRpaQueue:
		return fmt.Sprintf("%s -> queue %s via %s [%s]", resource, dest.QueueName, dest.HandlerName, dest.TenantTag)
	default:
		return fmt.Sprintf("%s (no routing)", resource)
	}
}
