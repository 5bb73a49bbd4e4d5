package subscriptions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bburrets/sp-webhook-integration-sub001/internal/metrics"
	"github.com/bburrets/sp-webhook-integration-sub001/internal/tracking"
)

// Alerter is the operator-alert sink dependency, satisfied by
// internal/diagnostics's Slack-backed implementation. Fire-and-forget: its
// error, if any, is discarded and never propagated.
type Alerter interface {
	Alert(ctx context.Context, message string) error
}

// Reconciler renews near-expiry subscriptions and converges the tracking
// list against the set of live platform subscriptions, on a recurring
// timer or on manual trigger.
type Reconciler struct {
	api            *API
	tracking       *tracking.Store
	renewalWindow  time.Duration
	metrics        *metrics.Registry
	alerter        Alerter
	now            func() time.Time

	mu       sync.Mutex
	lastTick time.Time
	ticked   bool
}

// NewReconciler builds a Reconciler. renewalWindow is how far before
// expiry a subscription is eligible for renewal (spec default 24h).
func NewReconciler(api *API, trackingStore *tracking.Store, renewalWindow time.Duration, m *metrics.Registry, alerter Alerter) *Reconciler {
	return &Reconciler{api: api, tracking: trackingStore, renewalWindow: renewalWindow, metrics: m, alerter: alerter, now: time.Now}
}

// Report summarizes one reconciliation tick.
type Report struct {
	Renewed        []string
	RenewalFailed  []string
	MarkedDeleted  []string
	Adopted        []string
}

// Run performs one reconciliation tick: renew near-expiry subscriptions,
// mark orphaned tracking records deleted, and adopt live subscriptions
// that have no tracking record yet. A renewal failure for one subscription
// never blocks processing of the others (§4.7).
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	defer r.recordTick()

	live, err := r.api.List(ctx)
	if err != nil {
		return Report{}, err
	}
	records, err := r.tracking.List(ctx)
	if err != nil {
		return Report{}, err
	}

	recordsByID := make(map[string]tracking.Record, len(records))
	for _, rec := range records {
		recordsByID[rec.SubscriptionID] = rec
	}
	liveByID := make(map[string]Subscription, len(live))
	for _, sub := range live {
		liveByID[sub.ID] = sub
	}

	var report Report
	now := r.now()

	for _, sub := range live {
		if sub.ExpiresAt.Sub(now) > r.renewalWindow {
			continue
		}
		renewed, err := r.api.Renew(ctx, sub.ID, now.Add(maxExpiry))
		if err != nil {
			report.RenewalFailed = append(report.RenewalFailed, sub.ID)
			r.observeRenewal("failed")
			r.alertAsync(ctx, fmt.Sprintf("subscription renewal failed for %s (%s): %v", sub.ID, sub.Resource, err))
			continue
		}
		if rec, ok := recordsByID[sub.ID]; ok {
			rec.ExpiresAt = renewed.ExpiresAt
			if err := r.tracking.Upsert(ctx, rec); err != nil {
				r.alertAsync(ctx, fmt.Sprintf("subscription %s renewed but tracking update failed: %v", sub.ID, err))
			}
		}
		report.Renewed = append(report.Renewed, sub.ID)
		r.observeRenewal("renewed")
	}

	for _, rec := range records {
		if rec.Status == tracking.StatusDeleted {
			continue
		}
		if _, stillLive := liveByID[rec.SubscriptionID]; !stillLive {
			if err := r.tracking.MarkDeleted(ctx, rec.SubscriptionID); err == nil {
				report.MarkedDeleted = append(report.MarkedDeleted, rec.SubscriptionID)
			}
		}
	}

	for _, sub := range live {
		if _, hasRecord := recordsByID[sub.ID]; hasRecord {
			continue
		}
		record := tracking.Record{
			SubscriptionID: sub.ID,
			Resource:       sub.Resource,
			ClientState:    sub.ClientState,
			ExpiresAt:      sub.ExpiresAt,
			Description:    describe(sub.Resource, sub.ClientState),
			Status:         tracking.StatusActive,
		}
		if err := r.tracking.Upsert(ctx, record); err == nil {
			report.Adopted = append(report.Adopted, sub.ID)
		}
	}

	return report, nil
}

func (r *Reconciler) recordTick() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastTick = r.now()
	r.ticked = true
}

// LastTick reports when Run last completed, regardless of outcome, so a
// stalled timer goroutine is distinguishable from one that is merely
// failing every tick. Satisfies diagnostics.ReconcileTicker.
func (r *Reconciler) LastTick() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastTick, r.ticked
}

func (r *Reconciler) observeRenewal(outcome string) {
	if r.metrics == nil {
		return
	}
	r.metrics.RenewalResults.WithLabelValues(outcome).Inc()
}

// alertAsync fires an operator alert without blocking the reconciler tick
// on the alert sink's own latency or failure.
func (r *Reconciler) alertAsync(ctx context.Context, message string) {
	if r.alerter == nil {
		return
	}
	go func() {
		_ = r.alerter.Alert(context.Background(), message)
	}()
}
