package ingress

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/bburrets/sp-webhook-integration-sub001/internal/changedetector"
	"github.com/bburrets/sp-webhook-integration-sub001/internal/clientstate"
	"github.com/bburrets/sp-webhook-integration-sub001/internal/forwarder"
	"github.com/bburrets/sp-webhook-integration-sub001/internal/logging"
	"github.com/bburrets/sp-webhook-integration-sub001/internal/metrics"
	"github.com/bburrets/sp-webhook-integration-sub001/internal/templates"
)

// envelopeSource is the Forwarder envelope's Source field for every
// notification this process dispatches.
const envelopeSource = "webhook-hub"

var tracer = otel.Tracer("internal/ingress")

// dispatchInput is everything Dispatch needs for one enriched
// notification's fan-out.
type dispatchInput struct {
	Resource      string
	ItemID        string
	Notification  interface{}
	RoutingSpec   clientstate.RoutingSpec
	Current       map[string]interface{}
	Previous      map[string]interface{}
	CorrelationID string
}

// Dispatcher fans an enriched notification out to every Destination in its
// RoutingSpec, bounded to a fixed number of concurrent in-flight deliveries
// so one notification's destination count cannot exhaust outbound
// connections. Per-destination failures are logged and never propagated:
// one misbehaving destination must not affect its siblings.
type Dispatcher struct {
	forwarder *forwarder.Forwarder
	templates *templates.Registry
	submitter templates.QueueSubmitter
	detector  *changedetector.Detector
	logger    *zap.Logger
	metrics   *metrics.Registry
	fanOutCap int64
}

// NewDispatcher builds a Dispatcher. fanOutCap <= 0 defaults to 10, the
// value §5 names as the default bounded fan-out concurrency.
func NewDispatcher(fwd *forwarder.Forwarder, registry *templates.Registry, submitter templates.QueueSubmitter, detector *changedetector.Detector, logger *zap.Logger, m *metrics.Registry, fanOutCap int) *Dispatcher {
	if fanOutCap <= 0 {
		fanOutCap = 10
	}
	return &Dispatcher{
		forwarder: fwd,
		templates: registry,
		submitter: submitter,
		detector:  detector,
		logger:    logger,
		metrics:   m,
		fanOutCap: int64(fanOutCap),
	}
}

// Dispatch delivers in to every destination in in.RoutingSpec concurrently,
// bounded by the Dispatcher's fan-out cap. It reports no error: dispatch
// failures are logged and are terminal only for their own destination.
func (d *Dispatcher) Dispatch(ctx context.Context, in dispatchInput) {
	if len(in.RoutingSpec.Destinations) == 0 {
		return
	}

	sem := semaphore.NewWeighted(d.fanOutCap)
	group, groupCtx := errgroup.WithContext(ctx)

	for _, dest := range in.RoutingSpec.Destinations {
		dest := dest
		group.Go(func() error {
			if err := sem.Acquire(groupCtx, 1); err != nil {
				return nil
			}
			defer sem.Release(1)
			d.dispatchOne(groupCtx, in, dest)
			return nil
		})
	}
	_ = group.Wait()
}

func (d *Dispatcher) dispatchOne(ctx context.Context, in dispatchInput, dest clientstate.Destination) {
	ctx, span := tracer.Start(ctx, "dispatch."+string(dest.Kind), trace.WithAttributes(
		attribute.String("resource", in.Resource),
		attribute.String("item_id", in.ItemID),
	))
	defer span.End()

	fields := logging.DispatchFields(string(dest.Kind), dest.URL+dest.HandlerName).
		RequestID(in.CorrelationID).Resource(in.Resource, in.ItemID)

	switch dest.Kind {
	case clientstate.KindForward:
		d.dispatchForward(ctx, in, dest, fields)
	case clientstate.KindRpaQueue:
		d.dispatchRpaQueue(ctx, in, dest, fields)
	case clientstate.KindNone:
		// nothing to deliver
	}
}

func (d *Dispatcher) dispatchForward(ctx context.Context, in dispatchInput, dest clientstate.Destination, fields logging.Fields) {
	var diff *changedetector.Diff
	if dest.ChangeDetectionEnabled && d.detector != nil {
		computed, err := d.detector.Detect(ctx, in.Resource, in.ItemID, in.Current, dest.IncludeFields, dest.ExcludeFields)
		if err != nil {
			d.logger.Warn("change detection failed for forward destination", fields.Error(err).ToZap()...)
		} else {
			diff = &computed
		}
	}

	env := forwarder.BuildEnvelope(envelopeSource, in.Notification, dest, in.Current, in.Previous, diff, time.Now())
	result, err := d.forwarder.Forward(ctx, dest.URL, env)
	d.observeForward(err)
	if err != nil {
		d.logger.Warn("forward delivery failed", fields.Error(err).ToZap()...)
		return
	}
	d.logger.Info("forward delivered", fields.StatusCode(result.StatusCode).Count(result.Attempts).ToZap()...)
}

func (d *Dispatcher) dispatchRpaQueue(ctx context.Context, in dispatchInput, dest clientstate.Destination, fields logging.Fields) {
	if d.templates == nil {
		d.logger.Warn("no template registry configured, dropping uipath destination", fields.ToZap()...)
		return
	}
	outcome, err := d.templates.Process(ctx, dest.HandlerName, in.ItemID, dest.TenantTag, dest.FolderID, in.Current, in.Previous, d.submitter)
	if err != nil {
		d.observeQueueOutcome(dest.TenantTag, "error")
		d.logger.Warn("queue dispatch failed", fields.Error(err).ToZap()...)
		return
	}
	d.observeQueueOutcome(dest.TenantTag, string(outcome.Result.Class))
	if !outcome.Submitted {
		d.logger.Info("queue dispatch skipped", fields.Custom("reason", outcome.Reason).ToZap()...)
		return
	}
	d.logger.Info("queue item submitted", fields.Custom("result_class", string(outcome.Result.Class)).ToZap()...)
}

func (d *Dispatcher) observeForward(err error) {
	if d.metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	d.metrics.ForwardAttempts.WithLabelValues(outcome).Inc()
}

func (d *Dispatcher) observeQueueOutcome(tenantTag, result string) {
	if d.metrics == nil || result == "" {
		return
	}
	d.metrics.QueueSubmissions.WithLabelValues(tenantTag, result).Inc()
}
