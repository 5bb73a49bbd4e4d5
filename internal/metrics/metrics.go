// Package metrics exposes the hub's Prometheus instrumentation. Collectors
// are grouped by subsystem and registered against a caller-supplied
// registry so tests can use a throwaway one instead of the global default.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every collector the hub exports.
type Registry struct {
	IngressNotifications *prometheus.CounterVec
	IngressDispatchLat   *prometheus.HistogramVec
	DedupSuppressed      prometheus.Counter
	QueueSubmissions     *prometheus.CounterVec
	QueueTokenRefresh    *prometheus.CounterVec
	ForwardAttempts      *prometheus.CounterVec
	RenewalResults       *prometheus.CounterVec
	BreakerState         *prometheus.GaugeVec
}

// New creates and registers every collector against reg.
func New(reg prometheus.Registerer) *Registry {
	m := &Registry{
		IngressNotifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "webhook_hub",
			Subsystem: "ingress",
			Name:      "notifications_total",
			Help:      "Notifications processed, partitioned by outcome.",
		}, []string{"outcome"}),
		IngressDispatchLat: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "webhook_hub",
			Subsystem: "ingress",
			Name:      "dispatch_latency_seconds",
			Help:      "Time spent fanning a notification out to its destinations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"destination_kind"}),
		DedupSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "webhook_hub",
			Subsystem: "ingress",
			Name:      "dedup_suppressed_total",
			Help:      "Notifications suppressed as duplicates.",
		}),
		QueueSubmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "webhook_hub",
			Subsystem: "queueclient",
			Name:      "submissions_total",
			Help:      "RPA queue submissions, partitioned by result class.",
		}, []string{"tenant_tag", "result"}),
		QueueTokenRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "webhook_hub",
			Subsystem: "queueclient",
			Name:      "token_refresh_total",
			Help:      "OAuth2 token refreshes, partitioned by outcome.",
		}, []string{"tenant_tag", "outcome"}),
		ForwardAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "webhook_hub",
			Subsystem: "forwarder",
			Name:      "attempts_total",
			Help:      "Forward-URL delivery attempts, partitioned by outcome.",
		}, []string{"outcome"}),
		RenewalResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "webhook_hub",
			Subsystem: "subscriptions",
			Name:      "renewal_results_total",
			Help:      "Subscription renewal attempts, partitioned by outcome.",
		}, []string{"outcome"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "webhook_hub",
			Subsystem: "httpclient",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per dependency (0=closed, 1=half-open, 2=open).",
		}, []string{"name"}),
	}

	reg.MustRegister(
		m.IngressNotifications,
		m.IngressDispatchLat,
		m.DedupSuppressed,
		m.QueueSubmissions,
		m.QueueTokenRefresh,
		m.ForwardAttempts,
		m.RenewalResults,
		m.BreakerState,
	)
	return m
}

// BreakerStateValue maps a BreakerRegistry.State() string to the gauge
// encoding documented on BreakerState.
func BreakerStateValue(state string) float64 {
	switch state {
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}
