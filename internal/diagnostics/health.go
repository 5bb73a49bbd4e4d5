package diagnostics

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bburrets/sp-webhook-integration-sub001/internal/httpclient"
)

// DependencyStatus is one dependency's probe result.
type DependencyStatus struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Report is the /health response body.
type Report struct {
	Healthy           bool                `json:"healthy"`
	Dependencies      []DependencyStatus  `json:"dependencies"`
	CircuitBreakers   map[string]string   `json:"circuit_breakers,omitempty"`
	LastReconcileTick *time.Time          `json:"last_reconcile_tick,omitempty"`
	ReconcileTickAge  string              `json:"reconcile_tick_age,omitempty"`
}

// ReconcileTicker reports when the subscription reconciler last completed
// a run, so a stalled timer goroutine shows up in health before it causes
// a subscription to lapse unrenewed.
type ReconcileTicker interface {
	LastTick() (time.Time, bool)
}

// HealthChecker aggregates the critical dependency probes behind /health.
type HealthChecker struct {
	stateDB    *sql.DB
	trackingDB *sql.DB
	redis      *redis.Client
	breakers   *httpclient.BreakerRegistry
	reconciler ReconcileTicker
	maxTickAge time.Duration
}

// NewHealthChecker builds a HealthChecker. maxTickAge <= 0 defaults to
// twice the reconciler's schedule period (2h, since the default schedule
// is hourly) beyond which a stalled reconciler is reported unhealthy.
func NewHealthChecker(stateDB, trackingDB *sql.DB, redisClient *redis.Client, breakers *httpclient.BreakerRegistry, reconciler ReconcileTicker, maxTickAge time.Duration) *HealthChecker {
	if maxTickAge <= 0 {
		maxTickAge = 2 * time.Hour
	}
	return &HealthChecker{
		stateDB:    stateDB,
		trackingDB: trackingDB,
		redis:      redisClient,
		breakers:   breakers,
		reconciler: reconciler,
		maxTickAge: maxTickAge,
	}
}

// Check pings every configured critical dependency and reports the
// reconciler's tick age. It never returns an error: unreachable
// dependencies are reported as unhealthy entries, not surfaced as a Go
// error. A dependency with a nil handle is listed as "not configured" and
// does not make the report unhealthy.
func (c *HealthChecker) Check(ctx context.Context) Report {
	report := Report{Healthy: true}

	report.Dependencies = append(report.Dependencies, c.pingSQL(ctx, "state_store", c.stateDB))
	report.Dependencies = append(report.Dependencies, c.pingSQL(ctx, "tracking_list", c.trackingDB))
	report.Dependencies = append(report.Dependencies, c.pingRedis(ctx))

	for _, dep := range report.Dependencies {
		if !dep.Healthy {
			report.Healthy = false
		}
	}

	if c.breakers != nil {
		report.CircuitBreakers = c.breakers.States()
		for _, state := range report.CircuitBreakers {
			if state == "open" {
				report.Healthy = false
			}
		}
	}

	if c.reconciler != nil {
		if last, ok := c.reconciler.LastTick(); ok {
			report.LastReconcileTick = &last
			age := time.Since(last)
			report.ReconcileTickAge = age.String()
			if age > c.maxTickAge {
				report.Healthy = false
			}
		}
	}

	return report
}

func (c *HealthChecker) pingSQL(ctx context.Context, name string, db *sql.DB) DependencyStatus {
	if db == nil {
		return DependencyStatus{Name: name, Healthy: true, Detail: "not configured"}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return DependencyStatus{Name: name, Healthy: false, Detail: err.Error()}
	}
	return DependencyStatus{Name: name, Healthy: true}
}

func (c *HealthChecker) pingRedis(ctx context.Context) DependencyStatus {
	if c.redis == nil {
		return DependencyStatus{Name: "redis", Healthy: true, Detail: "not configured"}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.redis.Ping(pingCtx).Err(); err != nil {
		return DependencyStatus{Name: "redis", Healthy: false, Detail: err.Error()}
	}
	return DependencyStatus{Name: "redis", Healthy: true}
}

// ServeHTTP writes the health report as JSON, 200 when every critical
// dependency is healthy, 503 otherwise.
func (c *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report := c.Check(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if report.Healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(report)
}
