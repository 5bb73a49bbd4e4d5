package httpclient

import (
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerRegistry hands out one gobreaker.CircuitBreaker per named external
// dependency (e.g. one per RPA tenant tag, one per forward-target host), so
// a single misbehaving endpoint trips only its own breaker.
type BreakerRegistry struct {
	settings func(name string) gobreaker.Settings
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBreakerRegistry builds a registry using settingsFn to derive per-name
// gobreaker.Settings (timeout, failure threshold) lazily on first use.
func NewBreakerRegistry(settingsFn func(name string) gobreaker.Settings) *BreakerRegistry {
	return &BreakerRegistry{settings: settingsFn, breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

// DefaultBreakerSettings opens after 5 consecutive failures and probes again
// after 30 seconds, matching a conservative default for an external REST
// dependency this hub does not control.
func DefaultBreakerSettings(name string) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
}

func (r *BreakerRegistry) get(name string) *gobreaker.CircuitBreaker {
	if b, ok := r.breakers[name]; ok {
		return b
	}
	settingsFn := r.settings
	if settingsFn == nil {
		settingsFn = DefaultBreakerSettings
	}
	b := gobreaker.NewCircuitBreaker(settingsFn(name))
	r.breakers[name] = b
	return b
}

// Execute runs fn through the named breaker. If the breaker is open, fn is
// never called and gobreaker.ErrOpenState is returned.
func (r *BreakerRegistry) Execute(name string, fn func() (*http.Response, error)) (*http.Response, error) {
	b := r.get(name)
	result, err := b.Execute(func() (interface{}, error) {
		resp, err := fn()
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return resp, errServerError
		}
		return resp, nil
	})
	if result == nil {
		return nil, err
	}
	resp := result.(*http.Response)
	if err == errServerError {
		return resp, nil
	}
	return resp, err
}

// State reports the current state of the named breaker ("closed",
// "half-open", "open"), or "closed" if never used (no failures observed).
func (r *BreakerRegistry) State(name string) string {
	b, ok := r.breakers[name]
	if !ok {
		return "closed"
	}
	switch b.State() {
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// States returns a snapshot of every breaker's state, keyed by name, for
// health reporting.
func (r *BreakerRegistry) States() map[string]string {
	out := make(map[string]string, len(r.breakers))
	for name := range r.breakers {
		out[name] = r.State(name)
	}
	return out
}

var errServerError = &breakerTrippingError{}

type breakerTrippingError struct{}

func (*breakerTrippingError) Error() string { return "upstream returned a server error" }
