// Package forwarder posts an enriched notification envelope to an
// arbitrary HTTPS URL, honoring the same retry/backoff shape as
// queueclient but treating every 4xx response as non-retryable since the
// target is outside this process's control.
package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bburrets/sp-webhook-integration-sub001/internal/apperrors"
	"github.com/bburrets/sp-webhook-integration-sub001/internal/changedetector"
	"github.com/bburrets/sp-webhook-integration-sub001/internal/clientstate"
	"github.com/bburrets/sp-webhook-integration-sub001/internal/httpclient"
)

// Envelope is the JSON body POSTed to a Forward destination. Which fields
// are populated depends on the destination's EnvelopeMode.
type Envelope struct {
	Timestamp     time.Time              `json:"timestamp"`
	Source        string                 `json:"source"`
	Notification  interface{}            `json:"notification"`
	CurrentState  map[string]interface{} `json:"current_state,omitempty"`
	PreviousState map[string]interface{} `json:"previous_state,omitempty"`
	Changes       *ChangesPayload        `json:"changes,omitempty"`
}

// ChangesPayload wraps a computed Diff under a "details" key so a
// receiving webhook can distinguish the diff's shape from other future
// top-level change metadata without a breaking change.
type ChangesPayload struct {
	Details changedetector.Diff `json:"details"`
}

// Result is the outcome of one forward attempt.
type Result struct {
	StatusCode int
	Attempts   int
}

// Forwarder POSTs envelopes to arbitrary HTTPS URLs, refusing any URL whose
// host matches the process's own callback host to avoid a notification
// recursively re-triggering Ingress.
type Forwarder struct {
	httpClient   *http.Client
	callbackHost string
	breakers     *httpclient.BreakerRegistry
	policy       httpclient.RetryPolicy
}

// New builds a Forwarder. callbackHost is this process's own inbound
// hostname (from the configured callback base URL), used for loop
// prevention.
func New(httpClient *http.Client, callbackHost string, breakers *httpclient.BreakerRegistry, policy httpclient.RetryPolicy) *Forwarder {
	return &Forwarder{httpClient: httpClient, callbackHost: callbackHost, breakers: breakers, policy: policy}
}

// BuildEnvelope assembles the payload for dest according to its EnvelopeMode.
// changes is nil unless dest enables change detection and a Diff was
// computed; current/previous are the raw (pre-filter) field maps.
//
// A destination's explicit changeDetection:enabled flag carries the diff
// even under the default "simple" mode: the flag is the caller's signal
// that it wants the changes payload, independent of how much of the raw
// item state it also wants alongside it.
func BuildEnvelope(source string, notification interface{}, dest clientstate.Destination, current, previous map[string]interface{}, changes *changedetector.Diff, now time.Time) Envelope {
	env := Envelope{Timestamp: now, Source: source, Notification: notification}
	wantsState := dest.Mode != clientstate.ModeSimple || dest.ChangeDetectionEnabled
	if !wantsState {
		return env
	}

	env.CurrentState = changedetector.FilterFields(current, dest.IncludeFields, dest.ExcludeFields)

	wantsChanges := dest.Mode == clientstate.ModeWithChanges || dest.ChangeDetectionEnabled
	if wantsChanges {
		env.PreviousState = changedetector.FilterFields(previous, dest.IncludeFields, dest.ExcludeFields)
		if changes != nil {
			env.Changes = &ChangesPayload{Details: *changes}
		}
	}
	return env
}

// Forward POSTs env to dest.URL. It refuses URLs on the forwarder's own
// callback host and any non-HTTPS URL (the latter should already be
// rejected at client_state parse time, but is re-checked here as a
// defense against a future caller that skips that validation).
func (f *Forwarder) Forward(ctx context.Context, destURL string, env Envelope) (Result, error) {
	parsed, err := url.Parse(destURL)
	if err != nil {
		return Result{}, apperrors.ValidationError("forward url", "not a valid URL")
	}
	if !strings.EqualFold(parsed.Scheme, "https") {
		return Result{}, apperrors.ValidationError("forward url", "must be HTTPS")
	}
	if f.callbackHost != "" && strings.EqualFold(parsed.Hostname(), f.callbackHost) {
		return Result{}, apperrors.ValidationError("forward url", "refuses to forward to its own callback host")
	}

	body, err := json.Marshal(env)
	if err != nil {
		return Result{}, apperrors.Wrapf(err, "failed to marshal forward envelope for %s", destURL)
	}

	breakerName := parsed.Hostname()
	resp, lastErr, attempts := httpclient.Do(ctx, f.policy,
		func(ctx context.Context) (*http.Response, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, destURL, bytes.NewReader(body))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Content-Type", "application/json")
			return f.breakers.Execute(breakerName, func() (*http.Response, error) {
				return f.httpClient.Do(req)
			})
		},
		classify,
	)

	if lastErr != nil {
		return Result{Attempts: attempts}, apperrors.NetworkError("forward notification", destURL, lastErr)
	}
	if resp == nil {
		return Result{Attempts: attempts}, apperrors.FailedTo("forward notification", fmt.Errorf("no response received from %s", destURL))
	}
	defer resp.Body.Close()

	return Result{StatusCode: resp.StatusCode, Attempts: attempts}, nil
}

// classify treats every 4xx as terminal: an arbitrary forward target may
// use any client-error status to mean "intentionally rejected", and
// retrying would just repeat the rejection.
func classify(resp *http.Response, err error) httpclient.Classification {
	if err != nil {
		return httpclient.ClassRetryable
	}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return httpclient.ClassSuccess
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return httpclient.ClassTerminal
	case resp.StatusCode >= 500:
		return httpclient.ClassRetryable
	default:
		return httpclient.ClassTerminal
	}
}
