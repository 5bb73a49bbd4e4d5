// Package subscriptions manages the lifecycle of platform subscriptions:
// creating, listing, and deleting them against the platform's subscription
// REST surface, and reconciling the external tracking list against what
// is actually live.
package subscriptions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bburrets/sp-webhook-integration-sub001/internal/apperrors"
	"github.com/bburrets/sp-webhook-integration-sub001/internal/httpclient"
)

// ChangeType is the kind of mutation a Subscription is notified about.
type ChangeType string

const (
	ChangeAdded      ChangeType = "added"
	ChangeUpdated    ChangeType = "updated"
	ChangeDeleted    ChangeType = "deleted"
	ChangeCombined   ChangeType = "added,updated,deleted"
)

// Subscription mirrors the platform's subscription resource.
type Subscription struct {
	ID          string     `json:"id"`
	Resource    string     `json:"resource"`
	ChangeType  ChangeType `json:"changeType"`
	CallbackURL string     `json:"notificationUrl"`
	ClientState string     `json:"clientState"`
	ExpiresAt   time.Time  `json:"expirationDateTime"`
	CreatedAt   time.Time  `json:"-"`
}

// CreateRequest is the payload sent to the platform to create a subscription.
type CreateRequest struct {
	Resource    string     `json:"resource"`
	ChangeType  ChangeType `json:"changeType"`
	CallbackURL string     `json:"notificationUrl"`
	ClientState string     `json:"clientState"`
	ExpiresAt   time.Time  `json:"expirationDateTime"`
}

// API is a thin wrapper over the platform's subscription REST endpoint.
type API struct {
	httpClient *http.Client
	baseURL    string
	tokenFunc  func(ctx context.Context) (string, error)
	breakers   *httpclient.BreakerRegistry
	policy     httpclient.RetryPolicy
}

// New builds an API client.
func New(httpClient *http.Client, baseURL string, tokenFunc func(ctx context.Context) (string, error), breakers *httpclient.BreakerRegistry, policy httpclient.RetryPolicy) *API {
	return &API{httpClient: httpClient, baseURL: baseURL, tokenFunc: tokenFunc, breakers: breakers, policy: policy}
}

// Create POSTs a new subscription and returns the platform's canonical copy.
func (a *API) Create(ctx context.Context, req CreateRequest) (Subscription, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Subscription{}, apperrors.Wrapf(err, "failed to marshal subscription create request")
	}
	var sub Subscription
	if err := a.do(ctx, http.MethodPost, a.baseURL+"/subscriptions", body, &sub); err != nil {
		return Subscription{}, err
	}
	return sub, nil
}

// List enumerates every live subscription known to the platform.
func (a *API) List(ctx context.Context) ([]Subscription, error) {
	var page struct {
		Value []Subscription `json:"value"`
	}
	if err := a.do(ctx, http.MethodGet, a.baseURL+"/subscriptions", nil, &page); err != nil {
		return nil, err
	}
	return page.Value, nil
}

// Renew extends id's expiry to expiresAt via PATCH.
func (a *API) Renew(ctx context.Context, id string, expiresAt time.Time) (Subscription, error) {
	body, err := json.Marshal(struct {
		ExpiresAt time.Time `json:"expirationDateTime"`
	}{ExpiresAt: expiresAt})
	if err != nil {
		return Subscription{}, apperrors.Wrapf(err, "failed to marshal subscription renewal")
	}
	var sub Subscription
	if err := a.do(ctx, http.MethodPatch, a.baseURL+"/subscriptions/"+id, body, &sub); err != nil {
		return Subscription{}, err
	}
	return sub, nil
}

// Delete removes a subscription from the platform.
func (a *API) Delete(ctx context.Context, id string) error {
	return a.do(ctx, http.MethodDelete, a.baseURL+"/subscriptions/"+id, nil, nil)
}

func (a *API) do(ctx context.Context, method, url string, body []byte, out interface{}) error {
	resp, lastErr, _ := httpclient.Do(ctx, a.policy,
		func(ctx context.Context) (*http.Response, error) {
			token, err := a.tokenFunc(ctx)
			if err != nil {
				return nil, err
			}
			var reader io.Reader
			if body != nil {
				reader = bytes.NewReader(body)
			}
			req, err := http.NewRequestWithContext(ctx, method, url, reader)
			if err != nil {
				return nil, err
			}
			req.Header.Set("Authorization", "Bearer "+token)
			if body != nil {
				req.Header.Set("Content-Type", "application/json")
			}
			return a.breakers.Execute("platform-subscriptions", func() (*http.Response, error) {
				return a.httpClient.Do(req)
			})
		},
		classify,
	)
	if lastErr != nil {
		return apperrors.NetworkError("subscription API request", url, lastErr)
	}
	if resp == nil {
		return apperrors.FailedTo("subscription API request", fmt.Errorf("no response received from %s", url))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(resp.Body)
		return apperrors.FailedTo("subscription API request", fmt.Errorf("%s %s returned status %d: %s", method, url, resp.StatusCode, detail))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.ParseError("subscription API response", "json", err)
	}
	return nil
}

func classify(resp *http.Response, err error) httpclient.Classification {
	if err != nil {
		return httpclient.ClassRetryable
	}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return httpclient.ClassSuccess
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return httpclient.ClassRetryable
	default:
		return httpclient.ClassTerminal
	}
}
