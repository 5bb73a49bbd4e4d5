// Package queueclient submits QueueItems to the RPA provider: it resolves
// a tenant tag to an environment preset, acquires an OAuth2 client-
// credentials token (cached, single-flight coalesced), and retries
// transient failures through a per-tenant circuit breaker.
package queueclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/bburrets/sp-webhook-integration-sub001/internal/apperrors"
	"github.com/bburrets/sp-webhook-integration-sub001/internal/httpclient"
	"github.com/bburrets/sp-webhook-integration-sub001/internal/tokencache"
)

// Priority is a QueueItem's processing priority.
type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityNormal Priority = "Normal"
	PriorityHigh   Priority = "High"
)

// QueueItem is the payload submitted to the RPA provider's add-queue-item
// endpoint.
type QueueItem struct {
	Name            string                 `json:"Name"`
	Priority        Priority               `json:"Priority"`
	Reference       string                 `json:"Reference"`
	SpecificContent map[string]interface{} `json:"SpecificContent"`
	DueDate         *time.Time             `json:"DueDate,omitempty"`
}

// ResultClass tags the outcome of a submission attempt.
type ResultClass string

const (
	ClassSuccess            ResultClass = "Success"
	ClassDuplicateReference ResultClass = "DuplicateReference"
	ClassInvalidPayload     ResultClass = "InvalidPayload"
	ClassMissingQueue       ResultClass = "MissingQueue"
	ClassMissingFolder      ResultClass = "MissingFolder"
	ClassAuthFailed         ResultClass = "AuthFailed"
	ClassTransientFailure   ResultClass = "TransientFailure"
)

// Result is the tagged outcome of one Submit call.
type Result struct {
	Class    ResultClass
	ItemID   string
	Detail   string
	Attempts int
}

// Preset resolves a tenant tag to an RPA environment.
type Preset struct {
	TokenEndpoint string
	TenantName    string
	ClientID      string
	ClientSecret  string
	BaseURL       string
	FolderID      string
}

// PresetResolver looks up the preset for a tenant tag, as configured by
// the process-wide default plus any custom entries.
type PresetResolver func(tenantTag string) (Preset, bool)

// Client submits QueueItems to the RPA provider.
type Client struct {
	httpClient *http.Client
	resolve    PresetResolver
	tokens     *tokencache.Cache
	breakers   *httpclient.BreakerRegistry
	policy     httpclient.RetryPolicy
}

// New builds a Client. resolve maps tenant tags to environment presets;
// tokens and breakers are shared, process-wide singletons.
func New(httpClient *http.Client, resolve PresetResolver, tokens *tokencache.Cache, breakers *httpclient.BreakerRegistry, policy httpclient.RetryPolicy) *Client {
	return &Client{httpClient: httpClient, resolve: resolve, tokens: tokens, breakers: breakers, policy: policy}
}

// Submit authenticates against the tenant's token endpoint (via the shared
// TokenCache) and POSTs item to the resolved preset's add-queue-item
// endpoint, classifying the outcome per §4.5.
func (c *Client) Submit(ctx context.Context, tenantTag, folderIDOverride string, item QueueItem) (Result, error) {
	preset, ok := c.resolve(tenantTag)
	if !ok {
		return Result{}, apperrors.ConfigurationError("rpa tenant tag", fmt.Sprintf("no preset registered for %q", tenantTag))
	}
	folderID := preset.FolderID
	if folderIDOverride != "" {
		folderID = folderIDOverride
	}

	body, err := json.Marshal(map[string]interface{}{"itemData": item})
	if err != nil {
		return Result{}, apperrors.Wrapf(err, "failed to encode queue item %q", item.Reference)
	}

	breakerName := "rpa-" + tenantTag
	var attempts int
	refreshedOnAuthFailure := false
	resp, lastErr, _ := httpclient.Do(ctx, c.policy,
		func(ctx context.Context) (*http.Response, error) {
			attempts++
			resp, err := c.send(ctx, tenantTag, preset, folderID, breakerName, body)
			if err == nil && resp != nil && isAuthFailure(resp.StatusCode) && !refreshedOnAuthFailure {
				refreshedOnAuthFailure = true
				c.tokens.Invalidate("rpa", tenantTag)
				resp.Body.Close()
				return c.send(ctx, tenantTag, preset, folderID, breakerName, body)
			}
			return resp, err
		},
		classify,
	)

	return buildResult(resp, lastErr, attempts)
}

func (c *Client) send(ctx context.Context, tenantTag string, preset Preset, folderID, breakerName string, body []byte) (*http.Response, error) {
	token, err := c.fetchToken(ctx, tenantTag, preset)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, preset.BaseURL+"/odata/Queues/UiPathODataSvc.AddQueueItem", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Tenant-Name", preset.TenantName)
	req.Header.Set("X-Organization-Unit-Id", folderID)

	return c.breakers.Execute(breakerName, func() (*http.Response, error) {
		return c.httpClient.Do(req)
	})
}

func isAuthFailure(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

func (c *Client) fetchToken(ctx context.Context, tenantTag string, preset Preset) (string, error) {
	return c.tokens.Get(ctx, "rpa", tenantTag, func(ctx context.Context, provider, tenant string) (string, time.Duration, error) {
		cfg := clientcredentials.Config{
			ClientID:     preset.ClientID,
			ClientSecret: preset.ClientSecret,
			TokenURL:     preset.TokenEndpoint,
		}
		token, err := cfg.Token(ctx)
		if err != nil {
			return "", 0, apperrors.AuthenticationError(fmt.Sprintf("rpa token endpoint request failed: %v", err))
		}
		ttl := time.Until(token.Expiry)
		if ttl <= 0 {
			ttl = time.Hour
		}
		return token.AccessToken, ttl, nil
	})
}

// classify implements the §4.5 retry taxonomy.
func classify(resp *http.Response, err error) httpclient.Classification {
	if err != nil {
		return httpclient.ClassRetryable
	}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return httpclient.ClassSuccess
	case resp.StatusCode == http.StatusTooManyRequests:
		return httpclient.ClassRetryable
	case resp.StatusCode >= 500:
		return httpclient.ClassRetryable
	default:
		return httpclient.ClassTerminal
	}
}

func buildResult(resp *http.Response, err error, attempts int) (Result, error) {
	if resp == nil {
		if err != nil {
			return Result{Class: ClassTransientFailure, Attempts: attempts, Detail: err.Error()}, nil
		}
		return Result{}, apperrors.FailedTo("submit queue item", fmt.Errorf("no response received"))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return Result{Class: ClassSuccess, Attempts: attempts}, nil
	case resp.StatusCode == http.StatusConflict:
		return Result{Class: ClassDuplicateReference, Attempts: attempts}, nil
	case resp.StatusCode == http.StatusBadRequest:
		return Result{Class: ClassInvalidPayload, Attempts: attempts, Detail: readBody(resp)}, nil
	case resp.StatusCode == http.StatusNotFound:
		detail := readBody(resp)
		if strings.Contains(strings.ToLower(detail), "folder") {
			return Result{Class: ClassMissingFolder, Attempts: attempts, Detail: detail}, nil
		}
		return Result{Class: ClassMissingQueue, Attempts: attempts, Detail: detail}, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Result{Class: ClassAuthFailed, Attempts: attempts}, nil
	default:
		return Result{Class: ClassTransientFailure, Attempts: attempts, Detail: readBody(resp)}, nil
	}
}

func readBody(resp *http.Response) string {
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	return buf.String()
}
