// Package platformapi talks to the collaboration platform's REST API:
// fetching an item's current fields, and a best-effort change-feed
// fallback for notifications that omit resource_data.id.
package platformapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/bburrets/sp-webhook-integration-sub001/internal/apperrors"
	"github.com/bburrets/sp-webhook-integration-sub001/internal/httpclient"
)

// Client fetches item state from the platform API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	tokenFunc  func(ctx context.Context) (string, error)
	policy     httpclient.RetryPolicy
}

// New builds a Client. tokenFunc supplies a bearer token for each request
// (the platform's own client-credentials grant, cached independently of
// the RPA token cache since the audiences differ).
func New(httpClient *http.Client, baseURL string, tokenFunc func(ctx context.Context) (string, error), policy httpclient.RetryPolicy) *Client {
	return &Client{httpClient: httpClient, baseURL: baseURL, tokenFunc: tokenFunc, policy: policy}
}

// GetItemFields fetches the current field map for resource+itemID.
func (c *Client) GetItemFields(ctx context.Context, resource, itemID string) (map[string]interface{}, error) {
	url := fmt.Sprintf("%s/%s/items/%s?$expand=fields", c.baseURL, resource, itemID)
	return c.fetchFields(ctx, url)
}

// GetMostRecentChange is the best-effort fallback used when a notification
// omits resource_data.id: it fetches the most recently changed item on the
// resource's change feed. This is racy under concurrent changes to the
// same resource within one notification batch, and the caller must treat
// its result as a lossy approximation, not an authoritative association
// with any particular notification.
func (c *Client) GetMostRecentChange(ctx context.Context, resource string) (itemID string, fields map[string]interface{}, err error) {
	url := fmt.Sprintf("%s/%s/items?$top=1&$orderby=lastModifiedDateTime desc&$expand=fields", c.baseURL, resource)
	raw, err := c.get(ctx, url)
	if err != nil {
		return "", nil, err
	}

	var page struct {
		Value []struct {
			ID     string                 `json:"id"`
			Fields map[string]interface{} `json:"fields"`
		} `json:"value"`
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		return "", nil, apperrors.ParseError("change feed response", "json", err)
	}
	if len(page.Value) == 0 {
		return "", nil, apperrors.FailedTo("resolve most-recent change", fmt.Errorf("resource %s has no recent changes", resource))
	}
	return page.Value[0].ID, page.Value[0].Fields, nil
}

func (c *Client) fetchFields(ctx context.Context, url string) (map[string]interface{}, error) {
	raw, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}
	var item struct {
		Fields map[string]interface{} `json:"fields"`
	}
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, apperrors.ParseError("item response", "json", err)
	}
	return item.Fields, nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	resp, lastErr, _ := httpclient.Do(ctx, c.policy,
		func(ctx context.Context) (*http.Response, error) {
			token, err := c.tokenFunc(ctx)
			if err != nil {
				return nil, err
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return nil, err
			}
			req.Header.Set("Authorization", "Bearer "+token)
			return c.httpClient.Do(req)
		},
		classify,
	)
	if lastErr != nil {
		return nil, apperrors.NetworkError("fetch platform item", url, lastErr)
	}
	if resp == nil {
		return nil, apperrors.FailedTo("fetch platform item", fmt.Errorf("no response received"))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, apperrors.FailedTo("fetch platform item", fmt.Errorf("platform API returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.NetworkError("read platform response body", url, err)
	}
	return body, nil
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
