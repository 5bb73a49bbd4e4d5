// Package tokencache caches RPA provider bearer tokens in-process, keyed
// by (provider, tenant tag), coalescing concurrent cache-miss refreshes
// into a single in-flight request.
package tokencache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// safetyMargin is subtracted from a token's reported expiry so a caller
// never hands out a token that expires mid-request.
const safetyMargin = 5 * time.Minute

// Token is a cached bearer token and the instant it should be considered
// stale.
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
}

func (t Token) valid(now time.Time) bool {
	return t.AccessToken != "" && now.Before(t.ExpiresAt)
}

// Fetcher acquires a fresh token for (provider, tenant), returning the
// access token and its provider-reported lifetime.
type Fetcher func(ctx context.Context, provider, tenant string) (accessToken string, expiresIn time.Duration, err error)

// Cache is a process-local, singleflight-guarded token cache.
type Cache struct {
	mu     sync.RWMutex
	tokens map[string]Token
	group  singleflight.Group
}

// New builds an empty Cache.
func New() *Cache {
	return &Cache{tokens: make(map[string]Token)}
}

func cacheKey(provider, tenant string) string {
	return provider + "/" + tenant
}

// Get returns a valid cached token for (provider, tenant), calling fetch
// exactly once even under N concurrent cache-miss callers for the same
// key.
func (c *Cache) Get(ctx context.Context, provider, tenant string, fetch Fetcher) (string, error) {
	key := cacheKey(provider, tenant)

	c.mu.RLock()
	cached, ok := c.tokens[key]
	c.mu.RUnlock()
	if ok && cached.valid(time.Now()) {
		return cached.AccessToken, nil
	}

	result, err, _ := c.group.Do(key, func() (interface{}, error) {
		c.mu.RLock()
		cached, ok := c.tokens[key]
		c.mu.RUnlock()
		if ok && cached.valid(time.Now()) {
			return cached.AccessToken, nil
		}

		accessToken, expiresIn, err := fetch(ctx, provider, tenant)
		if err != nil {
			return "", err
		}

		token := Token{AccessToken: accessToken, ExpiresAt: time.Now().Add(expiresIn - safetyMargin)}
		c.mu.Lock()
		c.tokens[key] = token
		c.mu.Unlock()
		return accessToken, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// Invalidate drops any cached token for (provider, tenant), forcing the
// next Get to fetch a fresh one. Used after a 401/403 so the one allowed
// retry does not reuse a rejected token.
func (c *Cache) Invalidate(provider, tenant string) {
	c.mu.Lock()
	delete(c.tokens, cacheKey(provider, tenant))
	c.mu.Unlock()
}
