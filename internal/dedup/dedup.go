// Package dedup suppresses duplicate notifications arriving within a short
// window, keyed by (subscription_id, bucketed change timestamp) in Redis.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bburrets/sp-webhook-integration-sub001/internal/apperrors"
)

const keyPrefix = "webhook-hub:dedup:"

// Cache suppresses duplicate (subscription_id, timestamp bucket) pairs
// using a Redis SETNX-with-TTL. SETNX is already atomic per key, so every
// caller issues its own round trip rather than coalescing behind a shared
// in-process call: coalescing would hand every concurrent caller the same
// winner's result and defeat the dedup itself.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New builds a Cache against client with the given suppression TTL.
func New(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Key derives the DedupKey string for a subscription id and a change
// timestamp bucketed to the second, so near-simultaneous duplicate
// deliveries of the same change collide on the same key.
func Key(subscriptionID string, changeTimestamp time.Time) string {
	return fmt.Sprintf("%s:%d", subscriptionID, changeTimestamp.Unix())
}

// CheckAndSet reports whether key has been seen before within the TTL
// window. The first caller for a given key gets seen=false and the key is
// recorded; subsequent callers within the TTL get seen=true.
func (c *Cache) CheckAndSet(ctx context.Context, key string) (seen bool, err error) {
	ok, err := c.client.SetNX(ctx, keyPrefix+key, 1, c.ttl).Result()
	if err != nil {
		return false, apperrors.NetworkError("check dedup key", "redis", err)
	}
	return !ok, nil
}
