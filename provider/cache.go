package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// deliveryExpiry bounds how long a delivery fingerprint is remembered.
// Providers retry for hours, not days.
const deliveryExpiry = 24 * time.Hour

// DeliveryCache remembers webhook delivery fingerprints in Redis so
// exact retransmissions can be acknowledged without touching the
// transaction store. It is an optimization only: reconciliation stays
// idempotent when the cache is absent or down.
type DeliveryCache struct {
	client *redis.Client
}

// NewDeliveryCache connects to Redis and verifies the connection.
func NewDeliveryCache(ctx context.Context, addr, password string, db int) (*DeliveryCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &DeliveryCache{client: client}, nil
}

// Seen atomically records a delivery and reports whether its exact body
// was already delivered for this driver. SETNX makes the check safe
// under concurrent retransmissions.
func (c *DeliveryCache) Seen(ctx context.Context, driverName string, body []byte) (bool, error) {
	digest := sha256.Sum256(body)
	key := fmt.Sprintf("webhook:%s:%s", driverName, hex.EncodeToString(digest[:]))

	set, err := c.client.SetNX(ctx, key, 1, deliveryExpiry).Result()
	if err != nil {
		return false, fmt.Errorf("redis SETNX error: %w", err)
	}
	return !set, nil
}

// Close releases the Redis connection.
func (c *DeliveryCache) Close() error {
	return c.client.Close()
}
