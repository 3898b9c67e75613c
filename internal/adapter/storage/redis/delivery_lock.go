package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// DeliveryLock implements ports.DeliveryLock using Redis SET NX. The TTL
// bounds how long a crashed dispatcher can hold a claim.
type DeliveryLock struct {
	client *goredis.Client
	prefix string
}

// NewDeliveryLock creates a new Redis-backed delivery claim lock.
func NewDeliveryLock(client *goredis.Client) *DeliveryLock {
	return &DeliveryLock{
		client: client,
		prefix: "webhook:claim:",
	}
}

// Acquire atomically claims a delivery. Returns false if another dispatcher
// already holds the claim.
func (l *DeliveryLock) Acquire(ctx context.Context, deliveryID uuid.UUID, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.prefix+deliveryID.String(), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis delivery claim: %w", err)
	}
	return ok, nil
}

// Release frees the claim early so the next attempt does not wait for the TTL.
func (l *DeliveryLock) Release(ctx context.Context, deliveryID uuid.UUID) error {
	if err := l.client.Del(ctx, l.prefix+deliveryID.String()).Err(); err != nil {
		return fmt.Errorf("redis delivery release: %w", err)
	}
	return nil
}
