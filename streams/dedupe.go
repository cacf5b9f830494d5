package streams

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	deliveryKeyFormat  = "calcom_webhook_delivery:%s"
	DefaultDeliveryTTL = 24 * time.Hour
)

// Deduper remembers webhook deliveries so retries from the provider are
// processed once.
type Deduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewDeduper remembers deliveries for ttl, or DefaultDeliveryTTL when ttl <= 0.
func NewDeduper(client *redis.Client, ttl time.Duration) *Deduper {
	if ttl <= 0 {
		ttl = DefaultDeliveryTTL
	}
	return &Deduper{client: client, ttl: ttl}
}

// FirstDelivery records key and reports whether it had not been seen before.
func (d *Deduper) FirstDelivery(ctx context.Context, key string) (bool, error) {
	ok, err := d.client.SetNX(ctx, fmt.Sprintf(deliveryKeyFormat, key), time.Now().UTC().Unix(), d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("record webhook delivery: %w", err)
	}
	return ok, nil
}

// Forget drops key so a failed delivery can be processed again on retry.
func (d *Deduper) Forget(ctx context.Context, key string) error {
	return d.client.Del(ctx, fmt.Sprintf(deliveryKeyFormat, key)).Err()
}
