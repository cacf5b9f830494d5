package security

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultLeaseTTL  = 15 * time.Second
	leasePollEvery   = 100 * time.Millisecond
	leaseWaitTimeout = 5 * time.Second
)

// releaseLease deletes the key only while it still holds the caller's owner value.
var releaseLease = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type refreshLease struct {
	client *redis.Client
	ttl    time.Duration
}

func newRefreshLease(client *redis.Client, ttl time.Duration) *refreshLease {
	if ttl <= 0 {
		ttl = defaultLeaseTTL
	}
	return &refreshLease{client: client, ttl: ttl}
}

func leaseKey(integrationID string) string {
	return fmt.Sprintf("token_refresh_lease:%s", integrationID)
}

// acquire takes the lease if nobody holds it. release is a no-op when not
// acquired, and never removes a lease that expired and was taken by someone else.
func (l *refreshLease) acquire(ctx context.Context, integrationID string) (bool, func(), error) {
	key := leaseKey(integrationID)
	owner := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, owner, l.ttl).Result()
	if err != nil {
		return false, func() {}, fmt.Errorf("acquire refresh lease: %w", err)
	}
	if !ok {
		return false, func() {}, nil
	}
	return true, func() {
		releaseLease.Run(context.Background(), l.client, []string{key}, owner)
	}, nil
}

// wait blocks until the lease is released or leaseWaitTimeout passes.
func (l *refreshLease) wait(ctx context.Context, integrationID string) error {
	key := leaseKey(integrationID)
	deadline := time.Now().Add(leaseWaitTimeout)
	ticker := time.NewTicker(leasePollEvery)
	defer ticker.Stop()

	for {
		n, err := l.client.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("refresh lease %s still held", integrationID)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
