package streams

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// healthUser owns a scratch booking stream used only by the startup check.
const healthUser = "_healthcheck"

// Connect opens a Redis client for url and runs one append and tail through
// the booking feed, so a server without stream support fails at startup.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(url))
	if err != nil {
		return nil, fmt.Errorf("redis: invalid url: %w", err)
	}
	client := redis.NewClient(opts)

	if err := checkFeed(ctx, client); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

func checkFeed(ctx context.Context, client *redis.Client) error {
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping failed: %w", err)
	}

	feed := NewFeed(client).WithBlock(time.Second)
	key := StreamKey(healthUser)
	defer client.Del(context.Background(), key)

	from, err := feed.LatestID(ctx, healthUser)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	id, err := feed.Append(ctx, BookingEvent{UserID: healthUser, Trigger: "PING", BookingUID: "healthcheck"})
	if err != nil {
		return fmt.Errorf("redis: XADD %s failed: %w", key, err)
	}
	events, _, err := feed.Tail(ctx, healthUser, from)
	if err != nil {
		return fmt.Errorf("redis: XREAD %s failed: %w", key, err)
	}
	if len(events) == 0 || events[len(events)-1].ID != id {
		return fmt.Errorf("redis: booking stream did not return entry %s", id)
	}
	return nil
}
