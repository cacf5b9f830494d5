// Package streams holds the Redis-backed booking feed and webhook delivery dedupe.
package streams

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	streamKeyFormat   = "user:%s:bookings"
	defaultBlock      = 5 * time.Second
	defaultBatchCount = 50
	defaultMaxLen     = 1000
	emptyStreamID     = "0-0"
)

// BookingEvent is one entry of a coach's booking feed.
type BookingEvent struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Trigger    string    `json:"trigger"`
	BookingUID string    `json:"booking_uid"`
	Title      string    `json:"title"`
	Status     string    `json:"status"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	ReceivedAt time.Time `json:"received_at"`
}

// Feed appends to and tails the per-coach booking stream.
type Feed struct {
	client *redis.Client
	block  time.Duration
}

// NewFeed tails with a 5 second block by default.
func NewFeed(client *redis.Client) *Feed {
	return &Feed{client: client, block: defaultBlock}
}

// WithBlock overrides how long Tail waits for new entries.
func (f *Feed) WithBlock(block time.Duration) *Feed {
	f.block = block
	return f
}

// StreamKey returns the booking stream key for a user.
func StreamKey(userID string) string {
	return fmt.Sprintf(streamKeyFormat, userID)
}

// Append writes evt to the user's stream, capped to the most recent entries.
func (f *Feed) Append(ctx context.Context, evt BookingEvent) (string, error) {
	if f == nil || f.client == nil {
		return "", errors.New("booking feed not configured")
	}
	if strings.TrimSpace(evt.UserID) == "" {
		return "", errors.New("booking event without user")
	}
	if evt.ReceivedAt.IsZero() {
		evt.ReceivedAt = time.Now().UTC()
	}

	return f.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey(evt.UserID),
		MaxLen: defaultMaxLen,
		Approx: true,
		Values: map[string]any{
			"trigger":     evt.Trigger,
			"booking_uid": evt.BookingUID,
			"title":       evt.Title,
			"status":      evt.Status,
			"start_time":  formatTime(evt.StartTime),
			"end_time":    formatTime(evt.EndTime),
			"received_at": formatTime(evt.ReceivedAt),
		},
	}).Result()
}

// LatestID returns the ID of the newest entry in the user's stream, or
// "0-0" when the stream is empty. Tailing from it yields everything appended
// afterwards.
func (f *Feed) LatestID(ctx context.Context, userID string) (string, error) {
	if f == nil || f.client == nil {
		return "", errors.New("booking feed not configured")
	}
	msgs, err := f.client.XRevRangeN(ctx, StreamKey(userID), "+", "-", 1).Result()
	if err != nil {
		return "", fmt.Errorf("latest booking id: %w", err)
	}
	if len(msgs) == 0 {
		return emptyStreamID, nil
	}
	return msgs[0].ID, nil
}

// Tail blocks for new events after afterID and returns them with the ID to
// pass to the next call. An empty afterID starts at the current end of the
// stream; the returned ID is concrete, so entries appended between two calls
// are never skipped.
func (f *Feed) Tail(ctx context.Context, userID, afterID string) ([]BookingEvent, string, error) {
	if f == nil || f.client == nil {
		return nil, afterID, errors.New("booking feed not configured")
	}
	if strings.TrimSpace(afterID) == "" || afterID == "$" {
		latest, err := f.LatestID(ctx, userID)
		if err != nil {
			return nil, afterID, err
		}
		afterID = latest
	}

	res, err := f.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{StreamKey(userID), afterID},
		Count:   defaultBatchCount,
		Block:   f.block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, afterID, nil
		}
		return nil, afterID, err
	}

	events := make([]BookingEvent, 0)
	nextID := afterID
	for _, stream := range res {
		for _, msg := range stream.Messages {
			events = append(events, BookingEvent{
				ID:         msg.ID,
				UserID:     userID,
				Trigger:    stringVal(msg.Values["trigger"]),
				BookingUID: stringVal(msg.Values["booking_uid"]),
				Title:      stringVal(msg.Values["title"]),
				Status:     stringVal(msg.Values["status"]),
				StartTime:  parseTime(msg.Values["start_time"]),
				EndTime:    parseTime(msg.Values["end_time"]),
				ReceivedAt: parseTime(msg.Values["received_at"]),
			})
			nextID = msg.ID
		}
	}
	return events, nextID, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v any) time.Time {
	t, err := time.Parse(time.RFC3339Nano, stringVal(v))
	if err != nil {
		return time.Time{}
	}
	return t
}

func stringVal(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	default:
		return ""
	}
}
