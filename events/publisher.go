// Package events publishes booking notifications to NATS for the
// notification workers.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const subjectPrefix = "calendar.booking."

// BookingEvent is the notification sent for every accepted booking webhook.
type BookingEvent struct {
	EventType  string    `json:"event_type"`
	CoachID    string    `json:"coach_id"`
	BookingUID string    `json:"booking_uid"`
	Title      string    `json:"title"`
	Status     string    `json:"status"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	Attendee   string    `json:"attendee_email,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher announces booking changes to other services.
type Publisher interface {
	PublishBooking(evt BookingEvent) error
}

// conn is the part of *nats.Conn the publisher uses.
type conn interface {
	Publish(subject string, data []byte) error
}

// NatsPublisher publishes JSON booking events on calendar.booking.* subjects.
type NatsPublisher struct {
	conn   conn
	logger *zap.Logger
}

// NewNatsPublisher connects to natsURL.
func NewNatsPublisher(natsURL string, logger *zap.Logger) (*NatsPublisher, *nats.Conn, error) {
	nc, err := nats.Connect(natsURL, nats.Name("coachcal-sync"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}
	return newPublisher(nc, logger), nc, nil
}

func newPublisher(c conn, logger *zap.Logger) *NatsPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NatsPublisher{conn: c, logger: logger}
}

// Subject maps a webhook trigger such as BOOKING_CREATED to calendar.booking.created.
func Subject(trigger string) string {
	return subjectPrefix + strings.ToLower(strings.TrimPrefix(trigger, "BOOKING_"))
}

func (p *NatsPublisher) PublishBooking(evt BookingEvent) error {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode booking event: %w", err)
	}

	subject := Subject(evt.EventType)
	if err := p.conn.Publish(subject, payload); err != nil {
		p.logger.Error("nats_publish_failed", zap.String("subject", subject), zap.Error(err))
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.logger.Debug("booking event published",
		zap.String("subject", subject),
		zap.String("coach_id", evt.CoachID),
		zap.String("booking_uid", evt.BookingUID))
	return nil
}

// NopPublisher drops every event. Used when NATS is not configured.
type NopPublisher struct{}

func (NopPublisher) PublishBooking(BookingEvent) error { return nil }
