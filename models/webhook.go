package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Booking webhook triggers sent by the provider.
const (
	TriggerBookingCreated     = "BOOKING_CREATED"
	TriggerBookingRescheduled = "BOOKING_RESCHEDULED"
	TriggerBookingCancelled   = "BOOKING_CANCELLED"
	TriggerBookingRequested   = "BOOKING_REQUESTED"
	TriggerMeetingEnded       = "MEETING_ENDED"
)

// DefaultWebhookTriggers is the trigger set of the default webhook subscription.
var DefaultWebhookTriggers = []string{
	TriggerBookingCreated,
	TriggerBookingRescheduled,
	TriggerBookingCancelled,
	TriggerBookingRequested,
	TriggerMeetingEnded,
}

// WebhookSubscription mirrors a provider webhook registered for a user.
type WebhookSubscription struct {
	ID            string    `db:"id" json:"id"`
	UserID        string    `db:"user_id" json:"user_id"`
	IntegrationID string    `db:"integration_id" json:"integration_id"`
	ExternalID    string    `db:"external_id" json:"external_id"`
	SubscriberURL string    `db:"subscriber_url" json:"subscriber_url"`
	Triggers      Triggers  `db:"triggers" json:"triggers"`
	IsActive      bool      `db:"is_active" json:"is_active"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Triggers is stored as a JSON column.
type Triggers []string

func (t Triggers) Value() (driver.Value, error) {
	if t == nil {
		return "[]", nil
	}
	data, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (t *Triggers) Scan(src any) error {
	return scanJSON(src, t)
}
