package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// SchedulingType is the booking mode of an event type.
type SchedulingType string

const (
	SchedulingOneToOne    SchedulingType = "one_to_one"
	SchedulingOfficeHours SchedulingType = "office_hours"
	SchedulingGroup       SchedulingType = "group"
)

// Valid reports whether s is a known scheduling mode.
func (s SchedulingType) Valid() bool {
	switch s {
	case SchedulingOneToOne, SchedulingOfficeHours, SchedulingGroup:
		return true
	}
	return false
}

// CalEventType is the local mirror of a bookable provider event type plus
// marketplace fields the provider does not know about (price, discount).
type CalEventType struct {
	ID                 string         `db:"id" json:"id"`
	IntegrationID      string         `db:"integration_id" json:"integration_id"`
	ExternalID         int64          `db:"external_id" json:"external_id"`
	Title              string         `db:"title" json:"title"`
	Slug               string         `db:"slug" json:"slug"`
	Description        string         `db:"description" json:"description"`
	LengthInMinutes    int            `db:"length_in_minutes" json:"length_in_minutes"`
	IsFree             bool           `db:"is_free" json:"is_free"`
	PriceCents         int64          `db:"price_cents" json:"price_cents"`
	Currency           string         `db:"currency" json:"currency"`
	SchedulingType     SchedulingType `db:"scheduling_type" json:"scheduling_type"`
	IsDefault          bool           `db:"is_default" json:"is_default"`
	IsActive           bool           `db:"is_active" json:"is_active"`
	Position           int            `db:"position" json:"position"`
	BeforeEventBuffer  int            `db:"before_event_buffer" json:"before_event_buffer"`
	AfterEventBuffer   int            `db:"after_event_buffer" json:"after_event_buffer"`
	MinParticipants    int            `db:"min_participants" json:"min_participants"`
	MaxParticipants    int            `db:"max_participants" json:"max_participants"`
	DiscountPercentage int            `db:"discount_percentage" json:"discount_percentage"`
	Locations          Locations      `db:"locations" json:"locations"`
	CreatedAt          time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at" json:"updated_at"`
}

// Location is where a session takes place.
type Location struct {
	Type    string `json:"type"`
	Address string `json:"address,omitempty"`
	Link    string `json:"link,omitempty"`
	Public  bool   `json:"public,omitempty"`
}

// Locations is stored as a JSON column.
type Locations []Location

func (l Locations) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (l *Locations) Scan(src any) error {
	return scanJSON(src, l)
}

// PriceForDuration pro-rates an hourly rate (in dollars) to cents for the given
// number of minutes. Fractions of a cent are rounded half up.
func PriceForDuration(hourlyRate float64, minutes int) int64 {
	if hourlyRate <= 0 || minutes <= 0 {
		return 0
	}
	cents := hourlyRate * 100 * float64(minutes) / 60
	return int64(cents + 0.5)
}

func scanJSON(src any, dst any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported json column type %T", src)
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}
