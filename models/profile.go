package models

import (
	"database/sql"
	"strings"
	"time"
)

// CoachProfile is the marketplace profile fields the calendar layer reads.
type CoachProfile struct {
	UserID        string          `db:"user_id" json:"user_id"`
	DisplayName   string          `db:"display_name" json:"display_name"`
	Headline      string          `db:"headline" json:"headline"`
	Bio           string          `db:"bio" json:"bio"`
	AvatarURL     string          `db:"avatar_url" json:"avatar_url"`
	HourlyRate    sql.NullFloat64 `db:"hourly_rate" json:"-"`
	LicenseNumber string          `db:"license_number" json:"license_number"`
	Markets       string          `db:"markets" json:"markets"`
}

// Rate returns the hourly rate in dollars, or 0 when unset.
func (p *CoachProfile) Rate() float64 {
	if p == nil || !p.HourlyRate.Valid || p.HourlyRate.Float64 < 0 {
		return 0
	}
	return p.HourlyRate.Float64
}

// CompletionItem is one weighted requirement of a complete coach profile.
type CompletionItem struct {
	Key    string `json:"key"`
	Weight int    `json:"weight"`
	Done   bool   `json:"done"`
}

// Completion is the weighted completeness of a coach profile.
type Completion struct {
	Percent int              `json:"percent"`
	Items   []CompletionItem `json:"items"`
}

// ProfileCompletion scores a profile. bookable reports whether the default
// event types exist, connected whether a calendar integration is active.
// Weights sum to 100 so Percent is exactly the sum of completed weights.
func ProfileCompletion(p *CoachProfile, connected, bookable bool) Completion {
	if p == nil {
		p = &CoachProfile{}
	}
	items := []CompletionItem{
		{Key: "display_name", Weight: 10, Done: filled(p.DisplayName)},
		{Key: "headline", Weight: 10, Done: filled(p.Headline)},
		{Key: "bio", Weight: 15, Done: filled(p.Bio)},
		{Key: "avatar", Weight: 10, Done: filled(p.AvatarURL)},
		{Key: "license_number", Weight: 10, Done: filled(p.LicenseNumber)},
		{Key: "markets", Weight: 5, Done: filled(p.Markets)},
		{Key: "hourly_rate", Weight: 10, Done: p.Rate() > 0},
		{Key: "calendar_connected", Weight: 15, Done: connected},
		{Key: "bookable", Weight: 15, Done: bookable},
	}

	percent := 0
	for _, item := range items {
		if item.Done {
			percent += item.Weight
		}
	}
	return Completion{Percent: percent, Items: items}
}

func filled(s string) bool {
	return strings.TrimSpace(s) != ""
}

// Booking is the local mirror of a provider booking received by webhook.
// ProviderUpdatedAt orders deliveries: an older state never replaces a newer one.
type Booking struct {
	UID                 string    `db:"uid" json:"uid"`
	UserID              string    `db:"user_id" json:"user_id"`
	ExternalEventTypeID int64     `db:"external_event_type_id" json:"external_event_type_id"`
	Title               string    `db:"title" json:"title"`
	StartTime           time.Time `db:"start_time" json:"start_time"`
	EndTime             time.Time `db:"end_time" json:"end_time"`
	Status              string    `db:"status" json:"status"`
	AttendeeEmail       string    `db:"attendee_email" json:"attendee_email"`
	AttendeeName        string    `db:"attendee_name" json:"attendee_name"`
	ProviderUpdatedAt   time.Time `db:"provider_updated_at" json:"provider_updated_at"`
	UpdatedAt           time.Time `db:"updated_at" json:"updated_at"`
}

// BusyInterval is a normalized busy block from a connected calendar.
type BusyInterval struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Source string    `json:"source"`
}
