package store

import (
	"context"
	"fmt"
	"time"

	"coachcal-sync/models"

	"github.com/jmoiron/sqlx"
)

// BookingRepository persists bookings received from provider webhooks.
type BookingRepository interface {
	Upsert(ctx context.Context, booking *models.Booking) error
	ListUpcoming(ctx context.Context, userID string, from time.Time, limit int) ([]models.Booking, error)
}

const (
	queryUpsertBooking = `
		INSERT INTO cal_bookings (uid, user_id, external_event_type_id, title, start_time, end_time,
			status, attendee_email, attendee_name, provider_updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (uid) DO UPDATE SET
			external_event_type_id = EXCLUDED.external_event_type_id,
			title = EXCLUDED.title,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			status = EXCLUDED.status,
			attendee_email = EXCLUDED.attendee_email,
			attendee_name = EXCLUDED.attendee_name,
			provider_updated_at = EXCLUDED.provider_updated_at,
			updated_at = now()
		WHERE cal_bookings.provider_updated_at <= EXCLUDED.provider_updated_at
		RETURNING updated_at`

	queryListUpcomingBookings = `SELECT uid, user_id, external_event_type_id, title, start_time, end_time,
		status, attendee_email, attendee_name, provider_updated_at, updated_at
		FROM cal_bookings
		WHERE user_id = $1 AND end_time >= $2
		ORDER BY start_time ASC
		LIMIT $3`
)

type PostgresBookingRepository struct {
	db *sqlx.DB
}

func NewPostgresBookingRepository(db *sqlx.DB) *PostgresBookingRepository {
	return &PostgresBookingRepository{db: db}
}

// Upsert writes the latest known state of a booking. Rescheduling and
// cancellation arrive as new deliveries for the same uid; a delivery older
// than the stored state returns models.ErrStaleBooking and changes nothing.
func (r *PostgresBookingRepository) Upsert(ctx context.Context, b *models.Booking) error {
	row := r.db.QueryRowxContext(ctx, queryUpsertBooking,
		b.UID, b.UserID, b.ExternalEventTypeID, b.Title, b.StartTime, b.EndTime,
		b.Status, b.AttendeeEmail, b.AttendeeName, b.ProviderUpdatedAt,
	)
	if err := row.Scan(&b.UpdatedAt); err != nil {
		if isNoRows(err) {
			return fmt.Errorf("booking %s: %w", b.UID, models.ErrStaleBooking)
		}
		return fmt.Errorf("upsert booking: %w", err)
	}
	return nil
}

func (r *PostgresBookingRepository) ListUpcoming(ctx context.Context, userID string, from time.Time, limit int) ([]models.Booking, error) {
	if limit <= 0 {
		limit = 50
	}
	bookings := []models.Booking{}
	if err := r.db.SelectContext(ctx, &bookings, queryListUpcomingBookings, userID, from, limit); err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	return bookings, nil
}
