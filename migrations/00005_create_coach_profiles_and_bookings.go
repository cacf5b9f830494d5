package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upCreateCoachProfilesAndBookings, downCreateCoachProfilesAndBookings)
}

func upCreateCoachProfilesAndBookings(ctx context.Context, tx *sql.Tx) error {
	query := `
		CREATE TABLE IF NOT EXISTS coach_profiles (
			user_id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			headline TEXT NOT NULL DEFAULT '',
			bio TEXT NOT NULL DEFAULT '',
			avatar_url TEXT NOT NULL DEFAULT '',
			hourly_rate NUMERIC(10, 2),
			license_number TEXT NOT NULL DEFAULT '',
			markets TEXT NOT NULL DEFAULT ''
		);
		CREATE TABLE cal_bookings (
			uid TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			external_event_type_id BIGINT NOT NULL DEFAULT 0,
			title TEXT NOT NULL DEFAULT '',
			start_time TIMESTAMP WITH TIME ZONE NOT NULL,
			end_time TIMESTAMP WITH TIME ZONE NOT NULL,
			status TEXT NOT NULL,
			attendee_email TEXT NOT NULL DEFAULT '',
			attendee_name TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
		);
		CREATE INDEX cal_bookings_user_start ON cal_bookings (user_id, start_time);
	`
	_, err := tx.ExecContext(ctx, query)
	return err
}

func downCreateCoachProfilesAndBookings(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS cal_bookings;`)
	return err
}
