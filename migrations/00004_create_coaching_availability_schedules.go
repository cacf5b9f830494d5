package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upCreateAvailabilitySchedules, downCreateAvailabilitySchedules)
}

func upCreateAvailabilitySchedules(ctx context.Context, tx *sql.Tx) error {
	query := `
		CREATE TABLE coaching_availability_schedules (
			id UUID PRIMARY KEY,
			user_id TEXT NOT NULL,
			external_id BIGINT NOT NULL DEFAULT 0,
			name TEXT NOT NULL,
			timezone TEXT NOT NULL DEFAULT '',
			is_default BOOLEAN NOT NULL DEFAULT FALSE,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			weekly JSONB NOT NULL DEFAULT '{}',
			min_session_minutes INT NOT NULL DEFAULT 15,
			default_session_minutes INT NOT NULL DEFAULT 60,
			max_session_minutes INT NOT NULL DEFAULT 120,
			buffer_before INT NOT NULL DEFAULT 0,
			buffer_after INT NOT NULL DEFAULT 0,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
		);
		CREATE INDEX coaching_availability_schedules_user
			ON coaching_availability_schedules (user_id) WHERE is_active;
	`
	_, err := tx.ExecContext(ctx, query)
	return err
}

func downCreateAvailabilitySchedules(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS coaching_availability_schedules;`)
	return err
}
