package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upAddBookingProviderUpdatedAt, downAddBookingProviderUpdatedAt)
}

func upAddBookingProviderUpdatedAt(ctx context.Context, tx *sql.Tx) error {
	query := `
		ALTER TABLE cal_bookings
			ADD COLUMN IF NOT EXISTS provider_updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT 'epoch';
	`
	_, err := tx.ExecContext(ctx, query)
	return err
}

func downAddBookingProviderUpdatedAt(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `ALTER TABLE cal_bookings DROP COLUMN IF EXISTS provider_updated_at;`)
	return err
}
