package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upCreateCalendarIntegrations, downCreateCalendarIntegrations)
}

func upCreateCalendarIntegrations(ctx context.Context, tx *sql.Tx) error {
	query := `
		CREATE TABLE calendar_integrations (
			id UUID PRIMARY KEY,
			user_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			external_user_id TEXT NOT NULL DEFAULT '',
			access_token TEXT NOT NULL DEFAULT '',
			refresh_token TEXT NOT NULL DEFAULT '',
			access_token_expires_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT to_timestamp(0),
			external_username TEXT NOT NULL DEFAULT '',
			timezone TEXT NOT NULL DEFAULT '',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
		);
		CREATE UNIQUE INDEX calendar_integrations_active_user_provider
			ON calendar_integrations (user_id, provider) WHERE is_active;
		CREATE INDEX calendar_integrations_external_user
			ON calendar_integrations (provider, external_user_id);
	`
	_, err := tx.ExecContext(ctx, query)
	return err
}

func downCreateCalendarIntegrations(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS calendar_integrations;`)
	return err
}
