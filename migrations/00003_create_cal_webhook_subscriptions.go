package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upCreateCalWebhookSubscriptions, downCreateCalWebhookSubscriptions)
}

// No unique constraint on subscriber_url: the default webhook is kept single by reconciliation.
func upCreateCalWebhookSubscriptions(ctx context.Context, tx *sql.Tx) error {
	query := `
		CREATE TABLE cal_webhook_subscriptions (
			id UUID PRIMARY KEY,
			user_id TEXT NOT NULL,
			integration_id UUID NOT NULL REFERENCES calendar_integrations(id) ON DELETE CASCADE,
			external_id TEXT NOT NULL,
			subscriber_url TEXT NOT NULL,
			triggers JSONB NOT NULL DEFAULT '[]',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
			UNIQUE (integration_id, external_id)
		);
	`
	_, err := tx.ExecContext(ctx, query)
	return err
}

func downCreateCalWebhookSubscriptions(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS cal_webhook_subscriptions;`)
	return err
}
