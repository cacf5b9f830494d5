package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upCreateCalEventTypes, downCreateCalEventTypes)
}

func upCreateCalEventTypes(ctx context.Context, tx *sql.Tx) error {
	query := `
		CREATE TABLE cal_event_types (
			id UUID PRIMARY KEY,
			integration_id UUID NOT NULL REFERENCES calendar_integrations(id) ON DELETE CASCADE,
			external_id BIGINT NOT NULL,
			title TEXT NOT NULL,
			slug TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			length_in_minutes INT NOT NULL,
			is_free BOOLEAN NOT NULL DEFAULT FALSE,
			price_cents BIGINT NOT NULL DEFAULT 0,
			currency TEXT NOT NULL DEFAULT 'usd',
			scheduling_type TEXT NOT NULL DEFAULT 'one_to_one',
			is_default BOOLEAN NOT NULL DEFAULT FALSE,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			position INT NOT NULL DEFAULT 0,
			before_event_buffer INT NOT NULL DEFAULT 0,
			after_event_buffer INT NOT NULL DEFAULT 0,
			min_participants INT NOT NULL DEFAULT 1,
			max_participants INT NOT NULL DEFAULT 1,
			discount_percentage INT NOT NULL DEFAULT 0,
			locations JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
			UNIQUE (integration_id, external_id)
		);
		CREATE INDEX cal_event_types_defaults
			ON cal_event_types (integration_id) WHERE is_default AND is_active;
	`
	_, err := tx.ExecContext(ctx, query)
	return err
}

func downCreateCalEventTypes(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS cal_event_types;`)
	return err
}
