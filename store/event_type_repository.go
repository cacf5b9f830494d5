package store

import (
	"context"
	"fmt"

	"coachcal-sync/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// EventTypeRepository persists the local mirror of provider event types.
type EventTypeRepository interface {
	ListByIntegration(ctx context.Context, integrationID string) ([]models.CalEventType, error)
	CountActiveDefaults(ctx context.Context, integrationID string) (int, error)
	GetByID(ctx context.Context, integrationID, id string) (*models.CalEventType, error)
	Insert(ctx context.Context, eventType *models.CalEventType) error
	Update(ctx context.Context, eventType *models.CalEventType) error
	UpsertFromProvider(ctx context.Context, eventType *models.CalEventType) error
	Deactivate(ctx context.Context, id string) error
}

const eventTypeColumns = `id, integration_id, external_id, title, slug, description, length_in_minutes,
	is_free, price_cents, currency, scheduling_type, is_default, is_active, position,
	before_event_buffer, after_event_buffer, min_participants, max_participants,
	discount_percentage, locations, created_at, updated_at`

const (
	queryListEventTypes = `SELECT ` + eventTypeColumns + ` FROM cal_event_types
		WHERE integration_id = $1
		ORDER BY position ASC, created_at ASC`

	queryCountActiveDefaults = `SELECT COUNT(*) FROM cal_event_types
		WHERE integration_id = $1 AND is_default AND is_active`

	queryGetEventType = `SELECT ` + eventTypeColumns + ` FROM cal_event_types
		WHERE integration_id = $1 AND id = $2`

	queryInsertEventType = `
		INSERT INTO cal_event_types (id, integration_id, external_id, title, slug, description,
			length_in_minutes, is_free, price_cents, currency, scheduling_type, is_default, is_active,
			position, before_event_buffer, after_event_buffer, min_participants, max_participants,
			discount_percentage, locations)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		RETURNING created_at, updated_at`

	queryUpdateEventType = `
		UPDATE cal_event_types SET
			title = $2, slug = $3, description = $4, length_in_minutes = $5, is_free = $6,
			price_cents = $7, scheduling_type = $8, is_active = $9, position = $10,
			before_event_buffer = $11, after_event_buffer = $12, min_participants = $13,
			max_participants = $14, discount_percentage = $15, locations = $16, updated_at = now()
		WHERE id = $1`

	// Provider-owned columns only: price, defaults and marketplace fields stay local.
	queryUpsertEventTypeFromProvider = `
		INSERT INTO cal_event_types (id, integration_id, external_id, title, slug, description,
			length_in_minutes, is_free, price_cents, currency, scheduling_type, is_default, is_active,
			position, before_event_buffer, after_event_buffer, min_participants, max_participants,
			discount_percentage, locations)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (integration_id, external_id) DO UPDATE SET
			title = EXCLUDED.title,
			slug = EXCLUDED.slug,
			description = EXCLUDED.description,
			length_in_minutes = EXCLUDED.length_in_minutes,
			is_active = EXCLUDED.is_active,
			before_event_buffer = EXCLUDED.before_event_buffer,
			after_event_buffer = EXCLUDED.after_event_buffer,
			locations = EXCLUDED.locations,
			updated_at = now()
		RETURNING id, is_default, price_cents, is_free, created_at, updated_at`

	queryDeactivateEventType = `
		UPDATE cal_event_types SET is_active = FALSE, updated_at = now() WHERE id = $1`
)

type PostgresEventTypeRepository struct {
	db *sqlx.DB
}

func NewPostgresEventTypeRepository(db *sqlx.DB) *PostgresEventTypeRepository {
	return &PostgresEventTypeRepository{db: db}
}

func (r *PostgresEventTypeRepository) ListByIntegration(ctx context.Context, integrationID string) ([]models.CalEventType, error) {
	eventTypes := []models.CalEventType{}
	if err := r.db.SelectContext(ctx, &eventTypes, queryListEventTypes, integrationID); err != nil {
		return nil, fmt.Errorf("list event types: %w", err)
	}
	return eventTypes, nil
}

func (r *PostgresEventTypeRepository) CountActiveDefaults(ctx context.Context, integrationID string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, queryCountActiveDefaults, integrationID); err != nil {
		return 0, fmt.Errorf("count default event types: %w", err)
	}
	return count, nil
}

// GetByID returns nil, nil when the event type does not belong to the integration.
func (r *PostgresEventTypeRepository) GetByID(ctx context.Context, integrationID, id string) (*models.CalEventType, error) {
	var eventType models.CalEventType
	if err := r.db.GetContext(ctx, &eventType, queryGetEventType, integrationID, id); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get event type: %w", err)
	}
	return &eventType, nil
}

func (r *PostgresEventTypeRepository) Insert(ctx context.Context, et *models.CalEventType) error {
	if et.ID == "" {
		et.ID = uuid.New().String()
	}
	row := r.db.QueryRowxContext(ctx, queryInsertEventType, insertArgs(et)...)
	if err := row.Scan(&et.CreatedAt, &et.UpdatedAt); err != nil {
		return fmt.Errorf("insert event type: %w", err)
	}
	return nil
}

func (r *PostgresEventTypeRepository) Update(ctx context.Context, et *models.CalEventType) error {
	res, err := r.db.ExecContext(ctx, queryUpdateEventType,
		et.ID, et.Title, et.Slug, et.Description, et.LengthInMinutes, et.IsFree,
		et.PriceCents, et.SchedulingType, et.IsActive, et.Position,
		et.BeforeEventBuffer, et.AfterEventBuffer, et.MinParticipants,
		et.MaxParticipants, et.DiscountPercentage, et.Locations,
	)
	if err != nil {
		return fmt.Errorf("update event type: %w", err)
	}
	return expectRow(res, "event type", et.ID)
}

// UpsertFromProvider mirrors a provider event type. On conflict the local
// marketplace fields are kept and written back into et.
func (r *PostgresEventTypeRepository) UpsertFromProvider(ctx context.Context, et *models.CalEventType) error {
	if et.ID == "" {
		et.ID = uuid.New().String()
	}
	row := r.db.QueryRowxContext(ctx, queryUpsertEventTypeFromProvider, insertArgs(et)...)
	if err := row.Scan(&et.ID, &et.IsDefault, &et.PriceCents, &et.IsFree, &et.CreatedAt, &et.UpdatedAt); err != nil {
		return fmt.Errorf("upsert event type: %w", err)
	}
	return nil
}

func (r *PostgresEventTypeRepository) Deactivate(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, queryDeactivateEventType, id)
	if err != nil {
		return fmt.Errorf("deactivate event type: %w", err)
	}
	return expectRow(res, "event type", id)
}

func insertArgs(et *models.CalEventType) []any {
	currency := et.Currency
	if currency == "" {
		currency = "usd"
	}
	schedulingType := et.SchedulingType
	if schedulingType == "" {
		schedulingType = models.SchedulingOneToOne
	}
	return []any{
		et.ID, et.IntegrationID, et.ExternalID, et.Title, et.Slug, et.Description,
		et.LengthInMinutes, et.IsFree, et.PriceCents, currency, schedulingType, et.IsDefault, et.IsActive,
		et.Position, et.BeforeEventBuffer, et.AfterEventBuffer, et.MinParticipants, et.MaxParticipants,
		et.DiscountPercentage, et.Locations,
	}
}
