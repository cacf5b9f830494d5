package store

import (
	"context"
	"fmt"

	"coachcal-sync/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// WebhookRepository persists the local mirror of provider webhook subscriptions.
type WebhookRepository interface {
	FindActiveBySubscriberURL(ctx context.Context, integrationID, subscriberURL string) (*models.WebhookSubscription, error)
	ListByIntegration(ctx context.Context, integrationID string) ([]models.WebhookSubscription, error)
	Upsert(ctx context.Context, webhook *models.WebhookSubscription) error
	DeactivateByIntegration(ctx context.Context, integrationID string) error
}

const webhookColumns = `id, user_id, integration_id, external_id, subscriber_url, triggers, is_active, created_at`

const (
	queryFindWebhookBySubscriber = `SELECT ` + webhookColumns + ` FROM cal_webhook_subscriptions
		WHERE integration_id = $1 AND subscriber_url = $2 AND is_active
		ORDER BY created_at ASC
		LIMIT 1`

	queryListWebhooks = `SELECT ` + webhookColumns + ` FROM cal_webhook_subscriptions
		WHERE integration_id = $1
		ORDER BY created_at ASC`

	queryUpsertWebhook = `
		INSERT INTO cal_webhook_subscriptions (id, user_id, integration_id, external_id, subscriber_url, triggers, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE)
		ON CONFLICT (integration_id, external_id) DO UPDATE SET
			subscriber_url = EXCLUDED.subscriber_url,
			triggers = EXCLUDED.triggers,
			is_active = TRUE
		RETURNING id, created_at`

	queryDeactivateWebhooks = `
		UPDATE cal_webhook_subscriptions SET is_active = FALSE WHERE integration_id = $1`
)

type PostgresWebhookRepository struct {
	db *sqlx.DB
}

func NewPostgresWebhookRepository(db *sqlx.DB) *PostgresWebhookRepository {
	return &PostgresWebhookRepository{db: db}
}

// FindActiveBySubscriberURL returns nil, nil when no active subscription targets the URL.
func (r *PostgresWebhookRepository) FindActiveBySubscriberURL(ctx context.Context, integrationID, subscriberURL string) (*models.WebhookSubscription, error) {
	var webhook models.WebhookSubscription
	if err := r.db.GetContext(ctx, &webhook, queryFindWebhookBySubscriber, integrationID, subscriberURL); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("find webhook: %w", err)
	}
	return &webhook, nil
}

func (r *PostgresWebhookRepository) ListByIntegration(ctx context.Context, integrationID string) ([]models.WebhookSubscription, error) {
	webhooks := []models.WebhookSubscription{}
	if err := r.db.SelectContext(ctx, &webhooks, queryListWebhooks, integrationID); err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	return webhooks, nil
}

func (r *PostgresWebhookRepository) Upsert(ctx context.Context, w *models.WebhookSubscription) error {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	row := r.db.QueryRowxContext(ctx, queryUpsertWebhook, w.ID, w.UserID, w.IntegrationID, w.ExternalID, w.SubscriberURL, w.Triggers)
	if err := row.Scan(&w.ID, &w.CreatedAt); err != nil {
		return fmt.Errorf("upsert webhook: %w", err)
	}
	w.IsActive = true
	return nil
}

func (r *PostgresWebhookRepository) DeactivateByIntegration(ctx context.Context, integrationID string) error {
	if _, err := r.db.ExecContext(ctx, queryDeactivateWebhooks, integrationID); err != nil {
		return fmt.Errorf("deactivate webhooks: %w", err)
	}
	return nil
}
