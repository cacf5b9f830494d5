package store

import (
	"context"
	"fmt"

	"coachcal-sync/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// IntegrationRepository persists calendar integrations and their tokens.
type IntegrationRepository interface {
	GetActive(ctx context.Context, userID string, provider models.Provider) (*models.CalendarIntegration, error)
	GetByExternalUserID(ctx context.Context, provider models.Provider, externalUserID string) (*models.CalendarIntegration, error)
	Upsert(ctx context.Context, integration *models.CalendarIntegration) error
	UpdateTokens(ctx context.Context, integrationID string, tokens models.TokenSet) error
	Deactivate(ctx context.Context, integrationID string) error
}

const integrationColumns = `id, user_id, provider, external_user_id, access_token, refresh_token,
	access_token_expires_at, external_username, timezone, is_active, created_at, updated_at`

const (
	queryGetActiveIntegration = `SELECT ` + integrationColumns + ` FROM calendar_integrations
		WHERE user_id = $1 AND provider = $2 AND is_active
		LIMIT 1`

	queryGetIntegrationByExternalUser = `SELECT ` + integrationColumns + ` FROM calendar_integrations
		WHERE provider = $1 AND external_user_id = $2 AND is_active
		LIMIT 1`

	queryUpsertIntegration = `
		INSERT INTO calendar_integrations (id, user_id, provider, external_user_id, access_token, refresh_token,
			access_token_expires_at, external_username, timezone, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE)
		ON CONFLICT (user_id, provider) WHERE is_active DO UPDATE SET
			external_user_id = EXCLUDED.external_user_id,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			access_token_expires_at = EXCLUDED.access_token_expires_at,
			external_username = EXCLUDED.external_username,
			timezone = EXCLUDED.timezone,
			updated_at = now()
		RETURNING id, created_at, updated_at`

	queryUpdateTokens = `
		UPDATE calendar_integrations
		SET access_token = $2, refresh_token = $3, access_token_expires_at = $4, updated_at = now()
		WHERE id = $1`

	queryDeactivateIntegration = `
		UPDATE calendar_integrations SET is_active = FALSE, updated_at = now() WHERE id = $1`
)

type PostgresIntegrationRepository struct {
	db *sqlx.DB
}

func NewPostgresIntegrationRepository(db *sqlx.DB) *PostgresIntegrationRepository {
	return &PostgresIntegrationRepository{db: db}
}

// GetActive returns nil, nil when the user has no active integration.
func (r *PostgresIntegrationRepository) GetActive(ctx context.Context, userID string, provider models.Provider) (*models.CalendarIntegration, error) {
	var integration models.CalendarIntegration
	if err := r.db.GetContext(ctx, &integration, queryGetActiveIntegration, userID, provider); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get integration: %w", err)
	}
	return &integration, nil
}

func (r *PostgresIntegrationRepository) GetByExternalUserID(ctx context.Context, provider models.Provider, externalUserID string) (*models.CalendarIntegration, error) {
	var integration models.CalendarIntegration
	if err := r.db.GetContext(ctx, &integration, queryGetIntegrationByExternalUser, provider, externalUserID); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get integration by external user: %w", err)
	}
	return &integration, nil
}

// Upsert inserts the integration or replaces the credentials of the existing
// active one for the same user and provider.
func (r *PostgresIntegrationRepository) Upsert(ctx context.Context, integration *models.CalendarIntegration) error {
	if integration.ID == "" {
		integration.ID = uuid.New().String()
	}
	row := r.db.QueryRowxContext(ctx, queryUpsertIntegration,
		integration.ID,
		integration.UserID,
		integration.Provider,
		integration.ExternalUserID,
		integration.AccessToken,
		integration.RefreshToken,
		integration.AccessTokenExpiresAt,
		integration.ExternalUsername,
		integration.Timezone,
	)
	if err := row.Scan(&integration.ID, &integration.CreatedAt, &integration.UpdatedAt); err != nil {
		return fmt.Errorf("upsert integration: %w", err)
	}
	integration.IsActive = true
	return nil
}

func (r *PostgresIntegrationRepository) UpdateTokens(ctx context.Context, integrationID string, tokens models.TokenSet) error {
	res, err := r.db.ExecContext(ctx, queryUpdateTokens, integrationID, tokens.AccessToken, tokens.RefreshToken, tokens.ExpiresAt)
	if err != nil {
		return fmt.Errorf("update tokens: %w", err)
	}
	return expectRow(res, "integration", integrationID)
}

func (r *PostgresIntegrationRepository) Deactivate(ctx context.Context, integrationID string) error {
	if _, err := r.db.ExecContext(ctx, queryDeactivateIntegration, integrationID); err != nil {
		return fmt.Errorf("deactivate integration: %w", err)
	}
	return nil
}
