package store

import (
	"context"
	"fmt"

	"coachcal-sync/models"

	"github.com/jmoiron/sqlx"
)

// ProfileRepository reads coach profile fields. The profile itself is owned
// by the marketplace, so this layer never writes it.
type ProfileRepository interface {
	GetByUserID(ctx context.Context, userID string) (*models.CoachProfile, error)
}

const queryGetProfile = `SELECT user_id, display_name, headline, bio, avatar_url, hourly_rate,
	license_number, markets
	FROM coach_profiles WHERE user_id = $1`

type PostgresProfileRepository struct {
	db *sqlx.DB
}

func NewPostgresProfileRepository(db *sqlx.DB) *PostgresProfileRepository {
	return &PostgresProfileRepository{db: db}
}

func (r *PostgresProfileRepository) GetByUserID(ctx context.Context, userID string) (*models.CoachProfile, error) {
	var profile models.CoachProfile
	if err := r.db.GetContext(ctx, &profile, queryGetProfile, userID); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &profile, nil
}
