package store

import (
	"context"
	"fmt"

	"coachcal-sync/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ScheduleRepository persists coaching availability schedules.
type ScheduleRepository interface {
	GetDefault(ctx context.Context, userID string) (*models.AvailabilitySchedule, error)
	Save(ctx context.Context, schedule *models.AvailabilitySchedule) error
}

const scheduleColumns = `id, user_id, external_id, name, timezone, is_default, is_active, weekly,
	min_session_minutes, default_session_minutes, max_session_minutes, buffer_before, buffer_after,
	created_at, updated_at`

const (
	queryGetDefaultSchedule = `SELECT ` + scheduleColumns + ` FROM coaching_availability_schedules
		WHERE user_id = $1 AND is_active
		ORDER BY is_default DESC, created_at ASC
		LIMIT 1`

	queryInsertSchedule = `
		INSERT INTO coaching_availability_schedules (id, user_id, external_id, name, timezone, is_default,
			is_active, weekly, min_session_minutes, default_session_minutes, max_session_minutes,
			buffer_before, buffer_after)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at`

	queryUpdateSchedule = `
		UPDATE coaching_availability_schedules SET
			external_id = $2, name = $3, timezone = $4, is_default = $5, weekly = $6,
			min_session_minutes = $7, default_session_minutes = $8, max_session_minutes = $9,
			buffer_before = $10, buffer_after = $11, updated_at = now()
		WHERE id = $1
		RETURNING created_at, updated_at`
)

type PostgresScheduleRepository struct {
	db *sqlx.DB
}

func NewPostgresScheduleRepository(db *sqlx.DB) *PostgresScheduleRepository {
	return &PostgresScheduleRepository{db: db}
}

// GetDefault returns the user's default schedule, falling back to the oldest
// active one. Returns nil, nil when the user has none.
func (r *PostgresScheduleRepository) GetDefault(ctx context.Context, userID string) (*models.AvailabilitySchedule, error) {
	var schedule models.AvailabilitySchedule
	if err := r.db.GetContext(ctx, &schedule, queryGetDefaultSchedule, userID); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return &schedule, nil
}

// Save inserts the schedule when it has no ID and updates it otherwise.
func (r *PostgresScheduleRepository) Save(ctx context.Context, s *models.AvailabilitySchedule) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
		row := r.db.QueryRowxContext(ctx, queryInsertSchedule,
			s.ID, s.UserID, s.ExternalID, s.Name, s.Timezone, s.IsDefault, s.Weekly,
			s.MinSessionMinutes, s.DefaultSessionMinutes, s.MaxSessionMinutes, s.BufferBefore, s.BufferAfter,
		)
		if err := row.Scan(&s.CreatedAt, &s.UpdatedAt); err != nil {
			return fmt.Errorf("insert schedule: %w", err)
		}
		s.IsActive = true
		return nil
	}

	row := r.db.QueryRowxContext(ctx, queryUpdateSchedule,
		s.ID, s.ExternalID, s.Name, s.Timezone, s.IsDefault, s.Weekly,
		s.MinSessionMinutes, s.DefaultSessionMinutes, s.MaxSessionMinutes, s.BufferBefore, s.BufferAfter,
	)
	if err := row.Scan(&s.CreatedAt, &s.UpdatedAt); err != nil {
		if isNoRows(err) {
			return fmt.Errorf("schedule %s: %w", s.ID, models.ErrNotFound)
		}
		return fmt.Errorf("update schedule: %w", err)
	}
	return nil
}
