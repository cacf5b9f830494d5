// Package reconcile keeps provider-side scheduling resources and their local
// mirrors converged, creating the defaults a coach needs to be bookable.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coachcal-sync/calcom"
	"coachcal-sync/models"
	"coachcal-sync/store"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Provider is the subset of the Cal.com gateway the reconciler drives.
type Provider interface {
	Me(ctx context.Context, userID string) (*calcom.Me, error)
	ListEventTypes(ctx context.Context, userID string) ([]calcom.EventType, error)
	CreateEventType(ctx context.Context, userID string, input calcom.EventTypeInput) (*calcom.EventType, error)
	UpdateEventType(ctx context.Context, userID string, id int64, input calcom.EventTypeInput) (*calcom.EventType, error)
	DeleteEventType(ctx context.Context, userID string, id int64) error
	ListSchedules(ctx context.Context, userID string) ([]calcom.Schedule, error)
	CreateSchedule(ctx context.Context, userID string, input calcom.ScheduleInput) (*calcom.Schedule, error)
	UpdateSchedule(ctx context.Context, userID string, id int64, input calcom.ScheduleInput) (*calcom.Schedule, error)
	ListCalendars(ctx context.Context, userID string) ([]calcom.ConnectedCalendar, error)
	BusyTimes(ctx context.Context, userID string, q calcom.BusyTimesQuery) ([]calcom.BusyTime, error)
	ListWebhooks(ctx context.Context, userID string) ([]calcom.Webhook, error)
	CreateWebhook(ctx context.Context, userID string, input calcom.WebhookInput) (*calcom.Webhook, error)
	DeleteWebhook(ctx context.Context, userID, id string) error
}

// ManagedUsers provisions provider accounts owned by this application.
type ManagedUsers interface {
	CreateManagedUser(ctx context.Context, input calcom.ManagedUserInput) (*calcom.ManagedUser, models.TokenSet, error)
}

// Config carries the collaborators of a Service. Provider and the
// repositories are required; the rest have defaults.
type Config struct {
	Provider     Provider
	ManagedUsers ManagedUsers
	Integrations store.IntegrationRepository
	EventTypes   store.EventTypeRepository
	Webhooks     store.WebhookRepository
	Schedules    store.ScheduleRepository
	Profiles     store.ProfileRepository

	// WebhookURL is where the provider delivers booking events.
	WebhookURL string
	// WebhookSecret signs deliveries; empty registers an unsigned webhook.
	WebhookSecret string
	// IntervalPolicy defaults to models.IntervalPolicyReject.
	IntervalPolicy models.IntervalPolicy

	// Logger defaults to a no-op logger and Now to time.Now.
	Logger *zap.Logger
	Now    func() time.Time
}

// Service reconciles a coach's bookable resources between Cal.com and the
// local mirror. It holds no per-user state and is safe for concurrent use.
type Service struct {
	provider     Provider
	managedUsers ManagedUsers
	integrations store.IntegrationRepository
	eventTypes   store.EventTypeRepository
	webhooks     store.WebhookRepository
	schedules    store.ScheduleRepository
	profiles     store.ProfileRepository

	webhookURL    string
	webhookSecret string
	policy        models.IntervalPolicy

	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time
}

// NewService builds a Service from cfg, filling in defaults.
func NewService(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.IntervalPolicy == "" {
		cfg.IntervalPolicy = models.IntervalPolicyReject
	}
	return &Service{
		provider:      cfg.Provider,
		managedUsers:  cfg.ManagedUsers,
		integrations:  cfg.Integrations,
		eventTypes:    cfg.EventTypes,
		webhooks:      cfg.Webhooks,
		schedules:     cfg.Schedules,
		profiles:      cfg.Profiles,
		webhookURL:    cfg.WebhookURL,
		webhookSecret: cfg.WebhookSecret,
		policy:        cfg.IntervalPolicy,
		validate:      validator.New(),
		logger:        cfg.Logger,
		now:           cfg.Now,
	}
}

// integration returns the user's active Cal.com integration or ErrNoIntegration.
func (s *Service) integration(ctx context.Context, userID string) (*models.CalendarIntegration, error) {
	integration, err := s.integrations.GetActive(ctx, userID, models.ProviderCalcom)
	if err != nil {
		return nil, err
	}
	if integration == nil {
		return nil, fmt.Errorf("user %s: %w", userID, models.ErrNoIntegration)
	}
	return integration, nil
}

// hourlyRate reads the coach's rate, treating a missing profile as no rate.
func (s *Service) hourlyRate(ctx context.Context, userID string) (float64, error) {
	profile, err := s.profiles.GetByUserID(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("load profile: %w", err)
	}
	return profile.Rate(), nil
}

// localWarning logs a local write that failed after the provider accepted the
// change and returns the warning shown to the caller.
func (s *Service) localWarning(userID, op string, err error) string {
	s.logger.Error("local_persist_failed",
		zap.String("user_id", userID),
		zap.String("op", op),
		zap.Error(err))
	return fmt.Sprintf("%s was saved to your calendar provider but not locally; it will be repaired on the next sync", op)
}

func isReconnect(err error) bool {
	return errors.Is(err, models.ErrReconnectCalendar)
}
