package reconcile

import (
	"context"
	"fmt"
	"strings"

	"coachcal-sync/calcom"
	"coachcal-sync/models"

	"go.uber.org/zap"
)

// BookableResult bundles the reconciliations run on first dashboard load.
type BookableResult struct {
	Schedule   *ScheduleResult `json:"schedule,omitempty"`
	EventTypes *EnsureResult   `json:"event_types"`
	Webhook    *WebhookResult  `json:"webhook,omitempty"`
	Warnings   []string        `json:"warnings,omitempty"`
}

// EnsureBookable reconciles the default schedule, event types and webhook in
// that order. Only event types are required; the other two degrade to warnings.
func (s *Service) EnsureBookable(ctx context.Context, userID string) (*BookableResult, error) {
	result := &BookableResult{}

	schedule, err := s.EnsureDefaultSchedule(ctx, userID)
	switch {
	case err == nil:
		result.Schedule = schedule
		if schedule.Warning != "" {
			result.Warnings = append(result.Warnings, schedule.Warning)
		}
	case isReconnect(err):
		return nil, err
	default:
		s.logger.Warn("default schedule reconciliation failed", zap.String("user_id", userID), zap.Error(err))
		result.Warnings = append(result.Warnings, "availability could not be set up")
	}

	eventTypes, err := s.EnsureDefaultEventTypes(ctx, userID)
	if err != nil {
		return nil, err
	}
	result.EventTypes = eventTypes
	result.Warnings = append(result.Warnings, eventTypes.Warnings...)

	if s.webhookURL != "" {
		webhook, err := s.EnsureDefaultWebhook(ctx, userID)
		switch {
		case err == nil:
			result.Webhook = webhook
			if webhook.Warning != "" {
				result.Warnings = append(result.Warnings, webhook.Warning)
			}
		case isReconnect(err):
			return nil, err
		default:
			s.logger.Warn("default webhook reconciliation failed", zap.String("user_id", userID), zap.Error(err))
			result.Warnings = append(result.Warnings, "booking notifications could not be set up")
		}
	}
	return result, nil
}

// ConnectInput describes the Cal.com managed user to provision for a coach.
type ConnectInput struct {
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name" validate:"max=120"`
	TimeZone string `json:"time_zone"`
}

// ConnectManagedUser provisions a Cal.com managed user for the coach and
// stores the integration. An existing active integration is returned as is.
func (s *Service) ConnectManagedUser(ctx context.Context, userID string, input ConnectInput) (*models.CalendarIntegration, error) {
	input.Email = strings.TrimSpace(input.Email)
	if err := s.validate.Struct(input); err != nil {
		return nil, &ValidationError{Err: err}
	}

	existing, err := s.integrations.GetActive(ctx, userID, models.ProviderCalcom)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	if s.managedUsers == nil {
		return nil, fmt.Errorf("managed users are not configured")
	}

	timezone := models.ResolveTimezone(input.TimeZone, "", "")
	user, tokens, err := s.managedUsers.CreateManagedUser(ctx, calcom.ManagedUserInput{
		Email:    input.Email,
		Name:     input.Name,
		TimeZone: timezone,
	})
	if err != nil {
		return nil, fmt.Errorf("create managed user: %w", err)
	}
	if user.TimeZone != "" {
		timezone = models.ResolveTimezone(user.TimeZone, timezone, "")
	}

	integration := &models.CalendarIntegration{
		UserID:               userID,
		Provider:             models.ProviderCalcom,
		ExternalUserID:       user.ID.String(),
		AccessToken:          tokens.AccessToken,
		RefreshToken:         tokens.RefreshToken,
		AccessTokenExpiresAt: tokens.ExpiresAt,
		ExternalUsername:     user.Username,
		Timezone:             timezone,
	}
	if err := s.integrations.Upsert(ctx, integration); err != nil {
		return nil, fmt.Errorf("store integration: %w", err)
	}

	s.logger.Info("calendar connected",
		zap.String("user_id", userID),
		zap.String("managed_user_id", integration.ExternalUserID))
	return integration, nil
}

// Disconnect removes provider webhooks best-effort and deactivates the integration.
func (s *Service) Disconnect(ctx context.Context, userID string, provider models.Provider) error {
	integration, err := s.integrations.GetActive(ctx, userID, provider)
	if err != nil {
		return err
	}
	if integration == nil {
		return fmt.Errorf("user %s: %w", userID, models.ErrNoIntegration)
	}

	if provider == models.ProviderCalcom {
		webhooks, err := s.webhooks.ListByIntegration(ctx, integration.ID)
		if err != nil {
			return err
		}
		for _, w := range webhooks {
			if !w.IsActive {
				continue
			}
			if err := s.provider.DeleteWebhook(ctx, userID, w.ExternalID); err != nil {
				s.logger.Warn("webhook removal failed",
					zap.String("user_id", userID),
					zap.String("webhook_id", w.ExternalID),
					zap.Error(err))
			}
		}
		if err := s.webhooks.DeactivateByIntegration(ctx, integration.ID); err != nil {
			return err
		}
	}

	if err := s.integrations.Deactivate(ctx, integration.ID); err != nil {
		return err
	}
	s.logger.Info("calendar disconnected", zap.String("user_id", userID), zap.String("provider", string(provider)))
	return nil
}

// ProfileCompletion scores the coach profile, counting a connected calendar
// and the presence of default event types.
func (s *Service) ProfileCompletion(ctx context.Context, userID string) (models.Completion, error) {
	profile, err := s.profiles.GetByUserID(ctx, userID)
	if err != nil {
		return models.Completion{}, err
	}

	connected, bookable := false, false
	for _, provider := range []models.Provider{models.ProviderCalcom, models.ProviderCalendly} {
		integration, err := s.integrations.GetActive(ctx, userID, provider)
		if err != nil {
			return models.Completion{}, err
		}
		if integration == nil {
			continue
		}
		connected = true
		if provider == models.ProviderCalcom {
			count, err := s.eventTypes.CountActiveDefaults(ctx, integration.ID)
			if err != nil {
				return models.Completion{}, err
			}
			bookable = count > 0
		}
	}
	return models.ProfileCompletion(profile, connected, bookable), nil
}
