package reconcile

import (
	"context"
	"errors"

	"coachcal-sync/calcom"
	"coachcal-sync/models"

	"go.uber.org/zap"
)

// WebhookResult reports a default webhook reconciliation.
type WebhookResult struct {
	Webhook       *models.WebhookSubscription `json:"webhook"`
	AlreadyExists bool                        `json:"already_exists"`
	Created       bool                        `json:"created"`
	Warning       string                      `json:"warning,omitempty"`
}

// EnsureDefaultWebhook registers the booking webhook once per integration.
// A subscription already pointing at our URL, locally or on the provider,
// is reported as existing instead of duplicated.
func (s *Service) EnsureDefaultWebhook(ctx context.Context, userID string) (*WebhookResult, error) {
	if s.webhookURL == "" {
		return nil, errors.New("webhook url is not configured")
	}
	integration, err := s.integration(ctx, userID)
	if err != nil {
		return nil, err
	}

	local, err := s.webhooks.FindActiveBySubscriberURL(ctx, integration.ID, s.webhookURL)
	if err != nil {
		return nil, err
	}
	if local != nil {
		return &WebhookResult{Webhook: local, AlreadyExists: true}, nil
	}

	remote, err := s.provider.ListWebhooks(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, w := range remote {
		if w.SubscriberURL != s.webhookURL {
			continue
		}
		mirror := s.mirrorWebhook(userID, integration.ID, w)
		result := &WebhookResult{Webhook: mirror, AlreadyExists: true}
		if err := s.webhooks.Upsert(ctx, mirror); err != nil {
			result.Warning = s.localWarning(userID, "Booking webhook", err)
		}
		return result, nil
	}

	created, err := s.provider.CreateWebhook(ctx, userID, calcom.WebhookInput{
		SubscriberURL: s.webhookURL,
		Triggers:      models.DefaultWebhookTriggers,
		Active:        true,
		Secret:        s.webhookSecret,
	})
	if err != nil {
		return nil, err
	}

	mirror := s.mirrorWebhook(userID, integration.ID, *created)
	result := &WebhookResult{Webhook: mirror, Created: true}
	if err := s.webhooks.Upsert(ctx, mirror); err != nil {
		result.Warning = s.localWarning(userID, "Booking webhook", err)
	}
	s.logger.Info("default webhook created", zap.String("user_id", userID), zap.String("webhook_id", created.ID.String()))
	return result, nil
}

func (s *Service) mirrorWebhook(userID, integrationID string, w calcom.Webhook) *models.WebhookSubscription {
	triggers := w.Triggers
	if len(triggers) == 0 {
		triggers = models.DefaultWebhookTriggers
	}
	return &models.WebhookSubscription{
		UserID:        userID,
		IntegrationID: integrationID,
		ExternalID:    w.ID.String(),
		SubscriberURL: w.SubscriberURL,
		Triggers:      triggers,
		IsActive:      true,
	}
}
