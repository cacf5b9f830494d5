package reconcile

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"coachcal-sync/calcom"
	"coachcal-sync/models"

	"go.uber.org/zap"
)

type defaultEventType struct {
	Title       string
	Slug        string
	Description string
	Minutes     int
	Paid        bool
}

// defaultCatalog is the set of event types every bookable coach has.
var defaultCatalog = []defaultEventType{
	{
		Title:       "Coaching Session",
		Slug:        "coaching-session",
		Description: "A one-on-one real estate coaching session.",
		Minutes:     60,
		Paid:        true,
	},
	{
		Title:       "Extended Coaching Session",
		Slug:        "extended-coaching-session",
		Description: "An extended deep-dive coaching session.",
		Minutes:     90,
		Paid:        true,
	},
	{
		Title:       "Free Introductory Call",
		Slug:        "free-introductory-call",
		Description: "A short call to see whether we are a good fit.",
		Minutes:     15,
	},
}

var defaultLocations = []calcom.EventTypeLocation{{Type: "integration", Integration: "cal-video"}}

func catalogEntry(slug string) (defaultEventType, bool) {
	for _, d := range defaultCatalog {
		if d.Slug == slug {
			return d, true
		}
	}
	return defaultEventType{}, false
}

// EnsureResult reports what a default event type reconciliation did.
type EnsureResult struct {
	Created  int      `json:"created"`
	Existing int      `json:"existing"`
	Synced   int      `json:"synced"`
	Skipped  []string `json:"skipped,omitempty"`
	Failed   []string `json:"failed,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// EnsureDefaultEventTypes makes sure the default catalog exists once. It
// checks locally, then mirrors the provider and checks again, and only then
// creates what is missing. Paid types are skipped without an hourly rate.
func (s *Service) EnsureDefaultEventTypes(ctx context.Context, userID string) (*EnsureResult, error) {
	integration, err := s.integration(ctx, userID)
	if err != nil {
		return nil, err
	}
	result := &EnsureResult{}

	count, err := s.eventTypes.CountActiveDefaults(ctx, integration.ID)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		result.Existing = count
		return result, nil
	}

	synced, err := s.syncEventTypes(ctx, userID, integration)
	if err != nil {
		return nil, fmt.Errorf("sync before ensuring defaults: %w", err)
	}
	result.Synced = synced.Synced
	result.Warnings = append(result.Warnings, synced.Warnings...)

	count, err = s.eventTypes.CountActiveDefaults(ctx, integration.ID)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		result.Existing = count
		return result, nil
	}

	rate, err := s.hourlyRate(ctx, userID)
	if err != nil {
		return nil, err
	}
	local, err := s.eventTypes.ListByIntegration(ctx, integration.ID)
	if err != nil {
		return nil, err
	}
	existingSlugs := make(map[string]bool, len(local))
	for _, et := range local {
		existingSlugs[et.Slug] = true
	}

	attempted := 0
	var firstErr error
	for position, def := range defaultCatalog {
		if def.Paid && rate <= 0 {
			result.Skipped = append(result.Skipped, def.Slug)
			continue
		}
		// Deactivated defaults stay deactivated.
		if existingSlugs[def.Slug] {
			result.Skipped = append(result.Skipped, def.Slug)
			continue
		}

		attempted++
		warning, err := s.createDefault(ctx, userID, integration.ID, def, position, rate)
		if err != nil {
			if isReconnect(err) {
				return nil, err
			}
			s.logger.Warn("default event type creation failed",
				zap.String("user_id", userID),
				zap.String("slug", def.Slug),
				zap.Error(err))
			result.Failed = append(result.Failed, def.Slug)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		result.Created++
		if warning != "" {
			result.Warnings = append(result.Warnings, warning)
		}
	}

	if attempted > 0 && result.Created == 0 {
		return result, fmt.Errorf("create default event types: %w", firstErr)
	}

	s.logger.Info("default event types ensured",
		zap.String("user_id", userID),
		zap.Int("created", result.Created),
		zap.Strings("skipped", result.Skipped),
		zap.Strings("failed", result.Failed))
	return result, nil
}

func (s *Service) createDefault(ctx context.Context, userID, integrationID string, def defaultEventType, position int, rate float64) (string, error) {
	description := def.Description
	created, err := s.provider.CreateEventType(ctx, userID, calcom.EventTypeInput{
		Title:           def.Title,
		Slug:            def.Slug,
		Description:     &description,
		LengthInMinutes: def.Minutes,
		Locations:       defaultLocations,
	})
	if err != nil {
		return "", err
	}

	et := &models.CalEventType{
		IntegrationID:   integrationID,
		ExternalID:      created.ID.Int64(),
		Title:           def.Title,
		Slug:            def.Slug,
		Description:     def.Description,
		LengthInMinutes: def.Minutes,
		IsFree:          !def.Paid,
		Currency:        "usd",
		SchedulingType:  models.SchedulingOneToOne,
		IsDefault:       true,
		IsActive:        true,
		Position:        position,
		MinParticipants: 1,
		MaxParticipants: 1,
		Locations:       toLocalLocations(created.Locations),
	}
	if def.Paid {
		et.PriceCents = models.PriceForDuration(rate, def.Minutes)
	}
	if err := s.eventTypes.Insert(ctx, et); err != nil {
		return s.localWarning(userID, def.Title, err), nil
	}
	return "", nil
}

// SyncResult reports a provider to local event type mirror.
type SyncResult struct {
	Synced   int      `json:"synced"`
	Warnings []string `json:"warnings,omitempty"`
}

// SyncEventTypes mirrors the provider's event types into local rows. Local
// marketplace fields such as price survive the sync.
func (s *Service) SyncEventTypes(ctx context.Context, userID string) (*SyncResult, error) {
	integration, err := s.integration(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.syncEventTypes(ctx, userID, integration)
}

func (s *Service) syncEventTypes(ctx context.Context, userID string, integration *models.CalendarIntegration) (*SyncResult, error) {
	remote, err := s.provider.ListEventTypes(ctx, userID)
	if err != nil {
		return nil, err
	}
	rate, err := s.hourlyRate(ctx, userID)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{}
	for i, r := range remote {
		et := &models.CalEventType{
			IntegrationID:     integration.ID,
			ExternalID:        r.ID.Int64(),
			Title:             r.Title,
			Slug:              r.Slug,
			Description:       r.Description,
			LengthInMinutes:   r.LengthInMinutes,
			IsFree:            true,
			Currency:          "usd",
			SchedulingType:    models.SchedulingOneToOne,
			IsActive:          !r.Hidden,
			Position:          i,
			BeforeEventBuffer: r.BeforeEventBuffer,
			AfterEventBuffer:  r.AfterEventBuffer,
			MinParticipants:   1,
			MaxParticipants:   1,
			Locations:         toLocalLocations(r.Locations),
		}
		if def, ok := catalogEntry(r.Slug); ok {
			et.IsDefault = true
			if def.Paid && rate > 0 {
				et.IsFree = false
				et.PriceCents = models.PriceForDuration(rate, r.LengthInMinutes)
			}
		}
		if err := s.eventTypes.UpsertFromProvider(ctx, et); err != nil {
			s.logger.Warn("event type sync failed",
				zap.String("user_id", userID),
				zap.Int64("external_id", et.ExternalID),
				zap.Error(err))
			result.Warnings = append(result.Warnings, fmt.Sprintf("event type %q was not synced", r.Title))
			continue
		}
		result.Synced++
	}
	return result, nil
}

// ListEventTypes returns the local mirror of the coach's event types.
func (s *Service) ListEventTypes(ctx context.Context, userID string) ([]models.CalEventType, error) {
	integration, err := s.integration(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.eventTypes.ListByIntegration(ctx, integration.ID)
}

// EventTypeInput is a custom event type as submitted by the coach.
type EventTypeInput struct {
	Title              string                `json:"title" validate:"required,max=120"`
	Slug               string                `json:"slug" validate:"required,max=120"`
	Description        string                `json:"description" validate:"max=2000"`
	LengthInMinutes    int                   `json:"length_in_minutes" validate:"required,min=5,max=480"`
	IsFree             bool                  `json:"is_free"`
	PriceCents         *int64                `json:"price_cents" validate:"omitempty,min=0"`
	SchedulingType     models.SchedulingType `json:"scheduling_type"`
	Position           int                   `json:"position" validate:"min=0"`
	BeforeEventBuffer  int                   `json:"before_event_buffer" validate:"min=0,max=240"`
	AfterEventBuffer   int                   `json:"after_event_buffer" validate:"min=0,max=240"`
	MinParticipants    int                   `json:"min_participants" validate:"min=0"`
	MaxParticipants    int                   `json:"max_participants" validate:"min=0"`
	DiscountPercentage int                   `json:"discount_percentage" validate:"min=0,max=100"`
	Locations          models.Locations      `json:"locations"`
}

// EventTypeResult is a single event type write.
type EventTypeResult struct {
	EventType   *models.CalEventType `json:"event_type"`
	Deactivated bool                 `json:"deactivated,omitempty"`
	Warning     string               `json:"warning,omitempty"`
}

// ValidationError is a rejected input.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return "invalid input: " + e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

// CreateEventType validates input, creates the event type on Cal.com and
// mirrors it locally. A failed local insert is reported as a warning.
func (s *Service) CreateEventType(ctx context.Context, userID string, input EventTypeInput) (*EventTypeResult, error) {
	input.Slug = strings.ToLower(strings.TrimSpace(input.Slug))
	if err := s.validate.Struct(input); err != nil {
		return nil, &ValidationError{Err: err}
	}
	if input.SchedulingType == "" {
		input.SchedulingType = models.SchedulingOneToOne
	}
	if !input.SchedulingType.Valid() {
		return nil, &ValidationError{Err: fmt.Errorf("unknown scheduling type %q", input.SchedulingType)}
	}
	if _, reserved := catalogEntry(input.Slug); reserved {
		return nil, fmt.Errorf("slug %q: %w", input.Slug, models.ErrDefaultEventType)
	}
	if input.MinParticipants == 0 {
		input.MinParticipants = 1
	}
	if input.MaxParticipants < input.MinParticipants {
		input.MaxParticipants = input.MinParticipants
	}

	integration, err := s.integration(ctx, userID)
	if err != nil {
		return nil, err
	}

	var price int64
	if !input.IsFree {
		if input.PriceCents != nil {
			price = *input.PriceCents
		} else {
			rate, err := s.hourlyRate(ctx, userID)
			if err != nil {
				return nil, err
			}
			price = models.PriceForDuration(rate, input.LengthInMinutes)
		}
		if price <= 0 {
			return nil, &ValidationError{Err: errors.New("paid event types need a price or an hourly rate")}
		}
	}

	description := input.Description
	before, after := input.BeforeEventBuffer, input.AfterEventBuffer
	created, err := s.provider.CreateEventType(ctx, userID, calcom.EventTypeInput{
		Title:             input.Title,
		Slug:              input.Slug,
		Description:       &description,
		LengthInMinutes:   input.LengthInMinutes,
		BeforeEventBuffer: &before,
		AfterEventBuffer:  &after,
		Locations:         toProviderLocations(input.Locations),
	})
	if err != nil {
		return nil, err
	}

	et := &models.CalEventType{
		IntegrationID:      integration.ID,
		ExternalID:         created.ID.Int64(),
		Title:              input.Title,
		Slug:               input.Slug,
		Description:        input.Description,
		LengthInMinutes:    input.LengthInMinutes,
		IsFree:             input.IsFree,
		PriceCents:         price,
		Currency:           "usd",
		SchedulingType:     input.SchedulingType,
		IsActive:           true,
		Position:           input.Position,
		BeforeEventBuffer:  input.BeforeEventBuffer,
		AfterEventBuffer:   input.AfterEventBuffer,
		MinParticipants:    input.MinParticipants,
		MaxParticipants:    input.MaxParticipants,
		DiscountPercentage: input.DiscountPercentage,
		Locations:          input.Locations,
	}
	result := &EventTypeResult{EventType: et}
	if err := s.eventTypes.Insert(ctx, et); err != nil {
		result.Warning = s.localWarning(userID, input.Title, err)
	}
	return result, nil
}

// EventTypeUpdate is a partial edit. Nil fields are left unchanged.
type EventTypeUpdate struct {
	Title              *string           `json:"title" validate:"omitempty,min=1,max=120"`
	Description        *string           `json:"description" validate:"omitempty,max=2000"`
	LengthInMinutes    *int              `json:"length_in_minutes" validate:"omitempty,min=5,max=480"`
	PriceCents         *int64            `json:"price_cents" validate:"omitempty,min=0"`
	IsActive           *bool             `json:"is_active"`
	Position           *int              `json:"position" validate:"omitempty,min=0"`
	BeforeEventBuffer  *int              `json:"before_event_buffer" validate:"omitempty,min=0,max=240"`
	AfterEventBuffer   *int              `json:"after_event_buffer" validate:"omitempty,min=0,max=240"`
	DiscountPercentage *int              `json:"discount_percentage" validate:"omitempty,min=0,max=100"`
	Locations          *models.Locations `json:"locations"`
}

// UpdateEventType applies update to the provider and the mirror. Price-only
// changes never reach the provider.
func (s *Service) UpdateEventType(ctx context.Context, userID, id string, update EventTypeUpdate) (*EventTypeResult, error) {
	if err := s.validate.Struct(update); err != nil {
		return nil, &ValidationError{Err: err}
	}
	integration, err := s.integration(ctx, userID)
	if err != nil {
		return nil, err
	}
	et, err := s.eventTypes.GetByID(ctx, integration.ID, id)
	if err != nil {
		return nil, err
	}
	if et == nil {
		return nil, fmt.Errorf("event type %s: %w", id, models.ErrNotFound)
	}

	patch := calcom.EventTypeInput{}
	changed := update.Title != nil || update.Description != nil || update.LengthInMinutes != nil ||
		update.IsActive != nil || update.BeforeEventBuffer != nil || update.AfterEventBuffer != nil ||
		update.Locations != nil
	if update.Title != nil {
		et.Title = *update.Title
		patch.Title = et.Title
	}
	if update.Description != nil {
		et.Description = *update.Description
		patch.Description = update.Description
	}
	if update.LengthInMinutes != nil {
		et.LengthInMinutes = *update.LengthInMinutes
		patch.LengthInMinutes = et.LengthInMinutes
	}
	if update.IsActive != nil {
		et.IsActive = *update.IsActive
		hidden := !et.IsActive
		patch.Hidden = &hidden
	}
	if update.BeforeEventBuffer != nil {
		et.BeforeEventBuffer = *update.BeforeEventBuffer
		patch.BeforeEventBuffer = update.BeforeEventBuffer
	}
	if update.AfterEventBuffer != nil {
		et.AfterEventBuffer = *update.AfterEventBuffer
		patch.AfterEventBuffer = update.AfterEventBuffer
	}
	if update.Locations != nil {
		et.Locations = *update.Locations
		patch.Locations = toProviderLocations(et.Locations)
	}
	// Marketplace-only fields never reach the provider.
	if update.PriceCents != nil && !et.IsFree {
		et.PriceCents = *update.PriceCents
	}
	if update.Position != nil {
		et.Position = *update.Position
	}
	if update.DiscountPercentage != nil {
		et.DiscountPercentage = *update.DiscountPercentage
	}

	if changed {
		if _, err := s.provider.UpdateEventType(ctx, userID, et.ExternalID, patch); err != nil {
			return nil, err
		}
	}

	result := &EventTypeResult{EventType: et}
	if err := s.eventTypes.Update(ctx, et); err != nil {
		result.Warning = s.localWarning(userID, et.Title, err)
	}
	return result, nil
}

// DeleteEventType removes a custom event type. Default event types are only
// deactivated: hidden on the provider and marked inactive locally.
func (s *Service) DeleteEventType(ctx context.Context, userID, id string) (*EventTypeResult, error) {
	integration, err := s.integration(ctx, userID)
	if err != nil {
		return nil, err
	}
	et, err := s.eventTypes.GetByID(ctx, integration.ID, id)
	if err != nil {
		return nil, err
	}
	if et == nil {
		return nil, fmt.Errorf("event type %s: %w", id, models.ErrNotFound)
	}

	result := &EventTypeResult{EventType: et, Deactivated: et.IsDefault}
	if et.IsDefault {
		hidden := true
		if _, err := s.provider.UpdateEventType(ctx, userID, et.ExternalID, calcom.EventTypeInput{Hidden: &hidden}); err != nil {
			return nil, err
		}
	} else if err := s.provider.DeleteEventType(ctx, userID, et.ExternalID); err != nil && calcom.StatusCode(err) != http.StatusNotFound {
		return nil, err
	}

	et.IsActive = false
	if err := s.eventTypes.Deactivate(ctx, et.ID); err != nil {
		result.Warning = s.localWarning(userID, et.Title, err)
	}
	return result, nil
}

func toLocalLocations(remote []calcom.EventTypeLocation) models.Locations {
	out := make(models.Locations, 0, len(remote))
	for _, l := range remote {
		kind := l.Type
		if l.Integration != "" {
			kind = l.Type + ":" + l.Integration
		}
		out = append(out, models.Location{Type: kind, Address: l.Address, Link: l.Link, Public: l.Public})
	}
	return out
}

func toProviderLocations(local models.Locations) []calcom.EventTypeLocation {
	out := make([]calcom.EventTypeLocation, 0, len(local))
	for _, l := range local {
		loc := calcom.EventTypeLocation{Type: l.Type, Address: l.Address, Link: l.Link, Public: l.Public}
		if kind, integration, ok := strings.Cut(l.Type, ":"); ok && kind == "integration" {
			loc.Type = kind
			loc.Integration = integration
		}
		out = append(out, loc)
	}
	return out
}
