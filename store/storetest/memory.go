// Package storetest provides in-memory repositories for tests.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"coachcal-sync/models"
	"coachcal-sync/store"

	"github.com/google/uuid"
)

var (
	_ store.IntegrationRepository = (*Integrations)(nil)
	_ store.EventTypeRepository   = (*EventTypes)(nil)
	_ store.WebhookRepository     = (*Webhooks)(nil)
	_ store.ScheduleRepository    = (*Schedules)(nil)
	_ store.ProfileRepository     = (*Profiles)(nil)
	_ store.BookingRepository     = (*Bookings)(nil)
)

// Integrations is an in-memory store.IntegrationRepository.
type Integrations struct {
	mu    sync.Mutex
	rows  map[string]*models.CalendarIntegration
	Calls struct{ UpdateTokens, Upsert int }

	// UpdateTokensErr, when set, fails every token write.
	UpdateTokensErr error
}

func NewIntegrations(seed ...*models.CalendarIntegration) *Integrations {
	s := &Integrations{rows: map[string]*models.CalendarIntegration{}}
	for _, integration := range seed {
		if integration.ID == "" {
			integration.ID = uuid.New().String()
		}
		integration.IsActive = true
		copied := *integration
		s.rows[integration.ID] = &copied
	}
	return s
}

func (s *Integrations) GetActive(_ context.Context, userID string, provider models.Provider) (*models.CalendarIntegration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.UserID == userID && row.Provider == provider && row.IsActive {
			copied := *row
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *Integrations) GetByExternalUserID(_ context.Context, provider models.Provider, externalUserID string) (*models.CalendarIntegration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.ExternalUserID == externalUserID && row.Provider == provider && row.IsActive {
			copied := *row
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *Integrations) Upsert(_ context.Context, integration *models.CalendarIntegration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls.Upsert++
	for id, row := range s.rows {
		if row.UserID == integration.UserID && row.Provider == integration.Provider && row.IsActive {
			integration.ID = id
			integration.CreatedAt = row.CreatedAt
			break
		}
	}
	if integration.ID == "" {
		integration.ID = uuid.New().String()
		integration.CreatedAt = time.Now()
	}
	integration.IsActive = true
	integration.UpdatedAt = time.Now()
	copied := *integration
	s.rows[integration.ID] = &copied
	return nil
}

func (s *Integrations) UpdateTokens(_ context.Context, integrationID string, tokens models.TokenSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls.UpdateTokens++
	if s.UpdateTokensErr != nil {
		return s.UpdateTokensErr
	}
	row, ok := s.rows[integrationID]
	if !ok {
		return fmt.Errorf("integration %s: %w", integrationID, models.ErrNotFound)
	}
	row.AccessToken = tokens.AccessToken
	row.RefreshToken = tokens.RefreshToken
	row.AccessTokenExpiresAt = tokens.ExpiresAt
	return nil
}

func (s *Integrations) Deactivate(_ context.Context, integrationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[integrationID]; ok {
		row.IsActive = false
	}
	return nil
}

// Get returns a copy of the stored row regardless of its state.
func (s *Integrations) Get(integrationID string) *models.CalendarIntegration {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[integrationID]
	if !ok {
		return nil
	}
	copied := *row
	return &copied
}

// EventTypes is an in-memory store.EventTypeRepository.
type EventTypes struct {
	mu   sync.Mutex
	rows []*models.CalEventType

	// InsertErr, when set, fails every Insert.
	InsertErr error
}

func NewEventTypes() *EventTypes {
	return &EventTypes{}
}

func (s *EventTypes) ListByIntegration(_ context.Context, integrationID string) ([]models.CalEventType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.CalEventType{}
	for _, row := range s.rows {
		if row.IntegrationID == integrationID {
			out = append(out, *row)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (s *EventTypes) CountActiveDefaults(_ context.Context, integrationID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, row := range s.rows {
		if row.IntegrationID == integrationID && row.IsDefault && row.IsActive {
			count++
		}
	}
	return count, nil
}

func (s *EventTypes) GetByID(_ context.Context, integrationID, id string) (*models.CalEventType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.ID == id && row.IntegrationID == integrationID {
			copied := *row
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *EventTypes) Insert(_ context.Context, et *models.CalEventType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.InsertErr != nil {
		return s.InsertErr
	}
	for _, row := range s.rows {
		if row.IntegrationID == et.IntegrationID && row.ExternalID == et.ExternalID {
			return fmt.Errorf("duplicate external id %d", et.ExternalID)
		}
	}
	if et.ID == "" {
		et.ID = uuid.New().String()
	}
	et.CreatedAt = time.Now()
	et.UpdatedAt = et.CreatedAt
	copied := *et
	s.rows = append(s.rows, &copied)
	return nil
}

func (s *EventTypes) Update(_ context.Context, et *models.CalEventType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, row := range s.rows {
		if row.ID == et.ID {
			copied := *et
			s.rows[i] = &copied
			return nil
		}
	}
	return fmt.Errorf("event type %s: %w", et.ID, models.ErrNotFound)
}

func (s *EventTypes) UpsertFromProvider(_ context.Context, et *models.CalEventType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.IntegrationID == et.IntegrationID && row.ExternalID == et.ExternalID {
			row.Title = et.Title
			row.Slug = et.Slug
			row.Description = et.Description
			row.LengthInMinutes = et.LengthInMinutes
			row.IsActive = et.IsActive
			row.BeforeEventBuffer = et.BeforeEventBuffer
			row.AfterEventBuffer = et.AfterEventBuffer
			row.Locations = et.Locations
			row.UpdatedAt = time.Now()
			*et = *row
			return nil
		}
	}
	if et.ID == "" {
		et.ID = uuid.New().String()
	}
	copied := *et
	s.rows = append(s.rows, &copied)
	return nil
}

func (s *EventTypes) Deactivate(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.ID == id {
			row.IsActive = false
			return nil
		}
	}
	return fmt.Errorf("event type %s: %w", id, models.ErrNotFound)
}

// All returns copies of every stored row.
func (s *EventTypes) All() []models.CalEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.CalEventType, 0, len(s.rows))
	for _, row := range s.rows {
		out = append(out, *row)
	}
	return out
}

// Webhooks is an in-memory store.WebhookRepository.
type Webhooks struct {
	mu   sync.Mutex
	rows []*models.WebhookSubscription
}

func NewWebhooks() *Webhooks {
	return &Webhooks{}
}

func (s *Webhooks) FindActiveBySubscriberURL(_ context.Context, integrationID, subscriberURL string) (*models.WebhookSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.IntegrationID == integrationID && row.SubscriberURL == subscriberURL && row.IsActive {
			copied := *row
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *Webhooks) ListByIntegration(_ context.Context, integrationID string) ([]models.WebhookSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.WebhookSubscription{}
	for _, row := range s.rows {
		if row.IntegrationID == integrationID {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (s *Webhooks) Upsert(_ context.Context, w *models.WebhookSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.IntegrationID == w.IntegrationID && row.ExternalID == w.ExternalID {
			row.SubscriberURL = w.SubscriberURL
			row.Triggers = w.Triggers
			row.IsActive = true
			*w = *row
			return nil
		}
	}
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	w.IsActive = true
	w.CreatedAt = time.Now()
	copied := *w
	s.rows = append(s.rows, &copied)
	return nil
}

func (s *Webhooks) DeactivateByIntegration(_ context.Context, integrationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.IntegrationID == integrationID {
			row.IsActive = false
		}
	}
	return nil
}

// Schedules is an in-memory store.ScheduleRepository.
type Schedules struct {
	mu   sync.Mutex
	rows []*models.AvailabilitySchedule

	// SaveErr, when set, fails every Save.
	SaveErr error
}

func NewSchedules() *Schedules {
	return &Schedules{}
}

func (s *Schedules) GetDefault(_ context.Context, userID string) (*models.AvailabilitySchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *models.AvailabilitySchedule
	for _, row := range s.rows {
		if row.UserID != userID || !row.IsActive {
			continue
		}
		if found == nil || (row.IsDefault && !found.IsDefault) {
			found = row
		}
	}
	if found == nil {
		return nil, nil
	}
	copied := *found
	return &copied, nil
}

func (s *Schedules) Save(_ context.Context, schedule *models.AvailabilitySchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	if schedule.ID == "" {
		schedule.ID = uuid.New().String()
		schedule.IsActive = true
		schedule.CreatedAt = time.Now()
		copied := *schedule
		s.rows = append(s.rows, &copied)
		return nil
	}
	for i, row := range s.rows {
		if row.ID == schedule.ID {
			copied := *schedule
			s.rows[i] = &copied
			return nil
		}
	}
	return fmt.Errorf("schedule %s: %w", schedule.ID, models.ErrNotFound)
}

// Profiles is an in-memory store.ProfileRepository.
type Profiles struct {
	mu   sync.Mutex
	rows map[string]models.CoachProfile
}

func NewProfiles(profiles ...models.CoachProfile) *Profiles {
	s := &Profiles{rows: map[string]models.CoachProfile{}}
	for _, p := range profiles {
		s.rows[p.UserID] = p
	}
	return s
}

func (s *Profiles) GetByUserID(_ context.Context, userID string) (*models.CoachProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.rows[userID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// Bookings is an in-memory store.BookingRepository.
type Bookings struct {
	mu   sync.Mutex
	rows map[string]models.Booking
}

func NewBookings() *Bookings {
	return &Bookings{rows: map[string]models.Booking{}}
}

func (s *Bookings) Upsert(_ context.Context, b *models.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.rows[b.UID]; ok && current.ProviderUpdatedAt.After(b.ProviderUpdatedAt) {
		return fmt.Errorf("booking %s: %w", b.UID, models.ErrStaleBooking)
	}
	b.UpdatedAt = time.Now()
	s.rows[b.UID] = *b
	return nil
}

func (s *Bookings) ListUpcoming(_ context.Context, userID string, from time.Time, limit int) ([]models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Booking{}
	for _, b := range s.rows {
		if b.UserID == userID && !b.EndTime.Before(from) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Get returns the stored booking for uid.
func (s *Bookings) Get(uid string) (models.Booking, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.rows[uid]
	return b, ok
}
