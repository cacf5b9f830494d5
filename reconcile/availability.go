package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"coachcal-sync/calcom"
	"coachcal-sync/models"

	"go.uber.org/zap"
)

const defaultScheduleName = "Coaching Hours"

// ScheduleResult is a single availability schedule write.
type ScheduleResult struct {
	Schedule *models.AvailabilitySchedule `json:"schedule"`
	Created  bool                         `json:"created"`
	Source   string                       `json:"source"`
	Warning  string                       `json:"warning,omitempty"`
}

// EnsureDefaultSchedule returns the local default schedule, mirroring the
// provider's default when only that exists and creating a Monday to Friday
// 09:00 to 17:00 schedule when neither does.
func (s *Service) EnsureDefaultSchedule(ctx context.Context, userID string) (*ScheduleResult, error) {
	integration, err := s.integration(ctx, userID)
	if err != nil {
		return nil, err
	}

	local, err := s.schedules.GetDefault(ctx, userID)
	if err != nil {
		return nil, err
	}
	if local != nil {
		return &ScheduleResult{Schedule: local, Source: "local"}, nil
	}

	remote, err := s.provider.ListSchedules(ctx, userID)
	if err != nil {
		return nil, err
	}
	if def := pickDefaultSchedule(remote); def != nil {
		weekly, err := models.NormalizeWeekly(calcom.WeeklyFromAvailability(def.Availability), models.IntervalPolicyBump)
		if err != nil {
			s.logger.Warn("provider schedule has invalid intervals, using defaults",
				zap.String("user_id", userID), zap.Error(err))
			weekly = models.DefaultWeekly()
		}
		schedule := newSchedule(userID, def.Name, models.ResolveTimezone(integration.Timezone, def.TimeZone, ""), weekly)
		schedule.ExternalID = def.ID.Int64()
		result := &ScheduleResult{Schedule: schedule, Source: "provider"}
		if err := s.schedules.Save(ctx, schedule); err != nil {
			result.Warning = s.localWarning(userID, "Availability", err)
		}
		return result, nil
	}

	timezone := integration.Timezone
	if timezone == "" {
		if me, err := s.provider.Me(ctx, userID); err == nil {
			timezone = me.TimeZone
		}
	}
	timezone = models.ResolveTimezone(timezone, "", "")

	weekly := models.DefaultWeekly()
	isDefault := true
	created, err := s.provider.CreateSchedule(ctx, userID, calcom.ScheduleInput{
		Name:         defaultScheduleName,
		TimeZone:     timezone,
		IsDefault:    &isDefault,
		Availability: calcom.AvailabilityFromWeekly(weekly),
	})
	if err != nil {
		return nil, err
	}

	schedule := newSchedule(userID, defaultScheduleName, timezone, weekly)
	schedule.ExternalID = created.ID.Int64()
	result := &ScheduleResult{Schedule: schedule, Created: true, Source: "created"}
	if err := s.schedules.Save(ctx, schedule); err != nil {
		result.Warning = s.localWarning(userID, "Availability", err)
	}
	return result, nil
}

// GetAvailability returns the default schedule, creating it when missing.
func (s *Service) GetAvailability(ctx context.Context, userID string) (*models.AvailabilitySchedule, error) {
	result, err := s.EnsureDefaultSchedule(ctx, userID)
	if err != nil {
		return nil, err
	}
	return result.Schedule, nil
}

// AvailabilityInput is a weekly availability edit.
type AvailabilityInput struct {
	Name                  string        `json:"name" validate:"max=120"`
	Weekly                models.Weekly `json:"weekly" validate:"required"`
	BrowserTimezone       string        `json:"browser_timezone"`
	MinSessionMinutes     int           `json:"min_session_minutes" validate:"omitempty,min=5,max=480"`
	DefaultSessionMinutes int           `json:"default_session_minutes" validate:"omitempty,min=5,max=480"`
	MaxSessionMinutes     int           `json:"max_session_minutes" validate:"omitempty,min=5,max=480"`
	BufferBefore          int           `json:"buffer_before" validate:"min=0,max=240"`
	BufferAfter           int           `json:"buffer_after" validate:"min=0,max=240"`
}

// SaveAvailability validates the weekly intervals under the configured
// policy, pushes them to the provider and then stores them locally.
func (s *Service) SaveAvailability(ctx context.Context, userID string, input AvailabilityInput) (*ScheduleResult, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, &ValidationError{Err: err}
	}
	weekly, err := models.NormalizeWeekly(input.Weekly, s.policy)
	if err != nil {
		return nil, err
	}

	integration, err := s.integration(ctx, userID)
	if err != nil {
		return nil, err
	}
	current, err := s.schedules.GetDefault(ctx, userID)
	if err != nil {
		return nil, err
	}

	schedule := current
	if schedule == nil {
		schedule = newSchedule(userID, defaultScheduleName, "", nil)
	}
	if input.Name != "" {
		schedule.Name = input.Name
	}
	schedule.Weekly = weekly
	schedule.Timezone = models.ResolveTimezone(integration.Timezone, schedule.Timezone, input.BrowserTimezone)
	if input.MinSessionMinutes > 0 {
		schedule.MinSessionMinutes = input.MinSessionMinutes
	}
	if input.DefaultSessionMinutes > 0 {
		schedule.DefaultSessionMinutes = input.DefaultSessionMinutes
	}
	if input.MaxSessionMinutes > 0 {
		schedule.MaxSessionMinutes = input.MaxSessionMinutes
	}
	schedule.BufferBefore = input.BufferBefore
	schedule.BufferAfter = input.BufferAfter
	if schedule.MinSessionMinutes > schedule.DefaultSessionMinutes || schedule.DefaultSessionMinutes > schedule.MaxSessionMinutes {
		return nil, &ValidationError{Err: fmt.Errorf("session lengths must satisfy min <= default <= max")}
	}

	providerInput := calcom.ScheduleInput{
		Name:         schedule.Name,
		TimeZone:     schedule.Timezone,
		Availability: calcom.AvailabilityFromWeekly(weekly),
	}
	result := &ScheduleResult{Schedule: schedule, Source: "local"}
	if schedule.ExternalID != 0 {
		if _, err := s.provider.UpdateSchedule(ctx, userID, schedule.ExternalID, providerInput); err != nil {
			return nil, err
		}
	} else {
		isDefault := true
		providerInput.IsDefault = &isDefault
		created, err := s.provider.CreateSchedule(ctx, userID, providerInput)
		if err != nil {
			return nil, err
		}
		schedule.ExternalID = created.ID.Int64()
		result.Created = current == nil
	}

	if err := s.schedules.Save(ctx, schedule); err != nil {
		result.Warning = s.localWarning(userID, "Availability", err)
	}
	return result, nil
}

// GetBusyTimes returns busy blocks of the user's selected calendars for one
// day in the resolved timezone, clipped to that day and sorted by start.
func (s *Service) GetBusyTimes(ctx context.Context, userID string, date time.Time, browserTZ string) ([]models.BusyInterval, error) {
	integration, err := s.integration(ctx, userID)
	if err != nil {
		return nil, err
	}
	scheduleTZ := ""
	if schedule, err := s.schedules.GetDefault(ctx, userID); err == nil && schedule != nil {
		scheduleTZ = schedule.Timezone
	}
	timezone := models.ResolveTimezone(integration.Timezone, scheduleTZ, browserTZ)
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}

	if date.IsZero() {
		date = s.now().In(loc)
	}
	y, m, d := date.Date()
	dayStart := time.Date(y, m, d, 0, 0, 0, 0, loc)
	dayEnd := dayStart.AddDate(0, 0, 1)

	calendars, err := s.provider.ListCalendars(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list calendars: %w", err)
	}
	refs := calendarRefs(calendars)
	if len(refs) == 0 {
		return []models.BusyInterval{}, nil
	}

	busy, err := s.provider.BusyTimes(ctx, userID, calcom.BusyTimesQuery{
		TimeZone:  timezone,
		DateFrom:  dayStart,
		DateTo:    dayEnd,
		Calendars: refs,
	})
	if err != nil {
		return nil, fmt.Errorf("busy times: %w", err)
	}

	out := make([]models.BusyInterval, 0, len(busy))
	for _, b := range busy {
		start, end := b.Start, b.End
		if start.Before(dayStart) {
			start = dayStart
		}
		if end.After(dayEnd) {
			end = dayEnd
		}
		if !end.After(start) {
			continue
		}
		source := b.Source
		if source == "" {
			source = "calendar"
		}
		out = append(out, models.BusyInterval{Start: start.In(loc), End: end.In(loc), Source: source})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// calendarRefs picks selected calendars, falling back to each connection's primary.
func calendarRefs(connected []calcom.ConnectedCalendar) []calcom.CalendarRef {
	var refs []calcom.CalendarRef
	for _, c := range connected {
		selected := 0
		for _, cal := range c.Calendars {
			if cal.IsSelected {
				refs = append(refs, calcom.CalendarRef{CredentialID: c.CredentialID, ExternalID: cal.ExternalID})
				selected++
			}
		}
		if selected == 0 && c.Primary != nil {
			refs = append(refs, calcom.CalendarRef{CredentialID: c.CredentialID, ExternalID: c.Primary.ExternalID})
		}
	}
	return refs
}

func pickDefaultSchedule(schedules []calcom.Schedule) *calcom.Schedule {
	for i := range schedules {
		if schedules[i].IsDefault {
			return &schedules[i]
		}
	}
	if len(schedules) > 0 {
		return &schedules[0]
	}
	return nil
}

func newSchedule(userID, name, timezone string, weekly models.Weekly) *models.AvailabilitySchedule {
	return &models.AvailabilitySchedule{
		UserID:                userID,
		Name:                  name,
		Timezone:              timezone,
		IsDefault:             true,
		IsActive:              true,
		Weekly:                weekly,
		MinSessionMinutes:     15,
		DefaultSessionMinutes: 60,
		MaxSessionMinutes:     120,
	}
}
