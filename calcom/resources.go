package calcom

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"coachcal-sync/models"
)

// SchedulesAPIVersion is the version the schedule endpoints are pinned to.
const SchedulesAPIVersion = "2024-06-11"

type EventTypeLocation struct {
	Type        string `json:"type"`
	Integration string `json:"integration,omitempty"`
	Address     string `json:"address,omitempty"`
	Link        string `json:"link,omitempty"`
	Public      bool   `json:"public,omitempty"`
}

// EventType is a bookable session type as Cal.com returns it.
type EventType struct {
	ID                ID                  `json:"id"`
	Title             string              `json:"title"`
	Slug              string              `json:"slug"`
	Description       string              `json:"description"`
	LengthInMinutes   int                 `json:"lengthInMinutes"`
	Hidden            bool                `json:"hidden"`
	BeforeEventBuffer int                 `json:"beforeEventBuffer"`
	AfterEventBuffer  int                 `json:"afterEventBuffer"`
	Locations         []EventTypeLocation `json:"locations"`
	ScheduleID        *int64              `json:"scheduleId"`
}

// EventTypeInput is the create/update body. Nil pointers are left untouched on update.
type EventTypeInput struct {
	Title             string              `json:"title,omitempty"`
	Slug              string              `json:"slug,omitempty"`
	Description       *string             `json:"description,omitempty"`
	LengthInMinutes   int                 `json:"lengthInMinutes,omitempty"`
	Hidden            *bool               `json:"hidden,omitempty"`
	BeforeEventBuffer *int                `json:"beforeEventBuffer,omitempty"`
	AfterEventBuffer  *int                `json:"afterEventBuffer,omitempty"`
	Locations         []EventTypeLocation `json:"locations,omitempty"`
	ScheduleID        *int64              `json:"scheduleId,omitempty"`
}

// ListEventTypes returns every event type of the user.
func (g *Gateway) ListEventTypes(ctx context.Context, userID string) ([]EventType, error) {
	env, err := g.Request(ctx, userID, http.MethodGet, "/event-types", nil)
	if err != nil {
		return nil, err
	}
	var eventTypes []EventType
	if err := env.Decode(&eventTypes); err != nil {
		return nil, fmt.Errorf("list event types: %w", err)
	}
	return eventTypes, nil
}

func (g *Gateway) CreateEventType(ctx context.Context, userID string, input EventTypeInput) (*EventType, error) {
	env, err := g.Request(ctx, userID, http.MethodPost, "/event-types", input)
	if err != nil {
		return nil, err
	}
	var eventType EventType
	if err := env.Decode(&eventType); err != nil {
		return nil, fmt.Errorf("create event type: %w", err)
	}
	return &eventType, nil
}

// UpdateEventType sends a PATCH with the fields set in input.
func (g *Gateway) UpdateEventType(ctx context.Context, userID string, id int64, input EventTypeInput) (*EventType, error) {
	env, err := g.Request(ctx, userID, http.MethodPatch, "/event-types/"+strconv.FormatInt(id, 10), input)
	if err != nil {
		return nil, err
	}
	var eventType EventType
	if err := env.Decode(&eventType); err != nil {
		return nil, fmt.Errorf("update event type: %w", err)
	}
	return &eventType, nil
}

func (g *Gateway) DeleteEventType(ctx context.Context, userID string, id int64) error {
	_, err := g.Request(ctx, userID, http.MethodDelete, "/event-types/"+strconv.FormatInt(id, 10), nil)
	return err
}

type ScheduleAvailability struct {
	Days      []string `json:"days"`
	StartTime string   `json:"startTime"`
	EndTime   string   `json:"endTime"`
}

// Schedule is a provider availability schedule.
type Schedule struct {
	ID           ID                     `json:"id"`
	Name         string                 `json:"name"`
	TimeZone     string                 `json:"timeZone"`
	IsDefault    bool                   `json:"isDefault"`
	Availability []ScheduleAvailability `json:"availability"`
}

type ScheduleInput struct {
	Name         string                 `json:"name,omitempty"`
	TimeZone     string                 `json:"timeZone,omitempty"`
	IsDefault    *bool                  `json:"isDefault,omitempty"`
	Availability []ScheduleAvailability `json:"availability,omitempty"`
}

func (g *Gateway) ListSchedules(ctx context.Context, userID string) ([]Schedule, error) {
	env, err := g.Request(ctx, userID, http.MethodGet, "/schedules", nil, WithAPIVersion(SchedulesAPIVersion))
	if err != nil {
		return nil, err
	}
	var schedules []Schedule
	if err := env.Decode(&schedules); err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	return schedules, nil
}

func (g *Gateway) CreateSchedule(ctx context.Context, userID string, input ScheduleInput) (*Schedule, error) {
	env, err := g.Request(ctx, userID, http.MethodPost, "/schedules", input, WithAPIVersion(SchedulesAPIVersion))
	if err != nil {
		return nil, err
	}
	var schedule Schedule
	if err := env.Decode(&schedule); err != nil {
		return nil, fmt.Errorf("create schedule: %w", err)
	}
	return &schedule, nil
}

func (g *Gateway) UpdateSchedule(ctx context.Context, userID string, id int64, input ScheduleInput) (*Schedule, error) {
	env, err := g.Request(ctx, userID, http.MethodPatch, "/schedules/"+strconv.FormatInt(id, 10), input, WithAPIVersion(SchedulesAPIVersion))
	if err != nil {
		return nil, err
	}
	var schedule Schedule
	if err := env.Decode(&schedule); err != nil {
		return nil, fmt.Errorf("update schedule: %w", err)
	}
	return &schedule, nil
}

type Calendar struct {
	ExternalID string `json:"externalId"`
	Name       string `json:"name"`
	Primary    bool   `json:"primary"`
	IsSelected bool   `json:"isSelected"`
}

type ConnectedCalendar struct {
	Integration struct {
		Type string `json:"type"`
		Slug string `json:"slug"`
	} `json:"integration"`
	CredentialID int64      `json:"credentialId"`
	Primary      *Calendar  `json:"primary"`
	Calendars    []Calendar `json:"calendars"`
}

type calendarsData struct {
	ConnectedCalendars []ConnectedCalendar `json:"connectedCalendars"`
}

// ListCalendars returns the calendars connected through the user's account.
func (g *Gateway) ListCalendars(ctx context.Context, userID string) ([]ConnectedCalendar, error) {
	env, err := g.Request(ctx, userID, http.MethodGet, "/calendars", nil)
	if err != nil {
		return nil, err
	}
	var data calendarsData
	if err := env.Decode(&data); err != nil {
		return nil, fmt.Errorf("list calendars: %w", err)
	}
	return data.ConnectedCalendars, nil
}

type CalendarRef struct {
	CredentialID int64
	ExternalID   string
}

type BusyTimesQuery struct {
	TimeZone  string
	DateFrom  time.Time
	DateTo    time.Time
	Calendars []CalendarRef
}

type BusyTime struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Source string    `json:"source"`
}

// BusyTimes queries busy intervals across q.Calendars.
func (g *Gateway) BusyTimes(ctx context.Context, userID string, q BusyTimesQuery) ([]BusyTime, error) {
	query := url.Values{}
	query.Set("loggedInUsersTz", q.TimeZone)
	query.Set("dateFrom", q.DateFrom.Format("2006-01-02"))
	query.Set("dateTo", q.DateTo.Format("2006-01-02"))
	for i, ref := range q.Calendars {
		query.Set(fmt.Sprintf("calendarsToLoad[%d][credentialId]", i), strconv.FormatInt(ref.CredentialID, 10))
		query.Set(fmt.Sprintf("calendarsToLoad[%d][externalId]", i), ref.ExternalID)
	}

	env, err := g.Request(ctx, userID, http.MethodGet, "/calendars/busy-times", nil, WithQuery(query))
	if err != nil {
		return nil, err
	}
	var busy []BusyTime
	if err := env.Decode(&busy); err != nil {
		return nil, fmt.Errorf("busy times: %w", err)
	}
	return busy, nil
}

type Webhook struct {
	ID            ID       `json:"id"`
	SubscriberURL string   `json:"subscriberUrl"`
	Triggers      []string `json:"triggers"`
	Active        bool     `json:"active"`
}

type WebhookInput struct {
	SubscriberURL string   `json:"subscriberUrl"`
	Triggers      []string `json:"triggers"`
	Active        bool     `json:"active"`
	Secret        string   `json:"secret,omitempty"`
}

func (g *Gateway) ListWebhooks(ctx context.Context, userID string) ([]Webhook, error) {
	env, err := g.Request(ctx, userID, http.MethodGet, "/webhooks", nil)
	if err != nil {
		return nil, err
	}
	var webhooks []Webhook
	if err := env.Decode(&webhooks); err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	return webhooks, nil
}

func (g *Gateway) CreateWebhook(ctx context.Context, userID string, input WebhookInput) (*Webhook, error) {
	env, err := g.Request(ctx, userID, http.MethodPost, "/webhooks", input)
	if err != nil {
		return nil, err
	}
	var webhook Webhook
	if err := env.Decode(&webhook); err != nil {
		return nil, fmt.Errorf("create webhook: %w", err)
	}
	return &webhook, nil
}

func (g *Gateway) DeleteWebhook(ctx context.Context, userID, id string) error {
	_, err := g.Request(ctx, userID, http.MethodDelete, "/webhooks/"+url.PathEscape(id), nil)
	return err
}

type Me struct {
	ID                ID     `json:"id"`
	Username          string `json:"username"`
	Email             string `json:"email"`
	TimeZone          string `json:"timeZone"`
	DefaultScheduleID *int64 `json:"defaultScheduleId"`
}

// Me returns the provider profile of the token owner.
func (g *Gateway) Me(ctx context.Context, userID string) (*Me, error) {
	env, err := g.Request(ctx, userID, http.MethodGet, "/me", nil)
	if err != nil {
		return nil, err
	}
	var me Me
	if err := env.Decode(&me); err != nil {
		return nil, fmt.Errorf("me: %w", err)
	}
	return &me, nil
}

// AvailabilityFromWeekly groups identical intervals across days, in weekday order.
func AvailabilityFromWeekly(weekly models.Weekly) []ScheduleAvailability {
	var out []ScheduleAvailability
	index := map[models.TimeInterval]int{}
	for _, day := range models.Weekdays {
		for _, iv := range weekly[day] {
			i, ok := index[iv]
			if !ok {
				i = len(out)
				index[iv] = i
				out = append(out, ScheduleAvailability{StartTime: iv.Start, EndTime: iv.End})
			}
			out[i].Days = append(out[i].Days, titleDay(day))
		}
	}
	return out
}

// WeeklyFromAvailability is the inverse of AvailabilityFromWeekly. Unknown day
// names are skipped.
func WeeklyFromAvailability(availability []ScheduleAvailability) models.Weekly {
	weekly := models.Weekly{}
	for _, a := range availability {
		for _, day := range a.Days {
			key := strings.ToLower(day)
			if !isKnownDay(key) {
				continue
			}
			weekly[key] = append(weekly[key], models.TimeInterval{Start: a.StartTime, End: a.EndTime})
		}
	}
	return weekly
}

func titleDay(day string) string {
	if day == "" {
		return day
	}
	return strings.ToUpper(day[:1]) + day[1:]
}

func isKnownDay(day string) bool {
	for _, d := range models.Weekdays {
		if d == day {
			return true
		}
	}
	return false
}
