package reconcile

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"coachcal-sync/calcom"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// fakeCal is a stateful stand-in for the Cal.com v2 API.
type fakeCal struct {
	mu sync.Mutex

	nextID     int64
	eventTypes []calcom.EventType
	schedules  []calcom.Schedule
	webhooks   []calcom.Webhook
	calendars  []calcom.ConnectedCalendar
	busy       []calcom.BusyTime
	me         calcom.Me

	posts   map[string]int
	patches map[string]int
	deletes map[string]int

	// failSlugs maps an event type slug to the status its creation fails with.
	failSlugs map[string]int
	// rejectToken answers every request with 498.
	rejectToken bool
}

func newFakeCal() *fakeCal {
	return &fakeCal{
		nextID:     1000,
		eventTypes: []calcom.EventType{},
		schedules:  []calcom.Schedule{},
		webhooks:   []calcom.Webhook{},
		calendars:  []calcom.ConnectedCalendar{},
		busy:       []calcom.BusyTime{},
		posts:      map[string]int{},
		patches:    map[string]int{},
		deletes:    map[string]int{},
		failSlugs:  map[string]int{},
		me:         calcom.Me{ID: "77", Username: "coach", TimeZone: "America/Denver"},
	}
}

func (f *fakeCal) router() http.Handler {
	r := mux.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			f.mu.Lock()
			reject := f.rejectToken
			f.mu.Unlock()
			if reject {
				w.WriteHeader(calcom.StatusTokenExpired)
				return
			}
			next.ServeHTTP(w, req)
		})
	})
	r.HandleFunc("/me", f.getMe).Methods(http.MethodGet)
	r.HandleFunc("/event-types", f.listEventTypes).Methods(http.MethodGet)
	r.HandleFunc("/event-types", f.createEventType).Methods(http.MethodPost)
	r.HandleFunc("/event-types/{id}", f.updateEventType).Methods(http.MethodPatch)
	r.HandleFunc("/event-types/{id}", f.deleteEventType).Methods(http.MethodDelete)
	r.HandleFunc("/schedules", f.listSchedules).Methods(http.MethodGet)
	r.HandleFunc("/schedules", f.createSchedule).Methods(http.MethodPost)
	r.HandleFunc("/schedules/{id}", f.updateSchedule).Methods(http.MethodPatch)
	r.HandleFunc("/calendars", f.listCalendars).Methods(http.MethodGet)
	r.HandleFunc("/calendars/busy-times", f.busyTimes).Methods(http.MethodGet)
	r.HandleFunc("/webhooks", f.listWebhooks).Methods(http.MethodGet)
	r.HandleFunc("/webhooks", f.createWebhook).Methods(http.MethodPost)
	r.HandleFunc("/webhooks/{id}", f.deleteWebhook).Methods(http.MethodDelete)
	return r
}

func (f *fakeCal) id() calcom.ID {
	f.nextID++
	return calcom.ID(strconv.FormatInt(f.nextID, 10))
}

func writeData(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "success", "data": data})
}

func writeFailure(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "error", "error": map[string]string{"code": "Error", "message": message}})
}

func (f *fakeCal) getMe(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	writeData(w, f.me)
}

func (f *fakeCal) listEventTypes(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	writeData(w, f.eventTypes)
}

func (f *fakeCal) createEventType(w http.ResponseWriter, r *http.Request) {
	var input calcom.EventTypeInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts["/event-types"]++
	if status, ok := f.failSlugs[input.Slug]; ok {
		writeFailure(w, status, "cannot create "+input.Slug)
		return
	}
	for _, et := range f.eventTypes {
		if et.Slug == input.Slug {
			writeFailure(w, http.StatusBadRequest, "slug taken")
			return
		}
	}
	et := calcom.EventType{
		ID:              f.id(),
		Title:           input.Title,
		Slug:            input.Slug,
		LengthInMinutes: input.LengthInMinutes,
		Locations:       input.Locations,
	}
	if input.Description != nil {
		et.Description = *input.Description
	}
	f.eventTypes = append(f.eventTypes, et)
	writeData(w, et)
}

func (f *fakeCal) updateEventType(w http.ResponseWriter, r *http.Request) {
	var input calcom.EventTypeInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches["/event-types"]++
	id := mux.Vars(r)["id"]
	for i := range f.eventTypes {
		et := &f.eventTypes[i]
		if et.ID.String() != id {
			continue
		}
		if input.Title != "" {
			et.Title = input.Title
		}
		if input.LengthInMinutes != 0 {
			et.LengthInMinutes = input.LengthInMinutes
		}
		if input.Hidden != nil {
			et.Hidden = *input.Hidden
		}
		writeData(w, et)
		return
	}
	writeFailure(w, http.StatusNotFound, "event type not found")
}

func (f *fakeCal) deleteEventType(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes["/event-types"]++
	id := mux.Vars(r)["id"]
	for i, et := range f.eventTypes {
		if et.ID.String() == id {
			f.eventTypes = append(f.eventTypes[:i], f.eventTypes[i+1:]...)
			writeData(w, et)
			return
		}
	}
	writeFailure(w, http.StatusNotFound, "event type not found")
}

func (f *fakeCal) listSchedules(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	writeData(w, f.schedules)
}

func (f *fakeCal) createSchedule(w http.ResponseWriter, r *http.Request) {
	var input calcom.ScheduleInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts["/schedules"]++
	schedule := calcom.Schedule{
		ID:           f.id(),
		Name:         input.Name,
		TimeZone:     input.TimeZone,
		IsDefault:    input.IsDefault != nil && *input.IsDefault,
		Availability: input.Availability,
	}
	f.schedules = append(f.schedules, schedule)
	writeData(w, schedule)
}

func (f *fakeCal) updateSchedule(w http.ResponseWriter, r *http.Request) {
	var input calcom.ScheduleInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches["/schedules"]++
	id := mux.Vars(r)["id"]
	for i := range f.schedules {
		if f.schedules[i].ID.String() == id {
			f.schedules[i].Availability = input.Availability
			f.schedules[i].TimeZone = input.TimeZone
			writeData(w, f.schedules[i])
			return
		}
	}
	writeFailure(w, http.StatusNotFound, "schedule not found")
}

func (f *fakeCal) listCalendars(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	writeData(w, map[string]any{"connectedCalendars": f.calendars})
}

func (f *fakeCal) busyTimes(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	writeData(w, f.busy)
}

func (f *fakeCal) listWebhooks(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	writeData(w, f.webhooks)
}

func (f *fakeCal) createWebhook(w http.ResponseWriter, r *http.Request) {
	var input calcom.WebhookInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts["/webhooks"]++
	webhook := calcom.Webhook{ID: f.id(), SubscriberURL: input.SubscriberURL, Triggers: input.Triggers, Active: input.Active}
	f.webhooks = append(f.webhooks, webhook)
	writeData(w, webhook)
}

func (f *fakeCal) deleteWebhook(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes["/webhooks"]++
	id := mux.Vars(r)["id"]
	for i, wh := range f.webhooks {
		if wh.ID.String() == id {
			f.webhooks = append(f.webhooks[:i], f.webhooks[i+1:]...)
			writeData(w, wh)
			return
		}
	}
	writeFailure(w, http.StatusNotFound, "webhook not found")
}

func (f *fakeCal) count(counter map[string]int, path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return counter[path]
}

// staticTokens always hands out the same token.
type staticTokens struct{}

func (staticTokens) EnsureValidToken(context.Context, string) (string, error) { return "token", nil }
func (staticTokens) RenewToken(context.Context, string) (string, error)       { return "token", nil }

func newFakeGateway(t *testing.T, cal *fakeCal) *calcom.Gateway {
	t.Helper()
	server := httptest.NewServer(cal.router())
	t.Cleanup(server.Close)
	return calcom.NewGateway(calcom.GatewayConfig{BaseURL: server.URL}, staticTokens{}, nil, zap.NewNop())
}
