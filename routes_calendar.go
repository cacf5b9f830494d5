package main

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"coachcal-sync/models"
	"coachcal-sync/reconcile"
	"coachcal-sync/store"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// calendarService is the reconciler surface the dashboard server actions call.
type calendarService interface {
	ConnectManagedUser(ctx context.Context, userID string, input reconcile.ConnectInput) (*models.CalendarIntegration, error)
	Disconnect(ctx context.Context, userID string, provider models.Provider) error
	EnsureBookable(ctx context.Context, userID string) (*reconcile.BookableResult, error)
	ListEventTypes(ctx context.Context, userID string) ([]models.CalEventType, error)
	CreateEventType(ctx context.Context, userID string, input reconcile.EventTypeInput) (*reconcile.EventTypeResult, error)
	UpdateEventType(ctx context.Context, userID, id string, update reconcile.EventTypeUpdate) (*reconcile.EventTypeResult, error)
	DeleteEventType(ctx context.Context, userID, id string) (*reconcile.EventTypeResult, error)
	EnsureDefaultEventTypes(ctx context.Context, userID string) (*reconcile.EnsureResult, error)
	SyncEventTypes(ctx context.Context, userID string) (*reconcile.SyncResult, error)
	GetAvailability(ctx context.Context, userID string) (*models.AvailabilitySchedule, error)
	SaveAvailability(ctx context.Context, userID string, input reconcile.AvailabilityInput) (*reconcile.ScheduleResult, error)
	GetBusyTimes(ctx context.Context, userID string, date time.Time, browserTZ string) ([]models.BusyInterval, error)
	EnsureDefaultWebhook(ctx context.Context, userID string) (*reconcile.WebhookResult, error)
	ProfileCompletion(ctx context.Context, userID string) (models.Completion, error)
}

// tokenChecker validates a user's stored credentials, refreshing them if needed.
type tokenChecker interface {
	EnsureValidToken(ctx context.Context, userID string) (string, error)
}

// CalendarHandler serves the calendar server actions of the coach dashboard.
type CalendarHandler struct {
	service      calendarService
	integrations store.IntegrationRepository
	bookings     store.BookingRepository
	tokens       map[models.Provider]tokenChecker
	logger       *zap.Logger
}

// NewCalendarHandler wires the dashboard routes. tokens maps each provider to
// the manager used by the status route.
func NewCalendarHandler(service calendarService, integrations store.IntegrationRepository, bookings store.BookingRepository, tokens map[models.Provider]tokenChecker, logger *zap.Logger) *CalendarHandler {
	return &CalendarHandler{
		service:      service,
		integrations: integrations,
		bookings:     bookings,
		tokens:       tokens,
		logger:       logger,
	}
}

func (h *CalendarHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/calendar/connect", h.handleConnect).Methods("POST")
	r.HandleFunc("/api/calendar/connect", h.handleDisconnect).Methods("DELETE")
	r.HandleFunc("/api/calendar/status", h.handleStatus).Methods("GET")
	r.HandleFunc("/api/calendar/bookable", h.handleBookable).Methods("POST")

	r.HandleFunc("/api/event-types", h.handleListEventTypes).Methods("GET")
	r.HandleFunc("/api/event-types", h.handleCreateEventType).Methods("POST")
	r.HandleFunc("/api/event-types/defaults", h.handleEnsureDefaults).Methods("POST")
	r.HandleFunc("/api/event-types/sync", h.handleSyncEventTypes).Methods("POST")
	r.HandleFunc("/api/event-types/{id}", h.handleUpdateEventType).Methods("PATCH")
	r.HandleFunc("/api/event-types/{id}", h.handleDeleteEventType).Methods("DELETE")

	r.HandleFunc("/api/availability", h.handleGetAvailability).Methods("GET")
	r.HandleFunc("/api/availability", h.handleSaveAvailability).Methods("PUT")
	r.HandleFunc("/api/availability/busy", h.handleBusyTimes).Methods("GET")

	r.HandleFunc("/api/webhooks/default", h.handleEnsureWebhook).Methods("POST")
	r.HandleFunc("/api/profile/completion", h.handleProfileCompletion).Methods("GET")
	r.HandleFunc("/api/bookings/upcoming", h.handleUpcomingBookings).Methods("GET")
}

func (h *CalendarHandler) handleConnect(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var input reconcile.ConnectInput
	if err := decodeBody(r, &input); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	integration, err := h.service.ConnectManagedUser(r.Context(), userID, input)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, integration)
}

func (h *CalendarHandler) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	provider := models.Provider(strings.TrimSpace(r.URL.Query().Get("provider")))
	if provider == "" {
		provider = models.ProviderCalcom
	}
	if provider != models.ProviderCalcom && provider != models.ProviderCalendly {
		writeBadRequest(w, "provider must be calcom or calendly")
		return
	}
	if err := h.service.Disconnect(r.Context(), userID, provider); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ConnectionStatus is one provider entry of GET /api/calendar/status.
type ConnectionStatus struct {
	Provider          models.Provider `json:"provider"`
	Connected         bool            `json:"connected"`
	TokenValid        bool            `json:"token_valid"`
	ReconnectRequired bool            `json:"reconnect_required"`
	ExpiresAt         *time.Time      `json:"expires_at,omitempty"`
}

func (h *CalendarHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	statuses := make([]ConnectionStatus, 0, 2)
	for _, provider := range []models.Provider{models.ProviderCalcom, models.ProviderCalendly} {
		status := ConnectionStatus{Provider: provider}
		integration, err := h.integrations.GetActive(ctx, userID, provider)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		if integration != nil {
			status.Connected = true
			if checker, ok := h.tokens[provider]; ok {
				_, err := checker.EnsureValidToken(ctx, userID)
				status.TokenValid = err == nil
				status.ReconnectRequired = err != nil && classifyReconnect(err)
				if err != nil && !status.ReconnectRequired {
					h.logger.Warn("token check failed", zap.String("user_id", userID), zap.String("provider", string(provider)), zap.Error(err))
				}
			}
			// Re-read so a refresh done by the check is reflected.
			if fresh, err := h.integrations.GetActive(ctx, userID, provider); err == nil && fresh != nil {
				expires := fresh.AccessTokenExpiresAt
				status.ExpiresAt = &expires
			}
		}
		statuses = append(statuses, status)
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "providers": statuses})
}

func classifyReconnect(err error) bool {
	_, code := classifyError(err)
	return code == "reconnect_calendar"
}

func (h *CalendarHandler) handleBookable(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	result, err := h.service.EnsureBookable(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *CalendarHandler) handleListEventTypes(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	eventTypes, err := h.service.ListEventTypes(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"event_types": eventTypes})
}

func (h *CalendarHandler) handleCreateEventType(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var input reconcile.EventTypeInput
	if err := decodeBody(r, &input); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	result, err := h.service.CreateEventType(r.Context(), userID, input)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *CalendarHandler) handleEnsureDefaults(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	result, err := h.service.EnsureDefaultEventTypes(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *CalendarHandler) handleSyncEventTypes(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	result, err := h.service.SyncEventTypes(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *CalendarHandler) handleUpdateEventType(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var update reconcile.EventTypeUpdate
	if err := decodeBody(r, &update); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	result, err := h.service.UpdateEventType(r.Context(), userID, mux.Vars(r)["id"], update)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *CalendarHandler) handleDeleteEventType(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	result, err := h.service.DeleteEventType(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *CalendarHandler) handleGetAvailability(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	schedule, err := h.service.GetAvailability(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}

func (h *CalendarHandler) handleSaveAvailability(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var input reconcile.AvailabilityInput
	if err := decodeBody(r, &input); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	result, err := h.service.SaveAvailability(r.Context(), userID, input)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleBusyTimes expects ?date=YYYY-MM-DD and an optional browser ?tz=.
func (h *CalendarHandler) handleBusyTimes(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var date time.Time
	if raw := strings.TrimSpace(r.URL.Query().Get("date")); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeBadRequest(w, "date must be YYYY-MM-DD")
			return
		}
		date = parsed
	}
	busy, err := h.service.GetBusyTimes(r.Context(), userID, date, r.URL.Query().Get("tz"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"busy": busy})
}

func (h *CalendarHandler) handleEnsureWebhook(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	result, err := h.service.EnsureDefaultWebhook(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *CalendarHandler) handleProfileCompletion(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	completion, err := h.service.ProfileCompletion(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, completion)
}

func (h *CalendarHandler) handleUpcomingBookings(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 200 {
			writeBadRequest(w, "limit must be between 1 and 200")
			return
		}
		limit = n
	}
	bookings, err := h.bookings.ListUpcoming(r.Context(), userID, time.Now().UTC(), limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}
