package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"coachcal-sync/calcom"
	"coachcal-sync/events"
	"coachcal-sync/models"
	"coachcal-sync/store"
	"coachcal-sync/streams"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const (
	signatureHeader = "X-Cal-Signature-256"
	triggerPing     = "PING"
)

// bookingFeed is where accepted deliveries are appended for live dashboards.
type bookingFeed interface {
	Append(ctx context.Context, evt streams.BookingEvent) (string, error)
}

// deliveryDeduper drops provider retries of a delivery already processed.
type deliveryDeduper interface {
	FirstDelivery(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}

// CalcomWebhookHandler receives booking webhooks from Cal.com.
type CalcomWebhookHandler struct {
	secret       string
	integrations store.IntegrationRepository
	bookings     store.BookingRepository
	feed         bookingFeed
	dedupe       deliveryDeduper
	publisher    events.Publisher
	validate     *validator.Validate
	logger       *zap.Logger
}

// NewCalcomWebhookHandler verifies deliveries with secret; an empty secret
// accepts unsigned deliveries.
func NewCalcomWebhookHandler(secret string, integrations store.IntegrationRepository, bookings store.BookingRepository, feed bookingFeed, dedupe deliveryDeduper, publisher events.Publisher, logger *zap.Logger) *CalcomWebhookHandler {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &CalcomWebhookHandler{
		secret:       secret,
		integrations: integrations,
		bookings:     bookings,
		feed:         feed,
		dedupe:       dedupe,
		publisher:    publisher,
		validate:     validator.New(),
		logger:       logger,
	}
}

func (h *CalcomWebhookHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/webhooks/calcom", h.handleDelivery).Methods("POST")
}

type calcomWebhook struct {
	TriggerEvent string               `json:"triggerEvent" validate:"required"`
	CreatedAt    string               `json:"createdAt"`
	Payload      calcomBookingPayload `json:"payload"`
}

type calcomBookingPayload struct {
	UID         string    `json:"uid" validate:"required"`
	Title       string    `json:"title"`
	EventTypeID calcom.ID `json:"eventTypeId"`
	StartTime   time.Time `json:"startTime" validate:"required"`
	EndTime     time.Time `json:"endTime" validate:"required,gtfield=StartTime"`
	Status      string    `json:"status"`
	Organizer   struct {
		ID       calcom.ID `json:"id" validate:"required"`
		Email    string    `json:"email"`
		TimeZone string    `json:"timeZone"`
	} `json:"organizer"`
	Attendees []struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	} `json:"attendees"`
}

// DeliveryResponse tells the provider what happened to a delivery.
type DeliveryResponse struct {
	Status string `json:"status"`
}

func (h *CalcomWebhookHandler) handleDelivery(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeBadRequest(w, "unreadable body")
		return
	}
	if h.secret != "" && !validSignature(h.secret, body, r.Header.Get(signatureHeader)) {
		h.logger.Warn("webhook signature rejected", zap.String("remote", r.RemoteAddr))
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "invalid signature", Code: "invalid_signature"})
		return
	}

	var delivery calcomWebhook
	if err := json.Unmarshal(body, &delivery); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if delivery.TriggerEvent == triggerPing {
		writeJSON(w, http.StatusOK, DeliveryResponse{Status: "pong"})
		return
	}
	if err := h.validate.Struct(delivery); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "invalid_payload"})
		return
	}
	p := delivery.Payload

	integration, err := h.integrations.GetByExternalUserID(ctx, models.ProviderCalcom, p.Organizer.ID.String())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if integration == nil {
		h.logger.Info("webhook for unknown organizer ignored",
			zap.String("organizer_id", p.Organizer.ID.String()),
			zap.String("trigger", delivery.TriggerEvent))
		writeJSON(w, http.StatusAccepted, DeliveryResponse{Status: "ignored"})
		return
	}

	key := strings.Join([]string{p.UID, delivery.TriggerEvent, delivery.CreatedAt}, ":")
	first, err := h.dedupe.FirstDelivery(ctx, key)
	if err != nil {
		// Processing twice is safer than dropping a booking.
		h.logger.Warn("webhook dedupe unavailable", zap.Error(err))
		first = true
	}
	if !first {
		writeJSON(w, http.StatusOK, DeliveryResponse{Status: "duplicate"})
		return
	}

	booking := &models.Booking{
		UID:                 p.UID,
		UserID:              integration.UserID,
		ExternalEventTypeID: p.EventTypeID.Int64(),
		Title:               p.Title,
		StartTime:           p.StartTime.UTC(),
		EndTime:             p.EndTime.UTC(),
		Status:              bookingStatus(delivery.TriggerEvent, p.Status),
		ProviderUpdatedAt:   deliveryTime(delivery.CreatedAt),
	}
	if len(p.Attendees) > 0 {
		booking.AttendeeEmail = p.Attendees[0].Email
		booking.AttendeeName = p.Attendees[0].Name
	}
	if err := h.bookings.Upsert(ctx, booking); err != nil {
		if errors.Is(err, models.ErrStaleBooking) {
			h.logger.Info("out-of-order booking delivery ignored",
				zap.String("booking_uid", booking.UID),
				zap.String("trigger", delivery.TriggerEvent),
				zap.Time("emitted_at", booking.ProviderUpdatedAt))
			writeJSON(w, http.StatusOK, DeliveryResponse{Status: "stale"})
			return
		}
		if ferr := h.dedupe.Forget(ctx, key); ferr != nil {
			h.logger.Warn("webhook dedupe forget failed", zap.Error(ferr))
		}
		writeError(w, h.logger, err)
		return
	}

	if _, err := h.feed.Append(ctx, streams.BookingEvent{
		UserID:     booking.UserID,
		Trigger:    delivery.TriggerEvent,
		BookingUID: booking.UID,
		Title:      booking.Title,
		Status:     booking.Status,
		StartTime:  booking.StartTime,
		EndTime:    booking.EndTime,
	}); err != nil {
		h.logger.Warn("booking feed append failed", zap.String("booking_uid", booking.UID), zap.Error(err))
	}
	if err := h.publisher.PublishBooking(events.BookingEvent{
		EventType:  delivery.TriggerEvent,
		CoachID:    booking.UserID,
		BookingUID: booking.UID,
		Title:      booking.Title,
		Status:     booking.Status,
		StartTime:  booking.StartTime,
		EndTime:    booking.EndTime,
		Attendee:   booking.AttendeeEmail,
	}); err != nil {
		h.logger.Warn("booking notification failed", zap.String("booking_uid", booking.UID), zap.Error(err))
	}

	h.logger.Info("booking webhook processed",
		zap.String("user_id", booking.UserID),
		zap.String("booking_uid", booking.UID),
		zap.String("trigger", delivery.TriggerEvent))
	writeJSON(w, http.StatusOK, DeliveryResponse{Status: "processed"})
}

// validSignature checks the hex HMAC-SHA256 of body.
func validSignature(secret string, body []byte, signature string) bool {
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// deliveryTime parses the provider's createdAt. Deliveries without one sort
// as received now.
func deliveryTime(createdAt string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(createdAt))
	if err != nil {
		return time.Now().UTC()
	}
	return t.UTC()
}

func bookingStatus(trigger, status string) string {
	switch trigger {
	case models.TriggerBookingCancelled:
		return "cancelled"
	case models.TriggerMeetingEnded:
		return "ended"
	}
	if status = strings.ToLower(strings.TrimSpace(status)); status != "" {
		return status
	}
	if trigger == models.TriggerBookingRequested {
		return "pending"
	}
	return "accepted"
}
