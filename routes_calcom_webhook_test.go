package main

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"coachcal-sync/events"
	"coachcal-sync/models"
	"coachcal-sync/store/storetest"
	"coachcal-sync/streams"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testWebhookSecret = "whsec_test"

type recordingPublisher struct {
	events []events.BookingEvent
	err    error
}

func (p *recordingPublisher) PublishBooking(evt events.BookingEvent) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, evt)
	return nil
}

type webhookHarness struct {
	router    *mux.Router
	bookings  *storetest.Bookings
	feed      *streams.Feed
	publisher *recordingPublisher
}

func newWebhookHarness(t *testing.T) *webhookHarness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	integrations := storetest.NewIntegrations(&models.CalendarIntegration{
		UserID:         "coach-1",
		Provider:       models.ProviderCalcom,
		ExternalUserID: "5001",
	})
	h := &webhookHarness{
		router:    mux.NewRouter(),
		bookings:  storetest.NewBookings(),
		feed:      streams.NewFeed(client).WithBlock(50 * time.Millisecond),
		publisher: &recordingPublisher{},
	}
	NewCalcomWebhookHandler(testWebhookSecret, integrations, h.bookings, h.feed,
		streams.NewDeduper(client, time.Hour), h.publisher, zap.NewNop()).RegisterRoutes(h.router)
	return h
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func bookingDelivery(trigger string, organizerID any) []byte {
	return bookingDeliveryAt(trigger, organizerID, "2026-10-15T09:00:00.000Z")
}

func bookingDeliveryAt(trigger string, organizerID any, createdAt string) []byte {
	body, _ := json.Marshal(map[string]any{
		"triggerEvent": trigger,
		"createdAt":    createdAt,
		"payload": map[string]any{
			"uid":         "bk-1",
			"title":       "Coaching Session between Dana and Sam",
			"eventTypeId": 1001,
			"startTime":   "2026-10-20T16:00:00Z",
			"endTime":     "2026-10-20T17:00:00Z",
			"status":      "ACCEPTED",
			"organizer":   map[string]any{"id": organizerID, "email": "dana@example.com", "timeZone": "America/Denver"},
			"attendees":   []map[string]any{{"email": "sam@example.com", "name": "Sam"}},
		},
	})
	return body
}

func (h *webhookHarness) deliver(t *testing.T, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/calcom", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(signatureHeader, signature)
	}
	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, req)
	return rr
}

func deliveryStatus(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp DeliveryResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp.Status
}

func TestCalcomWebhookProcessesBooking(t *testing.T) {
	h := newWebhookHarness(t)
	body := bookingDelivery(models.TriggerBookingCreated, 5001)

	rr := h.deliver(t, body, sign(body))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "processed", deliveryStatus(t, rr))

	booking, ok := h.bookings.Get("bk-1")
	require.True(t, ok)
	assert.Equal(t, "coach-1", booking.UserID)
	assert.Equal(t, int64(1001), booking.ExternalEventTypeID)
	assert.Equal(t, "accepted", booking.Status)
	assert.Equal(t, "sam@example.com", booking.AttendeeEmail)

	feedEvents, _, err := h.feed.Tail(context.Background(), "coach-1", "0")
	require.NoError(t, err)
	require.Len(t, feedEvents, 1)
	assert.Equal(t, models.TriggerBookingCreated, feedEvents[0].Trigger)

	require.Len(t, h.publisher.events, 1)
	assert.Equal(t, "coach-1", h.publisher.events[0].CoachID)
	assert.Equal(t, "bk-1", h.publisher.events[0].BookingUID)
}

func TestCalcomWebhookDropsDuplicateDelivery(t *testing.T) {
	h := newWebhookHarness(t)
	body := bookingDelivery(models.TriggerBookingCreated, "5001")

	first := h.deliver(t, body, sign(body))
	require.Equal(t, http.StatusOK, first.Code)
	second := h.deliver(t, body, sign(body))
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "duplicate", deliveryStatus(t, second))
	assert.Len(t, h.publisher.events, 1)

	cancelled := bookingDelivery(models.TriggerBookingCancelled, "5001")
	rr := h.deliver(t, cancelled, sign(cancelled))
	require.Equal(t, http.StatusOK, rr.Code)
	booking, _ := h.bookings.Get("bk-1")
	assert.Equal(t, "cancelled", booking.Status)
}

func TestCalcomWebhookIgnoresOlderDelivery(t *testing.T) {
	h := newWebhookHarness(t)

	cancelled := bookingDeliveryAt(models.TriggerBookingCancelled, 5001, "2026-10-15T10:00:00.000Z")
	rr := h.deliver(t, cancelled, sign(cancelled))
	require.Equal(t, http.StatusOK, rr.Code)

	// A late retry of the original creation must not revive the booking
	created := bookingDeliveryAt(models.TriggerBookingCreated, 5001, "2026-10-15T09:00:00.000Z")
	rr = h.deliver(t, created, sign(created))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "stale", deliveryStatus(t, rr))

	booking, ok := h.bookings.Get("bk-1")
	require.True(t, ok)
	assert.Equal(t, "cancelled", booking.Status)
	assert.Len(t, h.publisher.events, 1)

	feedEvents, _, err := h.feed.Tail(context.Background(), "coach-1", "0")
	require.NoError(t, err)
	assert.Len(t, feedEvents, 1)
}

func TestDeliveryTime(t *testing.T) {
	assert.Equal(t, time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC), deliveryTime("2026-10-15T09:00:00.000Z"))
	assert.WithinDuration(t, time.Now(), deliveryTime(""), time.Minute)
}

func TestCalcomWebhookRejectsBadSignature(t *testing.T) {
	h := newWebhookHarness(t)
	body := bookingDelivery(models.TriggerBookingCreated, 5001)

	assert.Equal(t, http.StatusUnauthorized, h.deliver(t, body, "").Code)
	assert.Equal(t, http.StatusUnauthorized, h.deliver(t, body, sign([]byte("other"))).Code)
	_, ok := h.bookings.Get("bk-1")
	assert.False(t, ok)
}

func TestCalcomWebhookUnknownOrganizerIsAccepted(t *testing.T) {
	h := newWebhookHarness(t)
	body := bookingDelivery(models.TriggerBookingCreated, 9999)

	rr := h.deliver(t, body, sign(body))
	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, "ignored", deliveryStatus(t, rr))
	assert.Empty(t, h.publisher.events)
}

func TestCalcomWebhookValidatesPayload(t *testing.T) {
	h := newWebhookHarness(t)

	missingUID, _ := json.Marshal(map[string]any{
		"triggerEvent": models.TriggerBookingCreated,
		"payload": map[string]any{
			"startTime": "2026-10-20T16:00:00Z",
			"endTime":   "2026-10-20T17:00:00Z",
			"organizer": map[string]any{"id": 5001},
		},
	})
	assert.Equal(t, http.StatusBadRequest, h.deliver(t, missingUID, sign(missingUID)).Code)

	garbage := []byte("{not json")
	assert.Equal(t, http.StatusBadRequest, h.deliver(t, garbage, sign(garbage)).Code)

	ping, _ := json.Marshal(map[string]any{"triggerEvent": "PING"})
	rr := h.deliver(t, ping, sign(ping))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "pong", deliveryStatus(t, rr))
}

func TestCalcomWebhookNotificationFailureDoesNotFailDelivery(t *testing.T) {
	h := newWebhookHarness(t)
	h.publisher.err = errors.New("nats down")
	body := bookingDelivery(models.TriggerBookingCreated, 5001)

	rr := h.deliver(t, body, sign(body))
	assert.Equal(t, http.StatusOK, rr.Code)
	_, ok := h.bookings.Get("bk-1")
	assert.True(t, ok)
}

func TestBookingStatus(t *testing.T) {
	assert.Equal(t, "cancelled", bookingStatus(models.TriggerBookingCancelled, "ACCEPTED"))
	assert.Equal(t, "ended", bookingStatus(models.TriggerMeetingEnded, ""))
	assert.Equal(t, "pending", bookingStatus(models.TriggerBookingRequested, ""))
	assert.Equal(t, "accepted", bookingStatus(models.TriggerBookingRescheduled, "ACCEPTED"))
	assert.Equal(t, "accepted", bookingStatus(models.TriggerBookingCreated, ""))
}
