package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"coachcal-sync/streams"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// bookingTailer blocks for booking feed entries after an ID.
type bookingTailer interface {
	LatestID(ctx context.Context, userID string) (string, error)
	Tail(ctx context.Context, userID, afterID string) ([]streams.BookingEvent, string, error)
}

type bookingFeedHandler struct {
	feed   bookingTailer
	logger *zap.Logger
}

func registerBookingFeedRoutes(r *mux.Router, feed bookingTailer, logger *zap.Logger) {
	h := &bookingFeedHandler{feed: feed, logger: logger}
	r.HandleFunc("/api/bookings/feed", h.handleWebSocket).Methods("GET")
}

var feedUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The auth proxy in front of the service checks the origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebSocket pushes new booking events to the dashboard. ?after= resumes
// from a feed ID; without it only events from now on are sent.
func (h *bookingFeedHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.feed == nil {
		http.Error(w, "booking feed unavailable", http.StatusServiceUnavailable)
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	lastID := strings.TrimSpace(r.URL.Query().Get("after"))
	if lastID == "" {
		// Pin the start before upgrading so nothing appended meanwhile is missed.
		latest, err := h.feed.LatestID(r.Context(), userID)
		if err != nil {
			h.logger.Warn("booking feed position unavailable", zap.String("user_id", userID), zap.Error(err))
			http.Error(w, "booking feed unavailable", http.StatusServiceUnavailable)
			return
		}
		lastID = latest
	}

	conn, err := feedUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The client never sends data; a failed read means it went away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		events, nextID, err := h.feed.Tail(ctx, userID, lastID)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			h.logger.Warn("booking feed tail failed", zap.String("user_id", userID), zap.Error(err))
			time.Sleep(300 * time.Millisecond)
			continue
		}
		lastID = nextID
		for _, evt := range events {
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		}
	}
}
