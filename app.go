package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"coachcal-sync/calcom"
	"coachcal-sync/config"
	"coachcal-sync/events"
	"coachcal-sync/models"
	"coachcal-sync/reconcile"
	"coachcal-sync/security"
	"coachcal-sync/store"
	"coachcal-sync/streams"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const VERSION = "0.1.0"

type HealthResponse struct {
	OK      bool   `json:"ok"`
	Version string `json:"version"`
	Service string `json:"service"`
}

// app owns every long-lived dependency of the service.
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	db    *sqlx.DB
	redis *redis.Client
	nats  *nats.Conn

	integrations store.IntegrationRepository
	bookings     store.BookingRepository

	service        *reconcile.Service
	calcomTokens   *security.TokenManager
	calendlyTokens *security.TokenManager
	calendly       *security.CalendlyOAuth
	feed           *streams.Feed
	dedupe         *streams.Deduper
	publisher      events.Publisher
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	db, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a.db = db

	redisClient, err := streams.Connect(ctx, cfg.RedisURL)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.redis = redisClient

	a.publisher = events.NopPublisher{}
	if cfg.NatsURL != "" {
		publisher, conn, err := events.NewNatsPublisher(cfg.NatsURL, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.publisher, a.nats = publisher, conn
	} else {
		logger.Info("NATS_URL empty, booking notifications disabled")
	}

	a.integrations = store.NewPostgresIntegrationRepository(db)
	a.bookings = store.NewPostgresBookingRepository(db)

	var tokenOpts []security.Option
	tokenOpts = append(tokenOpts, security.WithSafetyMargin(cfg.TokenSafetyMargin))
	if cfg.CalRefreshLease {
		tokenOpts = append(tokenOpts, security.WithRefreshLease(redisClient, 0))
	}

	oauthClient := calcom.NewOAuthClient(cfg.CalAPIBaseURL, cfg.CalOAuthClientID, cfg.CalOAuthSecret, cfg.CalRequestTimeout, logger)
	a.calcomTokens = security.NewTokenManager(models.ProviderCalcom, oauthClient, a.integrations, logger, tokenOpts...)
	gateway := calcom.NewGateway(calcom.GatewayConfig{
		BaseURL:    cfg.CalAPIBaseURL,
		APIVersion: cfg.CalAPIVersion,
		Timeout:    cfg.CalRequestTimeout,
	}, a.calcomTokens, calcom.NewRateLimiter(cfg.CalRateLimitPerMin), logger)

	a.calendly = security.NewCalendlyOAuth(cfg.CalendlyClientID, cfg.CalendlySecret, cfg.CalendlyRedirectURL,
		security.CalendlyEndpoint, redisClient, a.integrations, logger)
	a.calendlyTokens = security.NewTokenManager(models.ProviderCalendly, a.calendly, a.integrations, logger, tokenOpts...)

	a.service = reconcile.NewService(reconcile.Config{
		Provider:       gateway,
		ManagedUsers:   oauthClient,
		Integrations:   a.integrations,
		EventTypes:     store.NewPostgresEventTypeRepository(db),
		Webhooks:       store.NewPostgresWebhookRepository(db),
		Schedules:      store.NewPostgresScheduleRepository(db),
		Profiles:       store.NewPostgresProfileRepository(db),
		WebhookURL:     cfg.WebhookURL(),
		WebhookSecret:  cfg.CalWebhookSecret,
		IntervalPolicy: models.IntervalPolicy(cfg.AvailabilityPolicy),
		Logger:         logger,
	})

	a.feed = streams.NewFeed(redisClient)
	a.dedupe = streams.NewDeduper(redisClient, 0)
	return a, nil
}

func (a *app) router() *mux.Router {
	r := mux.NewRouter()
	r.Use(rateLimitByUser(calcom.NewRateLimiter(a.cfg.APIRateLimitPerMin), a.logger))
	r.HandleFunc("/healthz", healthHandler).Methods("GET")

	NewCalcomWebhookHandler(a.cfg.CalWebhookSecret, a.integrations, a.bookings, a.feed, a.dedupe, a.publisher, a.logger).RegisterRoutes(r)
	NewCalendarHandler(a.service, a.integrations, a.bookings, map[models.Provider]tokenChecker{
		models.ProviderCalcom:   a.calcomTokens,
		models.ProviderCalendly: a.calendlyTokens,
	}, a.logger).RegisterRoutes(r)
	NewCalendlyAuthHandler(a.calendly, a.logger).RegisterRoutes(r)
	registerBookingFeedRoutes(r, a.feed, a.logger)
	return r
}

func (a *app) Close() {
	if a.nats != nil {
		if err := a.nats.Drain(); err != nil {
			a.logger.Warn("nats drain failed", zap.Error(err))
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(HealthResponse{
		OK:      true,
		Version: VERSION,
		Service: "coachcal-sync",
	})
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
