package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"carpool/internal/app"
	"carpool/internal/auth"
	"carpool/internal/config"
	"carpool/internal/handler"
	"carpool/internal/logging"
	"carpool/internal/notify"
	"carpool/internal/presence"
	"carpool/internal/realtime"
	"carpool/internal/redis"
	"carpool/internal/service"
)

func main() {
	// Load configuration.
	cfg := config.Load()
	log := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize New Relic FIRST (before database so we can instrument DB).
	var nrApp *newrelic.Application
	var err error
	if cfg.NewRelic.Enabled && cfg.NewRelic.LicenseKey != "" {
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			log.Error().Err(err).Msg("failed to initialize New Relic")
		} else {
			log.Info().Str("app", cfg.NewRelic.AppName).Msg("New Relic enabled")
		}
	}

	var db *sql.DB
	if cfg.Store.Driver == "postgres" {
		db, err = app.NewDatabase(ctx, cfg.Database, nrApp)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()
		log.Info().Str("host", cfg.Database.Host).Str("db", cfg.Database.DBName).Msg("connected to PostgreSQL")
	} else {
		log.Warn().Msg("using in-memory ride store; rides are lost on restart")
	}

	var redisClient *goredis.Client
	if cfg.Redis.Enabled {
		redisClient, err = app.NewRedisClient(ctx, cfg.Redis, nrApp)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		log.Info().Str("addr", cfg.Redis.Addr).Msg("connected to Redis")
	}

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()

	// Wire dependencies.
	srv := wireServer(runCtx, db, redisClient, nrApp, cfg, log)

	// Start server in goroutine.
	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("starting server")
		if err := srv.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.http.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	// In-flight deliveries finish before connections close.
	srv.relay.Wait()
	srv.hub.Close()
	stop()

	if nrApp != nil {
		nrApp.Shutdown(5 * time.Second)
	}

	log.Info().Msg("server exited")
}

type server struct {
	http  *http.Server
	relay *notify.Relay
	hub   *realtime.Hub
}

// wireServer wires all dependencies and returns the HTTP server.
func wireServer(
	ctx context.Context,
	db *sql.DB,
	redisClient *goredis.Client,
	nrApp *newrelic.Application,
	cfg *config.Config,
	log zerolog.Logger,
) *server {
	var verifier *auth.Verifier
	if !cfg.Auth.Disabled {
		verifier = auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	}

	// Presence and realtime delivery.
	directory := presence.NewDirectory()
	var tokenVerifier realtime.TokenVerifier
	if verifier != nil {
		tokenVerifier = verifier
	}
	hub := realtime.NewHub(directory, tokenVerifier, log)
	relay := notify.NewRelay(directory, hub, log)
	hub.UseClaimer(relay)

	deps := app.RouterDeps{
		Realtime:     hub,
		Verifier:     verifier,
		AuthDisabled: cfg.Auth.Disabled,
		NewRelicApp:  nrApp,
		Logger:       log,
	}

	// Initialize Redis stores.
	if redisClient != nil {
		bus := redis.NewEventBus(redisClient, log)
		relay.UsePublisher(bus)
		go func() {
			if err := bus.Subscribe(ctx, relay.Deliver); err != nil {
				log.Error().Err(err).Msg("event bus stopped")
			}
		}()

		deps.ResponseCache = redis.NewResponseCache(redisClient)
		deps.LockStore = redis.NewLockStore(redisClient)
	}

	// Initialize repositories.
	rideRepo := app.NewRideStore(cfg.Store, db, log)

	// Initialize services.
	rideService := service.NewRideService(rideRepo, service.MockRouteEstimator{}, relay, log)
	bookingService := service.NewBookingService(rideRepo, relay, log)

	// Initialize handlers.
	deps.RideHandler = handler.NewRideHandler(rideService, bookingService)
	deps.BookingHandler = handler.NewBookingHandler(bookingService)

	// Create HTTP server.
	return &server{
		http: &http.Server{
			Addr:         ":" + cfg.Server.Port,
			Handler:      app.NewRouter(deps),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
		relay: relay,
		hub:   hub,
	}
}
