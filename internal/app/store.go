package app

import (
	"database/sql"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"carpool/internal/config"
	"carpool/internal/metrics"
	"carpool/internal/repository"
	"carpool/internal/repository/memory"
	"carpool/internal/repository/postgres"
)

// NewRideStore builds the configured ride registry behind a timeout and
// circuit breaker. db is only used by the postgres driver.
func NewRideStore(cfg config.StoreConfig, db *sql.DB, log zerolog.Logger) repository.RideRepository {
	var inner repository.RideRepository
	switch cfg.Driver {
	case "memory":
		inner = memory.NewRideRepository()
	default:
		inner = postgres.NewRideRepository(db, cfg.LockTimeout)
	}

	return repository.NewGuardedRideRepository(inner, repository.GuardConfig{
		OpTimeout:        cfg.OpTimeout,
		FailureThreshold: cfg.FailureThreshold,
		OpenTimeout:      cfg.OpenTimeout,
		HalfOpenRequests: cfg.HalfOpenRequests,
	}, func(from, to gobreaker.State) {
		metrics.StoreBreakerState.Set(breakerGaugeValue(to))
		log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("store_breaker_state_changed")
	})
}

func breakerGaugeValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
