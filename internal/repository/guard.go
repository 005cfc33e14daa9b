package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"carpool/internal/domain"
)

// GuardConfig bounds store calls in time and trips a breaker on repeated
// infrastructure failures.
type GuardConfig struct {
	OpTimeout        time.Duration
	FailureThreshold uint32
	OpenTimeout      time.Duration
	HalfOpenRequests uint32
}

// GuardedRideRepository wraps a RideRepository so that every call runs under
// a deadline and behind a circuit breaker. Both expiry and an open circuit
// surface as ErrStoreUnavailable.
type GuardedRideRepository struct {
	inner     RideRepository
	opTimeout time.Duration
	cb        *gobreaker.CircuitBreaker[any]
}

// Ensure GuardedRideRepository implements RideRepository.
var _ RideRepository = (*GuardedRideRepository)(nil)

// NewGuardedRideRepository creates a guarded repository. onStateChange may be nil.
func NewGuardedRideRepository(inner RideRepository, cfg GuardConfig, onStateChange func(from, to gobreaker.State)) *GuardedRideRepository {
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 5 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = 1
	}

	settings := gobreaker.Settings{
		Name:        "ride-store",
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// Domain rejections and conflicts say nothing about store health.
		IsSuccessful: func(err error) bool {
			return !isInfrastructureFailure(err)
		},
	}
	if onStateChange != nil {
		settings.OnStateChange = func(_ string, from, to gobreaker.State) {
			onStateChange(from, to)
		}
	}

	return &GuardedRideRepository{
		inner:     inner,
		opTimeout: cfg.OpTimeout,
		cb:        gobreaker.NewCircuitBreaker[any](settings),
	}
}

// State returns the breaker state.
func (g *GuardedRideRepository) State() gobreaker.State {
	return g.cb.State()
}

func (g *GuardedRideRepository) run(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, g.opTimeout)
	defer cancel()

	v, err := g.cb.Execute(func() (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return nil, classify(err)
	}
	return v, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, ErrStoreUnavailable):
		return err
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	default:
		return err
	}
}

func isInfrastructureFailure(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, context.DeadlineExceeded)
}

// Create persists a new ride.
func (g *GuardedRideRepository) Create(ctx context.Context, ride *domain.Ride) error {
	_, err := g.run(ctx, func(ctx context.Context) (any, error) {
		return nil, g.inner.Create(ctx, ride)
	})
	return err
}

// GetByID retrieves a ride by ID.
func (g *GuardedRideRepository) GetByID(ctx context.Context, id string) (*domain.Ride, error) {
	v, err := g.run(ctx, func(ctx context.Context) (any, error) {
		return g.inner.GetByID(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Ride), nil
}

// AtomicUpdate runs mutate under the inner repository's per-ride isolation.
func (g *GuardedRideRepository) AtomicUpdate(ctx context.Context, id string, mutate Mutation) (*domain.Ride, error) {
	v, err := g.run(ctx, func(ctx context.Context) (any, error) {
		return g.inner.AtomicUpdate(ctx, id, mutate)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Ride), nil
}

// FindByRoute returns active rides between two cities.
func (g *GuardedRideRepository) FindByRoute(ctx context.Context, q RouteQuery) ([]*domain.Ride, error) {
	return g.list(ctx, func(ctx context.Context) ([]*domain.Ride, error) {
		return g.inner.FindByRoute(ctx, q)
	})
}

// ListByDriver returns rides offered by the driver.
func (g *GuardedRideRepository) ListByDriver(ctx context.Context, driverID string) ([]*domain.Ride, error) {
	return g.list(ctx, func(ctx context.Context) ([]*domain.Ride, error) {
		return g.inner.ListByDriver(ctx, driverID)
	})
}

// ListByPassenger returns rides the user requested seats on.
func (g *GuardedRideRepository) ListByPassenger(ctx context.Context, passengerID string) ([]*domain.Ride, error) {
	return g.list(ctx, func(ctx context.Context) ([]*domain.Ride, error) {
		return g.inner.ListByPassenger(ctx, passengerID)
	})
}

func (g *GuardedRideRepository) list(ctx context.Context, fn func(ctx context.Context) ([]*domain.Ride, error)) ([]*domain.Ride, error) {
	v, err := g.run(ctx, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.([]*domain.Ride), nil
}
