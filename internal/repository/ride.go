package repository

import (
	"context"
	"time"

	"carpool/internal/domain"
)

// DefaultSearchLimit caps route search results before seat filtering.
const DefaultSearchLimit = 50

// Mutation changes a ride inside AtomicUpdate. Returning an error aborts the
// update and nothing is written.
type Mutation func(ride *domain.Ride) error

// RouteQuery selects active rides between two cities.
type RouteQuery struct {
	OriginCity      string
	DestinationCity string
	DepartFrom      time.Time
	DepartUntil     time.Time // Zero means no upper bound.
	MaxPrice        float64   // Zero means no price filter.
	VehicleType     string
	ExcludeDriverID string
	Limit           int
}

// RideRepository is the ride registry. It is the only writer of a ride's
// booking list.
type RideRepository interface {
	// Create persists a new ride.
	Create(ctx context.Context, ride *domain.Ride) error

	// GetByID retrieves a ride by ID.
	GetByID(ctx context.Context, id string) (*domain.Ride, error)

	// AtomicUpdate runs mutate against a consistent snapshot of the ride and
	// persists the result. No other AtomicUpdate on the same ride interleaves
	// with the read-modify-write cycle; different rides proceed concurrently.
	AtomicUpdate(ctx context.Context, id string, mutate Mutation) (*domain.Ride, error)

	// FindByRoute returns active rides ordered by departure time. Results are
	// read without isolation and are advisory.
	FindByRoute(ctx context.Context, q RouteQuery) ([]*domain.Ride, error)

	// ListByDriver returns rides offered by the driver, latest departure first.
	ListByDriver(ctx context.Context, driverID string) ([]*domain.Ride, error)

	// ListByPassenger returns rides the user requested seats on, latest
	// departure first.
	ListByPassenger(ctx context.Context, passengerID string) ([]*domain.Ride, error)
}
