// Package memory is an in-process ride registry. Each ride carries its own
// lock, so AtomicUpdate linearizes operations on one ride while leaving
// other rides free to update in parallel.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"carpool/internal/domain"
	"carpool/internal/repository"
)

// entry guards one ride. lock is a one-slot semaphore so a waiter can give
// up when its context ends instead of queueing behind a slow update.
type entry struct {
	lock chan struct{}
	ride *domain.Ride
}

func newEntry(ride *domain.Ride) *entry {
	return &entry{lock: make(chan struct{}, 1), ride: ride}
}

func (e *entry) acquire(ctx context.Context) error {
	select {
	case e.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", repository.ErrStoreUnavailable, ctx.Err())
	}
}

func (e *entry) release() {
	<-e.lock
}

// RideRepository is an in-memory implementation of repository.RideRepository.
type RideRepository struct {
	mu    sync.RWMutex
	rides map[string]*entry
	now   func() time.Time
}

// Ensure RideRepository implements repository.RideRepository.
var _ repository.RideRepository = (*RideRepository)(nil)

// NewRideRepository creates an empty in-memory ride registry.
func NewRideRepository() *RideRepository {
	return &RideRepository{
		rides: make(map[string]*entry),
		now:   time.Now,
	}
}

func (r *RideRepository) lookup(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.rides[id]
	return e, ok
}

// Create persists a new ride.
func (r *RideRepository) Create(ctx context.Context, ride *domain.Ride) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", repository.ErrStoreUnavailable, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rides[ride.ID]; exists {
		return fmt.Errorf("ride %s already exists", ride.ID)
	}
	stored := ride.Clone()
	if stored.Version == 0 {
		stored.Version = 1
	}
	r.rides[ride.ID] = newEntry(stored)
	ride.Version = stored.Version
	return nil
}

// GetByID retrieves a ride by ID.
func (r *RideRepository) GetByID(ctx context.Context, id string) (*domain.Ride, error) {
	e, ok := r.lookup(id)
	if !ok {
		return nil, repository.ErrNotFound
	}
	if err := e.acquire(ctx); err != nil {
		return nil, err
	}
	defer e.release()
	return e.ride.Clone(), nil
}

// AtomicUpdate applies mutate to a private copy of the ride while holding the
// ride's lock and swaps the copy in only when mutate succeeds.
func (r *RideRepository) AtomicUpdate(ctx context.Context, id string, mutate repository.Mutation) (*domain.Ride, error) {
	e, ok := r.lookup(id)
	if !ok {
		return nil, repository.ErrNotFound
	}

	if err := e.acquire(ctx); err != nil {
		return nil, err
	}
	defer e.release()

	// The slot may win the race against an already expired context.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", repository.ErrStoreUnavailable, err)
	}

	working := e.ride.Clone()
	if err := mutate(working); err != nil {
		return nil, err
	}
	working.Version = e.ride.Version + 1
	working.UpdatedAt = r.now()
	e.ride = working

	return working.Clone(), nil
}

// FindByRoute returns active rides matching the query, earliest departure first.
func (r *RideRepository) FindByRoute(ctx context.Context, q repository.RouteQuery) ([]*domain.Ride, error) {
	origin := strings.ToLower(q.OriginCity)
	destination := strings.ToLower(q.DestinationCity)

	rides, err := r.filter(ctx, func(ride *domain.Ride) bool {
		switch {
		case ride.Status != domain.RideStatusActive:
			return false
		case !strings.Contains(strings.ToLower(ride.Origin.City), origin):
			return false
		case !strings.Contains(strings.ToLower(ride.Destination.City), destination):
			return false
		case ride.DepartureTime.Before(q.DepartFrom):
			return false
		case !q.DepartUntil.IsZero() && !ride.DepartureTime.Before(q.DepartUntil):
			return false
		case q.MaxPrice > 0 && ride.PricePerSeat > q.MaxPrice:
			return false
		case q.VehicleType != "" && ride.VehicleType != q.VehicleType:
			return false
		case q.ExcludeDriverID != "" && ride.DriverID == q.ExcludeDriverID:
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(rides, func(i, j int) bool {
		return rides[i].DepartureTime.Before(rides[j].DepartureTime)
	})

	limit := q.Limit
	if limit <= 0 {
		limit = repository.DefaultSearchLimit
	}
	if len(rides) > limit {
		rides = rides[:limit]
	}
	return rides, nil
}

// ListByDriver returns rides offered by the driver, latest departure first.
func (r *RideRepository) ListByDriver(ctx context.Context, driverID string) ([]*domain.Ride, error) {
	rides, err := r.filter(ctx, func(ride *domain.Ride) bool {
		return ride.DriverID == driverID
	})
	if err != nil {
		return nil, err
	}
	sortLatestFirst(rides)
	return rides, nil
}

// ListByPassenger returns rides the user requested seats on, latest departure first.
func (r *RideRepository) ListByPassenger(ctx context.Context, passengerID string) ([]*domain.Ride, error) {
	rides, err := r.filter(ctx, func(ride *domain.Ride) bool {
		return ride.HasPassenger(passengerID)
	})
	if err != nil {
		return nil, err
	}
	sortLatestFirst(rides)
	return rides, nil
}

// Len returns the number of stored rides.
func (r *RideRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rides)
}

func (r *RideRepository) filter(ctx context.Context, keep func(*domain.Ride) bool) ([]*domain.Ride, error) {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.rides))
	for _, e := range r.rides {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	var result []*domain.Ride
	for _, e := range entries {
		if err := e.acquire(ctx); err != nil {
			return nil, err
		}
		snapshot := e.ride.Clone()
		e.release()
		if keep(snapshot) {
			result = append(result, snapshot)
		}
	}
	return result, nil
}

func sortLatestFirst(rides []*domain.Ride) {
	sort.Slice(rides, func(i, j int) bool {
		return rides[i].DepartureTime.After(rides[j].DepartureTime)
	})
}
