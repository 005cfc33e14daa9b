package tests

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"carpool/internal/domain"
	"carpool/internal/notify"
	"carpool/internal/repository"
)

// ──────────────────────────────────────────────
// MOCK RIDE REPOSITORY
// ──────────────────────────────────────────────

// MockRideRepository is a mock implementation of RideRepository. Every
// AtomicUpdate runs under one mutex, which is enough to linearize updates.
type MockRideRepository struct {
	mu    sync.Mutex
	rides map[string]*domain.Ride

	// Counters for verification
	CreateCallCount int32
	UpdateCallCount int32

	// Error injection
	CreateError error
	UpdateError error
	GetError    error
}

// Ensure MockRideRepository implements RideRepository.
var _ repository.RideRepository = (*MockRideRepository)(nil)

// NewMockRideRepository creates a new mock ride repository.
func NewMockRideRepository() *MockRideRepository {
	return &MockRideRepository{
		rides: make(map[string]*domain.Ride),
	}
}

// AddRide seeds a ride directly, bypassing validation.
func (m *MockRideRepository) AddRide(ride *domain.Ride) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[ride.ID] = ride.Clone()
}

// GetRide returns a copy of the stored ride (for test assertions).
func (m *MockRideRepository) GetRide(id string) *domain.Ride {
	m.mu.Lock()
	defer m.mu.Unlock()
	ride, ok := m.rides[id]
	if !ok {
		return nil
	}
	return ride.Clone()
}

// CountRides returns the number of rides.
func (m *MockRideRepository) CountRides() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rides)
}

func (m *MockRideRepository) Create(ctx context.Context, ride *domain.Ride) error {
	atomic.AddInt32(&m.CreateCallCount, 1)
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := ride.Clone()
	stored.Version = 1
	m.rides[ride.ID] = stored
	return nil
}

func (m *MockRideRepository) GetByID(ctx context.Context, id string) (*domain.Ride, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ride, ok := m.rides[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return ride.Clone(), nil
}

func (m *MockRideRepository) AtomicUpdate(ctx context.Context, id string, mutate repository.Mutation) (*domain.Ride, error) {
	atomic.AddInt32(&m.UpdateCallCount, 1)
	if m.UpdateError != nil {
		return nil, m.UpdateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.rides[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	next := current.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.Version++
	next.UpdatedAt = time.Now()
	m.rides[id] = next
	return next.Clone(), nil
}

func (m *MockRideRepository) FindByRoute(ctx context.Context, q repository.RouteQuery) ([]*domain.Ride, error) {
	return m.list(func(r *domain.Ride) bool {
		return r.Status == domain.RideStatusActive &&
			strings.Contains(strings.ToLower(r.Origin.City), strings.ToLower(q.OriginCity)) &&
			strings.Contains(strings.ToLower(r.Destination.City), strings.ToLower(q.DestinationCity)) &&
			!r.DepartureTime.Before(q.DepartFrom) &&
			(q.DepartUntil.IsZero() || r.DepartureTime.Before(q.DepartUntil)) &&
			r.DriverID != q.ExcludeDriverID
	}, false), nil
}

func (m *MockRideRepository) ListByDriver(ctx context.Context, driverID string) ([]*domain.Ride, error) {
	return m.list(func(r *domain.Ride) bool { return r.DriverID == driverID }, true), nil
}

func (m *MockRideRepository) ListByPassenger(ctx context.Context, passengerID string) ([]*domain.Ride, error) {
	return m.list(func(r *domain.Ride) bool { return r.HasPassenger(passengerID) }, true), nil
}

func (m *MockRideRepository) list(keep func(*domain.Ride) bool, latestFirst bool) []*domain.Ride {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*domain.Ride, 0, len(m.rides))
	for _, r := range m.rides {
		if keep(r) {
			result = append(result, r.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if latestFirst {
			return result[i].DepartureTime.After(result[j].DepartureTime)
		}
		return result[i].DepartureTime.Before(result[j].DepartureTime)
	})
	return result
}

// ──────────────────────────────────────────────
// RECORDING NOTIFIER
// ──────────────────────────────────────────────

// TargetedEvent is one recorded targeted notification.
type TargetedEvent struct {
	UserID string
	Event  notify.Event
}

// RecordingNotifier records every notification synchronously.
type RecordingNotifier struct {
	mu         sync.Mutex
	targeted   []TargetedEvent
	broadcasts []notify.Event
}

// NewRecordingNotifier creates a new recording notifier.
func NewRecordingNotifier() *RecordingNotifier {
	return &RecordingNotifier{}
}

func (n *RecordingNotifier) Targeted(ctx context.Context, userID string, event notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.targeted = append(n.targeted, TargetedEvent{UserID: userID, Event: event})
}

func (n *RecordingNotifier) Broadcast(ctx context.Context, event notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.broadcasts = append(n.broadcasts, event)
}

// TargetedTo returns the events sent to userID.
func (n *RecordingNotifier) TargetedTo(userID string) []notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var events []notify.Event
	for _, t := range n.targeted {
		if t.UserID == userID {
			events = append(events, t.Event)
		}
	}
	return events
}

// TargetedCount returns the number of targeted notifications.
func (n *RecordingNotifier) TargetedCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.targeted)
}

// Broadcasts returns the broadcast events.
func (n *RecordingNotifier) Broadcasts() []notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Event(nil), n.broadcasts...)
}

// ──────────────────────────────────────────────
// STUB ROUTE ESTIMATOR
// ──────────────────────────────────────────────

// StubEstimator returns a fixed estimate and counts calls.
type StubEstimator struct {
	Result domain.RouteEstimate
	Calls  int32
}

func (s *StubEstimator) Estimate(ctx context.Context, origin, destination domain.Place) domain.RouteEstimate {
	atomic.AddInt32(&s.Calls, 1)
	return s.Result
}

// ──────────────────────────────────────────────
// FIXTURES
// ──────────────────────────────────────────────

// newOpenRide returns an active ride departing tomorrow.
func newOpenRide(id, driverID string, seats int) *domain.Ride {
	now := time.Now()
	return &domain.Ride{
		ID:            id,
		DriverID:      driverID,
		DriverName:    "Driver " + driverID,
		Origin:        domain.Place{Address: "MG Road", City: "Bengaluru"},
		Destination:   domain.Place{Address: "Palace Road", City: "Mysuru"},
		DepartureTime: now.Add(24 * time.Hour),
		TotalSeats:    seats,
		PricePerSeat:  250,
		Status:        domain.RideStatusActive,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func pendingBooking(passengerID string, seats int) domain.Booking {
	now := time.Now()
	return domain.Booking{
		PassengerID:    passengerID,
		PassengerName:  "Passenger " + passengerID,
		SeatsRequested: seats,
		Status:         domain.BookingStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func passenger(id string) domain.Principal {
	return domain.Principal{ID: id, DisplayName: "Passenger " + id}
}

func driver(id string) domain.Principal {
	return domain.Principal{ID: id, DisplayName: "Driver " + id}
}
