package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"carpool/internal/domain"
	"carpool/internal/metrics"
	"carpool/internal/notify"
	"carpool/internal/repository"
)

// RideService handles ride offers, lookups and search.
type RideService struct {
	rideRepo  repository.RideRepository
	estimator RouteEstimator
	notifier  Notifier
	log       zerolog.Logger
	now       func() time.Time
}

// NewRideService creates a new RideService. notifier may be nil; a nil
// estimator falls back to MockRouteEstimator.
func NewRideService(
	rideRepo repository.RideRepository,
	estimator RouteEstimator,
	notifier Notifier,
	log zerolog.Logger,
) *RideService {
	if estimator == nil {
		estimator = MockRouteEstimator{}
	}
	return &RideService{
		rideRepo:  rideRepo,
		estimator: estimator,
		notifier:  notifier,
		log:       log.With().Str("component", "ride").Logger(),
		now:       time.Now,
	}
}

// CreateRideRequest contains the parameters for offering a ride.
type CreateRideRequest struct {
	Driver        domain.Principal
	Origin        domain.Place
	Destination   domain.Place
	DepartureTime time.Time
	TotalSeats    int
	PricePerSeat  float64
	VehicleType   string // Optional
	Notes         string // Optional
}

// CreateRide stores a new active ride and announces it to everyone online.
func (s *RideService) CreateRide(ctx context.Context, req CreateRideRequest) (*domain.Ride, error) {
	if err := s.validateCreateRequest(req); err != nil {
		return nil, err
	}

	now := s.now()
	ride := &domain.Ride{
		ID:            uuid.New().String(),
		DriverID:      req.Driver.ID,
		DriverName:    req.Driver.DisplayName,
		Origin:        trimPlace(req.Origin),
		Destination:   trimPlace(req.Destination),
		DepartureTime: req.DepartureTime,
		TotalSeats:    req.TotalSeats,
		PricePerSeat:  req.PricePerSeat,
		Route:         s.estimator.Estimate(ctx, req.Origin, req.Destination),
		VehicleType:   strings.TrimSpace(req.VehicleType),
		Notes:         strings.TrimSpace(req.Notes),
		Status:        domain.RideStatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := finish(s.log, "create_ride", s.rideRepo.Create(ctx, ride)); err != nil {
		return nil, err
	}
	metrics.RidesCreated.Inc()

	s.log.Info().
		Str("ride_id", ride.ID).
		Str("driver_id", ride.DriverID).
		Str("origin", ride.Origin.City).
		Str("destination", ride.Destination.City).
		Int("seats", ride.TotalSeats).
		Msg("ride_created")

	if s.notifier != nil {
		s.notifier.Broadcast(ctx, notify.RideCreated(ride.ID))
	}
	return ride, nil
}

func (s *RideService) validateCreateRequest(req CreateRideRequest) error {
	if req.Driver.ID == "" {
		return ErrMissingPrincipal
	}
	if !validPlace(req.Origin) || !validPlace(req.Destination) {
		return ErrInvalidPlace
	}
	if req.TotalSeats < domain.MinSeats || req.TotalSeats > domain.MaxSeats {
		return ErrInvalidSeats
	}
	if req.PricePerSeat < 0 {
		return ErrInvalidPrice
	}
	if !req.DepartureTime.After(s.now()) {
		return ErrInvalidDeparture
	}
	if utf8.RuneCountInString(req.Notes) > domain.MaxNotesChars {
		return ErrNotesTooLong
	}
	return nil
}

func validPlace(p domain.Place) bool {
	return strings.TrimSpace(p.Address) != "" && strings.TrimSpace(p.City) != ""
}

func trimPlace(p domain.Place) domain.Place {
	return domain.Place{Address: strings.TrimSpace(p.Address), City: strings.TrimSpace(p.City)}
}

// GetRide retrieves a ride by ID.
func (s *RideService) GetRide(ctx context.Context, rideID string) (*domain.Ride, error) {
	if rideID == "" {
		return nil, ErrInvalidRideID
	}

	ride, err := s.rideRepo.GetByID(ctx, rideID)
	if err = finish(s.log, "get_ride", err); err != nil {
		return nil, err
	}
	return ride, nil
}

// SearchRidesRequest filters open rides between two cities.
type SearchRidesRequest struct {
	OriginCity      string
	DestinationCity string
	Date            time.Time // Optional: restricts results to that calendar day
	MinSeats        int       // Optional: defaults to 1
	MaxPrice        float64   // Optional
	VehicleType     string    // Optional
	ExcludeDriverID string    // Optional: hides the searcher's own rides
}

// SearchRides returns active rides on the route with at least MinSeats
// remaining. The seat counts are a snapshot and do not reserve anything.
func (s *RideService) SearchRides(ctx context.Context, req SearchRidesRequest) ([]*domain.Ride, error) {
	origin := strings.TrimSpace(req.OriginCity)
	destination := strings.TrimSpace(req.DestinationCity)
	if origin == "" || destination == "" {
		return nil, ErrInvalidSearch
	}

	minSeats := req.MinSeats
	if minSeats < domain.MinSeats {
		minSeats = domain.MinSeats
	}

	q := repository.RouteQuery{
		OriginCity:      origin,
		DestinationCity: destination,
		DepartFrom:      s.now(),
		MaxPrice:        req.MaxPrice,
		VehicleType:     strings.TrimSpace(req.VehicleType),
		ExcludeDriverID: req.ExcludeDriverID,
		Limit:           repository.DefaultSearchLimit,
	}
	if !req.Date.IsZero() {
		y, m, d := req.Date.Date()
		q.DepartFrom = time.Date(y, m, d, 0, 0, 0, 0, req.Date.Location())
		q.DepartUntil = q.DepartFrom.AddDate(0, 0, 1)
	}

	rides, err := s.rideRepo.FindByRoute(ctx, q)
	if err = finish(s.log, "search_rides", err); err != nil {
		return nil, err
	}

	matches := make([]*domain.Ride, 0, len(rides))
	for _, ride := range rides {
		if domain.RemainingSeats(ride) >= minSeats {
			matches = append(matches, ride)
		}
	}
	return matches, nil
}

// ListDriverRides returns the rides the driver offered, latest departure first.
func (s *RideService) ListDriverRides(ctx context.Context, driverID string) ([]*domain.Ride, error) {
	if driverID == "" {
		return nil, ErrMissingPrincipal
	}

	rides, err := s.rideRepo.ListByDriver(ctx, driverID)
	if err = finish(s.log, "list_driver_rides", err); err != nil {
		return nil, err
	}
	return rides, nil
}

// ListPassengerBookings returns the rides the passenger requested seats on,
// latest departure first.
func (s *RideService) ListPassengerBookings(ctx context.Context, passengerID string) ([]*domain.Ride, error) {
	if passengerID == "" {
		return nil, ErrMissingPrincipal
	}

	rides, err := s.rideRepo.ListByPassenger(ctx, passengerID)
	if err = finish(s.log, "list_passenger_bookings", err); err != nil {
		return nil, err
	}
	return rides, nil
}
