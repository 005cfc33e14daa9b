package service

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"carpool/internal/domain"
	"carpool/internal/notify"
	"carpool/internal/repository"
)

// BookingService runs the booking state machine. Every decision that reads
// seat counts happens inside a single AtomicUpdate on the ride, so two
// requests for the last seat can never both succeed.
type BookingService struct {
	rideRepo repository.RideRepository
	notifier Notifier
	log      zerolog.Logger
	now      func() time.Time
}

// NewBookingService creates a new BookingService. notifier may be nil.
func NewBookingService(rideRepo repository.RideRepository, notifier Notifier, log zerolog.Logger) *BookingService {
	return &BookingService{
		rideRepo: rideRepo,
		notifier: notifier,
		log:      log.With().Str("component", "booking").Logger(),
		now:      time.Now,
	}
}

// RequestSeatsRequest contains the parameters for requesting seats.
type RequestSeatsRequest struct {
	RideID    string
	Passenger domain.Principal
	Seats     int
	Pickup    string // Optional: defaults to the ride origin
	Drop      string // Optional: defaults to the ride destination
}

// RequestSeats appends a pending booking for the passenger and notifies the
// driver. Pending bookings hold seats until they are resolved.
func (s *BookingService) RequestSeats(ctx context.Context, req RequestSeatsRequest) (*domain.Ride, error) {
	if req.RideID == "" {
		return nil, ErrInvalidRideID
	}
	if req.Passenger.ID == "" {
		return nil, ErrMissingPrincipal
	}
	if req.Seats < domain.MinSeats || req.Seats > domain.MaxSeats {
		return nil, ErrInvalidSeatRequest
	}

	now := s.now()
	ride, err := s.rideRepo.AtomicUpdate(ctx, req.RideID, func(ride *domain.Ride) error {
		if ride.DriverID == req.Passenger.ID {
			return ErrSelfBooking
		}
		if !ride.IsOpen() {
			return ErrRideNotOpen
		}
		if _, ok := ride.ActiveBookingFor(req.Passenger.ID); ok {
			return ErrDuplicateRequest
		}
		if domain.RemainingSeats(ride) < req.Seats {
			return ErrCapacity
		}

		pickup, drop := req.Pickup, req.Drop
		if pickup == "" {
			pickup = ride.Origin.Address
		}
		if drop == "" {
			drop = ride.Destination.Address
		}
		ride.Bookings = append(ride.Bookings, domain.Booking{
			PassengerID:    req.Passenger.ID,
			PassengerName:  req.Passenger.DisplayName,
			SeatsRequested: req.Seats,
			Pickup:         pickup,
			Drop:           drop,
			Status:         domain.BookingStatusPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
		return nil
	})
	if err = finish(s.log, "request_seats", err); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("ride_id", ride.ID).
		Str("passenger_id", req.Passenger.ID).
		Int("seats", req.Seats).
		Msg("seats_requested")

	if s.notifier != nil {
		s.notifier.Targeted(ctx, ride.DriverID,
			notify.BookingRequest(ride.ID, req.Passenger.ID, req.Passenger.DisplayName, req.Seats))
	}
	return ride, nil
}

// ResolveBookingRequest contains the driver's decision on a pending booking.
type ResolveBookingRequest struct {
	RideID      string
	Driver      domain.Principal
	PassengerID string
	Decision    domain.BookingStatus // confirmed or rejected
}

// ResolveBooking confirms or rejects the passenger's pending booking.
// Confirmation re-checks capacity against confirmed seats, since pending
// seats may have been over-committed by data written before the check.
func (s *BookingService) ResolveBooking(ctx context.Context, req ResolveBookingRequest) (*domain.Ride, error) {
	if req.RideID == "" {
		return nil, ErrInvalidRideID
	}
	if req.PassengerID == "" {
		return nil, ErrInvalidPassengerID
	}
	if req.Decision != domain.BookingStatusConfirmed && req.Decision != domain.BookingStatusRejected {
		return nil, ErrInvalidDecision
	}

	now := s.now()
	ride, err := s.rideRepo.AtomicUpdate(ctx, req.RideID, func(ride *domain.Ride) error {
		if ride.DriverID != req.Driver.ID {
			return ErrNotRideDriver
		}
		if !ride.IsOpen() {
			return ErrRideNotOpen
		}
		b, ok := ride.PendingBookingFor(req.PassengerID)
		if !ok {
			return ErrBookingNotFound
		}
		if req.Decision == domain.BookingStatusConfirmed && !domain.CanConfirm(ride, b) {
			return ErrCapacity
		}
		b.Transition(req.Decision, now)
		ride.SyncFullStatus()
		return nil
	})
	if err = finish(s.log, "resolve_booking", err); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("ride_id", ride.ID).
		Str("passenger_id", req.PassengerID).
		Str("status", string(req.Decision)).
		Str("ride_status", string(ride.Status)).
		Msg("booking_resolved")

	if s.notifier != nil {
		s.notifier.Targeted(ctx, req.PassengerID,
			notify.BookingUpdate(ride.ID, req.Decision, bookingResolvedMessage(ride, req.Decision)))
	}
	return ride, nil
}

// CancelBookingRequest contains the parameters for a passenger cancelling
// their confirmed booking.
type CancelBookingRequest struct {
	RideID    string
	Passenger domain.Principal
}

// CancelBooking releases the passenger's confirmed seats and tells the driver.
func (s *BookingService) CancelBooking(ctx context.Context, req CancelBookingRequest) (*domain.Ride, error) {
	if req.RideID == "" {
		return nil, ErrInvalidRideID
	}
	if req.Passenger.ID == "" {
		return nil, ErrMissingPrincipal
	}

	var cancelled domain.Booking
	now := s.now()
	ride, err := s.rideRepo.AtomicUpdate(ctx, req.RideID, func(ride *domain.Ride) error {
		if !ride.IsOpen() {
			return ErrRideNotOpen
		}
		b, ok := ride.ActiveBookingFor(req.Passenger.ID)
		if !ok || !b.Transition(domain.BookingStatusCancelled, now) {
			return ErrBookingNotFound
		}
		ride.SyncFullStatus()
		cancelled = *b
		return nil
	})
	if err = finish(s.log, "cancel_booking", err); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("ride_id", ride.ID).
		Str("passenger_id", req.Passenger.ID).
		Int("seats", cancelled.SeatsRequested).
		Msg("booking_cancelled")

	if s.notifier != nil {
		s.notifier.Targeted(ctx, ride.DriverID,
			notify.BookingUpdate(ride.ID, domain.BookingStatusCancelled, bookingCancelledMessage(cancelled)))
	}
	return ride, nil
}

// DefaultCancelReason is stored when the driver gives no reason.
const DefaultCancelReason = "Driver cancelled the ride."

// CancelRideRequest contains the parameters for a driver cancelling a ride.
type CancelRideRequest struct {
	RideID string
	Driver domain.Principal
	Reason string // Optional
}

// CancelRide moves the ride to cancelled and broadcasts it once.
func (s *BookingService) CancelRide(ctx context.Context, req CancelRideRequest) (*domain.Ride, error) {
	if req.RideID == "" {
		return nil, ErrInvalidRideID
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = DefaultCancelReason
	}

	ride, err := s.rideRepo.AtomicUpdate(ctx, req.RideID, func(ride *domain.Ride) error {
		if ride.DriverID != req.Driver.ID {
			return ErrNotRideDriver
		}
		if !ride.IsOpen() {
			return ErrRideNotOpen
		}
		ride.Status = domain.RideStatusCancelled
		ride.CancelReason = reason
		return nil
	})
	if err = finish(s.log, "cancel_ride", err); err != nil {
		return nil, err
	}

	s.log.Info().Str("ride_id", ride.ID).Str("reason", reason).Msg("ride_cancelled")

	if s.notifier != nil {
		s.notifier.Broadcast(ctx, notify.RideCancelled(ride.ID, rideCancelledMessage(ride)))
	}
	return ride, nil
}

// CompleteRideRequest contains the parameters for completing a ride.
type CompleteRideRequest struct {
	RideID string
	Driver domain.Principal
}

// CompleteRide closes the ride. Confirmed bookings complete and bookings the
// driver never answered are rejected.
func (s *BookingService) CompleteRide(ctx context.Context, req CompleteRideRequest) (*domain.Ride, error) {
	if req.RideID == "" {
		return nil, ErrInvalidRideID
	}

	now := s.now()
	ride, err := s.rideRepo.AtomicUpdate(ctx, req.RideID, func(ride *domain.Ride) error {
		if ride.DriverID != req.Driver.ID {
			return ErrNotRideDriver
		}
		if !ride.IsOpen() {
			return ErrRideNotOpen
		}
		for i := range ride.Bookings {
			b := &ride.Bookings[i]
			switch b.Status {
			case domain.BookingStatusConfirmed:
				b.Transition(domain.BookingStatusCompleted, now)
			case domain.BookingStatusPending:
				b.Transition(domain.BookingStatusRejected, now)
			}
		}
		ride.Status = domain.RideStatusCompleted
		return nil
	})
	if err = finish(s.log, "complete_ride", err); err != nil {
		return nil, err
	}

	s.log.Info().Str("ride_id", ride.ID).Msg("ride_completed")

	if s.notifier != nil {
		s.notifier.Broadcast(ctx, notify.RideCompleted(ride.ID, rideCompletedMessage(ride)))
	}
	return ride, nil
}
