package service

import (
	"errors"

	"github.com/rs/zerolog"

	"carpool/internal/metrics"
	"carpool/internal/repository"
)

// Failure kinds. Every operation fails with exactly one of these, possibly
// wrapped by a more specific error below; match with errors.Is.
var (
	// ErrValidation marks malformed input, or a change the ride's state rules
	// out. Not retryable.
	ErrValidation = errors.New("invalid request")

	// ErrAuthorization marks the wrong principal for the action.
	ErrAuthorization = errors.New("not authorized")

	// ErrNotFound marks a missing ride or booking.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateRequest is returned when the passenger already holds a
	// pending or confirmed booking on the ride.
	ErrDuplicateRequest = errors.New("you already have a pending or confirmed request for this ride")

	// ErrSelfBooking is returned when a driver requests seats on their own ride.
	ErrSelfBooking = errors.New("you cannot book your own ride")

	// ErrCapacity is returned when the ride cannot hold the seats. Retrying
	// against fresh state may succeed once other bookings are released.
	ErrCapacity = errors.New("not enough seats available")

	// ErrConflict is returned when a concurrent update on the same ride won.
	// Callers should re-read and retry the whole operation.
	ErrConflict = errors.New("ride was updated concurrently, please retry")

	// ErrStoreUnavailable is returned when the ride store failed or timed out.
	ErrStoreUnavailable = errors.New("ride store unavailable")
)

// Validation errors.
var (
	ErrInvalidRideID      = kindError(ErrValidation, "ride id is required")
	ErrInvalidPassengerID = kindError(ErrValidation, "passenger id is required")
	ErrInvalidSeats       = kindError(ErrValidation, "seats must be between 1 and 7")
	ErrInvalidSeatRequest = kindError(ErrValidation, "seats requested must be between 1 and 7")
	ErrInvalidPlace       = kindError(ErrValidation, "origin and destination need an address and a city")
	ErrInvalidPrice       = kindError(ErrValidation, "price per seat cannot be negative")
	ErrInvalidDeparture   = kindError(ErrValidation, "departure time must be in the future")
	ErrNotesTooLong       = kindError(ErrValidation, "notes cannot exceed 500 characters")
	ErrInvalidDecision    = kindError(ErrValidation, "status must be confirmed or rejected")
	ErrInvalidSearch      = kindError(ErrValidation, "origin and destination cities are required")

	// ErrRideNotOpen is returned for changes to a cancelled or completed ride.
	ErrRideNotOpen = kindError(ErrValidation, "ride is no longer open")
)

// Authorization and lookup errors.
var (
	ErrMissingPrincipal = kindError(ErrAuthorization, "authenticated user required")
	ErrNotRideDriver    = kindError(ErrAuthorization, "only the driver can change this ride")
	ErrRideNotFound     = kindError(ErrNotFound, "ride not found")
	ErrBookingNotFound  = kindError(ErrNotFound, "passenger booking not found")
)

type typedError struct {
	kind error
	msg  string
}

func kindError(kind error, msg string) error {
	return &typedError{kind: kind, msg: msg}
}

func (e *typedError) Error() string { return e.msg }
func (e *typedError) Unwrap() error { return e.kind }

var kindLabels = []struct {
	err   error
	label string
}{
	{ErrValidation, "validation"},
	{ErrAuthorization, "authorization"},
	{ErrNotFound, "not_found"},
	{ErrDuplicateRequest, "duplicate"},
	{ErrSelfBooking, "self_booking"},
	{ErrCapacity, "capacity"},
	{ErrConflict, "conflict"},
	{ErrStoreUnavailable, "store_unavailable"},
}

// KindOf returns a short label for the failure kind of err, or "" when err
// is not a service error.
func KindOf(err error) string {
	for _, k := range kindLabels {
		if errors.Is(err, k.err) {
			return k.label
		}
	}
	return ""
}

// fromStore maps repository failures onto service failures. Errors returned
// by a mutation are already service errors and pass through unchanged.
func fromStore(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return ErrRideNotFound
	case errors.Is(err, repository.ErrConflict):
		return ErrConflict
	case errors.Is(err, repository.ErrStoreUnavailable):
		return ErrStoreUnavailable
	case KindOf(err) != "":
		return err
	default:
		return ErrStoreUnavailable
	}
}

// finish records the outcome of op and returns the caller-facing error.
func finish(log zerolog.Logger, op string, err error) error {
	mapped := fromStore(err)
	result := "ok"
	if mapped != nil {
		result = KindOf(mapped)
	}
	metrics.BookingOperations.WithLabelValues(op, result).Inc()

	if errors.Is(mapped, ErrStoreUnavailable) || errors.Is(mapped, ErrConflict) {
		log.Warn().Err(err).Str("operation", op).Msg("ride_store_failure")
	}
	return mapped
}
