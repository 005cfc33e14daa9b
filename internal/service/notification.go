package service

import (
	"context"
	"fmt"

	"carpool/internal/domain"
	"carpool/internal/notify"
)

// Notifier delivers ride events to connected users. Delivery is best
// effort and never fails the operation that triggered it.
type Notifier interface {
	Targeted(ctx context.Context, userID string, event notify.Event)
	Broadcast(ctx context.Context, event notify.Event)
}

// Ensure the relay satisfies Notifier.
var _ Notifier = (*notify.Relay)(nil)

func bookingResolvedMessage(ride *domain.Ride, status domain.BookingStatus) string {
	if status == domain.BookingStatusConfirmed {
		return fmt.Sprintf("Your ride from %s to %s has been confirmed!", ride.Origin.City, ride.Destination.City)
	}
	return "Your ride request was declined."
}

func bookingCancelledMessage(b domain.Booking) string {
	return fmt.Sprintf("%s cancelled their booking of %d seat(s).", b.PassengerName, b.SeatsRequested)
}

func rideCancelledMessage(ride *domain.Ride) string {
	return fmt.Sprintf("The ride from %s to %s has been cancelled by the driver.", ride.Origin.City, ride.Destination.City)
}

func rideCompletedMessage(ride *domain.Ride) string {
	return fmt.Sprintf("Your ride from %s to %s is complete. Thanks for riding!", ride.Origin.City, ride.Destination.City)
}
