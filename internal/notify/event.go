package notify

import (
	"fmt"
	"time"

	"carpool/internal/domain"
)

// EventType names an observable state change.
type EventType string

const (
	EventRideCreated    EventType = "ride_created"
	EventBookingRequest EventType = "booking_request"
	EventBookingUpdate  EventType = "booking_update"
	EventRideCancelled  EventType = "ride_cancelled"
	EventRideCompleted  EventType = "ride_completed"
)

// Event is a hint that something about a ride changed. Receivers refetch the
// ride instead of trusting the payload.
type Event struct {
	Type   EventType      `json:"type"`
	RideID string         `json:"rideId"`
	Data   map[string]any `json:"data,omitempty"`
	SentAt time.Time      `json:"sentAt"`
}

// RideCreated is broadcast when a driver offers a ride.
func RideCreated(rideID string) Event {
	return Event{Type: EventRideCreated, RideID: rideID, SentAt: time.Now()}
}

// BookingRequest tells the driver a passenger asked for seats.
func BookingRequest(rideID, passengerID, passengerName string, seats int) Event {
	return Event{
		Type:   EventBookingRequest,
		RideID: rideID,
		Data: map[string]any{
			"passengerId":    passengerID,
			"passengerName":  passengerName,
			"seatsRequested": seats,
			"message":        fmt.Sprintf("%s requested %d seat(s) on your ride!", passengerName, seats),
		},
		SentAt: time.Now(),
	}
}

// BookingUpdate tells a booking's owner (or the driver, for passenger
// cancellations) that its status changed.
func BookingUpdate(rideID string, status domain.BookingStatus, message string) Event {
	return Event{
		Type:   EventBookingUpdate,
		RideID: rideID,
		Data: map[string]any{
			"status":  string(status),
			"message": message,
		},
		SentAt: time.Now(),
	}
}

// RideCancelled is broadcast when the driver cancels.
func RideCancelled(rideID, message string) Event {
	return Event{Type: EventRideCancelled, RideID: rideID, Data: map[string]any{"message": message}, SentAt: time.Now()}
}

// RideCompleted is broadcast when the driver marks the trip done.
func RideCompleted(rideID, message string) Event {
	return Event{Type: EventRideCompleted, RideID: rideID, Data: map[string]any{"message": message}, SentAt: time.Now()}
}
