package domain

import "time"

// BookingStatus represents the status of a passenger's seat request.
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusRejected  BookingStatus = "rejected"
	BookingStatusCompleted BookingStatus = "completed"
)

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusPending:   {BookingStatusConfirmed, BookingStatusRejected},
	BookingStatusConfirmed: {BookingStatusCancelled, BookingStatusCompleted},
}

// HoldsSeats reports whether bookings in this status count against capacity.
func (s BookingStatus) HoldsSeats() bool {
	return s == BookingStatusPending || s == BookingStatusConfirmed
}

// IsTerminal reports whether no further transitions are allowed.
func (s BookingStatus) IsTerminal() bool {
	return len(bookingTransitions[s]) == 0
}

// Valid reports whether s is a known booking status.
func (s BookingStatus) Valid() bool {
	switch s {
	case BookingStatusPending, BookingStatusConfirmed, BookingStatusCancelled,
		BookingStatusRejected, BookingStatusCompleted:
		return true
	}
	return false
}

// Booking is one passenger's request for seats on a ride.
type Booking struct {
	PassengerID    string
	PassengerName  string
	SeatsRequested int
	Pickup         string
	Drop           string
	Status         BookingStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CanTransition reports whether the booking may move to the given status.
func (b *Booking) CanTransition(to BookingStatus) bool {
	for _, next := range bookingTransitions[b.Status] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the booking to the given status, returning false when the
// move is not allowed from the current status.
func (b *Booking) Transition(to BookingStatus, at time.Time) bool {
	if !b.CanTransition(to) {
		return false
	}
	b.Status = to
	b.UpdatedAt = at
	return true
}
