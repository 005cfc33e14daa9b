package domain

// SeatsTaken sums the seats held by pending and confirmed bookings.
// It is recomputed from the booking list on every call.
func SeatsTaken(r *Ride) int {
	taken := 0
	for _, b := range r.Bookings {
		if b.Status.HoldsSeats() {
			taken += b.SeatsRequested
		}
	}
	return taken
}

// RemainingSeats returns the seats still available for new requests.
func RemainingSeats(r *Ride) int {
	return r.TotalSeats - SeatsTaken(r)
}

// ConfirmedSeats sums the seats committed by confirmed bookings.
func ConfirmedSeats(r *Ride) int {
	confirmed := 0
	for _, b := range r.Bookings {
		if b.Status == BookingStatusConfirmed {
			confirmed += b.SeatsRequested
		}
	}
	return confirmed
}

// CanConfirm re-validates capacity for a pending booking at commit time:
// the seats already committed by other confirmed bookings plus this
// booking's seats must fit the ride.
func CanConfirm(r *Ride, b *Booking) bool {
	return ConfirmedSeats(r)+b.SeatsRequested <= r.TotalSeats
}

// WithinCapacity reports whether the ride satisfies its capacity invariant.
func WithinCapacity(r *Ride) bool {
	return SeatsTaken(r) <= r.TotalSeats
}
