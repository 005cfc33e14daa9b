package domain

import "time"

// RideStatus represents the lifecycle status of a ride.
type RideStatus string

const (
	RideStatusActive    RideStatus = "active"
	RideStatusFull      RideStatus = "full"
	RideStatusCompleted RideStatus = "completed"
	RideStatusCancelled RideStatus = "cancelled"
)

const (
	MinSeats      = 1
	MaxSeats      = 7 // Excluding the driver.
	MaxNotesChars = 500
)

// Place is an address within a city.
type Place struct {
	Address string
	City    string
}

// RouteEstimate is opaque metadata attached to a ride at creation.
type RouteEstimate struct {
	DistanceKm float64
	EtaMinutes int
}

// Ride is a scheduled trip offered by a driver with a fixed seat count.
// Bookings are kept in request order.
type Ride struct {
	ID            string
	DriverID      string
	DriverName    string
	Origin        Place
	Destination   Place
	DepartureTime time.Time
	TotalSeats    int
	PricePerSeat  float64
	Route         RouteEstimate
	VehicleType   string
	Notes         string
	Status        RideStatus
	CancelReason  string
	Bookings      []Booking
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsOpen reports whether the ride still accepts booking changes.
func (r *Ride) IsOpen() bool {
	return r.Status == RideStatusActive || r.Status == RideStatusFull
}

// ActiveBookingFor returns the passenger's pending or confirmed booking.
func (r *Ride) ActiveBookingFor(passengerID string) (*Booking, bool) {
	for i := range r.Bookings {
		b := &r.Bookings[i]
		if b.PassengerID == passengerID && b.Status.HoldsSeats() {
			return b, true
		}
	}
	return nil, false
}

// PendingBookingFor returns the passenger's booking awaiting a driver decision.
func (r *Ride) PendingBookingFor(passengerID string) (*Booking, bool) {
	for i := range r.Bookings {
		b := &r.Bookings[i]
		if b.PassengerID == passengerID && b.Status == BookingStatusPending {
			return b, true
		}
	}
	return nil, false
}

// HasPassenger reports whether the user ever requested seats on the ride.
func (r *Ride) HasPassenger(userID string) bool {
	for _, b := range r.Bookings {
		if b.PassengerID == userID {
			return true
		}
	}
	return false
}

// SyncFullStatus moves an open ride between active and full so that the
// status always agrees with the booking list it was computed from.
func (r *Ride) SyncFullStatus() {
	if !r.IsOpen() {
		return
	}
	if RemainingSeats(r) <= 0 {
		r.Status = RideStatusFull
	} else {
		r.Status = RideStatusActive
	}
}

// Clone returns a deep copy of the ride.
func (r *Ride) Clone() *Ride {
	c := *r
	if r.Bookings != nil {
		c.Bookings = make([]Booking, len(r.Bookings))
		copy(c.Bookings, r.Bookings)
	}
	return &c
}
