package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"carpool/internal/domain"
	"carpool/internal/middleware"
	"carpool/internal/service"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// respondError sends an error response with the appropriate HTTP status code.
func respondError(c *gin.Context, err error) {
	code := mapErrorToHTTPStatus(err)
	kind := service.KindOf(err)
	if kind == "" {
		_ = c.Error(err)
		c.JSON(code, ErrorResponse{Error: "internal server error", Code: "internal"})
		return
	}
	c.JSON(code, ErrorResponse{Error: err.Error(), Code: kind})
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

func respondBadRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg, Code: "validation"})
}

// mapErrorToHTTPStatus maps service errors to HTTP status codes.
func mapErrorToHTTPStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest

	case errors.Is(err, service.ErrSelfBooking),
		errors.Is(err, service.ErrDuplicateRequest):
		return http.StatusUnprocessableEntity

	case errors.Is(err, service.ErrAuthorization):
		return http.StatusForbidden

	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound

	// Retrying against fresh state may succeed.
	case errors.Is(err, service.ErrCapacity),
		errors.Is(err, service.ErrConflict):
		return http.StatusConflict

	case errors.Is(err, service.ErrStoreUnavailable):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// principal returns the authenticated caller or writes a 401.
func principal(c *gin.Context) (domain.Principal, bool) {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "authentication required", Code: "unauthenticated"})
		return domain.Principal{}, false
	}
	return p, true
}

// PlaceJSON is an address with its city.
type PlaceJSON struct {
	Address string `json:"address"`
	City    string `json:"city"`
}

func (p PlaceJSON) toDomain() domain.Place {
	return domain.Place{Address: p.Address, City: p.City}
}

func placeJSON(p domain.Place) PlaceJSON {
	return PlaceJSON{Address: p.Address, City: p.City}
}

// BookingResponse is a seat request as seen over HTTP.
type BookingResponse struct {
	PassengerID    string    `json:"passengerId"`
	PassengerName  string    `json:"passengerName,omitempty"`
	SeatsRequested int       `json:"seatsRequested"`
	Pickup         string    `json:"pickup,omitempty"`
	Drop           string    `json:"drop,omitempty"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// RideResponse is a ride as seen over HTTP. Seat counts are derived from
// the bookings on every response.
type RideResponse struct {
	ID             string            `json:"id"`
	DriverID       string            `json:"driverId"`
	DriverName     string            `json:"driverName,omitempty"`
	Origin         PlaceJSON         `json:"origin"`
	Destination    PlaceJSON         `json:"destination"`
	DepartureTime  time.Time         `json:"departureTime"`
	TotalSeats     int               `json:"totalSeats"`
	SeatsTaken     int               `json:"seatsTaken"`
	RemainingSeats int               `json:"remainingSeats"`
	PricePerSeat   float64           `json:"pricePerSeat"`
	DistanceKm     float64           `json:"distanceKm"`
	EtaMinutes     int               `json:"etaMinutes"`
	VehicleType    string            `json:"vehicleType,omitempty"`
	Notes          string            `json:"notes,omitempty"`
	Status         string            `json:"status"`
	CancelReason   string            `json:"cancelReason,omitempty"`
	Bookings       []BookingResponse `json:"bookings"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// rideResponse renders a ride for viewerID. The driver sees every booking;
// anyone else sees only their own.
func rideResponse(ride *domain.Ride, viewerID string) RideResponse {
	resp := RideResponse{
		ID:             ride.ID,
		DriverID:       ride.DriverID,
		DriverName:     ride.DriverName,
		Origin:         placeJSON(ride.Origin),
		Destination:    placeJSON(ride.Destination),
		DepartureTime:  ride.DepartureTime,
		TotalSeats:     ride.TotalSeats,
		SeatsTaken:     domain.SeatsTaken(ride),
		RemainingSeats: domain.RemainingSeats(ride),
		PricePerSeat:   ride.PricePerSeat,
		DistanceKm:     ride.Route.DistanceKm,
		EtaMinutes:     ride.Route.EtaMinutes,
		VehicleType:    ride.VehicleType,
		Notes:          ride.Notes,
		Status:         string(ride.Status),
		CancelReason:   ride.CancelReason,
		Bookings:       make([]BookingResponse, 0, len(ride.Bookings)),
		CreatedAt:      ride.CreatedAt,
		UpdatedAt:      ride.UpdatedAt,
	}

	for _, b := range ride.Bookings {
		if viewerID != ride.DriverID && b.PassengerID != viewerID {
			continue
		}
		resp.Bookings = append(resp.Bookings, BookingResponse{
			PassengerID:    b.PassengerID,
			PassengerName:  b.PassengerName,
			SeatsRequested: b.SeatsRequested,
			Pickup:         b.Pickup,
			Drop:           b.Drop,
			Status:         string(b.Status),
			CreatedAt:      b.CreatedAt,
			UpdatedAt:      b.UpdatedAt,
		})
	}
	return resp
}

// RideListResponse wraps a list of rides.
type RideListResponse struct {
	Count int            `json:"count"`
	Rides []RideResponse `json:"rides"`
}

func rideListResponse(rides []*domain.Ride, viewerID string) RideListResponse {
	resp := RideListResponse{Count: len(rides), Rides: make([]RideResponse, 0, len(rides))}
	for _, ride := range rides {
		resp.Rides = append(resp.Rides, rideResponse(ride, viewerID))
	}
	return resp
}
