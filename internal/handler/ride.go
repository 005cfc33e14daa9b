package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"carpool/internal/service"
)

// RideHandler handles HTTP requests for rides.
type RideHandler struct {
	rideService    *service.RideService
	bookingService *service.BookingService
}

// NewRideHandler creates a new RideHandler.
func NewRideHandler(rideService *service.RideService, bookingService *service.BookingService) *RideHandler {
	return &RideHandler{
		rideService:    rideService,
		bookingService: bookingService,
	}
}

// CreateRideRequest is the HTTP request body for offering a ride.
type CreateRideRequest struct {
	Origin        PlaceJSON `json:"origin"`
	Destination   PlaceJSON `json:"destination"`
	DepartureTime time.Time `json:"departureTime"`
	TotalSeats    int       `json:"totalSeats"`
	PricePerSeat  float64   `json:"pricePerSeat"`
	VehicleType   string    `json:"vehicleType,omitempty"`
	Notes         string    `json:"notes,omitempty"`
}

// CancelRideRequest is the HTTP request body for cancelling a ride.
type CancelRideRequest struct {
	Reason string `json:"reason,omitempty"`
}

// CreateRide handles POST /v1/rides
func (h *RideHandler) CreateRide(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	var req CreateRideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body")
		return
	}

	ride, err := h.rideService.CreateRide(c.Request.Context(), service.CreateRideRequest{
		Driver:        p,
		Origin:        req.Origin.toDomain(),
		Destination:   req.Destination.toDomain(),
		DepartureTime: req.DepartureTime,
		TotalSeats:    req.TotalSeats,
		PricePerSeat:  req.PricePerSeat,
		VehicleType:   req.VehicleType,
		Notes:         req.Notes,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, rideResponse(ride, p.ID))
}

// GetRide handles GET /v1/rides/:id
func (h *RideHandler) GetRide(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	ride, err := h.rideService.GetRide(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, rideResponse(ride, p.ID))
}

// SearchRides handles GET /v1/rides/search
func (h *RideHandler) SearchRides(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	req := service.SearchRidesRequest{
		OriginCity:      c.Query("originCity"),
		DestinationCity: c.Query("destinationCity"),
		VehicleType:     c.Query("vehicleType"),
		ExcludeDriverID: p.ID,
	}

	if v := c.Query("date"); v != "" {
		date, err := parseSearchDate(v)
		if err != nil {
			respondBadRequest(c, "date must be YYYY-MM-DD or RFC 3339")
			return
		}
		req.Date = date
	}
	if v := c.Query("seats"); v != "" {
		seats, err := strconv.Atoi(v)
		if err != nil || seats < 1 {
			respondBadRequest(c, "seats must be a positive integer")
			return
		}
		req.MinSeats = seats
	}
	if v := c.Query("maxPrice"); v != "" {
		maxPrice, err := strconv.ParseFloat(v, 64)
		if err != nil || maxPrice < 0 {
			respondBadRequest(c, "maxPrice must be a non-negative number")
			return
		}
		req.MaxPrice = maxPrice
	}

	rides, err := h.rideService.SearchRides(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, rideListResponse(rides, p.ID))
}

// parseSearchDate accepts a calendar date (taken as UTC) or a full
// timestamp whose zone picks the day.
func parseSearchDate(v string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, v)
}

// ListMyRides handles GET /v1/rides/mine
func (h *RideHandler) ListMyRides(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	rides, err := h.rideService.ListDriverRides(c.Request.Context(), p.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, rideListResponse(rides, p.ID))
}

// ListMyBookings handles GET /v1/bookings/mine
func (h *RideHandler) ListMyBookings(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	rides, err := h.rideService.ListPassengerBookings(c.Request.Context(), p.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, rideListResponse(rides, p.ID))
}

// CancelRide handles POST /v1/rides/:id/cancel
func (h *RideHandler) CancelRide(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	var req CancelRideRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBadRequest(c, "invalid request body")
			return
		}
	}

	ride, err := h.bookingService.CancelRide(c.Request.Context(), service.CancelRideRequest{
		RideID: c.Param("id"),
		Driver: p,
		Reason: req.Reason,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, rideResponse(ride, p.ID))
}

// CompleteRide handles POST /v1/rides/:id/complete
func (h *RideHandler) CompleteRide(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	ride, err := h.bookingService.CompleteRide(c.Request.Context(), service.CompleteRideRequest{
		RideID: c.Param("id"),
		Driver: p,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, rideResponse(ride, p.ID))
}
