package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"carpool/internal/domain"
	"carpool/internal/service"
)

// BookingHandler handles HTTP requests for seat bookings.
type BookingHandler struct {
	bookingService *service.BookingService
}

// NewBookingHandler creates a new BookingHandler.
func NewBookingHandler(bookingService *service.BookingService) *BookingHandler {
	return &BookingHandler{bookingService: bookingService}
}

// RequestSeatsRequest is the HTTP request body for requesting seats.
type RequestSeatsRequest struct {
	Seats  int    `json:"seats"`
	Pickup string `json:"pickup,omitempty"`
	Drop   string `json:"drop,omitempty"`
}

// ResolveBookingRequest is the HTTP request body for the driver's decision.
type ResolveBookingRequest struct {
	Status string `json:"status"` // confirmed or rejected
}

// RequestSeats handles POST /v1/rides/:id/bookings
func (h *BookingHandler) RequestSeats(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	var req RequestSeatsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body")
		return
	}

	ride, err := h.bookingService.RequestSeats(c.Request.Context(), service.RequestSeatsRequest{
		RideID:    c.Param("id"),
		Passenger: p,
		Seats:     req.Seats,
		Pickup:    req.Pickup,
		Drop:      req.Drop,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, rideResponse(ride, p.ID))
}

// ResolveBooking handles PUT /v1/rides/:id/bookings/:passengerId
func (h *BookingHandler) ResolveBooking(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	var req ResolveBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body")
		return
	}

	ride, err := h.bookingService.ResolveBooking(c.Request.Context(), service.ResolveBookingRequest{
		RideID:      c.Param("id"),
		Driver:      p,
		PassengerID: c.Param("passengerId"),
		Decision:    domain.BookingStatus(req.Status),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, rideResponse(ride, p.ID))
}

// CancelBooking handles DELETE /v1/rides/:id/bookings/me
func (h *BookingHandler) CancelBooking(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	ride, err := h.bookingService.CancelBooking(c.Request.Context(), service.CancelBookingRequest{
		RideID:    c.Param("id"),
		Passenger: p,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, rideResponse(ride, p.ID))
}
