package handler

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"carpool/internal/middleware"
	"carpool/internal/repository/memory"
	"carpool/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter() *gin.Engine {
	repo := memory.NewRideRepository()
	log := zerolog.Nop()
	rideService := service.NewRideService(repo, nil, nil, log)
	bookingService := service.NewBookingService(repo, nil, log)
	rides := NewRideHandler(rideService, bookingService)
	bookings := NewBookingHandler(bookingService)

	r := gin.New()
	v1 := r.Group("/v1", middleware.AuthMiddleware(nil, true))
	v1.POST("/rides", rides.CreateRide)
	v1.GET("/rides/search", rides.SearchRides)
	v1.GET("/rides/mine", rides.ListMyRides)
	v1.GET("/rides/:id", rides.GetRide)
	v1.POST("/rides/:id/bookings", bookings.RequestSeats)
	v1.PUT("/rides/:id/bookings/:passengerId", bookings.ResolveBooking)
	v1.DELETE("/rides/:id/bookings/me", bookings.CancelBooking)
	v1.POST("/rides/:id/cancel", rides.CancelRide)
	v1.POST("/rides/:id/complete", rides.CompleteRide)
	v1.GET("/bookings/mine", rides.ListMyBookings)
	return r
}

func do(t *testing.T, r http.Handler, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User-ID", user)
		req.Header.Set("X-User-Name", "name-"+user)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body, err)
	}
	return v
}

func createRide(t *testing.T, r http.Handler, driver string, seats int) RideResponse {
	t.Helper()
	w := do(t, r, http.MethodPost, "/v1/rides", driver, CreateRideRequest{
		Origin:        PlaceJSON{Address: "MG Road", City: "Bengaluru"},
		Destination:   PlaceJSON{Address: "Palace Road", City: "Mysuru"},
		DepartureTime: time.Now().Add(24 * time.Hour),
		TotalSeats:    seats,
		PricePerSeat:  250,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create ride: expected 201, got %d: %s", w.Code, w.Body)
	}
	return decode[RideResponse](t, w)
}

func TestMapErrorToHTTPStatus(t *testing.T) {
	testCases := []struct {
		err  error
		want int
	}{
		{service.ErrInvalidSeats, http.StatusBadRequest},
		{service.ErrSelfBooking, http.StatusUnprocessableEntity},
		{service.ErrDuplicateRequest, http.StatusUnprocessableEntity},
		{service.ErrNotRideDriver, http.StatusForbidden},
		{service.ErrRideNotFound, http.StatusNotFound},
		{service.ErrBookingNotFound, http.StatusNotFound},
		{service.ErrCapacity, http.StatusConflict},
		{service.ErrConflict, http.StatusConflict},
		{service.ErrRideNotOpen, http.StatusBadRequest},
		{service.ErrStoreUnavailable, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range testCases {
		if got := mapErrorToHTTPStatus(tc.err); got != tc.want {
			t.Errorf("%v: expected %d, got %d", tc.err, tc.want, got)
		}
	}
}

func TestCreateRide_ReturnsSeatCounts(t *testing.T) {
	r := newTestRouter()
	ride := createRide(t, r, "driver-1", 3)

	if ride.ID == "" || ride.Status != "active" {
		t.Errorf("unexpected ride %+v", ride)
	}
	if ride.RemainingSeats != 3 || ride.SeatsTaken != 0 {
		t.Errorf("expected 3 remaining and 0 taken, got %d and %d", ride.RemainingSeats, ride.SeatsTaken)
	}
	if ride.DriverName != "name-driver-1" {
		t.Errorf("expected driver name from principal, got %q", ride.DriverName)
	}
}

func TestCreateRide_InvalidSeats_BadRequest(t *testing.T) {
	r := newTestRouter()
	w := do(t, r, http.MethodPost, "/v1/rides", "driver-1", CreateRideRequest{
		Origin:        PlaceJSON{Address: "a", City: "A"},
		Destination:   PlaceJSON{Address: "b", City: "B"},
		DepartureTime: time.Now().Add(time.Hour),
		TotalSeats:    8,
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if resp := decode[ErrorResponse](t, w); resp.Code != "validation" {
		t.Errorf("expected code validation, got %q", resp.Code)
	}
}

func TestMissingPrincipal_Unauthorized(t *testing.T) {
	r := newTestRouter()
	w := do(t, r, http.MethodGet, "/v1/rides/mine", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestBookingFlow_RequestConfirmFull(t *testing.T) {
	r := newTestRouter()
	ride := createRide(t, r, "driver-1", 2)
	path := "/v1/rides/" + ride.ID

	w := do(t, r, http.MethodPost, path+"/bookings", "p-1", RequestSeatsRequest{Seats: 2})
	if w.Code != http.StatusCreated {
		t.Fatalf("request seats: expected 201, got %d: %s", w.Code, w.Body)
	}
	if got := decode[RideResponse](t, w); got.RemainingSeats != 0 {
		t.Errorf("expected pending booking to hold seats, remaining %d", got.RemainingSeats)
	}

	w = do(t, r, http.MethodPost, path+"/bookings", "p-2", RequestSeatsRequest{Seats: 1})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 when seats are held, got %d", w.Code)
	}
	if resp := decode[ErrorResponse](t, w); resp.Code != "capacity" {
		t.Errorf("expected code capacity, got %q", resp.Code)
	}

	w = do(t, r, http.MethodPut, path+"/bookings/p-1", "driver-1", ResolveBookingRequest{Status: "confirmed"})
	if w.Code != http.StatusOK {
		t.Fatalf("confirm: expected 200, got %d: %s", w.Code, w.Body)
	}
	got := decode[RideResponse](t, w)
	if got.Status != "full" {
		t.Errorf("expected ride full, got %s", got.Status)
	}
	if len(got.Bookings) != 1 || got.Bookings[0].Status != "confirmed" {
		t.Errorf("unexpected bookings %+v", got.Bookings)
	}

	w = do(t, r, http.MethodPut, path+"/bookings/p-1", "driver-1", ResolveBookingRequest{Status: "confirmed"})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 on second resolve, got %d", w.Code)
	}
}

func TestRequestSeats_SelfBooking_Unprocessable(t *testing.T) {
	r := newTestRouter()
	ride := createRide(t, r, "driver-1", 3)

	w := do(t, r, http.MethodPost, "/v1/rides/"+ride.ID+"/bookings", "driver-1", RequestSeatsRequest{Seats: 1})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
	if resp := decode[ErrorResponse](t, w); resp.Code != "self_booking" {
		t.Errorf("expected code self_booking, got %q", resp.Code)
	}
}

func TestResolveBooking_NotDriver_Forbidden(t *testing.T) {
	r := newTestRouter()
	ride := createRide(t, r, "driver-1", 3)
	do(t, r, http.MethodPost, "/v1/rides/"+ride.ID+"/bookings", "p-1", RequestSeatsRequest{Seats: 1})

	w := do(t, r, http.MethodPut, "/v1/rides/"+ride.ID+"/bookings/p-1", "p-2", ResolveBookingRequest{Status: "confirmed"})
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

func TestGetRide_PassengerSeesOnlyOwnBooking(t *testing.T) {
	r := newTestRouter()
	ride := createRide(t, r, "driver-1", 4)
	for _, p := range []string{"p-1", "p-2"} {
		do(t, r, http.MethodPost, "/v1/rides/"+ride.ID+"/bookings", p, RequestSeatsRequest{Seats: 1})
	}

	asPassenger := decode[RideResponse](t, do(t, r, http.MethodGet, "/v1/rides/"+ride.ID, "p-1", nil))
	if len(asPassenger.Bookings) != 1 || asPassenger.Bookings[0].PassengerID != "p-1" {
		t.Errorf("expected only p-1 booking, got %+v", asPassenger.Bookings)
	}
	if asPassenger.SeatsTaken != 2 {
		t.Errorf("expected seat counts over all bookings, got %d", asPassenger.SeatsTaken)
	}

	asDriver := decode[RideResponse](t, do(t, r, http.MethodGet, "/v1/rides/"+ride.ID, "driver-1", nil))
	if len(asDriver.Bookings) != 2 {
		t.Errorf("expected driver to see 2 bookings, got %d", len(asDriver.Bookings))
	}
}

func TestGetRide_Unknown_NotFound(t *testing.T) {
	r := newTestRouter()
	w := do(t, r, http.MethodGet, "/v1/rides/missing", "p-1", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestSearchRides_ExcludesOwnRidesAndFiltersSeats(t *testing.T) {
	r := newTestRouter()
	createRide(t, r, "driver-1", 1)
	createRide(t, r, "driver-2", 4)

	w := do(t, r, http.MethodGet, "/v1/rides/search?originCity=bengaluru&destinationCity=MYS&seats=2", "driver-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body)
	}
	got := decode[RideListResponse](t, w)
	if got.Count != 1 || got.Rides[0].DriverID != "driver-2" {
		t.Errorf("expected only driver-2 ride, got %+v", got.Rides)
	}
}

func TestSearchRides_BadDate_BadRequest(t *testing.T) {
	r := newTestRouter()
	w := do(t, r, http.MethodGet, "/v1/rides/search?originCity=a&destinationCity=b&date=tomorrow", "p-1", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestCancelRide_ThenRequest_NotOpen(t *testing.T) {
	r := newTestRouter()
	ride := createRide(t, r, "driver-1", 3)

	w := do(t, r, http.MethodPost, "/v1/rides/"+ride.ID+"/cancel", "driver-1", CancelRideRequest{Reason: "car broke down"})
	if w.Code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d: %s", w.Code, w.Body)
	}
	if got := decode[RideResponse](t, w); got.Status != "cancelled" || got.CancelReason != "car broke down" {
		t.Errorf("unexpected ride %+v", got)
	}

	w = do(t, r, http.MethodPost, "/v1/rides/"+ride.ID+"/bookings", "p-1", RequestSeatsRequest{Seats: 1})
	resp := decode[ErrorResponse](t, w)
	if w.Code != http.StatusBadRequest || resp.Code != "validation" {
		t.Errorf("expected 400 validation, got %d %q", w.Code, resp.Code)
	}
	if resp.Error != service.ErrRideNotOpen.Error() {
		t.Errorf("expected %q, got %q", service.ErrRideNotOpen.Error(), resp.Error)
	}
}

func TestListMine_DriverAndPassengerViews(t *testing.T) {
	r := newTestRouter()
	for i := 0; i < 2; i++ {
		createRide(t, r, "driver-1", 3)
	}
	other := createRide(t, r, "driver-2", 3)
	do(t, r, http.MethodPost, "/v1/rides/"+other.ID+"/bookings", "driver-1", RequestSeatsRequest{Seats: 1})

	mine := decode[RideListResponse](t, do(t, r, http.MethodGet, "/v1/rides/mine", "driver-1", nil))
	if mine.Count != 2 {
		t.Errorf("expected 2 offered rides, got %d", mine.Count)
	}

	booked := decode[RideListResponse](t, do(t, r, http.MethodGet, "/v1/bookings/mine", "driver-1", nil))
	if booked.Count != 1 || booked.Rides[0].ID != other.ID {
		t.Errorf("expected booking on %s, got %+v", other.ID, booked.Rides)
	}
}

func TestCancelBooking_ReleasesSeats(t *testing.T) {
	r := newTestRouter()
	ride := createRide(t, r, "driver-1", 1)
	path := "/v1/rides/" + ride.ID
	do(t, r, http.MethodPost, path+"/bookings", "p-1", RequestSeatsRequest{Seats: 1})
	do(t, r, http.MethodPut, path+"/bookings/p-1", "driver-1", ResolveBookingRequest{Status: "confirmed"})

	w := do(t, r, http.MethodDelete, path+"/bookings/me", "p-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body)
	}
	got := decode[RideResponse](t, w)
	if got.Status != "active" || got.RemainingSeats != 1 {
		t.Errorf("expected reopened ride with 1 seat, got %s with %d", got.Status, got.RemainingSeats)
	}
}
