// Package reconcile keeps a client's view of rides consistent with the
// server. Pushed events are hints; state always comes from a fresh read.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// ErrRideGone is returned when a tracked ride no longer exists.
var ErrRideGone = errors.New("ride not found")

// Booking is the client's view of a seat request.
type Booking struct {
	PassengerID    string `json:"passengerId"`
	SeatsRequested int    `json:"seatsRequested"`
	Status         string `json:"status"`
}

// Ride is the client's view of a ride.
type Ride struct {
	ID             string    `json:"id"`
	DriverID       string    `json:"driverId"`
	DepartureTime  time.Time `json:"departureTime"`
	TotalSeats     int       `json:"totalSeats"`
	SeatsTaken     int       `json:"seatsTaken"`
	RemainingSeats int       `json:"remainingSeats"`
	Status         string    `json:"status"`
	Bookings       []Booking `json:"bookings"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type rideList struct {
	Rides []Ride `json:"rides"`
}

// Fetcher reads authoritative ride state.
type Fetcher interface {
	Ride(ctx context.Context, rideID string) (Ride, error)
	OfferedRides(ctx context.Context) ([]Ride, error)
	BookedRides(ctx context.Context) ([]Ride, error)
}

// HTTPFetcher reads ride state from the HTTP API.
type HTTPFetcher struct {
	baseURL string
	client  *http.Client
	header  http.Header
}

// NewHTTPFetcher creates a fetcher against baseURL (for example
// "http://localhost:8080"). header is sent with every request and carries
// the caller's credentials.
func NewHTTPFetcher(baseURL string, client *http.Client, header http.Header) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPFetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		header:  header.Clone(),
	}
}

// Ride fetches one ride.
func (f *HTTPFetcher) Ride(ctx context.Context, rideID string) (Ride, error) {
	var ride Ride
	err := f.get(ctx, "/v1/rides/"+url.PathEscape(rideID), &ride)
	return ride, err
}

// OfferedRides fetches the rides the caller drives.
func (f *HTTPFetcher) OfferedRides(ctx context.Context) ([]Ride, error) {
	var list rideList
	err := f.get(ctx, "/v1/rides/mine", &list)
	return list.Rides, err
}

// BookedRides fetches the rides the caller requested seats on.
func (f *HTTPFetcher) BookedRides(ctx context.Context) ([]Ride, error) {
	var list rideList
	err := f.get(ctx, "/v1/bookings/mine", &list)
	return list.Rides, err
}

func (f *HTTPFetcher) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+path, nil)
	if err != nil {
		return err
	}
	for k, v := range f.header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrRideGone
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("GET %s: unexpected status %d", path, resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
