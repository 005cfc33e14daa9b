package service

import (
	"context"
	"math"
	"math/rand"

	"carpool/internal/domain"
)

// RouteEstimator estimates distance and travel time between two places.
// The result is metadata only and never affects booking decisions.
type RouteEstimator interface {
	Estimate(ctx context.Context, origin, destination domain.Place) domain.RouteEstimate
}

// averageSpeedKmh is the speed assumed when turning distance into time.
const averageSpeedKmh = 40.0

// MockRouteEstimator returns a random distance between 10 and 100 km and an
// ETA at the average speed. It stands in for a maps API.
type MockRouteEstimator struct{}

// Estimate returns a mocked route estimate.
func (MockRouteEstimator) Estimate(_ context.Context, _, _ domain.Place) domain.RouteEstimate {
	distance := float64(rand.Intn(91) + 10)
	return domain.RouteEstimate{
		DistanceKm: distance,
		EtaMinutes: EtaMinutes(distance),
	}
}

// EtaMinutes converts a distance to whole minutes at the average speed.
func EtaMinutes(distanceKm float64) int {
	return int(math.Ceil(distanceKm / averageSpeedKmh * 60))
}
