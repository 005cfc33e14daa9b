package tests

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"carpool/internal/domain"
	"carpool/internal/repository"
	"carpool/internal/repository/memory"
	"carpool/internal/service"
)

// ──────────────────────────────────────────────
// 3. CONCURRENT BOOKINGS
// ──────────────────────────────────────────────

func registries(t *testing.T, ride *domain.Ride) map[string]repository.RideRepository {
	t.Helper()

	mock := NewMockRideRepository()
	mock.AddRide(ride)

	mem := memory.NewRideRepository()
	if err := mem.Create(context.Background(), ride.Clone()); err != nil {
		t.Fatalf("seed memory registry: %v", err)
	}

	return map[string]repository.RideRepository{"mock": mock, "memory": mem}
}

func TestConcurrentRequests_NeverOverbook(t *testing.T) {
	t.Parallel()

	const (
		capacity   = 5
		passengers = 40
	)

	for name, repo := range registries(t, newOpenRide("ride-1", "driver-1", capacity)) {
		t.Run(name, func(t *testing.T) {
			notifier := NewRecordingNotifier()
			svc := newBookingService(repo, notifier)

			var (
				wg        sync.WaitGroup
				succeeded atomic.Int32
				full      atomic.Int32
				start     = make(chan struct{})
			)
			for i := 0; i < passengers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					<-start
					_, err := svc.RequestSeats(context.Background(), service.RequestSeatsRequest{
						RideID:    "ride-1",
						Passenger: passenger(fmt.Sprintf("p-%d", i)),
						Seats:     1,
					})
					switch {
					case err == nil:
						succeeded.Add(1)
					case errors.Is(err, service.ErrCapacity):
						full.Add(1)
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}(i)
			}
			close(start)
			wg.Wait()

			if got := succeeded.Load(); got != capacity {
				t.Errorf("expected exactly %d successful requests, got %d", capacity, got)
			}
			if got := full.Load(); got != passengers-capacity {
				t.Errorf("expected %d capacity failures, got %d", passengers-capacity, got)
			}

			ride, err := repo.GetByID(context.Background(), "ride-1")
			if err != nil {
				t.Fatalf("get ride: %v", err)
			}
			if !domain.WithinCapacity(ride) {
				t.Errorf("ride overbooked: %d seats taken of %d", domain.SeatsTaken(ride), ride.TotalSeats)
			}
			if len(ride.Bookings) != capacity {
				t.Errorf("expected %d bookings, got %d", capacity, len(ride.Bookings))
			}
			if notifier.TargetedCount() != capacity {
				t.Errorf("expected one driver notification per success, got %d", notifier.TargetedCount())
			}
		})
	}
}

func TestConcurrentRequests_SamePassengerOnce(t *testing.T) {
	t.Parallel()

	for name, repo := range registries(t, newOpenRide("ride-1", "driver-1", 7)) {
		t.Run(name, func(t *testing.T) {
			svc := newBookingService(repo, nil)

			var (
				wg        sync.WaitGroup
				succeeded atomic.Int32
			)
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := svc.RequestSeats(context.Background(), service.RequestSeatsRequest{
						RideID: "ride-1", Passenger: passenger("p-1"), Seats: 1,
					})
					if err == nil {
						succeeded.Add(1)
					} else if !errors.Is(err, service.ErrDuplicateRequest) {
						t.Errorf("unexpected error: %v", err)
					}
				}()
			}
			wg.Wait()

			if got := succeeded.Load(); got != 1 {
				t.Errorf("expected one booking for the passenger, got %d", got)
			}
		})
	}
}

// Pending bookings written before the request-time check existed can exceed
// capacity. Confirmation must still never push confirmed seats past it.
func TestConcurrentConfirmations_RespectCapacity(t *testing.T) {
	t.Parallel()

	ride := newOpenRide("ride-1", "driver-1", 3)
	for i := 0; i < 6; i++ {
		ride.Bookings = append(ride.Bookings, pendingBooking(fmt.Sprintf("p-%d", i), 1))
	}

	for name, repo := range registries(t, ride) {
		t.Run(name, func(t *testing.T) {
			svc := newBookingService(repo, nil)

			var (
				wg        sync.WaitGroup
				confirmed atomic.Int32
			)
			for i := 0; i < 6; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, err := resolve(svc, "ride-1", "driver-1", fmt.Sprintf("p-%d", i), domain.BookingStatusConfirmed)
					switch {
					case err == nil:
						confirmed.Add(1)
					case errors.Is(err, service.ErrCapacity):
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}(i)
			}
			wg.Wait()

			if got := confirmed.Load(); got != 3 {
				t.Errorf("expected 3 confirmations, got %d", got)
			}
			final, err := repo.GetByID(context.Background(), "ride-1")
			if err != nil {
				t.Fatalf("get ride: %v", err)
			}
			if got := domain.ConfirmedSeats(final); got > final.TotalSeats {
				t.Errorf("confirmed seats %d exceed capacity %d", got, final.TotalSeats)
			}
		})
	}
}

func TestConcurrentCancelAndRequest_Consistent(t *testing.T) {
	t.Parallel()

	for name, repo := range registries(t, newOpenRide("ride-1", "driver-1", 4)) {
		t.Run(name, func(t *testing.T) {
			notifier := NewRecordingNotifier()
			svc := newBookingService(repo, notifier)

			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, _ = svc.RequestSeats(context.Background(), service.RequestSeatsRequest{
						RideID: "ride-1", Passenger: passenger(fmt.Sprintf("p-%d", i)), Seats: 1,
					})
				}(i)
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = svc.CancelRide(context.Background(), service.CancelRideRequest{
					RideID: "ride-1", Driver: driver("driver-1"),
				})
			}()
			wg.Wait()

			final, err := repo.GetByID(context.Background(), "ride-1")
			if err != nil {
				t.Fatalf("get ride: %v", err)
			}
			if final.Status != domain.RideStatusCancelled {
				t.Errorf("expected cancelled, got %s", final.Status)
			}
			if !domain.WithinCapacity(final) {
				t.Errorf("ride overbooked: %d of %d", domain.SeatsTaken(final), final.TotalSeats)
			}
			if notifier.TargetedCount() != len(final.Bookings) {
				t.Errorf("expected one notification per stored booking, got %d for %d",
					notifier.TargetedCount(), len(final.Bookings))
			}
			if len(notifier.Broadcasts()) != 1 {
				t.Errorf("expected one cancellation broadcast, got %d", len(notifier.Broadcasts()))
			}
		})
	}
}
