package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"carpool/internal/notify"
)

// DefaultCoalesceWindow groups bursts of events into one refetch.
const DefaultCoalesceWindow = 250 * time.Millisecond

// Snapshot is the client's current view.
type Snapshot struct {
	Rides       map[string]Ride // rides the client is looking at
	Offered     []Ride
	Booked      []Ride
	SearchStale bool // a ride was created since the last search
}

// Reconciler turns pushed events into refetches. It never applies event
// payloads to its state.
type Reconciler struct {
	fetcher Fetcher
	log     zerolog.Logger
	window  time.Duration

	// flushMu orders refetches so an older read never lands after a newer one.
	flushMu sync.Mutex

	mu          sync.Mutex
	rides       map[string]Ride
	offered     []Ride
	booked      []Ride
	searchStale bool
	dirtyRides  map[string]struct{}
	dirtyLists  bool

	wake     chan struct{}
	onChange func(Snapshot)
}

// NewReconciler creates a Reconciler. onChange, if set, is called after
// every refetch with the new snapshot. It runs while the reconciler is
// locked and must not call back into it.
func NewReconciler(fetcher Fetcher, window time.Duration, onChange func(Snapshot), log zerolog.Logger) *Reconciler {
	if window <= 0 {
		window = DefaultCoalesceWindow
	}
	return &Reconciler{
		fetcher:    fetcher,
		log:        log.With().Str("component", "reconciler").Logger(),
		window:     window,
		rides:      make(map[string]Ride),
		dirtyRides: make(map[string]struct{}),
		wake:       make(chan struct{}, 1),
		onChange:   onChange,
	}
}

// Track adds a ride to the set kept fresh, such as an open detail view.
func (r *Reconciler) Track(rideID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rides[rideID]; !ok {
		r.rides[rideID] = Ride{ID: rideID}
	}
	r.dirtyRides[rideID] = struct{}{}
	r.signal()
}

// Untrack stops refreshing a ride.
func (r *Reconciler) Untrack(rideID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rides, rideID)
	delete(r.dirtyRides, rideID)
}

// HandleEvent marks the state an event may have changed. Events that cannot
// concern this client are ignored.
func (r *Reconciler) HandleEvent(ev notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Type {
	case notify.EventBookingRequest, notify.EventBookingUpdate, notify.EventRideCompleted:
		// Targeted at this user, so always relevant.
		r.markRide(ev.RideID)
		r.dirtyLists = true
	case notify.EventRideCancelled:
		if !r.concerns(ev.RideID) {
			return
		}
		r.markRide(ev.RideID)
		r.dirtyLists = true
	case notify.EventRideCreated:
		r.searchStale = true
		r.notifyLocked()
		return
	default:
		r.log.Debug().Str("type", string(ev.Type)).Msg("event_ignored")
		return
	}
	r.signal()
}

// concerns reports whether the ride appears anywhere in the client's view.
func (r *Reconciler) concerns(rideID string) bool {
	if _, ok := r.rides[rideID]; ok {
		return true
	}
	for _, list := range [][]Ride{r.offered, r.booked} {
		for _, ride := range list {
			if ride.ID == rideID {
				return true
			}
		}
	}
	return false
}

func (r *Reconciler) markRide(rideID string) {
	if _, ok := r.rides[rideID]; ok {
		r.dirtyRides[rideID] = struct{}{}
	}
}

func (r *Reconciler) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run applies marked changes, one refetch per coalescing window, until ctx
// is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.wake:
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.window):
		}

		r.flush(ctx)
	}
}

// Refresh refetches everything now. Call it on reconnect and when the
// client regains focus, since events may have been missed.
func (r *Reconciler) Refresh(ctx context.Context) {
	r.mu.Lock()
	for id := range r.rides {
		r.dirtyRides[id] = struct{}{}
	}
	r.dirtyLists = true
	r.searchStale = true
	r.mu.Unlock()

	r.flush(ctx)
}

// flush refetches everything marked dirty. Calls from Run and Refresh take
// turns: the dirty set is read only after the previous flush has applied
// its results, so marks made during a fetch are picked up by the next one.
func (r *Reconciler) flush(ctx context.Context) {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	r.mu.Lock()
	rideIDs := make([]string, 0, len(r.dirtyRides))
	for id := range r.dirtyRides {
		rideIDs = append(rideIDs, id)
	}
	r.dirtyRides = make(map[string]struct{})
	lists := r.dirtyLists
	r.dirtyLists = false
	r.mu.Unlock()

	if len(rideIDs) == 0 && !lists {
		return
	}

	fetched := make(map[string]Ride, len(rideIDs))
	var gone, failed []string
	for _, id := range rideIDs {
		ride, err := r.fetcher.Ride(ctx, id)
		switch {
		case errors.Is(err, ErrRideGone):
			gone = append(gone, id)
		case err != nil:
			r.log.Warn().Err(err).Str("ride_id", id).Msg("ride_refetch_failed")
			failed = append(failed, id)
		default:
			fetched[id] = ride
		}
	}

	var offered, booked []Ride
	listsOK := false
	if lists {
		var errOffered, errBooked error
		offered, errOffered = r.fetcher.OfferedRides(ctx)
		booked, errBooked = r.fetcher.BookedRides(ctx)
		if err := errors.Join(errOffered, errBooked); err != nil {
			r.log.Warn().Err(err).Msg("list_refetch_failed")
		} else {
			listsOK = true
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, ride := range fetched {
		if _, tracked := r.rides[id]; tracked {
			r.rides[id] = ride
		}
	}
	for _, id := range gone {
		delete(r.rides, id)
	}
	// Failed reads stay dirty for the next flush.
	for _, id := range failed {
		r.dirtyRides[id] = struct{}{}
	}
	if lists && !listsOK {
		r.dirtyLists = true
	}
	if listsOK {
		r.offered, r.booked = offered, booked
	}
	r.notifyLocked()
}

// Snapshot returns a copy of the current view.
func (r *Reconciler) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// ClearSearchStale records that search results were just reloaded.
func (r *Reconciler) ClearSearchStale() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.searchStale = false
}

func (r *Reconciler) snapshotLocked() Snapshot {
	s := Snapshot{
		Rides:       make(map[string]Ride, len(r.rides)),
		Offered:     append([]Ride(nil), r.offered...),
		Booked:      append([]Ride(nil), r.booked...),
		SearchStale: r.searchStale,
	}
	for id, ride := range r.rides {
		s.Rides[id] = ride
	}
	return s
}

func (r *Reconciler) notifyLocked() {
	if r.onChange != nil {
		r.onChange(r.snapshotLocked())
	}
}
