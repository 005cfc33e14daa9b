// Package notify routes ride events to connected users. Delivery is
// best-effort and at-most-once: an event for a user who is not connected is
// dropped, and nothing is queued or retried.
package notify

import (
	"context"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"carpool/internal/metrics"
)

// Transport delivers raw payloads to connections on this instance.
type Transport interface {
	Send(connID string, payload []byte) error
	SendAll(payload []byte) int
}

// Directory resolves a user to their current connection.
type Directory interface {
	Lookup(userID string) (string, bool)
	Remove(connID string) (userID string, removed bool)
}

// Publisher fans envelopes out to every instance. Each instance hands what
// it receives back to Relay.Deliver.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// Envelope carries an event and its recipient. An empty Target means
// broadcast. An envelope with a Claim carries no event.
type Envelope struct {
	Target string         `json:"target,omitempty"`
	Event  Event          `json:"event"`
	Claim  *PresenceClaim `json:"claim,omitempty"`
}

// PresenceClaim says a user just came online on ConnID. Connection IDs are
// unique across instances.
type PresenceClaim struct {
	UserID string `json:"userId"`
	ConnID string `json:"connId"`
}

func (e Envelope) kind() string {
	if e.Claim != nil {
		return "presence_claim"
	}
	return string(e.Event.Type)
}

// Relay implements targeted and broadcast delivery over a Transport.
type Relay struct {
	directory Directory
	transport Transport
	publisher Publisher
	log       zerolog.Logger
	wg        sync.WaitGroup

	claimMu sync.Mutex
	// confirmed holds, per user, the local connection whose own claim has
	// already come back over the bus.
	confirmed map[string]string
}

// NewRelay creates a Relay that delivers on this instance only.
func NewRelay(directory Directory, transport Transport, log zerolog.Logger) *Relay {
	return &Relay{
		directory: directory,
		transport: transport,
		log:       log.With().Str("component", "relay").Logger(),
		confirmed: make(map[string]string),
	}
}

// UsePublisher routes every event through p instead of delivering locally.
// It must be called before the relay is used.
//
// Each instance resolves targeted events against its own directory. For a
// user to be reachable only on their newest session across instances, the
// realtime layer must report every announce through Claim; claims are
// ordered by the bus, so "newest" means last published, not last dialled.
// Without claims a user with sessions on two instances gets targeted
// events on both.
func (r *Relay) UsePublisher(p Publisher) {
	r.publisher = p
}

// Targeted delivers event to the user's current connection, if any. It
// returns immediately; delivery happens in the background.
func (r *Relay) Targeted(ctx context.Context, userID string, event Event) {
	r.dispatch(ctx, Envelope{Target: userID, Event: event})
}

// Broadcast delivers event to every connection.
func (r *Relay) Broadcast(ctx context.Context, event Event) {
	r.dispatch(ctx, Envelope{Event: event})
}

// Claim publishes that userID is now online on connID. Every instance that
// still maps the user to an older connection drops that mapping once the
// claim reaches it. Without a publisher the local directory already holds
// the only mapping and Claim does nothing.
func (r *Relay) Claim(ctx context.Context, userID, connID string) {
	if r.publisher == nil {
		return
	}
	r.dispatch(ctx, Envelope{Claim: &PresenceClaim{UserID: userID, ConnID: connID}})
}

// Wait blocks until in-flight deliveries finish.
func (r *Relay) Wait() {
	r.wg.Wait()
}

func (r *Relay) dispatch(ctx context.Context, env Envelope) {
	// The caller's request may finish before delivery does.
	ctx = context.WithoutCancel(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if r.publisher == nil {
			r.Deliver(env)
			return
		}
		if err := r.publisher.Publish(ctx, env); err != nil {
			metrics.NotificationsDropped.WithLabelValues("publish_failed", env.kind()).Inc()
			r.log.Warn().Err(err).Str("type", env.kind()).Str("ride_id", env.Event.RideID).Msg("event_publish_failed")
		}
	}()
}

// Deliver hands env to local connections. Envelopes must arrive in bus
// order, from a single goroutine.
func (r *Relay) Deliver(env Envelope) {
	if env.Claim != nil {
		r.applyClaim(*env.Claim)
		return
	}

	eventType := string(env.Event.Type)
	payload, err := json.Marshal(env.Event)
	if err != nil {
		r.log.Error().Err(err).Str("type", eventType).Msg("event_encode_failed")
		return
	}

	if env.Target == "" {
		n := r.transport.SendAll(payload)
		metrics.NotificationsDelivered.WithLabelValues("broadcast", eventType).Add(float64(n))
		r.log.Debug().Str("type", eventType).Str("ride_id", env.Event.RideID).Int("connections", n).Msg("event_broadcast")
		return
	}

	connID, ok := r.directory.Lookup(env.Target)
	if !ok {
		metrics.NotificationsDropped.WithLabelValues("offline", eventType).Inc()
		r.log.Debug().Str("type", eventType).Str("user_id", env.Target).Msg("event_dropped_offline")
		return
	}

	if err := r.transport.Send(connID, payload); err != nil {
		metrics.NotificationsDropped.WithLabelValues("send_failed", eventType).Inc()
		r.log.Debug().Err(err).Str("type", eventType).Str("user_id", env.Target).Msg("event_send_failed")
		return
	}
	metrics.NotificationsDelivered.WithLabelValues("targeted", eventType).Inc()
}

// applyClaim keeps at most one connection per user across instances. A local
// mapping whose own claim was seen earlier on the bus is older than claim
// and is dropped. An unconfirmed local mapping is newer: its claim is still
// on the way and will displace claim's connection on the other instance.
func (r *Relay) applyClaim(claim PresenceClaim) {
	local, ok := r.directory.Lookup(claim.UserID)
	if !ok {
		return
	}

	r.claimMu.Lock()
	defer r.claimMu.Unlock()

	if local == claim.ConnID {
		r.confirmed[claim.UserID] = local
		return
	}
	if r.confirmed[claim.UserID] != local {
		return
	}

	delete(r.confirmed, claim.UserID)
	r.directory.Remove(local)
	r.log.Debug().
		Str("user_id", claim.UserID).
		Str("conn_id", local).
		Str("superseded_by", claim.ConnID).
		Msg("presence_superseded")
}
