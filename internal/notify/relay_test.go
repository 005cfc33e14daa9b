package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"carpool/internal/domain"
	"carpool/internal/presence"
)

type sentPayload struct {
	connID  string
	payload []byte
}

// recordingTransport captures payloads handed to connections.
type recordingTransport struct {
	mu        sync.Mutex
	conns     []string
	sent      []sentPayload
	broadcast [][]byte
	sendErr   error
}

func (t *recordingTransport) Send(connID string, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		return t.sendErr
	}
	t.sent = append(t.sent, sentPayload{connID: connID, payload: payload})
	return nil
}

func (t *recordingTransport) SendAll(payload []byte) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.broadcast = append(t.broadcast, payload)
	return len(t.conns)
}

type recordingPublisher struct {
	mu        sync.Mutex
	envelopes []Envelope
	err       error
}

func (p *recordingPublisher) Publish(ctx context.Context, env Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.envelopes = append(p.envelopes, env)
	return p.err
}

func newTestRelay() (*Relay, *presence.Directory, *recordingTransport) {
	dir := presence.NewDirectory()
	transport := &recordingTransport{conns: []string{"c1", "c2"}}
	return NewRelay(dir, transport, zerolog.Nop()), dir, transport
}

func TestRelay_TargetedReachesCurrentConnection(t *testing.T) {
	relay, dir, transport := newTestRelay()
	dir.SetOnline("driver-1", "c1")
	dir.SetOnline("driver-1", "c2")

	relay.Targeted(context.Background(), "driver-1", BookingRequest("ride-1", "p1", "Asha", 2))
	relay.Wait()

	if len(transport.sent) != 1 || transport.sent[0].connID != "c2" {
		t.Fatalf("expected one send to c2, got %+v", transport.sent)
	}

	var got Event
	if err := json.Unmarshal(transport.sent[0].payload, &got); err != nil {
		t.Fatalf("payload is not an event: %v", err)
	}
	if got.Type != EventBookingRequest || got.RideID != "ride-1" || got.Data["passengerId"] != "p1" || got.Data["seatsRequested"] != float64(2) {
		t.Errorf("unexpected event: %+v", got)
	}
}

func TestRelay_TargetedOfflineIsDropped(t *testing.T) {
	relay, _, transport := newTestRelay()

	relay.Targeted(context.Background(), "nobody", BookingUpdate("ride-1", domain.BookingStatusConfirmed, "ok"))
	relay.Wait()

	if len(transport.sent) != 0 || len(transport.broadcast) != 0 {
		t.Errorf("expected nothing delivered, got %+v / %d broadcasts", transport.sent, len(transport.broadcast))
	}
}

func TestRelay_SendFailureIsSwallowed(t *testing.T) {
	relay, dir, transport := newTestRelay()
	transport.sendErr = errors.New("buffer full")
	dir.SetOnline("p1", "c1")

	// Must not panic or block.
	relay.Targeted(context.Background(), "p1", BookingUpdate("ride-1", domain.BookingStatusRejected, "declined"))
	relay.Wait()
}

func TestRelay_BroadcastGoesToEveryone(t *testing.T) {
	relay, _, transport := newTestRelay()

	relay.Broadcast(context.Background(), RideCancelled("ride-1", "cancelled"))
	relay.Wait()

	if len(transport.broadcast) != 1 {
		t.Fatalf("expected one broadcast, got %d", len(transport.broadcast))
	}
	var got Event
	_ = json.Unmarshal(transport.broadcast[0], &got)
	if got.Type != EventRideCancelled || got.RideID != "ride-1" {
		t.Errorf("unexpected event: %+v", got)
	}
}

func TestRelay_CancelledRequestContextStillDelivers(t *testing.T) {
	relay, _, transport := newTestRelay()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	relay.Broadcast(ctx, RideCreated("ride-9"))
	relay.Wait()

	if len(transport.broadcast) != 1 {
		t.Errorf("expected broadcast despite cancelled request context")
	}
}

func TestRelay_PublisherReplacesLocalDelivery(t *testing.T) {
	relay, dir, transport := newTestRelay()
	publisher := &recordingPublisher{}
	relay.UsePublisher(publisher)
	dir.SetOnline("p1", "c1")

	relay.Targeted(context.Background(), "p1", BookingUpdate("ride-1", domain.BookingStatusConfirmed, "ok"))
	relay.Broadcast(context.Background(), RideCreated("ride-2"))
	relay.Wait()

	if len(transport.sent) != 0 || len(transport.broadcast) != 0 {
		t.Error("expected delivery to wait for the bus")
	}
	if len(publisher.envelopes) != 2 {
		t.Fatalf("expected 2 published envelopes, got %d", len(publisher.envelopes))
	}

	for _, env := range publisher.envelopes {
		relay.Deliver(env)
	}
	if len(transport.sent) != 1 || len(transport.broadcast) != 1 {
		t.Errorf("expected bus envelopes to be delivered locally, got %d sends %d broadcasts", len(transport.sent), len(transport.broadcast))
	}
}

// sharedBus delivers every envelope to each instance in publish order, the
// way a single Redis channel does.
type sharedBus struct {
	mu     sync.Mutex
	relays []*Relay
}

func (b *sharedBus) Publish(_ context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range b.relays {
		var decoded Envelope
		if err := json.Unmarshal(data, &decoded); err != nil {
			return err
		}
		r.Deliver(decoded)
	}
	return nil
}

type instance struct {
	relay     *Relay
	dir       *presence.Directory
	transport *recordingTransport
}

func newInstances(n int) (*sharedBus, []instance) {
	bus := &sharedBus{}
	instances := make([]instance, n)
	for i := range instances {
		dir := presence.NewDirectory()
		transport := &recordingTransport{}
		relay := NewRelay(dir, transport, zerolog.Nop())
		relay.UsePublisher(bus)
		bus.relays = append(bus.relays, relay)
		instances[i] = instance{relay: relay, dir: dir, transport: transport}
	}
	return bus, instances
}

func (in instance) connect(userID, connID string) {
	in.dir.SetOnline(userID, connID)
	in.relay.Claim(context.Background(), userID, connID)
	in.relay.Wait()
}

func TestRelay_ClaimOnOtherInstanceSupersedesOlderSession(t *testing.T) {
	_, inst := newInstances(2)
	a, b := inst[0], inst[1]

	a.connect("p1", "conn-a")
	b.connect("p1", "conn-b")

	if _, ok := a.dir.Lookup("p1"); ok {
		t.Error("expected the older session on instance A to be dropped")
	}
	if conn, _ := b.dir.Lookup("p1"); conn != "conn-b" {
		t.Errorf("expected conn-b on instance B, got %q", conn)
	}

	a.relay.Targeted(context.Background(), "p1", BookingUpdate("ride-1", domain.BookingStatusConfirmed, "ok"))
	a.relay.Wait()

	if len(a.transport.sent) != 0 {
		t.Errorf("expected nothing on the stale session, got %d sends", len(a.transport.sent))
	}
	if len(b.transport.sent) != 1 || b.transport.sent[0].connID != "conn-b" {
		t.Errorf("expected one send to conn-b, got %+v", b.transport.sent)
	}
}

func TestRelay_ClaimKeepsLocalReconnect(t *testing.T) {
	_, inst := newInstances(2)
	a := inst[0]

	a.connect("p1", "conn-1")
	a.connect("p1", "conn-2")

	if conn, _ := a.dir.Lookup("p1"); conn != "conn-2" {
		t.Errorf("expected conn-2, got %q", conn)
	}
}

func TestRelay_UnconfirmedSessionSurvivesOlderClaim(t *testing.T) {
	_, inst := newInstances(2)
	a, b := inst[0], inst[1]

	// B maps the user before A's claim arrives, but B's own claim is
	// published after A's, so B's session is the newer one.
	b.dir.SetOnline("p1", "conn-b")
	a.connect("p1", "conn-a")

	if conn, _ := b.dir.Lookup("p1"); conn != "conn-b" {
		t.Fatalf("expected B to keep its unconfirmed session, got %q", conn)
	}

	b.relay.Claim(context.Background(), "p1", "conn-b")
	b.relay.Wait()

	if _, ok := a.dir.Lookup("p1"); ok {
		t.Error("expected A to drop its session once B's claim arrived")
	}
	if conn, _ := b.dir.Lookup("p1"); conn != "conn-b" {
		t.Errorf("expected conn-b to remain, got %q", conn)
	}
}

func TestRelay_ClaimWithoutPublisherIsNoop(t *testing.T) {
	relay, dir, transport := newTestRelay()
	dir.SetOnline("p1", "c1")

	relay.Claim(context.Background(), "p1", "c1")
	relay.Wait()

	if conn, _ := dir.Lookup("p1"); conn != "c1" {
		t.Errorf("expected c1, got %q", conn)
	}
	if len(transport.sent)+len(transport.broadcast) != 0 {
		t.Error("expected a claim to send nothing")
	}
}
