// Package realtime is the websocket transport behind the notification relay.
package realtime

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"carpool/internal/domain"
	"carpool/internal/metrics"
	"carpool/internal/notify"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

var (
	ErrUnknownConnection = errors.New("unknown connection")
	ErrConnectionClosed  = errors.New("connection closed")
	ErrSendBufferFull    = errors.New("send buffer full")
)

// PresenceDirectory records which connection represents each user.
type PresenceDirectory interface {
	SetOnline(userID, connID string) (replaced string)
	Remove(connID string) (userID string, removed bool)
	Count() int
}

// TokenVerifier checks the token a client presents when announcing itself.
type TokenVerifier interface {
	Verify(token string) (domain.Principal, error)
}

// PresenceClaimer spreads an announce to other instances.
type PresenceClaimer interface {
	Claim(ctx context.Context, userID, connID string)
}

// Ensure the relay can spread claims.
var _ PresenceClaimer = (*notify.Relay)(nil)

// Ensure Hub is a notification transport.
var _ notify.Transport = (*Hub)(nil)

// Hub owns every live websocket connection on this instance.
type Hub struct {
	directory PresenceDirectory
	verifier  TokenVerifier
	claimer   PresenceClaimer
	upgrader  websocket.Upgrader
	log       zerolog.Logger

	mu    sync.RWMutex
	conns map[string]*Conn
}

// NewHub creates a new Hub. With a nil verifier the userId a client
// announces is trusted as is.
func NewHub(directory PresenceDirectory, verifier TokenVerifier, log zerolog.Logger) *Hub {
	return &Hub{
		directory: directory,
		verifier:  verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin:      func(*http.Request) bool { return true },
		},
		log:   log.With().Str("component", "realtime").Logger(),
		conns: make(map[string]*Conn),
	}
}

// UseClaimer reports every accepted announce to c. It must be called before
// the hub serves connections.
func (h *Hub) UseClaimer(c PresenceClaimer) {
	h.claimer = c
}

// ServeHTTP upgrades the request and starts serving the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("websocket_upgrade_failed")
		return
	}

	c := &Conn{
		id:   uuid.New().String(),
		hub:  h,
		ws:   ws,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()

	h.log.Debug().Str("conn_id", c.id).Msg("websocket_connected")

	go c.writePump()
	go c.readPump()
}

// Send queues payload for one connection without blocking.
func (h *Hub) Send(connID string, payload []byte) error {
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return ErrUnknownConnection
	}
	return c.enqueue(payload)
}

// SendAll queues payload for every connection and returns how many accepted it.
func (h *Hub) SendAll(payload []byte) int {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range conns {
		if c.enqueue(payload) == nil {
			sent++
		}
	}
	return sent
}

// Count returns the number of open connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close closes every connection. Used on shutdown.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.close()
	}
}

func (h *Hub) announce(c *Conn, msg clientMessage) {
	userID := msg.UserID
	if h.verifier != nil {
		p, err := h.verifier.Verify(msg.Token)
		if err != nil || p.ID != userID {
			h.log.Debug().Err(err).Str("conn_id", c.id).Str("user_id", userID).Msg("presence_rejected")
			c.enqueueJSON(serverMessage{Type: messageTypeError, Message: "invalid token for user"})
			return
		}
	}
	if userID == "" {
		c.enqueueJSON(serverMessage{Type: messageTypeError, Message: "userId is required"})
		return
	}

	replaced := h.directory.SetOnline(userID, c.id)
	metrics.UsersOnline.Set(float64(h.directory.Count()))
	if h.claimer != nil {
		h.claimer.Claim(context.Background(), userID, c.id)
	}

	h.log.Info().Str("conn_id", c.id).Str("user_id", userID).Str("replaced", replaced).Msg("user_online")
}

func (h *Hub) unregister(c *Conn) {
	h.mu.Lock()
	delete(h.conns, c.id)
	h.mu.Unlock()

	if userID, removed := h.directory.Remove(c.id); removed {
		metrics.UsersOnline.Set(float64(h.directory.Count()))
		h.log.Info().Str("conn_id", c.id).Str("user_id", userID).Msg("user_offline")
	}
}
