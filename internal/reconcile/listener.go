package reconcile

import (
	"context"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"carpool/internal/notify"
)

const (
	minReconnectDelay = time.Second
	maxReconnectDelay = 32 * time.Second
)

// ListenerConfig configures the realtime connection.
type ListenerConfig struct {
	URL    string // websocket endpoint, e.g. ws://localhost:8080/ws
	UserID string
	Token  string      // omitted when the server runs without auth
	Header http.Header // sent with the upgrade request
}

// Listener keeps a realtime connection open and feeds events into a
// Reconciler, reconnecting with exponential backoff.
type Listener struct {
	cfg        ListenerConfig
	dialer     *websocket.Dialer
	reconciler *Reconciler
	log        zerolog.Logger

	minDelay time.Duration
	maxDelay time.Duration
}

// NewListener creates a new Listener.
func NewListener(cfg ListenerConfig, reconciler *Reconciler, log zerolog.Logger) *Listener {
	return &Listener{
		cfg:        cfg,
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		reconciler: reconciler,
		log:        log.With().Str("component", "listener").Logger(),
		minDelay:   minReconnectDelay,
		maxDelay:   maxReconnectDelay,
	}
}

type announcement struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
	Token  string `json:"token,omitempty"`
}

// Run connects and listens until ctx is cancelled. Every successful
// (re)connect triggers a full Refresh, since events sent while
// disconnected are lost.
func (l *Listener) Run(ctx context.Context) error {
	delay := l.minDelay
	for {
		err := l.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			// The connection was up; start the backoff over.
			delay = l.minDelay
		}

		l.log.Info().Err(err).Dur("retry_in", delay).Msg("realtime_disconnected")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		if err != nil {
			delay = min(delay*2, l.maxDelay)
		}
	}
}

// session runs one connection. It returns nil if the connection was
// established and later dropped, or the dial error.
func (l *Listener) session(ctx context.Context) error {
	conn, resp, err := l.dialer.DialContext(ctx, l.cfg.URL, l.cfg.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return err
	}
	defer conn.Close()

	// Unblock the read loop on shutdown.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	if err := conn.WriteJSON(announcement{Type: "user_online", UserID: l.cfg.UserID, Token: l.cfg.Token}); err != nil {
		return err
	}
	l.log.Info().Str("user_id", l.cfg.UserID).Msg("realtime_connected")

	l.reconciler.Refresh(ctx)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			l.log.Debug().Err(err).Msg("realtime_read_failed")
			return nil
		}

		var ev notify.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			l.log.Debug().Err(err).Msg("realtime_decode_failed")
			continue
		}
		if ev.RideID == "" {
			// Control messages such as pong and error carry no ride.
			continue
		}
		l.reconciler.HandleEvent(ev)
	}
}
