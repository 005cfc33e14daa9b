package realtime

import (
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

const (
	messageTypeUserOnline = "user_online"
	messageTypePing       = "ping"
	messageTypePong       = "pong"
	messageTypeError      = "error"
)

// clientMessage is what clients send over the socket.
type clientMessage struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
	Token  string `json:"token,omitempty"`
}

// serverMessage is a control message from the server. Ride events are sent
// as notify.Event payloads.
type serverMessage struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// Conn is one websocket connection.
type Conn struct {
	id   string
	hub  *Hub
	ws   *websocket.Conn
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

func (c *Conn) enqueue(payload []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
}

func (c *Conn) enqueueJSON(msg serverMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	_ = c.enqueue(data)
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// readPump handles client messages until the connection fails, then
// removes the connection and its presence entry.
func (c *Conn) readPump() {
	defer func() {
		c.close()
		c.hub.unregister(c)
		_ = c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	if err := c.ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug().Err(err).Str("conn_id", c.id).Msg("websocket_read_failed")
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.enqueueJSON(serverMessage{Type: messageTypeError, Message: "malformed message"})
			continue
		}

		switch msg.Type {
		case messageTypeUserOnline:
			c.hub.announce(c, msg)
		case messageTypePing:
			c.enqueueJSON(serverMessage{Type: messageTypePong})
		}
	}
}

// writePump writes queued payloads and keeps the connection alive with pings.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
