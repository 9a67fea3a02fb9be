package signal

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxFrameBytes = 64 << 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browser peers connect from the embedding page's origin; access control
	// is the session token required to join a room, not the Origin header.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Client pairs one WebSocket connection with its hub membership. Frames flow
// out through a buffered channel so hub delivery never blocks on a slow peer.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan Envelope
	log  *slog.Logger

	// room is owned by readPump; no other goroutine touches it.
	room string

	mu     sync.Mutex
	closed bool
}

// Deliver queues env for the peer. A frame racing the peer's own departure is
// dropped; a peer too slow to drain its buffer is disconnected rather than
// allowed to stall the room.
func (c *Client) Deliver(env Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- env:
	default:
		c.log.Warn("dropping slow signaling peer", slog.String("room_id", env.RoomID))
		_ = c.conn.Close()
	}
}

func (c *Client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Handler upgrades an HTTP request to a signaling connection.
func Handler(hub *Hub, log *slog.Logger) gin.HandlerFunc {
	return func(gc *gin.Context) {
		conn, err := upgrader.Upgrade(gc.Writer, gc.Request, nil)
		if err != nil {
			log.Warn("websocket upgrade failed", slog.Any("error", err))
			return
		}
		c := &Client{
			hub:  hub,
			conn: conn,
			send: make(chan Envelope, 32),
			log:  log,
		}
		go c.writePump()
		c.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		if c.room != "" {
			c.hub.Leave(c.room, c)
		}
		c.shutdown()
	}()

	c.conn.SetReadLimit(maxFrameBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("websocket read failed", slog.Any("error", err))
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.log.Warn("invalid signaling frame", slog.Any("error", err))
			continue
		}

		switch {
		case env.Event == EventJoinRoom:
			if c.room != "" || env.RoomID == "" {
				continue
			}
			if _, err := c.hub.Join(env.RoomID, c); err != nil {
				return
			}
			c.room = env.RoomID
		case c.room != "":
			c.hub.Relay(c.room, c, env)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
