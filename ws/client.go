package ws

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512

	sendBufferSize = 256
)

// StaleAfter is how long a connection may stay silent before the janitor drops it.
const StaleAfter = 2 * pongWait

// MessageHandler receives every inbound frame of a client.
type MessageHandler func(c *Client, message []byte)

// Client is one WebSocket connection. Outbound frames go through send and are
// written in order by WritePump.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	UserID int
	Role   string

	mu       sync.Mutex
	closed   bool
	room     string
	lastSeen atomic.Int64

	// membership serialises Join, Leave and Remove of this client.
	membership sync.Mutex
}

func NewClient(hub *Hub, conn *websocket.Conn, userID int) *Client {
	c := &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		UserID: userID,
	}
	c.touch()
	return c
}

// Room returns the room the client is currently registered under.
func (c *Client) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

func (c *Client) setRoom(roomID string) {
	c.mu.Lock()
	c.room = roomID
	c.mu.Unlock()
}

func (c *Client) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

func (c *Client) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close stops outbound delivery. WritePump notices the closed channel,
// sends a close frame and shuts the socket down.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		close(c.send)
		c.closed = true
	}
}

// enqueue never blocks: a full buffer drops the frame, the next tick's
// snapshot supersedes it.
func (c *Client) enqueue(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// ReadPump reads frames until the connection fails, passing each to handle.
// On exit the client is removed from the hub.
func (c *Client) ReadPump(handle MessageHandler) {
	logger := c.hub.logger.With(slog.Int("user_id", c.UserID))
	defer func() {
		c.hub.Remove(c)
		c.Close()
		c.conn.Close()
		logger.Debug("read pump closed")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("unexpected websocket close", slog.Any("error", err))
			}
			return
		}
		c.touch()
		if handle != nil {
			handle(c, message)
		}
	}
}

// WritePump drains send to the socket and keeps the connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// One frame per message so clients can decode each envelope on its own.
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Debug("write failed", slog.Int("user_id", c.UserID), slog.Any("error", err))
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
