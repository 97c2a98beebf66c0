package ws

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"storefront/internal/constants"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 15 * time.Second
	pingPeriod = 10 * time.Second

	// Observers only send heartbeats.
	maxMessageSize = 1024
)

// Client is one progress observer. The hub writes into send and WritePump
// drains it onto the socket.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan *Message
	id   string

	closed    atomic.Bool
	sendOnce  sync.Once
	closeOnce sync.Once
	dropped   atomic.Int64
}

func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan *Message, constants.WSClientSendBufferSize),
		id:   uuid.NewString(),
	}
}

func (c *Client) ID() string { return c.id }

// Dropped is how many frames were discarded because the client fell behind.
func (c *Client) Dropped() int64 { return c.dropped.Load() }

func (c *Client) IsClosed() bool { return c.closed.Load() }

// Close marks the client closed and tears down the socket. The pumps notice
// and exit; the hub drops the client when ReadPump unregisters it.
func (c *Client) Close() {
	c.closed.Store(true)
	c.closeOnce.Do(func() {
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

// closeSend is called by the hub goroutine only, once the client has left
// the fan-out set.
func (c *Client) closeSend() {
	c.sendOnce.Do(func() { close(c.send) })
	c.Close()
}

// ReadPump keeps the read deadline moving until the peer goes away.
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.shutdown:
		}
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("websocket read error", "component", "ws", "client_id", c.id, "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				slog.Debug("websocket write failed", "component", "ws", "client_id", c.id, "error", err)
				return
			}

		case <-ticker.C:
			if c.IsClosed() {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendHello queues the greeting frame. Call it before Register so it is
// always the first frame written.
func (c *Client) SendHello() {
	c.send <- &Message{
		Op:   OpHello,
		Data: HelloPayload{HeartbeatIntervalMS: pingPeriod.Milliseconds()},
	}
}
