package ws

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"storefront/internal/constants"
)

const (
	// A client that misses this many frames is disconnected.
	maxDroppedMessagesBeforeDisconnect = 100

	registerTimeout = 5 * time.Second
)

var ErrHubClosed = errors.New("hub is shut down")

type registerRequest struct {
	client *Client
	done   chan struct{}
}

// Hub fans progress events out to every connected observer. Publishing
// never blocks: a full hub queue or a full client buffer drops the frame.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan *Message
	register   chan registerRequest
	unregister chan *Client
	shutdown   chan struct{}
	closed     atomic.Bool
	dropped    atomic.Int64
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *Message, constants.WSBroadcastBufferSize),
		register:   make(chan registerRequest),
		unregister: make(chan *Client),
		shutdown:   make(chan struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.shutdown:
			h.mu.Lock()
			for client := range h.clients {
				client.closeSend()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			slog.Info("shutdown complete", "component", "hub")
			return

		case req := <-h.register:
			h.mu.Lock()
			h.clients[req.client] = true
			h.mu.Unlock()
			close(req.done)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.closeSend()
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				h.sendToClientLocked(client, message)
			}
			h.mu.RUnlock()
		}
	}
}

// Register adds client to the fan-out set and returns once the hub has
// accepted it, so frames published afterwards reach the client.
func (h *Hub) Register(client *Client) error {
	req := registerRequest{client: client, done: make(chan struct{})}
	select {
	case h.register <- req:
	case <-h.shutdown:
		return ErrHubClosed
	case <-time.After(registerTimeout):
		return errors.New("hub registration timed out")
	}
	<-req.done
	return nil
}

// Caller must hold at least a read lock on h.mu.
func (h *Hub) sendToClientLocked(client *Client, msg *Message) {
	if client.IsClosed() {
		return
	}
	select {
	case client.send <- msg:
	default:
		dropped := client.dropped.Add(1)
		if dropped%10 == 1 {
			slog.Warn("dropped frames for slow observer", "component", "hub", "dropped", dropped, "client_id", client.id)
		}
		if dropped >= maxDroppedMessagesBeforeDisconnect {
			slog.Warn("disconnecting slow observer", "component", "hub", "client_id", client.id, "dropped", dropped)
			client.Close()
		}
	}
}

// Broadcast queues msg for every connected client. It never waits: when
// the hub queue is full the message is dropped.
func (h *Hub) Broadcast(msg *Message) {
	if h.closed.Load() {
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		if n := h.dropped.Add(1); n%100 == 1 {
			slog.Warn("hub broadcast queue full, dropping message", "component", "hub", "dropped", n)
		}
	}
}

// Publish sends a progress frame for event to all observers.
func (h *Hub) Publish(event string, percent int) {
	h.Broadcast(NewProgressMessage(event, percent))
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Shutdown() {
	if h.closed.CompareAndSwap(false, true) {
		close(h.shutdown)
	}
}
