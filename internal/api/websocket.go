package api

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"storefront/internal/config"
	"storefront/internal/ws"
)

// WebSocketHandler upgrades progress observers onto the hub. Observers are
// anonymous, so connections are bounded per IP and globally instead.
type WebSocketHandler struct {
	hub            *ws.Hub
	allowedOrigins []string
	budget         *connectionBudget
	resolver       *ClientIPResolver
	upgrader       websocket.Upgrader
}

func NewWebSocketHandler(hub *ws.Hub, allowedOrigins []string, cfg config.WebSocketConfig, resolver *ClientIPResolver) *WebSocketHandler {
	h := &WebSocketHandler{
		hub:            hub,
		allowedOrigins: allowedOrigins,
		budget:         newConnectionBudget(cfg.MaxConnectionsPerIP, cfg.MaxConnections),
		resolver:       resolver,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	return originAllowed(r.Header.Get("Origin"), h.allowedOrigins)
}

// GET /ws
func (h *WebSocketHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	ip := "unknown"
	if h.resolver != nil {
		ip = h.resolver.Resolve(r)
	}
	if !h.budget.reserve(ip) {
		writeError(w, http.StatusTooManyRequests, ErrCodeRateLimitExceeded, "Too many connections")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.budget.release(ip)
		slog.Debug("websocket upgrade failed", "component", "ws", "error", err)
		return
	}

	client := ws.NewClient(h.hub, conn)
	client.SendHello()
	if err := h.hub.Register(client); err != nil {
		h.budget.release(ip)
		client.Close()
		return
	}

	go client.WritePump()
	go func() {
		client.ReadPump()
		h.budget.release(ip)
	}()
}

// connectionBudget caps open connections per key and in total.
type connectionBudget struct {
	mu        sync.Mutex
	perKey    map[string]int
	total     int
	maxPerKey int
	maxTotal  int
}

func newConnectionBudget(maxPerKey, maxTotal int) *connectionBudget {
	return &connectionBudget{
		perKey:    make(map[string]int),
		maxPerKey: maxPerKey,
		maxTotal:  maxTotal,
	}
}

func (b *connectionBudget) reserve(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.maxTotal > 0 && b.total >= b.maxTotal {
		return false
	}
	if b.maxPerKey > 0 && b.perKey[key] >= b.maxPerKey {
		return false
	}
	b.perKey[key]++
	b.total++
	return true
}

func (b *connectionBudget) release(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.perKey[key] <= 1 {
		delete(b.perKey, key)
	} else {
		b.perKey[key]--
	}
	if b.total > 0 {
		b.total--
	}
}
