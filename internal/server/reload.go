package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/ssrdev/internal/compiler"
	"github.com/conneroisu/ssrdev/internal/config"
	"github.com/conneroisu/ssrdev/internal/errors"
	"github.com/conneroisu/ssrdev/internal/logging"
	"github.com/conneroisu/ssrdev/internal/metrics"
	"github.com/conneroisu/ssrdev/internal/recompile"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed for the peer to answer a ping.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512

	sendBuffer      = 16
	broadcastBuffer = 64
)

// MessageType names a reload channel message.
type MessageType string

const (
	MessageReload MessageType = "reload"
	MessageError  MessageType = "error"
	MessageClear  MessageType = "clear"
)

// ReloadMessage is sent to browsers on the reload channel.
type ReloadMessage struct {
	Type      MessageType `json:"type"`
	Pass      uint64      `json:"pass,omitempty"`
	Content   string      `json:"content,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Hub fans reload messages out to connected browsers.
type Hub struct {
	config  *config.Config
	logger  logging.Logger
	metrics *metrics.Metrics

	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	done       chan struct{}
	running    atomic.Bool

	clientsMu sync.RWMutex
	clients   map[*client]struct{}

	// failing is set while the latest pass did not publish.
	failing atomic.Bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// NewHub creates a hub. Run must be called before clients connect.
func NewHub(cfg *config.Config, logger logging.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Hub{
		config:     cfg,
		logger:     logger.WithComponent("reload"),
		metrics:    m,
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, broadcastBuffer),
		done:       make(chan struct{}),
		clients:    make(map[*client]struct{}),
	}
}

// Subscribe forwards manager events to connected browsers.
func (h *Hub) Subscribe(manager *recompile.Manager) {
	manager.OnPublish(func(handle *recompile.Handle, pass compiler.Pass) {
		if h.failing.Swap(false) {
			h.Broadcast(ReloadMessage{Type: MessageClear, Pass: pass.ID})
		}
		h.Broadcast(ReloadMessage{Type: MessageReload, Pass: handle.Pass})
	})
	manager.OnFailure(func(pass compiler.Pass, err error) {
		h.failing.Store(true)
		content := err.Error()
		if len(pass.Stats.Errors) > 0 {
			content = errors.FormatErrors(pass.Stats.Errors)
		}
		h.Broadcast(ReloadMessage{Type: MessageError, Pass: pass.ID, Content: content})
	})
}

// Broadcast queues msg for every client. Messages are dropped when the hub
// is not running or its queue is full.
func (h *Hub) Broadcast(msg ReloadMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error(context.Background(), err, "Failed to marshal reload message")
		return
	}
	if !h.running.Load() {
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn(context.Background(), nil, "Reload queue full, dropping message", "type", msg.Type)
	}
}

// ClientCount returns the number of connected browsers.
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// Run serves the hub until ctx is canceled. All clients are disconnected on
// return.
func (h *Hub) Run(ctx context.Context) {
	h.running.Store(true)
	defer func() {
		h.running.Store(false)
		close(h.done)
		h.clientsMu.Lock()
		for c := range h.clients {
			delete(h.clients, c)
			close(c.send)
		}
		h.clientsMu.Unlock()
		h.metrics.ReloadClients(0)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.clientsMu.Lock()
			h.clients[c] = struct{}{}
			count := len(h.clients)
			h.clientsMu.Unlock()
			h.metrics.ReloadClients(count)
			h.logger.Debug(ctx, "Client connected", "clients", count)

		case c := <-h.unregister:
			h.clientsMu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			count := len(h.clients)
			h.clientsMu.Unlock()
			h.metrics.ReloadClients(count)
			h.logger.Debug(ctx, "Client disconnected", "clients", count)

		case message := <-h.broadcast:
			h.clientsMu.Lock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					// Slow client; drop it rather than stall the others.
					delete(h.clients, c)
					close(c.send)
				}
			}
			count := len(h.clients)
			h.clientsMu.Unlock()
			h.metrics.ReloadClients(count)
		}
	}
}

// ServeHTTP upgrades the request to a reload channel connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	origin, ok := h.checkOrigin(r)
	if !ok {
		http.Error(w, "Origin not allowed", http.StatusForbidden)
		return
	}
	if !h.running.Load() {
		http.Error(w, "Reload channel unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{origin},
	})
	if err != nil {
		h.logger.Warn(r.Context(), err, "WebSocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxMessageSize)

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		hub:  h,
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}

	go c.writePump()
	go c.readPump()
}

// checkOrigin accepts same-host origins and the configured listen address.
// It returns the origin host to hand to the websocket handshake.
func (h *Hub) checkOrigin(r *http.Request) (string, bool) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return "", false
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return "", false
	}
	if originURL.Scheme != "http" && originURL.Scheme != "https" {
		return "", false
	}

	port := h.config.Server.Port
	allowed := []string{
		r.Host,
		fmt.Sprintf("%s:%d", h.config.Server.Host, port),
		fmt.Sprintf("localhost:%d", port),
		fmt.Sprintf("127.0.0.1:%d", port),
	}
	for _, host := range allowed {
		if originURL.Host == host {
			return originURL.Host, true
		}
	}
	return "", false
}

// readPump drains the connection so control frames are handled and
// unregisters the client when the browser goes away.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	// Reading also processes the pongs writePump waits for. The read blocks
	// until the peer or writePump closes the connection.
	for {
		if _, _, err := c.conn.Read(context.Background()); err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				c.hub.logger.Debug(context.Background(), "Reload client read ended", "error", err.Error())
			}
			return
		}
	}
}

// writePump sends queued messages and keeps the connection alive with pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			err := c.conn.Write(ctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				c.hub.logger.Debug(context.Background(), "Reload client write failed", "error", err.Error())
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), pongWait)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
