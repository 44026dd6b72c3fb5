// Package events streams audit events about processed pages to WebSocket
// subscribers.
package events

import (
	"context"
	"crypto/subtle"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// clientRequest carries a client's message into the Run goroutine, which
// owns all client state
type clientRequest struct {
	client *Client
	sub    *Subscription
	pong   bool
}

// Hub maintains the set of active clients and broadcasts events to them
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Event
	register   chan *Client
	unregister chan *Client
	requests   chan clientRequest
	done       chan struct{}

	config   Config
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu    sync.RWMutex
	stats Stats
}

// NewHub creates a hub; call Run to start it
func NewHub(config Config, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.PongTimeout <= 0 {
		config.PongTimeout = 60 * time.Second
	}
	if config.PingInterval <= 0 || config.PingInterval >= config.PongTimeout {
		config.PingInterval = (config.PongTimeout * 9) / 10
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = 512
	}

	h := &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		requests:   make(chan clientRequest),
		done:       make(chan struct{}),
		config:     config,
		logger:     logger.With(zap.String("component", "events")),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  config.ReadBufferSize,
		WriteBufferSize: config.WriteBufferSize,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Run handles registration and broadcasting until ctx is done
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("Starting event hub")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.removeClient(client)
			}
			h.logger.Info("Event hub stopped")
			return

		case client := <-h.register:
			h.clients[client] = true
			h.mu.Lock()
			h.stats.TotalConnections++
			h.stats.ActiveConnections = int64(len(h.clients))
			h.mu.Unlock()
			h.logger.Info("Client connected",
				zap.String("client_id", client.ID),
				zap.Int("active_connections", len(h.clients)))
			greeting := Event{
				Type:      EventTypeConnection,
				Timestamp: time.Now().UTC(),
				Data:      ConnectionEvent{Action: "connected", ClientID: client.ID},
			}
			// the new client gets its greeting directly, the others are told
			select {
			case client.Send <- greeting:
			default:
			}
			h.send(greeting, client)

		case client := <-h.unregister:
			if h.clients[client] {
				h.removeClient(client)
				h.logger.Info("Client disconnected",
					zap.String("client_id", client.ID),
					zap.Int("active_connections", len(h.clients)))
			}

		case req := <-h.requests:
			if !h.clients[req.client] {
				continue
			}
			if req.pong {
				select {
				case req.client.Send <- Event{Type: EventTypePong, Timestamp: time.Now().UTC()}:
				default:
				}
				continue
			}
			req.client.subscription = req.sub

		case event := <-h.broadcast:
			h.send(event, nil)
		}
	}
}

func (h *Hub) removeClient(client *Client) {
	delete(h.clients, client)
	close(client.Send)
	h.mu.Lock()
	h.stats.ActiveConnections = int64(len(h.clients))
	h.mu.Unlock()
}

// send delivers to every subscribed client except skip. Clients whose
// buffers are full are dropped.
func (h *Hub) send(event Event, skip *Client) {
	var delivered int64
	for client := range h.clients {
		if client == skip || !wants(client.subscription, event) {
			continue
		}
		select {
		case client.Send <- event:
			delivered++
		default:
			h.logger.Warn("Client send buffer full, closing connection", zap.String("client_id", client.ID))
			h.removeClient(client)
		}
	}

	h.mu.Lock()
	h.stats.TotalBroadcasts++
	h.stats.TotalMessages += delivered
	h.stats.LastBroadcastTime = time.Now()
	h.mu.Unlock()
}

func wants(sub *Subscription, event Event) bool {
	if sub == nil {
		return true
	}
	if len(sub.Events) > 0 && !slices.Contains(sub.Events, event.Type) {
		return false
	}
	if len(sub.DocIDs) > 0 {
		if pe, ok := event.Data.(PageEvent); ok && !slices.Contains(sub.DocIDs, pe.DocID) {
			return false
		}
	}
	return true
}

// Publish queues an event for broadcast without blocking. Events are
// dropped when the queue is full.
func (h *Hub) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	select {
	case h.broadcast <- event:
	default:
		h.mu.Lock()
		h.stats.Dropped++
		h.mu.Unlock()
		h.logger.Warn("Broadcast queue full, dropping event", zap.String("event_type", string(event.Type)))
	}
}

// GetStats returns current hub statistics
func (h *Hub) GetStats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stats
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.config.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(h.config.AllowedOrigins, "*") || slices.Contains(h.config.AllowedOrigins, origin)
}

func (h *Hub) authorized(r *http.Request) bool {
	if h.config.Username == "" || h.config.Password == "" {
		return true
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(h.config.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(h.config.Password)) == 1
	return userOK && passOK
}

// HandleWebSocket upgrades the request and attaches a client
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="phi-sentinel events"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if max := h.config.MaxConnections; max > 0 && h.GetStats().ActiveConnections >= int64(max) {
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	client := &Client{
		ID:          uuid.NewString(),
		conn:        conn,
		Send:        make(chan Event, 256),
		ConnectedAt: time.Now(),
		IP:          r.RemoteAddr,
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go h.writePump(client)
	go h.readPump(client)
}

func (h *Hub) writePump(client *Client) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case event, ok := <-client.Send:
			client.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteJSON(event); err != nil {
				h.logger.Debug("Failed to write event", zap.String("client_id", client.ID), zap.Error(err))
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readPump(client *Client) {
	defer func() {
		h.toHub(h.unregister, client)
		client.conn.Close()
	}()

	client.conn.SetReadLimit(h.config.MaxMessageSize)
	client.conn.SetReadDeadline(time.Now().Add(h.config.PongTimeout))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(h.config.PongTimeout))
		return nil
	})

	for {
		var msg ClientMessage
		if err := client.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("WebSocket error", zap.String("client_id", client.ID), zap.Error(err))
			}
			return
		}
		h.handleClientMessage(client, msg)
	}
}

func (h *Hub) handleClientMessage(client *Client, msg ClientMessage) {
	switch msg.Type {
	case "subscribe":
		sub := &Subscription{}
		if raw, ok := msg.Data["events"].([]any); ok {
			for _, e := range raw {
				if s, ok := e.(string); ok {
					sub.Events = append(sub.Events, EventType(s))
				}
			}
		}
		if raw, ok := msg.Data["doc_ids"].([]any); ok {
			for _, d := range raw {
				if s, ok := d.(string); ok {
					sub.DocIDs = append(sub.DocIDs, s)
				}
			}
		}
		h.request(clientRequest{client: client, sub: sub})
		h.logger.Debug("Client subscription updated",
			zap.String("client_id", client.ID),
			zap.Int("event_types", len(sub.Events)),
			zap.Int("doc_ids", len(sub.DocIDs)))
	case "ping":
		h.request(clientRequest{client: client, pong: true})
	}
}

func (h *Hub) toHub(ch chan *Client, client *Client) {
	select {
	case ch <- client:
	case <-h.done:
	}
}

func (h *Hub) request(req clientRequest) {
	select {
	case h.requests <- req:
	case <-h.done:
	}
}
