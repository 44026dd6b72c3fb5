package events

import (
	"time"

	"github.com/gorilla/websocket"
)

// EventType represents the type of audit event
type EventType string

const (
	// EventTypePageDeidentified is sent after a page is redacted
	EventTypePageDeidentified EventType = "page_deidentified"
	// EventTypePageReidentified is sent after a page is reconstructed
	EventTypePageReidentified EventType = "page_reidentified"
	// EventTypeFallbackUsed is sent when a page went to basic redaction
	EventTypeFallbackUsed EventType = "fallback_used"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
	// EventTypePong answers a client ping
	EventTypePong EventType = "pong"
)

// Event is one message on the audit stream
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	RequestID string    `json:"request_id,omitempty"`
}

// PageEvent describes a processed page. It carries identifiers and counts
// only, never page or entity text.
type PageEvent struct {
	DocID      string         `json:"doc_id"`
	Page       int            `json:"page"`
	Method     string         `json:"method,omitempty"`
	Counts     map[string]int `json:"counts,omitempty"`
	Entities   int            `json:"entities"`
	Unresolved int            `json:"unresolved,omitempty"`
	Ambiguous  []string       `json:"ambiguous,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	DurationMS float64        `json:"duration_ms"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action   string `json:"action"` // "connected", "disconnected"
	ClientID string `json:"client_id"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Subscription limits the events a client receives
type Subscription struct {
	Events []EventType `json:"events"`
	DocIDs []string    `json:"doc_ids,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID           string
	conn         *websocket.Conn
	Send         chan Event
	subscription *Subscription
	ConnectedAt  time.Time
	IP           string
}

// Stats tracks hub statistics
type Stats struct {
	TotalConnections  int64     `json:"total_connections"`
	ActiveConnections int64     `json:"active_connections"`
	TotalMessages     int64     `json:"total_messages"`
	TotalBroadcasts   int64     `json:"total_broadcasts"`
	Dropped           int64     `json:"dropped"`
	LastBroadcastTime time.Time `json:"last_broadcast_time"`
}

// Config contains configuration for the hub
type Config struct {
	MaxConnections  int
	ReadBufferSize  int
	WriteBufferSize int
	PingInterval    time.Duration
	PongTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxMessageSize  int64
	AllowedOrigins  []string
	// Username and Password enable basic auth on the stream when both are set
	Username string
	Password string
}

// Publisher receives audit events
type Publisher interface {
	Publish(Event)
}

// Discard drops every event
type Discard struct{}

// Publish does nothing
func (Discard) Publish(Event) {}
