package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raaihank/screen-tutor/internal/privacy"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypePIIDetection represents a personal data detection event
	EventTypePIIDetection EventType = "pii_detection"
	// EventTypeAnalysis represents a completed QCM analysis
	EventTypeAnalysis EventType = "analysis"
	// EventTypeRequestLog represents a request logging event
	EventTypeRequestLog EventType = "request_log"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
	// EventTypePong answers a client ping
	EventTypePong EventType = "pong"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	RequestID string    `json:"request_id,omitempty"`
}

// PIIDetectionEvent reports what was redacted. Matched text is never sent.
type PIIDetectionEvent struct {
	Source     string                   `json:"source"`
	Categories []privacy.Category       `json:"categories"`
	Counts     map[privacy.Category]int `json:"counts"`
	Total      int                      `json:"total"`
}

// AnalysisEvent reports a finished analysis
type AnalysisEvent struct {
	Summary      string  `json:"summary"`
	Cached       bool    `json:"cached"`
	ProcessingMS float64 `json:"processing_ms"`
}

// RequestLogEvent represents a request logging event
type RequestLogEvent struct {
	RequestID    string            `json:"request_id"`
	Method       string            `json:"method"`
	Path         string            `json:"path"`
	StatusCode   int               `json:"status_code"`
	ClientIP     string            `json:"client_ip"`
	UserAgent    string            `json:"user_agent,omitempty"`
	Duration     time.Duration     `json:"duration"`
	ResponseSize int64             `json:"response_size"`
	Headers      map[string]string `json:"headers,omitempty"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action    string `json:"action"` // "connected", "disconnected"
	ClientID  string `json:"client_id"`
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type   string      `json:"type"`
	Events []EventType `json:"events,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID          string
	Conn        *websocket.Conn
	Send        chan Event
	ConnectedAt time.Time
	IP          string
	UserAgent   string

	mu     sync.RWMutex
	events map[EventType]bool
}

// Subscribe restricts the client to the given event types. An empty list
// subscribes to everything.
func (c *Client) Subscribe(events []EventType) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(events) == 0 {
		c.events = nil
		return
	}
	c.events = make(map[EventType]bool, len(events))
	for _, e := range events {
		c.events[e] = true
	}
}

// Wants reports whether the client is subscribed to an event type
func (c *Client) Wants(t EventType) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.events == nil || c.events[t]
}
