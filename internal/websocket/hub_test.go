package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raaihank/screen-tutor/internal/config"
	"github.com/raaihank/screen-tutor/internal/privacy"
	"go.uber.org/zap"
)

func startHub(t *testing.T, cfg config.WebSocketConfig) (*Hub, *httptest.Server) {
	t.Helper()

	hub := NewHub(cfg, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(func() {
		server.Close()
		cancel()
	})
	return hub, server
}

func dial(t *testing.T, server *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, n int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.GetStats().ActiveConnections == n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d clients, have %d", n, hub.GetStats().ActiveConnections)
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event map[string]any
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return event
}

func defaultConfig() config.WebSocketConfig {
	return config.GetDefaults().WebSocket
}

func TestPublishDetection(t *testing.T) {
	hub, server := startHub(t, defaultConfig())
	conn := dial(t, server, nil)
	waitForClients(t, hub, 1)

	hub.PublishDetection("api", map[privacy.Category]int{privacy.CategoryEmail: 2, privacy.CategoryPhone: 1})

	event := readEvent(t, conn)
	if event["type"] != string(EventTypePIIDetection) {
		t.Fatalf("unexpected event type %v", event["type"])
	}
	data := event["data"].(map[string]any)
	if data["total"].(float64) != 3 {
		t.Errorf("total = %v, want 3", data["total"])
	}
	raw, _ := json.Marshal(data)
	if strings.Contains(string(raw), "@") {
		t.Errorf("event leaks matched text: %s", raw)
	}
}

func TestDisabledEventsAreDropped(t *testing.T) {
	hub, server := startHub(t, defaultConfig())
	conn := dial(t, server, nil)
	waitForClients(t, hub, 1)

	// request_log is off by default
	hub.PublishRequest(RequestLogEvent{RequestID: "r1", Method: "GET", Path: "/health"})
	hub.PublishAnalysis("Q1: B", false, 1500*time.Microsecond)

	event := readEvent(t, conn)
	if event["type"] != string(EventTypeAnalysis) {
		t.Errorf("expected analysis event first, got %v", event["type"])
	}
}

func TestSubscribeAndPing(t *testing.T) {
	hub, server := startHub(t, defaultConfig())
	conn := dial(t, server, nil)
	waitForClients(t, hub, 1)

	if err := conn.WriteJSON(ClientMessage{Type: "subscribe", Events: []EventType{EventTypeAnalysis}}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := conn.WriteJSON(ClientMessage{Type: "ping"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if event := readEvent(t, conn); event["type"] != string(EventTypePong) {
		t.Fatalf("expected pong, got %v", event["type"])
	}

	hub.PublishDetection("api", map[privacy.Category]int{privacy.CategoryIBAN: 1})
	hub.PublishAnalysis("Q1: A", true, time.Millisecond)

	if event := readEvent(t, conn); event["type"] != string(EventTypeAnalysis) {
		t.Errorf("unsubscribed event delivered: %v", event["type"])
	}
}

func TestConnectionEvents(t *testing.T) {
	hub, server := startHub(t, defaultConfig())
	first := dial(t, server, nil)
	waitForClients(t, hub, 1)

	second := dial(t, server, nil)
	waitForClients(t, hub, 2)

	event := readEvent(t, first)
	if event["type"] != string(EventTypeConnection) {
		t.Fatalf("expected connection event, got %v", event["type"])
	}
	if action := event["data"].(map[string]any)["action"]; action != "connected" {
		t.Errorf("action = %v", action)
	}

	second.Close()
	waitForClients(t, hub, 1)
	event = readEvent(t, first)
	if action := event["data"].(map[string]any)["action"]; action != "disconnected" {
		t.Errorf("action = %v", action)
	}
}

func TestBasicAuth(t *testing.T) {
	cfg := defaultConfig()
	cfg.Username = "admin"
	cfg.Password = "s3cret"
	hub, server := startHub(t, cfg)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	if _, resp, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Fatal("expected unauthorized dial to fail")
	} else if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %v", resp)
	}

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	req.SetBasicAuth("admin", "s3cret")
	dial(t, server, req.Header)
	waitForClients(t, hub, 1)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "10.0.0.1:1234", "203.0.113.7"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.2"}, "10.0.0.1:1234", "198.51.100.2"},
		{"remote", nil, "192.0.2.1:5555", "192.0.2.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := ClientIP(r); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
