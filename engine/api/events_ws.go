package api

import (
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/net/websocket"
)

// eventHub fans out distribution/session/connector change notifications to
// every connected /api/distribution/events client, plus a periodic
// heartbeat so idle connections can detect a dead peer.
type eventHub struct {
	clientsMu sync.Mutex
	clients   map[*websocket.Conn]struct{}

	heartbeat time.Duration
}

func newEventHub(heartbeat time.Duration) *eventHub {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &eventHub{clients: make(map[*websocket.Conn]struct{}), heartbeat: heartbeat}
}

type wsMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp,omitempty"`
	Data      any       `json:"data,omitempty"`
}

func (h *eventHub) handler(overallStatus func() string) websocket.Handler {
	return func(conn *websocket.Conn) {
		h.clientsMu.Lock()
		h.clients[conn] = struct{}{}
		h.clientsMu.Unlock()
		defer func() {
			h.clientsMu.Lock()
			delete(h.clients, conn)
			h.clientsMu.Unlock()
			conn.Close()
		}()

		_ = websocket.JSON.Send(conn, wsMessage{
			Type: "connected", Timestamp: time.Now(),
			Data: map[string]string{"overall_status": overallStatus()},
		})

		stop := make(chan struct{})
		go h.heartbeatLoop(conn, stop)
		defer close(stop)

		for {
			var raw map[string]any
			if err := websocket.JSON.Receive(conn, &raw); err != nil {
				return
			}
			if raw["type"] == "ping" {
				_ = websocket.JSON.Send(conn, wsMessage{Type: "pong", Timestamp: time.Now()})
			}
		}
	}
}

func (h *eventHub) heartbeatLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := websocket.JSON.Send(conn, wsMessage{Type: "heartbeat", Timestamp: time.Now()}); err != nil {
				return
			}
		}
	}
}

// broadcast pushes a typed event to every connected client, best-effort.
func (h *eventHub) broadcast(eventType string, data any) {
	msg := wsMessage{Type: eventType, Timestamp: time.Now(), Data: data}
	body, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	for c := range h.clients {
		_, _ = c.Write(body)
	}
}

func (srv *Server) broadcast(eventType string, data any) {
	srv.hub.broadcast(eventType, data)
}
