package distribution

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"golang.org/x/net/websocket"

	"github.com/99souls/synopticon/engine/models"
)

// websocketDistributor starts a small websocket server (spec.md §4.5:
// "start WebSocket server") and fans Send payloads out to every connected
// client — the same fan-out-to-many-sinks shape the rest of the corpus uses
// for multi-output writers, with a live client registry standing in for a
// fixed sink slice.
type websocketDistributor struct {
	statsTracker
	addr   string
	path   string
	server *http.Server

	clientsMu sync.Mutex
	clients   map[*websocket.Conn]struct{}
}

func newWebSocketDistributor(dest models.DistributorDestination) *websocketDistributor {
	path := dest.Path
	if path == "" {
		path = "/"
	}
	return &websocketDistributor{
		addr:    fmt.Sprintf("%s:%d", dest.Host, dest.Port),
		path:    path,
		clients: make(map[*websocket.Conn]struct{}),
	}
}

func (d *websocketDistributor) Kind() models.DistributorKind { return models.DistributorWebSocket }

func (d *websocketDistributor) Open(ctx context.Context) error {
	ln, err := net.Listen("tcp", d.addr)
	if err != nil {
		return models.NewTransportError("distribution.websocketDistributor.Open", "listen failed", err)
	}
	mux := http.NewServeMux()
	mux.Handle(d.path, websocket.Handler(d.handleClient))
	d.server = &http.Server{Handler: mux}
	go d.server.Serve(ln)
	return nil
}

func (d *websocketDistributor) handleClient(conn *websocket.Conn) {
	d.clientsMu.Lock()
	d.clients[conn] = struct{}{}
	d.clientsMu.Unlock()
	defer func() {
		d.clientsMu.Lock()
		delete(d.clients, conn)
		d.clientsMu.Unlock()
		conn.Close()
	}()
	buf := make([]byte, 1)
	for {
		if _, err := conn.Read(buf); err != nil {
			return
		}
	}
}

func (d *websocketDistributor) Close() error {
	d.clientsMu.Lock()
	for c := range d.clients {
		c.Close()
	}
	d.clients = make(map[*websocket.Conn]struct{})
	d.clientsMu.Unlock()
	if d.server == nil {
		return nil
	}
	return d.server.Close()
}

func (d *websocketDistributor) Send(ctx context.Context, payload []byte, opts SendOptions) (SendResult, error) {
	d.clientsMu.Lock()
	defer d.clientsMu.Unlock()

	reached := 0
	var firstErr error
	for c := range d.clients {
		if _, err := c.Write(payload); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		reached++
	}
	if reached == 0 && len(d.clients) > 0 {
		d.recordError()
		return SendResult{}, models.NewTransportError("distribution.websocketDistributor.Send", "all clients failed", firstErr)
	}
	d.recordSend(len(payload) * reached)
	return SendResult{BytesSent: len(payload), ClientsReached: reached}, nil
}
