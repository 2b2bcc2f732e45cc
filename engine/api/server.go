package api

import (
	"context"
	"net/http"
	"time"

	"github.com/99souls/synopticon/engine"
	"github.com/99souls/synopticon/engine/distribution"
)

// Server is the C8 external API surface: every HTTP route and the
// WebSocket event stream are methods hung off this struct, sharing the
// engine facade and a small amount of REST-resource bookkeeping the
// engine's domain packages don't themselves model (stream/client identity,
// active recordings, subscriber buffers).
type Server struct {
	engine *engine.Engine
	dist   *distribution.Manager
	opts   Options

	store            *distributionStore
	telemetryStreams *telemetryStreamStore
	hub              *eventHub
}

// Options configures NewServer.
type Options struct {
	IncludeProbesInHealth bool
	EventHeartbeatSeconds int // 0 uses the hub's default
}

// NewServer builds a Server bound to e. e.Start must be called separately;
// the API surface only wires routes, it doesn't own the engine lifecycle.
func NewServer(e *engine.Engine, opts Options) *Server {
	return &Server{
		engine:           e,
		dist:             e.Distribution(),
		opts:             opts,
		store:            newDistributionStore(),
		telemetryStreams: newTelemetryStreamStore(),
		hub:              newEventHub(time.Duration(opts.EventHeartbeatSeconds) * time.Second),
	}
}

var distributionEndpoints = []string{
	"GET /api/distribution/status",
	"POST /api/distribution/streams",
	"GET /api/distribution/streams",
	"GET /api/distribution/streams/{id}",
	"PUT /api/distribution/streams/{id}",
	"DELETE /api/distribution/streams/{id}",
	"GET /api/distribution/discovery",
	"POST /api/distribution/clients",
	"GET /api/distribution/clients",
	"GET /api/distribution/clients/{id}",
	"GET /api/distribution/templates",
	"POST /api/distribution/templates/{id}/instantiate",
	"POST /api/distribution/streams/{id}/record",
	"POST /api/distribution/recordings/{id}/stop",
	"POST /api/distribution/streams/{id}/share",
}

var telemetryEndpoints = []string{
	"GET /api/telemetry/simulators",
	"POST /api/telemetry/connect",
	"GET /api/telemetry/status/{type}",
	"POST /api/telemetry/stream/start",
	"GET /api/telemetry/stream/{streamId}",
	"DELETE /api/telemetry/stream/{streamId}",
	"POST /api/telemetry/command",
	"GET /api/telemetry/commands/{type}",
	"POST /api/telemetry/commands/batch",
	"DELETE /api/telemetry/disconnect/{type}",
}

// Handler builds the full route table: health/readiness/metrics plus the
// /api/distribution and /api/telemetry surfaces and the events WebSocket.
func (srv *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /healthz", NewHealthHandler(HealthHandlerOptions{Engine: srv.engine, IncludeProbes: srv.opts.IncludeProbesInHealth}))
	mux.Handle("GET /readyz", NewReadinessHandler(HealthHandlerOptions{Engine: srv.engine, IncludeProbes: srv.opts.IncludeProbesInHealth}))
	mux.Handle("GET /metrics", NewMetricsHandler(srv.engine.Metrics()))

	mux.HandleFunc("GET /api/distribution/status", srv.handleDistributionStatus)
	mux.HandleFunc("POST /api/distribution/streams", srv.handleCreateStream)
	mux.HandleFunc("GET /api/distribution/streams", srv.handleListStreams)
	mux.HandleFunc("GET /api/distribution/streams/{id}", srv.handleGetStream)
	mux.HandleFunc("PUT /api/distribution/streams/{id}", srv.handleUpdateStream)
	mux.HandleFunc("DELETE /api/distribution/streams/{id}", srv.handleDeleteStream)
	mux.HandleFunc("GET /api/distribution/discovery", srv.handleDiscovery)
	mux.HandleFunc("POST /api/distribution/clients", srv.handleCreateClient)
	mux.HandleFunc("GET /api/distribution/clients", srv.handleListClients)
	mux.HandleFunc("GET /api/distribution/clients/{id}", srv.handleGetClient)
	mux.HandleFunc("GET /api/distribution/templates", srv.handleListTemplates)
	mux.HandleFunc("POST /api/distribution/templates/{id}/instantiate", srv.handleInstantiateTemplate)
	mux.HandleFunc("POST /api/distribution/streams/{id}/record", srv.handleStartRecording)
	mux.HandleFunc("POST /api/distribution/recordings/{id}/stop", srv.handleStopRecording)
	mux.HandleFunc("POST /api/distribution/streams/{id}/share", srv.handleShareStream)

	mux.HandleFunc("GET /api/telemetry/simulators", srv.handleListSimulators)
	mux.HandleFunc("POST /api/telemetry/connect", srv.handleConnect)
	mux.HandleFunc("GET /api/telemetry/status/{type}", srv.handleConnectorStatus)
	mux.HandleFunc("POST /api/telemetry/stream/start", srv.handleStreamStart)
	mux.HandleFunc("GET /api/telemetry/stream/{streamId}", srv.handleStreamRead)
	mux.HandleFunc("DELETE /api/telemetry/stream/{streamId}", srv.handleStreamDelete)
	mux.HandleFunc("POST /api/telemetry/command", srv.handleCommand)
	mux.HandleFunc("GET /api/telemetry/commands/{type}", srv.handleCapabilities)
	mux.HandleFunc("POST /api/telemetry/commands/batch", srv.handleCommandBatch)
	mux.HandleFunc("DELETE /api/telemetry/disconnect/{type}", srv.handleDisconnect)

	mux.Handle("/api/distribution/events", srv.hub.handler(func() string {
		return string(srv.engine.HealthSnapshot(context.Background()).Overall)
	}))

	return mux
}
