package api

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/99souls/synopticon/engine/connectors"
	"github.com/99souls/synopticon/engine/models"
	"github.com/99souls/synopticon/engine/stream"
)

// telemetryStreamStore tracks the per-type sample buffer created by
// POST /telemetry/stream/start, plus the unsubscribe func needed to tear
// it down on DELETE.
type telemetryStreamStore struct {
	mu   sync.RWMutex
	bufs map[string]*stream.Buffer
	unsub map[string]func()
}

func newTelemetryStreamStore() *telemetryStreamStore {
	return &telemetryStreamStore{bufs: make(map[string]*stream.Buffer), unsub: make(map[string]func())}
}

func (srv *Server) handleListSimulators(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, []models.SimulatorKind{
		models.SimulatorMSFS, models.SimulatorXPlane, models.SimulatorVATSIM, models.SimulatorBeamNG,
	})
}

type connectRequest struct {
	Type              models.SimulatorKind `json:"type"`
	ID                string               `json:"id,omitempty"`
	Callsign          string               `json:"callsign,omitempty"`
	UseNativeProtocol bool                 `json:"use_native_protocol"`
	FallbackToMock    bool                 `json:"fallback_to_mock"`
	Endpoint          string               `json:"endpoint,omitempty"`
	UDP               bool                 `json:"udp,omitempty"`
	ConnectTimeout    time.Duration        `json:"connect_timeout,omitempty"`
}

func (req connectRequest) connectorConfig() models.ConnectorConfig {
	return models.ConnectorConfig{
		UseNativeProtocol: req.UseNativeProtocol,
		FallbackToMock:    req.FallbackToMock,
		Endpoint:          req.Endpoint,
		ConnectTimeout:    req.ConnectTimeout,
	}
}

func buildConnector(req connectRequest) (connectors.Connector, error) {
	id := req.ID
	if id == "" {
		id = string(req.Type)
	}
	cfg := req.connectorConfig()
	switch req.Type {
	case models.SimulatorMSFS:
		return connectors.NewMSFS(id, cfg), nil
	case models.SimulatorXPlane:
		return connectors.NewXPlane(id, cfg), nil
	case models.SimulatorVATSIM:
		return connectors.NewVATSIM(id, req.Callsign, cfg), nil
	case models.SimulatorBeamNG:
		return connectors.NewBeamNG(id, req.UDP, cfg), nil
	default:
		return nil, models.NewValidationError("api.buildConnector", fmt.Sprintf("unknown simulator type %q", req.Type))
	}
}

func (srv *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	c, err := buildConnector(req)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := c.Connect(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	id := req.ID
	if id == "" {
		id = string(req.Type)
	}
	srv.engine.RegisterConnector(id, c)
	writeData(w, http.StatusOK, c.GetStatus())
}

func (srv *Server) connectorByType(typ string) (connectors.Connector, error) {
	c, ok := srv.engine.Connector(typ)
	if !ok {
		return nil, models.NewNotFoundError("api.connectorByType", fmt.Sprintf("no connector registered for %q", typ))
	}
	return c, nil
}

func (srv *Server) handleConnectorStatus(w http.ResponseWriter, r *http.Request) {
	c, err := srv.connectorByType(r.PathValue("type"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, c.GetStatus())
}

type streamStartRequest struct {
	Type           string `json:"type"`
	BufferCapacity int    `json:"buffer_capacity,omitempty"`
}

func (srv *Server) handleStreamStart(w http.ResponseWriter, r *http.Request) {
	var req streamStartRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	c, err := srv.connectorByType(req.Type)
	if err != nil {
		writeError(w, err)
		return
	}
	capacity := req.BufferCapacity
	if capacity <= 0 {
		capacity = 512
	}
	buf := stream.New(stream.Config{Capacity: capacity})
	unsub := c.Subscribe(func(frame models.TelemetryFrame) {
		_, _ = buf.Add(models.Sample{
			SourceID:         frame.SourceID,
			Kind:             models.StreamTelemetry,
			CaptureTimestamp: frame.Timestamp,
			Payload:          frame,
			SequenceNumber:   frame.Sequence,
		})
	})

	srv.telemetryStreams.mu.Lock()
	if old, ok := srv.telemetryStreams.unsub[req.Type]; ok {
		old()
	}
	srv.telemetryStreams.bufs[req.Type] = buf
	srv.telemetryStreams.unsub[req.Type] = unsub
	srv.telemetryStreams.mu.Unlock()

	writeData(w, http.StatusOK, map[string]string{"stream_id": req.Type})
}

func (srv *Server) handleStreamRead(w http.ResponseWriter, r *http.Request) {
	streamID := r.PathValue("streamId")
	srv.telemetryStreams.mu.RLock()
	buf, ok := srv.telemetryStreams.bufs[streamID]
	srv.telemetryStreams.mu.RUnlock()
	if !ok {
		writeError(w, models.NewNotFoundError("api.handleStreamRead", fmt.Sprintf("no stream %q", streamID)))
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	var samples []models.Sample
	if v := r.URL.Query().Get("since"); v != "" {
		since, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, models.NewValidationError("api.handleStreamRead", "since must be an integer microsecond timestamp"))
			return
		}
		samples = buf.GetRange(since, time.Now().UnixMicro())
		if len(samples) > limit {
			samples = samples[len(samples)-limit:]
		}
	} else {
		samples = buf.GetLatest(limit)
	}
	writeData(w, http.StatusOK, samples)
}

func (srv *Server) handleStreamDelete(w http.ResponseWriter, r *http.Request) {
	streamID := r.PathValue("streamId")
	srv.telemetryStreams.mu.Lock()
	unsub, ok := srv.telemetryStreams.unsub[streamID]
	if ok {
		unsub()
		delete(srv.telemetryStreams.unsub, streamID)
		delete(srv.telemetryStreams.bufs, streamID)
	}
	srv.telemetryStreams.mu.Unlock()
	if !ok {
		writeError(w, models.NewNotFoundError("api.handleStreamDelete", fmt.Sprintf("no stream %q", streamID)))
		return
	}
	writeData(w, http.StatusOK, map[string]string{"stream_id": streamID})
}

type commandRequest struct {
	Type    string         `json:"type"`
	Command models.Command `json:"command"`
}

func (srv *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	c, err := srv.connectorByType(req.Type)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := c.SendCommand(r.Context(), req.Command)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, result)
}

func (srv *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	c, err := srv.connectorByType(r.PathValue("type"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, c.GetCapabilities())
}

type commandBatchRequest struct {
	Type     string           `json:"type"`
	Commands []models.Command `json:"commands"`
}

func (srv *Server) handleCommandBatch(w http.ResponseWriter, r *http.Request) {
	var req commandBatchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	c, err := srv.connectorByType(req.Type)
	if err != nil {
		writeError(w, err)
		return
	}
	results, err := c.SendCommands(r.Context(), req.Commands)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, results)
}

func (srv *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	c, err := srv.connectorByType(r.PathValue("type"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := c.Disconnect(); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, c.GetStatus())
}
