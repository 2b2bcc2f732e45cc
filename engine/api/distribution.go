package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/99souls/synopticon/engine/models"
	"github.com/99souls/synopticon/engine/resources"
)

// streamRecord is the REST-facing view of one distribution session: a
// single named distributor plus the event kind routed to it. Distribution
// sessions can hold many distributors, but every stream created through
// POST /distribution/streams owns exactly one.
type streamRecord struct {
	ID          string                        `json:"id"`
	Type        models.DistributorKind        `json:"type"`
	Source      models.EventKind              `json:"source"`
	Destination models.DistributorDestination `json:"destination"`
	ClientID    string                        `json:"client_id,omitempty"`
	Filter      *models.DistributorFilter     `json:"filter,omitempty"`
	CreatedAt   time.Time                     `json:"created_at"`
}

// distributionStore is the in-memory bookkeeping layered over
// distribution.Manager for resources the manager itself doesn't model:
// REST stream identities, client registrations and active recordings.
type distributionStore struct {
	seq uint64

	mu        sync.RWMutex
	streams   map[string]*streamRecord
	clients   map[string]*models.Client
	recorders map[string]*resources.Recorder
}

func newDistributionStore() *distributionStore {
	return &distributionStore{
		streams:   make(map[string]*streamRecord),
		clients:   make(map[string]*models.Client),
		recorders: make(map[string]*resources.Recorder),
	}
}

func (s *distributionStore) nextID(prefix string) string {
	n := atomic.AddUint64(&s.seq, 1)
	return fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixNano(), n)
}

// templateDefaults is the fixed catalog served by GET /distribution/templates
// and consumed by POST /distribution/templates/:id/instantiate.
var templateDefaults = map[string]struct {
	Name string
	Type models.DistributorKind
	Desc string
}{
	"udp-broadcast":    {Name: "UDP broadcast", Type: models.DistributorUDP, Desc: "Raw per-event UDP datagrams"},
	"mqtt-telemetry":   {Name: "MQTT telemetry", Type: models.DistributorMQTT, Desc: "QoS 0 publish to a per-kind topic map"},
	"websocket-viewer": {Name: "WebSocket viewer", Type: models.DistributorWebSocket, Desc: "Text JSON frames to connected viewers"},
	"http-webhook":     {Name: "HTTP webhook", Type: models.DistributorHTTP, Desc: "POST JSON to a base URL"},
}

type createStreamRequest struct {
	Type        models.DistributorKind        `json:"type"`
	Source      string                        `json:"source"`
	Destination models.DistributorDestination `json:"destination"`
	ClientID    string                        `json:"client_id,omitempty"`
	Filter      *models.DistributorFilter     `json:"filter,omitempty"`
}

func (srv *Server) createStream(ctx context.Context, req createStreamRequest) (*streamRecord, error) {
	kind := models.EventKind(req.Source)
	if !kind.Valid() {
		return nil, models.NewValidationError("api.createStream", fmt.Sprintf("unknown source %q", req.Source))
	}
	id := srv.store.nextID("stream")
	cfg := models.SessionConfig{
		ID: id,
		Distributors: []models.DistributorConfig{{
			Name:        id,
			Kind:        req.Type,
			Destination: req.Destination,
			Filter:      req.Filter,
		}},
		EventRouting: map[models.EventKind][]string{kind: {id}},
	}
	if _, err := srv.dist.CreateSession(ctx, cfg); err != nil {
		return nil, err
	}
	rec := &streamRecord{
		ID: id, Type: req.Type, Source: kind, Destination: req.Destination,
		ClientID: req.ClientID, Filter: req.Filter, CreatedAt: time.Now(),
	}
	srv.store.mu.Lock()
	srv.store.streams[id] = rec
	srv.store.mu.Unlock()

	if req.ClientID != "" {
		srv.store.mu.Lock()
		if c, ok := srv.store.clients[req.ClientID]; ok {
			c.StreamIDs = append(c.StreamIDs, id)
		}
		srv.store.mu.Unlock()
	}
	return rec, nil
}

func (srv *Server) handleCreateStream(w http.ResponseWriter, r *http.Request) {
	var req createStreamRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	rec, err := srv.createStream(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	srv.broadcast("stream_update", map[string]any{"stream_id": rec.ID, "action": "created"})
	writeData(w, http.StatusCreated, map[string]any{
		"stream_id":            rec.ID,
		"websocket_status_url": "/api/distribution/events",
		"data":                 rec,
	})
}

func (srv *Server) handleListStreams(w http.ResponseWriter, r *http.Request) {
	srv.store.mu.RLock()
	out := make([]*streamRecord, 0, len(srv.store.streams))
	for _, rec := range srv.store.streams {
		out = append(out, rec)
	}
	srv.store.mu.RUnlock()
	writeData(w, http.StatusOK, out)
}

func (srv *Server) streamByID(id string) (*streamRecord, bool) {
	srv.store.mu.RLock()
	defer srv.store.mu.RUnlock()
	rec, ok := srv.store.streams[id]
	return rec, ok
}

func (srv *Server) handleGetStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, ok := srv.streamByID(id)
	if !ok {
		writeError(w, models.NewNotFoundError("api.handleGetStream", fmt.Sprintf("stream %q not found", id)))
		return
	}
	status, err := srv.dist.GetSessionStatus(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"stream": rec, "status": status})
}

func (srv *Server) handleUpdateStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, ok := srv.streamByID(id)
	if !ok {
		writeError(w, models.NewNotFoundError("api.handleUpdateStream", fmt.Sprintf("stream %q not found", id)))
		return
	}
	var partial models.DistributorConfig
	if err := decodeBody(r, &partial); err != nil {
		writeError(w, err)
		return
	}
	if err := srv.dist.ReconfigureDistributor(r.Context(), id, id, partial); err != nil {
		writeError(w, err)
		return
	}
	srv.store.mu.Lock()
	if partial.Destination.Host != "" || partial.Destination.URL != "" {
		rec.Destination = partial.Destination
	}
	if partial.Filter != nil {
		rec.Filter = partial.Filter
	}
	srv.store.mu.Unlock()
	srv.broadcast("stream_update", map[string]any{"stream_id": id, "action": "updated"})
	writeData(w, http.StatusOK, rec)
}

func (srv *Server) handleDeleteStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := srv.streamByID(id); !ok {
		writeError(w, models.NewNotFoundError("api.handleDeleteStream", fmt.Sprintf("stream %q not found", id)))
		return
	}
	if err := srv.dist.EndSession(id); err != nil {
		writeError(w, err)
		return
	}
	srv.store.mu.Lock()
	delete(srv.store.streams, id)
	if rec, ok := srv.store.recorders[id]; ok {
		_ = rec.Stop()
		delete(srv.store.recorders, id)
	}
	srv.store.mu.Unlock()
	srv.broadcast("stream_update", map[string]any{"stream_id": id, "action": "deleted"})
	writeData(w, http.StatusOK, map[string]string{"id": id})
}

func (srv *Server) handleDistributionStatus(w http.ResponseWriter, r *http.Request) {
	srv.store.mu.RLock()
	total := len(srv.store.streams)
	sources := make(map[string]int)
	for _, rec := range srv.store.streams {
		sources[string(rec.Source)]++
	}
	clientTotal := len(srv.store.clients)
	srv.store.mu.RUnlock()

	active := 0
	for id := range srv.store.streams {
		if status, err := srv.dist.GetSessionStatus(id); err == nil && status.State == "active" {
			active++
		}
	}

	writeData(w, http.StatusOK, map[string]any{
		"timestamp": time.Now(),
		"streams":   map[string]int{"total": total, "active": active},
		"clients":   map[string]int{"total": clientTotal},
		"data_sources": sources,
	})
}

func (srv *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]any{
		"distributor_kinds": []models.DistributorKind{
			models.DistributorUDP, models.DistributorWebSocket, models.DistributorMQTT, models.DistributorHTTP,
		},
		"event_kinds": []models.EventKind{
			models.EventGaze, models.EventFace, models.EventTelemetry, models.EventSyncEvent,
		},
		"available_endpoints": distributionEndpoints,
	})
}

type createClientRequest struct {
	Name      string   `json:"name"`
	StreamIDs []string `json:"stream_ids,omitempty"`
}

func (srv *Server) handleCreateClient(w http.ResponseWriter, r *http.Request) {
	var req createClientRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, models.NewValidationError("api.handleCreateClient", "name is required"))
		return
	}
	id := srv.store.nextID("client")
	c := &models.Client{ID: id, Name: req.Name, StreamIDs: req.StreamIDs, CreatedAt: time.Now()}
	srv.store.mu.Lock()
	srv.store.clients[id] = c
	srv.store.mu.Unlock()
	writeData(w, http.StatusCreated, c)
}

func (srv *Server) handleListClients(w http.ResponseWriter, r *http.Request) {
	srv.store.mu.RLock()
	out := make([]*models.Client, 0, len(srv.store.clients))
	for _, c := range srv.store.clients {
		out = append(out, c)
	}
	srv.store.mu.RUnlock()
	writeData(w, http.StatusOK, out)
}

func (srv *Server) handleGetClient(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	srv.store.mu.RLock()
	c, ok := srv.store.clients[id]
	srv.store.mu.RUnlock()
	if !ok {
		writeError(w, models.NewNotFoundError("api.handleGetClient", fmt.Sprintf("client %q not found", id)))
		return
	}
	writeData(w, http.StatusOK, c)
}

func (srv *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	out := make([]map[string]any, 0, len(templateDefaults))
	for id, t := range templateDefaults {
		out = append(out, map[string]any{"id": id, "name": t.Name, "type": t.Type, "description": t.Desc})
	}
	writeData(w, http.StatusOK, out)
}

func (srv *Server) handleInstantiateTemplate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	tmpl, ok := templateDefaults[id]
	if !ok {
		writeError(w, models.NewNotFoundError("api.handleInstantiateTemplate", fmt.Sprintf("template %q not found", id)))
		return
	}
	var req createStreamRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	req.Type = tmpl.Type
	rec, err := srv.createStream(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, rec)
}

func (srv *Server) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := srv.streamByID(id); !ok {
		writeError(w, models.NewNotFoundError("api.handleStartRecording", fmt.Sprintf("stream %q not found", id)))
		return
	}
	var cfg models.RecordingConfig
	if err := decodeBody(r, &cfg); err != nil {
		writeError(w, err)
		return
	}
	if cfg.FilePath == "" {
		writeError(w, models.NewValidationError("api.handleStartRecording", "file_path is required"))
		return
	}
	if cfg.Format != "" && cfg.Format != "jsonl" {
		writeError(w, models.NewValidationError("api.handleStartRecording", fmt.Sprintf("unsupported recording format %q", cfg.Format)))
		return
	}
	rec, err := resources.NewRecorder(cfg.FilePath, resources.Config{})
	if err != nil {
		writeError(w, models.NewTransportError("api.handleStartRecording", "could not open recording file", err))
		return
	}
	srv.store.mu.Lock()
	if old, ok := srv.store.recorders[id]; ok {
		_ = old.Stop()
	}
	srv.store.recorders[id] = rec
	srv.store.mu.Unlock()
	writeData(w, http.StatusOK, map[string]string{"recording_id": id, "file_path": cfg.FilePath})
}

func (srv *Server) handleStopRecording(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	srv.store.mu.Lock()
	rec, ok := srv.store.recorders[id]
	if ok {
		delete(srv.store.recorders, id)
	}
	srv.store.mu.Unlock()
	if !ok {
		writeError(w, models.NewNotFoundError("api.handleStopRecording", fmt.Sprintf("no active recording for %q", id)))
		return
	}
	if err := rec.Stop(); err != nil {
		writeError(w, models.NewTransportError("api.handleStopRecording", "failed to flush recording", err))
		return
	}
	writeData(w, http.StatusOK, map[string]string{"recording_id": id})
}

func (srv *Server) handleShareStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, ok := srv.streamByID(id)
	if !ok {
		writeError(w, models.NewNotFoundError("api.handleShareStream", fmt.Sprintf("stream %q not found", id)))
		return
	}
	token := srv.store.nextID("share")
	writeData(w, http.StatusOK, map[string]any{
		"stream_id":  rec.ID,
		"share_url":  "/api/distribution/streams/" + rec.ID + "?share=" + token,
		"share_token": token,
	})
}

// RouteEvent forwards payload through the distribution manager and, if a
// recorder is active for sessionID, durably records it too. Callers
// feeding live sync/connector output into a stream use this instead of
// reaching into the distribution manager directly, so recording stays
// transparent to the producer.
func (srv *Server) RouteEvent(sessionID string, kind models.EventKind, payload any) error {
	if err := srv.dist.RouteEvent(sessionID, kind, payload); err != nil {
		return err
	}
	srv.store.mu.RLock()
	rec, ok := srv.store.recorders[sessionID]
	srv.store.mu.RUnlock()
	if ok {
		rec.Record(resources.Event{
			Event:     string(kind),
			Timestamp: time.Now().UnixMicro(),
			Source:    sessionID,
			Payload:   payload,
		})
	}
	return nil
}
