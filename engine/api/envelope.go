// Package api exposes the engine facade over HTTP and WebSocket per
// the documented external interface: a JSON envelope on every response,
// distribution/telemetry REST routes, and a push channel for live
// stream/session/distributor events.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/99souls/synopticon/engine/models"
)

// envelope is the uniform response shape every handler writes.
type envelope struct {
	Success           bool     `json:"success"`
	Data              any      `json:"data,omitempty"`
	Error             string   `json:"error,omitempty"`
	AvailableEndpoints []string `json:"available_endpoints,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

// writeError maps err onto the HTTP status for its error kind (validation
// 400, not found 404, permanent 422, transport/timeout 503, anything else
// 500) and writes the envelope's error shape.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if kind, ok := models.KindOf(err); ok {
		switch kind {
		case models.KindValidation:
			status = http.StatusBadRequest
		case models.KindNotFound:
			status = http.StatusNotFound
		case models.KindPermanent:
			status = http.StatusUnprocessableEntity
		case models.KindTransport, models.KindTimeout:
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, envelope{Success: false, Error: err.Error()})
}

func notFound(w http.ResponseWriter, r *http.Request, available []string) {
	writeJSON(w, http.StatusNotFound, envelope{
		Success:            false,
		Error:              "unknown endpoint: " + r.Method + " " + r.URL.Path,
		AvailableEndpoints: available,
	})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	defer r.Body.Close()
	if err := dec.Decode(v); err != nil {
		return models.NewValidationError("api.decodeBody", "malformed request body: "+err.Error())
	}
	return nil
}
