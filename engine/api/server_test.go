package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/99souls/synopticon/engine"
	"github.com/99souls/synopticon/engine/connectors"
	"github.com/99souls/synopticon/engine/models"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	e := engine.New()
	srv := NewServer(e, Options{})
	return srv, srv.Handler()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthzReturnsHealthyWithNoConnectors(t *testing.T) {
	_, h := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "healthy", string(resp.Overall))
}

func TestReadyzReturns200WhenHealthy(t *testing.T) {
	_, h := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpointNotImplementedForNoopProvider(t *testing.T) {
	_, h := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestCreateAndListStream(t *testing.T) {
	_, h := newTestServer(t)
	rec := doJSON(t, h, http.MethodPost, "/api/distribution/streams", createStreamRequest{
		Type:        models.DistributorUDP,
		Source:      string(models.EventTelemetry),
		Destination: models.DistributorDestination{Host: "127.0.0.1", Port: 9999},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)

	list := doJSON(t, h, http.MethodGet, "/api/distribution/streams", nil)
	require.Equal(t, http.StatusOK, list.Code)
}

func TestCreateStreamRejectsUnknownSource(t *testing.T) {
	_, h := newTestServer(t)
	rec := doJSON(t, h, http.MethodPost, "/api/distribution/streams", createStreamRequest{
		Type:   models.DistributorUDP,
		Source: "not_a_real_kind",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetUnknownStreamReturns404(t *testing.T) {
	_, h := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/api/distribution/streams/does-not-exist", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteStreamEndsSession(t *testing.T) {
	_, h := newTestServer(t)
	rec := doJSON(t, h, http.MethodPost, "/api/distribution/streams", createStreamRequest{
		Type:        models.DistributorUDP,
		Source:      string(models.EventTelemetry),
		Destination: models.DistributorDestination{Host: "127.0.0.1", Port: 9998},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		Data struct {
			StreamID string `json:"stream_id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	del := doJSON(t, h, http.MethodDelete, "/api/distribution/streams/"+created.Data.StreamID, nil)
	require.Equal(t, http.StatusOK, del.Code)

	get := doJSON(t, h, http.MethodGet, "/api/distribution/streams/"+created.Data.StreamID, nil)
	require.Equal(t, http.StatusNotFound, get.Code)
}

func TestCreateAndListClients(t *testing.T) {
	_, h := newTestServer(t)
	rec := doJSON(t, h, http.MethodPost, "/api/distribution/clients", createClientRequest{Name: "viewer-1"})
	require.Equal(t, http.StatusCreated, rec.Code)

	list := doJSON(t, h, http.MethodGet, "/api/distribution/clients", nil)
	require.Equal(t, http.StatusOK, list.Code)
}

func TestListTemplatesAndInstantiate(t *testing.T) {
	_, h := newTestServer(t)
	list := doJSON(t, h, http.MethodGet, "/api/distribution/templates", nil)
	require.Equal(t, http.StatusOK, list.Code)

	rec := doJSON(t, h, http.MethodPost, "/api/distribution/templates/udp-broadcast/instantiate", createStreamRequest{
		Source:      string(models.EventGaze),
		Destination: models.DistributorDestination{Host: "127.0.0.1", Port: 9997},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestDistributionDiscoveryListsEndpoints(t *testing.T) {
	_, h := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/api/distribution/discovery", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestDistributionStatusReportsTotals(t *testing.T) {
	_, h := newTestServer(t)
	doJSON(t, h, http.MethodPost, "/api/distribution/streams", createStreamRequest{
		Type:        models.DistributorUDP,
		Source:      string(models.EventTelemetry),
		Destination: models.DistributorDestination{Host: "127.0.0.1", Port: 9996},
	})
	rec := doJSON(t, h, http.MethodGet, "/api/distribution/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data struct {
			Streams map[string]int `json:"streams"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Data.Streams["total"])
}

func TestTelemetryConnectAndStatus(t *testing.T) {
	srv, h := newTestServer(t)
	mock := connectors.NewMock("beamng", models.SimulatorBeamNG, models.ConnectorConfig{})
	srv.engine.RegisterConnector(string(models.SimulatorBeamNG), mock)

	rec := doJSON(t, h, http.MethodGet, "/api/telemetry/status/"+string(models.SimulatorBeamNG), nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestTelemetryConnectUnknownTypeIs400(t *testing.T) {
	_, h := newTestServer(t)
	rec := doJSON(t, h, http.MethodPost, "/api/telemetry/connect", connectRequest{Type: "not_real"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTelemetryStreamLifecycle(t *testing.T) {
	srv, h := newTestServer(t)
	mock := connectors.NewMock("beamng", models.SimulatorBeamNG, models.ConnectorConfig{})
	require.NoError(t, mock.Connect(context.Background()))
	srv.engine.RegisterConnector(string(models.SimulatorBeamNG), mock)

	start := doJSON(t, h, http.MethodPost, "/api/telemetry/stream/start", streamStartRequest{Type: string(models.SimulatorBeamNG)})
	require.Equal(t, http.StatusOK, start.Code)

	read := doJSON(t, h, http.MethodGet, "/api/telemetry/stream/"+string(models.SimulatorBeamNG)+"?limit=5", nil)
	require.Equal(t, http.StatusOK, read.Code)

	del := doJSON(t, h, http.MethodDelete, "/api/telemetry/stream/"+string(models.SimulatorBeamNG), nil)
	require.Equal(t, http.StatusOK, del.Code)
}

func TestTelemetryStreamReadUnknownIs404(t *testing.T) {
	_, h := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/api/telemetry/stream/nope", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTelemetryCapabilitiesForUnregisteredConnectorIs404(t *testing.T) {
	_, h := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/api/telemetry/commands/xplane", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
