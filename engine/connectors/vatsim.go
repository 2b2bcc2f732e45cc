package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/99souls/synopticon/engine/models"
)

const (
	vatsimDefaultURL = "https://data.vatsim.net/v3/vatsim-data.json"
	vatsimMinPeriod  = 15 * time.Second // spec.md §6.3: poll at <= 1/15 Hz
)

type vatsimFlightPlan struct {
	Departure     string `json:"departure"`
	Arrival       string `json:"arrival"`
	Aircraft      string `json:"aircraft"`
	CruiseAlt     string `json:"cruise_altitude"`
	Route         string `json:"route"`
}

type vatsimPilot struct {
	CID         int               `json:"cid"`
	Callsign    string            `json:"callsign"`
	Latitude    float64           `json:"latitude"`
	Longitude   float64           `json:"longitude"`
	Altitude    float64           `json:"altitude"`
	GroundSpeed float64           `json:"groundspeed"`
	Heading     float64           `json:"heading"`
	Transponder string            `json:"transponder"`
	FlightPlan  vatsimFlightPlan  `json:"flight_plan"`
	LastUpdated string            `json:"last_updated"`
}

type vatsimData struct {
	Pilots []vatsimPilot `json:"pilots"`
}

// vatsimTransport polls the public VATSIM data feed. It has no persistent
// connection; "connected" means the poll loop is running and the last poll
// succeeded.
type vatsimTransport struct {
	url        string
	callsign   string // filters to one pilot when set; otherwise all pilots are emitted
	httpClient *http.Client
}

func newVATSIMTransport(endpoint, callsign string) *vatsimTransport {
	if endpoint == "" {
		endpoint = vatsimDefaultURL
	}
	return &vatsimTransport{url: endpoint, callsign: callsign, httpClient: &http.Client{Timeout: 10 * time.Second}}
}

func (t *vatsimTransport) capabilities() []models.Capability {
	return []models.Capability{{Kind: "telemetry", Action: "poll_pilots"}}
}

func (t *vatsimTransport) fetch(ctx context.Context) (vatsimData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
	if err != nil {
		return vatsimData{}, err
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return vatsimData{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return vatsimData{}, fmt.Errorf("vatsim: unexpected status %d", resp.StatusCode)
	}
	var data vatsimData
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return vatsimData{}, err
	}
	return data, nil
}

func (t *vatsimTransport) dial(ctx context.Context, emit func(models.TelemetryFrame)) (func() error, func(), error) {
	if _, err := t.fetch(ctx); err != nil {
		return nil, nil, err
	}

	runCtx, stop := context.WithCancel(context.Background())
	run := func() {
		defer stop()
		ticker := time.NewTicker(vatsimMinPeriod)
		defer ticker.Stop()
		seq := uint64(0)
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
			}
			pollCtx, cancel := context.WithTimeout(runCtx, 10*time.Second)
			data, err := t.fetch(pollCtx)
			cancel()
			if err != nil {
				return
			}
			for _, p := range data.Pilots {
				if t.callsign != "" && p.Callsign != t.callsign {
					continue
				}
				emit(decodeVATSIMFrame(p, seq))
				seq++
			}
		}
	}

	return func() error { stop(); return nil }, run, nil
}

func decodeVATSIMFrame(p vatsimPilot, seq uint64) models.TelemetryFrame {
	return models.TelemetryFrame{
		Timestamp: time.Now().UnixMicro(),
		Sequence:  seq,
		SourceID:  p.Callsign,
		Simulator: models.SimulatorVATSIM,
		Vehicle: models.VehicleState{
			Position: [3]float64{p.Latitude, p.Longitude, p.Altitude},
			Heading:  p.Heading,
		},
		Performance: models.PerformanceState{Speed: p.GroundSpeed},
		Metadata: map[string]string{
			"transponder":     p.Transponder,
			"flight_plan_dep": p.FlightPlan.Departure,
			"flight_plan_arr": p.FlightPlan.Arrival,
			"aircraft":        p.FlightPlan.Aircraft,
			"last_updated":    p.LastUpdated,
		},
	}
}

func (t *vatsimTransport) sendCommand(ctx context.Context, cmd models.Command) error {
	return fmt.Errorf("vatsim: read-only feed, command action %q is not supported", cmd.Action)
}
