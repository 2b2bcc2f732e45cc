package connectors

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/99souls/synopticon/engine/models"
)

const beamngDefaultPort = 64256

// beamngFrame mirrors the JSON vehicle-state shape from spec.md §6.3.
type beamngFrame struct {
	Position     [3]float64 `json:"position"`
	Velocity     [3]float64 `json:"velocity"`
	Acceleration [3]float64 `json:"acceleration"`
	Rotation     [4]float64 `json:"rotation"`
	WheelSpeed   [4]float64 `json:"wheelSpeed"`
	EngineRPM    float64    `json:"engineRpm"`
	ThrottleInput float64   `json:"throttleInput"`
	BrakeInput   float64    `json:"brakeInput"`
	SteeringInput float64   `json:"steeringInput"`
	ClutchInput  float64    `json:"clutchInput"`
	Gear         int        `json:"gear"`
	Fuel         float64    `json:"fuel"`
	Damage       float64    `json:"damage"`
	EngineTemp   float64    `json:"engineTemp"`
	WheelTemp    [4]float64 `json:"wheelTemp"`
	TirePressure [4]float64 `json:"tirePressure"`
}

// beamngTransport implements transport for BeamNG's newline-delimited JSON
// frames over TCP (default port 64256) or UDP.
type beamngTransport struct {
	endpoint string
	udp      bool
}

func newBeamNGTransport(endpoint string, udp bool) *beamngTransport {
	if endpoint == "" {
		endpoint = fmt.Sprintf("127.0.0.1:%d", beamngDefaultPort)
	}
	return &beamngTransport{endpoint: endpoint, udp: udp}
}

func (t *beamngTransport) capabilities() []models.Capability {
	return []models.Capability{
		{Kind: "telemetry", Action: "subscribe_vehicle_state"},
		{Kind: "control", Action: "set_input"},
	}
}

func (t *beamngTransport) dial(ctx context.Context, emit func(models.TelemetryFrame)) (func() error, func(), error) {
	network := "tcp"
	if t.udp {
		network = "udp"
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, t.endpoint)
	if err != nil {
		return nil, nil, err
	}

	run := func() {
		seq := uint64(0)
		if t.udp {
			buf := make([]byte, 4096)
			for {
				n, err := conn.Read(buf)
				if err != nil {
					return
				}
				var f beamngFrame
				if err := json.Unmarshal(buf[:n], &f); err != nil {
					continue
				}
				emit(decodeBeamNGFrame(f, seq))
				seq++
			}
		}
		scanner := bufio.NewScanner(conn)
		scanner.Buffer(make([]byte, 0, 4096), 1<<20)
		for scanner.Scan() {
			var f beamngFrame
			if err := json.Unmarshal(scanner.Bytes(), &f); err != nil {
				continue
			}
			emit(decodeBeamNGFrame(f, seq))
			seq++
		}
	}

	return conn.Close, run, nil
}

func decodeBeamNGFrame(f beamngFrame, seq uint64) models.TelemetryFrame {
	return models.TelemetryFrame{
		Timestamp: time.Now().UnixMicro(),
		Sequence:  seq,
		Simulator: models.SimulatorBeamNG,
		Vehicle: models.VehicleState{
			Position: f.Position,
			Velocity: f.Velocity,
			Rotation: f.Rotation,
		},
		Controls: models.ControlState{
			Throttle: f.ThrottleInput,
			Brake:    f.BrakeInput,
			Steering: f.SteeringInput,
			Gear:     f.Gear,
			Custom:   map[string]float64{"clutch_input": f.ClutchInput},
		},
		Performance: models.PerformanceState{
			EngineRPM: f.EngineRPM,
			Fuel:      f.Fuel,
			Damage:    f.Damage,
		},
		Environment: models.EnvironmentState{
			Extra: map[string]float64{"engine_temp": f.EngineTemp},
		},
	}
}

func (t *beamngTransport) sendCommand(ctx context.Context, cmd models.Command) error {
	network := "tcp"
	if t.udp {
		network = "udp"
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, t.endpoint)
	if err != nil {
		return err
	}
	defer conn.Close()
	body, err := json.Marshal(cmd.Parameters)
	if err != nil {
		return err
	}
	_, err = conn.Write(append(body, '\n'))
	return err
}
