package connectors

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"net"
	"time"

	"github.com/99souls/synopticon/engine/models"
)

// xplaneDataRefs is the default DataRef subscription set from spec.md §6.3.
// Index position determines which TelemetryFrame field an incoming RREF
// reply updates.
var xplaneDataRefs = []string{
	"sim/flightmodel/position/latitude",
	"sim/flightmodel/position/longitude",
	"sim/flightmodel/position/elevation",
	"sim/flightmodel/position/psi",
	"sim/flightmodel/position/indicated_airspeed",
	"sim/flightmodel/position/vh_ind",
	"sim/flightmodel/controls/throttle_ratio",
	"sim/flightmodel/controls/rudder_deflection_aero",
}

const xplaneDefaultPort = 49000

// xplaneTransport implements transport for X-Plane's UDP RREF/DREF
// protocol.
type xplaneTransport struct {
	endpoint string // host:port, defaults to 127.0.0.1:49000 when empty
	freqHz   uint32
}

func newXPlaneTransport(endpoint string) *xplaneTransport {
	if endpoint == "" {
		endpoint = fmt.Sprintf("127.0.0.1:%d", xplaneDefaultPort)
	}
	return &xplaneTransport{endpoint: endpoint, freqHz: 30}
}

func (t *xplaneTransport) capabilities() []models.Capability {
	return []models.Capability{
		{Kind: "telemetry", Action: "subscribe_rref"},
		{Kind: "data", Action: "write_dref"},
	}
}

func buildRREFSubscribe(index int, name string, freqHz uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("RREF\x00")
	_ = binary.Write(&buf, binary.LittleEndian, freqHz)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(index))
	buf.WriteString(name)
	buf.WriteByte(0)
	return buf.Bytes()
}

func buildDREFWrite(name string, value float32) []byte {
	var buf bytes.Buffer
	buf.WriteString("DREF\x00")
	_ = binary.Write(&buf, binary.LittleEndian, value)
	buf.WriteString(name)
	buf.WriteByte(0)
	return buf.Bytes()
}

func (t *xplaneTransport) dial(ctx context.Context, emit func(models.TelemetryFrame)) (func() error, func(), error) {
	raddr, err := net.ResolveUDPAddr("udp", t.endpoint)
	if err != nil {
		return nil, nil, err
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, nil, err
	}

	for i, name := range xplaneDataRefs {
		if _, err := conn.Write(buildRREFSubscribe(i, name, t.freqHz)); err != nil {
			conn.Close()
			return nil, nil, err
		}
	}

	run := func() {
		buf := make([]byte, 2048)
		values := make([]float64, len(xplaneDataRefs))
		seq := uint64(0)
		for {
			n, _, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			if n < 5 || string(buf[0:4]) != "RREF" {
				continue
			}
			body := buf[5:n]
			for off := 0; off+8 <= len(body); off += 8 {
				idx := int(binary.LittleEndian.Uint32(body[off : off+4]))
				val := math.Float32frombits(binary.LittleEndian.Uint32(body[off+4 : off+8]))
				if idx >= 0 && idx < len(values) {
					values[idx] = float64(val)
				}
			}
			emit(decodeXPlaneFrame(values, seq))
			seq++
		}
	}

	return conn.Close, run, nil
}

func decodeXPlaneFrame(v []float64, seq uint64) models.TelemetryFrame {
	return models.TelemetryFrame{
		Timestamp: time.Now().UnixMicro(),
		Sequence:  seq,
		Simulator: models.SimulatorXPlane,
		Vehicle: models.VehicleState{
			Position: [3]float64{v[0], v[1], v[2]},
			Heading:  v[3],
		},
		Controls: models.ControlState{
			Throttle: v[6],
			Custom:   map[string]float64{"rudder_deflection_aero": v[7]},
		},
		Performance: models.PerformanceState{Speed: v[4]},
		Environment: models.EnvironmentState{Extra: map[string]float64{"vh_ind": v[5]}},
	}
}

func (t *xplaneTransport) sendCommand(ctx context.Context, cmd models.Command) error {
	dref, ok := cmd.Parameters["dataref"].(string)
	if !ok {
		return fmt.Errorf("xplane: command %q missing string parameter %q", cmd.Action, "dataref")
	}
	value, ok := cmd.Parameters["value"].(float64)
	if !ok {
		return fmt.Errorf("xplane: command %q missing numeric parameter %q", cmd.Action, "value")
	}
	raddr, err := net.ResolveUDPAddr("udp", t.endpoint)
	if err != nil {
		return err
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Write(buildDREFWrite(dref, float32(value)))
	return err
}
