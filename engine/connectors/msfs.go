package connectors

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"net"
	"time"

	"github.com/99souls/synopticon/engine/models"
)

// MSFS SimConnect constants (spec.md §6.3). Version 4 corresponds to the
// SP2/Acceleration wire protocol.
const (
	msfsVersion = 4

	msfsRecvIDOpen          = 2
	msfsRecvIDSimObjectData = 5

	msfsReqRequestDataOnSimObject = 1
	msfsReqAddToDataDefinition    = 6

	msfsDataDefFlight = 1 // arbitrary locally-scoped definition id
	msfsReqFlightData = 1 // arbitrary locally-scoped request id

	// msfsFlightDataFields is the default flight data definition's field
	// count: latitude, longitude, altitude, heading true, indicated
	// airspeed, vertical speed, engine rpm, fuel total — each a float64.
	msfsFlightDataFields = 8
)

// msfsHeader is SimConnect's little-endian binary frame header.
type msfsHeader struct {
	Size      uint32
	Version   uint32
	ID        uint32
	CallIndex uint32
}

const msfsHeaderSize = 16

func writeMSFSHeader(w io.Writer, h msfsHeader) error {
	buf := make([]byte, msfsHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Size)
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint32(buf[8:12], h.ID)
	binary.LittleEndian.PutUint32(buf[12:16], h.CallIndex)
	_, err := w.Write(buf)
	return err
}

func readMSFSHeader(r io.Reader) (msfsHeader, error) {
	buf := make([]byte, msfsHeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return msfsHeader{}, err
	}
	return msfsHeader{
		Size:      binary.LittleEndian.Uint32(buf[0:4]),
		Version:   binary.LittleEndian.Uint32(buf[4:8]),
		ID:        binary.LittleEndian.Uint32(buf[8:12]),
		CallIndex: binary.LittleEndian.Uint32(buf[12:16]),
	}, nil
}

// msfsTransport implements transport for MSFS SimConnect over a TCP socket
// (the named-pipe variant from §6.3 isn't reachable from a portable Go
// build and is out of scope here).
type msfsTransport struct {
	endpoint string
}

func newMSFSTransport(endpoint string) *msfsTransport {
	return &msfsTransport{endpoint: endpoint}
}

func (t *msfsTransport) capabilities() []models.Capability {
	return []models.Capability{
		{Kind: "telemetry", Action: "subscribe_flight_data"},
		{Kind: "event", Action: "subscribe_system_event"},
		{Kind: "data", Action: "set_data_on_sim_object"},
	}
}

func (t *msfsTransport) dial(ctx context.Context, emit func(models.TelemetryFrame)) (func() error, func(), error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", t.endpoint)
	if err != nil {
		return nil, nil, err
	}

	if err := writeMSFSHeader(conn, msfsHeader{Size: msfsHeaderSize, Version: msfsVersion, ID: msfsReqAddToDataDefinition}); err != nil {
		conn.Close()
		return nil, nil, err
	}
	if err := writeMSFSHeader(conn, msfsHeader{Size: msfsHeaderSize, Version: msfsVersion, ID: msfsReqRequestDataOnSimObject}); err != nil {
		conn.Close()
		return nil, nil, err
	}

	run := func() {
		seq := uint64(0)
		payload := make([]byte, msfsFlightDataFields*8)
		for {
			hdr, err := readMSFSHeader(conn)
			if err != nil {
				return
			}
			if hdr.ID != msfsRecvIDSimObjectData {
				// drain and skip anything else (OPEN/EVENT/EXCEPTION acks)
				if hdr.Size > msfsHeaderSize {
					io.CopyN(io.Discard, conn, int64(hdr.Size-msfsHeaderSize)) //nolint:errcheck
				}
				continue
			}
			if _, err := io.ReadFull(conn, payload); err != nil {
				return
			}
			frame := decodeMSFSFlightData(payload, seq)
			seq++
			emit(frame)
		}
	}

	return conn.Close, run, nil
}

func decodeMSFSFlightData(payload []byte, seq uint64) models.TelemetryFrame {
	f := make([]float64, msfsFlightDataFields)
	for i := range f {
		bits := binary.LittleEndian.Uint64(payload[i*8 : i*8+8])
		f[i] = math.Float64frombits(bits)
	}
	return models.TelemetryFrame{
		Timestamp: time.Now().UnixMicro(),
		Sequence:  seq,
		Simulator: models.SimulatorMSFS,
		Vehicle: models.VehicleState{
			Position: [3]float64{f[0], f[1], f[2]},
			Heading:  f[3],
		},
		Performance: models.PerformanceState{
			Speed:     f[4],
			EngineRPM: f[6],
			Fuel:      f[7],
		},
		Environment: models.EnvironmentState{
			Extra: map[string]float64{"vertical_speed": f[5]},
		},
	}
}

func (t *msfsTransport) sendCommand(ctx context.Context, cmd models.Command) error {
	return fmt.Errorf("msfs: send_command action %q has no wired SET_DATA_ON_SIM_OBJECT mapping", cmd.Action)
}
