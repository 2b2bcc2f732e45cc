package models

import "time"

// SimulatorKind is the closed set of simulator wire protocols §6.3 names.
type SimulatorKind string

const (
	SimulatorMSFS   SimulatorKind = "msfs"
	SimulatorXPlane SimulatorKind = "xplane"
	SimulatorVATSIM SimulatorKind = "vatsim"
	SimulatorBeamNG SimulatorKind = "beamng"
)

// ConnectionState is the connector lifecycle state machine (spec.md §4.4).
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
)

// DataMode reports whether a connector is serving native wire data or the
// synthetic mock fallback generator.
type DataMode string

const (
	DataModeNative DataMode = "native"
	DataModeMock   DataMode = "mock"
)

// TelemetryFrame is the canonical normalized shape every connector emits,
// regardless of wire protocol.
type TelemetryFrame struct {
	Timestamp  int64             `json:"timestamp"`
	Sequence   uint64            `json:"sequence"`
	SourceID   string            `json:"source_id"`
	Simulator  SimulatorKind     `json:"simulator"`
	Vehicle    VehicleState      `json:"vehicle"`
	Controls   ControlState      `json:"controls"`
	Performance PerformanceState `json:"performance"`
	Environment EnvironmentState `json:"environment"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type VehicleState struct {
	Position [3]float64 `json:"position"` // lat/lon/alt or x/y/z depending on simulator
	Velocity [3]float64 `json:"velocity"`
	Rotation [4]float64 `json:"rotation"` // quaternion, or [0,0,0,0] if simulator reports euler only
	Heading  float64    `json:"heading"`
}

type ControlState struct {
	Throttle float64           `json:"throttle"`
	Brake    float64           `json:"brake"`
	Steering float64           `json:"steering"`
	Gear     int               `json:"gear"`
	Custom   map[string]float64 `json:"custom,omitempty"`
}

type PerformanceState struct {
	Speed     float64 `json:"speed"`
	Fuel      float64 `json:"fuel"`
	EngineRPM float64 `json:"engine_rpm"`
	Damage    float64 `json:"damage"`
}

type EnvironmentState struct {
	Extra map[string]float64 `json:"extra,omitempty"`
}

// CommandKind/Action are free-form but negotiated via Capabilities; the
// connector framework doesn't constrain their values beyond non-empty.
type Command struct {
	ID         string         `json:"id"`
	Kind       string         `json:"kind"`
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Priority   int            `json:"priority,omitempty"`
}

type CommandResult struct {
	CommandID  string    `json:"command_id"`
	Success    bool      `json:"success"`
	ExecutedAt time.Time `json:"executed_at"`
	Error      string    `json:"error,omitempty"`
}

// Capability is one supported (kind, action) pair a connector negotiates.
type Capability struct {
	Kind   string `json:"kind"`
	Action string `json:"action"`
}

// ConnectorStatus is the snapshot returned by Connector.GetStatus.
type ConnectorStatus struct {
	ID        string          `json:"id"`
	Simulator SimulatorKind   `json:"simulator"`
	State     ConnectionState `json:"connection_state"`
	DataMode  DataMode        `json:"data_mode"`
	ConnectedAt time.Time     `json:"connected_at,omitempty"`
	LastFrameAt time.Time     `json:"last_frame_at,omitempty"`
}

// ConnectorEvent is emitted on subscribe_to_events, covering state
// transitions per spec.md §8 scenario 3.
type ConnectorEvent struct {
	Type      string          `json:"type"` // "connection_change"
	OldState  ConnectionState `json:"oldState"`
	NewState  ConnectionState `json:"newState"`
	Timestamp time.Time       `json:"timestamp"`
}

// ConnectorConfig configures connect-time behavior common to every
// connector implementation.
type ConnectorConfig struct {
	UseNativeProtocol bool          `json:"use_native_protocol"`
	FallbackToMock    bool          `json:"fallback_to_mock"`
	AutoReconnect     bool          `json:"auto_reconnect"`
	ReconnectDelay    time.Duration `json:"reconnect_delay"`
	ReconnectDelayCap time.Duration `json:"reconnect_delay_cap"`
	ConnectTimeout    time.Duration `json:"connect_timeout"`
	UpdateRate        float64       `json:"update_rate_hz"`
	Endpoint          string        `json:"endpoint"` // host:port or URL, protocol-specific
}
