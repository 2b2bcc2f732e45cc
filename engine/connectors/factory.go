package connectors

import "github.com/99souls/synopticon/engine/models"

// NewMSFS constructs a Connector for Microsoft Flight Simulator's
// SimConnect protocol. cfg.Endpoint is a "host:port" TCP address.
func NewMSFS(id string, cfg models.ConnectorConfig) Connector {
	return NewBase(id, models.SimulatorMSFS, cfg, newMSFSTransport(cfg.Endpoint))
}

// NewXPlane constructs a Connector for X-Plane's UDP RREF/DREF protocol.
// cfg.Endpoint is a "host:port" UDP address; empty defaults to
// 127.0.0.1:49000.
func NewXPlane(id string, cfg models.ConnectorConfig) Connector {
	return NewBase(id, models.SimulatorXPlane, cfg, newXPlaneTransport(cfg.Endpoint))
}

// NewVATSIM constructs a Connector that polls the public VATSIM data feed.
// callsign filters to a single pilot's updates; empty emits every pilot in
// the feed. cfg.Endpoint overrides the default feed URL when set.
func NewVATSIM(id, callsign string, cfg models.ConnectorConfig) Connector {
	return NewBase(id, models.SimulatorVATSIM, cfg, newVATSIMTransport(cfg.Endpoint, callsign))
}

// NewBeamNG constructs a Connector for BeamNG.drive's JSON vehicle-state
// stream. udp selects UDP framing instead of the TCP (default port 64256)
// newline-delimited variant.
func NewBeamNG(id string, udp bool, cfg models.ConnectorConfig) Connector {
	return NewBase(id, models.SimulatorBeamNG, cfg, newBeamNGTransport(cfg.Endpoint, udp))
}

// NewMock constructs a Connector that never attempts a native connection —
// useful for development or tests that want deterministic synthetic frames
// without a live simulator.
func NewMock(id string, sim models.SimulatorKind, cfg models.ConnectorConfig) Connector {
	cfg.UseNativeProtocol = false
	cfg.FallbackToMock = true
	return NewBase(id, sim, cfg, nil)
}
