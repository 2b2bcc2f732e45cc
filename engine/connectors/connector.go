// Package connectors implements the uniform simulator connector contract
// (spec.md §4.4): connect/disconnect lifecycle, native-or-mock fallback,
// reconnect backoff, and a bidirectional command channel, with one
// concrete connector per wire protocol from §6.3.
package connectors

import (
	"context"

	"github.com/99souls/synopticon/engine/models"
)

// Connector is the uniform contract every simulator adapter implements.
type Connector interface {
	ID() string
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool
	GetStatus() models.ConnectorStatus
	GetCapabilities() []models.Capability

	// Subscribe registers fn to receive every normalized TelemetryFrame.
	// The returned func unsubscribes.
	Subscribe(fn func(models.TelemetryFrame)) func()
	// SubscribeToEvents registers fn to receive connector lifecycle events
	// (state transitions). The returned func unsubscribes.
	SubscribeToEvents(fn func(models.ConnectorEvent)) func()

	SendCommand(ctx context.Context, cmd models.Command) (models.CommandResult, error)
	SendCommands(ctx context.Context, cmds []models.Command) ([]models.CommandResult, error)
	QueueCommand(cmd models.Command)
	ClearCommandQueue()
}

// transport is the per-protocol hook set a Base needs to do real work. Each
// concrete connector supplies one; Base handles everything protocol-
// agnostic (state machine, reconnect, subscriber fan-out, command queue,
// mock fallback).
type transport interface {
	// dial attempts a native connection and returns a closer plus a
	// function that blocks reading/decoding frames until the connection
	// drops or ctx is cancelled, invoking emit for each decoded frame.
	dial(ctx context.Context, emit func(models.TelemetryFrame)) (closeFn func() error, run func(), err error)
	// sendCommand ships cmd over the native transport. Only called while
	// connected in native data mode.
	sendCommand(ctx context.Context, cmd models.Command) error
	capabilities() []models.Capability
}
