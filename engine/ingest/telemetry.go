package ingest

import (
	"context"
	"sync"

	"github.com/99souls/synopticon/engine/connectors"
	"github.com/99souls/synopticon/engine/models"
)

// TelemetryAdapter bridges a connectors.Connector's TelemetryFrame stream
// into canonical Samples. Unlike the device adapters it does not poll on a
// ticker: frames arrive push-style from the connector's own subscription, so
// Start only wires the subscription and Stop tears it down.
type TelemetryAdapter struct {
	sourceID string
	conn     connectors.Connector
	sink     Sink
	clock    Clock
	onError  ErrorHandler

	mu         sync.Mutex
	running    bool
	unsubscribe func()
	seq         uint64
}

// NewTelemetryAdapter constructs an adapter over an already-configured
// connector. conn's lifecycle (Connect/Disconnect) is the caller's
// responsibility; the adapter only (un)subscribes.
func NewTelemetryAdapter(sourceID string, conn connectors.Connector, sink Sink, clock Clock, onError ErrorHandler) *TelemetryAdapter {
	if clock == nil {
		clock = systemClock{}
	}
	return &TelemetryAdapter{sourceID: sourceID, conn: conn, sink: sink, clock: clock, onError: onError}
}

func (a *TelemetryAdapter) SourceID() string        { return a.sourceID }
func (a *TelemetryAdapter) Kind() models.StreamKind { return models.StreamTelemetry }

func (a *TelemetryAdapter) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

func (a *TelemetryAdapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return nil
	}
	a.unsubscribe = a.conn.Subscribe(a.onFrame)
	a.running = true
	return nil
}

func (a *TelemetryAdapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return nil
	}
	a.unsubscribe()
	a.unsubscribe = nil
	a.running = false
	return nil
}

func (a *TelemetryAdapter) onFrame(f models.TelemetryFrame) {
	a.mu.Lock()
	a.seq++
	seq := a.seq
	a.mu.Unlock()

	captureTS := f.Timestamp
	if captureTS == 0 {
		captureTS = a.clock.NowMicros()
	}
	sample := models.Sample{
		SourceID:         a.sourceID,
		Kind:             models.StreamTelemetry,
		CaptureTimestamp: captureTS,
		IngestTimestamp:  a.clock.NowMicros(),
		Payload:          f,
		SequenceNumber:   seq,
	}
	if err := a.sink.ProcessSample(sample); err != nil && a.onError != nil {
		a.onError(a.sourceID, err)
	}
}
