// Package ingest holds the sensor adapters that turn raw device output into
// canonical models.Sample values and push them into a sync engine. Adapters
// own device lifecycle (start/stop/capture); they never perform alignment
// themselves (that is the sync engine's job).
package ingest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/99souls/synopticon/engine/models"
	"github.com/99souls/synopticon/engine/telemetry/logging"
	"github.com/99souls/synopticon/engine/telemetry/metrics"
)

// Sink receives samples produced by an adapter. *sync.Engine satisfies this
// interface directly.
type Sink interface {
	ProcessSample(s models.Sample) error
}

// Clock abstracts wall-clock reads so tests can control ingest timestamps.
// Mirrors stream.Clock so a caller can share one implementation across both.
type Clock interface {
	NowMicros() int64
}

type systemClock struct{}

func (systemClock) NowMicros() int64 { return time.Now().UnixMicro() }

// CaptureFunc performs one device capture. seq is the adapter-assigned
// sequence number and nowMicros is the ingest timestamp about to be
// assigned; captureTimestamp lets a device report its own clock when it has
// one (e.g. a simulator frame), falling back to nowMicros when zero.
//
// Confidence follows the higher-is-better convention: nil means the device
// didn't report one, 0 means the sample is present but unusable.
type CaptureFunc func(seq uint64, nowMicros int64) (payload any, captureTimestamp int64, confidence *float64, err error)

// ErrorHandler is notified whenever a CaptureFunc call fails. The adapter
// keeps running; a failing capture never stops the device loop. May be nil.
type ErrorHandler func(sourceID string, err error)

// Base implements the start/stop/capture lifecycle shared by every concrete
// adapter: a ticker-driven loop that calls a device-specific CaptureFunc,
// assigns sequence numbers and ingest timestamps, and pushes the resulting
// Sample to a Sink. Concrete adapters embed *Base and supply a CaptureFunc.
type Base struct {
	sourceID string
	kind     models.StreamKind
	sink     Sink
	clock    Clock
	rate     time.Duration
	capture  CaptureFunc
	onError  ErrorHandler

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	seq atomic.Uint64

	captured metrics.Counter
	failed   metrics.Counter
	logger   logging.Logger
}

// BaseOption configures optional instrumentation on a Base.
type BaseOption func(*Base)

// WithMetrics wires a metrics.Provider into the adapter's per-capture
// success/failure counters. A nil provider installs the noop backend.
func WithMetrics(p metrics.Provider) BaseOption {
	if p == nil {
		p = metrics.NewNoopProvider()
	}
	return func(b *Base) {
		b.captured = p.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "synopticon", Subsystem: "ingest", Name: "samples_captured_total",
			Help: "Samples successfully captured by an ingest adapter.", Labels: []string{"source_id"},
		}})
		b.failed = p.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "synopticon", Subsystem: "ingest", Name: "capture_errors_total",
			Help: "Device capture calls that returned an error.", Labels: []string{"source_id"},
		}})
	}
}

// WithLogger wires a correlated logger into capture-error logging. A nil
// logger installs the default slog-backed logger.
func WithLogger(l logging.Logger) BaseOption {
	if l == nil {
		l = logging.New(nil)
	}
	return func(b *Base) { b.logger = l }
}

// NewBase constructs a Base. rate is the capture period (time between device
// polls); clock may be nil to use the wall clock.
func NewBase(sourceID string, kind models.StreamKind, sink Sink, rate time.Duration, clock Clock, capture CaptureFunc, onError ErrorHandler, opts ...BaseOption) *Base {
	if clock == nil {
		clock = systemClock{}
	}
	b := &Base{
		sourceID: sourceID,
		kind:     kind,
		sink:     sink,
		clock:    clock,
		rate:     rate,
		capture:  capture,
		onError:  onError,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.captured == nil {
		WithMetrics(nil)(b)
	}
	if b.logger == nil {
		WithLogger(nil)(b)
	}
	return b
}

func (b *Base) SourceID() string        { return b.sourceID }
func (b *Base) Kind() models.StreamKind { return b.kind }

func (b *Base) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Start begins the capture loop on a background goroutine. Idempotent: a
// second Start while already running is a no-op.
func (b *Base) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.running = true
	b.mu.Unlock()

	b.wg.Add(1)
	go b.loop(runCtx)
	return nil
}

// Stop halts the capture loop and waits for it to exit. Idempotent.
func (b *Base) Stop() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	cancel := b.cancel
	b.running = false
	b.mu.Unlock()

	cancel()
	b.wg.Wait()
	return nil
}

func (b *Base) loop(ctx context.Context) {
	defer b.wg.Done()
	ticker := time.NewTicker(b.rate)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.captureOnce()
		}
	}
}

func (b *Base) captureOnce() {
	now := b.clock.NowMicros()
	seq := b.seq.Add(1) - 1
	payload, captureTS, confidence, err := b.capture(seq, now)
	if err != nil {
		b.failed.Inc(1, b.sourceID)
		b.logger.ErrorCtx(context.Background(), "device capture failed", "source_id", b.sourceID, "error", err)
		if b.onError != nil {
			b.onError(b.sourceID, err)
		}
		return
	}
	b.captured.Inc(1, b.sourceID)
	if captureTS == 0 {
		captureTS = now
	}
	sample := models.Sample{
		SourceID:         b.sourceID,
		Kind:             b.kind,
		CaptureTimestamp: captureTS,
		IngestTimestamp:  now,
		Payload:          payload,
		Confidence:       confidence,
		SequenceNumber:   seq,
	}
	_ = b.sink.ProcessSample(sample)
}
