package connectors

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/99souls/synopticon/engine/models"
	"github.com/99souls/synopticon/engine/ratelimit"
)

type frameSub struct {
	ch      chan models.TelemetryFrame
	dropped uint64
}

type eventSub struct {
	ch      chan models.ConnectorEvent
	dropped uint64
}

// Base implements everything protocol-agnostic about Connector: the
// connect/reconnect state machine, native-or-mock fallback, subscriber
// fan-out and the command queue. Concrete connectors embed *Base and supply
// a transport plus a models.SimulatorKind.
type Base struct {
	id        string
	simulator models.SimulatorKind
	cfg       models.ConnectorConfig
	tr        transport
	mock      *mockGenerator

	mu          sync.RWMutex
	state       models.ConnectionState
	dataMode    models.DataMode
	connectedAt time.Time
	lastFrameAt time.Time
	cancel      context.CancelFunc

	wg sync.WaitGroup

	frameSubMu sync.Mutex
	frameSubs  []*frameSub

	eventSubMu sync.Mutex
	eventSubs  []*eventSub

	queueMu sync.Mutex
	queue   []models.Command

	seq atomic.Uint64

	breaker *ratelimit.CircuitBreaker
}

// NewBase constructs a Base for one connector identity. tr may be nil if
// cfg.UseNativeProtocol will always be false for this connector (a
// mock-only instance).
func NewBase(id string, sim models.SimulatorKind, cfg models.ConnectorConfig, tr transport) *Base {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 3 * time.Second
	}
	if cfg.ReconnectDelayCap <= 0 {
		cfg.ReconnectDelayCap = 60 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	return &Base{
		id:        id,
		simulator: sim,
		cfg:       cfg,
		tr:        tr,
		mock:      newMockGenerator(id, sim),
		state:     models.StateDisconnected,
		breaker:   ratelimit.New(ratelimit.Config{Shards: 1, OpenDuration: cfg.ReconnectDelayCap}),
	}
}

func (b *Base) ID() string { return b.id }

func (b *Base) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state == models.StateConnected
}

func (b *Base) GetStatus() models.ConnectorStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return models.ConnectorStatus{
		ID:          b.id,
		Simulator:   b.simulator,
		State:       b.state,
		DataMode:    b.dataMode,
		ConnectedAt: b.connectedAt,
		LastFrameAt: b.lastFrameAt,
	}
}

func (b *Base) GetCapabilities() []models.Capability {
	if b.tr == nil {
		return nil
	}
	return b.tr.capabilities()
}

func (b *Base) setState(s models.ConnectionState) {
	b.mu.Lock()
	old := b.state
	if old == s {
		b.mu.Unlock()
		return
	}
	b.state = s
	b.mu.Unlock()
	b.publishEvent(models.ConnectorEvent{Type: "connection_change", OldState: old, NewState: s, Timestamp: time.Now()})
}

// Connect starts the connector's lifecycle and blocks until the first
// connect attempt (native or mock) completes, returning its result. With
// auto-reconnect enabled a failed first attempt is still returned while
// retries continue in the background.
func (b *Base) Connect(ctx context.Context) error {
	b.mu.RLock()
	already := b.state != models.StateDisconnected
	b.mu.RUnlock()
	if already {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	b.mu.Lock()
	b.cancel = cancel
	b.mu.Unlock()

	firstResult := make(chan error, 1)
	b.wg.Add(1)
	go b.runLoop(runCtx, firstResult)

	select {
	case err := <-firstResult:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect halts the connector's background goroutines and marks it
// disconnected. Idempotent.
func (b *Base) Disconnect() error {
	b.mu.Lock()
	cancel := b.cancel
	b.cancel = nil
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	b.wg.Wait()
	b.setState(models.StateDisconnected)
	return nil
}

func (b *Base) runLoop(ctx context.Context, firstResult chan<- error) {
	defer b.wg.Done()
	attempt := 0
	first := true
	reportFirst := func(err error) {
		if first {
			firstResult <- err
			first = false
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if attempt > 0 && !b.breaker.Allow(b.id) {
			// circuit is open on repeated reconnect failures; skip this
			// attempt entirely rather than dialing into a known-bad peer.
			if !b.waitBackoff(ctx, attempt) {
				return
			}
			continue
		}

		b.setState(models.StateConnecting)
		dropped, mode, err := b.connectOnce(ctx)
		if err != nil {
			if attempt > 0 {
				b.breaker.RecordFailure(b.id)
			}
			reportFirst(err)
			if !b.cfg.AutoReconnect {
				b.setState(models.StateDisconnected)
				return
			}
			attempt++
			if !b.waitBackoff(ctx, attempt) {
				return
			}
			continue
		}
		b.breaker.RecordSuccess(b.id)

		b.mu.Lock()
		b.dataMode = mode
		b.connectedAt = time.Now()
		b.mu.Unlock()
		attempt = 0
		b.setState(models.StateConnected)
		reportFirst(nil)
		b.drainQueue(ctx)

		select {
		case <-dropped:
		case <-ctx.Done():
			return
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
		if !b.cfg.AutoReconnect {
			b.setState(models.StateDisconnected)
			return
		}
		b.setState(models.StateReconnecting)
		attempt++
		if !b.waitBackoff(ctx, attempt) {
			return
		}
	}
}

func (b *Base) waitBackoff(ctx context.Context, attempt int) bool {
	delay := ratelimit.NextDelay(attempt, b.cfg.ReconnectDelay, b.cfg.ReconnectDelayCap)
	if delay <= 0 {
		return true
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// connectOnce attempts one native dial (if configured), falling back to the
// mock generator on failure if enabled. dropped closes when the connection
// (native or, for mock, the context) ends.
func (b *Base) connectOnce(ctx context.Context) (dropped <-chan struct{}, mode models.DataMode, err error) {
	if b.cfg.UseNativeProtocol && b.tr != nil {
		dialCtx, cancel := context.WithTimeout(ctx, b.cfg.ConnectTimeout)
		closeFn, run, dialErr := b.tr.dial(dialCtx, b.emitFrame)
		cancel()
		if dialErr == nil {
			done := make(chan struct{})
			go func() {
				defer close(done)
				run()
			}()
			// run() typically blocks on a connection read with no ctx
			// awareness; closing the connection on ctx cancellation is
			// what actually unblocks it.
			if closeFn != nil {
				go func() {
					select {
					case <-ctx.Done():
						_ = closeFn()
					case <-done:
					}
				}()
			}
			return done, models.DataModeNative, nil
		}
		if !b.cfg.FallbackToMock {
			return nil, "", models.NewTransportError("connectors.Base.connectOnce", "native connect failed", dialErr)
		}
	}

	done := make(chan struct{})
	go b.runMock(ctx, done)
	return done, models.DataModeMock, nil
}

func (b *Base) runMock(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	interval := mockFrameInterval
	if b.cfg.UpdateRate > 0 {
		interval = time.Duration(float64(time.Second) / b.cfg.UpdateRate)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			seq := b.seq.Add(1) - 1
			b.emitFrame(b.mock.Frame(seq, time.Now().UnixMicro()))
		}
	}
}

func (b *Base) emitFrame(f models.TelemetryFrame) {
	b.mu.Lock()
	b.lastFrameAt = time.Now()
	b.mu.Unlock()

	b.frameSubMu.Lock()
	subs := b.frameSubs
	b.frameSubMu.Unlock()
	for _, sub := range subs {
		select {
		case sub.ch <- f:
		default:
			atomic.AddUint64(&sub.dropped, 1)
		}
	}
}

func (b *Base) publishEvent(ev models.ConnectorEvent) {
	b.eventSubMu.Lock()
	subs := b.eventSubs
	b.eventSubMu.Unlock()
	for _, sub := range subs {
		select {
		case sub.ch <- ev:
		default:
			atomic.AddUint64(&sub.dropped, 1)
		}
	}
}

// Subscribe registers fn on a dedicated goroutine fed by a bounded channel;
// a slow subscriber has frames skipped for it rather than blocking emit.
func (b *Base) Subscribe(fn func(models.TelemetryFrame)) func() {
	sub := &frameSub{ch: make(chan models.TelemetryFrame, 64)}
	b.frameSubMu.Lock()
	b.frameSubs = append(b.frameSubs, sub)
	b.frameSubMu.Unlock()

	go func() {
		for f := range sub.ch {
			fn(f)
		}
	}()

	return func() {
		b.frameSubMu.Lock()
		defer b.frameSubMu.Unlock()
		for i, s := range b.frameSubs {
			if s == sub {
				b.frameSubs = append(b.frameSubs[:i], b.frameSubs[i+1:]...)
				close(sub.ch)
				return
			}
		}
	}
}

func (b *Base) SubscribeToEvents(fn func(models.ConnectorEvent)) func() {
	sub := &eventSub{ch: make(chan models.ConnectorEvent, 16)}
	b.eventSubMu.Lock()
	b.eventSubs = append(b.eventSubs, sub)
	b.eventSubMu.Unlock()

	go func() {
		for ev := range sub.ch {
			fn(ev)
		}
	}()

	return func() {
		b.eventSubMu.Lock()
		defer b.eventSubMu.Unlock()
		for i, s := range b.eventSubs {
			if s == sub {
				b.eventSubs = append(b.eventSubs[:i], b.eventSubs[i+1:]...)
				close(sub.ch)
				return
			}
		}
	}
}

// SendCommand dispatches cmd immediately: over the native transport when
// connected in native mode, or optimistically acknowledged when in mock
// mode. Returns a TransportError if not connected.
func (b *Base) SendCommand(ctx context.Context, cmd models.Command) (models.CommandResult, error) {
	b.mu.RLock()
	state, mode := b.state, b.dataMode
	b.mu.RUnlock()

	if state != models.StateConnected {
		return models.CommandResult{}, models.NewTransportError("connectors.Base.SendCommand", "not connected", nil)
	}
	if mode == models.DataModeMock {
		return models.CommandResult{CommandID: cmd.ID, Success: true, ExecutedAt: time.Now()}, nil
	}
	if err := b.tr.sendCommand(ctx, cmd); err != nil {
		return models.CommandResult{CommandID: cmd.ID, Success: false, ExecutedAt: time.Now(), Error: err.Error()}, err
	}
	return models.CommandResult{CommandID: cmd.ID, Success: true, ExecutedAt: time.Now()}, nil
}

func (b *Base) SendCommands(ctx context.Context, cmds []models.Command) ([]models.CommandResult, error) {
	results := make([]models.CommandResult, 0, len(cmds))
	for _, cmd := range cmds {
		res, err := b.SendCommand(ctx, cmd)
		results = append(results, res)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

func (b *Base) QueueCommand(cmd models.Command) {
	b.queueMu.Lock()
	b.queue = append(b.queue, cmd)
	b.queueMu.Unlock()
}

func (b *Base) ClearCommandQueue() {
	b.queueMu.Lock()
	b.queue = nil
	b.queueMu.Unlock()
}

func (b *Base) drainQueue(ctx context.Context) {
	b.queueMu.Lock()
	pending := b.queue
	b.queue = nil
	b.queueMu.Unlock()
	for _, cmd := range pending {
		_, _ = b.SendCommand(ctx, cmd)
	}
}
