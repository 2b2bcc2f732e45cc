package distribution

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/99souls/synopticon/engine/models"
	"github.com/99souls/synopticon/engine/ratelimit"
	"github.com/99souls/synopticon/engine/telemetry/logging"
	"github.com/99souls/synopticon/engine/telemetry/metrics"
	"github.com/99souls/synopticon/engine/telemetry/tracing"
)

const (
	defaultDegradeThreshold = 5 // spec.md §4.5: degraded after N consecutive failures
	defaultQueueSize        = 256
	endSessionGrace         = 2 * time.Second
)

// Factory builds the concrete Distributor for one DistributorConfig. Manager
// never constructs transports directly, so tests can substitute fakes
// without touching real sockets or brokers.
type Factory func(name string, cfg models.DistributorConfig) (Distributor, error)

// DefaultFactory builds the four wire transports named in spec.md §4.5/§6.4.
func DefaultFactory(name string, cfg models.DistributorConfig) (Distributor, error) {
	switch cfg.Kind {
	case models.DistributorUDP:
		return newUDPDistributor(cfg.Destination)
	case models.DistributorWebSocket:
		return newWebSocketDistributor(cfg.Destination), nil
	case models.DistributorMQTT:
		return newMQTTDistributor(name, cfg.Destination, cfg.QoS, cfg.Retain), nil
	case models.DistributorHTTP:
		return newHTTPDistributor(cfg.Destination), nil
	default:
		return nil, models.NewValidationError("distribution.DefaultFactory", fmt.Sprintf("unknown distributor kind %q", cfg.Kind))
	}
}

// instance wraps one live Distributor with its outbound queue, enabled flag
// and degraded tracking. The transport itself sits behind a mutex so
// reconfigure_distributor can swap it without stopping the worker goroutine.
type instance struct {
	name  string
	queue *outboundQueue

	enabled atomic.Bool

	mu      sync.Mutex
	cfg     models.DistributorConfig
	d       Distributor
	state   models.DistributorState
	breaker *ratelimit.CircuitBreaker

	// onStateChange reports a degraded<->active transition to the owning
	// Manager's gauge/logger; nil-safe (CreateSession always sets it).
	onStateChange func(name string, degraded bool)

	wg sync.WaitGroup
}

func (in *instance) transport() Distributor {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.d
}

func (in *instance) setTransport(d Distributor, cfg models.DistributorConfig) {
	in.mu.Lock()
	in.d = d
	in.cfg = cfg
	in.mu.Unlock()
}

func (in *instance) setState(s models.DistributorState) {
	in.mu.Lock()
	in.state = s
	in.mu.Unlock()
}

func (in *instance) getState() models.DistributorState {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state
}

// recordOutcome applies spec.md §4.5's degraded rule: N consecutive
// failures flips the instance degraded; any success flips it back. The
// bookkeeping is delegated to a CircuitBreaker keyed on the distributor's
// own name so the open/half-open/closed state machine (and its recovery
// probe) comes from one shared implementation rather than a bespoke counter.
func (in *instance) recordOutcome(err error) {
	if err != nil {
		in.breaker.RecordFailure(in.name)
	} else {
		in.breaker.RecordSuccess(in.name)
	}
	degraded := in.breaker.Snapshot(in.name).State != "closed"
	state := models.DistributorActive
	if degraded {
		state = models.DistributorDegraded
	}
	before := in.getState()
	in.setState(state)
	if before != state && in.onStateChange != nil {
		in.onStateChange(in.name, degraded)
	}
}

func (in *instance) runWorker() {
	defer in.wg.Done()
	for {
		item, ok := in.queue.pop()
		if !ok {
			return
		}
		d := in.transport()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, err := d.Send(ctx, item.Payload, SendOptions{EventKind: item.Kind})
		cancel()
		in.recordOutcome(err)
	}
}

// Session is one named bundle of distributors plus event routing, per
// spec.md §4.5's State: map(distributor_name -> DistributorInstance).
type Session struct {
	id        string
	createdAt time.Time

	mu        sync.RWMutex
	routing   map[models.EventKind][]string
	instances map[string]*instance
}

// Manager owns map(session_id -> Session), the C5 entry point.
type Manager struct {
	factory Factory

	mu       sync.RWMutex
	sessions map[string]*Session

	routed   metrics.Counter
	dropped  metrics.Counter
	degraded metrics.Gauge
	tracer   tracing.Tracer
	logger   logging.Logger
}

// ManagerOption configures optional instrumentation on a Manager.
type ManagerOption func(*Manager)

// WithMetrics wires a metrics backend into the manager's route/drop
// counters and degraded-distributor gauge. Omitted or nil uses a noop
// provider.
func WithMetrics(p metrics.Provider) ManagerOption {
	return func(m *Manager) {
		if p == nil {
			p = metrics.NewNoopProvider()
		}
		m.routed = p.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "synopticon", Subsystem: "distribution", Name: "events_routed_total",
			Help: "Events enqueued onto a distributor's outbound queue.",
		}})
		m.dropped = p.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "synopticon", Subsystem: "distribution", Name: "events_dropped_total",
			Help: "Events routed to a target that was missing or disabled.",
		}})
		m.degraded = p.NewGauge(metrics.GaugeOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "synopticon", Subsystem: "distribution", Name: "degraded_distributors",
			Help: "Count of distributor instances currently degraded.",
		}})
	}
}

// WithTracer wires a tracer into session/route-event spans. Omitted or nil
// uses a disabled tracer.
func WithTracer(t tracing.Tracer) ManagerOption {
	return func(m *Manager) {
		if t == nil {
			t = tracing.NewTracer(false)
		}
		m.tracer = t
	}
}

// WithLogger wires a correlated logger into session lifecycle and
// degraded-state-transition logging. Omitted or nil uses a default
// slog-backed logger.
func WithLogger(l logging.Logger) ManagerOption {
	return func(m *Manager) {
		if l == nil {
			l = logging.New(nil)
		}
		m.logger = l
	}
}

func NewManager(factory Factory, opts ...ManagerOption) *Manager {
	if factory == nil {
		factory = DefaultFactory
	}
	m := &Manager{factory: factory, sessions: make(map[string]*Session)}
	for _, opt := range opts {
		opt(m)
	}
	if m.routed == nil {
		WithMetrics(nil)(m)
	}
	if m.tracer == nil {
		WithTracer(nil)(m)
	}
	if m.logger == nil {
		WithLogger(nil)(m)
	}
	return m
}

// CreateSession instantiates every configured distributor and opens it.
// Partial failure tears down every distributor already opened so no
// half-created session is left behind (spec.md §8's session-atomicity
// property).
func (m *Manager) CreateSession(ctx context.Context, cfg models.SessionConfig) (*Session, error) {
	ctx, span := m.tracer.StartSpan(ctx, "distribution.create_session")
	defer span.End()
	span.SetAttribute("session_id", cfg.ID)
	span.SetAttribute("distributor_count", len(cfg.Distributors))

	if cfg.ID == "" {
		return nil, models.NewValidationError("distribution.Manager.CreateSession", "id is required")
	}
	names := make(map[string]struct{}, len(cfg.Distributors))
	for _, dcfg := range cfg.Distributors {
		names[dcfg.Name] = struct{}{}
	}
	for kind, targets := range cfg.EventRouting {
		if !kind.Valid() {
			return nil, models.NewValidationError("distribution.Manager.CreateSession", fmt.Sprintf("unknown event kind %q", kind))
		}
		for _, target := range targets {
			if _, ok := names[target]; !ok {
				return nil, models.NewValidationError("distribution.Manager.CreateSession", fmt.Sprintf("event routing for %q targets undeclared distributor %q", kind, target))
			}
		}
	}

	m.mu.Lock()
	if _, exists := m.sessions[cfg.ID]; exists {
		m.mu.Unlock()
		return nil, models.NewValidationError("distribution.Manager.CreateSession", fmt.Sprintf("session %q already exists", cfg.ID))
	}
	m.mu.Unlock()

	sess := &Session{
		id:        cfg.ID,
		createdAt: time.Now(),
		routing:   cfg.EventRouting,
		instances: make(map[string]*instance),
	}

	opened := make([]*instance, 0, len(cfg.Distributors))
	teardown := func() {
		for _, in := range opened {
			in.queue.close()
			in.wg.Wait()
			_ = in.transport().Close()
		}
	}

	for _, dcfg := range cfg.Distributors {
		d, err := m.factory(dcfg.Name, dcfg)
		if err != nil {
			teardown()
			return nil, err
		}
		if err := d.Open(ctx); err != nil {
			teardown()
			return nil, err
		}
		queueSize := dcfg.QueueSize
		if queueSize <= 0 {
			queueSize = defaultQueueSize
		}
		in := &instance{
			name:    dcfg.Name,
			cfg:     dcfg,
			d:       d,
			queue:   newOutboundQueue(queueSize, dcfg.TailDrop),
			state:   models.DistributorActive,
			breaker: ratelimit.New(ratelimit.Config{Shards: 1, FailureThreshold: defaultDegradeThreshold}),
			onStateChange: func(name string, degraded bool) {
				if degraded {
					m.degraded.Add(1)
					m.logger.ErrorCtx(context.Background(), "distributor degraded",
						"session_id", cfg.ID, "distributor", name)
					return
				}
				m.degraded.Add(-1)
				m.logger.InfoCtx(context.Background(), "distributor recovered",
					"session_id", cfg.ID, "distributor", name)
			},
		}
		in.enabled.Store(true)
		in.wg.Add(1)
		go in.runWorker()

		sess.instances[dcfg.Name] = in
		opened = append(opened, in)
	}

	m.mu.Lock()
	m.sessions[cfg.ID] = sess
	m.mu.Unlock()
	return sess, nil
}

func (m *Manager) getSession(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, models.NewNotFoundError("distribution.Manager", fmt.Sprintf("session %q not found", id))
	}
	return sess, nil
}

func (m *Manager) getInstance(sessionID, name string) (*instance, error) {
	sess, err := m.getSession(sessionID)
	if err != nil {
		return nil, err
	}
	sess.mu.RLock()
	in, ok := sess.instances[name]
	sess.mu.RUnlock()
	if !ok {
		return nil, models.NewNotFoundError("distribution.Manager", fmt.Sprintf("distributor %q not found in session %q", name, sessionID))
	}
	return in, nil
}

// RouteEvent looks up event_routing targets and enqueues payload on each,
// without waiting for delivery (spec.md §4.5: "best-effort, non-blocking
// from caller's perspective").
func (m *Manager) RouteEvent(sessionID string, kind models.EventKind, payload any) error {
	ctx, span := m.tracer.StartSpan(context.Background(), "distribution.route_event")
	defer span.End()
	span.SetAttribute("session_id", sessionID)
	span.SetAttribute("event_kind", string(kind))

	if !kind.Valid() {
		return models.NewValidationError("distribution.Manager.RouteEvent", fmt.Sprintf("unknown event kind %q", kind))
	}
	sess, err := m.getSession(sessionID)
	if err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return models.NewValidationError("distribution.Manager.RouteEvent", err.Error())
	}

	sess.mu.RLock()
	targets := sess.routing[kind]
	instances := sess.instances
	sess.mu.RUnlock()

	for _, name := range targets {
		in, ok := instances[name]
		if !ok || !in.enabled.Load() {
			m.dropped.Inc(1, string(kind))
			m.logger.ErrorCtx(ctx, "event routed to missing or disabled distributor",
				"session_id", sessionID, "distributor", name, "event_kind", string(kind))
			continue
		}
		in.queue.push(queueItem{Kind: kind, Payload: body})
		m.routed.Inc(1, string(kind))
	}
	return nil
}

// ReconfigureDistributor swaps in a freshly opened transport built from cfg
// applied over the existing configuration, closing the old transport only
// after the new one is live so the outbound queue never blocks on the swap.
func (m *Manager) ReconfigureDistributor(ctx context.Context, sessionID, name string, partial models.DistributorConfig) error {
	in, err := m.getInstance(sessionID, name)
	if err != nil {
		return err
	}

	in.mu.Lock()
	merged := in.cfg
	in.mu.Unlock()

	if partial.Destination.Host != "" || partial.Destination.URL != "" {
		merged.Destination = partial.Destination
	}
	if partial.Filter != nil {
		merged.Filter = partial.Filter
	}
	if partial.QoS != 0 {
		merged.QoS = partial.QoS
	}
	merged.Retain = partial.Retain
	if partial.TailDrop {
		merged.TailDrop = partial.TailDrop
	}

	newD, err := m.factory(name, merged)
	if err != nil {
		return err
	}
	if err := newD.Open(ctx); err != nil {
		return err
	}

	oldD := in.transport()
	in.setTransport(newD, merged)
	return oldD.Close()
}

func (m *Manager) EnableDistributor(sessionID, name string) error {
	in, err := m.getInstance(sessionID, name)
	if err != nil {
		return err
	}
	in.enabled.Store(true)
	in.setState(models.DistributorActive)
	return nil
}

func (m *Manager) DisableDistributor(sessionID, name string) error {
	in, err := m.getInstance(sessionID, name)
	if err != nil {
		return err
	}
	in.enabled.Store(false)
	in.setState(models.DistributorIdle)
	return nil
}

// EndSession drains each distributor's queue up to a grace period, stops
// its worker and closes its transport, then removes the session.
func (m *Manager) EndSession(sessionID string) error {
	ctx, span := m.tracer.StartSpan(context.Background(), "distribution.end_session")
	defer span.End()
	span.SetAttribute("session_id", sessionID)

	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return models.NewNotFoundError("distribution.Manager.EndSession", fmt.Sprintf("session %q not found", sessionID))
	}

	sess.mu.RLock()
	instances := make([]*instance, 0, len(sess.instances))
	for _, in := range sess.instances {
		instances = append(instances, in)
	}
	sess.mu.RUnlock()

	for _, in := range instances {
		in.queue.drain(endSessionGrace)
		in.queue.close()
		in.wg.Wait()
		_ = in.transport().Close()
	}
	m.logger.InfoCtx(ctx, "session ended", "session_id", sessionID, "distributor_count", len(instances))
	return nil
}

// GetSessionStatus aggregates per-distributor stats, folding in the
// outbound queue's drop counter alongside each transport's own counters.
func (m *Manager) GetSessionStatus(sessionID string) (models.SessionStatus, error) {
	sess, err := m.getSession(sessionID)
	if err != nil {
		return models.SessionStatus{}, err
	}

	sess.mu.RLock()
	defer sess.mu.RUnlock()
	stats := make(map[string]models.DistributorStats, len(sess.instances))
	for name, in := range sess.instances {
		s := in.transport().Stats()
		s.Dropped += in.queue.droppedCount()
		stats[name] = s
	}
	return models.SessionStatus{ID: sess.id, State: "active", Distributors: stats, CreatedAt: sess.createdAt}, nil
}
