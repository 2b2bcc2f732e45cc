// Package engine composes every subsystem — stream synchronization,
// connector framework, distribution, pipeline orchestration, ingestion
// and telemetry — behind a single facade, the construction point a
// host process (cmd/synopticon) wires up once at startup.
package engine

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/99souls/synopticon/engine/config"
	"github.com/99souls/synopticon/engine/connectors"
	"github.com/99souls/synopticon/engine/distribution"
	"github.com/99souls/synopticon/engine/ingest"
	"github.com/99souls/synopticon/engine/pipeline"
	"github.com/99souls/synopticon/engine/stream"
	"github.com/99souls/synopticon/engine/sync"
	"github.com/99souls/synopticon/engine/telemetry/health"
	"github.com/99souls/synopticon/engine/telemetry/logging"
	"github.com/99souls/synopticon/engine/telemetry/metrics"
	"github.com/99souls/synopticon/engine/telemetry/tracing"
)

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithSync supplies a pre-configured sync.Engine. When omitted, New
// builds one from a buffer-based aligner and the Sync section of the
// active configuration (WithConfig's, else config.Default()).
func WithSync(e *sync.Engine) Option { return func(en *Engine) { en.sync = e } }

// WithDistribution supplies a pre-configured distribution.Manager.
func WithDistribution(m *distribution.Manager) Option {
	return func(en *Engine) { en.distribution = m }
}

// WithMetricsProvider overrides the default noop metrics backend.
func WithMetricsProvider(p metrics.Provider) Option {
	return func(en *Engine) { en.metrics = p }
}

// WithTracer overrides the default disabled tracer.
func WithTracer(t tracing.Tracer) Option { return func(en *Engine) { en.tracer = t } }

// WithLogger overrides the default slog-backed logger.
func WithLogger(l logging.Logger) Option { return func(en *Engine) { en.logger = l } }

// WithConfig seeds the configuration store with cfg instead of
// config.Default().
func WithConfig(cfg *config.RuntimeConfig) Option {
	return func(en *Engine) { en.configStore = config.NewStore(cfg) }
}

// Engine is the top-level facade: one instance per running process.
type Engine struct {
	startedAt time.Time
	running   atomic.Bool

	configStore *config.Store

	sync         *sync.Engine
	registry     *pipeline.Registry
	orchestrator *pipeline.Orchestrator
	distribution *distribution.Manager

	connMu     sync.RWMutex
	connectors map[string]connectors.Connector

	adapterMu sync.RWMutex
	adapters  map[string]ingest.Adapter

	metrics    metrics.Provider
	tracer     tracing.Tracer
	logger     logging.Logger
	healthEval *health.Evaluator
}

// New builds an Engine from the given options, applying sane defaults for
// anything not supplied.
func New(opts ...Option) *Engine {
	en := &Engine{
		connectors: make(map[string]connectors.Connector),
		adapters:   make(map[string]ingest.Adapter),
	}
	for _, opt := range opts {
		opt(en)
	}
	if en.configStore == nil {
		en.configStore = config.NewStore(nil)
	}
	cfg := en.configStore.Current()

	if en.metrics == nil {
		en.metrics = metrics.NewNoopProvider()
	}
	if en.tracer == nil {
		en.tracer = tracing.NewTracer(false)
	}
	if en.logger == nil {
		en.logger = logging.New(nil)
	}

	if en.sync == nil {
		en.sync = sync.NewEngine(sync.NewBufferAligner(), sync.Config{
			Tolerance:      cfg.Sync.Tolerance,
			BufferSpec:     stream.Config{Capacity: cfg.Sync.BufferCapacity},
			SyncQueueDepth: cfg.Sync.SyncQueueDepth,
			Metrics:        en.metrics,
			Tracer:         en.tracer,
			Logger:         en.logger,
		})
	}
	if en.distribution == nil {
		en.distribution = distribution.NewManager(nil,
			distribution.WithMetrics(en.metrics), distribution.WithTracer(en.tracer), distribution.WithLogger(en.logger))
	}
	if en.registry == nil {
		en.registry = pipeline.NewRegistry()
	}
	if en.orchestrator == nil {
		en.orchestrator = pipeline.NewOrchestrator(en.registry,
			pipeline.WithMetrics(en.metrics), pipeline.WithTracer(en.tracer), pipeline.WithLogger(en.logger))
	}
	if en.healthEval == nil {
		en.healthEval = health.NewEvaluator(cfg.Telemetry.Health.ProbeTTL, en.healthProbes()...)
	}
	return en
}

// Start marks the engine as running and starts the sync engine's
// background cadence worker. Idempotent.
func (e *Engine) Start() {
	if !e.running.CompareAndSwap(false, true) {
		return
	}
	e.startedAt = time.Now()
	e.sync.Start()
}

// Stop stops the sync engine's background worker and every registered
// connector and ingest adapter. Idempotent.
func (e *Engine) Stop() {
	if !e.running.CompareAndSwap(true, false) {
		return
	}
	e.sync.Stop()

	e.connMu.RLock()
	conns := make([]connectors.Connector, 0, len(e.connectors))
	for _, c := range e.connectors {
		conns = append(conns, c)
	}
	e.connMu.RUnlock()
	for _, c := range conns {
		_ = c.Disconnect()
	}

	e.adapterMu.RLock()
	adapters := make([]ingest.Adapter, 0, len(e.adapters))
	for _, a := range e.adapters {
		adapters = append(adapters, a)
	}
	e.adapterMu.RUnlock()
	for _, a := range adapters {
		_ = a.Stop()
	}
}

// Sync returns the stream synchronization subsystem.
func (e *Engine) Sync() *sync.Engine { return e.sync }

// Distribution returns the distribution session manager.
func (e *Engine) Distribution() *distribution.Manager { return e.distribution }

// Registry returns the pipeline registry.
func (e *Engine) Registry() *pipeline.Registry { return e.registry }

// Orchestrator returns the pipeline orchestrator.
func (e *Engine) Orchestrator() *pipeline.Orchestrator { return e.orchestrator }

// Config returns the active configuration store.
func (e *Engine) Config() *config.Store { return e.configStore }

// Metrics returns the configured metrics backend.
func (e *Engine) Metrics() metrics.Provider { return e.metrics }

// Logger returns the correlated logger.
func (e *Engine) Logger() logging.Logger { return e.logger }

// MetricsHandler returns the HTTP handler exposing the metrics backend's
// scrape endpoint, or nil if the backend doesn't expose one (e.g. the
// noop provider, or an OTEL provider relying on a push exporter instead).
func (e *Engine) MetricsHandler() http.Handler {
	if e == nil || e.metrics == nil {
		return nil
	}
	if hp, ok := e.metrics.(interface{ MetricsHandler() http.Handler }); ok {
		return hp.MetricsHandler()
	}
	return nil
}

// RegisterConnector adds a connector under id, so distribution and API
// handlers can look it up by id.
func (e *Engine) RegisterConnector(id string, c connectors.Connector) {
	e.connMu.Lock()
	defer e.connMu.Unlock()
	e.connectors[id] = c
}

// Connector looks up a previously registered connector.
func (e *Engine) Connector(id string) (connectors.Connector, bool) {
	e.connMu.RLock()
	defer e.connMu.RUnlock()
	c, ok := e.connectors[id]
	return c, ok
}

// Connectors returns every registered connector id.
func (e *Engine) Connectors() []string {
	e.connMu.RLock()
	defer e.connMu.RUnlock()
	ids := make([]string, 0, len(e.connectors))
	for id := range e.connectors {
		ids = append(ids, id)
	}
	return ids
}

// RegisterAdapter adds an ingest adapter under id.
func (e *Engine) RegisterAdapter(id string, a ingest.Adapter) {
	e.adapterMu.Lock()
	defer e.adapterMu.Unlock()
	e.adapters[id] = a
}

// Adapter looks up a previously registered ingest adapter.
func (e *Engine) Adapter(id string) (ingest.Adapter, bool) {
	e.adapterMu.RLock()
	defer e.adapterMu.RUnlock()
	a, ok := e.adapters[id]
	return a, ok
}

// HealthSnapshot evaluates every registered probe and returns the rolled
// up result, cached per the active telemetry policy's ProbeTTL.
func (e *Engine) HealthSnapshot(ctx context.Context) health.Snapshot {
	return e.healthEval.Evaluate(ctx)
}

// healthProbes builds the default probe set: sync engine liveness and
// per-connector connectivity.
func (e *Engine) healthProbes() []health.ProbeFunc {
	syncProbe := health.ProbeFunc(func(ctx context.Context) health.ProbeResult {
		if e.sync == nil {
			return health.Unhealthy("sync", "engine not initialized")
		}
		return health.Healthy("sync")
	})
	connectorProbe := health.ProbeFunc(func(ctx context.Context) health.ProbeResult {
		e.connMu.RLock()
		defer e.connMu.RUnlock()
		var down int
		for _, c := range e.connectors {
			if !c.IsConnected() {
				down++
			}
		}
		if down == 0 {
			return health.Healthy("connectors")
		}
		if down < len(e.connectors) {
			return health.Degraded("connectors", fmt.Sprintf("%d of %d connectors disconnected", down, len(e.connectors)))
		}
		return health.Unhealthy("connectors", "all connectors disconnected")
	})
	return []health.ProbeFunc{syncProbe, connectorProbe}
}
