package sync

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/99souls/synopticon/engine/models"
	"github.com/99souls/synopticon/engine/stream"
	"github.com/99souls/synopticon/engine/telemetry/logging"
	"github.com/99souls/synopticon/engine/telemetry/metrics"
	"github.com/99souls/synopticon/engine/telemetry/tracing"
)

// systemClock is the wall-clock Clock used when Config.Clock is unset,
// mirroring stream's own unexported default.
type systemClock struct{}

func (systemClock) NowMicros() int64 { return time.Now().UnixMicro() }

// CadenceMode selects when Engine automatically triggers SynchronizeAt.
type CadenceMode string

const (
	// CadenceOnArrival triggers a pass on every ProcessSample once >= 2
	// streams are registered, targeted at the arriving sample's capture
	// timestamp.
	CadenceOnArrival CadenceMode = "on_arrival"
	// CadenceFixed triggers a pass on a fixed wall-clock interval,
	// independent of arrival rate.
	CadenceFixed CadenceMode = "fixed"
)

// minPassConfidence is spec.md §4.3's failure threshold: a pass whose
// overall confidence falls below this still emits an AlignedTuple, but its
// Quality is forced to 0 rather than computed from jitter/latency/drops.
const minPassConfidence = 0.3

// Cadence configures when Engine.Start's background worker issues automatic
// synchronization passes (spec.md §9 Open Question, resolved in
// SPEC_FULL.md: both are supported, selected per Config).
type Cadence struct {
	Mode     CadenceMode
	Interval time.Duration // used only when Mode == CadenceFixed
}

// Config parameterizes one Engine.
type Config struct {
	Tolerance  time.Duration
	BufferSpec stream.Config // template applied to every AddStream buffer
	Cadence    Cadence
	Clock      stream.Clock
	// SyncQueueDepth bounds the backlog of pending automatic synchronize
	// requests; excess requests are dropped (counted in SyncMetrics.DroppedSamples).
	SyncQueueDepth int

	// Metrics, Tracer and Logger default to noop/disabled implementations
	// when left unset, so Engine is usable without a telemetry stack wired
	// up (e.g. in tests).
	Metrics metrics.Provider
	Tracer  tracing.Tracer
	Logger  logging.Logger
}

type rawSub struct {
	sourceID string // "" subscribes to every source
	ch       chan models.Sample
	dropped  uint64
}

type tupleSub struct {
	ch      chan models.AlignedTuple
	dropped uint64
}

// Engine owns one Buffer per registered stream source plus the Aligner
// strategy used to fuse them into AlignedTuples. Safe for concurrent use:
// ProcessSample may be called from multiple producer goroutines; subscriber
// callbacks always run on dedicated goroutines, never on the calling
// producer's goroutine (spec.md §5 concurrency contract).
type Engine struct {
	mu      sync.RWMutex
	cfg     Config
	aligner Aligner
	clock   stream.Clock

	buffers map[string]*stream.Buffer
	kinds   map[string]models.StreamKind

	subMu     sync.Mutex
	rawSubs   []*rawSub
	tupleSubs []*tupleSub
	subWG     sync.WaitGroup

	metricsMu    sync.Mutex
	metrics      models.SyncMetrics
	startedAt    time.Time
	prevLatency  float64
	havePrevPass bool

	syncReq chan int64
	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	passes     metrics.Counter
	qualityGg  metrics.Gauge
	latencyObs metrics.Histogram
	tracer     tracing.Tracer
	logger     logging.Logger
}

// NewEngine constructs an Engine. aligner selects the alignment strategy
// (NewBufferAligner, NewHardwareAligner, NewSoftwareAligner or
// NewEventDrivenAligner).
func NewEngine(aligner Aligner, cfg Config) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = systemClock{}
	}
	if cfg.SyncQueueDepth <= 0 {
		cfg.SyncQueueDepth = 64
	}
	provider := cfg.Metrics
	if provider == nil {
		provider = metrics.NewNoopProvider()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = tracing.NewTracer(false)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.New(nil)
	}

	return &Engine{
		cfg: cfg,
		// seed with the strategy's typical-default metrics (spec.md §4.2) so
		// Metrics() reports something meaningful before the first real pass.
		metrics: aligner.Quality(),
		aligner: aligner,
		clock:   cfg.Clock,
		buffers: make(map[string]*stream.Buffer),
		kinds:   make(map[string]models.StreamKind),
		syncReq: make(chan int64, cfg.SyncQueueDepth),

		passes: provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "synopticon", Subsystem: "sync", Name: "passes_total",
			Help: "Alignment passes completed, by outcome.", Labels: []string{"outcome"},
		}}),
		qualityGg: provider.NewGauge(metrics.GaugeOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "synopticon", Subsystem: "sync", Name: "quality",
			Help: "Most recent alignment pass's quality score in [0,1].",
		}}),
		latencyObs: provider.NewHistogram(metrics.HistogramOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "synopticon", Subsystem: "sync", Name: "latency_ms",
			Help: "Alignment pass latency in milliseconds.",
		}}),
		tracer: tracer,
		logger: logger,
	}
}

// AddStream registers a new source. Returns a ValidationError if sourceID is
// already registered.
func (e *Engine) AddStream(sourceID string, kind models.StreamKind) error {
	if !kind.Valid() {
		return models.NewValidationError("sync.Engine.AddStream", "unknown stream kind")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.buffers[sourceID]; exists {
		return models.NewValidationError("sync.Engine.AddStream", "source already registered: "+sourceID)
	}
	bufCfg := e.cfg.BufferSpec
	e.buffers[sourceID] = stream.New(bufCfg)
	e.kinds[sourceID] = kind
	return nil
}

// RemoveStream unregisters sourceID. Returns a NotFoundError if it was never
// registered.
func (e *Engine) RemoveStream(sourceID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.buffers[sourceID]; !exists {
		return models.NewNotFoundError("sync.Engine.RemoveStream", "source not registered: "+sourceID)
	}
	delete(e.buffers, sourceID)
	delete(e.kinds, sourceID)
	return nil
}

// StreamCount returns how many sources are currently registered.
func (e *Engine) StreamCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.buffers)
}

// ProcessSample adds s to its source's buffer and fans it out to raw
// subscribers. If the engine is running, >= 2 streams are registered, and
// Cadence.Mode is CadenceOnArrival, it also enqueues an automatic
// synchronization pass targeted at s.CaptureTimestamp — performed entirely
// on the background worker goroutine, never inline here.
func (e *Engine) ProcessSample(s models.Sample) error {
	e.mu.RLock()
	buf, exists := e.buffers[s.SourceID]
	streamCount := len(e.buffers)
	e.mu.RUnlock()
	if !exists {
		return models.NewNotFoundError("sync.Engine.ProcessSample", "source not registered: "+s.SourceID)
	}

	if _, err := buf.Add(s); err != nil {
		return err
	}
	e.publishRaw(s)

	if e.running.Load() && e.cfg.Cadence.Mode == CadenceOnArrival && streamCount >= 2 {
		select {
		case e.syncReq <- s.CaptureTimestamp:
		default:
			e.metricsMu.Lock()
			e.metrics.DroppedSamples++
			e.metricsMu.Unlock()
		}
	}
	return nil
}

// SynchronizeAt performs one alignment pass: for every registered source, it
// resolves a candidate sample via that source's buffer GetClosest(targetTS,
// tolerance), then delegates to the Aligner. Sources that have no qualifying
// candidate are omitted. It can be called directly by a consumer, or is
// invoked automatically by the background worker per Cadence.
func (e *Engine) SynchronizeAt(targetTS int64) (models.AlignedTuple, error) {
	_, span := e.tracer.StartSpan(context.Background(), "sync.synchronize_at")
	defer span.End()
	span.SetAttribute("target_timestamp", targetTS)

	e.mu.RLock()
	sources := make(map[string]*stream.Buffer, len(e.buffers))
	for id, b := range e.buffers {
		sources[id] = b
	}
	e.mu.RUnlock()

	if len(sources) == 0 {
		e.passes.Inc(1, "no_streams")
		return models.AlignedTuple{}, models.NewValidationError("sync.Engine.SynchronizeAt", "no streams registered")
	}

	now := e.clock.NowMicros()
	tuple := models.AlignedTuple{
		AlignedTimestamp: targetTS,
		Sources:          make(map[string]models.AlignedSource, len(sources)),
	}

	var confSum float64
	for sourceID, buf := range sources {
		candidate, ok := buf.GetClosest(targetTS, e.cfg.Tolerance)
		if !ok {
			continue
		}
		aligned, ok := e.aligner.AlignSource(sourceID, candidate, targetTS, e.cfg.Tolerance, now)
		if !ok {
			continue
		}
		tuple.Sources[sourceID] = aligned
		confSum += aligned.Confidence
	}

	if len(tuple.Sources) == 0 {
		e.passes.Inc(1, "no_candidate")
		return models.AlignedTuple{}, models.NewNotFoundError("sync.Engine.SynchronizeAt", "no source had a candidate within tolerance")
	}
	tuple.Confidence = confSum / float64(len(tuple.Sources))
	span.SetAttribute("source_count", len(tuple.Sources))
	span.SetAttribute("confidence", tuple.Confidence)

	var offsetSum float64
	for _, src := range tuple.Sources {
		o := src.Offset
		if o < 0 {
			o = -o
		}
		offsetSum += float64(o)
	}
	accuracyMS := offsetSum / float64(len(tuple.Sources)) / 1000.0
	latencyUS := now - targetTS
	if latencyUS < 0 {
		latencyUS = -latencyUS
	}
	latencyMS := float64(latencyUS) / 1000.0

	e.recordPassMetrics(now, tuple.Confidence, latencyMS, accuracyMS)
	e.latencyObs.Observe(latencyMS)
	e.qualityGg.Set(e.Metrics().Quality)
	if tuple.Confidence < minPassConfidence {
		e.passes.Inc(1, "low_confidence")
		e.logger.ErrorCtx(context.Background(), "alignment pass below minimum confidence",
			"target_timestamp", targetTS, "confidence", tuple.Confidence)
	} else {
		e.passes.Inc(1, "ok")
	}
	e.publishTuple(tuple)
	return tuple, nil
}

// recordPassMetrics folds one pass's measurements into the running
// SyncMetrics. jitter is the change in latency since the previous pass
// (spec.md has no fixed jitter window, so consecutive-pass variation is
// the simplest faithful measure). A pass whose overall confidence falls
// below minPassConfidence still updates latency/jitter/accuracy but forces
// Quality to 0 per spec.md §4.3's failure semantics.
func (e *Engine) recordPassMetrics(nowMicros int64, confidence, latencyMS, accuracyMS float64) {
	e.metricsMu.Lock()
	defer e.metricsMu.Unlock()
	if !e.startedAt.IsZero() {
		e.metrics.ElapsedSinceStart = time.Since(e.startedAt)
	}

	jitterMS := 0.0
	if e.havePrevPass {
		jitterMS = latencyMS - e.prevLatency
		if jitterMS < 0 {
			jitterMS = -jitterMS
		}
	}
	e.prevLatency = latencyMS
	e.havePrevPass = true

	e.metrics.LatencyMS = latencyMS
	e.metrics.JitterMS = jitterMS
	e.metrics.AlignmentAccuracy = accuracyMS

	if confidence < minPassConfidence {
		e.metrics.Quality = 0
	} else {
		e.metrics.Quality = models.ComputeQuality(e.metrics.JitterMS, e.metrics.LatencyMS, e.metrics.DroppedSamples)
	}
	e.metrics.UpdatedAt = time.UnixMicro(nowMicros)
}

// Metrics returns a snapshot of the engine's running SyncMetrics.
func (e *Engine) Metrics() models.SyncMetrics {
	e.metricsMu.Lock()
	defer e.metricsMu.Unlock()
	return e.metrics
}

// Subscribe registers fn to receive every raw Sample added for sourceID (or
// every source, if sourceID is ""). fn runs on a dedicated goroutine; if
// that goroutine falls behind, further samples are dropped for it (counted,
// never blocking the producer). The returned func unsubscribes.
func (e *Engine) Subscribe(sourceID string, fn func(models.Sample)) func() {
	sub := &rawSub{sourceID: sourceID, ch: make(chan models.Sample, 32)}
	e.subMu.Lock()
	e.rawSubs = append(e.rawSubs, sub)
	e.subMu.Unlock()

	e.subWG.Add(1)
	go func() {
		defer e.subWG.Done()
		for s := range sub.ch {
			fn(s)
		}
	}()

	return func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		for i, s := range e.rawSubs {
			if s == sub {
				e.rawSubs = append(e.rawSubs[:i], e.rawSubs[i+1:]...)
				close(sub.ch)
				break
			}
		}
	}
}

// SubscribeSync registers fn to receive every AlignedTuple produced by
// SynchronizeAt, with the same off-producer-thread, skip-when-slow semantics
// as Subscribe.
func (e *Engine) SubscribeSync(fn func(models.AlignedTuple)) func() {
	sub := &tupleSub{ch: make(chan models.AlignedTuple, 32)}
	e.subMu.Lock()
	e.tupleSubs = append(e.tupleSubs, sub)
	e.subMu.Unlock()

	e.subWG.Add(1)
	go func() {
		defer e.subWG.Done()
		for t := range sub.ch {
			fn(t)
		}
	}()

	return func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		for i, s := range e.tupleSubs {
			if s == sub {
				e.tupleSubs = append(e.tupleSubs[:i], e.tupleSubs[i+1:]...)
				close(sub.ch)
				break
			}
		}
	}
}

func (e *Engine) publishRaw(s models.Sample) {
	e.subMu.Lock()
	subs := e.rawSubs
	e.subMu.Unlock()
	for _, sub := range subs {
		if sub.sourceID != "" && sub.sourceID != s.SourceID {
			continue
		}
		select {
		case sub.ch <- s:
		default:
			atomic.AddUint64(&sub.dropped, 1)
		}
	}
}

func (e *Engine) publishTuple(t models.AlignedTuple) {
	e.subMu.Lock()
	subs := e.tupleSubs
	e.subMu.Unlock()
	for _, sub := range subs {
		select {
		case sub.ch <- t:
		default:
			atomic.AddUint64(&sub.dropped, 1)
		}
	}
}

// Start launches the background synchronization worker (and, in
// CadenceFixed mode, the ticker that drives it). Safe to call once; a
// second call is a no-op.
func (e *Engine) Start() {
	if !e.running.CompareAndSwap(false, true) {
		return
	}
	e.startedAt = time.Now()
	e.stopCh = make(chan struct{})
	e.logger.InfoCtx(context.Background(), "sync engine started", "cadence_mode", string(e.cfg.Cadence.Mode))

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-e.stopCh:
				return
			case targetTS := <-e.syncReq:
				_, _ = e.SynchronizeAt(targetTS)
			}
		}
	}()

	if e.cfg.Cadence.Mode == CadenceFixed && e.cfg.Cadence.Interval > 0 {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			ticker := time.NewTicker(e.cfg.Cadence.Interval)
			defer ticker.Stop()
			for {
				select {
				case <-e.stopCh:
					return
				case <-ticker.C:
					select {
					case e.syncReq <- e.clock.NowMicros():
					default:
						e.metricsMu.Lock()
						e.metrics.DroppedSamples++
						e.metricsMu.Unlock()
					}
				}
			}
		}()
	}
}

// Stop halts the background worker(s) and blocks until they exit. It does
// not close subscriber channels; call the Subscribe/SubscribeSync
// unsubscribe funcs for that.
func (e *Engine) Stop() {
	if !e.running.CompareAndSwap(true, false) {
		return
	}
	close(e.stopCh)
	e.wg.Wait()
	e.logger.InfoCtx(context.Background(), "sync engine stopped")
}
