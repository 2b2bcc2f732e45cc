package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/99souls/synopticon/engine/models"
	"github.com/99souls/synopticon/engine/telemetry/logging"
	"github.com/99souls/synopticon/engine/telemetry/metrics"
	"github.com/99souls/synopticon/engine/telemetry/tracing"
)

const defaultExecuteTimeout = 30 * time.Second

// Scored pairs a registered pipeline name with find_pipelines' composite
// score (spec.md §4.6: priority*0.5 + success_rate*0.3 + (1/avg_time)*0.2).
type Scored struct {
	Name  string
	Score float64
}

// Orchestrator selects and runs pipelines registered in reg.
type Orchestrator struct {
	reg *Registry

	executions metrics.Counter
	duration   metrics.Histogram
	tracer     tracing.Tracer
	logger     logging.Logger
}

// OrchestratorOption configures optional instrumentation on an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithMetrics wires a metrics.Provider into the orchestrator, instrumenting
// every ExecuteOne call with an outcome-labeled execution counter and a
// duration histogram. A nil provider installs the noop backend.
func WithMetrics(p metrics.Provider) OrchestratorOption {
	if p == nil {
		p = metrics.NewNoopProvider()
	}
	return func(o *Orchestrator) {
		o.executions = p.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "synopticon", Subsystem: "pipeline", Name: "executions_total",
			Help: "Pipeline executions by outcome.", Labels: []string{"outcome"},
		}})
		o.duration = p.NewHistogram(metrics.HistogramOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "synopticon", Subsystem: "pipeline", Name: "execution_duration_seconds",
			Help: "Pipeline execution duration in seconds.",
		}})
	}
}

// WithTracer wires a tracing.Tracer into the orchestrator. A nil tracer
// installs a disabled tracer.
func WithTracer(t tracing.Tracer) OrchestratorOption {
	if t == nil {
		t = tracing.NewTracer(false)
	}
	return func(o *Orchestrator) { o.tracer = t }
}

// WithLogger wires a logging.Logger into the orchestrator. A nil logger
// installs the default slog-backed logger.
func WithLogger(l logging.Logger) OrchestratorOption {
	if l == nil {
		l = logging.New(nil)
	}
	return func(o *Orchestrator) { o.logger = l }
}

func NewOrchestrator(reg *Registry, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{reg: reg}
	for _, opt := range opts {
		opt(o)
	}
	if o.executions == nil {
		WithMetrics(nil)(o)
	}
	if o.tracer == nil {
		WithTracer(nil)(o)
	}
	if o.logger == nil {
		WithLogger(nil)(o)
	}
	return o
}

func hasAllCapabilities(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, c := range have {
		set[c] = true
	}
	for _, w := range want {
		if !set[w] {
			return false
		}
	}
	return true
}

// FindPipelines returns every registered pipeline whose capability set is a
// superset of requirements.Capabilities, scored and sorted best-first.
func (o *Orchestrator) FindPipelines(requirements models.PipelineRequirements) []Scored {
	o.reg.mu.RLock()
	candidates := make([]*registration, 0, len(o.reg.byName))
	for _, reg := range o.reg.byName {
		if hasAllCapabilities(reg.metadata.Capabilities, requirements.Capabilities) {
			candidates = append(candidates, reg)
		}
	}
	o.reg.mu.RUnlock()

	out := make([]Scored, 0, len(candidates))
	for _, reg := range candidates {
		reg.mu.Lock()
		stats := reg.stats
		reg.mu.Unlock()
		out = append(out, Scored{Name: reg.name, Score: score(reg.metadata.Priority, stats)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func score(priority float64, stats models.PipelineStats) float64 {
	speed := 0.0
	if stats.AvgExecutionTime > 0 {
		speed = 1.0 / stats.AvgExecutionTime.Seconds()
	}
	return priority*0.5 + stats.SuccessRate()*0.3 + speed*0.2
}

// ExecuteOne runs one Process call under the options' timeout and retry
// policy, folding the outcome into the registry's running stats.
func (o *Orchestrator) ExecuteOne(ctx context.Context, name, instanceID string, input any, opts models.ExecuteOptions) (any, error) {
	ctx, span := o.tracer.StartSpan(ctx, "pipeline.execute_one")
	defer span.End()
	span.SetAttribute("pipeline", name)
	span.SetAttribute("instance", instanceID)

	p, err := o.reg.instance(name, instanceID)
	if err != nil {
		o.executions.Inc(1, "not_found")
		return nil, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultExecuteTimeout
	}

	attempts := 1
	var retry *models.RetryPolicy
	if opts.Retry != nil {
		retry = opts.Retry
		attempts = retry.MaxRetries + 1
	}

	start := time.Now()
	var lastErr error
	made := 0
	for attempt := 0; attempt < attempts; attempt++ {
		made++
		runCtx, cancel := context.WithTimeout(ctx, timeout)
		result, err := p.Process(runCtx, input)
		cancel()
		if err == nil {
			elapsed := time.Since(start)
			o.reg.observe(name, elapsed, true)
			o.executions.Inc(1, "success")
			o.duration.Observe(elapsed.Seconds())
			return result, nil
		}
		lastErr = err
		if !shouldRetry(retry, err) || attempt == attempts-1 {
			break
		}
		delay := retryDelay(retry, attempt)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			lastErr = ctx.Err()
			attempt = attempts
		case <-timer.C:
		}
	}

	elapsed := time.Since(start)
	o.reg.observe(name, elapsed, false)
	o.executions.Inc(1, "failure")
	o.duration.Observe(elapsed.Seconds())
	span.SetAttribute("error", true)
	o.logger.ErrorCtx(ctx, "pipeline execution failed",
		"pipeline", name, "instance", instanceID, "attempts", made, "error", lastErr)
	return nil, models.NewPermanentError("pipeline.Orchestrator.ExecuteOne",
		fmt.Sprintf("pipeline %q failed after %d attempt(s)", name, made), lastErr)
}

func shouldRetry(policy *models.RetryPolicy, err error) bool {
	if policy == nil {
		return false
	}
	if policy.ShouldRetry != nil {
		return policy.ShouldRetry(err)
	}
	return models.Retryable(err)
}

func retryDelay(policy *models.RetryPolicy, attempt int) time.Duration {
	if policy == nil {
		return 0
	}
	base := policy.InitialDelay
	max := policy.MaxDelay
	mult := policy.BackoffMultiplier
	if mult <= 0 {
		mult = 2
	}
	d := float64(base)
	for i := 0; i < attempt; i++ {
		d *= mult
	}
	delay := time.Duration(d)
	if max > 0 && delay > max {
		delay = max
	}
	return delay
}

// candidateInstance is one (name, instanceID) pair eligible for
// requirements-based dispatch; tests and callers populate this by creating
// instances under predictable ids (e.g. the registered name itself).
type candidateInstance struct {
	Name       string
	InstanceID string
}

// Execute dispatches across every live instance matching requirements
// according to opts.Strategy: first, fallback, or parallel.
func (o *Orchestrator) Execute(ctx context.Context, requirements models.PipelineRequirements, instances map[string]string, input any, opts models.ExecuteOptions) (any, error) {
	scored := o.FindPipelines(requirements)
	var ordered []candidateInstance
	for _, s := range scored {
		if instanceID, ok := instances[s.Name]; ok {
			ordered = append(ordered, candidateInstance{Name: s.Name, InstanceID: instanceID})
		}
	}
	if len(ordered) == 0 {
		return nil, models.NewNotFoundError("pipeline.Orchestrator.Execute", "no pipeline instance matches the requested capabilities")
	}

	switch opts.Strategy {
	case models.StrategyFallback:
		return o.executeFallback(ctx, ordered, input, opts)
	case models.StrategyParallel:
		return o.executeParallel(ctx, ordered, input, opts)
	default:
		first := ordered[0]
		return o.ExecuteOne(ctx, first.Name, first.InstanceID, input, opts)
	}
}

func (o *Orchestrator) executeFallback(ctx context.Context, ordered []candidateInstance, input any, opts models.ExecuteOptions) (any, error) {
	var errs []string
	for _, c := range ordered {
		result, err := o.ExecuteOne(ctx, c.Name, c.InstanceID, input, opts)
		if err == nil {
			return result, nil
		}
		errs = append(errs, fmt.Sprintf("%s: %v", c.Name, err))
	}
	return nil, models.NewPermanentError("pipeline.Orchestrator.executeFallback",
		"every candidate pipeline failed: "+strings.Join(errs, "; "), nil)
}

func (o *Orchestrator) executeParallel(ctx context.Context, ordered []candidateInstance, input any, opts models.ExecuteOptions) (any, error) {
	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent <= 0 || maxConcurrent > len(ordered) {
		maxConcurrent = len(ordered)
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		result any
		err    error
	}
	results := make(chan outcome, maxConcurrent)
	var wg sync.WaitGroup
	for _, c := range ordered[:maxConcurrent] {
		wg.Add(1)
		go func(c candidateInstance) {
			defer wg.Done()
			result, err := o.ExecuteOne(runCtx, c.Name, c.InstanceID, input, opts)
			select {
			case results <- outcome{result: result, err: err}:
			case <-runCtx.Done():
			}
		}(c)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var lastErr error
	for res := range results {
		if res.err == nil {
			cancel()
			return res.result, nil
		}
		lastErr = res.err
	}
	return nil, models.NewPermanentError("pipeline.Orchestrator.executeParallel", "every dispatched pipeline failed", lastErr)
}
