package pipeline

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/99souls/synopticon/engine/models"
	"github.com/99souls/synopticon/engine/telemetry/metrics"
)

type scriptedPipeline struct {
	calls   int
	results []any
	errs    []error
}

func (p *scriptedPipeline) Process(ctx context.Context, input any) (any, error) {
	i := p.calls
	p.calls++
	var err error
	if i < len(p.errs) {
		err = p.errs[i]
	}
	var result any
	if i < len(p.results) {
		result = p.results[i]
	}
	return result, err
}

func setupOrchestrator(t *testing.T, name string, meta models.PipelineMetadata, impl Pipeline) (*Registry, *Orchestrator) {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, r.Register(name, func(map[string]any) (Pipeline, error) { return impl, nil }, meta))
	require.NoError(t, r.Create(name, name, nil))
	return r, NewOrchestrator(r)
}

func TestFindPipelinesRequiresCapabilitySuperset(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("a", echoFactory, models.PipelineMetadata{Capabilities: []string{"x", "y"}, Priority: 2}))
	require.NoError(t, r.Register("b", echoFactory, models.PipelineMetadata{Capabilities: []string{"x"}, Priority: 1}))
	o := NewOrchestrator(r)

	found := o.FindPipelines(models.PipelineRequirements{Capabilities: []string{"x", "y"}})
	require.Len(t, found, 1)
	require.Equal(t, "a", found[0].Name)
}

func TestExecuteOneSucceedsWithoutRetry(t *testing.T) {
	r, o := setupOrchestrator(t, "p", models.PipelineMetadata{}, &scriptedPipeline{results: []any{"ok"}})
	result, err := o.ExecuteOne(context.Background(), "p", "p", nil, models.ExecuteOptions{})
	require.NoError(t, err)
	require.Equal(t, "ok", result)

	stats, ok := r.stats("p")
	require.True(t, ok)
	require.Equal(t, uint64(1), stats.SuccessCount)
}

func TestExecuteOneRetriesUntilSuccess(t *testing.T) {
	impl := &scriptedPipeline{
		errs:    []error{models.NewTransportError("x", "down", nil), models.NewTransportError("x", "down", nil), nil},
		results: []any{nil, nil, "ok"},
	}
	r, o := setupOrchestrator(t, "p", models.PipelineMetadata{}, impl)

	result, err := o.ExecuteOne(context.Background(), "p", "p", nil, models.ExecuteOptions{
		Retry: &models.RetryPolicy{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, BackoffMultiplier: 2},
	})
	require.NoError(t, err)
	require.Equal(t, "ok", result)
	require.Equal(t, 3, impl.calls)

	stats, ok := r.stats("p")
	require.True(t, ok)
	require.Equal(t, uint64(1), stats.SuccessCount)
}

func TestExecuteOneDoesNotRetryPermanentErrors(t *testing.T) {
	impl := &scriptedPipeline{errs: []error{models.NewPermanentError("x", "denied", nil)}}
	_, o := setupOrchestrator(t, "p", models.PipelineMetadata{}, impl)

	_, err := o.ExecuteOne(context.Background(), "p", "p", nil, models.ExecuteOptions{
		Retry: &models.RetryPolicy{MaxRetries: 3, InitialDelay: time.Millisecond},
	})
	require.Error(t, err)
	require.Equal(t, 1, impl.calls)
}

func TestExecuteFallbackSkipsFailuresAndReturnsFirstSuccess(t *testing.T) {
	r := NewRegistry()
	failA := &scriptedPipeline{errs: []error{models.NewPermanentError("a", "nope", nil)}}
	failB := &scriptedPipeline{errs: []error{models.NewPermanentError("b", "nope", nil)}}
	okC := &scriptedPipeline{results: []any{map[string]int{"ok": 1}}}

	require.NoError(t, r.Register("a", func(map[string]any) (Pipeline, error) { return failA, nil }, models.PipelineMetadata{Capabilities: []string{"x"}, Priority: 10}))
	require.NoError(t, r.Register("b", func(map[string]any) (Pipeline, error) { return failB, nil }, models.PipelineMetadata{Capabilities: []string{"x"}, Priority: 5}))
	require.NoError(t, r.Register("c", func(map[string]any) (Pipeline, error) { return okC, nil }, models.PipelineMetadata{Capabilities: []string{"x"}, Priority: 1}))
	require.NoError(t, r.Create("a", "a", nil))
	require.NoError(t, r.Create("b", "b", nil))
	require.NoError(t, r.Create("c", "c", nil))

	o := NewOrchestrator(r)
	result, err := o.Execute(context.Background(), models.PipelineRequirements{Capabilities: []string{"x"}},
		map[string]string{"a": "a", "b": "b", "c": "c"}, nil, models.ExecuteOptions{Strategy: models.StrategyFallback})
	require.NoError(t, err)
	require.Equal(t, map[string]int{"ok": 1}, result)

	statsA, _ := r.stats("a")
	statsB, _ := r.stats("b")
	require.Equal(t, uint64(1), statsA.FailureCount)
	require.Equal(t, uint64(1), statsB.FailureCount)
}

func TestExecuteParallelReturnsFirstSuccessAndCancelsRest(t *testing.T) {
	r := NewRegistry()
	fast := &scriptedPipeline{results: []any{"fast"}}
	slow := &slowPipeline{delay: 200 * time.Millisecond}

	require.NoError(t, r.Register("fast", func(map[string]any) (Pipeline, error) { return fast, nil }, models.PipelineMetadata{Capabilities: []string{"x"}}))
	require.NoError(t, r.Register("slow", func(map[string]any) (Pipeline, error) { return slow, nil }, models.PipelineMetadata{Capabilities: []string{"x"}}))
	require.NoError(t, r.Create("fast", "fast", nil))
	require.NoError(t, r.Create("slow", "slow", nil))

	o := NewOrchestrator(r)
	result, err := o.Execute(context.Background(), models.PipelineRequirements{Capabilities: []string{"x"}},
		map[string]string{"fast": "fast", "slow": "slow"}, nil, models.ExecuteOptions{Strategy: models.StrategyParallel, MaxConcurrent: 2})
	require.NoError(t, err)
	require.Equal(t, "fast", result)
}

type slowPipeline struct{ delay time.Duration }

func (p *slowPipeline) Process(ctx context.Context, input any) (any, error) {
	select {
	case <-time.After(p.delay):
		return "slow", nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestExecuteOneRecordsMetricsByOutcome(t *testing.T) {
	reg := prom.NewRegistry()
	provider := metrics.NewPrometheusProvider(metrics.PrometheusProviderOptions{Registry: reg})

	r := NewRegistry()
	fails := &scriptedPipeline{errs: []error{models.NewPermanentError("p", "nope", nil)}}
	require.NoError(t, r.Register("p", func(map[string]any) (Pipeline, error) { return fails, nil }, models.PipelineMetadata{}))
	require.NoError(t, r.Create("p", "p", nil))

	o := NewOrchestrator(r, WithMetrics(provider))
	_, err := o.ExecuteOne(context.Background(), "p", "p", nil, models.ExecuteOptions{})
	require.Error(t, err)

	rec := httptest.NewRecorder()
	provider.MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Contains(t, rec.Body.String(), "synopticon_pipeline_executions_total")
}
