package tracing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNoopTracer(t *testing.T) {
	tr := NewTracer(false)
	require.True(t, tr.Noop())
	ctx, sp := tr.StartSpan(context.Background(), "noop")
	require.NotNil(t, ctx)
	require.NotNil(t, sp)
	sp.End()
}

func TestSimpleTracerHierarchy(t *testing.T) {
	tr := NewTracer(true)
	require.False(t, tr.Noop())
	ctx, root := tr.StartSpan(context.Background(), "root")
	require.NotEmpty(t, root.Context().TraceID)
	require.NotEmpty(t, root.Context().SpanID)

	_, child := tr.StartSpan(ctx, "child")
	require.Equal(t, root.Context().TraceID, child.Context().TraceID)
	require.Equal(t, root.Context().SpanID, child.Context().ParentSpanID)

	child.End()
	root.End()
	require.True(t, root.IsEnded())
	require.True(t, child.IsEnded())
	require.False(t, root.Context().End.IsZero())
	require.False(t, child.Context().End.IsZero())
}

func TestSpanTimingOrder(t *testing.T) {
	tr := NewTracer(true)
	_, sp := tr.StartSpan(context.Background(), "timing")
	time.Sleep(5 * time.Millisecond)
	sp.End()
	require.False(t, sp.Context().End.Before(sp.Context().Start))
}

func TestAdaptiveTracerNoopWhenPercentZero(t *testing.T) {
	tr := NewAdaptiveTracer(func() float64 { return 0 })
	require.False(t, tr.Noop())
	_, sp := tr.StartSpan(context.Background(), "sampled")
	require.Empty(t, sp.Context().TraceID)
}

func TestExtractIDsEmptyWithoutSpan(t *testing.T) {
	traceID, spanID := ExtractIDs(context.Background())
	require.Empty(t, traceID)
	require.Empty(t, spanID)
}
