package sync

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/99souls/synopticon/engine/models"
)

func TestEventDrivenAlignerMatchesWithinWindow(t *testing.T) {
	a := NewEventDrivenAligner()
	a.RecordEvent("brake_press", 1_000_050, 1_000_050)

	out, ok := a.AlignSource("telemetry-1", models.Sample{CaptureTimestamp: 1_000_000}, 1_000_000, 0, 1_000_100)
	require.True(t, ok)
	require.Equal(t, int64(-50), out.Offset)
	require.Greater(t, out.Confidence, eventNoMatchConfidence)
}

func TestEventDrivenAlignerFallsBackToIdentityWithoutMatch(t *testing.T) {
	a := NewEventDrivenAligner()
	out, ok := a.AlignSource("telemetry-1", models.Sample{CaptureTimestamp: 1_000_000}, 1_000_000, 0, 1_000_000)
	require.True(t, ok)
	require.Equal(t, int64(0), out.Offset)
	require.InDelta(t, eventNoMatchConfidence, out.Confidence, 1e-9)
}

func TestEventDrivenAlignerPrunesOldEvents(t *testing.T) {
	a := NewEventDrivenAligner()
	a.RecordEvent("old", 0, 0)
	// advance far enough that the event is outside the 1-minute retention
	a.RecordEvent("new", 70_000_000, 70_000_000)

	out, ok := a.AlignSource("telemetry-1", models.Sample{CaptureTimestamp: 0}, 0, 0, 70_000_000)
	require.True(t, ok)
	require.InDelta(t, eventNoMatchConfidence, out.Confidence, 1e-9)
}
