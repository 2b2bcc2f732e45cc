package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/99souls/synopticon/engine/models"
	"github.com/99souls/synopticon/engine/stream"
)

func TestBufferAlignerTwoStreamScenario(t *testing.T) {
	e := NewEngine(NewBufferAligner(), Config{
		Tolerance:  50 * time.Millisecond,
		BufferSpec: stream.Config{Capacity: 100, Window: time.Hour},
	})
	require.NoError(t, e.AddStream("gaze-1", models.StreamGaze))
	require.NoError(t, e.AddStream("face-1", models.StreamFace))

	require.NoError(t, e.ProcessSample(models.Sample{
		SourceID: "gaze-1", Kind: models.StreamGaze, CaptureTimestamp: 1_000_000,
	}))
	require.NoError(t, e.ProcessSample(models.Sample{
		SourceID: "face-1", Kind: models.StreamFace, CaptureTimestamp: 1_030_000,
	}))

	tuple, err := e.SynchronizeAt(1_000_000)
	require.NoError(t, err)
	require.Len(t, tuple.Sources, 2)

	gaze := tuple.Sources["gaze-1"]
	face := tuple.Sources["face-1"]
	require.Equal(t, int64(0), gaze.Offset)
	require.InDelta(t, 1.0, gaze.Confidence, 1e-9)
	require.Equal(t, int64(30_000), face.Offset)
	require.InDelta(t, 0.4, face.Confidence, 1e-9)
}

func TestEngineSynchronizeAtOmitsOutOfTolerance(t *testing.T) {
	e := NewEngine(NewBufferAligner(), Config{
		Tolerance:  10 * time.Millisecond,
		BufferSpec: stream.Config{Capacity: 100, Window: time.Hour},
	})
	require.NoError(t, e.AddStream("gaze-1", models.StreamGaze))
	require.NoError(t, e.AddStream("face-1", models.StreamFace))

	require.NoError(t, e.ProcessSample(models.Sample{SourceID: "gaze-1", CaptureTimestamp: 0}))
	require.NoError(t, e.ProcessSample(models.Sample{SourceID: "face-1", CaptureTimestamp: 500_000}))

	tuple, err := e.SynchronizeAt(0)
	require.NoError(t, err)
	require.Len(t, tuple.Sources, 1)
	_, hasFace := tuple.Sources["face-1"]
	require.False(t, hasFace)
}

func TestEngineSynchronizeAtNoCandidatesIsNotFound(t *testing.T) {
	e := NewEngine(NewBufferAligner(), Config{
		Tolerance:  time.Millisecond,
		BufferSpec: stream.Config{Capacity: 10, Window: time.Hour},
	})
	require.NoError(t, e.AddStream("gaze-1", models.StreamGaze))

	_, err := e.SynchronizeAt(100)
	require.Error(t, err)
	kind, ok := models.KindOf(err)
	require.True(t, ok)
	require.Equal(t, models.KindNotFound, kind)
}

func TestEngineAddStreamRejectsDuplicate(t *testing.T) {
	e := NewEngine(NewBufferAligner(), Config{Tolerance: time.Second})
	require.NoError(t, e.AddStream("a", models.StreamGaze))
	err := e.AddStream("a", models.StreamGaze)
	require.Error(t, err)
	kind, ok := models.KindOf(err)
	require.True(t, ok)
	require.Equal(t, models.KindValidation, kind)
}

func TestEngineRemoveStreamUnknownIsNotFound(t *testing.T) {
	e := NewEngine(NewBufferAligner(), Config{Tolerance: time.Second})
	err := e.RemoveStream("missing")
	require.Error(t, err)
	kind, ok := models.KindOf(err)
	require.True(t, ok)
	require.Equal(t, models.KindNotFound, kind)
}
