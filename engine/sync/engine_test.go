package sync

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/99souls/synopticon/engine/models"
	"github.com/99souls/synopticon/engine/stream"
)

func TestEngineProcessSampleUnknownSourceIsNotFound(t *testing.T) {
	e := NewEngine(NewBufferAligner(), Config{Tolerance: time.Second})
	err := e.ProcessSample(models.Sample{SourceID: "ghost", CaptureTimestamp: 1})
	require.Error(t, err)
	kind, ok := models.KindOf(err)
	require.True(t, ok)
	require.Equal(t, models.KindNotFound, kind)
}

func TestEngineOnArrivalCadenceDeliversAlignedTuples(t *testing.T) {
	e := NewEngine(NewBufferAligner(), Config{
		Tolerance:  50 * time.Millisecond,
		BufferSpec: stream.Config{Capacity: 100, Window: time.Hour},
		Cadence:    Cadence{Mode: CadenceOnArrival},
	})
	require.NoError(t, e.AddStream("gaze-1", models.StreamGaze))
	require.NoError(t, e.AddStream("face-1", models.StreamFace))

	received := make(chan models.AlignedTuple, 8)
	unsub := e.SubscribeSync(func(tuple models.AlignedTuple) {
		received <- tuple
	})
	defer unsub()

	e.Start()
	defer e.Stop()

	require.NoError(t, e.ProcessSample(models.Sample{SourceID: "gaze-1", CaptureTimestamp: 1_000_000}))
	require.NoError(t, e.ProcessSample(models.Sample{SourceID: "face-1", CaptureTimestamp: 1_000_010}))

	select {
	case tuple := <-received:
		require.NotZero(t, tuple.AlignedTimestamp)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an aligned tuple")
	}
}

func TestEngineSubscribeRawReceivesEverySample(t *testing.T) {
	e := NewEngine(NewBufferAligner(), Config{Tolerance: time.Second})
	require.NoError(t, e.AddStream("gaze-1", models.StreamGaze))

	var mu sync.Mutex
	var got []models.Sample
	unsub := e.Subscribe("gaze-1", func(s models.Sample) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	})
	defer unsub()

	for i := 0; i < 5; i++ {
		require.NoError(t, e.ProcessSample(models.Sample{SourceID: "gaze-1", CaptureTimestamp: int64(i)}))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 5
	}, time.Second, time.Millisecond)
}

func TestEngineMetricsSeededFromAlignerQualityBeforeFirstPass(t *testing.T) {
	e := NewEngine(NewBufferAligner(), Config{Tolerance: time.Second})
	require.Equal(t, NewBufferAligner().Quality(), e.Metrics())
}

func TestEngineLowConfidencePassForcesQualityZero(t *testing.T) {
	e := NewEngine(NewEventDrivenAligner(), Config{
		Tolerance:  50 * time.Millisecond,
		BufferSpec: stream.Config{Capacity: 10, Window: time.Hour},
	})
	require.NoError(t, e.AddStream("gaze-1", models.StreamGaze))
	require.NoError(t, e.ProcessSample(models.Sample{SourceID: "gaze-1", CaptureTimestamp: 1_000_000}))

	// No event has been recorded, so EventDrivenAligner falls back to its
	// documented low-confidence (0.1) identity alignment, below
	// minPassConfidence.
	tuple, err := e.SynchronizeAt(1_000_000)
	require.NoError(t, err)
	require.Less(t, tuple.Confidence, minPassConfidence)
	require.Zero(t, e.Metrics().Quality)
}

func TestEngineRecordsLatencyJitterAndAccuracyPerPass(t *testing.T) {
	e := NewEngine(NewBufferAligner(), Config{
		Tolerance:  50 * time.Millisecond,
		BufferSpec: stream.Config{Capacity: 10, Window: time.Hour},
	})
	require.NoError(t, e.AddStream("gaze-1", models.StreamGaze))
	require.NoError(t, e.AddStream("face-1", models.StreamFace))
	require.NoError(t, e.ProcessSample(models.Sample{SourceID: "gaze-1", CaptureTimestamp: 1_000_000}))
	require.NoError(t, e.ProcessSample(models.Sample{SourceID: "face-1", CaptureTimestamp: 1_000_030}))

	_, err := e.SynchronizeAt(1_000_000)
	require.NoError(t, err)
	first := e.Metrics()
	require.Zero(t, first.JitterMS, "no previous pass yet")
	require.NotZero(t, first.AlignmentAccuracy)

	_, err = e.SynchronizeAt(1_000_000)
	require.NoError(t, err)
	second := e.Metrics()
	require.GreaterOrEqual(t, second.JitterMS, 0.0)
}

func TestEngineStartStopIsIdempotent(t *testing.T) {
	e := NewEngine(NewBufferAligner(), Config{Tolerance: time.Second})
	e.Start()
	e.Start()
	e.Stop()
	e.Stop()
}
