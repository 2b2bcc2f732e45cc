package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/99souls/synopticon/engine/models"
)

func sampleAt(seq uint64, captureTS int64) models.Sample {
	return models.Sample{
		SourceID:         "gaze-1",
		Kind:             models.StreamGaze,
		CaptureTimestamp: captureTS,
		IngestTimestamp:  captureTS,
		SequenceNumber:   seq,
	}
}

func TestBufferMonotonicityAndClosest(t *testing.T) {
	b := New(Config{Capacity: 100, Window: time.Hour})

	for i, ts := range []int64{1000, 2000, 3000, 4000, 5000} {
		_, err := b.Add(sampleAt(uint64(i), ts))
		require.NoError(t, err)
	}

	latest := b.GetLatest(5)
	require.Len(t, latest, 5)
	for i := 1; i < len(latest); i++ {
		require.LessOrEqual(t, latest[i-1].CaptureTimestamp, latest[i].CaptureTimestamp)
	}

	got, ok := b.GetClosest(3100, time.Second)
	require.True(t, ok)
	require.Equal(t, int64(3000), got.CaptureTimestamp)
}

func TestBufferGetClosestTieBreaksOnLowerSequence(t *testing.T) {
	b := New(Config{Capacity: 100, Window: time.Hour, Slack: 500})
	_, err := b.Add(sampleAt(5, 1000))
	require.NoError(t, err)
	_, err = b.Add(sampleAt(1, 1000)) // same ts, lower sequence
	require.NoError(t, err)

	got, ok := b.GetClosest(1000, time.Second)
	require.True(t, ok)
	require.Equal(t, uint64(1), got.SequenceNumber)
}

func TestBufferEvictionBoundByCapacity(t *testing.T) {
	b := New(Config{Capacity: 3, Window: time.Hour})
	for i, ts := range []int64{1000, 2000, 3000, 4000, 5000} {
		_, err := b.Add(sampleAt(uint64(i), ts))
		require.NoError(t, err)
	}
	st := b.Stats()
	require.Equal(t, 3, st.Count)
	require.Equal(t, uint64(2), st.OverflowCount)
	require.Equal(t, int64(3000), st.OldestTS)
	require.Equal(t, int64(5000), st.NewestTS)
}

func TestBufferEvictionBoundByWindow(t *testing.T) {
	b := New(Config{Capacity: 1000, Window: 2 * time.Millisecond})
	_, err := b.Add(sampleAt(0, 0))
	require.NoError(t, err)
	_, err = b.Add(sampleAt(1, 1000)) // 1ms later, still within window
	require.NoError(t, err)
	_, err = b.Add(sampleAt(2, 5000)) // 5ms later, evicts ts=0
	require.NoError(t, err)

	st := b.Stats()
	require.LessOrEqual(t, st.NewestTS-st.OldestTS, int64(2000))
}

func TestBufferAddRejectsOutOfOrderBeyondSlack(t *testing.T) {
	b := New(Config{Capacity: 10, Window: time.Hour, Slack: 0})
	_, err := b.Add(sampleAt(0, 5000))
	require.NoError(t, err)

	_, err = b.Add(sampleAt(1, 4000))
	require.Error(t, err)
	kind, ok := models.KindOf(err)
	require.True(t, ok)
	require.Equal(t, models.KindValidation, kind)
}

func TestBufferGetRange(t *testing.T) {
	b := New(Config{Capacity: 100, Window: time.Hour})
	for i, ts := range []int64{1000, 2000, 3000, 4000, 5000} {
		_, err := b.Add(sampleAt(uint64(i), ts))
		require.NoError(t, err)
	}
	r := b.GetRange(2000, 4000)
	require.Len(t, r, 3)
	require.Equal(t, int64(2000), r[0].CaptureTimestamp)
	require.Equal(t, int64(4000), r[2].CaptureTimestamp)
}

func TestBufferGetClosestNoneWithinTolerance(t *testing.T) {
	b := New(Config{Capacity: 10, Window: time.Hour})
	_, err := b.Add(sampleAt(0, 1000))
	require.NoError(t, err)
	_, ok := b.GetClosest(100000, time.Millisecond)
	require.False(t, ok)
}
