package resources

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecorderPersistsEventsAsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.jsonl")
	r, err := NewRecorder(path, Config{CacheCapacity: 10, FlushInterval: 10 * time.Millisecond})
	require.NoError(t, err)

	r.Record(Event{Event: "stream_update", Timestamp: 1000, Source: "cam-1", Payload: map[string]any{"x": 1}})
	r.Record(Event{Event: "stream_update", Timestamp: 2000, Source: "cam-1", Payload: map[string]any{"x": 2}})

	require.NoError(t, r.Stop())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var lines int
	for scanner.Scan() {
		lines++
		require.Contains(t, scanner.Text(), `"event":"stream_update"`)
	}
	require.Equal(t, 2, lines)
}

func TestRecorderSinceFiltersAndOrdersByTimestamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.jsonl")
	r, err := NewRecorder(path, Config{CacheCapacity: 10})
	require.NoError(t, err)
	defer r.Stop()

	r.Record(Event{Timestamp: 1000, Source: "a"})
	r.Record(Event{Timestamp: 3000, Source: "b"})
	r.Record(Event{Timestamp: 2000, Source: "c"})

	got := r.Since(1000, 0)
	require.Len(t, got, 2)
	require.Equal(t, "c", got[0].Source)
	require.Equal(t, "b", got[1].Source)
}

func TestRecorderSinceRespectsLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.jsonl")
	r, err := NewRecorder(path, Config{CacheCapacity: 10})
	require.NoError(t, err)
	defer r.Stop()

	for i := int64(0); i < 5; i++ {
		r.Record(Event{Timestamp: i * 1000, Source: "s"})
	}

	got := r.Since(-1, 2)
	require.Len(t, got, 2)
}

func TestRecorderCacheEvictsBeyondCapacity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.jsonl")
	r, err := NewRecorder(path, Config{CacheCapacity: 2})
	require.NoError(t, err)
	defer r.Stop()

	r.Record(Event{Timestamp: 1, Source: "a"})
	r.Record(Event{Timestamp: 2, Source: "b"})
	r.Record(Event{Timestamp: 3, Source: "c"})

	got := r.Since(-1, 0)
	require.Len(t, got, 2)
	require.Equal(t, "b", got[0].Source)
	require.Equal(t, "c", got[1].Source)
}

func TestRecorderStopIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.jsonl")
	r, err := NewRecorder(path, Config{})
	require.NoError(t, err)
	require.NoError(t, r.Stop())
	require.NoError(t, r.Stop())
}
