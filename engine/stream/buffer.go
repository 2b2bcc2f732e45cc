// Package stream provides a bounded, time-ordered sample ring per source
// (spec.md §4.1, C1). It is the primitive the buffer-based aligner and
// range/batch correlation build on.
package stream

import (
	"sort"
	"sync"
	"time"

	"github.com/99souls/synopticon/engine/models"
)

// Clock abstracts time so tests can control ingest timestamps
// deterministically, mirroring the teacher's ratelimit.Clock seam.
type Clock interface {
	NowMicros() int64
}

type systemClock struct{}

func (systemClock) NowMicros() int64 { return time.Now().UnixMicro() }

// Config bounds one Buffer.
type Config struct {
	Capacity int           // max sample count; 0 means unbounded by count
	Window   time.Duration // max age span; 0 means unbounded by window
	Slack    int64         // microseconds of capture_timestamp regression tolerated by Add
	Clock    Clock         // optional; defaults to the system clock
}

// Stats is the observable counters from spec.md §4.1.
type Stats struct {
	Count         int
	OverflowCount uint64
	OldestTS      int64
	NewestTS      int64
}

// Buffer is a bounded, time-ordered ring of Samples for one source.
// Ordered by CaptureTimestamp; oldest evicted first once either capacity or
// window is exceeded. Safe for concurrent use: Add/GetClosest/GetRange/
// GetLatest/Stats may be called from different goroutines.
type Buffer struct {
	mu       sync.Mutex
	cfg      Config
	samples  []models.Sample // ascending by CaptureTimestamp
	overflow uint64
}

// New creates a Buffer with the given bounds.
func New(cfg Config) *Buffer {
	if cfg.Clock == nil {
		cfg.Clock = systemClock{}
	}
	return &Buffer{cfg: cfg}
}

// Add inserts sample, stamping IngestTimestamp if unset, and evicts front
// entries once capacity or window is exceeded. Returns OutOfOrder
// (*models.Error, KindValidation) if CaptureTimestamp regresses beyond the
// configured slack.
func (b *Buffer) Add(s models.Sample) (models.Sample, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s.IngestTimestamp == 0 {
		s.IngestTimestamp = b.cfg.Clock.NowMicros()
	}

	if n := len(b.samples); n > 0 {
		newest := b.samples[n-1].CaptureTimestamp
		if s.CaptureTimestamp < newest-b.cfg.Slack {
			return s, models.NewValidationError("stream.Buffer.Add", "capture_timestamp regressed beyond configured slack")
		}
	}

	// Insert keeping ascending CaptureTimestamp order; slack permits tiny
	// reordering so we can't always append at the tail.
	idx := sort.Search(len(b.samples), func(i int) bool {
		return b.samples[i].CaptureTimestamp > s.CaptureTimestamp
	})
	b.samples = append(b.samples, models.Sample{})
	copy(b.samples[idx+1:], b.samples[idx:])
	b.samples[idx] = s

	b.evictLocked()
	return s, nil
}

func (b *Buffer) evictLocked() {
	if len(b.samples) == 0 {
		return
	}
	newest := b.samples[len(b.samples)-1].CaptureTimestamp
	for len(b.samples) > 0 {
		front := b.samples[0]
		overCapacity := b.cfg.Capacity > 0 && len(b.samples) > b.cfg.Capacity
		overWindow := b.cfg.Window > 0 && newest-front.CaptureTimestamp > b.cfg.Window.Microseconds()
		if !overCapacity && !overWindow {
			break
		}
		b.samples = b.samples[1:]
		b.overflow++
	}
}

// GetClosest returns the sample with minimum |CaptureTimestamp-targetTS|
// subject to <= tolerance, ties broken by lower SequenceNumber. Returns
// ok=false if nothing qualifies.
func (b *Buffer) GetClosest(targetTS int64, tolerance time.Duration) (models.Sample, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.samples) == 0 {
		return models.Sample{}, false
	}
	tolMicros := tolerance.Microseconds()
	if tolerance < 0 {
		tolMicros = int64(^uint64(0) >> 1) // effectively infinite
	}

	// Binary search for insertion point, then scan outward — samples are
	// sorted by CaptureTimestamp so the closest candidates are adjacent.
	idx := sort.Search(len(b.samples), func(i int) bool {
		return b.samples[i].CaptureTimestamp >= targetTS
	})

	var best models.Sample
	bestDelta := int64(-1)
	found := false
	consider := func(i int) {
		if i < 0 || i >= len(b.samples) {
			return
		}
		s := b.samples[i]
		delta := absInt64(s.CaptureTimestamp - targetTS)
		if delta > tolMicros {
			return
		}
		if !found || delta < bestDelta || (delta == bestDelta && s.SequenceNumber < best.SequenceNumber) {
			best = s
			bestDelta = delta
			found = true
		}
	}
	consider(idx - 1)
	consider(idx)
	consider(idx + 1)
	return best, found
}

// GetRange returns samples with CaptureTimestamp in [startTS, endTS],
// oldest first.
func (b *Buffer) GetRange(startTS, endTS int64) []models.Sample {
	b.mu.Lock()
	defer b.mu.Unlock()

	lo := sort.Search(len(b.samples), func(i int) bool {
		return b.samples[i].CaptureTimestamp >= startTS
	})
	hi := sort.Search(len(b.samples), func(i int) bool {
		return b.samples[i].CaptureTimestamp > endTS
	})
	if lo >= hi {
		return nil
	}
	out := make([]models.Sample, hi-lo)
	copy(out, b.samples[lo:hi])
	return out
}

// GetLatest returns the most recent n samples, newest last.
func (b *Buffer) GetLatest(n int) []models.Sample {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n <= 0 || len(b.samples) == 0 {
		return nil
	}
	if n > len(b.samples) {
		n = len(b.samples)
	}
	out := make([]models.Sample, n)
	copy(out, b.samples[len(b.samples)-n:])
	return out
}

// Stats returns a snapshot of the buffer's observable counters.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := Stats{Count: len(b.samples), OverflowCount: b.overflow}
	if len(b.samples) > 0 {
		st.OldestTS = b.samples[0].CaptureTimestamp
		st.NewestTS = b.samples[len(b.samples)-1].CaptureTimestamp
	}
	return st
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
