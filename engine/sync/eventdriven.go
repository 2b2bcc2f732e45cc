package sync

import (
	"sync"
	"time"

	"github.com/99souls/synopticon/engine/models"
)

const (
	eventRetention     = time.Minute
	eventMatchWindow   = 100 * time.Millisecond
	eventNoMatchConfidence = 0.1
)

type recordedEvent struct {
	kind string
	ts   int64
}

// EventDrivenAligner correlates samples against a ring of recently recorded
// discrete events (e.g. simulator state-change markers, button presses)
// rather than against other streams' buffers. RecordEvent feeds the ring;
// AlignSource snaps a candidate to the nearest event within a 100ms window,
// or falls back to a low-confidence identity alignment when none qualifies.
type EventDrivenAligner struct {
	mu     sync.Mutex
	events []recordedEvent
}

// NewEventDrivenAligner constructs an empty EventDrivenAligner.
func NewEventDrivenAligner() *EventDrivenAligner {
	return &EventDrivenAligner{}
}

// RecordEvent appends (kind, timestampMicros) to the ring and prunes entries
// older than eventRetention relative to nowMicros.
func (a *EventDrivenAligner) RecordEvent(kind string, timestampMicros, nowMicros int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, recordedEvent{kind: kind, ts: timestampMicros})
	a.pruneLocked(nowMicros)
}

func (a *EventDrivenAligner) pruneLocked(nowMicros int64) {
	cutoff := nowMicros - eventRetention.Microseconds()
	i := 0
	for ; i < len(a.events); i++ {
		if a.events[i].ts >= cutoff {
			break
		}
	}
	if i > 0 {
		a.events = a.events[i:]
	}
}

func (a *EventDrivenAligner) AlignSource(sourceID string, candidate models.Sample, targetTS int64, tolerance time.Duration, nowMicros int64) (models.AlignedSource, bool) {
	if tolerance > 0 && absI64(candidate.CaptureTimestamp-targetTS) > tolerance.Microseconds() {
		return models.AlignedSource{}, false
	}

	a.mu.Lock()
	a.pruneLocked(nowMicros)
	windowMicros := eventMatchWindow.Microseconds()
	var best recordedEvent
	bestDelta := int64(-1)
	found := false
	for _, ev := range a.events {
		delta := absI64(ev.ts - candidate.CaptureTimestamp)
		if delta > windowMicros {
			continue
		}
		if !found || delta < bestDelta {
			best = ev
			bestDelta = delta
			found = true
		}
	}
	a.mu.Unlock()

	if !found {
		return models.AlignedSource{
			Sample:     candidate,
			Offset:     0,
			Confidence: eventNoMatchConfidence,
		}, true
	}

	confidence := clamp01(1.0 - 0.5*float64(bestDelta)/float64(windowMicros))
	return models.AlignedSource{
		Sample:     candidate,
		Offset:     candidate.CaptureTimestamp - best.ts,
		Confidence: confidence,
	}, true
}

func (a *EventDrivenAligner) Quality() models.SyncMetrics {
	return models.SyncMetrics{Quality: 0.5}
}
