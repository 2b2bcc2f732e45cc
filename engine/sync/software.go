package sync

import (
	"sync"
	"time"

	"github.com/99souls/synopticon/engine/models"
)

const softwareBaseConfidence = 0.8

type softwareState struct {
	offset     float64 // microseconds, server reference - client clock at last sync
	drift      float64 // microseconds per microsecond elapsed
	lastSyncAt int64   // monotonic microseconds of the last UpdateClockSync call
	synced     bool    // false until the first UpdateClockSync call
}

// SoftwareAligner tracks a per-source clock-sync offset and drift that the
// ingestion layer updates out of band via UpdateClockSync (e.g. from NTP-like
// round trips), then extrapolates it forward by elapsed wall time at every
// alignment pass. Sources that have never called UpdateClockSync fall back
// to identity alignment with reduced confidence.
type SoftwareAligner struct {
	mu    sync.Mutex
	state map[string]*softwareState
}

// NewSoftwareAligner constructs an empty SoftwareAligner.
func NewSoftwareAligner() *SoftwareAligner {
	return &SoftwareAligner{state: make(map[string]*softwareState)}
}

// UpdateClockSync records a fresh (serverTime, clientTime) pair for
// sourceID, both monotonic microseconds. offset is recomputed as
// serverTime-clientTime; from the second call on, drift is recomputed as
// the change in offset divided by the microseconds elapsed since the
// previous call (nowMicros minus the last sync time).
func (a *SoftwareAligner) UpdateClockSync(sourceID string, serverTime, clientTime, nowMicros int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.state[sourceID]
	if !ok {
		st = &softwareState{}
		a.state[sourceID] = st
	}
	newOffset := float64(serverTime - clientTime)
	if st.synced {
		elapsed := float64(nowMicros - st.lastSyncAt)
		if elapsed > 0 {
			st.drift = (newOffset - st.offset) / elapsed
		}
	}
	st.offset = newOffset
	st.lastSyncAt = nowMicros
	st.synced = true
}

func (a *SoftwareAligner) AlignSource(sourceID string, candidate models.Sample, targetTS int64, tolerance time.Duration, nowMicros int64) (models.AlignedSource, bool) {
	a.mu.Lock()
	st, ok := a.state[sourceID]
	var offset, drift float64
	confidence := softwareBaseConfidence
	if ok && st.synced {
		elapsed := float64(nowMicros - st.lastSyncAt)
		offset = st.offset + elapsed*st.drift
		drift = st.drift
	} else {
		confidence = 0.3 // never synced: identity alignment, low confidence
	}
	a.mu.Unlock()

	aligned := candidate.CaptureTimestamp - int64(offset)
	if tolerance > 0 && absI64(candidate.CaptureTimestamp-targetTS) > tolerance.Microseconds() {
		return models.AlignedSource{}, false
	}
	return models.AlignedSource{
		Sample:        candidate,
		Offset:        candidate.CaptureTimestamp - aligned,
		DriftEstimate: drift,
		Confidence:    confidence,
	}, true
}

func (a *SoftwareAligner) Quality() models.SyncMetrics {
	return models.SyncMetrics{Quality: softwareBaseConfidence}
}
