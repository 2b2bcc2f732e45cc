package sync

import (
	"sync"
	"time"

	"github.com/99souls/synopticon/engine/models"
)

// hardwareHistory caps how many offset observations are retained per source;
// drift is fit over only the most recent driftWindow of them.
const (
	hardwareHistory   = 100
	hardwareDriftWin  = 10
	hardwareConfidence = 0.95
)

// HardwareAligner assumes sources share a hardware clock domain with a slow,
// roughly linear drift. It fits that drift per source from the trailing
// history of observed (candidate.CaptureTimestamp - targetTS) offsets and
// subtracts the fitted value from the candidate's own capture time.
type HardwareAligner struct {
	mu    sync.Mutex
	state map[string][]float64 // sourceID -> offset history, oldest first
}

// NewHardwareAligner constructs an empty HardwareAligner.
func NewHardwareAligner() *HardwareAligner {
	return &HardwareAligner{state: make(map[string][]float64)}
}

func (a *HardwareAligner) AlignSource(sourceID string, candidate models.Sample, targetTS int64, tolerance time.Duration, nowMicros int64) (models.AlignedSource, bool) {
	a.mu.Lock()
	offset := float64(candidate.CaptureTimestamp - targetTS)
	hist := append(a.state[sourceID], offset)
	if len(hist) > hardwareHistory {
		hist = hist[len(hist)-hardwareHistory:]
	}
	a.state[sourceID] = hist
	drift := linregExtrapolate(hist, hardwareDriftWin)
	a.mu.Unlock()

	if tolerance > 0 && absI64(candidate.CaptureTimestamp-targetTS) > tolerance.Microseconds() {
		return models.AlignedSource{}, false
	}
	aligned := candidate.CaptureTimestamp - int64(drift)
	return models.AlignedSource{
		Sample:        candidate,
		Offset:        candidate.CaptureTimestamp - aligned,
		DriftEstimate: drift,
		Confidence:    hardwareConfidence,
	}, true
}

func (a *HardwareAligner) Quality() models.SyncMetrics {
	return models.SyncMetrics{Quality: hardwareConfidence}
}
