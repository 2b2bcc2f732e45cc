package models

import "time"

// AlignedTuple is one set of Samples from distinct sources mapped to a
// common reference timestamp by a sync.Aligner.
type AlignedTuple struct {
	AlignedTimestamp int64                    `json:"aligned_timestamp"`
	Confidence       float64                  `json:"confidence"`
	Sources          map[string]AlignedSource `json:"sources"`
}

// AlignedSource carries one participating source's contribution to an
// AlignedTuple. Invariant: |Sample.CaptureTimestamp - AlignedTimestamp| of
// the owning tuple is <= the tolerance that produced it, or the source is
// omitted entirely from Sources.
type AlignedSource struct {
	Sample        Sample  `json:"sample"`
	Offset        int64   `json:"offset"`         // original minus aligned, microseconds
	DriftEstimate float64 `json:"drift_estimate"` // hardware: fitted clock offset, microseconds; software: microseconds per elapsed microsecond
	Confidence    float64 `json:"confidence"`
}

// SyncMetrics is the quality snapshot mutated only by sync.Engine on
// completion of each alignment pass.
type SyncMetrics struct {
	Quality           float64       `json:"quality"` // in [0,1]
	LatencyMS         float64       `json:"latency_ms"`
	JitterMS          float64       `json:"jitter_ms"`
	DroppedSamples    uint64        `json:"dropped_samples"`
	AlignmentAccuracy float64       `json:"alignment_accuracy_ms"`
	UpdatedAt         time.Time     `json:"updated_at"`
	ElapsedSinceStart time.Duration `json:"elapsed_since_start"`
}

// ComputeQuality implements the formula from spec.md §3:
//
//	quality = max(0, 1 - min(jitter/100,0.3) - min(dropped/1000,0.4) - min(latency/1000,0.2))
func ComputeQuality(jitterMS, latencyMS float64, dropped uint64) float64 {
	q := 1.0
	q -= minF(jitterMS/100.0, 0.3)
	q -= minF(float64(dropped)/1000.0, 0.4)
	q -= minF(latencyMS/1000.0, 0.2)
	if q < 0 {
		q = 0
	}
	return q
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
