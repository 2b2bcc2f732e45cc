// Package sync implements the temporal aligner strategies and the
// multi-stream synchronization engine that sit on top of engine/stream
// buffers (spec.md §4.2, §4.3, C2/C3).
package sync

import (
	"time"

	"github.com/99souls/synopticon/engine/models"
)

// Aligner computes one source's contribution to an aligned tuple at a given
// pass. The engine always resolves candidate via the owning stream.Buffer's
// GetClosest(targetTS, tolerance) before calling AlignSource, so every
// strategy shares the same candidate-selection primitive and differs only in
// how it turns (candidate, targetTS) into an offset, drift and confidence.
//
// AlignSource returns ok=false when the source has nothing to contribute to
// this pass; that is not an error; the source is simply omitted from the
// tuple.
type Aligner interface {
	AlignSource(sourceID string, candidate models.Sample, targetTS int64, tolerance time.Duration, nowMicros int64) (models.AlignedSource, bool)

	// Quality returns this strategy's current (or typical default) metrics,
	// independent of any particular tuple.
	Quality() models.SyncMetrics
}

// linregExtrapolate fits y = a + b*x over the last min(window, len(ys))
// points of ys (x taken as 0..n-1 local index) and returns the fitted value
// at the most recent point, a + b*(n-1). With perfectly linear input this
// reproduces the last observed value; with noisy input it smooths it.
func linregExtrapolate(ys []float64, window int) float64 {
	n := len(ys)
	if n == 0 {
		return 0
	}
	if window > 0 && n > window {
		ys = ys[n-window:]
		n = window
	}
	if n == 1 {
		return ys[0]
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, y := range ys {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	fn := float64(n)
	denom := fn*sumXX - sumX*sumX
	if denom == 0 {
		return ys[n-1]
	}
	b := (fn*sumXY - sumX*sumY) / denom
	a := (sumY - b*sumX) / fn
	return a + b*float64(n-1)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func absI64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
