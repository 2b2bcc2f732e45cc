package sync

import (
	"time"

	"github.com/99souls/synopticon/engine/models"
)

// BufferAligner is the default, stateless strategy: a source's confidence is
// simply how close its buffer-selected candidate landed to the pass's target
// timestamp, relative to the configured tolerance. It requires no per-source
// history and makes no assumption about clock domains.
type BufferAligner struct{}

// NewBufferAligner constructs a BufferAligner. It holds no state so a single
// instance may be shared across sync engines.
func NewBufferAligner() *BufferAligner { return &BufferAligner{} }

func (BufferAligner) AlignSource(sourceID string, candidate models.Sample, targetTS int64, tolerance time.Duration, nowMicros int64) (models.AlignedSource, bool) {
	offset := candidate.CaptureTimestamp - targetTS
	tolMicros := tolerance.Microseconds()
	if tolMicros > 0 && absI64(offset) > tolMicros {
		return models.AlignedSource{}, false
	}

	confidence := 1.0
	if tolMicros > 0 {
		confidence = clamp01(1.0 - float64(absI64(offset))/float64(tolMicros))
	}
	return models.AlignedSource{
		Sample:     candidate,
		Offset:     offset,
		Confidence: confidence,
	}, true
}

func (BufferAligner) Quality() models.SyncMetrics {
	return models.SyncMetrics{Quality: 1.0}
}
