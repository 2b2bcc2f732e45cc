package ingest

import (
	"time"

	"github.com/99souls/synopticon/engine/models"
)

// CameraDevice is the minimal contract a camera driver must satisfy. A zero
// confidence of 0 is acceptable here: raw frames have no intrinsic quality
// signal, so Camera always reports confidence 1 unless the device errors.
type CameraDevice interface {
	Capture() (data []byte, width, height int, format string, err error)
}

// Camera polls a CameraDevice at a fixed rate and emits StreamFace-adjacent
// raw frames as CameraPayload samples, upstream of face detection.
type Camera struct {
	*Base
}

func NewCamera(sourceID string, dev CameraDevice, sink Sink, rate time.Duration, clock Clock, onError ErrorHandler) *Camera {
	capture := func(seq uint64, now int64) (any, int64, *float64, error) {
		data, w, h, format, err := dev.Capture()
		if err != nil {
			return nil, 0, nil, err
		}
		confidence := 1.0
		payload := models.CameraPayload{Width: w, Height: h, Format: format, Data: data}
		return payload, 0, &confidence, nil
	}
	// Raw frames are registered under StreamFace alongside any derived
	// FaceDetector output; each lives under its own SourceID so
	// downstream consumers distinguish them by payload type, not kind.
	return &Camera{Base: NewBase(sourceID, models.StreamFace, sink, rate, clock, capture, onError)}
}
