package ingest

import (
	"time"

	"github.com/99souls/synopticon/engine/models"
)

// GazeDevice is the minimal contract an eye tracker driver must satisfy.
// Confidence follows the higher-is-better convention (0 = unusable).
type GazeDevice interface {
	Capture() (x, y, pupilDiameter float64, eyeOpen bool, confidence float64, err error)
}

// EyeTracker polls a GazeDevice at a fixed rate and emits StreamGaze samples.
type EyeTracker struct {
	*Base
}

// NewEyeTracker constructs an EyeTracker. screenID is stamped onto every
// emitted GazePayload; it may be empty when the device doesn't distinguish
// screens.
func NewEyeTracker(sourceID string, dev GazeDevice, sink Sink, rate time.Duration, clock Clock, onError ErrorHandler, screenID string) *EyeTracker {
	capture := func(seq uint64, now int64) (any, int64, *float64, error) {
		x, y, pupil, open, confidence, err := dev.Capture()
		if err != nil {
			return nil, 0, nil, err
		}
		c := confidence
		payload := models.GazePayload{X: x, Y: y, PupilDia: pupil, EyeOpen: open, ScreenID: screenID}
		return payload, 0, &c, nil
	}
	return &EyeTracker{Base: NewBase(sourceID, models.StreamGaze, sink, rate, clock, capture, onError)}
}
