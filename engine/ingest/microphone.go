package ingest

import (
	"math"
	"time"

	"github.com/99souls/synopticon/engine/models"
)

// MicrophoneDevice is the minimal contract an audio capture driver must
// satisfy; one Capture call returns one fixed-size block of PCM samples.
type MicrophoneDevice interface {
	Capture() (pcm []int16, sampleRateHz, channels int, err error)
}

// Microphone polls a MicrophoneDevice at a fixed rate and emits StreamEvent
// samples carrying MicrophonePayload. Confidence tracks RMS loudness scaled
// into [0,1] as a cheap voice-activity signal; callers needing a real VAD
// should post-process downstream of ingest.
type Microphone struct {
	*Base
}

// silenceFloor below this RMS the sample is reported with confidence 0
// (present but treated as unusable, per the ingest confidence convention).
const silenceFloor = 50.0

func NewMicrophone(sourceID string, dev MicrophoneDevice, sink Sink, rate time.Duration, clock Clock, onError ErrorHandler) *Microphone {
	capture := func(seq uint64, now int64) (any, int64, *float64, error) {
		pcm, sr, ch, err := dev.Capture()
		if err != nil {
			return nil, 0, nil, err
		}
		rms := computeRMS(pcm)
		confidence := rms / 32768.0
		if confidence > 1 {
			confidence = 1
		}
		if rms < silenceFloor {
			confidence = 0
		}
		payload := models.MicrophonePayload{SampleRateHz: sr, Channels: ch, PCM: pcm, RMS: rms}
		return payload, 0, &confidence, nil
	}
	return &Microphone{Base: NewBase(sourceID, models.StreamEvent, sink, rate, clock, capture, onError)}
}

func computeRMS(pcm []int16) float64 {
	if len(pcm) == 0 {
		return 0
	}
	var sumSq float64
	for _, s := range pcm {
		v := float64(s)
		sumSq += v * v
	}
	return math.Sqrt(sumSq / float64(len(pcm)))
}
