package ingest

import (
	"context"
	"sync"

	"github.com/99souls/synopticon/engine/models"
)

// SampleSource is the minimal subscription contract a derived adapter needs
// from an upstream producer. *sync.Engine satisfies this directly.
type SampleSource interface {
	Subscribe(sourceID string, fn func(models.Sample)) func()
}

// Detector runs face detection over one raw camera frame.
type Detector interface {
	Detect(frame models.CameraPayload) (faces []models.FaceDetection, confidence float64, err error)
}

// FaceDetector is a derived adapter: rather than polling a device on its own
// cadence, it subscribes to an upstream Camera source's CameraPayload
// samples and emits StreamFace detections under its own SourceID, inheriting
// the originating frame's capture timestamp so alignment stays correct.
type FaceDetector struct {
	sourceID string
	camera   string
	source   SampleSource
	detector Detector
	sink     Sink
	clock    Clock
	onError  ErrorHandler

	mu          sync.Mutex
	running     bool
	unsubscribe func()
	seq         uint64
}

func NewFaceDetector(sourceID, cameraSourceID string, source SampleSource, detector Detector, sink Sink, clock Clock, onError ErrorHandler) *FaceDetector {
	if clock == nil {
		clock = systemClock{}
	}
	return &FaceDetector{sourceID: sourceID, camera: cameraSourceID, source: source, detector: detector, sink: sink, clock: clock, onError: onError}
}

func (a *FaceDetector) SourceID() string        { return a.sourceID }
func (a *FaceDetector) Kind() models.StreamKind { return models.StreamFace }

func (a *FaceDetector) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

func (a *FaceDetector) Start(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return nil
	}
	a.unsubscribe = a.source.Subscribe(a.camera, a.onFrame)
	a.running = true
	return nil
}

func (a *FaceDetector) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return nil
	}
	a.unsubscribe()
	a.unsubscribe = nil
	a.running = false
	return nil
}

func (a *FaceDetector) onFrame(s models.Sample) {
	frame, ok := s.Payload.(models.CameraPayload)
	if !ok {
		return
	}
	faces, confidence, err := a.detector.Detect(frame)
	if err != nil {
		if a.onError != nil {
			a.onError(a.sourceID, err)
		}
		return
	}
	a.mu.Lock()
	a.seq++
	seq := a.seq
	a.mu.Unlock()

	c := confidence
	sample := models.Sample{
		SourceID:         a.sourceID,
		Kind:             models.StreamFace,
		CaptureTimestamp: s.CaptureTimestamp,
		IngestTimestamp:  a.clock.NowMicros(),
		Payload:          models.FacePayload{Faces: faces},
		Confidence:       &c,
		SequenceNumber:   seq,
	}
	if err := a.sink.ProcessSample(sample); err != nil && a.onError != nil {
		a.onError(a.sourceID, err)
	}
}
