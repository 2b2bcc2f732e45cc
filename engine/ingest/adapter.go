package ingest

import "context"

// Adapter is the lifecycle every sensor adapter exposes, regardless of
// whether it polls a device directly (Camera, EyeTracker, Microphone) or
// derives samples from another adapter's output (FaceDetector,
// TelemetryAdapter).
type Adapter interface {
	SourceID() string
	IsRunning() bool
	Start(ctx context.Context) error
	Stop() error
}
