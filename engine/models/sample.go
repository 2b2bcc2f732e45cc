// Package models holds the data shapes shared across every synopticon
// subsystem: samples, aligned tuples, distribution and pipeline metadata.
// Types here are deliberately dependency-free so every other engine package
// can import them without cycles.
package models

// StreamKind is a closed enumeration of sensor stream types. Unlike the
// opaque Payload field, Kind is always typed so the sync engine and
// distributors can make routing decisions without peeking into payloads.
type StreamKind string

const (
	StreamGaze      StreamKind = "gaze"
	StreamFace      StreamKind = "face"
	StreamTelemetry StreamKind = "telemetry"
	StreamEvent     StreamKind = "event"
)

// Valid reports whether k is one of the closed set of stream kinds.
func (k StreamKind) Valid() bool {
	switch k {
	case StreamGaze, StreamFace, StreamTelemetry, StreamEvent:
		return true
	default:
		return false
	}
}

// Sample is the atomic stream element produced by any sensor or feed.
//
// Invariants (enforced by stream.Buffer, not by this type itself):
// within one SourceID, SequenceNumber is strictly increasing and
// CaptureTimestamp is non-decreasing.
type Sample struct {
	SourceID         string     `json:"source_id"`
	Kind             StreamKind `json:"stream_kind"`
	CaptureTimestamp int64      `json:"capture_timestamp"` // monotonic microseconds, producer clock
	IngestTimestamp  int64      `json:"ingest_timestamp"`  // monotonic microseconds, assigned on arrival
	Payload          any        `json:"payload"`
	Confidence       *float64   `json:"confidence,omitempty"` // nil means absent, else in [0,1]
	SequenceNumber   uint64     `json:"sequence_number"`
}

// HasConfidence reports whether Confidence was set by the producer.
func (s Sample) HasConfidence() bool { return s.Confidence != nil }

// ConfidenceOr returns Confidence if present, else the supplied default.
func (s Sample) ConfidenceOr(def float64) float64 {
	if s.Confidence == nil {
		return def
	}
	return *s.Confidence
}

// GazePayload is the canonical payload shape for StreamGaze samples.
type GazePayload struct {
	X, Y       float64 `json:"x"`
	PupilDia   float64 `json:"pupil_diameter,omitempty"`
	EyeOpen    bool    `json:"eye_open"`
	ScreenID   string  `json:"screen_id,omitempty"`
}

// FacePayload is the canonical payload shape for StreamFace samples.
type FacePayload struct {
	Faces []FaceDetection `json:"faces"`
}

// FaceDetection is one detected face within a FacePayload frame.
type FaceDetection struct {
	BoundingBox [4]float64        `json:"bounding_box"` // x, y, w, h
	Landmarks   [][2]float64      `json:"landmarks,omitempty"`
	Expressions map[string]float64 `json:"expressions,omitempty"`
}

// EventPayload is the canonical payload shape for StreamEvent samples,
// consumed by the event-driven aligner.
type EventPayload struct {
	EventKind string         `json:"event_kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// CameraPayload is the canonical payload for a raw camera frame sample,
// upstream of face detection.
type CameraPayload struct {
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Format  string `json:"format"` // e.g. "rgb24", "jpeg"
	Data    []byte `json:"data"`
}

// MicrophonePayload is the canonical payload for one audio capture sample.
type MicrophonePayload struct {
	SampleRateHz int       `json:"sample_rate_hz"`
	Channels     int       `json:"channels"`
	PCM          []int16   `json:"pcm"`
	RMS          float64   `json:"rms"` // loudness, convenience for downstream filters
}
