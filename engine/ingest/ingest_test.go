package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/99souls/synopticon/engine/models"
)

type fakeSink struct {
	mu      sync.Mutex
	samples []models.Sample
}

func (s *fakeSink) ProcessSample(sample models.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, sample)
	return nil
}

func (s *fakeSink) all() []models.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Sample, len(s.samples))
	copy(out, s.samples)
	return out
}

func waitForSamples(t *testing.T, sink *fakeSink, n int, within time.Duration) []models.Sample {
	t.Helper()
	require.Eventually(t, func() bool { return len(sink.all()) >= n }, within, time.Millisecond)
	return sink.all()
}

func TestBaseEmitsSamplesAndAssignsSequence(t *testing.T) {
	sink := &fakeSink{}
	capture := func(seq uint64, now int64) (any, int64, *float64, error) {
		return seq, 0, nil, nil
	}
	b := NewBase("dev-1", models.StreamEvent, sink, time.Millisecond, nil, capture, nil)
	require.NoError(t, b.Start(context.Background()))
	defer b.Stop()

	samples := waitForSamples(t, sink, 3, time.Second)
	require.GreaterOrEqual(t, len(samples), 3)
	require.Equal(t, uint64(0), samples[0].SequenceNumber)
	require.Equal(t, uint64(1), samples[1].SequenceNumber)
	require.True(t, samples[0].IngestTimestamp > 0)
}

func TestBaseStartIsIdempotentAndStopWaits(t *testing.T) {
	sink := &fakeSink{}
	capture := func(seq uint64, now int64) (any, int64, *float64, error) { return nil, 0, nil, nil }
	b := NewBase("dev-1", models.StreamEvent, sink, time.Millisecond, nil, capture, nil)
	require.NoError(t, b.Start(context.Background()))
	require.NoError(t, b.Start(context.Background())) // no-op
	require.True(t, b.IsRunning())
	require.NoError(t, b.Stop())
	require.False(t, b.IsRunning())
	require.NoError(t, b.Stop()) // idempotent
}

func TestBaseCaptureErrorsDoNotStopTheLoop(t *testing.T) {
	sink := &fakeSink{}
	capture := func(seq uint64, now int64) (any, int64, *float64, error) {
		if seq == 0 {
			return nil, 0, nil, errors.New("device busy")
		}
		return "ok", 0, nil, nil
	}
	var errs []string
	var mu sync.Mutex
	onError := func(sourceID string, err error) {
		mu.Lock()
		defer mu.Unlock()
		errs = append(errs, err.Error())
	}
	b := NewBase("dev-1", models.StreamEvent, sink, time.Millisecond, nil, capture, onError)
	require.NoError(t, b.Start(context.Background()))
	defer b.Stop()

	waitForSamples(t, sink, 1, time.Second)
	mu.Lock()
	require.NotEmpty(t, errs)
	mu.Unlock()
}

type scriptedGaze struct{}

func (scriptedGaze) Capture() (x, y, pupil float64, eyeOpen bool, confidence float64, err error) {
	return 0.5, 0.5, 3.2, true, 0.9, nil
}

func TestEyeTrackerEmitsGazePayload(t *testing.T) {
	sink := &fakeSink{}
	et := NewEyeTracker("gaze-1", scriptedGaze{}, sink, time.Millisecond, nil, nil, "main")
	require.NoError(t, et.Start(context.Background()))
	defer et.Stop()

	samples := waitForSamples(t, sink, 1, time.Second)
	gaze, ok := samples[0].Payload.(models.GazePayload)
	require.True(t, ok)
	require.Equal(t, "main", gaze.ScreenID)
	require.True(t, gaze.EyeOpen)
	require.Equal(t, 0.9, *samples[0].Confidence)
}

type scriptedCamera struct{}

func (scriptedCamera) Capture() (data []byte, width, height int, format string, err error) {
	return []byte{1, 2, 3}, 640, 480, "rgb24", nil
}

type scriptedDetector struct{}

func (scriptedDetector) Detect(frame models.CameraPayload) ([]models.FaceDetection, float64, error) {
	return []models.FaceDetection{{BoundingBox: [4]float64{0, 0, 100, 100}}}, 0.8, nil
}

// fakeEngine is a minimal stand-in for sync.Engine: it both accepts pushed
// samples (Sink) and lets a derived adapter subscribe to one source's
// samples (SampleSource), so Camera -> FaceDetector can be wired exactly as
// they would be against the real engine.
type fakeEngine struct {
	*fakeSource
}

func newFakeEngine() *fakeEngine { return &fakeEngine{fakeSource: newFakeSource()} }

func (e *fakeEngine) ProcessSample(s models.Sample) error {
	e.publish(s.SourceID, s)
	return nil
}

func TestCameraAndFaceDetectorChain(t *testing.T) {
	engine := newFakeEngine()
	cam := NewCamera("cam-1", scriptedCamera{}, engine, time.Millisecond, nil, nil)
	require.NoError(t, cam.Start(context.Background()))
	defer cam.Stop()

	faceSink := &fakeSink{}
	fd := NewFaceDetector("face-1", "cam-1", engine, scriptedDetector{}, faceSink, nil, nil)
	require.NoError(t, fd.Start(context.Background()))
	defer fd.Stop()

	samples := waitForSamples(t, faceSink, 1, time.Second)
	face, ok := samples[0].Payload.(models.FacePayload)
	require.True(t, ok)
	require.Len(t, face.Faces, 1)
	require.Equal(t, 0.8, *samples[0].Confidence)
}

type fakeSource struct {
	mu   sync.Mutex
	subs map[string][]func(models.Sample)
}

func newFakeSource() *fakeSource {
	return &fakeSource{subs: make(map[string][]func(models.Sample))}
}

func (f *fakeSource) Subscribe(sourceID string, fn func(models.Sample)) func() {
	f.mu.Lock()
	f.subs[sourceID] = append(f.subs[sourceID], fn)
	idx := len(f.subs[sourceID]) - 1
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.subs[sourceID][idx] = nil
	}
}

func (f *fakeSource) publish(sourceID string, s models.Sample) {
	f.mu.Lock()
	fns := append([]func(models.Sample){}, f.subs[sourceID]...)
	f.mu.Unlock()
	for _, fn := range fns {
		if fn != nil {
			fn(s)
		}
	}
}

type scriptedMic struct{}

func (scriptedMic) Capture() (pcm []int16, sampleRateHz, channels int, err error) {
	return []int16{1000, -1000, 1000, -1000}, 16000, 1, nil
}

func TestMicrophoneReportsRMSConfidence(t *testing.T) {
	sink := &fakeSink{}
	m := NewMicrophone("mic-1", scriptedMic{}, sink, time.Millisecond, nil, nil)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	samples := waitForSamples(t, sink, 1, time.Second)
	mic, ok := samples[0].Payload.(models.MicrophonePayload)
	require.True(t, ok)
	require.InDelta(t, 1000.0, mic.RMS, 0.001)
	require.Greater(t, *samples[0].Confidence, 0.0)
}

func TestMicrophoneSilenceReportsZeroConfidence(t *testing.T) {
	sink := &fakeSink{}
	m := NewMicrophone("mic-1", silentMic{}, sink, time.Millisecond, nil, nil)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	samples := waitForSamples(t, sink, 1, time.Second)
	require.Equal(t, 0.0, *samples[0].Confidence)
}

type silentMic struct{}

func (silentMic) Capture() (pcm []int16, sampleRateHz, channels int, err error) {
	return []int16{0, 0, 0, 0}, 16000, 1, nil
}

type fakeConnector struct {
	mu   sync.Mutex
	subs []func(models.TelemetryFrame)
}

func (c *fakeConnector) ID() string       { return "fake" }
func (c *fakeConnector) Connect(ctx context.Context) error { return nil }
func (c *fakeConnector) Disconnect() error                 { return nil }
func (c *fakeConnector) IsConnected() bool                 { return true }
func (c *fakeConnector) GetStatus() models.ConnectorStatus  { return models.ConnectorStatus{} }
func (c *fakeConnector) GetCapabilities() []models.Capability { return nil }
func (c *fakeConnector) Subscribe(fn func(models.TelemetryFrame)) func() {
	c.mu.Lock()
	c.subs = append(c.subs, fn)
	idx := len(c.subs) - 1
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.subs[idx] = nil
	}
}
func (c *fakeConnector) SubscribeToEvents(fn func(models.ConnectorEvent)) func() { return func() {} }
func (c *fakeConnector) SendCommand(ctx context.Context, cmd models.Command) (models.CommandResult, error) {
	return models.CommandResult{}, nil
}
func (c *fakeConnector) SendCommands(ctx context.Context, cmds []models.Command) ([]models.CommandResult, error) {
	return nil, nil
}
func (c *fakeConnector) QueueCommand(cmd models.Command) {}
func (c *fakeConnector) ClearCommandQueue()              {}

func (c *fakeConnector) emit(f models.TelemetryFrame) {
	c.mu.Lock()
	fns := append([]func(models.TelemetryFrame){}, c.subs...)
	c.mu.Unlock()
	for _, fn := range fns {
		if fn != nil {
			fn(f)
		}
	}
}

func TestTelemetryAdapterForwardsFramesAsSamples(t *testing.T) {
	sink := &fakeSink{}
	conn := &fakeConnector{}
	a := NewTelemetryAdapter("sim-1", conn, sink, nil, nil)
	require.NoError(t, a.Start(context.Background()))
	defer a.Stop()

	conn.emit(models.TelemetryFrame{Timestamp: 100, Sequence: 1, SourceID: "sim-1"})
	samples := waitForSamples(t, sink, 1, time.Second)
	frame, ok := samples[0].Payload.(models.TelemetryFrame)
	require.True(t, ok)
	require.Equal(t, int64(100), frame.Timestamp)
	require.Equal(t, int64(100), samples[0].CaptureTimestamp)

	require.NoError(t, a.Stop())
	conn.emit(models.TelemetryFrame{Timestamp: 200})
	time.Sleep(10 * time.Millisecond)
	require.Len(t, sink.all(), 1) // nothing delivered after Stop
}
