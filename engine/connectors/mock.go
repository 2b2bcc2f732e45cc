package connectors

import (
	"math"
	"time"

	"github.com/99souls/synopticon/engine/models"
)

// mockGenerator produces deterministic, realistic-shaped TelemetryFrames at
// a configured update rate when a connector falls back to DataModeMock
// (spec.md §4.4 "native-or-mock flag"). Deterministic in the sense that the
// same (sourceID, sequence) pair always yields the same frame — no use of
// time.Now or math/rand, so tests can assert exact values.
type mockGenerator struct {
	sourceID  string
	simulator models.SimulatorKind
}

func newMockGenerator(sourceID string, sim models.SimulatorKind) *mockGenerator {
	return &mockGenerator{sourceID: sourceID, simulator: sim}
}

// Frame synthesizes frame number seq (0-based) at timestampMicros. Position
// orbits a fixed point, speed oscillates around a cruise value — enough
// variation to exercise downstream consumers without any randomness.
func (g *mockGenerator) Frame(seq uint64, timestampMicros int64) models.TelemetryFrame {
	t := float64(seq) * 0.1 // 100ms synthetic step regardless of real update rate
	heading := math.Mod(t*6, 360)
	speed := 120 + 20*math.Sin(t)

	return models.TelemetryFrame{
		Timestamp: timestampMicros,
		Sequence:  seq,
		SourceID:  g.sourceID,
		Simulator: g.simulator,
		Vehicle: models.VehicleState{
			Position: [3]float64{37.6188 + 0.001*math.Sin(t), -122.3750 + 0.001*math.Cos(t), 1000 + 50*math.Sin(t/2)},
			Velocity: [3]float64{speed * math.Cos(heading*math.Pi/180), speed * math.Sin(heading*math.Pi/180), 0},
			Heading:  heading,
		},
		Controls: models.ControlState{
			Throttle: 0.6 + 0.1*math.Sin(t),
			Gear:     1,
		},
		Performance: models.PerformanceState{
			Speed:     speed,
			Fuel:      math.Max(0, 100-float64(seq)*0.01),
			EngineRPM: 2200 + 100*math.Sin(t),
		},
	}
}

const mockFrameInterval = 100 * time.Millisecond
