package distribution

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/99souls/synopticon/engine/models"
)

// fakeDistributor records every Send call; openErr/sendErr let tests force
// failures without touching a real socket or broker.
type fakeDistributor struct {
	kind    models.DistributorKind
	openErr error
	sendErr error

	mu   sync.Mutex
	sent [][]byte
	open bool
}

func (d *fakeDistributor) Kind() models.DistributorKind { return d.kind }

func (d *fakeDistributor) Open(ctx context.Context) error {
	if d.openErr != nil {
		return d.openErr
	}
	d.mu.Lock()
	d.open = true
	d.mu.Unlock()
	return nil
}

func (d *fakeDistributor) Close() error {
	d.mu.Lock()
	d.open = false
	d.mu.Unlock()
	return nil
}

func (d *fakeDistributor) Send(ctx context.Context, payload []byte, opts SendOptions) (SendResult, error) {
	if d.sendErr != nil {
		return SendResult{}, d.sendErr
	}
	d.mu.Lock()
	d.sent = append(d.sent, payload)
	d.mu.Unlock()
	return SendResult{BytesSent: len(payload), ClientsReached: 1}, nil
}

func (d *fakeDistributor) Stats() models.DistributorStats { return models.DistributorStats{} }

func (d *fakeDistributor) sentCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

func fakeFactory(byName map[string]*fakeDistributor) Factory {
	return func(name string, cfg models.DistributorConfig) (Distributor, error) {
		d, ok := byName[name]
		if !ok {
			return nil, errors.New("no fake registered for " + name)
		}
		return d, nil
	}
}

func TestCreateSessionOpensEveryDistributor(t *testing.T) {
	mqtt := &fakeDistributor{kind: models.DistributorMQTT}
	udp := &fakeDistributor{kind: models.DistributorUDP}
	m := NewManager(fakeFactory(map[string]*fakeDistributor{"mqtt": mqtt, "udp": udp}))

	sess, err := m.CreateSession(context.Background(), models.SessionConfig{
		ID: "s1",
		Distributors: []models.DistributorConfig{
			{Name: "mqtt", Kind: models.DistributorMQTT},
			{Name: "udp", Kind: models.DistributorUDP},
		},
		EventRouting: map[models.EventKind][]string{models.EventGaze: {"mqtt", "udp"}},
	})
	require.NoError(t, err)
	require.Equal(t, "s1", sess.id)
	require.True(t, mqtt.open)
	require.True(t, udp.open)
}

func TestCreateSessionRejectsDanglingRoutingTarget(t *testing.T) {
	udp := &fakeDistributor{kind: models.DistributorUDP}
	m := NewManager(fakeFactory(map[string]*fakeDistributor{"udp": udp}))

	_, err := m.CreateSession(context.Background(), models.SessionConfig{
		ID: "s1",
		Distributors: []models.DistributorConfig{
			{Name: "udp", Kind: models.DistributorUDP},
		},
		EventRouting: map[models.EventKind][]string{models.EventGaze: {"udp", "nonexistent"}},
	})
	require.Error(t, err)
	kind, ok := models.KindOf(err)
	require.True(t, ok)
	require.Equal(t, models.KindValidation, kind)

	_, err = m.GetSessionStatus("s1")
	require.Error(t, err)
}

func TestCreateSessionTeardownOnPartialFailure(t *testing.T) {
	good := &fakeDistributor{kind: models.DistributorUDP}
	bad := &fakeDistributor{kind: models.DistributorMQTT, openErr: errors.New("refused")}
	m := NewManager(fakeFactory(map[string]*fakeDistributor{"good": good, "bad": bad}))

	_, err := m.CreateSession(context.Background(), models.SessionConfig{
		ID: "s1",
		Distributors: []models.DistributorConfig{
			{Name: "good", Kind: models.DistributorUDP},
			{Name: "bad", Kind: models.DistributorMQTT},
		},
	})
	require.Error(t, err)
	require.Eventually(t, func() bool { return !good.open }, time.Second, time.Millisecond)

	_, err = m.GetSessionStatus("s1")
	require.Error(t, err)
	kind, ok := models.KindOf(err)
	require.True(t, ok)
	require.Equal(t, models.KindNotFound, kind)
}

func TestRouteEventFansOutToEveryTarget(t *testing.T) {
	mqtt := &fakeDistributor{kind: models.DistributorMQTT}
	udp := &fakeDistributor{kind: models.DistributorUDP}
	m := NewManager(fakeFactory(map[string]*fakeDistributor{"mqtt": mqtt, "udp": udp}))

	_, err := m.CreateSession(context.Background(), models.SessionConfig{
		ID: "s1",
		Distributors: []models.DistributorConfig{
			{Name: "mqtt", Kind: models.DistributorMQTT},
			{Name: "udp", Kind: models.DistributorUDP},
		},
		EventRouting: map[models.EventKind][]string{models.EventGaze: {"mqtt", "udp"}},
	})
	require.NoError(t, err)

	require.NoError(t, m.RouteEvent("s1", models.EventGaze, map[string]float64{"x": 0.1, "y": 0.2}))

	require.Eventually(t, func() bool {
		return mqtt.sentCount() == 1 && udp.sentCount() == 1
	}, time.Second, time.Millisecond)

	var decoded map[string]float64
	mqtt.mu.Lock()
	require.NoError(t, json.Unmarshal(mqtt.sent[0], &decoded))
	mqtt.mu.Unlock()
	require.InDelta(t, 0.1, decoded["x"], 1e-9)
}

func TestRouteEventUnknownSessionIsNotFound(t *testing.T) {
	m := NewManager(fakeFactory(nil))
	err := m.RouteEvent("missing", models.EventGaze, nil)
	require.Error(t, err)
	kind, ok := models.KindOf(err)
	require.True(t, ok)
	require.Equal(t, models.KindNotFound, kind)
}

func TestRouteEventRejectsUnknownKind(t *testing.T) {
	m := NewManager(fakeFactory(nil))
	err := m.RouteEvent("missing", models.EventKind("bogus"), nil)
	require.Error(t, err)
	kind, ok := models.KindOf(err)
	require.True(t, ok)
	require.Equal(t, models.KindValidation, kind)
}

func TestDistributorDegradesAfterConsecutiveFailures(t *testing.T) {
	flaky := &fakeDistributor{kind: models.DistributorUDP, sendErr: errors.New("boom")}
	m := NewManager(fakeFactory(map[string]*fakeDistributor{"udp": flaky}))

	_, err := m.CreateSession(context.Background(), models.SessionConfig{
		ID:           "s1",
		Distributors: []models.DistributorConfig{{Name: "udp", Kind: models.DistributorUDP}},
		EventRouting: map[models.EventKind][]string{models.EventTelemetry: {"udp"}},
	})
	require.NoError(t, err)

	for i := 0; i < defaultDegradeThreshold; i++ {
		require.NoError(t, m.RouteEvent("s1", models.EventTelemetry, map[string]int{"i": i}))
	}

	in, err := m.getInstance("s1", "udp")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return in.getState() == models.DistributorDegraded
	}, time.Second, time.Millisecond)
}

func TestDisableDistributorStopsNewRouting(t *testing.T) {
	udp := &fakeDistributor{kind: models.DistributorUDP}
	m := NewManager(fakeFactory(map[string]*fakeDistributor{"udp": udp}))

	_, err := m.CreateSession(context.Background(), models.SessionConfig{
		ID:           "s1",
		Distributors: []models.DistributorConfig{{Name: "udp", Kind: models.DistributorUDP}},
		EventRouting: map[models.EventKind][]string{models.EventTelemetry: {"udp"}},
	})
	require.NoError(t, err)

	require.NoError(t, m.DisableDistributor("s1", "udp"))
	require.NoError(t, m.RouteEvent("s1", models.EventTelemetry, map[string]int{"i": 1}))
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 0, udp.sentCount())

	require.NoError(t, m.EnableDistributor("s1", "udp"))
	require.NoError(t, m.RouteEvent("s1", models.EventTelemetry, map[string]int{"i": 2}))
	require.Eventually(t, func() bool { return udp.sentCount() == 1 }, time.Second, time.Millisecond)
}

func TestReconfigureDistributorSwapsTransportWithoutDroppingSession(t *testing.T) {
	original := &fakeDistributor{kind: models.DistributorHTTP}
	replacement := &fakeDistributor{kind: models.DistributorHTTP}
	calls := 0
	factory := func(name string, cfg models.DistributorConfig) (Distributor, error) {
		calls++
		if calls == 1 {
			return original, nil
		}
		return replacement, nil
	}
	m := NewManager(factory)

	_, err := m.CreateSession(context.Background(), models.SessionConfig{
		ID:           "s1",
		Distributors: []models.DistributorConfig{{Name: "http", Kind: models.DistributorHTTP}},
	})
	require.NoError(t, err)
	require.True(t, original.open)

	err = m.ReconfigureDistributor(context.Background(), "s1", "http", models.DistributorConfig{
		Destination: models.DistributorDestination{URL: "http://new-host"},
	})
	require.NoError(t, err)
	require.True(t, replacement.open)
	require.False(t, original.open)

	in, err := m.getInstance("s1", "http")
	require.NoError(t, err)
	require.True(t, in.transport() == Distributor(replacement))
}

func TestEndSessionClosesEveryDistributor(t *testing.T) {
	udp := &fakeDistributor{kind: models.DistributorUDP}
	m := NewManager(fakeFactory(map[string]*fakeDistributor{"udp": udp}))

	_, err := m.CreateSession(context.Background(), models.SessionConfig{
		ID:           "s1",
		Distributors: []models.DistributorConfig{{Name: "udp", Kind: models.DistributorUDP}},
	})
	require.NoError(t, err)

	require.NoError(t, m.EndSession("s1"))
	require.False(t, udp.open)

	_, err = m.GetSessionStatus("s1")
	require.Error(t, err)
}

func TestUDPDistributorSendsRealDatagram(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	addr := pc.LocalAddr().(*net.UDPAddr)
	d, err := newUDPDistributor(models.DistributorDestination{Host: "127.0.0.1", Port: addr.Port})
	require.NoError(t, err)
	require.NoError(t, d.Open(context.Background()))
	defer d.Close()

	payload, err := json.Marshal(map[string]float64{"x": 0.1, "y": 0.2})
	require.NoError(t, err)
	res, err := d.Send(context.Background(), payload, SendOptions{})
	require.NoError(t, err)
	require.Equal(t, len(payload), res.BytesSent)

	buf := make([]byte, 1024)
	require.NoError(t, pc.SetReadDeadline(time.Now().Add(time.Second)))
	n, _, err := pc.ReadFrom(buf)
	require.NoError(t, err)
	require.Equal(t, payload, buf[:n])
}
