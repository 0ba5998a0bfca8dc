package triangulation

import (
	"context"
	"testing"
	"time"

	"github.com/skyline-mesh/sentryhop/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	sent []string
}

func (f *fakeSender) Send(ctx context.Context, content string, canDelay bool) error {
	f.sent = append(f.sent, content)
	return nil
}

type fakeRegistry struct {
	target *domain.Target
}

func (f *fakeRegistry) SetTriangulationTarget(t *domain.Target) { f.target = t }

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time { return f.t }

type fakeGPS struct {
	lat, lon, hdop float64
	ok             bool
}

func (f *fakeGPS) Location() (float64, float64, float64, bool) { return f.lat, f.lon, f.hdop, f.ok }

func newTestCoordinator() (*Coordinator, *fakeSender, *fakeRegistry, *fakeClock) {
	sender := &fakeSender{}
	registry := &fakeRegistry{}
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0).UTC()}
	gps := &fakeGPS{lat: 1, lon: 2, hdop: 1.2, ok: true}
	c := New("AH01", sender, registry, gps, clock)
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return c, sender, registry, clock
}

func TestCoordinator_StartAsInitiator_BroadcastsHandshake(t *testing.T) {
	c, sender, registry, clock := newTestCoordinator()
	_ = clock

	err := c.StartAsInitiator(context.Background(), "AA:BB:CC:DD:EE:FF", "60")
	require.NoError(t, err)

	require.Len(t, sender.sent, 2)
	assert.Contains(t, sender.sent[0], "TIME_SYNC_REQ:")
	assert.Equal(t, "TRIANGULATE_START:AA:BB:CC:DD:EE:FF:60", sender.sent[1])
	assert.NotNil(t, registry.target)
}

func TestCoordinator_StartAsInitiator_RejectsShortDuration(t *testing.T) {
	c, _, _, _ := newTestCoordinator()
	err := c.StartAsInitiator(context.Background(), "AA:BB:CC:DD:EE:FF", "5")
	assert.ErrorIs(t, err, domain.ErrDurationOutOfRange)
}

func TestCoordinator_StartAsInitiator_RejectsWhenBusy(t *testing.T) {
	c, _, _, _ := newTestCoordinator()
	require.NoError(t, c.StartAsInitiator(context.Background(), "AA:BB:CC:DD:EE:FF", "60"))

	err := c.StartAsInitiator(context.Background(), "11:22:33:44:55:66", "60")
	assert.ErrorIs(t, err, domain.ErrTriangulationBusy)
}

func TestCoordinator_EnterChild_SetsInitiatorAndBypass(t *testing.T) {
	c, _, registry, _ := newTestCoordinator()
	require.NoError(t, c.EnterChild("AH02", "AA:BB:CC:DD:EE:FF", "90"))

	assert.NotNil(t, registry.target)
	assert.Equal(t, domain.TargetMAC, registry.target.Kind)
}

func TestCoordinator_ObserveHit_AccumulatesIntoLocalSession(t *testing.T) {
	c, _, _, _ := newTestCoordinator()
	require.NoError(t, c.EnterChild("AH02", "AA:BB:CC:DD:EE:FF", "90"))

	c.ObserveHit([6]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}, -55, false, time.Now())
	c.ObserveHit([6]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}, -60, false, time.Now())

	c.mu.Lock()
	hits := c.session.Local.WiFi.HitCount
	avg := c.session.Local.WiFi.AvgRSSI()
	gps := c.session.Local.HasGPSSnapshot
	c.mu.Unlock()

	assert.Equal(t, 2, hits)
	assert.Equal(t, -57.5, avg)
	assert.True(t, gps)
}

func TestCoordinator_Tick_ChildEmitsTargetData(t *testing.T) {
	c, sender, _, clock := newTestCoordinator()
	require.NoError(t, c.EnterChild("AH02", "AA:BB:CC:DD:EE:FF", "90"))
	c.ObserveHit([6]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}, -55, false, clock.t)

	c.Tick(context.Background(), clock.t.Add(5*time.Second))

	require.NotEmpty(t, sender.sent)
	assert.Contains(t, sender.sent[len(sender.sent)-1], "TARGET_DATA:")
	assert.Contains(t, sender.sent[len(sender.sent)-1], "Hits=1")
	assert.Contains(t, sender.sent[len(sender.sent)-1], "Type:WiFi")
}

func TestCoordinator_OnTargetData_CreatesAndUpdatesNode(t *testing.T) {
	c, _, _, clock := newTestCoordinator()
	require.NoError(t, c.StartAsInitiator(context.Background(), "AA:BB:CC:DD:EE:FF", "60"))

	c.OnTargetData("AH02", "TARGET_DATA: AA:BB:CC:DD:EE:FF Hits=4 RSSI:-62.0 Type:WiFi GPS=12.000000,34.000000 HDOP=1.5")

	c.mu.Lock()
	node, ok := c.session.Nodes["AH02"]
	c.mu.Unlock()

	require.True(t, ok)
	assert.InDelta(t, -62.0, node.FilteredRSSI, 0.001)
	assert.True(t, node.HasGPS)
	assert.InDelta(t, 12.0, node.Lat, 1e-9)
	_ = clock
}

func TestCoordinator_OnTargetData_IgnoresMismatchedTarget(t *testing.T) {
	c, _, _, _ := newTestCoordinator()
	require.NoError(t, c.StartAsInitiator(context.Background(), "AA:BB:CC:DD:EE:FF", "60"))

	c.OnTargetData("AH02", "TARGET_DATA: 11:22:33:44:55:66 Hits=4 RSSI:-62.0 Type:WiFi")

	c.mu.Lock()
	_, ok := c.session.Nodes["AH02"]
	c.mu.Unlock()
	assert.False(t, ok)
}

func TestCoordinator_LeaveChild_ResetsState(t *testing.T) {
	c, _, registry, _ := newTestCoordinator()
	require.NoError(t, c.EnterChild("AH02", "AA:BB:CC:DD:EE:FF", "90"))

	c.LeaveChild()

	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	assert.Nil(t, session)
	assert.Nil(t, registry.target)
}

func TestSolve_FailsWithFewerThanThreeGPSNodes(t *testing.T) {
	session := &domain.TriangulationSession{
		Nodes: map[string]*domain.TriangulationNode{
			"a": {NodeID: "a", HasGPS: true},
			"b": {NodeID: "b"},
		},
	}
	result := Solve(session, false, false)
	assert.False(t, result.OK)
	assert.Equal(t, "insufficient GPS nodes", result.Reason)
}

func TestSolve_ReportsNoneWithGPS(t *testing.T) {
	session := &domain.TriangulationSession{
		Nodes: map[string]*domain.TriangulationNode{
			"a": {NodeID: "a"},
			"b": {NodeID: "b"},
		},
	}
	result := Solve(session, false, false)
	assert.False(t, result.OK)
	assert.Equal(t, "none with GPS", result.Reason)
}

func TestSolve_ReportsNoMeshWhenAlone(t *testing.T) {
	session := &domain.TriangulationSession{Nodes: map[string]*domain.TriangulationNode{}}
	result := Solve(session, false, false)
	assert.False(t, result.OK)
	assert.Equal(t, "no mesh", result.Reason)
}

func TestEncodeDecodeTimestamp_RoundTrips(t *testing.T) {
	ts := time.Date(2026, 7, 29, 12, 0, 0, 123456000, time.UTC)
	encoded := encodeTimestamp(ts)
	decoded, ok := decodeTimestamp(encoded)
	require.True(t, ok)
	assert.Equal(t, ts.Unix(), decoded.Unix())
}

func TestParseTargetData_ParsesAllFields(t *testing.T) {
	mac, raw, rssi, isBLE, lat, lon, hdop, hasGPS, ok := parseTargetData(
		"TARGET_DATA: AA:BB:CC:DD:EE:FF Hits=9 RSSI:-62.5 Type:BLE GPS=10.5,20.5 HDOP=2.0")
	require.True(t, ok)
	assert.Equal(t, [6]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}, mac)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", raw)
	assert.Equal(t, -62.5, rssi)
	assert.True(t, isBLE)
	assert.True(t, hasGPS)
	assert.Equal(t, 10.5, lat)
	assert.Equal(t, 20.5, lon)
	assert.Equal(t, 2.0, hdop)
}
