package baseline

import (
	"testing"
	"time"

	"github.com/skyline-mesh/sentryhop/internal/core/domain"
	"github.com/skyline-mesh/sentryhop/internal/core/ports"
	"github.com/stretchr/testify/assert"
)

type fakeAllowlist struct{ allowed map[[6]byte]bool }

func (f *fakeAllowlist) IsAllowlisted(mac [6]byte) bool { return f.allowed[mac] }

func frame(mac [6]byte, rssi int, ts time.Time) *ports.Frame {
	return &ports.Frame{MAC: mac, RSSI: rssi, Channel: 6, Timestamp: ts}
}

func TestBaseline_LearnsThenFlagsNewDeviceInMonitorPhase(t *testing.T) {
	cfg := domain.DefaultBaselineConfig()
	cfg.LearnDuration = time.Second
	start := time.Now()
	d := New(cfg, nil, start)

	known := [6]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	d.Ingest(frame(known, -50, start))

	unseen := [6]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	d.Ingest(frame(unseen, -50, start.Add(2*time.Second)))

	results := d.Results()
	assert.Contains(t, results, "new device")
}

func TestBaseline_FlagsSignificantRSSIShift(t *testing.T) {
	cfg := domain.DefaultBaselineConfig()
	cfg.LearnDuration = time.Second
	start := time.Now()
	d := New(cfg, nil, start)

	mac := [6]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	d.Ingest(frame(mac, -50, start))

	d.Ingest(frame(mac, -20, start.Add(2*time.Second)))

	assert.Contains(t, d.Results(), "RSSI change")
}

func TestBaseline_FlagsReappearanceWithinWindow(t *testing.T) {
	cfg := domain.DefaultBaselineConfig()
	cfg.LearnDuration = time.Second
	cfg.AbsenceThreshold = 10 * time.Second
	cfg.ReappearanceWindow = 60 * time.Second
	start := time.Now()
	d := New(cfg, nil, start)

	mac := [6]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	d.Ingest(frame(mac, -50, start))
	d.MarkAbsent(mac, start.Add(2*time.Second))

	d.Ingest(frame(mac, -50, start.Add(20*time.Second)))

	assert.Contains(t, d.Results(), "reappeared")
}

func TestBaseline_AllowlistedMACNeverAnomalous(t *testing.T) {
	cfg := domain.DefaultBaselineConfig()
	cfg.LearnDuration = time.Second
	start := time.Now()
	allow := &fakeAllowlist{allowed: map[[6]byte]bool{}}
	mac := [6]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	allow.allowed[mac] = true
	d := New(cfg, allow, start)

	d.Ingest(frame(mac, -50, start.Add(2*time.Second)))

	assert.Empty(t, d.Results())
}
