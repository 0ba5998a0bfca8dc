package deauth

import (
	"strings"
	"testing"
	"time"

	"github.com/skyline-mesh/sentryhop/internal/core/domain"
	"github.com/skyline-mesh/sentryhop/internal/core/ports"
	"github.com/stretchr/testify/assert"
)

func deauthFrame(src, dst [6]byte, reason uint16, ts time.Time) *ports.Frame {
	return &ports.Frame{
		MAC:        src,
		Dst:        dst,
		RSSI:       -50,
		Channel:    6,
		Timestamp:  ts,
		IsDeauth:   true,
		ReasonCode: reason,
	}
}

func TestDetector_BroadcastDeauthIsAlwaysAnAttack(t *testing.T) {
	d := New()
	src := [6]byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66}
	d.Ingest(deauthFrame(src, domain.BroadcastMAC, 0, time.Now()))

	results := d.Results()
	assert.Contains(t, results, "Deauth:1")
}

func TestDetector_FloodThresholdTrips(t *testing.T) {
	d := New()
	src := [6]byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66}
	victim := [6]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	base := time.Now()

	// Two frames with a harmless reason code: below threshold, no attack.
	d.Ingest(deauthFrame(src, victim, 0, base))
	d.Ingest(deauthFrame(src, victim, 0, base.Add(time.Second)))
	assert.Contains(t, d.Results(), "Deauth:0")

	// Third frame within the 10s window trips the flood rule.
	d.Ingest(deauthFrame(src, victim, 0, base.Add(2*time.Second)))
	assert.Contains(t, d.Results(), "Deauth:1")
}

func TestDetector_AttackReasonCodeAlwaysFlags(t *testing.T) {
	d := New()
	src := [6]byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66}
	victim := [6]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	d.Ingest(deauthFrame(src, victim, 2, time.Now()))
	assert.Contains(t, d.Results(), "Deauth:1")
}

func TestDetector_LogCapDropsNewEntriesWhenFull(t *testing.T) {
	d := New()
	base := time.Now()
	for i := 0; i < domain.DeauthLogCap+10; i++ {
		src := [6]byte{0x11, 0x22, 0x33, 0x44, 0x55, byte(i)}
		victim := domain.BroadcastMAC
		d.Ingest(deauthFrame(src, victim, 0, base.Add(time.Duration(i)*time.Millisecond)))
	}
	assert.LessOrEqual(t, len(d.log), domain.DeauthLogCap)
}

func TestDetector_CleanupExpiresStaleWindowsAndCapsPerDstMap(t *testing.T) {
	d := New()
	base := time.Now()
	for i := 0; i < domain.DeauthPerDstCap+10; i++ {
		dst := [6]byte{0x01, 0x02, 0x03, 0x04, 0x05, byte(i)}
		d.Ingest(deauthFrame([6]byte{0x11}, dst, 0, base.Add(time.Duration(i)*time.Millisecond)))
	}
	d.Cleanup(base.Add(time.Minute))
	assert.LessOrEqual(t, len(d.perDst), domain.DeauthPerDstCap)
}

func TestDetector_TopAttackersCappedAtFive(t *testing.T) {
	d := New()
	base := time.Now()
	for i := 0; i < 8; i++ {
		src := [6]byte{0x01, 0x02, 0x03, 0x04, 0x05, byte(i)}
		d.Ingest(deauthFrame(src, domain.BroadcastMAC, 0, base.Add(time.Duration(i)*time.Second)))
	}
	results := d.Results()
	assert.Contains(t, results, "Top attackers:")
	assert.Equal(t, 5, strings.Count(results, "  01:02:03:04:05:"))
}
