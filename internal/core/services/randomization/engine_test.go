package randomization

import (
	"testing"
	"time"

	"github.com/skyline-mesh/sentryhop/internal/core/domain"
	"github.com/skyline-mesh/sentryhop/internal/core/ports"
	"github.com/stretchr/testify/assert"
)

func randomizedMAC(last byte) [6]byte {
	return [6]byte{0xDA, 0xAA, 0xAA, 0xAA, 0xAA, last}
}

func globalMAC(last byte) [6]byte {
	return [6]byte{0x00, 0x11, 0x22, 0x33, 0x44, last}
}

func probeFrame(mac [6]byte, rssi int, channel int, ts time.Time) *ports.Frame {
	return &ports.Frame{
		MAC:       mac,
		RSSI:      rssi,
		Channel:   channel,
		Timestamp: ts,
		IEBody:    []byte("\x00\x08myssid\x01\x08\x82\x84\x8b\x96\x0c\x12\x18\x24"),
		IEOrder:   domain.IEOrderSignature{Tags: []uint8{0, 1, 3}, Hash: 0xBEEF},
		SeqValid:  true,
		SeqNum:    100,
	}
}

func TestEngine_CreatesIdentityOnFirstSession(t *testing.T) {
	e := New(nil)
	mac := randomizedMAC(0x01)
	base := time.Now()

	e.Ingest(probeFrame(mac, -40, 6, base))
	e.Ingest(probeFrame(mac, -41, 6, base.Add(500*time.Millisecond)))
	e.Ingest(probeFrame(mac, -42, 6, base.Add(2500*time.Millisecond)))

	sessions, identities := e.Stats()
	assert.Equal(t, 1, sessions)
	assert.Equal(t, 1, identities)
}

func TestEngine_LinksRotatedMACToSameIdentity(t *testing.T) {
	e := New(nil)
	base := time.Now()

	macA := randomizedMAC(0x01)
	for i := 0; i < 4; i++ {
		e.Ingest(probeFrame(macA, -40, 6, base.Add(time.Duration(i)*time.Second)))
	}
	_, identitiesAfterA := e.Stats()
	assert.Equal(t, 1, identitiesAfterA)

	macB := randomizedMAC(0x02)
	rotated := base.Add(20 * time.Minute)
	for i := 0; i < 4; i++ {
		e.Ingest(probeFrame(macB, -41, 6, rotated.Add(time.Duration(i)*time.Second)))
	}

	_, identities := e.Stats()
	assert.Equal(t, 1, identities, "rotated MAC with matching fingerprint/channel/RSSI should link to the existing identity")
}

func TestEngine_RotationLinkage_DifferentPrefixSameFingerprint(t *testing.T) {
	e := New(nil)
	base := time.Now()
	fp := [6]uint16{0x1A2B, 0x3C4D, 0x5E6F, 0x7081, 0x92A3, 0xB4C5}
	channels := []int{1, 6, 11, 1, 6}

	feed := func(mac [6]byte, rssi int, start time.Time) {
		for i, ch := range channels {
			f := probeFrame(mac, rssi, ch, start.Add(time.Duration(i)*500*time.Millisecond))
			f.IEFingerprint = fp
			e.Ingest(f)
		}
	}

	macA := [6]byte{0x02, 0xAA, 0xAA, 0x00, 0x00, 0x01}
	macB := [6]byte{0x02, 0xBB, 0xBB, 0x00, 0x00, 0x02}
	feed(macA, -55, base)
	feed(macB, -56, base.Add(30*time.Minute))

	e.mu.Lock()
	defer e.mu.Unlock()
	assert.Len(t, e.identities, 1, "both rotations must land in one identity")
	for _, id := range e.identities {
		assert.Len(t, id.MACs, 2)
		assert.Equal(t, macA, id.AnchorMAC(), "first-observed MAC anchors the identity")
		assert.GreaterOrEqual(t, id.Confidence, 0.60)
		assert.Equal(t, 2, id.ObservedSessions)
	}
}

func TestEngine_RespectsMaxIdentitiesCap(t *testing.T) {
	e := New(nil)
	base := time.Now()

	// Fill the identity map to the cap with tracks nothing will link
	// to: no signature, no sequence state, RSSI history far from the
	// candidate session below.
	e.mu.Lock()
	for n := 0; n < domain.MaxIdentities; n++ {
		id := &domain.DeviceIdentity{
			ID:        "T-" + string(rune('A'+n%26)) + string(rune('A'+n/26)),
			MACs:      [][6]byte{{0x02, byte(n), 0x00, 0x00, 0x00, byte(n)}},
			FirstSeen: base.Add(-time.Hour),
			LastSeen:  base.Add(-30 * time.Minute),
		}
		e.identities[id.ID] = id
	}
	e.mu.Unlock()

	mac := randomizedMAC(0x77)
	for i := 0; i < 3; i++ {
		e.Ingest(probeFrame(mac, -40, 6, base.Add(time.Duration(i)*time.Second)))
	}

	_, identities := e.Stats()
	assert.Equal(t, domain.MaxIdentities, identities, "identity count must stay clamped at the hard cap")

	e.mu.Lock()
	session := e.sessions[domain.FormatMAC(mac)]
	e.mu.Unlock()
	assert.False(t, session.LinkedToIdentity, "an unmatchable session at the cap is dropped, not force-linked")
}

func TestEngine_GlobalMACLeakStaplesOntoSession(t *testing.T) {
	e := New(nil)
	base := time.Now()
	mac := randomizedMAC(0x03)

	e.Ingest(probeFrame(mac, -40, 6, base))
	e.Ingest(probeFrame(mac, -40, 6, base.Add(time.Second)))

	leak := globalMAC(0x09)
	authFrame := probeFrame(leak, -40, 6, base.Add(2*time.Second))
	authFrame.SeqNum = 101 // one ahead of the randomized session's last seq
	e.Ingest(authFrame)

	e.mu.Lock()
	session, ok := e.sessions[domain.FormatMAC(mac)]
	e.mu.Unlock()
	if assert.True(t, ok) {
		assert.True(t, session.HasGlobalMACLeak)
		assert.Equal(t, leak, session.GlobalMACLeaked)
	}
}

func TestEngine_PairedSessionHeuristicStaplesEarlierGlobal(t *testing.T) {
	e := New(nil)
	base := time.Now()
	fp := [6]uint16{0x1111, 0x2222, 0x3333, 0, 0, 0x9999}

	leak := globalMAC(0x0A)
	globalFrame := probeFrame(leak, -45, 6, base)
	globalFrame.IEFingerprint = fp
	e.Ingest(globalFrame)

	mac := randomizedMAC(0x0B)
	for i := 1; i <= 2; i++ {
		f := probeFrame(mac, -46, 6, base.Add(time.Duration(i)*time.Second))
		f.IEFingerprint = fp
		e.Ingest(f)
	}

	e.mu.Lock()
	session := e.sessions[domain.FormatMAC(mac)]
	e.mu.Unlock()
	if assert.NotNil(t, session) {
		assert.True(t, session.HasGlobalMACLeak, "shared fingerprint within the pairing window staples the global MAC")
		assert.Equal(t, leak, session.GlobalMACLeaked)
	}
}

func TestEngine_SessionGarbageCollection(t *testing.T) {
	e := New(nil)
	mac := randomizedMAC(0x04)
	base := time.Now()
	e.Ingest(probeFrame(mac, -40, 6, base))

	e.Tick(base.Add(domain.SessionCleanupAge + time.Second))

	sessions, _ := e.Stats()
	assert.Equal(t, 0, sessions)
}

func TestMACPrefixScore(t *testing.T) {
	anchor := randomizedMAC(0x01)
	sameFour := [6]byte{anchor[0], anchor[1], anchor[2], anchor[3], 0xFF, 0xFF}
	assert.Equal(t, 1.0, macPrefixScore(anchor, sameFour))

	diff := [6]byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66}
	assert.Equal(t, 0.0, macPrefixScore(anchor, diff))
}

func TestRotationGapScore(t *testing.T) {
	now := time.Now()
	session := &domain.ProbeSession{StartTime: now.Add(30 * time.Minute)}
	identity := &domain.DeviceIdentity{LastSeen: now}
	assert.Equal(t, 1.0, rotationGapScore(session, identity, now))

	tooSoon := &domain.ProbeSession{StartTime: now.Add(time.Minute)}
	assert.Equal(t, 0.5, rotationGapScore(tooSoon, identity, now))
}
