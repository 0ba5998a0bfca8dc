package classifier

import (
	"testing"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyline-mesh/sentryhop/internal/core/domain"
	"github.com/skyline-mesh/sentryhop/internal/core/ports"
)

type captureSink struct {
	frames []*ports.Frame
}

func (c *captureSink) Ingest(f *ports.Frame) {
	cp := *f
	c.frames = append(c.frames, &cp)
}
func (c *captureSink) Stop()           {}
func (c *captureSink) Results() string { return "" }

type matchAllRegistry struct{}

func (matchAllRegistry) Matches(mac [6]byte) bool       { return true }
func (matchAllRegistry) IsAllowlisted(mac [6]byte) bool { return false }

// ie fixture: SSID "net", supported rates, DS param (chan 11), HT cap.
func fixtureIEs() []byte {
	return []byte{
		0x00, 0x03, 'n', 'e', 't',
		0x01, 0x04, 0x82, 0x84, 0x8b, 0x96,
		0x03, 0x01, 0x0b,
		0x2d, 0x02, 0xaa, 0xbb,
	}
}

func TestIEOrderSignatureOf_RecordsTagOrder(t *testing.T) {
	sig := ieOrderSignatureOf(fixtureIEs())
	assert.Equal(t, []uint8{0, 1, 3, 0x2d}, sig.Tags)
	assert.NotZero(t, sig.Hash)

	reordered := []byte{
		0x03, 0x01, 0x0b,
		0x00, 0x03, 'n', 'e', 't',
	}
	other := ieOrderSignatureOf(reordered)
	assert.NotEqual(t, sig.Hash, other.Hash)
}

func TestIEFingerprintOf_PopulatesPresentSlots(t *testing.T) {
	fp := ieFingerprintOf(fixtureIEs())

	assert.NotZero(t, fp[0], "HT cap present")
	assert.Zero(t, fp[1], "no VHT cap")
	assert.NotZero(t, fp[2], "supported rates present")
	assert.NotZero(t, fp[5], "composite always set")

	assert.Equal(t, fp, ieFingerprintOf(fixtureIEs()), "fingerprint is deterministic")
}

func TestExtractChannel_PrefersDSParameterSet(t *testing.T) {
	assert.Equal(t, 11, extractChannel(fixtureIEs(), 6))
	assert.Equal(t, 6, extractChannel(nil, 6))
}

func TestDecodeAddrs_ToDSFromDSRoles(t *testing.T) {
	mkMAC := func(b byte) []byte { return []byte{b, b, b, b, b, b} }

	d := &layers.Dot11{
		Address1: mkMAC(0x01),
		Address2: mkMAC(0x02),
		Address3: mkMAC(0x03),
	}

	// Neither ToDS nor FromDS: a1=DA a2=SA a3=BSSID.
	set := decodeAddrs(d)
	assert.Equal(t, set.a1, set.da)
	assert.Equal(t, set.a2, set.sa)
	assert.Equal(t, set.a3, set.bssid)

	// ToDS: a1=BSSID a2=SA a3=DA.
	d.Flags = layers.Dot11FlagsToDS
	set = decodeAddrs(d)
	assert.Equal(t, set.a1, set.bssid)
	assert.Equal(t, set.a2, set.sa)
	assert.Equal(t, set.a3, set.da)

	// FromDS: a1=DA a2=BSSID a3=SA.
	d.Flags = layers.Dot11FlagsFromDS
	set = decodeAddrs(d)
	assert.Equal(t, set.a1, set.da)
	assert.Equal(t, set.a2, set.bssid)
	assert.Equal(t, set.a3, set.sa)
}

func TestClassifyBLE_RoutesRandomizedToRandomization(t *testing.T) {
	randSink := &captureSink{}
	baseSink := &captureSink{}
	var hits []domain.Hit

	c := New(Sinks{
		Registry:      matchAllRegistry{},
		Randomization: randSink,
		Baseline:      baseSink,
		OnHit:         func(h domain.Hit) { hits = append(hits, h) },
	})

	randomized := [6]byte{0xDA, 0x11, 0x22, 0x33, 0x44, 0x55}
	c.ClassifyBLE(BLEAdvertisement{
		MAC: randomized, RSSI: -48, Name: "beacon", Timestamp: time.Now(),
		ManufacturerData: []byte{0x4c, 0x00, 0x02, 0x15},
	})

	require.Len(t, randSink.frames, 1)
	assert.True(t, randSink.frames[0].IsBLE)
	assert.NotZero(t, randSink.frames[0].IEFingerprint[0], "manufacturer data fingerprints slot 0")
	require.Len(t, baseSink.frames, 1)
	require.Len(t, hits, 1)
	assert.Equal(t, randomized, hits[0].MAC)
}

func TestClassifyBLE_GlobalMACSkipsRandomization(t *testing.T) {
	randSink := &captureSink{}
	c := New(Sinks{
		Registry:      matchAllRegistry{},
		Randomization: randSink,
	})

	c.ClassifyBLE(BLEAdvertisement{MAC: [6]byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}, RSSI: -50, Timestamp: time.Now()})
	assert.Empty(t, randSink.frames)
}
