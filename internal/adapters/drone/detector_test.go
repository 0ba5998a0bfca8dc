package drone

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyline-mesh/sentryhop/internal/core/domain"
)

// frenchVendorIE builds a French-regulation vendor IE body (the part
// after the tag/length header): 3-byte OUI, vendor type byte, then
// the TLV stream.
func frenchVendorIE(tlv []byte) []byte {
	body := []byte{0x6a, 0x5c, 0x35, 0x01}
	return append(body, tlv...)
}

func tlvEntry(tag byte, val []byte) []byte {
	return append([]byte{tag, byte(len(val))}, val...)
}

func be32(v int32) []byte {
	u := uint32(v)
	return []byte{byte(u >> 24), byte(u >> 16), byte(u >> 8), byte(u)}
}

func TestParseFrenchTLV_DecodesTelemetry(t *testing.T) {
	var tlv []byte
	tlv = append(tlv, tlvEntry(3, []byte("UAV123\x00\x00"))...)
	tlv = append(tlv, tlvEntry(4, be32(3778000))...)      // lat 37.78
	tlv = append(tlv, tlvEntry(5, be32(-12241000))...)    // lon -122.41
	tlv = append(tlv, tlvEntry(6, []byte{0x00, 0x2d})...) // 45m MSL
	tlv = append(tlv, tlvEntry(10, []byte{0x06})...)      // 6 m/s

	drone := parseFrenchTLV(frenchVendorIE(tlv))

	assert.Equal(t, "UAV123", drone.UAVID)
	assert.InDelta(t, 37.78, drone.Latitude, 1e-6)
	assert.InDelta(t, -122.41, drone.Longitude, 1e-6)
	assert.Equal(t, 45.0, drone.AltitudeMSL)
	assert.Equal(t, 6.0, drone.Speed)
}

func TestParseFrenchTLV_TruncatedBodyIsSafe(t *testing.T) {
	assert.NotPanics(t, func() {
		parseFrenchTLV([]byte{0x6a, 0x5c})
		parseFrenchTLV(frenchVendorIE([]byte{4, 10})) // length exceeds remaining data
	})
}

func TestObserveBeaconIEs_TracksFrenchDrone(t *testing.T) {
	d := New()
	src := [6]byte{0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc}

	inner := frenchVendorIE(tlvEntry(3, []byte("ABCDEF1234")))
	ieBody := append([]byte{0xdd, byte(len(inner))}, inner...)

	d.ObserveBeaconIEs(src, ieBody, -58, time.Now())

	out := d.Results()
	assert.Contains(t, out, "1 tracked")
	assert.Contains(t, out, "ABCDEF1234")
}

func TestObserveActionFrame_RequiresODIDDestination(t *testing.T) {
	d := New()
	src := [6]byte{0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc}

	d.ObserveActionFrame(src, [6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, []byte{0x01}, -60, time.Now())
	assert.Contains(t, d.Results(), "none detected")

	d.ObserveActionFrame(src, domain.ODIDNANDestMAC, []byte{0x01}, -60, time.Now())
	assert.Contains(t, d.Results(), "1 tracked")
}

func TestRecord_DedupesByUAVIDAcrossMACRotation(t *testing.T) {
	d := New()
	now := time.Now()

	d.record(&domain.DroneDetection{MAC: [6]byte{1, 2, 3, 4, 5, 6}, UAVID: "SAME", RSSI: -50}, now)
	d.record(&domain.DroneDetection{MAC: [6]byte{9, 9, 9, 9, 9, 9}, UAVID: "SAME", RSSI: -44}, now.Add(time.Second))

	require.Contains(t, d.Results(), "1 tracked")
	assert.Contains(t, d.Results(), "R-44", "latest RSSI wins on re-observation")
}

func TestCleanup_EvictsStaleDrones(t *testing.T) {
	d := New()
	base := time.Now()
	for i := 0; i < 3; i++ {
		d.record(&domain.DroneDetection{UAVID: fmt.Sprintf("UAV%d", i), RSSI: -50}, base)
	}

	d.Cleanup(base.Add(domain.DroneStaleTime + time.Second))
	assert.Contains(t, d.Results(), "none detected")
}
