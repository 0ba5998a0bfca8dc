// Package classifier decodes captured 802.11 frames into candidate
// MAC addresses and fans each frame out to the registry
// match test, the randomization engine, and the deauth/baseline
// detectors.
package classifier

import (
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/skyline-mesh/sentryhop/internal/adapters/sniffer/ie"
	"github.com/skyline-mesh/sentryhop/internal/core/domain"
	"github.com/skyline-mesh/sentryhop/internal/core/ports"
	"github.com/skyline-mesh/sentryhop/internal/telemetry"
)

// RegistryMatcher is the subset of the target registry the classifier
// consults for every candidate MAC.
type RegistryMatcher interface {
	Matches(mac [6]byte) bool
	IsAllowlisted(mac [6]byte) bool
}

// TriangulationSink receives Hits for per-target RSSI accumulation
// while a session is active, satisfied by the triangulation coordinator.
type TriangulationSink interface {
	ObserveHit(mac [6]byte, rssi int, isBLE bool, ts time.Time)
}

// DroneSink receives the two recognized remote-ID wire shapes: a NAN
// action frame addressed to the ODID multicast destination, and a
// beacon's vendor information elements (scanned for the ODID or
// French-regulation OUIs).
type DroneSink interface {
	ObserveActionFrame(src, dst [6]byte, payload []byte, rssi int, ts time.Time)
	ObserveBeaconIEs(src [6]byte, ieBody []byte, rssi int, ts time.Time)
}

// Sinks bundles every downstream consumer the classifier fans a frame
// out to. Triangulation, Drone and OnHit are optional (nil-safe).
type Sinks struct {
	Registry      RegistryMatcher
	Randomization ports.Analyzer
	Deauth        ports.Analyzer
	Baseline      ports.Analyzer
	Triangulation TriangulationSink
	Drone         DroneSink
	OnHit         func(domain.Hit)
}

// Classifier decodes captured frames and drives Sinks.
type Classifier struct {
	sinks Sinks
}

// New constructs a Classifier bound to the given downstream sinks.
func New(sinks Sinks) *Classifier {
	return &Classifier{sinks: sinks}
}

// addrSet is the decoded {a1,a2,a3,a4} tuple plus the resolved
// source/destination/BSSID roles, per the ToDS/FromDS table.
type addrSet struct {
	a1, a2, a3, a4 [6]byte
	hasA4          bool
	sa, da, bssid  [6]byte
}

func macOf(hw []byte) [6]byte {
	var m [6]byte
	copy(m[:], hw)
	return m
}

func decodeAddrs(dot11 *layers.Dot11) addrSet {
	set := addrSet{
		a1: macOf(dot11.Address1),
		a2: macOf(dot11.Address2),
		a3: macOf(dot11.Address3),
	}
	toDS := dot11.Flags.ToDS()
	fromDS := dot11.Flags.FromDS()
	if len(dot11.Address4) == 6 {
		set.a4 = macOf(dot11.Address4)
		set.hasA4 = true
	}

	switch {
	case !toDS && !fromDS: // IBSS/mgmt: a1=DA a2=SA a3=BSSID
		set.da, set.sa, set.bssid = set.a1, set.a2, set.a3
	case toDS && !fromDS: // to AP: a1=BSSID a2=SA a3=DA
		set.bssid, set.sa, set.da = set.a1, set.a2, set.a3
	case !toDS && fromDS: // from AP: a1=DA a2=BSSID a3=SA
		set.da, set.bssid, set.sa = set.a1, set.a2, set.a3
	default: // WDS: a1=RA a2=TA a3=DA a4=SA
		set.da, set.sa, set.bssid = set.a3, set.a4, set.a2
	}
	return set
}

// extractSeqNum implements seq extraction from the raw header:
// `seq = (payload[22] | payload[23]<<8) >> 4`, modulo 4096. gopacket
// already decodes this into dot11.SequenceNumber; both paths agree.
func extractSeqNum(dot11 *layers.Dot11) (uint16, bool) {
	return dot11.SequenceNumber % 4096, true
}

// ieOrderSignatureOf records the first MaxIEOrderTags IE tags
// in the order they appear, plus a rolling hash of that order: the
// behavioral-similarity fingerprint the randomization engine scores
// sessions against.
func ieOrderSignatureOf(ieBody []byte) domain.IEOrderSignature {
	var sig domain.IEOrderSignature
	var hash uint16 = 0xFFFF
	ie.IterateIEs(ieBody, func(id int, _ []byte) {
		if len(sig.Tags) >= domain.MaxIEOrderTags {
			return
		}
		sig.Tags = append(sig.Tags, uint8(id))
		hash = hash<<1 ^ hash>>15 ^ uint16(id)
	})
	sig.Hash = hash
	return sig
}

// ieFingerprintOf computes the six per-element CRC-16 fingerprint
// slots: HT capabilities (tag 45), VHT capabilities (tag 191), the
// merged supported + extended supported rates (tags 1 and 50),
// extended capabilities (tag 127), the first vendor IE (tag 221), and
// a composite over the whole element body. Absent elements leave
// their slot zero.
func ieFingerprintOf(ieBody []byte) [6]uint16 {
	var fp [6]uint16
	if len(ieBody) == 0 {
		return fp
	}
	if v := ie.FindIE(ieBody, 45); v != nil {
		fp[0] = domain.CRC16(v)
	}
	if v := ie.FindIE(ieBody, 191); v != nil {
		fp[1] = domain.CRC16(v)
	}
	rates := append(append([]byte{}, ie.FindIE(ieBody, 1)...), ie.FindIE(ieBody, 50)...)
	if len(rates) > 0 {
		fp[2] = domain.CRC16(rates)
	}
	if v := ie.FindIE(ieBody, 127); v != nil {
		fp[3] = domain.CRC16(v)
	}
	if v := ie.FindIE(ieBody, 221); v != nil {
		fp[4] = domain.CRC16(v)
	}
	fp[5] = domain.CRC16(ieBody)
	return fp
}

// extractChannel scans the IE list for tag 3 (DS Parameter Set),
// falling back to the radio's current capture channel.
func extractChannel(ieBody []byte, captureChannel int) int {
	if val := ie.FindIE(ieBody, 3); len(val) >= 1 {
		return int(val[0])
	}
	return captureChannel
}

// ClassifyWiFi decodes one captured Wi-Fi frame and dispatches it to
// the analyzers. rssi/captureChannel come from the RadioTap header
// and the scheduler's current channel, respectively.
func (c *Classifier) ClassifyWiFi(packet gopacket.Packet, rssi, captureChannel int, now time.Time) {
	dot11Layer := packet.Layer(layers.LayerTypeDot11)
	if dot11Layer == nil {
		return
	}
	dot11, ok := dot11Layer.(*layers.Dot11)
	if !ok {
		return
	}

	addrs := decodeAddrs(dot11)
	seqNum, seqValid := extractSeqNum(dot11)

	var ieBody []byte
	if layer := packet.Layer(layers.LayerTypeDot11MgmtBeacon); layer != nil {
		ieBody = layer.LayerPayload()
	} else if layer := packet.Layer(layers.LayerTypeDot11MgmtProbeReq); layer != nil {
		ieBody = layer.LayerPayload()
	} else if layer := packet.Layer(layers.LayerTypeDot11MgmtProbeResp); layer != nil {
		ieBody = layer.LayerPayload()
	}
	channel := extractChannel(ieBody, captureChannel)
	name := ie.ParseSSID(ieBody)

	frame := &ports.Frame{
		BSSID:         addrs.bssid,
		RSSI:          rssi,
		Channel:       channel,
		Timestamp:     now,
		SeqNum:        seqNum,
		SeqValid:      seqValid,
		Name:          name,
		IEBody:        ieBody,
		IEOrder:       ieOrderSignatureOf(ieBody),
		IEFingerprint: ieFingerprintOf(ieBody),
	}

	mainType := dot11.Type.MainType()
	switch {
	case mainType == layers.Dot11TypeMgmt && isProbeReq(dot11.Type):
		frame.MAC = addrs.sa
		c.routeToRandomization(frame)
		c.emitHitsFor(frame, addrs.sa)

	case mainType == layers.Dot11TypeMgmt && isAuthAssocReassoc(dot11.Type):
		frame.MAC = addrs.sa
		if domain.IsGlobalMAC(addrs.sa) {
			c.routeToRandomization(frame)
		}
		c.emitHitsFor(frame, addrs.sa)

	case mainType == layers.Dot11TypeMgmt && isDeauthDisassoc(dot11.Type):
		frame.MAC = addrs.sa
		frame.Dst = addrs.da
		frame.IsDeauth = dot11.Type == layers.Dot11TypeMgmtDeauthentication
		frame.IsDisassoc = dot11.Type == layers.Dot11TypeMgmtDisassociation
		frame.ReasonCode = reasonCodeOf(packet)
		c.routeToDeauth(frame)
		c.emitHitsFor(frame, addrs.a1, addrs.a2, addrs.a3)

	case mainType == layers.Dot11TypeData:
		if addrs.sa != domain.BroadcastMAC {
			f := *frame
			f.MAC = addrs.sa
			c.emitHitsFor(&f, addrs.sa)
		}
		if addrs.da != domain.BroadcastMAC {
			f := *frame
			f.MAC = addrs.da
			c.emitHitsFor(&f, addrs.da)
		}

	case mainType == layers.Dot11TypeMgmt && dot11.Type == layers.Dot11TypeMgmtAction:
		if c.sinks.Drone != nil {
			c.sinks.Drone.ObserveActionFrame(addrs.sa, addrs.da, dot11Layer.LayerPayload(), rssi, now)
		}
		c.emitHitsFor(frame, addrs.sa)

	case mainType == layers.Dot11TypeMgmt:
		if dot11.Type == layers.Dot11TypeMgmtBeacon {
			frame.MAC = addrs.sa
			c.routeToBaseline(frame)
			if c.sinks.Drone != nil {
				c.sinks.Drone.ObserveBeaconIEs(addrs.sa, ieBody, rssi, now)
			}
		}
		c.emitHitsFor(frame, addrs.sa, addrs.a3)
	}
}

func isProbeReq(t layers.Dot11Type) bool {
	return t == layers.Dot11TypeMgmtProbeReq
}

func isAuthAssocReassoc(t layers.Dot11Type) bool {
	return t == layers.Dot11TypeMgmtAuthentication ||
		t == layers.Dot11TypeMgmtAssociationReq ||
		t == layers.Dot11TypeMgmtReassociationReq
}

func isDeauthDisassoc(t layers.Dot11Type) bool {
	return t == layers.Dot11TypeMgmtDeauthentication || t == layers.Dot11TypeMgmtDisassociation
}

func reasonCodeOf(packet gopacket.Packet) uint16 {
	if layer := packet.Layer(layers.LayerTypeDot11MgmtDeauthentication); layer != nil {
		if d, ok := layer.(*layers.Dot11MgmtDeauthentication); ok {
			return uint16(d.Reason)
		}
	}
	if layer := packet.Layer(layers.LayerTypeDot11MgmtDisassociation); layer != nil {
		if d, ok := layer.(*layers.Dot11MgmtDisassociation); ok {
			return uint16(d.Reason)
		}
	}
	return 0
}

func (c *Classifier) routeToRandomization(f *ports.Frame) {
	if c.sinks.Randomization != nil {
		c.sinks.Randomization.Ingest(f)
	}
}

func (c *Classifier) routeToDeauth(f *ports.Frame) {
	if c.sinks.Deauth != nil {
		c.sinks.Deauth.Ingest(f)
	}
}

func (c *Classifier) routeToBaseline(f *ports.Frame) {
	if c.sinks.Baseline != nil {
		c.sinks.Baseline.Ingest(f)
	}
}

// emitHitsFor tests every candidate against the target registry,
// emitting one Hit per match and feeding the triangulation
// accumulator.
func (c *Classifier) emitHitsFor(f *ports.Frame, candidates ...[6]byte) {
	if c.sinks.Registry == nil {
		return
	}
	seen := make(map[[6]byte]bool, len(candidates))
	for _, mac := range candidates {
		if mac == domain.BroadcastMAC || seen[mac] {
			continue
		}
		seen[mac] = true
		if c.sinks.Registry.IsAllowlisted(mac) {
			continue
		}
		if !c.sinks.Registry.Matches(mac) {
			continue
		}
		band := "wifi"
		if f.IsBLE {
			band = "ble"
		}
		telemetry.HitsEmitted.WithLabelValues(band).Inc()
		hit := domain.NewHit(mac, f.RSSI, f.Channel, f.Name, f.IsBLE, f.Timestamp)
		if c.sinks.OnHit != nil {
			c.sinks.OnHit(hit)
		}
		if c.sinks.Triangulation != nil {
			c.sinks.Triangulation.ObserveHit(mac, f.RSSI, f.IsBLE, f.Timestamp)
		}
	}
}

// BLEAdvertisement is the decoded shape of a captured BLE advertising
// report. No BLE parsing library exists in the dependency set this
// module draws from, so the adapter that drives a BLE HCI socket is
// expected to fill this struct directly from raw AD structures.
type BLEAdvertisement struct {
	MAC              [6]byte
	RSSI             int
	Name             string
	Timestamp        time.Time
	ManufacturerData []byte
	ServiceUUIDs     []byte
	ServiceDataUUID  []byte
}

// ClassifyBLE routes one BLE advertisement through the same sinks as
// a Wi-Fi frame: registry matching, probe-session tracking (BLE sessions use
// the same randomized/global split on the advertising address), and
// baseline learning.
func (c *Classifier) ClassifyBLE(adv BLEAdvertisement) {
	var fp [6]uint16
	if len(adv.ManufacturerData) > 0 {
		fp[0] = domain.CRC16(adv.ManufacturerData)
	}
	if len(adv.ServiceUUIDs) > 0 {
		fp[1] = domain.CRC16(adv.ServiceUUIDs)
	}
	if len(adv.ServiceDataUUID) > 0 {
		fp[2] = domain.CRC16(adv.ServiceDataUUID)
	}
	frame := &ports.Frame{
		MAC:           adv.MAC,
		RSSI:          adv.RSSI,
		Timestamp:     adv.Timestamp,
		IsBLE:         true,
		Name:          adv.Name,
		IEFingerprint: fp,
	}
	if domain.IsRandomizedMAC(adv.MAC) {
		c.routeToRandomization(frame)
	}
	c.routeToBaseline(frame)
	c.emitHitsFor(frame, adv.MAC)
}
