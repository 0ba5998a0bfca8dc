package domain

import "time"

// Hit is an emitted observation of a frame matching the target
// registry; allowlisted MACs never produce one.
type Hit struct {
	MAC       [6]byte
	RSSI      int
	Channel   int
	Name      string // truncated to 31 bytes
	IsBLE     bool
	Timestamp time.Time
}

// MaxHitNameLength bounds Hit.Name.
const MaxHitNameLength = 31

// NewHit truncates name to the wire limit before constructing a Hit.
func NewHit(mac [6]byte, rssi, channel int, name string, isBLE bool, ts time.Time) Hit {
	if len(name) > MaxHitNameLength {
		name = name[:MaxHitNameLength]
	}
	return Hit{MAC: mac, RSSI: rssi, Channel: channel, Name: name, IsBLE: isBLE, Timestamp: ts}
}

// DeauthHit is an emitted observation of a deauth/disassoc frame.
type DeauthHit struct {
	Src         [6]byte
	Dst         [6]byte
	BSSID       [6]byte
	RSSI        int
	Channel     int
	ReasonCode  uint16
	Timestamp   time.Time
	IsDisassoc  bool
	IsBroadcast bool
}

// BroadcastMAC is the all-ones broadcast address.
var BroadcastMAC = [6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// IsBroadcastMAC reports whether mac is the broadcast address.
func IsBroadcastMAC(mac [6]byte) bool {
	return mac == BroadcastMAC
}

// IsRandomizedMAC reports whether mac carries the locally-administered
// bit and is not a multicast/broadcast address: bit 0x02 set, bit 0x01
// clear on the first octet.
func IsRandomizedMAC(mac [6]byte) bool {
	return mac[0]&0x02 != 0 && mac[0]&0x01 == 0
}

// IsGlobalMAC reports the converse: a burned-in, non-multicast address.
func IsGlobalMAC(mac [6]byte) bool {
	return mac[0]&0x02 == 0 && mac[0]&0x01 == 0
}
