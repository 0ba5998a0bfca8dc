// Package drone implements the Open Drone ID / French-regulation
// remote-ID analyzer: it recognizes the two broadcast wire formats
// (NAN action frames and beacon vendor IEs) and keeps a bounded map
// of recently-seen drones for the DRONE_STATUS mesh summary line,
// trimmed of stale entries by Cleanup; heap pressure is not observed
// and triggers no trim. ODID message-pack binary layout is
// deferred to the standard itself; the vendor-IE/NAN recognition and
// the French TLV layout are both implemented.
package drone

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/skyline-mesh/sentryhop/internal/adapters/sniffer/ie"
	"github.com/skyline-mesh/sentryhop/internal/core/domain"
	"github.com/skyline-mesh/sentryhop/internal/telemetry"
)

// Detector tracks detected drones keyed by UAV ID, falling back to
// MAC when no ID was recovered, so one drone rotating its MAC stays
// one entry.
type Detector struct {
	mu       sync.Mutex
	drones   map[string]*domain.DroneDetection
	eventLog []string
}

// New constructs an empty Detector.
func New() *Detector {
	return &Detector{drones: make(map[string]*domain.DroneDetection)}
}

// ObserveActionFrame handles a NAN action frame addressed to the ODID
// multicast destination. The ODID message-pack payload itself is
// opaque to this analyzer (see package doc); a sighting is still
// recorded so DRONE_STATUS reflects the detection even without decoded
// telemetry fields.
func (d *Detector) ObserveActionFrame(src, dst [6]byte, payload []byte, rssi int, ts time.Time) {
	if dst != domain.ODIDNANDestMAC || len(payload) == 0 {
		return
	}
	d.record(&domain.DroneDetection{MAC: src, RSSI: rssi, LastSeen: ts}, ts)
}

// ObserveBeaconIEs scans a beacon's information elements for the
// vendor-specific (tag 221 / 0xdd) IEs ODID and the French regulation
// both use
func (d *Detector) ObserveBeaconIEs(src [6]byte, ieBody []byte, rssi int, ts time.Time) {
	ie.IterateIEs(ieBody, func(id int, val []byte) {
		if id != 0xdd || len(val) < 3 {
			return
		}
		oui := [3]byte{val[0], val[1], val[2]}
		switch {
		case oui == domain.FrenchVendorOUI:
			drone := parseFrenchTLV(val)
			drone.MAC = src
			drone.RSSI = rssi
			drone.LastSeen = ts
			drone.IsFrench = true
			d.record(&drone, ts)
		case oui == domain.ODIDVendorOUI1 || oui == domain.ODIDVendorOUI2:
			// Message-pack payload follows the OUI + vendor type byte:
			// val[0:3]=OUI, val[3]=vendor type, pack starts at val[4:].
			// Layout is opaque to this analyzer.
			if len(val) <= 4 {
				return
			}
			d.record(&domain.DroneDetection{MAC: src, RSSI: rssi, LastSeen: ts}, ts)
		}
	})
}

// parseFrenchTLV decodes the French-regulation vendor IE's
// tag-length-value body: tags 2-11 map to operator-id,
// UAV-id, lat, lon, alt-MSL, height-AGL, base-lat, base-lon, speed,
// heading. val is the vendor IE body starting at the OUI; the TLV
// stream itself starts after the 3-byte OUI and the vendor-type byte,
// i.e. at val[4:].
func parseFrenchTLV(val []byte) domain.DroneDetection {
	var drone domain.DroneDetection
	if len(val) <= 4 {
		return drone
	}
	body := val[4:]
	j := 0
	for j+2 <= len(body) {
		tag := body[j]
		length := int(body[j+1])
		if j+2+length > len(body) {
			break
		}
		v := body[j+2 : j+2+length]
		switch tag {
		case 2: // operator id carries a 6-byte sub-header before the text
			if len(v) > 6 {
				drone.OperatorID = trimNulls(v[6:])
			}
		case 3:
			drone.UAVID = trimNulls(v)
		case 4:
			if len(v) >= 4 {
				drone.Latitude = 1.0e-5 * float64(int32be(v))
			}
		case 5:
			if len(v) >= 4 {
				drone.Longitude = 1.0e-5 * float64(int32be(v))
			}
		case 6:
			if len(v) >= 2 {
				drone.AltitudeMSL = float64(int16be(v))
			}
		case 7:
			if len(v) >= 2 {
				drone.HeightAGL = float64(int16be(v))
			}
		case 8:
			if len(v) >= 4 {
				drone.OperatorLat = 1.0e-5 * float64(int32be(v))
			}
		case 9:
			if len(v) >= 4 {
				drone.OperatorLon = 1.0e-5 * float64(int32be(v))
			}
		case 10:
			if len(v) >= 1 {
				drone.Speed = float64(v[0])
			}
		case 11:
			if len(v) >= 2 {
				drone.Heading = float64(uint16(v[0])<<8 | uint16(v[1]))
			}
		}
		j += length + 2
	}
	return drone
}

func int32be(v []byte) int32 {
	u := uint32(v[0])<<24 | uint32(v[1])<<16 | uint32(v[2])<<8 | uint32(v[3])
	return int32(u)
}

func int16be(v []byte) int16 {
	u := uint16(v[0])<<8 | uint16(v[1])
	return int16(u)
}

func trimNulls(b []byte) string {
	return strings.TrimRight(string(b), "\x00")
}

// record upserts a sighting, keyed by UAV ID when known else MAC, and
// enforces the memory budget: cap at MaxDetectedDrones, drop the
// oldest event-log entry once MaxDroneLogEntries is reached. A new
// drone arriving while the map is full first triggers a stale-entry
// eviction; if the map is still full, the new drone is dropped and
// the tracked ones are kept.
func (d *Detector) record(drone *domain.DroneDetection, ts time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := drone.UAVID
	if key == "" {
		key = domain.FormatMAC(drone.MAC)
	}
	if existing, ok := d.drones[key]; ok {
		existing.RSSI = drone.RSSI
		existing.LastSeen = ts
		if drone.Latitude != 0 || drone.Longitude != 0 {
			existing.Latitude, existing.Longitude = drone.Latitude, drone.Longitude
			existing.AltitudeMSL, existing.HeightAGL = drone.AltitudeMSL, drone.HeightAGL
			existing.Speed, existing.Heading = drone.Speed, drone.Heading
			existing.OperatorLat, existing.OperatorLon = drone.OperatorLat, drone.OperatorLon
		}
		if drone.OperatorID != "" {
			existing.OperatorID = drone.OperatorID
		}
		d.appendLog(fmt.Sprintf("DRONE %s seen RSSI %d", key, drone.RSSI))
		return
	}

	if len(d.drones) >= domain.MaxDetectedDrones {
		d.evictStaleLocked(ts)
		if len(d.drones) >= domain.MaxDetectedDrones {
			return // still full after eviction: drop silently
		}
	}
	drone.FirstSeen = ts
	if drone.LastSeen.IsZero() {
		drone.LastSeen = ts
	}
	d.drones[key] = drone
	telemetry.DroneDetections.Inc()
	d.appendLog(fmt.Sprintf("DRONE %s new RSSI %d", key, drone.RSSI))
}

func (d *Detector) appendLog(line string) {
	d.eventLog = append(d.eventLog, line)
	if len(d.eventLog) > domain.MaxDroneLogEntries {
		d.eventLog = d.eventLog[1:]
	}
}

func (d *Detector) evictStaleLocked(now time.Time) {
	for key, drone := range d.drones {
		if now.Sub(drone.LastSeen) > domain.DroneStaleTime {
			delete(d.drones, key)
		}
	}
}

// Cleanup trims drones not seen within DroneStaleTime. main calls it
// on its fixed 60-tick cleanup cadence; no caller reacts to heap
// pressure, and the event log is not trimmed here.
func (d *Detector) Cleanup(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.evictStaleLocked(now)
}

// Stop is a no-op; the drone map is not persisted, so there is
// nothing to flush.
func (d *Detector) Stop() {}

// Results renders a DRONE_STATUS summary: count and the most
// recently-seen drones.
func (d *Detector) Results() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.drones) == 0 {
		return "DRONE_STATUS: none detected"
	}
	ids := make([]string, 0, len(d.drones))
	for id := range d.drones {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return d.drones[ids[i]].LastSeen.After(d.drones[ids[j]].LastSeen)
	})

	var b strings.Builder
	fmt.Fprintf(&b, "DRONE_STATUS: %d tracked", len(d.drones))
	for i, id := range ids {
		if i >= 5 {
			break
		}
		drone := d.drones[id]
		fmt.Fprintf(&b, " | %s R%d GPS:%.6f,%.6f ALT:%.1f SPD:%.1f",
			id, drone.RSSI, drone.Latitude, drone.Longitude, drone.AltitudeMSL, drone.Speed)
	}
	return b.String()
}
