// Package baseline implements the two-phase baseline detector: a
// learn phase that passively profiles devices, followed by a monitor
// phase that flags new, reappearing, or RSSI-shifted devices as
// anomalies.
package baseline

import (
	"fmt"
	"sync"
	"time"

	"github.com/skyline-mesh/sentryhop/internal/core/domain"
	"github.com/skyline-mesh/sentryhop/internal/core/ports"
)

// AllowlistChecker reports whether a MAC is allowlisted; allowlisted
// MACs never produce anomalies.
type AllowlistChecker interface {
	IsAllowlisted(mac [6]byte) bool
}

// Phase identifies which half of the two-phase detector is active.
type Phase int

const (
	PhaseLearn Phase = iota
	PhaseMonitor
)

// Detector runs the learn/monitor state machine over a stream of
// frames.
type Detector struct {
	mu sync.Mutex

	cfg       domain.BaselineConfig
	allowlist AllowlistChecker

	phase      Phase
	learnStart time.Time

	devices map[[6]byte]*domain.BaselineDevice

	anomalies []domain.BaselineAnomaly
}

// New constructs a Detector entering the learn phase at startTime.
func New(cfg domain.BaselineConfig, allowlist AllowlistChecker, startTime time.Time) *Detector {
	cfg.Clamp()
	return &Detector{
		cfg:        cfg,
		allowlist:  allowlist,
		phase:      PhaseLearn,
		learnStart: startTime,
		devices:    make(map[[6]byte]*domain.BaselineDevice),
	}
}

// Ingest folds one observation into the active phase.
func (d *Detector) Ingest(f *ports.Frame) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.advancePhase(f.Timestamp)

	if d.allowlist != nil && d.allowlist.IsAllowlisted(f.MAC) {
		return
	}

	switch d.phase {
	case PhaseLearn:
		d.learn(f)
	case PhaseMonitor:
		d.monitor(f)
	}
}

func (d *Detector) advancePhase(now time.Time) {
	if d.phase == PhaseLearn && now.Sub(d.learnStart) >= d.cfg.LearnDuration {
		d.phase = PhaseMonitor
	}
}

func (d *Detector) learn(f *ports.Frame) {
	if f.RSSI < d.cfg.RSSIThreshold {
		return
	}
	dev, ok := d.devices[f.MAC]
	if !ok {
		if len(d.devices) >= d.cfg.RAMCap {
			return // RAM cap reached during learn: drop the new device silently
		}
		dev = &domain.BaselineDevice{MAC: f.MAC, IsBLE: f.IsBLE}
		d.devices[f.MAC] = dev
	}
	dev.Observe(f.RSSI, f.Channel, f.Name, f.Timestamp)
}

func (d *Detector) monitor(f *ports.Frame) {
	dev, known := d.devices[f.MAC]

	if !known {
		d.emit(f, "new device")
		dev = &domain.BaselineDevice{MAC: f.MAC, IsBLE: f.IsBLE}
		if len(d.devices) < d.cfg.RAMCap {
			d.devices[f.MAC] = dev
		}
		dev.Observe(f.RSSI, f.Channel, f.Name, f.Timestamp)
		return
	}

	if dev.WasAbsent {
		absence := f.Timestamp.Sub(dev.AbsentSince)
		if absence >= d.cfg.AbsenceThreshold && absence <= d.cfg.AbsenceThreshold+d.cfg.ReappearanceWindow {
			d.emit(f, fmt.Sprintf("reappeared after %s", absence.Round(time.Second)))
		}
		dev.WasAbsent = false
	}

	if delta := float64(f.RSSI) - dev.AvgRSSI; delta >= float64(d.cfg.SignificantRSSI) || -delta >= float64(d.cfg.SignificantRSSI) {
		d.emit(f, fmt.Sprintf("RSSI change %.1f dB", delta))
	}

	dev.Observe(f.RSSI, f.Channel, f.Name, f.Timestamp)
	dev.LastSeen = f.Timestamp
}

// MarkAbsent flags dev as absent as of ts.
func (d *Detector) MarkAbsent(mac [6]byte, ts time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if dev, ok := d.devices[mac]; ok && !dev.WasAbsent {
		dev.WasAbsent = true
		dev.AbsentSince = ts
	}
}

// SweepAbsent marks every known device not seen for the absence
// threshold as absent, dating the absence from when it was last seen.
// Driven from the node's periodic tick.
func (d *Detector) SweepAbsent(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.phase != PhaseMonitor {
		return
	}
	for _, dev := range d.devices {
		if !dev.WasAbsent && !dev.LastSeen.IsZero() && now.Sub(dev.LastSeen) >= d.cfg.AbsenceThreshold {
			dev.WasAbsent = true
			dev.AbsentSince = dev.LastSeen
		}
	}
}

func (d *Detector) emit(f *ports.Frame, reason string) {
	d.anomalies = append(d.anomalies, domain.BaselineAnomaly{
		MAC:       f.MAC,
		IsBLE:     f.IsBLE,
		RSSI:      f.RSSI,
		Channel:   f.Channel,
		Name:      f.Name,
		Reason:    reason,
		Timestamp: f.Timestamp,
	})
}

// Stop is a no-op; the detector holds no external resources.
func (d *Detector) Stop() {}

// Results renders one line per anomaly, `type mac rssi chan name — reason`.
func (d *Detector) Results() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := ""
	for _, a := range d.anomalies {
		kind := "wifi"
		if a.IsBLE {
			kind = "ble"
		}
		out += fmt.Sprintf("%s %s %d %d %s — %s\n", kind, domain.FormatMAC(a.MAC), a.RSSI, a.Channel, a.Name, a.Reason)
	}
	return out
}

var _ ports.Analyzer = (*Detector)(nil)
