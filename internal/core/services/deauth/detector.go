// Package deauth implements the deauth/disassoc attack detector:
// per-destination sliding-window flood detection plus reason-code
// flags, with a bounded attack log.
package deauth

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/skyline-mesh/sentryhop/internal/core/domain"
	"github.com/skyline-mesh/sentryhop/internal/core/ports"
	"github.com/skyline-mesh/sentryhop/internal/telemetry"
)

// victimRollup is the per-victim-MAC summary kept for the results text.
type victimRollup struct {
	total, broadcast, targeted int
	lastRSSI, channel          int
}

// attackerTally counts attacks attributed to one source MAC, for the
// top-5 tabulation.
type attackerTally struct {
	src   [6]byte
	count int
}

// Detector tracks per-destination sliding windows of deauth/disassoc
// timestamps and a bounded attack log.
type Detector struct {
	mu sync.Mutex

	perDst map[[6]byte][]time.Time // sliding 10s windows, keyed by dst

	log []domain.DeauthHit

	deauthCount   int
	disassocCount int

	victims   map[[6]byte]*victimRollup
	attackers map[[6]byte]int

	lastCleanup time.Time

	// OnAttack, when set, is called with every flagged DeauthHit as it
	// is logged. Same optional-observer shape as classifier.Sinks.OnHit,
	// wired by main to the operator WebSocket mirror rather than
	// threaded through the constructor.
	OnAttack func(domain.DeauthHit)
}

// New constructs an empty Detector.
func New() *Detector {
	return &Detector{
		perDst:    make(map[[6]byte][]time.Time),
		victims:   make(map[[6]byte]*victimRollup),
		attackers: make(map[[6]byte]int),
	}
}

// Ingest feeds one deauth/disassoc frame through the detector:
// record, test the attack rules, log. Non-deauth/disassoc frames are
// ignored.
func (d *Detector) Ingest(f *ports.Frame) {
	if !f.IsDeauth && !f.IsDisassoc {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	isBroadcast := domain.IsBroadcastMAC(f.Dst)

	window := append(d.perDst[f.Dst], f.Timestamp)
	window = pruneWindow(window, f.Timestamp)
	d.perDst[f.Dst] = window

	isAttack := isBroadcast || len(window) >= domain.DeauthWindowThreshold || domain.IsAttackReasonCode(f.ReasonCode)
	if !isAttack {
		return
	}

	if f.IsDisassoc {
		d.disassocCount++
		telemetry.DeauthAttacksDetected.WithLabelValues("disassoc").Inc()
	} else {
		d.deauthCount++
		telemetry.DeauthAttacksDetected.WithLabelValues("deauth").Inc()
	}

	hit := domain.DeauthHit{
		Src:         f.MAC,
		Dst:         f.Dst,
		BSSID:       f.BSSID,
		RSSI:        f.RSSI,
		Channel:     f.Channel,
		ReasonCode:  f.ReasonCode,
		Timestamp:   f.Timestamp,
		IsDisassoc:  f.IsDisassoc,
		IsBroadcast: isBroadcast,
	}
	if len(d.log) < domain.DeauthLogCap {
		d.log = append(d.log, hit)
	} // else: log full, drop the new entry
	if d.OnAttack != nil {
		d.OnAttack(hit)
	}

	rollup, ok := d.victims[f.Dst]
	if !ok {
		rollup = &victimRollup{}
		d.victims[f.Dst] = rollup
	}
	rollup.total++
	if isBroadcast {
		rollup.broadcast++
	} else {
		rollup.targeted++
	}
	rollup.lastRSSI = f.RSSI
	rollup.channel = f.Channel

	d.attackers[f.MAC]++
}

func pruneWindow(window []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-domain.DeauthWindowDuration)
	i := 0
	for i < len(window) && window[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return window
	}
	return append([]time.Time(nil), window[i:]...)
}

// Cleanup is the periodic sweep: expire stale
// per-dst windows and cap the per-dst map size, dropping the oldest
// entries first. Callers should invoke this every DeauthCleanupInterval.
func (d *Detector) Cleanup(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for dst, window := range d.perDst {
		pruned := pruneWindow(window, now)
		if len(pruned) == 0 {
			delete(d.perDst, dst)
		} else {
			d.perDst[dst] = pruned
		}
	}

	if len(d.perDst) <= domain.DeauthPerDstCap {
		return
	}
	type entry struct {
		dst    [6]byte
		oldest time.Time
	}
	entries := make([]entry, 0, len(d.perDst))
	for dst, window := range d.perDst {
		oldest := now
		if len(window) > 0 {
			oldest = window[0]
		}
		entries = append(entries, entry{dst: dst, oldest: oldest})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].oldest.Before(entries[j].oldest) })
	drop := len(d.perDst) - domain.DeauthPerDstCap
	for i := 0; i < drop; i++ {
		delete(d.perDst, entries[i].dst)
	}
}

// Stop is a no-op; the detector holds no external resources.
func (d *Detector) Stop() {}

// Results renders the per-victim rollup and top-5 attacker
// tabulation.
func (d *Detector) Results() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var sb strings.Builder
	fmt.Fprintf(&sb, "Deauth:%d Disassoc:%d\n", d.deauthCount, d.disassocCount)

	victims := make([][6]byte, 0, len(d.victims))
	for mac := range d.victims {
		victims = append(victims, mac)
	}
	sort.Slice(victims, func(i, j int) bool { return domain.FormatMAC(victims[i]) < domain.FormatMAC(victims[j]) })
	for _, mac := range victims {
		r := d.victims[mac]
		fmt.Fprintf(&sb, "Victim %s: total=%d broadcast=%d targeted=%d last_rssi=%d chan=%d\n",
			domain.FormatMAC(mac), r.total, r.broadcast, r.targeted, r.lastRSSI, r.channel)
	}

	tallies := make([]attackerTally, 0, len(d.attackers))
	for mac, count := range d.attackers {
		tallies = append(tallies, attackerTally{src: mac, count: count})
	}
	sort.Slice(tallies, func(i, j int) bool { return tallies[i].count > tallies[j].count })
	if len(tallies) > 5 {
		tallies = tallies[:5]
	}
	if len(tallies) > 0 {
		sb.WriteString("Top attackers:\n")
		for _, t := range tallies {
			fmt.Fprintf(&sb, "  %s: %d\n", domain.FormatMAC(t.src), t.count)
		}
	}
	return sb.String()
}

var _ ports.Analyzer = (*Detector)(nil)
