package domain

import "time"

// Baseline detector constants and defaults.
const (
	DefaultLearnDuration      = 5 * time.Minute
	DefaultRSSIThreshold      = -60
	DefaultAbsenceThreshold   = 120 * time.Second
	DefaultReappearanceWindow = 300 * time.Second
	DefaultSignificantRSSI    = 20

	DefaultBaselineRAMCap = 400
	MinBaselineRAMCap     = 200
	MaxBaselineRAMCap     = 500

	DefaultBaselineSDCap = 50_000
	MinBaselineSDCap     = 1_000
	MaxBaselineSDCap     = 100_000
)

// BaselineDevice is one learned-phase device record.
type BaselineDevice struct {
	MAC      [6]byte
	IsBLE    bool
	AvgRSSI  float64
	MinRSSI  int
	MaxRSSI  int
	HitCount int
	Channel  int
	Name     string
	LastSeen time.Time

	// AbsentSince is set the instant the device transitions out of
	// view during phase 2, and cleared on reappearance; used by the
	// absence/reappearance anomaly rule.
	AbsentSince time.Time
	WasAbsent   bool
}

// Observe folds a new RSSI sample into the running average and
// min/max rollup for this device.
func (b *BaselineDevice) Observe(rssi int, channel int, name string, ts time.Time) {
	n := float64(b.HitCount)
	b.AvgRSSI = (b.AvgRSSI*n + float64(rssi)) / (n + 1)
	if b.HitCount == 0 || rssi < b.MinRSSI {
		b.MinRSSI = rssi
	}
	if b.HitCount == 0 || rssi > b.MaxRSSI {
		b.MaxRSSI = rssi
	}
	b.HitCount++
	b.Channel = channel
	if name != "" {
		b.Name = name
	}
	b.LastSeen = ts
}

// BaselineAnomaly is one emitted deviation from the learned
// baseline.
type BaselineAnomaly struct {
	MAC       [6]byte
	IsBLE     bool
	RSSI      int
	Channel   int
	Name      string
	Reason    string
	Timestamp time.Time
}

// BaselineConfig holds the operator-tunable thresholds for the
// two-phase baseline detector.
type BaselineConfig struct {
	LearnDuration      time.Duration
	RSSIThreshold      int
	AbsenceThreshold   time.Duration
	ReappearanceWindow time.Duration
	SignificantRSSI    int
	RAMCap             int
	SDCap              int
}

// DefaultBaselineConfig returns the factory defaults; the default
// RAM/SD cache caps already lie inside the ranges Clamp enforces.
func DefaultBaselineConfig() BaselineConfig {
	return BaselineConfig{
		LearnDuration:      DefaultLearnDuration,
		RSSIThreshold:      DefaultRSSIThreshold,
		AbsenceThreshold:   DefaultAbsenceThreshold,
		ReappearanceWindow: DefaultReappearanceWindow,
		SignificantRSSI:    DefaultSignificantRSSI,
		RAMCap:             DefaultBaselineRAMCap,
		SDCap:              DefaultBaselineSDCap,
	}
}

// Clamp bounds RAMCap/SDCap to their documented ranges.
func (c *BaselineConfig) Clamp() {
	c.RAMCap = clampInt(c.RAMCap, MinBaselineRAMCap, MaxBaselineRAMCap)
	c.SDCap = clampInt(c.SDCap, MinBaselineSDCap, MaxBaselineSDCap)
}

// Deauth detector constants.
const (
	DeauthWindowDuration  = 10 * time.Second
	DeauthWindowThreshold = 3
	DeauthLogCap          = 2000
	DeauthCleanupInterval = 60 * time.Second
	DeauthPerDstCap       = 200
)

// attackReasonCodes are the 802.11 deauth/disassoc reason codes that
// unconditionally flag an attack.
var attackReasonCodes = map[uint16]bool{1: true, 2: true, 6: true, 7: true}

// IsAttackReasonCode reports whether code is one of the reason codes
// that unconditionally flags a deauth/disassoc frame as an attack.
func IsAttackReasonCode(code uint16) bool {
	return attackReasonCodes[code]
}
