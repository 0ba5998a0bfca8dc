package domain

import (
	"math"
	"time"
)

// Triangulation session constants.
const (
	MinTriangulationNodes = 3
	MaxTriangulationNodes = 12

	DefaultWiFiPathLossExp = 2.7
	DefaultWiFiRefRSSIAt1m = -40.0
	DefaultBLEPathLossExp  = 2.2
	DefaultBLERefRSSIAt1m  = -59.0
	PathLossCalibMinSample = 5
	PathLossExponentMin    = 1.5
	PathLossExponentMax    = 6.0
	PathLossRefRSSIMin     = -60.0
	PathLossRefRSSIMax     = -20.0

	MaxRSSIHistoryPerNode = 10
	RSSIRawWindowSize     = 5

	NodeKalmanProcessNoise = 0.5

	TriSendInterval      = 3 * time.Second
	TriJitterMaxMS       = 2000
	TriStopAckWait       = 700 * time.Millisecond
	TriStabilizeMin      = 5 * time.Second
	TriStabilizeMax      = 40 * time.Second
	TriStabilizeSettle   = 3 * time.Second
	ChildSelfTimeoutWait = 5 * time.Second

	UEREMeters = 4.0

	ClockSyncInterval   = 30 * time.Second
	ClockSyncTimeout    = 5 * time.Second
	RTCDriftConvergePPM = 5.0

	CalibrationHoldDuration = 30 * time.Second
)

// TriangulationRole distinguishes the node that opened a session from
// the nodes cooperating in it.
type TriangulationRole int

const (
	RoleChild TriangulationRole = iota
	RoleInitiator
)

// KalmanFilterState is a scalar Kalman filter, used here to smooth
// one reporting node's RSSI stream across successive reports.
type KalmanFilterState struct {
	Estimate    float64
	ErrorCovar  float64
	ProcessVar  float64
	MeasVar     float64
	Initialized bool
}

// NewKalmanFilterState constructs a filter with the given process and
// measurement noise variances.
func NewKalmanFilterState(processVar, measVar float64) KalmanFilterState {
	return KalmanFilterState{ProcessVar: processVar, MeasVar: measVar}
}

// Update folds one new measurement into the filter and returns the
// updated estimate. While Initialized is false the first Update
// returns the raw measurement unchanged.
func (k *KalmanFilterState) Update(measurement float64) float64 {
	if !k.Initialized {
		k.Estimate = measurement
		k.ErrorCovar = k.MeasVar
		k.Initialized = true
		return k.Estimate
	}

	predictedCovar := k.ErrorCovar + k.ProcessVar
	gain := predictedCovar / (predictedCovar + k.MeasVar)
	k.Estimate += gain * (measurement - k.Estimate)
	k.ErrorCovar = (1 - gain) * predictedCovar
	return k.Estimate
}

// TriangulationNode is one mesh peer's contribution to an active
// session.
type TriangulationNode struct {
	NodeID string

	Lat, Lon float64
	HDOP     float64
	HasGPS   bool

	RSSI          float64 // raw latest
	FilteredRSSI  float64
	RSSIHistory   []float64 // capped at MaxRSSIHistoryPerNode
	RSSIRawWindow []float64 // capped at RSSIRawWindowSize, median-filtered into the Kalman input

	Kalman KalmanFilterState

	SignalQuality    float64
	DistanceEstimate float64

	IsBLE      bool
	HitCount   int
	LastUpdate time.Time
}

// UpdateRSSI folds a new raw RSSI report into the node: push into the
// 5-wide raw window; once full, feed the window's median into the
// Kalman filter (else the raw sample); push the raw sample into the
// 10-wide history. Measurement noise tracks the history variance with
// a floor of 2.0.
func (n *TriangulationNode) UpdateRSSI(rawRSSI float64, now time.Time) {
	n.RSSI = rawRSSI
	n.RSSIRawWindow = append(n.RSSIRawWindow, rawRSSI)
	if len(n.RSSIRawWindow) > RSSIRawWindowSize {
		n.RSSIRawWindow = n.RSSIRawWindow[1:]
	}

	input := rawRSSI
	if len(n.RSSIRawWindow) == RSSIRawWindowSize {
		input = medianOf(n.RSSIRawWindow)
	}
	n.Kalman.ProcessVar = NodeKalmanProcessNoise
	n.Kalman.MeasVar = math.Max(2.0, variance(n.RSSIHistory))
	n.FilteredRSSI = n.Kalman.Update(input)

	n.RSSIHistory = append(n.RSSIHistory, rawRSSI)
	if len(n.RSSIHistory) > MaxRSSIHistoryPerNode {
		n.RSSIHistory = n.RSSIHistory[1:]
	}

	n.HitCount++
	n.LastUpdate = now
}

func medianOf(xs []float64) float64 {
	sorted := append([]float64(nil), xs...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	return sorted[len(sorted)/2]
}

func stddev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var variance float64
	for _, x := range xs {
		variance += (x - mean) * (x - mean)
	}
	variance /= float64(len(xs))
	return math.Sqrt(variance)
}

func variance(xs []float64) float64 {
	s := stddev(xs)
	return s * s
}

// RecomputeSignalQuality applies step 4:
// signal_quality = 0.6·stability + 0.4·strength, where
// stability = 1/(1+σ_rssi_history) and
// strength = clamp((filtered_rssi+100)/100, 0, 1).
func (n *TriangulationNode) RecomputeSignalQuality() {
	stability := 1.0 / (1.0 + stddev(n.RSSIHistory))
	strength := clampFloat((n.FilteredRSSI+100)/100, 0, 1)
	n.SignalQuality = 0.6*stability + 0.4*strength
}

// RecomputeDistance applies step 5:
// distance = 10^((RSSI0-filtered_rssi)/(10n)) · (1+0.5·(1-signal_quality)),
// clamped to [0.1, 200] meters.
func (n *TriangulationNode) RecomputeDistance(model PathLossModel) {
	exponent := (model.RefRSSIAt1m - n.FilteredRSSI) / (10 * model.Exponent)
	d := math.Pow(10, exponent) * (1 + 0.5*(1-n.SignalQuality))
	n.DistanceEstimate = clampFloat(d, 0.1, 200.0)
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// PathLossModel holds the log-distance path-loss parameters used to
// convert RSSI into a distance estimate: d = 10^((refRSSI - rssi) / (10*n)).
type PathLossModel struct {
	Exponent    float64
	RefRSSIAt1m float64

	Calibrated  bool
	SampleCount int

	// EMA-blended once calibrated at least once; adopted directly on
	// the first calibration.
}

// DefaultWiFiPathLossModel and DefaultBLEPathLossModel return the
// factory presets used before adaptive calibration converges.
func DefaultWiFiPathLossModel() PathLossModel {
	return PathLossModel{Exponent: DefaultWiFiPathLossExp, RefRSSIAt1m: DefaultWiFiRefRSSIAt1m}
}

func DefaultBLEPathLossModel() PathLossModel {
	return PathLossModel{Exponent: DefaultBLEPathLossExp, RefRSSIAt1m: DefaultBLERefRSSIAt1m}
}

// PathLossCalibrationSample is one (log10 distance, observed RSSI)
// observation fed into the adaptive OLS fit.
type PathLossCalibrationSample struct {
	Log10Distance float64
	RSSI          float64
}

// FitOLS re-estimates (exponent, refRSSI) from rssi = RSSI0 - 10n·log10(d)
// via ordinary least squares, clamping to the documented ranges and
// EMA-blending with the prior model at α=0.3 once already calibrated.
func (m PathLossModel) FitOLS(samples []PathLossCalibrationSample) PathLossModel {
	n := float64(len(samples))
	if n < PathLossCalibMinSample {
		return m
	}
	var sumX, sumY, sumXY, sumXX float64
	for _, s := range samples {
		x := s.Log10Distance
		y := s.RSSI
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return m
	}
	slope := (n*sumXY - sumX*sumY) / denom // slope = -10n
	intercept := (sumY - slope*sumX) / n   // intercept = RSSI0

	exponent := clampFloat(-slope/10, PathLossExponentMin, PathLossExponentMax)
	refRSSI := clampFloat(intercept, PathLossRefRSSIMin, PathLossRefRSSIMax)

	out := m
	if m.Calibrated {
		const alpha = EMAAlpha
		out.Exponent = alpha*exponent + (1-alpha)*m.Exponent
		out.RefRSSIAt1m = alpha*refRSSI + (1-alpha)*m.RefRSSIAt1m
	} else {
		out.Exponent = exponent
		out.RefRSSIAt1m = refRSSI
	}
	out.Calibrated = true
	out.SampleCount = len(samples)
	return out
}

// ProtocolAccumulator rolls up per-protocol hit statistics for one
// local triangulation accumulator.
type ProtocolAccumulator struct {
	HitCount int
	RSSISum  int
	RSSIMin  int
	RSSIMax  int
}

// Observe folds a new RSSI reading into this protocol's rollup.
func (p *ProtocolAccumulator) Observe(rssi int) {
	if p.HitCount == 0 || rssi < p.RSSIMin {
		p.RSSIMin = rssi
	}
	if p.HitCount == 0 || rssi > p.RSSIMax {
		p.RSSIMax = rssi
	}
	p.RSSISum += rssi
	p.HitCount++
}

// AvgRSSI returns the mean RSSI observed for this protocol.
func (p *ProtocolAccumulator) AvgRSSI() float64 {
	if p.HitCount == 0 {
		return 0
	}
	return float64(p.RSSISum) / float64(p.HitCount)
}

// TriangulationAccumulator is this node's own local rollup of frames
// matching the active target: separately summed for Wi-Fi and
// BLE, plus the last valid GPS snapshot, emitted as a TARGET_DATA
// report (or injected directly if this node is the initiator).
type TriangulationAccumulator struct {
	WiFi ProtocolAccumulator
	BLE  ProtocolAccumulator

	HasGPSSnapshot bool
	Lat, Lon, HDOP float64
}

// Observe folds one matching frame into the appropriate protocol
// accumulator.
func (a *TriangulationAccumulator) Observe(rssi int, isBLE bool) {
	if isBLE {
		a.BLE.Observe(rssi)
	} else {
		a.WiFi.Observe(rssi)
	}
}

// SetGPSSnapshot records the node's current surveyed position.
func (a *TriangulationAccumulator) SetGPSSnapshot(lat, lon, hdop float64) {
	a.HasGPSSnapshot = true
	a.Lat, a.Lon, a.HDOP = lat, lon, hdop
}

// TriangulationSession tracks one active cooperative session across
// all reporting peers.
type TriangulationSession struct {
	SessionID   string
	Target      Target
	Role        TriangulationRole
	StartedAt   time.Time
	Duration    time.Duration
	InitiatorID string

	Nodes map[string]*TriangulationNode

	WiFiModel PathLossModel
	BLEModel  PathLossModel

	Local TriangulationAccumulator

	StopRequested         bool
	StopBroadcastAt       time.Time
	LastNodeCountChangeAt time.Time
	LastNodeCount         int
}

// Expired reports whether the session's requested duration has elapsed.
func (t *TriangulationSession) Expired(now time.Time) bool {
	return now.Sub(t.StartedAt) >= t.Duration
}

// EligibleNodeCount returns how many reporting nodes have both a GPS
// fix and a recent RSSI report, the trilateration eligibility gate.
func (t *TriangulationSession) EligibleNodeCount(now time.Time, staleAfter time.Duration) int {
	n := 0
	for _, node := range t.Nodes {
		if node.HasGPS && now.Sub(node.LastUpdate) < staleAfter {
			n++
		}
	}
	return n
}

// NonGPSNodeIDs lists reporting peers without a GPS fix, for the
// diagnostic text when trilateration fails.
func (t *TriangulationSession) NonGPSNodeIDs() []string {
	var out []string
	for id, node := range t.Nodes {
		if !node.HasGPS {
			out = append(out, id)
		}
	}
	return out
}

// TrilaterationResult is the outcome of a weighted trilateration
// pass.
type TrilaterationResult struct {
	OK        bool
	Reason    string // populated when !OK
	NonGPSIDs []string

	Lat, Lon       float64
	Confidence     float64
	UncertaintyM95 float64
	CEP68          float64
	NodeCount      int
}

// ClockDiscipline tracks a node's estimated offset and drift rate
// against the mesh's time-sync broadcasts.
type ClockDiscipline struct {
	OffsetEstimate time.Duration
	DriftPPM       float64
	LastSync       time.Time
	SampleCount    int
	Converged      bool
}

// Observe folds a new (broadcast_ts, local_ts) pair into the drift
// estimate using the same EMA weighting as behavioral confidence.
func (c *ClockDiscipline) Observe(offset time.Duration, now time.Time) {
	if c.SampleCount == 0 {
		c.OffsetEstimate = offset
	} else {
		elapsed := now.Sub(c.LastSync)
		if elapsed > 0 {
			drift := float64(offset-c.OffsetEstimate) / elapsed.Seconds() * 1e6
			c.DriftPPM = EMAAlpha*drift + (1-EMAAlpha)*c.DriftPPM
		}
		c.OffsetEstimate = time.Duration(EMAAlpha*float64(offset) + (1-EMAAlpha)*float64(c.OffsetEstimate))
	}
	c.LastSync = now
	c.SampleCount++
	if c.SampleCount >= 3 && math.Abs(c.DriftPPM) < RTCDriftConvergePPM {
		c.Converged = true
	}
}

// PeerSyncStatus tracks one peer's clock-sync round-trip
// measurements.
type PeerSyncStatus struct {
	NodeID      string
	LastChecked time.Time
	OffsetMS    float64
	PropDelayMS float64
	Synced      bool // within the 10ms bound
}

const ClockSyncBoundMS = 10.0
