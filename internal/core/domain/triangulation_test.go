package domain

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKalmanFilterState_FirstUpdatePassesThrough(t *testing.T) {
	k := NewKalmanFilterState(0.5, 2.0)
	assert.Equal(t, -60.0, k.Update(-60))
	assert.True(t, k.Initialized)
}

func TestKalmanFilterState_SmoothsTowardMeasurements(t *testing.T) {
	k := NewKalmanFilterState(0.5, 4.0)
	k.Update(-60)
	est := k.Update(-50)
	assert.Greater(t, est, -60.0)
	assert.Less(t, est, -50.0, "estimate moves toward but does not jump to the new measurement")
}

func TestTriangulationNode_UpdateRSSIMedianFiltersFullWindow(t *testing.T) {
	n := &TriangulationNode{}
	now := time.Now()

	// Fill the raw window with steady readings plus one outlier; once
	// the window is full the median input suppresses the spike.
	for _, r := range []float64{-60, -61, -59, -60, -20} {
		n.UpdateRSSI(r, now)
	}
	assert.Len(t, n.RSSIRawWindow, RSSIRawWindowSize)
	assert.Less(t, n.FilteredRSSI, -40.0, "outlier must not dominate the filtered value")
	assert.Equal(t, 5, n.HitCount)
}

func TestTriangulationNode_SignalQualityBounded(t *testing.T) {
	n := &TriangulationNode{}
	now := time.Now()
	for _, r := range []float64{-90, -30, -88, -31, -85} {
		n.UpdateRSSI(r, now)
	}
	n.RecomputeSignalQuality()
	assert.GreaterOrEqual(t, n.SignalQuality, 0.0)
	assert.LessOrEqual(t, n.SignalQuality, 1.0)
}

func TestTriangulationNode_DistanceClamped(t *testing.T) {
	n := &TriangulationNode{FilteredRSSI: -200, SignalQuality: 0.5}
	n.RecomputeDistance(DefaultWiFiPathLossModel())
	assert.Equal(t, 200.0, n.DistanceEstimate)

	n.FilteredRSSI = 0
	n.RecomputeDistance(DefaultWiFiPathLossModel())
	assert.Equal(t, 0.1, n.DistanceEstimate)
}

func TestPathLossModel_FitOLSRecoversKnownModel(t *testing.T) {
	// Synthesize samples from rssi = -40 - 10*2.5*log10(d).
	truth := PathLossModel{Exponent: 2.5, RefRSSIAt1m: -40}
	var samples []PathLossCalibrationSample
	for _, d := range []float64{1, 2, 5, 10, 20, 50} {
		samples = append(samples, PathLossCalibrationSample{
			Log10Distance: math.Log10(d),
			RSSI:          truth.RefRSSIAt1m - 10*truth.Exponent*math.Log10(d),
		})
	}

	fit := (PathLossModel{Exponent: 2.0, RefRSSIAt1m: -45}).FitOLS(samples)
	require.True(t, fit.Calibrated)
	assert.InDelta(t, 2.5, fit.Exponent, 0.01)
	assert.InDelta(t, -40, fit.RefRSSIAt1m, 0.1)
}

func TestPathLossModel_FitOLSBlendsWhenAlreadyCalibrated(t *testing.T) {
	prior := PathLossModel{Exponent: 2.0, RefRSSIAt1m: -40, Calibrated: true}
	var samples []PathLossCalibrationSample
	for _, d := range []float64{1, 2, 5, 10, 20} {
		samples = append(samples, PathLossCalibrationSample{
			Log10Distance: math.Log10(d),
			RSSI:          -30 - 10*4.0*math.Log10(d),
		})
	}

	fit := prior.FitOLS(samples)
	assert.Greater(t, fit.Exponent, prior.Exponent)
	assert.Less(t, fit.Exponent, 4.0, "EMA blend keeps the prior's influence")
}

func TestPathLossModel_FitOLSClampsToDocumentedRanges(t *testing.T) {
	var samples []PathLossCalibrationSample
	for _, d := range []float64{1, 2, 5, 10, 20} {
		samples = append(samples, PathLossCalibrationSample{
			Log10Distance: math.Log10(d),
			RSSI:          -10 - 10*9.0*math.Log10(d), // exponent far above the cap
		})
	}
	fit := PathLossModel{Exponent: 2.0, RefRSSIAt1m: -40}.FitOLS(samples)
	assert.Equal(t, PathLossExponentMax, fit.Exponent)
	assert.Equal(t, PathLossRefRSSIMax, fit.RefRSSIAt1m)
}

func TestClockDiscipline_ConvergesAfterThreeSteadySamples(t *testing.T) {
	var c ClockDiscipline
	base := time.Now()
	for i := 0; i < 3; i++ {
		c.Observe(5*time.Millisecond, base.Add(time.Duration(i)*time.Second))
	}
	assert.True(t, c.Converged)
	assert.Equal(t, 3, c.SampleCount)
}

func TestProtocolAccumulator_TracksMinMaxAvg(t *testing.T) {
	var p ProtocolAccumulator
	for _, r := range []int{-50, -70, -60} {
		p.Observe(r)
	}
	assert.Equal(t, 3, p.HitCount)
	assert.Equal(t, -70, p.RSSIMin)
	assert.Equal(t, -50, p.RSSIMax)
	assert.Equal(t, -60.0, p.AvgRSSI())
}
