package triangulation

import (
	"testing"

	"github.com/skyline-mesh/sentryhop/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// threeGPSNodes places three reporting peers around the reference
// point with distance estimates that roughly agree on a target near
// the middle of the triangle.
func threeGPSNodes() map[string]*domain.TriangulationNode {
	return map[string]*domain.TriangulationNode{
		"AH01": {
			NodeID: "AH01", HasGPS: true,
			Lat: 37.7749, Lon: -122.4194, HDOP: 1.2,
			SignalQuality: 0.9, DistanceEstimate: 40,
		},
		"AH02": {
			NodeID: "AH02", HasGPS: true,
			Lat: 37.7752, Lon: -122.4190, HDOP: 1.1,
			SignalQuality: 0.7, DistanceEstimate: 55,
		},
		"AH03": {
			NodeID: "AH03", HasGPS: true,
			Lat: 37.7747, Lon: -122.4199, HDOP: 1.3,
			SignalQuality: 0.6, DistanceEstimate: 60,
		},
	}
}

func TestSolve_ThreeGPSNodesProducesFix(t *testing.T) {
	session := &domain.TriangulationSession{Nodes: threeGPSNodes()}

	result := Solve(session, true, true)

	require.True(t, result.OK, "three GPS peers must produce a position")
	assert.Equal(t, 3, result.NodeCount)

	// The fix must land near the cluster, not at (0,0) or wildly off.
	assert.InDelta(t, 37.7749, result.Lat, 0.01)
	assert.InDelta(t, -122.4194, result.Lon, 0.01)

	assert.Greater(t, result.Confidence, 0.0)
	assert.LessOrEqual(t, result.Confidence, 1.0)
	assert.Greater(t, result.UncertaintyM95, 0.0)
	assert.InDelta(t, 0.59*result.UncertaintyM95, result.CEP68, 1e-9)
}

func TestSolve_UnverifiedSyncAndUncalibratedWidenUncertainty(t *testing.T) {
	strict := Solve(&domain.TriangulationSession{Nodes: threeGPSNodes()}, true, true)
	loose := Solve(&domain.TriangulationSession{Nodes: threeGPSNodes()}, false, false)

	require.True(t, strict.OK)
	require.True(t, loose.OK)
	assert.Greater(t, loose.UncertaintyM95, strict.UncertaintyM95,
		"missing sync verification and calibration must add error terms")
}

func TestSolve_InsufficientGPSListsNonGPSPeers(t *testing.T) {
	nodes := threeGPSNodes()
	nodes["AH03"].HasGPS = false

	result := Solve(&domain.TriangulationSession{Nodes: nodes}, false, false)

	require.False(t, result.OK)
	assert.Equal(t, "insufficient GPS nodes", result.Reason)
	assert.Contains(t, result.NonGPSIDs, "AH03")
}

func TestConfidenceOf_ClampsAndScales(t *testing.T) {
	assert.InDelta(t, 0.9, confidenceOf(0.9, 1.0, 3), 1e-9)
	assert.Less(t, confidenceOf(0.9, 2.0, 3), 0.9, "HDOP above 1 reduces confidence")
	assert.Less(t, confidenceOf(0.9, 1.0, 5), 0.9, "extra nodes trim confidence")
	assert.Equal(t, 0.0, confidenceOf(0.1, 20.0, 3))
}

func TestUncertaintyOf_BLEInflatesRSSITerm(t *testing.T) {
	wifi := []gpsNode{
		{hdop: 1, quality: 0.5, dist: 50},
		{hdop: 1, quality: 0.5, dist: 60},
		{hdop: 1, quality: 0.5, dist: 70},
	}
	ble := []gpsNode{
		{hdop: 1, quality: 0.5, dist: 50, isBLE: true},
		{hdop: 1, quality: 0.5, dist: 60, isBLE: true},
		{hdop: 1, quality: 0.5, dist: 70, isBLE: true},
	}

	wifiErr, _ := uncertaintyOf(wifi, true, true)
	bleErr, _ := uncertaintyOf(ble, true, true)
	assert.Greater(t, bleErr, wifiErr)
}

func TestFormatResult_SuccessIncludesMapsURL(t *testing.T) {
	text := FormatResult(domain.TrilaterationResult{
		OK: true, Lat: 37.774900, Lon: -122.419400,
		Confidence: 0.72, UncertaintyM95: 18.3, CEP68: 10.8, NodeCount: 3,
	})
	assert.Contains(t, text, "37.774900,-122.419400")
	assert.Contains(t, text, "https://maps.google.com/?q=37.774900,-122.419400")
	assert.Contains(t, text, "Confidence:0.72")
}

func TestFormatResult_InsufficientGPSListsPeers(t *testing.T) {
	text := FormatResult(domain.TrilaterationResult{
		OK: false, Reason: "insufficient GPS nodes", NonGPSIDs: []string{"AH04"},
	})
	assert.Contains(t, text, "Insufficient GPS Nodes")
	assert.Contains(t, text, "AH04")
	assert.NotContains(t, text, "maps.google.com")
}
