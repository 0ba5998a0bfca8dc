package triangulation

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/skyline-mesh/sentryhop/internal/core/domain"
	"github.com/skyline-mesh/sentryhop/internal/geo"
)

// gpsNode is the subset of a TriangulationNode the solver needs,
// already filtered to peers with a GPS fix.
type gpsNode struct {
	id      string
	lat     float64
	lon     float64
	hdop    float64
	quality float64
	dist    float64
	isBLE   bool
}

// solve implements weighted-triplet trilateration: rank by
// signal quality, project the top 5 into an ENU plane, solve every
// triplet's linearized system, and accumulate a quality-weighted
// average position.
func solve(nodes []gpsNode) (lat, lon float64, avgQuality, avgHDOP float64, ok bool) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].quality > nodes[j].quality })
	if len(nodes) > 5 {
		nodes = nodes[:5]
	}

	var refLat, refLon float64
	for _, n := range nodes {
		refLat += n.lat
		refLon += n.lon
	}
	refLat /= float64(len(nodes))
	refLon /= float64(len(nodes))

	type point struct {
		e, n, r, q float64
	}
	pts := make([]point, len(nodes))
	for i, n := range nodes {
		enu := geo.ToENU(n.lat, n.lon, refLat, refLon)
		pts[i] = point{e: enu.East, n: enu.North, r: n.dist, q: n.quality}
	}

	var sumE, sumN, sumW float64
	for i := 0; i < len(pts); i++ {
		for j := i + 1; j < len(pts); j++ {
			for k := j + 1; k < len(pts); k++ {
				p1, p2, p3 := pts[i], pts[j], pts[k]

				A := 2 * (p2.e - p1.e)
				B := 2 * (p2.n - p1.n)
				C := p1.r*p1.r - p2.r*p2.r + p2.e*p2.e - p1.e*p1.e + p2.n*p2.n - p1.n*p1.n

				D := 2 * (p3.e - p2.e)
				E := 2 * (p3.n - p2.n)
				F := p2.r*p2.r - p3.r*p3.r + p3.e*p3.e - p2.e*p2.e + p3.n*p3.n - p2.n*p2.n

				den := A*E - B*D
				if math.Abs(den) < 1e-3 {
					continue
				}

				eEst := (C*E - F*B) / den
				nEst := (A*F - D*C) / den

				w := p1.q * p2.q * p3.q
				sumE += eEst * w
				sumN += nEst * w
				sumW += w
			}
		}
	}

	if sumW == 0 {
		return 0, 0, 0, 0, false
	}

	estLat, estLon := geo.FromENU(geo.ENU{East: sumE / sumW, North: sumN / sumW}, refLat, refLon)

	for _, n := range nodes {
		avgQuality += n.quality
		avgHDOP += n.hdop
	}
	avgQuality /= float64(len(nodes))
	avgHDOP /= float64(len(nodes))

	return estLat, estLon, avgQuality, avgHDOP, true
}

// confidenceOf implements step 5: avg_quality scaled down by HDOP
// above 1 and by node count above 3, clamped to [0,1].
func confidenceOf(avgQuality, avgHDOP float64, nodeCount int) float64 {
	c := avgQuality * (1 - 0.1*(avgHDOP-1)) * (1 - 0.05*float64(nodeCount-3))
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// uncertaintyOf computes the 95% uncertainty envelope as the RSS of
// five independent error terms
func uncertaintyOf(nodes []gpsNode, syncVerified, calibrated bool) (uncertaintyM95, cep68 float64) {
	n := len(nodes)
	if n == 0 {
		return 0, 0
	}

	var avgHDOP float64
	for _, nd := range nodes {
		avgHDOP += nd.hdop
	}
	avgHDOP /= float64(n)
	gpsErr := avgHDOP * domain.UEREMeters

	var rssiErrSq float64
	for _, nd := range nodes {
		factor := 0.25 + 0.30*(1-nd.quality)
		term := nd.dist * factor
		if nd.isBLE {
			term *= 1.2
		}
		rssiErrSq += term * term
	}
	rssiErr := math.Sqrt(rssiErrSq)

	avgDist := 0.0
	for _, nd := range nodes {
		avgDist += nd.dist
	}
	avgDist /= float64(n)

	var geomErr float64
	if n == 3 {
		geomErr = triangleAreaErr(nodes)
	} else {
		geomErr = avgDist * 0.10 / math.Sqrt(float64(n-2))
	}

	var syncErr float64
	if !syncVerified {
		syncErr = avgDist * 0.10
	}

	var calibErr float64
	if !calibrated {
		calibErr = avgDist * 0.15
	}

	uncertaintyM95 = math.Sqrt(gpsErr*gpsErr + rssiErr*rssiErr + geomErr*geomErr + syncErr*syncErr + calibErr*calibErr)
	cep68 = 0.59 * uncertaintyM95
	return uncertaintyM95, cep68
}

// Solve runs full trilateration pass over session: the GPS
// eligibility gate, the weighted-triplet solve, and the confidence and
// uncertainty estimates. It distinguishes the three documented failure
// diagnostics (no mesh / none with GPS / insufficient GPS nodes) so
// the operator-facing results line can explain why a fix was not
// produced.
func Solve(session *domain.TriangulationSession, syncVerified, calibrated bool) domain.TrilaterationResult {
	total := len(session.Nodes)
	var gps []gpsNode
	for id, n := range session.Nodes {
		if !n.HasGPS {
			continue
		}
		gps = append(gps, gpsNode{
			id: id, lat: n.Lat, lon: n.Lon, hdop: n.HDOP,
			quality: n.SignalQuality, dist: n.DistanceEstimate, isBLE: n.IsBLE,
		})
	}

	switch {
	case total <= 1:
		return domain.TrilaterationResult{OK: false, Reason: "no mesh"}
	case len(gps) == 0:
		return domain.TrilaterationResult{OK: false, Reason: "none with GPS", NonGPSIDs: session.NonGPSNodeIDs()}
	case len(gps) < domain.MinTriangulationNodes:
		return domain.TrilaterationResult{OK: false, Reason: "insufficient GPS nodes", NonGPSIDs: session.NonGPSNodeIDs()}
	}

	lat, lon, avgQuality, avgHDOP, ok := solve(gps)
	if !ok {
		return domain.TrilaterationResult{OK: false, Reason: "insufficient GPS nodes", NonGPSIDs: session.NonGPSNodeIDs()}
	}

	confidence := confidenceOf(avgQuality, avgHDOP, len(gps))
	uncertainty, cep68 := uncertaintyOf(gps, syncVerified, calibrated)

	return domain.TrilaterationResult{
		OK:             true,
		Lat:            lat,
		Lon:            lon,
		Confidence:     confidence,
		UncertaintyM95: uncertainty,
		CEP68:          cep68,
		NodeCount:      len(gps),
	}
}

// triangleAreaErr approximates geometric dilution of precision for an
// exact 3-node solve from the triangle each node's distance estimate
// forms: a thinner triangle (near-zero area relative to side lengths)
// degrades the solve, so the error term scales inversely with area.
func triangleAreaErr(nodes []gpsNode) float64 {
	if len(nodes) != 3 {
		return 0
	}
	a, b, c := nodes[0].dist, nodes[1].dist, nodes[2].dist
	s := (a + b + c) / 2
	areaSq := s * (s - a) * (s - b) * (s - c)
	if areaSq <= 0 {
		return (a + b + c) / 3 * 0.25
	}
	area := math.Sqrt(areaSq)
	avg := (a + b + c) / 3
	return avg * avg / (area + 1)
}

// FormatResult renders a trilateration outcome as the operator-facing
// results text: position, confidence, uncertainty and a maps link on
// success; the failure diagnostic (listing peers without GPS) when no
// fix was possible.
func FormatResult(r domain.TrilaterationResult) string {
	if !r.OK {
		var b strings.Builder
		switch r.Reason {
		case "no mesh":
			b.WriteString("Triangulation failed: No Mesh Nodes Reporting")
		case "none with GPS":
			b.WriteString("Triangulation failed: No Nodes With GPS")
		default:
			b.WriteString("Triangulation failed: Insufficient GPS Nodes")
		}
		if len(r.NonGPSIDs) > 0 {
			b.WriteString(" (no GPS: ")
			b.WriteString(strings.Join(r.NonGPSIDs, ", "))
			b.WriteString(")")
		}
		return b.String()
	}
	return fmt.Sprintf(
		"Target position: %.6f,%.6f Confidence:%.2f Uncertainty(95%%):%.1fm CEP68:%.1fm Nodes:%d https://maps.google.com/?q=%.6f,%.6f",
		r.Lat, r.Lon, r.Confidence, r.UncertaintyM95, r.CEP68, r.NodeCount, r.Lat, r.Lon)
}
