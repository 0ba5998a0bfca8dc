package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// FramesCaptured counts raw frames delivered by the radio scheduler.
	FramesCaptured = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentryhop",
			Name:      "frames_captured_total",
			Help:      "Total frames captured by the radio scheduler",
		},
		[]string{"interface", "band"},
	)

	// FramesDropped counts frames dropped at a bounded-queue boundary.
	FramesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentryhop",
			Name:      "frames_dropped_total",
			Help:      "Total frames dropped due to bounded-queue exhaustion",
		},
		[]string{"reason"},
	)

	// HitsEmitted counts Hit observations emitted by the classifier.
	HitsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentryhop",
			Name:      "hits_emitted_total",
			Help:      "Total Hit observations emitted to the registry",
		},
		[]string{"band"},
	)

	// IdentitiesLinked counts randomization-engine link outcomes.
	IdentitiesLinked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentryhop",
			Name:      "identities_linked_total",
			Help:      "Total probe-session link attempts by outcome",
		},
		[]string{"outcome"}, // linked, created, dropped_cap
	)

	// DeauthAttacksDetected counts flagged deauth/disassoc episodes.
	DeauthAttacksDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentryhop",
			Name:      "deauth_attacks_detected_total",
			Help:      "Total deauth/disassoc frames flagged as an attack",
		},
		[]string{"kind"}, // deauth, disassoc
	)

	// TriangulationSessions counts triangulation session terminal outcomes.
	TriangulationSessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentryhop",
			Name:      "triangulation_sessions_total",
			Help:      "Total triangulation sessions by terminal outcome",
		},
		[]string{"outcome"}, // resolved, insufficient_gps
	)

	// MeshBytesTransmitted counts bytes the token bucket admitted.
	MeshBytesTransmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sentryhop",
			Name:      "mesh_bytes_transmitted_total",
			Help:      "Total bytes transmitted over the mesh transport",
		},
	)

	// MeshBytesDropped counts bytes the token bucket refused.
	MeshBytesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sentryhop",
			Name:      "mesh_bytes_dropped_total",
			Help:      "Total bytes dropped by the outbound rate limiter",
		},
	)

	// DroneDetections counts newly-tracked ODID/French-regulation drone
	// sightings (not re-observations of an already-tracked UAV ID).
	DroneDetections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sentryhop",
			Name:      "drone_detections_total",
			Help:      "Total distinct drone remote-ID broadcasts tracked",
		},
	)

	once sync.Once
)

// InitMetrics registers all metrics with the global Prometheus
// registry. Idempotent; safe to call multiple times.
func InitMetrics() {
	once.Do(func() {
		prometheus.DefaultRegisterer.Register(FramesCaptured)
		prometheus.DefaultRegisterer.Register(FramesDropped)
		prometheus.DefaultRegisterer.Register(HitsEmitted)
		prometheus.DefaultRegisterer.Register(IdentitiesLinked)
		prometheus.DefaultRegisterer.Register(DeauthAttacksDetected)
		prometheus.DefaultRegisterer.Register(TriangulationSessions)
		prometheus.DefaultRegisterer.Register(MeshBytesTransmitted)
		prometheus.DefaultRegisterer.Register(MeshBytesDropped)
		prometheus.DefaultRegisterer.Register(DroneDetections)
	})
}
