// Package metrics registers the Prometheus collectors shared by the
// pipeline components. Served on /metrics in HTTP transport mode.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StructureFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proteosurf_structure_fetches_total",
		Help: "Structure store fetches by source and outcome (hit, miss, error)",
	}, []string{"source", "outcome"})

	PocketDetections = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "proteosurf_pocket_detection_seconds",
		Help:    "Wall time of pocket detection runs",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
	})

	RenderCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proteosurf_render_commands_total",
		Help: "Render session commands by outcome (ok, error)",
	}, []string{"outcome"})

	RenderSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "proteosurf_render_sessions_open",
		Help: "Currently open render sessions",
	})

	DockingRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proteosurf_docking_runs_total",
		Help: "Docking jobs by outcome (ok, engine_error, timeout, invalid)",
	}, []string{"outcome"})

	DockingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "proteosurf_docking_duration_seconds",
		Help:    "Wall time of docking engine runs",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})
)
