// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RecomputeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "regionmap_recompute_total",
		Help: "Tessellation recomputes by result status",
	}, []string{"status"})
	RecomputeDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "regionmap_recompute_duration_ms",
		Help:    "Triangulate, tessellate and clip duration in milliseconds",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	})
	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "regionmap_result_cache_hits_total",
		Help: "Results served from the per-version cache",
	})
	StaleDiscardsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "regionmap_stale_discards_total",
		Help: "Results dropped because a newer snapshot was submitted",
	})
	ClipFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "regionmap_clip_failures_total",
		Help: "Cells that could not be clipped to the boundary",
	})
	DegenerateSnapshotsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "regionmap_degenerate_snapshots_total",
		Help: "Snapshots that could not be triangulated",
	})
	HitTestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "regionmap_hit_tests_total",
		Help: "Hit tests by outcome",
	}, []string{"outcome"})
	Sessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "regionmap_sessions",
		Help: "Mounted map controllers",
	})
)

func init() {
	prometheus.MustRegister(RecomputeTotal)
	prometheus.MustRegister(RecomputeDurationMs)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(StaleDiscardsTotal)
	prometheus.MustRegister(ClipFailuresTotal)
	prometheus.MustRegister(DegenerateSnapshotsTotal)
	prometheus.MustRegister(HitTestsTotal)
	prometheus.MustRegister(Sessions)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
