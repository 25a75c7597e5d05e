// Package motiontypes holds types shared by the search algorithms and the cost estimators.
package motiontypes

import (
	"fmt"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
)

// AlgMetrics counts the work done by one search run. A search resets it when a run starts and
// passes it to every cost estimator call.
type AlgMetrics struct {
	VerticesExpanded   int
	VerticesVisited    int
	VerticesReexpanded int
	EdgesPruned        int

	GcsSolves         int
	GcsSolveTimeTotal time.Duration
	GcsSolveTimeMin   time.Duration
	GcsSolveTimeMax   time.Duration

	WallClock time.Duration

	solveSeconds []float64
	exporter     *MetricsExporter
}

// NewAlgMetrics returns zeroed metrics. `exporter` may be nil.
func NewAlgMetrics(exporter *MetricsExporter) *AlgMetrics {
	return &AlgMetrics{exporter: exporter}
}

// Reset zeroes every count. The exporter is kept.
func (m *AlgMetrics) Reset() {
	*m = AlgMetrics{exporter: m.exporter}
}

// UpdateAfterGcsSolve records one convex program solve taking `d`.
func (m *AlgMetrics) UpdateAfterGcsSolve(d time.Duration) {
	if m.GcsSolves == 0 || d < m.GcsSolveTimeMin {
		m.GcsSolveTimeMin = d
	}
	if d > m.GcsSolveTimeMax {
		m.GcsSolveTimeMax = d
	}
	m.GcsSolves++
	m.GcsSolveTimeTotal += d
	m.solveSeconds = append(m.solveSeconds, d.Seconds())
	if m.exporter != nil {
		m.exporter.solveSeconds.Observe(d.Seconds())
	}
}

// Expanded records the expansion of a vertex; reexpanded marks a vertex expanded before.
func (m *AlgMetrics) Expanded(reexpanded bool) {
	m.VerticesExpanded++
	if reexpanded {
		m.VerticesReexpanded++
	}
	if m.exporter != nil {
		m.exporter.expanded.Inc()
	}
}

// Visited records a vertex reached for the first time.
func (m *AlgMetrics) Visited() {
	m.VerticesVisited++
}

// Pruned records an edge dropped because its estimate was infeasible.
func (m *AlgMetrics) Pruned() {
	m.EdgesPruned++
	if m.exporter != nil {
		m.exporter.pruned.Inc()
	}
}

// GcsSolveTimeMean is the mean solve time, zero before any solve.
func (m *AlgMetrics) GcsSolveTimeMean() time.Duration {
	if m.GcsSolves == 0 {
		return 0
	}
	return m.GcsSolveTimeTotal / time.Duration(m.GcsSolves)
}

// GcsSolveTimeMedian is the median solve time, zero before any solve.
func (m *AlgMetrics) GcsSolveTimeMedian() time.Duration {
	median, err := stats.Median(m.solveSeconds)
	if err != nil {
		return 0
	}
	return time.Duration(median * float64(time.Second))
}

// GcsSolveTimeStdDev is the population standard deviation of the solve times.
func (m *AlgMetrics) GcsSolveTimeStdDev() time.Duration {
	sd, err := stats.StandardDeviation(m.solveSeconds)
	if err != nil {
		return 0
	}
	return time.Duration(sd * float64(time.Second))
}

func (m *AlgMetrics) String() string {
	return fmt.Sprintf(
		"expanded: %d, visited: %d, reexpanded: %d, pruned: %d, solves: %d, "+
			"solve time total: %v mean: %v median: %v sd: %v min: %v max: %v, wall clock: %v",
		m.VerticesExpanded, m.VerticesVisited, m.VerticesReexpanded, m.EdgesPruned, m.GcsSolves,
		m.GcsSolveTimeTotal, m.GcsSolveTimeMean(), m.GcsSolveTimeMedian(), m.GcsSolveTimeStdDev(),
		m.GcsSolveTimeMin, m.GcsSolveTimeMax, m.WallClock,
	)
}

// MetricsExporter mirrors AlgMetrics into prometheus collectors.
type MetricsExporter struct {
	expanded     prometheus.Counter
	pruned       prometheus.Counter
	solveSeconds prometheus.Histogram
}

// NewMetricsExporter creates the collectors and registers them with `reg`.
func NewMetricsExporter(reg prometheus.Registerer) (*MetricsExporter, error) {
	e := &MetricsExporter{
		expanded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gcsplan_vertices_expanded_total",
			Help: "Total number of graph vertices expanded by searches",
		}),
		pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gcsplan_edges_pruned_total",
			Help: "Total number of edges pruned for an infeasible estimate",
		}),
		solveSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gcsplan_gcs_solve_seconds",
			Help:    "Wall time of convex program solves",
			Buckets: prometheus.ExponentialBuckets(1e-4, 4, 10),
		}),
	}
	err := multierr.Combine(
		reg.Register(e.expanded),
		reg.Register(e.pruned),
		reg.Register(e.solveSeconds),
	)
	if err != nil {
		return nil, err
	}
	return e, nil
}
