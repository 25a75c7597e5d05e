package motiontypes

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.viam.com/test"
)

func TestAlgMetrics(t *testing.T) {
	m := NewAlgMetrics(nil)
	test.That(t, m.GcsSolveTimeMean(), test.ShouldEqual, time.Duration(0))
	test.That(t, m.GcsSolveTimeMedian(), test.ShouldEqual, time.Duration(0))

	m.UpdateAfterGcsSolve(3 * time.Millisecond)
	m.UpdateAfterGcsSolve(time.Millisecond)
	m.UpdateAfterGcsSolve(5 * time.Millisecond)
	test.That(t, m.GcsSolves, test.ShouldEqual, 3)
	test.That(t, m.GcsSolveTimeMin, test.ShouldEqual, time.Millisecond)
	test.That(t, m.GcsSolveTimeMax, test.ShouldEqual, 5*time.Millisecond)
	test.That(t, m.GcsSolveTimeMean(), test.ShouldEqual, 3*time.Millisecond)
	test.That(t, m.GcsSolveTimeMedian().Seconds(), test.ShouldAlmostEqual, 0.003, 1e-9)
	// population sd of {1, 3, 5} ms
	test.That(t, m.GcsSolveTimeStdDev().Seconds(), test.ShouldAlmostEqual, 0.0016330, 1e-6)

	m.Expanded(false)
	m.Expanded(true)
	m.Visited()
	m.Pruned()
	test.That(t, m.VerticesExpanded, test.ShouldEqual, 2)
	test.That(t, m.VerticesReexpanded, test.ShouldEqual, 1)
	test.That(t, m.String(), test.ShouldContainSubstring, "expanded: 2")

	m.Reset()
	test.That(t, *m, test.ShouldResemble, AlgMetrics{})
}

func TestMetricsExporter(t *testing.T) {
	reg := prometheus.NewRegistry()
	e, err := NewMetricsExporter(reg)
	test.That(t, err, test.ShouldBeNil)

	m := NewAlgMetrics(e)
	m.Expanded(false)
	m.Expanded(false)
	m.Pruned()
	m.UpdateAfterGcsSolve(time.Millisecond)
	m.Reset()
	m.Expanded(false)

	test.That(t, testutil.ToFloat64(e.expanded), test.ShouldEqual, 3.)
	test.That(t, testutil.ToFloat64(e.pruned), test.ShouldEqual, 1.)
	test.That(t, testutil.CollectAndCount(e.solveSeconds), test.ShouldEqual, 1)

	_, err = NewMetricsExporter(reg)
	test.That(t, err, test.ShouldNotBeNil)
}
