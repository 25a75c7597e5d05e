package costestimator

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/golang/geo/r2"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/contactplan/contact"
	"go.viam.com/contactplan/gcs"
	"go.viam.com/contactplan/logging"
	"go.viam.com/contactplan/motionplan/motiontypes"
	"go.viam.com/contactplan/spatialmath"
)

const tol = 1e-5

// The robot starts left of the object and has to push it two units right.
const pushScenario = `
n_pos_points: 2
objects:
  - vertices: [[-1, -1], [1, -1], [1, 1], [-1, 1]]
robots:
  - vertices: [[-0.5, -0.5], [0.5, -0.5], [0.5, 0.5], [-0.5, 0.5]]
source_obj_pos: [[0, 0]]
source_rob_pos: [[-3, 0]]
target_obj_pos: [[2, 0]]
target_rob_pos: [[0.5, 0]]
`

// The robot passes below a square obstacle on its way right.
const obstacleScenario = `
n_pos_points: 2
obstacles:
  - vertices: [[-1, -1], [1, -1], [1, 1], [-1, 1]]
    position: [0, 3]
robots:
  - vertices: [[-0.5, -0.5], [0.5, -0.5], [0.5, 0.5], [-0.5, 0.5]]
source_rob_pos: [[-3, 0]]
target_rob_pos: [[3, 0]]
`

func scenarioGraph(t *testing.T, scenario string) *gcs.ContactGraph {
	t.Helper()
	s, err := contact.ParseScenario([]byte(scenario))
	test.That(t, err, test.ShouldBeNil)
	p, err := gcs.ProblemFromScenario(s)
	test.That(t, err, test.ShouldBeNil)
	g, err := gcs.NewContactGraph(context.Background(), p, gcs.DefaultContactGraphOptions(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return g
}

func pushGraph(t *testing.T) (*gcs.ContactGraph, string, string) {
	t.Helper()
	g := scenarioGraph(t, pushScenario)
	succ := g.Successors(gcs.SourceName)
	test.That(t, len(succ), test.ShouldEqual, 1)
	nc := succ[0]
	return g, nc, strings.Replace(nc, "NC|", "IC|", 1)
}

func edge(t *testing.T, g *gcs.Graph, u, v string) *gcs.Edge {
	t.Helper()
	e, err := g.Edge(gcs.EdgeKey{U: u, V: v})
	test.That(t, err, test.ShouldBeNil)
	return e
}

func TestRegistry(t *testing.T) {
	for _, name := range []string{
		ContactShortcutEdgeL1NormCostFactory,
		ContactShortcutEdgeCostOverObjWeighted,
		ShortcutEdgeL1NormCostFactory,
	} {
		f, err := LookupShortcutCostFactory(name)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, f.Name, test.ShouldEqual, name)
	}
	test.That(t, len(ShortcutCostFactoryNames()), test.ShouldBeGreaterThanOrEqualTo, 3)

	_, err := LookupShortcutCostFactory("nope")
	test.That(t, errors.Is(err, ErrUnknownCostFactory), test.ShouldBeTrue)

	test.That(t, func() {
		RegisterShortcutCostFactory(&ShortcutCostFactory{Name: ShortcutEdgeL1NormCostFactory, Dim: nil})
	}, test.ShouldPanic)
	test.That(t, func() {
		RegisterShortcutCostFactory(&ShortcutCostFactory{Name: ShortcutEdgeL1NormCostFactory, Dim: gcs.ShortcutEdgeL1NormCost})
	}, test.ShouldPanic)
}

func TestShortcutEdgeCE(t *testing.T) {
	ctx := context.Background()
	g, nc, ic := pushGraph(t)

	_, err := NewShortcutEdgeCE(g.Graph, nil, false)
	test.That(t, errors.Is(err, ErrMissingShortcutCost), test.ShouldBeTrue)
	_, err = NewShortcutEdgeCEFromName(g.Graph, "nope", false)
	test.That(t, errors.Is(err, ErrUnknownCostFactory), test.ShouldBeTrue)

	ce, err := NewShortcutEdgeCEFromName(g.Graph, ContactShortcutEdgeL1NormCostFactory, false)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ce.FingerPrint(), test.ShouldEqual, "ShortcutEdgeCE-"+ContactShortcutEdgeL1NormCostFactory)

	before := g.EdgeKeys()
	metrics := motiontypes.NewAlgMetrics(nil)

	t.Run("restriction through the shortcut", func(t *testing.T) {
		sol, err := ce.EstimateCostOnGraph(ctx, g.Graph, edge(t, g.Graph, gcs.SourceName, nc), nil, true, false, metrics)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, sol.Feasible, test.ShouldBeTrue)
		// one switch, then the object moves 2 and the robot 3.5 along the shortcut
		test.That(t, sol.Cost, test.ShouldAlmostEqual, 6.5, tol)
		test.That(t, sol.AmbientPath, test.ShouldBeNil)
		test.That(t, cmp.Diff(before, g.EdgeKeys()), test.ShouldBeEmpty)
	})

	t.Run("neighbor is the target", func(t *testing.T) {
		active := []gcs.EdgeKey{{U: gcs.SourceName, V: nc}, {U: nc, V: ic}}
		sol, err := ce.EstimateCostOnGraph(ctx, g.Graph, edge(t, g.Graph, ic, gcs.TargetName), active, true, false, metrics)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, sol.Cost, test.ShouldAlmostEqual, 8.5, tol)
		test.That(t, len(sol.AmbientPath), test.ShouldEqual, 4)
		test.That(t, cmp.Diff(before, g.EdgeKeys()), test.ShouldBeEmpty)
	})

	t.Run("a failed solve still removes the shortcut", func(t *testing.T) {
		_, err := ce.EstimateCostOnGraph(ctx, g.Graph, edge(t, g.Graph, gcs.SourceName, nc),
			[]gcs.EdgeKey{{U: "missing", V: gcs.SourceName}}, true, false, metrics)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, cmp.Diff(before, g.EdgeKeys()), test.ShouldBeEmpty)
	})

	// the failed solve is timed too
	test.That(t, metrics.GcsSolves, test.ShouldEqual, 3)
}

func TestShortcutEdgeCEDefaultCosts(t *testing.T) {
	ctx := context.Background()
	defaults := &gcs.DefaultCostsConstraints{EdgeCosts: gcs.ShortcutEdgeL1NormCost(2, false)}
	g := gcs.NewGraph(defaults, logging.NewTestLogger(t))
	box, err := spatialmath.PolyhedronFromVertices([]r2.Point{{X: 1, Y: 0}, {X: 2, Y: 0}, {X: 2, Y: 1}, {X: 1, Y: 1}})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, g.AddVertex(&gcs.Vertex{ConvexSet: spatialmath.NewPoint([]float64{0, 0})}, "a"), test.ShouldBeNil)
	test.That(t, g.AddVertex(&gcs.Vertex{ConvexSet: box}, "b"), test.ShouldBeNil)
	test.That(t, g.AddVertex(&gcs.Vertex{ConvexSet: spatialmath.NewPoint([]float64{3, 0})}, "t"), test.ShouldBeNil)
	test.That(t, g.AddEdges([]*gcs.Edge{{U: "a", V: "b"}, {U: "b", V: "t"}}), test.ShouldBeNil)
	test.That(t, g.SetSource("a"), test.ShouldBeNil)
	test.That(t, g.SetTarget("t"), test.ShouldBeNil)

	ce, err := NewShortcutEdgeCE(g, nil, false)
	test.That(t, err, test.ShouldBeNil)
	sol, err := ce.EstimateCostOnGraph(ctx, g, edge(t, g, "a", "b"), nil, true, false, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sol.Cost, test.ShouldAlmostEqual, 3, tol)

	withConst, err := NewShortcutEdgeCEFromName(g, ShortcutEdgeL1NormCostFactory, true)
	test.That(t, err, test.ShouldBeNil)
	sol, err = withConst.EstimateCostOnGraph(ctx, g, edge(t, g, "a", "b"), nil, true, false, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sol.Cost, test.ShouldAlmostEqual, 4, tol)
	test.That(t, g.NumEdges(), test.ShouldEqual, 2)

	// the relaxed whole-graph solve bounds the restriction from below
	sol, err = ce.EstimateCostOnGraph(ctx, g, edge(t, g, "a", "b"), nil, false, true, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sol.Feasible, test.ShouldBeTrue)
	test.That(t, sol.Cost, test.ShouldBeLessThanOrEqualTo, 3+tol)
	test.That(t, g.NumEdges(), test.ShouldEqual, 2)

	// weighted shortcuts: min over x in [1, 2] of x + 2(3 - x)
	weighted, err := NewShortcutEdgeCEFromName(g, ShortcutEdgeL1NormCostFactory, false)
	test.That(t, err, test.ShouldBeNil)
	weighted.weight = 2
	sol, err = weighted.solveThroughShortcut(ctx, g, []gcs.EdgeKey{{U: "a", V: "b"}}, "t")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sol.Cost, test.ShouldAlmostEqual, 4, tol)
	sol, err = weighted.solveThroughShortcut(ctx, g, []gcs.EdgeKey{{U: "a", V: "b"}, {U: "b", V: "t"}}, "t")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sol.Cost, test.ShouldAlmostEqual, 3, tol)
	test.That(t, g.NumEdges(), test.ShouldEqual, 2)

	// the estimator follows the graph it is handed, not the one it was built for
	other := gcs.NewGraph(defaults, logging.NewTestLogger(t))
	test.That(t, other.AddVertex(&gcs.Vertex{ConvexSet: spatialmath.NewPoint([]float64{0, 0})}, "a"), test.ShouldBeNil)
	test.That(t, other.AddVertex(&gcs.Vertex{ConvexSet: box}, "b"), test.ShouldBeNil)
	test.That(t, other.AddVertex(&gcs.Vertex{ConvexSet: spatialmath.NewPoint([]float64{4, 0})}, "goal"), test.ShouldBeNil)
	test.That(t, other.AddEdges([]*gcs.Edge{{U: "a", V: "b"}, {U: "b", V: "goal"}}), test.ShouldBeNil)
	test.That(t, other.SetSource("a"), test.ShouldBeNil)
	test.That(t, other.SetTarget("goal"), test.ShouldBeNil)
	sol, err = ce.EstimateCostOnGraph(ctx, other, edge(t, other, "a", "b"), nil, true, false, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sol.Cost, test.ShouldAlmostEqual, 4, tol)
	test.That(t, other.NumEdges(), test.ShouldEqual, 2)

	// a contact-only factory cannot price generic sets
	f := &ShortcutCostFactory{Name: "contact_only", Contact: gcs.ContactShortcutEdgeL1NormCost}
	a, err := g.Vertex("a")
	test.That(t, err, test.ShouldBeNil)
	_, err = f.Costs(a, a, false)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestConvertToCFreeVertexNames(t *testing.T) {
	name := "('NC|obs0_f3-obj0_v1', 'NC|obs0_f3-obj1_v1', 'NC|obs0_f3-rob0_v1', 'NC|obj0_f1-obj1_f3', 'NC|obj0_f2-rob0_f0', 'NC|obj1_f2-rob0_f0')"
	names, err := ConvertToCFreeVertexNames(name)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, names, test.ShouldResemble, []string{
		"('NC|obs0_f3-obj0_v1',)",
		"('NC|obs0_f3-obj1_v1',)",
		"('NC|obs0_f3-rob0_v1',)",
	})

	names, err = ConvertToCFreeVertexNames("('NC|obs1_f0-rob0_v2', 'IC|obs0_f1-obj0_v0', 'NC|obs1_f2-obj0_v3')")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, names, test.ShouldResemble, []string{
		"('IC|obs0_f1-obj0_v0', 'NC|obs1_f2-obj0_v3')",
		"('NC|obs1_f0-rob0_v2',)",
	})

	names, err = ConvertToCFreeVertexNames("('NC|obj0_f0-rob0_v0',)")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, names, test.ShouldBeEmpty)

	_, err = ConvertToCFreeVertexNames("source")
	test.That(t, err, test.ShouldNotBeNil)
	_, err = ConvertToCFreeVertexNames("('NC-obj0',)")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestFactoredCollisionFreeCE(t *testing.T) {
	ctx := context.Background()
	g, nc, ic := pushGraph(t)
	logger := logging.NewTestLogger(t)

	_, err := NewFactoredCollisionFreeCE(ctx, g, FactoredCollisionFreeOptions{ObjMultiplier: 0}, logger)
	test.That(t, err, test.ShouldNotBeNil)

	for _, combined := range []bool{false, true} {
		opts := DefaultFactoredCollisionFreeOptions()
		opts.UseCombinedGCS = combined
		ce, err := NewFactoredCollisionFreeCE(ctx, g, opts, logger)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, len(ce.cfree), test.ShouldEqual, 2)
		// no obstacles: source, target and the set without modes
		test.That(t, ce.cfree[0].NumVertices(), test.ShouldEqual, 3)

		names, err := ce.CFreeVertexNames(nc)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, names, test.ShouldResemble, []string{"()", "()"})

		before := g.EdgeKeys()
		metrics := motiontypes.NewAlgMetrics(nil)

		t.Run(ce.FingerPrint(), func(t *testing.T) {
			for _, relaxed := range []bool{false, true} {
				sol, err := ce.EstimateCostOnGraph(ctx, g.Graph, edge(t, g.Graph, gcs.SourceName, nc), nil, true, relaxed, metrics)
				test.That(t, err, test.ShouldBeNil)
				test.That(t, sol.Feasible, test.ShouldBeTrue)
				// one switch, then the object (weighted twice) and the robot each move to
				// their targets with one more switch
				test.That(t, sol.Cost, test.ShouldAlmostEqual, 1+2*(2+1)+(3.5+1), tol)
				test.That(t, sol.VertexPath, test.ShouldResemble, []string{gcs.SourceName, nc})
			}
			test.That(t, cmp.Diff(before, g.EdgeKeys()), test.ShouldBeEmpty)
			test.That(t, ce.cfree[0].NumVertices(), test.ShouldEqual, 3)
			test.That(t, ce.cfree[1].Source(), test.ShouldEqual, gcs.SourceName)
			if combined {
				test.That(t, ce.combined.NumVertices(), test.ShouldEqual, 4)
			}

			active := []gcs.EdgeKey{{U: gcs.SourceName, V: nc}, {U: nc, V: ic}}
			sol, err := ce.EstimateCostOnGraph(ctx, g.Graph, edge(t, g.Graph, ic, gcs.TargetName), active, true, false, metrics)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, sol.Cost, test.ShouldAlmostEqual, 8.5, tol)

			// the prefix is a restriction either way
			unrestricted, err := ce.EstimateCostOnGraph(ctx, g.Graph, edge(t, g.Graph, ic, gcs.TargetName), active, false, false, metrics)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, unrestricted.Cost, test.ShouldAlmostEqual, sol.Cost, tol)
			test.That(t, unrestricted.VertexPath, test.ShouldResemble, sol.VertexPath)

			sol, err = ce.EstimateCostOnGraph(ctx, g.Graph, edge(t, g.Graph, nc, gcs.TargetName),
				[]gcs.EdgeKey{{U: gcs.SourceName, V: nc}}, true, false, metrics)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, sol.Feasible, test.ShouldBeFalse)
		})
	}
}

func TestFactoredCollisionFreeCEObjMultiplier(t *testing.T) {
	ctx := context.Background()
	g, nc, _ := pushGraph(t)
	opts := DefaultFactoredCollisionFreeOptions()
	opts.ObjMultiplier = 3
	ce, err := NewFactoredCollisionFreeCE(ctx, g, opts, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ce.weights, test.ShouldResemble, []float64{3, 1})

	sol, err := ce.EstimateCostOnGraph(ctx, g.Graph, edge(t, g.Graph, gcs.SourceName, nc), nil, true, false, nil)
	test.That(t, err, test.ShouldBeNil)
	// the object's move and switch now weigh three times
	test.That(t, sol.Cost, test.ShouldAlmostEqual, 1+3*(2+1)+(3.5+1), tol)
}

func TestFactoredCollisionFreeCEObstacle(t *testing.T) {
	ctx := context.Background()
	g := scenarioGraph(t, obstacleScenario)
	logger := logging.NewTestLogger(t)

	shortcut, err := NewShortcutEdgeCEFromName(g.Graph, ContactShortcutEdgeL1NormCostFactory, false)
	test.That(t, err, test.ShouldBeNil)
	separate, err := NewFactoredCollisionFreeCE(ctx, g, DefaultFactoredCollisionFreeOptions(), logger)
	test.That(t, err, test.ShouldBeNil)
	combinedOpts := DefaultFactoredCollisionFreeOptions()
	combinedOpts.UseCombinedGCS = true
	combined, err := NewFactoredCollisionFreeCE(ctx, g, combinedOpts, logger)
	test.That(t, err, test.ShouldBeNil)
	// the robot is the only movable body, so its graph matches the contact graph
	test.That(t, separate.cfree[0].NumVertices(), test.ShouldEqual, g.NumVertices())

	before := g.EdgeKeys()
	metrics := motiontypes.NewAlgMetrics(nil)
	succ := g.Successors(gcs.SourceName)
	test.That(t, succ, test.ShouldNotBeEmpty)
	best := math.Inf(1)
	for _, name := range succ {
		names, err := separate.CFreeVertexNames(name)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, names, test.ShouldResemble, []string{name})
		converted, err := ConvertToCFreeVertexNames(name)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, converted, test.ShouldResemble, []string{name})

		e := edge(t, g.Graph, gcs.SourceName, name)
		reference, err := shortcut.EstimateCostOnGraph(ctx, g.Graph, e, nil, true, false, nil)
		test.That(t, err, test.ShouldBeNil)
		sol, err := separate.EstimateCostOnGraph(ctx, g.Graph, e, nil, true, false, metrics)
		test.That(t, err, test.ShouldBeNil)
		if !reference.Feasible {
			test.That(t, sol.Feasible, test.ShouldBeFalse)
			continue
		}
		if !sol.Feasible {
			continue
		}
		test.That(t, sol.LowerBound, test.ShouldBeFalse)
		// the shortcut skips the obstacle, so it never costs more
		test.That(t, sol.Cost, test.ShouldBeGreaterThanOrEqualTo, reference.Cost-tol)

		together, err := combined.EstimateCostOnGraph(ctx, g.Graph, e, nil, true, false, metrics)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, together.Cost, test.ShouldAlmostEqual, sol.Cost, tol)

		// a relaxed estimate never exceeds the exact one
		relaxed, err := separate.EstimateCostOnGraph(ctx, g.Graph, e, nil, true, true, metrics)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, relaxed.Cost, test.ShouldBeLessThanOrEqualTo, sol.Cost+tol)

		best = math.Min(best, sol.Cost)
	}
	// the cheapest first set is the one the robot crosses in a straight line: one switch in,
	// a move of 6 and one switch out
	test.That(t, best, test.ShouldAlmostEqual, 8, tol)
	test.That(t, cmp.Diff(before, g.EdgeKeys()), test.ShouldBeEmpty)
	test.That(t, separate.cfree[0].Source(), test.ShouldEqual, gcs.SourceName)
	test.That(t, metrics.GcsSolves, test.ShouldBeGreaterThan, 0)
}

func TestFactoredCollisionFreeCEDeadline(t *testing.T) {
	g := scenarioGraph(t, obstacleScenario)
	ce, err := NewFactoredCollisionFreeCE(context.Background(), g, DefaultFactoredCollisionFreeOptions(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	e := edge(t, g.Graph, gcs.SourceName, g.Successors(gcs.SourceName)[0])
	_, err = ce.EstimateCostOnGraph(ctx, g.Graph, e, nil, true, false, nil)
	test.That(t, errors.Is(err, context.DeadlineExceeded), test.ShouldBeTrue)
	// the collision-free graph is left as it was
	test.That(t, ce.cfree[0].Source(), test.ShouldEqual, gcs.SourceName)
	test.That(t, ce.cfree[0].HasVertex(startVertexName), test.ShouldBeFalse)
}

func TestFactoredCollisionFreeOptionsBudget(t *testing.T) {
	opts := DefaultFactoredCollisionFreeOptions()
	test.That(t, opts.budget(false), test.ShouldEqual, gcs.DefaultMaxRestrictions)
	test.That(t, opts.budget(true), test.ShouldEqual, DefaultRelaxedMaxRestrictions)

	opts = FactoredCollisionFreeOptions{MaxRestrictions: 7, RelaxedMaxRestrictions: 3}
	test.That(t, opts.budget(false), test.ShouldEqual, 7)
	test.That(t, opts.budget(true), test.ShouldEqual, 3)
	test.That(t, FactoredCollisionFreeOptions{}.budget(true), test.ShouldEqual, DefaultRelaxedMaxRestrictions)
}
