package gcs

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/contactplan/contact"
	"go.viam.com/contactplan/logging"
	"go.viam.com/contactplan/solver"
)

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

func pushProblem(t *testing.T) *ContactProblem {
	t.Helper()
	s, err := contact.ParseScenario([]byte(pushScenario))
	test.That(t, err, test.ShouldBeNil)
	p, err := ProblemFromScenario(s)
	test.That(t, err, test.ShouldBeNil)
	return p
}

// pushModes returns the no-contact and in-contact vertices of the robot touching the object's
// left face.
func pushModes(t *testing.T, g *ContactGraph) (string, string) {
	t.Helper()
	succ := g.Successors(SourceName)
	test.That(t, len(succ), test.ShouldEqual, 1)
	test.That(t, strings.HasPrefix(succ[0], "('NC|obj0_f"), test.ShouldBeTrue)
	return succ[0], strings.Replace(succ[0], "NC|", "IC|", 1)
}

func TestContactGraph(t *testing.T) {
	ctx := context.Background()
	g, err := NewContactGraph(ctx, pushProblem(t), DefaultContactGraphOptions(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	// four face pairs, each with a no-contact and an in-contact mode
	test.That(t, len(g.PairModes()), test.ShouldEqual, 1)
	test.That(t, g.NumVertices(), test.ShouldEqual, 10)

	nc, ic := pushModes(t, g)
	test.That(t, g.HasEdge(EdgeKey{U: nc, V: ic}), test.ShouldBeTrue)
	test.That(t, g.HasEdge(EdgeKey{U: ic, V: nc}), test.ShouldBeTrue)
	test.That(t, g.HasEdge(EdgeKey{U: nc, V: TargetName}), test.ShouldBeTrue)
	test.That(t, g.HasEdge(EdgeKey{U: ic, V: TargetName}), test.ShouldBeTrue)
	test.That(t, len(g.IncomingEdges(TargetName)), test.ShouldEqual, 2)

	set, err := g.StructuredSet(ic)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, set.Dim(), test.ShouldEqual, 16)
	_, err = g.StructuredSet("missing")
	test.That(t, err, test.ShouldNotBeNil)

	t.Run("object cannot move without contact", func(t *testing.T) {
		sol, err := g.SolveConvexRestriction(ctx, []EdgeKey{
			{U: SourceName, V: nc},
			{U: nc, V: TargetName},
		}, false)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, sol.Feasible, test.ShouldBeFalse)
	})

	t.Run("approach then push", func(t *testing.T) {
		sol, err := g.SolveConvexRestriction(ctx, []EdgeKey{
			{U: SourceName, V: nc},
			{U: nc, V: ic},
			{U: ic, V: TargetName},
		}, false)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, sol.Feasible, test.ShouldBeTrue)
		// robot approach 1.5, push moves both bodies 2, three mode switches
		test.That(t, sol.Cost, test.ShouldAlmostEqual, 8.5, 1e-5)

		icSet, err := g.StructuredSet(ic)
		test.That(t, err, test.ShouldBeNil)
		pos, err := icSet.Vars().PosFromAll(sol.AmbientPath[2])
		test.That(t, err, test.ShouldBeNil)
		// object x at the start and end of the push
		test.That(t, pos[0][0][0], test.ShouldAlmostEqual, 0, 1e-5)
		test.That(t, pos[0][0][1], test.ShouldAlmostEqual, 2, 1e-5)
		// robot x
		test.That(t, pos[1][0][0], test.ShouldAlmostEqual, -1.5, 1e-5)
	})
}

func TestIncrementalContactGraph(t *testing.T) {
	ctx := context.Background()
	g, err := NewIncrementalContactGraph(pushProblem(t), DefaultContactGraphOptions(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, g.NumVertices(), test.ShouldEqual, 2)
	test.That(t, g.IsExpanded(SourceName), test.ShouldBeFalse)

	// an interrupted expansion is not marked done
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = g.ExpandNeighbors(cancelled, SourceName)
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
	test.That(t, g.IsExpanded(SourceName), test.ShouldBeFalse)

	edges, err := g.ExpandNeighbors(ctx, SourceName)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(edges), test.ShouldEqual, 1)
	test.That(t, g.IsExpanded(SourceName), test.ShouldBeTrue)

	nc, ic := pushModes(t, g.ContactGraph)
	test.That(t, g.HasEdge(EdgeKey{U: nc, V: TargetName}), test.ShouldBeTrue)
	test.That(t, g.HasVertex(ic), test.ShouldBeFalse)

	edges, err = g.ExpandNeighbors(ctx, nc)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, g.HasVertex(ic), test.ShouldBeTrue)
	test.That(t, g.HasEdge(EdgeKey{U: nc, V: ic}), test.ShouldBeTrue)
	// the edge to the target plus at least the switch into contact
	test.That(t, len(edges), test.ShouldBeGreaterThanOrEqualTo, 2)

	// a second expansion adds nothing
	before := g.NumEdges()
	_, err = g.ExpandNeighbors(ctx, nc)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, g.NumEdges(), test.ShouldEqual, before)

	_, err = g.ExpandNeighbors(ctx, "missing")
	test.That(t, err, test.ShouldNotBeNil)

	// a vertex whose modes cannot be resolved stays unexpanded
	test.That(t, g.GenerateNeighbors(ctx, "('NC|nope',)"), test.ShouldNotBeNil)
	test.That(t, g.IsExpanded("('NC|nope',)"), test.ShouldBeFalse)
	test.That(t, g.GenerateNeighbors(ctx, TargetName), test.ShouldBeNil)
	test.That(t, g.IsExpanded(TargetName), test.ShouldBeTrue)
}

func TestLoadContactGraphFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "push.yaml")
	test.That(t, os.WriteFile(path, []byte(pushScenario), 0o600), test.ShouldBeNil)

	g, err := LoadContactGraphFromFile(context.Background(), path, DefaultContactGraphOptions(), true, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, g.NumVertices(), test.ShouldEqual, 2)
	test.That(t, g.SourceSet().Dim(), test.ShouldEqual, 4)
	test.That(t, g.TargetSet().Set().X(), test.ShouldResemble, []float64{2, 0, 0.5, 0})

	_, err = LoadContactGraphFromFile(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"),
		DefaultContactGraphOptions(), false, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestContactCostFactories(t *testing.T) {
	p := pushProblem(t)
	g, err := NewIncrementalContactGraph(p, DefaultContactGraphOptions(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	src, dst := g.SourceSet().Vars(), g.TargetSet().Vars()

	costs, err := ContactShortcutEdgeL1NormCost(src, dst, true)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(costs), test.ShouldEqual, 2)
	x := append(g.SourceSet().Set().X(), g.TargetSet().Set().X()...)
	total := 0.
	for _, c := range costs {
		v, err := solver.Evaluate(c, x)
		test.That(t, err, test.ShouldBeNil)
		total += v
	}
	// object moves 2, robot moves 3.5, plus the constant
	test.That(t, total, test.ShouldAlmostEqual, 6.5, tol)

	weighted, err := ContactShortcutEdgeCostOverObjWeighted(src, dst, false)
	test.That(t, err, test.ShouldBeNil)
	v, err := solver.Evaluate(weighted[0], x)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldAlmostEqual, 2*ObjectWeight+3.5, tol)

	cont, err := EdgeCostPositionContinuityNorm(src, dst, 0.5)
	test.That(t, err, test.ShouldBeNil)
	v, err = solver.Evaluate(cont, x)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldAlmostEqual, 2.75, tol)

	constraint, err := EdgeConstraintPositionContinuity(src, src)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, constraint.Equality, test.ShouldBeTrue)
	test.That(t, constraint.NumVars(), test.ShouldEqual, 8)
}

func TestPositionPathLengthIsL1(t *testing.T) {
	p := pushProblem(t)
	vars := contact.NewDecisionVariables(p.Bodies.Objects, p.Bodies.Robots, nil)
	test.That(t, vars.NumPositions(), test.ShouldEqual, 2)
	cost := VertexCostPositionPathLength(vars)

	x := make([]float64, len(vars.All))
	// the robot steps diagonally by (3, 4), Euclidean length 5
	x[vars.PosIndex(1, 0, 1)] = 3
	x[vars.PosIndex(1, 1, 1)] = 4
	v, err := solver.Evaluate(cost, x)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldAlmostEqual, 7, tol)
	test.That(t, v, test.ShouldBeGreaterThanOrEqualTo, 5)
	test.That(t, v, test.ShouldBeLessThanOrEqualTo, 5*math.Sqrt2)

	// axis-aligned steps are exact
	x[vars.PosIndex(1, 1, 1)] = 0
	v, err = solver.Evaluate(cost, x)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldAlmostEqual, 3, tol)
}
