package contact

import (
	"testing"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/test"
)

const tol = 1e-6

func squareBody(t *testing.T, name string, mobility MobilityType, side float64) *RigidBody {
	t.Helper()
	body, err := NewRigidBody(name, mobility, []r2.Point{{X: 0, Y: side}, {X: side, Y: side}, {X: side, Y: 0}, {X: 0, Y: 0}}, 2, r2.Point{})
	test.That(t, err, test.ShouldBeNil)
	return body
}

func modeByID(t *testing.T, modes []*ContactPairMode, id string) *ContactPairMode {
	t.Helper()
	for _, m := range modes {
		if m.ID() == id {
			return m
		}
	}
	t.Fatalf("no mode %s", id)
	return nil
}

func modeIDs(modes []*ContactPairMode) []string {
	ids := make([]string, len(modes))
	for i, m := range modes {
		ids[i] = m.ID()
	}
	return ids
}

func TestRigidBody(t *testing.T) {
	obj := squareBody(t, "obj0", Unactuated, 2)
	test.That(t, obj.Vertices(), test.ShouldResemble, []r2.Point{{X: 0, Y: 0}, {X: 2, Y: 0}, {X: 2, Y: 2}, {X: 0, Y: 2}})
	test.That(t, obj.NumVertices(), test.ShouldEqual, 4)

	n := obj.FaceNormal(3)
	test.That(t, n.X, test.ShouldAlmostEqual, -1, tol)
	test.That(t, n.Y, test.ShouldAlmostEqual, 0, tol)

	test.That(t, len(obj.PosVars()), test.ShouldEqual, Dim)
	test.That(t, len(obj.PosVars()[0]), test.ShouldEqual, 2)
	test.That(t, len(obj.ForceResVars()[1]), test.ShouldEqual, 1)
	test.That(t, obj.ForceActVars(), test.ShouldBeNil)

	rob, err := obj.WithMobility(Actuated)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(rob.ForceActVars()[0]), test.ShouldEqual, 1)
	test.That(t, rob.PosVars()[0][0].ID, test.ShouldNotEqual, obj.PosVars()[0][0].ID)

	obs, err := NewRigidBody("obs0", Static, obj.Vertices(), 2, r2.Point{X: 3, Y: 4})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, obs.PosVars(), test.ShouldBeNil)
	test.That(t, obs.PositionExpr(1, 0).Constant(), test.ShouldEqual, 4.)

	_, err = NewRigidBody("bad", Unactuated, []r2.Point{{X: 0, Y: 0}, {X: 1, Y: 1}}, 2, r2.Point{})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewRigidBody("bad", Unactuated, obj.Vertices(), 1, r2.Point{})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestGenerateContactPairModes(t *testing.T) {
	t.Run("two squares touch face to face", func(t *testing.T) {
		obj := squareBody(t, "obj0", Unactuated, 2)
		rob := squareBody(t, "rob0", Actuated, 1)
		modes, err := GenerateContactPairModes(obj, rob)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, modeIDs(modes), test.ShouldResemble, []string{
			"NC|obj0_f0-rob0_f2", "IC|obj0_f0-rob0_f2",
			"NC|obj0_f1-rob0_f3", "IC|obj0_f1-rob0_f3",
			"NC|obj0_f2-rob0_f0", "IC|obj0_f2-rob0_f0",
			"NC|obj0_f3-rob0_f1", "IC|obj0_f3-rob0_f1",
		})
	})

	t.Run("square against triangle", func(t *testing.T) {
		obj := squareBody(t, "obj0", Unactuated, 2)
		rob, err := NewRigidBody("rob0", Actuated, []r2.Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 0, Y: 1}}, 2, r2.Point{})
		test.That(t, err, test.ShouldBeNil)
		modes, err := GenerateContactPairModes(obj, rob)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, modeIDs(modes), test.ShouldResemble, []string{
			"NC|obj0_f0-rob0_v2", "IC|obj0_f0-rob0_v2",
			"NC|obj0_f1-rob0_f2", "IC|obj0_f1-rob0_f2",
			"NC|obj0_f2-rob0_f0", "IC|obj0_f2-rob0_f0",
			"NC|obj0_f3-rob0_v1", "IC|obj0_f3-rob0_v1",
			"NC|obj0_v0-rob0_f1", "IC|obj0_v0-rob0_f1",
		})

		ic := modeByID(t, modes, "IC|obj0_v0-rob0_f1")
		test.That(t, len(ic.ForceMagAB()), test.ShouldEqual, 1)
		test.That(t, len(ic.BaseConstraintFormulas()), test.ShouldEqual, 3)
		// three geometric constraints per sample plus two force signs
		test.That(t, len(ic.ConstraintFormulas()), test.ShouldEqual, 8)
		test.That(t, ic.Involves("rob0"), test.ShouldBeTrue)
		test.That(t, ic.Involves("obs0"), test.ShouldBeFalse)
	})

	t.Run("static pairs are rejected", func(t *testing.T) {
		a, err := NewRigidBody("obs0", Static, []r2.Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 0, Y: 1}}, 2, r2.Point{})
		test.That(t, err, test.ShouldBeNil)
		b, err := NewRigidBody("obs1", Static, []r2.Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 0, Y: 1}}, 2, r2.Point{})
		test.That(t, err, test.ShouldBeNil)
		_, err = GenerateContactPairModes(a, b)
		test.That(t, err, test.ShouldNotBeNil)
	})
}

func TestContactSet(t *testing.T) {
	obj := squareBody(t, "obj0", Unactuated, 2)
	rob := squareBody(t, "rob0", Actuated, 1)
	modes, err := GenerateContactPairModes(obj, rob)
	test.That(t, err, test.ShouldBeNil)
	objects, robots := []*RigidBody{obj}, []*RigidBody{rob}

	t.Run("no contact", func(t *testing.T) {
		cs, err := NewContactSet([]*ContactPairMode{modeByID(t, modes, "NC|obj0_f3-rob0_f1")}, nil, objects, robots)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, cs.ID(), test.ShouldEqual, "('NC|obj0_f3-rob0_f1',)")
		test.That(t, cs.Dim(), test.ShouldEqual, 14)
		test.That(t, len(cs.Vars().BaseAll), test.ShouldEqual, 4)
		test.That(t, cs.Center(), test.ShouldBeNil)

		// obj x, obj y, rob x, rob y, residual forces, actuation
		apart := []float64{0, 0, 0, 0, -3, -3, 0, 0, 0, 0, 0, 0, 0, 0}
		test.That(t, cs.Contains(apart, tol), test.ShouldBeTrue)
		overlapping := []float64{0, 0, 0, 0, -0.5, -0.5, 0, 0, 0, 0, 0, 0, 0, 0}
		test.That(t, cs.Contains(overlapping, tol), test.ShouldBeFalse)

		test.That(t, cs.BaseSet().Contains([]float64{0, 0, -3, 0}, tol), test.ShouldBeTrue)
		test.That(t, cs.BaseSet().Contains([]float64{0, 0, -0.5, 0}, tol), test.ShouldBeFalse)
	})

	t.Run("robot pushes object", func(t *testing.T) {
		cs, err := NewContactSet([]*ContactPairMode{modeByID(t, modes, "IC|obj0_f3-rob0_f1")}, nil, objects, robots)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, cs.Dim(), test.ShouldEqual, 16)

		empty, err := cs.Set().IsEmpty()
		test.That(t, err, test.ShouldBeNil)
		test.That(t, empty, test.ShouldBeFalse)

		push := []float64{0, 1, 0, 0, -1, 0, 0, 0, 1, 0, 1, 0, 1, 0, 0, 1}
		test.That(t, cs.Contains(push, tol), test.ShouldBeTrue)

		// the robot's face no longer overlaps the object's face
		slid := []float64{0, 1, 0, 0, -1, 0, 3, 3, 1, 0, 1, 0, 1, 0, 0, 1}
		test.That(t, cs.Contains(slid, tol), test.ShouldBeFalse)

		// the object moves without being pushed
		unbalanced := []float64{0, 1, 0, 0, -1, 0, 0, 0, 1, 0, 1, 0, 1, 0, 0, 0}
		test.That(t, cs.Contains(unbalanced, tol), test.ShouldBeFalse)

		pos, err := cs.Vars().PosFromAll(push)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, pos[1][0], test.ShouldResemble, []float64{-1, 0})
		test.That(t, cs.Vars().FirstPosIndices(), test.ShouldResemble, []int{0, 2, 4, 6})
		test.That(t, cs.Vars().LastPosIndices(), test.ShouldResemble, []int{1, 3, 5, 7})
		test.That(t, cs.Vars().ForceActIndices(), test.ShouldResemble, []int{12, 13})
	})

	t.Run("two modes for one pair", func(t *testing.T) {
		_, err := NewContactSet(modes[:2], nil, objects, robots)
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("mobility mismatch", func(t *testing.T) {
		_, err := NewContactSet(modes[:1], nil, robots, objects)
		test.That(t, errors.Is(err, ErrMobilityMismatch), test.ShouldBeTrue)
		_, err = NewContactPointSet("source", robots, objects, []r2.Point{{}}, []r2.Point{{}})
		test.That(t, errors.Is(err, ErrMobilityMismatch), test.ShouldBeTrue)
	})
}

func TestContactPointSet(t *testing.T) {
	obj := squareBody(t, "obj0", Unactuated, 2)
	rob := squareBody(t, "rob0", Actuated, 1)
	ps, err := NewContactPointSet("source", []*RigidBody{obj}, []*RigidBody{rob},
		[]r2.Point{{X: 0, Y: 0}}, []r2.Point{{X: -2, Y: -2}})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ps.ID(), test.ShouldEqual, "source")
	test.That(t, ps.Dim(), test.ShouldEqual, 4)
	test.That(t, ps.Center(), test.ShouldResemble, []float64{0, 0, -2, -2})
	test.That(t, ps.Vars().NumPositions(), test.ShouldEqual, 1)
	test.That(t, ps.Vars().LastPosIndices(), test.ShouldResemble, []int{0, 1, 2, 3})
	test.That(t, ps.Contains([]float64{0, 0, -2, -2}, tol), test.ShouldBeTrue)

	_, err = NewContactPointSet("source", []*RigidBody{obj}, []*RigidBody{rob}, nil, []r2.Point{{}})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestVertexNames(t *testing.T) {
	name := "('NC|obs0_f3-obj0_v1', 'NC|obs0_f3-obj1_v1', 'NC|obs0_f3-rob0_v1', " +
		"'NC|obj0_f1-obj1_f3', 'NC|obj0_f2-rob0_f0', 'NC|obj1_f2-rob0_f0')"
	ids, err := ParseVertexName(name)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(ids), test.ShouldEqual, 6)
	test.That(t, ids[3], test.ShouldEqual, "NC|obj0_f1-obj1_f3")
	test.That(t, FormatVertexName(ids), test.ShouldEqual, name)

	test.That(t, FormatVertexName([]string{"IC|obj0_f3-rob0_v0"}), test.ShouldEqual, "('IC|obj0_f3-rob0_v0',)")
	single, err := ParseVertexName("('IC|obj0_f3-rob0_v0',)")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, single, test.ShouldResemble, []string{"IC|obj0_f3-rob0_v0"})

	_, err = ParseVertexName("source")
	test.That(t, err, test.ShouldNotBeNil)
	_, err = ParseVertexName("(NC|obj0_f3-rob0_v0,)")
	test.That(t, err, test.ShouldNotBeNil)

	a, b, err := BodiesOfMode("NC|obs0_f3-obj1_v1")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, a, test.ShouldEqual, "obs0")
	test.That(t, b, test.ShouldEqual, "obj1")
	_, _, err = BodiesOfMode("obs0_f3-obj1_v1")
	test.That(t, err, test.ShouldNotBeNil)
}

const scenarioYAML = `
n_pos_points: 2
obstacles:
  - vertices: [[0, 0], [1, 0], [1, 1], [0, 1]]
    position: [5, 5]
objects:
  - vertices: [[0, 0], [2, 0], [2, 2], [0, 2]]
robots:
  - vertices: [[0, 0], [1, 0], [1, 1], [0, 1]]
source_obj_pos: [[0, 0]]
source_rob_pos: [[-2, -2]]
target_obj_pos: [[2, 0]]
target_rob_pos: [[2.5, 2]]
workspace: [[-4, 4], [-4, 4]]
`

func TestScenario(t *testing.T) {
	s, err := ParseScenario([]byte(scenarioYAML))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.NPosPoints, test.ShouldEqual, 2)

	bodies, err := s.Bodies()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, bodies.Obstacles[0].Name(), test.ShouldEqual, "obs0")
	test.That(t, bodies.Obstacles[0].Position(), test.ShouldResemble, r2.Point{X: 5, Y: 5})
	test.That(t, bodies.Objects[0].Mobility(), test.ShouldEqual, Unactuated)
	test.That(t, bodies.Robots[0].Name(), test.ShouldEqual, "rob0")
	test.That(t, len(bodies.Pairs()), test.ShouldEqual, 3)
	test.That(t, len(bodies.Movable()), test.ShouldEqual, 2)

	objPos, robPos := s.TargetPositions()
	test.That(t, objPos, test.ShouldResemble, []r2.Point{{X: 2, Y: 0}})
	test.That(t, robPos, test.ShouldResemble, []r2.Point{{X: 2.5, Y: 2}})
	// two bodies, two dimensions, two samples, two bounds
	test.That(t, len(s.WorkspaceConstraints(bodies.Movable())), test.ShouldEqual, 16)

	data, err := s.Marshal()
	test.That(t, err, test.ShouldBeNil)
	again, err := ParseScenario(data)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, again, test.ShouldResemble, s)

	_, err = ParseScenario([]byte("n_pos_points: 1\nobjects:\n  - vertices: [[0, 0]]\nsource_obj_pos: [[0]]\n"))
	test.That(t, err, test.ShouldNotBeNil)
	// n_pos_points, robots, source_obj_pos coordinates, target_obj_pos count
	test.That(t, len(multierr.Errors(err)), test.ShouldEqual, 4)
}
