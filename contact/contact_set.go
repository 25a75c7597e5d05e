package contact

import (
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"go.viam.com/contactplan/solver"
	"go.viam.com/contactplan/spatialmath"
	"go.viam.com/contactplan/symbolic"
)

// DefaultBound is the magnitude of the box every contact set is intersected with so that its
// polyhedron is bounded.
const DefaultBound = 1000.0

// ErrMobilityMismatch is returned when an object is actuated or a robot is not.
var ErrMobilityMismatch = errors.New("objects must be unactuated and robots must be actuated")

// StructuredSet is a convex set whose decision variables follow the contact layout. Cost and
// constraint factories that need positions or forces dispatch on this interface.
type StructuredSet interface {
	spatialmath.ConvexSet
	ID() string
	Vars() *DecisionVariables
	BaseSet() spatialmath.ConvexSet
}

// ContactSet is the region of positions and forces consistent with a list of contact pair modes,
// one per body pair. Its identity is the tuple of its mode ids.
type ContactSet struct {
	modes    []*ContactPairMode
	objects  []*RigidBody
	robots   []*RigidBody
	vars     *DecisionVariables
	formulas []symbolic.Formula

	polyhedron     *spatialmath.Polyhedron
	basePolyhedron *spatialmath.Polyhedron
}

// NewContactSet builds the full and base polyhedra of `modes`. `additional` constraints apply to
// the full set only.
func NewContactSet(modes []*ContactPairMode, additional []symbolic.Formula, objects, robots []*RigidBody) (*ContactSet, error) {
	if err := checkMobility(objects, robots); err != nil {
		return nil, err
	}
	if err := checkOneModePerPair(modes); err != nil {
		return nil, err
	}

	vars := NewDecisionVariables(objects, robots, modes)
	var formulas, baseFormulas []symbolic.Formula
	for _, mode := range modes {
		formulas = append(formulas, mode.ConstraintFormulas()...)
		baseFormulas = append(baseFormulas, mode.BaseConstraintFormulas()...)
	}
	formulas = append(formulas, ForceBalanceConstraints(objects, robots, modes)...)
	formulas = append(formulas, additional...)

	polyhedron, err := boundedPolyhedron(formulas, vars.All, DefaultBound)
	if err != nil {
		return nil, errors.Wrap(err, "building contact set")
	}
	basePolyhedron, err := boundedPolyhedron(baseFormulas, vars.BaseAll, DefaultBound)
	if err != nil {
		return nil, errors.Wrap(err, "building base contact set")
	}
	return &ContactSet{
		modes:          modes,
		objects:        objects,
		robots:         robots,
		vars:           vars,
		formulas:       formulas,
		polyhedron:     polyhedron,
		basePolyhedron: basePolyhedron,
	}, nil
}

func checkMobility(objects, robots []*RigidBody) error {
	for _, obj := range objects {
		if obj.Mobility() != Unactuated {
			return errors.Wrapf(ErrMobilityMismatch, "object %s is %s", obj.Name(), obj.Mobility())
		}
	}
	for _, rob := range robots {
		if rob.Mobility() != Actuated {
			return errors.Wrapf(ErrMobilityMismatch, "robot %s is %s", rob.Name(), rob.Mobility())
		}
	}
	return nil
}

func checkOneModePerPair(modes []*ContactPairMode) error {
	seen := map[[2]*RigidBody]string{}
	for _, mode := range modes {
		pair := [2]*RigidBody{mode.BodyA(), mode.BodyB()}
		if prev, ok := seen[pair]; ok {
			return errors.Errorf("modes %s and %s constrain the same body pair", prev, mode.ID())
		}
		seen[pair] = mode.ID()
	}
	return nil
}

// boundedPolyhedron appends -bound <= x <= bound for every variable.
func boundedPolyhedron(formulas []symbolic.Formula, vars []symbolic.Variable, bound float64) (*spatialmath.Polyhedron, error) {
	all := append([]symbolic.Formula{}, formulas...)
	for _, v := range vars {
		all = append(all,
			symbolic.Le(symbolic.Var(v), symbolic.Const(bound)),
			symbolic.Ge(symbolic.Var(v), symbolic.Const(-bound)),
		)
	}
	return spatialmath.PolyhedronFromConstraints(all, vars)
}

// ID is the vertex name of the set, the tuple of its mode ids.
func (cs *ContactSet) ID() string {
	return FormatVertexName(cs.ModeIDs())
}

// ModeIDs returns the ids of the set's modes in order.
func (cs *ContactSet) ModeIDs() []string {
	ids := make([]string, len(cs.modes))
	for i, m := range cs.modes {
		ids[i] = m.ID()
	}
	return ids
}

// Modes returns the set's modes.
func (cs *ContactSet) Modes() []*ContactPairMode {
	return cs.modes
}

// Objects returns the unactuated bodies of the set.
func (cs *ContactSet) Objects() []*RigidBody {
	return cs.objects
}

// Robots returns the actuated bodies of the set.
func (cs *ContactSet) Robots() []*RigidBody {
	return cs.robots
}

// Vars implements StructuredSet.
func (cs *ContactSet) Vars() *DecisionVariables {
	return cs.vars
}

// ConstraintFormulas returns every constraint of the full set before the bounding box.
func (cs *ContactSet) ConstraintFormulas() []symbolic.Formula {
	return cs.formulas
}

// Set returns the polyhedron over Vars().All.
func (cs *ContactSet) Set() *spatialmath.Polyhedron {
	return cs.polyhedron
}

// BaseSet implements StructuredSet with the polyhedron over the first position of every body.
func (cs *ContactSet) BaseSet() spatialmath.ConvexSet {
	return cs.basePolyhedron
}

// BasePolyhedron is BaseSet as a polyhedron.
func (cs *ContactSet) BasePolyhedron() *spatialmath.Polyhedron {
	return cs.basePolyhedron
}

// Dim implements spatialmath.ConvexSet.
func (cs *ContactSet) Dim() int {
	return cs.polyhedron.Dim()
}

// Constraints implements spatialmath.ConvexSet.
func (cs *ContactSet) Constraints() []solver.LinearConstraint {
	return cs.polyhedron.Constraints()
}

// Center implements spatialmath.ConvexSet. Contact sets carry no interior point.
func (cs *ContactSet) Center() []float64 {
	return nil
}

// Samples implements spatialmath.ConvexSet.
func (cs *ContactSet) Samples(n int) ([][]float64, error) {
	return cs.polyhedron.Samples(n)
}

// Contains implements spatialmath.ConvexSet.
func (cs *ContactSet) Contains(x []float64, tol float64) bool {
	return cs.polyhedron.Contains(x, tol)
}

// ContactPointSet pins every movable body to one position. It is used for the source and target
// vertices of a contact graph.
type ContactPointSet struct {
	id    string
	vars  *DecisionVariables
	point *spatialmath.Point
}

// NewContactPointSet pins `objects` and `robots` to the given positions.
func NewContactPointSet(id string, objects, robots []*RigidBody, objectPositions, robotPositions []r2.Point) (*ContactPointSet, error) {
	if len(objects) != len(objectPositions) {
		return nil, errors.Errorf("%d objects but %d object positions", len(objects), len(objectPositions))
	}
	if len(robots) != len(robotPositions) {
		return nil, errors.Errorf("%d robots but %d robot positions", len(robots), len(robotPositions))
	}
	if err := checkMobility(objects, robots); err != nil {
		return nil, err
	}
	x := make([]float64, 0, Dim*(len(objects)+len(robots)))
	for _, p := range append(append([]r2.Point{}, objectPositions...), robotPositions...) {
		x = append(x, p.X, p.Y)
	}
	return &ContactPointSet{
		id:    id,
		vars:  NewPointDecisionVariables(objects, robots),
		point: spatialmath.NewPoint(x),
	}, nil
}

// ID implements StructuredSet.
func (ps *ContactPointSet) ID() string {
	return ps.id
}

// Vars implements StructuredSet.
func (ps *ContactPointSet) Vars() *DecisionVariables {
	return ps.vars
}

// Set returns the pinned configuration.
func (ps *ContactPointSet) Set() *spatialmath.Point {
	return ps.point
}

// BaseSet implements StructuredSet. A point is its own base set.
func (ps *ContactPointSet) BaseSet() spatialmath.ConvexSet {
	return ps.point
}

// Dim implements spatialmath.ConvexSet.
func (ps *ContactPointSet) Dim() int {
	return ps.point.Dim()
}

// Constraints implements spatialmath.ConvexSet.
func (ps *ContactPointSet) Constraints() []solver.LinearConstraint {
	return ps.point.Constraints()
}

// Center implements spatialmath.ConvexSet.
func (ps *ContactPointSet) Center() []float64 {
	return ps.point.Center()
}

// Samples implements spatialmath.ConvexSet.
func (ps *ContactPointSet) Samples(n int) ([][]float64, error) {
	return ps.point.Samples(n)
}

// Contains implements spatialmath.ConvexSet.
func (ps *ContactPointSet) Contains(x []float64, tol float64) bool {
	return ps.point.Contains(x, tol)
}
