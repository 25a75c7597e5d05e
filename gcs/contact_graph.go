package gcs

import (
	"context"
	"slices"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/contactplan/contact"
	"go.viam.com/contactplan/logging"
	"go.viam.com/contactplan/solver"
	"go.viam.com/contactplan/symbolic"
)

// Names of the pinned vertices of a contact graph.
const (
	SourceName = "source"
	TargetName = "target"
)

const containsTol = 1e-6

// ContactGraphOptions configures which costs a contact graph attaches.
type ContactGraphOptions struct {
	// AddConstEdgeCost charges ConstEdgeCost per mode switch.
	AddConstEdgeCost bool
	ConstEdgeCost    float64
	// AddActuationCost adds the L1 norm of the robots' actuation to every set.
	AddActuationCost bool
	// InclSimulModeSwitches also connects sets that differ in more than one mode.
	InclSimulModeSwitches bool
}

// DefaultContactGraphOptions returns options with a unit switch cost enabled.
func DefaultContactGraphOptions() ContactGraphOptions {
	return ContactGraphOptions{AddConstEdgeCost: true, ConstEdgeCost: 1}
}

// ContactProblem is a planar pushing problem over built bodies.
type ContactProblem struct {
	Bodies       *contact.Bodies
	SourceObjPos []r2.Point
	SourceRobPos []r2.Point
	TargetObjPos []r2.Point
	TargetRobPos []r2.Point
	// Workspace optionally bounds every movable body, one [min, max] per dimension.
	Workspace [][]float64
}

// ProblemFromScenario builds the bodies and pinned positions of a scenario.
func ProblemFromScenario(s *contact.Scenario) (*ContactProblem, error) {
	bodies, err := s.Bodies()
	if err != nil {
		return nil, err
	}
	p := &ContactProblem{Bodies: bodies, Workspace: s.Workspace}
	p.SourceObjPos, p.SourceRobPos = s.SourcePositions()
	p.TargetObjPos, p.TargetRobPos = s.TargetPositions()
	return p, nil
}

// ContactGraph is a graph whose vertices are contact sets, one mode per body pair, plus a pinned
// source and target.
type ContactGraph struct {
	*Graph

	problem   *ContactProblem
	opts      ContactGraphOptions
	pairModes [][]*contact.ContactPairMode
	modeByID  map[string]*contact.ContactPairMode

	// nil marks a mode tuple whose set is known to be empty
	sets       map[string]*contact.ContactSet
	additional []symbolic.Formula

	sourceSet *contact.ContactPointSet
	targetSet *contact.ContactPointSet
}

func newContactGraph(problem *ContactProblem, opts ContactGraphOptions, logger logging.Logger) (*ContactGraph, error) {
	cg := &ContactGraph{
		Graph:    NewGraph(nil, logger),
		problem:  problem,
		opts:     opts,
		modeByID: map[string]*contact.ContactPairMode{},
		sets:     map[string]*contact.ContactSet{},
	}
	cg.additional = contact.WorkspaceConstraints(problem.Workspace, problem.Bodies.Movable())
	for _, pair := range problem.Bodies.Pairs() {
		modes, err := contact.GenerateContactPairModes(pair[0], pair[1])
		if err != nil {
			return nil, err
		}
		for _, m := range modes {
			cg.modeByID[m.ID()] = m
		}
		cg.pairModes = append(cg.pairModes, modes)
	}

	objects, robots := problem.Bodies.Objects, problem.Bodies.Robots
	var err error
	cg.sourceSet, err = contact.NewContactPointSet(SourceName, objects, robots, problem.SourceObjPos, problem.SourceRobPos)
	if err != nil {
		return nil, errors.Wrap(err, "source")
	}
	cg.targetSet, err = contact.NewContactPointSet(TargetName, objects, robots, problem.TargetObjPos, problem.TargetRobPos)
	if err != nil {
		return nil, errors.Wrap(err, "target")
	}
	if err := cg.AddVertex(&Vertex{ConvexSet: cg.sourceSet}, SourceName); err != nil {
		return nil, err
	}
	if err := cg.AddVertex(&Vertex{ConvexSet: cg.targetSet}, TargetName); err != nil {
		return nil, err
	}
	if err := cg.SetSource(SourceName); err != nil {
		return nil, err
	}
	if err := cg.SetTarget(TargetName); err != nil {
		return nil, err
	}
	cg.logger.Debugw("contact pair modes generated", "pairs", len(cg.pairModes), "modes", len(cg.modeByID))
	return cg, nil
}

// NewContactGraph builds every non-empty contact set of the problem up front and connects sets
// whose base sets intersect.
func NewContactGraph(ctx context.Context, problem *ContactProblem, opts ContactGraphOptions, logger logging.Logger) (*ContactGraph, error) {
	cg, err := newContactGraph(problem, opts, logger)
	if err != nil {
		return nil, err
	}

	var sets []*contact.ContactSet
	err = product(cg.pairModes, func(modes []*contact.ContactPairMode) error {
		set, err := cg.contactSet(modes)
		if err != nil || set == nil {
			return err
		}
		if err := cg.addSetVertex(set); err != nil {
			return err
		}
		sets = append(sets, set)
		return ctx.Err()
	})
	if err != nil {
		return nil, err
	}

	for i, u := range sets {
		if err := cg.connectSource(u); err != nil {
			return nil, err
		}
		for _, v := range sets[i+1:] {
			if !opts.InclSimulModeSwitches && numDifferentModes(u, v) != 1 {
				continue
			}
			ok, err := basesIntersect(ctx, u, v)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			if err := cg.connect(u, v); err != nil {
				return nil, err
			}
			if err := cg.connect(v, u); err != nil {
				return nil, err
			}
		}
	}
	cg.logger.Infow("built contact graph", "vertices", cg.NumVertices(), "edges", cg.NumEdges())
	return cg, nil
}

// Problem returns the problem the graph was built from.
func (cg *ContactGraph) Problem() *ContactProblem {
	return cg.problem
}

// Options returns the graph's options.
func (cg *ContactGraph) Options() ContactGraphOptions {
	return cg.opts
}

// PairModes returns the modes of every body pair, in pair order.
func (cg *ContactGraph) PairModes() [][]*contact.ContactPairMode {
	return cg.pairModes
}

// SourceSet returns the pinned source configuration.
func (cg *ContactGraph) SourceSet() *contact.ContactPointSet {
	return cg.sourceSet
}

// TargetSet returns the pinned target configuration.
func (cg *ContactGraph) TargetSet() *contact.ContactPointSet {
	return cg.targetSet
}

// StructuredSet returns the set of vertex `name`, if it follows the contact variable layout.
func (cg *ContactGraph) StructuredSet(name string) (contact.StructuredSet, error) {
	v, err := cg.Vertex(name)
	if err != nil {
		return nil, err
	}
	set, ok := v.ConvexSet.(contact.StructuredSet)
	if !ok {
		return nil, errors.Errorf("vertex %s is a %T, not a contact set", name, v.ConvexSet)
	}
	return set, nil
}

// modesOf resolves the modes of a contact set vertex name.
func (cg *ContactGraph) modesOf(name string) ([]*contact.ContactPairMode, error) {
	ids, err := contact.ParseVertexName(name)
	if err != nil {
		return nil, err
	}
	modes := make([]*contact.ContactPairMode, len(ids))
	for i, id := range ids {
		m, ok := cg.modeByID[id]
		if !ok {
			return nil, errors.Errorf("unknown mode %s in vertex %s", id, name)
		}
		modes[i] = m
	}
	return modes, nil
}

func modeIDs(modes []*contact.ContactPairMode) []string {
	ids := make([]string, len(modes))
	for i, m := range modes {
		ids[i] = m.ID()
	}
	return ids
}

// contactSet returns the set of `modes`, or nil if it is empty. Results are cached by name.
func (cg *ContactGraph) contactSet(modes []*contact.ContactPairMode) (*contact.ContactSet, error) {
	name := contact.FormatVertexName(modeIDs(modes))
	if set, ok := cg.sets[name]; ok {
		return set, nil
	}
	set, err := contact.NewContactSet(modes, cg.additional, cg.problem.Bodies.Objects, cg.problem.Bodies.Robots)
	if err != nil {
		return nil, err
	}
	empty, err := set.Set().IsEmpty()
	if err != nil {
		return nil, errors.Wrapf(err, "checking %s", name)
	}
	if empty {
		cg.logger.Debugw("skipping empty contact set", "set", name)
		set = nil
	}
	cg.sets[name] = set
	return set, nil
}

func (cg *ContactGraph) addSetVertex(set *contact.ContactSet) error {
	if cg.HasVertex(set.ID()) {
		return nil
	}
	costs := []solver.Cost{VertexCostPositionPathLength(set.Vars())}
	if cg.opts.AddActuationCost {
		costs = append(costs, VertexCostForceActuationNorm(set.Vars()))
	}
	if err := cg.AddVertex(&Vertex{ConvexSet: set, Costs: costs}, set.ID()); err != nil {
		return err
	}
	if set.BaseSet().Contains(cg.targetSet.Set().X(), containsTol) {
		return cg.connect(set, cg.targetSet)
	}
	return nil
}

func (cg *ContactGraph) connectSource(set *contact.ContactSet) error {
	if !set.BaseSet().Contains(cg.sourceSet.Set().X(), containsTol) {
		return nil
	}
	return cg.connect(cg.sourceSet, set)
}

// connect adds the mode switch u -> v unless it exists.
func (cg *ContactGraph) connect(u, v contact.StructuredSet) error {
	if cg.HasEdge(EdgeKey{U: u.ID(), V: v.ID()}) {
		return nil
	}
	continuity, err := EdgeConstraintPositionContinuity(u.Vars(), v.Vars())
	if err != nil {
		return errors.Wrapf(err, "edge %s -> %s", u.ID(), v.ID())
	}
	var costs []solver.Cost
	if cg.opts.AddConstEdgeCost {
		costs = append(costs, EdgeCostConstant(u.Vars(), v.Vars(), cg.opts.ConstEdgeCost))
	}
	return cg.AddEdge(&Edge{U: u.ID(), V: v.ID(), Costs: costs, Constraints: []solver.LinearConstraint{continuity}})
}

func numDifferentModes(u, v *contact.ContactSet) int {
	a, b := u.ModeIDs(), v.ModeIDs()
	n := 0
	for i := range a {
		if a[i] != b[i] {
			n++
		}
	}
	return n
}

// basesIntersect reports whether some configuration lies in both sets' base sets.
func basesIntersect(ctx context.Context, u, v *contact.ContactSet) (bool, error) {
	Hu, hu := u.BasePolyhedron().Halfspaces()
	Hv, hv := v.BasePolyhedron().Halfspaces()
	var H mat.Dense
	H.Stack(Hu, Hv)
	empty, err := solver.IsEmpty(ctx, &H, append(slices.Clone(hu), hv...))
	if err != nil {
		return false, errors.Wrapf(err, "intersecting %s and %s", u.ID(), v.ID())
	}
	return !empty, nil
}

// product calls fn with every choice of one mode per pair.
func product(pairModes [][]*contact.ContactPairMode, fn func([]*contact.ContactPairMode) error) error {
	choice := make([]*contact.ContactPairMode, len(pairModes))
	var rec func(i int) error
	rec = func(i int) error {
		if i == len(pairModes) {
			return fn(slices.Clone(choice))
		}
		for _, m := range pairModes[i] {
			choice[i] = m
			if err := rec(i + 1); err != nil {
				return err
			}
		}
		return nil
	}
	return rec(0)
}

// IncrementalContactGraph creates contact sets as the search expands them. The neighbors of a set
// are the sets that switch exactly one of its modes; the neighbors of the source are the sets
// whose modes all hold at the source configuration.
type IncrementalContactGraph struct {
	*ContactGraph
	expanded map[string]bool
}

// NewIncrementalContactGraph returns a contact graph holding only the source and target.
func NewIncrementalContactGraph(problem *ContactProblem, opts ContactGraphOptions, logger logging.Logger) (*IncrementalContactGraph, error) {
	cg, err := newContactGraph(problem, opts, logger)
	if err != nil {
		return nil, err
	}
	icg := &IncrementalContactGraph{ContactGraph: cg, expanded: map[string]bool{}}
	cg.SetNeighborGenerator(icg)
	return icg, nil
}

// GenerateNeighbors implements NeighborGenerator. Each vertex is expanded once; a failed
// expansion is retried by the next call.
func (icg *IncrementalContactGraph) GenerateNeighbors(ctx context.Context, vertex string) error {
	if icg.expanded[vertex] {
		return nil
	}
	var err error
	switch vertex {
	case TargetName:
	case SourceName:
		err = icg.generateSourceNeighbors(ctx)
	default:
		err = icg.generateSetNeighbors(ctx, vertex)
	}
	if err != nil {
		return err
	}
	icg.expanded[vertex] = true
	return nil
}

func (icg *IncrementalContactGraph) generateSetNeighbors(ctx context.Context, vertex string) error {
	modes, err := icg.modesOf(vertex)
	if err != nil {
		return err
	}
	current, err := icg.contactSet(modes)
	if err != nil {
		return err
	}
	if current == nil {
		return errors.Errorf("vertex %s has an empty contact set", vertex)
	}
	for i, pair := range icg.pairModes {
		for _, alt := range pair {
			if alt == modes[i] {
				continue
			}
			switched := slices.Clone(modes)
			switched[i] = alt
			set, err := icg.contactSet(switched)
			if err != nil {
				return err
			}
			if set == nil {
				continue
			}
			ok, err := basesIntersect(ctx, current, set)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if err := icg.addSetVertex(set); err != nil {
				return err
			}
			if err := icg.connect(current, set); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

func (icg *IncrementalContactGraph) generateSourceNeighbors(ctx context.Context) error {
	sourceX := icg.sourceSet.Set().X()
	values := map[uint64]float64{}
	for i, v := range icg.sourceSet.Vars().All {
		values[v.ID] = sourceX[i]
	}

	feasible := make([][]*contact.ContactPairMode, len(icg.pairModes))
	for i, pair := range icg.pairModes {
		for _, m := range pair {
			holds := true
			for _, f := range m.BaseConstraintFormulas() {
				ok, err := f.Holds(values, containsTol)
				if err != nil {
					return errors.Wrapf(err, "evaluating %s at the source", m.ID())
				}
				if !ok {
					holds = false
					break
				}
			}
			if holds {
				feasible[i] = append(feasible[i], m)
			}
		}
	}

	return product(feasible, func(modes []*contact.ContactPairMode) error {
		set, err := icg.contactSet(modes)
		if err != nil || set == nil {
			return err
		}
		if err := icg.addSetVertex(set); err != nil {
			return err
		}
		if err := icg.connectSource(set); err != nil {
			return err
		}
		return ctx.Err()
	})
}

// IsExpanded reports whether the neighbors of `vertex` have been generated.
func (icg *IncrementalContactGraph) IsExpanded(vertex string) bool {
	return icg.expanded[vertex]
}
