package costestimator

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"go.viam.com/contactplan/contact"
	"go.viam.com/contactplan/gcs"
	"go.viam.com/contactplan/logging"
	"go.viam.com/contactplan/motionplan/motiontypes"
	"go.viam.com/contactplan/solver"
)

const (
	startVertexName = "start"
	combinedSep     = "/"
)

// FactoredCollisionFreeOptions configures a FactoredCollisionFreeCE.
type FactoredCollisionFreeOptions struct {
	// UseCombinedGCS solves every body's collision-free graph as one chained program.
	UseCombinedGCS bool `json:"use_combined_gcs" yaml:"use_combined_gcs"`
	// AddTransitionCost charges a unit cost per mode switch in the collision-free graphs.
	AddTransitionCost bool `json:"add_transition_cost" yaml:"add_transition_cost"`
	// ObjMultiplier weights the costs of objects.
	ObjMultiplier float64 `json:"obj_multiplier" yaml:"obj_multiplier"`
	// MaxRestrictions bounds the convex restrictions solved per collision-free search.
	MaxRestrictions int `json:"max_restrictions" yaml:"max_restrictions"`
	// RelaxedMaxRestrictions replaces MaxRestrictions when a relaxed estimate is asked for.
	RelaxedMaxRestrictions int `json:"relaxed_max_restrictions" yaml:"relaxed_max_restrictions"`
}

// DefaultRelaxedMaxRestrictions is the search budget of relaxed collision-free estimates.
const DefaultRelaxedMaxRestrictions = 32

// DefaultFactoredCollisionFreeOptions returns per-body solves with transition costs and objects
// weighted twice.
func DefaultFactoredCollisionFreeOptions() FactoredCollisionFreeOptions {
	return FactoredCollisionFreeOptions{
		AddTransitionCost:      true,
		ObjMultiplier:          2,
		MaxRestrictions:        gcs.DefaultMaxRestrictions,
		RelaxedMaxRestrictions: DefaultRelaxedMaxRestrictions,
	}
}

// budget is the number of restrictions one collision-free search may solve.
func (o FactoredCollisionFreeOptions) budget(useConvexRelaxation bool) int {
	if useConvexRelaxation {
		if o.RelaxedMaxRestrictions > 0 {
			return o.RelaxedMaxRestrictions
		}
		return DefaultRelaxedMaxRestrictions
	}
	if o.MaxRestrictions > 0 {
		return o.MaxRestrictions
	}
	return gcs.DefaultMaxRestrictions
}

// FactoredCollisionFreeCE estimates the cost-to-go of a contact set as the sum, over movable
// bodies, of the cost of moving each body alone to its target among the obstacles. Each body has
// its own collision-free graph, whose vertices assign one mode to every (obstacle, body) pair.
type FactoredCollisionFreeCE struct {
	cg     *gcs.ContactGraph
	opts   FactoredCollisionFreeOptions
	logger logging.Logger

	// movable bodies, objects then robots
	bodies  []*contact.RigidBody
	weights []float64
	cfree   []*gcs.ContactGraph
	// as robots of their collision-free graphs
	clones []*contact.RigidBody
	// price open paths of the collision-free searches
	shortcuts []*ShortcutEdgeCE

	combined *gcs.Graph
}

// NewFactoredCollisionFreeCE builds the collision-free graph of every movable body of `cg`.
func NewFactoredCollisionFreeCE(
	ctx context.Context,
	cg *gcs.ContactGraph,
	opts FactoredCollisionFreeOptions,
	logger logging.Logger,
) (*FactoredCollisionFreeCE, error) {
	if opts.ObjMultiplier <= 0 {
		return nil, errors.Errorf("object multiplier must be positive, got %f", opts.ObjMultiplier)
	}
	ce := &FactoredCollisionFreeCE{cg: cg, opts: opts, logger: logger}
	problem := cg.Problem()
	sources := append(append([]r2.Point{}, problem.SourceObjPos...), problem.SourceRobPos...)
	targets := append(append([]r2.Point{}, problem.TargetObjPos...), problem.TargetRobPos...)
	graphOpts := gcs.ContactGraphOptions{AddConstEdgeCost: opts.AddTransitionCost, ConstEdgeCost: 1}

	movable := problem.Bodies.Movable()
	ce.bodies = movable
	ce.weights = make([]float64, len(movable))
	ce.cfree = make([]*gcs.ContactGraph, len(movable))
	ce.clones = make([]*contact.RigidBody, len(movable))
	ce.shortcuts = make([]*ShortcutEdgeCE, len(movable))
	factory, err := LookupShortcutCostFactory(ContactShortcutEdgeL1NormCostFactory)
	if err != nil {
		return nil, err
	}

	// Each body's graph is independent of the others.
	group, groupCtx := errgroup.WithContext(ctx)
	for i, body := range movable {
		group.Go(func() error {
			weight := 1.
			if i < len(problem.Bodies.Objects) {
				weight = opts.ObjMultiplier
			}
			clone, err := body.WithMobility(contact.Actuated)
			if err != nil {
				return err
			}
			sub := &gcs.ContactProblem{
				Bodies:       &contact.Bodies{Obstacles: problem.Bodies.Obstacles, Robots: []*contact.RigidBody{clone}},
				SourceRobPos: []r2.Point{sources[i]},
				TargetRobPos: []r2.Point{targets[i]},
				Workspace:    problem.Workspace,
			}
			g, err := gcs.NewContactGraph(groupCtx, sub, graphOpts, logger.Sublogger(body.Name()))
			if err != nil {
				return errors.Wrapf(err, "collision-free graph of %s", body.Name())
			}
			if err := scaleGraphCosts(g.Graph, weight); err != nil {
				return err
			}
			// every remaining path covers at least the weighted L1 gap to the target
			shortcut, err := NewShortcutEdgeCE(g.Graph, factory, opts.AddTransitionCost)
			if err != nil {
				return err
			}
			shortcut.weight = weight
			ce.weights[i], ce.cfree[i], ce.clones[i], ce.shortcuts[i] = weight, g, clone, shortcut
			logger.Debugw("built collision-free graph", "body", body.Name(), "vertices", g.NumVertices(), "edges", g.NumEdges())
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	if opts.UseCombinedGCS {
		combined, err := ce.buildCombined()
		if err != nil {
			return nil, err
		}
		ce.combined = combined
	}
	return ce, nil
}

func scaleGraphCosts(g *gcs.Graph, w float64) error {
	scale := func(costs []solver.Cost) ([]solver.Cost, error) {
		out := make([]solver.Cost, len(costs))
		for i, c := range costs {
			s, err := solver.Scale(c, w)
			if err != nil {
				return nil, err
			}
			out[i] = s
		}
		return out, nil
	}
	for _, name := range g.VertexNames() {
		v, err := g.Vertex(name)
		if err != nil {
			return err
		}
		if v.Costs, err = scale(v.Costs); err != nil {
			return errors.Wrapf(err, "vertex %s", name)
		}
	}
	for _, key := range g.EdgeKeys() {
		e, err := g.Edge(key)
		if err != nil {
			return err
		}
		if e.Costs, err = scale(e.Costs); err != nil {
			return errors.Wrapf(err, "edge %s", key)
		}
	}
	return nil
}

func combinedName(body, vertex string) string {
	return body + combinedSep + vertex
}

// buildCombined copies every collision-free graph, without its source, into one graph. Start
// vertices and the links between the copies are added per estimate.
func (ce *FactoredCollisionFreeCE) buildCombined() (*gcs.Graph, error) {
	combined := gcs.NewGraph(nil, ce.logger.Sublogger("combined"))
	for i, g := range ce.cfree {
		name := ce.bodies[i].Name()
		for _, vn := range g.VertexNames() {
			if vn == g.Source() {
				continue
			}
			v, err := g.Vertex(vn)
			if err != nil {
				return nil, err
			}
			if err := combined.AddVertex(&gcs.Vertex{ConvexSet: v.ConvexSet, Costs: v.Costs, Constraints: v.Constraints}, combinedName(name, vn)); err != nil {
				return nil, err
			}
		}
		for _, key := range g.EdgeKeys() {
			if key.U == g.Source() {
				continue
			}
			e, err := g.Edge(key)
			if err != nil {
				return nil, err
			}
			if err := combined.AddEdge(&gcs.Edge{
				U:           combinedName(name, key.U),
				V:           combinedName(name, key.V),
				KeySuffix:   key.Suffix,
				Costs:       e.Costs,
				Constraints: e.Constraints,
			}); err != nil {
				return nil, err
			}
		}
	}
	return combined, nil
}

// EstimateCostOnGraph implements motiontypes.CostEstimator. The path ending with `edge` is always
// solved as a convex restriction, whatever solveConvexRestriction says, since the collision-free
// costs start from where that path leaves each body. Each body's collision-free cost is found by
// a restriction search over its graph and added on top. With useConvexRelaxation the searches get
// the smaller RelaxedMaxRestrictions budget; a search that runs out of budget contributes a lower
// bound.
func (ce *FactoredCollisionFreeCE) EstimateCostOnGraph(
	ctx context.Context,
	graph *gcs.Graph,
	edge *gcs.Edge,
	activeEdges []gcs.EdgeKey,
	solveConvexRestriction bool,
	useConvexRelaxation bool,
	metrics *motiontypes.AlgMetrics,
) (*gcs.ShortestPathSolution, error) {
	ctx, span := trace.StartSpan(ctx, "costestimator::FactoredCollisionFreeCE::EstimateCostOnGraph")
	defer span.End()

	record := func(sol *gcs.ShortestPathSolution) {
		if metrics != nil {
			metrics.UpdateAfterGcsSolve(sol.Time)
		}
	}

	path := append(append([]gcs.EdgeKey{}, activeEdges...), edge.Key())
	sol, err := graph.SolveConvexRestriction(ctx, path, false)
	if err != nil {
		return nil, err
	}
	record(sol)
	if !sol.Feasible || edge.V == graph.Target() {
		return sol, nil
	}

	ends, err := ce.endPositions(edge.V, sol)
	if err != nil {
		return nil, err
	}
	names, err := ce.CFreeVertexNames(edge.V)
	if err != nil {
		return nil, err
	}

	var cfreeCost float64
	var lowerBound bool
	if ce.combined != nil {
		cfreeSol, err := ce.solveCombined(ctx, names, ends, useConvexRelaxation)
		if err != nil {
			return nil, err
		}
		record(cfreeSol)
		if !cfreeSol.Feasible {
			return cfreeSol, nil
		}
		cfreeCost, lowerBound = cfreeSol.Cost, cfreeSol.LowerBound
	} else {
		for i := range ce.bodies {
			cfreeSol, err := ce.solveBody(ctx, i, names[i], ends[i], useConvexRelaxation)
			if err != nil {
				return nil, err
			}
			record(cfreeSol)
			if !cfreeSol.Feasible {
				return cfreeSol, nil
			}
			cfreeCost += cfreeSol.Cost
			lowerBound = lowerBound || cfreeSol.LowerBound
		}
	}

	ce.logger.CDebugw(ctx, "factored estimate", "edge", edge.Key(), "prefix", sol.Cost, "collision_free", cfreeCost)
	return &gcs.ShortestPathSolution{
		Cost:        sol.Cost + cfreeCost,
		VertexPath:  sol.VertexPath,
		AmbientPath: sol.AmbientPath,
		Feasible:    true,
		LowerBound:  lowerBound,
		Time:        sol.Time,
	}, nil
}

// endPositions returns every movable body's last position in `vertex`, the last set of `sol`.
func (ce *FactoredCollisionFreeCE) endPositions(vertex string, sol *gcs.ShortestPathSolution) ([]r2.Point, error) {
	set, err := ce.cg.StructuredSet(vertex)
	if err != nil {
		return nil, err
	}
	if len(sol.AmbientPath) == 0 {
		return nil, errors.Errorf("restriction ending at %s has no ambient path", vertex)
	}
	pos, err := set.Vars().PosFromAll(sol.AmbientPath[len(sol.AmbientPath)-1])
	if err != nil {
		return nil, err
	}
	ends := make([]r2.Point, len(pos))
	for b, p := range pos {
		last := len(p[0]) - 1
		ends[b] = r2.Point{X: p[0][last], Y: p[1][last]}
	}
	return ends, nil
}

// startVertex returns a point vertex for body i at `pos` and the continuity edge from it into
// collision-free vertex `into`.
func (ce *FactoredCollisionFreeCE) startVertex(i int, pos r2.Point, into *gcs.Vertex, intoName, startName string) (*gcs.Vertex, *gcs.Edge, error) {
	start, err := contact.NewContactPointSet(startName, nil, []*contact.RigidBody{ce.clones[i]}, nil, []r2.Point{pos})
	if err != nil {
		return nil, nil, err
	}
	intoSet, ok := into.ConvexSet.(contact.StructuredSet)
	if !ok {
		return nil, nil, errors.Errorf("collision-free vertex %s is a %T", intoName, into.ConvexSet)
	}
	continuity, err := gcs.EdgeConstraintPositionContinuity(start.Vars(), intoSet.Vars())
	if err != nil {
		return nil, nil, err
	}
	v := &gcs.Vertex{ConvexSet: start, Costs: []solver.Cost{}}
	e := &gcs.Edge{U: startName, V: intoName, Costs: []solver.Cost{}, Constraints: []solver.LinearConstraint{continuity}}
	return v, e, nil
}

// solveBody solves body i's collision-free graph from `pos` in vertex `name`.
func (ce *FactoredCollisionFreeCE) solveBody(
	ctx context.Context,
	i int,
	name string,
	pos r2.Point,
	useConvexRelaxation bool,
) (sol *gcs.ShortestPathSolution, err error) {
	g := ce.cfree[i]
	into, err := g.Vertex(name)
	if err != nil {
		return nil, errors.Wrapf(err, "collision-free graph of %s", ce.bodies[i].Name())
	}
	v, e, err := ce.startVertex(i, pos, into, name, startVertexName)
	if err != nil {
		return nil, err
	}
	if err := g.AddVertex(v, startVertexName); err != nil {
		return nil, err
	}
	source := g.Source()
	defer func() {
		// removing the start vertex also removes its edge
		err = multierr.Combine(err, g.RemoveVertex(startVertexName), g.SetSource(source))
	}()
	if err := g.AddEdge(e); err != nil {
		return nil, err
	}
	if err := g.SetSource(startVertexName); err != nil {
		return nil, err
	}
	return g.SearchShortestPath(ctx, gcs.PathSearchOptions{
		MaxRestrictions: ce.opts.budget(useConvexRelaxation),
		Price: func(ctx context.Context, path []gcs.EdgeKey) (*gcs.ShortestPathSolution, error) {
			return ce.shortcuts[i].solveThroughShortcut(ctx, g.Graph, path, g.Target())
		},
	})
}

// solveCombined chains every body's copy in the combined graph: start of body 0, through its
// target, to the start of body 1, and so on.
func (ce *FactoredCollisionFreeCE) solveCombined(
	ctx context.Context,
	names []string,
	ends []r2.Point,
	useConvexRelaxation bool,
) (sol *gcs.ShortestPathSolution, err error) {
	g := ce.combined
	var added []string
	defer func() {
		for _, name := range added {
			err = multierr.Append(err, g.RemoveVertex(name))
		}
	}()

	var prevTarget string
	for i, body := range ce.bodies {
		intoName := combinedName(body.Name(), names[i])
		into, err := g.Vertex(intoName)
		if err != nil {
			return nil, err
		}
		startName := combinedName(body.Name(), startVertexName)
		v, e, err := ce.startVertex(i, ends[i], into, intoName, startName)
		if err != nil {
			return nil, err
		}
		if err := g.AddVertex(v, startName); err != nil {
			return nil, err
		}
		added = append(added, startName)
		if err := g.AddEdge(e); err != nil {
			return nil, err
		}
		if i == 0 {
			if err := g.SetSource(startName); err != nil {
				return nil, err
			}
		} else {
			if err := g.AddEdge(&gcs.Edge{U: prevTarget, V: startName, Costs: []solver.Cost{}}); err != nil {
				return nil, err
			}
		}
		prevTarget = combinedName(body.Name(), ce.cfree[i].Target())
	}
	if err := g.SetTarget(prevTarget); err != nil {
		return nil, err
	}
	return g.SearchShortestPath(ctx, gcs.PathSearchOptions{
		MaxRestrictions: ce.opts.budget(useConvexRelaxation),
		Price:           ce.priceCombined,
	})
}

// priceCombined prices a path of the combined graph by a shortcut from its last vertex to the
// target of the body that vertex belongs to. The bodies after it add nothing to the price.
func (ce *FactoredCollisionFreeCE) priceCombined(ctx context.Context, path []gcs.EdgeKey) (*gcs.ShortestPathSolution, error) {
	last := path[len(path)-1].V
	body, _, ok := strings.Cut(last, combinedSep)
	if !ok {
		return nil, errors.Errorf("%s is not a combined vertex", last)
	}
	for i, b := range ce.bodies {
		if b.Name() == body {
			return ce.shortcuts[i].solveThroughShortcut(ctx, ce.combined, path, combinedName(body, ce.cfree[i].Target()))
		}
	}
	return nil, errors.Errorf("no movable body %s", body)
}

// CFreeVertexNames returns, per movable body of the graph, the name of the collision-free vertex
// holding the modes of `vertex` between that body and the obstacles.
func (ce *FactoredCollisionFreeCE) CFreeVertexNames(vertex string) ([]string, error) {
	groups, err := groupObstacleModes(vertex)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(ce.bodies))
	for i, body := range ce.bodies {
		names[i] = contact.FormatVertexName(groups[body.Name()])
	}
	return names, nil
}

// FingerPrint implements motiontypes.CostEstimator.
func (ce *FactoredCollisionFreeCE) FingerPrint() string {
	return fmt.Sprintf("FactoredCollisionFreeCE-combined_%t-transition_%t-obj_%g-restrictions_%d_%d",
		ce.opts.UseCombinedGCS, ce.opts.AddTransitionCost, ce.opts.ObjMultiplier, ce.opts.budget(false), ce.opts.budget(true))
}

func isObstacle(body string) bool {
	return strings.HasPrefix(body, "obs")
}

// groupObstacleModes maps each movable body to the modes of `vertex` it has with an obstacle,
// in order.
func groupObstacleModes(vertex string) (map[string][]string, error) {
	ids, err := contact.ParseVertexName(vertex)
	if err != nil {
		return nil, err
	}
	groups := map[string][]string{}
	for _, id := range ids {
		a, b, err := contact.BodiesOfMode(id)
		if err != nil {
			return nil, err
		}
		switch {
		case isObstacle(a) && !isObstacle(b):
			groups[b] = append(groups[b], id)
		case isObstacle(b) && !isObstacle(a):
			groups[a] = append(groups[a], id)
		}
	}
	return groups, nil
}

// bodyRank orders objects before robots, then by index.
func bodyRank(name string) (int, int) {
	kind := 1
	if strings.HasPrefix(name, "obj") {
		kind = 0
	}
	idx, err := strconv.Atoi(strings.TrimLeft(name, "abcdefghijklmnopqrstuvwxyz"))
	if err != nil {
		idx = -1
	}
	return kind, idx
}

// ConvertToCFreeVertexNames factors a contact set name into one collision-free vertex name per
// movable body that has modes with obstacles, objects first, then robots.
func ConvertToCFreeVertexNames(vertex string) ([]string, error) {
	groups, err := groupObstacleModes(vertex)
	if err != nil {
		return nil, err
	}
	bodies := make([]string, 0, len(groups))
	for body := range groups {
		bodies = append(bodies, body)
	}
	sort.Slice(bodies, func(i, j int) bool {
		ki, ii := bodyRank(bodies[i])
		kj, ij := bodyRank(bodies[j])
		if ki != kj {
			return ki < kj
		}
		if ii != ij {
			return ii < ij
		}
		return bodies[i] < bodies[j]
	})
	names := make([]string, len(bodies))
	for i, body := range bodies {
		names[i] = contact.FormatVertexName(groups[body])
	}
	return names, nil
}
