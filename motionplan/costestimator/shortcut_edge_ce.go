package costestimator

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.uber.org/multierr"

	"go.viam.com/contactplan/gcs"
	"go.viam.com/contactplan/logging"
	"go.viam.com/contactplan/motionplan/motiontypes"
	"go.viam.com/contactplan/solver"
)

// ShortcutSuffix is the key suffix of the temporary edges to the target.
const ShortcutSuffix = "shortcut"

// ShortcutEdgeCE estimates the cost-to-go of a neighbor by connecting it straight to the target
// with a temporary shortcut edge and solving through it.
type ShortcutEdgeCE struct {
	factory      *ShortcutCostFactory
	addConstCost bool
	// scales the factory's costs
	weight float64
	logger logging.Logger
}

// NewShortcutEdgeCE returns an estimator for searches over `graph`. With a nil factory the
// shortcut edges get the graph's default edge costs, which then must exist.
func NewShortcutEdgeCE(graph *gcs.Graph, factory *ShortcutCostFactory, addConstCost bool) (*ShortcutEdgeCE, error) {
	if factory == nil && len(graph.DefaultCostsConstraints().EdgeCosts) == 0 {
		return nil, ErrMissingShortcutCost
	}
	return &ShortcutEdgeCE{
		factory:      factory,
		addConstCost: addConstCost,
		weight:       1,
		logger:       graph.Logger().Sublogger("shortcut_ce"),
	}, nil
}

// NewShortcutEdgeCEFromName resolves `factoryName` in the registry. An empty name means no
// factory.
func NewShortcutEdgeCEFromName(graph *gcs.Graph, factoryName string, addConstCost bool) (*ShortcutEdgeCE, error) {
	if factoryName == "" {
		return NewShortcutEdgeCE(graph, nil, addConstCost)
	}
	f, err := LookupShortcutCostFactory(factoryName)
	if err != nil {
		return nil, err
	}
	return NewShortcutEdgeCE(graph, f, addConstCost)
}

// EstimateCostOnGraph implements motiontypes.CostEstimator. The shortcut edge is removed before
// returning, whatever the outcome of the solve. The time spent is recorded in metrics even when
// the solve fails.
func (ce *ShortcutEdgeCE) EstimateCostOnGraph(
	ctx context.Context,
	graph *gcs.Graph,
	edge *gcs.Edge,
	activeEdges []gcs.EdgeKey,
	solveConvexRestriction bool,
	useConvexRelaxation bool,
	metrics *motiontypes.AlgMetrics,
) (*gcs.ShortestPathSolution, error) {
	ctx, span := trace.StartSpan(ctx, "costestimator::ShortcutEdgeCE::EstimateCostOnGraph")
	defer span.End()

	start := time.Now()
	defer func() {
		if metrics != nil {
			metrics.UpdateAfterGcsSolve(time.Since(start))
		}
	}()

	path := append(append([]gcs.EdgeKey{}, activeEdges...), edge.Key())
	if edge.V == graph.Target() {
		if solveConvexRestriction {
			return graph.SolveConvexRestriction(ctx, path, false)
		}
		return graph.SolveShortestPath(ctx, useConvexRelaxation)
	}
	return ce.withShortcut(ctx, graph, edge.V, graph.Target(), func(shortcut gcs.EdgeKey) (*gcs.ShortestPathSolution, error) {
		if solveConvexRestriction {
			// the solution of a path through a shortcut is never used, only its cost
			return graph.SolveConvexRestriction(ctx, append(path, shortcut), true)
		}
		return graph.SolveShortestPath(ctx, useConvexRelaxation)
	})
}

// solveThroughShortcut solves the restriction of `path` followed by a shortcut from its last
// vertex to `target`. Only the cost of the result is meaningful.
func (ce *ShortcutEdgeCE) solveThroughShortcut(
	ctx context.Context,
	graph *gcs.Graph,
	path []gcs.EdgeKey,
	target string,
) (*gcs.ShortestPathSolution, error) {
	last := path[len(path)-1].V
	if last == target {
		return graph.SolveConvexRestriction(ctx, path, true)
	}
	return ce.withShortcut(ctx, graph, last, target, func(shortcut gcs.EdgeKey) (*gcs.ShortestPathSolution, error) {
		return graph.SolveConvexRestriction(ctx, append(slices.Clone(path), shortcut), true)
	})
}

// withShortcut runs `solve` while the shortcut from `neighbor` to `target` is in the graph.
func (ce *ShortcutEdgeCE) withShortcut(
	ctx context.Context,
	graph *gcs.Graph,
	neighbor, target string,
	solve func(shortcut gcs.EdgeKey) (*gcs.ShortestPathSolution, error),
) (sol *gcs.ShortestPathSolution, err error) {
	shortcut, err := ce.shortcutEdge(graph, neighbor, target)
	if err != nil {
		return nil, err
	}
	if err := graph.AddEdge(shortcut); err != nil {
		return nil, errors.Wrap(err, "adding shortcut edge")
	}
	defer func() {
		ce.logger.CDebugw(ctx, "removing shortcut edge", "edge", shortcut.Key())
		err = multierr.Append(err, graph.RemoveEdge(shortcut.Key()))
	}()
	return solve(shortcut.Key())
}

func (ce *ShortcutEdgeCE) shortcutEdge(graph *gcs.Graph, neighbor, target string) (*gcs.Edge, error) {
	e := &gcs.Edge{U: neighbor, V: target, KeySuffix: ShortcutSuffix}
	if ce.factory == nil {
		return e, nil
	}
	u, err := graph.Vertex(neighbor)
	if err != nil {
		return nil, err
	}
	v, err := graph.Vertex(target)
	if err != nil {
		return nil, err
	}
	costs, err := ce.factory.Costs(u, v, ce.addConstCost)
	if err != nil {
		return nil, errors.Wrapf(err, "shortcut from %s", neighbor)
	}
	if ce.weight != 1 {
		for i, c := range costs {
			if costs[i], err = solver.Scale(c, ce.weight); err != nil {
				return nil, err
			}
		}
	}
	e.Costs = costs
	return e, nil
}

// FingerPrint implements motiontypes.CostEstimator.
func (ce *ShortcutEdgeCE) FingerPrint() string {
	name := "default_edge_costs"
	if ce.factory != nil {
		name = ce.factory.Name
	}
	return fmt.Sprintf("ShortcutEdgeCE-%s", name)
}
