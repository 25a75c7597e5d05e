// Package motionplan searches graphs of convex sets for minimum cost paths, expanding vertices
// best first by the estimate of a motiontypes.CostEstimator.
package motionplan

import (
	"container/heap"
	"context"
	"math"
	"time"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"go.viam.com/contactplan/gcs"
	"go.viam.com/contactplan/logging"
	"go.viam.com/contactplan/motionplan/motiontypes"
)

var (
	// ErrNoPathFound is returned when the frontier empties before a feasible path reaches the
	// target.
	ErrNoPathFound = errors.New("no path found to the target")
	// ErrIterationLimit is returned when a search stops at its iteration limit.
	ErrIterationLimit = errors.New("search reached its iteration limit")
)

// SearchAlgorithm finds a path from a graph's source to its target.
type SearchAlgorithm interface {
	Run(ctx context.Context) (*gcs.ShortestPathSolution, error)
	Metrics() *motiontypes.AlgMetrics
}

type searchKind int

const (
	kindAstar searchKind = iota
	kindSubOpt
	kindConvexRestriction
)

func (k searchKind) String() string {
	switch k {
	case kindSubOpt:
		return "GcsAstarSubOpt"
	case kindConvexRestriction:
		return "GcsAstarConvexRestriction"
	}
	return "GcsAstar"
}

// frontierEntry is a path from the source to `vertex`, prioritized by the estimated cost of
// completing it.
type frontierEntry struct {
	f      float64
	seq    int
	vertex string
	path   []gcs.EdgeKey
}

// frontier is a min-heap on f, first in first out among equal f.
type frontier []*frontierEntry

func (q frontier) Len() int { return len(q) }

func (q frontier) Less(i, j int) bool {
	if q[i].f != q[j].f {
		return q[i].f < q[j].f
	}
	return q[i].seq < q[j].seq
}

func (q frontier) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *frontier) Push(x any) { *q = append(*q, x.(*frontierEntry)) }

func (q *frontier) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return e
}

// GcsAstar is a best-first search over a graph of convex sets. Each frontier entry is a path from
// the source, and its priority is the estimator's cost for completing that path to the target.
//
// The plain search keeps the best path to the target found so far and stops once no frontier
// entry is estimated to beat it. The suboptimal and convex restriction variants return the first
// path to the target that comes off the frontier.
type GcsAstar struct {
	graph     *gcs.Graph
	estimator motiontypes.CostEstimator
	opts      *SearchOptions
	kind      searchKind
	logger    logging.Logger
	metrics   *motiontypes.AlgMetrics

	queue    frontier
	seq      int
	expanded map[string]bool
	// lowest f pushed per vertex
	best map[string]float64
}

func newGcsAstar(
	kind searchKind,
	graph *gcs.Graph,
	estimator motiontypes.CostEstimator,
	opts *SearchOptions,
	logger logging.Logger,
) *GcsAstar {
	if opts == nil {
		opts = NewBasicSearchOptions()
	}
	return &GcsAstar{
		graph:     graph,
		estimator: estimator,
		opts:      opts,
		kind:      kind,
		logger:    logger.Sublogger(kind.String()),
		metrics:   motiontypes.NewAlgMetrics(nil),
	}
}

// NewGcsAstar returns a search that certifies its result against every frontier entry. Its result
// is optimal when the estimator never overestimates.
func NewGcsAstar(graph *gcs.Graph, estimator motiontypes.CostEstimator, opts *SearchOptions, logger logging.Logger) *GcsAstar {
	return newGcsAstar(kindAstar, graph, estimator, opts, logger)
}

// NewGcsAstarSubOpt returns a search that stops at the first feasible path to the target.
func NewGcsAstarSubOpt(graph *gcs.Graph, estimator motiontypes.CostEstimator, opts *SearchOptions, logger logging.Logger) *GcsAstar {
	return newGcsAstar(kindSubOpt, graph, estimator, opts, logger)
}

// NewGcsAstarConvexRestriction returns a search whose estimates always solve the path being
// extended, so the cost of a path reaching the target is exact. It stops at the first such path.
func NewGcsAstarConvexRestriction(
	graph *gcs.Graph,
	estimator motiontypes.CostEstimator,
	opts *SearchOptions,
	logger logging.Logger,
) *GcsAstar {
	return newGcsAstar(kindConvexRestriction, graph, estimator, opts, logger)
}

// SetMetricsExporter mirrors the metrics of later runs into `exporter`.
func (a *GcsAstar) SetMetricsExporter(exporter *motiontypes.MetricsExporter) {
	a.metrics = motiontypes.NewAlgMetrics(exporter)
}

// Metrics returns the metrics of the last run.
func (a *GcsAstar) Metrics() *motiontypes.AlgMetrics {
	return a.metrics
}

func (a *GcsAstar) push(vertex string, path []gcs.EdgeKey, f float64) {
	if best, ok := a.best[vertex]; !ok || f < best {
		a.best[vertex] = f
	}
	heap.Push(&a.queue, &frontierEntry{f: f, seq: a.seq, vertex: vertex, path: path})
	a.seq++
}

func (a *GcsAstar) solveConvexRestriction() bool {
	return a.kind == kindConvexRestriction || a.opts.SolveConvexRestriction
}

// Run searches from the graph's source. The graph must not be used by anything else until Run
// returns.
func (a *GcsAstar) Run(ctx context.Context) (*gcs.ShortestPathSolution, error) {
	ctx, span := trace.StartSpan(ctx, "motionplan::"+a.kind.String()+"::Run")
	defer span.End()

	source, target := a.graph.Source(), a.graph.Target()
	if source == "" || target == "" {
		return nil, errors.New("graph needs a source and a target")
	}

	start := time.Now()
	a.metrics.Reset()
	defer func() { a.metrics.WallClock = time.Since(start) }()
	a.queue = frontier{}
	a.seq = 0
	a.expanded = map[string]bool{}
	a.best = map[string]float64{}

	a.logger.CDebugw(ctx, "starting search", "estimator", a.estimator.FingerPrint(), "reexplore", a.opts.ReexploreLevel)
	a.push(source, nil, 0)
	a.metrics.Visited()

	var incumbent *gcs.ShortestPathSolution
	for iter := 0; a.queue.Len() > 0; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if a.opts.MaxIterations > 0 && iter >= a.opts.MaxIterations {
			if incumbent != nil {
				a.logger.Warnw("returning the best path found before the iteration limit", "cost", incumbent.Cost)
				return incumbent, nil
			}
			return nil, errors.Wrapf(ErrIterationLimit, "%d iterations", iter)
		}
		entry := heap.Pop(&a.queue).(*frontierEntry)
		if incumbent != nil && entry.f >= incumbent.Cost {
			break
		}

		if entry.vertex == target {
			sol, err := a.finalize(ctx, entry)
			if err != nil {
				return nil, err
			}
			if !sol.Feasible {
				continue
			}
			if a.kind != kindAstar {
				a.logResult(sol)
				return sol, nil
			}
			if incumbent == nil || sol.Cost < incumbent.Cost {
				a.logger.CDebugw(ctx, "new incumbent", "cost", sol.Cost, "path", sol.VertexPath)
				incumbent = sol
			}
			continue
		}

		if err := a.expand(ctx, entry); err != nil {
			return nil, err
		}
	}

	if incumbent != nil {
		a.logResult(incumbent)
		return incumbent, nil
	}
	a.logger.Infow("search exhausted the frontier", "metrics", a.metrics.String())
	return nil, ErrNoPathFound
}

// expand estimates every edge leaving the entry's vertex and pushes the improving ones.
func (a *GcsAstar) expand(ctx context.Context, entry *frontierEntry) error {
	if best, ok := a.best[entry.vertex]; ok && entry.f > best {
		// a cheaper path to this vertex was pushed since
		return nil
	}
	reexpanded := a.expanded[entry.vertex]
	if reexpanded && a.opts.ReexploreLevel == ReexploreNone {
		return nil
	}
	a.expanded[entry.vertex] = true
	a.metrics.Expanded(reexpanded)
	if a.opts.LogInterval > 0 && a.metrics.VerticesExpanded%a.opts.LogInterval == 0 {
		a.logger.Infow("search progress", "frontier", a.queue.Len(), "f", entry.f, "metrics", a.metrics.String())
	}

	onPath := map[string]bool{a.graph.Source(): true}
	for _, key := range entry.path {
		onPath[key.V] = true
	}

	edges, err := a.graph.ExpandNeighbors(ctx, entry.vertex)
	if err != nil {
		return err
	}
	for _, e := range edges {
		if onPath[e.V] {
			continue
		}
		if a.expanded[e.V] && a.opts.ReexploreLevel == ReexploreNone {
			continue
		}
		sol, err := a.estimator.EstimateCostOnGraph(ctx, a.graph, e, entry.path, a.solveConvexRestriction(), a.opts.UseConvexRelaxation, a.metrics)
		if err != nil {
			return errors.Wrapf(err, "estimating %s", e.Key())
		}
		if !sol.Feasible {
			a.metrics.Pruned()
			continue
		}
		// every path to the target is kept since its exact solve may still be infeasible
		best, seen := a.best[e.V]
		if !seen {
			a.metrics.Visited()
		} else if sol.Cost >= best && e.V != a.graph.Target() {
			continue
		}
		path := append(append(make([]gcs.EdgeKey, 0, len(entry.path)+1), entry.path...), e.Key())
		a.push(e.V, path, sol.Cost)
	}
	return nil
}

// finalize solves the path of a target entry exactly.
func (a *GcsAstar) finalize(ctx context.Context, entry *frontierEntry) (*gcs.ShortestPathSolution, error) {
	sol, err := a.graph.SolveConvexRestriction(ctx, entry.path, false)
	if err != nil {
		return nil, err
	}
	a.metrics.UpdateAfterGcsSolve(sol.Time)
	if !sol.Feasible {
		a.metrics.Pruned()
		a.logger.CDebugw(ctx, "path to the target is infeasible", "estimate", entry.f)
		return sol, nil
	}
	if math.Abs(sol.Cost-entry.f) > 1e-6*math.Max(1, math.Abs(sol.Cost)) {
		a.logger.CDebugw(ctx, "path cost differs from its estimate", "estimate", entry.f, "cost", sol.Cost)
	}
	return sol, nil
}

func (a *GcsAstar) logResult(sol *gcs.ShortestPathSolution) {
	a.logger.Infow("search found a path", "cost", sol.Cost, "path", sol.VertexPath, "metrics", a.metrics.String())
}
