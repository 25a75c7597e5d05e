package gcs

import (
	"container/heap"
	"context"
	"math"
	"slices"
	"time"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"
)

// DefaultMaxRestrictions bounds the number of programs SearchShortestPath solves.
const DefaultMaxRestrictions = 256

// PathPricer prices a path from the source that stops short of the target. The price must not
// exceed the cost of any completion of the path, and may be infeasible only when no completion
// is feasible.
type PathPricer func(ctx context.Context, path []EdgeKey) (*ShortestPathSolution, error)

// PathSearchOptions configures SearchShortestPath.
type PathSearchOptions struct {
	// MaxRestrictions bounds the programs solved, DefaultMaxRestrictions when not positive.
	MaxRestrictions int
	// Price defaults to the convex restriction of the path itself.
	Price PathPricer
}

type pathNode struct {
	cost float64
	path []EdgeKey
	// set once the path reaches the target
	sol *ShortestPathSolution
	seq int
}

// pathQueue is a min-heap on price, first in first out among equal prices.
type pathQueue []*pathNode

func (q pathQueue) Len() int { return len(q) }

func (q pathQueue) Less(i, j int) bool {
	if q[i].cost != q[j].cost {
		return q[i].cost < q[j].cost
	}
	return q[i].seq < q[j].seq
}

func (q pathQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *pathQueue) Push(x any) { *q = append(*q, x.(*pathNode)) }

func (q *pathQueue) Pop() any {
	old := *q
	n := len(old)
	node := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return node
}

// pathVertices lists the vertices visited by a chain of edges.
func pathVertices(path []EdgeKey) []string {
	names := []string{path[0].U}
	for _, k := range path {
		names = append(names, k.V)
	}
	return names
}

// SearchShortestPath finds the shortest path from source to target by best-first search over
// simple paths. A path that reaches the target costs its convex restriction; any other path costs
// its price. Costs must be nonnegative so that the default price, a path's own restriction,
// bounds all of its completions from below. The first path to reach the target is then optimal.
//
// When the budget runs out first, the cheapest open path is returned with LowerBound set and no
// ambient path: its price bounds the optimum from below. The result is infeasible only when every
// path has been ruled out.
func (g *Graph) SearchShortestPath(ctx context.Context, opts PathSearchOptions) (*ShortestPathSolution, error) {
	ctx, span := trace.StartSpan(ctx, "gcs::SearchShortestPath")
	defer span.End()

	if g.source == "" || g.target == "" {
		return nil, errors.New("graph needs a source and a target")
	}
	budget := opts.MaxRestrictions
	if budget <= 0 {
		budget = DefaultMaxRestrictions
	}
	price := opts.Price
	if price == nil {
		price = func(ctx context.Context, path []EdgeKey) (*ShortestPathSolution, error) {
			return g.SolveConvexRestriction(ctx, path, true)
		}
	}

	var (
		queue   pathQueue
		seq     int
		solved  int
		elapsed time.Duration
	)
	extend := func(prefix []EdgeKey, e *Edge) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := append(slices.Clone(prefix), e.Key())
		var sol *ShortestPathSolution
		var err error
		if e.V == g.target {
			sol, err = g.SolveConvexRestriction(ctx, path, false)
		} else {
			sol, err = price(ctx, path)
		}
		if err != nil {
			return err
		}
		solved++
		elapsed += sol.Time
		if !sol.Feasible {
			return nil
		}
		node := &pathNode{cost: sol.Cost, path: path, seq: seq}
		if e.V == g.target {
			node.sol = sol
		}
		heap.Push(&queue, node)
		seq++
		return nil
	}
	visits := func(path []EdgeKey, name string) bool {
		if name == g.source {
			return true
		}
		return slices.ContainsFunc(path, func(k EdgeKey) bool { return k.V == name })
	}
	bound := func(cost float64, vertices []string) *ShortestPathSolution {
		g.logger.CDebugw(ctx, "path search out of restrictions", "bound", cost, "restrictions", solved)
		return &ShortestPathSolution{Cost: cost, VertexPath: vertices, Feasible: true, LowerBound: true, Time: elapsed}
	}

	for _, e := range g.OutgoingEdges(g.source) {
		if visits(nil, e.V) {
			continue
		}
		if solved >= budget {
			// an untried first edge could cost anything down to zero
			return bound(0, []string{g.source}), nil
		}
		if err := extend(nil, e); err != nil {
			return nil, err
		}
	}

	for queue.Len() > 0 {
		node := heap.Pop(&queue).(*pathNode)
		if node.sol != nil {
			node.sol.Time = elapsed
			g.logger.CDebugw(ctx, "path search reached target", "path", node.sol.VertexPath, "cost", node.sol.Cost, "restrictions", solved)
			return node.sol, nil
		}
		if solved >= budget {
			return bound(node.cost, pathVertices(node.path)), nil
		}
		last := node.path[len(node.path)-1].V
		for _, e := range g.OutgoingEdges(last) {
			if visits(node.path, e.V) {
				continue
			}
			if solved >= budget {
				// still open, so its price stays a valid bound
				heap.Push(&queue, node)
				break
			}
			if err := extend(node.path, e); err != nil {
				return nil, err
			}
		}
	}
	g.logger.CDebugw(ctx, "path search found no feasible path", "restrictions", solved)
	return &ShortestPathSolution{Cost: math.Inf(1), Time: elapsed}, nil
}
