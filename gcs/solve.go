package gcs

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"gonum.org/v1/gonum/floats"

	"go.viam.com/contactplan/solver"
)

// ShortestPathSolution is the result of a graph solve. AmbientPath holds, per vertex of
// VertexPath, the point chosen in that vertex's set; it is nil when post-processing was skipped or
// the program was infeasible. LowerBound marks a search stopped early, whose Cost only bounds the
// optimum from below.
type ShortestPathSolution struct {
	Cost        float64
	VertexPath  []string
	AmbientPath [][]float64
	Feasible    bool
	LowerBound  bool
	Time        time.Duration
}

func infeasibleSolution(path []string, elapsed time.Duration) *ShortestPathSolution {
	return &ShortestPathSolution{Cost: math.Inf(1), VertexPath: path, Time: elapsed}
}

// flowTol is the edge flow below which an edge is treated as unused.
const flowTol = 1e-6

func bindVertexTerms(prog *solver.Program, v *Vertex, vars []int, phi int) error {
	for _, c := range v.ConvexSet.Constraints() {
		if err := prog.AddConstraint(c, vars, phi); err != nil {
			return errors.Wrap(err, "set constraint")
		}
	}
	for _, c := range v.Constraints {
		if err := prog.AddConstraint(c, vars, phi); err != nil {
			return errors.Wrap(err, "vertex constraint")
		}
	}
	for _, c := range v.Costs {
		if err := prog.AddCost(c, vars, phi); err != nil {
			return errors.Wrap(err, "vertex cost")
		}
	}
	return nil
}

func bindEdgeTerms(prog *solver.Program, e *Edge, vars []int, phi int) error {
	for _, c := range e.Constraints {
		if err := prog.AddConstraint(c, vars, phi); err != nil {
			return errors.Wrapf(err, "edge %s constraint", e.Key())
		}
	}
	for _, c := range e.Costs {
		if err := prog.AddCost(c, vars, phi); err != nil {
			return errors.Wrapf(err, "edge %s cost", e.Key())
		}
	}
	return nil
}

// SolveConvexRestriction solves the program of the path formed by `edgeKeys`, which must chain
// head to tail. Each position along the path gets its own copy of its vertex's variables. With
// skipPostSolve the ambient path is not extracted.
func (g *Graph) SolveConvexRestriction(ctx context.Context, edgeKeys []EdgeKey, skipPostSolve bool) (*ShortestPathSolution, error) {
	ctx, span := trace.StartSpan(ctx, "gcs::SolveConvexRestriction")
	defer span.End()

	if len(edgeKeys) == 0 {
		return nil, errors.Wrap(ErrNotAPath, "no edges given")
	}
	edges := make([]*Edge, len(edgeKeys))
	path := []string{edgeKeys[0].U}
	for i, key := range edgeKeys {
		e, err := g.Edge(key)
		if err != nil {
			return nil, err
		}
		if i > 0 && edgeKeys[i-1].V != key.U {
			return nil, errors.Wrapf(ErrNotAPath, "%s does not follow %s", key, edgeKeys[i-1])
		}
		edges[i] = e
		path = append(path, key.V)
	}

	prog := solver.NewProgram()
	vars := make([][]int, len(path))
	for i, name := range path {
		v, err := g.Vertex(name)
		if err != nil {
			return nil, err
		}
		vars[i] = prog.NewVariables(v.ConvexSet.Dim())
		if err := bindVertexTerms(prog, v, vars[i], solver.NoPerspective); err != nil {
			return nil, errors.Wrapf(err, "vertex %s", name)
		}
	}
	for i, e := range edges {
		uv := append(append([]int{}, vars[i]...), vars[i+1]...)
		if err := bindEdgeTerms(prog, e, uv, solver.NoPerspective); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	res, err := g.solver.Solve(ctx, prog)
	if err != nil {
		return nil, errors.Wrap(err, "solving convex restriction")
	}
	elapsed := time.Since(start)
	if !res.Feasible {
		g.logger.CDebugw(ctx, "convex restriction infeasible", "path", path)
		return infeasibleSolution(path, elapsed), nil
	}

	sol := &ShortestPathSolution{Cost: res.Cost, VertexPath: path, Feasible: true, Time: elapsed}
	if !skipPostSolve {
		sol.AmbientPath = make([][]float64, len(path))
		for i, idx := range vars {
			sol.AmbientPath[i] = make([]float64, len(idx))
			for j, k := range idx {
				sol.AmbientPath[i][j] = res.X[k]
			}
		}
	}
	g.logger.CDebugw(ctx, "solved convex restriction", "path", path, "cost", sol.Cost, "time", elapsed)
	return sol, nil
}

type edgeVars struct {
	y, z []int
	phi  int
}

// SolveShortestPath solves the shortest path program over the whole graph. Every edge that can
// carry flow has a flow variable and perspective copies of its endpoints' variables; edges into
// the source or out of the target are left out of the program. With useConvexRelaxation the
// flows are continuous and the cost is a lower bound; otherwise the flows are binary and solved
// by branch and bound.
func (g *Graph) SolveShortestPath(ctx context.Context, useConvexRelaxation bool) (*ShortestPathSolution, error) {
	ctx, span := trace.StartSpan(ctx, "gcs::SolveShortestPath")
	defer span.End()

	if g.source == "" || g.target == "" {
		return nil, errors.New("graph needs a source and a target")
	}

	prog := solver.NewProgram()
	evars := map[EdgeKey]edgeVars{}
	for _, key := range g.edgeOrder {
		if key.V == g.source || key.U == g.target {
			// no flow can use these
			continue
		}
		e := g.edges[key]
		u, v := g.vertices[e.U], g.vertices[e.V]
		ev := edgeVars{
			y:   prog.NewVariables(u.ConvexSet.Dim()),
			z:   prog.NewVariables(v.ConvexSet.Dim()),
			phi: prog.NewVariables(1)[0],
		}
		if useConvexRelaxation {
			prog.AddBounds(ev.phi, 0, 1)
		} else {
			prog.SetBinary(ev.phi)
		}
		for _, c := range u.ConvexSet.Constraints() {
			if err := prog.AddConstraint(c, ev.y, ev.phi); err != nil {
				return nil, err
			}
		}
		for _, c := range v.ConvexSet.Constraints() {
			if err := prog.AddConstraint(c, ev.z, ev.phi); err != nil {
				return nil, err
			}
		}
		if err := bindEdgeTerms(prog, e, append(append([]int{}, ev.y...), ev.z...), ev.phi); err != nil {
			return nil, err
		}
		evars[key] = ev
	}

	for _, name := range g.vertexOrder {
		v := g.vertices[name]
		in, out := flowEdges(g.IncomingEdges(name), evars), flowEdges(g.OutgoingEdges(name), evars)
		inPhi := make([]int, len(in))
		for i, e := range in {
			inPhi[i] = evars[e.Key()].phi
		}
		outPhi := make([]int, len(out))
		for i, e := range out {
			outPhi[i] = evars[e.Key()].phi
		}

		switch name {
		case g.source:
			prog.AddLinearEquality(outPhi, ones(len(outPhi)), 1)
		case g.target:
			prog.AddLinearEquality(inPhi, ones(len(inPhi)), 1)
		default:
			// in = out <= 1
			idx := append(append([]int{}, inPhi...), outPhi...)
			val := append(ones(len(inPhi)), scaled(len(outPhi), -1)...)
			if len(idx) > 0 {
				prog.AddLinearEquality(idx, val, 0)
			}
			if len(inPhi) > 0 {
				prog.AddLinearInequality(inPhi, ones(len(inPhi)), 1)
			}
			// spatial conservation: Σ_in z = Σ_out y
			for d := 0; d < v.ConvexSet.Dim() && len(idx) > 0; d++ {
				var cIdx []int
				var cVal []float64
				for _, e := range in {
					cIdx = append(cIdx, evars[e.Key()].z[d])
					cVal = append(cVal, 1)
				}
				for _, e := range out {
					cIdx = append(cIdx, evars[e.Key()].y[d])
					cVal = append(cVal, -1)
				}
				prog.AddLinearEquality(cIdx, cVal, 0)
			}
		}

		if len(v.Costs) == 0 && len(v.Constraints) == 0 {
			continue
		}
		// The vertex point and flow are aggregated from the incident edges.
		xhat := prog.NewVariables(v.ConvexSet.Dim())
		phiV := prog.NewVariables(1)[0]
		aggregate := in
		pick := func(ev edgeVars) []int { return ev.z }
		if name == g.source {
			aggregate = out
			pick = func(ev edgeVars) []int { return ev.y }
			prog.AddLinearEquality([]int{phiV}, []float64{1}, 1)
		} else {
			prog.AddLinearEquality(append([]int{phiV}, inPhi...), append([]float64{-1}, ones(len(inPhi))...), 0)
		}
		for d := range xhat {
			idx := []int{xhat[d]}
			val := []float64{-1}
			for _, e := range aggregate {
				idx = append(idx, pick(evars[e.Key()])[d])
				val = append(val, 1)
			}
			prog.AddLinearEquality(idx, val, 0)
		}
		for _, c := range v.Constraints {
			if err := prog.AddConstraint(c, xhat, phiV); err != nil {
				return nil, errors.Wrapf(err, "vertex %s constraint", name)
			}
		}
		for _, c := range v.Costs {
			if err := prog.AddCost(c, xhat, phiV); err != nil {
				return nil, errors.Wrapf(err, "vertex %s cost", name)
			}
		}
	}

	start := time.Now()
	res, err := g.solver.Solve(ctx, prog)
	if err != nil {
		return nil, errors.Wrap(err, "solving shortest path")
	}
	elapsed := time.Since(start)
	if !res.Feasible {
		g.logger.CDebugw(ctx, "shortest path infeasible", "relaxed", useConvexRelaxation)
		return infeasibleSolution(nil, elapsed), nil
	}

	path, points := g.extractPath(res.X, evars)
	g.logger.CDebugw(ctx, "solved shortest path", "relaxed", useConvexRelaxation, "cost", res.Cost, "path", path, "time", elapsed)
	return &ShortestPathSolution{
		Cost:        res.Cost,
		VertexPath:  path,
		AmbientPath: points,
		Feasible:    true,
		Time:        elapsed,
	}, nil
}

// extractPath follows the edge with the largest flow out of each vertex, starting at the source.
// Each vertex's point is its perspective variables divided by the flow through it.
func (g *Graph) extractPath(x []float64, evars map[EdgeKey]edgeVars) ([]string, [][]float64) {
	unscale := func(vars []int, phi float64) []float64 {
		p := make([]float64, len(vars))
		for i, k := range vars {
			p[i] = x[k]
		}
		if phi > flowTol {
			floats.Scale(1/phi, p)
		}
		return p
	}

	path := []string{g.source}
	var points [][]float64
	visited := map[string]bool{g.source: true}
	current := g.source
	for current != g.target {
		var best *Edge
		bestFlow := flowTol
		for _, e := range flowEdges(g.OutgoingEdges(current), evars) {
			if f := x[evars[e.Key()].phi]; f > bestFlow {
				best, bestFlow = e, f
			}
		}
		if best == nil || visited[best.V] {
			break
		}
		ev := evars[best.Key()]
		points = append(points, unscale(ev.y, bestFlow))
		if best.V == g.target {
			points = append(points, unscale(ev.z, bestFlow))
		}
		path = append(path, best.V)
		visited[best.V] = true
		current = best.V
	}
	if len(points) < len(path) {
		// the walk stopped before the target; keep the points aligned with the path
		points = points[:len(path)-1]
	}
	return path, points
}

// flowEdges keeps the edges that carry flow variables.
func flowEdges(edges []*Edge, evars map[EdgeKey]edgeVars) []*Edge {
	kept := edges[:0:0]
	for _, e := range edges {
		if _, ok := evars[e.Key()]; ok {
			kept = append(kept, e)
		}
	}
	return kept
}

func ones(n int) []float64 {
	return scaled(n, 1)
}

func scaled(n int, v float64) []float64 {
	ret := make([]float64, n)
	for i := range ret {
		ret[i] = v
	}
	return ret
}
