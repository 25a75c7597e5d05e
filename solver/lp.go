package solver

import (
	"context"
	"maps"
	"math"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"

	"go.viam.com/contactplan/logging"
)

const (
	// DefaultMaxBranchNodes bounds the number of relaxations branch and bound solves.
	DefaultMaxBranchNodes = 2000

	simplexTol     = 1e-10
	dependenceTol  = 1e-9
	integralityTol = 1e-6
)

// LPSolver solves linear programs with gonum's simplex implementation. L1-norm costs are lowered
// to an epigraph and binary variables are handled by depth-first branch and bound.
type LPSolver struct {
	Logger         logging.Logger
	MaxBranchNodes int
}

// NewLPSolver returns an LPSolver with the default node budget.
func NewLPSolver(logger logging.Logger) *LPSolver {
	return &LPSolver{Logger: logger, MaxBranchNodes: DefaultMaxBranchNodes}
}

// Solve implements Solver. It returns as soon as ctx is done; a simplex run already in flight
// then finishes in the background and its result is dropped.
func (s *LPSolver) Solve(ctx context.Context, p *Program) (*Result, error) {
	start := time.Now()
	if len(p.unsupported) > 0 {
		return nil, errors.Wrapf(ErrUnsupportedCost, "%T", p.unsupported[0])
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var res *Result
	var err error
	if ctx.Done() == nil {
		res, err = s.solve(ctx, p)
	} else {
		type outcome struct {
			res *Result
			err error
		}
		done := make(chan outcome, 1)
		go func() {
			r, e := s.solve(ctx, p)
			done <- outcome{r, e}
		}()
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "linear program abandoned")
		case o := <-done:
			res, err = o.res, o.err
		}
	}
	if err != nil {
		return nil, err
	}
	res.Time = time.Since(start)
	return res, nil
}

func (s *LPSolver) solve(ctx context.Context, p *Program) (*Result, error) {
	if len(p.binary) == 0 {
		return s.solveRelaxation(p, nil)
	}
	return s.branchAndBound(ctx, p)
}

func (s *LPSolver) branchAndBound(ctx context.Context, p *Program) (*Result, error) {
	maxNodes := s.MaxBranchNodes
	if maxNodes <= 0 {
		maxNodes = DefaultMaxBranchNodes
	}

	var best *Result
	nodes := 0
	var visit func(fixed map[int]float64) error
	visit = func(fixed map[int]float64) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if nodes >= maxNodes {
			return ErrBranchLimit
		}
		nodes++

		res, err := s.solveRelaxation(p, fixed)
		if err != nil {
			return err
		}
		if !res.Feasible {
			return nil
		}
		if best != nil && res.Cost >= best.Cost-integralityTol {
			return nil
		}
		branchIdx := mostFractional(res.X, p.binary, fixed)
		if branchIdx < 0 {
			best = res
			return nil
		}
		for _, val := range []float64{1, 0} {
			child := maps.Clone(fixed)
			child[branchIdx] = val
			if err := visit(child); err != nil {
				return err
			}
		}
		return nil
	}

	err := visit(map[int]float64{})
	switch {
	case errors.Is(err, ErrBranchLimit) && best != nil:
		if s.Logger != nil {
			s.Logger.Warnw("branch and bound stopped early, returning incumbent", "nodes", nodes, "cost", best.Cost)
		}
	case err != nil:
		return nil, err
	}
	if best == nil {
		return &Result{Feasible: false, Cost: math.Inf(1)}, nil
	}
	for _, i := range p.binary {
		best.X[i] = math.Round(best.X[i])
	}
	if s.Logger != nil {
		s.Logger.Debugw("branch and bound finished", "nodes", nodes, "cost", best.Cost)
	}
	return best, nil
}

func mostFractional(x []float64, binary []int, fixed map[int]float64) int {
	branchIdx := -1
	worst := integralityTol
	for _, i := range binary {
		if _, ok := fixed[i]; ok {
			continue
		}
		frac := math.Abs(x[i] - math.Round(x[i]))
		if frac > worst {
			worst = frac
			branchIdx = i
		}
	}
	return branchIdx
}

// solveRelaxation solves the program with its binary variables relaxed to [0, 1] and the
// variables in `fixed` pinned to their values.
func (s *LPSolver) solveRelaxation(p *Program, fixed map[int]float64) (*Result, error) {
	n := p.numVars
	nt := len(p.l1)
	total := n + nt

	c := make([]float64, total)
	for j, a := range p.linear {
		c[j] += a
	}
	for k := 0; k < nt; k++ {
		c[n+k] = 1
	}

	// G x <= h
	G := make([][]float64, 0, len(p.ineq)+2*nt)
	h := make([]float64, 0, len(p.ineq)+2*nt)
	for _, row := range p.ineq {
		G = append(G, row.dense(total))
		h = append(h, -row.c)
	}
	for k, row := range p.l1 {
		// |a·x + c| <= t  ==>  a·x - t <= -c  and  -a·x - t <= c
		pos := row.dense(total)
		pos[n+k] = -1
		neg := make([]float64, total)
		floats.ScaleTo(neg[:n], -1, pos[:n])
		neg[n+k] = -1
		G = append(G, pos, neg)
		h = append(h, -row.c, row.c)
	}

	A := make([][]float64, 0, len(p.eq)+len(fixed))
	b := make([]float64, 0, len(p.eq)+len(fixed))
	for _, row := range p.eq {
		A = append(A, row.dense(total))
		b = append(b, -row.c)
	}
	for i, val := range fixed {
		row := make([]float64, total)
		row[i] = 1
		A = append(A, row)
		b = append(b, val)
	}
	A, b, consistent := reduceEqualities(A, b)
	if !consistent {
		return &Result{Feasible: false, Cost: math.Inf(1)}, nil
	}

	x, optF, feasible, err := solveGeneralForm(c, G, h, A, b)
	if err != nil {
		return nil, err
	}
	if !feasible {
		return &Result{Feasible: false, Cost: math.Inf(1)}, nil
	}
	return &Result{Feasible: true, Cost: optF + p.constant, X: x[:n]}, nil
}

// solveGeneralForm minimizes cᵀx subject to G x <= h and A x = b with x free. Rows of A must be
// linearly independent. Variables that appear in no constraint are fixed at zero, or make the
// program unbounded if they carry a cost.
func solveGeneralForm(c []float64, G [][]float64, h []float64, A [][]float64, b []float64) ([]float64, float64, bool, error) {
	total := len(c)
	keep := make([]int, 0, total)
	for j := 0; j < total; j++ {
		used := false
		for _, row := range G {
			if row[j] != 0 {
				used = true
				break
			}
		}
		for _, row := range A {
			if used {
				break
			}
			if row[j] != 0 {
				used = true
			}
		}
		switch {
		case used:
			keep = append(keep, j)
		case c[j] != 0:
			return nil, 0, false, ErrUnbounded
		}
	}

	x := make([]float64, total)
	if len(keep) == 0 {
		for _, hv := range h {
			if hv < -simplexTol {
				return nil, 0, false, nil
			}
		}
		return x, 0, true, nil
	}

	m := len(keep)
	cc := make([]float64, m)
	for k, j := range keep {
		cc[k] = c[j]
	}
	var gMat, aMat mat.Matrix
	var hVec, bVec []float64
	if len(G) > 0 {
		gMat = compress(G, keep)
		hVec = h
	}
	if len(A) > 0 {
		aMat = compress(A, keep)
		bVec = b
	}

	cNew, aNew, bNew := lp.Convert(cc, gMat, hVec, aMat, bVec)
	optF, xt, err := lp.Simplex(cNew, aNew, bNew, simplexTol, nil)
	switch {
	case errors.Is(err, lp.ErrInfeasible):
		return nil, 0, false, nil
	case errors.Is(err, lp.ErrUnbounded):
		return nil, 0, false, ErrUnbounded
	case err != nil:
		return nil, 0, false, errors.Wrap(err, "simplex")
	}
	for k, j := range keep {
		x[j] = xt[k] - xt[m+k]
	}
	return x, optF, true, nil
}

func compress(rows [][]float64, keep []int) *mat.Dense {
	ret := mat.NewDense(len(rows), len(keep), nil)
	for i, row := range rows {
		for k, j := range keep {
			ret.Set(i, k, row[j])
		}
	}
	return ret
}

// reduceEqualities drops equality rows that are linear combinations of earlier rows. It reports
// false when a dropped row contradicts the rows it depends on.
func reduceEqualities(A [][]float64, b []float64) ([][]float64, []float64, bool) {
	var (
		basis   [][]float64 // orthonormal
		beta    []float64   // rhs expressed in the orthonormal basis
		keptA   [][]float64
		keptB   []float64
		scratch []float64
	)
	for i, row := range A {
		scratch = append(scratch[:0], row...)
		rhs := b[i]
		for k, q := range basis {
			proj := floats.Dot(scratch, q)
			floats.AddScaled(scratch, -proj, q)
			rhs -= proj * beta[k]
		}
		scale := math.Max(1, floats.Norm(row, 2))
		resid := floats.Norm(scratch, 2)
		if resid <= dependenceTol*scale {
			if math.Abs(rhs) > 1e-7*math.Max(1, math.Abs(b[i])) {
				return nil, nil, false
			}
			continue
		}
		q := make([]float64, len(scratch))
		floats.ScaleTo(q, 1/resid, scratch)
		basis = append(basis, q)
		beta = append(beta, rhs/resid)
		keptA = append(keptA, row)
		keptB = append(keptB, b[i])
	}
	return keptA, keptB, true
}
