package solver

import (
	"context"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func halfspaceProgram(H mat.Matrix, h []float64) (*Program, []int) {
	rows, cols := H.Dims()
	p := NewProgram()
	x := p.NewVariables(cols)
	for i := 0; i < rows; i++ {
		p.AddLinearInequality(x, mat.Row(nil, i, H), h[i])
	}
	return p, x
}

// IsEmpty reports whether {x : H x <= h} has no points.
func IsEmpty(ctx context.Context, H mat.Matrix, h []float64) (bool, error) {
	p, _ := halfspaceProgram(H, h)
	res, err := (&LPSolver{}).Solve(ctx, p)
	if err != nil {
		return false, err
	}
	return !res.Feasible, nil
}

// MinimizeLinear minimizes a·x over {x : H x <= h}. It returns ErrInfeasible when the region is
// empty and ErrUnbounded when the minimum does not exist.
func MinimizeLinear(ctx context.Context, H mat.Matrix, h, a []float64) (float64, []float64, error) {
	p, x := halfspaceProgram(H, h)
	p.AddLinearObjective(x, a)
	res, err := (&LPSolver{}).Solve(ctx, p)
	if err != nil {
		return 0, nil, err
	}
	if !res.Feasible {
		return 0, nil, ErrInfeasible
	}
	return res.Cost, res.X, nil
}

// ChebyshevCenter returns the center and radius of the largest ball inscribed in
// {x : H x <= h}. Regions with no interior return a point of the region and a zero radius.
func ChebyshevCenter(ctx context.Context, H mat.Matrix, h []float64) ([]float64, float64, error) {
	rows, cols := H.Dims()
	p := NewProgram()
	x := p.NewVariables(cols)
	r := p.NewVariables(1)[0]
	idx := append(append([]int{}, x...), r)
	for i := 0; i < rows; i++ {
		a := mat.Row(nil, i, H)
		// a·x + ||a||·r <= h
		p.AddLinearInequality(idx, append(a, floats.Norm(a, 2)), h[i])
	}
	p.AddLinearInequality([]int{r}, []float64{-1}, 0)
	p.AddLinearObjective([]int{r}, []float64{-1})

	res, err := (&LPSolver{}).Solve(ctx, p)
	if err != nil {
		return nil, 0, err
	}
	if !res.Feasible {
		return nil, 0, ErrInfeasible
	}
	return res.X[:cols], math.Max(0, res.X[r]), nil
}
