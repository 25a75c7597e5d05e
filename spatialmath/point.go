package spatialmath

import (
	"gonum.org/v1/gonum/mat"

	"go.viam.com/contactplan/solver"
)

// Point is the singleton set {x}.
type Point struct {
	x []float64
}

// NewPoint returns the set containing only x.
func NewPoint(x []float64) *Point {
	return &Point{x: append([]float64{}, x...)}
}

// X returns the point.
func (p *Point) X() []float64 {
	return append([]float64{}, p.x...)
}

// Dim implements ConvexSet.
func (p *Point) Dim() int {
	return len(p.x)
}

// Constraints implements ConvexSet as I x = p.
func (p *Point) Constraints() []solver.LinearConstraint {
	n := len(p.x)
	eye := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		eye.Set(i, i, 1)
	}
	return []solver.LinearConstraint{solver.NewLinearEqualityConstraint(eye, p.X())}
}

// Center implements ConvexSet.
func (p *Point) Center() []float64 {
	return p.X()
}

// Samples implements ConvexSet. A point has exactly one sample regardless of n.
func (p *Point) Samples(n int) ([][]float64, error) {
	return [][]float64{p.X()}, nil
}

// Contains implements ConvexSet.
func (p *Point) Contains(x []float64, tol float64) bool {
	return containsAll(p.Constraints(), x, tol)
}
