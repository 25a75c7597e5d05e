package spatialmath

import (
	"github.com/pkg/errors"

	"go.viam.com/contactplan/solver"
)

var (
	// ErrEmptyPolyhedron is returned when an operation needs a point of a polyhedron that has none.
	ErrEmptyPolyhedron = errors.New("polyhedron is empty")
	// ErrNoConstraints is returned when a polyhedron is requested from zero constraints.
	ErrNoConstraints = errors.New("no constraints given")
	// ErrRowMismatch is returned when H and h have different row counts.
	ErrRowMismatch = errors.New("H and h row counts differ")
)

// ConvexSet is a convex region of R^Dim() described by linear constraints.
type ConvexSet interface {
	// Dim is the ambient dimension.
	Dim() int
	// Constraints describe the set as the intersection of the returned linear constraints.
	Constraints() []solver.LinearConstraint
	// Center returns a point of the set, or nil if none could be computed.
	Center() []float64
	// Samples returns up to n points of the set. At least one point is returned on success.
	Samples(n int) ([][]float64, error)
	// Contains reports whether x satisfies every constraint within tol.
	Contains(x []float64, tol float64) bool
}

func containsAll(constraints []solver.LinearConstraint, x []float64, tol float64) bool {
	for _, c := range constraints {
		rows, cols := c.A.Dims()
		if cols != len(x) {
			return false
		}
		for i := 0; i < rows; i++ {
			v := -c.B[i]
			for j := 0; j < cols; j++ {
				v += c.A.At(i, j) * x[j]
			}
			if v > tol || (c.Equality && v < -tol) {
				return false
			}
		}
	}
	return true
}
