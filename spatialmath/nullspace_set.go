package spatialmath

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/contactplan/solver"
)

// AffineSubspaceTol is the tolerance used for rank decisions and implicit-equality detection.
const AffineSubspaceTol = 1e-9

// NullspaceSet is a polyhedron expressed in the coordinates q of the affine subspace that contains
// it, x = V q + x0. The reduced set is either a Polyhedron or, when the subspace is a single point,
// a Point. Dim, Constraints, Center and Contains refer to q; Samples are lifted back to x.
type NullspaceSet struct {
	set ConvexSet
	v   *mat.Dense
	x0  []float64
}

// NewNullspaceSet reduces `p` using the equalities found by the near-negation scan.
func NewNullspaceSet(p *Polyhedron) (*NullspaceSet, error) {
	sep, err := p.Separated()
	if err != nil {
		return nil, err
	}
	return newNullspaceSet(sep, p.Dim())
}

// NewNullspaceSetWithActiveEverywhere reduces `p` using every row that is tight at all of its
// points: row i is such a row when min a_i·x over p equals b_i.
func NewNullspaceSetWithActiveEverywhere(ctx context.Context, p *Polyhedron) (*NullspaceSet, error) {
	if err := p.checkNonEmpty(); err != nil {
		return nil, err
	}
	rows, cols := p.hMat.Dims()
	var eqIdx, ineqIdx []int
	for i := 0; i < rows; i++ {
		a := p.hMat.RawRowView(i)
		minVal, _, err := solver.MinimizeLinear(ctx, p.hMat, p.hVec, a)
		if err != nil {
			return nil, errors.Wrapf(err, "minimizing row %d", i)
		}
		if math.Abs(minVal-p.hVec[i]) < AffineSubspaceTol*math.Max(1, math.Abs(p.hVec[i])) {
			eqIdx = append(eqIdx, i)
		} else {
			ineqIdx = append(ineqIdx, i)
		}
	}
	sep := &SeparatedConstraints{}
	sep.A, sep.B = selectRows(p.hMat, p.hVec, ineqIdx, cols)
	sep.C, sep.D = selectRows(p.hMat, p.hVec, eqIdx, cols)
	return newNullspaceSet(sep, cols)
}

func newNullspaceSet(sep *SeparatedConstraints, dim int) (*NullspaceSet, error) {
	var v *mat.Dense
	var x0 []float64
	if sep.C == nil {
		v = identity(dim)
		x0 = make([]float64, dim)
	} else {
		var err error
		v, x0, err = affineSubspace(sep.C, sep.D)
		if err != nil {
			return nil, err
		}
	}

	if v == nil {
		return &NullspaceSet{set: NewPoint(x0), x0: x0}, nil
	}
	if sep.A == nil {
		return nil, errors.New("null space set has no inequalities and is unbounded")
	}

	// A (V q + x0) <= b  ==>  (A V) q <= b - A x0
	var av mat.Dense
	av.Mul(sep.A, v)
	bPrime := make([]float64, len(sep.B))
	for i := range bPrime {
		bPrime[i] = sep.B[i] - floats.Dot(sep.A.RawRowView(i), x0)
	}
	aPrime, bPrime, err := removeRowsNearZero(&av, bPrime, AffineSubspaceTol)
	if err != nil {
		return nil, err
	}
	if aPrime == nil {
		return nil, errors.New("null space set has no inequalities and is unbounded")
	}
	reduced, err := NewPolyhedron(aPrime, bPrime, false)
	if err != nil {
		return nil, err
	}
	return &NullspaceSet{set: reduced, v: v, x0: x0}, nil
}

// affineSubspace returns a basis V of the null space of C and the least-squares solution x0 of
// C x = d. V is nil when the null space is trivial.
func affineSubspace(C *mat.Dense, d []float64) (*mat.Dense, []float64, error) {
	rows, cols := C.Dims()
	var svd mat.SVD
	if ok := svd.Factorize(C, mat.SVDFull); !ok {
		return nil, nil, errors.New("SVD factorization failed")
	}
	values := svd.Values(nil)
	var u, vMat mat.Dense
	svd.UTo(&u)
	svd.VTo(&vMat)

	rank := 0
	for _, s := range values {
		if s > AffineSubspaceTol*math.Max(1, values[0]) {
			rank++
		}
	}

	x0 := make([]float64, cols)
	dv := mat.NewVecDense(rows, append([]float64{}, d...))
	for i := 0; i < rank; i++ {
		coeff := mat.Dot(u.ColView(i), dv) / values[i]
		floats.AddScaled(x0, coeff, mat.Col(nil, i, &vMat))
	}

	if rank == cols {
		return nil, x0, nil
	}
	basis := mat.NewDense(cols, cols-rank, nil)
	basis.Copy(vMat.Slice(0, cols, rank, cols))
	return basis, x0, nil
}

func identity(n int) *mat.Dense {
	eye := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		eye.Set(i, i, 1)
	}
	return eye
}

// Set returns the reduced set over q.
func (ns *NullspaceSet) Set() ConvexSet {
	return ns.set
}

// IsPoint reports whether the affine subspace is a single point.
func (ns *NullspaceSet) IsPoint() bool {
	return ns.v == nil
}

// V returns the subspace basis, one column per reduced coordinate. It is nil for a point.
func (ns *NullspaceSet) V() *mat.Dense {
	if ns.v == nil {
		return nil
	}
	return mat.DenseCopyOf(ns.v)
}

// X0 returns the subspace offset.
func (ns *NullspaceSet) X0() []float64 {
	return append([]float64{}, ns.x0...)
}

// Lift maps reduced coordinates q to V q + x0.
func (ns *NullspaceSet) Lift(q []float64) []float64 {
	x := append([]float64{}, ns.x0...)
	if ns.v == nil {
		return x
	}
	rows, _ := ns.v.Dims()
	for i := 0; i < rows; i++ {
		x[i] += floats.Dot(ns.v.RawRowView(i), q)
	}
	return x
}

// Dim implements ConvexSet.
func (ns *NullspaceSet) Dim() int {
	return ns.set.Dim()
}

// Constraints implements ConvexSet.
func (ns *NullspaceSet) Constraints() []solver.LinearConstraint {
	return ns.set.Constraints()
}

// Center implements ConvexSet.
func (ns *NullspaceSet) Center() []float64 {
	return ns.set.Center()
}

// Contains implements ConvexSet.
func (ns *NullspaceSet) Contains(q []float64, tol float64) bool {
	return ns.set.Contains(q, tol)
}

// Samples implements ConvexSet. Samples are drawn in q and returned lifted to x.
func (ns *NullspaceSet) Samples(n int) ([][]float64, error) {
	return ns.SamplesWithSource(n, defaultSource())
}

// SamplesWithSource is Samples drawing from an explicit random source.
func (ns *NullspaceSet) SamplesWithSource(n int, src randSource) ([][]float64, error) {
	var qs [][]float64
	switch set := ns.set.(type) {
	case *Point:
		return [][]float64{ns.X0()}, nil
	case *Polyhedron:
		var err error
		qs, err = set.SamplesWithSource(n, src)
		if err != nil {
			return nil, err
		}
	default:
		var err error
		qs, err = set.Samples(n)
		if err != nil {
			return nil, err
		}
	}
	samples := make([][]float64, len(qs))
	for i, q := range qs {
		samples[i] = ns.Lift(q)
	}
	return samples, nil
}
