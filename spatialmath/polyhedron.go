package spatialmath

import (
	"context"
	"math"
	"sync"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/contactplan/solver"
	"go.viam.com/contactplan/symbolic"
	"go.viam.com/contactplan/utils"
)

// Default tolerances of the near-negation scan that detects equality rows.
const (
	DefaultEqualityRtol = 1e-5
	DefaultEqualityAtol = 1e-8
)

// SeparatedConstraints splits H x <= h into inequalities A x <= b and equalities C x = d. A and C
// are nil when they have no rows.
type SeparatedConstraints struct {
	A *mat.Dense
	B []float64
	C *mat.Dense
	D []float64
}

// Polyhedron is the region {x : H x <= h}. Derived quantities are computed on first use and cached
// for the lifetime of the value; a polyhedron is never mutated after construction.
type Polyhedron struct {
	hMat *mat.Dense
	hVec []float64
	dim  int

	emptyOnce sync.Once
	empty     bool
	emptyErr  error

	centerOnce sync.Once
	center     []float64

	verticesOnce sync.Once
	vertices     [][]float64
	verticesErr  error

	separatedOnce sync.Once
	separated     *SeparatedConstraints

	nullspaceOnce sync.Once
	nullspace     *NullspaceSet
	nullspaceErr  error

	equalitiesOnce sync.Once
	hasEqualities  bool
}

// NewPolyhedron returns {x : H x <= h}. When computeVertices is set the vertices are enumerated
// eagerly and, for planar polyhedra whose rows are exactly the hull edges, the rows are reordered
// so row i is the edge from vertex i to vertex i+1.
func NewPolyhedron(H *mat.Dense, h []float64, computeVertices bool) (*Polyhedron, error) {
	if H == nil {
		return nil, ErrNoConstraints
	}
	rows, cols := H.Dims()
	if rows != len(h) {
		return nil, errors.Wrapf(ErrRowMismatch, "H has %d rows, h has %d", rows, len(h))
	}
	p := &Polyhedron{hMat: mat.DenseCopyOf(H), hVec: append([]float64{}, h...), dim: cols}
	if !computeVertices {
		return p, nil
	}
	vertices, err := p.Vertices()
	if err != nil {
		return nil, err
	}
	if cols == 2 && len(vertices) == rows {
		if H2, h2, ok := reorderRowsByVertices(p.hMat, p.hVec, vertices); ok {
			reordered := &Polyhedron{hMat: H2, hVec: h2, dim: cols}
			reordered.verticesOnce.Do(func() { reordered.vertices = vertices })
			return reordered, nil
		}
	}
	return p, nil
}

// PolyhedronFromConstraints lowers linear formulas over `vars` to a polyhedron.
func PolyhedronFromConstraints(formulas []symbolic.Formula, vars []symbolic.Variable) (*Polyhedron, error) {
	if len(formulas) == 0 {
		return nil, ErrNoConstraints
	}
	H, h, err := symbolic.Halfspaces(formulas, vars)
	if err != nil {
		return nil, err
	}
	return NewPolyhedron(H, h, false)
}

// PolyhedronFromVertices returns the convex hull of planar points. Row i of the result is the
// edge from vertex i to vertex i+1 of the counter-clockwise hull.
func PolyhedronFromVertices(points []r2.Point) (*Polyhedron, error) {
	hull := ConvexHull(points)
	if len(hull) < 3 {
		return nil, errors.Errorf("need at least 3 non-collinear points, got %d hull vertices", len(hull))
	}
	H := mat.NewDense(len(hull), 2, nil)
	h := make([]float64, len(hull))
	vertices := make([][]float64, len(hull))
	for i, v := range hull {
		n := OutwardNormal(v, hull[(i+1)%len(hull)])
		H.Set(i, 0, n.X)
		H.Set(i, 1, n.Y)
		h[i] = n.Dot(v)
		vertices[i] = []float64{v.X, v.Y}
	}
	p := &Polyhedron{hMat: H, hVec: h, dim: 2}
	p.verticesOnce.Do(func() { p.vertices = vertices })
	return p, nil
}

// Dim implements ConvexSet.
func (p *Polyhedron) Dim() int {
	return p.dim
}

// Halfspaces returns copies of H and h.
func (p *Polyhedron) Halfspaces() (*mat.Dense, []float64) {
	return mat.DenseCopyOf(p.hMat), append([]float64{}, p.hVec...)
}

// Constraints implements ConvexSet.
func (p *Polyhedron) Constraints() []solver.LinearConstraint {
	H, h := p.Halfspaces()
	return []solver.LinearConstraint{{A: H, B: h}}
}

// Contains implements ConvexSet.
func (p *Polyhedron) Contains(x []float64, tol float64) bool {
	return containsAll([]solver.LinearConstraint{{A: p.hMat, B: p.hVec}}, x, tol)
}

// IsEmpty reports whether the polyhedron has no points.
func (p *Polyhedron) IsEmpty() (bool, error) {
	p.emptyOnce.Do(func() {
		p.empty, p.emptyErr = solver.IsEmpty(context.Background(), p.hMat, p.hVec)
	})
	return p.empty, p.emptyErr
}

func (p *Polyhedron) checkNonEmpty() error {
	empty, err := p.IsEmpty()
	if err != nil {
		return err
	}
	if empty {
		return ErrEmptyPolyhedron
	}
	return nil
}

// Center implements ConvexSet with the Chebyshev center. It is nil for empty or degenerate
// polyhedra where the center could not be computed.
func (p *Polyhedron) Center() []float64 {
	p.centerOnce.Do(func() {
		center, _, err := solver.ChebyshevCenter(context.Background(), p.hMat, p.hVec)
		if err == nil {
			p.center = center
		}
	})
	if p.center == nil {
		return nil
	}
	return append([]float64{}, p.center...)
}

// Vertices enumerates the vertices of a bounded polyhedron. Planar vertices are returned in
// counter-clockwise order.
func (p *Polyhedron) Vertices() ([][]float64, error) {
	p.verticesOnce.Do(func() {
		if err := p.checkNonEmpty(); err != nil {
			p.verticesErr = err
			return
		}
		p.vertices, p.verticesErr = enumerateVertices(p.hMat, p.hVec)
	})
	return p.vertices, p.verticesErr
}

// Separated returns the inequality and equality blocks of the polyhedron. Equalities are the row
// pairs `a x <= b`, `-a x <= -b`; each pair contributes its first row to C.
func (p *Polyhedron) Separated() (*SeparatedConstraints, error) {
	if err := p.checkNonEmpty(); err != nil {
		return nil, err
	}
	p.separatedOnce.Do(func() {
		p.separated = separateEqualities(p.hMat, p.hVec, DefaultEqualityRtol, DefaultEqualityAtol)
	})
	return p.separated, nil
}

// HasEqualities reports whether any pair of rows encodes an equality.
func (p *Polyhedron) HasEqualities() bool {
	p.equalitiesOnce.Do(func() {
		p.hasEqualities = hasNegationPair(p.hMat, p.hVec)
	})
	return p.hasEqualities
}

func hasNegationPair(H *mat.Dense, h []float64) bool {
	rows, _ := H.Dims()
	for i := 0; i < rows; i++ {
		for j := i + 1; j < rows; j++ {
			if isNegationPair(H.RawRowView(i), h[i], H.RawRowView(j), h[j], DefaultEqualityRtol, DefaultEqualityAtol) {
				return true
			}
		}
	}
	return false
}

// BoundingBox returns the per-coordinate minimum and maximum over the polyhedron.
func (p *Polyhedron) BoundingBox() ([]float64, []float64, error) {
	if err := p.checkNonEmpty(); err != nil {
		return nil, nil, err
	}
	lo := make([]float64, p.dim)
	hi := make([]float64, p.dim)
	for i := 0; i < p.dim; i++ {
		a := make([]float64, p.dim)
		a[i] = 1
		minVal, _, err := solver.MinimizeLinear(context.Background(), p.hMat, p.hVec, a)
		if err != nil {
			return nil, nil, err
		}
		a[i] = -1
		negMax, _, err := solver.MinimizeLinear(context.Background(), p.hMat, p.hVec, a)
		if err != nil {
			return nil, nil, err
		}
		lo[i], hi[i] = minVal, -negMax
	}
	return lo, hi, nil
}

// NullspaceSet returns the polyhedron reduced to the null space of its explicit equalities. It is
// built on first use.
func (p *Polyhedron) NullspaceSet() (*NullspaceSet, error) {
	p.nullspaceOnce.Do(func() {
		p.nullspace, p.nullspaceErr = NewNullspaceSet(p)
	})
	return p.nullspace, p.nullspaceErr
}

// Samples implements ConvexSet. Equality-bearing polyhedra are sampled in the null space of their
// equalities and lifted back; if that fails the Chebyshev center is the single sample.
func (p *Polyhedron) Samples(n int) ([][]float64, error) {
	return p.SamplesWithSource(n, defaultSource())
}

// SamplesWithSource is Samples drawing from an explicit random source.
func (p *Polyhedron) SamplesWithSource(n int, src randSource) ([][]float64, error) {
	if err := p.checkNonEmpty(); err != nil {
		return nil, err
	}
	if !p.HasEqualities() {
		return hitAndRun(p.hMat, p.hVec, p.Center(), n, src)
	}

	ns, err := p.NullspaceSet()
	if err == nil {
		var samples [][]float64
		samples, err = ns.SamplesWithSource(n, src)
		if err == nil {
			return samples, nil
		}
	}
	center := p.Center()
	if center == nil {
		return nil, errors.Wrap(err, "null space sampling failed and no center is available")
	}
	return [][]float64{center}, nil
}

func isNegationPair(a1 []float64, b1 float64, a2 []float64, b2 float64, rtol, atol float64) bool {
	for k := range a1 {
		if !utils.IsClose(a1[k]+a2[k], 0, rtol, atol) {
			return false
		}
	}
	return utils.IsClose(b1+b2, 0, rtol, atol)
}

func separateEqualities(H *mat.Dense, h []float64, rtol, atol float64) *SeparatedConstraints {
	rows, cols := H.Dims()
	inEquality := make([]bool, rows)
	var eqRows []int
	for i := 0; i < rows; i++ {
		for j := i + 1; j < rows; j++ {
			if isNegationPair(H.RawRowView(i), h[i], H.RawRowView(j), h[j], rtol, atol) {
				inEquality[i], inEquality[j] = true, true
				eqRows = append(eqRows, i)
			}
		}
	}
	var ineqRows []int
	for i := 0; i < rows; i++ {
		if !inEquality[i] {
			ineqRows = append(ineqRows, i)
		}
	}

	ret := &SeparatedConstraints{}
	ret.A, ret.B = selectRows(H, h, ineqRows, cols)
	ret.C, ret.D = selectRows(H, h, eqRows, cols)
	return ret
}

func selectRows(H *mat.Dense, h []float64, idx []int, cols int) (*mat.Dense, []float64) {
	if len(idx) == 0 {
		return nil, nil
	}
	A := mat.NewDense(len(idx), cols, nil)
	b := make([]float64, len(idx))
	for k, i := range idx {
		A.SetRow(k, H.RawRowView(i))
		b[k] = h[i]
	}
	return A, b
}

// removeRowsNearZero drops rows whose coefficients are all within tol of zero. A dropped row with
// a negative right hand side makes the system infeasible.
func removeRowsNearZero(A *mat.Dense, b []float64, tol float64) (*mat.Dense, []float64, error) {
	rows, cols := A.Dims()
	var keep []int
	for i := 0; i < rows; i++ {
		if floats.Norm(A.RawRowView(i), math.Inf(1)) > tol {
			keep = append(keep, i)
			continue
		}
		if b[i] < -tol {
			return nil, nil, ErrEmptyPolyhedron
		}
	}
	A2, b2 := selectRows(A, b, keep, cols)
	return A2, b2, nil
}
