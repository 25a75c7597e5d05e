package spatialmath

import (
	"math"
	"slices"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/contactplan/utils"
)

const (
	vertexTol = 1e-7
	// Enumeration is brute force over row subsets; refuse problems that would take too long.
	maxVertexCombinations = 200000
)

// OutwardNormal returns the unit normal of the edge from a to b that points away from a
// counter-clockwise polygon containing the edge.
func OutwardNormal(a, b r2.Point) r2.Point {
	return r2.Point{X: b.Y - a.Y, Y: a.X - b.X}.Normalize()
}

// ConvexHull returns the convex hull of points in counter-clockwise order, starting from the
// lowest-then-leftmost point. Collinear points are dropped.
func ConvexHull(points []r2.Point) []r2.Point {
	pts := slices.Clone(points)
	slices.SortFunc(pts, func(a, b r2.Point) int {
		if a.X != b.X {
			if a.X < b.X {
				return -1
			}
			return 1
		}
		switch {
		case a.Y < b.Y:
			return -1
		case a.Y > b.Y:
			return 1
		}
		return 0
	})
	pts = slices.CompactFunc(pts, func(a, b r2.Point) bool { return a.Sub(b).Norm() <= vertexTol })
	if len(pts) < 3 {
		return pts
	}

	cross := func(o, a, b r2.Point) float64 { return a.Sub(o).Cross(b.Sub(o)) }
	hull := make([]r2.Point, 0, 2*len(pts))
	for _, p := range pts {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= vertexTol {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(pts) - 2; i >= 0; i-- {
		p := pts[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= vertexTol {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	hull = hull[:len(hull)-1]

	start := 0
	for i, p := range hull {
		if p.Y < hull[start].Y || (p.Y == hull[start].Y && p.X < hull[start].X) {
			start = i
		}
	}
	return append(hull[start:], hull[:start]...)
}

// enumerateVertices finds every basic feasible point of H x <= h by solving each square subsystem.
func enumerateVertices(H *mat.Dense, h []float64) ([][]float64, error) {
	rows, cols := H.Dims()
	if binomial(rows, cols) > maxVertexCombinations {
		return nil, errors.Errorf("vertex enumeration of %d rows in %d dimensions is too large", rows, cols)
	}

	var vertices [][]float64
	sub := mat.NewDense(cols, cols, nil)
	rhs := mat.NewVecDense(cols, nil)
	var lu mat.LU
	var x mat.VecDense
	utils.Combinations(rows, cols, func(idx []int) bool {
		for k, i := range idx {
			sub.SetRow(k, H.RawRowView(i))
			rhs.SetVec(k, h[i])
		}
		lu.Factorize(sub)
		if lu.Det() == 0 || lu.Cond() > 1e12 {
			return true
		}
		if err := lu.SolveVecTo(&x, false, rhs); err != nil {
			return true
		}
		point := mat.Col(nil, 0, &x)
		for i := 0; i < rows; i++ {
			if mat.Dot(mat.NewVecDense(cols, H.RawRowView(i)), &x) > h[i]+vertexTol*math.Max(1, math.Abs(h[i])) {
				return true
			}
		}
		for _, v := range vertices {
			if utils.AllClose(v, point, 0, vertexTol) {
				return true
			}
		}
		vertices = append(vertices, point)
		return true
	})

	if len(vertices) == 0 {
		return nil, errors.New("polyhedron has no vertices; it may be unbounded")
	}
	switch cols {
	case 1:
		slices.SortFunc(vertices, func(a, b []float64) int {
			switch {
			case a[0] < b[0]:
				return -1
			case a[0] > b[0]:
				return 1
			}
			return 0
		})
	case 2:
		orderCounterClockwise(vertices)
	}
	return vertices, nil
}

func orderCounterClockwise(vertices [][]float64) {
	var centroid r2.Point
	for _, v := range vertices {
		centroid = centroid.Add(r2.Point{X: v[0], Y: v[1]})
	}
	centroid = centroid.Mul(1 / float64(len(vertices)))
	angle := func(v []float64) float64 {
		d := r2.Point{X: v[0], Y: v[1]}.Sub(centroid)
		return math.Atan2(d.Y, d.X)
	}
	slices.SortFunc(vertices, func(a, b []float64) int {
		switch aa, ab := angle(a), angle(b); {
		case aa < ab:
			return -1
		case aa > ab:
			return 1
		}
		return 0
	})
}

// reorderRowsByVertices permutes the rows so row i contains vertices i and i+1. It reports false
// when some edge has no matching row.
func reorderRowsByVertices(H *mat.Dense, h []float64, vertices [][]float64) (*mat.Dense, []float64, bool) {
	rows, cols := H.Dims()
	onRow := func(j int, v []float64) bool {
		return math.Abs(mat.Dot(mat.NewVecDense(cols, H.RawRowView(j)), mat.NewVecDense(cols, v))-h[j]) < 1e-6
	}
	order := make([]int, 0, len(vertices))
	for i := range vertices {
		next := vertices[(i+1)%len(vertices)]
		found := false
		for j := 0; j < rows; j++ {
			if onRow(j, vertices[i]) && onRow(j, next) {
				order = append(order, j)
				found = true
				break
			}
		}
		if !found {
			return nil, nil, false
		}
	}
	H2, h2 := selectRows(H, h, order, cols)
	return H2, h2, true
}

func binomial(n, k int) int {
	if k < 0 || k > n {
		return 0
	}
	ret := 1
	for i := 1; i <= k; i++ {
		ret = ret * (n - k + i) / i
		if ret > maxVertexCombinations {
			return ret
		}
	}
	return ret
}
