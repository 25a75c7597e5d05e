package solver

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Cost is a cost term over a local vector of decision variables. Costs are bound to program
// variables with (*Program).AddCost.
type Cost interface {
	// NumVars is the length of the local variable vector the cost is defined over.
	NumVars() int
}

// LinearCost is a·x + c.
type LinearCost struct {
	A []float64
	C float64
}

// NumVars implements Cost.
func (c LinearCost) NumVars() int { return len(c.A) }

// L1NormCost is ||A x + b||_1.
type L1NormCost struct {
	A *mat.Dense
	B []float64
}

// NumVars implements Cost.
func (c L1NormCost) NumVars() int {
	_, n := c.A.Dims()
	return n
}

// L2NormCost is ||A x + b||_2.
type L2NormCost struct {
	A *mat.Dense
	B []float64
}

// NumVars implements Cost.
func (c L2NormCost) NumVars() int {
	_, n := c.A.Dims()
	return n
}

// QuadraticCost is ½ xᵀQx + bᵀx + c.
type QuadraticCost struct {
	Q *mat.Dense
	B []float64
	C float64
}

// NumVars implements Cost.
func (c QuadraticCost) NumVars() int { return len(c.B) }

// LinearConstraint is A x <= b, or A x = b when Equality is set.
type LinearConstraint struct {
	A        *mat.Dense
	B        []float64
	Equality bool
}

// NumVars is the length of the local variable vector the constraint is defined over.
func (c LinearConstraint) NumVars() int {
	_, n := c.A.Dims()
	return n
}

// NewLinearEqualityConstraint returns A x = b.
func NewLinearEqualityConstraint(A *mat.Dense, b []float64) LinearConstraint {
	return LinearConstraint{A: A, B: b, Equality: true}
}

// Evaluate returns the value of `cost` at x.
func Evaluate(cost Cost, x []float64) (float64, error) {
	if cost.NumVars() != len(x) {
		return 0, errors.Errorf("cost over %d variables evaluated at a point of size %d", cost.NumVars(), len(x))
	}
	switch c := cost.(type) {
	case LinearCost:
		return floats.Dot(c.A, x) + c.C, nil
	case L1NormCost:
		return norm(c.A, c.B, x, 1), nil
	case L2NormCost:
		return norm(c.A, c.B, x, 2), nil
	case QuadraticCost:
		xv := mat.NewVecDense(len(x), x)
		var qx mat.VecDense
		qx.MulVec(c.Q, xv)
		return 0.5*mat.Dot(xv, &qx) + floats.Dot(c.B, x) + c.C, nil
	}
	return 0, errors.Wrapf(ErrUnsupportedCost, "%T", cost)
}

func norm(A *mat.Dense, b, x []float64, l float64) float64 {
	var ax mat.VecDense
	ax.MulVec(A, mat.NewVecDense(len(x), x))
	ax.AddVec(&ax, mat.NewVecDense(len(b), append([]float64{}, b...)))
	return mat.Norm(&ax, l)
}

// Scale returns `cost` multiplied by w >= 0.
func Scale(cost Cost, w float64) (Cost, error) {
	if w < 0 {
		return nil, errors.Errorf("cannot scale a cost by %f", w)
	}
	scaleDense := func(A *mat.Dense) *mat.Dense {
		var out mat.Dense
		out.Scale(w, A)
		return &out
	}
	scaleVec := func(v []float64) []float64 {
		out := append([]float64{}, v...)
		floats.Scale(w, out)
		return out
	}
	switch c := cost.(type) {
	case LinearCost:
		return LinearCost{A: scaleVec(c.A), C: w * c.C}, nil
	case L1NormCost:
		return L1NormCost{A: scaleDense(c.A), B: scaleVec(c.B)}, nil
	case L2NormCost:
		return L2NormCost{A: scaleDense(c.A), B: scaleVec(c.B)}, nil
	case QuadraticCost:
		return QuadraticCost{Q: scaleDense(c.Q), B: scaleVec(c.B), C: w * c.C}, nil
	}
	return nil, errors.Wrapf(ErrUnsupportedCost, "%T", cost)
}
