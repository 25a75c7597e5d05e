package symbolic

import (
	"fmt"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Expression is an affine function of decision variables: Σ coeff_i·x_i + constant.
// Expressions are values; every operation returns a new Expression.
type Expression struct {
	coeffs   map[uint64]float64
	names    map[uint64]string
	constant float64
}

// Var returns the expression `v`.
func Var(v Variable) Expression {
	return Expression{
		coeffs: map[uint64]float64{v.ID: 1},
		names:  map[uint64]string{v.ID: v.Name},
	}
}

// Const returns the constant expression `c`.
func Const(c float64) Expression {
	return Expression{constant: c}
}

// Vars converts each variable to an expression.
func Vars(vs []Variable) []Expression {
	exprs := make([]Expression, len(vs))
	for i, v := range vs {
		exprs[i] = Var(v)
	}
	return exprs
}

// Dot returns Σ coeffs_i·vars_i.
func Dot(coeffs []float64, vars []Variable) Expression {
	ret := Const(0)
	for i, v := range vars {
		ret = ret.Add(Var(v).Scale(coeffs[i]))
	}
	return ret
}

// Sum adds all expressions.
func Sum(exprs ...Expression) Expression {
	ret := Const(0)
	for _, e := range exprs {
		ret = ret.Add(e)
	}
	return ret
}

func (e Expression) clone() Expression {
	ret := Expression{
		coeffs:   make(map[uint64]float64, len(e.coeffs)),
		names:    make(map[uint64]string, len(e.names)),
		constant: e.constant,
	}
	for id, c := range e.coeffs {
		ret.coeffs[id] = c
	}
	for id, n := range e.names {
		ret.names[id] = n
	}
	return ret
}

// Add returns e + o.
func (e Expression) Add(o Expression) Expression {
	ret := e.clone()
	ret.constant += o.constant
	for id, c := range o.coeffs {
		ret.coeffs[id] += c
		ret.names[id] = o.names[id]
	}
	return ret
}

// Sub returns e - o.
func (e Expression) Sub(o Expression) Expression {
	return e.Add(o.Scale(-1))
}

// Scale returns s·e.
func (e Expression) Scale(s float64) Expression {
	ret := e.clone()
	ret.constant *= s
	for id := range ret.coeffs {
		ret.coeffs[id] *= s
	}
	return ret
}

// AddConst returns e + c.
func (e Expression) AddConst(c float64) Expression {
	ret := e.clone()
	ret.constant += c
	return ret
}

// Coeff returns the coefficient of `v` in e.
func (e Expression) Coeff(v Variable) float64 {
	return e.coeffs[v.ID]
}

// Constant returns the constant term of e.
func (e Expression) Constant() float64 {
	return e.constant
}

// Evaluate substitutes `values`, keyed by variable ID. Missing variables are an error.
func (e Expression) Evaluate(values map[uint64]float64) (float64, error) {
	ret := e.constant
	for id, c := range e.coeffs {
		val, ok := values[id]
		if !ok {
			return 0, errors.Errorf("no value for variable %q", e.names[id])
		}
		ret += c * val
	}
	return ret, nil
}

func (e Expression) String() string {
	ids := make([]uint64, 0, len(e.coeffs))
	for id, c := range e.coeffs {
		if c != 0 {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	terms := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		terms = append(terms, fmt.Sprintf("%g*%s", e.coeffs[id], e.names[id]))
	}
	if e.constant != 0 || len(terms) == 0 {
		terms = append(terms, fmt.Sprintf("%g", e.constant))
	}
	return strings.Join(terms, " + ")
}

// DecomposeAffineExpressions returns A, b such that exprs_i = A_i·vars + b_i. It fails if an
// expression depends on a variable that is not in `vars`.
func DecomposeAffineExpressions(exprs []Expression, vars []Variable) (*mat.Dense, []float64, error) {
	if len(exprs) == 0 || len(vars) == 0 {
		return nil, nil, errors.Errorf("cannot decompose %d expressions over %d variables", len(exprs), len(vars))
	}
	col := make(map[uint64]int, len(vars))
	for i, v := range vars {
		col[v.ID] = i
	}

	A := mat.NewDense(len(exprs), len(vars), nil)
	b := make([]float64, len(exprs))
	for i, e := range exprs {
		for id, c := range e.coeffs {
			if c == 0 {
				continue
			}
			j, ok := col[id]
			if !ok {
				return nil, nil, errors.Errorf("expression %q depends on variable %q outside the decomposition set", e, e.names[id])
			}
			A.Set(i, j, c)
		}
		b[i] = e.constant
	}
	return A, b, nil
}
