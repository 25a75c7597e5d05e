package symbolic

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// FormulaKind is the relation of a Formula.
type FormulaKind int

// The supported relations.
const (
	Leq FormulaKind = iota
	Eq
	Geq
)

func (k FormulaKind) String() string {
	switch k {
	case Leq:
		return "<="
	case Eq:
		return "=="
	case Geq:
		return ">="
	}
	return fmt.Sprintf("FormulaKind(%d)", int(k))
}

// Formula is the linear relation `Lhs Kind Rhs`.
type Formula struct {
	Kind FormulaKind
	Lhs  Expression
	Rhs  Expression
}

// Le returns lhs <= rhs.
func Le(lhs, rhs Expression) Formula {
	return Formula{Kind: Leq, Lhs: lhs, Rhs: rhs}
}

// Ge returns lhs >= rhs.
func Ge(lhs, rhs Expression) Formula {
	return Formula{Kind: Geq, Lhs: lhs, Rhs: rhs}
}

// Equal returns lhs == rhs.
func Equal(lhs, rhs Expression) Formula {
	return Formula{Kind: Eq, Lhs: lhs, Rhs: rhs}
}

// LeVec returns lhs_i <= rhs_i for every i.
func LeVec(lhs, rhs []Expression) []Formula {
	ret := make([]Formula, len(lhs))
	for i := range lhs {
		ret[i] = Le(lhs[i], rhs[i])
	}
	return ret
}

func (f Formula) String() string {
	return fmt.Sprintf("%s %s %s", f.Lhs, f.Kind, f.Rhs)
}

// Halfspaces lowers formulas to H x <= h over `vars`. Every formula first becomes `expr <= 0`; an
// equality contributes the opposing pair `lhs - rhs <= 0` and `rhs - lhs <= 0`.
func Halfspaces(formulas []Formula, vars []Variable) (*mat.Dense, []float64, error) {
	exprs := make([]Expression, 0, len(formulas))
	for _, f := range formulas {
		switch f.Kind {
		case Leq:
			exprs = append(exprs, f.Lhs.Sub(f.Rhs))
		case Geq:
			exprs = append(exprs, f.Rhs.Sub(f.Lhs))
		case Eq:
			exprs = append(exprs, f.Lhs.Sub(f.Rhs), f.Rhs.Sub(f.Lhs))
		default:
			return nil, nil, errors.Errorf("unsupported formula kind %v", f.Kind)
		}
	}
	H, negH, err := DecomposeAffineExpressions(exprs, vars)
	if err != nil {
		return nil, nil, err
	}
	// expr = H x + c <= 0  ==>  H x <= -c
	h := make([]float64, len(negH))
	for i, c := range negH {
		h[i] = -c
	}
	return H, h, nil
}

// Holds evaluates the formula at `values`, keyed by variable ID, allowing a violation of `tol`.
func (f Formula) Holds(values map[uint64]float64, tol float64) (bool, error) {
	diff, err := f.Lhs.Sub(f.Rhs).Evaluate(values)
	if err != nil {
		return false, err
	}
	switch f.Kind {
	case Leq:
		return diff <= tol, nil
	case Geq:
		return diff >= -tol, nil
	case Eq:
		return diff <= tol && diff >= -tol, nil
	default:
		return false, errors.Errorf("unsupported formula kind %v", f.Kind)
	}
}
