package solver

import (
	"github.com/pkg/errors"
)

// NoPerspective binds a cost or constraint without scaling its constant terms by a flow variable.
const NoPerspective = -1

// affineRow is Σ val_i·x_{idx_i} + c.
type affineRow struct {
	idx []int
	val []float64
	c   float64
}

// Program is a convex program with linear constraints. Variables are referenced by index and
// created with NewVariables. Terms may be bound in perspective form, where every constant is
// multiplied by a designated scaling variable.
type Program struct {
	numVars  int
	linear   map[int]float64
	constant float64

	l1          []affineRow
	unsupported []Cost

	// rows are kept as `row <= 0` and `row = 0`
	ineq []affineRow
	eq   []affineRow

	binary []int
}

// NewProgram returns an empty program.
func NewProgram() *Program {
	return &Program{linear: map[int]float64{}}
}

// NewVariables adds `n` continuous variables and returns their indices.
func (p *Program) NewVariables(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = p.numVars + i
	}
	p.numVars += n
	return idx
}

// NumVars returns the number of variables in the program.
func (p *Program) NumVars() int {
	return p.numVars
}

func (p *Program) checkVars(vars []int, want, phi int) error {
	if len(vars) != want {
		return errors.Errorf("term over %d variables bound to %d program variables", want, len(vars))
	}
	for _, v := range append([]int{phi}, vars...) {
		if v >= p.numVars || v < NoPerspective {
			return errors.Errorf("variable index %d out of range [0, %d)", v, p.numVars)
		}
	}
	return nil
}

// AddCost binds `cost` to the program variables `vars`. When `phi` is not NoPerspective, constant
// terms are multiplied by variable `phi`.
func (p *Program) AddCost(cost Cost, vars []int, phi int) error {
	if err := p.checkVars(vars, cost.NumVars(), phi); err != nil {
		return err
	}
	switch c := cost.(type) {
	case LinearCost:
		for j, a := range c.A {
			p.linear[vars[j]] += a
		}
		if phi == NoPerspective {
			p.constant += c.C
		} else {
			p.linear[phi] += c.C
		}
	case L1NormCost:
		rows, _ := c.A.Dims()
		for r := 0; r < rows; r++ {
			p.l1 = append(p.l1, bindRow(c.A.RawRowView(r), c.B[r], vars, phi))
		}
	case L2NormCost, QuadraticCost:
		p.unsupported = append(p.unsupported, cost)
	default:
		return errors.Wrapf(ErrUnsupportedCost, "%T", cost)
	}
	return nil
}

// AddConstraint binds `constraint` to the program variables `vars`. When `phi` is not
// NoPerspective the right hand side is multiplied by variable `phi`.
func (p *Program) AddConstraint(constraint LinearConstraint, vars []int, phi int) error {
	if err := p.checkVars(vars, constraint.NumVars(), phi); err != nil {
		return err
	}
	rows, _ := constraint.A.Dims()
	for r := 0; r < rows; r++ {
		row := bindRow(constraint.A.RawRowView(r), -constraint.B[r], vars, phi)
		if constraint.Equality {
			p.eq = append(p.eq, row)
		} else {
			p.ineq = append(p.ineq, row)
		}
	}
	return nil
}

// AddLinearInequality adds Σ val_i·x_{idx_i} <= b.
func (p *Program) AddLinearInequality(idx []int, val []float64, b float64) {
	p.ineq = append(p.ineq, affineRow{idx: append([]int{}, idx...), val: append([]float64{}, val...), c: -b})
}

// AddLinearEquality adds Σ val_i·x_{idx_i} = b.
func (p *Program) AddLinearEquality(idx []int, val []float64, b float64) {
	p.eq = append(p.eq, affineRow{idx: append([]int{}, idx...), val: append([]float64{}, val...), c: -b})
}

// AddBounds adds lb <= x_i <= ub.
func (p *Program) AddBounds(i int, lb, ub float64) {
	p.AddLinearInequality([]int{i}, []float64{1}, ub)
	p.AddLinearInequality([]int{i}, []float64{-1}, -lb)
}

// AddLinearObjective adds Σ val_i·x_{idx_i} to the objective.
func (p *Program) AddLinearObjective(idx []int, val []float64) {
	for i, j := range idx {
		p.linear[j] += val[i]
	}
}

// SetBinary restricts x_i to {0, 1}.
func (p *Program) SetBinary(i int) {
	p.AddBounds(i, 0, 1)
	p.binary = append(p.binary, i)
}

// bindRow maps a local row `a·x + c` onto program variables, moving `c` onto `phi` if requested.
func bindRow(a []float64, c float64, vars []int, phi int) affineRow {
	row := affineRow{idx: make([]int, 0, len(a)+1), val: make([]float64, 0, len(a)+1)}
	for j, coeff := range a {
		if coeff == 0 {
			continue
		}
		row.idx = append(row.idx, vars[j])
		row.val = append(row.val, coeff)
	}
	if phi == NoPerspective {
		row.c = c
	} else if c != 0 {
		row.idx = append(row.idx, phi)
		row.val = append(row.val, c)
	}
	return row
}

func (r affineRow) dense(n int) []float64 {
	ret := make([]float64, n)
	for i, j := range r.idx {
		ret[j] += r.val[i]
	}
	return ret
}

func (r affineRow) eval(x []float64) float64 {
	ret := r.c
	for i, j := range r.idx {
		ret += r.val[i] * x[j]
	}
	return ret
}

// Objective evaluates the program's cost at x. Unsupported costs are an error.
func (p *Program) Objective(x []float64) (float64, error) {
	if len(p.unsupported) > 0 {
		return 0, errors.Wrapf(ErrUnsupportedCost, "%T", p.unsupported[0])
	}
	ret := p.constant
	for j, a := range p.linear {
		ret += a * x[j]
	}
	for _, row := range p.l1 {
		v := row.eval(x)
		if v < 0 {
			v = -v
		}
		ret += v
	}
	return ret, nil
}

// Satisfies reports whether x meets every constraint within `tol`.
func (p *Program) Satisfies(x []float64, tol float64) bool {
	for _, row := range p.ineq {
		if row.eval(x) > tol {
			return false
		}
	}
	for _, row := range p.eq {
		if v := row.eval(x); v > tol || v < -tol {
			return false
		}
	}
	return true
}
