package symbolic

import (
	"testing"

	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func TestVariables(t *testing.T) {
	vars := NewVariables("pos", 3)
	test.That(t, len(vars), test.ShouldEqual, 3)
	test.That(t, vars[2].Name, test.ShouldEqual, "pos_2")
	test.That(t, vars[0].ID, test.ShouldNotEqual, vars[1].ID)

	other := NewVariable("pos_0")
	test.That(t, other.ID, test.ShouldNotEqual, vars[0].ID)
}

func TestExpressionArithmetic(t *testing.T) {
	x := NewVariable("x")
	y := NewVariable("y")

	e := Var(x).Scale(2).Add(Var(y)).AddConst(3)
	test.That(t, e.Coeff(x), test.ShouldEqual, 2.)
	test.That(t, e.Coeff(y), test.ShouldEqual, 1.)
	test.That(t, e.Constant(), test.ShouldEqual, 3.)

	// Operations never mutate their receiver.
	diff := e.Sub(Var(x))
	test.That(t, e.Coeff(x), test.ShouldEqual, 2.)
	test.That(t, diff.Coeff(x), test.ShouldEqual, 1.)

	val, err := diff.Evaluate(map[uint64]float64{x.ID: 2, y.ID: -1})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, val, test.ShouldEqual, 4.)

	_, err = diff.Evaluate(map[uint64]float64{x.ID: 2})
	test.That(t, err, test.ShouldNotBeNil)

	test.That(t, Dot([]float64{1, -1}, []Variable{x, y}).String(), test.ShouldContainSubstring, "-1*y")
	test.That(t, Sum(Var(x), Var(x), Const(1)).Coeff(x), test.ShouldEqual, 2.)
}

func TestDecomposeAffineExpressions(t *testing.T) {
	vars := NewVariables("x", 2)
	exprs := []Expression{
		Var(vars[0]).Scale(3).AddConst(1),
		Var(vars[0]).Sub(Var(vars[1])),
	}
	A, b, err := DecomposeAffineExpressions(exprs, vars)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mat.Equal(A, mat.NewDense(2, 2, []float64{3, 0, 1, -1})), test.ShouldBeTrue)
	test.That(t, b, test.ShouldResemble, []float64{1, 0})

	stranger := NewVariable("z")
	_, _, err = DecomposeAffineExpressions([]Expression{Var(stranger)}, vars)
	test.That(t, err, test.ShouldNotBeNil)

	_, _, err = DecomposeAffineExpressions(nil, vars)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestHalfspaces(t *testing.T) {
	vars := NewVariables("x", 2)
	formulas := []Formula{
		Le(Var(vars[0]), Const(2)),
		Ge(Var(vars[1]), Const(-1)),
		Equal(Var(vars[0]).Add(Var(vars[1])), Const(1)),
	}
	H, h, err := Halfspaces(formulas, vars)
	test.That(t, err, test.ShouldBeNil)
	rows, cols := H.Dims()
	test.That(t, rows, test.ShouldEqual, 4)
	test.That(t, cols, test.ShouldEqual, 2)
	test.That(t, mat.Equal(H, mat.NewDense(4, 2, []float64{
		1, 0,
		0, -1,
		1, 1,
		-1, -1,
	})), test.ShouldBeTrue)
	test.That(t, h, test.ShouldResemble, []float64{2, 1, 1, -1})
	test.That(t, formulas[2].String(), test.ShouldContainSubstring, "==")
}

func TestFormulaHolds(t *testing.T) {
	x := NewVariable("x")
	y := NewVariable("y")
	values := map[uint64]float64{x.ID: 1, y.ID: 2}

	ok, err := Le(Var(x), Var(y)).Holds(values, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeTrue)

	ok, err = Ge(Var(x), Var(y)).Holds(values, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeFalse)

	ok, err = Equal(Var(x).AddConst(1), Var(y)).Holds(values, 1e-9)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeTrue)

	_, err = Le(Var(x), Var(NewVariable("z"))).Holds(values, 0)
	test.That(t, err, test.ShouldNotBeNil)
}
