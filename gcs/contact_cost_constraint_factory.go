package gcs

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/contactplan/contact"
	"go.viam.com/contactplan/solver"
)

// ObjectWeight scales object displacement in the object-weighted shortcut cost.
const ObjectWeight = 2.0

// VertexCostPositionPathLength is the L1 length of every body's position trajectory within a set.
// It stands in for the Euclidean path length, which the linear solver cannot express: for each
// planar step the L1 length lies between the Euclidean length and sqrt(2) times it.
func VertexCostPositionPathLength(vars *contact.DecisionVariables) solver.Cost {
	n := vars.NumPositions()
	rows := vars.NumBodies() * contact.Dim * max(n-1, 0)
	if rows == 0 {
		return solver.LinearCost{A: make([]float64, len(vars.All))}
	}
	A := mat.NewDense(rows, len(vars.All), nil)
	r := 0
	for b := 0; b < vars.NumBodies(); b++ {
		for d := 0; d < contact.Dim; d++ {
			for k := 0; k+1 < n; k++ {
				A.Set(r, vars.PosIndex(b, d, k+1), 1)
				A.Set(r, vars.PosIndex(b, d, k), -1)
				r++
			}
		}
	}
	return solver.L1NormCost{A: A, B: make([]float64, rows)}
}

// VertexCostForceActuationNorm is the L1 norm of the robots' actuation forces.
func VertexCostForceActuationNorm(vars *contact.DecisionVariables) solver.Cost {
	idx := vars.ForceActIndices()
	if len(idx) == 0 {
		return solver.LinearCost{A: make([]float64, len(vars.All))}
	}
	A := mat.NewDense(len(idx), len(vars.All), nil)
	for r, i := range idx {
		A.Set(r, i, 1)
	}
	return solver.L1NormCost{A: A, B: make([]float64, len(idx))}
}

// EdgeCostConstant charges `c` for traversing an edge.
func EdgeCostConstant(u, v *contact.DecisionVariables, c float64) solver.Cost {
	return solver.LinearCost{A: make([]float64, len(u.All)+len(v.All)), C: c}
}

// positionGap returns the rows of `scale·(u_last - v_first)` over [u.All; v.All].
func positionGap(u, v *contact.DecisionVariables, scale []float64) (*mat.Dense, error) {
	uLast, vFirst := u.LastPosIndices(), v.FirstPosIndices()
	if len(uLast) != len(vFirst) {
		return nil, errors.Errorf("edge endpoints have %d and %d position coordinates", len(uLast), len(vFirst))
	}
	A := mat.NewDense(len(uLast), len(u.All)+len(v.All), nil)
	for r := range uLast {
		A.Set(r, uLast[r], scale[r])
		A.Set(r, len(u.All)+vFirst[r], -scale[r])
	}
	return A, nil
}

// EdgeCostPositionContinuityNorm is `scale` times the L1 gap between the last positions of u and
// the first positions of v. Like VertexCostPositionPathLength it replaces a Euclidean norm.
func EdgeCostPositionContinuityNorm(u, v *contact.DecisionVariables, scale float64) (solver.Cost, error) {
	A, err := positionGap(u, v, scaled(len(u.LastPosIndices()), scale))
	if err != nil {
		return nil, err
	}
	rows, _ := A.Dims()
	return solver.L1NormCost{A: A, B: make([]float64, rows)}, nil
}

// EdgeConstraintPositionContinuity requires the last positions of u to equal the first positions
// of v.
func EdgeConstraintPositionContinuity(u, v *contact.DecisionVariables) (solver.LinearConstraint, error) {
	A, err := positionGap(u, v, scaled(len(u.LastPosIndices()), 1))
	if err != nil {
		return solver.LinearConstraint{}, err
	}
	rows, _ := A.Dims()
	return solver.NewLinearEqualityConstraint(A, make([]float64, rows)), nil
}

func shortcutCosts(A *mat.Dense, addConst bool) []solver.Cost {
	rows, cols := A.Dims()
	costs := []solver.Cost{solver.L1NormCost{A: A, B: make([]float64, rows)}}
	if addConst {
		costs = append(costs, solver.LinearCost{A: make([]float64, cols), C: 1})
	}
	return costs
}

// ContactShortcutEdgeL1NormCost is the L1 distance from the last positions of u to the positions
// of the target v, plus 1 when addConst is set.
func ContactShortcutEdgeL1NormCost(u, v *contact.DecisionVariables, addConst bool) ([]solver.Cost, error) {
	A, err := positionGap(u, v, scaled(len(u.LastPosIndices()), 1))
	if err != nil {
		return nil, err
	}
	return shortcutCosts(A, addConst), nil
}

// ContactShortcutEdgeCostOverObjWeighted is ContactShortcutEdgeL1NormCost with object coordinates
// weighted by ObjectWeight.
func ContactShortcutEdgeCostOverObjWeighted(u, v *contact.DecisionVariables, addConst bool) ([]solver.Cost, error) {
	scale := scaled(len(u.LastPosIndices()), 1)
	for i := 0; i < u.NumObjects*contact.Dim && i < len(scale); i++ {
		scale[i] = ObjectWeight
	}
	A, err := positionGap(u, v, scale)
	if err != nil {
		return nil, err
	}
	return shortcutCosts(A, addConst), nil
}

// ShortcutEdgeL1NormCost is the L1 distance between two points of R^dim, over [x_u; x_v].
func ShortcutEdgeL1NormCost(dim int, addConst bool) []solver.Cost {
	A := mat.NewDense(dim, 2*dim, nil)
	for i := 0; i < dim; i++ {
		A.Set(i, i, 1)
		A.Set(i, dim+i, -1)
	}
	return shortcutCosts(A, addConst)
}
