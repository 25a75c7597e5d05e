package contact

import (
	"go.viam.com/contactplan/symbolic"
)

// ForceBalanceConstraints returns the quasi-static dynamics of the movable bodies: between
// consecutive position samples a body moves by its residual force. An object's residual force is
// the sum of the contact forces on it; a robot's adds its actuation.
func ForceBalanceConstraints(objects, robots []*RigidBody, modes []*ContactPairMode) []symbolic.Formula {
	var formulas []symbolic.Formula
	for _, body := range append(append([]*RigidBody{}, objects...), robots...) {
		pos := body.PosVars()
		res := body.ForceResVars()
		for k := 0; k < body.NPosPoints()-1; k++ {
			var contact [Dim][]symbolic.Expression
			for _, mode := range modes {
				if force, ok := mode.ForceOn(body, k); ok {
					for d := 0; d < Dim; d++ {
						contact[d] = append(contact[d], force[d])
					}
				}
			}
			for d := 0; d < Dim; d++ {
				step := symbolic.Var(pos[d][k+1]).Sub(symbolic.Var(pos[d][k]))
				total := symbolic.Sum(contact[d]...)
				if body.Mobility() == Actuated {
					total = total.Add(symbolic.Var(body.ForceActVars()[d][k]))
				}
				formulas = append(formulas,
					symbolic.Equal(step, symbolic.Var(res[d][k])),
					symbolic.Equal(symbolic.Var(res[d][k]), total),
				)
			}
		}
	}
	return formulas
}
