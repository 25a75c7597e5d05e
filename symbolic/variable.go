// Package symbolic contains decision variables and the affine expressions and formulas built over
// them. Convex sets and costs are described with these before being lowered to matrices.
package symbolic

import (
	"fmt"
	"sync/atomic"
)

var nextVariableID atomic.Uint64

// Variable is a continuous decision variable. Two variables are the same iff their IDs match.
type Variable struct {
	ID   uint64
	Name string
}

// NewVariable returns a variable with a process-unique ID.
func NewVariable(name string) Variable {
	return Variable{ID: nextVariableID.Add(1), Name: name}
}

// NewVariables returns `n` fresh variables named `prefix_0` ... `prefix_{n-1}`.
func NewVariables(prefix string, n int) []Variable {
	vars := make([]Variable, n)
	for i := range vars {
		vars[i] = NewVariable(fmt.Sprintf("%s_%d", prefix, i))
	}
	return vars
}

func (v Variable) String() string {
	return v.Name
}
