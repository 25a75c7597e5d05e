package contact

import (
	"github.com/pkg/errors"

	"go.viam.com/contactplan/symbolic"
)

// DecisionVariables is the variable layout of one contact set. All concatenates, in order:
// positions, residual forces, actuation forces, in-contact force magnitudes A->B, then B->A. Each
// block is flattened body-major, then dimension, then sample or step. Every cost and constraint
// factory indexes into All with this layout.
type DecisionVariables struct {
	// [body][dim][sample] over objects then robots
	Pos [][][]symbolic.Variable
	// [body][dim][step]
	ForceRes [][][]symbolic.Variable
	// [robot][dim][step]
	ForceAct [][][]symbolic.Variable
	// [in-contact mode][step]
	ForceMagAB [][]symbolic.Variable
	ForceMagBA [][]symbolic.Variable

	All     []symbolic.Variable
	BaseAll []symbolic.Variable

	// NumObjects is how many leading bodies of Pos are objects.
	NumObjects int
}

// NewDecisionVariables lays out the variables of a set over the given bodies and modes.
func NewDecisionVariables(objects, robots []*RigidBody, modes []*ContactPairMode) *DecisionVariables {
	dv := &DecisionVariables{NumObjects: len(objects)}
	for _, body := range append(append([]*RigidBody{}, objects...), robots...) {
		dv.Pos = append(dv.Pos, body.PosVars())
		dv.ForceRes = append(dv.ForceRes, body.ForceResVars())
	}
	for _, robot := range robots {
		dv.ForceAct = append(dv.ForceAct, robot.ForceActVars())
	}
	for _, mode := range modes {
		if mode.Kind() != InContact {
			continue
		}
		dv.ForceMagAB = append(dv.ForceMagAB, mode.ForceMagAB())
		dv.ForceMagBA = append(dv.ForceMagBA, mode.ForceMagBA())
	}

	dv.All = append(dv.All, flatten3(dv.Pos)...)
	dv.All = append(dv.All, flatten3(dv.ForceRes)...)
	dv.All = append(dv.All, flatten3(dv.ForceAct)...)
	dv.All = append(dv.All, flatten2(dv.ForceMagAB)...)
	dv.All = append(dv.All, flatten2(dv.ForceMagBA)...)
	dv.BaseAll = firstSamples(dv.Pos)
	return dv
}

// NewPointDecisionVariables is the layout of a single pinned configuration: only the first
// position sample of each body, so All and BaseAll coincide.
func NewPointDecisionVariables(objects, robots []*RigidBody) *DecisionVariables {
	dv := &DecisionVariables{NumObjects: len(objects)}
	for _, body := range append(append([]*RigidBody{}, objects...), robots...) {
		pos := make([][]symbolic.Variable, Dim)
		for d := range pos {
			pos[d] = []symbolic.Variable{body.PosVars()[d][0]}
		}
		dv.Pos = append(dv.Pos, pos)
	}
	dv.All = flatten3(dv.Pos)
	dv.BaseAll = dv.All
	return dv
}

func flatten2(v [][]symbolic.Variable) []symbolic.Variable {
	var ret []symbolic.Variable
	for _, row := range v {
		ret = append(ret, row...)
	}
	return ret
}

func flatten3(v [][][]symbolic.Variable) []symbolic.Variable {
	var ret []symbolic.Variable
	for _, m := range v {
		ret = append(ret, flatten2(m)...)
	}
	return ret
}

func firstSamples(pos [][][]symbolic.Variable) []symbolic.Variable {
	var ret []symbolic.Variable
	for _, body := range pos {
		for _, dim := range body {
			ret = append(ret, dim[0])
		}
	}
	return ret
}

// NumBodies is the number of movable bodies.
func (dv *DecisionVariables) NumBodies() int {
	return len(dv.Pos)
}

// NumPositions is the number of position samples per body.
func (dv *DecisionVariables) NumPositions() int {
	if len(dv.Pos) == 0 {
		return 0
	}
	return len(dv.Pos[0][0])
}

// PosIndex is the index in All of body b's coordinate d at sample k.
func (dv *DecisionVariables) PosIndex(b, d, k int) int {
	return (b*Dim+d)*dv.NumPositions() + k
}

// FirstPosIndices returns the All indices of every body's first position, body-major.
func (dv *DecisionVariables) FirstPosIndices() []int {
	return dv.posIndicesAt(0)
}

// LastPosIndices returns the All indices of every body's last position, body-major.
func (dv *DecisionVariables) LastPosIndices() []int {
	return dv.posIndicesAt(dv.NumPositions() - 1)
}

func (dv *DecisionVariables) posIndicesAt(k int) []int {
	ret := make([]int, 0, dv.NumBodies()*Dim)
	for b := 0; b < dv.NumBodies(); b++ {
		for d := 0; d < Dim; d++ {
			ret = append(ret, dv.PosIndex(b, d, k))
		}
	}
	return ret
}

// ForceActIndices returns the All indices of the actuation forces.
func (dv *DecisionVariables) ForceActIndices() []int {
	start := len(flatten3(dv.Pos)) + len(flatten3(dv.ForceRes))
	n := len(flatten3(dv.ForceAct))
	ret := make([]int, n)
	for i := range ret {
		ret[i] = start + i
	}
	return ret
}

// PosFromAll reshapes the position block of an assignment of All to [body][dim][sample].
func (dv *DecisionVariables) PosFromAll(x []float64) ([][][]float64, error) {
	if len(x) != len(dv.All) {
		return nil, errors.Errorf("expected %d values, got %d", len(dv.All), len(x))
	}
	ret := make([][][]float64, dv.NumBodies())
	for b := range ret {
		ret[b] = make([][]float64, Dim)
		for d := range ret[b] {
			ret[b][d] = make([]float64, dv.NumPositions())
			for k := range ret[b][d] {
				ret[b][d][k] = x[dv.PosIndex(b, d, k)]
			}
		}
	}
	return ret, nil
}
