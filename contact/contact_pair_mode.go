package contact

import (
	"fmt"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"go.viam.com/contactplan/symbolic"
)

// ModeKind says whether the features of a ContactPairMode touch.
type ModeKind int

const (
	// NoContact keeps the features separated.
	NoContact ModeKind = iota
	// InContact keeps the features touching and lets them exchange force.
	InContact
)

func (k ModeKind) String() string {
	if k == InContact {
		return "IC"
	}
	return "NC"
}

// ContactPairMode is the relation between one feature of body A and one feature of body B. A
// precedes B in scenario order (obstacles, objects, robots). At least one of the two features is a
// face; the first face found determines the contact normal.
type ContactPairMode struct {
	kind ModeKind
	a, b ContactLocation
	id   string

	nPos       int
	formulas   []symbolic.Formula
	base       []symbolic.Formula
	forceMagAB []symbolic.Variable
	forceMagBA []symbolic.Variable
}

// NewContactPairMode builds the constraints of `kind` between locations `a` and `b`.
func NewContactPairMode(kind ModeKind, a, b ContactLocation) (*ContactPairMode, error) {
	if a.Kind == VertexLocation && b.Kind == VertexLocation {
		return nil, errors.Errorf("vertex-vertex contact between %s and %s is not supported", a.ID(), b.ID())
	}
	if !a.Body.IsMovable() && !b.Body.IsMovable() {
		return nil, errors.Errorf("contact between two static bodies %s and %s", a.Body.Name(), b.Body.Name())
	}
	nPos := a.Body.NPosPoints()
	if !a.Body.IsMovable() {
		nPos = b.Body.NPosPoints()
	} else if b.Body.IsMovable() && b.Body.NPosPoints() != nPos {
		return nil, errors.Errorf("bodies %s and %s have different numbers of position points",
			a.Body.Name(), b.Body.Name())
	}

	m := &ContactPairMode{
		kind: kind,
		a:    a,
		b:    b,
		id:   fmt.Sprintf("%s|%s-%s", kind, a.ID(), b.ID()),
		nPos: nPos,
	}
	if kind == InContact {
		m.forceMagAB = symbolic.NewVariables(m.id+"_force_mag_AB", nPos-1)
		m.forceMagBA = symbolic.NewVariables(m.id+"_force_mag_BA", nPos-1)
	}
	for k := 0; k < nPos; k++ {
		geometric := m.geometricConstraints(k)
		m.formulas = append(m.formulas, geometric...)
		if k == 0 {
			m.base = geometric
		}
	}
	for k := 0; k < nPos-1 && kind == InContact; k++ {
		m.formulas = append(m.formulas,
			symbolic.Ge(symbolic.Var(m.forceMagAB[k]), symbolic.Const(0)),
			symbolic.Ge(symbolic.Var(m.forceMagBA[k]), symbolic.Const(0)),
		)
	}
	return m, nil
}

// face returns the body owning the contact face, the face index and the other body.
func (m *ContactPairMode) face() (faceBody *RigidBody, face int, other ContactLocation, faceOnA bool) {
	if m.a.Kind == FaceLocation {
		return m.a.Body, m.a.Index, m.b, true
	}
	return m.b.Body, m.b.Index, m.a, false
}

// along is dir·(X_other + offset - X_face) at sample k.
func along(dir r2.Point, faceBody, other *RigidBody, offset r2.Point, k int) symbolic.Expression {
	ret := symbolic.Const(dir.Dot(offset))
	coords := [Dim]float64{dir.X, dir.Y}
	for d, c := range coords {
		if c == 0 {
			continue
		}
		ret = ret.Add(other.PositionExpr(d, k).Sub(faceBody.PositionExpr(d, k)).Scale(c))
	}
	return ret
}

func (m *ContactPairMode) geometricConstraints(k int) []symbolic.Formula {
	faceBody, face, other, _ := m.face()
	start, end := faceBody.Face(face)
	normal := faceBody.FaceNormal(face)
	tangent := end.Sub(start).Normalize()
	length := end.Sub(start).Norm()

	// upper and lower are the other feature's extreme points along the tangent. Antiparallel
	// faces overlap when upper is past the start of this face and lower is before its end.
	var upper, lower r2.Point
	if other.Kind == FaceLocation {
		upper, lower = other.Body.Face(other.Index)
		upper, lower = upper.Sub(start), lower.Sub(start)
	} else {
		upper = other.Body.Vertex(other.Index).Sub(start)
		lower = upper
	}

	zero := symbolic.Const(0)
	signedDist := along(normal, faceBody, other.Body, upper, k)
	if m.kind == NoContact {
		return []symbolic.Formula{symbolic.Ge(signedDist, zero)}
	}
	return []symbolic.Formula{
		symbolic.Equal(signedDist, zero),
		symbolic.Ge(along(tangent, faceBody, other.Body, upper, k), zero),
		symbolic.Le(along(tangent, faceBody, other.Body, lower, k), symbolic.Const(length)),
	}
}

// ID renders the mode as `<IC|NC>|<location A>-<location B>`.
func (m *ContactPairMode) ID() string {
	return m.id
}

// Kind returns whether the mode is in contact.
func (m *ContactPairMode) Kind() ModeKind {
	return m.kind
}

// Locations returns the features of body A and body B.
func (m *ContactPairMode) Locations() (ContactLocation, ContactLocation) {
	return m.a, m.b
}

// BodyA returns the first body of the pair.
func (m *ContactPairMode) BodyA() *RigidBody {
	return m.a.Body
}

// BodyB returns the second body of the pair.
func (m *ContactPairMode) BodyB() *RigidBody {
	return m.b.Body
}

// Involves reports whether the named body is part of the pair.
func (m *ContactPairMode) Involves(name string) bool {
	return m.a.Body.Name() == name || m.b.Body.Name() == name
}

// ConstraintFormulas are the mode's constraints at every position sample plus the force sign
// constraints.
func (m *ContactPairMode) ConstraintFormulas() []symbolic.Formula {
	return m.formulas
}

// BaseConstraintFormulas are the geometric constraints at the first position sample only.
func (m *ContactPairMode) BaseConstraintFormulas() []symbolic.Formula {
	return m.base
}

// ForceMagAB returns the per-step magnitude of the force A applies to B. It is nil when not in
// contact.
func (m *ContactPairMode) ForceMagAB() []symbolic.Variable {
	return m.forceMagAB
}

// ForceMagBA returns the per-step magnitude of the force B applies to A.
func (m *ContactPairMode) ForceMagBA() []symbolic.Variable {
	return m.forceMagBA
}

// ForceOn returns the contact force this mode applies to `body` at `step`. ok is false when the mode
// is not in contact or does not involve the body.
func (m *ContactPairMode) ForceOn(body *RigidBody, step int) (force [Dim]symbolic.Expression, ok bool) {
	if m.kind != InContact || (body != m.a.Body && body != m.b.Body) {
		return force, false
	}
	faceBody, face, _, faceOnA := m.face()
	n := faceBody.FaceNormal(face)

	// The face normal points from the face's body toward the other body.
	var mag symbolic.Variable
	sign := 1.0
	if body == m.a.Body {
		mag = m.forceMagBA[step]
		if faceOnA {
			sign = -1
		}
	} else {
		mag = m.forceMagAB[step]
		if !faceOnA {
			sign = -1
		}
	}
	force[0] = symbolic.Var(mag).Scale(sign * n.X)
	force[1] = symbolic.Var(mag).Scale(sign * n.Y)
	return force, true
}

// GenerateContactPairModes enumerates the modes between two bodies. For each face of either body
// the other body's support feature against that face is a candidate contact location; every
// location pair yields a no-contact and an in-contact mode.
func GenerateContactPairModes(a, b *RigidBody) ([]*ContactPairMode, error) {
	type locationPair struct{ a, b ContactLocation }
	var pairs []locationPair
	seen := func(p locationPair) bool {
		for _, q := range pairs {
			if q.a.sameFeature(p.a) && q.b.sameFeature(p.b) {
				return true
			}
		}
		return false
	}

	for f := 0; f < a.NumVertices(); f++ {
		p := locationPair{
			a: ContactLocation{Body: a, Kind: FaceLocation, Index: f},
			b: b.supportFeature(a.FaceNormal(f).Mul(-1)),
		}
		if !seen(p) {
			pairs = append(pairs, p)
		}
	}
	for g := 0; g < b.NumVertices(); g++ {
		p := locationPair{
			a: a.supportFeature(b.FaceNormal(g).Mul(-1)),
			b: ContactLocation{Body: b, Kind: FaceLocation, Index: g},
		}
		if !seen(p) {
			pairs = append(pairs, p)
		}
	}

	modes := make([]*ContactPairMode, 0, 2*len(pairs))
	for _, p := range pairs {
		for _, kind := range []ModeKind{NoContact, InContact} {
			m, err := NewContactPairMode(kind, p.a, p.b)
			if err != nil {
				return nil, err
			}
			modes = append(modes, m)
		}
	}
	return modes, nil
}
