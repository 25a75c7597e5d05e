// Package contact builds the convex regions that describe planar rigid bodies touching or
// separated from each other. A contact mode fixes, for one pair of bodies, which surface features
// are involved and whether they are in contact; a ContactSet is the polyhedron of positions and
// forces consistent with one mode per body pair.
package contact

import (
	"fmt"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"go.viam.com/contactplan/spatialmath"
	"go.viam.com/contactplan/symbolic"
)

// Dim is the spatial dimension bodies move in.
const Dim = 2

// MobilityType describes how a body moves.
type MobilityType int

const (
	// Static bodies are fixed obstacles with no decision variables.
	Static MobilityType = iota
	// Unactuated bodies only move when pushed.
	Unactuated
	// Actuated bodies apply their own force.
	Actuated
)

func (m MobilityType) String() string {
	switch m {
	case Static:
		return "static"
	case Unactuated:
		return "unactuated"
	case Actuated:
		return "actuated"
	}
	return fmt.Sprintf("MobilityType(%d)", int(m))
}

// RigidBody is a convex polygon that translates without rotating. Its vertices are stored
// counter-clockwise relative to the body's reference point; face i runs from vertex i to vertex
// i+1. A RigidBody is immutable once built.
type RigidBody struct {
	name       string
	mobility   MobilityType
	vertices   []r2.Point
	nPosPoints int
	position   r2.Point

	// indexed [dim][sample] and [dim][step]
	pos      [][]symbolic.Variable
	forceRes [][]symbolic.Variable
	forceAct [][]symbolic.Variable
}

// NewRigidBody builds a body from the convex hull of `vertices`. `position` is only used by
// static bodies. Movable bodies get `nPosPoints` position samples per contact set.
func NewRigidBody(name string, mobility MobilityType, vertices []r2.Point, nPosPoints int, position r2.Point) (*RigidBody, error) {
	hull := spatialmath.ConvexHull(vertices)
	if len(hull) < 3 {
		return nil, errors.Errorf("body %q needs at least 3 non-collinear vertices", name)
	}
	if mobility != Static && nPosPoints < 2 {
		return nil, errors.Errorf("body %q needs at least 2 position points, got %d", name, nPosPoints)
	}
	b := &RigidBody{
		name:       name,
		mobility:   mobility,
		vertices:   hull,
		nPosPoints: nPosPoints,
		position:   position,
	}
	if mobility == Static {
		return b, nil
	}
	b.pos = make([][]symbolic.Variable, Dim)
	b.forceRes = make([][]symbolic.Variable, Dim)
	for d := 0; d < Dim; d++ {
		b.pos[d] = symbolic.NewVariables(fmt.Sprintf("%s_pos%d", name, d), nPosPoints)
		b.forceRes[d] = symbolic.NewVariables(fmt.Sprintf("%s_force_res%d", name, d), nPosPoints-1)
	}
	if mobility == Actuated {
		b.forceAct = make([][]symbolic.Variable, Dim)
		for d := 0; d < Dim; d++ {
			b.forceAct[d] = symbolic.NewVariables(fmt.Sprintf("%s_force_act%d", name, d), nPosPoints-1)
		}
	}
	return b, nil
}

// WithMobility returns a copy of the body with a different mobility and fresh decision variables.
func (b *RigidBody) WithMobility(mobility MobilityType) (*RigidBody, error) {
	return NewRigidBody(b.name, mobility, b.vertices, b.nPosPoints, b.position)
}

// Name returns the body's name, e.g. obj0.
func (b *RigidBody) Name() string {
	return b.name
}

// Mobility returns how the body moves.
func (b *RigidBody) Mobility() MobilityType {
	return b.mobility
}

// IsMovable reports whether the body has position variables.
func (b *RigidBody) IsMovable() bool {
	return b.mobility != Static
}

// NPosPoints returns the number of position samples per contact set.
func (b *RigidBody) NPosPoints() int {
	return b.nPosPoints
}

// Position returns the fixed position of a static body.
func (b *RigidBody) Position() r2.Point {
	return b.position
}

// Vertices returns the body's vertices relative to its reference point.
func (b *RigidBody) Vertices() []r2.Point {
	return append([]r2.Point{}, b.vertices...)
}

// NumVertices is also the number of faces.
func (b *RigidBody) NumVertices() int {
	return len(b.vertices)
}

// Vertex returns vertex i relative to the reference point.
func (b *RigidBody) Vertex(i int) r2.Point {
	return b.vertices[i%len(b.vertices)]
}

// Face returns the endpoints of face i.
func (b *RigidBody) Face(i int) (r2.Point, r2.Point) {
	return b.Vertex(i), b.Vertex(i + 1)
}

// FaceNormal returns the outward unit normal of face i.
func (b *RigidBody) FaceNormal(i int) r2.Point {
	start, end := b.Face(i)
	return spatialmath.OutwardNormal(start, end)
}

// PosVars returns the position variables indexed [dim][sample]. It is nil for static bodies.
func (b *RigidBody) PosVars() [][]symbolic.Variable {
	return b.pos
}

// ForceResVars returns the residual force variables indexed [dim][step].
func (b *RigidBody) ForceResVars() [][]symbolic.Variable {
	return b.forceRes
}

// ForceActVars returns the actuation force variables indexed [dim][step]. It is nil unless the
// body is actuated.
func (b *RigidBody) ForceActVars() [][]symbolic.Variable {
	return b.forceAct
}

// PositionExpr is the body's reference point coordinate `dim` at position sample `k`.
func (b *RigidBody) PositionExpr(dim, k int) symbolic.Expression {
	if b.mobility == Static {
		if dim == 0 {
			return symbolic.Const(b.position.X)
		}
		return symbolic.Const(b.position.Y)
	}
	return symbolic.Var(b.pos[dim][k])
}

// supportFeature returns the location of the body that is extreme in direction `dir`: a single
// vertex, or the face between two vertices that tie.
func (b *RigidBody) supportFeature(dir r2.Point) ContactLocation {
	const tieTol = 1e-9
	best := 0
	for i := 1; i < len(b.vertices); i++ {
		if b.vertices[i].Dot(dir) > b.vertices[best].Dot(dir)+tieTol {
			best = i
		}
	}
	var ties []int
	for i, v := range b.vertices {
		if v.Dot(dir) >= b.vertices[best].Dot(dir)-tieTol {
			ties = append(ties, i)
		}
	}
	if len(ties) == 2 {
		n := len(b.vertices)
		// the face whose endpoints are both extreme
		if (ties[0]+1)%n == ties[1] {
			return ContactLocation{Body: b, Kind: FaceLocation, Index: ties[0]}
		}
		if (ties[1]+1)%n == ties[0] {
			return ContactLocation{Body: b, Kind: FaceLocation, Index: ties[1]}
		}
	}
	return ContactLocation{Body: b, Kind: VertexLocation, Index: ties[0]}
}
