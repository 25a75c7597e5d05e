package contact

import (
	"fmt"
)

// LocationKind is the kind of surface feature a contact happens at.
type LocationKind int

const (
	// VertexLocation is a corner of the polygon.
	VertexLocation LocationKind = iota
	// FaceLocation is an edge of the polygon.
	FaceLocation
)

// ContactLocation is one surface feature of a body.
type ContactLocation struct {
	Body  *RigidBody
	Kind  LocationKind
	Index int
}

// ID renders the location as `<body>_v<i>` or `<body>_f<i>`.
func (l ContactLocation) ID() string {
	kind := "v"
	if l.Kind == FaceLocation {
		kind = "f"
	}
	return fmt.Sprintf("%s_%s%d", l.Body.Name(), kind, l.Index)
}

func (l ContactLocation) sameFeature(o ContactLocation) bool {
	return l.Body == o.Body && l.Kind == o.Kind && l.Index == o.Index
}
