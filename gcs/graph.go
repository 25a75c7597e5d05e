// Package gcs implements graphs of convex sets: directed graphs whose vertices are convex regions
// and whose edges carry costs and constraints over the variables of both endpoints. A graph can be
// solved as a shortest path problem, either as a whole or restricted to one fixed path.
package gcs

import (
	"context"
	"fmt"
	"slices"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/contactplan/contact"
	"go.viam.com/contactplan/logging"
	"go.viam.com/contactplan/solver"
	"go.viam.com/contactplan/spatialmath"
	"go.viam.com/contactplan/utils"
)

var (
	// ErrVertexNotFound is returned when a vertex name is not in the graph.
	ErrVertexNotFound = errors.New("vertex not found")
	// ErrDuplicateVertex is returned when adding a vertex whose name is taken.
	ErrDuplicateVertex = errors.New("vertex already exists")
	// ErrEdgeNotFound is returned when an edge key is not in the graph.
	ErrEdgeNotFound = errors.New("edge not found")
	// ErrDuplicateEdge is returned when adding an edge whose key is taken.
	ErrDuplicateEdge = errors.New("edge already exists")
	// ErrNotAPath is returned when edge keys given to a restriction do not chain.
	ErrNotAPath = errors.New("edges do not form a path")
)

const maxBranchNodesEnv = "GCS_MAX_BRANCH_NODES"

// EdgeKey identifies an edge. Suffix tells apart edges between the same endpoints.
type EdgeKey struct {
	U      string
	V      string
	Suffix string
}

func (k EdgeKey) String() string {
	if k.Suffix == "" {
		return fmt.Sprintf("(%s, %s)", k.U, k.V)
	}
	return fmt.Sprintf("(%s, %s, %s)", k.U, k.V, k.Suffix)
}

// Vertex wraps a convex set with costs and constraints over the set's variables.
type Vertex struct {
	ConvexSet   spatialmath.ConvexSet
	Costs       []solver.Cost
	Constraints []solver.LinearConstraint
}

// Edge connects vertex U to vertex V. Its costs and constraints are over the concatenation of U's
// and V's variables.
type Edge struct {
	U           string
	V           string
	KeySuffix   string
	Costs       []solver.Cost
	Constraints []solver.LinearConstraint
}

// Key returns the edge's key.
func (e *Edge) Key() EdgeKey {
	return EdgeKey{U: e.U, V: e.V, Suffix: e.KeySuffix}
}

// DefaultCostsConstraints are applied to vertices and edges added without their own.
type DefaultCostsConstraints struct {
	VertexCosts       []solver.Cost
	VertexConstraints []solver.LinearConstraint
	EdgeCosts         []solver.Cost
	EdgeConstraints   []solver.LinearConstraint
}

// NeighborGenerator is implemented by graphs whose vertices are created on demand. Generating the
// neighbors of a vertex adds them and the edges into them to the graph.
type NeighborGenerator interface {
	GenerateNeighbors(ctx context.Context, vertex string) error
}

// Graph is a mutable directed graph of convex sets. A Graph must not be used by two searches at
// once.
type Graph struct {
	logger   logging.Logger
	solver   solver.Solver
	defaults DefaultCostsConstraints

	vertices    map[string]*Vertex
	vertexOrder []string
	edges       map[EdgeKey]*Edge
	edgeOrder   []EdgeKey

	source string
	target string

	generator NeighborGenerator
}

// NewGraph returns an empty graph. `defaults` may be nil.
func NewGraph(defaults *DefaultCostsConstraints, logger logging.Logger) *Graph {
	lpSolver := solver.NewLPSolver(logger)
	lpSolver.MaxBranchNodes = utils.GetenvInt(maxBranchNodesEnv, solver.DefaultMaxBranchNodes, logger)
	g := &Graph{
		logger:   logger,
		solver:   lpSolver,
		vertices: map[string]*Vertex{},
		edges:    map[EdgeKey]*Edge{},
	}
	if defaults != nil {
		g.defaults = *defaults
	}
	return g
}

// SetSolver replaces the convex program solver.
func (g *Graph) SetSolver(s solver.Solver) {
	g.solver = s
}

// SetNeighborGenerator makes the graph expand vertices lazily through `gen`.
func (g *Graph) SetNeighborGenerator(gen NeighborGenerator) {
	g.generator = gen
}

// Logger returns the graph's logger.
func (g *Graph) Logger() logging.Logger {
	return g.logger
}

// DefaultCostsConstraints returns the graph's defaults.
func (g *Graph) DefaultCostsConstraints() DefaultCostsConstraints {
	return g.defaults
}

// AddVertex adds `v` under `name`. A vertex without costs or constraints gets the defaults.
func (g *Graph) AddVertex(v *Vertex, name string) error {
	if _, ok := g.vertices[name]; ok {
		return errors.Wrap(ErrDuplicateVertex, name)
	}
	if v.Costs == nil {
		v.Costs = g.defaults.VertexCosts
	}
	if v.Constraints == nil {
		v.Constraints = g.defaults.VertexConstraints
	}
	g.vertices[name] = v
	g.vertexOrder = append(g.vertexOrder, name)
	return nil
}

// AddVertices adds vertices pairwise with names.
func (g *Graph) AddVertices(vs []*Vertex, names []string) error {
	if len(vs) != len(names) {
		return errors.Errorf("%d vertices but %d names", len(vs), len(names))
	}
	for i, v := range vs {
		if err := g.AddVertex(v, names[i]); err != nil {
			return err
		}
	}
	return nil
}

// RemoveVertex removes a vertex and every edge incident to it.
func (g *Graph) RemoveVertex(name string) error {
	if _, ok := g.vertices[name]; !ok {
		return errors.Wrap(ErrVertexNotFound, name)
	}
	for _, key := range slices.Clone(g.edgeOrder) {
		if key.U == name || key.V == name {
			g.removeEdge(key)
		}
	}
	delete(g.vertices, name)
	g.vertexOrder = slices.DeleteFunc(g.vertexOrder, func(n string) bool { return n == name })
	if g.source == name {
		g.source = ""
	}
	if g.target == name {
		g.target = ""
	}
	return nil
}

// AddEdge adds `e`. Both endpoints must exist. An edge without costs or constraints gets the
// defaults.
func (g *Graph) AddEdge(e *Edge) error {
	if _, ok := g.vertices[e.U]; !ok {
		return errors.Wrapf(ErrVertexNotFound, "edge %s source %s", e.Key(), e.U)
	}
	if _, ok := g.vertices[e.V]; !ok {
		return errors.Wrapf(ErrVertexNotFound, "edge %s target %s", e.Key(), e.V)
	}
	key := e.Key()
	if _, ok := g.edges[key]; ok {
		return errors.Wrap(ErrDuplicateEdge, key.String())
	}
	if e.Costs == nil {
		e.Costs = g.defaults.EdgeCosts
	}
	if e.Constraints == nil {
		e.Constraints = g.defaults.EdgeConstraints
	}
	g.edges[key] = e
	g.edgeOrder = append(g.edgeOrder, key)
	return nil
}

// AddEdges adds every edge in order.
func (g *Graph) AddEdges(edges []*Edge) error {
	for _, e := range edges {
		if err := g.AddEdge(e); err != nil {
			return err
		}
	}
	return nil
}

// RemoveEdge removes the edge with `key`.
func (g *Graph) RemoveEdge(key EdgeKey) error {
	if _, ok := g.edges[key]; !ok {
		return errors.Wrap(ErrEdgeNotFound, key.String())
	}
	g.removeEdge(key)
	return nil
}

func (g *Graph) removeEdge(key EdgeKey) {
	delete(g.edges, key)
	g.edgeOrder = slices.DeleteFunc(g.edgeOrder, func(k EdgeKey) bool { return k == key })
}

// SetSource marks `name` as the source vertex.
func (g *Graph) SetSource(name string) error {
	if _, ok := g.vertices[name]; !ok {
		return errors.Wrap(ErrVertexNotFound, name)
	}
	g.source = name
	return nil
}

// SetTarget marks `name` as the target vertex.
func (g *Graph) SetTarget(name string) error {
	if _, ok := g.vertices[name]; !ok {
		return errors.Wrap(ErrVertexNotFound, name)
	}
	g.target = name
	return nil
}

// Source returns the source vertex name.
func (g *Graph) Source() string {
	return g.source
}

// Target returns the target vertex name.
func (g *Graph) Target() string {
	return g.target
}

// Vertex returns the vertex called `name`.
func (g *Graph) Vertex(name string) (*Vertex, error) {
	v, ok := g.vertices[name]
	if !ok {
		return nil, errors.Wrap(ErrVertexNotFound, name)
	}
	return v, nil
}

// Edge returns the edge with `key`.
func (g *Graph) Edge(key EdgeKey) (*Edge, error) {
	e, ok := g.edges[key]
	if !ok {
		return nil, errors.Wrap(ErrEdgeNotFound, key.String())
	}
	return e, nil
}

// HasVertex reports whether `name` is in the graph.
func (g *Graph) HasVertex(name string) bool {
	_, ok := g.vertices[name]
	return ok
}

// HasEdge reports whether `key` is in the graph.
func (g *Graph) HasEdge(key EdgeKey) bool {
	_, ok := g.edges[key]
	return ok
}

// VertexNames returns vertex names in insertion order.
func (g *Graph) VertexNames() []string {
	return slices.Clone(g.vertexOrder)
}

// EdgeKeys returns edge keys in insertion order.
func (g *Graph) EdgeKeys() []EdgeKey {
	return slices.Clone(g.edgeOrder)
}

// NumVertices returns the number of vertices.
func (g *Graph) NumVertices() int {
	return len(g.vertices)
}

// NumEdges returns the number of edges.
func (g *Graph) NumEdges() int {
	return len(g.edges)
}

// OutgoingEdges returns the edges leaving `name` in insertion order.
func (g *Graph) OutgoingEdges(name string) []*Edge {
	return lo.FilterMap(g.edgeOrder, func(k EdgeKey, _ int) (*Edge, bool) {
		return g.edges[k], k.U == name
	})
}

// IncomingEdges returns the edges entering `name` in insertion order.
func (g *Graph) IncomingEdges(name string) []*Edge {
	return lo.FilterMap(g.edgeOrder, func(k EdgeKey, _ int) (*Edge, bool) {
		return g.edges[k], k.V == name
	})
}

// Successors returns the distinct heads of the edges leaving `name`.
func (g *Graph) Successors(name string) []string {
	return lo.Uniq(lo.Map(g.OutgoingEdges(name), func(e *Edge, _ int) string { return e.V }))
}

// ExpandNeighbors generates the neighbors of `name` if the graph is lazily built, then returns the
// edges leaving it.
func (g *Graph) ExpandNeighbors(ctx context.Context, name string) ([]*Edge, error) {
	if _, ok := g.vertices[name]; !ok {
		return nil, errors.Wrap(ErrVertexNotFound, name)
	}
	if g.generator != nil {
		if err := g.generator.GenerateNeighbors(ctx, name); err != nil {
			return nil, errors.Wrapf(err, "generating neighbors of %s", name)
		}
	}
	return g.OutgoingEdges(name), nil
}

// NumModesNotAdjToTarget counts the contact modes of `name` that appear in no vertex with an edge
// into the target. Vertices whose names are not mode tuples count zero.
func (g *Graph) NumModesNotAdjToTarget(name string) int {
	modes, err := contact.ParseVertexName(name)
	if err != nil {
		return 0
	}
	adjacent := map[string]bool{}
	for _, e := range g.IncomingEdges(g.target) {
		ids, err := contact.ParseVertexName(e.U)
		if err != nil {
			continue
		}
		for _, id := range ids {
			adjacent[id] = true
		}
	}
	return lo.CountBy(modes, func(id string) bool { return !adjacent[id] })
}
