package gcs

import (
	"context"
	"os"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"go.viam.com/contactplan/contact"
	"go.viam.com/contactplan/logging"
	"go.viam.com/contactplan/solver"
	"go.viam.com/contactplan/spatialmath"
)

// VertexConfig is one vertex of a graph file. Exactly one of Point, Vertices, or H and HVec
// describes its set.
type VertexConfig struct {
	Name     string      `yaml:"name"`
	Point    []float64   `yaml:"point,omitempty"`
	Vertices [][]float64 `yaml:"vertices,omitempty"`
	H        [][]float64 `yaml:"H,omitempty"`
	HVec     []float64   `yaml:"h,omitempty"`
}

// EdgeConfig is one edge of a graph file.
type EdgeConfig struct {
	U      string `yaml:"u"`
	V      string `yaml:"v"`
	Suffix string `yaml:"suffix,omitempty"`
}

// GraphFile is the on-disk form of a graph of polyhedra. Every edge is charged the L1 distance
// between its endpoints' points, plus EdgeConstCost.
type GraphFile struct {
	Source        string         `yaml:"source"`
	Target        string         `yaml:"target"`
	EdgeConstCost float64        `yaml:"edge_const_cost,omitempty"`
	Vertices      []VertexConfig `yaml:"vertices"`
	Edges         []EdgeConfig   `yaml:"edges"`
}

func (vc VertexConfig) convexSet() (spatialmath.ConvexSet, error) {
	switch {
	case vc.Point != nil:
		return spatialmath.NewPoint(vc.Point), nil
	case vc.Vertices != nil:
		pts := make([]r2.Point, len(vc.Vertices))
		for i, p := range vc.Vertices {
			if len(p) != 2 {
				return nil, errors.Errorf("vertex %s: polygon point %d has %d coordinates", vc.Name, i, len(p))
			}
			pts[i] = r2.Point{X: p[0], Y: p[1]}
		}
		return spatialmath.PolyhedronFromVertices(pts)
	case vc.H != nil:
		if len(vc.H) == 0 || len(vc.H[0]) == 0 {
			return nil, errors.Wrap(spatialmath.ErrNoConstraints, vc.Name)
		}
		H := mat.NewDense(len(vc.H), len(vc.H[0]), nil)
		for i, row := range vc.H {
			if len(row) != len(vc.H[0]) {
				return nil, errors.Errorf("vertex %s: ragged H", vc.Name)
			}
			H.SetRow(i, row)
		}
		return spatialmath.NewPolyhedron(H, vc.HVec, false)
	}
	return nil, errors.Errorf("vertex %s has no set", vc.Name)
}

func vertexConfig(name string, set spatialmath.ConvexSet) (VertexConfig, error) {
	switch s := set.(type) {
	case *spatialmath.Point:
		return VertexConfig{Name: name, Point: s.X()}, nil
	case *spatialmath.Polyhedron:
		H, h := s.Halfspaces()
		rows, _ := H.Dims()
		vc := VertexConfig{Name: name, HVec: append([]float64{}, h...)}
		for i := 0; i < rows; i++ {
			vc.H = append(vc.H, mat.Row(nil, i, H))
		}
		return vc, nil
	}
	return VertexConfig{}, errors.Errorf("vertex %s: cannot save a %T", name, set)
}

// LoadFromFile reads a graph of polyhedra written by SaveToFile or by hand.
func LoadFromFile(path string, logger logging.Logger) (*Graph, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading graph %s", path)
	}
	var gf GraphFile
	if err := yaml.Unmarshal(data, &gf); err != nil {
		return nil, errors.Wrapf(err, "decoding graph %s", path)
	}
	return gf.Build(logger)
}

// Build constructs the graph described by the file.
func (gf *GraphFile) Build(logger logging.Logger) (*Graph, error) {
	g := NewGraph(nil, logger)
	for _, vc := range gf.Vertices {
		set, err := vc.convexSet()
		if err != nil {
			return nil, err
		}
		if err := g.AddVertex(&Vertex{ConvexSet: set}, vc.Name); err != nil {
			return nil, err
		}
	}
	for _, ec := range gf.Edges {
		u, err := g.Vertex(ec.U)
		if err != nil {
			return nil, err
		}
		v, err := g.Vertex(ec.V)
		if err != nil {
			return nil, err
		}
		if u.ConvexSet.Dim() != v.ConvexSet.Dim() {
			return nil, errors.Errorf("edge %s -> %s joins sets of dimension %d and %d", ec.U, ec.V, u.ConvexSet.Dim(), v.ConvexSet.Dim())
		}
		costs := ShortcutEdgeL1NormCost(u.ConvexSet.Dim(), false)
		if gf.EdgeConstCost != 0 {
			costs = append(costs, solver.LinearCost{A: make([]float64, 2*u.ConvexSet.Dim()), C: gf.EdgeConstCost})
		}
		if err := g.AddEdge(&Edge{U: ec.U, V: ec.V, KeySuffix: ec.Suffix, Costs: costs}); err != nil {
			return nil, err
		}
	}
	if gf.Source != "" {
		if err := g.SetSource(gf.Source); err != nil {
			return nil, err
		}
	}
	if gf.Target != "" {
		if err := g.SetTarget(gf.Target); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// SaveToFile writes the graph's sets and edges. Only points and polyhedra can be saved; costs are
// not saved.
func (g *Graph) SaveToFile(path string, edgeConstCost float64) error {
	gf := GraphFile{Source: g.source, Target: g.target, EdgeConstCost: edgeConstCost}
	for _, name := range g.vertexOrder {
		vc, err := vertexConfig(name, g.vertices[name].ConvexSet)
		if err != nil {
			return err
		}
		gf.Vertices = append(gf.Vertices, vc)
	}
	for _, key := range g.edgeOrder {
		gf.Edges = append(gf.Edges, EdgeConfig{U: key.U, V: key.V, Suffix: key.Suffix})
	}
	data, err := yaml.Marshal(&gf)
	if err != nil {
		return err
	}
	//nolint:gosec
	return os.WriteFile(path, data, 0o644)
}

// LoadContactGraphFromFile builds a contact graph from a scenario file. An incremental graph only
// holds the source and target until it is searched.
func LoadContactGraphFromFile(
	ctx context.Context,
	path string,
	opts ContactGraphOptions,
	incremental bool,
	logger logging.Logger,
) (*ContactGraph, error) {
	scenario, err := contact.LoadScenario(path)
	if err != nil {
		return nil, err
	}
	problem, err := ProblemFromScenario(scenario)
	if err != nil {
		return nil, err
	}
	if incremental {
		icg, err := NewIncrementalContactGraph(problem, opts, logger)
		if err != nil {
			return nil, err
		}
		return icg.ContactGraph, nil
	}
	return NewContactGraph(ctx, problem, opts, logger)
}
