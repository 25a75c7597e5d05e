package contact

import (
	"fmt"
	"os"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"go.viam.com/contactplan/symbolic"
)

// BodyConfig describes one polygon in a scenario file.
type BodyConfig struct {
	Vertices [][]float64 `yaml:"vertices"`
	// Only used by obstacles.
	Position []float64 `yaml:"position,omitempty"`
}

// Scenario is the on-disk description of a planar pushing problem.
type Scenario struct {
	NPosPoints   int          `yaml:"n_pos_points"`
	Obstacles    []BodyConfig `yaml:"obstacles"`
	Objects      []BodyConfig `yaml:"objects"`
	Robots       []BodyConfig `yaml:"robots"`
	SourceObjPos [][]float64  `yaml:"source_obj_pos"`
	SourceRobPos [][]float64  `yaml:"source_rob_pos"`
	TargetObjPos [][]float64  `yaml:"target_obj_pos"`
	TargetRobPos [][]float64  `yaml:"target_rob_pos"`
	// Workspace optionally bounds every movable body's position, one [min, max] per dimension.
	Workspace [][]float64 `yaml:"workspace,omitempty"`
}

// LoadScenario reads a scenario from a YAML file.
func LoadScenario(path string) (*Scenario, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading scenario %s", path)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a YAML scenario.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrap(err, "decoding scenario")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Marshal encodes the scenario as YAML.
func (s *Scenario) Marshal() ([]byte, error) {
	return yaml.Marshal(s)
}

func checkPoints(field string, pts [][]float64) error {
	var err error
	for i, p := range pts {
		if len(p) != Dim {
			err = multierr.Append(err, errors.Errorf("%s[%d] has %d coordinates, want %d", field, i, len(p), Dim))
		}
	}
	return err
}

// Validate reports every problem with the scenario at once.
func (s *Scenario) Validate() error {
	var err error
	if s.NPosPoints < 2 {
		err = multierr.Append(err, errors.Errorf("n_pos_points must be at least 2, got %d", s.NPosPoints))
	}
	if len(s.Robots) == 0 {
		err = multierr.Append(err, errors.New("scenario needs at least one robot"))
	}
	for i, b := range s.Obstacles {
		err = multierr.Append(err, checkPoints(fmt.Sprintf("obstacles[%d].vertices", i), b.Vertices))
		if len(b.Position) != Dim {
			err = multierr.Append(err, errors.Errorf("obstacles[%d].position has %d coordinates, want %d", i, len(b.Position), Dim))
		}
	}
	for i, b := range s.Objects {
		err = multierr.Append(err, checkPoints(fmt.Sprintf("objects[%d].vertices", i), b.Vertices))
	}
	for i, b := range s.Robots {
		err = multierr.Append(err, checkPoints(fmt.Sprintf("robots[%d].vertices", i), b.Vertices))
	}
	positions := []struct {
		field string
		pts   [][]float64
		want  int
	}{
		{"source_obj_pos", s.SourceObjPos, len(s.Objects)},
		{"source_rob_pos", s.SourceRobPos, len(s.Robots)},
		{"target_obj_pos", s.TargetObjPos, len(s.Objects)},
		{"target_rob_pos", s.TargetRobPos, len(s.Robots)},
	}
	for _, p := range positions {
		if len(p.pts) != p.want {
			err = multierr.Append(err, errors.Errorf("%s has %d entries, want %d", p.field, len(p.pts), p.want))
		}
		err = multierr.Append(err, checkPoints(p.field, p.pts))
	}
	if s.Workspace != nil {
		if len(s.Workspace) != Dim {
			err = multierr.Append(err, errors.Errorf("workspace has %d dimensions, want %d", len(s.Workspace), Dim))
		}
		for d, lim := range s.Workspace {
			if len(lim) != 2 || lim[0] > lim[1] {
				err = multierr.Append(err, errors.Errorf("workspace[%d] must be [min, max]", d))
			}
		}
	}
	return err
}

// Bodies is the set of bodies of a scenario in canonical order.
type Bodies struct {
	Obstacles []*RigidBody
	Objects   []*RigidBody
	Robots    []*RigidBody
}

// All returns obstacles, objects then robots.
func (b *Bodies) All() []*RigidBody {
	ret := append([]*RigidBody{}, b.Obstacles...)
	ret = append(ret, b.Objects...)
	return append(ret, b.Robots...)
}

// Movable returns objects then robots.
func (b *Bodies) Movable() []*RigidBody {
	return append(append([]*RigidBody{}, b.Objects...), b.Robots...)
}

// Pairs returns every body pair (A, B) with A before B in canonical order, except pairs of two
// obstacles.
func (b *Bodies) Pairs() [][2]*RigidBody {
	all := b.All()
	var pairs [][2]*RigidBody
	for i := range all {
		for j := i + 1; j < len(all); j++ {
			if !all[i].IsMovable() && !all[j].IsMovable() {
				continue
			}
			pairs = append(pairs, [2]*RigidBody{all[i], all[j]})
		}
	}
	return pairs
}

func toPoint(p []float64) r2.Point {
	return r2.Point{X: p[0], Y: p[1]}
}

func toPoints(pts [][]float64) []r2.Point {
	ret := make([]r2.Point, len(pts))
	for i, p := range pts {
		ret[i] = toPoint(p)
	}
	return ret
}

// Bodies builds the scenario's rigid bodies, named obs<i>, obj<i> and rob<i>.
func (s *Scenario) Bodies() (*Bodies, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	ret := &Bodies{}
	for i, cfg := range s.Obstacles {
		body, err := NewRigidBody(fmt.Sprintf("obs%d", i), Static, toPoints(cfg.Vertices), s.NPosPoints, toPoint(cfg.Position))
		if err != nil {
			return nil, err
		}
		ret.Obstacles = append(ret.Obstacles, body)
	}
	for i, cfg := range s.Objects {
		body, err := NewRigidBody(fmt.Sprintf("obj%d", i), Unactuated, toPoints(cfg.Vertices), s.NPosPoints, r2.Point{})
		if err != nil {
			return nil, err
		}
		ret.Objects = append(ret.Objects, body)
	}
	for i, cfg := range s.Robots {
		body, err := NewRigidBody(fmt.Sprintf("rob%d", i), Actuated, toPoints(cfg.Vertices), s.NPosPoints, r2.Point{})
		if err != nil {
			return nil, err
		}
		ret.Robots = append(ret.Robots, body)
	}
	return ret, nil
}

// SourcePositions returns the start positions of objects and robots.
func (s *Scenario) SourcePositions() ([]r2.Point, []r2.Point) {
	return toPoints(s.SourceObjPos), toPoints(s.SourceRobPos)
}

// TargetPositions returns the goal positions of objects and robots.
func (s *Scenario) TargetPositions() ([]r2.Point, []r2.Point) {
	return toPoints(s.TargetObjPos), toPoints(s.TargetRobPos)
}

// WorkspaceConstraints bounds every position sample of the movable bodies by the workspace. It
// is empty when the scenario has no workspace.
func (s *Scenario) WorkspaceConstraints(bodies []*RigidBody) []symbolic.Formula {
	return WorkspaceConstraints(s.Workspace, bodies)
}

// WorkspaceConstraints bounds every position sample of `bodies` by one [min, max] per dimension.
func WorkspaceConstraints(workspace [][]float64, bodies []*RigidBody) []symbolic.Formula {
	var formulas []symbolic.Formula
	for _, body := range bodies {
		for d, lim := range workspace {
			for _, v := range body.PosVars()[d] {
				formulas = append(formulas,
					symbolic.Ge(symbolic.Var(v), symbolic.Const(lim[0])),
					symbolic.Le(symbolic.Var(v), symbolic.Const(lim[1])),
				)
			}
		}
	}
	return formulas
}
