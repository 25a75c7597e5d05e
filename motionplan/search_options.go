package motionplan

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// ReexploreLevel controls whether a search may expand a vertex again after reaching it by a
// cheaper path.
type ReexploreLevel int

const (
	// ReexploreNone expands every vertex at most once.
	ReexploreNone ReexploreLevel = iota
	// ReexploreFull expands a vertex again whenever a cheaper path to it is found.
	ReexploreFull
)

func (l ReexploreLevel) String() string {
	switch l {
	case ReexploreNone:
		return "NONE"
	case ReexploreFull:
		return "FULL"
	}
	return "UNKNOWN"
}

// ParseReexploreLevel reads NONE or FULL, in any case.
func ParseReexploreLevel(s string) (ReexploreLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "NONE":
		return ReexploreNone, nil
	case "FULL":
		return ReexploreFull, nil
	}
	return ReexploreNone, errors.Errorf("unknown reexplore level %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (l ReexploreLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *ReexploreLevel) UnmarshalText(text []byte) error {
	parsed, err := ParseReexploreLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// default values for search options.
const (
	// Log search progress every this many expansions.
	defaultLogInterval = 100

	// Unlimited.
	defaultMaxIterations = 0
)

// SearchOptions configures a graph search.
type SearchOptions struct {
	ReexploreLevel ReexploreLevel `json:"reexplore_level" yaml:"reexplore_level"`

	// Estimate neighbors by solving the path through them rather than the whole graph. Searches
	// that always solve the path ignore this.
	SolveConvexRestriction bool `json:"solve_convex_restriction" yaml:"solve_convex_restriction"`

	// When solving the whole graph, solve its convex relaxation.
	UseConvexRelaxation bool `json:"use_convex_relaxation" yaml:"use_convex_relaxation"`

	// Stop after this many iterations of the search loop. Zero is unlimited.
	MaxIterations int `json:"max_iterations" yaml:"max_iterations"`

	// Log progress every this many expansions. Zero disables progress logs.
	LogInterval int `json:"log_interval" yaml:"log_interval"`
}

// NewBasicSearchOptions returns the default search options.
func NewBasicSearchOptions() *SearchOptions {
	return &SearchOptions{
		ReexploreLevel:         ReexploreNone,
		SolveConvexRestriction: true,
		MaxIterations:          defaultMaxIterations,
		LogInterval:            defaultLogInterval,
	}
}

// NewSearchOptionsFromExtra returns the default options updated by the entries of `extra`, keyed
// by the options' json names.
func NewSearchOptionsFromExtra(extra map[string]interface{}) (*SearchOptions, error) {
	opt := NewBasicSearchOptions()

	jsonString, err := json.Marshal(extra)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(jsonString, opt); err != nil {
		return nil, err
	}

	if opt.MaxIterations < 0 {
		return nil, errors.New("max_iterations can't be negative")
	}
	if opt.LogInterval < 0 {
		return nil, errors.New("log_interval can't be negative")
	}
	return opt, nil
}
