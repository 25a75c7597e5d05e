// Package solver solves the convex programs issued by the graph searches and the polyhedral
// geometry helpers. The bundled backend handles linear programs, including L1-norm costs and
// binary variables.
package solver

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrUnsupportedCost is returned when a program carries a cost the backend cannot represent.
	ErrUnsupportedCost = errors.New("cost type not supported by solver")
	// ErrUnbounded is returned when the objective is unbounded below.
	ErrUnbounded = errors.New("program is unbounded")
	// ErrInfeasible is returned by the polytope helpers when their region is empty.
	ErrInfeasible = errors.New("program is infeasible")
	// ErrBranchLimit is returned when branch and bound exhausts its node budget without an incumbent.
	ErrBranchLimit = errors.New("branch and bound node limit reached")
)

// Result is the outcome of a solve. An infeasible program is a result, not an error.
type Result struct {
	Feasible bool
	Cost     float64
	X        []float64
	Time     time.Duration
}

// Solver solves Programs.
type Solver interface {
	Solve(ctx context.Context, p *Program) (*Result, error)
}
