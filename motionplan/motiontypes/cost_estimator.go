package motiontypes

import (
	"context"

	"go.viam.com/contactplan/gcs"
)

// CostEstimator estimates the cost of the best path from the source to the target that starts
// with `activeEdges` followed by `edge`. `activeEdges` does not include `edge`. With
// solveConvexRestriction the estimate solves that path alone; otherwise it solves the whole graph,
// relaxed if useConvexRelaxation is set. An infeasible estimate is returned as a solution with
// Feasible unset, not as an error.
//
// An estimator may add edges to `graph` while it solves, but removes them before returning.
type CostEstimator interface {
	EstimateCostOnGraph(
		ctx context.Context,
		graph *gcs.Graph,
		edge *gcs.Edge,
		activeEdges []gcs.EdgeKey,
		solveConvexRestriction bool,
		useConvexRelaxation bool,
		metrics *AlgMetrics,
	) (*gcs.ShortestPathSolution, error)

	// FingerPrint names the estimator and its configuration.
	FingerPrint() string
}
