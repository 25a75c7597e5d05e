// Package main is a command line planner for contact-rich pushing scenarios.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"go.viam.com/contactplan/gcs"
	"go.viam.com/contactplan/logging"
	"go.viam.com/contactplan/motionplan"
	"go.viam.com/contactplan/motionplan/costestimator"
	"go.viam.com/contactplan/motionplan/motiontypes"
	"go.viam.com/contactplan/utils"
)

const (
	// Flags.
	flagScenario      = "scenario"
	flagAlgorithm     = "algorithm"
	flagEstimator     = "estimator"
	flagReexplore     = "reexplore"
	flagCostFactory   = "cost-factory"
	flagAddConstCost  = "add-const-cost"
	flagIncremental   = "incremental"
	flagCombined      = "combined"
	flagObjMultiplier = "obj-multiplier"
	flagMaxIterations = "max-iterations"
	flagRestrictions  = "max-restrictions"
	flagTimeout       = "timeout"
	flagOutput        = "output"
	flagDebug         = "debug"
	flagLogLevel      = "log-level"
	flagTrace         = "trace"
	debugEnv          = "GCSPLAN_DEBUG"

	algorithmAstar       = "astar"
	algorithmSubOpt      = "subopt"
	algorithmRestriction = "restriction"

	estimatorShortcut = "shortcut"
	estimatorFactored = "factored"
)

func main() {
	var logger logging.Logger

	app := &cli.App{
		Name:  "gcsplan",
		Usage: "plan pushing motions over graphs of contact modes",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging, also enabled by " + debugEnv,
			},
			&cli.StringFlag{Name: flagLogLevel, Value: "info", Usage: "log level: debug, info, warn or error"},
		},
		Before: func(c *cli.Context) error {
			if c.Bool(flagDebug) || utils.GetenvBool(debugEnv) {
				logger = logging.NewDebugLogger("gcsplan")
				return nil
			}
			level, err := logging.LevelFromString(c.String(flagLogLevel))
			if err != nil {
				return err
			}
			logger = logging.NewLogger("gcsplan")
			logger.SetLevel(level)
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "search a scenario for a minimum cost plan",
				UsageText: "gcsplan run --scenario FILE [options]",
				Flags: []cli.Flag{
					&cli.PathFlag{Name: flagScenario, Required: true, Usage: "scenario `FILE`"},
					&cli.StringFlag{
						Name:  flagAlgorithm,
						Value: algorithmRestriction,
						Usage: fmt.Sprintf("search algorithm: %s, %s or %s", algorithmAstar, algorithmSubOpt, algorithmRestriction),
					},
					&cli.StringFlag{
						Name:  flagEstimator,
						Value: estimatorShortcut,
						Usage: fmt.Sprintf("cost estimator: %s or %s", estimatorShortcut, estimatorFactored),
					},
					&cli.StringFlag{Name: flagReexplore, Value: motionplan.ReexploreNone.String(), Usage: "reexplore level: NONE or FULL"},
					&cli.StringFlag{
						Name:  flagCostFactory,
						Value: costestimator.ContactShortcutEdgeL1NormCostFactory,
						Usage: "shortcut cost factory of the shortcut estimator",
					},
					&cli.BoolFlag{Name: flagAddConstCost, Usage: "add a unit cost to shortcut edges"},
					&cli.BoolFlag{Name: flagIncremental, Usage: "generate contact sets while searching"},
					&cli.BoolFlag{Name: flagCombined, Usage: "solve the factored estimator's graphs together"},
					&cli.Float64Flag{Name: flagObjMultiplier, Value: 2, Usage: "object weight of the factored estimator"},
					&cli.IntFlag{Name: flagMaxIterations, Usage: "stop the search after this many iterations"},
					&cli.IntFlag{
						Name:  flagRestrictions,
						Value: gcs.DefaultMaxRestrictions,
						Usage: "convex restrictions per collision-free search of the factored estimator",
					},
					&cli.DurationFlag{Name: flagTimeout, Usage: "give up on the search after this long"},
					&cli.PathFlag{Name: flagOutput, Usage: "write the solution as YAML to `FILE`"},
					&cli.BoolFlag{Name: flagTrace, Usage: "log every graph solve of this run at debug level"},
				},
				Action: func(c *cli.Context) error {
					return runAction(c, logger)
				},
			},
			{
				Name:      "modes",
				Usage:     "list the non-empty contact sets of a scenario",
				UsageText: "gcsplan modes --scenario FILE",
				Flags: []cli.Flag{
					&cli.PathFlag{Name: flagScenario, Required: true, Usage: "scenario `FILE`"},
				},
				Action: func(c *cli.Context) error {
					return modesAction(c, logger)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// solutionFile is the YAML form of a plan.
type solutionFile struct {
	Cost        float64     `yaml:"cost"`
	VertexPath  []string    `yaml:"vertex_path"`
	AmbientPath [][]float64 `yaml:"ambient_path"`
}

func newEstimator(ctx context.Context, c *cli.Context, cg *gcs.ContactGraph, logger logging.Logger) (motiontypes.CostEstimator, error) {
	switch c.String(flagEstimator) {
	case estimatorShortcut:
		return costestimator.NewShortcutEdgeCEFromName(cg.Graph, c.String(flagCostFactory), c.Bool(flagAddConstCost))
	case estimatorFactored:
		opts := costestimator.DefaultFactoredCollisionFreeOptions()
		opts.UseCombinedGCS = c.Bool(flagCombined)
		opts.ObjMultiplier = c.Float64(flagObjMultiplier)
		opts.MaxRestrictions = c.Int(flagRestrictions)
		return costestimator.NewFactoredCollisionFreeCE(ctx, cg, opts, logger)
	}
	return nil, errors.Errorf("unknown estimator %q", c.String(flagEstimator))
}

func newSearch(
	c *cli.Context,
	g *gcs.Graph,
	ce motiontypes.CostEstimator,
	opts *motionplan.SearchOptions,
	logger logging.Logger,
) (*motionplan.GcsAstar, error) {
	switch c.String(flagAlgorithm) {
	case algorithmAstar:
		return motionplan.NewGcsAstar(g, ce, opts, logger), nil
	case algorithmSubOpt:
		return motionplan.NewGcsAstarSubOpt(g, ce, opts, logger), nil
	case algorithmRestriction:
		return motionplan.NewGcsAstarConvexRestriction(g, ce, opts, logger), nil
	}
	return nil, errors.Errorf("unknown algorithm %q", c.String(flagAlgorithm))
}

func runAction(c *cli.Context, logger logging.Logger) error {
	ctx := c.Context
	if timeout := c.Duration(flagTimeout); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if c.Bool(flagTrace) {
		ctx = logging.EnableDebugMode(ctx, "")
		logger.Infow("tracing search", "key", logging.GetName(ctx))
	}
	level, err := motionplan.ParseReexploreLevel(c.String(flagReexplore))
	if err != nil {
		return err
	}
	opts := motionplan.NewBasicSearchOptions()
	opts.ReexploreLevel = level
	opts.MaxIterations = c.Int(flagMaxIterations)

	cg, err := gcs.LoadContactGraphFromFile(ctx, c.Path(flagScenario), gcs.DefaultContactGraphOptions(), c.Bool(flagIncremental), logger)
	if err != nil {
		return err
	}
	ce, err := newEstimator(ctx, c, cg, logger)
	if err != nil {
		return err
	}
	search, err := newSearch(c, cg.Graph, ce, opts, logger)
	if err != nil {
		return err
	}
	exporter, err := motiontypes.NewMetricsExporter(prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	search.SetMetricsExporter(exporter)

	sol, err := search.Run(ctx)
	if err != nil {
		return errors.Wrapf(err, "after %s", search.Metrics())
	}

	out := c.App.Writer
	fmt.Fprintf(out, "cost: %.6f\n", sol.Cost)
	for i, name := range sol.VertexPath {
		fmt.Fprintf(out, "%2d %s %v\n", i, name, sol.AmbientPath[i])
	}
	fmt.Fprintln(out, search.Metrics())

	if path := c.Path(flagOutput); path != "" {
		data, err := yaml.Marshal(&solutionFile{Cost: sol.Cost, VertexPath: sol.VertexPath, AmbientPath: sol.AmbientPath})
		if err != nil {
			return err
		}
		//nolint:gosec
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return errors.Wrapf(err, "writing solution %s", path)
		}
	}
	return nil
}

func modesAction(c *cli.Context, logger logging.Logger) error {
	cg, err := gcs.LoadContactGraphFromFile(c.Context, c.Path(flagScenario), gcs.DefaultContactGraphOptions(), false, logger)
	if err != nil {
		return err
	}
	out := c.App.Writer
	for _, name := range cg.VertexNames() {
		if name == cg.Source() || name == cg.Target() {
			continue
		}
		fmt.Fprintf(out, "%s -> %v\n", name, cg.Successors(name))
	}
	fmt.Fprintf(out, "%d vertices, %d edges\n", cg.NumVertices(), cg.NumEdges())
	return nil
}
