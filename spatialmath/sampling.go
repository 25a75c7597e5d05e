package spatialmath

import (
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Number of hit-and-run steps taken before the first sample and between consecutive samples.
const (
	hitAndRunBurnIn = 20
	hitAndRunThin   = 5
)

type randSource = rand.Source

func defaultSource() randSource {
	return rand.NewPCG(rand.Uint64(), rand.Uint64())
}

// NewSeededSource returns a deterministic source for reproducible sampling.
func NewSeededSource(seed uint64) rand.Source {
	return rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
}

// hitAndRun draws n points from {x : H x <= h} by walking along random directions from `start`.
func hitAndRun(H *mat.Dense, h, start []float64, n int, src randSource) ([][]float64, error) {
	if start == nil {
		return nil, errors.New("no interior point to start sampling from")
	}
	rows, cols := H.Dims()
	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: src}

	x := append([]float64{}, start...)
	d := make([]float64, cols)
	step := func() error {
		for i := range d {
			d[i] = normal.Rand()
		}
		if norm := floats.Norm(d, 2); norm > 0 {
			floats.Scale(1/norm, d)
		}
		tMin, tMax := math.Inf(-1), math.Inf(1)
		for i := 0; i < rows; i++ {
			row := H.RawRowView(i)
			ad := floats.Dot(row, d)
			slack := h[i] - floats.Dot(row, x)
			switch {
			case ad > 1e-12:
				tMax = math.Min(tMax, slack/ad)
			case ad < -1e-12:
				tMin = math.Max(tMin, slack/ad)
			}
		}
		if math.IsInf(tMin, 0) || math.IsInf(tMax, 0) {
			return errors.New("cannot sample an unbounded polyhedron")
		}
		if tMin >= tMax {
			return nil
		}
		t := distuv.Uniform{Min: tMin, Max: tMax, Src: src}.Rand()
		floats.AddScaled(x, t, d)
		return nil
	}

	for i := 0; i < hitAndRunBurnIn; i++ {
		if err := step(); err != nil {
			return nil, err
		}
	}
	samples := make([][]float64, 0, n)
	for len(samples) < n {
		for i := 0; i < hitAndRunThin; i++ {
			if err := step(); err != nil {
				return nil, err
			}
		}
		samples = append(samples, append([]float64{}, x...))
	}
	return samples, nil
}
