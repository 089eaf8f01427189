// Package sensitivity sweeps a forced per-block price decay and finds the
// smallest decay rate at which average portfolio loss crosses each threshold.
package sensitivity

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/iwvelando/unwind-risk/internal/metrics"
	"github.com/iwvelando/unwind-risk/internal/sim"
	"github.com/iwvelando/unwind-risk/pkg/mathutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// streamSalt keeps sweep streams disjoint from Monte Carlo streams for the same seed.
const streamSalt = 0x5eed

// Grid is a decay-rate range in basis points; EndBps is exclusive.
type Grid struct {
	StartBps int `json:"startBps"`
	EndBps   int `json:"endBps"`
	StepBps  int `json:"stepBps"`
}

// Validate checks that the grid yields at least one point.
func (g Grid) Validate() error {
	if g.StepBps < 1 {
		return fmt.Errorf("grid step must be positive, got %d", g.StepBps)
	}
	if g.StartBps < 0 {
		return fmt.Errorf("grid start must be non-negative, got %d", g.StartBps)
	}
	if g.StartBps >= g.EndBps {
		return fmt.Errorf("grid start %d must be below end %d", g.StartBps, g.EndBps)
	}
	return nil
}

// Points is the number of decay rates in the grid, computed without
// enumerating them. It is zero for a grid that fails Validate.
func (g Grid) Points() int {
	if g.Validate() != nil {
		return 0
	}
	span := g.EndBps - g.StartBps
	n := span / g.StepBps
	if span%g.StepBps != 0 {
		n++
	}
	return n
}

// Rates lists the decay fractions of the grid in ascending order.
func (g Grid) Rates() []float64 {
	n := g.Points()
	if n == 0 {
		return nil
	}
	rates := make([]float64, n)
	for i := range rates {
		rates[i] = mathutil.BasisPointsToFraction(g.StartBps + i*g.StepBps)
	}
	return rates
}

// Options controls a sweep.
type Options struct {
	Grid       Grid
	SampleSize int
	Thresholds []float64
	Seed       uint64
	Workers    int
}

// Point is the average loss fraction observed at one decay rate.
type Point struct {
	DecayRate           float64 `json:"decayRate"`
	AverageLossFraction float64 `json:"averageLossFraction"`
}

// Crossing reports the first decay rate whose average loss strictly exceeds
// Threshold. Found is false when no grid point did.
type Crossing struct {
	Threshold float64 `json:"threshold"`
	DecayRate float64 `json:"decayRate"`
	Found     bool    `json:"found"`
}

// Report is the outcome of a sweep.
type Report struct {
	Points     []Point    `json:"points"`
	Crossings  []Crossing `json:"crossings"`
	UpperBound float64    `json:"upperBound"`
	SampleSize int        `json:"sampleSize"`
	Seed       uint64     `json:"seed"`
}

// Crossing returns the crossing recorded for threshold.
func (r Report) Crossing(threshold float64) (Crossing, bool) {
	for _, c := range r.Crossings {
		if c.Threshold == threshold {
			return c, true
		}
	}
	return Crossing{}, false
}

// Sweep runs the forced-decay variant SampleSize times at every grid rate.
// Sample j at grid point i draws from a stream derived from (i, j), so the
// report does not depend on the worker count.
func Sweep(ctx context.Context, logger *zap.Logger, simulator *sim.Simulator, opts Options) (Report, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := opts.Grid.Validate(); err != nil {
		return Report{}, err
	}
	if opts.SampleSize < 1 {
		return Report{}, fmt.Errorf("sample size must be positive, got %d", opts.SampleSize)
	}
	if len(opts.Thresholds) == 0 {
		return Report{}, errors.New("at least one threshold is required")
	}

	rates := opts.Grid.Rates()
	streams := sim.NewStreams(opts.Seed)
	derived := streams.Derive(streamSalt)

	logger.Debug("starting sensitivity sweep",
		zap.String("op", "sensitivity.Sweep"),
		zap.Int("gridPoints", len(rates)),
		zap.Int("sampleSize", opts.SampleSize),
		zap.Float64s("thresholds", opts.Thresholds),
		zap.Uint64("seed", streams.Seed()),
	)

	averages := make([]float64, len(rates))
	samplePoint := func(i int) error {
		fractions := make([]float64, opts.SampleSize)
		for j := range fractions {
			if err := ctx.Err(); err != nil {
				return err
			}
			frac, err := simulator.RunForcedDecay(rates[i], derived.Stream(uint64(i)<<32|uint64(j)))
			if err != nil {
				if errors.Is(err, sim.ErrNonConvergence) {
					metrics.NonConvergence.WithLabelValues(metrics.VariantForcedDecay).Inc()
				}
				return fmt.Errorf("decay rate %v sample %d: %w", rates[i], j, err)
			}
			fractions[j] = frac
		}
		metrics.RunsTotal.WithLabelValues(metrics.VariantForcedDecay).Add(float64(opts.SampleSize))
		averages[i] = mathutil.Mean(fractions)
		return nil
	}

	if opts.Workers <= 1 {
		for i := range rates {
			if err := samplePoint(i); err != nil {
				return Report{}, err
			}
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.Workers)
		for i := range rates {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				return samplePoint(i)
			})
		}
		if err := g.Wait(); err != nil {
			return Report{}, err
		}
	}

	points := make([]Point, len(rates))
	for i, rate := range rates {
		points[i] = Point{DecayRate: rate, AverageLossFraction: averages[i]}
	}

	report := Report{
		Points:     points,
		Crossings:  FirstCrossings(points, opts.Thresholds),
		UpperBound: rates[len(rates)-1],
		SampleSize: opts.SampleSize,
		Seed:       streams.Seed(),
	}

	for _, c := range report.Crossings {
		outcome := "not_found"
		if c.Found {
			outcome = "found"
		}
		metrics.ThresholdCrossings.WithLabelValues(outcome).Inc()
		logger.Debug("threshold resolved",
			zap.String("op", "sensitivity.Sweep"),
			zap.Float64("threshold", c.Threshold),
			zap.Bool("found", c.Found),
			zap.Float64("decayRate", c.DecayRate),
		)
	}
	return report, nil
}

// FirstCrossings walks points in ascending decay order and keeps, per
// threshold, the first point whose average loss strictly exceeds it.
// Crossings are returned in ascending threshold order.
func FirstCrossings(points []Point, thresholds []float64) []Crossing {
	ordered := slices.Clone(points)
	slices.SortStableFunc(ordered, func(a, b Point) int {
		switch {
		case a.DecayRate < b.DecayRate:
			return -1
		case a.DecayRate > b.DecayRate:
			return 1
		}
		return 0
	})

	sorted := slices.Clone(thresholds)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	crossings := make([]Crossing, len(sorted))
	for k, t := range sorted {
		crossings[k].Threshold = t
	}
	for _, p := range ordered {
		for k := range crossings {
			if !crossings[k].Found && p.AverageLossFraction > crossings[k].Threshold {
				crossings[k].DecayRate = p.DecayRate
				crossings[k].Found = true
			}
		}
	}
	return crossings
}
