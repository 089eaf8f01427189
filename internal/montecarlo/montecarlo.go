// Package montecarlo runs many independent unwinds and reduces them into
// loss and timing distributions.
package montecarlo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/iwvelando/unwind-risk/internal/metrics"
	"github.com/iwvelando/unwind-risk/internal/sim"
	"github.com/iwvelando/unwind-risk/pkg/mathutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNoRuns is returned when fewer than one run is requested.
var ErrNoRuns = errors.New("number of runs must be positive")

// Options controls a Monte Carlo batch.
type Options struct {
	Runs int
	// Seed selects the random streams; zero picks a random seed.
	Seed uint64
	// Workers > 1 spreads runs over goroutines. Results do not depend on it.
	Workers int
}

// Stats is the distribution summary of a batch of runs.
type Stats struct {
	Runs         int     `json:"runs"`
	Seed         uint64  `json:"seed"`
	InitialValue float64 `json:"initialValue"`

	MeanLoss           float64 `json:"meanLoss"`
	MaxLoss            float64 `json:"maxLoss"`
	MeanPercentageLoss float64 `json:"meanPercentageLoss"`
	MinPercentageLoss  float64 `json:"minPercentageLoss"`
	P95PercentageLoss  float64 `json:"p95PercentageLoss"`
	P99PercentageLoss  float64 `json:"p99PercentageLoss"`
	MaxPercentageLoss  float64 `json:"maxPercentageLoss"`

	MeanBlocks float64 `json:"meanBlocks"`
	P99Blocks  int     `json:"p99Blocks"`
	MaxBlocks  int     `json:"maxBlocks"`

	WorstExecutionPrice float64 `json:"worstExecutionPrice"`
	MaxSlippage         float64 `json:"maxSlippage"`
}

// Aggregate runs opts.Runs independent unwinds and summarizes them. Run i
// always draws from stream i of the seed, so the result is the same for
// any worker count.
func Aggregate(ctx context.Context, logger *zap.Logger, simulator *sim.Simulator, opts Options) (Stats, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Runs < 1 {
		return Stats{}, fmt.Errorf("%w, got %d", ErrNoRuns, opts.Runs)
	}

	streams := sim.NewStreams(opts.Seed)
	logger.Debug("starting monte carlo batch",
		zap.String("op", "montecarlo.Aggregate"),
		zap.Int("runs", opts.Runs),
		zap.Int("workers", opts.Workers),
		zap.Uint64("seed", streams.Seed()),
	)

	results := make([]sim.RunResult, opts.Runs)
	runOne := func(i int) error {
		res, err := simulator.Run(streams.Stream(uint64(i)))
		if err != nil {
			if errors.Is(err, sim.ErrNonConvergence) {
				metrics.NonConvergence.WithLabelValues(metrics.VariantGBM).Inc()
			}
			return fmt.Errorf("run %d: %w", i, err)
		}
		metrics.RunsTotal.WithLabelValues(metrics.VariantGBM).Inc()
		metrics.BlocksPerRun.Observe(float64(res.Blocks))
		results[i] = res
		return nil
	}

	if opts.Workers <= 1 {
		for i := range results {
			if err := ctx.Err(); err != nil {
				return Stats{}, err
			}
			if err := runOne(i); err != nil {
				return Stats{}, err
			}
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.Workers)
		for i := range results {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				return runOne(i)
			})
		}
		if err := g.Wait(); err != nil {
			return Stats{}, err
		}
		if err := ctx.Err(); err != nil {
			return Stats{}, err
		}
	}

	stats := Summarize(results)
	stats.Seed = streams.Seed()
	stats.InitialValue = simulator.Params().InitialValue()

	logger.Debug("monte carlo batch complete",
		zap.String("op", "montecarlo.Aggregate"),
		zap.Float64("meanPercentageLoss", stats.MeanPercentageLoss),
		zap.Float64("p99PercentageLoss", stats.P99PercentageLoss),
		zap.Int("maxBlocks", stats.MaxBlocks),
	)
	return stats, nil
}

// Summarize reduces completed runs to their distribution statistics.
// Percentiles use nearest-rank indexing, sorted[floor(n*p)].
func Summarize(results []sim.RunResult) Stats {
	n := len(results)
	if n == 0 {
		return Stats{}
	}

	losses := make([]float64, n)
	pctLosses := make([]float64, n)
	blocks := make([]int, n)
	worstPrice := math.Inf(1)
	maxSlippage := 0.0
	for i, r := range results {
		losses[i] = r.Loss
		pctLosses[i] = r.PercentageLoss
		blocks[i] = r.Blocks
		worstPrice = min(worstPrice, r.MinExecutionPrice)
		maxSlippage = max(maxSlippage, r.MaxSlippage)
	}

	stats := Stats{
		Runs:                n,
		MeanLoss:            mathutil.Mean(losses),
		MaxLoss:             slices.Max(losses),
		MeanPercentageLoss:  mathutil.Mean(pctLosses),
		MeanBlocks:          mathutil.Mean(blocks),
		WorstExecutionPrice: worstPrice,
		MaxSlippage:         maxSlippage,
	}

	slices.Sort(pctLosses)
	stats.MinPercentageLoss = pctLosses[0]
	stats.P95PercentageLoss = mathutil.Percentile(pctLosses, 0.95)
	stats.P99PercentageLoss = mathutil.Percentile(pctLosses, 0.99)
	stats.MaxPercentageLoss = pctLosses[n-1]

	slices.Sort(blocks)
	stats.P99Blocks = mathutil.Percentile(blocks, 0.99)
	stats.MaxBlocks = blocks[n-1]

	return stats
}
