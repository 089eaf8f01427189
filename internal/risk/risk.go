// Package risk runs a complete liquidation-risk assessment: the Monte Carlo
// loss and timing distribution plus the forced-decay sensitivity sweep.
package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/iwvelando/unwind-risk/internal/config"
	"github.com/iwvelando/unwind-risk/internal/metrics"
	"github.com/iwvelando/unwind-risk/internal/montecarlo"
	"github.com/iwvelando/unwind-risk/internal/sensitivity"
	"github.com/iwvelando/unwind-risk/internal/sim"
	"github.com/iwvelando/unwind-risk/pkg/constants"
	"go.uber.org/zap"
)

// Assessment holds everything a report needs about one invocation.
type Assessment struct {
	ID          string              `json:"id"`
	CreatedAt   time.Time           `json:"createdAt"`
	Params      sim.Params          `json:"params"`
	Stats       montecarlo.Stats    `json:"stats"`
	Sensitivity *sensitivity.Report `json:"sensitivity,omitempty"`
	Warnings    []string            `json:"warnings,omitempty"`
	Duration    time.Duration       `json:"duration"`
}

// BlocksToSeconds converts a block count into wall time for this assessment.
func (a Assessment) BlocksToSeconds(blocks float64) float64 {
	return blocks * a.Params.BlockDurationSec
}

// Assess validates conf and runs the aggregator and, when enabled, the sweep.
func Assess(ctx context.Context, logger *zap.Logger, conf config.Configuration) (*Assessment, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	params := conf.Params()
	simulator, err := sim.New(params)
	if err != nil {
		return nil, err
	}

	mcOpts := conf.MonteCarloOptions()
	if mcOpts.Seed == 0 {
		// Resolve once so the sweep and the report share it.
		mcOpts.Seed = sim.NewStreams(0).Seed()
	}

	logger.Info("starting assessment",
		zap.String("op", "risk.Assess"),
		zap.Int("runs", mcOpts.Runs),
		zap.Float64("volatilityPct", params.VolatilityAnnual*constants.PercentageMultiplier),
		zap.Float64("failRatePct", params.FailThreshold()*constants.PercentageMultiplier),
		zap.Int("unwindsPerTx", params.MaxUnwindsPerTx),
		zap.Uint64("seed", mcOpts.Seed),
	)

	mcStart := time.Now()
	stats, err := montecarlo.Aggregate(ctx, logger, simulator, mcOpts)
	if err != nil {
		return nil, fmt.Errorf("monte carlo aggregation failed: %w", err)
	}
	metrics.AssessmentDuration.WithLabelValues("montecarlo").Observe(time.Since(mcStart).Seconds())

	assessment := &Assessment{
		ID:        uuid.New().String(),
		CreatedAt: start.UTC(),
		Params:    params,
		Stats:     stats,
		Warnings:  conf.ValidateConfiguration(),
	}

	if conf.Sensitivity.Enabled {
		sweepOpts := conf.SweepOptions()
		sweepOpts.Seed = mcOpts.Seed

		sweepStart := time.Now()
		report, err := sensitivity.Sweep(ctx, logger, simulator, sweepOpts)
		if err != nil {
			return nil, fmt.Errorf("sensitivity sweep failed: %w", err)
		}
		metrics.AssessmentDuration.WithLabelValues("sensitivity").Observe(time.Since(sweepStart).Seconds())
		assessment.Sensitivity = &report
	} else {
		logger.Debug("sensitivity sweep disabled",
			zap.String("op", "risk.Assess"),
		)
	}

	assessment.Duration = time.Since(start)
	metrics.AssessmentDuration.WithLabelValues("total").Observe(assessment.Duration.Seconds())

	logger.Info("assessment complete",
		zap.String("op", "risk.Assess"),
		zap.String("id", assessment.ID),
		zap.Float64("meanPercentageLoss", stats.MeanPercentageLoss),
		zap.Float64("p99PercentageLoss", stats.P99PercentageLoss),
		zap.Float64("meanBlocks", stats.MeanBlocks),
		zap.Duration("duration", assessment.Duration),
	)
	return assessment, nil
}
