// Package sim implements a single simulated unwind of a fixed set of
// positions: the reference price process, the per-block landing sampler,
// the execution model and the run state machine composing them.
package sim

import (
	"errors"
	"fmt"
	"math"

	"github.com/iwvelando/unwind-risk/pkg/constants"
)

// ErrInvalidParams is wrapped by every Params validation failure.
var ErrInvalidParams = errors.New("invalid simulation parameters")

// Params holds the immutable per-invocation simulation inputs.
type Params struct {
	InitialPositions   int     `json:"initialPositions"`
	InitialPrice       float64 `json:"initialPrice"`
	MaxUnwindsPerTx    int     `json:"maxUnwindsPerTx"`
	BlockDurationSec   float64 `json:"blockDurationSec"`
	VolatilityAnnual   float64 `json:"volatilityAnnual"`
	DriftAnnual        float64 `json:"driftAnnual"`
	CongestionFailRate float64 `json:"congestionFailRate"`
	NetworkFailRate    float64 `json:"networkFailRate"`
	BaseSlippage       float64 `json:"baseSlippage"`

	// MaxTicks bounds a run; zero selects constants.DefaultMaxTicks.
	MaxTicks int `json:"maxTicks,omitempty"`
}

// Validate checks the parameters before any run executes.
func (p Params) Validate() error {
	var errs []error
	if p.InitialPositions < 1 {
		errs = append(errs, fmt.Errorf("initial positions must be positive, got %d", p.InitialPositions))
	}
	if !(p.InitialPrice > 0) || math.IsInf(p.InitialPrice, 1) {
		errs = append(errs, fmt.Errorf("initial price must be positive and finite, got %v", p.InitialPrice))
	}
	if p.MaxUnwindsPerTx < 1 {
		errs = append(errs, fmt.Errorf("max unwinds per tx must be positive, got %d", p.MaxUnwindsPerTx))
	}
	if !(p.BlockDurationSec > 0) || math.IsInf(p.BlockDurationSec, 1) {
		errs = append(errs, fmt.Errorf("block duration must be positive and finite, got %v", p.BlockDurationSec))
	}
	if !(p.VolatilityAnnual >= 0) || math.IsInf(p.VolatilityAnnual, 1) {
		errs = append(errs, fmt.Errorf("volatility must be non-negative and finite, got %v", p.VolatilityAnnual))
	}
	if math.IsNaN(p.DriftAnnual) || math.IsInf(p.DriftAnnual, 0) {
		errs = append(errs, fmt.Errorf("drift must be finite, got %v", p.DriftAnnual))
	}
	if !(p.CongestionFailRate >= 0 && p.CongestionFailRate < 1) {
		errs = append(errs, fmt.Errorf("congestion fail rate must be in [0,1), got %v", p.CongestionFailRate))
	}
	if !(p.NetworkFailRate >= 0 && p.NetworkFailRate < 1) {
		errs = append(errs, fmt.Errorf("network fail rate must be in [0,1), got %v", p.NetworkFailRate))
	}
	if !(p.FailThreshold() < 1) {
		errs = append(errs, fmt.Errorf("combined fail rate must be below 1, got %v", p.FailThreshold()))
	}
	if !(p.BaseSlippage >= 0) || math.IsInf(p.BaseSlippage, 1) {
		errs = append(errs, fmt.Errorf("base slippage must be non-negative and finite, got %v", p.BaseSlippage))
	}
	if p.MaxTicks < 0 {
		errs = append(errs, fmt.Errorf("max ticks must be non-negative, got %d", p.MaxTicks))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidParams, errors.Join(errs...))
	}
	return nil
}

// Dt is the block duration in years.
func (p Params) Dt() float64 {
	return Dt(p.BlockDurationSec)
}

// FailThreshold is the combined probability that a block fails to land.
// The two causes are added, not composed as independent events.
func (p Params) FailThreshold() float64 {
	return p.CongestionFailRate + p.NetworkFailRate
}

// InitialValue is the marked portfolio value before unwinding.
func (p Params) InitialValue() float64 {
	return float64(p.InitialPositions) * p.InitialPrice
}

// MinBlocks is the number of blocks needed when every block lands.
func (p Params) MinBlocks() int {
	return (p.InitialPositions + p.MaxUnwindsPerTx - 1) / p.MaxUnwindsPerTx
}

// ExpectedBlocks estimates the blocks one run simulates: MinBlocks scaled by
// the mean number of attempts per landed block, capped at the tick budget.
// It is computed in floating point so extreme inputs cannot overflow.
func (p Params) ExpectedBlocks() float64 {
	if p.InitialPositions < 1 || p.MaxUnwindsPerTx < 1 {
		return 0
	}
	blocks := math.Ceil(float64(p.InitialPositions) / float64(p.MaxUnwindsPerTx))
	if landed := 1 - p.FailThreshold(); landed > 0 {
		blocks /= landed
	} else {
		blocks = math.Inf(1)
	}
	return math.Min(blocks, float64(p.maxTicks()))
}

func (p Params) maxTicks() int {
	if p.MaxTicks > 0 {
		return p.MaxTicks
	}
	return constants.DefaultMaxTicks
}
