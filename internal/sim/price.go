package sim

import (
	"math"

	"github.com/iwvelando/unwind-risk/pkg/constants"
)

// Dt converts a block duration in seconds into a time step in years.
func Dt(blockDurationSec float64) float64 {
	return blockDurationSec / constants.SecondsPerYear
}

// NextPrice advances a geometric Brownian motion by one step:
// prev * exp((drift - vol^2/2)*dt + vol*sqrt(dt)*shock).
func NextPrice(prev, dt, driftAnnual, volAnnual, shock float64) float64 {
	driftFactor := (driftAnnual - 0.5*volAnnual*volAnnual) * dt
	volFactor := volAnnual * math.Sqrt(dt) * shock
	return prev * math.Exp(driftFactor+volFactor)
}

// PriceProcess advances the reference price by one block.
type PriceProcess interface {
	Next(prev float64) float64
}

// GBM is the stochastic price process; it draws one standard-normal shock per block.
type GBM struct {
	dt    float64
	drift float64
	vol   float64
	rng   Source
}

// NewGBM builds the price process for p, drawing shocks from rng.
func NewGBM(p Params, rng Source) *GBM {
	return &GBM{dt: p.Dt(), drift: p.DriftAnnual, vol: p.VolatilityAnnual, rng: rng}
}

// Next implements PriceProcess.
func (g *GBM) Next(prev float64) float64 {
	return NextPrice(prev, g.dt, g.drift, g.vol, g.rng.NormFloat64())
}

// ForcedDecay drops the price by a constant fraction every block.
type ForcedDecay struct {
	Rate float64
}

// Next implements PriceProcess.
func (d ForcedDecay) Next(prev float64) float64 {
	return prev * (1.0 - d.Rate)
}
