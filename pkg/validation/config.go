// Package validation provides configuration validation utilities.
package validation

import (
	"fmt"

	"github.com/iwvelando/unwind-risk/pkg/constants"
)

// minRunsForTail is the sample size below which p99 is a single observation.
const minRunsForTail = 100

// slowFailThreshold flags fail rates that make runs very long.
const slowFailThreshold = 0.9

// ValidateSlippage warns when a full batch can sell at or below zero.
func ValidateSlippage(maxUnwindsPerTx int, baseSlippage float64) string {
	full := float64(maxUnwindsPerTx) * baseSlippage
	if full >= 1 {
		return fmt.Sprintf("Full batch slippage is %.2f%% (%d x %.4f) - execution prices can reach zero or go negative",
			full*constants.PercentageMultiplier, maxUnwindsPerTx, baseSlippage)
	}
	return ""
}

// ValidateFailRates warns when the combined fail rate makes unwinds very slow.
func ValidateFailRates(congestion, network float64) string {
	combined := congestion + network
	if combined >= slowFailThreshold && combined < 1 {
		return fmt.Sprintf("Combined fail rate %.2f%% means on average %.0f blocks per landed transaction",
			combined*constants.PercentageMultiplier, 1/(1-combined))
	}
	return ""
}

// ConfigValidator collects the fields that warnings are derived from.
type ConfigValidator struct {
	MaxUnwindsPerTx    int
	BaseSlippage       float64
	CongestionFailRate float64
	NetworkFailRate    float64
	Runs               int
	SweepEnabled       bool
	GridEndBps         int
	Thresholds         []float64
}

// ValidateAll validates the entire configuration and returns warnings
func (cv *ConfigValidator) ValidateAll() []string {
	var warnings []string

	if w := ValidateSlippage(cv.MaxUnwindsPerTx, cv.BaseSlippage); w != "" {
		warnings = append(warnings, w)
	}
	if w := ValidateFailRates(cv.CongestionFailRate, cv.NetworkFailRate); w != "" {
		warnings = append(warnings, w)
	}
	if cv.Runs > 0 && cv.Runs < minRunsForTail {
		warnings = append(warnings, fmt.Sprintf("Only %d runs - 95th and 99th percentiles rest on very few observations", cv.Runs))
	}

	if !cv.SweepEnabled {
		return warnings
	}
	if cv.GridEndBps > int(constants.BasisPointsPerUnit) {
		warnings = append(warnings, fmt.Sprintf("Sensitivity grid ends at %d bps - decay above 100%% per block drives prices negative", cv.GridEndBps))
	}
	for _, t := range cv.Thresholds {
		if t <= 0 || t >= 1 {
			warnings = append(warnings, fmt.Sprintf("Sensitivity threshold %v is outside (0, 1) - thresholds are loss fractions, not percentages", t))
		}
	}

	return warnings
}
