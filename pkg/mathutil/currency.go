// Package mathutil provides common mathematical utility functions.
package mathutil

import (
	"math"

	"github.com/iwvelando/unwind-risk/pkg/constants"
)

// decimalPrecision rounds currency to cents.
const decimalPrecision = 100

// Round rounds a value to two decimals, i.e. to represent real currency.
// Used for making logical comparisons.
func Round(val float64) float64 {
	return math.Round(val*decimalPrecision) / decimalPrecision
}

// WithinTolerance checks if two values are within a specified tolerance
func WithinTolerance(val1, val2, tolerance float64) bool {
	return math.Abs(val1-val2) <= tolerance
}

// CalculatePercentage calculates what percentage value is of total
func CalculatePercentage(value, total float64) float64 {
	if total == 0 {
		return 0
	}
	return (value / total) * constants.PercentageMultiplier
}

// BasisPointsToFraction converts bps to a fraction, e.g. 25 -> 0.0025.
func BasisPointsToFraction(bps int) float64 {
	return float64(bps) / constants.BasisPointsPerUnit
}
