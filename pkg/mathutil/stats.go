package mathutil

import (
	"cmp"
	"math"
)

// Number is any value the sample statistics below operate on.
type Number interface {
	~int | ~int64 | ~float64
}

// Mean returns the arithmetic mean of values, or 0 for an empty slice.
func Mean[T Number](values []T) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += float64(v)
	}
	return sum / float64(len(values))
}

// NearestRankIndex returns floor(n*p), clamped into [0, n-1].
func NearestRankIndex(n int, p float64) int {
	if n <= 0 {
		return 0
	}
	idx := int(math.Floor(float64(n) * p))
	if idx < 0 {
		return 0
	}
	if idx > n-1 {
		return n - 1
	}
	return idx
}

// Percentile reads the p-th percentile from an ascending sample using
// non-interpolated nearest-rank indexing: sorted[floor(n*p)].
// The zero value is returned for an empty sample.
func Percentile[T cmp.Ordered](sorted []T, p float64) T {
	var zero T
	if len(sorted) == 0 {
		return zero
	}
	return sorted[NearestRankIndex(len(sorted), p)]
}
