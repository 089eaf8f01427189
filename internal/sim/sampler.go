package sim

// BlockSampler decides whether an unwind transaction lands in a block.
type BlockSampler struct {
	threshold float64
	rng       Source
}

// NewBlockSampler combines both failure causes into a single threshold.
func NewBlockSampler(congestionFailRate, networkFailRate float64, rng Source) BlockSampler {
	return BlockSampler{threshold: congestionFailRate + networkFailRate, rng: rng}
}

// Landed consumes one uniform draw; the transaction fails when the draw is
// below congestion+network.
func (s BlockSampler) Landed() bool {
	return !(s.rng.Float64() < s.threshold)
}
