package sim

import "math/rand/v2"

// Source supplies the uniform and standard-normal draws a run consumes.
// *rand.Rand satisfies it.
type Source interface {
	Float64() float64
	NormFloat64() float64
}

// Streams hands out independent, reproducible random streams keyed by id.
// Stream i is the same for a given seed no matter which goroutine asks for
// it, so parallel and sequential batches draw identical numbers.
type Streams struct {
	seed uint64
}

// NewStreams returns a stream factory for seed. A zero seed picks one at random.
func NewStreams(seed uint64) Streams {
	if seed == 0 {
		seed = rand.Uint64() | 1
	}
	return Streams{seed: seed}
}

// Seed reports the seed in use, for logging and replay.
func (s Streams) Seed() uint64 {
	return s.seed
}

// Stream returns the generator for id. Generators are not safe for
// concurrent use; each run takes its own.
func (s Streams) Stream(id uint64) *rand.Rand {
	return rand.New(rand.NewPCG(s.seed, id))
}

// Derive returns a factory whose streams do not overlap with s for the same ids.
func (s Streams) Derive(salt uint64) Streams {
	return Streams{seed: s.seed ^ (salt * 0x9e3779b97f4a7c15)}
}
