// Package testutil provides common utility functions for testing.
package testutil

// ScriptedSource replays fixed uniform and normal draws, cycling when a
// script is exhausted. An empty script yields 0.
type ScriptedSource struct {
	Uniform []float64
	Normal  []float64

	uniformIdx int
	normalIdx  int
}

// Float64 returns the next scripted uniform draw.
func (s *ScriptedSource) Float64() float64 {
	if len(s.Uniform) == 0 {
		return 0
	}
	v := s.Uniform[s.uniformIdx%len(s.Uniform)]
	s.uniformIdx++
	return v
}

// NormFloat64 returns the next scripted normal draw.
func (s *ScriptedSource) NormFloat64() float64 {
	if len(s.Normal) == 0 {
		return 0
	}
	v := s.Normal[s.normalIdx%len(s.Normal)]
	s.normalIdx++
	return v
}

// Draws reports how many uniform and normal values have been consumed.
func (s *ScriptedSource) Draws() (uniform, normal int) {
	return s.uniformIdx, s.normalIdx
}

// AlwaysLands returns a source whose blocks always land and whose price shocks are zero.
func AlwaysLands() *ScriptedSource {
	return &ScriptedSource{Uniform: []float64{0.999999}}
}
