package dsp

// fadePhase tags the crossfade state of one filter slot.
type fadePhase uint8

const (
	fadeIdle fadePhase = iota
	fadeTransitioning
)

// crossfadeState is the per-slot state of a CrossfadingConvolver.
//
// Idle: only bank `from` is audible and pos is 0.
// Transitioning: the output blends from bank `from` toward bank `to` with
// weight ramp[pos+n] for sample n of the current block; pos only grows and
// completes the transition once it reaches the ramp length.
type crossfadeState struct {
	phase fadePhase
	from  uint8
	to    uint8
	pos   int
}

// idle returns the state of a slot that only plays bank.
func idleState(bank uint8) crossfadeState {
	return crossfadeState{phase: fadeIdle, from: bank, to: bank}
}

// begin starts a transition from the current bank toward the other one.
func (s *crossfadeState) begin() {
	s.phase = fadeTransitioning
	s.to = 1 - s.from
	s.pos = 0
}

// advance moves the ramp by n samples. It reports whether the transition
// completed, in which case the slot becomes idle on the new bank.
func (s *crossfadeState) advance(n, length int) bool {
	if s.phase != fadeTransitioning {
		return false
	}

	s.pos += n
	if s.pos < length {
		return false
	}

	*s = idleState(s.to)

	return true
}

// writeBank returns the bank that a filter update should overwrite: the
// target of a running transition, or the only bank of an idle slot.
func (s *crossfadeState) writeBank() int {
	if s.phase == fadeTransitioning {
		return int(s.to)
	}

	return int(s.from)
}

// linearRamp returns ramp[i] = i/length for i in [0, length].
func linearRamp(length int) []float32 {
	if length == 0 {
		return []float32{1}
	}

	ramp := make([]float32, length+1)
	for i := range ramp {
		ramp[i] = float32(i) / float32(length)
	}

	return ramp
}

// SlotStatus describes the crossfade state of one filter slot.
type SlotStatus struct {
	Slot          int     `json:"slot"`
	ActiveBank    int     `json:"activeBank"`
	Transitioning bool    `json:"transitioning"`
	Progress      float64 `json:"progress"`
	Partitions    int     `json:"partitions"`
}
