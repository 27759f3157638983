package config

import (
	"encoding/json"
	"fmt"

	"matrixconv/dsp"
)

// RoutingSpec describes one or more routing entries. Scalar sequences are
// broadcast; all non-scalar sequences must have the same length.
type RoutingSpec struct {
	Input  IndexSequence `json:"input"`
	Output IndexSequence `json:"output"`
	Filter IndexSequence `json:"filter"`
	Gain   GainSequence  `json:"gain,omitempty"`
}

// Expand returns the routing entries described by s. An absent gain is 1.
func (s RoutingSpec) Expand() ([]dsp.RoutingEntry, error) {
	gain := s.Gain
	if len(gain) == 0 {
		gain = GainSequence{1}
	}

	lengths := []struct {
		name string
		n    int
	}{
		{"input", len(s.Input)},
		{"output", len(s.Output)},
		{"filter", len(s.Filter)},
		{"gain", len(gain)},
	}

	n := 1

	for _, l := range lengths {
		switch {
		case l.n == 0:
			return nil, fmt.Errorf("%w: routing without %s", ErrInvalidSequence, l.name)
		case l.n == 1:
		case n == 1:
			n = l.n
		case l.n != n:
			return nil, fmt.Errorf("%w: %s has %d entries, expected %d", ErrSequenceMismatch, l.name, l.n, n)
		}
	}

	pick := func(seq []int, i int) int {
		if len(seq) == 1 {
			return seq[0]
		}

		return seq[i]
	}

	entries := make([]dsp.RoutingEntry, n)
	for i := range entries {
		g := gain[0]
		if len(gain) > 1 {
			g = gain[i]
		}

		entries[i] = dsp.RoutingEntry{
			Input:  pick(s.Input, i),
			Output: pick(s.Output, i),
			Filter: pick(s.Filter, i),
			Gain:   g,
		}
	}

	return entries, nil
}

// ExpandRoutings expands every spec in order. A later entry for the same
// input and output replaces an earlier one in place.
func ExpandRoutings(specs []RoutingSpec) ([]dsp.RoutingEntry, error) {
	type key struct{ input, output int }

	var (
		out  []dsp.RoutingEntry
		seen = make(map[key]int)
	)

	for i, spec := range specs {
		entries, err := spec.Expand()
		if err != nil {
			return nil, fmt.Errorf("routing %d: %w", i, err)
		}

		for _, e := range entries {
			k := key{e.Input, e.Output}
			if j, ok := seen[k]; ok {
				out[j] = e
				continue
			}

			seen[k] = len(out)
			out = append(out, e)
		}
	}

	return out, nil
}

// ParseRoutings parses a bare JSON array of routing specs.
func ParseRoutings(data []byte) ([]dsp.RoutingEntry, error) {
	var specs []RoutingSpec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return ExpandRoutings(specs)
}
