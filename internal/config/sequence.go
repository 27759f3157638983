package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// maxSequenceLength bounds range expansion.
const maxSequenceLength = 1 << 16

// IndexSequence is a list of non-negative indices. In JSON it is a number,
// an array of numbers, or a string of comma-separated items where each item
// is "n", "a:b" (inclusive, either direction) or "a:step:b".
type IndexSequence []int

// ParseIndexSequence parses the string notation.
func ParseIndexSequence(s string) (IndexSequence, error) {
	var seq IndexSequence

	for item := range strings.SplitSeq(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		parts := strings.Split(item, ":")
		values := make([]int, len(parts))

		for i, p := range parts {
			v, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil {
				return nil, fmt.Errorf("%w: %q: %w", ErrInvalidSequence, item, err)
			}

			values[i] = v
		}

		var start, step, end int

		switch len(values) {
		case 1:
			start, step, end = values[0], 1, values[0]
		case 2:
			start, end = values[0], values[1]
			step = 1
			if end < start {
				step = -1
			}
		case 3:
			start, step, end = values[0], values[1], values[2]
			if step == 0 || (end-start)*step < 0 {
				return nil, fmt.Errorf("%w: %q: step %d does not reach %d", ErrInvalidSequence, item, step, end)
			}
		default:
			return nil, fmt.Errorf("%w: %q", ErrInvalidSequence, item)
		}

		if start < 0 || end < 0 {
			return nil, fmt.Errorf("%w: %q: negative index", ErrInvalidSequence, item)
		}

		for v := start; (step > 0 && v <= end) || (step < 0 && v >= end); v += step {
			if len(seq) >= maxSequenceLength {
				return nil, fmt.Errorf("%w: more than %d indices", ErrInvalidSequence, maxSequenceLength)
			}

			seq = append(seq, v)
		}
	}

	return seq, nil
}

// UnmarshalJSON accepts a number, an array of numbers or a string.
func (s *IndexSequence) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*s = nil
		return nil

	case data[0] == '"':
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}

		seq, err := ParseIndexSequence(str)
		if err != nil {
			return err
		}

		*s = seq

		return nil

	case data[0] == '[':
		var values []int
		if err := json.Unmarshal(data, &values); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidSequence, err)
		}

		for _, v := range values {
			if v < 0 {
				return fmt.Errorf("%w: negative index %d", ErrInvalidSequence, v)
			}
		}

		*s = values

		return nil

	default:
		var v int
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidSequence, err)
		}

		if v < 0 {
			return fmt.Errorf("%w: negative index %d", ErrInvalidSequence, v)
		}

		*s = IndexSequence{v}

		return nil
	}
}

// String formats the sequence as comma-separated indices.
func (s IndexSequence) String() string {
	parts := make([]string, len(s))
	for i, v := range s {
		parts[i] = strconv.Itoa(v)
	}

	return strings.Join(parts, ",")
}

// GainSequence is a list of linear gains. In JSON it is a number, an array
// of numbers, or a string of comma-separated numbers.
type GainSequence []float32

// ParseGainSequence parses the string notation.
func ParseGainSequence(s string) (GainSequence, error) {
	var seq GainSequence

	for item := range strings.SplitSeq(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		v, err := strconv.ParseFloat(item, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrInvalidSequence, item, err)
		}

		seq = append(seq, float32(v))
	}

	return seq, nil
}

// UnmarshalJSON accepts a number, an array of numbers or a string.
func (s *GainSequence) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*s = nil
		return nil

	case data[0] == '"':
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}

		seq, err := ParseGainSequence(str)
		if err != nil {
			return err
		}

		*s = seq

		return nil

	case data[0] == '[':
		var values []float32
		if err := json.Unmarshal(data, &values); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidSequence, err)
		}

		*s = values

		return nil

	default:
		var v float32
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidSequence, err)
		}

		*s = GainSequence{v}

		return nil
	}
}
