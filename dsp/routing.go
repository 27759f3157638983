package dsp

import (
	"cmp"
	"fmt"
	"slices"
)

// RoutingEntry connects one input channel to one output channel through a
// filter slot with a linear gain.
type RoutingEntry struct {
	Input  int     `json:"input"`
	Output int     `json:"output"`
	Filter int     `json:"filter"`
	Gain   float32 `json:"gain"`
}

// compareRouting orders entries by output, then input.
func compareRouting(a, b RoutingEntry) int {
	if c := cmp.Compare(a.Output, b.Output); c != 0 {
		return c
	}

	return cmp.Compare(a.Input, b.Input)
}

// RoutingTable is a sparse input/output/filter matrix with a capacity fixed
// at construction. Entries are kept sorted by (Output, Input) and at most one
// entry exists per (Input, Output) pair.
//
// Every mutating method either succeeds completely or leaves the table
// untouched. None of them allocates.
type RoutingTable struct {
	numInputs  int
	numOutputs int
	numFilters int

	entries []RoutingEntry // len = active entries, cap = capacity
}

// NewRoutingTable creates an empty routing table.
func NewRoutingTable(numInputs, numOutputs, numFilters, capacity int) *RoutingTable {
	return &RoutingTable{
		numInputs:  numInputs,
		numOutputs: numOutputs,
		numFilters: numFilters,
		entries:    make([]RoutingEntry, 0, capacity),
	}
}

// Len returns the number of active entries.
func (t *RoutingTable) Len() int {
	return len(t.entries)
}

// Capacity returns the maximum number of entries.
func (t *RoutingTable) Capacity() int {
	return cap(t.entries)
}

// Entries returns a copy of the active entries in (Output, Input) order.
func (t *RoutingTable) Entries() []RoutingEntry {
	return slices.Clone(t.entries)
}

// Lookup returns the entry for the (input, output) pair.
func (t *RoutingTable) Lookup(input, output int) (RoutingEntry, bool) {
	idx, found := t.find(input, output)
	if !found {
		return RoutingEntry{}, false
	}

	return t.entries[idx], true
}

// Init replaces all entries. If the list names the same (input, output) pair
// more than once, the last occurrence wins.
func (t *RoutingTable) Init(entries []RoutingEntry) error {
	if len(entries) > cap(t.entries) {
		return fmt.Errorf("%w: %w: %d routing entries, table holds at most %d",
			ErrInvalidArgument, ErrCapacityExceeded, len(entries), cap(t.entries))
	}

	for i := range entries {
		if err := t.validate(entries[i]); err != nil {
			return fmt.Errorf("routing entry %d: %w", i, err)
		}
	}

	t.entries = t.entries[:len(entries)]
	copy(t.entries, entries)

	// Stable sort keeps list order within equal keys, so the last
	// occurrence of a key is the last element of its run.
	slices.SortStableFunc(t.entries, compareRouting)

	kept := 0
	for i := range t.entries {
		if i+1 < len(t.entries) && compareRouting(t.entries[i], t.entries[i+1]) == 0 {
			continue
		}

		t.entries[kept] = t.entries[i]
		kept++
	}

	t.entries = t.entries[:kept]

	return nil
}

// Set inserts an entry or overwrites the entry with the same (Input, Output)
// pair. Capacity is only checked when the pair is new.
func (t *RoutingTable) Set(entry RoutingEntry) error {
	if err := t.validate(entry); err != nil {
		return err
	}

	idx, found := t.find(entry.Input, entry.Output)
	if found {
		t.entries[idx] = entry
		return nil
	}

	if len(t.entries) == cap(t.entries) {
		return fmt.Errorf("%w: %w: routing table is full (%d entries)",
			ErrInvalidArgument, ErrCapacityExceeded, cap(t.entries))
	}

	t.entries = slices.Insert(t.entries, idx, entry)

	return nil
}

// Remove deletes the entry for the (input, output) pair and reports whether
// one existed.
func (t *RoutingTable) Remove(input, output int) bool {
	idx, found := t.find(input, output)
	if !found {
		return false
	}

	t.entries = slices.Delete(t.entries, idx, idx+1)

	return true
}

// Clear removes all entries.
func (t *RoutingTable) Clear() {
	t.entries = t.entries[:0]
}

func (t *RoutingTable) find(input, output int) (int, bool) {
	return slices.BinarySearchFunc(t.entries, RoutingEntry{Input: input, Output: output}, compareRouting)
}

func (t *RoutingTable) validate(e RoutingEntry) error {
	switch {
	case e.Input < 0 || e.Input >= t.numInputs:
		return fmt.Errorf("%w: %w: input %d not in [0, %d)", ErrInvalidArgument, ErrOutOfRange, e.Input, t.numInputs)
	case e.Output < 0 || e.Output >= t.numOutputs:
		return fmt.Errorf("%w: %w: output %d not in [0, %d)", ErrInvalidArgument, ErrOutOfRange, e.Output, t.numOutputs)
	case e.Filter < 0 || e.Filter >= t.numFilters:
		return fmt.Errorf("%w: %w: filter %d not in [0, %d)", ErrInvalidArgument, ErrOutOfRange, e.Filter, t.numFilters)
	}

	return nil
}
