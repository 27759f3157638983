package renderer

import (
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"matrixconv/dsp"
)

// ErrNoRouting is reported when removing a routing that does not exist.
var ErrNoRouting = errors.New("renderer: no such routing")

// CommandKind names a control command.
type CommandKind string

// Command kinds.
const (
	CommandSetRouting      CommandKind = "set_routing"
	CommandRemoveRouting   CommandKind = "remove_routing"
	CommandReplaceRoutings CommandKind = "replace_routings"
	CommandSelectFilterSet CommandKind = "select_filter_set"
	CommandClearFilters    CommandKind = "clear_filters"
)

// CommandResult reports how a queued command was applied.
type CommandResult struct {
	ID      uuid.UUID   `json:"id"`
	Command CommandKind `json:"command"`
	Error   string      `json:"error,omitempty"`
}

type command struct {
	id        uuid.UUID
	kind      CommandKind
	entry     dsp.RoutingEntry
	entries   []dsp.RoutingEntry
	set       int
	crossfade bool
}

// SetRouting queues adding or replacing the routing from e.Input to
// e.Output.
func (r *Renderer) SetRouting(e dsp.RoutingEntry) (uuid.UUID, error) {
	if err := r.checkIndices(e.Input, e.Output); err != nil {
		return uuid.Nil, err
	}

	if e.Filter < 0 || e.Filter >= r.cfg.MaxFilterEntries {
		return uuid.Nil, fmt.Errorf("%w: %w: filter %d of %d", dsp.ErrInvalidArgument, dsp.ErrOutOfRange, e.Filter, r.cfg.MaxFilterEntries)
	}

	return r.enqueue(command{kind: CommandSetRouting, entry: e})
}

// RemoveRouting queues removing the routing from input to output.
func (r *Renderer) RemoveRouting(input, output int) (uuid.UUID, error) {
	if err := r.checkIndices(input, output); err != nil {
		return uuid.Nil, err
	}

	return r.enqueue(command{kind: CommandRemoveRouting, entry: dsp.RoutingEntry{Input: input, Output: output}})
}

// ReplaceRoutings queues replacing the whole routing table. The entries are
// validated here, including capacity, so the command cannot fail later.
func (r *Renderer) ReplaceRoutings(entries []dsp.RoutingEntry) (uuid.UUID, error) {
	check := dsp.NewRoutingTable(r.cfg.NumberOfInputs, r.cfg.NumberOfOutputs, r.cfg.MaxFilterEntries, r.cfg.MaxRoutingPoints)
	if err := check.Init(entries); err != nil {
		return uuid.Nil, err
	}

	return r.enqueue(command{kind: CommandReplaceRoutings, entries: slices.Clone(entries)})
}

// SelectFilterSet queues loading the named filter set, faded in over the
// transition length when crossfade is set.
func (r *Renderer) SelectFilterSet(name string, crossfade bool) (uuid.UUID, error) {
	idx, ok := r.setIndex[name]
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrUnknownFilterSet, name)
	}

	return r.enqueue(command{kind: CommandSelectFilterSet, set: idx, crossfade: crossfade})
}

// ClearFilters queues zeroing every filter slot.
func (r *Renderer) ClearFilters() (uuid.UUID, error) {
	return r.enqueue(command{kind: CommandClearFilters})
}

func (r *Renderer) checkIndices(input, output int) error {
	switch {
	case input < 0 || input >= r.cfg.NumberOfInputs:
		return fmt.Errorf("%w: %w: input %d of %d", dsp.ErrInvalidArgument, dsp.ErrOutOfRange, input, r.cfg.NumberOfInputs)
	case output < 0 || output >= r.cfg.NumberOfOutputs:
		return fmt.Errorf("%w: %w: output %d of %d", dsp.ErrInvalidArgument, dsp.ErrOutOfRange, output, r.cfg.NumberOfOutputs)
	}

	return nil
}

func (r *Renderer) enqueue(c command) (uuid.UUID, error) {
	c.id = uuid.New()

	select {
	case r.commands <- c:
		return c.id, nil
	default:
		return uuid.Nil, ErrQueueFull
	}
}

// drain applies at most one queue's worth of commands without blocking.
func (r *Renderer) drain() {
	for range cap(r.commands) {
		select {
		case c := <-r.commands:
			r.apply(c)
		default:
			return
		}
	}
}

// apply runs one command. A failing command leaves the convolver as it was.
func (r *Renderer) apply(c command) {
	var err error

	switch c.kind {
	case CommandSetRouting:
		e := c.entry
		err = r.conv.SetRouting(e.Input, e.Output, e.Filter, e.Gain)

	case CommandRemoveRouting:
		if !r.conv.RemoveRouting(c.entry.Input, c.entry.Output) {
			err = fmt.Errorf("%w: input %d to output %d", ErrNoRouting, c.entry.Input, c.entry.Output)
		}

	case CommandReplaceRoutings:
		err = r.conv.InitRoutingTable(c.entries)

	case CommandSelectFilterSet:
		r.loadSet(c.set, c.crossfade)

	case CommandClearFilters:
		r.conv.ClearFilters()
		r.current = -1
	}

	result := &CommandResult{ID: c.id, Command: c.kind}

	if err != nil {
		result.Error = err.Error()
		r.logger.Warn("command failed, keeping previous configuration", "command", c.kind, "id", c.id, "error", err)
	}

	r.lastResult = result
	r.dirty = true
}
