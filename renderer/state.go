package renderer

import "matrixconv/dsp"

// State is a snapshot of the renderer configuration. Snapshots are
// immutable once published.
type State struct {
	// Version increases with every published snapshot.
	Version     uint64             `json:"version"`
	FilterSet   string             `json:"filterSet"`
	Routings    []dsp.RoutingEntry `json:"routings"`
	Transitions int                `json:"transitions"`
	// Slots lists the slots that hold a filter or are fading.
	Slots       []dsp.SlotStatus `json:"slots"`
	LastCommand *CommandResult   `json:"lastCommand,omitempty"`
}

// FilterSetInfo describes a loaded filter set.
type FilterSetInfo struct {
	Name    string   `json:"name"`
	Slots   []int    `json:"slots"`
	Sources []string `json:"sources"`
}

// Snapshot returns the latest published state.
func (r *Renderer) Snapshot() State {
	return *r.state.Load()
}

// Updates delivers published states. Only the newest undelivered state is
// kept, so a slow reader skips intermediate versions.
func (r *Renderer) Updates() <-chan State {
	return r.updates
}

// publish builds and publishes a snapshot. It allocates, so Process calls
// it only when something changed.
func (r *Renderer) publish() {
	r.version++

	s := State{
		Version:     r.version,
		Routings:    r.conv.Routings(),
		Transitions: r.conv.ActiveTransitions(),
		LastCommand: r.lastResult,
	}

	if r.current >= 0 {
		s.FilterSet = r.sets[r.current].Name
	}

	for slot := range r.cfg.MaxFilterEntries {
		status, err := r.conv.SlotStatus(slot)
		if err == nil && (status.Partitions > 0 || status.Transitioning) {
			s.Slots = append(s.Slots, status)
		}
	}

	r.state.Store(&s)
	r.dirty = false

	select {
	case r.updates <- s:
	default:
		select {
		case <-r.updates:
		default:
		}

		select {
		case r.updates <- s:
		default:
		}
	}
}
