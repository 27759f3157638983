package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nsf/termbox-go"

	"matrixconv/dsp"
	"matrixconv/renderer"
)

const (
	colDef     = termbox.ColorDefault
	colWhite   = termbox.ColorWhite
	colRed     = termbox.ColorRed
	colGreen   = termbox.ColorGreen
	colYellow  = termbox.ColorYellow
	colBlue    = termbox.ColorBlue
	colCyan    = termbox.ColorCyan
	colMagenta = termbox.ColorMagenta
)

// gainStep is the linear gain change per +/- key press.
const gainStep = 0.05

type pane int

const (
	paneRoutings pane = iota
	paneSets
)

// tuiController is the renderer surface the TUI drives.
type tuiController interface {
	Snapshot() renderer.State
	Levels() renderer.Levels
	FilterSets() []renderer.FilterSetInfo
	Config() dsp.Config

	SetRouting(e dsp.RoutingEntry) (uuid.UUID, error)
	RemoveRouting(input, output int) (uuid.UUID, error)
	SelectFilterSet(name string, crossfade bool) (uuid.UUID, error)
	ClearFilters() (uuid.UUID, error)
}

type TUIState struct {
	ctrl       tuiController
	pane       pane
	selRouting int
	selSet     int
	status     string
	exit       bool
}

func runTUI(ctx context.Context, ctrl tuiController) error {
	if err := termbox.Init(); err != nil {
		return fmt.Errorf("initialize TUI: %w", err)
	}
	defer termbox.Close()

	termbox.SetInputMode(termbox.InputEsc)

	state := &TUIState{ctrl: ctrl}
	eventQueue := make(chan termbox.Event)

	go func() {
		for {
			ev := termbox.PollEvent()

			select {
			case eventQueue <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	draw(state)

	for !state.exit {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-eventQueue:
			switch ev.Type {
			case termbox.EventKey:
				handleKey(ev, state)
			case termbox.EventResize:
				draw(state)
			}
		case <-ticker.C:
			draw(state)
		}
	}

	return nil
}

func handleKey(ev termbox.Event, s *TUIState) {
	if ev.Key == termbox.KeyEsc || ev.Ch == 'q' {
		s.exit = true
		return
	}

	st := s.ctrl.Snapshot()

	switch ev.Key {
	case termbox.KeyTab, termbox.KeyArrowLeft, termbox.KeyArrowRight:
		if s.pane == paneRoutings {
			s.pane = paneSets
		} else {
			s.pane = paneRoutings
		}

		return
	case termbox.KeyArrowUp:
		s.move(-1, st)
		return
	case termbox.KeyArrowDown:
		s.move(1, st)
		return
	case termbox.KeyEnter:
		if s.pane == paneSets {
			sets := s.ctrl.FilterSets()
			if s.selSet < len(sets) {
				s.report(renderer.CommandSelectFilterSet)(s.ctrl.SelectFilterSet(sets[s.selSet].Name, true))
			}
		}

		return
	}

	switch ev.Ch {
	case 'c':
		s.report(renderer.CommandClearFilters)(s.ctrl.ClearFilters())
	case '+', '=':
		s.adjustGain(st, gainStep)
	case '-':
		s.adjustGain(st, -gainStep)
	case 'd':
		if e, ok := s.selectedRouting(st); ok {
			s.report(renderer.CommandRemoveRouting)(s.ctrl.RemoveRouting(e.Input, e.Output))
		}
	}
}

func (s *TUIState) move(delta int, st renderer.State) {
	n := len(st.Routings)
	sel := &s.selRouting

	if s.pane == paneSets {
		n = len(s.ctrl.FilterSets())
		sel = &s.selSet
	}

	if n == 0 {
		*sel = 0
		return
	}

	*sel = ((*sel+delta)%n + n) % n
}

func (s *TUIState) selectedRouting(st renderer.State) (dsp.RoutingEntry, bool) {
	if s.pane != paneRoutings || len(st.Routings) == 0 {
		return dsp.RoutingEntry{}, false
	}

	s.selRouting = min(s.selRouting, len(st.Routings)-1)

	return st.Routings[s.selRouting], true
}

func (s *TUIState) adjustGain(st renderer.State, delta float32) {
	e, ok := s.selectedRouting(st)
	if !ok {
		return
	}

	e.Gain += delta
	s.report(renderer.CommandSetRouting)(s.ctrl.SetRouting(e))
}

// report returns a function recording the outcome of queueing kind.
func (s *TUIState) report(kind renderer.CommandKind) func(uuid.UUID, error) {
	return func(id uuid.UUID, err error) {
		if err != nil {
			s.status = fmt.Sprintf("%s rejected: %v", kind, err)
			return
		}

		s.status = fmt.Sprintf("%s queued (%s)", kind, id.String()[:8])
	}
}

func draw(state *TUIState) {
	_ = termbox.Clear(colDef, colDef)

	st := state.ctrl.Snapshot()
	cfg := state.ctrl.Config()

	printTB(0, 0, colCyan, colDef, "matrixconv - Interactive Mode")
	printTB(0, 1, colWhite, colDef, fmt.Sprintf("%d in, %d out, block %d, filter length %d, crossfade %d samples",
		cfg.NumberOfInputs, cfg.NumberOfOutputs, cfg.BlockLength, cfg.MaxFilterLength, cfg.TransitionSamples))
	printTB(0, 2, colDef, colDef, "Arrows select, Tab switch pane, +/- gain, d remove, Enter load set, c clear, q quit.")
	printTB(0, 3, colDef, colDef, "------------------------------------------------------------------------------")

	y := drawRoutings(state, st, 5)
	y = drawSets(state, st, y+1)
	y = drawTransitions(st, y+1)

	levels := state.ctrl.Levels()

	printTB(0, y+1, colYellow, colDef, "Meters:")
	y += 2

	for c, db := range levels.Input {
		drawMeter(y, fmt.Sprintf("In %-3d", c), db, colGreen)
		y++
	}

	for c, db := range levels.Output {
		drawMeter(y, fmt.Sprintf("Out %-2d", c), db, colBlue)
		y++
	}

	if st.LastCommand != nil && st.LastCommand.Error != "" {
		printTB(0, y+1, colRed, colDef, fmt.Sprintf("last command %s failed: %s", st.LastCommand.Command, st.LastCommand.Error))
		y++
	}

	printTB(0, y+1, colMagenta, colDef, state.status)

	termbox.Flush()
}

func drawRoutings(state *TUIState, st renderer.State, y int) int {
	title := colYellow
	if state.pane == paneRoutings {
		title = colCyan
	}

	printTB(0, y, title, colDef, fmt.Sprintf("Routings (%d):", len(st.Routings)))
	y++

	if len(st.Routings) == 0 {
		printTB(2, y, colDef, colDef, "(none)")
		return y + 1
	}

	for i, e := range st.Routings {
		fg, bg, prefix := colWhite, colDef, "  "
		if state.pane == paneRoutings && i == state.selRouting {
			fg, bg, prefix = colDef, colWhite, "> "
		}

		printTB(0, y, fg, bg, fmt.Sprintf("%sin %-3d -> out %-3d filter %-3d gain %6.2f", prefix, e.Input, e.Output, e.Filter, e.Gain))
		y++
	}

	return y
}

func drawSets(state *TUIState, st renderer.State, y int) int {
	title := colYellow
	if state.pane == paneSets {
		title = colCyan
	}

	printTB(0, y, title, colDef, "Filter sets:")
	y++

	for i, set := range state.ctrl.FilterSets() {
		fg, bg, prefix := colWhite, colDef, "  "
		if state.pane == paneSets && i == state.selSet {
			fg, bg, prefix = colDef, colWhite, "> "
		}

		suffix := ""
		if set.Name == st.FilterSet {
			suffix = " [current]"
		}

		printTB(0, y, fg, bg, fmt.Sprintf("%s%-24s %d filters%s", prefix, set.Name, len(set.Slots), suffix))
		y++
	}

	return y
}

func drawTransitions(st renderer.State, y int) int {
	if st.Transitions == 0 {
		printTB(0, y, colDef, colDef, "Crossfade: idle")
		return y + 1
	}

	printTB(0, y, colYellow, colDef, fmt.Sprintf("Crossfade: %d slot(s) transitioning", st.Transitions))
	y++

	for _, slot := range st.Slots {
		if slot.Transitioning {
			printTB(2, y, colDef, colDef, fmt.Sprintf("slot %-3d %3.0f%%", slot.Slot, 100*slot.Progress))
			y++
		}
	}

	return y
}

func drawMeter(yPos int, label string, db float64, color termbox.Attribute) {
	const (
		barWidth = 60
		xPos     = 2
		minDB    = -96.0
		maxDB    = 6.0
	)

	db = min(max(db, minDB), maxDB)

	ratio := (db - minDB) / (maxDB - minDB)
	filled := int(ratio * float64(barWidth))

	printTB(xPos, yPos, colDef, colDef, fmt.Sprintf("%s [%-6.1f dB] ", label, db))

	startX := xPos + 17

	for i := range barWidth {
		barChar := '░'
		if i < filled {
			barChar = '█'
		}

		termbox.SetCell(startX+i, yPos, barChar, color, colDef)
	}
}

func printTB(x, y int, fg, bg termbox.Attribute, msg string) {
	for _, c := range msg {
		termbox.SetCell(x, y, c, fg, bg)
		x++
	}
}
