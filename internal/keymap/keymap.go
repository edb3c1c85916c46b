// Package keymap maps keyboard chords to workspace actions.
package keymap

import (
	"fmt"
	"strings"
)

// Action identifies a bound operation.
type Action int

const (
	ActionNone Action = iota
	ActionRun
	ActionSelectOrdinal
	ActionToggleOutput
	ActionCreateDocument
	ActionCloseOutput
)

func (a Action) String() string {
	switch a {
	case ActionRun:
		return "run"
	case ActionSelectOrdinal:
		return "select"
	case ActionToggleOutput:
		return "toggle-output"
	case ActionCreateDocument:
		return "create-document"
	case ActionCloseOutput:
		return "close-output"
	default:
		return "none"
	}
}

// Event is one key press with its modifiers.
type Event struct {
	Ctrl  bool
	Meta  bool
	Alt   bool
	Shift bool
	Key   string
}

// Handler performs the bound actions.
type Handler interface {
	Run()
	// SelectOrdinal selects the nth document (1-based); out of range is a no-op.
	SelectOrdinal(n int)
	ToggleOutput()
	CreateDocument()
	CloseOutput()
}

// Result describes how an event was dispatched.
type Result struct {
	Action  Action
	Ordinal int
	Handled bool
	// PreventDefault is set for every bound chord.
	PreventDefault bool
}

// Router is a stateless dispatch table.
type Router struct {
	h Handler
}

// NewRouter creates a router dispatching to h.
func NewRouter(h Handler) *Router {
	return &Router{h: h}
}

// Resolve maps ev to its action without invoking it.
func Resolve(ev Event) (Action, int) {
	key := strings.ToLower(ev.Key)
	switch {
	case ev.Ctrl && key == "r":
		return ActionRun, 0
	case ev.Ctrl && len(key) == 1 && key[0] >= '1' && key[0] <= '9':
		return ActionSelectOrdinal, int(key[0] - '0')
	case ev.Meta && key == "j":
		return ActionToggleOutput, 0
	case ev.Ctrl && key == "n":
		return ActionCreateDocument, 0
	case key == "escape":
		return ActionCloseOutput, 0
	}
	return ActionNone, 0
}

// Dispatch resolves ev and invokes the bound action, if any.
func (r *Router) Dispatch(ev Event) Result {
	action, n := Resolve(ev)
	switch action {
	case ActionRun:
		r.h.Run()
	case ActionSelectOrdinal:
		r.h.SelectOrdinal(n)
	case ActionToggleOutput:
		r.h.ToggleOutput()
	case ActionCreateDocument:
		r.h.CreateDocument()
	case ActionCloseOutput:
		r.h.CloseOutput()
	default:
		return Result{}
	}
	return Result{Action: action, Ordinal: n, Handled: true, PreventDefault: true}
}

// ParseChord parses chords such as "ctrl+r", "Meta+J" or "escape".
func ParseChord(s string) (Event, error) {
	parts := strings.Split(strings.TrimSpace(s), "+")
	var ev Event
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if i == len(parts)-1 {
			if p == "" {
				return Event{}, fmt.Errorf("keymap: missing key in %q", s)
			}
			ev.Key = strings.ToLower(p)
			break
		}
		switch strings.ToLower(p) {
		case "ctrl", "control":
			ev.Ctrl = true
		case "meta", "cmd", "super":
			ev.Meta = true
		case "alt", "option":
			ev.Alt = true
		case "shift":
			ev.Shift = true
		default:
			return Event{}, fmt.Errorf("keymap: unknown modifier %q", p)
		}
	}
	if ev.Key == "esc" {
		ev.Key = "escape"
	}
	return ev, nil
}
