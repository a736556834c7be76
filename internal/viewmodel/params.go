// Package viewmodel derives the renderable, styled import subgraph shown by
// the viewer from the full graph, the category toggles and the current
// hover/selection. Everything here is a pure function of its inputs.
package viewmodel

import (
	"errors"
	"fmt"
)

// ErrUnknownAction is returned by Reduce for an unrecognized action type.
var ErrUnknownAction = errors.New("unknown action")

// Params are the user-toggled view parameters. Local packages are always
// shown and have no toggle.
type Params struct {
	ShowStd         bool `json:"showStd" mapstructure:"show_std"`
	ShowExternal    bool `json:"showExternal" mapstructure:"show_external"`
	ShowError       bool `json:"showError" mapstructure:"show_error"`
	OnlyDirectEdges bool `json:"onlyDirectEdges" mapstructure:"only_direct_edges"`
}

// DefaultParams hides std and external packages and shows parse errors.
func DefaultParams() Params {
	return Params{ShowError: true}
}

// Interaction is the transient pointer state. An empty ID means none.
type Interaction struct {
	Selected string `json:"selected,omitempty"`
	Hovered  string `json:"hovered,omitempty"`
}

// UIState is everything the viewer derives its output from besides the graph.
type UIState struct {
	Params      Params      `json:"params"`
	Interaction Interaction `json:"interaction"`
}

// ActionType names a UI event.
type ActionType string

const (
	ActionSelect         ActionType = "select"
	ActionClose          ActionType = "close"
	ActionHover          ActionType = "hover"
	ActionLeave          ActionType = "leave"
	ActionToggleStd      ActionType = "toggle_std"
	ActionToggleExternal ActionType = "toggle_external"
	ActionToggleError    ActionType = "toggle_error"
	ActionToggleDirect   ActionType = "toggle_direct"
	ActionSetParams      ActionType = "set_params"
)

// Action is a single UI event. Node is used by select and hover; Params by
// set_params.
type Action struct {
	Type   ActionType `json:"type"`
	Node   string     `json:"node,omitempty"`
	Params *Params    `json:"params,omitempty"`
}

// Reduce applies a to s and returns the new state. Selection and hover are
// independent: only close touches both, and it also turns off
// OnlyDirectEdges.
func Reduce(s UIState, a Action) (UIState, error) {
	switch a.Type {
	case ActionSelect:
		if a.Node == "" {
			return s, fmt.Errorf("%w: select requires a node", ErrUnknownAction)
		}
		s.Interaction.Selected = a.Node
	case ActionClose:
		s.Interaction.Selected = ""
		s.Interaction.Hovered = ""
		s.Params.OnlyDirectEdges = false
	case ActionHover:
		if a.Node == "" {
			return s, fmt.Errorf("%w: hover requires a node", ErrUnknownAction)
		}
		s.Interaction.Hovered = a.Node
	case ActionLeave:
		s.Interaction.Hovered = ""
	case ActionToggleStd:
		s.Params.ShowStd = !s.Params.ShowStd
	case ActionToggleExternal:
		s.Params.ShowExternal = !s.Params.ShowExternal
	case ActionToggleError:
		s.Params.ShowError = !s.Params.ShowError
	case ActionToggleDirect:
		s.Params.OnlyDirectEdges = !s.Params.OnlyDirectEdges
	case ActionSetParams:
		if a.Params == nil {
			return s, fmt.Errorf("%w: set_params requires params", ErrUnknownAction)
		}
		s.Params = *a.Params
	default:
		return s, fmt.Errorf("%w: %q", ErrUnknownAction, a.Type)
	}
	return s, nil
}

// NeedsLayout reports whether moving from prev to next changes the visible
// subgraph. Hover changes only restyle.
func NeedsLayout(prev, next UIState) bool {
	return prev.Params != next.Params || prev.Interaction.Selected != next.Interaction.Selected
}
