package dashboard

import (
	"time"

	"github.com/grishy/gopkgview/internal/depgraph"
	"github.com/grishy/gopkgview/internal/viewmodel"
)

// Event types pushed over /api/events.
const (
	EventConnected     = "connected"
	EventViewUpdated   = "view.updated"
	EventViewError     = "view.error"
	EventLayoutFailed  = "layout.failed"
	EventGraphReloaded = "graph.reloaded"
)

// ViewState is what the viewer renders: the UI state and the styled graph
// derived from it.
type ViewState struct {
	State viewmodel.UIState         `json:"state"`
	Graph viewmodel.RenderableGraph `json:"graph"`
	// Generation is the layout generation Graph's positions come from.
	Generation    uint64 `json:"generation"`
	LayoutPending bool   `json:"layoutPending"`
	LayoutError   string `json:"layoutError,omitempty"`
	// DeriveError is set while the last derive failed. Graph is then the
	// last good one, or empty if no derive has succeeded yet.
	DeriveError *ErrorResponse `json:"deriveError,omitempty"`
}

// ErrorResponse is the body of a failed API call.
type ErrorResponse struct {
	Error    string `json:"error"`
	Category string `json:"category,omitempty"`
	Node     string `json:"node,omitempty"`
}

// ReloadInfo describes a replaced graph snapshot.
type ReloadInfo struct {
	Stats depgraph.GraphStats `json:"stats"`
	// Dropped lists interaction targets that no longer exist.
	Dropped []string `json:"dropped,omitempty"`
}

// LayoutFailure describes a failed layout generation.
type LayoutFailure struct {
	Generation uint64 `json:"generation"`
	Error      string `json:"error"`
	DurationMS int64  `json:"duration_ms"`
}

// Event represents a real-time viewer event.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}
