package viewmodel

import (
	"github.com/grishy/gopkgview/internal/depgraph"
)

// Node box geometry.
const (
	MinNodeWidth = 100
	CharWidth    = 7
	NodeHeight   = 40
)

// MarkerArrow is the only edge marker the viewer draws.
const MarkerArrow = "arrow"

// Role is a node's relation to the selected node.
type Role string

const (
	RoleNone     Role = ""
	RoleSelected Role = "selected"
	RoleImporter Role = "importer" // imports the selected node
	RoleImported Role = "imported" // imported by the selected node
)

// Direction is an edge's orientation relative to the selected node.
type Direction string

const (
	DirectionNone     Direction = ""
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Theme holds every visual constant used during annotation.
type Theme struct {
	Background map[depgraph.Category]string

	SelectedBorder string
	ImporterBorder string
	ImportedBorder string

	InboundColor   string
	OutboundColor  string
	HighlightColor string

	DimmedNodeOpacity float64
	DimmedEdgeOpacity float64

	MarkerSize          int
	HighlightMarkerSize int
}

// DefaultTheme is the viewer's stock palette.
func DefaultTheme() Theme {
	return Theme{
		Background: map[depgraph.Category]string{
			depgraph.CategoryStd:      "#ecfccb",
			depgraph.CategoryExternal: "#eff6ff",
			depgraph.CategoryError:    "#ffefef",
		},
		SelectedBorder:      "2px solid rgb(16 185 129)",
		ImporterBorder:      "2px solid rgb(249 115 22)",
		ImportedBorder:      "2px solid rgb(120 113 108)",
		InboundColor:        "rgb(249 115 22)",
		OutboundColor:       "rgb(120 113 108)",
		HighlightColor:      "red",
		DimmedNodeOpacity:   0.2,
		DimmedEdgeOpacity:   0.1,
		MarkerSize:          24,
		HighlightMarkerSize: 32,
	}
}

// StyleForCategory returns the base style of a node of category c.
func (t Theme) StyleForCategory(c depgraph.Category) NodeStyle {
	return NodeStyle{Background: t.Background[c], Opacity: 1}
}

func (t Theme) borderFor(r Role) string {
	switch r {
	case RoleSelected:
		return t.SelectedBorder
	case RoleImporter:
		return t.ImporterBorder
	case RoleImported:
		return t.ImportedBorder
	}
	return ""
}

// Position is a node's top-left corner as placed by layout.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type NodeStyle struct {
	Background string  `json:"backgroundColor,omitempty"`
	Border     string  `json:"border,omitempty"`
	Opacity    float64 `json:"opacity"`
}

type EdgeStyle struct {
	Stroke  string   `json:"stroke,omitempty"`
	Opacity *float64 `json:"opacity,omitempty"`
}

// Marker is the arrowhead at an edge's target. An empty Color means the
// renderer's neutral default.
type Marker struct {
	Type   string `json:"type"`
	Color  string `json:"color,omitempty"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type RenderNode struct {
	ID       string            `json:"id"`
	Label    string            `json:"label"`
	Category depgraph.Category `json:"category"`
	Width    float64           `json:"width"`
	Height   float64           `json:"height"`
	Position Position          `json:"position"`
	Role     Role              `json:"role,omitempty"`
	Style    NodeStyle         `json:"style"`
}

type RenderEdge struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Target    string    `json:"target"`
	Direction Direction `json:"direction,omitempty"`
	Style     EdgeStyle `json:"style"`
	Marker    Marker    `json:"markerEnd"`
}

// RenderableGraph is the fully annotated output consumed by the renderer.
type RenderableGraph struct {
	Nodes []RenderNode `json:"nodes"`
	Edges []RenderEdge `json:"edges"`
}

// NodeSize returns the box size for a label.
func NodeSize(label string) (width, height float64) {
	return float64(max(MinNodeWidth, CharWidth*len(label))), NodeHeight
}

// Annotate sizes, places and styles a filtered subgraph. Positions missing
// from the map default to the origin.
//
// Selection colors edges by direction and borders the selection and its
// neighbors. Hover is applied last: the hovered node and its neighbors keep
// full opacity, everything else is dimmed, and edges touching the hovered
// node are highlighted.
func Annotate(sub Subgraph, positions map[string]Position, in Interaction, t Theme) RenderableGraph {
	roles := selectionRoles(sub.Edges, in.Selected)
	connected := hoverSet(sub.Edges, in.Hovered)

	out := RenderableGraph{
		Nodes: make([]RenderNode, 0, len(sub.Nodes)),
		Edges: make([]RenderEdge, 0, len(sub.Edges)),
	}

	for _, n := range sub.Nodes {
		w, h := NodeSize(n.Label)
		role := roles[n.ID]
		style := t.StyleForCategory(n.Category)
		style.Border = t.borderFor(role)
		if in.Hovered != "" && !connected[n.ID] {
			style.Opacity = t.DimmedNodeOpacity
		}
		out.Nodes = append(out.Nodes, RenderNode{
			ID:       n.ID,
			Label:    n.Label,
			Category: n.Category,
			Width:    w,
			Height:   h,
			Position: positions[n.ID],
			Role:     role,
			Style:    style,
		})
	}

	for _, e := range sub.Edges {
		out.Edges = append(out.Edges, annotateEdge(e, in, t))
	}
	return out
}

func annotateEdge(e depgraph.Edge, in Interaction, t Theme) RenderEdge {
	re := RenderEdge{
		ID:     e.ID,
		Source: e.From,
		Target: e.To,
		Marker: Marker{Type: MarkerArrow, Width: t.MarkerSize, Height: t.MarkerSize},
	}

	if in.Selected != "" {
		switch in.Selected {
		case e.To:
			re.Direction = DirectionInbound
			re.Style.Stroke = t.InboundColor
		case e.From:
			re.Direction = DirectionOutbound
			re.Style.Stroke = t.OutboundColor
		}
		re.Marker.Color = re.Style.Stroke
	}

	if in.Hovered == "" {
		return re
	}
	if e.From == in.Hovered || e.To == in.Hovered {
		re.Style.Stroke = t.HighlightColor
		re.Marker = Marker{Type: MarkerArrow, Color: t.HighlightColor, Width: t.HighlightMarkerSize, Height: t.HighlightMarkerSize}
		return re
	}
	dim := t.DimmedEdgeOpacity
	re.Style.Opacity = &dim
	re.Marker = Marker{Type: MarkerArrow, Width: t.MarkerSize, Height: t.MarkerSize}
	return re
}

// selectionRoles assigns a border role to the selected node and its
// neighbors. A node that both imports and is imported by the selection is an
// importer.
func selectionRoles(edges []depgraph.Edge, selected string) map[string]Role {
	roles := make(map[string]Role)
	if selected == "" {
		return roles
	}
	for _, e := range edges {
		switch {
		case e.To == selected && e.From != selected:
			roles[e.From] = RoleImporter
		case e.From == selected && e.To != selected:
			if roles[e.To] == RoleNone {
				roles[e.To] = RoleImported
			}
		}
	}
	roles[selected] = RoleSelected
	return roles
}

func hoverSet(edges []depgraph.Edge, hovered string) map[string]bool {
	set := make(map[string]bool)
	if hovered == "" {
		return set
	}
	set[hovered] = true
	for _, e := range edges {
		switch hovered {
		case e.From:
			set[e.To] = true
		case e.To:
			set[e.From] = true
		}
	}
	return set
}

// Derive is the full pipeline without layout: every node sits at the origin.
func Derive(g *depgraph.Graph, p Params, in Interaction, t Theme) (RenderableGraph, error) {
	sub, err := Filter(g, p, in)
	if err != nil {
		return RenderableGraph{}, err
	}
	return Annotate(sub, nil, in, t), nil
}
