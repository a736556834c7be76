package viewmodel

import (
	"errors"
	"fmt"
	"slices"

	"github.com/grishy/gopkgview/internal/depgraph"
)

// ErrUnknownCategory matches any *UnknownCategoryError.
var ErrUnknownCategory = errors.New("unknown category")

// UnknownCategoryError reports a node whose category is not one of the
// recognized kinds. It is a data contract violation by the graph source.
type UnknownCategoryError struct {
	NodeID   string
	Category depgraph.Category
}

func (e *UnknownCategoryError) Error() string {
	return fmt.Sprintf("unknown category %q on node %q", string(e.Category), e.NodeID)
}

func (e *UnknownCategoryError) Is(target error) bool {
	return target == ErrUnknownCategory
}

// Subgraph is the filtered node and edge set handed to layout.
type Subgraph struct {
	Nodes []depgraph.Node `json:"nodes"`
	Edges []depgraph.Edge `json:"edges"`
}

// SelectNeighborhood restricts nodes to the selected node and its direct
// neighbors in either direction. With nothing selected it returns all nodes.
// A selection that names no node yields an empty result.
func SelectNeighborhood(nodes []depgraph.Node, edges []depgraph.Edge, selected string) []depgraph.Node {
	if selected == "" {
		return slices.Clone(nodes)
	}

	keep := map[string]bool{selected: true}
	for _, e := range edges {
		switch selected {
		case e.From:
			keep[e.To] = true
		case e.To:
			keep[e.From] = true
		}
	}

	out := make([]depgraph.Node, 0, len(keep))
	for _, n := range nodes {
		if keep[n.ID] {
			out = append(out, n)
		}
	}
	if !slices.ContainsFunc(out, func(n depgraph.Node) bool { return n.ID == selected }) {
		return []depgraph.Node{}
	}
	return out
}

// FilterCategories drops nodes whose category toggle is off. The selected
// node and local nodes always pass. Every node's category is checked, so an
// unknown category fails the pass even on an otherwise exempt node.
func FilterCategories(nodes []depgraph.Node, p Params, selected string) ([]depgraph.Node, error) {
	out := make([]depgraph.Node, 0, len(nodes))
	for _, n := range nodes {
		visible, err := categoryVisible(n, p)
		if err != nil {
			return nil, err
		}
		if visible || (selected != "" && n.ID == selected) {
			out = append(out, n)
		}
	}
	return out, nil
}

func categoryVisible(n depgraph.Node, p Params) (bool, error) {
	switch n.Category {
	case depgraph.CategoryLocal:
		return true, nil
	case depgraph.CategoryStd:
		return p.ShowStd, nil
	case depgraph.CategoryExternal:
		return p.ShowExternal, nil
	case depgraph.CategoryError:
		return p.ShowError, nil
	default:
		return false, &UnknownCategoryError{NodeID: n.ID, Category: n.Category}
	}
}

// PruneEdges keeps edges whose endpoints both survived filtering. With
// OnlyDirectEdges set and a node selected, only edges touching the selection
// remain.
func PruneEdges(edges []depgraph.Edge, nodes []depgraph.Node, p Params, selected string) []depgraph.Edge {
	present := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		present[n.ID] = true
	}
	direct := p.OnlyDirectEdges && selected != ""

	out := make([]depgraph.Edge, 0, len(edges))
	for _, e := range edges {
		if !present[e.From] || !present[e.To] {
			continue
		}
		if direct && e.From != selected && e.To != selected {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Filter runs neighborhood selection, category filtering and edge pruning.
func Filter(g *depgraph.Graph, p Params, in Interaction) (Subgraph, error) {
	nodes := SelectNeighborhood(g.Nodes, g.Edges, in.Selected)
	nodes, err := FilterCategories(nodes, p, in.Selected)
	if err != nil {
		return Subgraph{}, err
	}
	return Subgraph{
		Nodes: nodes,
		Edges: PruneEdges(g.Edges, nodes, p, in.Selected),
	}, nil
}
