package depgraph

import (
	"errors"
	"fmt"
)

// ErrInvalidGraph is returned when a snapshot violates the graph invariants.
var ErrInvalidGraph = errors.New("invalid graph")

// Category classifies where a package comes from. Every node has exactly one.
type Category string

const (
	CategoryLocal    Category = "local"
	CategoryStd      Category = "std"
	CategoryExternal Category = "external"
	CategoryError    Category = "error"
)

// Categories lists the recognized categories in display order.
var Categories = []Category{CategoryLocal, CategoryStd, CategoryExternal, CategoryError}

// Known reports whether c is one of the four recognized categories.
func (c Category) Known() bool {
	switch c {
	case CategoryLocal, CategoryStd, CategoryExternal, CategoryError:
		return true
	}
	return false
}

// Node is a package in the import graph.
type Node struct {
	ID       string   `json:"id"`   // import path
	Name     string   `json:"name"` // package name
	Label    string   `json:"label"`
	Category Category `json:"category"`
}

// Edge is a directed import: From imports To.
type Edge struct {
	ID   string `json:"id"`
	From string `json:"from"`
	To   string `json:"to"`
}

// EdgeID derives the edge identifier for an ordered pair.
func EdgeID(from, to string) string {
	return from + "-" + to
}

// NewEdge builds an edge with its derived ID.
func NewEdge(from, to string) Edge {
	return Edge{ID: EdgeID(from, to), From: from, To: to}
}

// LabelFor returns the display text of a package: local packages are shown
// by name, everything else by import path.
func LabelFor(importPath, name string, c Category) string {
	if c == CategoryLocal && name != "" {
		return name
	}
	return importPath
}

// Graph is an immutable snapshot of the package import graph.
type Graph struct {
	Nodes []Node     `json:"nodes"`
	Edges []Edge     `json:"edges"`
	Stats GraphStats `json:"stats"`

	index map[string]int
}

// GraphStats holds computed metrics about the graph
type GraphStats struct {
	TotalNodes          int              `json:"total_nodes"`
	TotalEdges          int              `json:"total_edges"`
	ByCategory          map[Category]int `json:"by_category"`
	MaxFanOut           int              `json:"max_fan_out"` // most imports
	MaxFanIn            int              `json:"max_fan_in"`  // most importers
	HotspotNode         string           `json:"hotspot_node"`
	MostImported        string           `json:"most_imported"`
	ConnectedComponents int              `json:"connected_components"`
	ImportCycles        [][]string       `json:"import_cycles,omitempty"`
}

// NewGraph validates a snapshot and computes its stats. Node IDs must be
// unique, edge IDs unique per ordered pair, and every edge endpoint must be a
// node of the snapshot.
func NewGraph(nodes []Node, edges []Edge) (*Graph, error) {
	g := &Graph{
		Nodes: make([]Node, len(nodes)),
		Edges: make([]Edge, len(edges)),
		index: make(map[string]int, len(nodes)),
	}
	copy(g.Nodes, nodes)
	copy(g.Edges, edges)

	for i, n := range g.Nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("%w: node %d has empty id", ErrInvalidGraph, i)
		}
		if _, dup := g.index[n.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate node %q", ErrInvalidGraph, n.ID)
		}
		g.index[n.ID] = i
	}

	seen := make(map[[2]string]bool, len(g.Edges))
	for i, e := range g.Edges {
		if e.ID == "" {
			g.Edges[i].ID = EdgeID(e.From, e.To)
			e = g.Edges[i]
		}
		pair := [2]string{e.From, e.To}
		if seen[pair] {
			return nil, fmt.Errorf("%w: duplicate edge %q", ErrInvalidGraph, e.ID)
		}
		seen[pair] = true
		if !g.HasNode(e.From) || !g.HasNode(e.To) {
			return nil, fmt.Errorf("%w: edge %q has a missing endpoint", ErrInvalidGraph, e.ID)
		}
	}

	g.computeStats()
	return g, nil
}

// HasNode reports whether id is a node of the graph.
func (g *Graph) HasNode(id string) bool {
	_, ok := g.Node(id)
	return ok
}

// Node returns the node with the given id. Graphs built outside NewGraph
// have no index and fall back to a scan.
func (g *Graph) Node(id string) (Node, bool) {
	if g.index != nil {
		i, ok := g.index[id]
		if !ok {
			return Node{}, false
		}
		return g.Nodes[i], true
	}
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}
