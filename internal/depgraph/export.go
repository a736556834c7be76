package depgraph

import (
	"fmt"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
)

// ExportDOT generates a Graphviz DOT representation of the graph.
func ExportDOT(g *Graph) string {
	var b strings.Builder
	b.WriteString("digraph imports {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [fontname=\"Helvetica\" shape=box style=\"rounded,filled\"];\n")
	b.WriteString("  edge [fontname=\"Helvetica\" fontsize=10];\n\n")

	// Group nodes by category using clusters
	byCategory := groupByCategory(g.Nodes)
	for _, c := range sortedCategories(byCategory) {
		b.WriteString(fmt.Sprintf("  subgraph cluster_%s {\n", sanitizeID(string(c))))
		b.WriteString(fmt.Sprintf("    label=%q;\n", string(c)))
		b.WriteString("    style=dashed;\n")
		b.WriteString("    color=\"#94a3b8\";\n")
		for _, n := range byCategory[c] {
			b.WriteString(fmt.Sprintf("    %q [label=%q fillcolor=%q];\n", n.ID, n.Label, categoryColor(n.Category)))
		}
		b.WriteString("  }\n\n")
	}

	for _, e := range g.Edges {
		b.WriteString(fmt.Sprintf("  %q -> %q;\n", e.From, e.To))
	}

	b.WriteString("}\n")
	return b.String()
}

// ExportMermaid generates a Mermaid flowchart of the graph.
func ExportMermaid(g *Graph) string {
	var b strings.Builder
	b.WriteString("graph LR\n")

	byCategory := groupByCategory(g.Nodes)
	for _, c := range sortedCategories(byCategory) {
		b.WriteString(fmt.Sprintf("  subgraph %s\n", sanitizeID(string(c))))
		for _, n := range byCategory[c] {
			b.WriteString(fmt.Sprintf("    %s%s\n", sanitizeID(n.ID), mermaidNodeShape(n)))
		}
		b.WriteString("  end\n")
	}

	for _, e := range g.Edges {
		b.WriteString(fmt.Sprintf("  %s --> %s\n", sanitizeID(e.From), sanitizeID(e.To)))
	}

	for _, c := range Categories {
		b.WriteString(fmt.Sprintf("  classDef %s fill:%s\n", sanitizeID(string(c)), categoryColor(c)))
	}
	for _, n := range g.Nodes {
		if n.Category.Known() {
			b.WriteString(fmt.Sprintf("  class %s %s\n", sanitizeID(n.ID), sanitizeID(string(n.Category))))
		}
	}

	return b.String()
}

// ExportJSON serializes the graph to JSON.
func ExportJSON(g *Graph) ([]byte, error) {
	return json.MarshalIndent(g, "", "  ")
}

// FormatStats returns a human-readable summary of graph statistics.
func FormatStats(g *Graph) string {
	var b strings.Builder
	b.WriteString("Import Graph Statistics\n")
	b.WriteString("=======================\n\n")
	b.WriteString(fmt.Sprintf("Packages:    %d total\n", g.Stats.TotalNodes))
	b.WriteString(fmt.Sprintf("  Local:     %d\n", g.Stats.ByCategory[CategoryLocal]))
	b.WriteString(fmt.Sprintf("  Std:       %d\n", g.Stats.ByCategory[CategoryStd]))
	b.WriteString(fmt.Sprintf("  External:  %d\n", g.Stats.ByCategory[CategoryExternal]))
	b.WriteString(fmt.Sprintf("  Errors:    %d\n", g.Stats.ByCategory[CategoryError]))
	b.WriteString(fmt.Sprintf("Imports:     %d total\n", g.Stats.TotalEdges))
	b.WriteString(fmt.Sprintf("Max Fan-Out: %d (%s)\n", g.Stats.MaxFanOut, g.Stats.HotspotNode))
	b.WriteString(fmt.Sprintf("Max Fan-In:  %d (%s)\n", g.Stats.MaxFanIn, g.Stats.MostImported))
	b.WriteString(fmt.Sprintf("Components:  %d\n", g.Stats.ConnectedComponents))

	if len(g.Stats.ImportCycles) > 0 {
		b.WriteString(fmt.Sprintf("\nImport Cycles: %d\n", len(g.Stats.ImportCycles)))
		for i, cycle := range g.Stats.ImportCycles {
			b.WriteString(fmt.Sprintf("  %d: %s\n", i+1, strings.Join(cycle, " <-> ")))
		}
	}

	return b.String()
}

func groupByCategory(nodes []Node) map[Category][]Node {
	out := make(map[Category][]Node)
	for _, n := range nodes {
		out[n.Category] = append(out[n.Category], n)
	}
	return out
}

// sortedCategories returns the known categories in display order followed by
// any unknown ones alphabetically.
func sortedCategories(m map[Category][]Node) []Category {
	var out, unknown []Category
	for _, c := range Categories {
		if _, ok := m[c]; ok {
			out = append(out, c)
		}
	}
	for c := range m {
		if !c.Known() {
			unknown = append(unknown, c)
		}
	}
	sort.Slice(unknown, func(i, j int) bool { return unknown[i] < unknown[j] })
	return append(out, unknown...)
}

func sanitizeID(s string) string {
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			return r
		}
		return '_'
	}, s)
}

func categoryColor(c Category) string {
	switch c {
	case CategoryStd:
		return "#ecfccb"
	case CategoryExternal:
		return "#eff6ff"
	case CategoryError:
		return "#ffefef"
	default:
		return "#ffffff"
	}
}

func mermaidNodeShape(n Node) string {
	label := strings.ReplaceAll(n.Label, "\"", "'")
	switch n.Category {
	case CategoryLocal:
		return fmt.Sprintf("[[\"%s\"]]", label)
	case CategoryStd:
		return fmt.Sprintf("([\"%s\"])", label)
	case CategoryError:
		return fmt.Sprintf("{\"%s\"}", label)
	default:
		return fmt.Sprintf("[\"%s\"]", label)
	}
}
