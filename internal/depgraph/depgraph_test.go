package depgraph

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/mod/modfile"
	"golang.org/x/mod/module"
)

// Helper for building test graphs from "from->to" pairs
func makeTestGraph(t *testing.T, nodes map[string]Category, imports ...string) *Graph {
	t.Helper()
	var ns []Node
	for id, c := range nodes {
		ns = append(ns, Node{ID: id, Name: filepath.Base(id), Label: LabelFor(id, filepath.Base(id), c), Category: c})
	}
	var es []Edge
	for _, imp := range imports {
		from, to, ok := strings.Cut(imp, "->")
		if !ok {
			t.Fatalf("bad import spec %q", imp)
		}
		es = append(es, NewEdge(from, to))
	}
	g, err := NewGraph(ns, es)
	if err != nil {
		t.Fatalf("NewGraph failed: %v", err)
	}
	return g
}

// Model Tests

func TestNewGraph_Empty(t *testing.T) {
	g, err := NewGraph(nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(g.Nodes) != 0 || len(g.Edges) != 0 {
		t.Errorf("expected empty graph, got %d nodes %d edges", len(g.Nodes), len(g.Edges))
	}
	if g.Stats.ConnectedComponents != 0 {
		t.Errorf("expected 0 components, got %d", g.Stats.ConnectedComponents)
	}
}

func TestNewGraph_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		nodes []Node
		edges []Edge
	}{
		{
			name:  "empty id",
			nodes: []Node{{ID: ""}},
		},
		{
			name:  "duplicate node",
			nodes: []Node{{ID: "a"}, {ID: "a"}},
		},
		{
			name:  "duplicate edge",
			nodes: []Node{{ID: "a"}, {ID: "b"}},
			edges: []Edge{NewEdge("a", "b"), NewEdge("a", "b")},
		},
		{
			name:  "missing target",
			nodes: []Node{{ID: "a"}},
			edges: []Edge{NewEdge("a", "b")},
		},
		{
			name:  "missing source",
			nodes: []Node{{ID: "b"}},
			edges: []Edge{NewEdge("a", "b")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGraph(tt.nodes, tt.edges)
			if !errors.Is(err, ErrInvalidGraph) {
				t.Errorf("expected ErrInvalidGraph, got %v", err)
			}
		})
	}
}

func TestNewGraph_FillsEdgeID(t *testing.T) {
	g, err := NewGraph([]Node{{ID: "a"}, {ID: "b"}}, []Edge{{From: "a", To: "b"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.Edges[0].ID != "a-b" {
		t.Errorf("expected edge id a-b, got %q", g.Edges[0].ID)
	}
}

func TestNewGraph_DoesNotAliasInput(t *testing.T) {
	nodes := []Node{{ID: "a"}, {ID: "b"}}
	edges := []Edge{{From: "a", To: "b"}}
	if _, err := NewGraph(nodes, edges); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if edges[0].ID != "" {
		t.Error("NewGraph should not modify the caller's edges")
	}
}

func TestGraph_NodeLookup(t *testing.T) {
	g := makeTestGraph(t, map[string]Category{"a": CategoryLocal})
	if n, ok := g.Node("a"); !ok || n.Category != CategoryLocal {
		t.Errorf("expected local node a, got %+v %v", n, ok)
	}
	if g.HasNode("missing") {
		t.Error("HasNode should be false for unknown id")
	}

	// Graphs decoded from JSON have no index.
	raw := Graph{Nodes: []Node{{ID: "x"}}}
	if !raw.HasNode("x") {
		t.Error("HasNode should scan unindexed graphs")
	}
}

func TestLabelFor(t *testing.T) {
	tests := []struct {
		path, name string
		category   Category
		want       string
	}{
		{"example.com/app/internal/db", "db", CategoryLocal, "db"},
		{"example.com/app/internal/db", "", CategoryLocal, "example.com/app/internal/db"},
		{"fmt", "fmt", CategoryStd, "fmt"},
		{"github.com/spf13/cobra", "cobra", CategoryExternal, "github.com/spf13/cobra"},
		{"example.com/app/broken", "[err] example.com/app/broken", CategoryError, "example.com/app/broken"},
	}
	for _, tt := range tests {
		if got := LabelFor(tt.path, tt.name, tt.category); got != tt.want {
			t.Errorf("LabelFor(%q, %q, %s) = %q, want %q", tt.path, tt.name, tt.category, got, tt.want)
		}
	}
}

// Stats Tests

func TestStats_Counts(t *testing.T) {
	g := makeTestGraph(t, map[string]Category{
		"app":    CategoryLocal,
		"app/db": CategoryLocal,
		"fmt":    CategoryStd,
		"os":     CategoryStd,
		"ext/x":  CategoryExternal,
		"broken": CategoryError,
	}, "app->app/db", "app->fmt", "app->ext/x", "app->broken", "app/db->fmt", "app/db->os")

	if g.Stats.TotalNodes != 6 {
		t.Errorf("expected 6 nodes, got %d", g.Stats.TotalNodes)
	}
	if g.Stats.TotalEdges != 6 {
		t.Errorf("expected 6 edges, got %d", g.Stats.TotalEdges)
	}
	want := map[Category]int{CategoryLocal: 2, CategoryStd: 2, CategoryExternal: 1, CategoryError: 1}
	for c, n := range want {
		if g.Stats.ByCategory[c] != n {
			t.Errorf("expected %d %s nodes, got %d", n, c, g.Stats.ByCategory[c])
		}
	}
	if g.Stats.HotspotNode != "app" || g.Stats.MaxFanOut != 4 {
		t.Errorf("expected hotspot app with fan-out 4, got %s %d", g.Stats.HotspotNode, g.Stats.MaxFanOut)
	}
	if g.Stats.MostImported != "fmt" || g.Stats.MaxFanIn != 2 {
		t.Errorf("expected fmt most imported with fan-in 2, got %s %d", g.Stats.MostImported, g.Stats.MaxFanIn)
	}
}

func TestStats_ConnectedComponents(t *testing.T) {
	g := makeTestGraph(t, map[string]Category{
		"a": CategoryLocal, "b": CategoryLocal,
		"c": CategoryLocal, "d": CategoryLocal,
		"e": CategoryLocal,
	}, "a->b", "c->d")

	// a-b, c-d and the isolated e
	if g.Stats.ConnectedComponents != 3 {
		t.Errorf("expected 3 connected components, got %d", g.Stats.ConnectedComponents)
	}
}

func TestStats_ImportCycles(t *testing.T) {
	g := makeTestGraph(t, map[string]Category{
		"a": CategoryLocal, "b": CategoryLocal, "c": CategoryLocal, "d": CategoryLocal,
	}, "a->b", "b->c", "c->a", "c->d", "d->d")

	if len(g.Stats.ImportCycles) != 1 {
		t.Fatalf("expected 1 cycle, got %v", g.Stats.ImportCycles)
	}
	if got := strings.Join(g.Stats.ImportCycles[0], ","); got != "a,b,c" {
		t.Errorf("expected cycle a,b,c; got %s", got)
	}
}

func TestStats_NoCycles(t *testing.T) {
	g := makeTestGraph(t, map[string]Category{
		"a": CategoryLocal, "b": CategoryLocal, "c": CategoryLocal,
	}, "a->b", "b->c", "a->c")

	if len(g.Stats.ImportCycles) != 0 {
		t.Errorf("expected no cycles, got %v", g.Stats.ImportCycles)
	}
}

// Wire Tests

func TestParseWireCategory(t *testing.T) {
	tests := map[string]Category{
		"loc":     CategoryLocal,
		"std":     CategoryStd,
		"ext":     CategoryExternal,
		"err":     CategoryError,
		"unknown": Category("unknown"),
	}
	for in, want := range tests {
		c := ParseWireCategory(in)
		if c != want {
			t.Errorf("ParseWireCategory(%q) = %q, want %q", in, c, want)
		}
		if WireCategory(c) != in {
			t.Errorf("WireCategory(%q) = %q, want %q", c, WireCategory(c), in)
		}
	}
}

func TestDecode(t *testing.T) {
	body := `{
		"nodes": [
			{"ImportPath": "example.com/app", "Name": "main", "PkgType": "loc"},
			{"ImportPath": "fmt", "Name": "fmt", "PkgType": "std"}
		],
		"edges": [{"From": "example.com/app", "To": "fmt"}]
	}`

	g, err := Decode(strings.NewReader(body))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(g.Nodes) != 2 || len(g.Edges) != 1 {
		t.Fatalf("expected 2 nodes 1 edge, got %d %d", len(g.Nodes), len(g.Edges))
	}
	app, _ := g.Node("example.com/app")
	if app.Label != "main" || app.Category != CategoryLocal {
		t.Errorf("unexpected local node %+v", app)
	}
	if g.Edges[0].ID != "example.com/app-fmt" {
		t.Errorf("unexpected edge id %q", g.Edges[0].ID)
	}
}

func TestDecode_FetchFailure(t *testing.T) {
	tests := map[string]string{
		"malformed":     `{"nodes": [`,
		"no nodes":      `{"edges": []}`,
		"no importpath": `{"nodes": [{"Name": "x"}], "edges": []}`,
		"dangling edge": `{"nodes": [{"ImportPath": "a", "PkgType": "loc"}], "edges": [{"From": "a", "To": "b"}]}`,
		"duplicate":     `{"nodes": [{"ImportPath": "a"}, {"ImportPath": "a"}], "edges": []}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(body))
			if !errors.Is(err, ErrFetchFailure) {
				t.Errorf("expected ErrFetchFailure, got %v", err)
			}
		})
	}
}

func TestEncodeDecode(t *testing.T) {
	g := makeTestGraph(t, map[string]Category{
		"example.com/app": CategoryLocal,
		"fmt":             CategoryStd,
		"broken":          CategoryError,
	}, "example.com/app->fmt", "example.com/app->broken")

	var buf strings.Builder
	if err := Encode(&buf, g); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !strings.Contains(buf.String(), `"PkgType":"loc"`) {
		t.Errorf("expected wire category in payload, got %s", buf.String())
	}

	back, err := Decode(strings.NewReader(buf.String()))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if back.Stats.TotalNodes != 3 || back.Stats.TotalEdges != 2 {
		t.Errorf("expected 3 nodes 2 edges, got %d %d", back.Stats.TotalNodes, back.Stats.TotalEdges)
	}
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/data" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"nodes":[{"ImportPath":"a","Name":"a","PkgType":"loc"}],"edges":[]}`))
	}))
	defer srv.Close()

	g, err := Fetch(context.Background(), srv.Client(), srv.URL+"/data")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(g.Nodes) != 1 {
		t.Errorf("expected 1 node, got %d", len(g.Nodes))
	}

	_, err = Fetch(context.Background(), srv.Client(), srv.URL+"/missing")
	if !errors.Is(err, ErrFetchFailure) {
		t.Errorf("expected ErrFetchFailure for 404, got %v", err)
	}
}

// Build Tests

func writeModule(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		full := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", name, err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func TestBuild(t *testing.T) {
	dir := writeModule(t, map[string]string{
		"go.mod": "module example.com/myproject\n\ngo 1.21\n",
		"main.go": `package main

import (
	"fmt"

	"example.com/myproject/internal"
	"example.com/myproject/broken"
)

func main() { fmt.Println(internal.X, broken.Y) }
`,
		"internal/internal.go": "package internal\n\nimport \"strings\"\n\nvar X = strings.ToUpper(\"x\")\n",
	})

	g, err := Build(context.Background(), BuildOptions{Root: dir, MaxGoroutines: 4})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	tests := map[string]Category{
		"fmt":                            CategoryStd,
		"strings":                        CategoryStd,
		"example.com/myproject/internal": CategoryLocal,
		"example.com/myproject":          CategoryLocal,
	}
	for path, want := range tests {
		n, ok := g.Node(path)
		if !ok {
			t.Errorf("package %s not found", path)
			continue
		}
		if n.Category != want {
			t.Errorf("%s: got category %s, want %s", path, n.Category, want)
		}
	}

	// A missing local package must not be classified as local.
	if n, ok := g.Node("example.com/myproject/broken"); ok && n.Category != CategoryError {
		t.Errorf("broken: got category %s, want %s", n.Category, CategoryError)
	}

	internal, _ := g.Node("example.com/myproject/internal")
	if internal.Label != "internal" {
		t.Errorf("local label should be the package name, got %q", internal.Label)
	}

	if _, ok := g.Node("."); ok {
		t.Error("root package must be keyed by its import path, not \".\"")
	}
	root, _ := g.Node("example.com/myproject")
	if root.Name != "main" || root.Label != "main" {
		t.Errorf("root: got name %q label %q, want main", root.Name, root.Label)
	}
	edges := make(map[string]bool, len(g.Edges))
	for _, e := range g.Edges {
		edges[e.ID] = true
	}
	if !edges[EdgeID("example.com/myproject", "example.com/myproject/internal")] {
		t.Errorf("missing edge from root to internal, got %v", g.Edges)
	}

	for i := 1; i < len(g.Nodes); i++ {
		if g.Nodes[i-1].ID >= g.Nodes[i].ID {
			t.Fatalf("nodes not sorted: %s before %s", g.Nodes[i-1].ID, g.Nodes[i].ID)
		}
	}
}

func TestBuild_SubdirectoryRoot(t *testing.T) {
	dir := writeModule(t, map[string]string{
		"go.mod":           "module example.com/tool\n\ngo 1.21\n",
		"cmd/tool/main.go": "package main\n\nimport \"example.com/tool/lib\"\n\nfunc main() { lib.Run() }\n",
		"lib/lib.go":       "package lib\n\nfunc Run() {}\n",
	})

	g, err := Build(context.Background(), BuildOptions{
		Root:  filepath.Join(dir, "cmd", "tool"),
		GoMod: filepath.Join(dir, "go.mod"),
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	root, ok := g.Node("example.com/tool/cmd/tool")
	if !ok {
		t.Fatalf("root package not found, nodes: %v", g.Nodes)
	}
	if root.Category != CategoryLocal {
		t.Errorf("root: got category %s, want %s", root.Category, CategoryLocal)
	}
	if len(g.Edges) != 1 || g.Edges[0].From != root.ID || g.Edges[0].To != "example.com/tool/lib" {
		t.Errorf("unexpected edges: %v", g.Edges)
	}
}

func TestRootImportPath(t *testing.T) {
	mod := t.TempDir()
	withModule := &modfile.File{Module: &modfile.Module{Mod: module.Version{Path: "example.com/m"}}}

	tests := []struct {
		name string
		mf   *modfile.File
		root string
		want string
	}{
		{"module root", withModule, mod, "example.com/m"},
		{"nested", withModule, filepath.Join(mod, "cmd", "m"), "example.com/m/cmd/m"},
		{"outside module", withModule, filepath.Dir(mod), "."},
		{"no module line", &modfile.File{}, mod, "."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rootImportPath(tt.mf, mod, tt.root); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuild_MissingGoMod(t *testing.T) {
	dir := t.TempDir()
	if _, err := Build(context.Background(), BuildOptions{Root: dir}); err == nil {
		t.Error("expected error for missing go.mod")
	}
}

func TestBuild_Canceled(t *testing.T) {
	dir := writeModule(t, map[string]string{
		"go.mod":  "module example.com/c\n\ngo 1.21\n",
		"main.go": "package main\n\nimport \"fmt\"\n\nfunc main() { fmt.Println() }\n",
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Build(ctx, BuildOptions{Root: dir}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestParseRequires(t *testing.T) {
	dir := writeModule(t, map[string]string{
		"go.mod": `module example.com/app

go 1.21

require (
	github.com/spf13/cobra v1.10.2
	golang.org/x/sync v0.19.0
)
`,
	})

	idx, err := ParseRequires(filepath.Join(dir, "go.mod"))
	if err != nil {
		t.Fatalf("ParseRequires failed: %v", err)
	}
	if idx.Len() != 2 {
		t.Errorf("expected 2 requires, got %d", idx.Len())
	}
	if !idx.Covers("golang.org/x/sync/errgroup") {
		t.Error("expected golang.org/x/sync/errgroup to be covered")
	}
	if idx.Covers("example.com/app/internal") {
		t.Error("module's own packages must not be external")
	}
}

// Export Tests

func exportGraph(t *testing.T) *Graph {
	return makeTestGraph(t, map[string]Category{
		"example.com/app/db": CategoryLocal,
		"fmt":                CategoryStd,
		"github.com/x/y":     CategoryExternal,
	}, "example.com/app/db->fmt", "example.com/app/db->github.com/x/y")
}

func TestExportDOT(t *testing.T) {
	dot := ExportDOT(exportGraph(t))

	if !strings.Contains(dot, "digraph imports") {
		t.Error("DOT output should contain 'digraph imports'")
	}
	if !strings.Contains(dot, "subgraph cluster_local") {
		t.Error("DOT output should group local packages")
	}
	if !strings.Contains(dot, `"example.com/app/db" -> "fmt"`) {
		t.Error("DOT output should contain edge declarations")
	}
	if !strings.Contains(dot, `fillcolor="#ecfccb"`) {
		t.Error("DOT output should color std packages")
	}
}

func TestExportMermaid(t *testing.T) {
	mermaid := ExportMermaid(exportGraph(t))

	if !strings.Contains(mermaid, "graph LR") {
		t.Error("Mermaid output should contain 'graph LR'")
	}
	if !strings.Contains(mermaid, "example_com_app_db --> fmt") {
		t.Errorf("Mermaid output should contain sanitized edges, got:\n%s", mermaid)
	}
	if !strings.Contains(mermaid, `example_com_app_db[["db"]]`) {
		t.Error("Mermaid output should render local packages by name")
	}
}

func TestExportJSON(t *testing.T) {
	g := exportGraph(t)
	jsonBytes, err := ExportJSON(g)
	if err != nil {
		t.Fatalf("ExportJSON failed: %v", err)
	}

	var g2 Graph
	if err := json.Unmarshal(jsonBytes, &g2); err != nil {
		t.Fatalf("JSON unmarshal failed: %v", err)
	}
	if len(g2.Nodes) != len(g.Nodes) || len(g2.Edges) != len(g.Edges) {
		t.Errorf("expected %d/%d nodes/edges, got %d/%d", len(g.Nodes), len(g.Edges), len(g2.Nodes), len(g2.Edges))
	}
	if g2.Stats.ByCategory[CategoryExternal] != 1 {
		t.Errorf("expected by_category to survive, got %v", g2.Stats.ByCategory)
	}
}

func TestFormatStats(t *testing.T) {
	g := makeTestGraph(t, map[string]Category{
		"a": CategoryLocal, "b": CategoryLocal,
	}, "a->b", "b->a")
	stats := FormatStats(g)

	expectedLabels := []string{
		"Import Graph Statistics",
		"Packages:",
		"Local:",
		"Imports:",
		"Max Fan-Out:",
		"Max Fan-In:",
		"Components:",
		"Import Cycles: 1",
		"a <-> b",
	}
	for _, label := range expectedLabels {
		if !strings.Contains(stats, label) {
			t.Errorf("stats should contain '%s'", label)
		}
	}
}
