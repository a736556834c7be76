package depgraph

import (
	"context"
	"fmt"
	"go/build"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/mod/modfile"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/grishy/gopkgview/internal/pathtrie"
)

// DefaultMaxGoroutines bounds concurrent package imports during Build.
const DefaultMaxGoroutines = 20

// BuildOptions configures Build.
type BuildOptions struct {
	// Root is the directory the walk starts from.
	Root string
	// GoMod is the go.mod used to detect external packages (default Root/go.mod).
	GoMod string
	// MaxGoroutines limits parallel parsing (default DefaultMaxGoroutines).
	MaxGoroutines int
	// Context overrides the go/build context (default build.Default).
	Context *build.Context
	// Logger receives per-package import failures (default slog.Default()).
	Logger *slog.Logger
}

type builder struct {
	ctx     *build.Context
	rootID  string
	require *pathtrie.PathTrie
	sem     *semaphore.Weighted
	log     *slog.Logger

	mu      sync.Mutex
	visited map[string]struct{}
	nodes   []Node
	edges   []Edge
}

// Build walks the imports of the package at opts.Root and returns the
// import graph. Only local packages are expanded; std and external packages
// are leaves. A package that fails to import becomes an error node.
func Build(ctx context.Context, opts BuildOptions) (*Graph, error) {
	absRoot, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}

	gomod := opts.GoMod
	if gomod == "" {
		gomod = filepath.Join(absRoot, "go.mod")
	}
	mf, err := parseGoMod(gomod)
	if err != nil {
		return nil, err
	}

	bctx := build.Default
	if opts.Context != nil {
		bctx = *opts.Context
	}
	bctx.Dir = absRoot

	limit := opts.MaxGoroutines
	if limit <= 0 {
		limit = DefaultMaxGoroutines
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	b := &builder{
		ctx:     &bctx,
		rootID:  rootImportPath(mf, filepath.Dir(gomod), absRoot),
		require: requireIndex(mf),
		sem:     semaphore.NewWeighted(int64(limit)),
		log:     logger,
		visited: make(map[string]struct{}),
	}

	eg, egctx := errgroup.WithContext(ctx)
	b.visit(egctx, eg, ".", absRoot)
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("walk imports: %w", err)
	}

	return b.snapshot()
}

// ParseRequires indexes the require paths of a go.mod file.
func ParseRequires(file string) (*pathtrie.PathTrie, error) {
	mf, err := parseGoMod(file)
	if err != nil {
		return nil, err
	}
	return requireIndex(mf), nil
}

func parseGoMod(file string) (*modfile.File, error) {
	content, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read go.mod: %w", err)
	}
	mf, err := modfile.Parse(file, content, nil)
	if err != nil {
		return nil, fmt.Errorf("parse go.mod: %w", err)
	}
	return mf, nil
}

func requireIndex(mf *modfile.File) *pathtrie.PathTrie {
	idx := pathtrie.New()
	for _, req := range mf.Require {
		idx.Put(req.Mod.Path)
	}
	return idx
}

// rootImportPath is the import path of the package in root. go/build only
// reports "." for a directory import, so it is derived from the module path
// and root's position under the go.mod directory. Roots outside the module
// keep ".".
func rootImportPath(mf *modfile.File, modDir, root string) string {
	if mf.Module == nil || mf.Module.Mod.Path == "" {
		return "."
	}
	absMod, err := filepath.Abs(modDir)
	if err != nil {
		return "."
	}
	rel, err := filepath.Rel(absMod, root)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "."
	}
	if rel == "." {
		return mf.Module.Mod.Path
	}
	return path.Join(mf.Module.Mod.Path, filepath.ToSlash(rel))
}

func (b *builder) visit(ctx context.Context, eg *errgroup.Group, importPath, srcDir string) {
	b.mu.Lock()
	if _, ok := b.visited[importPath]; ok {
		b.mu.Unlock()
		return
	}
	b.visited[importPath] = struct{}{}
	b.mu.Unlock()

	eg.Go(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		pkg, err := b.ctx.Import(importPath, srcDir, 0)
		b.sem.Release(1)

		id := importPath
		if importPath == "." {
			id = b.rootID
		}
		if err != nil {
			b.log.Debug("import failed", "path", importPath, "error", err)
			b.addNode(Node{ID: id, Name: "[err] " + id, Label: id, Category: CategoryError})
			return nil
		}
		if pkg.ImportPath != "." {
			id = pkg.ImportPath
		}

		category := CategoryLocal
		switch {
		case pkg.Goroot:
			category = CategoryStd
		case b.require.Covers(id):
			category = CategoryExternal
		}

		b.addNode(Node{
			ID:       id,
			Name:     pkg.Name,
			Label:    LabelFor(id, pkg.Name, category),
			Category: category,
		})

		// std and external packages are leaves
		if category != CategoryLocal {
			return nil
		}
		for _, imp := range pkg.Imports {
			b.addEdge(id, imp)
			b.visit(ctx, eg, imp, pkg.Dir)
		}
		return nil
	})
}

func (b *builder) addNode(n Node) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nodes = append(b.nodes, n)
}

func (b *builder) addEdge(from, to string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.edges = append(b.edges, NewEdge(from, to))
}

// snapshot orders the collected nodes and edges and drops edges whose target
// resolved to a different import path than the one written in the source.
func (b *builder) snapshot() (*Graph, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	nodes := dedupeNodes(b.nodes)
	known := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		known[n.ID] = true
	}

	edges := make([]Edge, 0, len(b.edges))
	seen := make(map[[2]string]bool, len(b.edges))
	for _, e := range b.edges {
		pair := [2]string{e.From, e.To}
		if seen[pair] {
			continue
		}
		seen[pair] = true
		if !known[e.From] || !known[e.To] {
			b.log.Debug("dropping unresolved import", "from", e.From, "to", e.To)
			continue
		}
		edges = append(edges, e)
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		return edges[i].To < edges[j].To
	})

	return NewGraph(nodes, edges)
}

func dedupeNodes(in []Node) []Node {
	byID := make(map[string]Node, len(in))
	for _, n := range in {
		if prev, ok := byID[n.ID]; ok && prev.Category != CategoryError {
			continue
		}
		byID[n.ID] = n
	}
	out := make([]Node, 0, len(byID))
	for _, n := range byID {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// computeStats computes graph metrics
func (g *Graph) computeStats() {
	g.Stats = GraphStats{
		TotalNodes: len(g.Nodes),
		TotalEdges: len(g.Edges),
		ByCategory: make(map[Category]int, len(Categories)),
	}

	for _, n := range g.Nodes {
		g.Stats.ByCategory[n.Category]++
	}

	fanOut := make(map[string]int)
	fanIn := make(map[string]int)
	for _, e := range g.Edges {
		fanOut[e.From]++
		fanIn[e.To]++
	}

	// Iterate nodes, not maps, so ties resolve deterministically.
	for _, n := range g.Nodes {
		if c := fanOut[n.ID]; c > g.Stats.MaxFanOut {
			g.Stats.MaxFanOut = c
			g.Stats.HotspotNode = n.ID
		}
		if c := fanIn[n.ID]; c > g.Stats.MaxFanIn {
			g.Stats.MaxFanIn = c
			g.Stats.MostImported = n.ID
		}
	}

	g.Stats.ConnectedComponents = g.countComponents()
	g.Stats.ImportCycles = g.detectCycles()
}

// countComponents counts weakly connected components via union-find
func (g *Graph) countComponents() int {
	parent := make(map[string]string)
	var find func(string) string
	find = func(x string) string {
		if parent[x] == "" {
			parent[x] = x
		}
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	union := func(a, b string) {
		fa, fb := find(a), find(b)
		if fa != fb {
			parent[fa] = fb
		}
	}

	for _, n := range g.Nodes {
		find(n.ID)
	}
	for _, e := range g.Edges {
		union(e.From, e.To)
	}

	roots := make(map[string]bool)
	for _, n := range g.Nodes {
		roots[find(n.ID)] = true
	}
	return len(roots)
}

// detectCycles returns the strongly connected components with more than one
// package. The compiler rejects these, so they only show up in broken trees.
func (g *Graph) detectCycles() [][]string {
	dg := simple.NewDirectedGraph()
	ids := make(map[string]int64, len(g.Nodes))
	names := make(map[int64]string, len(g.Nodes))
	for _, n := range g.Nodes {
		node := dg.NewNode()
		dg.AddNode(node)
		ids[n.ID] = node.ID()
		names[node.ID()] = n.ID
	}
	for _, e := range g.Edges {
		if e.From == e.To {
			continue
		}
		dg.SetEdge(dg.NewEdge(dg.Node(ids[e.From]), dg.Node(ids[e.To])))
	}

	var cycles [][]string
	for _, scc := range topo.TarjanSCC(dg) {
		if len(scc) < 2 {
			continue
		}
		cycle := make([]string, 0, len(scc))
		for _, n := range scc {
			cycle = append(cycle, names[n.ID()])
		}
		sort.Strings(cycle)
		cycles = append(cycles, cycle)
	}
	sort.Slice(cycles, func(i, j int) bool { return cycles[i][0] < cycles[j][0] })
	return cycles
}
