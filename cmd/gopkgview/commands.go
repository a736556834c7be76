package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"golang.org/x/mod/modfile"

	"github.com/grishy/gopkgview/internal/config"
	"github.com/grishy/gopkgview/internal/depgraph"
	"github.com/grishy/gopkgview/internal/graph/neo4j"
	"github.com/grishy/gopkgview/internal/layout"
	"github.com/grishy/gopkgview/internal/observability"
	"github.com/grishy/gopkgview/internal/viewmodel"
)

func runView(cmd *cobra.Command, cfg *config.Config, opts viewOptions) error {
	ctx := cmd.Context()

	var g *depgraph.Graph
	var err error
	if opts.fromURL != "" {
		g, err = depgraph.Fetch(ctx, nil, opts.fromURL)
	} else {
		g, err = buildGraph(ctx, cfg)
	}
	if err != nil {
		return fmt.Errorf("load graph: %w", err)
	}

	p := cfg.View
	flags := cmd.Flags()
	if flags.Changed("std") {
		p.ShowStd = opts.std
	}
	if flags.Changed("ext") {
		p.ShowExternal = opts.ext
	}
	if flags.Changed("err") {
		p.ShowError = opts.err
	}
	if flags.Changed("direct") {
		p.OnlyDirectEdges = opts.direct
	}
	in := viewmodel.Interaction{Selected: opts.selected, Hovered: opts.hovered}

	sub, err := viewmodel.Filter(g, p, in)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch opts.format {
	case "dot", "mermaid":
		sg, err := depgraph.NewGraph(sub.Nodes, sub.Edges)
		if err != nil {
			return err
		}
		if opts.format == "dot" {
			fmt.Fprint(out, depgraph.ExportDOT(sg))
		} else {
			fmt.Fprint(out, depgraph.ExportMermaid(sg))
		}
		return nil
	case "json", "":
	default:
		return fmt.Errorf("unknown format %q (json, dot, mermaid)", opts.format)
	}

	var positions map[string]viewmodel.Position
	if opts.layout {
		engine, err := layout.NewFactory().Create(cfg.Layout)
		if err != nil {
			return err
		}
		lctx, cancel := context.WithTimeout(ctx, cfg.Layout.Timeout)
		defer cancel()
		res, err := engine.Layout(lctx, layout.NewRequest(sub, cfg.Layout.Options))
		if err != nil {
			return fmt.Errorf("%w: %w", layout.ErrLayoutFailure, err)
		}
		positions = res.Positions
	}

	rg := viewmodel.Annotate(sub, positions, in, viewmodel.DefaultTheme())
	data, err := json.MarshalIndent(rg, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(data))
	return nil
}

func runStats(cmd *cobra.Command, cfg *config.Config, asJSON bool) error {
	g, err := buildGraph(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if asJSON {
		data, err := json.MarshalIndent(g.Stats, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}
	fmt.Fprint(out, depgraph.FormatStats(g))
	return nil
}

func runStore(cmd *cobra.Command, cfg *config.Config) error {
	ctx := cmd.Context()
	if err := initAudit(cfg); err != nil {
		return err
	}
	defer observability.Audit().Close()

	g, err := buildAndRecord(ctx, cfg)
	if err != nil {
		return err
	}

	repo, err := openRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer repo.Close(ctx)

	err = repo.StoreGraph(ctx, g)
	observability.Audit().LogGraphStore(repo.Target(), len(g.Nodes), len(g.Edges), err)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Stored %d packages and %d imports in %s\n", len(g.Nodes), len(g.Edges), repo.Target())
	return nil
}

func runImporters(cmd *cobra.Command, cfg *config.Config, id string) error {
	ctx := cmd.Context()
	repo, err := openRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer repo.Close(ctx)

	ids, err := repo.QueryImporters(ctx, id)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(ids) == 0 {
		fmt.Fprintf(out, "No stored package imports %s\n", id)
		return nil
	}
	for _, imp := range ids {
		fmt.Fprintln(out, imp)
	}
	return nil
}

func openRepository(ctx context.Context, cfg *config.Config) (*neo4j.Neo4jRepository, error) {
	if cfg.Graph.URI == "" {
		return nil, fmt.Errorf("graph store is not configured: set --neo4j-uri or GO_PKGVIEW_GRAPH_URI")
	}
	project := cfg.Graph.Project
	if project == "" {
		project = modulePath(cfg)
	}
	return neo4j.NewNeo4j(ctx, neo4j.Config{
		URI:      cfg.Graph.URI,
		Username: cfg.Graph.Username,
		Password: cfg.Graph.Password,
		Database: cfg.Graph.Database,
		Project:  project,
	})
}

// modulePath names the project after the module, falling back to the
// absolute root.
func modulePath(cfg *config.Config) string {
	gomod := cfg.Build.GoMod
	if gomod == "" {
		gomod = filepath.Join(cfg.Build.Root, "go.mod")
	}
	if data, err := os.ReadFile(gomod); err == nil {
		if p := modfile.ModulePath(data); p != "" {
			return p
		}
	}
	abs, err := filepath.Abs(cfg.Build.Root)
	if err != nil {
		return cfg.Build.Root
	}
	return abs
}
