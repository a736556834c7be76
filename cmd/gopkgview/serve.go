package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/pkg/browser"

	"github.com/grishy/gopkgview/internal/config"
	"github.com/grishy/gopkgview/internal/dashboard"
	"github.com/grishy/gopkgview/internal/depgraph"
	"github.com/grishy/gopkgview/internal/graph"
	"github.com/grishy/gopkgview/internal/layout"
	"github.com/grishy/gopkgview/internal/observability"
	"github.com/grishy/gopkgview/internal/server"
	"github.com/grishy/gopkgview/internal/viewmodel"
	"github.com/grishy/gopkgview/internal/watch"
)

func runServe(ctx context.Context, cfg *config.Config, opts serveOptions) error {
	tp, err := observability.InitTracing(ctx, &observability.TracingConfig{
		ServiceName:    "gopkgview",
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.Endpoint,
		SampleRate:     cfg.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	if err := initAudit(cfg); err != nil {
		return err
	}

	var repo graph.Repository
	var g *depgraph.Graph
	switch {
	case opts.fromURL != "":
		g, err = depgraph.Fetch(ctx, nil, opts.fromURL)
	case opts.fromNeo4j:
		store, serr := openRepository(ctx, cfg)
		if serr != nil {
			return fmt.Errorf("load graph: %w", serr)
		}
		repo = store
		g, err = repo.LoadGraph(ctx)
	default:
		g, err = buildAndRecord(ctx, cfg)
	}
	if err != nil {
		if repo != nil {
			repo.Close(ctx)
		}
		return fmt.Errorf("load graph: %w", err)
	}

	engine, err := layout.NewFactory().Create(cfg.Layout)
	if err != nil {
		return err
	}

	gs := server.NewGracefulServer(&server.HealthConfig{Version: version}, nil)
	d := dashboard.New(
		&dashboard.Config{ListenAddr: cfg.Server.Addr, Version: version},
		g, engine,
		dashboard.SessionConfig{
			Params:        cfg.View,
			Theme:         viewmodel.DefaultTheme(),
			Layout:        cfg.Layout.Options,
			LayoutTimeout: cfg.Layout.Timeout,
		},
		gs.Health,
	)

	gs.Health.RegisterCheck("graph", server.GraphHealthChecker(d.Session.Graph))
	gs.Health.RegisterCheck("layout", server.LayoutHealthChecker(engine.Name(), func(ctx context.Context) error {
		_, err := engine.Layout(ctx, layout.Request{Options: cfg.Layout.Options})
		return err
	}))
	if repo != nil {
		if pinger, ok := repo.(interface{ Ping(context.Context) error }); ok {
			gs.Health.RegisterCheck("graph-store", server.GraphStoreHealthChecker(pinger.Ping))
		}
		gs.Add(server.GraphStoreShutdownHook(repo.Close))
	}

	sessionCtx, stopSession := context.WithCancel(context.Background())
	sessionDone := make(chan struct{})
	go func() {
		defer close(sessionDone)
		if err := d.Session.Run(sessionCtx); err != nil {
			slog.Error("Session stopped", "error", err)
		}
	}()
	select {
	case <-d.Session.Ready():
	case <-sessionDone:
		stopSession()
		return fmt.Errorf("session failed to start")
	}

	url, err := d.Server.Listen()
	if err != nil {
		stopSession()
		return err
	}
	go func() {
		if err := d.Server.Serve(); err != nil {
			slog.Error("Viewer server failed", "error", err)
			gs.Shutdown.Trigger()
		}
	}()

	if cfg.Watch.Enabled {
		if opts.fromURL != "" || opts.fromNeo4j {
			slog.Warn("Watch ignored: graph is not built from source")
		} else {
			w, err := watch.New(cfg.Build.Root, func(ctx context.Context) (*depgraph.Graph, error) {
				return buildGraph(ctx, cfg)
			}, d.Session, watch.WithDebounce(cfg.Watch.Debounce))
			if err != nil {
				stopSession()
				return fmt.Errorf("start watcher: %w", err)
			}
			go w.Run(sessionCtx)
			gs.Health.RegisterCheck("watcher", server.WatcherHealthChecker(w.LastErr))
			gs.Add(server.WatcherShutdownHook(w.Close))
		}
	}

	gs.Add(server.HTTPServerShutdownHook("viewer", d.Server.Stop))
	gs.Add(server.SessionShutdownHook(func() {
		stopSession()
		<-sessionDone
	}))
	gs.Add(server.ShutdownHook{Name: "audit-stop", Priority: server.PriorityDrain, Fn: func(context.Context) error {
		observability.Audit().LogServer(false, url)
		return nil
	}})
	gs.Add(server.AuditLoggerShutdownHook(observability.Audit().Close))
	gs.Add(server.TracingShutdownHook(tp.Shutdown))

	gs.Start()
	observability.Audit().LogServer(true, url)
	slog.Info("Viewer ready", "url", url, "nodes", len(g.Nodes), "edges", len(g.Edges), "layout", engine.Name())
	fmt.Fprintf(os.Stdout, "gopkgview is running at %s\n", url)

	if !cfg.Server.SkipBrowser {
		if err := browser.OpenURL(url); err != nil {
			slog.Warn("Could not open browser", "url", url, "error", err)
		}
	}

	return gs.Wait()
}

// buildGraph walks the module at the configured root.
func buildGraph(ctx context.Context, cfg *config.Config) (*depgraph.Graph, error) {
	ctx, span := observability.StartBuildSpan(ctx, cfg.Build.Root)
	defer span.End()

	start := time.Now()
	g, err := depgraph.Build(ctx, depgraph.BuildOptions{
		Root:          cfg.Build.Root,
		GoMod:         cfg.Build.GoMod,
		MaxGoroutines: cfg.Build.MaxGoroutines,
		Logger:        slog.Default().With("component", "depgraph"),
	})
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	observability.RecordBuildResult(span, len(g.Nodes), len(g.Edges), time.Since(start))
	return g, nil
}

// buildAndRecord is buildGraph for the initial snapshot. Reloads are
// recorded by the watcher.
func buildAndRecord(ctx context.Context, cfg *config.Config) (*depgraph.Graph, error) {
	start := time.Now()
	g, err := buildGraph(ctx, cfg)
	dur := time.Since(start)

	nodes, edges := 0, 0
	if g != nil {
		nodes, edges = len(g.Nodes), len(g.Edges)
	}
	observability.Metrics().RecordBuild(dur, nodes, edges, err)
	observability.Audit().LogGraphBuild(cfg.Build.Root, false, nodes, edges, dur, err)
	if err == nil {
		slog.Info("Import graph built", "root", cfg.Build.Root, "nodes", nodes, "edges", edges, "duration", dur)
	}
	return g, err
}

func initAudit(cfg *config.Config) error {
	if err := observability.InitGlobalAuditLogger(&observability.AuditConfig{
		Enabled:    cfg.Audit.Enabled,
		OutputPath: cfg.Audit.Output,
	}); err != nil {
		return fmt.Errorf("init audit log: %w", err)
	}
	return nil
}

func setupLogging(cfg *config.Config) {
	slog.SetDefault(cfg.Log.NewLogger(os.Stderr))
}
