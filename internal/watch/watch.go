// Package watch rebuilds the import graph when the module's sources change.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/grishy/gopkgview/internal/depgraph"
	"github.com/grishy/gopkgview/internal/observability"
)

// DefaultDebounce is how long the watcher waits for the tree to settle.
const DefaultDebounce = 300 * time.Millisecond

// ErrAlreadyRunning is returned by a second call to Run.
var ErrAlreadyRunning = errors.New("watcher already running")

// BuildFunc produces a fresh graph snapshot.
type BuildFunc func(ctx context.Context) (*depgraph.Graph, error)

// Target receives rebuilt snapshots.
type Target interface {
	ReplaceGraph(ctx context.Context, g *depgraph.Graph) error
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period before a rebuild.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithMetrics records rebuilds on m.
func WithMetrics(m *observability.ViewerMetrics) Option {
	return func(w *Watcher) { w.metrics = m }
}

// WithAudit records rebuilds on a.
func WithAudit(a *observability.AuditLogger) Option {
	return func(w *Watcher) { w.audit = a }
}

// Watcher watches every package directory under a root and replaces the
// target's graph after each burst of changes.
type Watcher struct {
	root     string
	build    BuildFunc
	target   Target
	debounce time.Duration
	logger   *slog.Logger
	metrics  *observability.ViewerMetrics
	audit    *observability.AuditLogger

	fsw *fsnotify.Watcher

	mu      sync.Mutex
	running bool
	lastErr error
	reloads int
}

// New creates a watcher over root. Directories are registered immediately
// so changes made before Run are not missed.
func New(root string, build BuildFunc, target Target, opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	w := &Watcher{
		root:     abs,
		build:    build,
		target:   target,
		debounce: DefaultDebounce,
		logger:   slog.Default().With("component", "watch"),
		metrics:  observability.Metrics(),
		audit:    observability.Audit(),
	}
	for _, opt := range opts {
		opt(w)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	w.fsw = fsw
	if err := w.addTree(abs); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// Root returns the watched directory.
func (w *Watcher) Root() string { return w.root }

// WatchList returns the registered directories.
func (w *Watcher) WatchList() []string { return w.fsw.WatchList() }

// LastErr returns the error of the most recent rebuild, nil after a
// successful one.
func (w *Watcher) LastErr() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// Reloads returns the number of snapshots handed to the target.
func (w *Watcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

// Close stops the watcher; Run returns shortly after.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// Run processes file events until ctx is done or Close is called.
func (w *Watcher) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return ErrAlreadyRunning
	}
	w.running = true
	w.mu.Unlock()

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()
	armed := false

	w.logger.Info("watching for changes", "root", w.root, "dirs", len(w.fsw.WatchList()))

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !w.handle(ev) {
				continue
			}
			if armed && !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)
			armed = true

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)

		case <-timer.C:
			armed = false
			w.reload(ctx)
		}
	}
}

// handle registers new directories and reports whether ev should trigger
// a rebuild.
func (w *Watcher) handle(ev fsnotify.Event) bool {
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if skipDir(filepath.Base(ev.Name)) {
				return false
			}
			if err := w.addTree(ev.Name); err != nil {
				w.logger.Warn("watch new directory", "dir", ev.Name, "error", err)
			}
			return true
		}
	}
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
		return false
	}
	return relevant(ev.Name)
}

func (w *Watcher) reload(ctx context.Context) {
	start := time.Now()
	g, err := w.build(ctx)
	dur := time.Since(start)

	nodes, edges := 0, 0
	if err == nil {
		nodes, edges = len(g.Nodes), len(g.Edges)
		err = w.target.ReplaceGraph(ctx, g)
	}

	w.metrics.RecordBuild(dur, nodes, edges, err)
	w.audit.LogGraphBuild(w.root, true, nodes, edges, dur, err)

	w.mu.Lock()
	w.lastErr = err
	if err == nil {
		w.reloads++
	}
	w.mu.Unlock()

	if err != nil {
		w.logger.Error("rebuild failed", "error", err)
		return
	}
	w.logger.Info("graph reloaded", "nodes", nodes, "edges", edges, "duration", dur)
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && skipDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

// skipDir mirrors the go tool: vendor, testdata and dot or underscore
// prefixed directories hold no packages of the module.
func skipDir(name string) bool {
	if name == "vendor" || name == "testdata" {
		return true
	}
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")
}

func relevant(path string) bool {
	base := filepath.Base(path)
	switch base {
	case "go.mod", "go.sum", "go.work":
		return true
	}
	return strings.HasSuffix(base, ".go") && !strings.HasPrefix(base, ".")
}
