package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"
)

// Hook priorities. Lower runs first: stop taking traffic, then stop the
// session, then release what the session used.
const (
	PriorityDrain      = 5
	PriorityHTTP       = 10
	PrioritySession    = 20
	PriorityWatcher    = 30
	PriorityTracing    = 80
	PriorityGraphStore = 90
	PriorityAudit      = 95
)

// ShutdownHook is one step of the shutdown sequence.
type ShutdownHook struct {
	Name     string
	Priority int
	Fn       func(ctx context.Context) error
}

// ShutdownConfig configures the shutdown handler.
type ShutdownConfig struct {
	Timeout time.Duration // whole sequence (default: 30s)
	Signals []os.Signal   // default: SIGTERM, SIGINT
}

// DefaultShutdownConfig returns the default configuration.
func DefaultShutdownConfig() *ShutdownConfig {
	return &ShutdownConfig{
		Timeout: 30 * time.Second,
		Signals: []os.Signal{syscall.SIGTERM, syscall.SIGINT},
	}
}

// ShutdownHandler runs registered hooks once, on a signal or on Trigger.
type ShutdownHandler struct {
	timeout time.Duration
	signals []os.Signal

	mu      sync.Mutex
	hooks   []ShutdownHook
	started bool
	err     error

	trigger     chan struct{}
	triggerOnce sync.Once
	done        chan struct{}
}

// NewShutdownHandler creates a handler. A nil config uses the defaults.
func NewShutdownHandler(config *ShutdownConfig) *ShutdownHandler {
	def := DefaultShutdownConfig()
	if config == nil {
		config = def
	}
	h := &ShutdownHandler{
		timeout: config.Timeout,
		signals: config.Signals,
		trigger: make(chan struct{}),
		done:    make(chan struct{}),
	}
	if h.timeout <= 0 {
		h.timeout = def.Timeout
	}
	if len(h.signals) == 0 {
		h.signals = def.Signals
	}
	return h
}

// Add registers a hook. Hooks with equal priority run in registration
// order.
func (h *ShutdownHandler) Add(hook ShutdownHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks = append(h.hooks, hook)
	sort.SliceStable(h.hooks, func(i, j int) bool {
		return h.hooks[i].Priority < h.hooks[j].Priority
	})
}

// Start listens for the configured signals. Calling it twice is a no-op.
func (h *ShutdownHandler) Start() {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return
	}
	h.started = true
	h.mu.Unlock()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, h.signals...)

	go func() {
		defer signal.Stop(sigCh)
		select {
		case sig := <-sigCh:
			slog.Info("Shutting down", "signal", sig.String())
		case <-h.trigger:
			slog.Info("Shutting down")
		}
		h.run()
	}()
}

// Trigger starts the shutdown sequence without a signal. It does nothing
// before Start.
func (h *ShutdownHandler) Trigger() {
	h.mu.Lock()
	started := h.started
	h.mu.Unlock()
	if !started {
		return
	}
	h.triggerOnce.Do(func() { close(h.trigger) })
}

// Stopping is closed when the sequence is triggered manually.
func (h *ShutdownHandler) Stopping() <-chan struct{} {
	return h.trigger
}

// Done is closed after every hook has run.
func (h *ShutdownHandler) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until Done.
func (h *ShutdownHandler) Wait() {
	<-h.done
}

// Err joins the errors returned by hooks. Valid after Done.
func (h *ShutdownHandler) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *ShutdownHandler) run() {
	defer close(h.done)

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	h.mu.Lock()
	hooks := append([]ShutdownHook(nil), h.hooks...)
	h.mu.Unlock()

	var errs []error
	for _, hook := range hooks {
		start := time.Now()
		err := hook.Fn(ctx)
		if err != nil {
			slog.Warn("Shutdown hook failed", "hook", hook.Name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", hook.Name, err))
			continue
		}
		slog.Debug("Shutdown hook done", "hook", hook.Name, "duration", time.Since(start))
	}

	h.mu.Lock()
	h.err = errors.Join(errs...)
	h.mu.Unlock()
}

// HTTPServerShutdownHook stops an HTTP server from accepting connections.
func HTTPServerShutdownHook(name string, shutdownFn func(ctx context.Context) error) ShutdownHook {
	return ShutdownHook{Name: name, Priority: PriorityHTTP, Fn: shutdownFn}
}

// SessionShutdownHook stops the viewer session loop. stopFn blocks until
// in-flight layouts are abandoned.
func SessionShutdownHook(stopFn func()) ShutdownHook {
	return ShutdownHook{Name: "session", Priority: PrioritySession, Fn: func(context.Context) error {
		stopFn()
		return nil
	}}
}

func WatcherShutdownHook(closeFn func() error) ShutdownHook {
	return ShutdownHook{Name: "watcher", Priority: PriorityWatcher, Fn: func(context.Context) error {
		return closeFn()
	}}
}

func TracingShutdownHook(shutdownFn func(ctx context.Context) error) ShutdownHook {
	return ShutdownHook{Name: "tracing", Priority: PriorityTracing, Fn: shutdownFn}
}

func GraphStoreShutdownHook(closeFn func(ctx context.Context) error) ShutdownHook {
	return ShutdownHook{Name: "graph-store", Priority: PriorityGraphStore, Fn: closeFn}
}

// AuditLoggerShutdownHook closes the audit log last so earlier hooks can
// still write to it.
func AuditLoggerShutdownHook(closeFn func() error) ShutdownHook {
	return ShutdownHook{Name: "audit-logger", Priority: PriorityAudit, Fn: func(context.Context) error {
		return closeFn()
	}}
}

// GracefulServer ties the health endpoints to the shutdown sequence: the
// viewer reports not ready and not live before anything is torn down.
type GracefulServer struct {
	Health   *HealthServer
	Shutdown *ShutdownHandler
}

// NewGracefulServer creates the health server and shutdown handler.
func NewGracefulServer(healthConfig *HealthConfig, shutdownConfig *ShutdownConfig) *GracefulServer {
	health := NewHealthServer(healthConfig)
	shutdown := NewShutdownHandler(shutdownConfig)
	shutdown.Add(ShutdownHook{Name: "drain", Priority: PriorityDrain, Fn: func(context.Context) error {
		health.SetReady(false)
		health.SetLive(false)
		return nil
	}})
	return &GracefulServer{Health: health, Shutdown: shutdown}
}

// Start listens for signals and marks the viewer ready.
func (g *GracefulServer) Start() {
	g.Shutdown.Start()
	g.Health.SetReady(true)
}

// Wait blocks until shutdown completes and returns the joined hook errors.
func (g *GracefulServer) Wait() error {
	g.Shutdown.Wait()
	return g.Shutdown.Err()
}

// Add registers a hook.
func (g *GracefulServer) Add(h ShutdownHook) {
	g.Shutdown.Add(h)
}
