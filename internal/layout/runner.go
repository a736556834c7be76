package layout

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/grishy/gopkgview/internal/observability"
)

// Outcome is the end of one layout generation.
type Outcome struct {
	Generation uint64
	Result     Result
	Err        error // wraps ErrLayoutFailure
	Duration   time.Duration
}

// Runner runs layouts in the background. Every Submit gets a new generation
// number; a result is delivered only if no newer generation has already been
// delivered. Failed layouts are delivered with Err set and do not count as
// delivered, so the caller keeps its previous positions.
type Runner struct {
	engine  Engine
	timeout time.Duration
	deliver func(Outcome)
	logger  *slog.Logger
	metrics *observability.ViewerMetrics

	mu            sync.Mutex
	next          uint64
	lastDelivered uint64

	// deliverMu keeps deliveries in generation order.
	deliverMu sync.Mutex

	wg sync.WaitGroup
}

// NewRunner creates a runner. deliver is called from the layout goroutine
// and must not block for long.
func NewRunner(engine Engine, timeout time.Duration, deliver func(Outcome), logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultEngineConfig().Timeout
	}
	return &Runner{
		engine:  engine,
		timeout: timeout,
		deliver: deliver,
		logger:  logger,
		metrics: observability.Metrics(),
	}
}

// WithMetrics replaces the metrics sink.
func (r *Runner) WithMetrics(m *observability.ViewerMetrics) *Runner {
	r.metrics = m
	return r
}

// Engine returns the wrapped engine.
func (r *Runner) Engine() Engine { return r.engine }

// Submit starts a layout and returns its generation.
func (r *Runner) Submit(ctx context.Context, req Request) uint64 {
	r.mu.Lock()
	r.next++
	gen := r.next
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(context.WithoutCancel(ctx), gen, req)
	}()
	return gen
}

// Wait blocks until every submitted layout has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) run(ctx context.Context, gen uint64, req Request) {
	ctx, span := observability.StartLayoutSpan(ctx, r.engine.Name(), gen, len(req.Nodes))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	res, err := r.engine.Layout(ctx, req)
	dur := time.Since(start)
	observability.RecordLayoutResult(span, dur, err)

	out := Outcome{Generation: gen, Result: res, Duration: dur}
	if err != nil {
		out.Err = fmt.Errorf("%w: %s generation %d: %w", ErrLayoutFailure, r.engine.Name(), gen, err)
	}

	r.deliverMu.Lock()
	defer r.deliverMu.Unlock()

	r.mu.Lock()
	stale := gen < r.lastDelivered
	if !stale && err == nil {
		r.lastDelivered = gen
	}
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordLayout(r.engine.Name(), dur, stale, err)
	}

	switch {
	case stale:
		r.logger.Debug("dropping stale layout", "generation", gen, "engine", r.engine.Name())
		return
	case err != nil:
		r.logger.Warn("layout failed", "generation", gen, "engine", r.engine.Name(), "duration", dur, "error", err)
		observability.Audit().LogLayoutFailed(r.engine.Name(), gen, dur, err)
	default:
		r.logger.Debug("layout done", "generation", gen, "nodes", len(req.Nodes), "duration", dur)
	}

	if r.deliver != nil {
		r.deliver(out)
	}
}
