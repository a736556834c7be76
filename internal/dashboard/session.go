package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/grishy/gopkgview/internal/depgraph"
	"github.com/grishy/gopkgview/internal/layout"
	"github.com/grishy/gopkgview/internal/observability"
	"github.com/grishy/gopkgview/internal/viewmodel"
)

// ErrSessionClosed is returned by calls made after Run has exited.
var ErrSessionClosed = errors.New("session closed")

// SessionConfig holds the initial view and layout settings.
type SessionConfig struct {
	Params        viewmodel.Params
	Theme         viewmodel.Theme
	Layout        layout.Options
	LayoutTimeout time.Duration
}

// DefaultSessionConfig returns the viewer defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Params:        viewmodel.DefaultParams(),
		Theme:         viewmodel.DefaultTheme(),
		Layout:        layout.DefaultOptions(),
		LayoutTimeout: layout.DefaultEngineConfig().Timeout,
	}
}

type actionMsg struct {
	ctx    context.Context
	action viewmodel.Action
	reply  chan actionReply
}

type actionReply struct {
	view ViewState
	err  error
}

type replaceMsg struct {
	ctx   context.Context
	graph *depgraph.Graph
	reply chan error
}

// Session owns one viewer's state. Actions, layout results and graph
// replacements are applied one at a time by the Run loop; readers get the
// last published snapshot.
type Session struct {
	cfg     SessionConfig
	emitter *Emitter
	runner  *layout.Runner
	logger  *slog.Logger

	actions  chan actionMsg
	layouts  chan layout.Outcome
	replaces chan replaceMsg
	done     chan struct{}
	started  chan struct{}

	// Owned by the Run goroutine.
	graph     *depgraph.Graph
	state     viewmodel.UIState
	laidOut   viewmodel.Subgraph
	positions map[string]viewmodel.Position
	shownGen  uint64
	pending   map[uint64]viewmodel.Subgraph
	layoutErr string
	deriveErr *ErrorResponse

	mu       sync.RWMutex
	snapshot ViewState
	current  *depgraph.Graph
}

// NewSession creates a session over g. A nil engine disables layout and all
// positions stay zero.
func NewSession(g *depgraph.Graph, engine layout.Engine, cfg SessionConfig, emitter *Emitter) *Session {
	s := &Session{
		cfg:      cfg,
		emitter:  emitter,
		logger:   slog.Default().With("component", "session"),
		actions:  make(chan actionMsg),
		layouts:  make(chan layout.Outcome),
		replaces: make(chan replaceMsg),
		done:     make(chan struct{}),
		started:  make(chan struct{}),
		graph:    g,
		current:  g,
		state:    viewmodel.UIState{Params: cfg.Params},
		pending:  make(map[uint64]viewmodel.Subgraph),
	}
	if engine != nil {
		s.runner = layout.NewRunner(engine, cfg.LayoutTimeout, s.deliver, s.logger)
	}
	return s
}

// deliver hands a layout outcome to the Run loop. Outcomes arriving after
// Run exits are dropped.
func (s *Session) deliver(out layout.Outcome) {
	select {
	case s.layouts <- out:
	case <-s.done:
	}
}

// Run processes events until ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	defer func() {
		close(s.done)
		if s.runner != nil {
			s.runner.Wait()
		}
	}()

	if err := s.refresh(ctx, true); err != nil {
		s.logger.Warn("initial view failed", "error", err)
		s.publish()
	}
	close(s.started)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-s.actions:
			view, err := s.apply(msg.ctx, msg.action)
			msg.reply <- actionReply{view: view, err: err}
		case out := <-s.layouts:
			s.applyLayout(out)
		case msg := <-s.replaces:
			msg.reply <- s.replace(msg.ctx, msg.graph)
		}
	}
}

// Ready is closed once the initial view has been published.
func (s *Session) Ready() <-chan struct{} { return s.started }

// Dispatch applies an action and returns the resulting view.
func (s *Session) Dispatch(ctx context.Context, a viewmodel.Action) (ViewState, error) {
	reply := make(chan actionReply, 1)
	select {
	case s.actions <- actionMsg{ctx: ctx, action: a, reply: reply}:
	case <-s.done:
		return ViewState{}, ErrSessionClosed
	case <-ctx.Done():
		return ViewState{}, ctx.Err()
	}
	r := <-reply
	return r.view, r.err
}

// ReplaceGraph swaps the graph snapshot wholesale and re-derives the view.
func (s *Session) ReplaceGraph(ctx context.Context, g *depgraph.Graph) error {
	reply := make(chan error, 1)
	select {
	case s.replaces <- replaceMsg{ctx: ctx, graph: g, reply: reply}:
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-reply
}

// View returns the last published view.
func (s *Session) View() ViewState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// Graph returns the current graph snapshot.
func (s *Session) Graph() *depgraph.Graph {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Config returns the session configuration.
func (s *Session) Config() SessionConfig { return s.cfg }

func (s *Session) apply(ctx context.Context, a viewmodel.Action) (ViewState, error) {
	next, err := viewmodel.Reduce(s.state, a)
	s.emitter.ActionApplied(a, err)
	if err != nil {
		return s.View(), err
	}

	prev := s.state
	s.state = next
	if err := s.refresh(ctx, viewmodel.NeedsLayout(prev, next)); err != nil {
		// Keep the last good state so the session stays renderable.
		s.state = prev
		s.publish()
		return s.View(), err
	}
	return s.View(), nil
}

// refresh re-filters the graph. When relayout is set the new subgraph is
// sent to layout; otherwise the laid-out subgraph is only restyled. A failed
// derive is recorded but not published; the caller publishes once it has
// settled the state.
func (s *Session) refresh(ctx context.Context, relayout bool) error {
	if relayout {
		_, span := observability.StartDeriveSpan(ctx, s.state.Interaction.Selected, s.state.Interaction.Hovered)
		sub, err := viewmodel.Filter(s.graph, s.state.Params, s.state.Interaction)
		observability.RecordError(span, err)
		span.End()
		s.emitter.Derived(err)
		if err != nil {
			resp := errorResponse(err)
			s.deriveErr = &resp
			return err
		}
		s.deriveErr = nil
		s.requestLayout(ctx, sub)
	}
	s.publish()
	return nil
}

func (s *Session) requestLayout(ctx context.Context, sub viewmodel.Subgraph) {
	if s.runner == nil {
		s.laidOut = sub
		s.positions = nil
		return
	}
	gen := s.runner.Submit(ctx, layout.NewRequest(sub, s.cfg.Layout))
	s.pending[gen] = sub
}

func (s *Session) applyLayout(out layout.Outcome) {
	sub, ok := s.pending[out.Generation]
	if !ok {
		return
	}
	if out.Err != nil {
		delete(s.pending, out.Generation)
		s.layoutErr = out.Err.Error()
		s.emitter.LayoutFailed(out)
		s.publish()
		return
	}

	// Older requests can no longer be shown.
	for gen := range s.pending {
		if gen <= out.Generation {
			delete(s.pending, gen)
		}
	}
	s.laidOut = sub
	s.positions = out.Result.Positions
	s.shownGen = out.Generation
	s.layoutErr = ""
	s.publish()
}

func (s *Session) replace(ctx context.Context, g *depgraph.Graph) error {
	if g == nil {
		return fmt.Errorf("replace graph: nil graph")
	}
	s.graph = g

	var dropped []string
	in := &s.state.Interaction
	if in.Selected != "" && !g.HasNode(in.Selected) {
		dropped = append(dropped, in.Selected)
		in.Selected = ""
		s.state.Params.OnlyDirectEdges = false
	}
	if in.Hovered != "" && !g.HasNode(in.Hovered) {
		dropped = append(dropped, in.Hovered)
		in.Hovered = ""
	}

	s.mu.Lock()
	s.current = g
	s.mu.Unlock()

	s.emitter.GraphReloaded(ReloadInfo{Stats: g.Stats, Dropped: dropped})
	if err := s.refresh(ctx, true); err != nil {
		s.publish()
		return err
	}
	return nil
}

// publish restyles the laid-out subgraph with the current interaction and
// broadcasts the result.
func (s *Session) publish() {
	view := ViewState{
		State:         s.state,
		Graph:         viewmodel.Annotate(s.laidOut, s.positions, s.state.Interaction, s.cfg.Theme),
		Generation:    s.shownGen,
		LayoutPending: len(s.pending) > 0,
		LayoutError:   s.layoutErr,
		DeriveError:   s.deriveErr,
	}

	s.mu.Lock()
	s.snapshot = view
	s.mu.Unlock()

	s.emitter.ViewUpdated(view)
}
