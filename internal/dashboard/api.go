package dashboard

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"github.com/grishy/gopkgview/internal/depgraph"
	"github.com/grishy/gopkgview/internal/layout"
	"github.com/grishy/gopkgview/internal/observability"
	"github.com/grishy/gopkgview/internal/server"
	"github.com/grishy/gopkgview/internal/viewmodel"
)

//go:embed static
var staticFS embed.FS

// Config holds viewer server configuration.
type Config struct {
	ListenAddr string        // e.g. ":0" for a random port
	Version    string
	KeepAlive  time.Duration // SSE ping interval (default: 30s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{ListenAddr: "localhost:0", Version: "dev", KeepAlive: 30 * time.Second}
}

// Server is the viewer HTTP server.
type Server struct {
	config   *Config
	session  *Session
	hub      *Hub
	emitter  *Emitter
	engine   layout.Engine
	health   *server.HealthServer
	metrics  *observability.ViewerMetrics
	http     *http.Server
	listener net.Listener
}

// NewServer creates a new viewer server. engine serves /api/view?layout=1
// and may be nil.
func NewServer(config *Config, session *Session, hub *Hub, emitter *Emitter, engine layout.Engine, health *server.HealthServer) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.KeepAlive <= 0 {
		config.KeepAlive = 30 * time.Second
	}
	s := &Server{
		config:  config,
		session: session,
		hub:     hub,
		emitter: emitter,
		engine:  engine,
		health:  health,
		metrics: observability.Metrics(),
	}

	s.http = &http.Server{
		Addr:        config.ListenAddr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: /api/events streams indefinitely.
		IdleTimeout: 60 * time.Second,
	}
	// Shutdown waits for handlers; event streams only end when dropped.
	s.http.RegisterOnShutdown(hub.Close)
	return s
}

// Handler returns the full route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /data", s.handleData)
	mux.HandleFunc("GET /api/view", s.handleView)
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("POST /api/actions", s.handleActions)
	mux.HandleFunc("GET /api/events", s.handleSSE)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/export", s.handleExport)
	mux.Handle("GET /metrics", s.metrics.Handler())

	if s.health != nil {
		h := s.health.Handler()
		for _, p := range []string{"/health", "/ready", "/live", "/healthz", "/readyz", "/livez"} {
			mux.Handle("GET "+p, h)
		}
	}

	mux.HandleFunc("GET /{$}", s.handleIndex)

	return corsMiddleware(loggingMiddleware(mux))
}

// Listen binds the listen address and returns the viewer URL.
func (s *Server) Listen() (string, error) {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return "", fmt.Errorf("listen on %s: %w", s.config.ListenAddr, err)
	}
	s.listener = ln
	return "http://" + ln.Addr().String(), nil
}

// Serve serves on the bound listener until Stop.
func (s *Server) Serve() error {
	if s.listener == nil {
		if _, err := s.Listen(); err != nil {
			return err
		}
	}
	slog.Info("Starting viewer server", "addr", s.listener.Addr().String())
	if err := s.http.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("viewer server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	slog.Info("Stopping viewer server")
	return s.http.Shutdown(ctx)
}

// handleData handles GET /data
func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := depgraph.Encode(w, s.session.Graph()); err != nil {
		slog.Error("Failed to encode graph", "error", err)
	}
}

// handleView handles GET /api/view. It derives a view from query
// parameters without touching the session.
func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cfg := s.session.Config()
	p := cfg.Params
	for key, dst := range map[string]*bool{
		"std":    &p.ShowStd,
		"ext":    &p.ShowExternal,
		"err":    &p.ShowError,
		"direct": &p.OnlyDirectEdges,
	} {
		if v := q.Get(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				respondError(w, http.StatusBadRequest, fmt.Errorf("parameter %s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	in := viewmodel.Interaction{Selected: q.Get("selected"), Hovered: q.Get("hovered")}

	_, span := observability.StartDeriveSpan(r.Context(), in.Selected, in.Hovered)
	sub, err := viewmodel.Filter(s.session.Graph(), p, in)
	observability.RecordError(span, err)
	span.End()
	s.emitter.Derived(err)
	if err != nil {
		respondError(w, statusFor(err), err)
		return
	}

	var positions map[string]viewmodel.Position
	if q.Get("layout") == "1" && s.engine != nil {
		ctx, cancel := context.WithTimeout(r.Context(), cfg.LayoutTimeout)
		defer cancel()
		res, err := s.engine.Layout(ctx, layout.NewRequest(sub, cfg.Layout))
		if err != nil {
			respondError(w, http.StatusBadGateway, fmt.Errorf("%w: %w", layout.ErrLayoutFailure, err))
			return
		}
		positions = res.Positions
	}

	respondJSON(w, http.StatusOK, viewmodel.Annotate(sub, positions, in, cfg.Theme))
}

// handleState handles GET /api/state
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.session.View())
}

// handleActions handles POST /api/actions
func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	var a viewmodel.Action
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&a); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Errorf("decode action: %w", err))
		return
	}

	view, err := s.session.Dispatch(r.Context(), a)
	if err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// handleSSE handles GET /api/events (Server-Sent Events). The first event
// carries the current view so clients need no extra fetch.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	client := s.hub.Subscribe()
	defer s.hub.Unsubscribe(client)

	first, err := json.Marshal(&Event{
		Type:      EventConnected,
		Timestamp: time.Now(),
		Data:      s.session.View(),
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	slog.Debug("SSE client connected", "clients", s.hub.Count())
	err = client.Stream(r.Context(), w, first, s.config.KeepAlive)
	slog.Debug("SSE client disconnected", "error", err)
}

// handleStats handles GET /api/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	g := s.session.Graph()
	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, depgraph.FormatStats(g))
		return
	}
	respondJSON(w, http.StatusOK, g.Stats)
}

// handleExport handles GET /api/export?format=dot|mermaid|json
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	g := s.session.Graph()
	switch format := r.URL.Query().Get("format"); format {
	case "dot", "":
		w.Header().Set("Content-Type", "text/vnd.graphviz; charset=utf-8")
		fmt.Fprint(w, depgraph.ExportDOT(g))
	case "mermaid":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, depgraph.ExportMermaid(g))
	case "json":
		data, err := depgraph.ExportJSON(g)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	default:
		respondError(w, http.StatusBadRequest, fmt.Errorf("unknown export format %q", format))
	}
}

// handleIndex serves the embedded viewer page.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	http.ServeFileFS(w, r, staticFS, "static/index.html")
}

// statusFor maps session and view errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, viewmodel.ErrUnknownCategory):
		return http.StatusUnprocessableEntity
	case errors.Is(err, viewmodel.ErrUnknownAction):
		return http.StatusBadRequest
	case errors.Is(err, ErrSessionClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, errorResponse(err))
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
	w.Write([]byte("\n"))
}

// corsMiddleware adds CORS headers for local development
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}
