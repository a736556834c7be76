// Package server provides the viewer's health endpoints and graceful
// shutdown.
package server

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/grishy/gopkgview/internal/depgraph"
)

// HealthStatus represents the health state of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
)

// DefaultCheckTimeout bounds a single health check.
const DefaultCheckTimeout = 2 * time.Second

// HealthCheck represents a single health check.
type HealthCheck struct {
	Name     string            `json:"name"`
	Status   HealthStatus      `json:"status"`
	Message  string            `json:"message,omitempty"`
	Details  map[string]string `json:"details,omitempty"`
	Duration time.Duration     `json:"duration_ns"`
}

// HealthResponse is the response from health endpoints.
type HealthResponse struct {
	Status    HealthStatus  `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Version   string        `json:"version,omitempty"`
	Checks    []HealthCheck `json:"checks,omitempty"`
}

// HealthChecker is a function that performs a health check.
type HealthChecker func(ctx context.Context) HealthCheck

// HealthServer serves /health, /ready and /live. It has no listener of its
// own; mount Handler on the viewer's mux.
type HealthServer struct {
	mu           sync.RWMutex
	checks       map[string]HealthChecker
	version      string
	checkTimeout time.Duration
	ready        bool
	live         bool
}

// HealthConfig configures the health server.
type HealthConfig struct {
	Version      string
	CheckTimeout time.Duration // per check (default: DefaultCheckTimeout)
}

// NewHealthServer creates a new health server. It starts live but not
// ready.
func NewHealthServer(config *HealthConfig) *HealthServer {
	s := &HealthServer{
		checks:       make(map[string]HealthChecker),
		checkTimeout: DefaultCheckTimeout,
		live:         true,
	}
	if config != nil {
		s.version = config.Version
		if config.CheckTimeout > 0 {
			s.checkTimeout = config.CheckTimeout
		}
	}
	return s
}

// RegisterCheck adds or replaces a named check.
func (s *HealthServer) RegisterCheck(name string, checker HealthChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = checker
}

// SetReady marks the viewer as ready to serve views.
func (s *HealthServer) SetReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = ready
}

// SetLive marks the process as live (or not).
func (s *HealthServer) SetLive(live bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live = live
}

// Handler returns an http.Handler for the health endpoints.
func (s *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/live", s.handleLive)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/livez", s.handleLive)
	return mux
}

// Check runs every registered check concurrently, each under the check
// timeout, and returns the results sorted by name with the overall status.
// Degraded checks degrade the total; any unhealthy check makes it
// unhealthy.
func (s *HealthServer) Check(ctx context.Context) HealthResponse {
	s.mu.RLock()
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	checks := make(map[string]HealthChecker, len(s.checks))
	for k, v := range s.checks {
		checks[k] = v
	}
	version := s.version
	timeout := s.checkTimeout
	s.mu.RUnlock()

	sort.Strings(names)
	results := make([]HealthCheck, len(names))

	var eg errgroup.Group
	for i, name := range names {
		eg.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			start := time.Now()
			check := checks[name](cctx)
			check.Name = name
			check.Duration = time.Since(start)
			results[i] = check
			return nil
		})
	}
	_ = eg.Wait()

	response := HealthResponse{
		Status:    HealthStatusHealthy,
		Timestamp: time.Now().UTC(),
		Version:   version,
		Checks:    results,
	}
	for _, check := range results {
		switch check.Status {
		case HealthStatusUnhealthy:
			response.Status = HealthStatusUnhealthy
		case HealthStatusDegraded:
			if response.Status == HealthStatusHealthy {
				response.Status = HealthStatusDegraded
			}
		}
	}
	return response
}

func (s *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := s.Check(r.Context())
	s.writeJSON(w, statusCode(response.Status), response)
}

// handleReady reports ready once SetReady(true) was called and no check is
// unhealthy: a viewer without a graph cannot serve views.
func (s *HealthServer) handleReady(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	ready := s.ready
	s.mu.RUnlock()

	if !ready {
		s.writeJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status:    HealthStatusUnhealthy,
			Timestamp: time.Now().UTC(),
		})
		return
	}
	response := s.Check(r.Context())
	s.writeJSON(w, statusCode(response.Status), response)
}

func (s *HealthServer) handleLive(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	live := s.live
	s.mu.RUnlock()

	response := HealthResponse{Status: HealthStatusHealthy, Timestamp: time.Now().UTC()}
	if !live {
		response.Status = HealthStatusUnhealthy
	}
	s.writeJSON(w, statusCode(response.Status), response)
}

func statusCode(status HealthStatus) int {
	if status == HealthStatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func (s *HealthServer) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Common health checkers

// GraphHealthChecker reports the loaded import graph. A missing snapshot is
// unhealthy; an empty one is degraded.
func GraphHealthChecker(snapshot func() *depgraph.Graph) HealthChecker {
	return func(ctx context.Context) HealthCheck {
		g := snapshot()
		if g == nil {
			return HealthCheck{
				Status:  HealthStatusUnhealthy,
				Message: "No import graph loaded",
			}
		}
		details := map[string]string{
			"nodes": strconv.Itoa(g.Stats.TotalNodes),
			"edges": strconv.Itoa(g.Stats.TotalEdges),
		}
		if g.Stats.TotalNodes == 0 {
			return HealthCheck{
				Status:  HealthStatusDegraded,
				Message: "Import graph is empty",
				Details: details,
			}
		}
		return HealthCheck{
			Status:  HealthStatusHealthy,
			Message: "Import graph loaded",
			Details: details,
		}
	}
}

// GraphStoreHealthChecker reports graph store connectivity. The graph is
// already loaded in memory, so a lost store only degrades the viewer.
func GraphStoreHealthChecker(checkFn func(ctx context.Context) error) HealthChecker {
	return func(ctx context.Context) HealthCheck {
		err := checkFn(ctx)
		if err != nil {
			return HealthCheck{
				Status:  HealthStatusDegraded,
				Message: "Graph store connection failed: " + err.Error(),
			}
		}
		return HealthCheck{
			Status:  HealthStatusHealthy,
			Message: "Graph store connection OK",
		}
	}
}

// LayoutHealthChecker creates a health check for a layout engine. Layout
// problems degrade the viewer without making it unusable.
func LayoutHealthChecker(engineName string, checkFn func(ctx context.Context) error) HealthChecker {
	return func(ctx context.Context) HealthCheck {
		if checkFn == nil {
			return HealthCheck{
				Status:  HealthStatusHealthy,
				Message: "Layout engine configured: " + engineName,
				Details: map[string]string{"engine": engineName},
			}
		}

		err := checkFn(ctx)
		if err != nil {
			return HealthCheck{
				Status:  HealthStatusDegraded,
				Message: "Layout engine degraded: " + err.Error(),
				Details: map[string]string{"engine": engineName},
			}
		}
		return HealthCheck{
			Status:  HealthStatusHealthy,
			Message: "Layout engine OK",
			Details: map[string]string{"engine": engineName},
		}
	}
}

// WatcherHealthChecker reports the last rebuild error of the file watcher.
func WatcherHealthChecker(lastErr func() error) HealthChecker {
	return func(ctx context.Context) HealthCheck {
		if err := lastErr(); err != nil {
			return HealthCheck{
				Status:  HealthStatusDegraded,
				Message: "Last rebuild failed: " + err.Error(),
			}
		}
		return HealthCheck{
			Status:  HealthStatusHealthy,
			Message: "Watching for changes",
		}
	}
}
