package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grishy/gopkgview/internal/depgraph"
)

func fixed(status HealthStatus) HealthChecker {
	return func(ctx context.Context) HealthCheck {
		return HealthCheck{Status: status}
	}
}

func get(t *testing.T, s *HealthServer, path string) (int, HealthResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w.Code, resp
}

func TestNewHealthServer_Defaults(t *testing.T) {
	s := NewHealthServer(nil)
	assert.True(t, s.live)
	assert.False(t, s.ready)
	assert.Equal(t, DefaultCheckTimeout, s.checkTimeout)

	s = NewHealthServer(&HealthConfig{Version: "1.0.0", CheckTimeout: time.Second})
	assert.Equal(t, "1.0.0", s.version)
	assert.Equal(t, time.Second, s.checkTimeout)
}

func TestHealth_Aggregate(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]HealthStatus
		code   int
		want   HealthStatus
	}{
		{"no checks", nil, http.StatusOK, HealthStatusHealthy},
		{"all healthy", map[string]HealthStatus{"graph": HealthStatusHealthy, "layout": HealthStatusHealthy}, http.StatusOK, HealthStatusHealthy},
		{"degraded", map[string]HealthStatus{"graph": HealthStatusHealthy, "layout": HealthStatusDegraded}, http.StatusOK, HealthStatusDegraded},
		{"unhealthy wins", map[string]HealthStatus{"graph": HealthStatusUnhealthy, "layout": HealthStatusDegraded}, http.StatusServiceUnavailable, HealthStatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewHealthServer(&HealthConfig{Version: "1.0.0"})
			for name, status := range tt.checks {
				s.RegisterCheck(name, fixed(status))
			}
			code, resp := get(t, s, "/health")
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.want, resp.Status)
			assert.Equal(t, "1.0.0", resp.Version)
			assert.Len(t, resp.Checks, len(tt.checks))
		})
	}
}

func TestCheck_SortedAndNamed(t *testing.T) {
	s := NewHealthServer(nil)
	for _, name := range []string{"watcher", "graph", "layout"} {
		s.RegisterCheck(name, fixed(HealthStatusHealthy))
	}

	resp := s.Check(context.Background())
	var names []string
	for _, c := range resp.Checks {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"graph", "layout", "watcher"}, names)
}

func TestCheck_RunsConcurrently(t *testing.T) {
	s := NewHealthServer(nil)
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	blocking := func(ctx context.Context) HealthCheck {
		started <- struct{}{}
		<-release
		return HealthCheck{Status: HealthStatusHealthy}
	}
	s.RegisterCheck("a", blocking)
	s.RegisterCheck("b", blocking)

	done := make(chan HealthResponse)
	go func() { done <- s.Check(context.Background()) }()

	for range 2 {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("checks did not run concurrently")
		}
	}
	close(release)
	assert.Len(t, (<-done).Checks, 2)
}

func TestCheck_Timeout(t *testing.T) {
	s := NewHealthServer(&HealthConfig{CheckTimeout: 20 * time.Millisecond})
	s.RegisterCheck("graph-store", GraphStoreHealthChecker(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	resp := s.Check(context.Background())
	require.Len(t, resp.Checks, 1)
	assert.Equal(t, HealthStatusDegraded, resp.Checks[0].Status)
	assert.Contains(t, resp.Checks[0].Message, context.DeadlineExceeded.Error())
}

func TestReady(t *testing.T) {
	s := NewHealthServer(nil)

	code, _ := get(t, s, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code, "not ready before SetReady")

	s.SetReady(true)
	s.RegisterCheck("layout", fixed(HealthStatusDegraded))
	code, resp := get(t, s, "/ready")
	assert.Equal(t, http.StatusOK, code, "degraded layout still serves views")
	assert.Len(t, resp.Checks, 1)

	s.RegisterCheck("graph", fixed(HealthStatusUnhealthy))
	code, _ = get(t, s, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code, "no graph means not ready")
}

func TestLive(t *testing.T) {
	s := NewHealthServer(nil)
	s.RegisterCheck("graph", fixed(HealthStatusUnhealthy))

	code, _ := get(t, s, "/live")
	assert.Equal(t, http.StatusOK, code, "liveness ignores checks")

	s.SetLive(false)
	code, resp := get(t, s, "/livez")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, HealthStatusUnhealthy, resp.Status)
}

func TestHealth_Aliases(t *testing.T) {
	s := NewHealthServer(nil)
	s.SetReady(true)
	for _, path := range []string{"/healthz", "/readyz", "/livez"} {
		code, _ := get(t, s, path)
		assert.Equal(t, http.StatusOK, code, path)
	}
}

func TestGraphHealthChecker(t *testing.T) {
	g, err := depgraph.NewGraph([]depgraph.Node{
		{ID: "example.com/app", Category: depgraph.CategoryLocal},
	}, nil)
	require.NoError(t, err)
	empty, err := depgraph.NewGraph(nil, nil)
	require.NoError(t, err)

	tests := []struct {
		name  string
		graph *depgraph.Graph
		want  HealthStatus
	}{
		{"loaded", g, HealthStatusHealthy},
		{"empty", empty, HealthStatusDegraded},
		{"missing", nil, HealthStatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := GraphHealthChecker(func() *depgraph.Graph { return tt.graph })(context.Background())
			assert.Equal(t, tt.want, result.Status)
		})
	}

	result := GraphHealthChecker(func() *depgraph.Graph { return g })(context.Background())
	assert.Equal(t, "1", result.Details["nodes"])
}

func TestErrorCheckers(t *testing.T) {
	boom := errors.New("connection refused")
	ok := func(ctx context.Context) error { return nil }
	fail := func(ctx context.Context) error { return boom }

	assert.Equal(t, HealthStatusHealthy, GraphStoreHealthChecker(ok)(context.Background()).Status)
	assert.Equal(t, HealthStatusDegraded, GraphStoreHealthChecker(fail)(context.Background()).Status)

	assert.Equal(t, HealthStatusHealthy, LayoutHealthChecker("layered", nil)(context.Background()).Status)
	res := LayoutHealthChecker("elk", fail)(context.Background())
	assert.Equal(t, HealthStatusDegraded, res.Status)
	assert.Equal(t, "elk", res.Details["engine"])

	var lastErr error
	watcher := WatcherHealthChecker(func() error { return lastErr })
	assert.Equal(t, HealthStatusHealthy, watcher(context.Background()).Status)
	lastErr = errors.New("go.mod: parse error")
	assert.Equal(t, HealthStatusDegraded, watcher(context.Background()).Status)
}
