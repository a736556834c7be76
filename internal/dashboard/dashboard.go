// Package dashboard serves the import graph viewer: the HTTP API, the SSE
// event stream and the per-viewer session that turns UI actions into
// styled, laid-out graphs.
package dashboard

import (
	"github.com/grishy/gopkgview/internal/depgraph"
	"github.com/grishy/gopkgview/internal/layout"
	"github.com/grishy/gopkgview/internal/server"
)

// Dashboard ties together all viewer components.
type Dashboard struct {
	Server  *Server
	Session *Session
	Hub     *Hub
	Emitter *Emitter
}

// New creates a fully wired viewer over g.
func New(config *Config, g *depgraph.Graph, engine layout.Engine, sessionCfg SessionConfig, health *server.HealthServer) *Dashboard {
	hub := NewHub()
	emitter := NewEmitter(hub)
	hub.OnClientCount(func(n int) { emitter.metrics.EventClients.Set(float64(n)) })
	session := NewSession(g, engine, sessionCfg, emitter)
	srv := NewServer(config, session, hub, emitter, engine, health)

	return &Dashboard{
		Server:  srv,
		Session: session,
		Hub:     hub,
		Emitter: emitter,
	}
}
