package graph

import (
	"context"
	"sort"
	"sync"

	"github.com/grishy/gopkgview/internal/depgraph"
)

// MemoryRepository keeps the last stored graph in process.
type MemoryRepository struct {
	mu    sync.RWMutex
	graph *depgraph.Graph
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) StoreGraph(ctx context.Context, g *depgraph.Graph) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.graph = g
	return nil
}

func (r *MemoryRepository) LoadGraph(ctx context.Context) (*depgraph.Graph, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.graph == nil {
		return nil, ErrNotFound
	}
	return r.graph, nil
}

func (r *MemoryRepository) QueryImporters(ctx context.Context, id string) ([]string, error) {
	g, err := r.LoadGraph(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range g.Edges {
		if e.To == id {
			out = append(out, e.From)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *MemoryRepository) Close(context.Context) error { return nil }

var _ Repository = (*MemoryRepository)(nil)
