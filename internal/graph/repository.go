// Package graph persists import graphs outside the process.
package graph

import (
	"context"
	"errors"

	"github.com/grishy/gopkgview/internal/depgraph"
)

// ErrNotFound is returned when no graph has been stored yet.
var ErrNotFound = errors.New("graph not found")

// Repository provides graph storage for import graphs.
type Repository interface {
	// StoreGraph replaces the stored graph with g.
	StoreGraph(ctx context.Context, g *depgraph.Graph) error
	// LoadGraph retrieves the stored graph.
	LoadGraph(ctx context.Context) (*depgraph.Graph, error)
	// QueryImporters returns the IDs of packages importing id, sorted.
	QueryImporters(ctx context.Context, id string) ([]string, error)
	// Close releases resources.
	Close(ctx context.Context) error
}
