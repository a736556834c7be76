package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/grishy/gopkgview/internal/depgraph"
)

func TestMemoryRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewMemory()

	if _, err := repo.LoadGraph(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	g, err := depgraph.NewGraph(
		[]depgraph.Node{
			{ID: "a", Category: depgraph.CategoryLocal},
			{ID: "b", Category: depgraph.CategoryLocal},
			{ID: "c", Category: depgraph.CategoryStd},
		},
		[]depgraph.Edge{
			depgraph.NewEdge("b", "c"),
			depgraph.NewEdge("a", "c"),
		},
	)
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.StoreGraph(ctx, g); err != nil {
		t.Fatalf("store: %v", err)
	}

	loaded, err := repo.LoadGraph(ctx)
	if err != nil || loaded != g {
		t.Fatalf("expected stored graph back, got %v %v", loaded, err)
	}

	importers, err := repo.QueryImporters(ctx, "c")
	if err != nil {
		t.Fatal(err)
	}
	if len(importers) != 2 || importers[0] != "a" || importers[1] != "b" {
		t.Fatalf("expected [a b], got %v", importers)
	}
	if err := repo.Close(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestMemoryRepository_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := NewMemory().StoreGraph(ctx, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
