package layout

import (
	"context"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/grishy/gopkgview/internal/viewmodel"
)

// LayeredEngine is an in-process layered layout. Import cycles are collapsed
// into one layer via strongly connected components, layers are assigned by
// longest path, and nodes inside a layer are ordered by the barycenter of
// their importers.
type LayeredEngine struct{}

// NewLayeredEngine creates the built-in engine.
func NewLayeredEngine() *LayeredEngine { return &LayeredEngine{} }

func (e *LayeredEngine) Name() string { return "layered" }

func (e *LayeredEngine) Layout(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	dir := req.Options.Direction
	if dir == "" {
		dir = DirectionRight
	}
	if dir != DirectionRight && dir != DirectionDown {
		return Result{}, fmt.Errorf("layered: unsupported direction %q", dir)
	}

	layers, err := assignLayers(req)
	if err != nil {
		return Result{}, err
	}
	orderLayers(req, layers)
	return Result{Positions: place(req, layers, dir)}, nil
}

// assignLayers returns node indexes grouped by layer.
func assignLayers(req Request) ([][]int, error) {
	index := make(map[string]int64, len(req.Nodes))
	dg := simple.NewDirectedGraph()
	for i, b := range req.Nodes {
		index[b.ID] = int64(i)
		dg.AddNode(simple.Node(i))
	}
	for _, l := range req.Links {
		from, okFrom := index[l.Source]
		to, okTo := index[l.Target]
		if !okFrom || !okTo || from == to {
			continue
		}
		dg.SetEdge(dg.NewEdge(simple.Node(from), simple.Node(to)))
	}

	// Condense cycles so the remaining graph is a DAG.
	comp := make(map[int64]int64, len(req.Nodes))
	cg := simple.NewDirectedGraph()
	for ci, scc := range topo.TarjanSCC(dg) {
		cg.AddNode(simple.Node(ci))
		for _, n := range scc {
			comp[n.ID()] = int64(ci)
		}
	}
	edges := dg.Edges()
	for edges.Next() {
		e := edges.Edge()
		cf, ct := comp[e.From().ID()], comp[e.To().ID()]
		if cf != ct {
			cg.SetEdge(cg.NewEdge(simple.Node(cf), simple.Node(ct)))
		}
	}

	order, err := topo.Sort(cg)
	if err != nil {
		return nil, fmt.Errorf("layered: order components: %w", err)
	}

	depth := make(map[int64]int, len(order))
	maxDepth := 0
	for _, c := range order {
		d := depth[c.ID()]
		succ := cg.From(c.ID())
		for succ.Next() {
			s := succ.Node().ID()
			if depth[s] < d+1 {
				depth[s] = d + 1
			}
		}
		if d > maxDepth {
			maxDepth = d
		}
	}

	if len(req.Nodes) == 0 {
		return nil, nil
	}
	layers := make([][]int, maxDepth+1)
	for i := range req.Nodes {
		d := depth[comp[int64(i)]]
		layers[d] = append(layers[d], i)
	}
	return layers, nil
}

// orderLayers sorts each layer by the mean rank of its importers in earlier
// layers. Nodes without importers keep request order after the others.
func orderLayers(req Request, layers [][]int) {
	index := make(map[string]int, len(req.Nodes))
	for i, b := range req.Nodes {
		index[b.ID] = i
	}
	preds := make(map[int][]int)
	for _, l := range req.Links {
		from, okFrom := index[l.Source]
		to, okTo := index[l.Target]
		if okFrom && okTo && from != to {
			preds[to] = append(preds[to], from)
		}
	}

	rank := make(map[int]float64, len(req.Nodes))
	for li, layer := range layers {
		if li > 0 {
			bary := make(map[int]float64, len(layer))
			for _, n := range layer {
				sum, cnt := 0.0, 0
				for _, p := range preds[n] {
					if r, ok := rank[p]; ok {
						sum += r
						cnt++
					}
				}
				if cnt == 0 {
					bary[n] = float64(len(req.Nodes) + n)
				} else {
					bary[n] = sum / float64(cnt)
				}
			}
			sort.SliceStable(layer, func(i, j int) bool { return bary[layer[i]] < bary[layer[j]] })
		}
		for pos, n := range layer {
			rank[n] = float64(pos)
		}
	}
}

// place assigns coordinates. Layers advance along the layout direction and
// are centered on the cross axis.
func place(req Request, layers [][]int, dir string) map[string]viewmodel.Position {
	along := func(b Box) float64 { return b.Width }
	across := func(b Box) float64 { return b.Height }
	if dir == DirectionDown {
		along, across = across, along
	}

	extents := make([]float64, len(layers))
	thickness := make([]float64, len(layers))
	maxExtent := 0.0
	for li, layer := range layers {
		for i, n := range layer {
			if i > 0 {
				extents[li] += req.Options.NodeSpacing
			}
			extents[li] += across(req.Nodes[n])
			thickness[li] = max(thickness[li], along(req.Nodes[n]))
		}
		maxExtent = max(maxExtent, extents[li])
	}

	out := make(map[string]viewmodel.Position, len(req.Nodes))
	offset := 0.0
	for li, layer := range layers {
		cross := (maxExtent - extents[li]) / 2
		for _, n := range layer {
			b := req.Nodes[n]
			if dir == DirectionDown {
				out[b.ID] = viewmodel.Position{X: cross, Y: offset}
			} else {
				out[b.ID] = viewmodel.Position{X: offset, Y: cross}
			}
			cross += across(b) + req.Options.NodeSpacing
		}
		offset += thickness[li] + req.Options.LayerSpacing
	}
	return out
}
