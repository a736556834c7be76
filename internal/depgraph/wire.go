package depgraph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	json "github.com/goccy/go-json"
)

// ErrFetchFailure marks a graph load that failed or returned malformed data.
var ErrFetchFailure = errors.New("fetch failure")

// Wire package types as served on /data.
const (
	WireLocal    = "loc"
	WireStd      = "std"
	WireExternal = "ext"
	WireError    = "err"
)

// WireNode is the /data representation of a package.
type WireNode struct {
	ImportPath string
	Name       string
	PkgType    string
}

// WireEdge is the /data representation of an import.
type WireEdge struct {
	From string
	To   string
}

// WirePayload is the /data body.
type WirePayload struct {
	Nodes []WireNode `json:"nodes"`
	Edges []WireEdge `json:"edges"`
}

// ParseWireCategory maps a wire package type to a Category. Unrecognized
// values are passed through verbatim so the view filter can reject them.
func ParseWireCategory(pkgType string) Category {
	switch pkgType {
	case WireLocal:
		return CategoryLocal
	case WireStd:
		return CategoryStd
	case WireExternal:
		return CategoryExternal
	case WireError:
		return CategoryError
	default:
		return Category(pkgType)
	}
}

// WireCategory is the inverse of ParseWireCategory.
func WireCategory(c Category) string {
	switch c {
	case CategoryLocal:
		return WireLocal
	case CategoryStd:
		return WireStd
	case CategoryExternal:
		return WireExternal
	case CategoryError:
		return WireError
	default:
		return string(c)
	}
}

// ToWire converts a graph into its /data payload.
func ToWire(g *Graph) WirePayload {
	p := WirePayload{
		Nodes: make([]WireNode, 0, len(g.Nodes)),
		Edges: make([]WireEdge, 0, len(g.Edges)),
	}
	for _, n := range g.Nodes {
		p.Nodes = append(p.Nodes, WireNode{ImportPath: n.ID, Name: n.Name, PkgType: WireCategory(n.Category)})
	}
	for _, e := range g.Edges {
		p.Edges = append(p.Edges, WireEdge{From: e.From, To: e.To})
	}
	return p
}

// Encode writes the /data payload of g.
func Encode(w io.Writer, g *Graph) error {
	return json.NewEncoder(w).Encode(ToWire(g))
}

// Assemble maps wire nodes and edges into a validated graph. It also serves
// the variant where nodes and edges come from separate endpoints.
func Assemble(nodes []WireNode, edges []WireEdge) (*Graph, error) {
	out := make([]Node, 0, len(nodes))
	for i, wn := range nodes {
		if wn.ImportPath == "" {
			return nil, fmt.Errorf("%w: node %d has no ImportPath", ErrFetchFailure, i)
		}
		c := ParseWireCategory(wn.PkgType)
		out = append(out, Node{
			ID:       wn.ImportPath,
			Name:     wn.Name,
			Label:    LabelFor(wn.ImportPath, wn.Name, c),
			Category: c,
		})
	}

	es := make([]Edge, 0, len(edges))
	for _, we := range edges {
		es = append(es, NewEdge(we.From, we.To))
	}

	g, err := NewGraph(out, es)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailure, err)
	}
	return g, nil
}

// Decode reads a /data payload.
func Decode(r io.Reader) (*Graph, error) {
	var p WirePayload
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: decode payload: %w", ErrFetchFailure, err)
	}
	if p.Nodes == nil {
		return nil, fmt.Errorf("%w: payload has no nodes", ErrFetchFailure)
	}
	return Assemble(p.Nodes, p.Edges)
}

// Fetch loads a graph from a /data endpoint.
func Fetch(ctx context.Context, client *http.Client, url string) (*Graph, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailure, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %s", ErrFetchFailure, url, resp.Status)
	}
	return Decode(resp.Body)
}
