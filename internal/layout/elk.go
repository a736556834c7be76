package layout

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/grishy/gopkgview/internal/viewmodel"
)

const defaultELKURL = "http://localhost:8090/layout"

// StatusError is a non-2xx reply from the ELK service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("elk: %d %s: %s", e.Code, http.StatusText(e.Code), e.Body)
}

// ELKEngine posts an ELK JSON graph to an elkjs HTTP service and reads the
// placed children back.
type ELKEngine struct {
	url  string
	http *http.Client
}

// NewELKEngine creates a client for the service at url.
func NewELKEngine(url string) *ELKEngine {
	if url == "" {
		url = defaultELKURL
	}
	return &ELKEngine{url: url, http: &http.Client{}}
}

func (e *ELKEngine) Name() string { return "elk" }

type elkNode struct {
	ID     string  `json:"id"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	X      float64 `json:"x,omitempty"`
	Y      float64 `json:"y,omitempty"`
}

type elkEdge struct {
	ID      string   `json:"id"`
	Sources []string `json:"sources"`
	Targets []string `json:"targets"`
}

type elkGraph struct {
	ID            string         `json:"id"`
	LayoutOptions map[string]any `json:"layoutOptions,omitempty"`
	Children      []elkNode      `json:"children"`
	Edges         []elkEdge      `json:"edges"`
}

func (e *ELKEngine) Layout(ctx context.Context, req Request) (Result, error) {
	g := elkGraph{
		ID:            "root",
		LayoutOptions: req.Options.ELK(),
		Children:      make([]elkNode, 0, len(req.Nodes)),
		Edges:         make([]elkEdge, 0, len(req.Links)),
	}
	for _, b := range req.Nodes {
		g.Children = append(g.Children, elkNode{ID: b.ID, Width: b.Width, Height: b.Height})
	}
	for _, l := range req.Links {
		g.Edges = append(g.Edges, elkEdge{ID: l.ID, Sources: []string{l.Source}, Targets: []string{l.Target}})
	}

	data, err := json.Marshal(g)
	if err != nil {
		return Result{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(data))
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.http.Do(httpReq)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var placed elkGraph
	if err := json.Unmarshal(body, &placed); err != nil {
		return Result{}, fmt.Errorf("elk: decode reply: %w", err)
	}

	out := Result{Positions: make(map[string]viewmodel.Position, len(placed.Children))}
	for _, c := range placed.Children {
		out.Positions[c.ID] = viewmodel.Position{X: c.X, Y: c.Y}
	}
	for _, b := range req.Nodes {
		if _, ok := out.Positions[b.ID]; !ok {
			return Result{}, fmt.Errorf("elk: no position for %q", b.ID)
		}
	}
	return out, nil
}
