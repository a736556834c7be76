// Package neo4j stores import graphs in Neo4j as (:Package)-[:IMPORTS]->
// (:Package), one subgraph per project.
package neo4j

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/grishy/gopkgview/internal/depgraph"
	"github.com/grishy/gopkgview/internal/graph"
	"github.com/grishy/gopkgview/internal/observability"
)

// Config locates the database and the project inside it.
type Config struct {
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	// Project scopes every stored package, usually the module path.
	Project string `mapstructure:"project"`
}

// Neo4jRepository implements graph.Repository using Neo4j.
type Neo4jRepository struct {
	driver   neo4j.DriverWithContext
	database string
	project  string
}

// NewNeo4j creates a Neo4j-backed repository and verifies connectivity.
func NewNeo4j(ctx context.Context, cfg Config) (*Neo4jRepository, error) {
	if cfg.Project == "" {
		return nil, fmt.Errorf("neo4j: project is required")
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("neo4j connectivity: %w", err)
	}
	return &Neo4jRepository{driver: driver, database: cfg.Database, project: cfg.Project}, nil
}

func (r *Neo4jRepository) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return r.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: r.database, AccessMode: mode})
}

const (
	clearQuery = "MATCH (p:Package {project: $project}) DETACH DELETE p"
	nodesQuery = "UNWIND $nodes AS n " +
		"MERGE (p:Package {project: $project, id: n.id}) " +
		"SET p.name = n.name, p.label = n.label, p.category = n.category"
	edgesQuery = "UNWIND $edges AS e " +
		"MATCH (a:Package {project: $project, id: e.source}) " +
		"MATCH (b:Package {project: $project, id: e.target}) " +
		"MERGE (a)-[:IMPORTS]->(b)"
	loadNodesQuery = "MATCH (p:Package {project: $project}) " +
		"RETURN p.id AS id, p.name AS name, p.label AS label, p.category AS category ORDER BY id"
	loadEdgesQuery = "MATCH (a:Package {project: $project})-[:IMPORTS]->(b:Package {project: $project}) " +
		"RETURN a.id AS source, b.id AS target ORDER BY source, target"
	importersQuery = "MATCH (a:Package {project: $project})-[:IMPORTS]->(:Package {project: $project, id: $id}) " +
		"RETURN a.id AS id ORDER BY id"
)

// StoreGraph replaces the project's packages in one transaction.
func (r *Neo4jRepository) StoreGraph(ctx context.Context, g *depgraph.Graph) error {
	ctx, span := observability.StartStoreSpan(ctx, "write")
	defer span.End()

	session := r.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		params := map[string]any{"project": r.project}
		if _, err := tx.Run(ctx, clearQuery, params); err != nil {
			return nil, fmt.Errorf("clear: %w", err)
		}
		if _, err := tx.Run(ctx, nodesQuery, withParam(params, "nodes", nodeParams(g))); err != nil {
			return nil, fmt.Errorf("nodes: %w", err)
		}
		if _, err := tx.Run(ctx, edgesQuery, withParam(params, "edges", edgeParams(g))); err != nil {
			return nil, fmt.Errorf("edges: %w", err)
		}
		return nil, nil
	})
	if err != nil {
		err = fmt.Errorf("store graph %s: %w", r.project, err)
	}
	observability.RecordError(span, err)
	return err
}

// LoadGraph reads the project's packages back into a validated graph.
func (r *Neo4jRepository) LoadGraph(ctx context.Context) (*depgraph.Graph, error) {
	ctx, span := observability.StartStoreSpan(ctx, "read")
	defer span.End()

	session := r.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		params := map[string]any{"project": r.project}

		records, err := tx.Run(ctx, loadNodesQuery, params)
		if err != nil {
			return nil, err
		}
		var rows []map[string]any
		for records.Next(ctx) {
			rows = append(rows, records.Record().AsMap())
		}
		if err := records.Err(); err != nil {
			return nil, err
		}

		records, err = tx.Run(ctx, loadEdgesQuery, params)
		if err != nil {
			return nil, err
		}
		var links []map[string]any
		for records.Next(ctx) {
			links = append(links, records.Record().AsMap())
		}
		if err := records.Err(); err != nil {
			return nil, err
		}

		return graphFromRows(rows, links)
	})
	if err != nil {
		err = fmt.Errorf("load graph %s: %w", r.project, err)
		observability.RecordError(span, err)
		return nil, err
	}
	return result.(*depgraph.Graph), nil
}

// QueryImporters returns the packages importing id.
func (r *Neo4jRepository) QueryImporters(ctx context.Context, id string) ([]string, error) {
	ctx, span := observability.StartStoreSpan(ctx, "query")
	defer span.End()

	session := r.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		records, err := tx.Run(ctx, importersQuery, map[string]any{"project": r.project, "id": id})
		if err != nil {
			return nil, err
		}
		var ids []string
		for records.Next(ctx) {
			v, _ := records.Record().Get("id")
			ids = append(ids, asString(v))
		}
		return ids, records.Err()
	})
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	return result.([]string), nil
}

// Ping checks that the database is reachable.
func (r *Neo4jRepository) Ping(ctx context.Context) error {
	return r.driver.VerifyConnectivity(ctx)
}

// Target names the database for logs and audit events.
func (r *Neo4jRepository) Target() string {
	target := r.driver.Target()
	return target.String()
}

func (r *Neo4jRepository) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}

var _ graph.Repository = (*Neo4jRepository)(nil)

func withParam(base map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(base)+1)
	for k, v := range base {
		out[k] = v
	}
	out[key] = value
	return out
}

func nodeParams(g *depgraph.Graph) []map[string]any {
	out := make([]map[string]any, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		out = append(out, map[string]any{
			"id":       n.ID,
			"name":     n.Name,
			"label":    n.Label,
			"category": string(n.Category),
		})
	}
	return out
}

func edgeParams(g *depgraph.Graph) []map[string]any {
	out := make([]map[string]any, 0, len(g.Edges))
	for _, e := range g.Edges {
		out = append(out, map[string]any{"source": e.From, "target": e.To})
	}
	return out
}

// graphFromRows rebuilds a graph from query rows. An empty project is
// graph.ErrNotFound.
func graphFromRows(nodes, edges []map[string]any) (*depgraph.Graph, error) {
	if len(nodes) == 0 {
		return nil, graph.ErrNotFound
	}
	ns := make([]depgraph.Node, 0, len(nodes))
	for _, row := range nodes {
		n := depgraph.Node{
			ID:       asString(row["id"]),
			Name:     asString(row["name"]),
			Label:    asString(row["label"]),
			Category: depgraph.Category(asString(row["category"])),
		}
		if n.Label == "" {
			n.Label = depgraph.LabelFor(n.ID, n.Name, n.Category)
		}
		ns = append(ns, n)
	}
	es := make([]depgraph.Edge, 0, len(edges))
	for _, row := range edges {
		es = append(es, depgraph.NewEdge(asString(row["source"]), asString(row["target"])))
	}
	return depgraph.NewGraph(ns, es)
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
