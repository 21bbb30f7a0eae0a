package analytics

import (
	"context"
	"fmt"

	"github.com/vanshika/churngraph/internal/graph"
)

const (
	countVersionEdgesQuery = `
MATCH (:User)-[r:INTERACTS_WITH]->(:Merchant)
WHERE r.version = $version
RETURN count(r) AS edges
`

	projectGraphQuery = `
MATCH (u:User)
OPTIONAL MATCH (u)-[r:INTERACTS_WITH]->(m:Merchant)
WHERE r.version = $version
WITH gds.graph.project(
  $graphName,
  u,
  m,
  { relationshipProperties: r { .weight } },
  { undirectedRelationshipTypes: ['*'] }
) AS g
RETURN g.graphName AS graph, g.nodeCount AS nodes, g.relationshipCount AS relationships
`

	fastRPStreamQuery = `
CALL gds.fastRP.stream($graphName, {
  embeddingDimension: $dimension,
  randomSeed: $seed,
  iterationWeights: [0.0, 1.0, 1.0],
  relationshipWeightProperty: 'weight'
})
YIELD nodeId, embedding
WITH gds.util.asNode(nodeId) AS n, embedding
WHERE n:User
RETURN n.` + graph.UserKey + ` AS user_id, embedding
`

	pageRankStreamQuery = `
CALL gds.pageRank.stream($graphName, {
  dampingFactor: $damping,
  relationshipWeightProperty: 'weight'
})
YIELD nodeId, score
WITH gds.util.asNode(nodeId) AS n, score
WHERE n:User
RETURN n.` + graph.UserKey + ` AS user_id, score
`

	dropGraphQuery = `
CALL gds.graph.drop($graphName, false) YIELD graphName
RETURN graphName
`
)

// GDS delegates embeddings and centrality to the Neo4j Graph Data Science
// library. The graph store must already hold the requested snapshot version.
type GDS struct {
	client    graph.Client
	graphName string
	damping   float64
}

// NewGDS returns a GDS engine that projects into the named in-memory graph.
func NewGDS(client graph.Client, graphName string) *GDS {
	if graphName == "" {
		graphName = "churngraph-interactions"
	}
	return &GDS{client: client, graphName: graphName, damping: DefaultDamping}
}

// Analyze implements Engine.
func (g *GDS) Analyze(ctx context.Context, req Request) (res Result, err error) {
	if err := g.checkVersion(ctx, req); err != nil {
		return Result{}, err
	}

	name := fmt.Sprintf("%s-%.12s", g.graphName, req.SnapshotVersion)
	if _, err := g.client.ExecuteWrite(ctx, projectGraphQuery, map[string]any{
		"graphName": name,
		"version":   req.SnapshotVersion,
	}); err != nil {
		return Result{}, fmt.Errorf("project graph: %w", err)
	}
	defer func() {
		if _, dropErr := g.client.ExecuteWrite(context.WithoutCancel(ctx), dropGraphQuery, map[string]any{"graphName": name}); dropErr != nil && err == nil {
			err = fmt.Errorf("drop projected graph: %w", dropErr)
		}
	}()

	res = Result{
		SnapshotVersion: req.SnapshotVersion,
		Embeddings:      make(map[int64][]float64),
		Centrality:      make(map[int64]float64),
	}

	embeddings, err := g.client.ExecuteRead(ctx, fastRPStreamQuery, map[string]any{
		"graphName": name,
		"dimension": req.Dimension,
		"seed":      req.Seed,
	})
	if err != nil {
		return Result{}, fmt.Errorf("stream fastRP: %w", err)
	}
	for _, rec := range embeddings.Records {
		id, ok := rec.Int64("user_id")
		if !ok {
			continue
		}
		if vec, ok := rec.Float64s("embedding"); ok {
			res.Embeddings[id] = vec
		}
	}

	ranks, err := g.client.ExecuteRead(ctx, pageRankStreamQuery, map[string]any{
		"graphName": name,
		"damping":   g.damping,
	})
	if err != nil {
		return Result{}, fmt.Errorf("stream pageRank: %w", err)
	}
	for _, rec := range ranks.Records {
		id, ok := rec.Int64("user_id")
		if !ok {
			continue
		}
		if score, ok := rec.Float64("score"); ok {
			res.Centrality[id] = score
		}
	}
	return res, nil
}

func (g *GDS) checkVersion(ctx context.Context, req Request) error {
	out, err := g.client.ExecuteRead(ctx, countVersionEdgesQuery, map[string]any{"version": req.SnapshotVersion})
	if err != nil {
		return fmt.Errorf("count snapshot edges: %w", err)
	}
	var stored int64
	if len(out.Records) > 0 {
		stored, _ = out.Records[0].Int64("edges")
	}
	if stored != int64(len(req.Edges)) {
		return fmt.Errorf("graph store holds %d edges for snapshot %s, expected %d; sync the graph first",
			stored, req.SnapshotVersion, len(req.Edges))
	}
	return nil
}
