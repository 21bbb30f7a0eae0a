// Package analytics computes graph-topology features over the interaction
// graph: a per-user embedding vector and a per-user centrality score.
package analytics

import (
	"context"
	"fmt"

	"github.com/vanshika/churngraph/internal/domain"
)

// Request asks for features of one snapshot of the interaction graph.
type Request struct {
	SnapshotVersion string
	Edges           []domain.InteractionEdge
	// UserIDs lists every user node, including users without edges.
	UserIDs   []int64
	Dimension int
	Seed      int64
}

// Result carries per-user features and the snapshot version they describe.
type Result struct {
	SnapshotVersion string
	Embeddings      map[int64][]float64
	Centrality      map[int64]float64
}

// Engine is the graph-algorithm collaborator.
type Engine interface {
	Analyze(ctx context.Context, req Request) (Result, error)
}

// Run calls engine and checks the result describes the requested snapshot.
// Any failure is reported as domain.ErrCollaboratorUnavailable.
func Run(ctx context.Context, engine Engine, req Request) (Result, error) {
	if req.Dimension <= 0 {
		return Result{}, fmt.Errorf("embedding dimension must be positive, got %d", req.Dimension)
	}
	res, err := engine.Analyze(ctx, req)
	if err != nil {
		return Result{}, domain.Unavailable("graph analytics", err)
	}
	if res.SnapshotVersion != req.SnapshotVersion {
		return Result{}, domain.Unavailable("graph analytics",
			fmt.Errorf("result describes snapshot %q, requested %q", res.SnapshotVersion, req.SnapshotVersion))
	}
	return res, nil
}
