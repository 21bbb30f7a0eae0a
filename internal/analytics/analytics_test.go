package analytics

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshika/churngraph/internal/domain"
	"github.com/vanshika/churngraph/internal/graph"
)

func sampleRequest() Request {
	return Request{
		SnapshotVersion: "v1",
		Edges: []domain.InteractionEdge{
			{UserID: 1, MerchantID: 100, Weight: 5},
			{UserID: 1, MerchantID: 200, Weight: 1},
			{UserID: 2, MerchantID: 100, Weight: 2},
			{UserID: 3, MerchantID: 100, Weight: 1},
			{UserID: 3, MerchantID: 300, Weight: 4},
		},
		UserIDs:   []int64{1, 2, 3, 4},
		Dimension: 8,
		Seed:      42,
	}
}

func TestLocalProducesEveryUser(t *testing.T) {
	res, err := NewLocal().Analyze(context.Background(), sampleRequest())
	require.NoError(t, err)

	assert.Equal(t, "v1", res.SnapshotVersion)
	require.Len(t, res.Embeddings, 4)
	require.Len(t, res.Centrality, 4)
	for id, vec := range res.Embeddings {
		assert.Len(t, vec, 8, "user %d", id)
	}

	// User 4 has no interactions: zero embedding, minimal centrality.
	for _, v := range res.Embeddings[4] {
		assert.Zero(t, v)
	}
	assert.Less(t, res.Centrality[4], res.Centrality[1])
	assert.Greater(t, res.Centrality[1], res.Centrality[2])
}

func TestLocalIsDeterministicPerSeed(t *testing.T) {
	engine := NewLocal()
	a, err := engine.Analyze(context.Background(), sampleRequest())
	require.NoError(t, err)
	b, err := engine.Analyze(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, a.Embeddings, b.Embeddings)
	assert.Equal(t, a.Centrality, b.Centrality)

	req := sampleRequest()
	req.Seed = 7
	c, err := engine.Analyze(context.Background(), req)
	require.NoError(t, err)
	assert.NotEqual(t, a.Embeddings[1], c.Embeddings[1])
}

func TestLocalSharedNeighboursAreSimilar(t *testing.T) {
	req := Request{
		SnapshotVersion: "v",
		Edges: []domain.InteractionEdge{
			{UserID: 1, MerchantID: 10, Weight: 3},
			{UserID: 2, MerchantID: 10, Weight: 3},
			{UserID: 3, MerchantID: 20, Weight: 3},
		},
		Dimension: 32,
		Seed:      1,
	}
	res, err := NewLocal().Analyze(context.Background(), req)
	require.NoError(t, err)
	assert.InDeltaSlice(t, res.Embeddings[1], res.Embeddings[2], 1e-12)
	assert.NotEqual(t, res.Embeddings[1], res.Embeddings[3])
}

type staticEngine struct {
	res Result
	err error
}

func (s staticEngine) Analyze(context.Context, Request) (Result, error) {
	return s.res, s.err
}

func TestRunChecksSnapshotVersion(t *testing.T) {
	_, err := Run(context.Background(), staticEngine{res: Result{SnapshotVersion: "old"}}, sampleRequest())
	assert.ErrorIs(t, err, domain.ErrCollaboratorUnavailable)

	_, err = Run(context.Background(), staticEngine{err: errors.New("timeout")}, sampleRequest())
	assert.ErrorIs(t, err, domain.ErrCollaboratorUnavailable)

	req := sampleRequest()
	req.Dimension = 0
	_, err = Run(context.Background(), NewLocal(), req)
	assert.Error(t, err)

	res, err := Run(context.Background(), NewLocal(), sampleRequest())
	require.NoError(t, err)
	assert.Len(t, res.Embeddings, 4)
}

func TestGDSStreamsUserFeatures(t *testing.T) {
	client := graph.NewMemoryClient()
	client.OnRead(func(cypher string, _ map[string]any) (graph.Result, error) {
		switch {
		case strings.Contains(cypher, "count(r) AS edges"):
			return graph.Result{Records: []graph.Record{{"edges": int64(5)}}}, nil
		case strings.Contains(cypher, "gds.fastRP.stream"):
			return graph.Result{Records: []graph.Record{
				{"user_id": int64(1), "embedding": []any{0.1, 0.2}},
				{"user_id": int64(2), "embedding": []any{0.3, 0.4}},
			}}, nil
		case strings.Contains(cypher, "gds.pageRank.stream"):
			return graph.Result{Records: []graph.Record{
				{"user_id": int64(1), "score": 1.5},
				{"user_id": int64(2), "score": 0.5},
			}}, nil
		}
		return graph.Result{}, nil
	})

	res, err := NewGDS(client, "test").Analyze(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, "v1", res.SnapshotVersion)
	assert.Equal(t, []float64{0.1, 0.2}, res.Embeddings[1])
	assert.Equal(t, 1.5, res.Centrality[1])

	writes := client.WriteCalls()
	require.Len(t, writes, 2)
	assert.Equal(t, projectGraphQuery, writes[0].Query)
	assert.Equal(t, "v1", writes[0].Params["version"])
	assert.Equal(t, dropGraphQuery, writes[1].Query)
	assert.Equal(t, writes[0].Params["graphName"], writes[1].Params["graphName"])

	reads := client.ReadCalls()
	require.Len(t, reads, 3)
	assert.Equal(t, 8, reads[1].Params["dimension"])
	assert.Equal(t, int64(42), reads[1].Params["seed"])
}

func TestGDSStreamsReadStoredUserKey(t *testing.T) {
	for name, query := range map[string]string{
		"fastRP":   fastRPStreamQuery,
		"pageRank": pageRankStreamQuery,
	} {
		t.Run(name, func(t *testing.T) {
			assert.Contains(t, query, "RETURN n."+graph.UserKey+" AS user_id")
		})
	}

	// A store keyed on graph.UserKey has no other id property on users.
	client := graph.NewMemoryClient()
	client.OnRead(func(cypher string, _ map[string]any) (graph.Result, error) {
		switch {
		case strings.Contains(cypher, "count(r) AS edges"):
			return graph.Result{Records: []graph.Record{{"edges": int64(5)}}}, nil
		case strings.Contains(cypher, "n."+graph.UserKey+" AS user_id, embedding"):
			return graph.Result{Records: []graph.Record{{"user_id": int64(1), "embedding": []any{0.1, 0.2}}}}, nil
		case strings.Contains(cypher, "n."+graph.UserKey+" AS user_id, score"):
			return graph.Result{Records: []graph.Record{{"user_id": int64(1), "score": 0.7}}}, nil
		case strings.Contains(cypher, "AS user_id"):
			return graph.Result{Records: []graph.Record{{"user_id": nil}}}, nil
		}
		return graph.Result{}, nil
	})

	res, err := NewGDS(client, "").Analyze(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2}, res.Embeddings[1])
	assert.Equal(t, 0.7, res.Centrality[1])
}

func TestGDSRejectsStaleGraphStore(t *testing.T) {
	client := graph.NewMemoryClient()
	client.PushReadResult(graph.Result{Records: []graph.Record{{"edges": int64(2)}}})

	_, err := Run(context.Background(), NewGDS(client, ""), sampleRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCollaboratorUnavailable)
	assert.Empty(t, client.WriteCalls())
}
