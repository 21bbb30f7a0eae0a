package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAccessors(t *testing.T) {
	rec := Record{
		"id":        int64(7),
		"score":     0.25,
		"name":      "cohort",
		"embedding": []any{float64(1), float32(0.5), int64(2)},
		"bad":       []any{"x"},
	}

	id, ok := rec.Int64("id")
	require.True(t, ok)
	assert.Equal(t, int64(7), id)

	score, ok := rec.Float64("score")
	require.True(t, ok)
	assert.Equal(t, 0.25, score)

	assert.Equal(t, "cohort", rec.String("name"))
	assert.Empty(t, rec.String("missing"))

	emb, ok := rec.Float64s("embedding")
	require.True(t, ok)
	assert.Equal(t, []float64{1, 0.5, 2}, emb)

	_, ok = rec.Float64s("bad")
	assert.False(t, ok)
	_, ok = rec.Int64("name")
	assert.False(t, ok)
}

func TestMemoryClientQueuesThenHandler(t *testing.T) {
	client := NewMemoryClient()
	client.PushReadResult(Result{Records: []Record{{"n": int64(1)}}})
	client.OnRead(func(cypher string, _ map[string]any) (Result, error) {
		return Result{Records: []Record{{"q": cypher}}}, nil
	})

	first, err := client.ExecuteRead(context.Background(), "A", map[string]any{"k": 1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Records[0]["n"])

	second, err := client.ExecuteRead(context.Background(), "B", nil)
	require.NoError(t, err)
	assert.Equal(t, "B", second.Records[0]["q"])

	calls := client.ReadCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, map[string]any{"k": 1}, calls[0].Params)

	boom := errors.New("down")
	client.WithError(boom)
	_, err = client.ExecuteWrite(context.Background(), "C", nil)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, client.WriteCalls())
}

func TestConnectRequiresURI(t *testing.T) {
	_, err := NewNeo4jClient(context.Background(), Options{})
	assert.ErrorIs(t, err, ErrMissingURI)
}
