package runstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshika/churngraph/internal/domain"
	"github.com/vanshika/churngraph/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "runs", "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleRun(id string, started time.Time) Run {
	return Run{
		ID:           id,
		StartedAt:    started,
		FinishedAt:   started.Add(2 * time.Second),
		Status:       StatusSucceeded,
		ModelVersion: "logreg/v1/abc",
		CohortSize:   3,
		Scored:       2,
		Provenance: domain.Provenance{
			RunID:                id,
			ReferenceDateMode:    "auto",
			ChurnThresholdDays:   30,
			RandomSeed:           42,
			ActiveSampleFraction: 0.5,
			InputDigests:         map[string]string{"users.csv": "deadbeef"},
		},
		Report: domain.Summary{Stages: map[string]domain.StageCounts{
			domain.StageNormalize: {Accepted: 10, Rejected: map[string]int{"MalformedRecord": 1}},
		}},
		Metrics: model.Metrics{Accuracy: 0.75, EvalSize: 4, Evaluation: "holdout"},
	}
}

func TestStoreRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	started := time.Date(2024, 5, 1, 10, 0, 0, 123, time.UTC)

	members := []domain.CohortMember{{UserID: 1, Churned: true, Weight: 1}, {UserID: 5, Weight: 2}, {UserID: 3, Weight: 2}}
	scores := []domain.RiskScore{
		{Rank: 1, UserID: 5, Score: 0.8, ModelVersion: "logreg/v1/abc"},
		{Rank: 2, UserID: 3, Score: 0.2, ModelVersion: "logreg/v1/abc"},
	}
	require.NoError(t, store.SaveRun(ctx, sampleRun("run-1", started), members, scores))

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.True(t, started.Equal(got.StartedAt))
	assert.Equal(t, StatusSucceeded, got.Status)
	assert.Equal(t, 42, int(got.Provenance.RandomSeed))
	assert.Equal(t, "deadbeef", got.Provenance.InputDigests["users.csv"])
	assert.Equal(t, 1, got.Report.Stages[domain.StageNormalize].Rejected["MalformedRecord"])
	assert.Equal(t, 0.75, got.Metrics.Accuracy)

	cohort, err := store.CohortMembers(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, []domain.CohortMember{{UserID: 1, Churned: true, Weight: 1}, {UserID: 3, Weight: 2}, {UserID: 5, Weight: 2}}, cohort)

	page, total, err := store.RiskScores(ctx, "run-1", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, []domain.RiskScore{scores[1]}, page)

	all, _, err := store.RiskScores(ctx, "run-1", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, scores, all)
}

func TestStoreReplacesRunAndOrdersByStart(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveRun(ctx, sampleRun("older", base), nil, nil))
	require.NoError(t, store.SaveRun(ctx, sampleRun("newer", base.Add(time.Hour)), nil, nil))

	rerun := sampleRun("older", base)
	rerun.Status = StatusFailed
	rerun.Error = "insufficient cohort size"
	require.NoError(t, store.SaveRun(ctx, rerun, []domain.CohortMember{{UserID: 9, Churned: true, Weight: 1}}, nil))

	runs, err := store.ListRuns(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "newer", runs[0].ID)
	assert.Equal(t, StatusFailed, runs[1].Status)
	assert.Equal(t, "insufficient cohort size", runs[1].Error)

	members, err := store.CohortMembers(ctx, "older")
	require.NoError(t, err)
	assert.Len(t, members, 1)
}

func TestStoreUnknownRun(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, err = store.RiskScores(ctx, "missing", 10, 0)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.CohortMembers(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, store.Ping(ctx))
}
