package features

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshika/churngraph/internal/analytics"
	"github.com/vanshika/churngraph/internal/domain"
)

func f64(v float64) *float64 { return &v }

func intp(v int) *int { return &v }

func user(id int64) domain.User {
	return domain.User{
		ID:           id,
		YearlyIncome: f64(50000),
		TotalDebt:    f64(1200.5),
		CreditScore:  intp(710),
		Age:          intp(41),
	}
}

func TestAssembleLayout(t *testing.T) {
	res := analytics.Result{
		Embeddings: map[int64][]float64{1: {0.1, 0.2, 0.3}},
		Centrality: map[int64]float64{1: 0.07},
	}
	u := user(1)
	u.Churned = true

	got := Assemble([]domain.User{u}, res, 3)
	require.Empty(t, got.Exclusions)
	require.Len(t, got.Vectors, 1)
	assert.Equal(t, []float64{50000, 1200.5, 710, 41, 0.07, 0.1, 0.2, 0.3}, got.Vectors[0].Values)
	assert.True(t, got.Vectors[0].Churned)
	assert.Equal(t, []string{"yearly_income", "total_debt", "credit_score", "age", "centrality", "emb_0", "emb_1", "emb_2"}, Columns(3))
}

func TestAssembleExclusions(t *testing.T) {
	noIncome := user(2)
	noIncome.YearlyIncome = nil

	res := analytics.Result{
		Embeddings: map[int64][]float64{
			1: {0.1, 0.2},
			2: {0.1, 0.2},
			3: {0.1},
			5: {math.NaN(), 0},
			6: {0.5, 0.5},
		},
		Centrality: map[int64]float64{1: 1, 2: 1, 3: 1, 4: 1, 5: 1},
	}
	users := []domain.User{user(6), user(5), user(4), user(3), noIncome, user(1)}

	got := Assemble(users, res, 2)
	require.Len(t, got.Vectors, 1)
	assert.Equal(t, int64(1), got.Vectors[0].UserID)

	kinds := map[string]string{}
	for _, e := range got.Exclusions {
		kinds[e.Key] = domain.KindName(e) + ":" + e.Field
	}
	assert.Equal(t, map[string]string{
		"2": "MissingFeature:yearly_income",
		"3": "DimensionMismatch:embedding",
		"4": "MissingFeature:embedding",
		"5": "MissingFeature:emb_0",
		"6": "MissingFeature:centrality",
	}, kinds)
}

func TestAssembleSortsByUser(t *testing.T) {
	res := analytics.Result{
		Embeddings: map[int64][]float64{1: {0}, 2: {0}, 3: {0}},
		Centrality: map[int64]float64{1: 0, 2: 0, 3: 0},
	}
	got := Assemble([]domain.User{user(3), user(1), user(2)}, res, 1)
	require.Len(t, got.Vectors, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{got.Vectors[0].UserID, got.Vectors[1].UserID, got.Vectors[2].UserID})
	assert.Equal(t, map[int64]int{1: 0, 2: 1, 3: 2}, got.Index())
}
