package cohort

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshika/churngraph/internal/domain"
)

// population returns n users of which every tenth is churned, listed in
// descending id order so sampling cannot rely on input order.
func population(n int) []domain.User {
	users := make([]domain.User, 0, n)
	for i := n; i >= 1; i-- {
		users = append(users, domain.User{ID: int64(i), Churned: i%10 == 0})
	}
	return users
}

func memberIDs(c domain.Cohort) []int64 {
	ids := make([]int64, len(c.Members))
	for i, m := range c.Members {
		ids[i] = m.UserID
	}
	return ids
}

func TestSampleIsReproducible(t *testing.T) {
	users := population(1000)
	opts := Options{Fraction: 0.05, Seed: 42, MinActive: 1}

	a, err := Sample(users, opts)
	require.NoError(t, err)
	b, err := Sample(users, opts)
	require.NoError(t, err)
	assert.Equal(t, memberIDs(a), memberIDs(b))

	reversed := make([]domain.User, len(users))
	for i, u := range users {
		reversed[len(users)-1-i] = u
	}
	c, err := Sample(reversed, opts)
	require.NoError(t, err)
	assert.Equal(t, memberIDs(a), memberIDs(c), "input order must not matter")

	opts.Seed = 43
	d, err := Sample(users, opts)
	require.NoError(t, err)
	assert.NotEqual(t, memberIDs(a), memberIDs(d))
}

func TestSampleComposition(t *testing.T) {
	users := population(1000)
	c, err := Sample(users, Options{Fraction: 0.05, Seed: 7, MinActive: 1})
	require.NoError(t, err)

	assert.Equal(t, 100, c.ChurnedCount)
	assert.Equal(t, 45, c.ActiveCount) // round(0.05 * 900)
	assert.Equal(t, 900, c.PopulationActive)
	assert.Len(t, c.Members, 145)
	assert.Equal(t, "cohort-7-0.05", c.Name)

	for i, m := range c.Members {
		if i > 0 {
			assert.Less(t, c.Members[i-1].UserID, m.UserID)
		}
		if m.Churned {
			assert.Equal(t, 1.0, m.Weight)
		} else {
			assert.InDelta(t, 20.0, m.Weight, 1e-9)
		}
	}

	// p = 0.1, f = 0.05 → 0.1 / (0.1 + 0.9*0.05)
	assert.InDelta(t, 0.1/(0.1+0.045), c.ExpectedChurnRatio, 1e-12)
	assert.InDelta(t, c.ExpectedChurnRatio, c.ChurnRatio(), 0.01)
}

func TestSampleFullFraction(t *testing.T) {
	users := population(50)
	c, err := Sample(users, Options{Fraction: 1, Seed: 1, MinActive: 1})
	require.NoError(t, err)
	assert.Len(t, c.Members, 50)
	assert.InDelta(t, 0.1, c.ExpectedChurnRatio, 1e-12)
	for _, m := range c.Members {
		assert.Equal(t, 1.0, m.Weight)
	}
}

func TestSampleInsufficientCohortSize(t *testing.T) {
	users := population(100)

	_, err := Sample(users, Options{Fraction: 0, Seed: 1, MinActive: 1})
	assert.ErrorIs(t, err, domain.ErrInsufficientCohortSize)

	_, err = Sample(users, Options{Fraction: 0, Seed: 1})
	assert.ErrorIs(t, err, domain.ErrInsufficientCohortSize, "zero actives is degenerate even with no minimum")

	_, err = Sample(users, Options{Fraction: 0.05, Seed: 1, MinActive: 10})
	assert.ErrorIs(t, err, domain.ErrInsufficientCohortSize)

	c, err := Sample(users, Options{Fraction: 0, Seed: 1, MinActive: 1, AllowChurnedOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 0, c.ActiveCount)
	assert.Equal(t, 10, c.ChurnedCount)

	noChurn := []domain.User{{ID: 1}, {ID: 2}}
	_, err = Sample(noChurn, Options{Fraction: 1, Seed: 1, MinActive: 1})
	assert.ErrorIs(t, err, domain.ErrInsufficientCohortSize)

	_, err = Sample(users, Options{Fraction: 1.5})
	assert.Error(t, err)
}

func TestExpectedChurnRatio(t *testing.T) {
	assert.InDelta(t, 1.0, ExpectedChurnRatio(0.2, 0), 1e-12)
	assert.InDelta(t, 0.2, ExpectedChurnRatio(0.2, 1), 1e-12)
	assert.Equal(t, 0.0, ExpectedChurnRatio(0, 0))
}
