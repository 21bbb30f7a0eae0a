package labeler

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshika/churngraph/internal/domain"
)

var ref = time.Date(2019, 10, 31, 23, 59, 0, 0, time.UTC)

func daysBefore(n int) *time.Time {
	t := ref.Add(-time.Duration(n) * 24 * time.Hour)
	return &t
}

func TestLabelThresholdBoundary(t *testing.T) {
	for _, threshold := range []int{0, 1, 30, 365} {
		t.Run(fmt.Sprintf("T=%d", threshold), func(t *testing.T) {
			assert.False(t, Label(daysBefore(threshold), ref, threshold), "exactly T days is active")
			assert.True(t, Label(daysBefore(threshold+1), ref, threshold), "T+1 days is churned")
			assert.False(t, Label(daysBefore(0), ref, threshold))

			almost := ref.Add(-(time.Duration(threshold+1)*24*time.Hour - time.Minute))
			assert.False(t, Label(&almost, ref, threshold), "T days and change rounds down")
		})
	}
}

func TestLabelNeverActiveIsChurned(t *testing.T) {
	assert.True(t, Label(nil, ref, 30))
	assert.True(t, Label(nil, ref, 100000))
}

func TestLabelIsDeterministic(t *testing.T) {
	last := daysBefore(45)
	first := Label(last, ref, 30)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, Label(last, ref, 30))
	}
}

func TestLabelAll(t *testing.T) {
	users := []domain.User{
		{ID: 1, LastActivity: daysBefore(2)},
		{ID: 2, LastActivity: daysBefore(90)},
		{ID: 3},
		{ID: 4, LastActivity: daysBefore(30)},
	}

	res, err := LabelAll(users, ref, Options{ThresholdDays: 30})
	require.NoError(t, err)
	require.Len(t, res.Users, 4)
	assert.Equal(t, []bool{false, true, true, false}, churnFlags(res.Users))
	assert.Equal(t, 2, res.Churned)
	assert.Equal(t, 2, res.Active)
	assert.Equal(t, 1, res.NeverActive)
	assert.Equal(t, 0, res.Excluded)
	assert.InDelta(t, 0.5, res.Prevalence(), 1e-12)

	for _, u := range users {
		assert.False(t, u.Churned, "input must not be mutated")
	}

	res, err = LabelAll(users, ref, Options{ThresholdDays: 30, ExcludeNeverActive: true})
	require.NoError(t, err)
	require.Len(t, res.Users, 3)
	assert.Equal(t, 1, res.Excluded)
	assert.Equal(t, 1, res.Churned)

	_, err = LabelAll(users, ref, Options{ThresholdDays: -1})
	assert.Error(t, err)
}

func TestResolveReference(t *testing.T) {
	latest := time.Date(2019, 10, 31, 23, 59, 0, 0, time.UTC)

	got, err := ResolveReference("auto", latest, true)
	require.NoError(t, err)
	assert.Equal(t, Reference{Date: latest, Mode: ModeAuto}, got)

	got, err = ResolveReference("2019-06-30", latest, true)
	require.NoError(t, err)
	assert.Equal(t, ModeExplicit, got.Mode)
	assert.True(t, got.Date.Equal(time.Date(2019, 6, 30, 0, 0, 0, 0, time.UTC)))

	_, err = ResolveReference("auto", time.Time{}, false)
	assert.ErrorIs(t, err, ErrNoActivity)

	_, err = ResolveReference("last tuesday", latest, true)
	assert.Error(t, err)
}

func churnFlags(users []domain.User) []bool {
	out := make([]bool, len(users))
	for i, u := range users {
		out[i] = u.Churned
	}
	return out
}
