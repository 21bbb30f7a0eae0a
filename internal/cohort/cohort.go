// Package cohort draws the reproducible, class-balanced training cohort.
package cohort

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strconv"

	"github.com/vanshika/churngraph/internal/domain"
)

// Options configures sampling.
type Options struct {
	// Fraction of active users to include, in [0, 1].
	Fraction float64
	Seed     int64
	// MinActive is the smallest acceptable number of sampled active users.
	MinActive int
	// AllowChurnedOnly accepts a cohort with no active members when the
	// fraction rounds to zero.
	AllowChurnedOnly bool
	// Name overrides the generated cohort name.
	Name string
}

// Name returns the default cohort name for a seed and fraction.
func Name(seed int64, fraction float64) string {
	return fmt.Sprintf("cohort-%d-%s", seed, strconv.FormatFloat(fraction, 'g', -1, 64))
}

// ExpectedChurnRatio is the churned share a cohort should show for population
// prevalence p and active fraction f.
func ExpectedChurnRatio(p, f float64) float64 {
	denom := p + (1-p)*f
	if denom == 0 {
		return 0
	}
	return p / denom
}

// Sample includes every churned user and a uniform sample without replacement
// of round(f * nActive) active users. The same users, seed and fraction always
// produce the same cohort; member order is by user id.
func Sample(users []domain.User, opts Options) (domain.Cohort, error) {
	if opts.Fraction < 0 || opts.Fraction > 1 || math.IsNaN(opts.Fraction) {
		return domain.Cohort{}, fmt.Errorf("active sample fraction must be within [0, 1], got %v", opts.Fraction)
	}

	var churned, active []int64
	for _, u := range users {
		if u.Churned {
			churned = append(churned, u.ID)
		} else {
			active = append(active, u.ID)
		}
	}
	sort.Slice(churned, func(i, j int) bool { return churned[i] < churned[j] })
	sort.Slice(active, func(i, j int) bool { return active[i] < active[j] })

	if len(churned) == 0 {
		return domain.Cohort{}, fmt.Errorf("%w: population has no churned users", domain.ErrInsufficientCohortSize)
	}

	k := int(math.Round(opts.Fraction * float64(len(active))))
	if k > len(active) {
		k = len(active)
	}
	if k < opts.MinActive && !(k == 0 && opts.AllowChurnedOnly) {
		return domain.Cohort{}, fmt.Errorf("%w: fraction %v of %d active users samples %d, minimum is %d",
			domain.ErrInsufficientCohortSize, opts.Fraction, len(active), k, opts.MinActive)
	}
	if k == 0 && !opts.AllowChurnedOnly {
		return domain.Cohort{}, fmt.Errorf("%w: fraction %v of %d active users samples no active users",
			domain.ErrInsufficientCohortSize, opts.Fraction, len(active))
	}

	picked := pick(active, k, opts.Seed)

	activeWeight := 0.0
	if opts.Fraction > 0 {
		activeWeight = 1 / opts.Fraction
	}
	members := make([]domain.CohortMember, 0, len(churned)+len(picked))
	for _, id := range churned {
		members = append(members, domain.CohortMember{UserID: id, Churned: true, Weight: 1})
	}
	for _, id := range picked {
		members = append(members, domain.CohortMember{UserID: id, Churned: false, Weight: activeWeight})
	}
	sort.Slice(members, func(i, j int) bool { return members[i].UserID < members[j].UserID })

	name := opts.Name
	if name == "" {
		name = Name(opts.Seed, opts.Fraction)
	}
	prevalence := float64(len(churned)) / float64(len(churned)+len(active))
	return domain.Cohort{
		Name:               name,
		Seed:               opts.Seed,
		Fraction:           opts.Fraction,
		Members:            members,
		ChurnedCount:       len(churned),
		ActiveCount:        len(picked),
		PopulationChurned:  len(churned),
		PopulationActive:   len(active),
		ExpectedChurnRatio: ExpectedChurnRatio(prevalence, opts.Fraction),
	}, nil
}

// pick draws k ids from sorted using a partial Fisher-Yates shuffle over a
// private seeded source.
func pick(sorted []int64, k int, seed int64) []int64 {
	if k == 0 {
		return nil
	}
	pool := make([]int64, len(sorted))
	copy(pool, sorted)
	rng := rand.New(rand.NewSource(seed))
	for i := 0; i < k; i++ {
		j := i + rng.Intn(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:k]
}
