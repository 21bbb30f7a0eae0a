// Package labeler derives the churn label from dormancy against a fixed
// reference instant. Everything here is pure: no clock reads, no randomness.
package labeler

import (
	"errors"
	"fmt"
	"time"

	"github.com/vanshika/churngraph/internal/config"
	"github.com/vanshika/churngraph/internal/domain"
)

// ErrNoActivity is returned when reference_date is auto and no transaction was accepted.
var ErrNoActivity = errors.New("no transactions to derive the reference date from")

// Reference modes recorded in provenance.
const (
	ModeAuto     = "auto"
	ModeExplicit = "explicit"
)

const day = 24 * time.Hour

// Reference is the resolved snapshot instant of a run.
type Reference struct {
	Date time.Time
	Mode string
}

// ResolveReference turns the configured reference_date into an instant.
// latest is the maximum accepted transaction timestamp; ok reports whether
// any transaction exists.
func ResolveReference(value string, latest time.Time, ok bool) (Reference, error) {
	explicit, auto, err := config.ParseReferenceDate(value)
	if err != nil {
		return Reference{}, err
	}
	if !auto {
		return Reference{Date: explicit, Mode: ModeExplicit}, nil
	}
	if !ok {
		return Reference{}, ErrNoActivity
	}
	return Reference{Date: latest.UTC(), Mode: ModeAuto}, nil
}

// DormantDays is the number of whole days between last and ref, rounded down.
func DormantDays(last, ref time.Time) int {
	return int(ref.Sub(last) / day)
}

// Label reports whether a user whose last transaction happened at lastTx is
// churned at ref. A nil lastTx means the user never transacted and is churned.
func Label(lastTx *time.Time, ref time.Time, thresholdDays int) bool {
	if lastTx == nil {
		return true
	}
	return DormantDays(*lastTx, ref) > thresholdDays
}

// Options configures LabelAll.
type Options struct {
	ThresholdDays      int
	ExcludeNeverActive bool
}

// Result is the labeled population together with its class counts.
type Result struct {
	Users       []domain.User
	Churned     int
	Active      int
	NeverActive int
	// Excluded counts never-active users removed from scope.
	Excluded int
}

// Prevalence is the churned share of the labeled population.
func (r Result) Prevalence() float64 {
	total := r.Churned + r.Active
	if total == 0 {
		return 0
	}
	return float64(r.Churned) / float64(total)
}

// LabelAll returns copies of users with Churned set. Input order is kept and
// the input slice is not modified.
func LabelAll(users []domain.User, ref time.Time, opts Options) (Result, error) {
	if opts.ThresholdDays < 0 {
		return Result{}, fmt.Errorf("churn threshold must be non-negative, got %d", opts.ThresholdDays)
	}
	res := Result{Users: make([]domain.User, 0, len(users))}
	for _, u := range users {
		if u.LastActivity == nil {
			res.NeverActive++
			if opts.ExcludeNeverActive {
				res.Excluded++
				continue
			}
		}
		u.Churned = Label(u.LastActivity, ref, opts.ThresholdDays)
		if u.Churned {
			res.Churned++
		} else {
			res.Active++
		}
		res.Users = append(res.Users, u)
	}
	return res, nil
}
