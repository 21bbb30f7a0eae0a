// Package ranking scores the active population and orders it by churn risk.
package ranking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/vanshika/churngraph/internal/batch"
	"github.com/vanshika/churngraph/internal/domain"
	"github.com/vanshika/churngraph/internal/features"
	"github.com/vanshika/churngraph/internal/model"
	"github.com/vanshika/churngraph/internal/retry"
)

// Options configures an Engine.
type Options struct {
	Workers   int
	BatchSize int
	// Retry, when non-nil, retries failed score calls with backoff.
	Retry *retry.Config
}

// Engine produces a ranked list of risk scores for active users.
type Engine struct {
	opts   Options
	logger *slog.Logger
}

// New constructs an Engine.
func New(opts Options, logger *slog.Logger) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = batch.DefaultWorkers
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{opts: opts, logger: logger.With("component", "ranking")}
}

// Rank scores every non-churned vector and returns them ordered by descending
// score, ties broken by ascending user id. All scores are collected before
// ordering. Churned vectors are ignored. Any scorer failure aborts with
// domain.ErrCollaboratorUnavailable.
func (e *Engine) Rank(ctx context.Context, scorer model.Scorer, vectors []features.Vector) ([]domain.RiskScore, error) {
	eligible := make([]features.Vector, 0, len(vectors))
	for _, v := range vectors {
		if !v.Churned {
			eligible = append(eligible, v)
		}
	}

	scores := make([]float64, len(eligible))
	chunks := batch.Chunks(len(eligible), e.opts.BatchSize)
	err := batch.Run(ctx, e.opts.Workers, len(chunks), func(idx int) error {
		for i := chunks[idx][0]; i < chunks[idx][1]; i++ {
			s, err := e.score(ctx, scorer, eligible[i].Values)
			if err != nil {
				return fmt.Errorf("score user %d: %w", eligible[i].UserID, err)
			}
			scores[i] = s
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, domain.Unavailable("scorer", err)
	}

	out := make([]domain.RiskScore, len(eligible))
	for i, v := range eligible {
		out[i] = domain.RiskScore{UserID: v.UserID, Score: scores[i], ModelVersion: scorer.Version()}
	}
	Order(out)
	e.logger.Info("population ranked", "scored", len(out), "skipped_churned", len(vectors)-len(eligible))
	return out, nil
}

func (e *Engine) score(ctx context.Context, scorer model.Scorer, values []float64) (float64, error) {
	call := func() (float64, error) {
		s, err := scorer.Score(ctx, values)
		if err != nil {
			return 0, err
		}
		if err := model.ValidateScore(s); err != nil {
			return 0, retry.Permanent(err)
		}
		return s, nil
	}
	if e.opts.Retry == nil {
		s, err := call()
		if retry.IsPermanent(err) {
			err = errors.Unwrap(err)
		}
		return s, err
	}
	return retry.DoWithResult(ctx, e.opts.Retry, call)
}

// Order sorts scores by descending score then ascending user id and assigns
// 1-based ranks.
func Order(scores []domain.RiskScore) {
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].UserID < scores[j].UserID
	})
	for i := range scores {
		scores[i].Rank = i + 1
	}
}

// Top returns at most n leading scores; n <= 0 returns all of them.
func Top(scores []domain.RiskScore, n int) []domain.RiskScore {
	if n <= 0 || n >= len(scores) {
		return scores
	}
	return scores[:n]
}
