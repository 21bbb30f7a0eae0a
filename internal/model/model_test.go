package model

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func separableSet() TrainingSet {
	var examples []Example
	for i := 0; i < 40; i++ {
		churned := i%2 == 0
		x := float64(i%7) + 10
		if churned {
			x = -x
		}
		examples = append(examples, Example{
			UserID:   int64(i + 1),
			Features: []float64{x, float64(i % 3)},
			Churned:  churned,
			Weight:   1,
		})
	}
	return TrainingSet{Columns: []string{"signal", "noise"}, Examples: examples, Seed: 42}
}

func TestLogisticTrainerSeparatesClasses(t *testing.T) {
	scorer, metrics, err := NewLogisticTrainer(0.25, false).Train(context.Background(), separableSet())
	require.NoError(t, err)

	assert.Equal(t, "holdout", metrics.Evaluation)
	assert.Equal(t, 10, metrics.EvalSize)
	assert.Equal(t, 30, metrics.TrainSize)
	assert.Equal(t, 1.0, metrics.Accuracy)

	high, err := scorer.Score(context.Background(), []float64{-15, 0})
	require.NoError(t, err)
	low, err := scorer.Score(context.Background(), []float64{15, 0})
	require.NoError(t, err)
	assert.Greater(t, high, 0.9)
	assert.Less(t, low, 0.1)
	require.NoError(t, ValidateScore(high))

	_, err = scorer.Score(context.Background(), []float64{1})
	assert.Error(t, err)
}

func TestLogisticTrainerIsDeterministic(t *testing.T) {
	a, ma, err := NewLogisticTrainer(0.2, true).Train(context.Background(), separableSet())
	require.NoError(t, err)
	b, mb, err := NewLogisticTrainer(0.2, true).Train(context.Background(), separableSet())
	require.NoError(t, err)

	assert.Equal(t, a.Version(), b.Version())
	assert.Equal(t, ma, mb)
	assert.Regexp(t, `^logreg/v1/[0-9a-f]{12}$`, a.Version())
}

func TestLogisticTrainerWithoutHoldoutEvaluatesOnTraining(t *testing.T) {
	_, metrics, err := NewLogisticTrainer(0, false).Train(context.Background(), separableSet())
	require.NoError(t, err)
	assert.Equal(t, "training", metrics.Evaluation)
	assert.Equal(t, 40, metrics.EvalSize)
}

func TestLogisticTrainerRejectsBadInput(t *testing.T) {
	_, _, err := NewLogisticTrainer(0.2, false).Train(context.Background(), TrainingSet{})
	assert.ErrorIs(t, err, ErrEmptyTrainingSet)

	set := separableSet()
	set.Examples[3].Features = []float64{1}
	_, _, err = NewLogisticTrainer(0.2, false).Train(context.Background(), set)
	assert.Error(t, err)
}

func TestEvaluate(t *testing.T) {
	labels := []bool{true, true, false, false, true}
	scores := []float64{0.9, 0.2, 0.7, 0.1, 0.6}

	m := Evaluate(labels, scores, 0.5)
	assert.Equal(t, 2, m.TruePositives)
	assert.Equal(t, 1, m.FalsePositives)
	assert.Equal(t, 1, m.TrueNegatives)
	assert.Equal(t, 1, m.FalseNegatives)
	assert.InDelta(t, 0.6, m.Accuracy, 1e-12)
	assert.InDelta(t, 2.0/3, m.Precision, 1e-12)
	assert.InDelta(t, 2.0/3, m.Recall, 1e-12)
	assert.InDelta(t, 2.0/3, m.F1, 1e-12)

	empty := Evaluate(nil, nil, 0.5)
	assert.Zero(t, empty.Accuracy)
	assert.Zero(t, empty.F1)
}

func TestValidateScore(t *testing.T) {
	assert.NoError(t, ValidateScore(0))
	assert.NoError(t, ValidateScore(1))
	assert.Error(t, ValidateScore(1.01))
	assert.Error(t, ValidateScore(-0.1))
	assert.Error(t, ValidateScore(math.NaN()))
}

func TestFiniteCoefficients(t *testing.T) {
	assert.NoError(t, finiteCoefficients([]float64{0.5, -1, 2}, nil))

	err := finiteCoefficients([]float64{0.5, math.NaN()}, nil)
	require.Error(t, err)
	assert.Equal(t, "fit logistic regression: non-finite coefficients", err.Error())
	assert.NotContains(t, err.Error(), "<nil>")

	cause := errors.New("linesearch failed")
	err = finiteCoefficients([]float64{math.Inf(1)}, cause)
	assert.ErrorIs(t, err, cause)
}
