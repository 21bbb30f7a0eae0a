// Package model defines the classifier collaborator and a logistic regression
// reference implementation.
package model

import (
	"context"
	"fmt"
	"math"
)

// Example is one labeled training row.
type Example struct {
	UserID   int64
	Features []float64
	Churned  bool
	// Weight is the sampling weight of the row; zero means 1.
	Weight float64
}

// TrainingSet is the cohort's feature matrix with labels.
type TrainingSet struct {
	Columns  []string
	Examples []Example
	Seed     int64
}

// Scorer maps a feature vector to a churn probability in [0, 1].
// Implementations must be safe for concurrent use.
type Scorer interface {
	Score(ctx context.Context, features []float64) (float64, error)
	Version() string
}

// Trainer fits a Scorer on a training set and reports holdout metrics.
type Trainer interface {
	Train(ctx context.Context, set TrainingSet) (Scorer, Metrics, error)
}

// Metrics summarises classifier quality on the evaluation rows.
type Metrics struct {
	Accuracy       float64 `json:"accuracy" yaml:"accuracy"`
	Precision      float64 `json:"precision" yaml:"precision"`
	Recall         float64 `json:"recall" yaml:"recall"`
	F1             float64 `json:"f1" yaml:"f1"`
	TruePositives  int     `json:"true_positives" yaml:"true_positives"`
	FalsePositives int     `json:"false_positives" yaml:"false_positives"`
	TrueNegatives  int     `json:"true_negatives" yaml:"true_negatives"`
	FalseNegatives int     `json:"false_negatives" yaml:"false_negatives"`
	TrainSize      int     `json:"train_size" yaml:"train_size"`
	EvalSize       int     `json:"eval_size" yaml:"eval_size"`
	// Evaluation is "holdout" or "training" when no rows were held out.
	Evaluation string `json:"evaluation" yaml:"evaluation"`
}

// Evaluate computes confusion-matrix metrics at the given threshold.
func Evaluate(labels []bool, scores []float64, threshold float64) Metrics {
	var m Metrics
	for i, churned := range labels {
		predicted := scores[i] >= threshold
		switch {
		case predicted && churned:
			m.TruePositives++
		case predicted && !churned:
			m.FalsePositives++
		case !predicted && churned:
			m.FalseNegatives++
		default:
			m.TrueNegatives++
		}
	}
	total := len(labels)
	m.EvalSize = total
	if total > 0 {
		m.Accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}
	if d := m.TruePositives + m.FalsePositives; d > 0 {
		m.Precision = float64(m.TruePositives) / float64(d)
	}
	if d := m.TruePositives + m.FalseNegatives; d > 0 {
		m.Recall = float64(m.TruePositives) / float64(d)
	}
	if s := m.Precision + m.Recall; s > 0 {
		m.F1 = 2 * m.Precision * m.Recall / s
	}
	return m
}

// ValidateScore rejects values a Scorer must never produce.
func ValidateScore(score float64) error {
	if math.IsNaN(score) || score < 0 || score > 1 {
		return fmt.Errorf("score %v is outside [0, 1]", score)
	}
	return nil
}
