package model

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
)

// ErrEmptyTrainingSet is returned when there is nothing to fit.
var ErrEmptyTrainingSet = errors.New("training set is empty")

// LogisticTrainer fits an L2-regularised logistic regression with L-BFGS on
// standardised features.
type LogisticTrainer struct {
	// HoldoutFraction of rows, chosen with the training set seed, is kept out
	// of fitting and used for metrics.
	HoldoutFraction float64
	// Weighted applies each example's sampling weight to its loss term.
	Weighted      bool
	L2            float64
	MaxIterations int
	Threshold     float64
}

// NewLogisticTrainer returns a trainer with the given holdout share and weighting.
func NewLogisticTrainer(holdout float64, weighted bool) *LogisticTrainer {
	return &LogisticTrainer{
		HoldoutFraction: holdout,
		Weighted:        weighted,
		L2:              1e-3,
		MaxIterations:   200,
		Threshold:       0.5,
	}
}

// Train implements Trainer.
func (t *LogisticTrainer) Train(ctx context.Context, set TrainingSet) (Scorer, Metrics, error) {
	if len(set.Examples) == 0 {
		return nil, Metrics{}, ErrEmptyTrainingSet
	}
	width := len(set.Examples[0].Features)
	for _, ex := range set.Examples {
		if len(ex.Features) != width {
			return nil, Metrics{}, fmt.Errorf("example for user %d has %d features, expected %d", ex.UserID, len(ex.Features), width)
		}
	}

	train, eval := t.split(set)
	if err := ctx.Err(); err != nil {
		return nil, Metrics{}, err
	}

	mean, std := standardisation(train, width)
	x := make([][]float64, len(train))
	y := make([]float64, len(train))
	w := make([]float64, len(train))
	for i, ex := range train {
		x[i] = standardise(ex.Features, mean, std)
		if ex.Churned {
			y[i] = 1
		}
		w[i] = 1
		if t.Weighted && ex.Weight > 0 {
			w[i] = ex.Weight
		}
	}
	wsum := floats.Sum(w)

	// theta[0] is the intercept.
	problem := optimize.Problem{
		Func: func(theta []float64) float64 {
			loss := 0.0
			for i := range x {
				z := theta[0] + floats.Dot(theta[1:], x[i])
				loss += w[i] * (softplus(z) - y[i]*z)
			}
			return loss/wsum + 0.5*t.L2*floats.Dot(theta[1:], theta[1:])
		},
		Grad: func(grad, theta []float64) {
			for j := range grad {
				grad[j] = 0
			}
			for i := range x {
				z := theta[0] + floats.Dot(theta[1:], x[i])
				r := w[i] * (sigmoid(z) - y[i]) / wsum
				grad[0] += r
				floats.AddScaled(grad[1:], r, x[i])
			}
			floats.AddScaled(grad[1:], t.L2, theta[1:])
		},
	}
	settings := &optimize.Settings{
		MajorIterations:   t.MaxIterations,
		GradientThreshold: 1e-6,
	}
	result, err := optimize.Minimize(problem, make([]float64, width+1), settings, &optimize.LBFGS{})
	if result == nil {
		return nil, Metrics{}, fmt.Errorf("fit logistic regression: %w", err)
	}
	if err := finiteCoefficients(result.X, err); err != nil {
		return nil, Metrics{}, err
	}

	scorer := &LogisticScorer{
		Intercept: result.X[0],
		Coef:      append([]float64(nil), result.X[1:]...),
		Mean:      mean,
		Std:       std,
	}
	scorer.version = "logreg/v1/" + scorer.fingerprint()

	evalRows, evaluation := eval, "holdout"
	if len(evalRows) == 0 {
		evalRows, evaluation = train, "training"
	}
	labels := make([]bool, len(evalRows))
	scores := make([]float64, len(evalRows))
	for i, ex := range evalRows {
		labels[i] = ex.Churned
		scores[i] = scorer.probability(ex.Features)
	}
	metrics := Evaluate(labels, scores, t.Threshold)
	metrics.TrainSize = len(train)
	metrics.Evaluation = evaluation
	return scorer, metrics, nil
}

// split holds out round(HoldoutFraction * n) rows picked with the set's seed.
// Fitting always keeps at least one row.
func (t *LogisticTrainer) split(set TrainingSet) (train, eval []Example) {
	n := len(set.Examples)
	k := int(math.Round(t.HoldoutFraction * float64(n)))
	if k >= n {
		k = n - 1
	}
	if k <= 0 {
		return set.Examples, nil
	}
	perm := rand.New(rand.NewSource(set.Seed)).Perm(n)
	held := make([]bool, n)
	for _, i := range perm[:k] {
		held[i] = true
	}
	for i, ex := range set.Examples {
		if held[i] {
			eval = append(eval, ex)
		} else {
			train = append(train, ex)
		}
	}
	return train, eval
}

func standardisation(rows []Example, width int) (mean, std []float64) {
	mean = make([]float64, width)
	std = make([]float64, width)
	col := make([]float64, len(rows))
	for j := 0; j < width; j++ {
		for i, ex := range rows {
			col[i] = ex.Features[j]
		}
		m, s := stat.MeanStdDev(col, nil)
		if math.IsNaN(s) || s == 0 {
			s = 1
		}
		mean[j], std[j] = m, s
	}
	return mean, std
}

func standardise(features, mean, std []float64) []float64 {
	out := make([]float64, len(features))
	for j, v := range features {
		out[j] = (v - mean[j]) / std[j]
	}
	return out
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// softplus is log(1 + e^z) without overflow.
func softplus(z float64) float64 {
	if z > 0 {
		return z + math.Log1p(math.Exp(-z))
	}
	return math.Log1p(math.Exp(z))
}

// LogisticScorer scores with fitted coefficients over standardised features.
type LogisticScorer struct {
	Intercept float64
	Coef      []float64
	Mean      []float64
	Std       []float64
	version   string
}

// Score implements Scorer.
func (s *LogisticScorer) Score(_ context.Context, features []float64) (float64, error) {
	if len(features) != len(s.Coef) {
		return 0, fmt.Errorf("scorer expects %d features, got %d", len(s.Coef), len(features))
	}
	return s.probability(features), nil
}

// Version implements Scorer.
func (s *LogisticScorer) Version() string {
	return s.version
}

func (s *LogisticScorer) probability(features []float64) float64 {
	return sigmoid(s.Intercept + floats.Dot(s.Coef, standardise(features, s.Mean, s.Std)))
}

func (s *LogisticScorer) fingerprint() string {
	h := sha256.New()
	buf := make([]byte, 8)
	write := func(v float64) {
		binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
		h.Write(buf)
	}
	write(s.Intercept)
	for i := range s.Coef {
		write(s.Coef[i])
		write(s.Mean[i])
		write(s.Std[i])
	}
	return hex.EncodeToString(h.Sum(nil))[:12]
}

// finiteCoefficients rejects a fit with NaN or Inf coefficients. optErr is
// the optimizer's own error, if any, and is wrapped when present.
func finiteCoefficients(x []float64, optErr error) error {
	for _, v := range x {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			continue
		}
		if optErr != nil {
			return fmt.Errorf("fit logistic regression: non-finite coefficients: %w", optErr)
		}
		return errors.New("fit logistic regression: non-finite coefficients")
	}
	return nil
}
