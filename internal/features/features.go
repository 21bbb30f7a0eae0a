// Package features assembles the fixed-shape feature vector of each user from
// node attributes and the analytics collaborator's output.
package features

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/vanshika/churngraph/internal/analytics"
	"github.com/vanshika/churngraph/internal/domain"
)

// Leading attribute columns, before the embedding block.
var attributeColumns = []string{"yearly_income", "total_debt", "credit_score", "age", "centrality"}

// Columns returns the feature names for an embedding dimension, in vector order.
func Columns(dim int) []string {
	cols := append([]string(nil), attributeColumns...)
	for i := 0; i < dim; i++ {
		cols = append(cols, "emb_"+strconv.Itoa(i))
	}
	return cols
}

// Vector is one user's assembled features.
type Vector struct {
	UserID  int64
	Churned bool
	Values  []float64
}

// Assembly is the outcome of Assemble: usable vectors and per-user exclusions.
type Assembly struct {
	Vectors    []Vector
	Exclusions []*domain.RecordError
}

// Index maps user id to position in Vectors.
func (a Assembly) Index() map[int64]int {
	idx := make(map[int64]int, len(a.Vectors))
	for i, v := range a.Vectors {
		idx[v.UserID] = i
	}
	return idx
}

// Assemble builds vectors for users. A user lacking an attribute, centrality or
// embedding is excluded with domain.ErrMissingFeature; an embedding of the
// wrong length is excluded with domain.ErrDimensionMismatch. Vectors are
// sorted by user id.
func Assemble(users []domain.User, res analytics.Result, dim int) Assembly {
	sorted := append([]domain.User(nil), users...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	out := Assembly{Vectors: make([]Vector, 0, len(sorted))}
	for _, u := range sorted {
		values, err := assembleOne(u, res, dim)
		if err != nil {
			out.Exclusions = append(out.Exclusions, err)
			continue
		}
		out.Vectors = append(out.Vectors, Vector{UserID: u.ID, Churned: u.Churned, Values: values})
	}
	return out
}

func assembleOne(u domain.User, res analytics.Result, dim int) ([]float64, *domain.RecordError) {
	missing := func(field string) *domain.RecordError {
		return &domain.RecordError{
			Stage:  domain.StageFeatures,
			Entity: "user",
			Key:    strconv.FormatInt(u.ID, 10),
			Field:  field,
			Reason: "value is absent",
			Kind:   domain.ErrMissingFeature,
		}
	}

	values := make([]float64, 0, len(attributeColumns)+dim)
	switch {
	case u.YearlyIncome == nil:
		return nil, missing("yearly_income")
	case u.TotalDebt == nil:
		return nil, missing("total_debt")
	case u.CreditScore == nil:
		return nil, missing("credit_score")
	case u.Age == nil:
		return nil, missing("age")
	}
	values = append(values, *u.YearlyIncome, *u.TotalDebt, float64(*u.CreditScore), float64(*u.Age))

	centrality, ok := res.Centrality[u.ID]
	if !ok {
		return nil, missing("centrality")
	}
	values = append(values, centrality)

	emb, ok := res.Embeddings[u.ID]
	if !ok {
		return nil, missing("embedding")
	}
	if len(emb) != dim {
		return nil, &domain.RecordError{
			Stage:  domain.StageFeatures,
			Entity: "user",
			Key:    strconv.FormatInt(u.ID, 10),
			Field:  "embedding",
			Reason: fmt.Sprintf("length %d, configured %d", len(emb), dim),
			Kind:   domain.ErrDimensionMismatch,
		}
	}
	values = append(values, emb...)

	cols := Columns(dim)
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			err := missing(cols[i])
			err.Reason = "value is not finite"
			return nil, err
		}
	}
	return values, nil
}
