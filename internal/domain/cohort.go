package domain

import "time"

// CohortMember is one sampled user with its label and sampling weight.
type CohortMember struct {
	UserID  int64
	Churned bool
	Weight  float64
}

// Cohort is a reproducible, labeled training subset of the population.
type Cohort struct {
	Name               string
	Seed               int64
	Fraction           float64
	Members            []CohortMember
	ChurnedCount       int
	ActiveCount        int
	PopulationChurned  int
	PopulationActive   int
	ExpectedChurnRatio float64
}

// ChurnRatio is the observed share of churned members.
func (c Cohort) ChurnRatio() float64 {
	total := c.ChurnedCount + c.ActiveCount
	if total == 0 {
		return 0
	}
	return float64(c.ChurnedCount) / float64(total)
}

// RiskScore is one ranked inference output. It is regenerated on every run.
type RiskScore struct {
	Rank         int
	UserID       int64
	Score        float64
	ModelVersion string
}

// Provenance holds what is needed to reproduce a run exactly.
type Provenance struct {
	RunID                string            `json:"run_id" yaml:"run_id"`
	StartedAt            time.Time         `json:"started_at" yaml:"started_at"`
	ReferenceDate        time.Time         `json:"reference_date" yaml:"reference_date"`
	ReferenceDateMode    string            `json:"reference_date_mode" yaml:"reference_date_mode"`
	ChurnThresholdDays   int               `json:"churn_threshold_days" yaml:"churn_threshold_days"`
	RandomSeed           int64             `json:"random_seed" yaml:"random_seed"`
	ActiveSampleFraction float64           `json:"active_sample_fraction" yaml:"active_sample_fraction"`
	EmbeddingDimension   int               `json:"embedding_dimension" yaml:"embedding_dimension"`
	MinCohortActiveSize  int               `json:"min_cohort_active_size" yaml:"min_cohort_active_size"`
	ExcludeNeverActive   bool              `json:"exclude_never_active" yaml:"exclude_never_active"`
	AllowChurnedOnly     bool              `json:"allow_churned_only_cohort" yaml:"allow_churned_only_cohort"`
	MergePolicy          string            `json:"merge_policy" yaml:"merge_policy"`
	SnapshotVersion      string            `json:"snapshot_version" yaml:"snapshot_version"`
	ModelVersion         string            `json:"model_version" yaml:"model_version"`
	CohortName           string            `json:"cohort_name" yaml:"cohort_name"`
	InputDigests         map[string]string `json:"input_digests,omitempty" yaml:"input_digests,omitempty"`
}
