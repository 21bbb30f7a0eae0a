package service

import (
	"github.com/vanshika/churngraph/internal/config"
	"github.com/vanshika/churngraph/internal/retry"
)

// RunConfig is the immutable option set of one pipeline run. It is passed by
// value to every stage.
type RunConfig struct {
	ChurnThresholdDays     int
	ReferenceDate          string
	ActiveSampleFraction   float64
	RandomSeed             int64
	EmbeddingDimension     int
	MinCohortActiveSize    int
	ExcludeNeverActive     bool
	AllowChurnedOnlyCohort bool
	MergePolicy            string
	Workers                int
	BatchSize              int
	HoldoutFraction        float64
	WeightedTraining       bool
	TopN                   int
	Analytics              string
	SyncGraph              bool
	Retry                  retry.Config
}

// RunConfigFrom copies the pipeline and retry sections of cfg.
func RunConfigFrom(cfg config.Config) RunConfig {
	p := cfg.Pipeline
	return RunConfig{
		ChurnThresholdDays:     p.ChurnThresholdDays,
		ReferenceDate:          p.ReferenceDate,
		ActiveSampleFraction:   p.ActiveSampleFraction,
		RandomSeed:             p.RandomSeed,
		EmbeddingDimension:     p.EmbeddingDimension,
		MinCohortActiveSize:    p.MinCohortActiveSize,
		ExcludeNeverActive:     p.ExcludeNeverActive,
		AllowChurnedOnlyCohort: p.AllowChurnedOnlyCohort,
		MergePolicy:            p.MergePolicy,
		Workers:                p.Workers,
		BatchSize:              p.BatchSize,
		HoldoutFraction:        p.HoldoutFraction,
		WeightedTraining:       p.WeightedTraining,
		TopN:                   p.TopN,
		Analytics:              p.Analytics,
		SyncGraph:              p.SyncGraph,
		Retry: retry.Config{
			MaxRetries:   cfg.Retry.MaxRetries,
			InitialDelay: cfg.Retry.InitialDelay,
			MaxDelay:     cfg.Retry.MaxDelay,
			Multiplier:   cfg.Retry.Multiplier,
			JitterFactor: cfg.Retry.JitterFactor,
		},
	}
}

// PipelineConfig converts back to the configuration file section, so a run can
// be replayed from its provenance file.
func (c RunConfig) PipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		ChurnThresholdDays:     c.ChurnThresholdDays,
		ReferenceDate:          c.ReferenceDate,
		ActiveSampleFraction:   c.ActiveSampleFraction,
		RandomSeed:             c.RandomSeed,
		EmbeddingDimension:     c.EmbeddingDimension,
		MinCohortActiveSize:    c.MinCohortActiveSize,
		ExcludeNeverActive:     c.ExcludeNeverActive,
		AllowChurnedOnlyCohort: c.AllowChurnedOnlyCohort,
		MergePolicy:            c.MergePolicy,
		Workers:                c.Workers,
		BatchSize:              c.BatchSize,
		HoldoutFraction:        c.HoldoutFraction,
		WeightedTraining:       c.WeightedTraining,
		TopN:                   c.TopN,
		Analytics:              c.Analytics,
		SyncGraph:              c.SyncGraph,
	}
}

// RetryConfig converts back to the configuration file section.
func (c RunConfig) RetryConfig() config.RetryConfig {
	return config.RetryConfig{
		MaxRetries:   c.Retry.MaxRetries,
		InitialDelay: c.Retry.InitialDelay,
		MaxDelay:     c.Retry.MaxDelay,
		Multiplier:   c.Retry.Multiplier,
		JitterFactor: c.Retry.JitterFactor,
	}
}
