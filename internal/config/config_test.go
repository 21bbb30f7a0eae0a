package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 30, cfg.Pipeline.ChurnThresholdDays)
	assert.Equal(t, ReferenceAuto, cfg.Pipeline.ReferenceDate)
	assert.InDelta(t, 0.05, cfg.Pipeline.ActiveSampleFraction, 1e-12)
	assert.Equal(t, int64(42), cfg.Pipeline.RandomSeed)
	assert.Equal(t, MergeFirstWriteWins, cfg.Pipeline.MergePolicy)
	assert.Equal(t, 100*time.Millisecond, cfg.Retry.InitialDelay)
	require.NoError(t, cfg.Validate())
}

func TestLoad_YAMLWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pipeline:
  churn_threshold_days: 60
  reference_date: "2020-01-31"
  active_sample_fraction: 0.1
  embedding_dimension: 8
logging:
  format: json
`), 0o600))
	t.Setenv("RANDOM_SEED", "7")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 60, cfg.Pipeline.ChurnThresholdDays)
	assert.Equal(t, "2020-01-31", cfg.Pipeline.ReferenceDate)
	assert.Equal(t, 8, cfg.Pipeline.EmbeddingDimension)
	assert.Equal(t, int64(7), cfg.Pipeline.RandomSeed)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_KeepsExplicitZeroValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pipeline:
  churn_threshold_days: 0
  reference_date: "2020-01-31T00:00:00Z"
  active_sample_fraction: 0
  min_cohort_active_size: 0
  holdout_fraction: 0
  allow_churned_only_cohort: true
retry:
  max_retries: 0
  jitter_factor: 0
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0, cfg.Pipeline.ChurnThresholdDays)
	assert.Zero(t, cfg.Pipeline.ActiveSampleFraction)
	assert.Equal(t, 0, cfg.Pipeline.MinCohortActiveSize)
	assert.Zero(t, cfg.Pipeline.HoldoutFraction)
	assert.Equal(t, 0, cfg.Retry.MaxRetries)
	assert.Zero(t, cfg.Retry.JitterFactor)

	// Keys absent from the file still take their defaults.
	assert.Equal(t, 16, cfg.Pipeline.EmbeddingDimension)
	assert.Equal(t, int64(42), cfg.Pipeline.RandomSeed)
	assert.Equal(t, 100*time.Millisecond, cfg.Retry.InitialDelay)

	t.Setenv("CHURN_THRESHOLD_DAYS", "14")
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, 14, cfg.Pipeline.ChurnThresholdDays)
	assert.Zero(t, cfg.Pipeline.HoldoutFraction)
}

func TestValidate_RejectsOutOfRange(t *testing.T) {
	cfg := Default()
	cfg.Pipeline.ActiveSampleFraction = 1.5
	assert.ErrorContains(t, cfg.Validate(), "ActiveSampleFraction")

	cfg = Default()
	cfg.Pipeline.MergePolicy = "newest"
	assert.ErrorContains(t, cfg.Validate(), "MergePolicy")

	cfg = Default()
	cfg.Pipeline.ReferenceDate = "yesterday"
	assert.ErrorContains(t, cfg.Validate(), "reference_date")
}

func TestParseReferenceDate(t *testing.T) {
	_, auto, err := ParseReferenceDate("AUTO")
	require.NoError(t, err)
	assert.True(t, auto)

	ts, auto, err := ParseReferenceDate("2019-10-31")
	require.NoError(t, err)
	assert.False(t, auto)
	assert.Equal(t, time.Date(2019, 10, 31, 0, 0, 0, 0, time.UTC), ts)

	ts, _, err = ParseReferenceDate("2019-10-31T12:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, 12, ts.Hour())
}
