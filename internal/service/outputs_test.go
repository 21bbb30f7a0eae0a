package service

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshika/churngraph/internal/config"
	"github.com/vanshika/churngraph/internal/domain"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}

func TestWriteOutputs(t *testing.T) {
	dir, _ := writeDataset(t, datasetConfig())
	out, err := newTestPipeline(t, testRunConfig(), Dependencies{}).Run(context.Background(), sources(t, dir))
	require.NoError(t, err)

	outDir := filepath.Join(t.TempDir(), "out")
	require.NoError(t, WriteOutputs(outDir, out, 3))

	risk := readCSV(t, filepath.Join(outDir, RiskScoresFile))
	require.Len(t, risk, 4)
	assert.Equal(t, []string{"rank", "user_id", "risk_score", "model_version"}, risk[0])
	assert.Equal(t, "1", risk[1][0])
	assert.Equal(t, out.Provenance.ModelVersion, risk[1][3])

	cohortRows := readCSV(t, filepath.Join(outDir, CohortFile))
	assert.Len(t, cohortRows, len(out.Cohort.Members)+1)
	assert.Equal(t, []string{"user_id", "churned", "weight"}, cohortRows[0])

	raw, err := os.ReadFile(filepath.Join(outDir, ReportFile))
	require.NoError(t, err)
	var summary domain.Summary
	require.NoError(t, json.Unmarshal(raw, &summary))
	assert.Equal(t, out.Report.Stages[domain.StageLabel].Accepted, summary.Stages[domain.StageLabel].Accepted)
}

func TestProvenanceFileReplaysConfiguration(t *testing.T) {
	dir, _ := writeDataset(t, datasetConfig())
	cfg := testRunConfig()
	cfg.ReferenceDate = config.ReferenceAuto
	out, err := newTestPipeline(t, cfg, Dependencies{}).Run(context.Background(), sources(t, dir))
	require.NoError(t, err)

	outDir := t.TempDir()
	require.NoError(t, WriteOutputs(outDir, out, 0))

	loaded, err := config.Load(filepath.Join(outDir, ProvenanceFile))
	require.NoError(t, err)

	want := cfg.PipelineConfig()
	want.ReferenceDate = out.Labeling.Reference.Date.Format(time.RFC3339)
	assert.Equal(t, want, loaded.Pipeline)

	replayed := RunConfigFrom(loaded)
	again, err := newTestPipeline(t, replayed, Dependencies{}).Run(context.Background(), sources(t, dir))
	require.NoError(t, err)
	assert.Equal(t, "explicit", again.Labeling.Reference.Mode)
	assert.True(t, out.Labeling.Reference.Date.Equal(again.Labeling.Reference.Date))
	assert.Equal(t, out.Scores, again.Scores)
}

func TestProvenanceFileReplaysZeroValues(t *testing.T) {
	dir, _ := writeDataset(t, datasetConfig())
	cfg := testRunConfig()
	cfg.HoldoutFraction = 0
	cfg.MinCohortActiveSize = 0
	cfg.Retry.MaxRetries = 0
	cfg.Retry.JitterFactor = 0
	out, err := newTestPipeline(t, cfg, Dependencies{}).Run(context.Background(), sources(t, dir))
	require.NoError(t, err)

	outDir := t.TempDir()
	require.NoError(t, WriteOutputs(outDir, out, 0))
	loaded, err := config.Load(filepath.Join(outDir, ProvenanceFile))
	require.NoError(t, err)

	assert.Equal(t, cfg.PipelineConfig(), loaded.Pipeline)
	assert.Equal(t, cfg.RetryConfig(), loaded.Retry)

	again, err := newTestPipeline(t, RunConfigFrom(loaded), Dependencies{}).Run(context.Background(), sources(t, dir))
	require.NoError(t, err)
	assert.Equal(t, out.Metrics, again.Metrics)
	assert.Equal(t, out.Scores, again.Scores)
}

func TestLabelProvenanceReplaysZeroThreshold(t *testing.T) {
	dir, _ := writeDataset(t, datasetConfig())
	cfg := testRunConfig()
	cfg.ChurnThresholdDays = 0
	lab, report, err := newTestPipeline(t, cfg, Dependencies{}).Label(context.Background(), sources(t, dir))
	require.NoError(t, err)

	outDir := t.TempDir()
	require.NoError(t, WriteLabels(outDir, cfg, lab, report))
	loaded, err := config.Load(filepath.Join(outDir, ProvenanceFile))
	require.NoError(t, err)
	require.Equal(t, 0, loaded.Pipeline.ChurnThresholdDays)

	again, _, err := newTestPipeline(t, RunConfigFrom(loaded), Dependencies{}).Label(context.Background(), sources(t, dir))
	require.NoError(t, err)
	assert.Equal(t, lab.Labels, again.Labels)
}

func TestWriteLabels(t *testing.T) {
	dir, ds := writeDataset(t, datasetConfig())
	cfg := testRunConfig()
	lab, report, err := newTestPipeline(t, cfg, Dependencies{}).Label(context.Background(), sources(t, dir))
	require.NoError(t, err)

	outDir := t.TempDir()
	require.NoError(t, WriteLabels(outDir, cfg, lab, report))

	rows := readCSV(t, filepath.Join(outDir, LabelsFile))
	require.Len(t, rows, len(ds.Users)+1)
	assert.Equal(t, []string{"user_id", "churned", "last_activity", "dormant_days"}, rows[0])

	loaded, err := config.Load(filepath.Join(outDir, ProvenanceFile))
	require.NoError(t, err)
	assert.Equal(t, cfg.ChurnThresholdDays, loaded.Pipeline.ChurnThresholdDays)
	assert.Equal(t, datasetEnd.Format(time.RFC3339), loaded.Pipeline.ReferenceDate)
}
