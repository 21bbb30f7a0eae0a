package service

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vanshika/churngraph/internal/builder"
	"github.com/vanshika/churngraph/internal/config"
	"github.com/vanshika/churngraph/internal/domain"
	"github.com/vanshika/churngraph/internal/labeler"
	"github.com/vanshika/churngraph/internal/model"
	"github.com/vanshika/churngraph/internal/ranking"
)

// Output file names.
const (
	RiskScoresFile = "risk_scores.csv"
	CohortFile     = "cohort.csv"
	LabelsFile     = "labels.csv"
	ProvenanceFile = "run.yaml"
	ReportFile     = "report.json"
)

// RunFile is the provenance document of a run. Its pipeline and retry
// sections use the configuration file keys, with the reference date resolved,
// so "--config run.yaml" replays the run.
type RunFile struct {
	Pipeline config.PipelineConfig `yaml:"pipeline"`
	Retry    config.RetryConfig    `yaml:"retry"`
	Run      domain.Provenance     `yaml:"run"`
	Snapshot builder.Stats         `yaml:"snapshot"`
	Labels   LabelSummary          `yaml:"labels"`
	Cohort   CohortSummary         `yaml:"cohort,omitempty"`
	Metrics  *model.Metrics        `yaml:"metrics,omitempty"`
}

// CohortSummary describes the sampled cohort in the provenance file.
type CohortSummary struct {
	Name               string  `yaml:"name"`
	Churned            int     `yaml:"churned"`
	Active             int     `yaml:"active"`
	ChurnRatio         float64 `yaml:"churn_ratio"`
	ExpectedChurnRatio float64 `yaml:"expected_churn_ratio"`
}

// NewRunFile assembles the provenance document of out.
func NewRunFile(out Outcome) RunFile {
	f := RunFile{
		Pipeline: resolvedPipeline(out.Config, out.Labeling.Reference),
		Retry:    out.Config.RetryConfig(),
		Run:      out.Provenance,
		Labels:   out.Labeling.Labels,
	}
	if out.Labeling.Snapshot != nil {
		f.Snapshot = out.Labeling.Snapshot.Stats()
	}
	if out.Cohort.Name != "" {
		f.Cohort = CohortSummary{
			Name:               out.Cohort.Name,
			Churned:            out.Cohort.ChurnedCount,
			Active:             out.Cohort.ActiveCount,
			ChurnRatio:         out.Cohort.ChurnRatio(),
			ExpectedChurnRatio: out.Cohort.ExpectedChurnRatio,
		}
	}
	if out.Provenance.ModelVersion != "" {
		m := out.Metrics
		f.Metrics = &m
	}
	return f
}

func resolvedPipeline(cfg RunConfig, ref labeler.Reference) config.PipelineConfig {
	p := cfg.PipelineConfig()
	if !ref.Date.IsZero() {
		p.ReferenceDate = ref.Date.Format(time.RFC3339)
	}
	return p
}

// WriteOutputs writes the risk list, cohort, provenance and report of out
// into dir. topN > 0 truncates the risk list file only.
func WriteOutputs(dir string, out Outcome, topN int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	scores := ranking.Top(out.Scores, topN)
	if err := writeCSV(filepath.Join(dir, RiskScoresFile), []string{"rank", "user_id", "risk_score", "model_version"}, len(scores), func(i int) []string {
		s := scores[i]
		return []string{strconv.Itoa(s.Rank), formatID(s.UserID), strconv.FormatFloat(s.Score, 'f', -1, 64), s.ModelVersion}
	}); err != nil {
		return err
	}

	members := out.Cohort.Members
	if err := writeCSV(filepath.Join(dir, CohortFile), []string{"user_id", "churned", "weight"}, len(members), func(i int) []string {
		m := members[i]
		return []string{formatID(m.UserID), strconv.FormatBool(m.Churned), strconv.FormatFloat(m.Weight, 'f', -1, 64)}
	}); err != nil {
		return err
	}

	if err := writeYAML(filepath.Join(dir, ProvenanceFile), NewRunFile(out)); err != nil {
		return err
	}
	return writeJSON(filepath.Join(dir, ReportFile), out.Report)
}

// WriteLabels writes the labeled population and its provenance into dir.
func WriteLabels(dir string, cfg RunConfig, lab Labeling, report domain.Summary) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	var users []domain.User
	if lab.Snapshot != nil {
		users = lab.Snapshot.Users
	}
	ref := lab.Reference.Date
	if err := writeCSV(filepath.Join(dir, LabelsFile), []string{"user_id", "churned", "last_activity", "dormant_days"}, len(users), func(i int) []string {
		u := users[i]
		last, dormant := "", ""
		if u.LastActivity != nil {
			last = u.LastActivity.UTC().Format(time.RFC3339)
			dormant = strconv.Itoa(labeler.DormantDays(*u.LastActivity, ref))
		}
		return []string{formatID(u.ID), strconv.FormatBool(u.Churned), last, dormant}
	}); err != nil {
		return err
	}

	if err := writeYAML(filepath.Join(dir, ProvenanceFile), NewRunFile(Outcome{Config: cfg, Labeling: lab, Provenance: provenanceOf(cfg, Outcome{Labeling: lab})})); err != nil {
		return err
	}
	return writeJSON(filepath.Join(dir, ReportFile), report)
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func writeCSV(path string, header []string, n int, record func(i int) []string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	for i := 0; i < n; i++ {
		if err := w.Write(record(i)); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush %s: %w", path, err)
	}
	return nil
}

func writeYAML(path string, data any) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	encoder := yaml.NewEncoder(file)
	encoder.SetIndent(2)
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encode yaml for %s: %w", path, err)
	}
	return encoder.Close()
}

func writeJSON(path string, data any) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encode json for %s: %w", path, err)
	}
	return nil
}
