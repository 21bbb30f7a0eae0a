// Package service orchestrates a churn-risk run: normalise, build, label,
// sample, analyse, assemble features, train, rank and record.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vanshika/churngraph/internal/analytics"
	"github.com/vanshika/churngraph/internal/builder"
	"github.com/vanshika/churngraph/internal/cohort"
	"github.com/vanshika/churngraph/internal/domain"
	"github.com/vanshika/churngraph/internal/features"
	"github.com/vanshika/churngraph/internal/ingest"
	"github.com/vanshika/churngraph/internal/labeler"
	"github.com/vanshika/churngraph/internal/model"
	"github.com/vanshika/churngraph/internal/ranking"
	"github.com/vanshika/churngraph/internal/repository"
	"github.com/vanshika/churngraph/internal/runstore"
)

// ErrMissingDependency is returned by NewPipeline when a required collaborator is nil.
var ErrMissingDependency = errors.New("missing pipeline dependency")

// GraphStore persists snapshots and serves the full-graph read of interaction edges.
type GraphStore interface {
	EnsureSchema(ctx context.Context) error
	SyncSnapshot(ctx context.Context, snap *builder.Snapshot) (repository.SyncStats, error)
	WriteLabels(ctx context.Context, users []domain.User, reference time.Time) error
	ReadInteractionEdges(ctx context.Context, version string) ([]domain.InteractionEdge, error)
}

// RunRecorder persists the outcome of a run.
type RunRecorder interface {
	SaveRun(ctx context.Context, run runstore.Run, members []domain.CohortMember, scores []domain.RiskScore) error
}

// Dependencies are the collaborators of a Pipeline. Graph is required when the
// run config asks for a graph sync; Runs is optional.
type Dependencies struct {
	Analytics analytics.Engine
	Trainer   model.Trainer
	Graph     GraphStore
	Runs      RunRecorder
	Logger    *slog.Logger
}

// Pipeline runs the churn-risk stages in order.
type Pipeline struct {
	cfg    RunConfig
	deps   Dependencies
	logger *slog.Logger
	nowFn  func() time.Time
	newID  func() string
}

// NewPipeline validates deps against cfg and returns a Pipeline.
func NewPipeline(cfg RunConfig, deps Dependencies) (*Pipeline, error) {
	switch {
	case deps.Analytics == nil:
		return nil, fmt.Errorf("%w: graph analytics engine", ErrMissingDependency)
	case deps.Trainer == nil:
		return nil, fmt.Errorf("%w: trainer", ErrMissingDependency)
	case cfg.SyncGraph && deps.Graph == nil:
		return nil, fmt.Errorf("%w: graph store (sync_graph is enabled)", ErrMissingDependency)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		nowFn:  time.Now,
		newID:  uuid.NewString,
	}, nil
}

// WithClock overrides the time provider (used primarily in tests).
func (p *Pipeline) WithClock(nowFn func() time.Time) {
	if nowFn != nil {
		p.nowFn = nowFn
	}
}

// WithIDGenerator overrides run id generation.
func (p *Pipeline) WithIDGenerator(fn func() string) {
	if fn != nil {
		p.newID = fn
	}
}

// Config returns the run configuration.
func (p *Pipeline) Config() RunConfig {
	return p.cfg
}

// LabelSummary counts the labeled population.
type LabelSummary struct {
	Users       int     `json:"users" yaml:"users"`
	Churned     int     `json:"churned" yaml:"churned"`
	Active      int     `json:"active" yaml:"active"`
	NeverActive int     `json:"never_active" yaml:"never_active"`
	Excluded    int     `json:"excluded_never_active" yaml:"excluded_never_active"`
	Prevalence  float64 `json:"churn_prevalence" yaml:"churn_prevalence"`
}

// Labeling is the labeled snapshot with the reference it was labeled against.
type Labeling struct {
	Reference    labeler.Reference
	Snapshot     *builder.Snapshot
	Labels       LabelSummary
	InputDigests map[string]string
}

// Outcome is everything a run produced. Fields are filled up to the stage
// that failed.
type Outcome struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Config     RunConfig
	Labeling   Labeling
	Cohort     domain.Cohort
	Metrics    model.Metrics
	Scores     []domain.RiskScore
	Provenance domain.Provenance
	Report     domain.Summary
}

// Label normalises, builds and labels the inputs without sampling or scoring.
func (p *Pipeline) Label(ctx context.Context, src ingest.Sources) (Labeling, domain.Summary, error) {
	report := domain.NewRunReport()
	lab, err := p.label(ctx, src, report)
	return lab, report.Summary(), err
}

// Run executes every stage. The run is recorded, successful or not, when a
// RunRecorder is configured.
func (p *Pipeline) Run(ctx context.Context, src ingest.Sources) (out Outcome, err error) {
	report := domain.NewRunReport()
	out = Outcome{RunID: p.newID(), StartedAt: p.nowFn().UTC(), Config: p.cfg}
	out.Provenance = provenanceOf(p.cfg, out)
	logger := p.logger.With("run_id", out.RunID)

	defer func() {
		out.FinishedAt = p.nowFn().UTC()
		out.Report = report.Summary()
		if recErr := p.record(ctx, out, err); recErr != nil {
			if err == nil {
				err = recErr
			} else {
				logger.Warn("recording failed run", "error", recErr)
			}
		}
	}()

	lab, err := p.label(ctx, src, report)
	if err != nil {
		return out, err
	}
	out.Labeling = lab
	out.Provenance = provenanceOf(p.cfg, out)
	users := lab.Snapshot.Users

	edges := lab.Snapshot.Edges
	if p.cfg.SyncGraph {
		if edges, err = p.syncGraph(ctx, lab, logger); err != nil {
			return out, err
		}
	}

	sample, err := cohort.Sample(users, cohort.Options{
		Fraction:         p.cfg.ActiveSampleFraction,
		Seed:             p.cfg.RandomSeed,
		MinActive:        p.cfg.MinCohortActiveSize,
		AllowChurnedOnly: p.cfg.AllowChurnedOnlyCohort,
	})
	if err != nil {
		return out, fmt.Errorf("sample cohort: %w", err)
	}
	out.Cohort = sample
	out.Provenance.CohortName = sample.Name
	logger.Info("cohort sampled",
		"cohort", sample.Name,
		"churned", sample.ChurnedCount,
		"active", sample.ActiveCount,
		"churn_ratio", sample.ChurnRatio(),
		"expected_churn_ratio", sample.ExpectedChurnRatio,
	)

	res, err := analytics.Run(ctx, p.deps.Analytics, analytics.Request{
		SnapshotVersion: lab.Snapshot.Version(),
		Edges:           edges,
		UserIDs:         userIDs(users),
		Dimension:       p.cfg.EmbeddingDimension,
		Seed:            p.cfg.RandomSeed,
	})
	if err != nil {
		return out, err
	}

	asm := features.Assemble(users, res, p.cfg.EmbeddingDimension)
	report.Accept(domain.StageFeatures, len(asm.Vectors))
	for _, exclusion := range asm.Exclusions {
		report.Reject(domain.StageFeatures, exclusion)
		logger.Warn("user excluded from features", "user_id", exclusion.Key, "field", exclusion.Field, "reason", exclusion.Reason)
	}

	set, err := p.trainingSet(sample, asm, report)
	if err != nil {
		return out, err
	}
	scorer, metrics, err := p.deps.Trainer.Train(ctx, set)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return out, ctxErr
		}
		return out, domain.Unavailable("trainer", err)
	}
	out.Metrics = metrics
	out.Provenance.ModelVersion = scorer.Version()
	logger.Info("model trained",
		"model_version", scorer.Version(),
		"examples", len(set.Examples),
		"evaluation", metrics.Evaluation,
		"f1", metrics.F1,
	)

	retryCfg := p.cfg.Retry
	ranker := ranking.New(ranking.Options{
		Workers:   p.cfg.Workers,
		BatchSize: p.cfg.BatchSize,
		Retry:     &retryCfg,
	}, p.logger)
	scores, err := ranker.Rank(ctx, scorer, asm.Vectors)
	if err != nil {
		return out, err
	}
	out.Scores = scores
	logger.Info("run complete", "scored", len(scores), "cohort", sample.Name)
	return out, nil
}

func (p *Pipeline) label(ctx context.Context, src ingest.Sources, report *domain.RunReport) (Labeling, error) {
	digests, err := src.Digests()
	if err != nil {
		return Labeling{}, err
	}

	ds, err := ingest.NewNormalizer(p.cfg.Workers, p.logger, report).Load(ctx, src)
	if err != nil {
		return Labeling{}, err
	}

	snap, err := builder.New(builder.Options{
		MergePolicy: p.cfg.MergePolicy,
		Workers:     p.cfg.Workers,
		BatchSize:   p.cfg.BatchSize,
	}, p.logger, report).Build(ctx, ds)
	if err != nil {
		return Labeling{}, err
	}

	latest, ok := snap.LatestTransaction()
	ref, err := labeler.ResolveReference(p.cfg.ReferenceDate, latest, ok)
	if err != nil {
		return Labeling{}, fmt.Errorf("resolve reference date: %w", err)
	}

	res, err := labeler.LabelAll(snap.Users, ref.Date, labeler.Options{
		ThresholdDays:      p.cfg.ChurnThresholdDays,
		ExcludeNeverActive: p.cfg.ExcludeNeverActive,
	})
	if err != nil {
		return Labeling{}, fmt.Errorf("label users: %w", err)
	}
	report.Accept(domain.StageLabel, len(res.Users))
	report.Note(domain.StageLabel, "churned", res.Churned)
	report.Note(domain.StageLabel, "active", res.Active)
	report.Note(domain.StageLabel, "never_active", res.NeverActive)
	report.Note(domain.StageLabel, "excluded_never_active", res.Excluded)

	p.logger.Info("users labeled",
		"reference_date", ref.Date.Format(time.RFC3339),
		"reference_mode", ref.Mode,
		"threshold_days", p.cfg.ChurnThresholdDays,
		"churned", res.Churned,
		"active", res.Active,
		"prevalence", res.Prevalence(),
	)

	return Labeling{
		Reference: ref,
		Snapshot:  snap.WithUsers(res.Users),
		Labels: LabelSummary{
			Users:       len(res.Users),
			Churned:     res.Churned,
			Active:      res.Active,
			NeverActive: res.NeverActive,
			Excluded:    res.Excluded,
			Prevalence:  res.Prevalence(),
		},
		InputDigests: digests,
	}, nil
}

// syncGraph writes the labeled snapshot to the graph store and reads the
// interaction edges of this version back as the analytics input.
func (p *Pipeline) syncGraph(ctx context.Context, lab Labeling, logger *slog.Logger) ([]domain.InteractionEdge, error) {
	store := p.deps.Graph
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	stats, err := store.SyncSnapshot(ctx, lab.Snapshot)
	if err != nil {
		return nil, err
	}
	if err := store.WriteLabels(ctx, lab.Snapshot.Users, lab.Reference.Date); err != nil {
		return nil, err
	}

	version := lab.Snapshot.Version()
	edges, err := store.ReadInteractionEdges(ctx, version)
	if err != nil {
		return nil, err
	}
	want := lab.Snapshot.Stats()
	var weight int64
	for _, e := range edges {
		weight += e.Weight
	}
	if len(edges) != want.Edges || weight != want.TotalWeight {
		return nil, domain.Unavailable("graph store", fmt.Errorf(
			"store holds %d interaction edges of weight %d for version %s, snapshot has %d of weight %d",
			len(edges), weight, version, want.Edges, want.TotalWeight))
	}

	logger.Info("graph synced",
		"version", version,
		"users", stats.Users,
		"transactions", stats.Transactions,
		"edges", stats.Edges,
		"removed_edges", stats.Removed,
	)
	return edges, nil
}

// trainingSet joins cohort members to their feature vectors. Members without
// a vector are counted and left out.
func (p *Pipeline) trainingSet(sample domain.Cohort, asm features.Assembly, report *domain.RunReport) (model.TrainingSet, error) {
	idx := asm.Index()
	set := model.TrainingSet{
		Columns:  features.Columns(p.cfg.EmbeddingDimension),
		Examples: make([]model.Example, 0, len(sample.Members)),
		Seed:     p.cfg.RandomSeed,
	}

	churned, active, missing := 0, 0, 0
	for _, m := range sample.Members {
		i, ok := idx[m.UserID]
		if !ok {
			missing++
			continue
		}
		set.Examples = append(set.Examples, model.Example{
			UserID:   m.UserID,
			Features: asm.Vectors[i].Values,
			Churned:  m.Churned,
			Weight:   m.Weight,
		})
		if m.Churned {
			churned++
		} else {
			active++
		}
	}
	if missing > 0 {
		report.Note(domain.StageFeatures, "cohort_members_without_features", missing)
	}

	if churned == 0 {
		return model.TrainingSet{}, fmt.Errorf("%w: no churned cohort member has a complete feature vector",
			domain.ErrInsufficientCohortSize)
	}
	churnedOnly := active == 0 && p.cfg.AllowChurnedOnlyCohort
	if !churnedOnly && (active == 0 || active < p.cfg.MinCohortActiveSize) {
		return model.TrainingSet{}, fmt.Errorf("%w: %d active cohort members have complete feature vectors, minimum is %d",
			domain.ErrInsufficientCohortSize, active, max(p.cfg.MinCohortActiveSize, 1))
	}
	return set, nil
}

func provenanceOf(cfg RunConfig, out Outcome) domain.Provenance {
	lab := out.Labeling
	prov := domain.Provenance{
		RunID:                out.RunID,
		StartedAt:            out.StartedAt,
		ReferenceDate:        lab.Reference.Date,
		ReferenceDateMode:    lab.Reference.Mode,
		ChurnThresholdDays:   cfg.ChurnThresholdDays,
		RandomSeed:           cfg.RandomSeed,
		ActiveSampleFraction: cfg.ActiveSampleFraction,
		EmbeddingDimension:   cfg.EmbeddingDimension,
		MinCohortActiveSize:  cfg.MinCohortActiveSize,
		ExcludeNeverActive:   cfg.ExcludeNeverActive,
		AllowChurnedOnly:     cfg.AllowChurnedOnlyCohort,
		MergePolicy:          cfg.MergePolicy,
		InputDigests:         lab.InputDigests,
	}
	if lab.Snapshot != nil {
		prov.SnapshotVersion = lab.Snapshot.Version()
	}
	return prov
}

// record stores the run. It runs even when ctx is cancelled so interrupted
// runs are recorded as failed.
func (p *Pipeline) record(ctx context.Context, out Outcome, runErr error) error {
	if p.deps.Runs == nil {
		return nil
	}
	run := runstore.Run{
		ID:           out.RunID,
		StartedAt:    out.StartedAt,
		FinishedAt:   out.FinishedAt,
		Status:       runstore.StatusSucceeded,
		ModelVersion: out.Provenance.ModelVersion,
		CohortSize:   len(out.Cohort.Members),
		Provenance:   out.Provenance,
		Report:       out.Report,
		Metrics:      out.Metrics,
	}
	members, scores := out.Cohort.Members, out.Scores
	if runErr != nil {
		run.Status = runstore.StatusFailed
		run.Error = runErr.Error()
		scores = nil
	}
	run.Scored = len(scores)
	if err := p.deps.Runs.SaveRun(context.WithoutCancel(ctx), run, members, scores); err != nil {
		return fmt.Errorf("record run %s: %w", out.RunID, err)
	}
	return nil
}

func userIDs(users []domain.User) []int64 {
	ids := make([]int64, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	return ids
}
