package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vanshika/churngraph/internal/analytics"
	"github.com/vanshika/churngraph/internal/config"
	"github.com/vanshika/churngraph/internal/domain"
	"github.com/vanshika/churngraph/internal/graph"
	"github.com/vanshika/churngraph/internal/ingest"
	"github.com/vanshika/churngraph/internal/labeler"
	"github.com/vanshika/churngraph/internal/logging"
	"github.com/vanshika/churngraph/internal/model"
	"github.com/vanshika/churngraph/internal/repository"
	"github.com/vanshika/churngraph/internal/runstore"
	"github.com/vanshika/churngraph/internal/service"
)

var (
	configPath string
	dataDir    string
	outputDir  string
	explicit   ingest.Sources
	noStore    bool

	referenceDate        string
	thresholdDays        int
	activeSampleFraction float64
	randomSeed           int64
	embeddingDimension   int
	topN                 int
)

var rootCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Churn-risk pipeline over card transaction data",
	Long: `Labels silent churn, samples a training cohort, derives graph features
from the User/Card/Merchant/Category transaction graph, trains a classifier
and ranks every active user by churn risk.

Examples:
  pipeline run --data-dir ./data --output ./out
  pipeline run --config out/run.yaml --data-dir ./data   # replay a run
  pipeline label --data-dir ./data --threshold-days 60`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every stage and write the risk list",
	RunE:  runPipeline,
}

var labelCmd = &cobra.Command{
	Use:   "label",
	Short: "Normalise, build and label only; report churn prevalence",
	RunE:  runLabel,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "YAML configuration file (environment variables override it)")
	pf.StringVar(&dataDir, "data-dir", "./data", "directory containing users.csv, cards.csv and transactions.csv")
	pf.StringVar(&explicit.Users, "users", "", "path to users.csv (overrides data-dir)")
	pf.StringVar(&explicit.Cards, "cards", "", "path to cards.csv (overrides data-dir)")
	pf.StringVar(&explicit.Transactions, "transactions", "", "path to transactions.csv (overrides data-dir)")
	pf.StringVar(&explicit.Merchants, "merchants", "", "path to merchants.csv (optional)")
	pf.StringVar(&explicit.Categories, "categories", "", "path to categories.json (optional, closes the category taxonomy)")
	pf.StringVar(&outputDir, "output", "./out", "directory for output files")
	pf.StringVar(&referenceDate, "reference-date", "", `snapshot instant, "auto" or a date`)
	pf.IntVar(&thresholdDays, "threshold-days", 0, "days without a transaction after which a user is churned")

	rf := runCmd.Flags()
	rf.Float64Var(&activeSampleFraction, "active-sample-fraction", 0, "fraction of active users sampled into the cohort")
	rf.Int64Var(&randomSeed, "seed", 0, "random seed for sampling, embeddings and the holdout split")
	rf.IntVar(&embeddingDimension, "embedding-dimension", 0, "length of the graph embedding")
	rf.IntVar(&topN, "top-n", 0, "truncate risk_scores.csv to the top N users (0 keeps all)")
	rf.BoolVar(&noStore, "no-store", false, "do not record the run in the run store")

	rootCmd.AddCommand(runCmd, labelCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if hint := hintFor(err); hint != "" {
			fmt.Fprintf(os.Stderr, "hint: %s\n", hint)
		}
		os.Exit(1)
	}
}

// loadConfig reads the configuration and applies explicitly set flags.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("reference-date") {
		cfg.Pipeline.ReferenceDate = referenceDate
	}
	if flags.Changed("threshold-days") {
		cfg.Pipeline.ChurnThresholdDays = thresholdDays
	}
	if flags.Changed("active-sample-fraction") {
		cfg.Pipeline.ActiveSampleFraction = activeSampleFraction
	}
	if flags.Changed("seed") {
		cfg.Pipeline.RandomSeed = randomSeed
	}
	if flags.Changed("embedding-dimension") {
		cfg.Pipeline.EmbeddingDimension = embeddingDimension
	}
	if flags.Changed("top-n") {
		cfg.Pipeline.TopN = topN
	}
	if cfg.Pipeline.Analytics == config.AnalyticsGDS && !cfg.Pipeline.SyncGraph {
		return config.Config{}, errors.New("invalid configuration: analytics \"gds\" reads the graph store and requires sync_graph")
	}
	return cfg, cfg.Validate()
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Logging).With("component", "pipeline")

	src, err := ingest.ResolveSources(dataDir, explicit)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runCfg := service.RunConfigFrom(cfg)
	deps := service.Dependencies{
		Analytics: analytics.NewLocal(),
		Trainer:   model.NewLogisticTrainer(runCfg.HoldoutFraction, runCfg.WeightedTraining),
		Logger:    logger,
	}

	if runCfg.SyncGraph {
		client, err := graph.Connect(ctx, logger, cfg.Graph)
		if err != nil {
			return domain.Unavailable("graph store", err)
		}
		defer closeGraph(logger, client)
		deps.Graph = repository.New(client, runCfg.BatchSize)
		if runCfg.Analytics == config.AnalyticsGDS {
			deps.Analytics = analytics.NewGDS(client, "")
		}
	}

	if !noStore && cfg.Store.Path != "" {
		store, err := runstore.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		deps.Runs = store
	}

	pipeline, err := service.NewPipeline(runCfg, deps)
	if err != nil {
		return err
	}

	start := time.Now()
	out, err := pipeline.Run(ctx, src)
	if err != nil {
		return err
	}
	if err := service.WriteOutputs(outputDir, out, runCfg.TopN); err != nil {
		return fmt.Errorf("write outputs to %s: %w", outputDir, err)
	}

	logger.Info("pipeline complete",
		"run_id", out.RunID,
		"scored", len(out.Scores),
		"cohort", out.Cohort.Name,
		"model_version", out.Provenance.ModelVersion,
		"rejected", out.Report.Stages[domain.StageNormalize].Rejected,
		"output", outputDir,
		"duration", time.Since(start).String(),
	)
	fmt.Fprintf(cmd.OutOrStdout(), "run %s scored %d active users; results in %s\n", out.RunID, len(out.Scores), outputDir)
	return nil
}

func runLabel(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Logging).With("component", "pipeline")

	src, err := ingest.ResolveSources(dataDir, explicit)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runCfg := service.RunConfigFrom(cfg)
	runCfg.SyncGraph = false
	pipeline, err := service.NewPipeline(runCfg, service.Dependencies{
		Analytics: analytics.NewLocal(),
		Trainer:   model.NewLogisticTrainer(runCfg.HoldoutFraction, runCfg.WeightedTraining),
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	lab, report, err := pipeline.Label(ctx, src)
	if err != nil {
		return err
	}
	if err := service.WriteLabels(outputDir, runCfg, lab, report); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(),
		"reference %s (%s), threshold %d days: %d users, %d churned, %d active, %d never active, prevalence %.4f\n",
		lab.Reference.Date.Format(time.RFC3339), lab.Reference.Mode, runCfg.ChurnThresholdDays,
		lab.Labels.Users, lab.Labels.Churned, lab.Labels.Active, lab.Labels.NeverActive, lab.Labels.Prevalence)
	return nil
}

func closeGraph(logger *slog.Logger, client graph.Client) {
	if err := client.Close(context.Background()); err != nil {
		logger.Warn("closing graph client failed", "error", err)
	}
}

func hintFor(err error) string {
	switch {
	case errors.Is(err, ingest.ErrMissingDataset):
		return "pass --data-dir or the per-file flags (--users, --cards, --transactions)"
	case errors.Is(err, domain.ErrSchema):
		return "an input file is missing required columns or is not valid; check its header row"
	case errors.Is(err, labeler.ErrNoActivity):
		return "no transaction survived validation; set reference_date explicitly or check the inputs"
	case errors.Is(err, domain.ErrInsufficientCohortSize):
		return "raise active_sample_fraction, lower min_cohort_active_size, or set allow_churned_only_cohort"
	case errors.Is(err, graph.ErrMissingURI):
		return "set GRAPH_URI or disable sync_graph"
	case errors.Is(err, domain.ErrCollaboratorUnavailable):
		return "a collaborator (graph store, analytics, trainer or scorer) failed; check connectivity and retry"
	default:
		return ""
	}
}
