package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vanshika/churngraph/internal/generator"
)

var (
	genCfg         = generator.DefaultConfig()
	endDate        string
	outputDir      string
	withMerchants  bool
	withCategories bool
)

var rootCmd = &cobra.Command{
	Use:   "datagen",
	Short: "Generate a synthetic card transaction dataset",
	Long: `Writes users.csv, cards.csv and transactions.csv in the layout the
pipeline reads, with a controlled share of dormant and never-active users.

Example:
  datagen --users 5000 --dormant-fraction 0.2 --output-dir ./data --with-categories`,
	SilenceUsage: true,
	RunE:         runGenerate,
}

func init() {
	f := rootCmd.Flags()
	f.IntVar(&genCfg.NumUsers, "users", genCfg.NumUsers, "number of users to generate")
	f.IntVar(&genCfg.NumMerchants, "merchants", genCfg.NumMerchants, "number of merchants")
	f.IntVar(&genCfg.MaxCardsPerUser, "max-cards", genCfg.MaxCardsPerUser, "maximum cards issued per user")
	f.IntVar(&genCfg.TransactionsPerUser, "transactions-per-user", genCfg.TransactionsPerUser, "mean transactions per active user")
	f.Float64Var(&genCfg.DormantFraction, "dormant-fraction", genCfg.DormantFraction, "share of users that stop transacting")
	f.Float64Var(&genCfg.NeverActiveFraction, "never-active-fraction", genCfg.NeverActiveFraction, "share of users with no transactions")
	f.IntVar(&genCfg.DormantDays, "dormant-days", genCfg.DormantDays, "minimum silence of a dormant user before the end date")
	f.IntVar(&genCfg.WindowDays, "window-days", genCfg.WindowDays, "days of history ending at the end date")
	f.Int64Var(&genCfg.Seed, "seed", genCfg.Seed, "random seed for deterministic generation")
	f.StringVar(&endDate, "end", genCfg.End.Format(time.DateOnly), "last day of generated history (YYYY-MM-DD)")
	f.StringVar(&outputDir, "output-dir", "data", "directory to write the dataset to")
	f.BoolVar(&withMerchants, "with-merchants", false, "also write merchants.csv")
	f.BoolVar(&withCategories, "with-categories", false, "also write categories.json")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	end, err := time.Parse(time.DateOnly, endDate)
	if err != nil {
		return fmt.Errorf("invalid --end: %w", err)
	}
	genCfg.End = end.Add(23*time.Hour + 59*time.Minute)
	genCfg.DormantFraction = clampProbability(genCfg.DormantFraction)
	genCfg.NeverActiveFraction = clampProbability(genCfg.NeverActiveFraction)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	dataset, err := generator.New(genCfg).Generate(ctx)
	if err != nil {
		return fmt.Errorf("generation failed: %w", err)
	}

	opts := generator.WriteOptions{Merchants: withMerchants, Categories: withCategories}
	if err := generator.WriteDataset(dataset, outputDir, opts); err != nil {
		return fmt.Errorf("failed to write dataset: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Generated %d users (%d dormant, %d never active), %d cards and %d transactions into %s\n",
		len(dataset.Users),
		len(dataset.IDs(generator.Dormant)),
		len(dataset.IDs(generator.NeverActive)),
		len(dataset.Cards),
		len(dataset.Transactions),
		outputDir,
	)
	return nil
}

func clampProbability(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}
