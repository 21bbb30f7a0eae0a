package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vanshika/churngraph/internal/config"
	"github.com/vanshika/churngraph/internal/graph"
	"github.com/vanshika/churngraph/internal/logging"
	"github.com/vanshika/churngraph/internal/runstore"
	"github.com/vanshika/churngraph/internal/server"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "Serve recorded pipeline runs over HTTP",
	Long: `Read-only results API over the run store:

  GET /runs                  recorded runs, newest first
  GET /runs/{id}             provenance, report and metrics of one run
  GET /runs/{id}/risk        ranked risk list (?format=csv to export)
  GET /runs/{id}/cohort      training cohort with weights
  GET /healthz               run store and graph store probes`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServer,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "YAML configuration file (environment variables override it)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := logging.New(cfg.Logging)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := runstore.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open run store: %w", err)
	}
	defer store.Close()

	health := server.HealthServices{server.StoreHealthService{Store: store}}
	if cfg.Graph.URI != "" {
		graphClient, err := graph.Connect(ctx, logger, cfg.Graph)
		if err != nil {
			logger.Warn("graph store unreachable at startup", "error", err)
		} else {
			defer func() {
				if err := graphClient.Close(context.Background()); err != nil {
					logger.Warn("closing graph client failed", "error", err)
				}
			}()
			health = append(health, server.GraphHealthService{Client: graphClient})
		}
	}

	router := server.NewRouter(logger, server.RouterDependencies{
		Health:           health,
		API:              server.NewAPIHandlers(logger, store),
		AllowedOrigins:   server.SplitOrigins(cfg.HTTP.AllowedOriginsCSV),
		AllowCredentials: true,
	})

	srv := server.New(logger, cfg.HTTP, router)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server stopped unexpectedly: %w", err)
		}
		return nil
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		return err
	}
	return nil
}
