package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/caio-sobreiro/pacsnode/client"
	"github.com/caio-sobreiro/pacsnode/config"
	"github.com/caio-sobreiro/pacsnode/dimse"
	"github.com/caio-sobreiro/pacsnode/metrics"
	"github.com/caio-sobreiro/pacsnode/query"
	"github.com/caio-sobreiro/pacsnode/retrieve"
	"github.com/caio-sobreiro/pacsnode/server"
	"github.com/caio-sobreiro/pacsnode/services"
	"github.com/caio-sobreiro/pacsnode/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the PACS node SCP",
	Long: `Listens for DICOM associations and serves C-ECHO, C-STORE, C-FIND
and C-MOVE against the instance repository.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	storageCfg := storage.DefaultConfig(cfg.Storage.Path)
	storageCfg.InMemory = cfg.Storage.InMemory
	if cfg.Storage.GCInterval > 0 {
		storageCfg.GCInterval = cfg.Storage.GCInterval
	}

	repo, err := storage.Open(storageCfg, logger)
	if err != nil {
		return err
	}
	defer repo.Close()

	go repo.RunGC(ctx, storageCfg)

	if cfg.MetricsListen != "" {
		go func() {
			if err := metrics.ListenAndServe(ctx, cfg.MetricsListen); err != nil {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
		logger.Info("Metrics listening", "address", cfg.MetricsListen)
	}

	registry := buildRegistry(repo, cfg)

	err = server.ListenAndServe(ctx, cfg.Listen, cfg.AETitle, registry,
		server.WithLogger(logger))
	if errors.Is(err, context.Canceled) {
		logger.Info("Server stopped")
		return nil
	}
	return err
}

// buildRegistry wires the service classes over the repository.
func buildRegistry(repo *storage.Repository, cfg *config.Config) *services.Registry {
	matcher := query.NewMatcher(repo, logger)

	destinations := make(map[string]retrieve.Destination, len(cfg.Destinations))
	for ae, dest := range cfg.Destinations {
		destinations[ae] = retrieve.Destination{Host: dest.Host, Port: dest.Port}
	}

	opener := &client.DialOpener{CallingAETitle: cfg.AETitle, Logger: logger}
	orchestrator := retrieve.NewOrchestrator(repo, matcher, opener, destinations, cfg.Capabilities, logger)

	registry := services.NewRegistry()
	registry.RegisterHandler(dimse.CEchoRQ, services.NewEchoService())
	registry.RegisterHandler(dimse.CStoreRQ, services.NewStoreService(repo, logger))
	registry.RegisterHandler(dimse.CFindRQ, services.NewFindService(matcher, logger))
	registry.RegisterHandler(dimse.CMoveRQ, services.NewMoveService(orchestrator, logger))
	return registry
}
