package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/scribe/internal/api"
	"github.com/MikeSquared-Agency/scribe/internal/importer"
	"github.com/MikeSquared-Agency/scribe/internal/pricing"
)

var serveWithWorker bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serve the import API. Imports are deduplicated and recorded synchronously;
their tasks are published on NATS for workers to pick up.

With --worker the process also consumes tasks itself.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveWithWorker, "worker", false, "also run pipeline workers in this process")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("scribe starting", "port", cfg.Port, "worker", serveWithWorker)

	b, err := connectBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	rates, err := pricing.Load(cfg.ModelRatesFile)
	if err != nil {
		return err
	}
	completion := importer.NewCompletion(b.db, newNotifier(cfg), rates, b.bus, slog.Default())
	rt := b.runtime()

	if serveWithWorker {
		c, err := buildComponents(ctx, cfg, false)
		if err != nil {
			return err
		}
		registerWorkers(rt, b.db, b.state, c, completion)
		if err := rt.Start(cfg.WorkerConcurrency); err != nil {
			return err
		}
	}

	coord := importer.NewCoordinator(b.db, rt, completion, coordinatorConfig(cfg), slog.Default())
	srv := api.NewServer(cfg.Port, cfg.APIToken, coord, b.db, b.state, slog.Default())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	slog.Info("scribe ready", "port", cfg.Port)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	slog.Info("scribe stopped")
	return nil
}
