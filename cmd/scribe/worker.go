package main

import (
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/scribe/internal/importer"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume import tasks",
	Long: `Join the scribe worker queue group and process transform, aggregate and
notify tasks until interrupted. Run as many workers as throughput needs;
each task is delivered to one of them.`,
	RunE: runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := connectBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	c, err := buildComponents(ctx, cfg, false)
	if err != nil {
		return err
	}

	rt := b.runtime()
	completion := importer.NewCompletion(b.db, newNotifier(cfg), c.rates, b.bus, slog.Default())
	registerWorkers(rt, b.db, b.state, c, completion)
	if err := rt.Start(cfg.WorkerConcurrency); err != nil {
		return err
	}
	slog.Info("worker ready", "concurrency", cfg.WorkerConcurrency)

	<-ctx.Done()
	slog.Info("worker stopping")
	return nil
}
