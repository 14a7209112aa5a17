package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/scribe/internal/export"
	"github.com/MikeSquared-Agency/scribe/internal/importer"
	"github.com/MikeSquared-Agency/scribe/internal/notify"
	"github.com/MikeSquared-Agency/scribe/internal/queue"
	"github.com/MikeSquared-Agency/scribe/internal/store/memstore"
	"github.com/MikeSquared-Agency/scribe/internal/taskstate"
)

var importFlags struct {
	source  string
	userID  string
	email   string
	company string
	brainID string
	model   string
	apiKey  string
	local   bool
}

var importCmd = &cobra.Command{
	Use:   "import <export-file>",
	Short: "Import one export file",
	Long: `Import a ChatGPT or Claude conversations.json export.

By default the import is recorded in Postgres and its tasks are published for
running workers. With --local the whole pipeline runs in this process on
in-memory stores and the finished job is printed as JSON.

Example:
  scribe import conversations.json --source claude --user u1 --brain b1 --local`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	f := importCmd.Flags()
	f.StringVar(&importFlags.source, "source", "openai", "export source: openai or anthropic")
	f.StringVar(&importFlags.userID, "user", "", "owning user id")
	f.StringVar(&importFlags.email, "email", "", "address for the completion summary")
	f.StringVar(&importFlags.company, "company", "", "company id")
	f.StringVar(&importFlags.brainID, "brain", "", "target brain id")
	f.StringVar(&importFlags.model, "model", "gpt-4o", "model recorded on imported messages")
	f.StringVar(&importFlags.apiKey, "api-key", "", "summarizer API key for this import")
	f.BoolVar(&importFlags.local, "local", false, "run the pipeline in-process on in-memory stores")
	importCmd.MarkFlagRequired("user")
	importCmd.MarkFlagRequired("brain")
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	source, err := export.ParseSource(importFlags.source)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read export: %w", err)
	}
	req := importer.Request{
		Source: source,
		Data:   data,
		User: importer.UserMeta{
			UserID:    importFlags.userID,
			Email:     importFlags.email,
			CompanyID: importFlags.company,
			BrainID:   importFlags.brainID,
		},
		APIKey: importFlags.apiKey,
		Model:  importFlags.model,
	}

	if importFlags.local {
		return runLocalImport(cmd, req)
	}

	b, err := connectBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	c, err := buildComponents(ctx, cfg, false)
	if err != nil {
		return err
	}
	completion := importer.NewCompletion(b.db, newNotifier(cfg), c.rates, b.bus, slog.Default())
	coord := importer.NewCoordinator(b.db, b.runtime(), completion, coordinatorConfig(cfg), slog.Default())

	res, err := coord.Import(ctx, req)
	if err != nil {
		return err
	}
	if err := b.bus.Flush(ctx); err != nil {
		return fmt.Errorf("flush events: %w", err)
	}
	return printJSON(cmd, res)
}

func runLocalImport(cmd *cobra.Command, req importer.Request) error {
	ctx := cmd.Context()
	logger := slog.Default()

	c, err := buildComponents(ctx, cfg, true)
	if err != nil {
		return err
	}

	repo := memstore.New()
	state := taskstate.NewMemory()
	broker := queue.NewLocal()
	defer broker.Close()

	rt := queue.NewRuntime(broker, state, state, logger)
	completion := importer.NewCompletion(repo, notify.NewLog(logger), c.rates, nil, logger)
	registerWorkers(rt, repo, state, c, completion)
	if err := rt.Start(cfg.WorkerConcurrency); err != nil {
		return err
	}

	coord := importer.NewCoordinator(repo, rt, completion, coordinatorConfig(cfg), logger)
	res, err := coord.Import(ctx, req)
	if err != nil {
		return err
	}
	broker.Wait()

	job, err := repo.GetJob(ctx, res.JobID)
	if err != nil {
		return err
	}
	return printJSON(cmd, job)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
