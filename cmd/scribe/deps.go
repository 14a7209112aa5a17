package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MikeSquared-Agency/scribe/internal/config"
	"github.com/MikeSquared-Agency/scribe/internal/hermes"
	"github.com/MikeSquared-Agency/scribe/internal/importer"
	"github.com/MikeSquared-Agency/scribe/internal/notify"
	"github.com/MikeSquared-Agency/scribe/internal/pricing"
	"github.com/MikeSquared-Agency/scribe/internal/queue"
	"github.com/MikeSquared-Agency/scribe/internal/sealed"
	"github.com/MikeSquared-Agency/scribe/internal/store"
	"github.com/MikeSquared-Agency/scribe/internal/summarizer"
	"github.com/MikeSquared-Agency/scribe/internal/taskstate"
	"github.com/MikeSquared-Agency/scribe/internal/tokenizer"
)

// components are the stateless collaborators every pipeline stage shares.
type components struct {
	rates      *pricing.Table
	tokenizer  *tokenizer.Tiktoken
	summarizer *summarizer.Summarizer
	cipher     *sealed.Cipher
}

func buildComponents(ctx context.Context, cfg config.Config, ephemeralKey bool) (*components, error) {
	rates, err := pricing.Load(cfg.ModelRatesFile)
	if err != nil {
		return nil, err
	}

	tok, err := tokenizer.New(cfg.TokenizerEncoding)
	if err != nil {
		return nil, err
	}

	provider, err := summarizer.ParseProvider(cfg.SummaryProvider)
	if err != nil {
		return nil, err
	}
	sum, err := summarizer.New(ctx, summarizer.Config{
		Provider:     provider,
		Model:        cfg.SummaryModel,
		AnthropicKey: cfg.AnthropicAPIKey,
		OpenAIKey:    cfg.OpenAIAPIKey,
		GeminiKey:    cfg.GeminiAPIKey,
		RPS:          cfg.SummaryRPS,
	}, slog.Default())
	if err != nil {
		return nil, err
	}

	var cipher *sealed.Cipher
	switch {
	case cfg.AgeIdentity != "":
		cipher, err = sealed.NewCipher(cfg.AgeIdentity)
	case ephemeralKey:
		cipher, _, err = sealed.GenerateCipher()
		if err == nil {
			slog.Warn("SCRIBE_AGE_IDENTITY not set, records sealed with a throwaway key",
				"recipient", cipher.Recipient())
		}
	default:
		err = errors.New("SCRIBE_AGE_IDENTITY is required")
	}
	if err != nil {
		return nil, err
	}

	slog.Info("pipeline components ready",
		"summary_provider", provider.String(),
		"summary_model", sum.Model(),
		"encoding", tok.Encoding(),
	)
	return &components{rates: rates, tokenizer: tok, summarizer: sum, cipher: cipher}, nil
}

// backends are the shared services a distributed deployment talks to.
type backends struct {
	db     *store.Store
	state  *taskstate.Redis
	bus    *hermes.Client
	broker *queue.NATS
}

func connectBackends(ctx context.Context, cfg config.Config) (*backends, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	// One connection per worker slot plus headroom for the coordinator and API.
	db, err := store.New(ctx, cfg.DatabaseURL, store.WithMaxConns(int32(cfg.WorkerConcurrency*2+4)))
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	slog.Info("database connected")

	state, err := taskstate.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	slog.Info("redis connected")

	bus, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
	if err != nil {
		state.Close()
		db.Close()
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	slog.Info("NATS connected", "url", cfg.NatsURL)

	broker, err := newBroker(ctx, cfg, bus)
	if err != nil {
		bus.Close()
		state.Close()
		db.Close()
		return nil, err
	}

	return &backends{
		db:     db,
		state:  state,
		bus:    bus,
		broker: broker,
	}, nil
}

func newBroker(ctx context.Context, cfg config.Config, bus *hermes.Client) (*queue.NATS, error) {
	js, err := bus.JetStream()
	if err != nil {
		return nil, err
	}
	broker, err := queue.NewNATS(ctx, js, queue.NATSConfig{
		AckWait:      cfg.TaskAckWait,
		MaxDeliver:   cfg.TaskMaxDeliver,
		DrainTimeout: cfg.DrainTimeout,
	}, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("task stream: %w", err)
	}
	slog.Info("task stream ready", "stream", queue.StreamName)
	return broker, nil
}

func (b *backends) Close() {
	b.broker.Close()
	b.bus.Close()
	b.state.Close()
	b.db.Close()
}

func (b *backends) runtime() *queue.Runtime {
	return queue.NewRuntime(b.broker, b.state, b.state, slog.Default())
}

func newNotifier(cfg config.Config) importer.Notifier {
	if cfg.NotifyURL == "" {
		return notify.NewLog(slog.Default())
	}
	return notify.NewClient(cfg.NotifyURL, cfg.NotifyToken, slog.Default())
}

// registerWorkers installs every pipeline stage on rt.
func registerWorkers(rt *queue.Runtime, repo importer.Repository, status importer.StatusReader, c *components, completion *importer.Completion) {
	logger := slog.Default()
	importer.Register(rt,
		importer.NewTransformer(repo, c.summarizer, c.tokenizer, c.cipher, c.rates, logger),
		importer.NewAggregator(repo, status, logger),
		completion,
	)
}

func coordinatorConfig(cfg config.Config) importer.CoordinatorConfig {
	return importer.CoordinatorConfig{
		BatchSize:      cfg.ImportBatchSize,
		SumMemoryLimit: cfg.SumMemoryLimit,
		SummaryModel:   cfg.SummaryModel,
	}
}
