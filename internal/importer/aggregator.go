package importer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MikeSquared-Agency/scribe/internal/queue"
	"github.com/MikeSquared-Agency/scribe/internal/store"
	"github.com/MikeSquared-Agency/scribe/internal/taskstate"
)

// Aggregator reconciles one batch once all its transforms are terminal.
type Aggregator struct {
	repo   Repository
	status StatusReader
	logger *slog.Logger
}

func NewAggregator(repo Repository, status StatusReader, logger *slog.Logger) *Aggregator {
	return &Aggregator{repo: repo, status: status, logger: logger}
}

func (a *Aggregator) Handle(ctx context.Context, task queue.Task) ([]byte, error) {
	p, err := decodeTask[AggregatePayload](task)
	if err != nil {
		return nil, err
	}
	res, err := a.Aggregate(ctx, p)
	if err != nil {
		return nil, err
	}
	return queue.EncodePayload(res)
}

// Aggregate reads fresh task statuses and applies the batch. A chat whose
// task did not succeed, or whose result cannot be read, is removed.
func (a *Aggregator) Aggregate(ctx context.Context, p AggregatePayload) (store.BatchResult, error) {
	log := a.logger.With("job_id", p.JobID, "batch", p.Batch)

	ids := make([]string, len(p.Chats))
	for i, c := range p.Chats {
		ids[i] = c.TaskID
	}
	records, err := a.status.GetMany(ctx, ids)
	if err != nil {
		return store.BatchResult{}, fmt.Errorf("read task statuses: %w", err)
	}

	outcomes := make([]store.ChatOutcome, 0, len(p.Chats))
	for _, c := range p.Chats {
		o := store.ChatOutcome{ChatID: c.ChatID}
		rec, ok := records[c.TaskID]
		switch {
		case !ok:
			log.Warn("task status missing", "chat_id", c.ChatID, "task_id", c.TaskID)
		case rec.Status != taskstate.StatusSuccess:
			log.Info("conversation failed", "chat_id", c.ChatID, "task_id", c.TaskID, "status", string(rec.Status), "reason", rec.Error)
		default:
			var out TransformOutput
			if err := queue.DecodePayload(rec.Result, &out); err != nil {
				log.Error("unreadable transform result", "chat_id", c.ChatID, "error", err)
				break
			}
			o.Succeeded = true
			o.Tokens = store.TokenTotals{
				Imported:          int64(out.ImportedTokens),
				Prompt:            int64(out.PromptTokens),
				Completion:        int64(out.CompletionTokens),
				Summary:           int64(out.SummaryTokens),
				SummaryPrompt:     int64(out.SummaryPrompt),
				SummaryCompletion: int64(out.SummaryCompletion),
			}
		}
		outcomes = append(outcomes, o)
	}

	res, err := a.repo.ApplyBatch(ctx, p.JobID, outcomes)
	if err != nil {
		return store.BatchResult{}, fmt.Errorf("apply batch %d: %w", p.Batch, err)
	}

	log.Info("batch reconciled",
		"committed", res.Committed,
		"removed", res.Removed,
		"already_applied", res.AlreadyApplied,
	)
	return res, nil
}
