package importer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/scribe/internal/pricing"
	"github.com/MikeSquared-Agency/scribe/internal/queue"
	"github.com/MikeSquared-Agency/scribe/internal/store"
)

// Transformer converts one conversation into message records.
type Transformer struct {
	repo       Repository
	summarizer Summarizer
	tokenizer  Tokenizer
	cipher     Cipher
	rates      RateTable
	logger     *slog.Logger
}

func NewTransformer(repo Repository, sum Summarizer, tok Tokenizer, cipher Cipher, rates RateTable, logger *slog.Logger) *Transformer {
	return &Transformer{
		repo:       repo,
		summarizer: sum,
		tokenizer:  tok,
		cipher:     cipher,
		rates:      rates,
		logger:     logger,
	}
}

func (t *Transformer) Handle(ctx context.Context, task queue.Task) ([]byte, error) {
	p, err := decodeTask[TransformPayload](task)
	if err != nil {
		return nil, err
	}
	out, err := t.Transform(ctx, task.ID, p)
	if err != nil {
		return nil, err
	}
	return queue.EncodePayload(out)
}

// Transform pairs the conversation's turns, maintains its rolling summary and
// bulk-inserts one record per pair. Nothing is written on error.
func (t *Transformer) Transform(ctx context.Context, taskID string, p TransformPayload) (TransformOutput, error) {
	out := TransformOutput{TaskID: taskID, ChatID: p.ChatID}
	log := t.logger.With("job_id", p.JobID, "chat_id", p.ChatID, "task_id", taskID)

	pairs := PairTurns(p.Conversation.ValidTurns())
	if len(pairs) == 0 {
		log.Info("conversation has no pairs")
		return out, nil
	}

	rate := t.rates.Rate(p.Model)
	summaryRate := t.rates.Rate(t.summarizer.Model())
	state := NewRollingState(p.ChatID.String(), p.Config.SumMemoryLimit)
	msgs := make([]store.Message, 0, len(pairs))

	for i, pair := range pairs {
		promptT := len(t.tokenizer.Encode(pair.Human))
		completionT := len(t.tokenizer.Encode(pair.Assistant))
		out.PromptTokens += promptT
		out.CompletionTokens += completionT
		out.ImportedTokens += promptT + completionT

		var usage store.SummaryUsage
		if state.Append(pair.Transcript(), promptT+completionT) {
			memory := state.Memory()
			sum, err := t.summarizer.Summarize(ctx, p.APIKey, memory)
			if err != nil {
				return TransformOutput{}, fmt.Errorf("compress memory at pair %d: %w", i, err)
			}
			summaryTokens := len(t.tokenizer.Encode(sum.Text))
			state.Compress(sum.Text, summaryTokens)

			prompt, completion := sum.PromptTokens, sum.CompletionTokens
			if prompt == 0 && completion == 0 {
				prompt, completion = len(t.tokenizer.Encode(memory)), summaryTokens
			}
			usage = store.SummaryUsage{
				PromptT:    prompt,
				Completion: completion,
				TotalUsed:  prompt + completion,
				TotalCost:  pricing.Format(summaryRate.Cost(prompt, completion)),
			}
			out.SummaryPrompt += prompt
			out.SummaryCompletion += completion
			out.SummaryTokens += prompt + completion

			log.Debug("memory compressed", "pair", i, "running_tokens", state.RunningTokens())
		}

		msg, err := t.record(p, i, pair, state, rate, promptT, completionT, usage)
		if err != nil {
			return TransformOutput{}, err
		}
		msgs = append(msgs, msg)
	}

	if err := t.repo.InsertMessages(ctx, msgs); err != nil {
		return TransformOutput{}, fmt.Errorf("persist records: %w", err)
	}
	out.Records = len(msgs)

	log.Info("conversation transformed",
		"records", out.Records,
		"imported_tokens", out.ImportedTokens,
		"summary_tokens", out.SummaryTokens,
	)
	return out, nil
}

func (t *Transformer) record(p TransformPayload, seq int, pair Pair, state *RollingState, rate pricing.Rate, promptT, completionT int, usage store.SummaryUsage) (store.Message, error) {
	message, err := t.cipher.Encrypt(pair.Human)
	if err != nil {
		return store.Message{}, fmt.Errorf("encrypt message %d: %w", seq, err)
	}
	ai, err := t.cipher.Encrypt(pair.Assistant)
	if err != nil {
		return store.Message{}, fmt.Errorf("encrypt reply %d: %w", seq, err)
	}
	system, err := t.cipher.Encrypt(state.Summary())
	if err != nil {
		return store.Message{}, fmt.Errorf("encrypt summary %d: %w", seq, err)
	}

	created := pair.Timestamp
	if created.IsZero() {
		created = time.Now().UTC()
	}

	return store.Message{
		ID:        uuid.New(),
		ChatID:    p.ChatID,
		JobID:     p.JobID,
		CompanyID: p.User.CompanyID,
		BrainID:   p.User.BrainID,
		UserID:    p.User.UserID,
		Model:     p.Model,
		Seq:       seq,
		Message:   message,
		AI:        ai,
		System:    system,
		Tokens: store.MessageTokens{
			PromptT:    promptT,
			Completion: completionT,
			TotalUsed:  promptT + completionT,
			TotalCost:  pricing.Format(rate.Cost(promptT, completionT)),
			Summary:    usage,
		},
		SumhistoryCheckpoint: state.Checkpoint(),
		CreatedAt:            created,
	}, nil
}
