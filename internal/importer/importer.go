// Package importer turns a chat-history export into native conversations.
// The Coordinator dedups and dispatches; per conversation a Transformer
// writes message records; per batch an Aggregator commits or removes them;
// once per job the Completion finalizes cost and notifies the user.
package importer

import (
	"context"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/scribe/internal/notify"
	"github.com/MikeSquared-Agency/scribe/internal/pricing"
	"github.com/MikeSquared-Agency/scribe/internal/queue"
	"github.com/MikeSquared-Agency/scribe/internal/store"
	"github.com/MikeSquared-Agency/scribe/internal/summarizer"
	"github.com/MikeSquared-Agency/scribe/internal/taskstate"
)

// Repository is the persistence the pipeline needs.
type Repository interface {
	CreateJob(ctx context.Context, job store.ImportJob, chats []store.Chat) error
	GetJob(ctx context.Context, id uuid.UUID) (store.ImportJob, error)
	ExistingHashes(ctx context.Context, brainID string) (map[string]struct{}, error)
	InsertMessages(ctx context.Context, msgs []store.Message) error
	ApplyBatch(ctx context.Context, jobID uuid.UUID, outcomes []store.ChatOutcome) (store.BatchResult, error)
	FinalizeJob(ctx context.Context, id uuid.UUID, totalSummaryCost string) (store.ImportJob, bool, error)
	DeviceTokens(ctx context.Context, userID string) ([]string, error)
	CreateNotification(ctx context.Context, n store.Notification) error
}

type Summarizer interface {
	Summarize(ctx context.Context, apiKey, memory string) (summarizer.Summary, error)
	Model() string
}

type Tokenizer interface {
	Encode(text string) []int
}

type Cipher interface {
	Encrypt(plaintext string) (string, error)
}

type Notifier interface {
	SendEmail(ctx context.Context, email notify.Email) error
	SendPush(ctx context.Context, push notify.Push) error
}

type RateTable interface {
	Rate(model string) pricing.Rate
}

// EventPublisher is satisfied by the hermes client.
type EventPublisher interface {
	Publish(subject string, data any) error
}

// Dispatcher is satisfied by queue.Runtime.
type Dispatcher interface {
	Chord(ctx context.Context, barrierID string, header []queue.Task, callback queue.Task) error
	Await(ctx context.Context, barrierID string, expected int, callback queue.Task) error
}

type StatusReader interface {
	GetMany(ctx context.Context, taskIDs []string) (map[string]taskstate.Record, error)
}

const (
	DefaultBatchSize      = 5
	DefaultSumMemoryLimit = 2000
)

// Register installs the pipeline handlers on a worker runtime.
func Register(rt *queue.Runtime, t *Transformer, a *Aggregator, c *Completion) {
	rt.Handle(queue.KindTransform, t.Handle)
	rt.Handle(queue.KindAggregate, a.Handle)
	rt.Handle(queue.KindNotify, c.Handle)
}
