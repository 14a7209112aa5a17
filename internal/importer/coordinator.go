package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/scribe/internal/export"
	"github.com/MikeSquared-Agency/scribe/internal/queue"
	"github.com/MikeSquared-Agency/scribe/internal/store"
)

var (
	// ErrInvalidExport wraps export parse failures.
	ErrInvalidExport = errors.New("invalid export")
	// ErrNoConversations is returned when an export parses to nothing at all.
	ErrNoConversations = errors.New("export contains no conversations")
)

// Request is one user's import of one export file.
type Request struct {
	Source export.Source
	Data   []byte
	User   UserMeta
	// APIKey, when set, is used for this job's summarization calls.
	APIKey string
	// Model is the model recorded on and priced for imported messages.
	Model string
}

type Result struct {
	JobID     uuid.UUID `json:"jobId"`
	Total     int       `json:"total"`
	Existing  int       `json:"existing"`
	Skipped   int       `json:"skipped"`
	Scheduled int       `json:"scheduled"`
	Batches   int       `json:"batches"`
}

type CoordinatorConfig struct {
	BatchSize      int
	SumMemoryLimit int
	// SummaryModel prices the job's summary tokens.
	SummaryModel string
}

// Coordinator dedups an export, records the job and dispatches its work.
type Coordinator struct {
	repo       Repository
	dispatch   Dispatcher
	completion *Completion
	cfg        CoordinatorConfig
	logger     *slog.Logger
}

func NewCoordinator(repo Repository, dispatch Dispatcher, completion *Completion, cfg CoordinatorConfig, logger *slog.Logger) *Coordinator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.SumMemoryLimit <= 0 {
		cfg.SumMemoryLimit = DefaultSumMemoryLimit
	}
	return &Coordinator{
		repo:       repo,
		dispatch:   dispatch,
		completion: completion,
		cfg:        cfg,
		logger:     logger,
	}
}

type planned struct {
	chat  store.Chat
	task  string
	conv  export.Conversation
	entry store.ConversationEntry
}

// Import runs synchronously up to dispatch. Every error it returns happened
// before any task was published, apart from a dispatch failure midway.
func (c *Coordinator) Import(ctx context.Context, req Request) (Result, error) {
	convs, err := export.Parse(req.Source, req.Data)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrInvalidExport, err)
	}
	if len(convs) == 0 {
		return Result{}, ErrNoConversations
	}

	existing, err := c.repo.ExistingHashes(ctx, req.User.BrainID)
	if err != nil {
		return Result{}, fmt.Errorf("load existing hashes: %w", err)
	}
	dd := Dedup(convs, existing)

	jobID := uuid.New()
	now := time.Now().UTC()
	plan := make([]planned, len(dd.Importable))
	chats := make([]store.Chat, len(dd.Importable))
	data := make(map[string]store.ConversationEntry, len(dd.Importable))
	for i, cand := range dd.Importable {
		chatID := uuid.New()
		created := cand.Conversation.CreatedAt
		if created.IsZero() {
			created = now
		}
		p := planned{
			chat: store.Chat{
				ID:                   chatID,
				JobID:                jobID,
				BrainID:              req.User.BrainID,
				UserID:               req.User.UserID,
				Title:                cand.Conversation.Title,
				Source:               req.Source.String(),
				SourceConversationID: cand.Conversation.ID,
				IsNew:                true,
				CreatedAt:            created,
			},
			task: uuid.NewString(),
			conv: cand.Conversation,
		}
		p.entry = store.ConversationEntry{
			HashID:         cand.Hash,
			ConversationID: cand.Conversation.ID,
			LastMsgID:      cand.Conversation.LastMessageID,
			Title:          cand.Conversation.Title,
			TaskID:         p.task,
			TaskStatus:     store.TaskPending,
		}
		plan[i] = p
		chats[i] = p.chat
		data[chatID.String()] = p.entry
	}

	job := store.ImportJob{
		ID:                 jobID,
		Source:             req.Source.String(),
		CompanyID:          req.User.CompanyID,
		BrainID:            req.User.BrainID,
		UserID:             req.User.UserID,
		UserEmail:          req.User.Email,
		Model:              req.Model,
		SummaryModel:       c.cfg.SummaryModel,
		TotalConversations: dd.Existing + len(dd.Importable),
		ExistingHashCount:  dd.Existing,
		SkippedCount:       dd.Empty,
		Status:             store.JobPending,
		ConversationData:   data,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := c.repo.CreateJob(ctx, job, chats); err != nil {
		return Result{}, fmt.Errorf("create job: %w", err)
	}

	res := Result{
		JobID:     jobID,
		Total:     job.TotalConversations,
		Existing:  dd.Existing,
		Skipped:   dd.Empty,
		Scheduled: len(plan),
	}
	log := c.logger.With("job_id", jobID, "brain_id", req.User.BrainID)

	// The job is recorded: from here on it must reach completion even if
	// the caller goes away.
	ctx = context.WithoutCancel(ctx)

	if len(plan) == 0 {
		log.Info("nothing to import", "existing", dd.Existing, "skipped", dd.Empty)
		if _, err := c.completion.Complete(ctx, jobID); err != nil {
			return res, fmt.Errorf("complete empty job: %w", err)
		}
		return res, nil
	}

	d, err := c.dispatchBatches(ctx, jobID, req, plan)
	res.Scheduled = d.scheduled
	res.Batches = d.batches
	if err != nil {
		log.Error("import dispatch incomplete",
			"scheduled", d.scheduled,
			"withdrawn", len(plan)-d.scheduled,
			"batches", d.batches,
			"error", err,
		)
		return res, err
	}

	log.Info("import dispatched",
		"total", res.Total,
		"scheduled", res.Scheduled,
		"existing", res.Existing,
		"skipped", res.Skipped,
		"batches", res.Batches,
	)
	return res, nil
}

type dispatched struct {
	batches   int
	scheduled int
}

// dispatchBatches publishes one chord per batch and then the barrier over
// all batch aggregators. The final barrier is registered last; aggregators
// that finish before that are still counted.
//
// When a batch cannot be dispatched, it and every later batch are withdrawn
// from the job so their conversations stay importable, and the final barrier
// covers only the batches already running.
func (c *Coordinator) dispatchBatches(ctx context.Context, jobID uuid.UUID, req Request, plan []planned) (dispatched, error) {
	final := finalBarrier(jobID)
	var d dispatched
	var dispatchErr error
	for start := 0; start < len(plan); start += c.cfg.BatchSize {
		end := min(start+c.cfg.BatchSize, len(plan))
		if err := c.dispatchBatch(ctx, jobID, req, d.batches, plan[start:end], final); err != nil {
			dispatchErr = fmt.Errorf("dispatch batch %d: %w", d.batches, err)
			break
		}
		d.batches++
		d.scheduled = end
	}

	if dispatchErr != nil {
		if err := c.withdraw(ctx, jobID, plan[d.scheduled:]); err != nil {
			return d, errors.Join(dispatchErr, err)
		}
		if d.batches == 0 {
			if _, err := c.completion.Complete(ctx, jobID); err != nil {
				return d, errors.Join(dispatchErr, fmt.Errorf("complete withdrawn job: %w", err))
			}
			return d, dispatchErr
		}
	}

	notifyTask, err := newTask(queue.KindNotify, NotifyPayload{JobID: jobID})
	if err != nil {
		return d, errors.Join(dispatchErr, fmt.Errorf("build notify task: %w", err))
	}
	if err := c.dispatch.Await(ctx, final, d.batches, notifyTask); err != nil {
		return d, errors.Join(dispatchErr, fmt.Errorf("register completion barrier: %w", err))
	}
	return d, dispatchErr
}

func (c *Coordinator) dispatchBatch(ctx context.Context, jobID uuid.UUID, req Request, n int, batch []planned, final string) error {
	header := make([]queue.Task, 0, len(batch))
	agg := AggregatePayload{JobID: jobID, Batch: n, Chats: make([]PlannedChat, 0, len(batch))}
	for _, p := range batch {
		t, err := newTask(queue.KindTransform, TransformPayload{
			JobID:        jobID,
			ChatID:       p.chat.ID,
			Config:       ImportConfig{SumMemoryLimit: c.cfg.SumMemoryLimit},
			Conversation: p.conv,
			User:         req.User,
			APIKey:       req.APIKey,
			Model:        req.Model,
		})
		if err != nil {
			return fmt.Errorf("build transform task: %w", err)
		}
		t.ID = p.task
		header = append(header, t)
		agg.Chats = append(agg.Chats, PlannedChat{ChatID: p.chat.ID, TaskID: p.task})
	}

	callback, err := newTask(queue.KindAggregate, agg)
	if err != nil {
		return fmt.Errorf("build aggregate task: %w", err)
	}
	callback.Barrier = final

	return c.dispatch.Chord(ctx, batchBarrier(jobID, n), header, callback)
}

// withdraw removes undispatched chats and their entries from the job, as a
// failed aggregation would.
func (c *Coordinator) withdraw(ctx context.Context, jobID uuid.UUID, plan []planned) error {
	if len(plan) == 0 {
		return nil
	}
	outcomes := make([]store.ChatOutcome, len(plan))
	for i, p := range plan {
		outcomes[i] = store.ChatOutcome{ChatID: p.chat.ID}
	}
	res, err := c.repo.ApplyBatch(ctx, jobID, outcomes)
	if err != nil {
		return fmt.Errorf("withdraw undispatched chats: %w", err)
	}
	c.logger.Warn("withdrew undispatched chats", "job_id", jobID, "removed", res.Removed)
	return nil
}
