package importer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/scribe/internal/hermes"
	"github.com/MikeSquared-Agency/scribe/internal/notify"
	"github.com/MikeSquared-Agency/scribe/internal/pricing"
	"github.com/MikeSquared-Agency/scribe/internal/queue"
	"github.com/MikeSquared-Agency/scribe/internal/store"
)

const notificationKind = "import_completed"

// Completion finalizes a job once every batch has been reconciled.
type Completion struct {
	repo     Repository
	notifier Notifier
	rates    RateTable
	events   EventPublisher
	logger   *slog.Logger
}

// NewCompletion builds the notifier. events may be nil.
func NewCompletion(repo Repository, notifier Notifier, rates RateTable, events EventPublisher, logger *slog.Logger) *Completion {
	return &Completion{
		repo:     repo,
		notifier: notifier,
		rates:    rates,
		events:   events,
		logger:   logger,
	}
}

func (c *Completion) Handle(ctx context.Context, task queue.Task) ([]byte, error) {
	p, err := decodeTask[NotifyPayload](task)
	if err != nil {
		return nil, err
	}
	if _, err := c.Complete(ctx, p.JobID); err != nil {
		return nil, err
	}
	return nil, nil
}

// Complete prices the job's summary tokens, marks it successful and notifies
// the user. Only the call that transitions the job sends anything; it reports
// whether this call did.
func (c *Completion) Complete(ctx context.Context, jobID uuid.UUID) (bool, error) {
	log := c.logger.With("job_id", jobID)

	job, err := c.repo.GetJob(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("load job: %w", err)
	}
	if job.Status == store.JobSuccess {
		log.Info("job already finalized")
		return false, nil
	}

	cost := c.rates.Rate(job.SummaryModel).Cost(int(job.Tokens.SummaryPrompt), int(job.Tokens.SummaryCompletion))
	job, finalized, err := c.repo.FinalizeJob(ctx, jobID, pricing.Format(cost))
	if err != nil {
		return false, fmt.Errorf("finalize job: %w", err)
	}
	if !finalized {
		log.Info("job finalized concurrently")
		return false, nil
	}

	log.Info("import completed",
		"total", job.TotalConversations,
		"success", job.SuccessCount,
		"existing", job.ExistingHashCount,
		"skipped", job.SkippedCount,
		"summary_cost", job.TotalSummaryCost,
	)

	// The job is final from here on, so delivery problems are logged only.
	c.deliver(ctx, job, log)
	return true, nil
}

func (c *Completion) deliver(ctx context.Context, job store.ImportJob, log *slog.Logger) {
	title := "Your import is complete"
	body := fmt.Sprintf("%d of %d conversations imported.", job.SuccessCount, job.TotalConversations)

	tokens, err := c.repo.DeviceTokens(ctx, job.UserID)
	if err != nil {
		log.Warn("load device tokens", "error", err)
	}
	if len(tokens) > 0 {
		err = c.notifier.SendPush(ctx, notify.Push{
			Tokens: tokens,
			Title:  title,
			Body:   body,
			Data:   map[string]string{"jobId": job.ID.String(), "brainId": job.BrainID},
		})
		if err != nil {
			log.Warn("send push", "error", err)
		}
	} else {
		err = c.repo.CreateNotification(ctx, store.Notification{
			ID:        uuid.New(),
			UserID:    job.UserID,
			Kind:      notificationKind,
			Title:     title,
			Body:      body,
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			log.Warn("create notification", "error", err)
		}
	}

	if job.UserEmail != "" {
		if err := c.notifier.SendEmail(ctx, summaryEmail(job)); err != nil {
			log.Warn("send summary email", "error", err)
		}
	}

	if c.events != nil {
		err := c.events.Publish(hermes.SubjectImportCompleted, hermes.ImportCompleted{
			JobID:              job.ID.String(),
			UserID:             job.UserID,
			BrainID:            job.BrainID,
			Source:             job.Source,
			TotalConversations: job.TotalConversations,
			SuccessCount:       job.SuccessCount,
			ExistingCount:      job.ExistingHashCount,
			SkippedCount:       job.SkippedCount,
			ImportedTokens:     job.Tokens.Imported,
			SummaryTokens:      job.Tokens.Summary,
			TotalSummaryCost:   job.TotalSummaryCost,
			CompletedAt:        completedAt(job),
		})
		if err != nil {
			log.Warn("publish completion event", "error", err)
		}
	}
}

func summaryEmail(job store.ImportJob) notify.Email {
	failed := job.TotalConversations - job.ExistingHashCount - job.SuccessCount
	if failed < 0 {
		failed = 0
	}
	text := fmt.Sprintf(`Your %s chat history import has finished.

Conversations in export: %d
Imported now:            %d
Already imported:        %d
Failed:                  %d
Skipped (empty):         %d
`, job.Source, job.TotalConversations, job.SuccessCount, job.ExistingHashCount, failed, job.SkippedCount)

	return notify.Email{
		To:      job.UserEmail,
		Subject: fmt.Sprintf("Import complete: %d of %d conversations", job.SuccessCount, job.TotalConversations),
		Text:    text,
	}
}

func completedAt(job store.ImportJob) time.Time {
	if job.CompletedAt != nil {
		return *job.CompletedAt
	}
	return time.Now().UTC()
}
