package importer

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/scribe/internal/hermes"
	"github.com/MikeSquared-Agency/scribe/internal/queue"
	"github.com/MikeSquared-Agency/scribe/internal/store"
	"github.com/MikeSquared-Agency/scribe/internal/store/memstore"
)

func createJob(t *testing.T, repo *memstore.Store, mutate func(*store.ImportJob)) uuid.UUID {
	t.Helper()
	job := store.ImportJob{
		ID:                 uuid.New(),
		Source:             "anthropic",
		BrainID:            "b1",
		UserID:             "u1",
		UserEmail:          "user@example.com",
		SummaryModel:       "summary-model",
		TotalConversations: 5,
		SuccessCount:       3,
		ExistingHashCount:  1,
		Tokens:             store.TokenTotals{SummaryPrompt: 2000, SummaryCompletion: 1000, Summary: 3000},
	}
	if mutate != nil {
		mutate(&job)
	}
	require.NoError(t, repo.CreateJob(context.Background(), job, nil))
	return job.ID
}

func TestComplete_FinalizesAndNotifiesOnce(t *testing.T) {
	ctx := context.Background()
	repo := memstore.New()
	notifier := &recordingNotifier{}
	events := &recordingPublisher{}
	c := NewCompletion(repo, notifier, testRates(), events, discardLogger())
	jobID := createJob(t, repo, nil)

	done, err := c.Complete(ctx, jobID)
	require.NoError(t, err)
	assert.True(t, done)

	done, err = c.Complete(ctx, jobID)
	require.NoError(t, err)
	assert.False(t, done)

	job, err := repo.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, store.JobSuccess, job.Status)
	assert.NotNil(t, job.CompletedAt)
	assert.InDelta(t, 2000.0/1000*0.00015+1000.0/1000*0.0006, dollars(t, job.TotalSummaryCost), 1e-6)

	emails := notifier.Emails()
	require.Len(t, emails, 1)
	assert.Equal(t, "user@example.com", emails[0].To)
	assert.Contains(t, emails[0].Subject, "3 of 5")
	assert.Contains(t, emails[0].Text, "Failed:                  1")

	notes, err := repo.ListNotifications(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, notes, 1, "no device tokens: in-app notification")
	assert.Empty(t, notifier.Pushes())

	require.Equal(t, 1, events.Len())
	ev, ok := events.events[0].(hermes.ImportCompleted)
	require.True(t, ok)
	assert.Equal(t, jobID.String(), ev.JobID)
	assert.Equal(t, 3, ev.SuccessCount)
	assert.Equal(t, job.TotalSummaryCost, ev.TotalSummaryCost)
}

func TestComplete_PushWhenDeviceRegistered(t *testing.T) {
	ctx := context.Background()
	repo := memstore.New()
	require.NoError(t, repo.AddDeviceToken(ctx, "u1", "device-1", "ios"))
	notifier := &recordingNotifier{}
	c := NewCompletion(repo, notifier, testRates(), nil, discardLogger())
	jobID := createJob(t, repo, nil)

	_, err := c.Complete(ctx, jobID)
	require.NoError(t, err)

	pushes := notifier.Pushes()
	require.Len(t, pushes, 1)
	assert.Equal(t, []string{"device-1"}, pushes[0].Tokens)
	assert.Equal(t, jobID.String(), pushes[0].Data["jobId"])

	notes, err := repo.ListNotifications(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, notes)
	assert.Len(t, notifier.Emails(), 1)
}

func TestComplete_UnknownModelUsesFallbackRate(t *testing.T) {
	ctx := context.Background()
	repo := memstore.New()
	c := NewCompletion(repo, &recordingNotifier{}, testRates(), nil, discardLogger())
	jobID := createJob(t, repo, func(j *store.ImportJob) { j.SummaryModel = "mystery" })

	_, err := c.Complete(ctx, jobID)
	require.NoError(t, err)

	job, err := repo.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.InDelta(t, 2*0.003+1*0.015, dollars(t, job.TotalSummaryCost), 1e-6)
}

func TestCompletion_Handle(t *testing.T) {
	repo := memstore.New()
	notifier := &recordingNotifier{}
	c := NewCompletion(repo, notifier, testRates(), nil, discardLogger())
	jobID := createJob(t, repo, nil)

	task, err := newTask(queue.KindNotify, NotifyPayload{JobID: jobID})
	require.NoError(t, err)
	_, err = c.Handle(context.Background(), task)
	require.NoError(t, err)
	assert.Len(t, notifier.Emails(), 1)

	task, err = newTask(queue.KindNotify, NotifyPayload{JobID: uuid.New()})
	require.NoError(t, err)
	_, err = c.Handle(context.Background(), task)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
