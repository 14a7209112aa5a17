package importer

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/scribe/internal/export"
	"github.com/MikeSquared-Agency/scribe/internal/queue"
	"github.com/MikeSquared-Agency/scribe/internal/store/memstore"
)

func dollars(t *testing.T, s string) float64 {
	t.Helper()
	require.True(t, strings.HasPrefix(s, "$"), "cost %q", s)
	f, err := strconv.ParseFloat(strings.TrimPrefix(s, "$"), 64)
	require.NoError(t, err)
	return f
}

func transformPayload(c export.Conversation, limit int) TransformPayload {
	return TransformPayload{
		JobID:        uuid.New(),
		ChatID:       uuid.New(),
		Config:       ImportConfig{SumMemoryLimit: limit},
		Conversation: c,
		User:         UserMeta{UserID: "u1", CompanyID: "co1", BrainID: "b1"},
		APIKey:       "user-key",
		Model:        "chat-model",
	}
}

func TestTransform_RecordsAndCost(t *testing.T) {
	repo := memstore.New()
	sum := &fakeSummarizer{}
	tr := NewTransformer(repo, sum, wordTokenizer{}, prefixCipher{}, testRates(), discardLogger())

	p := transformPayload(conv("c1", "m", "what is go", "a programming language", "thanks", "you are welcome"), 1000)
	out, err := tr.Transform(context.Background(), "task-1", p)
	require.NoError(t, err)

	assert.Equal(t, "task-1", out.TaskID)
	assert.Equal(t, p.ChatID, out.ChatID)
	assert.Equal(t, 2, out.Records)
	assert.Equal(t, 4, out.PromptTokens)
	assert.Equal(t, 6, out.CompletionTokens)
	assert.Equal(t, 10, out.ImportedTokens)
	assert.Zero(t, out.SummaryTokens)
	assert.Zero(t, sum.Calls())

	msgs, err := repo.ListMessages(context.Background(), p.ChatID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	first := msgs[0]
	assert.Equal(t, "enc:what is go", first.Message)
	assert.Equal(t, "enc:a programming language", first.AI)
	assert.Equal(t, "enc:", first.System)
	assert.Equal(t, Checkpoint(p.ChatID.String()), first.SumhistoryCheckpoint)
	assert.Equal(t, "b1", first.BrainID)
	assert.Equal(t, "chat-model", first.Model)
	assert.Equal(t, p.JobID, first.JobID)
	assert.Equal(t, 0, first.Seq)
	assert.Equal(t, 3, first.Tokens.PromptT)
	assert.Equal(t, 3, first.Tokens.Completion)
	assert.Equal(t, 6, first.Tokens.TotalUsed)
	assert.InDelta(t, 3.0/1000*0.005+3.0/1000*0.015, dollars(t, first.Tokens.TotalCost), 1e-6)
	assert.Equal(t, epoch.Add(1e9), first.CreatedAt, "record takes the reply's timestamp")

	second := msgs[1]
	assert.Equal(t, 1, second.Seq)
	assert.InDelta(t, 1.0/1000*0.005+3.0/1000*0.015, dollars(t, second.Tokens.TotalCost), 1e-6)
}

func TestTransform_CheckpointTransition(t *testing.T) {
	repo := memstore.New()
	sum := &fakeSummarizer{}
	tr := NewTransformer(repo, sum, wordTokenizer{}, prefixCipher{}, testRates(), discardLogger())

	// 4 tokens, then 6 reaches the limit, then 3+2 stays under it.
	p := transformPayload(conv("c1", "m", "one two", "three four", "five", "six", "seven", "eight"), 6)
	out, err := tr.Transform(context.Background(), "task-1", p)
	require.NoError(t, err)
	require.Equal(t, 1, sum.Calls())
	assert.Equal(t, []string{"user-key"}, sum.keys)

	msgs, err := repo.ListMessages(context.Background(), p.ChatID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	initial := Checkpoint(p.ChatID.String())
	compressed := Checkpoint("summary number 1")
	assert.Equal(t, initial, msgs[0].SumhistoryCheckpoint)
	assert.Equal(t, compressed, msgs[1].SumhistoryCheckpoint)
	assert.Equal(t, compressed, msgs[2].SumhistoryCheckpoint, "checkpoint changes only with the summary")
	assert.Equal(t, "enc:", msgs[0].System)
	assert.Equal(t, "enc:summary number 1", msgs[1].System)

	// No provider usage: tokenizer counts of memory (10 words) and summary (3).
	assert.Equal(t, 10, msgs[1].Tokens.Summary.PromptT)
	assert.Equal(t, 3, msgs[1].Tokens.Summary.Completion)
	assert.Equal(t, 13, out.SummaryTokens)
	assert.Equal(t, 10, out.SummaryPrompt)
	assert.Equal(t, 3, out.SummaryCompletion)
	assert.InDelta(t, 10.0/1000*0.00015+3.0/1000*0.0006, dollars(t, msgs[1].Tokens.Summary.TotalCost), 1e-6)
	assert.Zero(t, msgs[2].Tokens.Summary.TotalUsed)
}

func TestTransform_ProviderUsageWins(t *testing.T) {
	sum := &fakeSummarizer{usage: true}
	tr := NewTransformer(memstore.New(), sum, wordTokenizer{}, prefixCipher{}, testRates(), discardLogger())

	out, err := tr.Transform(context.Background(), "t", transformPayload(conv("c", "m", "a b c", "d e f"), 2))
	require.NoError(t, err)
	assert.Equal(t, 100, out.SummaryPrompt)
	assert.Equal(t, 10, out.SummaryCompletion)
	assert.Equal(t, 110, out.SummaryTokens)
}

func TestTransform_NoPairsIsNotAnError(t *testing.T) {
	repo := memstore.New()
	sum := &fakeSummarizer{}
	tr := NewTransformer(repo, sum, wordTokenizer{}, prefixCipher{}, testRates(), discardLogger())

	out, err := tr.Transform(context.Background(), "t", transformPayload(conv("c", "m", "only a question"), 10))
	require.NoError(t, err)
	assert.Zero(t, out.Records)
	assert.Zero(t, out.ImportedTokens)
	assert.Zero(t, repo.MessageCount())
	assert.Zero(t, sum.Calls())
}

func TestTransform_FailuresWriteNothing(t *testing.T) {
	tests := []struct {
		name   string
		sum    *fakeSummarizer
		cipher Cipher
	}{
		{"summarizer", &fakeSummarizer{failOn: "boom"}, prefixCipher{}},
		{"cipher", &fakeSummarizer{}, failingCipher{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := memstore.New()
			tr := NewTransformer(repo, tt.sum, wordTokenizer{}, tt.cipher, testRates(), discardLogger())

			p := transformPayload(conv("c", "m", "fine", "ok", "boom now", "reply"), 4)
			_, err := tr.Transform(context.Background(), "t", p)
			require.Error(t, err)
			assert.Zero(t, repo.MessageCount())
		})
	}
}

func TestTransformer_Handle(t *testing.T) {
	tr := NewTransformer(memstore.New(), &fakeSummarizer{}, wordTokenizer{}, prefixCipher{}, testRates(), discardLogger())

	p := transformPayload(conv("c", "m", "hi", "hello"), 100)
	task, err := newTask(queue.KindTransform, p)
	require.NoError(t, err)

	result, err := tr.Handle(context.Background(), task)
	require.NoError(t, err)

	var out TransformOutput
	require.NoError(t, queue.DecodePayload(result, &out))
	assert.Equal(t, task.ID, out.TaskID)
	assert.Equal(t, p.ChatID, out.ChatID)
	assert.Equal(t, 1, out.Records)

	_, err = tr.Handle(context.Background(), queue.Task{ID: "x", Kind: queue.KindTransform, Payload: []byte{0xff}})
	assert.Error(t, err)
}
