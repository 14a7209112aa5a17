package importer

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/scribe/internal/export"
	"github.com/MikeSquared-Agency/scribe/internal/queue"
)

type ImportConfig struct {
	SumMemoryLimit int `cbor:"sum_memory_limit"`
}

type UserMeta struct {
	UserID    string `cbor:"user_id" json:"userId"`
	Email     string `cbor:"email" json:"email"`
	CompanyID string `cbor:"company_id" json:"companyId"`
	BrainID   string `cbor:"brain_id" json:"brainId"`
}

type TransformPayload struct {
	JobID        uuid.UUID           `cbor:"job_id"`
	ChatID       uuid.UUID           `cbor:"chat_id"`
	Config       ImportConfig        `cbor:"config"`
	Conversation export.Conversation `cbor:"conversation"`
	User         UserMeta            `cbor:"user"`
	APIKey       string              `cbor:"api_key,omitempty"`
	Model        string              `cbor:"model"`
}

// TransformOutput is the result a Transformer stores with its task status.
type TransformOutput struct {
	TaskID            string    `cbor:"task_id"`
	ChatID            uuid.UUID `cbor:"chat_id"`
	Records           int       `cbor:"records"`
	ImportedTokens    int       `cbor:"imported_tokens"`
	PromptTokens      int       `cbor:"prompt_tokens"`
	CompletionTokens  int       `cbor:"completion_tokens"`
	SummaryTokens     int       `cbor:"summary_tokens"`
	SummaryPrompt     int       `cbor:"summary_prompt"`
	SummaryCompletion int       `cbor:"summary_completion"`
}

// PlannedChat joins a dispatched task back to its chat.
type PlannedChat struct {
	ChatID uuid.UUID `cbor:"chat_id"`
	TaskID string    `cbor:"task_id"`
}

type AggregatePayload struct {
	JobID uuid.UUID     `cbor:"job_id"`
	Batch int           `cbor:"batch"`
	Chats []PlannedChat `cbor:"chats"`
}

type NotifyPayload struct {
	JobID uuid.UUID `cbor:"job_id"`
}

func batchBarrier(jobID uuid.UUID, batch int) string {
	return fmt.Sprintf("job:%s:batch:%d", jobID, batch)
}

func finalBarrier(jobID uuid.UUID) string {
	return fmt.Sprintf("job:%s:final", jobID)
}

func newTask[T any](kind queue.Kind, payload T) (queue.Task, error) {
	data, err := queue.EncodePayload(payload)
	if err != nil {
		return queue.Task{}, err
	}
	return queue.NewTask(kind, data), nil
}

func decodeTask[T any](t queue.Task) (T, error) {
	var p T
	if err := queue.DecodePayload(t.Payload, &p); err != nil {
		return p, fmt.Errorf("%s task %s: %w", t.Kind, t.ID, err)
	}
	return p, nil
}
