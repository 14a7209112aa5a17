package store

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobSuccess JobStatus = "success"
)

// Per-conversation task statuses kept in ImportJob.ConversationData.
const (
	TaskPending = "PENDING"
	TaskSuccess = "SUCCESS"
)

// ConversationEntry tracks one dispatched conversation inside its job.
type ConversationEntry struct {
	HashID         string `json:"hashIds"`
	ConversationID string `json:"conversationId"`
	LastMsgID      string `json:"lastMsgId"`
	Title          string `json:"title,omitempty"`
	TaskID         string `json:"taskId"`
	TaskStatus     string `json:"taskStatus"`
}

// TokenTotals are the token counters accumulated on a job.
type TokenTotals struct {
	Imported          int64 `json:"importedTokens"`
	Prompt            int64 `json:"promptTokens"`
	Completion        int64 `json:"completionTokens"`
	Summary           int64 `json:"summaryTokens"`
	SummaryPrompt     int64 `json:"summaryPrompt"`
	SummaryCompletion int64 `json:"summaryCompletion"`
}

func (t *TokenTotals) Add(o TokenTotals) {
	t.Imported += o.Imported
	t.Prompt += o.Prompt
	t.Completion += o.Completion
	t.Summary += o.Summary
	t.SummaryPrompt += o.SummaryPrompt
	t.SummaryCompletion += o.SummaryCompletion
}

type ImportJob struct {
	ID                 uuid.UUID                    `json:"id"`
	Source             string                       `json:"source"`
	CompanyID          string                       `json:"companyId"`
	BrainID            string                       `json:"brainId"`
	UserID             string                       `json:"userId"`
	UserEmail          string                       `json:"userEmail"`
	Model              string                       `json:"model"`
	SummaryModel       string                       `json:"summaryModel"`
	TotalConversations int                          `json:"totalImportChat"`
	SuccessCount       int                          `json:"successImportedChat"`
	ExistingHashCount  int                          `json:"existingHashCount"`
	SkippedCount       int                          `json:"skippedCount"`
	Status             JobStatus                    `json:"status"`
	Tokens             TokenTotals                  `json:"tokens"`
	TotalSummaryCost   string                       `json:"totalSummaryCost"`
	ConversationData   map[string]ConversationEntry `json:"conversationData"`
	CreatedAt          time.Time                    `json:"createdAt"`
	UpdatedAt          time.Time                    `json:"updatedAt"`
	CompletedAt        *time.Time                   `json:"completedAt,omitempty"`
}

// Chat is a native conversation created for one imported conversation.
// IsNew stays true until its batch is reconciled.
type Chat struct {
	ID                   uuid.UUID `json:"id"`
	JobID                uuid.UUID `json:"jobId"`
	BrainID              string    `json:"brainId"`
	UserID               string    `json:"userId"`
	Title                string    `json:"title"`
	Source               string    `json:"source"`
	SourceConversationID string    `json:"sourceConversationId"`
	IsNew                bool      `json:"isNew"`
	CreatedAt            time.Time `json:"createdAt"`
}

type ChatMember struct {
	ChatID uuid.UUID `json:"chatId"`
	UserID string    `json:"userId"`
	IsNew  bool      `json:"isNew"`
}

type SummaryUsage struct {
	PromptT    int    `json:"promptT"`
	Completion int    `json:"completion"`
	TotalUsed  int    `json:"totalUsed"`
	TotalCost  string `json:"totalCost"`
}

type MessageTokens struct {
	ImageT     int          `json:"imageT"`
	PromptT    int          `json:"promptT"`
	Completion int          `json:"completion"`
	TotalUsed  int          `json:"totalUsed"`
	TotalCost  string       `json:"totalCost"`
	Summary    SummaryUsage `json:"summary"`
}

// Message is one persisted human/assistant pair. Message, AI and System hold
// ciphertext.
type Message struct {
	ID                   uuid.UUID     `json:"id"`
	ChatID               uuid.UUID     `json:"chatId"`
	JobID                uuid.UUID     `json:"jobId"`
	CompanyID            string        `json:"companyId"`
	BrainID              string        `json:"brainId"`
	UserID               string        `json:"userId"`
	Model                string        `json:"model"`
	Seq                  int           `json:"seq"`
	Message              string        `json:"message"`
	AI                   string        `json:"ai"`
	System               string        `json:"system"`
	Tokens               MessageTokens `json:"tokens"`
	SumhistoryCheckpoint string        `json:"sumhistoryCheckpoint"`
	CreatedAt            time.Time     `json:"createdAt"`
}

// ChatOutcome is the reconciliation input for one planned chat.
type ChatOutcome struct {
	ChatID    uuid.UUID
	Succeeded bool
	Tokens    TokenTotals
}

// BatchResult reports what one ApplyBatch call changed.
type BatchResult struct {
	Committed      int
	Removed        int
	AlreadyApplied int
}

type Notification struct {
	ID        uuid.UUID `json:"id"`
	UserID    string    `json:"userId"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}
