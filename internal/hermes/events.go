package hermes

import "time"

// SubjectImportCompleted is published once per import job after its
// completion summary has been sent.
const SubjectImportCompleted = "swarm.scribe.import.completed"

type ImportCompleted struct {
	JobID              string    `json:"job_id"`
	UserID             string    `json:"user_id"`
	BrainID            string    `json:"brain_id"`
	Source             string    `json:"source"`
	TotalConversations int       `json:"total_conversations"`
	SuccessCount       int       `json:"success_count"`
	ExistingCount      int       `json:"existing_count"`
	SkippedCount       int       `json:"skipped_count"`
	ImportedTokens     int64     `json:"imported_tokens"`
	SummaryTokens      int64     `json:"summary_tokens"`
	TotalSummaryCost   string    `json:"total_summary_cost"`
	CompletedAt        time.Time `json:"completed_at"`
}
