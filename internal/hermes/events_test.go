package hermes

import (
	"encoding/json"
	"testing"
	"time"
)

func TestImportCompletedParsing(t *testing.T) {
	raw := `{
		"job_id": "job-001",
		"user_id": "user-1",
		"brain_id": "brain-1",
		"source": "openai",
		"total_conversations": 12,
		"success_count": 10,
		"existing_count": 3,
		"skipped_count": 1,
		"imported_tokens": 48000,
		"summary_tokens": 2100,
		"total_summary_cost": "$0.0126",
		"completed_at": "2026-03-01T12:00:00Z"
	}`

	var ev ImportCompleted
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		t.Fatalf("failed to parse ImportCompleted: %v", err)
	}

	if ev.JobID != "job-001" {
		t.Errorf("expected job_id 'job-001', got '%s'", ev.JobID)
	}
	if ev.SuccessCount != 10 || ev.TotalConversations != 12 {
		t.Errorf("expected 10/12, got %d/%d", ev.SuccessCount, ev.TotalConversations)
	}
	if ev.ImportedTokens != 48000 {
		t.Errorf("expected imported_tokens 48000, got %d", ev.ImportedTokens)
	}
	if ev.TotalSummaryCost != "$0.0126" {
		t.Errorf("expected cost '$0.0126', got '%s'", ev.TotalSummaryCost)
	}
	if !ev.CompletedAt.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected completed_at %v", ev.CompletedAt)
	}
}

func TestImportCompletedFieldNames(t *testing.T) {
	data, err := json.Marshal(ImportCompleted{JobID: "j", SuccessCount: 1})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var m map[string]any
	json.Unmarshal(data, &m)
	for _, key := range []string{"job_id", "success_count", "total_conversations", "total_summary_cost", "completed_at"} {
		if _, ok := m[key]; !ok {
			t.Errorf("missing field %q in %s", key, data)
		}
	}
}
