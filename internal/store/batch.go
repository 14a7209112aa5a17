package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ApplyBatch reconciles one batch of conversations in a single transaction.
// Succeeded chats have their is_new flags cleared, their entry marked
// SUCCESS and their tokens added to the job. Every other chat loses its
// messages, chat rows and job entry. Chats already reconciled by an earlier
// call are left alone, so the call can be retried.
func (s *Store) ApplyBatch(ctx context.Context, jobID uuid.UUID, outcomes []ChatOutcome) (BatchResult, error) {
	var res BatchResult

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return res, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// The row lock serializes aggregators of the same job.
	var data map[string]ConversationEntry
	err = tx.QueryRow(ctx, `SELECT conversation_data FROM import_jobs WHERE id = $1 FOR UPDATE`, jobID).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return res, ErrNotFound
		}
		return res, fmt.Errorf("lock job %s: %w", jobID, err)
	}

	var (
		batch  pgx.Batch
		totals TokenTotals
	)
	removed := []string{}
	for _, o := range outcomes {
		key := o.ChatID.String()
		entry, ok := data[key]
		if !ok || entry.TaskStatus == TaskSuccess {
			res.AlreadyApplied++
			continue
		}

		if o.Succeeded {
			batch.Queue(`UPDATE chats SET is_new = false WHERE id = $1`, o.ChatID)
			batch.Queue(`UPDATE chat_members SET is_new = false WHERE chat_id = $1`, o.ChatID)
			batch.Queue(`
				UPDATE import_jobs
				SET conversation_data = jsonb_set(conversation_data, ARRAY[$2::text, 'taskStatus'], to_jsonb($3::text))
				WHERE id = $1`, jobID, key, TaskSuccess)
			totals.Add(o.Tokens)
			res.Committed++
			continue
		}

		batch.Queue(`DELETE FROM messages WHERE chat_id = $1`, o.ChatID)
		batch.Queue(`DELETE FROM chat_members WHERE chat_id = $1`, o.ChatID)
		batch.Queue(`DELETE FROM chats WHERE id = $1`, o.ChatID)
		removed = append(removed, key)
		res.Removed++
	}

	if res.Committed == 0 && res.Removed == 0 {
		return res, nil
	}

	batch.Queue(`
		UPDATE import_jobs SET
			success_count = success_count + $2,
			imported_tokens = imported_tokens + $3,
			prompt_tokens = prompt_tokens + $4,
			completion_tokens = completion_tokens + $5,
			summary_tokens = summary_tokens + $6,
			summary_prompt_tokens = summary_prompt_tokens + $7,
			summary_completion_tokens = summary_completion_tokens + $8,
			conversation_data = conversation_data - $9::text[],
			updated_at = now()
		WHERE id = $1`,
		jobID, res.Committed, totals.Imported, totals.Prompt, totals.Completion,
		totals.Summary, totals.SummaryPrompt, totals.SummaryCompletion, removed,
	)

	if err := tx.SendBatch(ctx, &batch).Close(); err != nil {
		return BatchResult{}, fmt.Errorf("apply batch for job %s: %w", jobID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return BatchResult{}, fmt.Errorf("commit: %w", err)
	}
	return res, nil
}
