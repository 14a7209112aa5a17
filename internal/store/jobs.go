package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const jobColumns = `id, source, company_id, brain_id, user_id, user_email, model, summary_model,
	total_conversations, success_count, existing_hash_count, skipped_count, status,
	imported_tokens, prompt_tokens, completion_tokens, summary_tokens,
	summary_prompt_tokens, summary_completion_tokens, total_summary_cost,
	conversation_data, created_at, updated_at, completed_at`

func scanJob(row pgx.Row) (ImportJob, error) {
	var j ImportJob
	var status string
	err := row.Scan(
		&j.ID, &j.Source, &j.CompanyID, &j.BrainID, &j.UserID, &j.UserEmail, &j.Model, &j.SummaryModel,
		&j.TotalConversations, &j.SuccessCount, &j.ExistingHashCount, &j.SkippedCount, &status,
		&j.Tokens.Imported, &j.Tokens.Prompt, &j.Tokens.Completion, &j.Tokens.Summary,
		&j.Tokens.SummaryPrompt, &j.Tokens.SummaryCompletion, &j.TotalSummaryCost,
		&j.ConversationData, &j.CreatedAt, &j.UpdatedAt, &j.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ImportJob{}, ErrNotFound
		}
		return ImportJob{}, err
	}
	j.Status = JobStatus(status)
	if j.ConversationData == nil {
		j.ConversationData = map[string]ConversationEntry{}
	}
	return j, nil
}

// CreateJob inserts the job with its planned conversation entries together
// with a chat and chat member row per entry, all in one transaction.
func (s *Store) CreateJob(ctx context.Context, job ImportJob, chats []Chat) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	data := job.ConversationData
	if data == nil {
		data = map[string]ConversationEntry{}
	}
	status := job.Status
	if status == "" {
		status = JobPending
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO import_jobs (id, source, company_id, brain_id, user_id, user_email, model, summary_model,
			total_conversations, existing_hash_count, skipped_count, status, conversation_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		job.ID, job.Source, job.CompanyID, job.BrainID, job.UserID, job.UserEmail, job.Model, job.SummaryModel,
		job.TotalConversations, job.ExistingHashCount, job.SkippedCount, string(status), data,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	if len(chats) > 0 {
		now := time.Now().UTC()
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"chats"},
			[]string{"id", "job_id", "brain_id", "user_id", "title", "source", "source_conversation_id", "is_new", "created_at"},
			pgx.CopyFromSlice(len(chats), func(i int) ([]any, error) {
				c := chats[i]
				created := c.CreatedAt
				if created.IsZero() {
					created = now
				}
				return []any{c.ID, job.ID, c.BrainID, c.UserID, c.Title, c.Source, c.SourceConversationID, true, created}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("insert chats: %w", err)
		}

		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"chat_members"},
			[]string{"chat_id", "user_id", "is_new"},
			pgx.CopyFromSlice(len(chats), func(i int) ([]any, error) {
				return []any{chats[i].ID, chats[i].UserID, true}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("insert chat members: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (ImportJob, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM import_jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ImportJob{}, ErrNotFound
		}
		return ImportJob{}, fmt.Errorf("get job %s: %w", id, err)
	}
	return j, nil
}

// ExistingHashes returns every dedup hash recorded for brainID across jobs.
// Entries of failed conversations were removed by reconciliation, so those
// conversations are importable again.
func (s *Store) ExistingHashes(ctx context.Context, brainID string) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT e.value->>'hashIds'
		FROM import_jobs j, jsonb_each(j.conversation_data) e
		WHERE j.brain_id = $1`,
		brainID,
	)
	if err != nil {
		return nil, fmt.Errorf("query hashes: %w", err)
	}
	defer rows.Close()

	hashes := make(map[string]struct{})
	for rows.Next() {
		var h *string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("scan hash: %w", err)
		}
		if h != nil && *h != "" {
			hashes[*h] = struct{}{}
		}
	}
	return hashes, rows.Err()
}

// FinalizeJob marks the job successful and records its summary cost. Only
// the first call transitions the job; later calls return finalized=false
// with the current row.
func (s *Store) FinalizeJob(ctx context.Context, id uuid.UUID, totalSummaryCost string) (job ImportJob, finalized bool, err error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE import_jobs
		SET status = 'success', total_summary_cost = $2, completed_at = now(), updated_at = now()
		WHERE id = $1 AND status <> 'success'
		RETURNING `+jobColumns,
		id, totalSummaryCost,
	)
	job, err = scanJob(row)
	if err == nil {
		return job, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return ImportJob{}, false, fmt.Errorf("finalize job %s: %w", id, err)
	}

	job, err = s.GetJob(ctx, id)
	if err != nil {
		return ImportJob{}, false, err
	}
	return job, false, nil
}

func (s *Store) GetChat(ctx context.Context, id uuid.UUID) (Chat, error) {
	var c Chat
	err := s.pool.QueryRow(ctx, `
		SELECT id, job_id, brain_id, user_id, title, source, source_conversation_id, is_new, created_at
		FROM chats WHERE id = $1`, id,
	).Scan(&c.ID, &c.JobID, &c.BrainID, &c.UserID, &c.Title, &c.Source, &c.SourceConversationID, &c.IsNew, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Chat{}, ErrNotFound
		}
		return Chat{}, fmt.Errorf("get chat %s: %w", id, err)
	}
	return c, nil
}

func (s *Store) GetChatMember(ctx context.Context, chatID uuid.UUID, userID string) (ChatMember, error) {
	m := ChatMember{ChatID: chatID, UserID: userID}
	err := s.pool.QueryRow(ctx, `
		SELECT is_new FROM chat_members WHERE chat_id = $1 AND user_id = $2`, chatID, userID,
	).Scan(&m.IsNew)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ChatMember{}, ErrNotFound
		}
		return ChatMember{}, fmt.Errorf("get chat member: %w", err)
	}
	return m, nil
}
