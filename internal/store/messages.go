package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// InsertMessages bulk-inserts the records of one conversation.
func (s *Store) InsertMessages(ctx context.Context, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	now := time.Now().UTC()
	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"messages"},
		[]string{"id", "chat_id", "job_id", "company_id", "brain_id", "user_id", "model", "seq",
			"message", "ai", "system", "tokens", "sumhistory_checkpoint", "created_at"},
		pgx.CopyFromSlice(len(msgs), func(i int) ([]any, error) {
			m := msgs[i]
			id := m.ID
			if id == uuid.Nil {
				id = uuid.New()
			}
			created := m.CreatedAt
			if created.IsZero() {
				created = now
			}
			return []any{id, m.ChatID, m.JobID, m.CompanyID, m.BrainID, m.UserID, m.Model, m.Seq,
				m.Message, m.AI, m.System, m.Tokens, m.SumhistoryCheckpoint, created}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("insert messages: %w", err)
	}
	return nil
}

func (s *Store) ListMessages(ctx context.Context, chatID uuid.UUID) ([]Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, chat_id, job_id, company_id, brain_id, user_id, model, seq,
			message, ai, system, tokens, sumhistory_checkpoint, created_at
		FROM messages WHERE chat_id = $1 ORDER BY seq`, chatID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.JobID, &m.CompanyID, &m.BrainID, &m.UserID, &m.Model, &m.Seq,
			&m.Message, &m.AI, &m.System, &m.Tokens, &m.SumhistoryCheckpoint, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
