// Package memstore is an in-memory implementation of the import store used
// by local one-shot runs and tests.
package memstore

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/scribe/internal/store"
)

type Store struct {
	mu            sync.Mutex
	jobs          map[uuid.UUID]store.ImportJob
	chats         map[uuid.UUID]store.Chat
	members       map[uuid.UUID]store.ChatMember
	messages      map[uuid.UUID][]store.Message
	deviceTokens  map[string][]string
	notifications []store.Notification
}

func New() *Store {
	return &Store{
		jobs:         make(map[uuid.UUID]store.ImportJob),
		chats:        make(map[uuid.UUID]store.Chat),
		members:      make(map[uuid.UUID]store.ChatMember),
		messages:     make(map[uuid.UUID][]store.Message),
		deviceTokens: make(map[string][]string),
	}
}

func cloneJob(j store.ImportJob) store.ImportJob {
	j.ConversationData = maps.Clone(j.ConversationData)
	if j.ConversationData == nil {
		j.ConversationData = map[string]store.ConversationEntry{}
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		j.CompletedAt = &t
	}
	return j
}

func (s *Store) CreateJob(_ context.Context, job store.ImportJob, chats []store.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	job = cloneJob(job)
	if job.Status == "" {
		job.Status = store.JobPending
	}
	job.CreatedAt, job.UpdatedAt = now, now
	s.jobs[job.ID] = job

	for _, c := range chats {
		c.JobID = job.ID
		c.IsNew = true
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		s.chats[c.ID] = c
		s.members[c.ID] = store.ChatMember{ChatID: c.ID, UserID: c.UserID, IsNew: true}
	}
	return nil
}

func (s *Store) GetJob(_ context.Context, id uuid.UUID) (store.ImportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return store.ImportJob{}, store.ErrNotFound
	}
	return cloneJob(j), nil
}

func (s *Store) ExistingHashes(_ context.Context, brainID string) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]struct{})
	for _, j := range s.jobs {
		if j.BrainID != brainID {
			continue
		}
		for _, e := range j.ConversationData {
			if e.HashID != "" {
				out[e.HashID] = struct{}{}
			}
		}
	}
	return out, nil
}

func (s *Store) InsertMessages(_ context.Context, msgs []store.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, m := range msgs {
		if m.ID == uuid.Nil {
			m.ID = uuid.New()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		s.messages[m.ChatID] = append(s.messages[m.ChatID], m)
	}
	return nil
}

func (s *Store) ListMessages(_ context.Context, chatID uuid.UUID) ([]store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]store.Message(nil), s.messages[chatID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// MessageCount is the number of records across all chats.
func (s *Store) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, msgs := range s.messages {
		n += len(msgs)
	}
	return n
}

func (s *Store) GetChat(_ context.Context, id uuid.UUID) (store.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[id]
	if !ok {
		return store.Chat{}, store.ErrNotFound
	}
	return c, nil
}

func (s *Store) GetChatMember(_ context.Context, chatID uuid.UUID, userID string) (store.ChatMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[chatID]
	if !ok || m.UserID != userID {
		return store.ChatMember{}, store.ErrNotFound
	}
	return m, nil
}

// ApplyBatch follows the semantics of the Postgres store: all or nothing
// under the store lock, already reconciled chats skipped.
func (s *Store) ApplyBatch(_ context.Context, jobID uuid.UUID, outcomes []store.ChatOutcome) (store.BatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res store.BatchResult
	job, ok := s.jobs[jobID]
	if !ok {
		return res, store.ErrNotFound
	}
	job = cloneJob(job)

	for _, o := range outcomes {
		key := o.ChatID.String()
		entry, ok := job.ConversationData[key]
		if !ok || entry.TaskStatus == store.TaskSuccess {
			res.AlreadyApplied++
			continue
		}

		if o.Succeeded {
			if c, ok := s.chats[o.ChatID]; ok {
				c.IsNew = false
				s.chats[o.ChatID] = c
			}
			if m, ok := s.members[o.ChatID]; ok {
				m.IsNew = false
				s.members[o.ChatID] = m
			}
			entry.TaskStatus = store.TaskSuccess
			job.ConversationData[key] = entry
			job.SuccessCount++
			job.Tokens.Add(o.Tokens)
			res.Committed++
			continue
		}

		delete(s.messages, o.ChatID)
		delete(s.members, o.ChatID)
		delete(s.chats, o.ChatID)
		delete(job.ConversationData, key)
		res.Removed++
	}

	if res.Committed > 0 || res.Removed > 0 {
		job.UpdatedAt = time.Now().UTC()
		s.jobs[jobID] = job
	}
	return res, nil
}

func (s *Store) FinalizeJob(_ context.Context, id uuid.UUID, totalSummaryCost string) (store.ImportJob, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return store.ImportJob{}, false, store.ErrNotFound
	}
	if job.Status == store.JobSuccess {
		return cloneJob(job), false, nil
	}
	now := time.Now().UTC()
	job.Status = store.JobSuccess
	job.TotalSummaryCost = totalSummaryCost
	job.CompletedAt = &now
	job.UpdatedAt = now
	s.jobs[id] = job
	return cloneJob(job), true, nil
}

func (s *Store) DeviceTokens(_ context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deviceTokens[userID]...), nil
}

func (s *Store) AddDeviceToken(_ context.Context, userID, token, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.deviceTokens[userID] {
		if t == token {
			return nil
		}
	}
	s.deviceTokens[userID] = append(s.deviceTokens[userID], token)
	return nil
}

func (s *Store) CreateNotification(_ context.Context, n store.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	s.notifications = append(s.notifications, n)
	return nil
}

func (s *Store) ListNotifications(_ context.Context, userID string) ([]store.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Notification
	for _, n := range s.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out, nil
}
