package taskstate

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Memory is an in-process Store and Barriers for local runs and tests.
type Memory struct {
	mu       sync.Mutex
	tasks    map[string]Record
	barriers map[string]*memBarrier
}

type memBarrier struct {
	count        int
	arrived      map[string]struct{}
	registered   bool
	fired        bool
	continuation []byte
}

func NewMemory() *Memory {
	return &Memory{
		tasks:    make(map[string]Record),
		barriers: make(map[string]*memBarrier),
	}
}

func (m *Memory) put(taskID string, update func(*Record)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.tasks[taskID]
	rec.TaskID = taskID
	update(&rec)
	rec.UpdatedAt = time.Now().UTC()
	m.tasks[taskID] = rec
}

func (m *Memory) SetStatus(_ context.Context, taskID string, status Status) error {
	m.put(taskID, func(r *Record) { r.Status = status })
	return nil
}

func (m *Memory) SetSuccess(_ context.Context, taskID string, result []byte) error {
	res := append([]byte(nil), result...)
	m.put(taskID, func(r *Record) {
		r.Status = StatusSuccess
		r.Result = res
		r.Error = ""
	})
	return nil
}

func (m *Memory) SetFailure(_ context.Context, taskID string, reason string) error {
	m.put(taskID, func(r *Record) {
		r.Status = StatusFailure
		r.Error = reason
	})
	return nil
}

func (m *Memory) Get(_ context.Context, taskID string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.tasks[taskID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (m *Memory) GetMany(_ context.Context, taskIDs []string) (map[string]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Record, len(taskIDs))
	for _, id := range taskIDs {
		if rec, ok := m.tasks[id]; ok {
			out[id] = rec
		}
	}
	return out, nil
}

func (m *Memory) barrier(id string) *memBarrier {
	b, ok := m.barriers[id]
	if !ok {
		b = &memBarrier{arrived: make(map[string]struct{})}
		m.barriers[id] = b
	}
	return b
}

func (m *Memory) Register(_ context.Context, barrierID string, expected int, continuation []byte) (bool, error) {
	if expected < 0 {
		return false, fmt.Errorf("register barrier %s: negative count %d", barrierID, expected)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.barrier(barrierID)
	if b.registered {
		return false, nil
	}
	b.registered = true
	b.continuation = append([]byte(nil), continuation...)
	b.count += expected
	if b.count == 0 && !b.fired {
		b.fired = true
		return true, nil
	}
	return false, nil
}

func (m *Memory) Arrive(_ context.Context, barrierID, taskID string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.barrier(barrierID)
	if _, dup := b.arrived[taskID]; dup {
		return nil, false, nil
	}
	b.arrived[taskID] = struct{}{}
	b.count--
	if b.count == 0 && !b.fired {
		b.fired = true
		return append([]byte(nil), b.continuation...), true, nil
	}
	return nil, false, nil
}
