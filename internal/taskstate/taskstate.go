// Package taskstate records task outcomes and holds the counters behind
// fan-in barriers. Workers write terminal statuses here; aggregators read
// them back to decide which conversations survive a batch.
package taskstate

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("task not found")

// DefaultTTL bounds how long statuses and barrier state outlive a job.
const DefaultTTL = 24 * time.Hour

type Status string

const (
	StatusPending Status = "PENDING"
	StatusStarted Status = "STARTED"
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
)

// Terminal reports whether no further transition is expected.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailure
}

type Record struct {
	TaskID    string
	Status    Status
	Result    []byte
	Error     string
	UpdatedAt time.Time
}

// Store is the task id -> status map.
type Store interface {
	SetStatus(ctx context.Context, taskID string, status Status) error
	SetSuccess(ctx context.Context, taskID string, result []byte) error
	SetFailure(ctx context.Context, taskID string, reason string) error
	Get(ctx context.Context, taskID string) (Record, error)
	// GetMany omits unknown ids from the result.
	GetMany(ctx context.Context, taskIDs []string) (map[string]Record, error)
}

// Barriers implements count-down joins. A barrier fires exactly once, when
// the number of distinct arrivals equals the registered count. Arrivals may
// precede registration.
type Barriers interface {
	// Register stores the continuation and adds expected to the count. It
	// reports fired=true when every arrival already happened, in which case
	// the caller runs the continuation. Registering the same id twice is a
	// no-op.
	Register(ctx context.Context, barrierID string, expected int, continuation []byte) (fired bool, err error)
	// Arrive records taskID at the barrier. Duplicate arrivals are ignored.
	// When this arrival completes the barrier it returns the stored
	// continuation and fired=true.
	Arrive(ctx context.Context, barrierID, taskID string) (continuation []byte, fired bool, err error)
}
