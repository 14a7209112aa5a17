// Package queue runs import work as tasks on named queues. Tasks record their
// outcome in the task state store and, when they belong to a barrier, arrive
// at it; the last arrival publishes the barrier's continuation.
package queue

import (
	"fmt"

	"github.com/google/uuid"
)

const (
	QueueTransform = "import.transform"
	QueueAggregate = "import.aggregate"
	QueueNotify    = "import.notify"
)

// Kind identifies what a task does and therefore which queue carries it.
type Kind int

const (
	KindTransform Kind = iota + 1
	KindAggregate
	KindNotify
)

// Kinds lists every task kind.
var Kinds = []Kind{KindTransform, KindAggregate, KindNotify}

func (k Kind) String() string {
	switch k {
	case KindTransform:
		return "transform"
	case KindAggregate:
		return "aggregate"
	case KindNotify:
		return "notify"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (k Kind) Queue() string {
	switch k {
	case KindTransform:
		return QueueTransform
	case KindAggregate:
		return QueueAggregate
	case KindNotify:
		return QueueNotify
	}
	return ""
}

// MaxRetries is the default retry budget. Transforms are never retried: the
// summarization call they make is billed and not repeatable.
func (k Kind) MaxRetries() int {
	switch k {
	case KindTransform:
		return 0
	case KindAggregate:
		return 3
	case KindNotify:
		return 2
	}
	return 0
}

// Task is one unit of work on the wire.
type Task struct {
	ID         string `cbor:"id"`
	Kind       Kind   `cbor:"kind"`
	Payload    []byte `cbor:"payload"`
	Barrier    string `cbor:"barrier,omitempty"`
	MaxRetries int    `cbor:"max_retries"`
}

// NewTask builds a task with a fresh id and the kind's retry budget.
func NewTask(kind Kind, payload []byte) Task {
	return Task{
		ID:         uuid.NewString(),
		Kind:       kind,
		Payload:    payload,
		MaxRetries: kind.MaxRetries(),
	}
}

func (t Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task has no id")
	}
	if t.Kind.Queue() == "" {
		return fmt.Errorf("task %s: unknown kind %d", t.ID, int(t.Kind))
	}
	if t.MaxRetries < 0 {
		return fmt.Errorf("task %s: negative retry budget", t.ID)
	}
	return nil
}
