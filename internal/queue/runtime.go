package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MikeSquared-Agency/scribe/internal/taskstate"
)

// Handler executes one task and returns its result payload.
type Handler func(ctx context.Context, t Task) ([]byte, error)

// Runtime executes tasks delivered by a Broker. It owns the status
// transitions of every task it runs and the barrier arrivals that follow.
type Runtime struct {
	broker   Broker
	status   taskstate.Store
	barriers taskstate.Barriers
	handlers map[Kind]Handler
	logger   *slog.Logger

	retryDelay time.Duration
}

func NewRuntime(broker Broker, status taskstate.Store, barriers taskstate.Barriers, logger *slog.Logger) *Runtime {
	return &Runtime{
		broker:     broker,
		status:     status,
		barriers:   barriers,
		handlers:   make(map[Kind]Handler),
		logger:     logger,
		retryDelay: 500 * time.Millisecond,
	}
}

// SetRetryDelay sets the base backoff between attempts.
func (r *Runtime) SetRetryDelay(d time.Duration) {
	r.retryDelay = d
}

// Handle registers the handler for kind. Call before Start.
func (r *Runtime) Handle(kind Kind, h Handler) {
	r.handlers[kind] = h
}

// Start subscribes to the queue of every registered kind.
func (r *Runtime) Start(concurrency int) error {
	for _, kind := range Kinds {
		if _, ok := r.handlers[kind]; !ok {
			continue
		}
		if err := r.broker.Subscribe(kind.Queue(), concurrency, r.Process); err != nil {
			return fmt.Errorf("start %s workers: %w", kind, err)
		}
		r.logger.Info("worker started", "queue", kind.Queue(), "concurrency", concurrency)
	}
	return nil
}

// Submit marks a task pending and publishes it.
func (r *Runtime) Submit(ctx context.Context, t Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if err := r.status.SetStatus(ctx, t.ID, taskstate.StatusPending); err != nil {
		return fmt.Errorf("submit task %s: %w", t.ID, err)
	}
	if err := r.broker.Publish(ctx, t); err != nil {
		return fmt.Errorf("submit task %s: %w", t.ID, err)
	}
	return nil
}

// Chord registers barrierID over header, publishes every header task, and
// runs callback once all of them reach a terminal state. Registration comes
// first so the barrier exists before any header task can arrive.
func (r *Runtime) Chord(ctx context.Context, barrierID string, header []Task, callback Task) error {
	for i := range header {
		header[i].Barrier = barrierID
	}
	if err := r.Await(ctx, barrierID, len(header), callback); err != nil {
		return err
	}
	for _, t := range header {
		if err := r.Submit(ctx, t); err != nil {
			return fmt.Errorf("chord %s: %w", barrierID, err)
		}
	}
	return nil
}

// Await registers a barrier that runs callback after expected distinct
// arrivals. Arrivals that happened before Await count toward it; if all of
// them already happened, callback is submitted immediately.
func (r *Runtime) Await(ctx context.Context, barrierID string, expected int, callback Task) error {
	cont, err := Encode(callback)
	if err != nil {
		return fmt.Errorf("await %s: %w", barrierID, err)
	}
	fired, err := r.barriers.Register(ctx, barrierID, expected, cont)
	if err != nil {
		return fmt.Errorf("await %s: %w", barrierID, err)
	}
	if fired {
		r.logger.Debug("barrier complete at registration", "barrier", barrierID)
		return r.Submit(ctx, callback)
	}
	return nil
}

// Process runs one delivered task to a terminal state. Handler failures are
// recorded in the status store, not returned. The returned error reports
// bookkeeping that did not complete, and the task should be delivered again.
//
// Status writes and the barrier arrival run detached from ctx cancellation:
// a task interrupted by shutdown is still recorded and still counts toward
// its barrier.
func (r *Runtime) Process(ctx context.Context, t Task) error {
	log := r.logger.With("task_id", t.ID, "kind", t.Kind.String())
	book := context.WithoutCancel(ctx)

	rec, err := r.status.Get(book, t.ID)
	switch {
	case err == nil && rec.Status.Terminal():
		// Redelivery of a finished task: only make sure its arrival counted.
		log.Info("task already finished", "status", string(rec.Status))
		return r.arrive(book, t, log)
	case err != nil && !errors.Is(err, taskstate.ErrNotFound):
		log.Warn("read task status", "error", err)
	}

	if err := r.status.SetStatus(book, t.ID, taskstate.StatusStarted); err != nil {
		log.Warn("mark task started", "error", err)
	}

	result, err := r.execute(ctx, t, log)
	if err != nil {
		log.Error("task failed", "error", err)
		if serr := r.status.SetFailure(book, t.ID, err.Error()); serr != nil {
			log.Error("record task failure", "error", serr)
			return fmt.Errorf("record failure of %s: %w", t.ID, serr)
		}
	} else if serr := r.status.SetSuccess(book, t.ID, result); serr != nil {
		log.Error("record task success", "error", serr)
		return fmt.Errorf("record success of %s: %w", t.ID, serr)
	}

	return r.arrive(book, t, log)
}

func (r *Runtime) execute(ctx context.Context, t Task, log *slog.Logger) ([]byte, error) {
	h, ok := r.handlers[t.Kind]
	if !ok {
		return nil, fmt.Errorf("no handler for %s", t.Kind)
	}

	var lastErr error
	for attempt := 0; attempt <= t.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.retryDelay << (attempt - 1)
			log.Warn("retrying task", "attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, err := safeCall(ctx, h, t)
		if err == nil {
			return result, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func safeCall(ctx context.Context, h Handler, t Task) (result []byte, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return h(ctx, t)
}

func (r *Runtime) arrive(ctx context.Context, t Task, log *slog.Logger) error {
	if t.Barrier == "" {
		return nil
	}
	cont, fired, err := r.barriers.Arrive(ctx, t.Barrier, t.ID)
	if err != nil {
		log.Error("barrier arrival", "barrier", t.Barrier, "error", err)
		return fmt.Errorf("arrive %s at %s: %w", t.ID, t.Barrier, err)
	}
	if !fired {
		return nil
	}

	next, err := Decode(cont)
	if err != nil {
		// Retrying cannot help: the barrier has already fired.
		log.Error("decode barrier continuation", "barrier", t.Barrier, "error", err)
		return nil
	}
	log.Info("barrier complete", "barrier", t.Barrier, "continuation", next.ID, "next_kind", next.Kind.String())
	if err := r.Submit(ctx, next); err != nil {
		log.Error("submit continuation", "barrier", t.Barrier, "error", err)
	}
	return nil
}
