package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/MikeSquared-Agency/scribe/internal/taskstate"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newLocalRuntime(t *testing.T) (*Runtime, *Local, *taskstate.Memory) {
	t.Helper()
	broker := NewLocal()
	t.Cleanup(func() { broker.Close() })
	state := taskstate.NewMemory()
	rt := NewRuntime(broker, state, state, discardLogger())
	rt.SetRetryDelay(time.Millisecond)
	return rt, broker, state
}

func TestKind_Exhaustive(t *testing.T) {
	for _, k := range Kinds {
		assert.NotEmpty(t, k.Queue(), "kind %s has no queue", k)
		assert.NotContains(t, k.String(), "kind(")
	}
	assert.Equal(t, 0, KindTransform.MaxRetries())
	assert.Positive(t, KindAggregate.MaxRetries())
	assert.Empty(t, Kind(99).Queue())
}

func TestCodec(t *testing.T) {
	task := NewTask(KindAggregate, []byte{0x01, 0x02})
	task.Barrier = "job:1:final"

	data, err := Encode(task)
	require.NoError(t, err)
	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, task, got)

	again, err := Encode(task)
	require.NoError(t, err)
	assert.Equal(t, data, again, "encoding must be deterministic")

	_, err = Encode(Task{ID: "x", Kind: Kind(42)})
	assert.Error(t, err)
	_, err = Decode([]byte{0xff, 0x00})
	assert.Error(t, err)
}

func TestLocal_HoldsTasksUntilSubscribe(t *testing.T) {
	broker := NewLocal()
	defer broker.Close()

	require.NoError(t, broker.Publish(context.Background(), NewTask(KindNotify, nil)))
	assert.Equal(t, 1, broker.Pending())

	var got atomic.Int32
	require.NoError(t, broker.Subscribe(QueueNotify, 1, func(context.Context, Task) error {
		got.Add(1)
		return nil
	}))
	broker.Wait()

	assert.Equal(t, int32(1), got.Load())
	assert.Equal(t, 0, broker.Pending())

	assert.Error(t, broker.Subscribe(QueueNotify, 1, func(context.Context, Task) error { return nil }))
	assert.Error(t, broker.Subscribe(QueueAggregate, 0, func(context.Context, Task) error { return nil }))
}

func TestLocal_BoundsConcurrency(t *testing.T) {
	broker := NewLocal()
	defer broker.Close()

	var inFlight, peak atomic.Int32
	require.NoError(t, broker.Subscribe(QueueTransform, 2, func(context.Context, Task) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	}))

	for i := 0; i < 10; i++ {
		require.NoError(t, broker.Publish(context.Background(), NewTask(KindTransform, nil)))
	}
	broker.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestLocal_PublishAfterClose(t *testing.T) {
	broker := NewLocal()
	require.NoError(t, broker.Close())
	assert.ErrorIs(t, broker.Publish(context.Background(), NewTask(KindNotify, nil)), ErrClosed)
	require.NoError(t, broker.Close())
}

func TestRuntime_RecordsOutcome(t *testing.T) {
	rt, broker, state := newLocalRuntime(t)
	ctx := context.Background()

	rt.Handle(KindTransform, func(_ context.Context, task Task) ([]byte, error) {
		if string(task.Payload) == "bad" {
			return nil, errors.New("summarize: upstream 500")
		}
		return []byte("ok"), nil
	})
	require.NoError(t, rt.Start(2))

	good := NewTask(KindTransform, []byte("good"))
	bad := NewTask(KindTransform, []byte("bad"))
	require.NoError(t, rt.Submit(ctx, good))
	require.NoError(t, rt.Submit(ctx, bad))
	broker.Wait()

	rec, err := state.Get(ctx, good.ID)
	require.NoError(t, err)
	assert.Equal(t, taskstate.StatusSuccess, rec.Status)
	assert.Equal(t, "ok", string(rec.Result))

	rec, err = state.Get(ctx, bad.ID)
	require.NoError(t, err)
	assert.Equal(t, taskstate.StatusFailure, rec.Status)
	assert.Contains(t, rec.Error, "upstream 500")
}

func TestRuntime_RetriesWithinBudget(t *testing.T) {
	rt, broker, state := newLocalRuntime(t)
	ctx := context.Background()

	var calls atomic.Int32
	rt.Handle(KindAggregate, func(context.Context, Task) ([]byte, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("deadlock detected")
		}
		return nil, nil
	})
	rt.Handle(KindTransform, func(context.Context, Task) ([]byte, error) {
		calls.Add(100)
		return nil, errors.New("no retry for me")
	})
	require.NoError(t, rt.Start(1))

	agg := NewTask(KindAggregate, nil)
	require.NoError(t, rt.Submit(ctx, agg))
	broker.Wait()
	assert.Equal(t, int32(3), calls.Load())
	rec, _ := state.Get(ctx, agg.ID)
	assert.Equal(t, taskstate.StatusSuccess, rec.Status)

	tr := NewTask(KindTransform, nil)
	require.NoError(t, rt.Submit(ctx, tr))
	broker.Wait()
	assert.Equal(t, int32(103), calls.Load(), "transform must run exactly once")
	rec, _ = state.Get(ctx, tr.ID)
	assert.Equal(t, taskstate.StatusFailure, rec.Status)
}

func TestRuntime_PanicBecomesFailure(t *testing.T) {
	rt, broker, state := newLocalRuntime(t)
	ctx := context.Background()

	rt.Handle(KindNotify, func(context.Context, Task) ([]byte, error) {
		panic("nil map")
	})
	require.NoError(t, rt.Start(1))

	task := NewTask(KindNotify, nil)
	task.MaxRetries = 0
	require.NoError(t, rt.Submit(ctx, task))
	broker.Wait()

	rec, err := state.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, taskstate.StatusFailure, rec.Status)
	assert.Contains(t, rec.Error, "panic")
}

func TestRuntime_ChordRunsCallbackAfterFailures(t *testing.T) {
	rt, broker, _ := newLocalRuntime(t)
	ctx := context.Background()

	var finished atomic.Int32
	var callbacks atomic.Int32
	rt.Handle(KindTransform, func(_ context.Context, task Task) ([]byte, error) {
		defer finished.Add(1)
		if string(task.Payload) == "fail" {
			return nil, errors.New("boom")
		}
		return nil, nil
	})
	rt.Handle(KindAggregate, func(context.Context, Task) ([]byte, error) {
		assert.Equal(t, int32(3), finished.Load(), "callback ran before every header task finished")
		callbacks.Add(1)
		return nil, nil
	})
	require.NoError(t, rt.Start(3))

	header := []Task{
		NewTask(KindTransform, []byte("ok")),
		NewTask(KindTransform, []byte("fail")),
		NewTask(KindTransform, []byte("ok")),
	}
	require.NoError(t, rt.Chord(ctx, "job:1:batch:0", header, NewTask(KindAggregate, nil)))
	broker.Wait()

	assert.Equal(t, int32(1), callbacks.Load())
}

func TestRuntime_ChordEmptyHeaderFiresImmediately(t *testing.T) {
	rt, broker, _ := newLocalRuntime(t)

	var callbacks atomic.Int32
	rt.Handle(KindNotify, func(context.Context, Task) ([]byte, error) {
		callbacks.Add(1)
		return nil, nil
	})
	require.NoError(t, rt.Start(1))

	require.NoError(t, rt.Chord(context.Background(), "empty", nil, NewTask(KindNotify, nil)))
	broker.Wait()
	assert.Equal(t, int32(1), callbacks.Load())
}

func TestRuntime_BarrierOfBarriersFiresOnce(t *testing.T) {
	rt, broker, _ := newLocalRuntime(t)
	ctx := context.Background()

	var (
		mu         sync.Mutex
		aggregated []string
		notified   []int
	)
	release := make(chan struct{})
	rt.Handle(KindTransform, func(context.Context, Task) ([]byte, error) {
		<-release
		return nil, nil
	})
	rt.Handle(KindAggregate, func(_ context.Context, task Task) ([]byte, error) {
		mu.Lock()
		aggregated = append(aggregated, string(task.Payload))
		mu.Unlock()
		return nil, nil
	})
	rt.Handle(KindNotify, func(context.Context, Task) ([]byte, error) {
		mu.Lock()
		notified = append(notified, len(aggregated))
		mu.Unlock()
		return nil, nil
	})
	require.NoError(t, rt.Start(8))

	const batches = 3
	final := "job:7:final"
	for b := 0; b < batches; b++ {
		header := []Task{NewTask(KindTransform, nil), NewTask(KindTransform, nil)}
		agg := NewTask(KindAggregate, []byte(fmt.Sprintf("batch-%d", b)))
		agg.Barrier = final
		require.NoError(t, rt.Chord(ctx, fmt.Sprintf("job:7:batch:%d", b), header, agg))
	}
	require.NoError(t, rt.Await(ctx, final, batches, NewTask(KindNotify, nil)))

	close(release)
	broker.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, aggregated, batches)
	require.Len(t, notified, 1, "notifier must fire exactly once")
	assert.Equal(t, batches, notified[0], "notifier ran before every aggregate")
}

func TestRuntime_FinalBarrierRegisteredAfterAllArrivals(t *testing.T) {
	rt, broker, _ := newLocalRuntime(t)
	ctx := context.Background()

	var notified atomic.Int32
	rt.Handle(KindAggregate, func(context.Context, Task) ([]byte, error) { return nil, nil })
	rt.Handle(KindNotify, func(context.Context, Task) ([]byte, error) {
		notified.Add(1)
		return nil, nil
	})
	require.NoError(t, rt.Start(2))

	for i := 0; i < 2; i++ {
		agg := NewTask(KindAggregate, nil)
		agg.Barrier = "late"
		require.NoError(t, rt.Submit(ctx, agg))
	}
	broker.Wait()
	assert.Equal(t, int32(0), notified.Load())

	require.NoError(t, rt.Await(ctx, "late", 2, NewTask(KindNotify, nil)))
	broker.Wait()
	assert.Equal(t, int32(1), notified.Load())
}

func TestRuntime_RedeliveryDoesNotRerun(t *testing.T) {
	rt, broker, state := newLocalRuntime(t)
	ctx := context.Background()

	var runs, callbacks atomic.Int32
	rt.Handle(KindTransform, func(context.Context, Task) ([]byte, error) {
		runs.Add(1)
		return nil, nil
	})
	rt.Handle(KindAggregate, func(context.Context, Task) ([]byte, error) {
		callbacks.Add(1)
		return nil, nil
	})
	require.NoError(t, rt.Start(1))

	a, b := NewTask(KindTransform, nil), NewTask(KindTransform, nil)
	require.NoError(t, rt.Chord(ctx, "redeliver", []Task{a, b}, NewTask(KindAggregate, nil)))
	broker.Wait()

	// Simulate the substrate delivering a finished task again.
	a.Barrier = "redeliver"
	require.NoError(t, rt.Process(ctx, a))
	broker.Wait()

	assert.Equal(t, int32(2), runs.Load())
	assert.Equal(t, int32(1), callbacks.Load())
	rec, _ := state.Get(ctx, a.ID)
	assert.Equal(t, taskstate.StatusSuccess, rec.Status)
}

func TestRuntime_ShutdownRecordsAndArrives(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	state := taskstate.NewRedisFromClient(client)

	broker := NewLocal()
	rt := NewRuntime(broker, state, state, discardLogger())
	started := make(chan struct{})
	rt.Handle(KindTransform, func(ctx context.Context, _ Task) ([]byte, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.NoError(t, rt.Start(1))

	ctx := context.Background()
	task := NewTask(KindTransform, nil)
	callback := NewTask(KindAggregate, nil)
	require.NoError(t, rt.Chord(ctx, "job:1:batch:0", []Task{task}, callback))
	<-started
	require.NoError(t, broker.Close())

	rec, err := state.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, taskstate.StatusFailure, rec.Status, "interrupted task left non-terminal")
	assert.Contains(t, rec.Error, "context canceled")
	assert.True(t, mr.Exists("barrier:{job:1:batch:0}:fired"), "interrupted task did not arrive")

	rec, err = state.Get(ctx, callback.ID)
	require.NoError(t, err)
	assert.Equal(t, taskstate.StatusPending, rec.Status)
}

// failingBarriers rejects every arrival.
type failingBarriers struct{ taskstate.Barriers }

func (failingBarriers) Arrive(context.Context, string, string) ([]byte, bool, error) {
	return nil, false, errors.New("redis: connection refused")
}

func TestRuntime_ProcessReportsIncompleteBookkeeping(t *testing.T) {
	state := taskstate.NewMemory()
	rt := NewRuntime(NewLocal(), state, failingBarriers{state}, discardLogger())
	rt.Handle(KindTransform, func(context.Context, Task) ([]byte, error) { return []byte("ok"), nil })

	task := NewTask(KindTransform, nil)
	task.Barrier = "job:2:batch:0"
	assert.Error(t, rt.Process(context.Background(), task))

	// The outcome is kept, so redelivery only retries the arrival.
	rec, err := state.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, taskstate.StatusSuccess, rec.Status)
	assert.Error(t, rt.Process(context.Background(), task))
}

