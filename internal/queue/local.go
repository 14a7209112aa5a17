package queue

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Local is an in-process Broker. Tasks published before a queue has a
// subscriber are held until one arrives.
type Local struct {
	mu      sync.Mutex
	subs    map[string]*localSub
	pending map[string][]Task
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type localSub struct {
	sem     *semaphore.Weighted
	deliver Delivery
}

func NewLocal() *Local {
	ctx, cancel := context.WithCancel(context.Background())
	return &Local{
		subs:    make(map[string]*localSub),
		pending: make(map[string][]Task),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (l *Local) Publish(_ context.Context, t Task) error {
	// Round-trip through the codec so handlers never share memory with
	// the publisher, as they would not over the wire.
	data, err := Encode(t)
	if err != nil {
		return err
	}
	t, err = Decode(data)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	queue := t.Kind.Queue()
	sub, ok := l.subs[queue]
	if !ok {
		l.pending[queue] = append(l.pending[queue], t)
		return nil
	}
	l.dispatch(sub, t)
	return nil
}

func (l *Local) Subscribe(queue string, concurrency int, deliver Delivery) error {
	if concurrency < 1 {
		return fmt.Errorf("subscribe %s: concurrency must be positive", queue)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if _, ok := l.subs[queue]; ok {
		return fmt.Errorf("subscribe %s: already subscribed", queue)
	}
	sub := &localSub{sem: semaphore.NewWeighted(int64(concurrency)), deliver: deliver}
	l.subs[queue] = sub

	for _, t := range l.pending[queue] {
		l.dispatch(sub, t)
	}
	delete(l.pending, queue)
	return nil
}

// dispatch must be called with l.mu held so Wait cannot miss the Add.
func (l *Local) dispatch(sub *localSub, t Task) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		if err := sub.sem.Acquire(l.ctx, 1); err != nil {
			return
		}
		defer sub.sem.Release(1)
		// No redelivery in process; the runtime has already logged the cause.
		_ = sub.deliver(l.ctx, t)
	}()
}

// Wait blocks until every published task, including tasks published by
// handlers while Wait runs, has been delivered.
func (l *Local) Wait() {
	l.wg.Wait()
}

// Pending reports tasks held for queues that have no subscriber.
func (l *Local) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ts := range l.pending {
		n += len(ts)
	}
	return n
}

func (l *Local) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.cancel()
	l.wg.Wait()
	return nil
}
