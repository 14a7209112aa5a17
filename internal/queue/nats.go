package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/semaphore"
)

// SubjectPrefix namespaces task queues on NATS.
const SubjectPrefix = "scribe.tasks."

// StreamName is the JetStream work-queue stream that holds every task until a
// worker acknowledges it.
const StreamName = "SCRIBE_TASKS"

// NATSConfig tunes redelivery and shutdown of the JetStream broker.
type NATSConfig struct {
	// AckWait is how long a delivery may go without an ack or progress
	// signal before the server hands it to another worker.
	AckWait time.Duration
	// MaxDeliver bounds deliveries of one task.
	MaxDeliver int
	// RetryDelay is the redelivery delay after failed bookkeeping.
	RetryDelay time.Duration
	// DrainTimeout bounds how long Close lets in-flight tasks finish before
	// cancelling them.
	DrainTimeout time.Duration
	Replicas     int
}

func (c NATSConfig) withDefaults() NATSConfig {
	if c.AckWait <= 0 {
		c.AckWait = 2 * time.Minute
	}
	if c.MaxDeliver <= 0 {
		c.MaxDeliver = 5
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Second
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 30 * time.Second
	}
	if c.Replicas <= 0 {
		c.Replicas = 1
	}
	return c
}

// NATS carries tasks as cbor envelopes on a JetStream work-queue stream.
// Tasks published while no worker runs are retained, and a task is acked only
// after its outcome is recorded, so a worker lost mid-task is redelivered.
type NATS struct {
	js     jetstream.JetStream
	stream jetstream.Stream
	cfg    NATSConfig
	logger *slog.Logger

	mu        sync.Mutex
	consumers []jetstream.ConsumeContext
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNATS creates or updates the task stream and returns a broker on it.
func NewNATS(ctx context.Context, js jetstream.JetStream, cfg NATSConfig, logger *slog.Logger) (*NATS, error) {
	cfg = cfg.withDefaults()
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{SubjectPrefix + ">"},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
		Replicas:  cfg.Replicas,
	})
	if err != nil {
		return nil, fmt.Errorf("create task stream: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	return &NATS{
		js:     js,
		stream: stream,
		cfg:    cfg,
		logger: logger,
		ctx:    runCtx,
		cancel: cancel,
	}, nil
}

func subject(queue string) string {
	return SubjectPrefix + queue
}

func consumerName(queue string) string {
	return "scribe-" + queue
}

func (n *NATS) Publish(ctx context.Context, t Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := Encode(t)
	if err != nil {
		return err
	}
	// The task ID doubles as the message ID, so a republish inside the
	// stream's duplicate window is stored once.
	if _, err := n.js.Publish(ctx, subject(t.Kind.Queue()), data, jetstream.WithMsgID(t.ID)); err != nil {
		return fmt.Errorf("publish task %s: %w", t.ID, err)
	}
	return nil
}

// Subscribe binds the durable consumer shared by every worker of queue.
func (n *NATS) Subscribe(queue string, concurrency int, deliver Delivery) error {
	if concurrency < 1 {
		return fmt.Errorf("subscribe %s: concurrency must be positive", queue)
	}

	n.mu.Lock()
	closed := n.closed
	n.mu.Unlock()
	if closed {
		return ErrClosed
	}

	ctx, cancel := context.WithTimeout(n.ctx, 10*time.Second)
	defer cancel()
	cons, err := n.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       consumerName(queue),
		FilterSubject: subject(queue),
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       n.cfg.AckWait,
		MaxDeliver:    n.cfg.MaxDeliver,
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", queue, err)
	}

	sem := semaphore.NewWeighted(int64(concurrency))
	cc, err := cons.Consume(func(msg jetstream.Msg) {
		n.receive(queue, sem, deliver, msg)
	}, jetstream.PullMaxMessages(concurrency))
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", queue, err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		cc.Stop()
		return ErrClosed
	}
	n.consumers = append(n.consumers, cc)
	return nil
}

func (n *NATS) receive(queue string, sem *semaphore.Weighted, deliver Delivery, msg jetstream.Msg) {
	t, err := Decode(msg.Data())
	if err != nil {
		n.logger.Error("dropping undecodable task", "queue", queue, "error", err)
		_ = msg.Term()
		return
	}
	// Blocking here holds the consume callback, so the client buffers
	// instead of this worker over-committing.
	if err := sem.Acquire(n.ctx, 1); err != nil {
		_ = msg.Nak()
		return
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		sem.Release(1)
		_ = msg.Nak()
		return
	}
	n.wg.Add(1)
	n.mu.Unlock()

	go func() {
		defer n.wg.Done()
		defer sem.Release(1)
		n.run(t, deliver, msg)
	}()
}

func (n *NATS) run(t Task, deliver Delivery, msg jetstream.Msg) {
	stop := n.keepAlive(msg)
	err := deliver(n.ctx, t)
	stop()

	if err != nil {
		n.logger.Warn("task bookkeeping incomplete, redelivering",
			"task_id", t.ID, "delay", n.cfg.RetryDelay, "error", err)
		if nerr := msg.NakWithDelay(n.cfg.RetryDelay); nerr != nil {
			n.logger.Error("nak task", "task_id", t.ID, "error", nerr)
		}
		return
	}
	if err := msg.Ack(); err != nil {
		n.logger.Error("ack task", "task_id", t.ID, "error", err)
	}
}

// keepAlive signals progress while a long task runs so the server does not
// redeliver it to another worker.
func (n *NATS) keepAlive(msg jetstream.Msg) (stop func()) {
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(n.cfg.AckWait / 2)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := msg.InProgress(); err != nil {
					n.logger.Warn("extend task deadline", "error", err)
				}
			}
		}
	}()
	return func() {
		close(done)
		<-exited
	}
}

// Close stops fetching new tasks and lets in-flight ones finish. Tasks still
// running after the drain timeout see their context cancelled.
func (n *NATS) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	consumers := n.consumers
	n.mu.Unlock()

	for _, cc := range consumers {
		cc.Stop()
	}

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(n.cfg.DrainTimeout):
		n.logger.Warn("drain timeout, cancelling in-flight tasks", "timeout", n.cfg.DrainTimeout)
		n.cancel()
		<-done
	}
	n.cancel()
	return nil
}
