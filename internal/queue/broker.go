package queue

import (
	"context"
	"errors"
)

var ErrClosed = errors.New("broker closed")

// Delivery is invoked once per received task. It must not return until the
// task is fully processed; brokers bound concurrency on that basis. A non-nil
// error asks the broker to deliver the task again if it can.
type Delivery func(ctx context.Context, t Task) error

// Broker moves tasks between producers and workers.
type Broker interface {
	Publish(ctx context.Context, t Task) error
	// Subscribe consumes queue with at most concurrency deliveries in flight.
	Subscribe(queue string, concurrency int, deliver Delivery) error
	Close() error
}
