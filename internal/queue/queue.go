// Package queue is the durable job queue: named queues with priority-then-FIFO
// ordering, visibility-timeout leases, delayed redelivery and a fleet-wide
// in-flight ceiling per queue.
package queue

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrEmpty means no message is ready.
	ErrEmpty = errors.New("queue: empty")
	// ErrSaturated means the queue's in-flight ceiling is reached.
	ErrSaturated = errors.New("queue: concurrency ceiling reached")
	// ErrLeaseLost means the delivery's lease expired and was reclaimed.
	ErrLeaseLost = errors.New("queue: lease lost")
)

// Message is what producers enqueue. Enqueuing a job id that is already
// queued, delayed or in flight is a no-op.
type Message struct {
	JobID    string
	Priority int
}

// Delivery is a leased message. Its Token must accompany Ack, Nack and Touch.
type Delivery struct {
	Queue   string
	JobID   string
	Token   string
	Attempt int
}

// Stats reports queue depth.
type Stats struct {
	Ready    int64 `json:"ready"`
	Delayed  int64 `json:"delayed"`
	InFlight int64 `json:"inFlight"`
}

// Queue is the contract shared by producers and workers.
type Queue interface {
	Enqueue(ctx context.Context, queue string, msg Message) error
	Dequeue(ctx context.Context, queue string) (*Delivery, error)
	Ack(ctx context.Context, d *Delivery) error
	// Nack releases the lease and makes the message visible again after delay.
	Nack(ctx context.Context, d *Delivery, delay time.Duration) error
	// Touch extends the lease by the visibility timeout.
	Touch(ctx context.Context, d *Delivery) error
	// Remove drops a message that is not in flight.
	Remove(ctx context.Context, queue, jobID string) (bool, error)
	Stats(ctx context.Context, queue string) (Stats, error)
}
