package events

import (
	"context"
	"fmt"
	"sync"
)

// Broker is the queue behind the router. Dequeue blocks until a job is
// available or the context is cancelled; it may return (nil, nil) on an
// idle poll.
type Broker interface {
	Enqueue(ctx context.Context, payload []byte) error
	Dequeue(ctx context.Context) ([]byte, error)
	Close() error
}

const memoryBrokerCapacity = 1024

// MemoryBroker is a channel-backed broker for tests and single-node
// development.
type MemoryBroker struct {
	jobs chan []byte

	mu     sync.Mutex
	closed bool
}

// NewMemoryBroker creates an in-process broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{jobs: make(chan []byte, memoryBrokerCapacity)}
}

func (b *MemoryBroker) Enqueue(ctx context.Context, payload []byte) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("broker is closed")
	}
	b.mu.Unlock()
	select {
	case b.jobs <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *MemoryBroker) Dequeue(ctx context.Context) ([]byte, error) {
	select {
	case payload, ok := <-b.jobs:
		if !ok {
			return nil, fmt.Errorf("broker is closed")
		}
		return payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.jobs)
	}
	return nil
}

// Len reports the number of queued jobs.
func (b *MemoryBroker) Len() int { return len(b.jobs) }
