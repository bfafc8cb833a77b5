package jobs

import (
	"context"
	"sync"
	"time"
)

// MemoryBroker is a channel-backed Broker for tests and single-process runs.
type MemoryBroker struct {
	tasks chan *Task

	mu       sync.Mutex
	canceled map[string]bool
	closed   bool
}

var _ Broker = (*MemoryBroker)(nil)

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		tasks:    make(chan *Task, 1024),
		canceled: make(map[string]bool),
	}
}

func (b *MemoryBroker) Enqueue(ctx context.Context, task *Task) error {
	select {
	case b.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *MemoryBroker) Dequeue(ctx context.Context) (*Task, error) {
	select {
	case task := <-b.tasks:
		return task, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *MemoryBroker) Ack(context.Context, *Task) error { return nil }

func (b *MemoryBroker) Requeue(ctx context.Context, task *Task, delay time.Duration) error {
	task.Attempts++
	if delay <= 0 {
		return b.Enqueue(ctx, task)
	}
	time.AfterFunc(delay, func() {
		b.mu.Lock()
		closed := b.closed
		b.mu.Unlock()
		if !closed {
			select {
			case b.tasks <- task:
			default:
			}
		}
	})
	return nil
}

func (b *MemoryBroker) Cancel(_ context.Context, taskID string) error {
	b.mu.Lock()
	b.canceled[taskID] = true
	b.mu.Unlock()
	return nil
}

func (b *MemoryBroker) IsCanceled(_ context.Context, taskID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.canceled[taskID], nil
}

func (b *MemoryBroker) Ping(context.Context) error { return nil }

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}
