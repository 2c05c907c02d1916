package realtime

import (
	"context"
	"sync"
)

// Bus carries events between the instances that produce them and the hubs
// that deliver them.
type Bus interface {
	Publish(ctx context.Context, e Event) error
	// Subscribe registers fn until ctx is done. fn must not block.
	Subscribe(ctx context.Context, fn func(Event)) error
	Close() error
}

// MemoryBus is an in-process Bus for single-instance deployments and tests.
type MemoryBus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(Event)
	closed bool
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[int]func(Event))}
}

// Publish calls every subscriber synchronously.
func (b *MemoryBus) Publish(_ context.Context, e Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	for _, fn := range b.subs {
		fn(e)
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, fn func(Event)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = fn

	context.AfterFunc(ctx, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	})
	return nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	clear(b.subs)
	return nil
}

// Subscribers reports the number of registered subscribers.
func (b *MemoryBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
