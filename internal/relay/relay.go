// Package relay fans authoritative row writes out to every viewer session
// across all server processes.
//
// The contract is at-least-once delivery including self-delivery: the process
// that publishes a row also receives it, so a single-process deployment
// behaves identically to a multi-process one. Receivers replace rows by
// identity, so duplicate delivery is safe.
package relay

import (
	"context"
	"sync"

	"github.com/livegrid/livegrid/internal/grid"
)

// Relay publishes full rows and delivers them to all subscribers.
// Implementations must deliver each published row at least once to every
// subscriber, including subscribers of the publishing process.
type Relay interface {
	// Publish delivers the row to all subscribers. It must not fail the
	// caller's write when cross-process fan-out is unreachable.
	Publish(ctx context.Context, row grid.Row) error
	// Subscribe registers fn for every delivered row. The returned cancel
	// function removes the subscription.
	Subscribe(fn func(grid.Row)) (cancel func())
}

// Bus is the process-local Relay: a subscriber set under a mutex with
// synchronous delivery. Self-delivery is inherent.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func(grid.Row)
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]func(grid.Row))}
}

// Publish delivers a clone of the row to every subscriber.
func (b *Bus) Publish(ctx context.Context, row grid.Row) error {
	b.mu.Lock()
	fns := make([]func(grid.Row), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(row.Clone())
	}
	return nil
}

// Subscribe registers fn and returns its cancel function.
func (b *Bus) Subscribe(fn func(grid.Row)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}
