package sync

import (
	"context"
	"sync"
)

// Barrier is a one-shot gate. Fire releases every current waiter exactly once
// and lets every later waiter through immediately. Firing more than once has
// no effect.
type Barrier struct {
	once sync.Once
	ch   chan struct{}
}

func NewBarrier() *Barrier {
	return &Barrier{
		ch: make(chan struct{}),
	}
}

// Fire opens the gate. It reports whether this call was the one that opened it.
func (b *Barrier) Fire() bool {
	fired := false

	b.once.Do(func() {
		close(b.ch)

		fired = true
	})

	return fired
}

// Fired reports whether the gate is open.
func (b *Barrier) Fired() bool {
	select {
	case <-b.ch:
		return true
	default:
		return false
	}
}

// Wait blocks until the gate opens or ctx is done.
func (b *Barrier) Wait(ctx context.Context) error {
	select {
	case <-b.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
