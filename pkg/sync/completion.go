package sync

import (
	"sync"
)

// Completion is a single-slot notification shared by many producers. Fire never
// blocks; only the first value is delivered and later calls are no-ops.
type Completion struct {
	once sync.Once
	ch   chan string
}

func NewCompletion() *Completion {
	return &Completion{
		ch: make(chan string, 1),
	}
}

// Fire records source as the reason for completion. It reports whether this
// call was the first.
func (c *Completion) Fire(source string) bool {
	fired := false

	c.once.Do(func() {
		select {
		case c.ch <- source:
			fired = true
		default:
		}
	})

	return fired
}

// Done delivers the first fired source. It is meant to be received from once.
func (c *Completion) Done() <-chan string {
	return c.ch
}
