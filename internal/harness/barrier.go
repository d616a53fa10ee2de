package harness

import (
	"time"

	"github.com/ahrav/ticketlock/ticket"
)

// Barrier is a start rendezvous for a fixed number of workers. It is built from a
// second ticket lock guarding an arrival counter: every worker registers under the lock,
// then drops it and polls until the counter reaches the target.
type Barrier struct {
	mu      ticket.Lock[uint32]
	arrived int
	target  int
	poll    time.Duration
}

// NewBarrier returns a barrier that releases once target workers have called Wait.
func NewBarrier(target int, poll time.Duration) *Barrier {
	return &Barrier{target: target, poll: poll}
}

// Wait blocks until target workers have arrived.
func (b *Barrier) Wait() {
	b.mu.Lock()
	b.arrived++
	for b.arrived < b.target {
		// Release before re-checking so the others can register.
		b.mu.Unlock()
		time.Sleep(b.poll)
		b.mu.Lock()
	}
	b.mu.Unlock()
}

// Arrived returns how many workers have reached the barrier.
func (b *Barrier) Arrived() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.arrived
}

// Reset rearms the barrier for another round. No worker may be waiting.
func (b *Barrier) Reset() {
	b.mu.Lock()
	b.arrived = 0
	b.mu.Unlock()
}
