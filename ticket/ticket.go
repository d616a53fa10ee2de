// Package ticket provides a fair mutual exclusion lock implementation using a ticket-based
// queuing system. The Lock type ensures FIFO ordering of lock acquisition: every caller
// draws a ticket number and is admitted only when the lock's head counter reaches it, so
// lock requests are served in the exact order they arrive.
//
// Both counters live in a single 64-bit word so that drawing a ticket is one atomic add
// and TryLock can compare-and-swap the whole (head, tail) pair at once. The counter width
// is a type parameter; it bounds how many goroutines may hold or wait for the lock at the
// same time (see Capacity).
//
// Example usage:
//
//	var mu ticket.Lock[uint8] // up to 255 outstanding tickets
//
//	mu.Lock()
//	// ... critical section ...
//	mu.Unlock()
//
//	if mu.TryLock() {
//	    // ... critical section ...
//	    mu.Unlock()
//	}
//
// The lock spins rather than sleeps, so it is meant for very short critical sections.
package ticket

import (
	"math/bits"
	"sync/atomic"

	"golang.org/x/sys/cpu"

	"github.com/ahrav/ticketlock/internal/spin"
)

// Ticket is the set of counter widths a Lock can be built on.
type Ticket interface {
	~uint8 | ~uint16 | ~uint32
}

// Capacity returns the maximum number of tickets that may be outstanding (issued but not
// yet released) on a Lock[T] at once. Exceeding it corrupts the lock.
func Capacity[T Ticket]() uint64 { return uint64(^T(0)) }

// shift is the bit width of T, which is also the offset of tail inside the word.
func shift[T Ticket]() uint { return uint(bits.OnesCount64(uint64(^T(0)))) }

// tailOne is the word delta that issues one ticket.
func tailOne[T Ticket]() uint64 { return 1 << shift[T]() }

// unpack splits a lock word into its counters. Bits above tail hold carries from tail
// wrapping and are discarded.
func unpack[T Ticket](w uint64) (head, tail T) {
	return T(w), T(w >> shift[T]())
}

// Lock implements a fair mutual exclusion lock using a ticket-based queuing system.
//
// The word packs two counters:
//   - head: the ticket currently being served, in the low bits
//   - tail: the next ticket to be issued, directly above head
//
// The lock is free when head == tail. tail - head, in T arithmetic, is the number of
// goroutines holding or waiting for the lock. The zero value is an unlocked lock.
type Lock[T Ticket] struct {
	word atomic.Uint64
}

// New creates an unlocked Lock.
func New[T Ticket]() *Lock[T] { return new(Lock[T]) }

// Init resets the lock to the unlocked state. It must not race with any other method.
func (l *Lock[T]) Init() { l.word.Store(0) }

// TryLock attempts to acquire the lock without blocking. It returns true if the lock
// was acquired, and false if the lock is held, contended, or another goroutine drew a
// ticket between the read and the swap. It makes a single attempt.
func (l *Lock[T]) TryLock() bool {
	old := l.word.Load()
	if head, tail := unpack[T](old); head != tail {
		return false
	}
	return l.word.CompareAndSwap(old, old+tailOne[T]())
}

// nextInLineSpins bounds how many pauses the next waiter burns before yielding its P.
const nextInLineSpins = 64

// Lock acquires the lock, spinning until every earlier ticket has been served.
// Goroutines further back in the queue yield their processor between checks so that
// the holder and the next waiter keep running when goroutines outnumber CPUs.
func (l *Lock[T]) Lock() {
	my, head := l.take()
	if head == my {
		return // Uncontended.
	}
	l.wait(my)
}

// take draws a ticket. It returns the ticket and the head observed at the same instant.
func (l *Lock[T]) take() (my, head T) {
	inc := tailOne[T]()
	head, my = unpack[T](l.word.Add(inc) - inc)
	if debugChecks && uint64(my-head) == Capacity[T]() {
		panic("ticket: more goroutines waiting than the lock's capacity")
	}
	return my, head
}

// wait spins until head reaches my.
func (l *Lock[T]) wait(my T) {
	var spins int
	for {
		head, _ := unpack[T](l.word.Load())
		if head == my {
			return
		}
		spin.Pause()

		// Only the next in line keeps the CPU, and only for a while.
		if my-head > 1 || spins >= nextInLineSpins {
			spins = 0
			spin.Yield()
			continue
		}
		spins++
	}
}

// Unlock releases the lock. It must be called exactly once by the goroutine that
// acquired it.
func (l *Lock[T]) Unlock() {
	head, tail := l.tickets()
	if debugChecks && head == tail {
		panic("ticket: unlock of unlocked lock")
	}

	// Only the holder moves head, so the value read above is still current. When head
	// is about to wrap, subtract the carry that would otherwise land in tail.
	delta := uint64(1)
	if head == ^T(0) {
		delta -= tailOne[T]()
	}
	l.word.Add(delta)
}

// tickets returns a snapshot of the counters.
func (l *Lock[T]) tickets() (head, tail T) { return unpack[T](l.word.Load()) }

// PaddedLock is a Lock padded to a full cache line, for locks that sit next to other
// frequently written data.
type PaddedLock[T Ticket] struct {
	l Lock[T]
	_ cpu.CacheLinePad
}

// Init resets the lock to the unlocked state. It must not race with any other method.
func (p *PaddedLock[T]) Init() { p.l.Init() }

// Lock acquires the lock. See Lock.Lock.
func (p *PaddedLock[T]) Lock() { p.l.Lock() }

// Unlock releases the lock.
func (p *PaddedLock[T]) Unlock() { p.l.Unlock() }

// TryLock attempts to acquire the lock without blocking.
func (p *PaddedLock[T]) TryLock() bool { return p.l.TryLock() }
