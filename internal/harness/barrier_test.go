package harness

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBarrierHoldsUntilAllArrive(t *testing.T) {
	const n = 10
	b := NewBarrier(n, 100*time.Microsecond)
	var passed atomic.Int32
	var wg sync.WaitGroup

	wg.Add(n - 1)
	for i := 0; i < n-1; i++ {
		go func() {
			defer wg.Done()
			b.Wait()
			passed.Add(1)
		}()
	}

	assert.Eventually(t, func() bool { return b.Arrived() == n-1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), passed.Load(), "No worker may pass before the last one arrives")

	b.Wait()
	wg.Wait()
	assert.Equal(t, int32(n-1), passed.Load())
	assert.Equal(t, n, b.Arrived())
}

func TestBarrierReset(t *testing.T) {
	b := NewBarrier(2, 100*time.Microsecond)

	for round := 0; round < 3; round++ {
		b.Reset()
		assert.Equal(t, 0, b.Arrived())

		done := make(chan struct{})
		go func() {
			b.Wait()
			close(done)
		}()
		b.Wait()
		<-done
		assert.Equal(t, 2, b.Arrived(), "round %d", round)
	}
}
