// Package spin exposes the runtime's busy-wait hint to the lock implementations.
package spin

import (
	"runtime"
	_ "unsafe" // for linkname
)

// Pause executes a short burst of CPU pause instructions (PAUSE on amd64, YIELD on
// arm64) without giving up the processor.
func Pause() { runtime_doSpin() }

// Yield gives up the processor so other goroutines can run. The calling goroutine
// stays runnable and is rescheduled without being parked.
func Yield() { runtime.Gosched() }

// nolint:all
//
//go:linkname runtime_doSpin sync.runtime_doSpin
func runtime_doSpin()
