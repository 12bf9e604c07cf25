package task

import (
	"runtime"
	"sync/atomic"
)

// ExecFlag is the lock-free "currently executing" marker of a task.
//
// Happens-before contract: the core that finishes descheduling a task calls
// Finish, whose store is the release half of the pairing; a waker calls
// WaitCleared, whose load is the acquire half. Every write the descheduling
// core made before Finish (run-time accounting, state, core assignment) is
// therefore visible to the waker once WaitCleared returns, which is what
// bounds reordering between a deschedule and the wakeup that follows it.
// Go's sync/atomic operations are sequentially consistent, which is stronger
// than the release/acquire minimum this contract needs.
type ExecFlag struct {
	v atomic.Uint32
}

// Begin marks the task as executing on a core.
func (f *ExecFlag) Begin() { f.v.Store(1) }

// Finish marks the deschedule of the task as complete (release half).
func (f *ExecFlag) Finish() { f.v.Store(0) }

// Active reports whether the task is currently marked executing.
func (f *ExecFlag) Active() bool { return f.v.Load() != 0 }

// spinYieldInterval bounds how long WaitCleared busy-spins between yields.
const spinYieldInterval = 64

// WaitCleared spins until the flag clears (acquire half). The spin is bounded
// between scheduler yields; it never runs under a held run-queue lock.
func (f *ExecFlag) WaitCleared() {
	for i := 0; f.v.Load() != 0; i++ {
		if i%spinYieldInterval == spinYieldInterval-1 {
			runtime.Gosched()
		}
	}
}
