package task

import "sync/atomic"

// State is the task lifecycle state. Transitions follow
//
//	New → Queued → Running ⇄ Queued → Blocked → Queued → … → Dead
//
// with Queued/Running → Migrating → Queued as a side path while a task is
// being moved between cores. A task in Migrating is visible in no run queue.
type State int32

const (
	StateNew State = iota
	StateQueued
	StateRunning
	StateBlocked
	StateMigrating
	StateDead
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateQueued:
		return "queued"
	case StateRunning:
		return "running"
	case StateBlocked:
		return "blocked"
	case StateMigrating:
		return "migrating"
	case StateDead:
		return "dead"
	}
	return "unknown"
}

type stateCell struct {
	v atomic.Int32
}

func (c *stateCell) load() State { return State(c.v.Load()) }

func (c *stateCell) store(s State) { c.v.Store(int32(s)) }

func (c *stateCell) compareAndSwap(old, new State) bool {
	return c.v.CompareAndSwap(int32(old), int32(new))
}

// WaitKind qualifies why a task blocked. A wakeup must name a matching kind
// (or WaitAny) or it is a no-op, mirroring wait-state matching on wakeup.
type WaitKind int32

const (
	// WaitAny matches every blocked task.
	WaitAny WaitKind = iota
	// WaitInterruptible marks a block that signals may interrupt.
	WaitInterruptible
	// WaitUninterruptible marks a block only its completion event may end.
	WaitUninterruptible
)
