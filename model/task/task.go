package task

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bitrunq/bitrunq/internal/idgen"
	"github.com/bitrunq/bitrunq/model/cpuset"
)

// Static priority domain. Realtime priorities occupy [0, MinNormalPrio);
// normal tasks occupy [MinNormalPrio, MaxPrio), i.e. nice -20..19 mapped
// onto 100..139. Numerically lower is higher priority throughout.
const (
	MinNormalPrio = 100
	NiceWidth     = 40
	MaxPrio       = MinNormalPrio + NiceWidth
	DefaultPrio   = MinNormalPrio + NiceWidth/2
)

// NoCPU marks a task not currently assigned to any core.
const NoCPU = -1

// NoSlot marks a task not held by any run queue arena.
const NoSlot = -2

// Task is the unit of scheduling. A task is conceptually owned by whichever
// core's run queue holds it; while blocked it is owned by the blocking
// primitive and referenced by no run queue.
//
// Field ownership: fields below the mutex comment are serialized by the task
// lock, the owning core's queue lock, or both, as annotated. The queue
// linkage fields are written only by the run queue that holds the task.
type Task struct {
	ID      uint64
	TraceID string
	Name    string

	// mu serializes transitions that happen before the task is visible to
	// any queue: the block→wake decision, affinity and priority updates.
	// Lock order is always task lock before any run-queue lock.
	mu sync.Mutex

	state    stateCell
	waitKind atomic.Int32

	// OnCPU is set while the task is current on a core and cleared, with
	// release semantics, once its deschedule completes. See ExecFlag.
	OnCPU ExecFlag

	StaticPrio int    // assigned at creation or SetPriority, never by dispatch
	Prio       int    // effective priority, realtime boosts land here
	Boost      int32  // boost-policy adjustment, owned by policy hooks
	Deadline   uint64 // deadline-policy virtual deadline, owned by policy hooks

	TimeSlice int64 // remaining slice ns; owning core lock
	LastRan   int64 // run-queue clock at last dispatch; owning core lock

	// cpu is the current core assignment. It is stored under the owning
	// core's lock but loaded locklessly by the owner-chasing task-lock
	// loop and by core selection; the chaser re-checks the value once the
	// putative owner's lock is held, so a stale load only costs a retry.
	cpu atomic.Int32

	Allowed cpuset.Set // affinity; task lock plus owning core lock

	MigrationDisabled int32 // nesting counter; owning core lock

	// Queue linkage, owned by the holding run queue.
	Level int
	Slot  int32

	// Accounting for the stats boundary; owning core lock.
	EnqueuedAt int64 // run-queue clock when last made runnable
	WokenAt    int64 // run-queue clock when last woken
	RunTime    int64 // total accounted runtime ns

	idle bool
}

// New creates a task in the New state with the given static priority and
// affinity. An empty affinity means "inherit" and is widened by the
// scheduler at submit time.
func New(name string, staticPrio int, allowed cpuset.Set) *Task {
	if staticPrio < 0 {
		staticPrio = 0
	} else if staticPrio >= MaxPrio {
		staticPrio = MaxPrio - 1
	}
	t := &Task{
		ID:         idgen.NextSeq(),
		TraceID:    idgen.New(),
		Name:       name,
		StaticPrio: staticPrio,
		Prio:       staticPrio,
		Slot:       NoSlot,
		Allowed:    allowed,
	}
	t.cpu.Store(NoCPU)
	t.state.store(StateNew)
	return t
}

// NewIdle creates the idle placeholder for a core. The placeholder is never
// absent from its core's queue and is picked only when nothing else is
// runnable.
func NewIdle(cpu int) *Task {
	t := New(fmt.Sprintf("idle/%d", cpu), MaxPrio-1, cpuset.OfCPUs(cpu))
	t.cpu.Store(int32(cpu))
	t.idle = true
	t.state.store(StateRunning)
	return t
}

// IsIdle reports whether the task is a core's idle placeholder.
func (t *Task) IsIdle() bool { return t.idle }

// IsRealtime reports whether the task belongs to the realtime class.
func (t *Task) IsRealtime() bool { return t.Prio < MinNormalPrio }

// State returns the current lifecycle state.
func (t *Task) State() State { return t.state.load() }

// SetState stores a new lifecycle state. Callers hold the lock that owns the
// transition (task lock or the owning core's queue lock).
func (t *Task) SetState(s State) { t.state.store(s) }

// CompareAndSwapState atomically transitions old→new and reports success.
// It is the exactly-once gate of the wakeup protocol: concurrent wakers race
// on the Blocked→Queued edge and only one wins.
func (t *Task) CompareAndSwapState(old, new State) bool {
	return t.state.compareAndSwap(old, new)
}

// CPU returns the task's current core assignment, NoCPU when unassigned.
func (t *Task) CPU() int { return int(t.cpu.Load()) }

// SetCPU records a new core assignment. Callers hold the destination
// core's lock (or, for a remote handoff, own the task exclusively).
func (t *Task) SetCPU(cpu int) { t.cpu.Store(int32(cpu)) }

// SetWaitKind records why the task is about to block.
func (t *Task) SetWaitKind(k WaitKind) { t.waitKind.Store(int32(k)) }

// WaitMatches reports whether a wakeup naming k may wake this task.
func (t *Task) WaitMatches(k WaitKind) bool {
	return k == WaitAny || WaitKind(t.waitKind.Load()) == k
}

// Lock acquires the task lock. See the lock-order note on the field.
func (t *Task) Lock() { t.mu.Lock() }

// Unlock releases the task lock.
func (t *Task) Unlock() { t.mu.Unlock() }

// Queued reports whether the task is linked into some run queue arena.
func (t *Task) Queued() bool { return t.Slot != NoSlot }

// MigrationAllowed reports whether balancers may move the task.
func (t *Task) MigrationAllowed() bool { return t.MigrationDisabled == 0 }

// String identifies the task in diagnostics.
func (t *Task) String() string {
	return fmt.Sprintf("task %d (%s) prio=%d cpu=%d state=%s",
		t.ID, t.Name, t.Prio, t.CPU(), t.State())
}
