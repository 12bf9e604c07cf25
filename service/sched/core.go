package sched

import (
	"sync"
	"sync/atomic"

	"github.com/bitrunq/bitrunq/internal/clock"
	"github.com/bitrunq/bitrunq/model/cpuset"
	"github.com/bitrunq/bitrunq/model/task"
	"github.com/bitrunq/bitrunq/service/runqueue"
	"github.com/bitrunq/bitrunq/telemetry"
)

// Core is one logical CPU's scheduling state: the bitmap run queue, the
// current task, and the accounting clock. All mutable fields are owned by
// mu; balancers that cannot take mu in order use TryLock and give up
// rather than invert the lock order.
type Core struct {
	id    int
	sched *Scheduler

	mu    sync.Mutex
	queue *runqueue.Queue
	curr  *task.Task
	idle  *task.Task

	// nrRunning counts runnable non-idle tasks held by the queue, the
	// current task included. The idle placeholder never counts.
	nrRunning int
	online    bool

	clock       int64
	lastSwitch  int64
	lastAccount int64
	nextBalance int64

	balance balanceArg

	// needResched tells the host this core should call Schedule soon. It
	// is a hint: reading it stale is harmless, Schedule re-derives the
	// truth under the lock.
	needResched atomic.Bool

	box *inbox
}

// balanceArg is a pending forced migration: a donor core running exactly
// one task has been asked to push it toward targets. Owned by the donor's
// lock; the donor re-validates everything before acting.
type balanceArg struct {
	active  bool
	t       *task.Task
	targets cpuset.Set
}

func newCore(s *Scheduler, id int) *Core {
	c := &Core{
		id:     id,
		sched:  s,
		queue:  runqueue.New(),
		idle:   task.NewIdle(id),
		online: true,
		box:    newInbox(inboxDepth),
	}
	c.curr = c.idle
	c.idle.OnCPU.Begin()
	c.queue.Enqueue(c.idle, runqueue.IdleLevel)
	return c
}

// RunContext implementation; every method is called with c.mu held.

// ClockNS returns the core's last clock sample.
func (c *Core) ClockNS() int64 { return c.clock }

// LastSwitchNS returns the clock at the last context switch.
func (c *Core) LastSwitchNS() int64 { return c.lastSwitch }

// SliceNS returns the base time slice.
func (c *Core) SliceNS() int64 { return c.sched.sliceNS }

// Edge returns the queue's rotation edge.
func (c *Core) Edge() uint64 { return c.queue.Edge() }

// updateClock samples the clock and, for rotating policies, advances the
// queue's edge, aging whole levels at once.
func (c *Core) updateClock() {
	c.clock = clock.NowNS()
	if e := c.sched.policy.EdgeOf(c.clock); e > c.queue.Edge() {
		c.queue.SetEdge(e)
		c.updateHints()
	}
}

// chargeCurr charges the wall time since the last accounting point to the
// current task's slice.
func (c *Core) chargeCurr() {
	delta := c.clock - c.lastAccount
	c.lastAccount = c.clock
	if delta <= 0 || c.curr.IsIdle() {
		return
	}
	c.curr.TimeSlice -= delta
	c.curr.RunTime += delta
}

// sliceExpired reports whether the current task's remaining slice is too
// small to be worth dispatching again.
func (c *Core) sliceExpired() bool {
	return !c.curr.IsIdle() && c.curr.Queued() && c.curr.TimeSlice < reschedNS
}

// expireCurr resets the current task's slice, lets the policy age it, and
// requeues it at the tail of its (possibly new) level.
func (c *Core) expireCurr() {
	t := c.curr
	t.TimeSlice = c.sched.sliceNS
	c.sched.policy.Renew(t, c)
	if t.Queued() {
		if c.queue.Requeue(t, c.sched.policy.Level(t, c)) {
			c.updateHints()
		}
	}
	c.needResched.Store(true)
	c.emit(telemetry.KindSliceExpire, t, func(ev *telemetry.Event) {
		ev.RunNS = c.clock - c.lastSwitch
	})
}

// enqueue makes t runnable on this core and reports whether it displaced
// the current task from the head of the queue. Caller holds c.mu; t's
// state is already Queued.
func (c *Core) enqueue(t *task.Task) bool {
	t.SetCPU(c.id)
	t.EnqueuedAt = c.clock
	if t.TimeSlice < reschedNS {
		t.TimeSlice = c.sched.sliceNS
	}
	c.queue.Enqueue(t, c.sched.policy.Level(t, c))
	c.nrRunning++
	c.updateHints()
	if c.queue.PeekHighest() != c.curr {
		c.needResched.Store(true)
		return true
	}
	return false
}

// dequeue removes t from this core's queue. Caller holds c.mu.
func (c *Core) dequeue(t *task.Task) {
	c.queue.Dequeue(t)
	c.nrRunning--
	c.updateHints()
}

// updateHints refreshes the shared per-core priority hint and the global
// idle and pending masks after any queue mutation. The masks are hints:
// every consumer re-validates under the target core's lock before acting.
func (c *Core) updateHints() {
	s := c.sched
	s.corePrio[c.id].Store(int32(c.queue.HighestLevel()))
	if !c.online {
		s.markOffline(c.id)
		return
	}
	if c.nrRunning == 0 {
		s.markIdle(c.id)
	} else {
		s.markBusy(c.id)
	}
	if c.nrRunning > 1 {
		s.pending.Set(c.id)
	} else {
		s.pending.Clear(c.id)
	}
}

// drainInbox runs remote wakeups and forced-migration work addressed to
// this core. Caller holds c.mu.
func (c *Core) drainInbox() {
	c.box.drain(c)
}

// emit forwards an event to the collector, if any.
func (c *Core) emit(kind telemetry.Kind, t *task.Task, fill func(*telemetry.Event)) {
	col := c.sched.collector
	if col == nil {
		return
	}
	ev := telemetry.Event{
		Kind:    kind,
		Core:    c.id,
		ClockNS: c.clock,
	}
	if t != nil {
		ev.Task = t.ID
		ev.TaskTrace = t.TraceID
	}
	if fill != nil {
		fill(&ev)
	}
	col.Emit(ev)
}
