package sched

import (
	"fmt"

	"github.com/bitrunq/bitrunq/model/cpuset"
	"github.com/bitrunq/bitrunq/model/task"
	"github.com/bitrunq/bitrunq/telemetry"
)

// WakeResult reports how a wakeup was delivered.
type WakeResult int

const (
	// WakeNoop: the task was not blocked, the wait kind did not match,
	// or another waker won the race.
	WakeNoop WakeResult = iota
	// WakeEnqueued: the task was queued on the chosen core.
	WakeEnqueued
	// WakeRemoteQueued: the chosen core does not share cache with the
	// waker, so the task was handed off through its inbox.
	WakeRemoteQueued
	// WakePreempt: the task was queued and displaced the core's current
	// task from the head of the queue.
	WakePreempt
)

// String returns the result name.
func (r WakeResult) String() string {
	switch r {
	case WakeEnqueued:
		return "enqueued"
	case WakeRemoteQueued:
		return "remote-queued"
	case WakePreempt:
		return "preempt"
	}
	return "noop"
}

// Wake makes a blocked task runnable regardless of its wait kind.
func (s *Scheduler) Wake(t *task.Task) (WakeResult, error) {
	return s.WakeFrom(t, task.NoCPU, task.WaitAny)
}

// WakeKind wakes a blocked task only if its wait kind matches.
func (s *Scheduler) WakeKind(t *task.Task, kind task.WaitKind) (WakeResult, error) {
	return s.WakeFrom(t, task.NoCPU, kind)
}

// WakeByID wakes a registered task by its id, for callers that hold an id
// rather than a task reference (completion callbacks, external signals).
func (s *Scheduler) WakeByID(id uint64) (WakeResult, error) {
	t, ok := s.Lookup(id)
	if !ok {
		return WakeNoop, fmt.Errorf("%w: %d", ErrUnknownTask, id)
	}
	return s.WakeFrom(t, task.NoCPU, task.WaitAny)
}

// WakeFrom wakes a blocked task, naming the core the waker runs on so the
// handoff can stay cache-local. Concurrent wakers race on a single atomic
// state transition; exactly one delivers the wakeup and the rest observe
// WakeNoop. The winner waits for the task's previous core to finish
// descheduling it before the task becomes runnable anywhere else.
func (s *Scheduler) WakeFrom(t *task.Task, from int, kind task.WaitKind) (WakeResult, error) {
	t.Lock()
	defer t.Unlock()
	if !t.WaitMatches(kind) {
		return WakeNoop, nil
	}
	activeSet := s.active.Snapshot()
	var allowed cpuset.Set
	if !allowed.And(&t.Allowed, &activeSet) {
		return WakeNoop, ErrNoEligibleCore
	}
	if !t.CompareAndSwapState(task.StateBlocked, task.StateQueued) {
		return WakeNoop, nil
	}
	// This waker owns the task until it is enqueued. Wait out the old
	// core's switch so the dequeue side's writes are visible.
	t.OnCPU.WaitCleared()

	cpu, _, err := s.selectCore(t)
	if err != nil {
		t.SetState(task.StateBlocked)
		return WakeNoop, err
	}
	if from >= 0 && from != cpu && !s.topo.CacheShare(from, cpu) {
		c := s.cores[cpu]
		t.SetCPU(cpu)
		if c.box.tryPush(func(dst *Core) { s.finishWake(dst, t) }) {
			c.needResched.Store(true)
			if !s.active.Has(cpu) {
				// The target raced offline after the push; settle
				// its inbox for it.
				s.settleOffline(c)
			}
			return WakeRemoteQueued, nil
		}
		// Full inbox: take the lock ourselves.
	}
	c, err := s.lockTarget(t)
	if err != nil {
		t.SetState(task.StateBlocked)
		return WakeNoop, err
	}
	c.updateClock()
	preempted := s.finishWake(c, t)
	c.mu.Unlock()
	if preempted {
		return WakePreempt, nil
	}
	return WakeEnqueued, nil
}

// finishWake enqueues a woken task on dst and reports whether it should
// preempt dst's current task. Caller holds dst.mu with the clock fresh.
// An affinity or online change that slipped in during a remote handoff is
// repaired by pushing the task onward.
func (s *Scheduler) finishWake(dst *Core, t *task.Task) bool {
	s.policy.Wake(t, dst)
	s.policy.Sanity(t, dst)
	t.WokenAt = dst.clock
	slept := dst.clock - t.LastRan
	preempted := dst.enqueue(t)
	dst.emit(telemetry.KindWakeup, t, func(ev *telemetry.Event) {
		ev.LatencyNS = slept
	})
	if preempted {
		dst.emit(telemetry.KindPreempt, t, nil)
	}
	if (!dst.online || !t.Allowed.Has(dst.id)) && t.MigrationAllowed() {
		s.pushAway(dst, t)
	}
	return preempted
}
