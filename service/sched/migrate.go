package sched

import (
	"github.com/bitrunq/bitrunq/model/cpuset"
	"github.com/bitrunq/bitrunq/model/task"
	"github.com/bitrunq/bitrunq/telemetry"
)

// lockOwner locks the core a task is assigned to, chasing concurrent
// migrations. It returns nil for tasks not assigned anywhere. Caller
// holds the task lock.
func (s *Scheduler) lockOwner(t *task.Task) *Core {
	for {
		cpu := t.CPU()
		if cpu < 0 || cpu >= len(s.cores) {
			return nil
		}
		c := s.cores[cpu]
		c.mu.Lock()
		if t.CPU() == cpu {
			return c
		}
		c.mu.Unlock()
	}
}

// SetAffinity replaces a task's affinity mask. The mask must intersect
// the online cores. A queued task that may no longer run where it is gets
// migrated immediately; a running one is evicted at its next deschedule.
func (s *Scheduler) SetAffinity(t *task.Task, set cpuset.Set) error {
	activeSet := s.active.Snapshot()
	var ok cpuset.Set
	if !ok.And(&set, &activeSet) {
		return ErrNoEligibleCore
	}
	t.Lock()
	defer t.Unlock()
	c := s.lockOwner(t)
	if c == nil {
		t.Allowed = set
		return nil
	}
	defer c.mu.Unlock()
	t.Allowed = set
	if set.Has(c.id) {
		return nil
	}
	switch {
	case c.curr == t:
		c.needResched.Store(true)
	case t.Queued() && t.MigrationAllowed():
		c.updateClock()
		s.pushAway(c, t)
	}
	return nil
}

// SetPriority changes a task's static priority and repositions it in its
// queue. Deadline-based levels pick up the new priority at the next
// renewal.
func (s *Scheduler) SetPriority(t *task.Task, staticPrio int) error {
	if staticPrio < 0 {
		staticPrio = 0
	} else if staticPrio >= task.MaxPrio {
		staticPrio = task.MaxPrio - 1
	}
	t.Lock()
	defer t.Unlock()
	c := s.lockOwner(t)
	if c == nil {
		t.StaticPrio = staticPrio
		t.Prio = staticPrio
		return nil
	}
	defer c.mu.Unlock()
	t.StaticPrio = staticPrio
	t.Prio = staticPrio
	if t.Queued() {
		c.updateClock()
		if c.queue.Requeue(t, s.policy.Level(t, c)) {
			c.updateHints()
		}
		if c.queue.PeekHighest() != c.curr {
			c.needResched.Store(true)
		}
	}
	return nil
}

// MigrateDisable pins a task to its current core. Calls nest.
func (s *Scheduler) MigrateDisable(t *task.Task) {
	t.Lock()
	defer t.Unlock()
	c := s.lockOwner(t)
	t.MigrationDisabled++
	if c != nil {
		c.mu.Unlock()
	}
}

// MigrateEnable undoes one MigrateDisable. When the last nesting level
// drops, an affinity violation that accrued meanwhile is repaired.
func (s *Scheduler) MigrateEnable(t *task.Task) {
	t.Lock()
	defer t.Unlock()
	c := s.lockOwner(t)
	if c == nil {
		if t.MigrationDisabled > 0 {
			t.MigrationDisabled--
		}
		return
	}
	defer c.mu.Unlock()
	if t.MigrationDisabled > 0 {
		t.MigrationDisabled--
	}
	if t.MigrationDisabled == 0 && t.Queued() && c.curr != t && !t.Allowed.Has(c.id) {
		c.updateClock()
		s.pushAway(c, t)
	}
}

// pushAway moves a queued task off c to the nearest core that may run it.
// Caller holds c.mu. The destination is taken with TryLock or through its
// inbox; a plain lock would invert the core lock order. When neither
// works the task stays put and a later pass retries.
func (s *Scheduler) pushAway(c *Core, t *task.Task) bool {
	activeSet := s.active.Snapshot()
	var allowed cpuset.Set
	if !allowed.And(&t.Allowed, &activeSet) {
		return false
	}
	allowed.Clear(c.id)
	if allowed.Empty() {
		return false
	}
	dst := s.bestCPU(c.id, allowed)
	c.dequeue(t)
	t.SetState(task.StateMigrating)
	t.SetCPU(dst)
	c.emit(telemetry.KindMigrate, t, nil)
	d := s.cores[dst]
	if d.mu.TryLock() {
		d.updateClock()
		s.acceptLocked(d, t)
		d.mu.Unlock()
		return true
	}
	if d.box.tryPush(func(dd *Core) { s.acceptLocked(dd, t) }) {
		d.needResched.Store(true)
		return true
	}
	t.SetState(task.StateQueued)
	c.enqueue(t)
	return false
}

// acceptLocked lands a migrated task on d. Caller holds d.mu. If the
// world changed during the handoff the task is pushed onward.
func (s *Scheduler) acceptLocked(d *Core, t *task.Task) {
	s.policy.Sanity(t, d)
	t.SetState(task.StateQueued)
	d.enqueue(t)
	if (!d.online || !t.Allowed.Has(d.id)) && t.MigrationAllowed() {
		s.pushAway(d, t)
	}
}

// moveLocked transfers a queued task between two cores whose locks are
// both held.
func (s *Scheduler) moveLocked(t *task.Task, src, dst *Core) {
	src.dequeue(t)
	t.SetState(task.StateMigrating)
	src.emit(telemetry.KindMigrate, t, nil)
	s.policy.Sanity(t, dst)
	t.SetState(task.StateQueued)
	dst.enqueue(t)
}
