package sched

import (
	"fmt"

	"github.com/bitrunq/bitrunq/model/task"
	"github.com/bitrunq/bitrunq/telemetry"
)

// Submit registers a new task and makes it runnable on the core wake-time
// selection picks. It returns the chosen core. An empty affinity mask
// inherits every described core.
func (s *Scheduler) Submit(t *task.Task) (int, error) {
	t.Lock()
	defer t.Unlock()
	if t.Allowed.Empty() {
		t.Allowed = s.topo.AllMask()
	}
	if !t.CompareAndSwapState(task.StateNew, task.StateQueued) {
		return task.NoCPU, fmt.Errorf("%w: %v", ErrAlreadySubmitted, t)
	}
	c, err := s.lockTarget(t)
	if err != nil {
		t.SetState(task.StateNew)
		return task.NoCPU, err
	}
	defer c.mu.Unlock()
	c.updateClock()
	s.policy.Fork(t, c)
	t.TimeSlice = s.sliceNS
	c.enqueue(t)
	s.register(t)
	return c.id, nil
}

// lockTarget picks a core for t and returns it locked and online. The
// idle-mask pick can race with a core going offline, so the selection is
// re-validated under the lock and retried.
func (s *Scheduler) lockTarget(t *task.Task) (*Core, error) {
	for attempt := 0; attempt <= len(s.cores); attempt++ {
		cpu, _, err := s.selectCore(t)
		if err != nil {
			return nil, err
		}
		c := s.cores[cpu]
		c.mu.Lock()
		if c.online {
			return c, nil
		}
		c.mu.Unlock()
	}
	return nil, ErrNoEligibleCore
}

// Tick charges elapsed time to the core's current task and expires its
// slice when it is used up. It returns true when the host should call
// Schedule.
func (s *Scheduler) Tick(cpu int) (bool, error) {
	c, err := s.core(cpu)
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updateClock()
	c.drainInbox()
	c.chargeCurr()
	if c.sliceExpired() {
		c.expireCurr()
	}
	if c.online && c.clock >= c.nextBalance {
		c.nextBalance = c.clock + 2*s.sliceNS
		s.prioBalance(c)
	}
	return c.needResched.Load(), nil
}

// Yield moves the core's current task behind its peers and lets the
// policy apply its voluntary-yield penalty. The host follows up with
// Schedule.
func (s *Scheduler) Yield(cpu int) error {
	c, err := s.core(cpu)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.curr
	if t.IsIdle() {
		return nil
	}
	c.updateClock()
	c.chargeCurr()
	s.policy.Yield(t, c)
	t.TimeSlice = s.sliceNS
	if t.Queued() {
		if c.queue.Requeue(t, s.policy.Level(t, c)) {
			c.updateHints()
		}
	}
	c.needResched.Store(true)
	return nil
}

// Block transitions the core's current task to the blocked state and
// removes it from the queue. The task stays marked on-CPU until the
// core's next Schedule completes the switch; a concurrent waker waits for
// that before requeueing, so the task can never be runnable on two cores.
func (s *Scheduler) Block(t *task.Task, kind task.WaitKind) error {
	t.Lock()
	defer t.Unlock()
	c, err := s.core(t.CPU())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotRunning, t)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.curr != t || t.State() != task.StateRunning {
		return fmt.Errorf("%w: %v", ErrNotRunning, t)
	}
	c.updateClock()
	c.chargeCurr()
	t.SetWaitKind(kind)
	s.policy.Deschedule(t, c)
	t.SetState(task.StateBlocked)
	c.dequeue(t)
	c.needResched.Store(true)
	return nil
}

// Exit transitions the core's current task to the dead state. The task is
// dropped from the registry once the core's next Schedule has switched
// away from it.
func (s *Scheduler) Exit(t *task.Task) error {
	t.Lock()
	defer t.Unlock()
	c, err := s.core(t.CPU())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotRunning, t)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.curr != t || t.State() != task.StateRunning {
		return fmt.Errorf("%w: %v", ErrNotRunning, t)
	}
	c.updateClock()
	c.chargeCurr()
	t.SetState(task.StateDead)
	c.dequeue(t)
	c.needResched.Store(true)
	return nil
}

// Schedule is the core's dispatch point: it settles pending remote work,
// expires the current slice if needed, pulls work when the core would
// otherwise go idle, and switches to the highest-priority queued task. It
// returns the task now current, the idle placeholder included.
func (s *Scheduler) Schedule(cpu int) (*task.Task, error) {
	c, err := s.core(cpu)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updateClock()
	c.drainInbox()
	c.chargeCurr()
	prev := c.curr
	if c.sliceExpired() {
		c.expireCurr()
	}

	if c.balance.active && c.balance.t != c.curr {
		s.finishActiveBalance(c)
	}

	next := c.queue.PeekHighest()
	forced := c.balance.active && next == c.balance.t && next == prev
	if forced {
		// A forced migration is armed for the running task; switch to
		// idle so it can be pushed out once it is off this core.
		next = c.idle
	}
	if !c.online {
		// An offline core dispatches nothing; the post-switch push
		// relocates whatever was still running here.
		next = c.idle
	}
	// prev may no longer run here; force the switch so the post-switch
	// push can relocate it.
	evict := !prev.IsIdle() && prev.Queued() &&
		prev.MigrationAllowed() && !prev.Allowed.Has(c.id)
	if evict && next == prev {
		if n := c.queue.Next(prev); n != nil {
			next = n
		}
	}
	if !forced && next.IsIdle() && c.online {
		// Idle or about to go idle: steal queued work from a loaded
		// core, or failing that ask a suitable donor to push its
		// running task toward the idle cores.
		if s.pullTasks(c) {
			next = c.queue.PeekHighest()
			if evict && next == prev {
				if n := c.queue.Next(prev); n != nil {
					next = n
				}
			}
		} else if next != prev {
			s.activeBalance(c)
		}
	}

	if next == prev {
		c.needResched.Store(false)
		return prev, nil
	}

	if !prev.IsIdle() && prev.State() == task.StateRunning {
		prev.SetState(task.StateQueued)
	}
	c.lastSwitch = c.clock
	c.lastAccount = c.clock
	c.curr = next
	if next.IsIdle() {
		c.emit(telemetry.KindGoIdle, nil, nil)
	} else {
		next.SetState(task.StateRunning)
		if next.TimeSlice < reschedNS {
			next.TimeSlice = s.sliceNS
		}
		next.LastRan = c.clock
		next.OnCPU.Begin()
		c.emit(telemetry.KindDispatch, next, func(ev *telemetry.Event) {
			ev.WaitNS = c.clock - next.EnqueuedAt
		})
	}

	// The release half of the wakeup handshake: only after every write
	// above may a waker requeue prev elsewhere.
	prev.OnCPU.Finish()
	c.needResched.Store(false)

	switch {
	case prev.State() == task.StateDead:
		s.unregister(prev)
	case !prev.IsIdle() && prev.Queued() && prev.MigrationAllowed() &&
		(!c.online || !prev.Allowed.Has(c.id)):
		// prev was preempted but may no longer run here.
		s.pushAway(c, prev)
	}
	if c.balance.active {
		s.finishActiveBalance(c)
	}

	return next, nil
}
