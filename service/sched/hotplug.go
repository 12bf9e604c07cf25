package sched

import (
	"fmt"

	"github.com/bitrunq/bitrunq/model/task"
)

// DeactivateCore removes a core from wake-time selection and migrates its
// queued tasks to the remaining online cores. A task running on the core
// keeps running until its next deschedule and is pushed away then. Tasks
// pinned to the core cannot be drained; they stay queued, wait for
// reactivation and are reported through ErrPinnedTasks.
func (s *Scheduler) DeactivateCore(cpu int) error {
	c, err := s.core(cpu)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.online {
		return fmt.Errorf("%w: %d", ErrCoreOffline, cpu)
	}
	activeSet := s.active.Snapshot()
	if activeSet.Weight() <= 1 {
		return fmt.Errorf("%w: core %d is the last online core", ErrNoEligibleCore, cpu)
	}
	c.online = false
	s.active.Clear(cpu)
	c.updateClock()
	c.drainInbox()
	pinned := s.drainQueued(c)
	c.updateHints()
	c.needResched.Store(true)
	if pinned > 0 {
		return fmt.Errorf("%w: %d on core %d", ErrPinnedTasks, pinned, cpu)
	}
	return nil
}

// ActivateCore brings a core back into wake-time selection. Tasks that
// stayed pinned to it while it was offline become runnable candidates
// again at its next dispatch.
func (s *Scheduler) ActivateCore(cpu int) error {
	c, err := s.core(cpu)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.online {
		return fmt.Errorf("%w: %d", ErrCoreOnline, cpu)
	}
	c.online = true
	s.active.Set(cpu)
	c.updateClock()
	c.drainInbox()
	c.updateHints()
	c.needResched.Store(true)
	return nil
}

// drainQueued pushes every movable queued task off c and returns how many
// could not be moved. Caller holds c.mu.
func (s *Scheduler) drainQueued(c *Core) int {
	pinned := 0
	limit := c.queue.Len()
	t := c.queue.PeekHighest()
	for t != nil && limit > 0 {
		limit--
		next := c.queue.Next(t)
		if !t.IsIdle() && t != c.curr && t.State() == task.StateQueued {
			if !t.MigrationAllowed() || !s.pushAway(c, t) {
				pinned++
			}
		}
		t = next
	}
	return pinned
}

// settleOffline drains the inbox and queue of a core that went offline
// between a remote handoff's selection and its delivery, so nothing
// strands there.
func (s *Scheduler) settleOffline(c *Core) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.online {
		return
	}
	c.updateClock()
	c.drainInbox()
	s.drainQueued(c)
	c.updateHints()
}
