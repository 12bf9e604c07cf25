package sched

import (
	"github.com/bitrunq/bitrunq/model/cpuset"
	"github.com/bitrunq/bitrunq/model/task"
	"github.com/bitrunq/bitrunq/telemetry"
	"github.com/bitrunq/bitrunq/topology"
)

// pullTasks steals queued work for a core about to go idle. Donors are
// taken from the pending hint mask, nearest topology tier first; each is
// TryLocked so two cores can never deadlock pulling from each other.
// Caller holds c.mu.
func (s *Scheduler) pullTasks(c *Core) bool {
	pendingSet := s.pending.Snapshot()
	pendingSet.Clear(c.id)
	if pendingSet.Empty() {
		return false
	}
	for _, tier := range s.topo.Tiers(c.id) {
		var donors cpuset.Set
		if !donors.And(&pendingSet, &tier) {
			continue
		}
		pulled := false
		donors.ForEachWrap(c.id, func(cpu int) bool {
			d := s.cores[cpu]
			if !d.mu.TryLock() {
				return true
			}
			n := s.movePending(d, c)
			d.mu.Unlock()
			if n > 0 {
				c.emit(telemetry.KindPull, nil, nil)
				pulled = true
				return false
			}
			return true
		})
		if pulled {
			return true
		}
	}
	return false
}

// movePending migrates up to half of src's runnable tasks, capped by the
// configured batch, to dst. The running task, pinned tasks and tasks not
// allowed on dst stay. Both locks held.
func (s *Scheduler) movePending(src, dst *Core) int {
	if !src.online || src.nrRunning < 2 {
		return 0
	}
	limit := src.nrRunning / 2
	if limit > s.config.MigrateBatch {
		limit = s.config.MigrateBatch
	}
	moved := 0
	t := src.queue.PeekHighest()
	for t != nil && moved < limit {
		next := src.queue.Next(t)
		if t != src.curr && !t.IsIdle() && t.State() == task.StateQueued &&
			t.MigrationAllowed() && t.Allowed.Has(dst.id) {
			s.moveLocked(t, src, dst)
			moved++
		}
		t = next
	}
	return moved
}

// prioBalance runs periodically on loaded cores and pushes queued tasks
// to cores they would preempt, correcting placements that wake-time
// selection got wrong or that drifted. Caller holds c.mu.
func (s *Scheduler) prioBalance(c *Core) {
	if c.nrRunning < 2 {
		return
	}
	activeSet := s.active.Snapshot()
	scanned := 0
	t := c.queue.PeekHighest()
	for t != nil && scanned < s.config.MigrateBatch {
		next := c.queue.Next(t)
		scanned++
		if t == c.curr || t.IsIdle() || t.State() != task.StateQueued || !t.MigrationAllowed() {
			t = next
			continue
		}
		level := s.policy.Level(t, c)
		var targets cpuset.Set
		if targets.And(&t.Allowed, &activeSet) {
			targets.Clear(c.id)
		}
		var pre cpuset.Set
		targets.ForEach(func(cpu int) bool {
			if int(s.corePrio[cpu].Load()) > level {
				pre.Set(cpu)
			}
			return true
		})
		if !pre.Empty() {
			d := s.cores[s.bestCPU(c.id, pre)]
			if d.mu.TryLock() {
				if d.online && d.queue.HighestLevel() > level {
					d.updateClock()
					s.moveLocked(t, c, d)
					d.needResched.Store(true)
				}
				d.mu.Unlock()
			}
		}
		t = next
	}
}

// activeBalance runs when a core goes idle with nothing to pull: queued
// work is gone, but a poorly placed running task may still exist, for
// example a lone task sharing an SMT group while whole groups sit idle,
// or a task on an efficiency core while performance cores are free. The
// callback kind comes from the core's topology classification; the donor
// is asked to push its running task at its next dispatch. Caller holds
// c.mu.
func (s *Scheduler) activeBalance(c *Core) {
	kind := s.topo.Balance(c.id)
	if kind == topology.BalanceNone {
		return
	}
	activeSet := s.active.Snapshot()
	idleSet := s.idle.Snapshot()
	pendingSet := s.pending.Snapshot()

	// Cores running exactly one task.
	var single cpuset.Set
	single.AndNot(&activeSet, &idleSet)
	single.AndNot(&single, &pendingSet)
	single.Clear(c.id)
	if single.Empty() {
		return
	}

	switch kind {
	case topology.BalanceSMT:
		s.smtGroupSource(c, single, s.sgIdle.Snapshot())
	case topology.BalanceSMTPCore:
		if !s.smtGroupSource(c, single, s.sgIdle.Snapshot()) {
			s.plainSource(c, single, s.topo.ECoreMask(), s.sgIdle.Snapshot())
		}
	case topology.BalancePCore:
		s.plainSource(c, single, s.topo.ECoreMask(), s.pcoreIdle.Snapshot())
	case topology.BalanceECore:
		if s.pcoreIdle.Snapshot().Empty() {
			s.smtGroupSource(c, single, s.ecoreIdle.Snapshot())
		}
	}
}

// smtGroupSource looks for a donor whose entire SMT group runs one task
// per sibling; moving one sibling's task to targets relieves the whole
// group.
func (s *Scheduler) smtGroupSource(c *Core, single, targets cpuset.Set) bool {
	if targets.Empty() {
		return false
	}
	smt := s.topo.SMTMask()
	var cand cpuset.Set
	if !cand.And(&single, &smt) {
		return false
	}
	found := false
	cand.ForEachWrap(c.id, func(cpu int) bool {
		group := s.topo.SMTGroup(cpu)
		if group.Subset(&single) && s.triggerActive(cpu, targets) {
			found = true
			return false
		}
		return true
	})
	return found
}

// plainSource looks for a donor among the given class of cores.
func (s *Scheduler) plainSource(c *Core, single, donors, targets cpuset.Set) bool {
	if targets.Empty() {
		return false
	}
	var cand cpuset.Set
	if !cand.And(&single, &donors) {
		return false
	}
	found := false
	cand.ForEachWrap(c.id, func(cpu int) bool {
		if s.triggerActive(cpu, targets) {
			found = true
			return false
		}
		return true
	})
	return found
}

// triggerActive arms a forced migration on a donor running a single
// task. The donor completes it at its next dispatch, after the task has
// been switched out; everything is re-validated there.
func (s *Scheduler) triggerActive(donorID int, targets cpuset.Set) bool {
	d := s.cores[donorID]
	if !d.mu.TryLock() {
		return false
	}
	defer d.mu.Unlock()
	if !d.online || d.balance.active || d.nrRunning != 1 ||
		d.curr.IsIdle() || !d.curr.MigrationAllowed() {
		return false
	}
	var dsts cpuset.Set
	if !dsts.And(&d.curr.Allowed, &targets) {
		return false
	}
	d.balance = balanceArg{active: true, t: d.curr, targets: targets}
	d.needResched.Store(true)
	return true
}

// finishActiveBalance executes an armed forced migration on the donor
// once its lone task has been switched out. Caller holds c.mu.
func (s *Scheduler) finishActiveBalance(c *Core) {
	arg := c.balance
	c.balance = balanceArg{}
	t := arg.t
	if !arg.active || t == nil {
		return
	}
	if t.CPU() != c.id || !t.Queued() || t == c.curr || !t.MigrationAllowed() {
		return
	}
	activeSet := s.active.Snapshot()
	var dsts cpuset.Set
	if !dsts.And(&arg.targets, &activeSet) {
		c.needResched.Store(true)
		return
	}
	if !dsts.And(&dsts, &t.Allowed) {
		c.needResched.Store(true)
		return
	}
	dsts.Clear(c.id)
	if dsts.Empty() {
		c.needResched.Store(true)
		return
	}
	d := s.cores[s.bestCPU(c.id, dsts)]
	if d.mu.TryLock() {
		if d.online {
			d.updateClock()
			s.moveLocked(t, c, d)
			d.needResched.Store(true)
			c.emit(telemetry.KindActiveBalance, t, nil)
		}
		d.mu.Unlock()
	}
	if t.CPU() == c.id {
		// The move fell through; keep running it here.
		c.needResched.Store(true)
	}
}
