// Package sched is the scheduler service: per-core bitmap run queues, the
// dispatch loop, the wakeup protocol and cross-core balancing, glued
// together by a topology classification built at initialization.
//
// The service is event driven. The host owns the execution threads and
// drives each core through Tick and Schedule; the service decides what
// runs where. Each core's state is guarded by its own lock; cross-core
// decisions read shared atomic hint masks first and re-validate under the
// target core's lock before acting on them.
package sched

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/emirpasic/gods/maps/linkedhashmap"

	"github.com/bitrunq/bitrunq/internal/clock"
	"github.com/bitrunq/bitrunq/model/cpuset"
	"github.com/bitrunq/bitrunq/model/task"
	"github.com/bitrunq/bitrunq/policy"
	"github.com/bitrunq/bitrunq/telemetry"
	"github.com/bitrunq/bitrunq/topology"
)

// Scheduler coordinates a fixed set of cores. Construct with New; the
// zero value is not usable.
type Scheduler struct {
	config    Config
	sliceNS   int64
	policy    policy.Policy
	topo      *topology.Topology
	collector *telemetry.Collector

	cores []*Core

	// corePrio caches each core's highest occupied queue level. It is a
	// wake-time hint only; preemption decisions are re-made under the
	// target lock.
	corePrio []atomic.Int32

	// Shared hint masks. active is authoritative (guarded by hotplug),
	// the rest trail the per-core state they summarize.
	active    cpuset.Atomic
	idle      cpuset.Atomic
	sgIdle    cpuset.Atomic
	pcoreIdle cpuset.Atomic
	ecoreIdle cpuset.Atomic
	pending   cpuset.Atomic

	regMu sync.Mutex
	tasks *linkedhashmap.Map
}

// Option overrides a piece of the scheduler's construction.
type Option func(*Scheduler)

// WithPolicy overrides the configured priority policy.
func WithPolicy(p policy.Policy) Option {
	return func(s *Scheduler) { s.policy = p }
}

// WithTopology supplies a prebuilt topology instead of loading one from
// the config's topology path.
func WithTopology(t *topology.Topology) Option {
	return func(s *Scheduler) { s.topo = t }
}

// WithCollector attaches an event collector.
func WithCollector(c *telemetry.Collector) Option {
	return func(s *Scheduler) { s.collector = c }
}

// New builds a scheduler. All cores start online and idle.
func New(cfg Config, opts ...Option) (*Scheduler, error) {
	cfg = cfg.sanitize()
	if cfg.Cores > cpuset.MaxCPUs {
		return nil, fmt.Errorf("sched: %d cores exceeds the %d supported", cfg.Cores, cpuset.MaxCPUs)
	}
	s := &Scheduler{
		config:  cfg,
		sliceNS: cfg.SliceNS(),
		tasks:   linkedhashmap.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.policy == nil {
		p, err := policy.Select(cfg.Policy, s.sliceNS)
		if err != nil {
			return nil, err
		}
		s.policy = p
	}
	if s.topo == nil {
		s.topo = topology.Load(cfg.Topology, cfg.Cores)
	}
	if s.topo.NumCores() != cfg.Cores {
		return nil, fmt.Errorf("sched: topology describes %d cores, config has %d",
			s.topo.NumCores(), cfg.Cores)
	}

	s.cores = make([]*Core, cfg.Cores)
	s.corePrio = make([]atomic.Int32, cfg.Cores)
	for i := range s.cores {
		s.cores[i] = newCore(s, i)
		s.active.Set(i)
		s.cores[i].updateHints()
	}
	return s, nil
}

// NumCores returns the configured core count.
func (s *Scheduler) NumCores() int { return len(s.cores) }

// Policy returns the active priority policy.
func (s *Scheduler) Policy() policy.Policy { return s.policy }

// Topology returns the core classification.
func (s *Scheduler) Topology() *topology.Topology { return s.topo }

// NeedResched reports whether a core should call Schedule soon. The flag
// is a hint; Schedule is always safe to call.
func (s *Scheduler) NeedResched(cpu int) bool {
	if cpu < 0 || cpu >= len(s.cores) {
		return false
	}
	return s.cores[cpu].needResched.Load()
}

// CoreOnline reports whether a core is active.
func (s *Scheduler) CoreOnline(cpu int) bool {
	if cpu < 0 || cpu >= len(s.cores) {
		return false
	}
	return s.active.Has(cpu)
}

// Current returns the task running on a core.
func (s *Scheduler) Current(cpu int) (*task.Task, error) {
	c, err := s.core(cpu)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.curr, nil
}

// Lookup finds a registered task by id.
func (s *Scheduler) Lookup(id uint64) (*task.Task, bool) {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	v, ok := s.tasks.Get(id)
	if !ok {
		return nil, false
	}
	return v.(*task.Task), true
}

// Tasks returns a snapshot of all registered tasks in submission order.
func (s *Scheduler) Tasks() []*task.Task {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	out := make([]*task.Task, 0, s.tasks.Size())
	s.tasks.Each(func(_, v interface{}) {
		out = append(out, v.(*task.Task))
	})
	return out
}

// CheckConsistency verifies every core's queue invariant. A non-nil
// return is a programming bug; tests call this after stress runs.
func (s *Scheduler) CheckConsistency() error {
	for _, c := range s.cores {
		c.mu.Lock()
		err := c.queue.CheckConsistency()
		c.mu.Unlock()
		if err != nil {
			return fmt.Errorf("core %d: %w", c.id, err)
		}
	}
	return nil
}

func (s *Scheduler) core(cpu int) (*Core, error) {
	if cpu < 0 || cpu >= len(s.cores) {
		return nil, fmt.Errorf("%w: %d", ErrBadCore, cpu)
	}
	return s.cores[cpu], nil
}

func (s *Scheduler) register(t *task.Task) {
	s.regMu.Lock()
	s.tasks.Put(t.ID, t)
	s.regMu.Unlock()
}

func (s *Scheduler) unregister(t *task.Task) {
	s.regMu.Lock()
	s.tasks.Remove(t.ID)
	s.regMu.Unlock()
}

// Mask maintenance. Called from Core.updateHints with the core lock held.

func (s *Scheduler) markIdle(cpu int) {
	s.idle.Set(cpu)
	if s.topo.PCoreMask().Has(cpu) {
		s.pcoreIdle.Set(cpu)
	} else if s.topo.ECoreMask().Has(cpu) {
		s.ecoreIdle.Set(cpu)
	}
	group := s.topo.SMTGroup(cpu)
	if group.Weight() > 1 {
		idle := s.idle.Snapshot()
		if group.Subset(&idle) {
			group.ForEach(func(sib int) bool {
				s.sgIdle.Set(sib)
				return true
			})
		}
	}
}

func (s *Scheduler) markBusy(cpu int) {
	s.idle.Clear(cpu)
	s.pcoreIdle.Clear(cpu)
	s.ecoreIdle.Clear(cpu)
	group := s.topo.SMTGroup(cpu)
	if group.Weight() > 1 {
		group.ForEach(func(sib int) bool {
			s.sgIdle.Clear(sib)
			return true
		})
	}
}

func (s *Scheduler) markOffline(cpu int) {
	s.markBusy(cpu)
	s.pending.Clear(cpu)
}

func (s *Scheduler) maskSnapshot(k topology.MaskKind) cpuset.Set {
	switch k {
	case topology.MaskSGIdle:
		return s.sgIdle.Snapshot()
	case topology.MaskPCoreIdle:
		return s.pcoreIdle.Snapshot()
	case topology.MaskECoreIdle:
		return s.ecoreIdle.Snapshot()
	}
	return s.idle.Snapshot()
}

// hintContext is a detached RunContext used for wake-time level estimates
// taken outside any core lock. The rotation edge derives from the global
// clock alone, so the estimate matches what the target core will compute.
type hintContext struct {
	clock int64
	slice int64
	edge  uint64
}

func (h hintContext) ClockNS() int64      { return h.clock }
func (h hintContext) LastSwitchNS() int64 { return h.clock }
func (h hintContext) SliceNS() int64      { return h.slice }
func (h hintContext) Edge() uint64        { return h.edge }

func (s *Scheduler) levelHint(t *task.Task) int {
	now := clock.NowNS()
	return s.policy.Level(t, hintContext{
		clock: now,
		slice: s.sliceNS,
		edge:  s.policy.EdgeOf(now),
	})
}

// selectCore picks the core a waking or newly submitted task should run
// on: the previous core if idle, otherwise the nearest idle core in
// topology preference order, otherwise a core the task would preempt,
// otherwise the previous core's neighborhood. The second result reports
// whether the pick was made expecting a preemption.
func (s *Scheduler) selectCore(t *task.Task) (int, bool, error) {
	activeSet := s.active.Snapshot()
	var allowed cpuset.Set
	if !allowed.And(&t.Allowed, &activeSet) {
		return task.NoCPU, false, ErrNoEligibleCore
	}

	for _, k := range s.topo.IdleMaskOrder() {
		m := s.maskSnapshot(k)
		var pick cpuset.Set
		if pick.And(&allowed, &m) {
			return s.bestCPU(t.CPU(), pick), false, nil
		}
	}

	hint := s.levelHint(t)
	var pre cpuset.Set
	allowed.ForEach(func(cpu int) bool {
		if int(s.corePrio[cpu].Load()) > hint {
			pre.Set(cpu)
		}
		return true
	})
	if !pre.Empty() {
		return s.bestCPU(t.CPU(), pre), true, nil
	}
	return s.bestCPU(t.CPU(), allowed), false, nil
}

// bestCPU picks from mask preferring prev, then prev's topology tiers
// nearest first.
func (s *Scheduler) bestCPU(prev int, mask cpuset.Set) int {
	if prev >= 0 && prev < len(s.cores) {
		if mask.Has(prev) {
			return prev
		}
		for _, tier := range s.topo.Tiers(prev) {
			var near cpuset.Set
			if near.And(&mask, &tier) {
				return near.First()
			}
		}
	}
	return mask.First()
}
