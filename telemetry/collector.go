package telemetry

import (
	"context"
	"sync/atomic"

	"github.com/bitrunq/bitrunq/internal/idgen"
)

// Kind discriminates scheduler events.
type Kind int

const (
	KindDispatch Kind = iota
	KindWakeup
	KindSliceExpire
	KindMigrate
	KindPull
	KindActiveBalance
	KindGoIdle
	KindPreempt
)

// String returns the event kind name.
func (k Kind) String() string {
	switch k {
	case KindDispatch:
		return "dispatch"
	case KindWakeup:
		return "wakeup"
	case KindSliceExpire:
		return "slice-expire"
	case KindMigrate:
		return "migrate"
	case KindPull:
		return "pull"
	case KindActiveBalance:
		return "active-balance"
	case KindGoIdle:
		return "go-idle"
	case KindPreempt:
		return "preempt"
	}
	return "unknown"
}

// Event is one scheduler occurrence. Durations are filled only where they
// apply: WaitNS on dispatch, RunNS on deschedule-like events, LatencyNS on
// wakeup.
type Event struct {
	ID        string
	Kind      Kind
	Core      int
	Task      uint64
	TaskTrace string
	WaitNS    int64
	RunNS     int64
	LatencyNS int64
	ClockNS   int64
}

// Counters is a consistent-enough snapshot of the collector's totals.
type Counters struct {
	Dispatches     uint64
	Wakeups        uint64
	SliceExpiries  uint64
	Migrations     uint64
	Pulls          uint64
	ActiveBalances uint64
	IdleSwitches   uint64
	Preemptions    uint64
	Dropped        uint64

	WaitNS        int64
	RunNS         int64
	WakeLatencyNS int64
}

// Collector receives events from cores. Emit never blocks: counters are
// updated with atomic adds and the event is forwarded to the consumer
// channel only if there is room, otherwise it is counted as dropped. A nil
// collector discards everything.
type Collector struct {
	ch chan Event

	dispatches     atomic.Uint64
	wakeups        atomic.Uint64
	sliceExpiries  atomic.Uint64
	migrations     atomic.Uint64
	pulls          atomic.Uint64
	activeBalances atomic.Uint64
	idleSwitches   atomic.Uint64
	preemptions    atomic.Uint64
	dropped        atomic.Uint64

	waitNS        atomic.Int64
	runNS         atomic.Int64
	wakeLatencyNS atomic.Int64
}

// NewCollector returns a collector with the given consumer buffer. A buffer
// of zero disables forwarding; counters still accumulate.
func NewCollector(buffer int) *Collector {
	c := &Collector{}
	if buffer > 0 {
		c.ch = make(chan Event, buffer)
	}
	return c
}

// Emit records ev. It is called from dispatch paths with queue locks held
// and therefore must not block.
func (c *Collector) Emit(ev Event) {
	if c == nil {
		return
	}
	switch ev.Kind {
	case KindDispatch:
		c.dispatches.Add(1)
		c.waitNS.Add(ev.WaitNS)
	case KindWakeup:
		c.wakeups.Add(1)
		c.wakeLatencyNS.Add(ev.LatencyNS)
	case KindSliceExpire:
		c.sliceExpiries.Add(1)
		c.runNS.Add(ev.RunNS)
	case KindMigrate:
		c.migrations.Add(1)
	case KindPull:
		c.pulls.Add(1)
	case KindActiveBalance:
		c.activeBalances.Add(1)
	case KindGoIdle:
		c.idleSwitches.Add(1)
	case KindPreempt:
		c.preemptions.Add(1)
	}
	if c.ch == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = idgen.New()
	}
	select {
	case c.ch <- ev:
	default:
		c.dropped.Add(1)
	}
}

// Consume invokes fn for every forwarded event until ctx is cancelled. It is
// meant to run on a host goroutine; the scheduler never blocks on it.
func (c *Collector) Consume(ctx context.Context, fn func(Event)) {
	if c == nil || c.ch == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.ch:
			fn(ev)
		}
	}
}

// Snapshot returns the current totals.
func (c *Collector) Snapshot() Counters {
	if c == nil {
		return Counters{}
	}
	return Counters{
		Dispatches:     c.dispatches.Load(),
		Wakeups:        c.wakeups.Load(),
		SliceExpiries:  c.sliceExpiries.Load(),
		Migrations:     c.migrations.Load(),
		Pulls:          c.pulls.Load(),
		ActiveBalances: c.activeBalances.Load(),
		IdleSwitches:   c.idleSwitches.Load(),
		Preemptions:    c.preemptions.Load(),
		Dropped:        c.dropped.Load(),
		WaitNS:         c.waitNS.Load(),
		RunNS:          c.runNS.Load(),
		WakeLatencyNS:  c.wakeLatencyNS.Load(),
	}
}
