package policy

import (
	"github.com/bitrunq/bitrunq/model/task"
	"github.com/bitrunq/bitrunq/service/runqueue"
)

// NameBoost selects the boost policy, the default.
const NameBoost = "boost"

// MaxBoost bounds the boost adjustment in either direction. A task's normal
// level is (static priority + boost) compressed two-to-one, so the
// adjustment can move a task at most MaxBoost/2 levels, which bounds
// worst-case starvation to the width of the normal range.
const MaxBoost = 4

// Boost assigns a small number of levels per static priority and ages tasks
// by watching their switch behavior: a task that switches out quickly (an
// interactive sleeper) is boosted, a task that burns whole slices is
// deboosted.
type Boost struct{}

// NewBoost returns the boost policy.
func NewBoost() *Boost { return &Boost{} }

// Name implements Policy.
func (*Boost) Name() string { return NameBoost }

// Level implements Policy.
func (*Boost) Level(t *task.Task, rc RunContext) int {
	if t.IsIdle() {
		return runqueue.IdleLevel
	}
	if t.IsRealtime() {
		return rtLevel(t)
	}
	return clampNormal(runqueue.MinNormalLevel +
		(t.Prio+int(t.Boost)-task.MinNormalPrio)/2)
}

// Fork implements Policy: a new task starts fully deboosted and earns its
// way up.
func (*Boost) Fork(t *task.Task, rc RunContext) { t.Boost = MaxBoost }

// Wake implements Policy: a task that slept for longer than a slice gets a
// boost, on the theory that it is interactive.
func (*Boost) Wake(t *task.Task, rc RunContext) {
	if rc.ClockNS()-t.LastRan > rc.SliceNS() {
		boost(t)
	}
}

// boostThreshold is how quickly a task must switch out to be considered
// interactive: from slice/32 at full boost down to slice/512 when deboosted.
func boostThreshold(t *task.Task, sliceNS int64) int64 {
	return sliceNS >> uint((14-int(t.Boost))/2)
}

// Deschedule implements Policy.
func (*Boost) Deschedule(t *task.Task, rc RunContext) {
	switched := rc.ClockNS() - rc.LastSwitchNS()
	if switched < boostThreshold(t, rc.SliceNS()) {
		boost(t)
	} else if switched > rc.SliceNS() {
		deboost(t)
	}
}

// Renew implements Policy: slice expiry is a requeue, not a priority change.
func (*Boost) Renew(t *task.Task, rc RunContext) {}

// Yield implements Policy: a yielding task drops to the bottom of its
// static priority's levels.
func (*Boost) Yield(t *task.Task, rc RunContext) { t.Boost = MaxBoost }

// Sanity implements Policy: boost state is core-independent.
func (*Boost) Sanity(t *task.Task, rc RunContext) {}

// EdgeOf implements Policy: the boost policy never rotates the queue.
func (*Boost) EdgeOf(clockNS int64) uint64 { return 0 }

func boost(t *task.Task) {
	if !t.IsRealtime() && t.Boost > -MaxBoost {
		t.Boost--
	}
}

func deboost(t *task.Task) {
	if t.Boost < MaxBoost {
		t.Boost++
	}
}

var _ Policy = (*Boost)(nil)
