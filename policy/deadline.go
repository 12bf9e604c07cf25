package policy

import (
	"math/bits"

	"github.com/bitrunq/bitrunq/model/task"
	"github.com/bitrunq/bitrunq/service/runqueue"
)

// NameDeadline selects the deadline policy.
const NameDeadline = "deadline"

// edgeDelta positions a freshly renewed deadline inside the rotation window
// so that higher static priorities surface earlier.
const edgeDelta = runqueue.NumNormalLevels - task.NiceWidth/2

// Deadline computes a task's level from a rolling virtual deadline: each
// slice expiry pushes the deadline out by half the task's nice offset, and
// the queue's rotation edge advances with the core clock, so a waiting
// level drifts toward the window head at a fixed rate. Starvation is bounded
// by one full window regardless of load.
type Deadline struct {
	// edgeShift converts a core clock to a rotation edge; two base slices
	// per level.
	edgeShift uint
}

// NewDeadline returns the deadline policy tuned for the given base slice.
func NewDeadline(sliceNS int64) *Deadline {
	if sliceNS <= 0 {
		sliceNS = 4_000_000
	}
	return &Deadline{edgeShift: uint(bits.Len64(uint64(sliceNS))) + 1}
}

// Name implements Policy.
func (*Deadline) Name() string { return NameDeadline }

// Level implements Policy.
func (*Deadline) Level(t *task.Task, rc RunContext) int {
	if t.IsIdle() {
		return runqueue.IdleLevel
	}
	if t.IsRealtime() {
		return rtLevel(t)
	}
	delta := int64(t.Deadline) - int64(rc.Edge()) + edgeDelta
	if delta < 0 {
		delta = 0
	}
	return clampNormal(runqueue.MinNormalLevel + int(delta))
}

// renew sets the deadline relative to the current edge from the static
// priority: nice offsets are compressed two-to-one.
func renewDeadline(t *task.Task, rc RunContext) {
	if !t.IsRealtime() {
		t.Deadline = rc.Edge() + uint64((t.StaticPrio-task.MinNormalPrio)/2)
	}
}

// Fork implements Policy.
func (*Deadline) Fork(t *task.Task, rc RunContext) { renewDeadline(t, rc) }

// Wake implements Policy: a sleeper keeps its deadline; the Sanity clamp on
// the landing core bounds how much credit a long sleep can carry.
func (*Deadline) Wake(t *task.Task, rc RunContext) {}

// Deschedule implements Policy.
func (*Deadline) Deschedule(t *task.Task, rc RunContext) {}

// Renew implements Policy: slice expiry renews the deadline so the task
// requeues deeper into the window.
func (*Deadline) Renew(t *task.Task, rc RunContext) { renewDeadline(t, rc) }

// Yield implements Policy: yielding costs a full slice expiry.
func (d *Deadline) Yield(t *task.Task, rc RunContext) { renewDeadline(t, rc) }

// Sanity implements Policy: clamp a migrated deadline into the destination
// window.
func (*Deadline) Sanity(t *task.Task, rc RunContext) {
	maxDL := rc.Edge() + task.NiceWidth/2 - 1
	if t.Deadline > maxDL {
		t.Deadline = maxDL
	}
}

// EdgeOf implements Policy.
func (d *Deadline) EdgeOf(clockNS int64) uint64 {
	if clockNS < 0 {
		return 0
	}
	return uint64(clockNS) >> d.edgeShift
}

var _ Policy = (*Deadline)(nil)
