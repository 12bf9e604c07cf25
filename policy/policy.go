// Package policy holds the pluggable priority-level computation strategies
// of the scheduler. A policy decides which queue level a runnable task
// occupies and how tasks age so that starvation stays bounded; everything
// else (queues, dispatch, balancing) is policy-agnostic.
//
// Two strategies ship: "boost", which assigns two levels per static priority
// and nudges tasks up or down based on how they behave across context
// switches, and "deadline", which derives the level from a rolling virtual
// deadline against the queue's rotation edge. Both guarantee that realtime
// tasks occupy levels numerically below any normal task and that the idle
// placeholder is picked only when nothing else is runnable.
//
// A policy is selected once at configuration time; operations never dispatch
// through anything per-call beyond the single interface value.
package policy

import (
	"fmt"

	"github.com/bitrunq/bitrunq/model/task"
	"github.com/bitrunq/bitrunq/service/runqueue"
)

// RunContext is the slice of per-core state a policy may consult. The owning
// core implements it; every method is called with that core's queue lock
// held.
type RunContext interface {
	// ClockNS is the core's monotonic clock sample.
	ClockNS() int64
	// LastSwitchNS is the clock at the core's last context switch.
	LastSwitchNS() int64
	// SliceNS is the base time slice.
	SliceNS() int64
	// Edge is the core queue's current rotation edge.
	Edge() uint64
}

// Policy computes priority levels and ages tasks. Implementations are
// stateless; all aging state lives on the task.
type Policy interface {
	// Name identifies the policy in configuration.
	Name() string

	// Level returns the priority level a runnable task enqueues at.
	// Realtime tasks always map below runqueue.MinNormalLevel; normal
	// tasks map into the normal range; the idle placeholder maps to
	// runqueue.IdleLevel.
	Level(t *task.Task, rc RunContext) int

	// Fork initializes the aging state of a task first made visible.
	Fork(t *task.Task, rc RunContext)

	// Wake adjusts the aging state of a task leaving the blocked state.
	Wake(t *task.Task, rc RunContext)

	// Deschedule adjusts the aging state of a task switching out.
	Deschedule(t *task.Task, rc RunContext)

	// Renew refreshes the aging state when a task's slice expires.
	Renew(t *task.Task, rc RunContext)

	// Yield penalizes a task that voluntarily gives up its slice.
	Yield(t *task.Task, rc RunContext)

	// Sanity clamps the aging state after a migration, so a task carried
	// from a core with a different clock cannot land outside the window.
	Sanity(t *task.Task, rc RunContext)

	// EdgeOf maps a core clock to the queue rotation edge the core should
	// advance to. Policies without rotation always return zero.
	EdgeOf(clockNS int64) uint64
}

// rtLevel maps a realtime priority to its level: four static priorities
// share one level.
func rtLevel(t *task.Task) int { return t.Prio >> 2 }

// Select returns the policy registered under name. SliceNS tunes the
// deadline policy's rotation rate.
func Select(name string, sliceNS int64) (Policy, error) {
	switch name {
	case "", NameBoost:
		return NewBoost(), nil
	case NameDeadline:
		return NewDeadline(sliceNS), nil
	}
	return nil, fmt.Errorf("policy: unknown policy %q", name)
}

func clampNormal(level int) int {
	if level < runqueue.MinNormalLevel {
		return runqueue.MinNormalLevel
	}
	if level >= runqueue.IdleLevel {
		return runqueue.IdleLevel - 1
	}
	return level
}
