package sched

import "errors"

var (
	// ErrNoEligibleCore reports that a task's affinity mask does not
	// intersect the online cores.
	ErrNoEligibleCore = errors.New("sched: no eligible core")
	// ErrUnknownTask reports a task id not present in the registry.
	ErrUnknownTask = errors.New("sched: unknown task")
	// ErrNotRunning reports an operation that requires the task to be
	// the current task of its core.
	ErrNotRunning = errors.New("sched: task is not running")
	// ErrAlreadySubmitted reports a second Submit of the same task.
	ErrAlreadySubmitted = errors.New("sched: task already submitted")
	// ErrCoreOffline reports an operation on a deactivated core.
	ErrCoreOffline = errors.New("sched: core is offline")
	// ErrCoreOnline reports an activation of an already-online core.
	ErrCoreOnline = errors.New("sched: core is already online")
	// ErrPinnedTasks reports that a core could not be fully drained
	// because some queued tasks are pinned to it.
	ErrPinnedTasks = errors.New("sched: tasks pinned to offline core")
	// ErrBadCore reports a core index outside the configured range.
	ErrBadCore = errors.New("sched: core index out of range")
)
