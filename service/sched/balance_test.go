package sched

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitrunq/bitrunq/model/cpuset"
	"github.com/bitrunq/bitrunq/model/task"
	"github.com/bitrunq/bitrunq/topology"
)

func TestPullFromLoadedCore(t *testing.T) {
	h := newHarness(t, 2)
	// Pile three tasks onto core 0 while core 1 is away.
	require.NoError(t, h.s.DeactivateCore(1))
	a := h.submit(t, "a", task.DefaultPrio, 0, 1)
	b := h.submit(t, "b", task.DefaultPrio, 0, 1)
	h.submit(t, "c", task.DefaultPrio, 0, 1)
	require.Same(t, a, h.schedule(t, 0))
	require.NoError(t, h.s.ActivateCore(1))

	// Core 1 steals rather than idling: half the donor's backlog, the
	// running task excluded.
	got := h.schedule(t, 1)
	require.Same(t, b, got)
	assert.Equal(t, 1, b.CPU())

	snap := h.col.Snapshot()
	assert.Equal(t, uint64(1), snap.Pulls)
	assert.Equal(t, uint64(1), snap.Migrations)
	assert.NoError(t, h.s.CheckConsistency())
}

func TestPullSkipsPinnedTasks(t *testing.T) {
	h := newHarness(t, 2)
	require.NoError(t, h.s.DeactivateCore(1))
	a := h.submit(t, "a", task.DefaultPrio, 0)
	h.submit(t, "pinned", task.DefaultPrio, 0)
	h.submit(t, "pinned2", task.DefaultPrio, 0)
	require.Same(t, a, h.schedule(t, 0))
	require.NoError(t, h.s.ActivateCore(1))

	got := h.schedule(t, 1)
	assert.True(t, got.IsIdle())
	assert.Equal(t, uint64(0), h.col.Snapshot().Pulls)
}

func TestPrioBalancePushesPreemptor(t *testing.T) {
	h := newHarness(t, 2)
	require.NoError(t, h.s.DeactivateCore(1))
	hi := h.submit(t, "hi", 100, 0, 1)
	require.Same(t, hi, h.schedule(t, 0))
	mid := h.submit(t, "mid", 120, 0, 1)
	require.NoError(t, h.s.ActivateCore(1))
	lo := h.submit(t, "lo", 139, 0, 1)
	require.Same(t, lo, h.schedule(t, 1))

	// The periodic balance notices mid would preempt lo and pushes it.
	h.advance(time.Millisecond)
	_, err := h.s.Tick(0)
	require.NoError(t, err)
	assert.Equal(t, 1, mid.CPU())
	assert.True(t, h.s.NeedResched(1))

	require.Same(t, mid, h.schedule(t, 1))
	assert.Equal(t, task.StateQueued, lo.State())
}

func TestActiveBalanceRelievesSMTGroup(t *testing.T) {
	topo, err := topology.New(topology.Config{
		Cores:     4,
		SMTGroups: []string{"0-1", "2-3"},
		LLCGroups: []string{"0-3"},
	})
	require.NoError(t, err)
	h := newHarness(t, 4, WithTopology(topo))

	// Saturate the first SMT group with one task per sibling.
	a := h.submit(t, "a", task.DefaultPrio, 0)
	require.Same(t, a, h.schedule(t, 0))
	b := h.submit(t, "b", task.DefaultPrio, 1)
	require.Same(t, b, h.schedule(t, 1))
	require.NoError(t, h.s.SetAffinity(a, cpuset.Range(0, 3)))

	// Core 2 runs something briefly; its switch to idle spots the
	// saturated group and asks core 0 to push its task over.
	c := h.submit(t, "c", task.DefaultPrio, 2)
	require.Same(t, c, h.schedule(t, 2))
	require.NoError(t, h.s.Exit(c))
	got := h.schedule(t, 2)
	assert.True(t, got.IsIdle())
	assert.True(t, h.s.NeedResched(0))

	// The donor completes the forced migration at its next dispatch.
	got = h.schedule(t, 0)
	assert.True(t, got.IsIdle())
	assert.Equal(t, 2, a.CPU())
	require.Same(t, a, h.schedule(t, 2))

	assert.Equal(t, uint64(1), h.col.Snapshot().ActiveBalances)
	assert.NoError(t, h.s.CheckConsistency())
}

func TestRemoteWakeCrossesCacheBoundary(t *testing.T) {
	topo, err := topology.New(topology.Config{
		Cores:     2,
		LLCGroups: []string{"0", "1"},
	})
	require.NoError(t, err)
	h := newHarness(t, 2, WithTopology(topo))

	tk := h.submit(t, "t", task.DefaultPrio, 1)
	require.Same(t, tk, h.schedule(t, 1))
	require.NoError(t, h.s.Block(tk, task.WaitAny))
	h.schedule(t, 1)

	res, err := h.s.WakeFrom(tk, 0, task.WaitAny)
	require.NoError(t, err)
	assert.Equal(t, WakeRemoteQueued, res)
	assert.False(t, tk.Queued())
	assert.True(t, h.s.NeedResched(1))

	require.Same(t, tk, h.schedule(t, 1))
	assert.Equal(t, uint64(1), h.col.Snapshot().Wakeups)
}

func TestSetAffinityMigratesQueuedTask(t *testing.T) {
	h := newHarness(t, 2)
	require.NoError(t, h.s.DeactivateCore(1))
	a := h.submit(t, "a", task.DefaultPrio, 0, 1)
	b := h.submit(t, "b", task.DefaultPrio, 0, 1)
	require.Same(t, a, h.schedule(t, 0))
	require.NoError(t, h.s.ActivateCore(1))

	require.NoError(t, h.s.SetAffinity(b, cpuset.OfCPUs(1)))
	assert.Equal(t, 1, b.CPU())
	require.Same(t, b, h.schedule(t, 1))
}

// A task handed off through a contended destination is visible in neither
// queue until the destination drains its inbox.
func TestMigratingTaskInvisibleInFlight(t *testing.T) {
	h := newHarness(t, 2)
	require.NoError(t, h.s.DeactivateCore(1))
	a := h.submit(t, "a", task.DefaultPrio, 0, 1)
	b := h.submit(t, "b", task.DefaultPrio, 0, 1)
	require.Same(t, a, h.schedule(t, 0))
	require.NoError(t, h.s.ActivateCore(1))

	// Hold the destination lock so the push falls back to the inbox.
	dst := h.s.cores[1]
	dst.mu.Lock()
	require.NoError(t, h.s.SetAffinity(b, cpuset.OfCPUs(1)))
	assert.Equal(t, task.StateMigrating, b.State())
	assert.False(t, b.Queued())
	assert.Equal(t, 1, b.CPU())
	dst.mu.Unlock()

	require.Same(t, b, h.schedule(t, 1))
	assert.Equal(t, task.StateRunning, b.State())
	assert.NoError(t, h.s.CheckConsistency())
}

func TestSetAffinityEvictsRunningTask(t *testing.T) {
	h := newHarness(t, 2)
	a := h.submit(t, "a", task.DefaultPrio, 0)
	require.Same(t, a, h.schedule(t, 0))

	require.NoError(t, h.s.SetAffinity(a, cpuset.OfCPUs(1)))
	assert.True(t, h.s.NeedResched(0))

	// Still running until its core dispatches again.
	got := h.schedule(t, 0)
	assert.True(t, got.IsIdle())
	assert.Equal(t, 1, a.CPU())
	require.Same(t, a, h.schedule(t, 1))
}

func TestSetAffinityRejectsOfflineOnlyMask(t *testing.T) {
	h := newHarness(t, 2)
	a := h.submit(t, "a", task.DefaultPrio, 0, 1)
	require.NoError(t, h.s.DeactivateCore(1))
	err := h.s.SetAffinity(a, cpuset.OfCPUs(1))
	assert.ErrorIs(t, err, ErrNoEligibleCore)
}

func TestMigrateDisablePinsTask(t *testing.T) {
	h := newHarness(t, 2)
	require.NoError(t, h.s.DeactivateCore(1))
	a := h.submit(t, "a", task.DefaultPrio, 0, 1)
	b := h.submit(t, "b", task.DefaultPrio, 0, 1)
	require.Same(t, a, h.schedule(t, 0))
	require.NoError(t, h.s.ActivateCore(1))

	h.s.MigrateDisable(b)
	require.NoError(t, h.s.SetAffinity(b, cpuset.OfCPUs(1)))
	assert.Equal(t, 0, b.CPU())

	// The violation is repaired once migration is allowed again.
	h.s.MigrateEnable(b)
	assert.Equal(t, 1, b.CPU())
	require.Same(t, b, h.schedule(t, 1))
}

func TestSetPriorityRequeues(t *testing.T) {
	h := newHarness(t, 1)
	a := h.submit(t, "a", task.DefaultPrio)
	b := h.submit(t, "b", task.DefaultPrio)
	require.Same(t, a, h.schedule(t, 0))

	// Raising b's priority makes it the next pick over the running task.
	require.NoError(t, h.s.SetPriority(b, 100))
	assert.True(t, h.s.NeedResched(0))
	require.Same(t, b, h.schedule(t, 0))
	assert.Equal(t, task.StateQueued, a.State())
}
