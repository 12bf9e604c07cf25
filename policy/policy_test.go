package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitrunq/bitrunq/model/cpuset"
	"github.com/bitrunq/bitrunq/model/task"
	"github.com/bitrunq/bitrunq/service/runqueue"
)

type fakeContext struct {
	clock      int64
	lastSwitch int64
	slice      int64
	edge       uint64
}

func (f *fakeContext) ClockNS() int64      { return f.clock }
func (f *fakeContext) LastSwitchNS() int64 { return f.lastSwitch }
func (f *fakeContext) SliceNS() int64      { return f.slice }
func (f *fakeContext) Edge() uint64        { return f.edge }

func TestSelect(t *testing.T) {
	p, err := Select("", 4_000_000)
	require.NoError(t, err)
	assert.Equal(t, NameBoost, p.Name())

	p, err = Select(NameDeadline, 4_000_000)
	require.NoError(t, err)
	assert.Equal(t, NameDeadline, p.Name())

	_, err = Select("fair", 4_000_000)
	assert.Error(t, err)
}

func TestLevelClassSeparation(t *testing.T) {
	rc := &fakeContext{slice: 4_000_000}
	for _, p := range []Policy{NewBoost(), NewDeadline(rc.slice)} {
		rt := task.New("rt", 10, cpuset.Set{})
		normal := task.New("n", task.DefaultPrio, cpuset.Set{})
		idle := task.NewIdle(0)
		p.Fork(rt, rc)
		p.Fork(normal, rc)

		rtLev := p.Level(rt, rc)
		normLev := p.Level(normal, rc)
		assert.Less(t, rtLev, runqueue.MinNormalLevel, p.Name())
		assert.GreaterOrEqual(t, normLev, runqueue.MinNormalLevel, p.Name())
		assert.Less(t, normLev, runqueue.IdleLevel, p.Name())
		assert.Equal(t, runqueue.IdleLevel, p.Level(idle, rc), p.Name())
	}
}

func TestBoostAging(t *testing.T) {
	p := NewBoost()
	rc := &fakeContext{slice: 4_000_000}
	tk := task.New("t", task.DefaultPrio, cpuset.Set{})
	p.Fork(tk, rc)
	assert.EqualValues(t, MaxBoost, tk.Boost)
	base := p.Level(tk, rc)

	// Fast switch-outs boost the task all the way to -MaxBoost.
	rc.lastSwitch = 0
	rc.clock = 1 // far below threshold
	for i := 0; i < 4*MaxBoost; i++ {
		p.Deschedule(tk, rc)
	}
	assert.EqualValues(t, -MaxBoost, tk.Boost)
	assert.Less(t, p.Level(tk, rc), base)

	// Burning more than a slice deboosts again.
	rc.clock = rc.lastSwitch + rc.slice + 1
	for i := 0; i < 4*MaxBoost; i++ {
		p.Deschedule(tk, rc)
	}
	assert.EqualValues(t, MaxBoost, tk.Boost)

	// A long sleep earns a wakeup boost.
	tk.LastRan = 0
	rc.clock = rc.slice * 2
	p.Wake(tk, rc)
	assert.EqualValues(t, MaxBoost-1, tk.Boost)

	// Yield resets to the bottom.
	p.Yield(tk, rc)
	assert.EqualValues(t, MaxBoost, tk.Boost)
}

func TestBoostRealtimeUnaffected(t *testing.T) {
	p := NewBoost()
	rc := &fakeContext{slice: 4_000_000, clock: 1}
	rt := task.New("rt", 8, cpuset.Set{})
	p.Fork(rt, rc)
	p.Deschedule(rt, rc)
	assert.Equal(t, 2, p.Level(rt, rc)) // 8 >> 2, boost ignored
}

func TestDeadlineRenewAndLevel(t *testing.T) {
	p := NewDeadline(4_000_000)
	rc := &fakeContext{slice: 4_000_000}

	highest := task.New("nice-20", task.MinNormalPrio, cpuset.Set{})
	lowest := task.New("nice+19", task.MaxPrio-1, cpuset.Set{})
	p.Fork(highest, rc)
	p.Fork(lowest, rc)
	assert.Less(t, p.Level(highest, rc), p.Level(lowest, rc))

	// As the edge advances past the deadline the level drifts to the
	// window head and never underflows into the realtime range.
	rc.edge = highest.Deadline + uint64(edgeDelta) + 5
	assert.Equal(t, runqueue.MinNormalLevel, p.Level(highest, rc))
}

func TestDeadlineSanityClampsMigratedDeadline(t *testing.T) {
	p := NewDeadline(4_000_000)
	rc := &fakeContext{edge: 100}
	tk := task.New("t", task.DefaultPrio, cpuset.Set{})
	tk.Deadline = 10_000
	p.Sanity(tk, rc)
	assert.Equal(t, rc.edge+task.NiceWidth/2-1, tk.Deadline)
}

func TestDeadlineEdgeOf(t *testing.T) {
	p := NewDeadline(4_000_000)
	assert.Equal(t, uint64(0), p.EdgeOf(0))
	// Two base slices per edge step.
	step := int64(1) << p.edgeShift
	assert.Equal(t, uint64(1), p.EdgeOf(step))
	assert.Equal(t, uint64(2), p.EdgeOf(2*step))
	assert.Equal(t, uint64(0), p.EdgeOf(-5))
}
