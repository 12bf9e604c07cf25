package sched

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitrunq/bitrunq/model/cpuset"
	"github.com/bitrunq/bitrunq/model/task"
	"github.com/bitrunq/bitrunq/policy"
	"github.com/bitrunq/bitrunq/topology"
)

func TestDefaultConfigSanitize(t *testing.T) {
	cfg := Config{Cores: -3, SliceMS: 0, MigrateBatch: -1}.sanitize()
	assert.Greater(t, cfg.Cores, 0)
	assert.Equal(t, defaultSliceMS, cfg.SliceMS)
	assert.Equal(t, defaultMigrateBatch, cfg.MigrateBatch)
	assert.Equal(t, int64(4_000_000), cfg.SliceNS())
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sched.yaml")
	data := "cores: 4\nslice_ms: 2\npolicy: deadline\nmigrate_batch: 8\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Cores)
	assert.Equal(t, 2, cfg.SliceMS)
	assert.Equal(t, "deadline", cfg.Policy)
	assert.Equal(t, 8, cfg.MigrateBatch)

	_, err = LoadConfig(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(":\n:::"), 0o644))
	_, err = LoadConfig(bad)
	assert.Error(t, err)
}

func TestNewValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cores = cpuset.MaxCPUs + 1
	_, err := New(cfg)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.Cores = 4
	cfg.Policy = "fair"
	_, err = New(cfg)
	assert.Error(t, err)

	topo, err := topology.New(topology.Config{Cores: 2})
	require.NoError(t, err)
	cfg = DefaultConfig()
	cfg.Cores = 4
	_, err = New(cfg, WithTopology(topo))
	assert.Error(t, err)
}

func TestRegistryOrderAndLookup(t *testing.T) {
	h := newHarness(t, 2)
	a := h.submit(t, "a", task.DefaultPrio)
	b := h.submit(t, "b", task.DefaultPrio)
	c := h.submit(t, "c", task.DefaultPrio)

	got := h.s.Tasks()
	require.Len(t, got, 3)
	assert.Same(t, a, got[0])
	assert.Same(t, b, got[1])
	assert.Same(t, c, got[2])

	found, ok := h.s.Lookup(b.ID)
	require.True(t, ok)
	assert.Same(t, b, found)
	_, ok = h.s.Lookup(^uint64(0))
	assert.False(t, ok)
}

func TestDeadlinePolicyEndToEnd(t *testing.T) {
	p, err := policy.Select(policy.NameDeadline, DefaultConfig().SliceNS())
	require.NoError(t, err)
	h := newHarness(t, 1, WithPolicy(p))
	a := h.submit(t, "a", 100)
	b := h.submit(t, "b", 139)
	require.Same(t, a, h.schedule(t, 0))

	// Let enough virtual time pass that whole levels age; the lower
	// priority task must still surface.
	for i := 0; i < 64; i++ {
		h.advance(4 * time.Millisecond)
		if _, err := h.s.Tick(0); err != nil {
			t.Fatal(err)
		}
		got := h.schedule(t, 0)
		if got == b {
			assert.NoError(t, h.s.CheckConsistency())
			return
		}
	}
	t.Fatal("low priority task starved through 64 slices")
}

func TestStressConcurrent(t *testing.T) {
	if testing.Short() {
		t.Skip("stress test")
	}
	h := newHarness(t, 4)
	const nTasks = 12
	tasks := make([]*task.Task, nTasks)
	for i := range tasks {
		tasks[i] = task.New(fmt.Sprintf("w%d", i), task.DefaultPrio, cpuset.Set{})
		_, err := h.s.Submit(tasks[i])
		require.NoError(t, err)
	}

	var stop atomic.Bool
	var wg sync.WaitGroup
	for cpu := 0; cpu < h.s.NumCores(); cpu++ {
		wg.Add(1)
		go func(cpu int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(cpu) + 7))
			for !stop.Load() {
				h.advance(100 * time.Microsecond)
				if _, err := h.s.Tick(cpu); err != nil {
					assert.NoError(t, err)
					return
				}
				cur, err := h.s.Schedule(cpu)
				if err != nil {
					assert.NoError(t, err)
					return
				}
				if !cur.IsIdle() && rng.Intn(4) == 0 {
					if err := h.s.Block(cur, task.WaitAny); err == nil {
						_, _ = h.s.Schedule(cpu)
					}
				}
			}
			_, _ = h.s.Schedule(cpu)
		}(cpu)
	}
	for w := 0; w < 3; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for !stop.Load() {
				_, _ = h.s.Wake(tasks[rng.Intn(nTasks)])
			}
		}(int64(w)*31 + 1)
	}

	time.Sleep(150 * time.Millisecond)
	stop.Store(true)
	wg.Wait()

	require.NoError(t, h.s.CheckConsistency())
	running := 0
	for _, tk := range tasks {
		st := tk.State()
		assert.Contains(t, []task.State{
			task.StateQueued, task.StateRunning, task.StateBlocked,
		}, st, tk.String())
		if st == task.StateRunning {
			running++
		}
	}
	assert.LessOrEqual(t, running, h.s.NumCores())
}
