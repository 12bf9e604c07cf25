package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCollectorCounters(t *testing.T) {
	c := NewCollector(0)
	c.Emit(Event{Kind: KindDispatch, WaitNS: 100})
	c.Emit(Event{Kind: KindDispatch, WaitNS: 50})
	c.Emit(Event{Kind: KindWakeup, LatencyNS: 7})
	c.Emit(Event{Kind: KindSliceExpire, RunNS: 42})
	c.Emit(Event{Kind: KindMigrate})

	got := c.Snapshot()
	assert.Equal(t, uint64(2), got.Dispatches)
	assert.Equal(t, int64(150), got.WaitNS)
	assert.Equal(t, uint64(1), got.Wakeups)
	assert.Equal(t, int64(7), got.WakeLatencyNS)
	assert.Equal(t, uint64(1), got.SliceExpiries)
	assert.Equal(t, int64(42), got.RunNS)
	assert.Equal(t, uint64(1), got.Migrations)
}

func TestCollectorNeverBlocks(t *testing.T) {
	c := NewCollector(1)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			c.Emit(Event{Kind: KindPull})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a full consumer buffer")
	}
	got := c.Snapshot()
	assert.Equal(t, uint64(100), got.Pulls)
	assert.Equal(t, uint64(99), got.Dropped)
}

func TestCollectorConsume(t *testing.T) {
	c := NewCollector(8)
	c.Emit(Event{Kind: KindGoIdle, Core: 3})

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan Event, 1)
	go c.Consume(ctx, func(ev Event) { got <- ev })

	select {
	case ev := <-got:
		assert.Equal(t, KindGoIdle, ev.Kind)
		assert.Equal(t, 3, ev.Core)
		assert.NotEmpty(t, ev.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("event not forwarded")
	}
	cancel()
}

func TestNilCollectorSafe(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.Emit(Event{Kind: KindDispatch})
		c.Consume(context.Background(), nil)
		_ = c.Snapshot()
	})
}
