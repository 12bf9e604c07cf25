// Package runqueue implements the per-core bitmap priority queue: a fixed
// number of discrete priority levels, each a FIFO list of tasks, plus a
// bitmap recording which levels are occupied so the highest-priority
// runnable task is found with one find-first-set.
//
// Levels live in two spaces. The priority space is what callers use: level 0
// is the numerically highest priority, realtime levels sit below every
// normal level and the idle placeholder owns the single highest-numbered
// level. The index space is where lists physically live; for the deadline
// policy the normal range rotates against a moving time edge so that slice
// expiry ages whole levels at once without touching individual tasks. For
// the boost policy the two spaces coincide (the edge never moves).
//
// The per-level FIFOs are index-linked lists over a slot arena owned by the
// queue, so insert and remove are O(1) without pointer aliasing between
// queues. Queue is not safe for concurrent use; the owning core's lock
// serializes all access.
package runqueue

import (
	"fmt"
	"math/bits"

	"github.com/bitrunq/bitrunq/model/task"
)

const (
	// NumLevels is the total number of discrete priority levels, including
	// the reserved idle level.
	NumLevels = 65
	// IdleLevel is the reserved level of the idle placeholder.
	IdleLevel = NumLevels - 1
	// MinNormalLevel is the first level of the normal class; levels below
	// it belong to the realtime class.
	MinNormalLevel = 32
	// NumNormalLevels is the width of the normal range. The deadline
	// rotation relies on it being a power of two.
	NumNormalLevels = 32
)

const nilSlot = int32(-1)

type slot struct {
	t    *task.Task
	next int32
	prev int32
}

type level struct {
	head int32
	tail int32
}

// Queue is a single core's priority queue. The zero value is not usable;
// call New.
type Queue struct {
	// bitmap is indexed in priority space: word 0 carries levels 0..63,
	// bit 0 of word 1 carries the idle level. Invariant: bit i is set iff
	// the level holding priority i is non-empty.
	bitmap [2]uint64
	levels [NumLevels]level
	arena  []slot
	free   int32
	size   int
	edge   uint64
}

// New returns an empty queue.
func New() *Queue {
	q := &Queue{free: nilSlot}
	for i := range q.levels {
		q.levels[i] = level{head: nilSlot, tail: nilSlot}
	}
	return q
}

// Len returns the number of queued tasks, idle placeholder included.
func (q *Queue) Len() int { return q.size }

// Edge returns the current rotation edge of the normal range.
func (q *Queue) Edge() uint64 { return q.edge }

func normalMod(x uint64) int { return int(x & (NumNormalLevels - 1)) }

// prioToIdx maps a priority-space level to the index of its physical list.
func (q *Queue) prioToIdx(prio int) int {
	if prio < MinNormalLevel || prio == IdleLevel {
		return prio
	}
	return MinNormalLevel + normalMod(uint64(prio)+q.edge)
}

// idxToPrio maps a physical list index back to priority space.
func (q *Queue) idxToPrio(idx int) int {
	if idx < MinNormalLevel || idx == IdleLevel {
		return idx
	}
	return MinNormalLevel + normalMod(uint64(idx)-q.edge)
}

func (q *Queue) setBit(prio int) {
	q.bitmap[prio/64] |= 1 << uint(prio%64)
}

func (q *Queue) clearBit(prio int) {
	q.bitmap[prio/64] &^= 1 << uint(prio%64)
}

func (q *Queue) bit(prio int) bool {
	return q.bitmap[prio/64]&(1<<uint(prio%64)) != 0
}

// HighestLevel returns the numerically lowest occupied priority level, or
// NumLevels when the queue is empty.
func (q *Queue) HighestLevel() int {
	if q.bitmap[0] != 0 {
		return bits.TrailingZeros64(q.bitmap[0])
	}
	if q.bitmap[1] != 0 {
		return 64 + bits.TrailingZeros64(q.bitmap[1])
	}
	return NumLevels
}

// nextLevel returns the lowest occupied priority level strictly above prio,
// or NumLevels.
func (q *Queue) nextLevel(prio int) int {
	p := prio + 1
	if p < 64 {
		if w := q.bitmap[0] >> uint(p); w != 0 {
			return p + bits.TrailingZeros64(w)
		}
		p = 64
	}
	if p == 64 && q.bitmap[1] != 0 {
		return 64 + bits.TrailingZeros64(q.bitmap[1])
	}
	return NumLevels
}

func (q *Queue) allocSlot(t *task.Task) int32 {
	s := q.free
	if s == nilSlot {
		q.arena = append(q.arena, slot{})
		s = int32(len(q.arena) - 1)
	} else {
		q.free = q.arena[s].next
	}
	q.arena[s] = slot{t: t, next: nilSlot, prev: nilSlot}
	return s
}

func (q *Queue) releaseSlot(s int32) {
	q.arena[s] = slot{next: q.free, prev: nilSlot}
	q.free = s
}

// Enqueue inserts t at the tail of the given priority level and sets the
// level's bitmap bit if the level was empty. Enqueueing an already queued
// task is an invariant violation and panics.
func (q *Queue) Enqueue(t *task.Task, prio int) {
	if t.Queued() {
		panic(fmt.Sprintf("runqueue: enqueue of already queued %v", t))
	}
	if prio < 0 || prio >= NumLevels {
		panic(fmt.Sprintf("runqueue: enqueue at invalid level %d for %v", prio, t))
	}
	idx := q.prioToIdx(prio)
	s := q.allocSlot(t)
	lv := &q.levels[idx]
	if lv.tail == nilSlot {
		lv.head = s
		lv.tail = s
		q.setBit(prio)
	} else {
		q.arena[lv.tail].next = s
		q.arena[s].prev = lv.tail
		lv.tail = s
	}
	t.Slot = s
	t.Level = idx
	q.size++
}

// Dequeue removes t and clears its level's bit if the level becomes empty.
// Dequeueing a task the queue does not hold panics.
func (q *Queue) Dequeue(t *task.Task) {
	s := t.Slot
	if s == task.NoSlot || int(s) >= len(q.arena) || q.arena[s].t != t {
		panic(fmt.Sprintf("runqueue: dequeue of non-resident %v", t))
	}
	q.unlink(s, t.Level)
	q.releaseSlot(s)
	t.Slot = task.NoSlot
	q.size--
}

func (q *Queue) unlink(s int32, idx int) {
	sl := &q.arena[s]
	if sl.prev != nilSlot {
		q.arena[sl.prev].next = sl.next
	} else {
		q.levels[idx].head = sl.next
	}
	if sl.next != nilSlot {
		q.arena[sl.next].prev = sl.prev
	} else {
		q.levels[idx].tail = sl.prev
	}
	if q.levels[idx].head == nilSlot {
		q.clearBit(q.idxToPrio(idx))
	}
}

// Requeue moves t to the tail of the given (possibly changed) priority level
// without violating the bitmap invariant. It reports whether the task's
// position changed, which callers use to refresh shared priority hints.
func (q *Queue) Requeue(t *task.Task, prio int) bool {
	s := t.Slot
	if s == task.NoSlot || int(s) >= len(q.arena) || q.arena[s].t != t {
		panic(fmt.Sprintf("runqueue: requeue of non-resident %v", t))
	}
	idx := q.prioToIdx(prio)
	if idx == t.Level && q.levels[idx].tail == s {
		return false
	}
	q.unlink(s, t.Level)
	sl := &q.arena[s]
	sl.next = nilSlot
	sl.prev = nilSlot
	lv := &q.levels[idx]
	if lv.tail == nilSlot {
		lv.head = s
		lv.tail = s
	} else {
		q.arena[lv.tail].next = s
		sl.prev = lv.tail
		lv.tail = s
	}
	q.setBit(prio)
	t.Level = idx
	return true
}

// PeekHighest returns the first task at the lowest occupied level, or nil
// when the queue is empty. On an initialized core the idle placeholder is
// always resident, so dispatch never observes nil.
func (q *Queue) PeekHighest() *task.Task {
	return q.FirstAtLevel(q.HighestLevel())
}

// FirstAtLevel returns the head task of a priority level, or nil.
func (q *Queue) FirstAtLevel(prio int) *task.Task {
	if prio < 0 || prio >= NumLevels || !q.bit(prio) {
		return nil
	}
	return q.arena[q.levels[q.prioToIdx(prio)].head].t
}

// Next returns the task following t in dispatch order: the next task at t's
// level, else the head of the next occupied level. It returns nil after the
// final task. Balancers use it to walk donor queues.
func (q *Queue) Next(t *task.Task) *task.Task {
	s := t.Slot
	if s == task.NoSlot || int(s) >= len(q.arena) || q.arena[s].t != t {
		panic(fmt.Sprintf("runqueue: next of non-resident %v", t))
	}
	if n := q.arena[s].next; n != nilSlot {
		return q.arena[n].t
	}
	prio := q.nextLevel(q.idxToPrio(t.Level))
	if prio == NumLevels {
		return nil
	}
	return q.arena[q.levels[q.prioToIdx(prio)].head].t
}

// SetEdge advances the rotation edge of the normal range to newEdge. Levels
// whose priority ages past the window head are spliced, in order, onto the
// new head level so no task is ever starved for more than one full window.
// Realtime levels and the idle level never rotate.
func (q *Queue) SetEdge(newEdge uint64) {
	old := q.edge
	if newEdge == old {
		return
	}
	delta := newEdge - old
	if delta > NumNormalLevels {
		delta = NumNormalLevels
	}

	// Unsplice every level that expired out of the window, keeping FIFO
	// order across levels.
	var moved []int32
	for prio := MinNormalLevel; prio < MinNormalLevel+int(delta); prio++ {
		if !q.bit(prio) {
			continue
		}
		idx := q.prioToIdx(prio)
		for s := q.levels[idx].head; s != nilSlot; s = q.arena[s].next {
			moved = append(moved, s)
		}
		q.levels[idx] = level{head: nilSlot, tail: nilSlot}
	}

	// Shift the normal-range bits down by delta; expired bits fall off.
	normal := q.bitmap[0] >> MinNormalLevel
	normal >>= uint(delta)
	q.bitmap[0] = q.bitmap[0]&((1<<MinNormalLevel)-1) | normal<<MinNormalLevel

	q.edge = newEdge

	if len(moved) == 0 {
		return
	}
	// Splice the aged tasks at the head of the new window's first level,
	// ahead of anything already there.
	idx := MinNormalLevel + normalMod(newEdge)
	lv := &q.levels[idx]
	for i := len(moved) - 1; i >= 0; i-- {
		s := moved[i]
		sl := &q.arena[s]
		sl.prev = nilSlot
		sl.next = lv.head
		if lv.head != nilSlot {
			q.arena[lv.head].prev = s
		} else {
			lv.tail = s
		}
		lv.head = s
		sl.t.Level = idx
	}
	q.setBit(MinNormalLevel)
}

// CheckConsistency verifies the bitmap/list invariant. It is used by tests
// and debug assertions; a non-nil return is a programming bug.
func (q *Queue) CheckConsistency() error {
	seen := 0
	for prio := 0; prio < NumLevels; prio++ {
		idx := q.prioToIdx(prio)
		empty := q.levels[idx].head == nilSlot
		if q.bit(prio) == empty {
			return fmt.Errorf("runqueue: bit %d set=%v but level empty=%v", prio, q.bit(prio), empty)
		}
		for s := q.levels[idx].head; s != nilSlot; s = q.arena[s].next {
			sl := q.arena[s]
			if sl.t == nil || sl.t.Slot != s || sl.t.Level != idx {
				return fmt.Errorf("runqueue: corrupt linkage at level %d slot %d", prio, s)
			}
			seen++
		}
	}
	if seen != q.size {
		return fmt.Errorf("runqueue: size %d but %d tasks linked", q.size, seen)
	}
	return nil
}
