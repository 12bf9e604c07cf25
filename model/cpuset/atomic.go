package cpuset

import "sync/atomic"

// Atomic is a Set shared between cores without a lock. Writers use atomic
// or/and-not per word; readers take a Snapshot which is internally consistent
// per word only. That is sufficient for the masks the scheduler shares: they
// are read as hints and every decision taken from them is re-validated under
// the target queue's lock.
type Atomic struct {
	words [numWords]atomic.Uint64
}

// Set atomically adds cpu to the set.
func (a *Atomic) Set(cpu int) {
	if cpu < 0 || cpu >= MaxCPUs {
		return
	}
	w := &a.words[cpu/wordBits]
	mask := uint64(1) << uint(cpu%wordBits)
	for {
		old := w.Load()
		if w.CompareAndSwap(old, old|mask) {
			return
		}
	}
}

// Clear atomically removes cpu from the set.
func (a *Atomic) Clear(cpu int) {
	if cpu < 0 || cpu >= MaxCPUs {
		return
	}
	w := &a.words[cpu/wordBits]
	mask := ^(uint64(1) << uint(cpu%wordBits))
	for {
		old := w.Load()
		if w.CompareAndSwap(old, old&mask) {
			return
		}
	}
}

// Has reports whether cpu is currently in the set.
func (a *Atomic) Has(cpu int) bool {
	if cpu < 0 || cpu >= MaxCPUs {
		return false
	}
	return a.words[cpu/wordBits].Load()&(1<<uint(cpu%wordBits)) != 0
}

// Empty reports whether the set currently holds no core.
func (a *Atomic) Empty() bool {
	for i := range a.words {
		if a.words[i].Load() != 0 {
			return false
		}
	}
	return true
}

// Snapshot returns the current contents as a plain Set.
func (a *Atomic) Snapshot() Set {
	var s Set
	for i := range a.words {
		s.words[i] = a.words[i].Load()
	}
	return s
}
