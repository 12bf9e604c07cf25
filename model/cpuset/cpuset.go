package cpuset

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"
)

// MaxCPUs bounds the number of logical cores a Set can describe.
const MaxCPUs = 256

const wordBits = 64

const numWords = MaxCPUs / wordBits

// None is returned by search helpers when no core matches.
const None = -1

// Set is a fixed-width bitmask over logical core ids. The zero value is the
// empty set. Set is a value type; mutators take a pointer receiver, every
// read takes a value receiver so accessors work on returned copies.
type Set struct {
	words [numWords]uint64
}

// OfCPUs returns a set containing the given core ids.
func OfCPUs(cpus ...int) Set {
	var s Set
	for _, cpu := range cpus {
		s.Set(cpu)
	}
	return s
}

// Range returns a set containing core ids [lo, hi] inclusive.
func Range(lo, hi int) Set {
	var s Set
	for cpu := lo; cpu <= hi; cpu++ {
		s.Set(cpu)
	}
	return s
}

// Set adds cpu to the set. Out-of-range ids are ignored.
func (s *Set) Set(cpu int) {
	if cpu < 0 || cpu >= MaxCPUs {
		return
	}
	s.words[cpu/wordBits] |= 1 << uint(cpu%wordBits)
}

// Clear removes cpu from the set.
func (s *Set) Clear(cpu int) {
	if cpu < 0 || cpu >= MaxCPUs {
		return
	}
	s.words[cpu/wordBits] &^= 1 << uint(cpu%wordBits)
}

// Has reports whether cpu is in the set.
func (s Set) Has(cpu int) bool {
	if cpu < 0 || cpu >= MaxCPUs {
		return false
	}
	return s.words[cpu/wordBits]&(1<<uint(cpu%wordBits)) != 0
}

// Empty reports whether no core is set.
func (s Set) Empty() bool {
	for _, w := range s.words {
		if w != 0 {
			return false
		}
	}
	return true
}

// Weight returns the number of cores in the set.
func (s Set) Weight() int {
	n := 0
	for _, w := range s.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// First returns the lowest core id in the set, or None.
func (s Set) First() int {
	for i, w := range s.words {
		if w != 0 {
			return i*wordBits + bits.TrailingZeros64(w)
		}
	}
	return None
}

// Next returns the lowest core id in the set that is >= cpu, or None.
func (s Set) Next(cpu int) int {
	if cpu < 0 {
		cpu = 0
	}
	if cpu >= MaxCPUs {
		return None
	}
	i := cpu / wordBits
	w := s.words[i] >> uint(cpu%wordBits)
	if w != 0 {
		return cpu + bits.TrailingZeros64(w)
	}
	for i++; i < numWords; i++ {
		if s.words[i] != 0 {
			return i*wordBits + bits.TrailingZeros64(s.words[i])
		}
	}
	return None
}

// ForEach invokes fn for every core in ascending order until fn returns false.
func (s Set) ForEach(fn func(cpu int) bool) {
	for cpu := s.First(); cpu != None; cpu = s.Next(cpu + 1) {
		if !fn(cpu) {
			return
		}
	}
}

// ForEachWrap invokes fn for every core starting at start and wrapping around,
// so that cores near the caller are visited first. Iteration stops when fn
// returns false.
func (s Set) ForEachWrap(start int, fn func(cpu int) bool) {
	if start < 0 || start >= MaxCPUs {
		start = 0
	}
	for cpu := s.Next(start); cpu != None; cpu = s.Next(cpu + 1) {
		if !fn(cpu) {
			return
		}
	}
	for cpu := s.First(); cpu != None && cpu < start; cpu = s.Next(cpu + 1) {
		if !fn(cpu) {
			return
		}
	}
}

// And assigns a ∩ b to s and reports whether the result is non-empty.
func (s *Set) And(a, b *Set) bool {
	any := false
	for i := range s.words {
		s.words[i] = a.words[i] & b.words[i]
		any = any || s.words[i] != 0
	}
	return any
}

// AndNot assigns a ∖ b to s and reports whether the result is non-empty.
func (s *Set) AndNot(a, b *Set) bool {
	any := false
	for i := range s.words {
		s.words[i] = a.words[i] &^ b.words[i]
		any = any || s.words[i] != 0
	}
	return any
}

// Or assigns a ∪ b to s.
func (s *Set) Or(a, b *Set) {
	for i := range s.words {
		s.words[i] = a.words[i] | b.words[i]
	}
}

// Intersects reports whether s and o share at least one core.
func (s Set) Intersects(o *Set) bool {
	for i := range s.words {
		if s.words[i]&o.words[i] != 0 {
			return true
		}
	}
	return false
}

// Subset reports whether every core of s is also in o.
func (s Set) Subset(o *Set) bool {
	for i := range s.words {
		if s.words[i]&^o.words[i] != 0 {
			return false
		}
	}
	return true
}

// Equal reports set equality.
func (s Set) Equal(o *Set) bool {
	return s.words == o.words
}

// String renders the set in kernel cpu-list format, e.g. "0-3,8".
func (s Set) String() string {
	var b strings.Builder
	first := true
	cpu := s.First()
	for cpu != None {
		lo := cpu
		hi := cpu
		for next := s.Next(hi + 1); next == hi+1; next = s.Next(hi + 1) {
			hi = next
		}
		if !first {
			b.WriteByte(',')
		}
		first = false
		if lo == hi {
			fmt.Fprintf(&b, "%d", lo)
		} else {
			fmt.Fprintf(&b, "%d-%d", lo, hi)
		}
		cpu = s.Next(hi + 1)
	}
	return b.String()
}

// ParseList parses a kernel cpu-list description such as "0-3,8,10-11".
// An empty string yields the empty set.
func ParseList(text string) (Set, error) {
	var s Set
	text = strings.TrimSpace(text)
	if text == "" {
		return s, nil
	}
	for _, part := range strings.Split(text, ",") {
		part = strings.TrimSpace(part)
		lo, hi, ok := strings.Cut(part, "-")
		start, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return Set{}, fmt.Errorf("cpuset: invalid cpu list %q: %w", text, err)
		}
		end := start
		if ok {
			end, err = strconv.Atoi(strings.TrimSpace(hi))
			if err != nil {
				return Set{}, fmt.Errorf("cpuset: invalid cpu list %q: %w", text, err)
			}
		}
		if start < 0 || end >= MaxCPUs || end < start {
			return Set{}, fmt.Errorf("cpuset: cpu range %q out of bounds", part)
		}
		for cpu := start; cpu <= end; cpu++ {
			s.Set(cpu)
		}
	}
	return s, nil
}
