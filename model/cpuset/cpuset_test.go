package cpuset

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetBasicOps(t *testing.T) {
	var s Set
	assert.True(t, s.Empty())
	s.Set(0)
	s.Set(3)
	s.Set(130)
	assert.Equal(t, 3, s.Weight())
	assert.True(t, s.Has(3))
	assert.False(t, s.Has(4))
	assert.Equal(t, 0, s.First())
	assert.Equal(t, 3, s.Next(1))
	assert.Equal(t, 130, s.Next(4))
	assert.Equal(t, None, s.Next(131))
	s.Clear(0)
	assert.Equal(t, 3, s.First())
}

func TestSetOutOfRangeIgnored(t *testing.T) {
	var s Set
	s.Set(-1)
	s.Set(MaxCPUs)
	assert.True(t, s.Empty())
	assert.False(t, s.Has(-1))
}

func TestForEachWrap(t *testing.T) {
	s := OfCPUs(0, 2, 5, 7)
	var order []int
	s.ForEachWrap(4, func(cpu int) bool {
		order = append(order, cpu)
		return true
	})
	assert.Equal(t, []int{5, 7, 0, 2}, order)
}

func TestSetAlgebra(t *testing.T) {
	a := Range(0, 7)
	b := OfCPUs(4, 5, 6, 7, 8, 9)
	var out Set
	assert.True(t, out.And(&a, &b))
	assert.Equal(t, "4-7", out.String())
	assert.True(t, out.AndNot(&a, &b))
	assert.Equal(t, "0-3", out.String())
	out.Or(&a, &b)
	assert.Equal(t, "0-9", out.String())
	assert.True(t, a.Intersects(&b))
	sub := OfCPUs(1, 2)
	assert.True(t, sub.Subset(&a))
	assert.False(t, b.Subset(&a))
}

func TestParseList(t *testing.T) {
	testCases := []struct {
		text    string
		want    string
		wantErr bool
	}{
		{text: "", want: ""},
		{text: "0-3,8", want: "0-3,8"},
		{text: "5", want: "5"},
		{text: "3-1", wantErr: true},
		{text: "a-b", wantErr: true},
		{text: "0-999", wantErr: true},
	}
	for _, tc := range testCases {
		s, err := ParseList(tc.text)
		if tc.wantErr {
			assert.Error(t, err, tc.text)
			continue
		}
		assert.NoError(t, err, tc.text)
		assert.Equal(t, tc.want, s.String(), tc.text)
	}
}

// Accessors must work on copies returned from functions, not only on
// addressable values.
func TestAccessorsOnReturnedCopies(t *testing.T) {
	get := func() Set { return OfCPUs(1, 3) }
	assert.True(t, get().Has(3))
	assert.False(t, get().Empty())
	assert.Equal(t, 1, get().First())
	assert.Equal(t, 3, get().Next(2))
	assert.Equal(t, 2, get().Weight())
	assert.Equal(t, "1,3", get().String())

	var a Atomic
	a.Set(7)
	assert.True(t, a.Snapshot().Has(7))
	assert.False(t, a.Snapshot().Empty())
}

func TestAtomicSet(t *testing.T) {
	var a Atomic
	assert.True(t, a.Empty())
	a.Set(1)
	a.Set(64)
	assert.True(t, a.Has(1))
	assert.True(t, a.Has(64))
	a.Clear(1)
	assert.False(t, a.Has(1))
	snap := a.Snapshot()
	assert.Equal(t, "64", snap.String())
}
