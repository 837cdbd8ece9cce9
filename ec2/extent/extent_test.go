package extent_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/NVIDIA/aistore/ec2/bufferlist"
	"github.com/NVIDIA/aistore/ec2/extent"
)

func TestSetInsertMerge(t *testing.T) {
	s := extent.NewSet()
	s.Insert(0, 10)
	s.Insert(10, 5) // adjacent, should merge
	s.Insert(20, 5) // disjoint
	ivs := s.Intervals()
	assert.Len(t, ivs, 2)
	assert.Equal(t, extent.Interval{Off: 0, Len: 15}, ivs[0])
	assert.Equal(t, extent.Interval{Off: 20, Len: 5}, ivs[1])
}

func TestSetUnionIntersectSubtract(t *testing.T) {
	a := extent.NewSetOf(0, 10)
	b := extent.NewSetOf(5, 10)

	u := a.Union(b)
	assert.Equal(t, int64(15), u.Size())

	i := a.Intersect(b)
	assert.Equal(t, int64(5), i.Size())
	assert.Equal(t, extent.Interval{Off: 5, Len: 5}, i.Intervals()[0])

	d := a.Subtract(b)
	assert.Equal(t, int64(5), d.Size())
	assert.Equal(t, extent.Interval{Off: 0, Len: 5}, d.Intervals()[0])
}

func TestSetAlign(t *testing.T) {
	s := extent.NewSetOf(3, 10) // [3,13)
	aligned := s.Align(8)
	assert.Equal(t, extent.Interval{Off: 0, Len: 16}, aligned.Intervals()[0])
}

func TestSetCovers(t *testing.T) {
	s := extent.NewSet()
	s.Insert(0, 5)
	s.Insert(10, 5)
	assert.True(t, s.Covers(1, 3))
	assert.False(t, s.Covers(3, 10))
}

func TestMapInsertOverwriteAndMerge(t *testing.T) {
	m := extent.NewMap()
	m.Insert(0, bufferlist.FromBytes([]byte("AAAA")))
	m.Insert(4, bufferlist.FromBytes([]byte("BBBB")))
	buf, ok := m.Get(0, 8)
	assert.True(t, ok)
	assert.Equal(t, "AAAABBBB", string(buf.Contiguous()))

	// overwrite the middle
	m.Insert(2, bufferlist.FromBytes([]byte("XX")))
	buf, ok = m.Get(0, 8)
	assert.True(t, ok)
	assert.Equal(t, "AAXXBBBB", string(buf.Contiguous()))
}

func TestMapGetGap(t *testing.T) {
	m := extent.NewMap()
	m.Insert(0, bufferlist.FromBytes([]byte("AAAA")))
	m.Insert(8, bufferlist.FromBytes([]byte("BBBB")))
	_, ok := m.Get(0, 12)
	assert.False(t, ok)
}

func TestMapIntersectRange(t *testing.T) {
	m := extent.NewMap()
	m.Insert(0, bufferlist.FromBytes([]byte("0123456789")))
	sub := m.IntersectRange(3, 4)
	buf, ok := sub.Get(3, 4)
	assert.True(t, ok)
	assert.Equal(t, "3456", string(buf.Contiguous()))
}

func TestMapSubtract(t *testing.T) {
	m := extent.NewMap()
	m.Insert(0, bufferlist.FromBytes([]byte("0123456789")))
	s := extent.NewSetOf(3, 4) // remove [3,7)
	out := m.Subtract(s)
	extents := out.Extents()
	assert.Equal(t, int64(6), extents.Size())
	buf, ok := out.Get(0, 3)
	assert.True(t, ok)
	assert.Equal(t, "012", string(buf.Contiguous()))
	buf, ok = out.Get(7, 3)
	assert.True(t, ok)
	assert.Equal(t, "789", string(buf.Contiguous()))
}
