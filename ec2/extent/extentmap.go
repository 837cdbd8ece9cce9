/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package extent

import (
	"sort"

	"github.com/NVIDIA/aistore/ec2/bufferlist"
)

// entry is one (interval, buffer) pair of a Map.
type entry struct {
	Off, Len int64
	Buf      *bufferlist.List
}

func (e entry) interval() Interval { return Interval{Off: e.Off, Len: e.Len} }

// End returns the first byte past the entry.
func (e entry) End() int64 { return e.Off + e.Len }

// Map is an interval-keyed collection of scatter-gather buffers.
// Adjacent intervals are merged automatically on Insert; there are
// never two entries with mergeable (overlapping or touching) keys.
type Map struct {
	entries []entry // sorted by Off, disjoint, non-adjacent
}

// NewMap returns an empty map.
func NewMap() *Map { return &Map{} }

// IsEmpty reports whether the map has no entries.
func (m *Map) IsEmpty() bool { return m == nil || len(m.entries) == 0 }

// Extents returns the Set of intervals covered by the map.
func (m *Map) Extents() *Set {
	s := NewSet()
	for _, e := range m.entries {
		s.ivs = append(s.ivs, e.interval())
	}
	return s
}

// Insert writes buf at [off, off+buf.Length()), overwriting any
// previously stored bytes in that range, then merges with adjacent
// entries. A zero-length buf is a no-op.
func (m *Map) Insert(off int64, buf *bufferlist.List) {
	length := buf.Length()
	if length <= 0 {
		return
	}
	end := off + length

	var kept []entry
	for _, e := range m.entries {
		switch {
		case e.End() <= off || e.Off >= end:
			// disjoint from the new write, keep entirely
			kept = append(kept, e)
		case e.Off < off && e.End() > end:
			// new write is a strict sub-range: keep prefix and suffix
			kept = append(kept, entry{Off: e.Off, Len: off - e.Off, Buf: e.Buf.SubstrOf(0, off-e.Off)})
			kept = append(kept, entry{Off: end, Len: e.End() - end, Buf: e.Buf.SubstrOf(end-e.Off, e.End()-end)})
		case e.Off < off:
			// overlap on the left: keep prefix
			kept = append(kept, entry{Off: e.Off, Len: off - e.Off, Buf: e.Buf.SubstrOf(0, off-e.Off)})
		case e.End() > end:
			// overlap on the right: keep suffix
			kept = append(kept, entry{Off: end, Len: e.End() - end, Buf: e.Buf.SubstrOf(end-e.Off, e.End()-end)})
		default:
			// fully overwritten, drop
		}
	}
	kept = append(kept, entry{Off: off, Len: length, Buf: buf})
	sort.Slice(kept, func(i, j int) bool { return kept[i].Off < kept[j].Off })
	m.entries = mergeAdjacent(kept)
}

func mergeAdjacent(sorted []entry) []entry {
	if len(sorted) == 0 {
		return nil
	}
	out := make([]entry, 0, len(sorted))
	cur := sorted[0]
	for _, e := range sorted[1:] {
		if cur.End() == e.Off {
			merged := bufferlist.New()
			merged.ClaimAppend(cur.Buf)
			merged.ClaimAppend(e.Buf)
			cur = entry{Off: cur.Off, Len: cur.Len + e.Len, Buf: merged}
			continue
		}
		out = append(out, cur)
		cur = e
	}
	out = append(out, cur)
	return out
}

// Get returns the contiguous buffer covering exactly [off, off+length),
// or ok=false if that range is not fully present in the map.
func (m *Map) Get(off, length int64) (buf *bufferlist.List, ok bool) {
	if length <= 0 {
		return bufferlist.New(), true
	}
	end := off + length
	out := bufferlist.New()
	cur := off
	for _, e := range m.entries {
		if e.End() <= cur {
			continue
		}
		if e.Off > cur {
			return nil, false
		}
		take := min64(e.End(), end) - cur
		out.ClaimAppend(e.Buf.SubstrOf(cur-e.Off, take))
		cur += take
		if cur >= end {
			return out, true
		}
	}
	return nil, false
}

// IntersectRange returns a new Map restricted to [off, off+length).
func (m *Map) IntersectRange(off, length int64) *Map {
	out := NewMap()
	end := off + length
	for _, e := range m.entries {
		lo := max64(e.Off, off)
		hi := min64(e.End(), end)
		if lo < hi {
			out.Insert(lo, e.Buf.SubstrOf(lo-e.Off, hi-lo))
		}
	}
	return out
}

// Intersect returns a new Map restricted to the given Set.
func (m *Map) Intersect(s *Set) *Map {
	out := NewMap()
	for _, iv := range s.Intervals() {
		sub := m.IntersectRange(iv.Off, iv.Len)
		for _, e := range sub.entries {
			out.Insert(e.Off, e.Buf)
		}
	}
	return out
}

// Subtract removes every byte covered by s from m, returning a new Map.
func (m *Map) Subtract(s *Set) *Map {
	out := NewMap()
	remaining := m.Extents().Subtract(s)
	for _, iv := range remaining.Intervals() {
		sub := m.IntersectRange(iv.Off, iv.Len)
		for _, e := range sub.entries {
			out.Insert(e.Off, e.Buf)
		}
	}
	return out
}

// Clone returns a deep copy.
func (m *Map) Clone() *Map {
	out := NewMap()
	for _, e := range m.entries {
		out.Insert(e.Off, e.Buf.Clone())
	}
	return out
}

// Iter calls fn for each (offset, length, buffer) entry in ascending
// offset order. Iteration stops early if fn returns false.
func (m *Map) Iter(fn func(off, length int64, buf *bufferlist.List) bool) {
	for _, e := range m.entries {
		if !fn(e.Off, e.Len, e.Buf) {
			return
		}
	}
}
