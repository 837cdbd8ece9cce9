// Package shard implements the central data container of the core: a
// per-shard interval set and interval-buffer map, with slice,
// intersect, pad, zero-fill, parity-insert, encode, and decode
// operations (spec §4.2).
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package shard

import (
	"github.com/NVIDIA/aistore/ec2/extent"
	"github.com/NVIDIA/aistore/ec2/stripe"
)

// ExtentSet is a ShardId -> extent.Set mapping: which byte ranges of
// each shard are of interest, with no associated data.
type ExtentSet struct {
	si  *stripe.Info
	per map[stripe.ShardId]*extent.Set
}

// NewExtentSet returns an empty ExtentSet for the given stripe
// geometry.
func NewExtentSet(si *stripe.Info) *ExtentSet {
	return &ExtentSet{si: si, per: make(map[stripe.ShardId]*extent.Set)}
}

// StripeInfo returns the geometry this set was built against.
func (s *ExtentSet) StripeInfo() *stripe.Info { return s.si }

// Shards returns the shards with a non-empty entry.
func (s *ExtentSet) Shards() []stripe.ShardId {
	out := make([]stripe.ShardId, 0, len(s.per))
	for sh := range s.per {
		out = append(out, sh)
	}
	return out
}

// Get returns the extent.Set for shard, or an empty set if absent.
func (s *ExtentSet) Get(shard stripe.ShardId) *extent.Set {
	if set, ok := s.per[shard]; ok {
		return set
	}
	return extent.NewSet()
}

// IsEmpty reports whether every shard entry is empty.
func (s *ExtentSet) IsEmpty() bool { return s == nil || len(s.per) == 0 }

// Insert adds [off, off+length) to shard's set.
func (s *ExtentSet) Insert(shard stripe.ShardId, off, length int64) {
	if length <= 0 {
		return
	}
	set, ok := s.per[shard]
	if !ok {
		set = extent.NewSet()
		s.per[shard] = set
	}
	set.Insert(off, length)
}

// InsertSet merges another shard's worth of extents in bulk.
func (s *ExtentSet) InsertSet(shard stripe.ShardId, other *extent.Set) {
	for _, iv := range other.Intervals() {
		s.Insert(shard, iv.Off, iv.Len)
	}
}

// InsertAll merges every shard of other into s.
func (s *ExtentSet) InsertAll(other *ExtentSet) {
	for _, shard := range other.Shards() {
		s.InsertSet(shard, other.Get(shard))
	}
}

// Size returns the sum of extent lengths across every shard.
func (s *ExtentSet) Size() int64 {
	var total int64
	for _, set := range s.per {
		total += set.Size()
	}
	return total
}

// Align returns a new ExtentSet with every shard's extents aligned
// outward to a multiple of `a`.
func (s *ExtentSet) Align(a int64) *ExtentSet {
	out := NewExtentSet(s.si)
	for shard, set := range s.per {
		out.per[shard] = set.Align(a)
	}
	return out
}

// Subtract returns a new ExtentSet: s minus every byte present in other,
// per shard.
func (s *ExtentSet) Subtract(other *ExtentSet) *ExtentSet {
	out := NewExtentSet(s.si)
	for shard, set := range s.per {
		diff := set.Subtract(other.Get(shard))
		if !diff.IsEmpty() {
			out.per[shard] = diff
		}
	}
	return out
}

// Intersect returns a new ExtentSet: bytes present in both s and other,
// per shard.
func (s *ExtentSet) Intersect(other *ExtentSet) *ExtentSet {
	out := NewExtentSet(s.si)
	for shard, set := range s.per {
		inter := set.Intersect(other.Get(shard))
		if !inter.IsEmpty() {
			out.per[shard] = inter
		}
	}
	return out
}

// GetExtentSuperset returns the union of every shard's extents,
// flattened into a single shard-agnostic interval set - the envelope of
// bytes touched anywhere in the set, independent of which shard.
func (s *ExtentSet) GetExtentSuperset() *extent.Set {
	out := extent.NewSet()
	for _, set := range s.per {
		for _, iv := range set.Intervals() {
			out.Insert(iv.Off, iv.Len)
		}
	}
	return out
}

// EraseStripe removes, from every shard (data and parity), the bytes
// covered by the RO-aligned stripe range [roOff, roOff+roLen).
func (s *ExtentSet) EraseStripe(roOff, roLen int64) {
	touched := s.si.RORangeToShardExtentsWithParity(roOff, roLen)
	for shard, set := range touched {
		if cur, ok := s.per[shard]; ok {
			diff := cur.Subtract(set)
			if diff.IsEmpty() {
				delete(s.per, shard)
			} else {
				s.per[shard] = diff
			}
		}
	}
}

// Clone returns a deep copy.
func (s *ExtentSet) Clone() *ExtentSet {
	out := NewExtentSet(s.si)
	for shard, set := range s.per {
		out.per[shard] = set.Clone()
	}
	return out
}
