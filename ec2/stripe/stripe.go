// Package stripe implements the immutable stripe geometry model: pure
// functions mapping object-relative (RO) byte ranges to per-shard
// coordinates under a configurable data/parity split, chunk size, and
// shard-mapping permutation.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package stripe

import (
	"fmt"

	"github.com/NVIDIA/aistore/ec2"
	"github.com/NVIDIA/aistore/ec2/extent"
)

// ShardId identifies one of the k+m shards, after the chunk-mapping
// permutation has been applied.
type ShardId uint16

// Features mirrors the codec's advertised optimization bitmask (spec
// §6): which operations the codec can execute without a full
// encode/decode pass.
type Features struct {
	PartialReads  bool
	PartialWrites bool
	Overwrites    bool
}

// Info is the immutable stripe geometry for one object layout: k data
// shards, m parity shards, a chunk size, and a bijective permutation
// from raw (codec-internal) shard index to ShardId.
type Info struct {
	k, m      int
	chunkSize int64
	mapping   []ShardId // mapping[rawShard] = ShardId
	reverse   []ShardId // reverse[ShardId] = rawShard, as ShardId for convenience
	features  Features
}

// New validates and constructs a stripe geometry. mapping must be a
// permutation of 0..k+m-1; pass nil for the identity mapping.
func New(k, m int, chunkSize int64, mapping []ShardId, features Features) (*Info, error) {
	if k <= 0 {
		return nil, &ec2.ErrInvalidGeometry{Reason: "k must be positive"}
	}
	if m < 0 {
		return nil, &ec2.ErrInvalidGeometry{Reason: "m must be non-negative"}
	}
	if chunkSize <= 0 {
		return nil, &ec2.ErrInvalidGeometry{Reason: "chunk_size must be positive"}
	}
	n := k + m
	if mapping == nil {
		mapping = make([]ShardId, n)
		for i := range mapping {
			mapping[i] = ShardId(i)
		}
	}
	if len(mapping) != n {
		return nil, &ec2.ErrInvalidGeometry{Reason: fmt.Sprintf("chunk_mapping length %d != k+m (%d)", len(mapping), n)}
	}
	reverse := make([]ShardId, n)
	seen := make([]bool, n)
	for raw, sh := range mapping {
		if int(sh) < 0 || int(sh) >= n || seen[sh] {
			return nil, &ec2.ErrInvalidGeometry{Reason: "chunk_mapping is not a bijection"}
		}
		seen[sh] = true
		reverse[sh] = ShardId(raw)
	}
	stripeWidth := chunkSize * int64(k)
	if stripeWidth%int64(k) != 0 {
		// unreachable given stripeWidth := chunkSize*k, kept to honor the
		// spec's explicit invariant statement.
		return nil, &ec2.ErrInvalidGeometry{Reason: "stripe_width % k != 0"}
	}
	return &Info{k: k, m: m, chunkSize: chunkSize, mapping: append([]ShardId(nil), mapping...), reverse: reverse, features: features}, nil
}

func (si *Info) K() int               { return si.k }
func (si *Info) M() int               { return si.m }
func (si *Info) ChunkSize() int64     { return si.chunkSize }
func (si *Info) StripeWidth() int64   { return si.chunkSize * int64(si.k) }
func (si *Info) ShardCount() int      { return si.k + si.m }
func (si *Info) Features() Features   { return si.features }

func (si *Info) SupportsPartialReads() bool  { return si.features.PartialReads }
func (si *Info) SupportsPartialWrites() bool { return si.features.PartialWrites }
func (si *Info) SupportsECOverwrites() bool  { return si.features.Overwrites }

// GetShard maps a raw (codec-internal) shard index to its ShardId.
func (si *Info) GetShard(raw int) ShardId { return si.mapping[raw] }

// GetRawShard maps a ShardId back to its raw (codec-internal) index.
func (si *Info) GetRawShard(shard ShardId) int { return int(si.reverse[shard]) }

// IsDataShard reports whether shard carries original object bytes.
func (si *Info) IsDataShard(shard ShardId) bool { return si.GetRawShard(shard) < si.k }

// IsNonprimaryShard reports whether shard is anything other than raw
// shard 0.
func (si *Info) IsNonprimaryShard(shard ShardId) bool { return si.GetRawShard(shard) != 0 }

// DataShards returns every data ShardId in raw order.
func (si *Info) DataShards() []ShardId {
	out := make([]ShardId, si.k)
	for raw := 0; raw < si.k; raw++ {
		out[raw] = si.GetShard(raw)
	}
	return out
}

// ParityShards returns every parity ShardId in raw order.
func (si *Info) ParityShards() []ShardId {
	out := make([]ShardId, si.m)
	for raw := 0; raw < si.m; raw++ {
		out[raw] = si.GetShard(si.k + raw)
	}
	return out
}

// touchedStripes returns the inclusive [first, last] stripe indices
// overlapping [roOff, roOff+roLen).
func (si *Info) touchedStripes(roOff, roLen int64) (first, last int64) {
	sw := si.StripeWidth()
	first = roOff / sw
	last = (roOff + roLen - 1) / sw
	return
}

// RORangeToShardExtents decomposes [roOff, roOff+roLen) into its
// minimal per-data-shard cover; it never emits parity shards.
func (si *Info) RORangeToShardExtents(roOff, roLen int64) map[ShardId]*extent.Set {
	out := make(map[ShardId]*extent.Set)
	if roLen <= 0 {
		return out
	}
	sw := si.StripeWidth()
	roEnd := roOff + roLen
	first, last := si.touchedStripes(roOff, roLen)
	for s := first; s <= last; s++ {
		stripeOff := s * sw
		for raw := 0; raw < si.k; raw++ {
			chunkStart := stripeOff + int64(raw)*si.chunkSize
			chunkEnd := chunkStart + si.chunkSize
			lo := max64(chunkStart, roOff)
			hi := min64(chunkEnd, roEnd)
			if lo >= hi {
				continue
			}
			shard := si.GetShard(raw)
			shardOff := s*si.chunkSize + (lo - chunkStart)
			if out[shard] == nil {
				out[shard] = extent.NewSet()
			}
			out[shard].Insert(shardOff, hi-lo)
		}
	}
	return out
}

// RORangeToShardExtentsWithParity is RORangeToShardExtents plus every
// parity shard getting the RO-aligned superset of the touched stripes,
// so parity is always rebuilt for exactly the touched stripes.
func (si *Info) RORangeToShardExtentsWithParity(roOff, roLen int64) map[ShardId]*extent.Set {
	out := si.RORangeToShardExtents(roOff, roLen)
	if roLen <= 0 {
		return out
	}
	first, last := si.touchedStripes(roOff, roLen)
	for raw := si.k; raw < si.k+si.m; raw++ {
		shard := si.GetShard(raw)
		if out[shard] == nil {
			out[shard] = extent.NewSet()
		}
		for s := first; s <= last; s++ {
			out[shard].Insert(s*si.chunkSize, si.chunkSize)
		}
	}
	return out
}

// ShardRangeToRO projects a contiguous per-shard byte range on a data
// shard back to the (possibly discontiguous, one piece per stripe) set
// of RO intervals it covers. Parity shards have no RO projection.
func (si *Info) ShardRangeToRO(shard ShardId, shardOff, shardLen int64) ([]extent.Interval, error) {
	raw := si.GetRawShard(shard)
	if raw >= si.k {
		return nil, fmt.Errorf("shard %d is a parity shard, has no RO projection", shard)
	}
	if shardLen <= 0 {
		return nil, nil
	}
	sw := si.StripeWidth()
	shardEnd := shardOff + shardLen
	firstChunk := shardOff / si.chunkSize
	lastChunk := (shardEnd - 1) / si.chunkSize
	var out []extent.Interval
	for c := firstChunk; c <= lastChunk; c++ {
		chunkStartInShard := c * si.chunkSize
		chunkEndInShard := chunkStartInShard + si.chunkSize
		lo := max64(chunkStartInShard, shardOff)
		hi := min64(chunkEndInShard, shardEnd)
		if lo >= hi {
			continue
		}
		roOff := c*sw + int64(raw)*si.chunkSize + (lo - chunkStartInShard)
		out = append(out, extent.Interval{Off: roOff, Len: hi - lo})
	}
	return out, nil
}

// ObjectSizeToShardSize returns the on-disk length of shard given the
// RO object size. Parity shards share data shard 0's size.
func (si *Info) ObjectSizeToShardSize(size int64, shard ShardId) int64 {
	sw := si.StripeWidth()
	fullStripes := size / sw
	residue := size % sw
	base := fullStripes * si.chunkSize

	raw := si.GetRawShard(shard)
	if raw >= si.k {
		raw = 0 // parity shares shard-0's size
	}
	if residue == 0 {
		return base
	}
	chunkStart := int64(raw) * si.chunkSize
	if chunkStart >= residue {
		return base
	}
	extra := residue - chunkStart
	if extra > si.chunkSize {
		extra = si.chunkSize
	}
	return base + extra
}

// RoSizeToReadMask returns the per-shard byte range [0, backed) that is
// backed by data actually written for an object of the given current RO
// size. pageSize is not applied: the range is not aligned.
func (si *Info) RoSizeToReadMask(roSize int64, shard ShardId, pageSize int64) *extent.Set {
	backed := si.ObjectSizeToShardSize(roSize, shard)
	if backed <= 0 {
		return extent.NewSet()
	}
	return extent.NewSetOf(0, backed)
}

// RoSizeToZeroMask returns the per-shard byte range between the
// actually-written bytes and the next pageSize-aligned boundary: reads
// in this range must be synthesized as zero rather than fetched from
// the backend.
func (si *Info) RoSizeToZeroMask(roSize int64, shard ShardId, pageSize int64) *extent.Set {
	backed := si.ObjectSizeToShardSize(roSize, shard)
	aligned := roundUp(backed, pageSize)
	if aligned <= backed {
		return extent.NewSet()
	}
	return extent.NewSetOf(backed, aligned-backed)
}

// ShouldReplicate reports whether an object of the given RO size is
// small enough that a whole copy in every one of the k+m shards is preferable
// to striping it: below one full stripe width there is no partial-shard
// savings, only the fixed overhead of k+m small shard objects instead
// of one full-size copy.
func (si *Info) ShouldReplicate(roSize int64) bool {
	return roSize < si.StripeWidth()
}

func roundUp(v, align int64) int64 {
	if align <= 1 {
		return v
	}
	rem := v % align
	if rem == 0 {
		return v
	}
	return v + (align - rem)
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
