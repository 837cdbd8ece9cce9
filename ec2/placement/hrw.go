// Package placement implements ShardLocator: rendezvous (highest random
// weight) resolution of which target owns which shard of an object's
// stripe geometry, so ReadPipeline/RMWPipeline know where to send each
// SubOpRead/SubOpWrite.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package placement

import (
	"sort"

	"github.com/OneOfOne/xxhash"

	"github.com/NVIDIA/aistore/cmn/cos"
	"github.com/NVIDIA/aistore/ec2/stripe"
)

// Target is one candidate owner of a shard: an opaque node identity and
// a precomputed digest of that identity (stable across calls, the way
// fs.Hrw precomputes a mountpath's PathDigest once at registration).
type Target struct {
	ID     string
	Digest uint64
}

// NewTarget derives a Target's digest from its ID the same way fs.Hrw
// derives a mountpath's PathDigest: a single xxhash pass over the ID.
func NewTarget(id string) Target {
	return Target{ID: id, Digest: xxhash.ChecksumString64S(id, cos.MLCG32)}
}

// ShardLocator resolves, for one object's stripe geometry, which target
// in a candidate pool owns each of its k+m shards. The resolution is a
// pure function of (oid, shard, pool): no registry or RPC involved.
type ShardLocator struct {
	pool []Target
}

// NewShardLocator builds a locator over pool. pool is typically an
// acting set (the targets currently responsible for a placement group)
// plus, during recovery, a backfill set.
func NewShardLocator(pool []Target) *ShardLocator {
	cp := make([]Target, len(pool))
	copy(cp, pool)
	return &ShardLocator{pool: cp}
}

// Resolve returns the pool ordered by descending weight for (oid, shard):
// Resolve(...)[0] is the primary owner, the rest are weighted
// alternates consulted if the primary is unavailable (spec §4.6's
// backfill-set fallback during for_recovery reads).
func (l *ShardLocator) Resolve(oid string, shard stripe.ShardId) []Target {
	digest := xxhash.ChecksumString64S(uname(oid, shard), cos.MLCG32)
	out := make([]Target, len(l.pool))
	copy(out, l.pool)
	sort.Slice(out, func(i, j int) bool {
		return weight(out[i].Digest, digest) > weight(out[j].Digest, digest)
	})
	return out
}

// Primary is a convenience for Resolve(...)[0]; returns false if pool is
// empty.
func (l *ShardLocator) Primary(oid string, shard stripe.ShardId) (Target, bool) {
	ordered := l.Resolve(oid, shard)
	if len(ordered) == 0 {
		return Target{}, false
	}
	return ordered[0], true
}

func weight(nodeDigest, objDigest uint64) uint64 {
	return xxhash.Checksum64S(combine(nodeDigest, objDigest), cos.MLCG32)
}

func combine(a, b uint64) []byte {
	buf := make([]byte, 16)
	for i := 0; i < 8; i++ {
		buf[i] = byte(a >> (8 * i))
		buf[8+i] = byte(b >> (8 * i))
	}
	return buf
}

func uname(oid string, shard stripe.ShardId) string {
	b := make([]byte, 0, len(oid)+8)
	b = append(b, oid...)
	b = append(b, byte(shard), byte(shard>>8))
	return string(b)
}
