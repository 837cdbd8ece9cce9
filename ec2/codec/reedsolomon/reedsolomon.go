// Package reedsolomon adapts github.com/klauspost/reedsolomon - the
// teacher's own EC dependency (see the putjogger reference, which drives
// reedsolomon.NewStreamC directly) - to the codec.Codec capability.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package reedsolomon

import (
	"fmt"

	rs "github.com/klauspost/reedsolomon"

	"github.com/NVIDIA/aistore/ec2"
	"github.com/NVIDIA/aistore/ec2/codec"
	"github.com/NVIDIA/aistore/ec2/stripe"
)

// Codec is a matrix-based Reed-Solomon codec.Codec with no sub-chunking
// and no partial-read/write optimization: every encode/decode touches
// whole chunk-sized shards.
type Codec struct {
	k, m    int
	mapping []stripe.ShardId
	enc     rs.Encoder
}

// New constructs a Reed-Solomon codec for k data / m parity shards. A
// nil mapping uses the identity permutation.
func New(k, m int, mapping []stripe.ShardId) (*Codec, error) {
	enc, err := rs.New(k, m)
	if err != nil {
		return nil, fmt.Errorf("reedsolomon: %w", err)
	}
	if mapping == nil {
		mapping = make([]stripe.ShardId, k+m)
		for i := range mapping {
			mapping[i] = stripe.ShardId(i)
		}
	}
	if len(mapping) != k+m {
		return nil, fmt.Errorf("reedsolomon: mapping length %d != k+m (%d)", len(mapping), k+m)
	}
	return &Codec{k: k, m: m, mapping: append([]stripe.ShardId(nil), mapping...), enc: enc}, nil
}

func (c *Codec) ChunkCount() int     { return c.k + c.m }
func (c *Codec) DataChunkCount() int { return c.k }
func (c *Codec) SubChunkCount() int  { return 1 }

func (c *Codec) ChunkMapping() []stripe.ShardId { return append([]stripe.ShardId(nil), c.mapping...) }

func (c *Codec) SupportedOptimizations() codec.Optimization { return 0 }

func (c *Codec) shardSlices() [][]byte { return make([][]byte, c.k+c.m) }

// EncodeChunks fills every parity shard in out from the data shards in
// in, per spec §4.2's "iterate page-aligned stripe slices...call the
// codec, fold the resulting parity into the map".
func (c *Codec) EncodeChunks(in, out map[stripe.ShardId][]byte) error {
	shards := c.shardSlices()
	for raw := 0; raw < c.k; raw++ {
		sh := c.mapping[raw]
		b, ok := in[sh]
		if !ok {
			return fmt.Errorf("reedsolomon: missing data shard %d for encode", sh)
		}
		shards[raw] = b
	}
	for raw := c.k; raw < c.k+c.m; raw++ {
		sh := c.mapping[raw]
		b, ok := out[sh]
		if !ok {
			return fmt.Errorf("reedsolomon: missing parity shard %d for encode", sh)
		}
		shards[raw] = b
	}
	return c.enc.Encode(shards)
}

// DecodeChunks reconstructs every shard set in want from whatever
// shards are present in in.
func (c *Codec) DecodeChunks(want map[stripe.ShardId]bool, in, out map[stripe.ShardId][]byte) error {
	shards := c.shardSlices()
	present := 0
	for raw := 0; raw < c.k+c.m; raw++ {
		sh := c.mapping[raw]
		if b, ok := in[sh]; ok {
			shards[raw] = b
			present++
		}
	}
	if present < c.k {
		return &ec2.ErrInsufficientShards{Need: c.k}
	}
	if err := c.enc.Reconstruct(shards); err != nil {
		return &ec2.ErrDecodeFailure{Reason: err.Error()}
	}
	for raw := 0; raw < c.k+c.m; raw++ {
		sh := c.mapping[raw]
		if !want[sh] {
			continue
		}
		dst, ok := out[sh]
		if !ok {
			return fmt.Errorf("reedsolomon: missing output buffer for wanted shard %d", sh)
		}
		copy(dst, shards[raw])
	}
	return nil
}

// MinimumToDecode picks the first k available shards in raw order: any
// k of k+m Reed-Solomon shards suffice, each in full (no sub-chunking).
func (c *Codec) MinimumToDecode(want, have map[stripe.ShardId]bool) (map[stripe.ShardId][]int, error) {
	_ = want
	need := make(map[stripe.ShardId][]int)
	picked := 0
	for raw := 0; raw < c.k+c.m && picked < c.k; raw++ {
		sh := c.mapping[raw]
		if have[sh] {
			need[sh] = []int{0}
			picked++
		}
	}
	if picked < c.k {
		var haveList []stripe.ShardId
		for sh, ok := range have {
			if ok {
				haveList = append(haveList, sh)
			}
		}
		return nil, &ec2.ErrInsufficientShards{Need: c.k, Have: toUint16(haveList)}
	}
	return need, nil
}

func toUint16(shards []stripe.ShardId) []uint16 {
	out := make([]uint16, len(shards))
	for i, s := range shards {
		out[i] = uint16(s)
	}
	return out
}

// interface guard
var _ codec.Codec = (*Codec)(nil)
