// Package codec defines the ErasureCodec capability (spec §6): the
// external, pure-compute collaborator that encodes parity, decodes
// erasures, and reports the minimum shard set needed to do so. The core
// never implements codec math itself - only adapters to a concrete
// library live under codec/.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package codec

import "github.com/NVIDIA/aistore/ec2/stripe"

// Optimization is the codec-feature bitmask reported by
// SupportedOptimizations.
type Optimization uint32

const (
	OptPartialRead Optimization = 1 << iota
	OptPartialWrite
	OptZeroInputZeroOutput
)

// Has reports whether opt is set in the mask.
func (m Optimization) Has(opt Optimization) bool { return m&opt != 0 }

// Codec is the capability interface consumed by ShardExtentMap.encode /
// decode and by ReadPipeline's minimum-to-decode planning. Adapters
// (e.g. codec/reedsolomon) implement this over a concrete library;
// nothing in ec2 depends on a specific codec implementation.
type Codec interface {
	ChunkCount() int
	DataChunkCount() int
	SubChunkCount() int
	ChunkMapping() []stripe.ShardId
	SupportedOptimizations() Optimization

	// EncodeChunks fills every shard present in out from the shards
	// present in in. Both maps are keyed by ShardId (post-mapping); in
	// must contain every data shard.
	EncodeChunks(in, out map[stripe.ShardId][]byte) error

	// DecodeChunks fills every shard in out that is also set in want,
	// using whatever shards are present in in. Returns
	// *ec2.ErrInsufficientShards if in does not contain enough shards,
	// and *ec2.ErrDecodeFailure if reconstruction itself fails.
	DecodeChunks(want map[stripe.ShardId]bool, in, out map[stripe.ShardId][]byte) error

	// MinimumToDecode returns, for each shard that must be read to
	// satisfy want given the shards in have, the sub-chunk indices
	// needed from it. Returns *ec2.ErrInsufficientShards if want cannot
	// be satisfied from have.
	MinimumToDecode(want, have map[stripe.ShardId]bool) (map[stripe.ShardId][]int, error)
}
