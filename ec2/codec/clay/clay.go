// Package clay documents the partial-write delta contract for a
// CLAY-style codec without implementing its math. Per spec §9's open
// question, "the encode_delta/apply_delta CLAY-style partial-write path
// is sketched but incomplete in the source; specify it as codec-owned
// and defer the exact algorithm to the codec contract." This package is
// that contract: a DeltaCodec extension a codec may optionally satisfy,
// and a Codec that reports the optimization but declines to perform it
// until a real implementation lands.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package clay

import (
	"errors"

	"github.com/NVIDIA/aistore/ec2/codec"
	"github.com/NVIDIA/aistore/ec2/stripe"
)

// ErrDeltaNotImplemented is returned by Codec's DeltaCodec methods: the
// delta algorithm is codec-specific and left to a future, real CLAY
// implementation.
var ErrDeltaNotImplemented = errors.New("clay: encode_delta/apply_delta not implemented")

// DeltaCodec is satisfied by codecs that support the partial-write
// optimization (codec.OptPartialWrite): instead of a full re-encode,
// RMWPipeline may hand the codec only the before/after image of the
// rewritten portion of each stripe and apply the resulting delta to the
// existing parity in place.
type DeltaCodec interface {
	codec.Codec

	// EncodeDelta computes, for the rewritten byte range of a single
	// stripe, the parity delta to apply - before and after are the old
	// and new contents of the rewritten data-shard bytes, keyed by
	// ShardId; out receives one delta buffer per parity shard.
	EncodeDelta(before, after map[stripe.ShardId][]byte, out map[stripe.ShardId][]byte) error

	// ApplyDelta folds a delta produced by EncodeDelta into the
	// existing parity buffers in place.
	ApplyDelta(delta map[stripe.ShardId][]byte, parity map[stripe.ShardId][]byte) error
}

// Codec wraps a base codec.Codec and advertises OptPartialWrite so
// RMWPipeline's stripe-qualification logic can be exercised end to end,
// while the delta math itself remains unimplemented.
type Codec struct {
	codec.Codec
}

// New wraps base, reporting support for the partial-write optimization
// in addition to whatever base already reports.
func New(base codec.Codec) *Codec { return &Codec{Codec: base} }

func (c *Codec) SupportedOptimizations() codec.Optimization {
	return c.Codec.SupportedOptimizations() | codec.OptPartialWrite
}

func (c *Codec) EncodeDelta(map[stripe.ShardId][]byte, map[stripe.ShardId][]byte, map[stripe.ShardId][]byte) error {
	return ErrDeltaNotImplemented
}

func (c *Codec) ApplyDelta(map[stripe.ShardId][]byte, map[stripe.ShardId][]byte) error {
	return ErrDeltaNotImplemented
}

// interface guards
var (
	_ codec.Codec = (*Codec)(nil)
	_ DeltaCodec  = (*Codec)(nil)
)
