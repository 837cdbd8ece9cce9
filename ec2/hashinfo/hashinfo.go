// Package hashinfo implements the rolling per-shard hash chain used to
// verify EC object stream integrity and bound object size (spec §4.3).
// It is only consulted when the codec does not support EC overwrites:
// overwrites cannot preserve a linear hash chain.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package hashinfo

import (
	"encoding/binary"
	"fmt"
	"hash"

	"blainsmith.com/go/seahash"
)

const wireVersion uint32 = 1

// Info is a rolling per-shard hash chain: one running seahash per shard,
// plus the cumulative byte count the chain has folded in. An Info
// produced by New is live and grows via AppendStripe; an Info produced
// by Unmarshal is a finalized snapshot read back from an object
// attribute and cannot be appended to.
type Info struct {
	numShards      int
	totalChunkSize int64
	hashers        []hash.Hash64 // nil once finalized (loaded from disk)
	finalHashes    []uint32      // valid only when hashers == nil
}

// New returns an empty, live Info for numShards (k+m) shards.
func New(numShards int) *Info {
	h := &Info{numShards: numShards, hashers: make([]hash.Hash64, numShards)}
	for i := range h.hashers {
		h.hashers[i] = seahash.New()
	}
	return h
}

// TotalChunkSize returns the cumulative per-shard chunk size folded in
// so far (the same for every shard, since every stripe contributes one
// chunk_size slice per shard).
func (h *Info) TotalChunkSize() int64 { return h.totalChunkSize }

// CumulativeShardHashes returns the current rolling hash of every
// shard, truncated to 32 bits per the wire format (spec §6).
func (h *Info) CumulativeShardHashes() []uint32 {
	if h.hashers == nil {
		out := make([]uint32, len(h.finalHashes))
		copy(out, h.finalHashes)
		return out
	}
	out := make([]uint32, h.numShards)
	for i, d := range h.hashers {
		out[i] = uint32(d.Sum64())
	}
	return out
}

// AppendStripe folds one stripe's worth of per-raw-shard chunk bytes
// into the chain and extends total_chunk_size by chunkSize. chunks is
// keyed by raw (codec-internal) shard index, stable across any
// shard-mapping permutation; a shard missing from chunks is treated as
// a zero-filled chunk of length chunkSize. Panics if h was loaded from
// disk via Unmarshal: a finalized record cannot resume hashing.
func (h *Info) AppendStripe(chunks map[int][]byte, chunkSize int64) {
	if h.hashers == nil {
		panic("hashinfo: cannot append to a finalized (unmarshalled) Info")
	}
	zero := make([]byte, chunkSize)
	for raw := 0; raw < h.numShards; raw++ {
		data, ok := chunks[raw]
		if !ok {
			data = zero
		}
		h.hashers[raw].Write(data)
	}
	h.totalChunkSize += chunkSize
}

// Marshal encodes the hash info as a stable versioned record: version,
// shard count, total_chunk_size, then one u32 hash per shard.
func (h *Info) Marshal() []byte {
	hashes := h.CumulativeShardHashes()
	buf := make([]byte, 16+4*len(hashes))
	binary.LittleEndian.PutUint32(buf[0:4], wireVersion)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.numShards))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(h.totalChunkSize))
	for i, v := range hashes {
		binary.LittleEndian.PutUint32(buf[16+4*i:20+4*i], v)
	}
	return buf
}

// Unmarshal decodes a record produced by Marshal into a finalized,
// read-only Info. A missing attribute (the caller simply not calling
// Unmarshal) means "no hash info"; a zero-length chunk count is
// permitted for empty objects.
func Unmarshal(buf []byte) (*Info, error) {
	if len(buf) < 16 {
		return nil, fmt.Errorf("hashinfo: record too short (%d bytes)", len(buf))
	}
	version := binary.LittleEndian.Uint32(buf[0:4])
	if version != wireVersion {
		return nil, fmt.Errorf("hashinfo: unsupported wire version %d", version)
	}
	numShards := int(binary.LittleEndian.Uint32(buf[4:8]))
	totalChunkSize := int64(binary.LittleEndian.Uint64(buf[8:16]))
	want := 16 + 4*numShards
	if len(buf) != want {
		return nil, fmt.Errorf("hashinfo: record length %d, want %d for %d shards", len(buf), want, numShards)
	}
	finalHashes := make([]uint32, numShards)
	for i := range finalHashes {
		finalHashes[i] = binary.LittleEndian.Uint32(buf[16+4*i : 20+4*i])
	}
	return &Info{numShards: numShards, totalChunkSize: totalChunkSize, finalHashes: finalHashes}, nil
}
