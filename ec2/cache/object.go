/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package cache

import (
	"sort"
	"time"

	"github.com/NVIDIA/aistore/ec2/bufferlist"
	"github.com/NVIDIA/aistore/ec2/shard"
	"github.com/NVIDIA/aistore/ec2/stripe"
)

// Object holds every pinned and cached line for one oid, plus the
// bookkeeping needed to serialize and coalesce ops against it.
type Object struct {
	oid string
	si  *stripe.Info

	lineSize int64
	lines    map[int64]*Line // keyed by line-aligned RO offset

	requesting, reading, writing *shard.ExtentSet
	requestingOps, readingOps    []*Op
	waitingOps                   []*Op

	currentSize, projectedSize int64

	// staleAfter is applied to every line created for this object; see
	// Line.staleAfter.
	staleAfter time.Duration
}

func newObject(oid string, si *stripe.Info, minLineSize int64, staleAfter time.Duration) *Object {
	lineSize := si.ChunkSize()
	if minLineSize > lineSize {
		lineSize = minLineSize
	}
	return &Object{
		oid:        oid,
		si:         si,
		lineSize:   lineSize,
		lines:      make(map[int64]*Line),
		requesting: shard.NewExtentSet(si),
		reading:    shard.NewExtentSet(si),
		writing:    shard.NewExtentSet(si),
		staleAfter: staleAfter,
	}
}

func (o *Object) idle() bool { return len(o.waitingOps) == 0 }

func (o *Object) pinned() bool {
	for _, ln := range o.lines {
		if ln.refCount > 0 {
			return true
		}
	}
	return false
}

func (o *Object) getOrCreateLine(off int64) *Line {
	if ln, ok := o.lines[off]; ok {
		return ln
	}
	ln := newLine(o.si, off, o.staleAfter)
	o.lines[off] = ln
	return ln
}

// forEachLineSpan walks [roOff, roOff+roLen) and calls fn once per
// line-aligned sub-span: (lineOff, offset-within-the-range, length).
func (o *Object) forEachLineSpan(roOff, roLen int64, fn func(lineOff, spanOff, spanLen int64)) {
	if roLen <= 0 {
		return
	}
	end := roOff + roLen
	pos := roOff
	for pos < end {
		lineOff := (pos / o.lineSize) * o.lineSize
		lineEnd := lineOff + o.lineSize
		take := lineEnd - pos
		if pos+take > end {
			take = end - pos
		}
		fn(lineOff, pos-roOff, take)
		pos += take
	}
}

// touchedLineOffsets returns the sorted, deduplicated line-aligned RO
// offsets overlapping [roOff, roOff+roLen) - the RO range an op's
// combined reads and writes project onto.
func (o *Object) touchedLineOffsets(roOff, roLen int64) []int64 {
	seen := make(map[int64]bool)
	var out []int64
	o.forEachLineSpan(roOff, roLen, func(lineOff, _, _ int64) {
		if !seen[lineOff] {
			seen[lineOff] = true
			out = append(out, lineOff)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// stripeHomeLineOffset is the line a parity shard's bytes for stripeIdx
// are filed under: parity has no RO projection of its own, so its
// stripe is homed at the line containing that stripe's first RO byte
// (the same line data-shard-0's chunk for that stripe lands in).
func (o *Object) stripeHomeLineOffset(stripeIdx int64) int64 {
	ro := stripeIdx * o.si.StripeWidth()
	return (ro / o.lineSize) * o.lineSize
}

// cachedExtents returns the union, across every non-expired line, of
// bytes actually cached - the set subtracted from a read request to
// avoid redundant backend reads. An expired line (staleAfter elapsed)
// is treated as uncached so its bytes get re-fetched, without evicting
// or unpinning it.
func (o *Object) cachedExtents() *shard.ExtentSet {
	out := shard.NewExtentSet(o.si)
	for _, ln := range o.lines {
		if ln.IsExpired() {
			continue
		}
		out.InsertAll(ln.data.Extents())
	}
	return out
}

// insertUpdate folds update's bytes into whichever lines they belong to.
// Data-shard entries are homed by their actual RO projection, split
// across a line boundary if they cross one; parity-shard entries (which
// have no RO projection) are homed whole, by stripe, at
// stripeHomeLineOffset.
func (o *Object) insertUpdate(update *shard.ExtentMap) {
	cs := o.si.ChunkSize()

	for _, sh := range update.Shards() {
		isData := o.si.IsDataShard(sh)
		update.Shard(sh).Iter(func(off, length int64, buf *bufferlist.List) bool {
			if isData {
				o.insertDataShardSpan(sh, off, length, buf)
			} else {
				o.insertParityShardSpan(sh, off, length, buf, cs)
			}
			return true
		})
	}
}

func (o *Object) insertDataShardSpan(sh stripe.ShardId, off, length int64, buf *bufferlist.List) {
	ivs, err := o.si.ShardRangeToRO(sh, off, length)
	if err != nil || len(ivs) == 0 {
		return
	}
	localPos := off
	for _, iv := range ivs {
		o.forEachLineSpan(iv.Off, iv.Len, func(lineOff, spanOff, spanLen int64) {
			sub := buf.SubstrOf(localPos-off+spanOff, spanLen)
			ln := o.getOrCreateLine(lineOff)
			ln.data.InsertInShard(sh, localPos+spanOff, sub)
			ln.Refresh()
		})
		localPos += iv.Len
	}
}

func (o *Object) insertParityShardSpan(sh stripe.ShardId, off, length int64, buf *bufferlist.List, chunkSize int64) {
	pos := off
	end := off + length
	for pos < end {
		stripeIdx := pos / chunkSize
		chunkEnd := (stripeIdx + 1) * chunkSize
		take := chunkEnd - pos
		if pos+take > end {
			take = end - pos
		}
		sub := buf.SubstrOf(pos-off, take)
		lineOff := o.stripeHomeLineOffset(stripeIdx)
		ln := o.getOrCreateLine(lineOff)
		ln.data.InsertInShard(sh, pos, sub)
		ln.Refresh()
		pos += take
	}
}

// snapshot returns a fresh ExtentMap holding exactly the bytes of reads
// that are currently cached across every line.
func (o *Object) snapshot(reads *shard.ExtentSet) *shard.ExtentMap {
	out := shard.New(o.si)
	for _, ln := range o.lines {
		sub := ln.data.Intersect(reads)
		for _, sh := range sub.Shards() {
			sub.Shard(sh).Iter(func(off, length int64, buf *bufferlist.List) bool {
				out.InsertInShard(sh, off, buf.Clone())
				return true
			})
		}
	}
	return out
}
