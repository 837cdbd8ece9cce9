/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package shard

import (
	"sort"

	"github.com/NVIDIA/aistore/ec2"
	"github.com/NVIDIA/aistore/ec2/bufferlist"
	"github.com/NVIDIA/aistore/ec2/codec"
	"github.com/NVIDIA/aistore/ec2/extent"
	"github.com/NVIDIA/aistore/ec2/hashinfo"
	"github.com/NVIDIA/aistore/ec2/stripe"
)

// ExtentMap is a ShardId -> extent.Map mapping: the buffers actually
// staged for each shard of one object, plus the RO-range bookkeeping
// the cache and pipelines need to know how much of the object this map
// currently spans. It is the central data structure (spec §4.2): every
// read, write, encode, and decode operation is expressed as a
// transformation over one of these.
type ExtentMap struct {
	si  *stripe.Info
	per map[stripe.ShardId]*extent.Map

	roStart, roEnd         int64 // cached envelope of InsertROBuffer calls
	startOffset, endOffset int64 // cached envelope across every shard, any coordinate
	roTouched              bool
	touched                bool
}

// New returns an empty ExtentMap for the given stripe geometry.
func New(si *stripe.Info) *ExtentMap {
	return &ExtentMap{si: si, per: make(map[stripe.ShardId]*extent.Map)}
}

// StripeInfo returns the geometry this map was built against.
func (m *ExtentMap) StripeInfo() *stripe.Info { return m.si }

// Shards returns the shards with at least one entry.
func (m *ExtentMap) Shards() []stripe.ShardId {
	out := make([]stripe.ShardId, 0, len(m.per))
	for sh := range m.per {
		out = append(out, sh)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Shard returns the per-shard extent.Map for shard, creating it if
// absent.
func (m *ExtentMap) Shard(shard stripe.ShardId) *extent.Map {
	em, ok := m.per[shard]
	if !ok {
		em = extent.NewMap()
		m.per[shard] = em
	}
	return em
}

// IsEmpty reports whether every shard is empty.
func (m *ExtentMap) IsEmpty() bool {
	for _, em := range m.per {
		if !em.IsEmpty() {
			return false
		}
	}
	return true
}

// RORange returns the envelope of object-relative bytes ever inserted
// via InsertROBuffer.
func (m *ExtentMap) RORange() (start, end int64) { return m.roStart, m.roEnd }

func (m *ExtentMap) touch(off, end int64) {
	if !m.touched {
		m.startOffset, m.endOffset = off, end
		m.touched = true
		return
	}
	if off < m.startOffset {
		m.startOffset = off
	}
	if end > m.endOffset {
		m.endOffset = end
	}
}

// InsertInShard writes buf at [off, off+buf.Length()) of shard's
// per-shard coordinate space.
func (m *ExtentMap) InsertInShard(shard stripe.ShardId, off int64, buf *bufferlist.List) {
	length := buf.Length()
	if length <= 0 {
		return
	}
	m.Shard(shard).Insert(off, buf)
	m.touch(off, off+length)
}

// InsertROBuffer splits an object-relative write into per-data-shard
// writes according to the stripe geometry, and records the RO range
// touched.
func (m *ExtentMap) InsertROBuffer(roOff int64, buf *bufferlist.List) {
	length := buf.Length()
	if length <= 0 {
		return
	}
	if !m.roTouched {
		m.roStart, m.roEnd = roOff, roOff+length
		m.roTouched = true
	} else {
		if roOff < m.roStart {
			m.roStart = roOff
		}
		if roOff+length > m.roEnd {
			m.roEnd = roOff + length
		}
	}

	sw := m.si.StripeWidth()
	cs := m.si.ChunkSize()
	roEnd := roOff + length
	pos := roOff
	for pos < roEnd {
		stripeIdx := pos / sw
		stripeStart := stripeIdx * sw
		raw := int((pos - stripeStart) / cs)
		chunkStart := stripeStart + int64(raw)*cs
		chunkEnd := chunkStart + cs
		take := min64(chunkEnd, roEnd) - pos
		shard := m.si.GetShard(raw)
		shardOff := stripeIdx*cs + (pos - chunkStart)
		sub := buf.SubstrOf(pos-roOff, take)
		m.InsertInShard(shard, shardOff, sub)
		pos += take
	}
}

// IntersectRORange restricts every data shard's entries to those that
// fall within the RO-projected portion of [roOff, roOff+roLen), leaving
// parity shards untouched (they have no RO projection).
func (m *ExtentMap) IntersectRORange(roOff, roLen int64) *ExtentMap {
	touched := m.si.RORangeToShardExtents(roOff, roLen)
	out := New(m.si)
	for shard, em := range m.per {
		if set, ok := touched[shard]; ok {
			sub := em.Intersect(set)
			if !sub.IsEmpty() {
				out.per[shard] = sub
			}
		} else if !m.si.IsDataShard(shard) {
			// parity shard with no RO projection: keep as-is, callers that
			// want parity restricted use Intersect with an explicit ExtentSet.
			out.per[shard] = em.Clone()
		}
	}
	return out
}

// Intersect restricts every shard's entries to the given per-shard
// ExtentSet.
func (m *ExtentMap) Intersect(s *ExtentSet) *ExtentMap {
	out := New(m.si)
	for shard, em := range m.per {
		sub := em.Intersect(s.Get(shard))
		if !sub.IsEmpty() {
			out.per[shard] = sub
		}
	}
	return out
}

// Subtract removes every byte present in s from m, per shard, returning
// a new ExtentMap.
func (m *ExtentMap) Subtract(s *ExtentSet) *ExtentMap {
	out := New(m.si)
	for shard, em := range m.per {
		sub := em.Subtract(s.Get(shard))
		if !sub.IsEmpty() {
			out.per[shard] = sub
		}
	}
	return out
}

// Extents returns the ExtentSet of bytes present per shard.
func (m *ExtentMap) Extents() *ExtentSet {
	out := NewExtentSet(m.si)
	for shard, em := range m.per {
		out.per[shard] = em.Extents()
	}
	return out
}

// AppendZerosToROOffset extends every data shard's coverage with
// zero-filled bytes so that its RO envelope reaches target, without
// changing any already-present byte. Used when an object grows by a
// sparse/zero-filled region (a write past the current end-of-object).
func (m *ExtentMap) AppendZerosToROOffset(target int64) {
	if target <= m.roEnd {
		return
	}
	gap := target - m.roEnd
	zeros := bufferlist.New()
	zeros.AppendZeros(gap)
	m.InsertROBuffer(m.roEnd, zeros)
}

// GetROBuffer reassembles the object-relative byte range [off, off+length)
// from data-shard entries, in ascending raw-shard order per stripe.
// Returns *ec2.ErrGap if any covered byte is missing from its shard.
func (m *ExtentMap) GetROBuffer(off, length int64) (*bufferlist.List, error) {
	out := bufferlist.New()
	if length <= 0 {
		return out, nil
	}
	sw := m.si.StripeWidth()
	cs := m.si.ChunkSize()
	end := off + length
	pos := off
	for pos < end {
		stripeIdx := pos / sw
		stripeStart := stripeIdx * sw
		raw := int((pos - stripeStart) / cs)
		chunkStart := stripeStart + int64(raw)*cs
		chunkEnd := chunkStart + cs
		take := min64(chunkEnd, end) - pos
		shard := m.si.GetShard(raw)
		shardOff := stripeIdx*cs + (pos - chunkStart)

		em, ok := m.per[shard]
		if !ok {
			return nil, &ec2.ErrGap{Shard: uint16(shard), Off: shardOff, End: shardOff + take}
		}
		buf, ok := em.Get(shardOff, take)
		if !ok {
			return nil, &ec2.ErrGap{Shard: uint16(shard), Off: shardOff, End: shardOff + take}
		}
		out.ClaimAppend(buf)
		pos += take
	}
	return out, nil
}

// InsertParityBuffers stores pre-computed parity shard buffers, one full
// chunk_size slice per touched stripe per parity shard, at stripeIdx*chunkSize
// in each parity shard's own coordinate space.
func (m *ExtentMap) InsertParityBuffers(stripeIdx int64, parity map[stripe.ShardId][]byte) {
	for shard, data := range parity {
		buf := bufferlist.FromBytes(data)
		m.InsertInShard(shard, stripeIdx*m.si.ChunkSize(), buf)
	}
}

// Encode walks every stripe in [roOff, roOff+roLen) and computes parity
// for it via c, folding each stripe's raw-shard chunks into hinfo if
// non-nil. Returns *ec2.ErrBadAlignment if roOff or roLen is not aligned
// to the stripe width, and *ec2.ErrGap if a data chunk of any stripe in
// range is missing.
func (m *ExtentMap) Encode(c codec.Codec, hinfo *hashinfo.Info, roOff, roLen int64) error {
	sw := m.si.StripeWidth()
	if roOff%sw != 0 {
		return &ec2.ErrBadAlignment{Offset: roOff, Align: sw}
	}
	if roLen%sw != 0 {
		return &ec2.ErrBadAlignment{Offset: roLen, Align: sw}
	}
	cs := m.si.ChunkSize()
	nStripes := roLen / sw
	for s := int64(0); s < nStripes; s++ {
		stripeIdx := roOff/sw + s
		in := make(map[stripe.ShardId][]byte, m.si.K())
		raws := make(map[int][]byte, m.si.K())
		for raw := 0; raw < m.si.K(); raw++ {
			shard := m.si.GetShard(raw)
			buf, ok := m.Shard(shard).Get(stripeIdx*cs, cs)
			if !ok {
				return &ec2.ErrGap{Shard: uint16(shard), Off: stripeIdx * cs, End: stripeIdx*cs + cs}
			}
			data := buf.Contiguous()
			in[shard] = data
			raws[raw] = data
		}
		out := make(map[stripe.ShardId][]byte, m.si.M())
		for raw := m.si.K(); raw < m.si.K()+m.si.M(); raw++ {
			out[m.si.GetShard(raw)] = make([]byte, cs)
		}
		if err := c.EncodeChunks(in, out); err != nil {
			return err
		}
		m.InsertParityBuffers(stripeIdx, out)
		if hinfo != nil {
			for raw, data := range out {
				raws[m.si.GetRawShard(raw)] = data
			}
			hinfo.AppendStripe(raws, cs)
		}
	}
	return nil
}

// Decode reconstructs every shard set in want for [roOff, roOff+roLen)
// using whatever shards are already present, via c. Returns
// *ec2.ErrInsufficientShards if fewer than k shards are available for any
// stripe in range.
func (m *ExtentMap) Decode(c codec.Codec, want map[stripe.ShardId]bool, roOff, roLen int64) error {
	sw := m.si.StripeWidth()
	if roOff%sw != 0 || roLen%sw != 0 {
		return &ec2.ErrBadAlignment{Offset: roOff, Align: sw}
	}
	cs := m.si.ChunkSize()
	nStripes := roLen / sw
	for s := int64(0); s < nStripes; s++ {
		stripeIdx := roOff/sw + s
		in := make(map[stripe.ShardId][]byte)
		have := make(map[stripe.ShardId]bool)
		for raw := 0; raw < m.si.ShardCount(); raw++ {
			shard := m.si.GetShard(raw)
			if buf, ok := m.Shard(shard).Get(stripeIdx*cs, cs); ok {
				in[shard] = buf.Contiguous()
				have[shard] = true
			}
		}
		out := make(map[stripe.ShardId][]byte, len(want))
		for shard := range want {
			if have[shard] {
				continue
			}
			out[shard] = make([]byte, cs)
		}
		if len(out) == 0 {
			continue
		}
		if err := c.DecodeChunks(want, in, out); err != nil {
			return err
		}
		for shard, data := range out {
			m.InsertInShard(shard, stripeIdx*cs, bufferlist.FromBytes(data))
		}
	}
	return nil
}

// Slice restricts shard's entries to [shardOff, shardOff+shardLen) in
// per-shard coordinate space, returning the contiguous buffer or
// ok=false if the range has a gap.
func (m *ExtentMap) Slice(shard stripe.ShardId, shardOff, shardLen int64) (*bufferlist.List, bool) {
	em, ok := m.per[shard]
	if !ok {
		return nil, false
	}
	return em.Get(shardOff, shardLen)
}

// SliceMap restricts every shard's entries to [shardOff, shardOff+shardLen)
// in per-shard coordinate space, returning only the shards fully covered.
func (m *ExtentMap) SliceMap(shardOff, shardLen int64) map[stripe.ShardId]*bufferlist.List {
	out := make(map[stripe.ShardId]*bufferlist.List)
	for shard := range m.per {
		if buf, ok := m.Slice(shard, shardOff, shardLen); ok {
			out[shard] = buf
		}
	}
	return out
}

// SliceIterator sweeps the union of every shard's entry boundaries in
// per-shard coordinate space and calls fn once per maximal sub-interval
// of stable coverage, with the set of shards (and their buffers) present
// over that whole sub-interval. Iteration stops early if fn returns
// false.
func (m *ExtentMap) SliceIterator(fn func(off, length int64, bufs map[stripe.ShardId]*bufferlist.List) bool) {
	boundarySet := make(map[int64]struct{})
	for _, em := range m.per {
		em.Extents().ForEachBoundary(func(b int64) { boundarySet[b] = struct{}{} })
	}
	if len(boundarySet) == 0 {
		return
	}
	bounds := make([]int64, 0, len(boundarySet))
	for b := range boundarySet {
		bounds = append(bounds, b)
	}
	sort.Slice(bounds, func(i, j int) bool { return bounds[i] < bounds[j] })

	for i := 0; i+1 < len(bounds); i++ {
		off, end := bounds[i], bounds[i+1]
		length := end - off
		bufs := m.SliceMap(off, length)
		if len(bufs) == 0 {
			continue
		}
		if !fn(off, length, bufs) {
			return
		}
	}
}

// PadAndRebuildToPageAlign extends every data shard's last entry with
// zero bytes so its end aligns to pageSize, matching RoSizeToZeroMask:
// the zero-filled tail of a shard backed by a shorter-than-aligned
// object is materialized explicitly rather than left as a gap.
func (m *ExtentMap) PadAndRebuildToPageAlign(pageSize int64) {
	for _, shard := range m.si.DataShards() {
		em, ok := m.per[shard]
		if !ok || em.IsEmpty() {
			continue
		}
		ext := em.Extents()
		ivs := ext.Intervals()
		last := ivs[len(ivs)-1]
		end := last.Off + last.Len
		aligned := roundUpPage(end, pageSize)
		if aligned <= end {
			continue
		}
		zeros := bufferlist.New()
		zeros.AppendZeros(aligned - end)
		em.Insert(end, zeros)
	}
}

func roundUpPage(v, align int64) int64 {
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
