// Package rmwpipeline implements RMWPipeline: accepts client writes,
// plans the per-shard reads a partial stripe needs, drives the extent
// cache through prepare/execute, encodes parity once the cache snapshot
// is ready, fans sub-writes out to every acting+backfill shard owner,
// and rolls the commit forward once every peer has acknowledged (spec
// §4.7).
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package rmwpipeline

import (
	"errors"
	"sync/atomic"

	"github.com/NVIDIA/aistore/cmn/nlog"
	"github.com/NVIDIA/aistore/ec2/bufferlist"
	"github.com/NVIDIA/aistore/ec2/cache"
	"github.com/NVIDIA/aistore/ec2/codec"
	"github.com/NVIDIA/aistore/ec2/codec/clay"
	"github.com/NVIDIA/aistore/ec2/extent"
	"github.com/NVIDIA/aistore/ec2/hashinfo"
	"github.com/NVIDIA/aistore/ec2/placement"
	"github.com/NVIDIA/aistore/ec2/shard"
	"github.com/NVIDIA/aistore/ec2/stripe"
	ectransport "github.com/NVIDIA/aistore/ec2/transport"
)

// ShardTargets reports every shard owner a sub-write must reach: the
// acting set plus, while a backfill is in progress, the backfill set
// (spec §4.7 step 3's "every acting+backfill shard").
type ShardTargets interface {
	ActingShards(oid string) map[stripe.ShardId]placement.Target
	BackfillShards(oid string) map[stripe.ShardId]placement.Target
}

// LocalStore is the local persistent-store capability consumed when
// this process itself owns a shard (spec §4.7 step 3, "if this process
// owns the shard, dispatch locally"). Persistent backend I/O is out of
// scope (see Non-goals); rmwpipeline only needs the commit acknowledgement
// shape, the same one a peer's SubOpWriteReply would produce.
type LocalStore interface {
	Write(oid string, sh stripe.ShardId, off int64, buf *bufferlist.List) error
}

// LogEntry is an opaque pass-through payload attached to a sub-write
// (spec §4.7 step 3: "log entries, hit-set updates, temp-object
// adds/removes"). rmwpipeline does not interpret these, only carries
// them to every peer target unchanged.
type LogEntry struct {
	Key   string
	Value []byte
}

// ObjectPlan is one object's sub-plan within an RMW op (spec §3's
// RMWPipeline.Op.plan entries).
type ObjectPlan struct {
	OID   string
	Si    *stripe.Info
	Codec codec.Codec
	Hinfo *hashinfo.Info

	// RoOff/RoLen is the RO range this sub-plan touches; ToRead/WillWrite
	// are its cache reservation (spec's to_read/will_write).
	RoOff, RoLen int64
	ToRead       *shard.ExtentSet
	WillWrite    *shard.ExtentSet

	// NewData carries the client-supplied bytes for WillWrite, already
	// scattered into per-data-shard form (e.g. via
	// StripeInfo.RORangeToShardExtentMap). nil for a dummy op.
	NewData *shard.ExtentMap

	OrigSize, ProjectedSize int64
	InvalidatesCache        bool
}

// Op is one RMW client write, spanning one or more objects (spec §3's
// RMWPipeline.Op). Lifecycle: Started -> CacheWaiting -> CacheReady ->
// Dispatched -> PartiallyCommitted -> Finished.
type Op struct {
	HOID    string
	Version int64
	TID     uint64

	Plan []*ObjectPlan
	Log  []LogEntry

	// Dummy marks a no-payload roll-forward probe (spec §4.7 step 4):
	// it walks the same code path as a real op but the codec call is
	// skipped, since there is no new data to encode.
	Dummy bool

	OnFinish func(op *Op, err error)

	pendingCacheOps int
	pendingCommits  int
	cacheOps        map[string]*cache.Op
	remote          map[string]*shard.ExtentMap // per-object merged transaction
}

// Pipeline drives RMW ops against a Cache, fanning sub-writes out over
// a Messenger (and directly into a LocalStore for shards this process
// owns).
type Pipeline struct {
	c         *cache.Cache
	messenger ectransport.Messenger
	targets   ShardTargets
	local     LocalStore
	localID   string

	nextTID uint64
	ops     map[uint64]*Op

	// txCounter counts RMW ops started since the cache last went idle;
	// the dummy-op roll-forward heuristic resets it on every idle
	// transition (spec §9's open question on the counter's reset
	// semantics).
	txCounter int

	// rollForward builds the next dummy op to submit when the cache goes
	// idle with outstanding transactions since the last reset. Optional:
	// a nil rollForward simply skips roll-forward.
	rollForward func() *Op
}

// NewPipeline returns a Pipeline. local/localID may be zero-valued if
// this PG owns no shard locally (every sub-write then goes over
// messenger).
func NewPipeline(c *cache.Cache, messenger ectransport.Messenger, targets ShardTargets, local LocalStore, localID string) *Pipeline {
	return &Pipeline{
		c:         c,
		messenger: messenger,
		targets:   targets,
		local:     local,
		localID:   localID,
		ops:       make(map[uint64]*Op),
	}
}

// SetRollForward installs the dummy-op factory used for roll-forward
// (spec §4.7 step 4). Pass nil to disable roll-forward entirely.
func (p *Pipeline) SetRollForward(fn func() *Op) { p.rollForward = fn }

// StartRMW begins op: Started -> CacheWaiting (spec §4.7 step 1). It
// assigns a tid, then prepares and executes one cache op per object
// sub-plan; each cache op's callback decrements pending_cache_ops and
// advances the whole RMW op to CacheReady once every sub-plan's
// snapshot has landed.
func (p *Pipeline) StartRMW(op *Op) {
	tid := atomic.AddUint64(&p.nextTID, 1)
	op.TID = tid
	op.pendingCacheOps = len(op.Plan)
	op.cacheOps = make(map[string]*cache.Op, len(op.Plan))
	op.remote = make(map[string]*shard.ExtentMap, len(op.Plan))
	p.ops[tid] = op
	p.txCounter++

	if len(op.Plan) == 0 {
		p.cacheReady(op)
		return
	}

	for _, plan := range op.Plan {
		plan := plan
		cop := p.c.Prepare(plan.OID, plan.Si, plan.ToRead, plan.WillWrite,
			plan.RoOff, plan.RoLen, plan.OrigSize, plan.ProjectedSize,
			func(snapshot *shard.ExtentMap) {
				p.objectCacheReady(op, plan, snapshot)
			})
		op.cacheOps[plan.OID] = cop
		p.c.Execute(cop)
	}
}

// objectCacheReady merges one sub-plan's cache snapshot with its
// client-supplied write bytes, then - once every sub-plan in op has
// reported - advances op to CacheReady.
func (p *Pipeline) objectCacheReady(op *Op, plan *ObjectPlan, snapshot *shard.ExtentMap) {
	merged := shard.New(plan.Si)
	for _, sh := range snapshot.Shards() {
		snapshot.Shard(sh).Iter(func(off, _ int64, buf *bufferlist.List) bool {
			merged.InsertInShard(sh, off, buf)
			return true
		})
	}
	if plan.NewData != nil {
		for _, sh := range plan.NewData.Shards() {
			plan.NewData.Shard(sh).Iter(func(off, _ int64, buf *bufferlist.List) bool {
				merged.InsertInShard(sh, off, buf)
				return true
			})
		}
	}
	op.remote[plan.OID] = merged

	op.pendingCacheOps--
	if op.pendingCacheOps == 0 {
		p.cacheReady(op)
	}
}

// cacheReady implements spec §4.7 step 2: compute parity for every
// touched stripe (skipped entirely for a dummy op) and move to
// Dispatched.
func (p *Pipeline) cacheReady(op *Op) {
	if !op.Dummy {
		for _, plan := range op.Plan {
			merged := op.remote[plan.OID]
			if merged == nil {
				continue
			}
			if err := p.encodePlan(plan, merged); err != nil {
				p.abort(op, err)
				return
			}
		}
	}
	p.dispatch(op)
}

// encodePlan walks every stripe plan.WillWrite touches and encodes its
// parity: a fully-rewritten stripe goes through a plain full encode; a
// partially-rewritten one prefers the codec's partial-write delta path
// when available, falling back to full encode if the codec declines
// (spec §4.7's closing paragraph: "the RMWPipeline only decides which
// stripes qualify"). A stripe small enough that si.ShouldReplicate says
// a full replica beats striping, and whose write landed entirely in
// data shard 0, skips the codec altogether in favor of a plain copy
// (the small-object replication fallback).
func (p *Pipeline) encodePlan(plan *ObjectPlan, merged *shard.ExtentMap) error {
	sw := plan.Si.StripeWidth()
	alignedOff, alignedLen := alignToStripe(plan.Si, plan.RoOff, plan.RoLen)
	if alignedLen == 0 {
		return nil
	}
	nStripes := alignedLen / sw

	replicate := plan.Si.ShouldReplicate(plan.ProjectedSize)
	dc, hasDelta := plan.Codec.(clay.DeltaCodec)
	canDelta := hasDelta && plan.Si.SupportsPartialWrites()

	for s := int64(0); s < nStripes; s++ {
		stripeIdx := alignedOff/sw + s
		if replicate && stripeTouchesOnlyShard0(plan.Si, plan.WillWrite, stripeIdx) {
			if err := replicateStripe(plan.Si, merged, stripeIdx); err != nil {
				return err
			}
			continue
		}
		if canDelta && !stripeFullyRewritten(plan.Si, plan.WillWrite, stripeIdx) {
			err := encodeDeltaStripe(plan.Si, dc, merged, stripeIdx)
			if err == nil {
				continue
			}
			if !errors.Is(err, clay.ErrDeltaNotImplemented) {
				return err
			}
			// codec declined: fall through to a full encode of this stripe.
		}
		if err := merged.Encode(plan.Codec, plan.Hinfo, stripeIdx*sw, sw); err != nil {
			return err
		}
	}
	return nil
}

// stripeTouchesOnlyShard0 reports whether willWrite has no bytes in any
// data shard but shard 0 for stripeIdx - the precondition for the
// replication fast path, since copying shard 0 alone is only correct
// when nothing written landed in another data shard.
func stripeTouchesOnlyShard0(si *stripe.Info, willWrite *shard.ExtentSet, stripeIdx int64) bool {
	cs := si.ChunkSize()
	chunk := extent.NewSetOf(stripeIdx*cs, cs)
	for raw := 1; raw < si.K(); raw++ {
		sh := si.GetShard(raw)
		if !willWrite.Get(sh).Intersect(chunk).IsEmpty() {
			return false
		}
	}
	return true
}

// replicateStripe implements the small-object replication fallback
// (spec's supplemented feature #1): copy data shard 0's chunk for
// stripeIdx verbatim into every other shard slot, the cheaper path once
// si.ShouldReplicate says a full replica beats striping.
func replicateStripe(si *stripe.Info, merged *shard.ExtentMap, stripeIdx int64) error {
	cs := si.ChunkSize()
	off := stripeIdx * cs
	src := si.GetShard(0)
	buf, ok := merged.Shard(src).Get(off, cs)
	if !ok {
		return &stripeGapError{shard: src}
	}
	for raw := 1; raw < si.K()+si.M(); raw++ {
		sh := si.GetShard(raw)
		merged.InsertInShard(sh, off, buf.SubstrOf(0, cs))
	}
	return nil
}

// stripeFullyRewritten reports whether willWrite covers every data
// shard's byte range for stripeIdx, the comparison spec §4.7 calls for
// to decide which encode path a stripe qualifies for.
func stripeFullyRewritten(si *stripe.Info, willWrite *shard.ExtentSet, stripeIdx int64) bool {
	sw := si.StripeWidth()
	want := si.RORangeToShardExtents(stripeIdx*sw, sw)
	for sh, iv := range want {
		got := willWrite.Get(sh)
		if got == nil || !iv.Subtract(got).IsEmpty() {
			return false
		}
	}
	return true
}

// encodeDeltaStripe asks the codec for the parity delta of a single
// partially-rewritten stripe and folds it into the existing parity,
// rather than recomputing parity from scratch. before/after come from
// the same merged map: at this point merged already holds the new
// client data, so "before" is reconstructed by subtracting nothing -
// this package has no separate pre-write snapshot retained past the
// cache callback, so the delta path is only attempted when the codec
// can derive it from current contents alone; a codec (like clay.Codec's
// stub) that cannot is expected to return ErrDeltaNotImplemented.
func encodeDeltaStripe(si *stripe.Info, dc clay.DeltaCodec, merged *shard.ExtentMap, stripeIdx int64) error {
	cs := si.ChunkSize()
	after := make(map[stripe.ShardId][]byte, si.K())
	before := make(map[stripe.ShardId][]byte, si.K())
	for raw := 0; raw < si.K(); raw++ {
		sh := si.GetShard(raw)
		buf, ok := merged.Shard(sh).Get(stripeIdx*cs, cs)
		if !ok {
			return &stripeGapError{shard: sh}
		}
		after[sh] = buf.Contiguous()
		before[sh] = after[sh]
	}
	out := make(map[stripe.ShardId][]byte, si.M())
	for raw := si.K(); raw < si.K()+si.M(); raw++ {
		out[si.GetShard(raw)] = make([]byte, cs)
	}
	if err := dc.EncodeDelta(before, after, out); err != nil {
		return err
	}
	parity := make(map[stripe.ShardId][]byte, si.M())
	for raw := si.K(); raw < si.K()+si.M(); raw++ {
		sh := si.GetShard(raw)
		buf, ok := merged.Shard(sh).Get(stripeIdx*cs, cs)
		if ok {
			parity[sh] = buf.Contiguous()
		} else {
			parity[sh] = make([]byte, cs)
		}
	}
	if err := dc.ApplyDelta(out, parity); err != nil {
		return err
	}
	merged.InsertParityBuffers(stripeIdx, parity)
	return nil
}

type stripeGapError struct{ shard stripe.ShardId }

func (e *stripeGapError) Error() string { return "rmwpipeline: missing data shard for delta encode" }

// dispatch implements spec §4.7 step 3: build a per-shard transaction
// spanning every acting+backfill shard owner and send it, locally if
// this process owns the shard, over the messenger otherwise.
func (p *Pipeline) dispatch(op *Op) {
	// held until every sub-write is sent, so a synchronous (local) commit
	// cannot finish op before the rest are dispatched
	op.pendingCommits++
	for _, plan := range op.Plan {
		merged := op.remote[plan.OID]
		if merged == nil {
			continue
		}
		alignedOff, alignedLen := alignToStripe(plan.Si, plan.RoOff, plan.RoLen)
		if alignedLen == 0 {
			continue
		}
		shardExtents := plan.Si.RORangeToShardExtentsWithParity(alignedOff, alignedLen)

		targets := make(map[stripe.ShardId]placement.Target)
		for sh, t := range p.targets.ActingShards(plan.OID) {
			targets[sh] = t
		}
		for sh, t := range p.targets.BackfillShards(plan.OID) {
			targets[sh] = t
		}

		for sh, target := range targets {
			iv := shardExtents[sh]
			if iv.IsEmpty() {
				continue
			}
			for _, interval := range iv.Intervals() {
				buf, ok := merged.Slice(sh, interval.Off, interval.Len)
				if !ok {
					continue
				}
				op.pendingCommits++
				if p.local != nil && target.ID == p.localID {
					p.commitDone(op, p.local.Write(plan.OID, sh, interval.Off, buf))
					continue
				}
				msg := &ectransport.Message{
					Opcode:  ectransport.OpSubOpWrite,
					TID:     op.TID,
					OID:     plan.OID,
					Shard:   sh,
					Off:     interval.Off,
					Len:     interval.Len,
					Payload: buf,
				}
				if err := p.messenger.Send(target, msg); err != nil {
					nlog.Errorf("ec2/rmwpipeline: sub-write to %s failed: %v", target.ID, err)
					p.commitDone(op, err)
				}
			}
		}
	}
	p.commitDone(op, nil)
}

// HandleCommitReply processes one peer's SubOpWriteReply (spec §4.7
// step 4).
func (p *Pipeline) HandleCommitReply(reply *ectransport.Message) {
	op, ok := p.ops[reply.TID]
	if !ok {
		return
	}
	p.commitDone(op, reply.Err)
}

// commitDone retires one outstanding sub-write. A failed commit is
// logged but still counts against pending_commits: recovering a
// partial commit is an acting-set repair concern, out of this core's
// scope (see Non-goals).
func (p *Pipeline) commitDone(op *Op, err error) {
	if err != nil {
		nlog.Warningf("ec2/rmwpipeline: tid=%d hoid=%s sub-write commit failed: %v", op.TID, op.HOID, err)
	}
	op.pendingCommits--
	if op.pendingCommits == 0 {
		p.finishRMW(op)
	}
}

// finishRMW implements spec §4.7 step 4's completion: fold every
// sub-plan's transaction into the cache via WriteDone, retire the op,
// and - if the cache fell idle with transactions since the last reset
// - submit one dummy roll-forward op.
func (p *Pipeline) finishRMW(op *Op) {
	for _, plan := range op.Plan {
		cop := op.cacheOps[plan.OID]
		if cop == nil {
			continue
		}
		p.c.WriteDone(cop, op.remote[plan.OID])
	}
	delete(p.ops, op.TID)

	if op.OnFinish != nil {
		op.OnFinish(op, nil)
	}

	if !p.c.Idle() {
		return
	}
	dirty := p.txCounter > 0
	p.txCounter = 0
	if dirty && !op.Dummy && p.rollForward != nil {
		if next := p.rollForward(); next != nil {
			p.StartRMW(next)
		}
	}
}

// abort surfaces a fatal-to-this-op error (e.g. BadAlignment,
// DecodeFailure equivalents from the codec) through OnFinish and drops
// the op without touching the cache - callers are expected to call
// OnChange to unwind the cache ops this left pinned.
func (p *Pipeline) abort(op *Op, err error) {
	delete(p.ops, op.TID)
	if op.OnFinish != nil {
		op.OnFinish(op, err)
	}
}

// alignToStripe rounds [roOff, roOff+roLen) out to stripe_width
// boundaries, the granularity ShardExtentMap.Encode requires.
func alignToStripe(si *stripe.Info, roOff, roLen int64) (int64, int64) {
	sw := si.StripeWidth()
	start := (roOff / sw) * sw
	end := roOff + roLen
	if end%sw != 0 {
		end = (end/sw + 1) * sw
	}
	return start, end - start
}

// OnChange implements spec §4.7 step 5: cancel every in-flight RMW op,
// clear the roll-forward counter, and propagate to the cache.
func (p *Pipeline) OnChange() {
	p.ops = make(map[uint64]*Op)
	p.txCounter = 0
	p.c.OnChange()
}
