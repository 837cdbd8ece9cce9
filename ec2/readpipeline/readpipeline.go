// Package readpipeline implements ReadPipeline: plans the minimum set
// of peer shard reads needed to satisfy a client read, dispatches them
// over a Messenger, decodes missing shards on return, and extracts the
// requested RO ranges (spec §4.6).
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package readpipeline

import (
	"sync/atomic"

	"github.com/NVIDIA/aistore/cmn/cos"
	"github.com/NVIDIA/aistore/cmn/nlog"
	"github.com/NVIDIA/aistore/ec2"
	"github.com/NVIDIA/aistore/ec2/codec"
	"github.com/NVIDIA/aistore/ec2/extent"
	"github.com/NVIDIA/aistore/ec2/placement"
	"github.com/NVIDIA/aistore/ec2/shard"
	"github.com/NVIDIA/aistore/ec2/stripe"
	ectransport "github.com/NVIDIA/aistore/ec2/transport"
)

// ShardAvailability reports which shards of an object are currently
// present in the acting set (and, during recovery, the backfill set).
// Implemented by the placement group's membership view; ReadPipeline
// treats it as an opaque capability the way it treats the codec.
type ShardAvailability interface {
	ActingShards(oid string) map[stripe.ShardId]placement.Target
	BackfillShards(oid string) map[stripe.ShardId]placement.Target
}

// ReadRequest is one object's read plan: the shard-local extents wanted
// from each shard, and the per-shard extents actually worth requesting
// from the backend once the object's current size is taken into
// account (spec §4.6 steps 1-6).
type ReadRequest struct {
	RoOff, RoLen   int64
	ObjectSize     int64
	ShardWantToRead map[stripe.ShardId]*extent.Set
	ShardReads      map[stripe.ShardId]*extent.Set
	ZeroPad         map[stripe.ShardId]*extent.Set
}

// NewReadRequest builds a request for the per-shard extents si derives
// from [roOff, roLen), to be refined by GetMinAvailToReadShards.
func NewReadRequest(si *stripe.Info, roOff, roLen, objectSize int64) *ReadRequest {
	return &ReadRequest{
		RoOff:           roOff,
		RoLen:           roLen,
		ObjectSize:      objectSize,
		ShardWantToRead: si.RORangeToShardExtents(roOff, roLen),
		ShardReads:      make(map[stripe.ShardId]*extent.Set),
		ZeroPad:         make(map[stripe.ShardId]*extent.Set),
	}
}

// GetMinAvailToReadShards implements spec §4.6's five-step planning
// algorithm: find the minimum shard set the codec needs to decode want
// given have, then compute the actual per-shard byte ranges worth
// reading from the backend (pageSize-aligned, split against the
// object's zero-pad boundary).
func GetMinAvailToReadShards(
	si *stripe.Info, c codec.Codec, avail ShardAvailability, oid string,
	forRecovery, doRedundantReads bool, req *ReadRequest, errorShards map[stripe.ShardId]bool,
	pageSize int64,
) error {
	have := make(map[stripe.ShardId]bool)
	for sh := range avail.ActingShards(oid) {
		if !errorShards[sh] {
			have[sh] = true
		}
	}
	if forRecovery {
		for sh := range avail.BackfillShards(oid) {
			if !errorShards[sh] {
				have[sh] = true
			}
		}
	}

	want := make(map[stripe.ShardId]bool, len(req.ShardWantToRead))
	for sh := range req.ShardWantToRead {
		want[sh] = true
	}

	need, err := c.MinimumToDecode(want, have)
	if err != nil {
		return err
	}

	needShards := make(map[stripe.ShardId]bool, len(need))
	for sh := range need {
		needShards[sh] = true
	}
	if doRedundantReads {
		for sh := range have {
			needShards[sh] = true
		}
	}

	for sh := range needShards {
		if !have[sh] {
			continue
		}
		desired := req.ShardWantToRead[sh]
		if desired == nil {
			desired = si.RoSizeToReadMask(req.ObjectSize, sh, pageSize)
		}
		readMask := si.RoSizeToReadMask(req.ObjectSize, sh, pageSize)
		zeroMask := si.RoSizeToZeroMask(req.ObjectSize, sh, pageSize)

		actual := desired.Intersect(readMask).Align(pageSize)
		if !actual.IsEmpty() {
			req.ShardReads[sh] = actual
		}
		zp := desired.Intersect(zeroMask)
		if !zp.IsEmpty() {
			req.ZeroPad[sh] = zp
		}
	}
	return nil
}

// ReadOp is one in-flight client read, possibly spanning several
// objects (spec §4.6's ReadOp). Lifecycle: Started -> Dispatched ->
// PartiallyComplete -> Decoded -> Completed.
type ReadOp struct {
	TID      uint64
	Priority int

	ToRead   map[string]*ReadRequest
	Complete map[string]*shard.ExtentMap

	// InProgress counts outstanding sub-read requests per shard (an
	// object can dispatch more than one sub-read to the same shard when
	// its wanted extents are not contiguous).
	InProgress map[stripe.ShardId]int
	// pendingByObj counts outstanding sub-reads per object; an object is
	// decoded and completed once its count reaches zero.
	pendingByObj map[string]int

	// errorShards accumulates, per object, every shard a terminal peer
	// error has excluded from this op's plan - threaded into
	// GetRemainingShards on every subsequent recompute so a second
	// failure never reconsiders a shard already ruled out.
	errorShards map[string]map[stripe.ShardId]bool

	ObjToSource map[string]map[stripe.ShardId]placement.Target

	// Avail and PageSize are threaded into GetRemainingShards when a
	// peer read errors out and the plan must be recomputed.
	Avail    ShardAvailability
	PageSize int64

	OnComplete func(oid string, data *shard.ExtentMap, err error)
}

func (op *ReadOp) errorShardsFor(oid string) map[stripe.ShardId]bool {
	if op.errorShards == nil {
		op.errorShards = make(map[string]map[stripe.ShardId]bool)
	}
	es, ok := op.errorShards[oid]
	if !ok {
		es = make(map[stripe.ShardId]bool)
		op.errorShards[oid] = es
	}
	return es
}

// Pipeline dispatches ReadOps over a Messenger and decodes completed
// reads via a codec, per object stripe geometry.
type Pipeline struct {
	messenger ectransport.Messenger
	nextTID   uint64

	ops map[uint64]*ReadOp
}

// NewPipeline returns a Pipeline sending sub-op reads over messenger.
func NewPipeline(messenger ectransport.Messenger) *Pipeline {
	return &Pipeline{messenger: messenger, ops: make(map[uint64]*ReadOp)}
}

// StartReadOp assigns a tid, stores the op, and dispatches one SubOpRead
// per distinct peer shard extent referenced across every object in
// plans. si/codecs are keyed by oid, mirroring HandleReadReply, since an
// object with nothing left to fetch (fully satisfied by ZeroPad) is
// decoded and completed synchronously here. avail/pageSize are kept on
// the op and reused by handlePeerError to recompute the plan via
// GetRemainingShards if a peer read later fails.
func (p *Pipeline) StartReadOp(
	si map[string]*stripe.Info, codecs map[string]codec.Codec,
	plans map[string]*ReadRequest,
	sources map[string]map[stripe.ShardId]placement.Target,
	avail ShardAvailability, pageSize int64,
	onComplete func(oid string, data *shard.ExtentMap, err error),
) *ReadOp {
	tid := atomic.AddUint64(&p.nextTID, 1)
	op := &ReadOp{
		TID:          tid,
		ToRead:       plans,
		Complete:     make(map[string]*shard.ExtentMap),
		InProgress:   make(map[stripe.ShardId]int),
		pendingByObj: make(map[string]int),
		ObjToSource:  sources,
		Avail:        avail,
		PageSize:     pageSize,
		OnComplete:   onComplete,
	}
	p.ops[tid] = op

	// hold every object open until all of its sub-reads are sent, so a
	// reply delivered from inside Send cannot complete it early
	for oid := range plans {
		op.pendingByObj[oid]++
	}
	for oid, req := range plans {
		p.dispatchReads(op, oid, req.ShardReads)
		op.pendingByObj[oid]--
		if op.pendingByObj[oid] == 0 {
			p.decodeAndComplete(si[oid], codecs[oid], op, oid)
		}
	}
	return op
}

// dispatchReads sends one SubOpRead per interval in reads, tracking each
// against op's in-progress counters; a send failure retires its own
// counters immediately rather than waiting on a reply that will never
// come.
func (p *Pipeline) dispatchReads(op *ReadOp, oid string, reads map[stripe.ShardId]*extent.Set) {
	for sh, extents := range reads {
		target, ok := op.ObjToSource[oid][sh]
		if !ok {
			continue
		}
		for _, iv := range extents.Intervals() {
			op.InProgress[sh]++
			op.pendingByObj[oid]++
			msg := &ectransport.Message{
				Opcode: ectransport.OpSubOpRead,
				TID:    op.TID,
				OID:    oid,
				Shard:  sh,
				Off:    iv.Off,
				Len:    iv.Len,
			}
			if err := p.messenger.Send(target, msg); err != nil {
				nlog.Errorf("ec2/readpipeline: sub-op read to %s failed: %v", target.ID, err)
				op.InProgress[sh]--
				op.pendingByObj[oid]--
			}
		}
	}
}

// HandleReadReply merges one peer's reply into its ReadOp's complete
// map, retires one outstanding sub-read, and - once nothing is left in
// flight for an object - decodes and completes it.
func (p *Pipeline) HandleReadReply(si map[string]*stripe.Info, codecs map[string]codec.Codec, reply *ectransport.Message) {
	op, ok := p.ops[reply.TID]
	if !ok {
		return
	}
	if reply.Err != nil {
		p.handlePeerError(si, codecs, op, reply)
		return
	}

	em := op.Complete[reply.OID]
	if em == nil {
		em = shard.New(si[reply.OID])
		op.Complete[reply.OID] = em
	}
	if reply.Payload != nil {
		em.InsertInShard(reply.Shard, reply.Off, reply.Payload)
	}

	if op.InProgress[reply.Shard] > 0 {
		op.InProgress[reply.Shard]--
	}
	op.pendingByObj[reply.OID]--
	if op.pendingByObj[reply.OID] > 0 {
		return
	}
	p.decodeAndComplete(si[reply.OID], codecs[reply.OID], op, reply.OID)
}

// decodeAndComplete implements spec §4.6's completion step: decode
// whatever is missing, then extract the requested RO ranges, then - if
// every object in the op is done - retire it.
func (p *Pipeline) decodeAndComplete(si *stripe.Info, c codec.Codec, op *ReadOp, oid string) {
	req := op.ToRead[oid]
	em := op.Complete[oid]
	if em == nil {
		em = shard.New(si)
	}
	want := make(map[stripe.ShardId]bool, len(req.ShardWantToRead))
	for sh := range req.ShardWantToRead {
		want[sh] = true
	}

	stripeAlignedOff, stripeAlignedLen := alignToStripe(si, req.RoOff, req.RoLen)
	if stripeAlignedLen > 0 {
		if err := em.Decode(c, want, stripeAlignedOff, stripeAlignedLen); err != nil {
			if op.OnComplete != nil {
				op.OnComplete(oid, nil, err)
			}
			return
		}
	}

	if op.OnComplete != nil {
		op.OnComplete(oid, em, nil)
	}
	if p.allObjectsDone(op) {
		delete(p.ops, op.TID)
	}
}

func (p *Pipeline) allObjectsDone(op *ReadOp) bool {
	for _, n := range op.pendingByObj {
		if n > 0 {
			return false
		}
	}
	return true
}

func alignToStripe(si *stripe.Info, roOff, roLen int64) (int64, int64) {
	sw := si.StripeWidth()
	start := (roOff / sw) * sw
	end := roOff + roLen
	if end%sw != 0 {
		end = (end/sw + 1) * sw
	}
	return start, end - start
}

// GetRemainingShards implements spec §4.6's error-recovery path: a peer
// reported an error, so the failed shard is excluded, the plan is
// recomputed, bytes already read are subtracted, and only the delta is
// dispatched.
func GetRemainingShards(
	si *stripe.Info, c codec.Codec, avail ShardAvailability, oid string,
	req *ReadRequest, alreadyRead map[stripe.ShardId]*extent.Set, failedShard stripe.ShardId,
	errorShards map[stripe.ShardId]bool, pageSize int64,
) (map[stripe.ShardId]*extent.Set, error) {
	errorShards[failedShard] = true
	fresh := NewReadRequest(si, req.RoOff, req.RoLen, req.ObjectSize)
	if err := GetMinAvailToReadShards(si, c, avail, oid, true, false, fresh, errorShards, pageSize); err != nil {
		return nil, err
	}
	delta := make(map[stripe.ShardId]*extent.Set)
	for sh, want := range fresh.ShardReads {
		got := alreadyRead[sh]
		remaining := want
		if got != nil {
			remaining = want.Subtract(got)
		}
		if !remaining.IsEmpty() {
			delta[sh] = remaining
		}
	}
	return delta, nil
}

// handlePeerError implements spec §4.6's error-recovery path. A
// retriable failure (cos.IsRetriableConnErr: ECONNREFUSED, ECONNRESET,
// EPIPE) resends the identical sub-op to the same peer without touching
// error_shards, on the theory that the peer or the connection to it will
// recover; anything else is terminal, moving the failed shard into
// error_shards and triggering GetRemainingShards to recompute the plan
// and dispatch only the delta. Either way, decodeAndComplete only runs
// once every outstanding sub-read for the object - original plus
// whatever this error dispatched - has retired.
func (p *Pipeline) handlePeerError(si map[string]*stripe.Info, codecs map[string]codec.Codec, op *ReadOp, reply *ectransport.Message) {
	nlog.Warningf("ec2/readpipeline: tid=%d shard=%d oid=%s peer error: %v", op.TID, reply.Shard, reply.OID, reply.Err)

	if op.InProgress[reply.Shard] > 0 {
		op.InProgress[reply.Shard]--
	}
	op.pendingByObj[reply.OID]--

	if cos.IsRetriableConnErr(reply.Err) {
		p.retryRead(op, reply)
	} else if err := p.redispatchRemaining(si, codecs, op, reply); err != nil {
		if op.OnComplete != nil {
			op.OnComplete(reply.OID, nil, err)
		}
		return
	}

	if op.pendingByObj[reply.OID] > 0 {
		return
	}

	em := op.Complete[reply.OID]
	if em == nil || len(em.Shards()) == 0 {
		if op.OnComplete != nil {
			op.OnComplete(reply.OID, nil, &ec2.ErrBackendIO{Shard: uint16(reply.Shard), Err: reply.Err})
		}
		return
	}
	p.decodeAndComplete(si[reply.OID], codecs[reply.OID], op, reply.OID)
}

// retryRead resends the exact sub-op that just failed to the same
// target, for a failure classified as transient.
func (p *Pipeline) retryRead(op *ReadOp, reply *ectransport.Message) {
	target, ok := op.ObjToSource[reply.OID][reply.Shard]
	if !ok {
		return
	}
	op.InProgress[reply.Shard]++
	op.pendingByObj[reply.OID]++
	msg := &ectransport.Message{
		Opcode: ectransport.OpSubOpRead,
		TID:    op.TID,
		OID:    reply.OID,
		Shard:  reply.Shard,
		Off:    reply.Off,
		Len:    reply.Len,
	}
	if err := p.messenger.Send(target, msg); err != nil {
		nlog.Errorf("ec2/readpipeline: retry sub-op read to %s failed: %v", target.ID, err)
		op.InProgress[reply.Shard]--
		op.pendingByObj[reply.OID]--
	}
}

// redispatchRemaining moves reply.Shard into this object's error_shards,
// recomputes the plan via GetRemainingShards against everything already
// read, and dispatches only the delta - spec §4.6's "subtract bytes
// already read, and dispatch only the delta".
func (p *Pipeline) redispatchRemaining(si map[string]*stripe.Info, codecs map[string]codec.Codec, op *ReadOp, reply *ectransport.Message) error {
	oid := reply.OID
	req := op.ToRead[oid]
	delete(req.ShardReads, reply.Shard)

	alreadyRead := make(map[stripe.ShardId]*extent.Set)
	if em := op.Complete[oid]; em != nil {
		for _, sh := range em.Shards() {
			alreadyRead[sh] = em.Shard(sh).Extents()
		}
	}

	delta, err := GetRemainingShards(si[oid], codecs[oid], op.Avail, oid, req, alreadyRead, reply.Shard, op.errorShardsFor(oid), op.PageSize)
	if err != nil {
		return err
	}
	p.dispatchReads(op, oid, delta)
	return nil
}

// OnChange cancels every in-flight read op without firing completions,
// matching the cache's on_change cancellation semantics (spec §5).
func (p *Pipeline) OnChange() {
	p.ops = make(map[uint64]*ReadOp)
}
