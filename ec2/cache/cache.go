// Package cache implements the ExtentCache: the per-object,
// line-structured coordinator that pins extents in use, coalesces
// concurrent read demand, serializes overlapping writes via an ordered
// per-object queue, and guarantees every completed op sees a consistent
// merged view of prior writes and freshly read data.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package cache

import (
	"time"

	"github.com/NVIDIA/aistore/cmn/debug"
	"github.com/NVIDIA/aistore/cmn/nlog"
	"github.com/NVIDIA/aistore/ec2"
	"github.com/NVIDIA/aistore/ec2/shard"
	"github.com/NVIDIA/aistore/ec2/stripe"
)

// BackendReader is the backend read capability consumed by the cache.
// The backend must eventually call Cache.ReadDone(oid, data) covering
// exactly request or a superset; partial coverage is a protocol error.
type BackendReader interface {
	BackendRead(oid string, request *shard.ExtentSet, objectSize int64)
}

// Cache is the ExtentCache: the coordinator for every object in one
// placement group. The single-threaded cooperative-executor model (spec
// §5) means Cache itself needs no internal lock; only the shared LRU
// does.
type Cache struct {
	objects     map[string]*Object
	backend     BackendReader
	lru         *LRU
	minLineSize int64
	activeIOs   int

	// staleAfter holds a per-oid line refresh TTL configured via
	// SetStaleAfter, applied to an object's lines as they are created.
	staleAfter map[string]time.Duration
}

// New returns an empty cache. maxSize == 0 disables LRU eviction
// (the default, per spec §9's open question on eviction policy).
func New(backend BackendReader, minLineSize, maxSize int64) *Cache {
	c := &Cache{objects: make(map[string]*Object), backend: backend, minLineSize: minLineSize, staleAfter: make(map[string]time.Duration)}
	c.lru = NewLRU(maxSize, c.evictLine)
	return c
}

// Idle reports whether the cache has no live ops anywhere.
func (c *Cache) Idle() bool { return c.activeIOs == 0 }

// SetStaleAfter configures oid's per-line refresh TTL (spec's
// supplemented feature #3): zero, the default, never expires a line,
// so default cache behavior is unaffected. Applies to lines created
// for oid from this call on; lines already cached keep the TTL they
// were created with.
func (c *Cache) SetStaleAfter(oid string, d time.Duration) {
	c.staleAfter[oid] = d
}

func (c *Cache) object(oid string, si *stripe.Info) *Object {
	o, ok := c.objects[oid]
	if !ok {
		o = newObject(oid, si, c.minLineSize, c.staleAfter[oid])
		c.objects[oid] = o
	}
	return o
}

// Prepare constructs a new Op against oid: Prepared state. reads may be
// nil for a write-only (or dummy) op. roOff/roLen is the RO byte range
// this op's reads and writes project onto - the caller (ReadPipeline,
// RMWPipeline) already knows this range since it is how reads/writes
// were derived from stripe.Info in the first place.
func (c *Cache) Prepare(oid string, si *stripe.Info, reads, writes *shard.ExtentSet, roOff, roLen, origSize, projectedSize int64, cb Completion) *Op {
	o := c.object(oid, si)
	if writes == nil {
		writes = shard.NewExtentSet(si)
	}
	op := &Op{object: o, reads: reads, writes: writes, roOff: roOff, roLen: roLen, origSize: origSize, projectedSize: projectedSize, callback: cb}
	c.activeIOs++
	return op
}

// Execute advances op to Queued: pins every line covering op's RO range,
// enqueues it on its object's waiting_ops, computes the request delta,
// and - if nothing new needs reading - synchronously drives it to
// CacheReady.
func (c *Cache) Execute(op *Op) {
	o := op.object

	for _, off := range o.touchedLineOffsets(op.roOff, op.roLen) {
		ln := o.getOrCreateLine(off)
		if ln.refCount == 0 {
			c.lru.Forget(o.oid, off)
		}
		ln.refCount++
		op.pinned = append(op.pinned, ln)
	}

	o.waitingOps = append(o.waitingOps, op)

	// need is computed against prior ops' writes only: op's own write (if
	// any) must not elide op's own overlapping read, per spec scenario S1.
	if op.reads == nil || op.reads.IsEmpty() {
		op.readDone = true
	} else {
		need := op.reads.Clone()
		need = need.Subtract(o.cachedExtents())
		need = need.Subtract(o.reading)
		need = need.Subtract(o.writing)
		if need.IsEmpty() {
			op.readDone = true
		} else {
			o.requesting.InsertAll(need)
			o.requestingOps = append(o.requestingOps, op)
		}
	}
	o.writing.InsertAll(op.writes)

	c.sendReads(o)
	c.cacheMaybeReady(o)
}

// sendReads dispatches object.requesting to the backend if no read is
// currently in flight.
func (c *Cache) sendReads(o *Object) {
	if !o.reading.IsEmpty() || o.requesting.IsEmpty() {
		return
	}
	o.reading, o.requesting = o.requesting, shard.NewExtentSet(o.si)
	o.readingOps, o.requestingOps = o.requestingOps, nil
	c.backend.BackendRead(o.oid, o.reading, o.currentSize)
}

// ReadDone is the backend's callback: the read covering (at least)
// object.reading has completed. It folds the returned data into the
// matching lines, marks every op waiting on this read as read_done, and
// re-drives the request/ready pipeline.
func (c *Cache) ReadDone(oid string, update *shard.ExtentMap) {
	o, ok := c.objects[oid]
	if !ok {
		return
	}
	o.insertUpdate(update)
	o.reading = shard.NewExtentSet(o.si)
	for _, op := range o.readingOps {
		op.readDone = true
	}
	o.readingOps = nil

	c.cacheMaybeReady(o)
	c.sendReads(o)
}

// cacheMaybeReady walks waiting_ops from the front, firing the
// completion callback for every read_done op in order, stopping at the
// first op that is not ready or whose callback did not pop it from the
// front (the callback is expected to synchronously call WriteDone).
func (c *Cache) cacheMaybeReady(o *Object) {
	for len(o.waitingOps) > 0 {
		op := o.waitingOps[0]
		if !op.readDone {
			return
		}
		if op.complete {
			// already completed, waiting on write_done; nothing to do
			// until the caller submits it.
			return
		}
		c.completeIfReadsCached(op)
		if len(o.waitingOps) > 0 && o.waitingOps[0] == op {
			// callback did not synchronously call WriteDone: stop here,
			// per spec, and wait for the caller to do so out of band.
			return
		}
	}
}

// completeIfReadsCached snapshots the cache over op.reads, asserts the
// snapshot exactly matches the requested set (a mismatch is a logic
// bug: the request and backend-read-done accounting diverged), and
// fires the completion callback.
func (c *Cache) completeIfReadsCached(op *Op) {
	o := op.object
	var snapshot *shard.ExtentMap
	if op.reads != nil && !op.reads.IsEmpty() {
		snapshot = o.snapshot(op.reads)
		got := snapshot.Extents()
		if !setsEqual(got, op.reads) {
			debug.Assert(false, "extent cache: snapshot does not match requested read set")
			panic(&ec2.ErrProtocolViolation{Reason: "cache snapshot does not cover the requested read set"})
		}
	} else {
		snapshot = shard.New(o.si)
	}
	op.complete = true
	if op.callback != nil {
		op.callback(snapshot)
	}
}

func setsEqual(a, b *shard.ExtentSet) bool {
	return a.Subtract(b).IsEmpty() && b.Subtract(a).IsEmpty()
}

// WriteDone advances op from CacheReady to Written: folds update into
// the cache, clears op's reservation from object.writing, advances
// current_size, pops op from the front of waiting_ops, and releases its
// pins. It must be called for the front op only - violating order is a
// fatal ProtocolViolation, matching the spec's "panics on invariant
// breach" failure model.
func (c *Cache) WriteDone(op *Op, update *shard.ExtentMap) {
	o := op.object
	if len(o.waitingOps) == 0 || o.waitingOps[0] != op {
		debug.Assert(false, "extent cache: write_done called out of order")
		panic(&ec2.ErrProtocolViolation{Reason: "write_done called on an op that is not at the front of the queue"})
	}
	if update != nil {
		o.insertUpdate(update)
		o.writing = o.writing.Subtract(update.Extents())
	} else {
		o.writing = o.writing.Subtract(op.writes)
	}
	o.currentSize = op.projectedSize
	o.waitingOps = o.waitingOps[1:]

	c.release(op)
	c.cacheMaybeReady(o)
}

// release unpins every line op holds, makes zero-refcount lines
// LRU-eligible, and - if the object has no pinned lines and no queued
// ops - drops the object entirely.
func (c *Cache) release(op *Op) {
	if op.released {
		return
	}
	op.released = true
	o := op.object
	for _, ln := range op.pinned {
		ln.refCount--
		if ln.refCount == 0 {
			c.lru.Touch(o.oid, ln.offset)
			c.lru.IncSize(lineByteSize(ln))
		}
	}
	op.pinned = nil
	c.activeIOs--

	if !o.pinned() && o.idle() {
		delete(c.objects, o.oid)
	}
}

func lineByteSize(ln *Line) int64 {
	var total int64
	for _, sh := range ln.data.Shards() {
		total += ln.data.Shard(sh).Extents().Size()
	}
	return total
}

// evictLine is the LRU's eviction callback: it removes a line from its
// owning object outright. Called only for lines with refCount == 0 (the
// LRU never holds a pinned line).
func (c *Cache) evictLine(oid string, lineOff int64) {
	o, ok := c.objects[oid]
	if !ok {
		return
	}
	ln, ok := o.lines[lineOff]
	if !ok {
		return
	}
	if ln.refCount != 0 {
		debug.Assert(false, "extent cache: LRU attempted to evict a pinned line")
		panic(&ec2.ErrProtocolViolation{Reason: "LRU attempted to evict a pinned line"})
	}
	delete(o.lines, lineOff)
	if len(o.lines) == 0 && !o.pinned() && o.idle() {
		delete(c.objects, oid)
	}
}

// FreeToTarget asks the LRU to evict down to target bytes.
func (c *Cache) FreeToTarget(target int64) { c.lru.FreeToSize(target) }

// OnChange cancels every queued op across every object without firing
// their callbacks, discards all pending reads and requests, and returns
// the cache to its initial empty state. Called on PG interval change or
// epoch shift.
func (c *Cache) OnChange() {
	for oid, o := range c.objects {
		for _, op := range o.waitingOps {
			op.callback = nil
			op.released = true
		}
		o.waitingOps = nil
		o.requestingOps = nil
		o.readingOps = nil
		nlog.Infof("ec2/cache: on_change dropped object %s", oid)
	}
	c.objects = make(map[string]*Object)
	c.lru.Discard()
	c.activeIOs = 0
}
