package cache_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/aistore/ec2/bufferlist"
	"github.com/NVIDIA/aistore/ec2/cache"
	"github.com/NVIDIA/aistore/ec2/shard"
	"github.com/NVIDIA/aistore/ec2/stripe"
)

// fakeBackend records every BackendRead call; the test drives ReadDone
// itself to simulate the backend's asynchronous reply.
type fakeBackend struct {
	requests []*shard.ExtentSet
}

func (b *fakeBackend) BackendRead(_ string, request *shard.ExtentSet, _ int64) {
	b.requests = append(b.requests, request)
}

func geom(t *testing.T, k, m int, chunkSize int64) *stripe.Info {
	t.Helper()
	si, err := stripe.New(k, m, chunkSize, nil, stripe.Features{})
	require.NoError(t, err)
	return si
}

func oneShard(si *stripe.Info, sh stripe.ShardId, off, length int64) *shard.ExtentSet {
	s := shard.NewExtentSet(si)
	s.Insert(sh, off, length)
	return s
}

func twoShards(si *stripe.Info, s0 stripe.ShardId, off0, len0 int64, s1 stripe.ShardId, off1, len1 int64) *shard.ExtentSet {
	s := shard.NewExtentSet(si)
	s.Insert(s0, off0, len0)
	s.Insert(s1, off1, len1)
	return s
}

// writeUpdate builds a shard.ExtentMap carrying zero-filled data for
// every extent in writes, standing in for the bytes an op actually
// writes through to the cache at write_done time.
func writeUpdate(si *stripe.Info, writes *shard.ExtentSet) *shard.ExtentMap {
	m := shard.New(si)
	for _, sh := range writes.Shards() {
		for _, iv := range writes.Get(sh).Intervals() {
			m.InsertInShard(sh, iv.Off, bufOf(iv.Len))
		}
	}
	return m
}

func bufOf(n int64) *bufferlist.List {
	b := bufferlist.New()
	b.AppendZeros(n)
	return b
}

// S1: a single op with a partial read and an overlapping write.
func TestScenarioS1SingleWrite(t *testing.T) {
	si := geom(t, 2, 1, 32)
	b := &fakeBackend{}
	c := cache.New(b, 0, 0)

	reads := twoShards(si, si.GetShard(0), 0, 2, si.GetShard(1), 0, 2)
	writes := twoShards(si, si.GetShard(0), 0, 10, si.GetShard(1), 0, 10)

	var snapshot *shard.ExtentMap
	var callbackFired bool
	op := c.Prepare("obj1", si, reads, writes, 0, 64, 10, 10, func(snap *shard.ExtentMap) {
		callbackFired = true
		snapshot = snap
	})
	c.Execute(op)

	require.Len(t, b.requests, 1, "exactly one backend read")
	require.True(t, b.requests[0].Get(si.GetShard(0)).Covers(0, 2))
	require.True(t, b.requests[0].Get(si.GetShard(1)).Covers(0, 2))
	require.False(t, callbackFired, "callback must not fire before read_done")

	update := shard.New(si)
	update.InsertInShard(si.GetShard(0), 0, bufOf(2))
	update.InsertInShard(si.GetShard(1), 0, bufOf(2))
	c.ReadDone("obj1", update)

	require.True(t, callbackFired)
	require.NotNil(t, snapshot)

	c.WriteDone(op, writeUpdate(si, writes))
	require.True(t, c.Idle())
}

// S2: two sequential append ops with no read set complete synchronously
// with zero backend reads.
func TestScenarioS2SequentialAppend(t *testing.T) {
	si := geom(t, 2, 1, 32)
	b := &fakeBackend{}
	c := cache.New(b, 0, 0)

	w1 := oneShard(si, si.GetShard(0), 0, 10)
	var c1 bool
	op1 := c.Prepare("obj", si, nil, w1, 0, 64, 0, 10, func(*shard.ExtentMap) { c1 = true })
	c.Execute(op1)
	require.True(t, c1, "write-only op completes synchronously")
	c.WriteDone(op1, writeUpdate(si, w1))

	w2 := oneShard(si, si.GetShard(0), 10, 10)
	var c2 bool
	op2 := c.Prepare("obj", si, nil, w2, 0, 64, 10, 20, func(*shard.ExtentMap) { c2 = true })
	c.Execute(op2)
	require.True(t, c2)
	c.WriteDone(op2, writeUpdate(si, w2))

	require.Empty(t, b.requests, "zero backend reads")
	require.True(t, c.Idle())
}

// Testable property 6: no-read-after-write. O2, prepared while O1's
// write is still outstanding, reads bytes O1 writes: that must not
// trigger a backend read, and O2 is served from the cache once
// O1.write_done lands.
func TestNoReadAfterWrite(t *testing.T) {
	si := geom(t, 2, 1, 32)
	b := &fakeBackend{}
	c := cache.New(b, 0, 0)

	w1 := oneShard(si, si.GetShard(0), 0, 10)
	op1 := c.Prepare("obj", si, nil, w1, 0, 64, 0, 10, func(*shard.ExtentMap) {})
	c.Execute(op1)

	r2 := oneShard(si, si.GetShard(0), 0, 10)
	var fired bool
	op2 := c.Prepare("obj", si, r2, nil, 0, 64, 10, 10, func(*shard.ExtentMap) { fired = true })
	c.Execute(op2)

	require.Empty(t, b.requests, "no backend read for bytes op1 is writing")
	c.WriteDone(op1, writeUpdate(si, w1))
	require.True(t, fired)
	c.WriteDone(op2, nil)
}

// Testable property 5: read coalescing. A second op's read overlapping
// a still-in-flight read produces no second backend request until the
// first read completes; only the residual bytes are then requested.
func TestReadCoalescing(t *testing.T) {
	si := geom(t, 2, 1, 32)
	b := &fakeBackend{}
	c := cache.New(b, 0, 0)

	r1 := oneShard(si, si.GetShard(0), 0, 10)
	op1 := c.Prepare("obj", si, r1, nil, 0, 64, 0, 0, func(*shard.ExtentMap) {})
	c.Execute(op1)
	require.Len(t, b.requests, 1)

	r2 := oneShard(si, si.GetShard(0), 5, 10)
	op2 := c.Prepare("obj", si, r2, nil, 0, 64, 0, 0, func(*shard.ExtentMap) {})
	c.Execute(op2)
	require.Len(t, b.requests, 1, "no new backend read while one covering the overlap is in flight")

	update := shard.New(si)
	update.InsertInShard(si.GetShard(0), 0, bufOf(10))
	c.ReadDone("obj", update)

	require.Len(t, b.requests, 2, "op2's remaining bytes are requested once op1's read completes")
	c.WriteDone(op1, nil)
	c.WriteDone(op2, nil)
}

// Testable property 7 / pin safety: a pinned line is never handed to
// the LRU's eviction callback.
func TestPinSafety(t *testing.T) {
	si := geom(t, 2, 1, 32)
	b := &fakeBackend{}
	c := cache.New(b, 0, 1) // tiny budget: would evict eagerly if unpinned

	r := oneShard(si, si.GetShard(0), 0, 10)
	op := c.Prepare("obj", si, r, nil, 0, 64, 0, 0, func(*shard.ExtentMap) {})
	c.Execute(op)
	require.Len(t, b.requests, 1)

	// the line backing op's read is still pinned: freeing to a tiny
	// target must not evict it, and must not panic.
	require.NotPanics(t, func() { c.FreeToTarget(0) })

	update := shard.New(si)
	update.InsertInShard(si.GetShard(0), 0, bufOf(10))
	c.ReadDone("obj", update)
	c.WriteDone(op, nil)
}

// S3: four ops queued on one object before the first backend read
// returns, reads {0:[0,2)}, {0:[8,12)}, {0:[32,38)}, none; writes
// {0:[0,10)}, {0:[10,20)}, {1:[40,40)}, {0:[20,30)}. The first backend
// read is exactly op1's [0,2); op2's read is queued behind it since a
// read is already in flight. Once op1's read returns, op2's need has
// [8,10) elided by op1's still-pending write, and op3's need folds in
// (nothing else is in flight), so the second backend read is exactly
// {0:[10,12), 0:[32,38)}. op2, op3, op4 then complete strictly in
// write_done order with no further backend reads.
func TestScenarioS3MultiOpCoalesce(t *testing.T) {
	si := geom(t, 2, 1, 64)
	b := &fakeBackend{}
	c := cache.New(b, 0, 0)

	r1 := oneShard(si, si.GetShard(0), 0, 2)
	w1 := oneShard(si, si.GetShard(0), 0, 10)
	var fired1 bool
	op1 := c.Prepare("obj", si, r1, w1, 0, 64, 0, 10, func(*shard.ExtentMap) { fired1 = true })
	c.Execute(op1)
	require.Len(t, b.requests, 1)
	require.True(t, b.requests[0].Get(si.GetShard(0)).Covers(0, 2))
	require.False(t, fired1, "op1 waits on its own backend read despite its own overlapping write")

	r2 := oneShard(si, si.GetShard(0), 8, 4)
	w2 := oneShard(si, si.GetShard(0), 10, 10)
	var fired2 bool
	op2 := c.Prepare("obj", si, r2, w2, 0, 64, 10, 20, func(*shard.ExtentMap) { fired2 = true })
	c.Execute(op2)
	require.Len(t, b.requests, 1, "op2's read is queued behind op1's in-flight read")

	r3 := oneShard(si, si.GetShard(0), 32, 6)
	w3 := shard.NewExtentSet(si)
	w3.Insert(si.GetShard(1), 40, 0) // zero-length write: a documented no-op
	var fired3 bool
	op3 := c.Prepare("obj", si, r3, w3, 0, 64, 20, 20, func(*shard.ExtentMap) { fired3 = true })
	c.Execute(op3)
	require.Len(t, b.requests, 1)

	w4 := oneShard(si, si.GetShard(0), 20, 10)
	var fired4 bool
	op4 := c.Prepare("obj", si, nil, w4, 0, 64, 20, 30, func(*shard.ExtentMap) { fired4 = true })
	c.Execute(op4)
	require.False(t, fired4, "op4 needs no read but must still wait behind op1-op3 in FIFO order")

	update1 := shard.New(si)
	update1.InsertInShard(si.GetShard(0), 0, bufOf(2))
	c.ReadDone("obj", update1)

	require.True(t, fired1)
	require.False(t, fired2)
	require.False(t, fired3)
	require.False(t, fired4)
	require.Len(t, b.requests, 2, "op1's read_done immediately dispatches op2+op3's merged remaining need")
	got := b.requests[1]
	require.True(t, got.Get(si.GetShard(0)).Covers(10, 2), "[8,10) was elided by op1's pending write")
	require.True(t, got.Get(si.GetShard(0)).Covers(32, 6))

	c.WriteDone(op1, writeUpdate(si, w1))
	require.False(t, fired2, "op2 still needs its own read_done")

	update2 := shard.New(si)
	update2.InsertInShard(si.GetShard(0), 10, bufOf(2))
	update2.InsertInShard(si.GetShard(0), 32, bufOf(6))
	c.ReadDone("obj", update2)

	require.True(t, fired2)
	require.False(t, fired3, "op3 is read_done but must wait for op2.write_done")
	require.Len(t, b.requests, 2, "no further backend reads for op3/op4")

	c.WriteDone(op2, writeUpdate(si, w2))
	require.True(t, fired3)
	require.False(t, fired4, "op4 must wait for op3.write_done")

	c.WriteDone(op3, writeUpdate(si, w3))
	require.True(t, fired4)
	c.WriteDone(op4, writeUpdate(si, w4))

	require.True(t, c.Idle())
}

// Testable property 4: cache ordering. If O1 and O2 touch the same
// object and O2 is prepared after O1, O2's cache-ready callback must
// not fire until after O1's write_done, even when O2's reads are
// already satisfied and could otherwise complete immediately.
func TestCacheOrderingProperty4(t *testing.T) {
	si := geom(t, 2, 1, 32)
	b := &fakeBackend{}
	c := cache.New(b, 0, 0)

	r1 := oneShard(si, si.GetShard(0), 0, 10)
	var fired1 bool
	op1 := c.Prepare("obj", si, r1, nil, 0, 64, 0, 0, func(*shard.ExtentMap) { fired1 = true })
	c.Execute(op1)
	require.False(t, fired1, "op1 waits on its own backend read")

	var fired2 bool
	op2 := c.Prepare("obj", si, nil, nil, 0, 64, 0, 0, func(*shard.ExtentMap) { fired2 = true })
	c.Execute(op2)
	require.False(t, fired2, "op2 must not fire ahead of op1 even though it needs nothing")

	update := shard.New(si)
	update.InsertInShard(si.GetShard(0), 0, bufOf(10))
	c.ReadDone("obj", update)
	require.True(t, fired1)
	require.False(t, fired2, "op2 still waits: op1 hasn't write_done'd yet")

	c.WriteDone(op1, nil)
	require.True(t, fired2, "op2 fires only after op1.write_done")
	c.WriteDone(op2, nil)
}

// S6: on_change drops a queued op's callback without firing it.
func TestScenarioS6OnChangeCancels(t *testing.T) {
	si := geom(t, 2, 1, 32)
	b := &fakeBackend{}
	c := cache.New(b, 0, 0)

	r := oneShard(si, si.GetShard(0), 0, 10)
	op := c.Prepare("obj", si, r, nil, 0, 64, 0, 0, func(*shard.ExtentMap) {
		t.Fatal("callback must not fire after on_change")
	})
	c.Execute(op)
	require.Len(t, b.requests, 1)

	c.OnChange()
	require.True(t, c.Idle())
}

// TestSetStaleAfterForcesRereadWithoutEviction exercises the per-line
// refresh TTL: once staleAfter has elapsed, a line's bytes no longer
// count as cached (a second read re-hits the backend), but the line
// itself is never evicted or unpinned to make that happen. op1 stays
// queued (and keeps the line pinned) until op2's re-read lands, so the
// re-read can only come from expiry.
func TestSetStaleAfterForcesRereadWithoutEviction(t *testing.T) {
	si := geom(t, 2, 1, 32)
	b := &fakeBackend{}
	c := cache.New(b, 0, 0)
	c.SetStaleAfter("obj", time.Millisecond)

	r := oneShard(si, si.GetShard(0), 0, 10)

	var fired1 bool
	op1 := c.Prepare("obj", si, r, nil, 0, 64, 0, 0, func(*shard.ExtentMap) { fired1 = true })
	c.Execute(op1)
	require.Len(t, b.requests, 1)

	update := shard.New(si)
	update.InsertInShard(si.GetShard(0), 0, bufOf(10))
	c.ReadDone("obj", update)
	require.True(t, fired1)

	time.Sleep(5 * time.Millisecond)

	var fired2 bool
	op2 := c.Prepare("obj", si, r, nil, 0, 64, 0, 0, func(*shard.ExtentMap) { fired2 = true })
	c.Execute(op2)
	require.Len(t, b.requests, 2, "line expired: its bytes must be re-requested from the backend")
	require.False(t, fired2)

	update2 := shard.New(si)
	update2.InsertInShard(si.GetShard(0), 0, bufOf(10))
	c.ReadDone("obj", update2)
	c.WriteDone(op1, nil)
	require.True(t, fired2)
	c.WriteDone(op2, nil)
}
