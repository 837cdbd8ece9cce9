package readpipeline_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/aistore/ec2/bufferlist"
	"github.com/NVIDIA/aistore/ec2/codec"
	"github.com/NVIDIA/aistore/ec2/codec/reedsolomon"
	"github.com/NVIDIA/aistore/ec2/extent"
	"github.com/NVIDIA/aistore/ec2/hashinfo"
	"github.com/NVIDIA/aistore/ec2/placement"
	rp "github.com/NVIDIA/aistore/ec2/readpipeline"
	"github.com/NVIDIA/aistore/ec2/shard"
	"github.com/NVIDIA/aistore/ec2/stripe"
	ectransport "github.com/NVIDIA/aistore/ec2/transport"
)

// shardEncode builds an ExtentMap carrying raw, then computes its
// parity, the same way a write path would before sub-op dispatch.
func shardEncode(t *testing.T, si *stripe.Info, c codec.Codec, raw []byte) *shard.ExtentMap {
	t.Helper()
	em := shard.New(si)
	em.InsertROBuffer(0, bufferlist.FromBytes(raw))
	require.NoError(t, em.Encode(c, hashinfo.New(si.ShardCount()), 0, int64(len(raw))))
	return em
}

func geom(t *testing.T, k, m int, chunkSize int64) *stripe.Info {
	t.Helper()
	si, err := stripe.New(k, m, chunkSize, nil, stripe.Features{})
	require.NoError(t, err)
	return si
}

// fakeAvailability reports every shard as present in the acting set,
// each hosted by a distinct target named after its raw shard index.
type fakeAvailability struct {
	si *stripe.Info
}

func (f *fakeAvailability) ActingShards(string) map[stripe.ShardId]placement.Target {
	out := make(map[stripe.ShardId]placement.Target)
	for raw := 0; raw < f.si.ShardCount(); raw++ {
		sh := f.si.GetShard(raw)
		out[sh] = placement.NewTarget(string(rune('A' + raw)))
	}
	return out
}

func (f *fakeAvailability) BackfillShards(string) map[stripe.ShardId]placement.Target { return nil }

// loopbackMessenger simulates instantaneous peer replies: Send
// immediately looks up the requested bytes from a backing store and
// invokes the pipeline's HandleReadReply synchronously.
type loopbackMessenger struct {
	pipeline *rp.Pipeline
	si       map[string]*stripe.Info
	codecs   map[string]codec.Codec
	store    map[stripe.ShardId][]byte // shard -> full contents
}

func (lm *loopbackMessenger) Send(_ placement.Target, msg *ectransport.Message) error {
	if msg.Opcode != ectransport.OpSubOpRead {
		return nil
	}
	data := lm.store[msg.Shard]
	body := data[msg.Off : msg.Off+msg.Len]
	reply := &ectransport.Message{
		Opcode:  ectransport.OpSubOpReadReply,
		TID:     msg.TID,
		OID:     msg.OID,
		Shard:   msg.Shard,
		Off:     msg.Off,
		Len:     msg.Len,
		Payload: bufferlist.FromBytes(body),
	}
	lm.pipeline.HandleReadReply(lm.si, lm.codecs, reply)
	return nil
}

func TestReadPipelineFullObjectRoundTrip(t *testing.T) {
	si := geom(t, 2, 1, 16)
	c, err := reedsolomon.New(2, 1, nil)
	require.NoError(t, err)

	orig := []byte("AAAAAAAAAAAAAAAABBBBBBBBBBBBBBBB") // 32 bytes: one full stripe
	em := shardEncode(t, si, c, orig)

	store := make(map[stripe.ShardId][]byte)
	for _, sh := range em.Shards() {
		buf, ok := em.Slice(sh, 0, si.ChunkSize())
		require.True(t, ok)
		store[sh] = buf.Contiguous()
	}

	avail := &fakeAvailability{si: si}
	lm := &loopbackMessenger{
		si:     map[string]*stripe.Info{"obj1": si},
		codecs: map[string]codec.Codec{"obj1": c},
		store:  store,
	}
	pipeline := rp.NewPipeline(lm)
	lm.pipeline = pipeline

	req := rp.NewReadRequest(si, 0, 32, 32)
	require.NoError(t, rp.GetMinAvailToReadShards(si, c, avail, "obj1", false, false, req, nil, 16))

	sources := map[string]map[stripe.ShardId]placement.Target{"obj1": avail.ActingShards("obj1")}

	var gotErr error
	var gotData []byte
	pipeline.StartReadOp(
		lm.si, lm.codecs,
		map[string]*rp.ReadRequest{"obj1": req},
		sources,
		avail, 16,
		func(oid string, data *shard.ExtentMap, err error) {
			if err != nil {
				gotErr = err
				return
			}
			buf, extractErr := data.GetROBuffer(0, 32)
			if extractErr != nil {
				gotErr = extractErr
				return
			}
			gotData = buf.Contiguous()
		},
	)

	require.NoError(t, gotErr)
	require.Equal(t, orig, gotData)
}

// TestGetRemainingShardsNarrowsToParityAfterPeerError exercises spec
// §4.6's error-recovery path directly: shard1 (one of the two data
// shards the original plan picked) errors out after shard0's read
// already landed, so the recomputed plan must fall back to the parity
// shard, and the already-read shard0 bytes must not be re-requested.
func TestGetRemainingShardsNarrowsToParityAfterPeerError(t *testing.T) {
	si := geom(t, 2, 1, 16)
	c, err := reedsolomon.New(2, 1, nil)
	require.NoError(t, err)
	avail := &fakeAvailability{si: si}

	req := rp.NewReadRequest(si, 0, 32, 32)
	require.NoError(t, rp.GetMinAvailToReadShards(si, c, avail, "obj1", false, false, req, nil, 16))

	shard0 := si.GetShard(0)
	shard1 := si.GetShard(1)
	shard2 := si.GetShard(2) // parity

	require.Contains(t, req.ShardReads, shard0)
	require.Contains(t, req.ShardReads, shard1)
	require.NotContains(t, req.ShardReads, shard2, "parity isn't read when both data shards are available")

	alreadyRead := map[stripe.ShardId]*extent.Set{shard0: extent.NewSetOf(0, 16)}
	errorShards := make(map[stripe.ShardId]bool)

	delta, err := rp.GetRemainingShards(si, c, avail, "obj1", req, alreadyRead, shard1, errorShards, 16)
	require.NoError(t, err)
	require.True(t, errorShards[shard1])

	require.NotContains(t, delta, shard0, "shard0's already-read bytes are not re-requested")
	require.Contains(t, delta, shard2)
	require.True(t, delta[shard2].Covers(0, 16))
}

// queueingMessenger defers every reply to a pending queue instead of
// invoking HandleReadReply from inside Send, the way a real Messenger's
// reply arrives on a separate callback rather than synchronously within
// the call that dispatched the request. failShard's first read reports
// failErr instead of a payload; every other request (including a retry
// or a recovery dispatch for failShard's shard) succeeds.
type queueingMessenger struct {
	pipeline   *rp.Pipeline
	si         map[string]*stripe.Info
	codecs     map[string]codec.Codec
	store      map[stripe.ShardId][]byte
	failShard  stripe.ShardId
	failErr    error
	failedOnce bool
	pending    []*ectransport.Message
}

func (qm *queueingMessenger) Send(_ placement.Target, msg *ectransport.Message) error {
	if msg.Opcode != ectransport.OpSubOpRead {
		return nil
	}
	if msg.Shard == qm.failShard && !qm.failedOnce {
		qm.failedOnce = true
		qm.pending = append(qm.pending, &ectransport.Message{
			Opcode: ectransport.OpSubOpReadReply,
			TID:    msg.TID, OID: msg.OID, Shard: msg.Shard, Off: msg.Off, Len: msg.Len,
			Err: qm.failErr,
		})
		return nil
	}
	body := qm.store[msg.Shard][msg.Off : msg.Off+msg.Len]
	qm.pending = append(qm.pending, &ectransport.Message{
		Opcode: ectransport.OpSubOpReadReply,
		TID:    msg.TID, OID: msg.OID, Shard: msg.Shard, Off: msg.Off, Len: msg.Len,
		Payload: bufferlist.FromBytes(body),
	})
	return nil
}

// drain delivers every queued reply, including any new ones a delivered
// reply's own error recovery enqueues, until none are left.
func (qm *queueingMessenger) drain() {
	for len(qm.pending) > 0 {
		msg := qm.pending[0]
		qm.pending = qm.pending[1:]
		qm.pipeline.HandleReadReply(qm.si, qm.codecs, msg)
	}
}

// TestReadPipelineRecoversFromTerminalPeerError exercises handlePeerError
// end to end: shard1's read fails with a non-retriable error, so the
// pipeline must narrow error_shards, recompute via GetRemainingShards,
// and dispatch the parity shard to reconstruct the object rather than
// surfacing BackendIO.
func TestReadPipelineRecoversFromTerminalPeerError(t *testing.T) {
	si := geom(t, 2, 1, 16)
	c, err := reedsolomon.New(2, 1, nil)
	require.NoError(t, err)

	orig := []byte("AAAAAAAAAAAAAAAABBBBBBBBBBBBBBBB")
	em := shardEncode(t, si, c, orig)

	store := make(map[stripe.ShardId][]byte)
	for _, sh := range em.Shards() {
		buf, ok := em.Slice(sh, 0, si.ChunkSize())
		require.True(t, ok)
		store[sh] = buf.Contiguous()
	}

	avail := &fakeAvailability{si: si}
	shard1 := si.GetShard(1)
	qm := &queueingMessenger{
		si:        map[string]*stripe.Info{"obj1": si},
		codecs:    map[string]codec.Codec{"obj1": c},
		store:     store,
		failShard: shard1,
		failErr:   errors.New("terminal peer failure"),
	}
	pipeline := rp.NewPipeline(qm)
	qm.pipeline = pipeline

	req := rp.NewReadRequest(si, 0, 32, 32)
	require.NoError(t, rp.GetMinAvailToReadShards(si, c, avail, "obj1", false, false, req, nil, 16))
	require.Contains(t, req.ShardReads, shard1)

	sources := map[string]map[stripe.ShardId]placement.Target{"obj1": avail.ActingShards("obj1")}

	var gotErr error
	var gotData []byte
	pipeline.StartReadOp(
		qm.si, qm.codecs,
		map[string]*rp.ReadRequest{"obj1": req},
		sources,
		avail, 16,
		func(oid string, data *shard.ExtentMap, err error) {
			if err != nil {
				gotErr = err
				return
			}
			buf, extractErr := data.GetROBuffer(0, 32)
			if extractErr != nil {
				gotErr = extractErr
				return
			}
			gotData = buf.Contiguous()
		},
	)
	qm.drain()

	require.NoError(t, gotErr)
	require.Equal(t, orig, gotData)
}
