package rmwpipeline_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/aistore/ec2/bufferlist"
	"github.com/NVIDIA/aistore/ec2/cache"
	"github.com/NVIDIA/aistore/ec2/codec/reedsolomon"
	"github.com/NVIDIA/aistore/ec2/hashinfo"
	"github.com/NVIDIA/aistore/ec2/placement"
	rp "github.com/NVIDIA/aistore/ec2/rmwpipeline"
	"github.com/NVIDIA/aistore/ec2/shard"
	"github.com/NVIDIA/aistore/ec2/stripe"
	ectransport "github.com/NVIDIA/aistore/ec2/transport"
)

func geom(t *testing.T, k, m int, chunkSize int64) *stripe.Info {
	t.Helper()
	si, err := stripe.New(k, m, chunkSize, nil, stripe.Features{})
	require.NoError(t, err)
	return si
}

// noopBackend fails the test if the cache ever asks for a backend read:
// a full-stripe rewrite needs no prior data.
type noopBackend struct{ t *testing.T }

func (b *noopBackend) BackendRead(oid string, request *shard.ExtentSet, _ int64) {
	b.t.Fatalf("unexpected backend read for %s: %v", oid, request)
}

type fakeTargets struct {
	byShard map[stripe.ShardId]placement.Target
}

func (f *fakeTargets) ActingShards(string) map[stripe.ShardId]placement.Target   { return f.byShard }
func (f *fakeTargets) BackfillShards(string) map[stripe.ShardId]placement.Target { return nil }

type fakeLocalStore struct {
	writes map[stripe.ShardId][]byte
}

func (f *fakeLocalStore) Write(_ string, sh stripe.ShardId, _ int64, buf *bufferlist.List) error {
	if f.writes == nil {
		f.writes = make(map[stripe.ShardId][]byte)
	}
	f.writes[sh] = buf.Contiguous()
	return nil
}

// loopbackMessenger simulates instantaneous peer commits: Send records
// the sub-write payload and immediately acknowledges it.
type loopbackMessenger struct {
	pipeline     *rp.Pipeline
	remoteWrites map[stripe.ShardId][]byte
}

func (m *loopbackMessenger) Send(_ placement.Target, msg *ectransport.Message) error {
	if msg.Opcode != ectransport.OpSubOpWrite {
		return nil
	}
	if m.remoteWrites == nil {
		m.remoteWrites = make(map[stripe.ShardId][]byte)
	}
	m.remoteWrites[msg.Shard] = msg.Payload.Contiguous()
	m.pipeline.HandleCommitReply(&ectransport.Message{TID: msg.TID, OID: msg.OID, Shard: msg.Shard})
	return nil
}

func TestRMWPipelineFullStripeWriteCommitsAndEncodesParity(t *testing.T) {
	si := geom(t, 2, 1, 16)
	c, err := reedsolomon.New(2, 1, nil)
	require.NoError(t, err)

	orig := []byte("AAAAAAAAAAAAAAAABBBBBBBBBBBBBBBB") // 32 bytes, one full stripe

	extCache := cache.New(&noopBackend{t: t}, 16, 0)
	localStore := &fakeLocalStore{}

	shard0 := si.GetShard(0)
	shard1 := si.GetShard(1)
	parityShard := si.GetShard(2)

	targets := &fakeTargets{byShard: map[stripe.ShardId]placement.Target{
		shard0:      {ID: "self"},
		shard1:      {ID: "B"},
		parityShard: {ID: "C"},
	}}

	lm := &loopbackMessenger{}
	pipeline := rp.NewPipeline(extCache, lm, targets, localStore, "self")
	lm.pipeline = pipeline

	newData := shard.New(si)
	newData.InsertROBuffer(0, bufferlist.FromBytes(orig))

	willWrite := shard.NewExtentSet(si)
	for sh, iv := range si.RORangeToShardExtents(0, 32) {
		willWrite.InsertSet(sh, iv)
	}

	plan := &rp.ObjectPlan{
		OID:           "obj1",
		Si:            si,
		Codec:         c,
		Hinfo:         hashinfo.New(si.ShardCount()),
		RoOff:         0,
		RoLen:         32,
		WillWrite:     willWrite,
		NewData:       newData,
		ProjectedSize: 32,
	}

	var finished bool
	var finishErr error
	op := &rp.Op{
		HOID: "obj1",
		Plan: []*rp.ObjectPlan{plan},
		OnFinish: func(_ *rp.Op, err error) {
			finished = true
			finishErr = err
		},
	}

	pipeline.StartRMW(op)

	require.NoError(t, finishErr)
	require.True(t, finished)
	require.True(t, extCache.Idle())

	require.Equal(t, orig[:16], localStore.writes[shard0])
	require.Equal(t, orig[16:32], lm.remoteWrites[shard1])
	require.NotEmpty(t, lm.remoteWrites[parityShard])
}

// TestRMWPipelineSmallObjectReplicatesAcrossShards exercises the
// small-object replication fallback: an object exactly one chunk long
// (under the stripe width, so si.ShouldReplicate says replicate) that
// only ever touches data shard 0 must come out the other end as a
// verbatim copy in every shard, never run through the codec.
func TestRMWPipelineSmallObjectReplicatesAcrossShards(t *testing.T) {
	si := geom(t, 2, 1, 16)
	c, err := reedsolomon.New(2, 1, nil)
	require.NoError(t, err)

	orig := []byte("0123456789ABCDEF") // 16 bytes: one chunk, under the 32-byte stripe width

	extCache := cache.New(&noopBackend{t: t}, 16, 0)
	localStore := &fakeLocalStore{}

	shard0 := si.GetShard(0)
	shard1 := si.GetShard(1)
	parityShard := si.GetShard(2)

	targets := &fakeTargets{byShard: map[stripe.ShardId]placement.Target{
		shard0:      {ID: "self"},
		shard1:      {ID: "B"},
		parityShard: {ID: "C"},
	}}

	lm := &loopbackMessenger{}
	pipeline := rp.NewPipeline(extCache, lm, targets, localStore, "self")
	lm.pipeline = pipeline

	newData := shard.New(si)
	newData.InsertROBuffer(0, bufferlist.FromBytes(orig))

	willWrite := shard.NewExtentSet(si)
	for sh, iv := range si.RORangeToShardExtents(0, 16) {
		willWrite.InsertSet(sh, iv)
	}

	plan := &rp.ObjectPlan{
		OID: "obj1", Si: si, Codec: c, Hinfo: hashinfo.New(si.ShardCount()),
		RoOff: 0, RoLen: 16, WillWrite: willWrite, NewData: newData, ProjectedSize: 16,
	}

	var finished bool
	var finishErr error
	op := &rp.Op{
		HOID: "obj1",
		Plan: []*rp.ObjectPlan{plan},
		OnFinish: func(_ *rp.Op, err error) {
			finished = true
			finishErr = err
		},
	}

	pipeline.StartRMW(op)

	require.NoError(t, finishErr)
	require.True(t, finished)

	require.Equal(t, orig, localStore.writes[shard0])
	require.Equal(t, orig, lm.remoteWrites[shard1], "small object replicates shard0 into shard1 rather than striping it")
	require.Equal(t, orig, lm.remoteWrites[parityShard], "small object replicates shard0 into the parity shard too")
}

func TestRMWPipelineRollForwardFiresOnceCacheGoesIdle(t *testing.T) {
	si := geom(t, 2, 1, 16)
	c, err := reedsolomon.New(2, 1, nil)
	require.NoError(t, err)

	extCache := cache.New(&noopBackend{t: t}, 16, 0)
	targets := &fakeTargets{byShard: map[stripe.ShardId]placement.Target{
		si.GetShard(0): {ID: "self"},
		si.GetShard(1): {ID: "self"},
		si.GetShard(2): {ID: "self"},
	}}
	localStore := &fakeLocalStore{}

	lm := &loopbackMessenger{}
	pipeline := rp.NewPipeline(extCache, lm, targets, localStore, "self")
	lm.pipeline = pipeline

	var dummyRan bool
	pipeline.SetRollForward(func() *rp.Op {
		if dummyRan {
			return nil
		}
		dummyRan = true
		return &rp.Op{HOID: "dummy", Dummy: true}
	})

	orig := []byte("AAAAAAAAAAAAAAAABBBBBBBBBBBBBBBB")
	newData := shard.New(si)
	newData.InsertROBuffer(0, bufferlist.FromBytes(orig))
	willWrite := shard.NewExtentSet(si)
	for sh, iv := range si.RORangeToShardExtents(0, 32) {
		willWrite.InsertSet(sh, iv)
	}

	plan := &rp.ObjectPlan{
		OID: "obj1", Si: si, Codec: c, Hinfo: hashinfo.New(si.ShardCount()),
		RoOff: 0, RoLen: 32, WillWrite: willWrite, NewData: newData, ProjectedSize: 32,
	}
	op := &rp.Op{HOID: "obj1", Plan: []*rp.ObjectPlan{plan}}

	pipeline.StartRMW(op)

	require.True(t, dummyRan)
	require.True(t, extCache.Idle())
}
