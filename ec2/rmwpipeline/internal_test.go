package rmwpipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/aistore/ec2/bufferlist"
	"github.com/NVIDIA/aistore/ec2/codec/clay"
	"github.com/NVIDIA/aistore/ec2/codec/reedsolomon"
	"github.com/NVIDIA/aistore/ec2/shard"
	"github.com/NVIDIA/aistore/ec2/stripe"
)

func testGeom(t *testing.T) *stripe.Info {
	t.Helper()
	si, err := stripe.New(2, 1, 16, nil, stripe.Features{PartialWrites: true})
	require.NoError(t, err)
	return si
}

func TestStripeFullyRewritten(t *testing.T) {
	si := testGeom(t)

	full := shard.NewExtentSet(si)
	for sh, iv := range si.RORangeToShardExtents(0, 32) {
		full.InsertSet(sh, iv)
	}
	require.True(t, stripeFullyRewritten(si, full, 0))

	partial := shard.NewExtentSet(si)
	partial.Insert(si.GetShard(0), 0, 16) // only the first data shard's chunk
	require.False(t, stripeFullyRewritten(si, partial, 0))
}

// TestEncodePlanFallsBackToFullEncode exercises the partial-write
// optimization hook end to end: a codec that advertises
// OptPartialWrite but cannot actually produce a delta (clay.Codec's
// stub) must still leave the stripe correctly encoded via a full
// encode fallback.
func TestEncodePlanFallsBackToFullEncode(t *testing.T) {
	si := testGeom(t)
	base, err := reedsolomon.New(2, 1, nil)
	require.NoError(t, err)
	c := clay.New(base)

	orig := []byte("AAAAAAAAAAAAAAAABBBBBBBBBBBBBBBB")
	merged := shard.New(si)
	merged.InsertROBuffer(0, bufferlist.FromBytes(orig))

	// only shard0's half of the stripe was rewritten by this plan.
	willWrite := shard.NewExtentSet(si)
	willWrite.Insert(si.GetShard(0), 0, 16)

	// ProjectedSize is a full stripe, so ShouldReplicate is false and the
	// stripe goes through the delta path rather than replicateStripe.
	plan := &ObjectPlan{Si: si, Codec: c, RoOff: 0, RoLen: 32, WillWrite: willWrite, ProjectedSize: 32}

	p := &Pipeline{}
	require.NoError(t, p.encodePlan(plan, merged))

	parityShard := si.GetShard(2)
	buf, ok := merged.Shard(parityShard).Get(0, 16)
	require.True(t, ok)
	require.NotEmpty(t, buf.Contiguous())

	// sanity: the delta stub itself still declines, which is exactly
	// the condition encodePlan is expected to fall back on.
	err = c.EncodeDelta(nil, nil, nil)
	require.True(t, errors.Is(err, clay.ErrDeltaNotImplemented))
}
