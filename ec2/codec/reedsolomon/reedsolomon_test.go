package reedsolomon_test

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/aistore/ec2/codec/reedsolomon"
	"github.com/NVIDIA/aistore/ec2/stripe"
)

// Testable property 2: encode/decode idempotence.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	const k, m, chunkSize = 4, 2, 16
	c, err := reedsolomon.New(k, m, nil)
	require.NoError(t, err)

	r := rand.New(rand.NewSource(1))
	data := make(map[stripe.ShardId][]byte, k)
	orig := make(map[stripe.ShardId][]byte, k)
	for raw := 0; raw < k; raw++ {
		b := make([]byte, chunkSize)
		r.Read(b)
		data[stripe.ShardId(raw)] = b
		orig[stripe.ShardId(raw)] = append([]byte(nil), b...)
	}
	parity := make(map[stripe.ShardId][]byte, m)
	for raw := k; raw < k+m; raw++ {
		parity[stripe.ShardId(raw)] = make([]byte, chunkSize)
	}
	require.NoError(t, c.EncodeChunks(data, parity))

	// erase all but k shards total (drop 2 data shards here), then decode
	have := map[stripe.ShardId]bool{}
	in := map[stripe.ShardId][]byte{}
	for raw := 2; raw < k+m; raw++ { // keep shards 2,3 (data) and both parity
		sh := stripe.ShardId(raw)
		have[sh] = true
		if raw < k {
			in[sh] = data[sh]
		} else {
			in[sh] = parity[sh]
		}
	}
	want := map[stripe.ShardId]bool{0: true, 1: true}
	need, err := c.MinimumToDecode(want, have)
	require.NoError(t, err)
	require.Len(t, need, k)

	out := map[stripe.ShardId][]byte{
		0: make([]byte, chunkSize),
		1: make([]byte, chunkSize),
	}
	require.NoError(t, c.DecodeChunks(want, in, out))
	require.True(t, bytes.Equal(orig[0], out[0]))
	require.True(t, bytes.Equal(orig[1], out[1]))
}

func TestMinimumToDecodeInsufficient(t *testing.T) {
	c, err := reedsolomon.New(4, 2, nil)
	require.NoError(t, err)
	have := map[stripe.ShardId]bool{0: true, 1: true}
	_, err = c.MinimumToDecode(map[stripe.ShardId]bool{0: true}, have)
	require.Error(t, err)
}
