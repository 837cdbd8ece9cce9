package hashinfo_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/aistore/ec2/hashinfo"
)

func TestAppendStripeAdvancesSize(t *testing.T) {
	h := hashinfo.New(3)
	assert.EqualValues(t, 0, h.TotalChunkSize())

	h.AppendStripe(map[int][]byte{0: []byte("aaaa"), 1: []byte("bbbb"), 2: []byte("cccc")}, 4)
	assert.EqualValues(t, 4, h.TotalChunkSize())
	assert.Len(t, h.CumulativeShardHashes(), 3)

	h.AppendStripe(map[int][]byte{0: []byte("dddd"), 1: []byte("eeee"), 2: []byte("ffff")}, 4)
	assert.EqualValues(t, 8, h.TotalChunkSize())
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	h := hashinfo.New(2)
	h.AppendStripe(map[int][]byte{0: []byte("xxxx"), 1: []byte("yyyy")}, 4)

	buf := h.Marshal()
	h2, err := hashinfo.Unmarshal(buf)
	require.NoError(t, err)
	assert.Equal(t, h.TotalChunkSize(), h2.TotalChunkSize())
	assert.Equal(t, h.CumulativeShardHashes(), h2.CumulativeShardHashes())
}

func TestUnmarshalRejectsShortRecord(t *testing.T) {
	_, err := hashinfo.Unmarshal([]byte{1, 2, 3})
	require.Error(t, err)
}
