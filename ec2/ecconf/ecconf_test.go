package ecconf_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/aistore/ec2/ecconf"
	"github.com/NVIDIA/aistore/ec2/stripe"
)

func TestParseProfileDefaults(t *testing.T) {
	p, err := ecconf.ParseProfile(map[string]string{"k": "6", "m": "3"})
	require.NoError(t, err)
	require.Equal(t, ecconf.PluginReedSolomon, p.Plugin)
	require.Equal(t, 6, p.K)
	require.Equal(t, 3, p.M)
	require.EqualValues(t, 1<<20, p.ChunkSize)
	require.Nil(t, p.Mapping)
}

func TestParseProfileMappingAndPlugin(t *testing.T) {
	p, err := ecconf.ParseProfile(map[string]string{
		"plugin":     "clay",
		"k":          "2",
		"m":          "1",
		"chunk-size": "4096",
		"mapping":    "2, 0, 1",
	})
	require.NoError(t, err)
	require.Equal(t, ecconf.PluginClay, p.Plugin)
	require.EqualValues(t, 4096, p.ChunkSize)
	require.Equal(t, []stripe.ShardId{2, 0, 1}, p.Mapping)

	si, err := p.BuildStripeInfo(stripe.Features{})
	require.NoError(t, err)
	require.Equal(t, stripe.ShardId(2), si.GetShard(0))

	c, err := p.BuildCodec()
	require.NoError(t, err)
	require.Equal(t, 3, c.ChunkCount())
	require.Equal(t, 2, c.DataChunkCount())
}

func TestParseProfileRejectsBadGeometry(t *testing.T) {
	_, err := ecconf.ParseProfile(map[string]string{"k": "0"})
	require.Error(t, err)

	_, err = ecconf.ParseProfile(map[string]string{"k": "2", "plugin": "unknown"})
	require.Error(t, err)

	_, err = ecconf.ParseProfile(map[string]string{"k": "2", "mapping": "a,b"})
	require.Error(t, err)
}

func TestProfileJSONRoundTrip(t *testing.T) {
	p, err := ecconf.ParseProfile(map[string]string{"k": "4", "m": "2", "crush-root": "default"})
	require.NoError(t, err)

	data, err := p.MarshalJSON()
	require.NoError(t, err)

	var out ecconf.Profile
	require.NoError(t, out.UnmarshalJSON(data))
	require.Equal(t, p.K, out.K)
	require.Equal(t, p.M, out.M)
	require.Equal(t, p.CrushRoot, out.CrushRoot)
}
