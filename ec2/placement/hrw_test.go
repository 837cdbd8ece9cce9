package placement_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/aistore/ec2/placement"
	"github.com/NVIDIA/aistore/ec2/stripe"
)

func pool(n int) []placement.Target {
	out := make([]placement.Target, n)
	for i := range out {
		out[i] = placement.NewTarget(string(rune('A' + i)))
	}
	return out
}

func TestResolveIsDeterministic(t *testing.T) {
	l := placement.NewShardLocator(pool(5))
	a := l.Resolve("obj1", stripe.ShardId(2))
	b := l.Resolve("obj1", stripe.ShardId(2))
	require.Equal(t, a, b)
}

func TestResolveCoversEveryTarget(t *testing.T) {
	l := placement.NewShardLocator(pool(4))
	ordered := l.Resolve("obj1", stripe.ShardId(0))
	require.Len(t, ordered, 4)
	seen := make(map[string]bool)
	for _, tgt := range ordered {
		seen[tgt.ID] = true
	}
	require.Len(t, seen, 4)
}

func TestDifferentShardsCanPickDifferentPrimaries(t *testing.T) {
	l := placement.NewShardLocator(pool(8))
	primaries := make(map[string]bool)
	for s := 0; s < 8; s++ {
		p, ok := l.Primary("obj1", stripe.ShardId(s))
		require.True(t, ok)
		primaries[p.ID] = true
	}
	// with 8 shards over 8 targets, HRW should not collapse every shard
	// onto the same primary.
	require.Greater(t, len(primaries), 1)
}

func TestPrimaryEmptyPool(t *testing.T) {
	l := placement.NewShardLocator(nil)
	_, ok := l.Primary("obj1", stripe.ShardId(0))
	require.False(t, ok)
}
