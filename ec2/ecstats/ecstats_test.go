package ecstats_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/aistore/ec2/ecstats"
)

func TestStatsRegistersAndCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := ecstats.New(reg)

	s.ReadRequested.Add(4)
	s.ReadCoalesced.Add(1)
	require.InDelta(t, 0.25, s.CoalesceRatio(), 1e-9)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, mfs)
}

func TestCoalesceRatioZeroWithNoReads(t *testing.T) {
	s := ecstats.New(prometheus.NewRegistry())
	require.Zero(t, s.CoalesceRatio())
}
