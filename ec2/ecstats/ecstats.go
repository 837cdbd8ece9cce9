// Package ecstats registers the Prometheus collectors this core
// exposes: cache hit/miss counters, backend-read byte counters, RMW
// commit latency, and the read-coalesce ratio, mirroring the shape of
// the teacher's own stats-registration code (stats.coreStats.initProm).
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package ecstats

import (
	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ec2"

// Stats is the set of collectors one ec2 node registers once, at
// startup, and updates from the cache/read/rmw pipelines as they run.
type Stats struct {
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	BackendReadBytes prometheus.Counter
	RMWCommitLatency prometheus.Histogram
	ReadCoalesced    prometheus.Counter
	ReadRequested    prometheus.Counter
	EncodeErrors     prometheus.Counter
	DecodeErrors     prometheus.Counter
}

// New constructs and registers a Stats against reg. Pass
// prometheus.DefaultRegisterer to register process-globally, as the
// teacher's initProm does, or a fresh prometheus.NewRegistry() in
// tests to avoid colliding with other Stats instances in the same
// process.
func New(reg prometheus.Registerer) *Stats {
	factory := promauto.With(reg)
	return &Stats{
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "hits_total",
			Help: "extent cache lines served entirely from cached bytes",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "misses_total",
			Help: "extent cache ops that required at least one backend read",
		}),
		BackendReadBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "backend_read_bytes_total",
			Help: "bytes fetched from the backend to satisfy cache misses",
		}),
		RMWCommitLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "rmw", Name: "commit_latency_seconds",
			Help:    "time from start_rmw to every acting/backfill shard commit acknowledged",
			Buckets: prometheus.DefBuckets,
		}),
		ReadCoalesced: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "reads_coalesced_total",
			Help: "read requests folded into an already in-flight backend read",
		}),
		ReadRequested: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "reads_requested_total",
			Help: "distinct backend read requests issued",
		}),
		EncodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "codec", Name: "encode_errors_total",
			Help: "parity encode calls that returned an error",
		}),
		DecodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "codec", Name: "decode_errors_total",
			Help: "shard decode calls that returned an error",
		}),
	}
}

// CoalesceRatio reports the fraction of read requests this process has
// folded into an already in-flight backend read, for dashboards that
// want a ratio rather than the two raw counters.
func (s *Stats) CoalesceRatio() float64 {
	coalesced := getCounterValue(s.ReadCoalesced)
	requested := getCounterValue(s.ReadRequested)
	if requested == 0 {
		return 0
	}
	return coalesced / requested
}

func getCounterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}
