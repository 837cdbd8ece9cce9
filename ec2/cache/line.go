/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package cache

import (
	"time"

	"github.com/NVIDIA/aistore/ec2/shard"
	"github.com/NVIDIA/aistore/ec2/stripe"
)

// Line is one line_size-aligned slice of an object's RO address space:
// the cache's unit of pinning and eviction. offset is the RO address of
// the line's first byte; data holds only the bytes cached for this
// line, keyed in the same global per-shard coordinates every other
// ShardExtentMap uses (a line never renumbers the bytes it holds).
//
// staleAfter is an optional per-line refresh TTL: zero (the default)
// never expires a line, matching spec semantics exactly. A non-zero
// value lets a caller force a line's cached bytes to be re-validated
// against the backend - via IsExpired, consulted by cachedExtents -
// without evicting or unpinning the line.
type Line struct {
	offset   int64
	refCount int
	data     *shard.ExtentMap

	staleAfter  time.Duration
	lastRefresh time.Time
}

func newLine(si *stripe.Info, offset int64, staleAfter time.Duration) *Line {
	return &Line{offset: offset, data: shard.New(si), staleAfter: staleAfter, lastRefresh: time.Now()}
}

// Refresh resets the line's staleness clock, called whenever fresh
// bytes are folded into it.
func (ln *Line) Refresh() { ln.lastRefresh = time.Now() }

// IsExpired reports whether staleAfter has elapsed since the line was
// last refreshed; always false when staleAfter is zero.
func (ln *Line) IsExpired() bool {
	return ln.staleAfter > 0 && time.Since(ln.lastRefresh) >= ln.staleAfter
}
