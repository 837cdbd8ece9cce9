/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package cache

import "github.com/NVIDIA/aistore/ec2/shard"

// Completion is the one-shot callback an Op fires once its reads (if
// any) are fully satisfied from cache: Prepared -> Queued -> ... ->
// CacheReady. The callback is expected to synchronously call the
// cache's WriteDone for this op (or, for a pure-read op, to at least
// acknowledge and let the caller invoke WriteDone with an empty update)
// so the op can be popped from the front of its object's waiting queue.
type Completion func(snapshot *shard.ExtentMap)

// Op is one pending operation against a single object: an optional read
// set, a write set, and a one-shot completion callback. Op state
// advances Prepared -> Queued -> (ReadsRequested | ReadDone) ->
// CacheReady -> Written -> Released.
type Op struct {
	object *Object

	reads  *shard.ExtentSet // nil: no reads requested
	writes *shard.ExtentSet

	roOff, roLen            int64
	origSize, projectedSize int64

	pinned   []*Line
	readDone bool
	complete bool
	released bool

	callback Completion
}

// ReadDone reports whether every byte this op reads is in the cache (or
// the op needed no read). The completion callback may not have fired
// yet; see Complete.
func (op *Op) ReadDone() bool { return op.readDone }

// Complete reports whether the completion callback has fired.
func (op *Op) Complete() bool { return op.complete }
