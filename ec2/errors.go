// Package ec2 is the per-object erasure-coding read/write coordination
// core: stripe geometry, the shard extent map, the extent cache, and the
// read and read-modify-write pipelines that sit in front of an erasure
// codec and a peer transport.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package ec2

import (
	"errors"
	"fmt"
)

// Error kinds (see spec §7). BackendIOError is recovered locally by the
// read pipeline's peer-narrowing retry; InsufficientShards is surfaced to
// the caller after retry; ProtocolViolation signals a violated invariant
// of the cache or pipelines and is fatal - callers should not attempt to
// continue past it.
type (
	ErrInvalidGeometry struct{ Reason string }

	ErrInsufficientShards struct {
		Want []uint16
		Have []uint16
		Need int
	}

	ErrBadAlignment struct {
		Offset, Align int64
	}

	ErrDecodeFailure struct{ Reason string }

	ErrGap struct {
		Shard      uint16
		Off, End   int64
	}

	ErrBackendIO struct {
		Shard uint16
		Err   error
	}

	// ErrProtocolViolation marks a broken invariant: out-of-order
	// write_done, double completion, pin leak. Callers that receive this
	// should treat the cache/pipeline as unusable and tear it down via
	// on_change(). Under the debug build tag, debug.Assert aborts before
	// this is constructed; without it debug.Assert is a no-op and the
	// cache panics with this value instead.
	ErrProtocolViolation struct{ Reason string }
)

func (e *ErrInvalidGeometry) Error() string { return "invalid stripe geometry: " + e.Reason }

func (e *ErrInsufficientShards) Error() string {
	return fmt.Sprintf("insufficient shards to decode: want=%v have=%v need=%d", e.Want, e.Have, e.Need)
}

func (e *ErrBadAlignment) Error() string {
	return fmt.Sprintf("encode slice at offset %d is not aligned to %d", e.Offset, e.Align)
}

func (e *ErrDecodeFailure) Error() string { return "codec decode failure: " + e.Reason }

func (e *ErrGap) Error() string {
	return fmt.Sprintf("gap in shard %d: [%d, %d) not covered", e.Shard, e.Off, e.End)
}

func (e *ErrBackendIO) Error() string {
	return fmt.Sprintf("backend I/O error on shard %d: %v", e.Shard, e.Err)
}

func (e *ErrBackendIO) Unwrap() error { return e.Err }

func (e *ErrProtocolViolation) Error() string { return "protocol violation: " + e.Reason }

// IsInsufficientShards reports whether err (or any error it wraps) is an
// ErrInsufficientShards.
func IsInsufficientShards(err error) bool {
	var e *ErrInsufficientShards
	return errors.As(err, &e)
}

// IsBackendIO reports whether err (or any error it wraps) is an ErrBackendIO.
func IsBackendIO(err error) bool {
	var e *ErrBackendIO
	return errors.As(err, &e)
}
