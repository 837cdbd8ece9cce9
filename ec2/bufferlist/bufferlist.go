// Package bufferlist implements an ordered, cheaply-splittable
// scatter-gather byte buffer: a sequence of fragments that can be sliced,
// appended, and compared without copying unless the caller asks for a
// contiguous view.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package bufferlist

import "bytes"

// List is an ordered sequence of byte fragments. The zero value is an
// empty list ready to use. Fragments are never mutated in place once
// appended; callers that need to mutate must Clone() first (Contiguous
// returns a single fragment itself, without copying).
type List struct {
	frags [][]byte
	length int64
}

// New returns an empty list.
func New() *List { return &List{} }

// FromBytes wraps a single fragment without copying.
func FromBytes(b []byte) *List {
	if len(b) == 0 {
		return New()
	}
	return &List{frags: [][]byte{b}, length: int64(len(b))}
}

// Length returns the total number of bytes across all fragments.
func (l *List) Length() int64 {
	if l == nil {
		return 0
	}
	return l.length
}

// Append adds b as a new fragment, by reference (no copy).
func (l *List) Append(b []byte) {
	if len(b) == 0 {
		return
	}
	l.frags = append(l.frags, b)
	l.length += int64(len(b))
}

// AppendZeros appends n zero bytes as a single fresh fragment.
func (l *List) AppendZeros(n int64) {
	if n <= 0 {
		return
	}
	l.Append(make([]byte, n))
}

// ClaimAppend moves other's fragments onto the end of l and empties
// other. Named after the source's claim_append: ownership of the
// fragments transfers, nothing is copied.
func (l *List) ClaimAppend(other *List) {
	if other == nil || other.length == 0 {
		return
	}
	l.frags = append(l.frags, other.frags...)
	l.length += other.length
	other.frags = nil
	other.length = 0
}

// SubstrOf returns a new List covering [off, off+ln) of l, sharing
// storage with l wherever a fragment boundary allows it.
func (l *List) SubstrOf(off, ln int64) *List {
	out := New()
	if ln <= 0 {
		return out
	}
	var pos int64
	remainingOff := off
	remainingLen := ln
	for _, f := range l.frags {
		flen := int64(len(f))
		if remainingOff >= flen {
			remainingOff -= flen
			pos += flen
			continue
		}
		start := remainingOff
		avail := flen - start
		take := avail
		if take > remainingLen {
			take = remainingLen
		}
		out.Append(f[start : start+take])
		remainingLen -= take
		remainingOff = 0
		if remainingLen == 0 {
			break
		}
	}
	return out
}

// Contiguous returns the list's bytes as a single contiguous slice,
// copying only if more than one fragment is present.
func (l *List) Contiguous() []byte {
	if l == nil || l.length == 0 {
		return nil
	}
	if len(l.frags) == 1 {
		return l.frags[0]
	}
	out := make([]byte, 0, l.length)
	for _, f := range l.frags {
		out = append(out, f...)
	}
	return out
}

// ContentsEqual reports whether l and other contain the same bytes,
// regardless of fragmentation.
func (l *List) ContentsEqual(other *List) bool {
	if l.Length() != other.Length() {
		return false
	}
	if l.Length() == 0 {
		return true
	}
	return bytes.Equal(l.Contiguous(), other.Contiguous())
}

// Clone returns a deep copy of l.
func (l *List) Clone() *List {
	out := New()
	for _, f := range l.frags {
		cp := make([]byte, len(f))
		copy(cp, f)
		out.Append(cp)
	}
	return out
}

// AllocAligned returns a zero-filled buffer whose length is already a
// multiple of align, padding size up if needed. The codec's alignment
// requirement (spec §5) is on slice length, not pointer address, so a
// plain allocation of the padded length satisfies it.
func AllocAligned(size int, align int) []byte {
	if align <= 1 {
		return make([]byte, size)
	}
	padded := size + int(PadLen(int64(size), int64(align)))
	return make([]byte, padded)
}

// PadLen returns the number of zero bytes needed to extend length to
// the next multiple of align (0 if already aligned).
func PadLen(length int64, align int64) int64 {
	if align <= 0 {
		return 0
	}
	rem := length % align
	if rem == 0 {
		return 0
	}
	return align - rem
}
