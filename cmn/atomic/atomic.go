// Package atomic provides thin wrappers around sync/atomic for the
// counter and flag types used across the cluster packages.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package atomic

import "sync/atomic"

type (
	Int32  struct{ v atomic.Int32 }
	Int64  struct{ v atomic.Int64 }
	Uint32 struct{ v atomic.Uint32 }
	Uint64 struct{ v atomic.Uint64 }
	Bool   struct{ v atomic.Bool }
)

func NewInt32(n int32) *Int32 { i := &Int32{}; i.v.Store(n); return i }
func NewInt64(n int64) *Int64 { i := &Int64{}; i.v.Store(n); return i }
func NewBool(b bool) *Bool    { i := &Bool{}; i.v.Store(b); return i }

func (i *Int32) Load() int32        { return i.v.Load() }
func (i *Int32) Store(n int32)      { i.v.Store(n) }
func (i *Int32) Add(n int32) int32  { return i.v.Add(n) }
func (i *Int32) Inc() int32         { return i.v.Add(1) }
func (i *Int32) Dec() int32         { return i.v.Add(-1) }
func (i *Int32) CAS(old, n int32) bool { return i.v.CompareAndSwap(old, n) }

func (i *Int64) Load() int64        { return i.v.Load() }
func (i *Int64) Store(n int64)      { i.v.Store(n) }
func (i *Int64) Add(n int64) int64  { return i.v.Add(n) }
func (i *Int64) Inc() int64         { return i.v.Add(1) }
func (i *Int64) Dec() int64         { return i.v.Add(-1) }
func (i *Int64) CAS(old, n int64) bool { return i.v.CompareAndSwap(old, n) }

func (i *Uint32) Load() uint32       { return i.v.Load() }
func (i *Uint32) Store(n uint32)     { i.v.Store(n) }
func (i *Uint32) Add(n uint32) uint32 { return i.v.Add(n) }

func (i *Uint64) Load() uint64       { return i.v.Load() }
func (i *Uint64) Store(n uint64)     { i.v.Store(n) }
func (i *Uint64) Add(n uint64) uint64 { return i.v.Add(n) }

func (b *Bool) Load() bool     { return b.v.Load() }
func (b *Bool) Store(v bool)   { b.v.Store(v) }
func (b *Bool) CAS(old, n bool) bool { return b.v.CompareAndSwap(old, n) }
