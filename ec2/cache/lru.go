package cache

import (
	"container/list"
	"sync"
)

// key identifies one evictable (object, line) pair.
type key struct {
	oid string
	off int64
}

// LRU holds evictable line entries in least-recently-used order, with a
// running byte-size counter bounded by maxSize. It is the only
// structure shared across objects (and, in a multi-PG process, across
// PGs), so it is the only one protected by a mutex; everything else in
// the cache package runs under the single-threaded PG executor the
// spec assumes.
//
// Eviction is synchronous and disabled by default: maxSize == 0 means
// free_to_size never evicts, matching the source's LRU_ENABLED=false
// default pending a separate decision on eviction policy.
type LRU struct {
	mu      sync.Mutex
	ll      *list.List
	entries map[key]*list.Element
	size    int64
	maxSize int64
	evict   func(oid string, lineOff int64)
}

// NewLRU returns an LRU bounded by maxSize bytes. A maxSize of 0
// disables eviction: Touch/IncSize still track usage, but FreeToSize is
// a no-op. evict is called synchronously from FreeToSize for every line
// chosen for eviction; it must remove the line from its owning object.
func NewLRU(maxSize int64, evict func(oid string, lineOff int64)) *LRU {
	return &LRU{ll: list.New(), entries: make(map[key]*list.Element), maxSize: maxSize, evict: evict}
}

// Touch marks (oid, lineOff) as most-recently-used, moving it to the
// back of the eviction order (or inserting it if new).
func (l *LRU) Touch(oid string, lineOff int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := key{oid, lineOff}
	if el, ok := l.entries[k]; ok {
		l.ll.MoveToBack(el)
		return
	}
	l.entries[k] = l.ll.PushBack(k)
}

// Forget removes (oid, lineOff) from the LRU without evicting it via
// the callback - used when a line is pinned again before eviction.
// on_change empties the whole LRU through Discard instead.
func (l *LRU) Forget(oid string, lineOff int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := key{oid, lineOff}
	if el, ok := l.entries[k]; ok {
		l.ll.Remove(el)
		delete(l.entries, k)
	}
}

// IncSize adds n bytes to the running size counter.
func (l *LRU) IncSize(n int64) {
	l.mu.Lock()
	l.size += n
	l.mu.Unlock()
}

// DecSize subtracts n bytes from the running size counter, floored at 0.
func (l *LRU) DecSize(n int64) {
	l.mu.Lock()
	l.size -= n
	if l.size < 0 {
		l.size = 0
	}
	l.mu.Unlock()
}

// Size returns the current tracked byte size.
func (l *LRU) Size() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// FreeToSize evicts from the front (oldest) until size <= target, or
// until the LRU is empty. A disabled LRU (maxSize == 0) never evicts.
func (l *LRU) FreeToSize(target int64) {
	if l.maxSize == 0 {
		return
	}
	for {
		l.mu.Lock()
		if l.size <= target || l.ll.Len() == 0 {
			l.mu.Unlock()
			return
		}
		front := l.ll.Front()
		k := front.Value.(key)
		l.ll.Remove(front)
		delete(l.entries, k)
		l.mu.Unlock()
		l.evict(k.oid, k.off)
	}
}

// Discard empties the LRU entirely, without calling evict - used by
// on_change, which tears down every object directly.
func (l *LRU) Discard() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ll.Init()
	l.entries = make(map[key]*list.Element)
	l.size = 0
}
