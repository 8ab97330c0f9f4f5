// Package keyindex maps cache keys to the descriptors of their records.
//
// Three variants exist: an unbounded map, an LRU bounded by entry count and
// an LRU bounded by the cumulative size of the records, in kilobytes.  The
// bounded variants hand every entry they drop to an EvictFunc so the caller
// can give the disk space back.
package keyindex

import (
	"fmt"
	"strings"
	"sync"

	"github.com/alpacahq/diskcache/recordfile"
)

// EvictFunc is called with every entry dropped by a bounded index.  It runs
// after the index released its own lock, but still inside the Put call that
// caused the overflow.
type EvictFunc func(key interface{}, d *recordfile.Descriptor)

// Index is a key -> descriptor map.  Keys must be comparable.
type Index interface {
	// Get returns the descriptor for key and marks key as recently used.
	Get(key interface{}) (*recordfile.Descriptor, bool)
	// Peek returns the descriptor for key without touching the recency.
	Peek(key interface{}) (*recordfile.Descriptor, bool)
	// Put stores d under key, returns the replaced descriptor if any, and
	// evicts entries when the index overflows.
	Put(key interface{}, d *recordfile.Descriptor) *recordfile.Descriptor
	Remove(key interface{}) (*recordfile.Descriptor, bool)
	Keys() []interface{}
	Values() []*recordfile.Descriptor
	Len() int
	Clear()
}

// LimitType selects how a bounded index measures its size.
type LimitType int

const (
	// Count bounds the number of entries.
	Count LimitType = iota
	// Size bounds the sum of record sizes, in kilobytes.
	Size
)

func (l LimitType) String() string {
	switch l {
	case Count:
		return "COUNT"
	case Size:
		return "SIZE"
	default:
		return fmt.Sprintf("LimitType(%d)", int(l))
	}
}

// ParseLimitType parses "count" or "size", case insensitive.
func ParseLimitType(s string) (LimitType, error) {
	switch strings.ToLower(s) {
	case "", "count":
		return Count, nil
	case "size":
		return Size, nil
	default:
		return Count, fmt.Errorf("unknown disk limit type %q", s)
	}
}

// New builds the index variant for the limit.  A negative max gives an
// unbounded index.
func New(limit LimitType, max int, onEvict EvictFunc) Index {
	if max < 0 {
		return NewUnbounded()
	}
	if limit == Size {
		return NewSizeLimited(max, onEvict)
	}
	return NewCountLimited(max, onEvict)
}

type unbounded struct {
	mu sync.RWMutex
	m  map[interface{}]*recordfile.Descriptor
}

// NewUnbounded returns an index that never evicts.
func NewUnbounded() Index {
	return &unbounded{m: map[interface{}]*recordfile.Descriptor{}}
}

func (u *unbounded) Get(key interface{}) (*recordfile.Descriptor, bool) {
	return u.Peek(key)
}

func (u *unbounded) Peek(key interface{}) (*recordfile.Descriptor, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	d, ok := u.m[key]
	return d, ok
}

func (u *unbounded) Put(key interface{}, d *recordfile.Descriptor) *recordfile.Descriptor {
	u.mu.Lock()
	defer u.mu.Unlock()
	old := u.m[key]
	u.m[key] = d
	return old
}

func (u *unbounded) Remove(key interface{}) (*recordfile.Descriptor, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	d, ok := u.m[key]
	if ok {
		delete(u.m, key)
	}
	return d, ok
}

func (u *unbounded) Keys() []interface{} {
	u.mu.RLock()
	defer u.mu.RUnlock()
	keys := make([]interface{}, 0, len(u.m))
	for k := range u.m {
		keys = append(keys, k)
	}
	return keys
}

func (u *unbounded) Values() []*recordfile.Descriptor {
	u.mu.RLock()
	defer u.mu.RUnlock()
	values := make([]*recordfile.Descriptor, 0, len(u.m))
	for _, d := range u.m {
		values = append(values, d)
	}
	return values
}

func (u *unbounded) Len() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return len(u.m)
}

func (u *unbounded) Clear() {
	u.mu.Lock()
	u.m = map[interface{}]*recordfile.Descriptor{}
	u.mu.Unlock()
}
