package keyindex

import (
	"math"
	"sync"

	"github.com/hashicorp/golang-lru/simplelru"

	"github.com/alpacahq/diskcache/recordfile"
)

// capacity decides when an LRU index is over its limit.
type capacity interface {
	// charge is what one entry costs against the limit.
	charge(d *recordfile.Descriptor) int
	exceeded(count, content int) bool
}

type countCapacity struct {
	max int
}

func (c countCapacity) charge(*recordfile.Descriptor) int { return 1 }

func (c countCapacity) exceeded(count, _ int) bool {
	return c.max > 0 && count > c.max
}

// sizeCapacity charges every record in whole kilobytes, rounded up with a
// bias of one so that no entry is free.
type sizeCapacity struct {
	maxKB int
}

func (c sizeCapacity) charge(d *recordfile.Descriptor) int {
	return ChargeKB(d)
}

func (c sizeCapacity) exceeded(count, content int) bool {
	return c.maxKB > 0 && content > c.maxKB && count > 0
}

// ChargeKB is the number of kilobytes a size limited index accounts for d.
func ChargeKB(d *recordfile.Descriptor) int {
	return (int(d.Length)+recordfile.HeaderSize)/1024 + 1
}

type lruEntry struct {
	d      *recordfile.Descriptor
	charge int
}

type evicted struct {
	key interface{}
	d   *recordfile.Descriptor
}

// LRU is an index that drops its least recently used entries once the
// capacity is exceeded.  Get and Put both count as a use.
type LRU struct {
	mu       sync.Mutex
	cache    *simplelru.LRU
	capacity capacity
	content  int
	onEvict  EvictFunc
}

// NewCountLimited returns an LRU index holding at most max entries.
// max == 0 disables eviction.
func NewCountLimited(max int, onEvict EvictFunc) *LRU {
	return newLRU(countCapacity{max: max}, onEvict)
}

// NewSizeLimited returns an LRU index whose records add up to at most maxKB
// kilobytes.  maxKB == 0 disables eviction.
func NewSizeLimited(maxKB int, onEvict EvictFunc) *LRU {
	return newLRU(sizeCapacity{maxKB: maxKB}, onEvict)
}

func newLRU(c capacity, onEvict EvictFunc) *LRU {
	// the capacity policy does the evicting, simplelru only keeps the order
	cache, err := simplelru.NewLRU(math.MaxInt32, nil)
	if err != nil {
		panic(err)
	}
	return &LRU{cache: cache, capacity: c, onEvict: onEvict}
}

func (l *LRU) Get(key interface{}) (*recordfile.Descriptor, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.cache.Get(key)
	if !ok {
		return nil, false
	}
	return v.(*lruEntry).d, true
}

func (l *LRU) Peek(key interface{}) (*recordfile.Descriptor, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.cache.Peek(key)
	if !ok {
		return nil, false
	}
	return v.(*lruEntry).d, true
}

func (l *LRU) Put(key interface{}, d *recordfile.Descriptor) *recordfile.Descriptor {
	var (
		old  *recordfile.Descriptor
		gone []evicted
	)

	l.mu.Lock()
	if v, ok := l.cache.Peek(key); ok {
		e := v.(*lruEntry)
		old = e.d
		l.content -= e.charge
	}
	e := &lruEntry{d: d, charge: l.capacity.charge(d)}
	l.cache.Add(key, e)
	l.content += e.charge

	for l.capacity.exceeded(l.cache.Len(), l.content) {
		k, v, ok := l.cache.RemoveOldest()
		if !ok {
			break
		}
		victim := v.(*lruEntry)
		l.content -= victim.charge
		gone = append(gone, evicted{key: k, d: victim.d})
	}
	l.mu.Unlock()

	if l.onEvict != nil {
		for _, ev := range gone {
			l.onEvict(ev.key, ev.d)
		}
	}
	return old
}

func (l *LRU) Remove(key interface{}) (*recordfile.Descriptor, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.cache.Peek(key)
	if !ok {
		return nil, false
	}
	e := v.(*lruEntry)
	l.cache.Remove(key)
	l.content -= e.charge
	return e.d, true
}

// Keys returns the keys from the least to the most recently used.
func (l *LRU) Keys() []interface{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cache.Keys()
}

func (l *LRU) Values() []*recordfile.Descriptor {
	l.mu.Lock()
	defer l.mu.Unlock()
	keys := l.cache.Keys()
	values := make([]*recordfile.Descriptor, 0, len(keys))
	for _, k := range keys {
		if v, ok := l.cache.Peek(k); ok {
			values = append(values, v.(*lruEntry).d)
		}
	}
	return values
}

func (l *LRU) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cache.Len()
}

// Content returns the kilobytes charged by a size limited index, or the
// entry count for a count limited one.
func (l *LRU) Content() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.content
}

func (l *LRU) Clear() {
	l.mu.Lock()
	l.cache.Purge()
	l.content = 0
	l.mu.Unlock()
}
