// Package recyclebin keeps the vacant regions of a data file so that new
// records can be written into them before the file is extended.
package recyclebin

import (
	"math"
	"sync"

	"github.com/google/btree"

	"github.com/alpacahq/diskcache/recordfile"
)

const degree = 16

// slot orders descriptors by length, then position.  A descriptor must not be
// mutated while it sits in the tree.
type slot struct {
	d *recordfile.Descriptor
}

func (s slot) Less(than btree.Item) bool {
	o := than.(slot)
	if s.d.Length != o.d.Length {
		return s.d.Length < o.d.Length
	}
	return s.d.Position < o.d.Position
}

// Bin is a set of free descriptors ordered by length.  It is safe for
// concurrent use.
type Bin struct {
	mu   sync.Mutex
	tree *btree.BTree
}

func New() *Bin {
	return &Bin{tree: btree.New(degree)}
}

// Add returns d to the bin.
func (b *Bin) Add(d *recordfile.Descriptor) {
	if d == nil {
		return
	}
	b.mu.Lock()
	b.tree.ReplaceOrInsert(slot{d: d})
	b.mu.Unlock()
}

// Take removes the smallest slot that can hold size bytes, shrinks it to
// exactly size and returns it.  It returns nil when no slot is big enough.
func (b *Bin) Take(size int32) *recordfile.Descriptor {
	b.mu.Lock()
	defer b.mu.Unlock()

	pivot := slot{d: &recordfile.Descriptor{Length: size, Position: math.MinInt64}}
	var found *recordfile.Descriptor
	b.tree.AscendGreaterOrEqual(pivot, func(i btree.Item) bool {
		found = i.(slot).d
		return false
	})
	if found == nil {
		return nil
	}
	b.tree.Delete(slot{d: found})
	found.Length = size
	return found
}

// Len returns the number of free slots.
func (b *Bin) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tree.Len()
}

// Clear drops every slot.
func (b *Bin) Clear() {
	b.mu.Lock()
	b.tree.Clear(false)
	b.mu.Unlock()
}

// Slots returns the free descriptors in ascending (length, position) order.
func (b *Bin) Slots() []*recordfile.Descriptor {
	b.mu.Lock()
	defer b.mu.Unlock()
	ret := make([]*recordfile.Descriptor, 0, b.tree.Len())
	b.tree.Ascend(func(i btree.Item) bool {
		ret = append(ret, i.(slot).d)
		return true
	})
	return ret
}
