// Package region implements the disk tier of a cache region: serialized
// elements are written to a flat data file while a bounded in-memory index
// maps keys to the position of their records.
//
// Freed space is kept in a recycle bin and reused by later puts; gaps that
// cannot be reused are removed by an online compaction which moves records
// one at a time so that readers are never blocked for a whole pass.
//
// The index is persisted to a key file on shutdown and reloaded on startup,
// after a consistency check against the data file.  A region that fails the
// check starts empty.
package region

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alpacahq/diskcache/codec"
	"github.com/alpacahq/diskcache/keyfile"
	"github.com/alpacahq/diskcache/keyindex"
	"github.com/alpacahq/diskcache/keymatch"
	"github.com/alpacahq/diskcache/recordfile"
	"github.com/alpacahq/diskcache/recyclebin"
	"github.com/alpacahq/diskcache/utils/log"
	"github.com/alpacahq/diskcache/worker"
)

var (
	// ErrInvalidKey is returned when putting under a prefix, a group wildcard
	// or an empty name.
	ErrInvalidKey = errors.New("key can not be stored")
	// ErrCorrupted is returned when a record does not match its descriptor.
	ErrCorrupted = recordfile.ErrCorrupted
)

const (
	DataFileSuffix = ".data"
	KeyFileSuffix  = ".key"
)

// Region is one independently managed disk store.
type Region struct {
	name       string
	attrs      Attributes
	dataFile   *recordfile.File
	keyFile    *keyfile.File
	serializer codec.Serializer
	matcher    keymatch.Matcher
	sink       EventSink
	scheduler  Scheduler

	// lock guards the index, the data file and every field below it.
	lock       sync.RWMutex
	index      keyindex.Index
	bin        *recyclebin.Bin
	queuedPuts []*recordfile.Descriptor
	// released collects the slots freed while recycling is off, so that
	// the running compaction does not carry them over.
	released   map[*recordfile.Descriptor]struct{}
	doRecycle  bool
	queueInput bool
	// generation changes whenever the region is reset, so a compaction
	// started before the reset knows its snapshot is stale.
	generation uint64
	closed     bool
	// keysOnDisk is set while the key file holds a snapshot that still
	// matches the index.
	keysOnDisk bool

	alive         int32
	optimizeState int32

	bytesFree      int64
	recycleCount   int64
	removeCount    int64
	timesOptimized int64
	hitCount       int64
	startupSize    int
}

// Open creates or reopens the region described by attrs.  Nil collaborators
// are replaced by defaults: msgpack serialization, a glob key matcher, no
// event sink and the process wide background worker.
func Open(attrs Attributes, serializer codec.Serializer, matcher keymatch.Matcher,
	sink EventSink, scheduler Scheduler,
) (*Region, error) {
	if attrs.Name == "" {
		return nil, errors.New("region name is required")
	}
	if serializer == nil {
		serializer = codec.MsgPack{}
	}
	if matcher == nil {
		matcher = keymatch.NewGlobMatcher([]rune(NameDelimiter)...)
	}
	if sink == nil {
		sink = nopSink{}
	}
	if scheduler == nil {
		scheduler = worker.Default()
	}
	if attrs.ShutdownSpoolTimeLimit <= 0 {
		attrs.ShutdownSpoolTimeLimit = defaultShutdownSpoolTimeLimit
	}

	const ownerGroupAll = 0o770
	if err := os.MkdirAll(attrs.RootDirectory, ownerGroupAll); err != nil {
		return nil, fmt.Errorf("create region directory %s: %w", attrs.RootDirectory, err)
	}
	base := filepath.Join(attrs.RootDirectory, attrs.Name)
	dataFile, err := recordfile.Open(base + DataFileSuffix)
	if err != nil {
		return nil, err
	}

	r := &Region{
		name:       attrs.Name,
		attrs:      attrs,
		dataFile:   dataFile,
		keyFile:    keyfile.New(base + KeyFileSuffix),
		serializer: serializer,
		matcher:    matcher,
		sink:       sink,
		scheduler:  scheduler,
		bin:        recyclebin.New(),
		doRecycle:  true,
	}
	r.index = keyindex.New(attrs.DiskLimitType, attrs.MaxKeySize, r.onEvict)

	if err := r.initializeKeysAndData(); err != nil {
		_ = dataFile.Close()
		return nil, err
	}

	r.startupSize = r.index.Len()
	atomic.StoreInt32(&r.alive, 1)
	log.Info("region %s: initialized with %d keys, data file %d bytes (%s)",
		r.name, r.startupSize, r.dataFile.Length(), r.dataFile.Name())
	r.sink.OnEvent(r.name, EventInitialized)
	return r, nil
}

// Name returns the region name.
func (r *Region) Name() string {
	return r.name
}

// Alive reports whether the region still serves requests.
func (r *Region) Alive() bool {
	return atomic.LoadInt32(&r.alive) == 1
}

// Get returns the element stored under key, or nil when there is none.  An
// I/O failure while reading, or a record holding another key, resets the
// region.
func (r *Region) Get(key Key) (*Element, error) {
	if !r.Alive() {
		log.Debug("region %s: not alive, get of %v ignored", r.name, key)
		return nil, nil
	}

	r.lock.RLock()
	if r.closed {
		r.lock.RUnlock()
		return nil, nil
	}
	d, ok := r.index.Get(key)
	if !ok {
		r.lock.RUnlock()
		return nil, nil
	}
	payload, err := r.dataFile.Read(d)
	r.lock.RUnlock()

	if err != nil {
		log.Error("region %s: failure reading %v at %v, resetting region: %v", r.name, key, d, err)
		r.reset()
		return nil, fmt.Errorf("read %v: %w", key, err)
	}

	elem := &Element{}
	if err := r.serializer.Deserialize(payload, elem); err != nil {
		log.Error("region %s: failure decoding %v: %v", r.name, key, err)
		return nil, fmt.Errorf("decode %v: %w", key, err)
	}
	if elem.Key != key {
		log.Error("region %s: record at %v holds %v instead of %v, resetting region", r.name, d, elem.Key, key)
		r.reset()
		return nil, fmt.Errorf("read %v: found %v: %w", key, elem.Key, ErrCorrupted)
	}
	atomic.AddInt64(&r.hitCount, 1)
	r.sink.OnEvent(r.name, EventGet)
	return elem, nil
}

// GetMatching returns the plain keys matching pattern and their elements.
func (r *Region) GetMatching(pattern string) (map[Key]*Element, error) {
	if !r.Alive() {
		return map[Key]*Element{}, nil
	}

	r.lock.RLock()
	var names []string
	for _, k := range r.index.Keys() {
		if key := k.(Key); !key.IsGrouped() {
			names = append(names, key.Name)
		}
	}
	r.lock.RUnlock()

	matched, err := r.matcher.MatchingKeys(pattern, names)
	if err != nil {
		return nil, err
	}
	ret := make(map[Key]*Element, len(matched))
	for _, name := range matched {
		key := NewKey(name)
		elem, err := r.Get(key)
		if err != nil {
			return nil, err
		}
		if elem != nil {
			ret[key] = elem
		}
	}
	return ret, nil
}

// Put stores value under key.
func (r *Region) Put(key Key, value []byte) error {
	if !key.storable() {
		return fmt.Errorf("put %v: %w", key, ErrInvalidKey)
	}
	if !r.Alive() {
		log.Debug("region %s: not alive, put of %v ignored", r.name, key)
		return nil
	}

	payload, err := r.serializer.Serialize(&Element{Key: key, Value: value, CreatedAt: time.Now().UnixNano()})
	if err != nil {
		log.Error("region %s: failure encoding %v: %v", r.name, key, err)
		return fmt.Errorf("encode %v: %w", key, err)
	}
	size := int32(len(payload))

	r.lock.Lock()
	defer r.lock.Unlock()
	if r.closed {
		return nil
	}
	r.dropKeySnapshotLocked()

	old, _ := r.index.Peek(key)
	if old != nil && size <= old.Length {
		// the new record fits the old slot
		oldLength := old.Length
		old.Length = size
		if err := r.dataFile.Write(old, payload); err != nil {
			old.Length = oldLength
			r.index.Remove(key)
			r.free(old)
			log.Error("region %s: failure updating %v in place at %v: %v", r.name, key, old, err)
			return fmt.Errorf("write %v: %w", key, err)
		}
		r.index.Put(key, old)
		r.sink.OnEvent(r.name, EventUpdate)
		return nil
	}

	d := r.allocate(size)
	if err := r.dataFile.Write(d, payload); err != nil {
		r.free(d)
		log.Error("region %s: failure writing %v at %v: %v", r.name, key, d, err)
		return fmt.Errorf("write %v: %w", key, err)
	}
	if r.queueInput {
		r.queuedPuts = append(r.queuedPuts, d)
	}
	if replaced := r.index.Put(key, d); replaced != nil && replaced != d {
		r.free(replaced)
	}
	r.sink.OnEvent(r.name, EventUpdate)
	return nil
}

// Remove removes key.  A plain key ending with NameDelimiter removes every
// plain key under that prefix and a group wildcard removes the whole group.
// It reports whether anything was removed.
func (r *Region) Remove(key Key) bool {
	if !r.Alive() {
		log.Debug("region %s: not alive, remove of %v ignored", r.name, key)
		return false
	}

	r.lock.Lock()
	if r.closed {
		r.lock.Unlock()
		return false
	}
	var removed int
	switch {
	case key.isPrefix():
		removed = r.removeMatchingLocked(func(k Key) bool {
			return !k.IsGrouped() && strings.HasPrefix(k.Name, key.Name)
		})
	case key.isGroupWildcard():
		removed = r.removeMatchingLocked(func(k Key) bool {
			return k.Group == key.Group
		})
	default:
		if r.removeLocked(key) {
			removed = 1
		}
	}
	r.lock.Unlock()

	if removed > 0 {
		r.sink.OnEvent(r.name, EventRemove)
		r.noteRemovals(removed)
	}
	return removed > 0
}

// removeMatchingLocked snapshots the matching keys first and removes them one
// by one, so that every removal frees its slot.
func (r *Region) removeMatchingLocked(match func(Key) bool) int {
	var victims []Key
	for _, k := range r.index.Keys() {
		if key := k.(Key); match(key) {
			victims = append(victims, key)
		}
	}
	removed := 0
	for _, key := range victims {
		if r.removeLocked(key) {
			removed++
		}
	}
	return removed
}

func (r *Region) removeLocked(key Key) bool {
	d, ok := r.index.Remove(key)
	if !ok {
		return false
	}
	r.dropKeySnapshotLocked()
	r.free(d)
	return true
}

// RemoveAll drops every element and empties both files.
func (r *Region) RemoveAll() {
	if !r.Alive() {
		return
	}
	r.reset()
	r.sink.OnEvent(r.name, EventRemoveAll)
}

// Size returns the number of keys.
func (r *Region) Size() int {
	return r.index.Len()
}

// Keys returns every key of the region.
func (r *Region) Keys() []Key {
	r.lock.RLock()
	defer r.lock.RUnlock()
	raw := r.index.Keys()
	keys := make([]Key, 0, len(raw))
	for _, k := range raw {
		keys = append(keys, k.(Key))
	}
	return keys
}

// GroupKeys returns the attribute names stored in a group.
func (r *Region) GroupKeys(cache, group string) []string {
	gid := GroupID{Cache: cache, Group: group}
	r.lock.RLock()
	defer r.lock.RUnlock()
	var names []string
	for _, k := range r.index.Keys() {
		if key := k.(Key); key.Group == gid {
			names = append(names, key.Name)
		}
	}
	return names
}

// GroupNames returns the groups of cache that have at least one key.
func (r *Region) GroupNames(cache string) []string {
	r.lock.RLock()
	defer r.lock.RUnlock()
	seen := map[string]struct{}{}
	var names []string
	for _, k := range r.index.Keys() {
		key := k.(Key)
		if !key.IsGrouped() || key.Group.Cache != cache {
			continue
		}
		if _, ok := seen[key.Group.Group]; !ok {
			seen[key.Group.Group] = struct{}{}
			names = append(names, key.Group.Group)
		}
	}
	return names
}

// Save persists the key index without closing the region.
func (r *Region) Save() error {
	if !r.Alive() {
		return nil
	}
	return r.saveKeys(keyfile.OPEN)
}

// allocate returns a slot for a record of size bytes: a recycled one when
// possible, otherwise a new one at the end of the data file.  The caller
// holds the write lock.
func (r *Region) allocate(size int32) *recordfile.Descriptor {
	if r.doRecycle {
		if d := r.bin.Take(size); d != nil {
			atomic.AddInt64(&r.recycleCount, 1)
			atomic.AddInt64(&r.bytesFree, -(int64(size) + recordfile.HeaderSize))
			return d
		}
	}
	return &recordfile.Descriptor{Position: r.dataFile.Reserve(size), Length: size}
}

// free hands a slot back.  While a compaction is running the slot is only
// accounted for, it will be reclaimed by the compaction.  The caller holds
// the region lock.
func (r *Region) free(d *recordfile.Descriptor) {
	if d == nil {
		return
	}
	atomic.AddInt64(&r.bytesFree, int64(d.Length)+recordfile.HeaderSize)
	if r.doRecycle {
		r.bin.Add(d)
		return
	}
	if r.released == nil {
		r.released = make(map[*recordfile.Descriptor]struct{})
	}
	r.released[d] = struct{}{}
}

// onEvict is the index eviction callback.  It runs inside index.Put, with the
// write lock held by Put (or during initialization).
func (r *Region) onEvict(key interface{}, d *recordfile.Descriptor) {
	log.Debug("region %s: evicting %v at %v", r.name, key, d)
	r.free(d)
	r.sink.OnEvent(r.name, EventEvict)
	r.noteRemovals(1)
}

// dropKeySnapshotLocked empties the key file the first time the index moves
// away from the last snapshot.  A crash after that starts the region empty
// instead of loading positions that may hold other records by now.  The
// caller holds the write lock.
func (r *Region) dropKeySnapshotLocked() {
	if !r.keysOnDisk {
		return
	}
	r.keysOnDisk = false
	if err := r.keyFile.Reset(); err != nil {
		log.Error("region %s: failure dropping outdated key file: %v", r.name, err)
	}
}

// reset empties the region.  Used by RemoveAll and after read failures.
func (r *Region) reset() {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.closed {
		return
	}
	log.Warn("region %s: resetting", r.name)

	r.generation++
	r.keysOnDisk = false
	r.index.Clear()
	r.bin.Clear()
	r.queuedPuts = nil
	r.released = nil
	atomic.StoreInt64(&r.bytesFree, 0)
	atomic.StoreInt64(&r.removeCount, 0)
	if err := r.dataFile.Reset(); err != nil {
		log.Error("region %s: failure resetting data file, region is no longer alive: %v", r.name, err)
		atomic.StoreInt32(&r.alive, 0)
	}
	if err := r.keyFile.Reset(); err != nil {
		log.Error("region %s: failure resetting key file: %v", r.name, err)
	}
	r.sink.OnEvent(r.name, EventReset)
}
