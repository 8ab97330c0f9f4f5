package region

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/alpacahq/diskcache/recordfile"
	"github.com/alpacahq/diskcache/utils/log"
)

const optimizePollInterval = 5 * time.Millisecond

// Compaction states.  A scheduled compaction is pending until the scheduler
// runs it; Dispose stops the optimizer by taking it over from idle or
// pending.
const (
	optimizeIdle int32 = iota
	optimizePending
	optimizeRunning
	optimizeStopped
)

// Optimize compacts the data file now, on the calling goroutine.  It returns
// false without doing anything when a compaction is already in flight.
func (r *Region) Optimize() bool {
	if !r.Alive() || !atomic.CompareAndSwapInt32(&r.optimizeState, optimizeIdle, optimizeRunning) {
		return false
	}
	defer r.endOptimize()
	r.optimizeFile()
	return true
}

// noteRemovals counts removed and evicted records and submits a compaction
// to the scheduler once the configured threshold is reached.
func (r *Region) noteRemovals(n int) {
	count := atomic.AddInt64(&r.removeCount, int64(n))
	if !r.attrs.realTimeOptimization() || !r.Alive() {
		return
	}
	if count < int64(r.attrs.OptimizeAtRemoveCount) {
		return
	}
	if !atomic.CompareAndSwapInt32(&r.optimizeState, optimizeIdle, optimizePending) {
		return
	}
	log.Debug("region %s: %d removals, scheduling optimization", r.name, count)
	if !r.scheduler.Submit(r.runScheduledOptimize) {
		atomic.CompareAndSwapInt32(&r.optimizeState, optimizePending, optimizeIdle)
	}
}

// runScheduledOptimize is the scheduler job.  It does nothing when the
// region was disposed while the job was queued.
func (r *Region) runScheduledOptimize() {
	if !atomic.CompareAndSwapInt32(&r.optimizeState, optimizePending, optimizeRunning) {
		log.Debug("region %s: scheduled optimization dropped", r.name)
		return
	}
	defer r.endOptimize()
	if !r.Alive() {
		return
	}
	r.optimizeFile()
}

func (r *Region) endOptimize() {
	atomic.CompareAndSwapInt32(&r.optimizeState, optimizeRunning, optimizeIdle)
}

// stopOptimizer keeps any further compaction from starting.  A pending one
// is dropped right away, a running one is waited for up to wait.  It reports
// whether the optimizer is stopped.
func (r *Region) stopOptimizer(wait time.Duration) bool {
	deadline := time.Now().Add(wait)
	for {
		if atomic.CompareAndSwapInt32(&r.optimizeState, optimizeIdle, optimizeStopped) ||
			atomic.CompareAndSwapInt32(&r.optimizeState, optimizePending, optimizeStopped) {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(optimizePollInterval)
	}
}

// Optimizing reports whether a compaction is running or queued.
func (r *Region) Optimizing() bool {
	st := atomic.LoadInt32(&r.optimizeState)
	return st == optimizePending || st == optimizeRunning
}

// optimizePass is the state of one compaction between its phases.
type optimizePass struct {
	n        int64
	gen      uint64
	snapshot []*recordfile.Descriptor
	preSize  int64
	start    time.Time
}

// optimizeFile removes the gaps between records.
//
// A position sorted snapshot of the descriptors is taken under the write
// lock, recycling is switched off and new puts are queued.  The records are
// then shifted towards the head of the file one at a time, each move under
// the write lock.  Finally the puts that arrived in the meantime are moved
// behind the compacted records and the file is truncated.
//
// The caller owns the running state.
func (r *Region) optimizeFile() {
	p, ok := r.beginPass()
	if !ok {
		return
	}
	end, complete := r.defragFile(p.snapshot, 0, p.gen)
	r.finishPass(p, end, complete)
}

// beginPass takes the snapshot.  It returns false on a closed region.
func (r *Region) beginPass() (*optimizePass, bool) {
	start := time.Now()
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.closed {
		return nil, false
	}
	r.doRecycle = false
	r.queueInput = true
	p := &optimizePass{
		gen:      r.generation,
		snapshot: r.positionSortedDescriptors(),
		preSize:  r.dataFile.Length(),
		start:    start,
	}
	p.n = atomic.AddInt64(&r.timesOptimized, 1)

	log.Info("region %s: beginning optimization #%d, %d records, data file %d bytes",
		r.name, p.n, len(p.snapshot), p.preSize)
	return p, true
}

// finishPass places the queued puts behind end, truncates the file and
// switches recycling back on.
func (r *Region) finishPass(p *optimizePass, end int64, complete bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if complete && !r.closed && r.generation == p.gen {
		if len(r.queuedPuts) > 0 {
			for _, d := range sortByPosition(r.queuedPuts) {
				end = r.placeLocked(d, end)
			}
		}
		if err := r.dataFile.Truncate(end); err != nil {
			log.Error("region %s: failure truncating data file to %d: %v", r.name, end, err)
		}
	} else {
		log.Warn("region %s: optimization #%d interrupted", r.name, p.n)
	}
	atomic.StoreInt64(&r.bytesFree, 0)
	atomic.StoreInt64(&r.removeCount, 0)
	r.bin.Clear()
	r.queuedPuts = nil
	r.released = nil
	r.doRecycle = true
	r.queueInput = false

	log.Info("region %s: finished optimization #%d in %v, data file %d -> %d bytes",
		r.name, p.n, time.Since(p.start), p.preSize, r.dataFile.Length())
	r.sink.OnEvent(r.name, EventOptimized)
}

// defragFile moves the records of list, sorted by position, so that they
// follow each other from startPos on.  The write lock is taken for every
// record separately.  It returns the position after the last record and
// false when the region was reset or closed on the way.
func (r *Region) defragFile(list []*recordfile.Descriptor, startPos int64, gen uint64) (int64, bool) {
	expectedNextPos := startPos
	for _, d := range list {
		r.lock.Lock()
		if r.closed || r.generation != gen {
			r.lock.Unlock()
			return expectedNextPos, false
		}
		expectedNextPos = r.placeLocked(d, expectedNextPos)
		r.lock.Unlock()
	}
	return expectedNextPos, true
}

// placeLocked moves d to pos if it is not there yet and returns the position
// right after it.  A record that can not be moved stays where it is and a slot
// released since the snapshot is skipped.
func (r *Region) placeLocked(d *recordfile.Descriptor, pos int64) int64 {
	if _, ok := r.released[d]; ok {
		return pos
	}
	if d.Position != pos {
		if d.Position < pos {
			log.Error("region %s: record %v overlaps the compacted area ending at %d", r.name, d, pos)
		} else {
			r.dropKeySnapshotLocked()
			if err := r.dataFile.Move(d, pos); err != nil {
				log.Error("region %s: failure moving record %v to %d: %v", r.name, d, pos, err)
			}
		}
	}
	if end := d.End(); end > pos {
		return end
	}
	return pos
}

// positionSortedDescriptors returns the indexed descriptors by position.  The
// caller holds the lock.
func (r *Region) positionSortedDescriptors() []*recordfile.Descriptor {
	return sortByPosition(r.index.Values())
}

func sortByPosition(list []*recordfile.Descriptor) []*recordfile.Descriptor {
	sorted := make([]*recordfile.Descriptor, len(list))
	copy(sorted, list)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Position < sorted[j].Position
	})
	return sorted
}
