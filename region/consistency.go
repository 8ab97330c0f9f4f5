package region

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/alpacahq/diskcache/keyfile"
	"github.com/alpacahq/diskcache/recordfile"
	"github.com/alpacahq/diskcache/utils/log"
)

// keyEntry is the persisted form of one index entry.
type keyEntry struct {
	Key      Key   `msgpack:"k"`
	Position int64 `msgpack:"p"`
	Length   int32 `msgpack:"l"`
}

// initializeKeysAndData loads the key file and validates it against the data
// file.  Whatever can not be trusted is thrown away: the region then starts
// empty, with both files truncated.
func (r *Region) initializeKeysAndData() error {
	if r.attrs.ClearDiskOnStartup {
		log.Info("region %s: clearing disk on startup", r.name)
		return r.resetFiles()
	}

	status := keyfile.Invalid
	if r.keyFile.Length() > 0 {
		var entries []keyEntry
		st, err := r.keyFile.Load(&entries)
		if err != nil {
			log.Error("region %s: failure loading keys, starting empty: %v", r.name, err)
			return r.resetFiles()
		}
		status = st
		for _, e := range entries {
			r.index.Put(e.Key, &recordfile.Descriptor{Position: e.Position, Length: e.Length})
		}
		log.Info("region %s: loaded %d of %d keys (key file %s)", r.name, r.index.Len(), len(entries), status)
	}

	if r.index.Len() == 0 {
		if r.dataFile.Length() > 0 {
			log.Warn("region %s: no keys for %d bytes of data, resetting data file", r.name, r.dataFile.Length())
		}
		return r.resetFiles()
	}

	deep := r.attrs.DeepConsistencyCheck || status != keyfile.CLOSED
	if err := r.checkKeyDataConsistency(deep); err != nil {
		log.Warn("region %s: key file does not match data file, starting empty: %v", r.name, err)
		r.index.Clear()
		return r.resetFiles()
	}

	r.rebuildFreeList()
	if err := r.keyFile.MarkOpen(); err != nil {
		return err
	}
	r.keysOnDisk = true
	return nil
}

// checkKeyDataConsistency verifies that every record lies inside the data
// file and carries the expected length prefix.  With checkOverlaps the records
// must not overlap either.  The caller holds the lock or has exclusive access.
func (r *Region) checkKeyDataConsistency(checkOverlaps bool) error {
	sorted := r.positionSortedDescriptors()
	for _, d := range sorted {
		if err := r.dataFile.Check(d); err != nil {
			return err
		}
	}
	if checkOverlaps {
		return checkForOverlaps(sorted)
	}
	return nil
}

// checkForOverlaps expects sorted ordered by position.
func checkForOverlaps(sorted []*recordfile.Descriptor) error {
	for i := 1; i < len(sorted); i++ {
		if prev := sorted[i-1]; sorted[i].Position < prev.End() {
			return fmt.Errorf("record %v overlaps record %v: %w", sorted[i], prev, ErrCorrupted)
		}
	}
	return nil
}

// rebuildFreeList turns the gaps between the loaded records into recycle bin
// slots and cuts off whatever follows the last record.
func (r *Region) rebuildFreeList() {
	r.bin.Clear()
	atomic.StoreInt64(&r.bytesFree, 0)

	var pos int64
	for _, d := range r.positionSortedDescriptors() {
		if d.Position > pos {
			r.binGap(pos, d.Position)
		}
		if end := d.End(); end > pos {
			pos = end
		}
	}
	if r.dataFile.Length() > pos {
		log.Info("region %s: truncating %d trailing bytes of data file", r.name, r.dataFile.Length()-pos)
		if err := r.dataFile.Truncate(pos); err != nil {
			log.Error("region %s: failure truncating data file: %v", r.name, err)
		}
	}
	if n := r.bin.Len(); n > 0 {
		log.Info("region %s: %d free slots, %d bytes free", r.name, n, atomic.LoadInt64(&r.bytesFree))
	}
}

// binGap adds the space between from and to as free slots.
func (r *Region) binGap(from, to int64) {
	atomic.AddInt64(&r.bytesFree, to-from)
	for to-from >= recordfile.HeaderSize {
		length := to - from - recordfile.HeaderSize
		if length > math.MaxInt32 {
			length = math.MaxInt32
		}
		r.bin.Add(&recordfile.Descriptor{Position: from, Length: int32(length)})
		from += length + recordfile.HeaderSize
	}
}

func (r *Region) resetFiles() error {
	var errs []error
	if err := r.dataFile.Reset(); err != nil {
		errs = append(errs, err)
	}
	if err := r.keyFile.Reset(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("reset region %s: %v", r.name, errs)
	}
	return nil
}

// Verify checks the index against the data file.  With deep set the records
// are also checked for overlaps.
func (r *Region) Verify(deep bool) error {
	r.lock.RLock()
	defer r.lock.RUnlock()
	if r.closed {
		return errors.New("region is closed")
	}
	return r.checkKeyDataConsistency(deep)
}

// saveKeys writes a snapshot of the index, oldest key first.  The write lock
// is held until the file is in place so that no update falls between the
// snapshot and the file.
func (r *Region) saveKeys(status keyfile.StatusEnum) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.saveKeysLocked(status)
}

func (r *Region) saveKeysLocked(status keyfile.StatusEnum) error {
	keys := r.index.Keys()
	entries := make([]keyEntry, 0, len(keys))
	for _, k := range keys {
		if d, ok := r.index.Peek(k); ok {
			entries = append(entries, keyEntry{Key: k.(Key), Position: d.Position, Length: d.Length})
		}
	}

	r.keysOnDisk = false
	if err := r.keyFile.Save(entries, status); err != nil {
		log.Error("region %s: failure saving %d keys: %v", r.name, len(entries), err)
		return err
	}
	r.keysOnDisk = status == keyfile.OPEN
	log.Debug("region %s: saved %d keys (%s)", r.name, len(entries), status)
	return nil
}
