package region

import (
	"sync/atomic"
	"time"

	"github.com/alpacahq/diskcache/keyfile"
	"github.com/alpacahq/diskcache/utils/log"
)

// Dispose shuts the region down: a final compaction if configured, then the
// keys are saved and the data file closed.  It returns after
// ShutdownSpoolTimeLimit even if the shutdown is still in progress.
func (r *Region) Dispose() {
	if !atomic.CompareAndSwapInt32(&r.alive, 1, 0) {
		log.Debug("region %s: already disposed", r.name)
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.disposeInternal()
	}()

	select {
	case <-done:
	case <-time.After(r.attrs.ShutdownSpoolTimeLimit):
		log.Warn("region %s: shutdown did not finish within %v", r.name, r.attrs.ShutdownSpoolTimeLimit)
	}
}

func (r *Region) disposeInternal() {
	start := time.Now()

	// a running compaction gets half of the window, the rest is left for
	// saving the keys
	stopped := r.stopOptimizer(r.attrs.ShutdownSpoolTimeLimit / 2)
	if !stopped {
		log.Warn("region %s: compaction still running, closing anyway", r.name)
	}

	if stopped && r.attrs.OptimizeOnShutdown && atomic.LoadInt64(&r.bytesFree) > 0 {
		r.optimizeFile()
	}

	// the snapshot and the close share one critical section, a compaction
	// still running sees the region closed before it can move anything
	r.lock.Lock()
	if err := r.saveKeysLocked(keyfile.CLOSED); err != nil {
		log.Error("region %s: keys not saved on shutdown: %v", r.name, err)
	}
	r.closed = true
	if err := r.dataFile.Sync(); err != nil {
		log.Error("region %s: failure syncing data file: %v", r.name, err)
	}
	if err := r.dataFile.Close(); err != nil {
		log.Error("region %s: failure closing data file: %v", r.name, err)
	}
	r.lock.Unlock()

	log.Info("region %s: disposed in %v", r.name, time.Since(start))
	r.sink.OnEvent(r.name, EventDisposed)
}
