package test

import (
	"fmt"
	"os"

	"github.com/alpacahq/diskcache/region"
	"github.com/alpacahq/diskcache/utils/log"
	"github.com/alpacahq/diskcache/worker"
)

func checkfail(err error, msg string) {
	if err != nil {
		log.Error("Message: %v - Error: %v", msg, err)
		os.Exit(1)
	}
}

// Value returns a deterministic payload of size bytes for the i-th key.
func Value(i, size int) []byte {
	v := make([]byte, size)
	for j := range v {
		v[j] = byte(i + j)
	}
	return v
}

// PopulateRegion puts n keys named prefix0..prefix(n-1) with values of
// valueSize bytes and returns the keys in put order.
func PopulateRegion(r *region.Region, prefix string, n, valueSize int) []region.Key {
	keys := make([]region.Key, 0, n)
	for i := 0; i < n; i++ {
		key := region.NewKey(fmt.Sprintf("%s%d", prefix, i))
		checkfail(r.Put(key, Value(i, valueSize)), "PopulateRegion: put "+key.String())
		keys = append(keys, key)
	}
	return keys
}

// OverwriteAt writes b into the file at path, at offset pos.
func OverwriteAt(path string, pos int64, b []byte) error {
	fp, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return err
	}
	defer fp.Close()
	_, err = fp.WriteAt(b, pos)
	return err
}

// ManualScheduler queues jobs until RunAll is called.
type ManualScheduler struct {
	jobs []worker.Job
}

func (s *ManualScheduler) Submit(job worker.Job) bool {
	s.jobs = append(s.jobs, job)
	return true
}

// Pending returns the number of queued jobs.
func (s *ManualScheduler) Pending() int {
	return len(s.jobs)
}

// RunAll runs and drops the queued jobs, in submission order.
func (s *ManualScheduler) RunAll() {
	jobs := s.jobs
	s.jobs = nil
	for _, job := range jobs {
		job()
	}
}
