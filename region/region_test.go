package region_test

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/diskcache/keyindex"
	"github.com/alpacahq/diskcache/region"
	"github.com/alpacahq/diskcache/utils/test"
)

type eventRecorder struct {
	mu     sync.Mutex
	events map[region.Event]int
}

func (e *eventRecorder) OnEvent(_ string, ev region.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.events == nil {
		e.events = map[region.Event]int{}
	}
	e.events[ev]++
}

func (e *eventRecorder) count(ev region.Event) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.events[ev]
}

func attributes(t *testing.T) region.Attributes {
	t.Helper()
	attrs := region.DefaultAttributes("testRegion", t.TempDir())
	attrs.OptimizeOnShutdown = false
	return attrs
}

func open(t *testing.T, attrs region.Attributes) (*region.Region, *test.ManualScheduler) {
	t.Helper()
	sched := &test.ManualScheduler{}
	r, err := region.Open(attrs, nil, nil, nil, sched)
	require.Nil(t, err)
	t.Cleanup(r.Dispose)
	return r, sched
}

func sortedNames(keys []region.Key) []string {
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, k.Name)
	}
	sort.Strings(names)
	return names
}

func TestPutGet(t *testing.T) {
	r, _ := open(t, attributes(t))

	require.Nil(t, r.Put(region.NewKey("foo"), []byte("bar")))
	require.Nil(t, r.Put(region.NewGroupKey("users", "42", "name"), []byte("alice")))

	elem, err := r.Get(region.NewKey("foo"))
	require.Nil(t, err)
	require.NotNil(t, elem)
	assert.Equal(t, []byte("bar"), elem.Value)
	assert.Equal(t, region.NewKey("foo"), elem.Key)
	assert.NotZero(t, elem.CreatedAt)

	elem, err = r.Get(region.NewGroupKey("users", "42", "name"))
	require.Nil(t, err)
	require.NotNil(t, elem)
	assert.Equal(t, []byte("alice"), elem.Value)

	elem, err = r.Get(region.NewKey("missing"))
	assert.Nil(t, err)
	assert.Nil(t, elem)
	assert.Equal(t, 2, r.Size())
	assert.Equal(t, int64(2), r.Stats().HitCount)
}

func TestPutInvalidKey(t *testing.T) {
	tests := map[string]struct {
		key region.Key
	}{
		"empty name":     {key: region.NewKey("")},
		"prefix":         {key: region.NewKey("quote:")},
		"group wildcard": {key: region.GroupWildcard("users", "42")},
	}
	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			r, _ := open(t, attributes(t))

			err := r.Put(tt.key, []byte("x"))

			assert.True(t, errors.Is(err, region.ErrInvalidKey), "err=%v", err)
			assert.Equal(t, 0, r.Size())
		})
	}
}

func TestUpdateReusesSlot(t *testing.T) {
	r, _ := open(t, attributes(t))
	a := region.NewKey("a")
	require.Nil(t, r.Put(a, test.Value(1, 100)))
	require.Nil(t, r.Put(region.NewKey("b"), test.Value(2, 100)))
	size := r.DataFileSize()

	require.Nil(t, r.Put(a, test.Value(3, 50)))

	assert.Equal(t, size, r.DataFileSize())
	elem, err := r.Get(a)
	require.Nil(t, err)
	assert.Equal(t, test.Value(3, 50), elem.Value)
	assert.Nil(t, r.Verify(true))
}

func TestRemovedSpaceIsRecycled(t *testing.T) {
	// --- given ---
	r, _ := open(t, attributes(t))
	keys := test.PopulateRegion(r, "k", 3, 100)
	size := r.DataFileSize()
	require.True(t, r.Remove(keys[1]))
	assert.Equal(t, size/3, r.BytesFree())
	assert.Equal(t, 1, r.RecycleBinSize())

	// --- when ---
	require.Nil(t, r.Put(region.NewKey("k3"), test.Value(3, 100)))

	// --- then ---
	assert.Equal(t, size, r.DataFileSize())
	assert.Equal(t, int64(1), r.RecycleCount())
	assert.Equal(t, int64(0), r.BytesFree())
	assert.Equal(t, 0, r.RecycleBinSize())
	elem, err := r.Get(region.NewKey("k3"))
	require.Nil(t, err)
	assert.Equal(t, test.Value(3, 100), elem.Value)
	assert.Nil(t, r.Verify(true))
}

func TestRecordsDoNotOverlap(t *testing.T) {
	r, _ := open(t, attributes(t))
	for i := 0; i < 200; i++ {
		key := region.NewKey(fmt.Sprintf("k%d", i%37))
		switch i % 5 {
		case 3:
			r.Remove(key)
		default:
			require.Nil(t, r.Put(key, test.Value(i, 10+(i*7)%300)))
		}
	}
	assert.Nil(t, r.Verify(true))
}

func TestOptimize(t *testing.T) {
	// --- given ---
	r, _ := open(t, attributes(t))
	keys := test.PopulateRegion(r, "k", 10, 100)
	recordSize := r.DataFileSize() / 10
	for i := 1; i < 10; i += 2 {
		require.True(t, r.Remove(keys[i]))
	}

	// --- when ---
	require.True(t, r.Optimize())

	// --- then ---
	assert.Equal(t, 5*recordSize, r.DataFileSize())
	assert.Equal(t, int64(0), r.BytesFree())
	assert.Equal(t, 0, r.RecycleBinSize())
	assert.Equal(t, int64(1), r.TimesOptimized())
	for i := 0; i < 10; i += 2 {
		elem, err := r.Get(keys[i])
		require.Nil(t, err)
		require.NotNil(t, elem)
		assert.Equal(t, test.Value(i, 100), elem.Value)
	}
	assert.Nil(t, r.Verify(true))

	// compacting a compact file changes nothing
	require.True(t, r.Optimize())
	assert.Equal(t, 5*recordSize, r.DataFileSize())
	assert.Equal(t, int64(2), r.TimesOptimized())
	for i := 0; i < 10; i++ {
		elem, err := r.Get(keys[i])
		require.Nil(t, err)
		if i%2 == 1 {
			assert.Nil(t, elem)
			continue
		}
		require.NotNil(t, elem)
		assert.Equal(t, test.Value(i, 100), elem.Value)
	}
	assert.Nil(t, r.Verify(true))
}

func TestSameSizeUpdatesKeepFileLength(t *testing.T) {
	// --- given ---
	r, _ := open(t, attributes(t))
	test.PopulateRegion(r, "k", 3, 64)
	key := region.NewKey("k1")
	size := r.DataFileSize()

	// --- when ---
	for i := 0; i < 100; i++ {
		require.Nil(t, r.Put(key, test.Value(i, 64)))
	}

	// --- then ---
	assert.Equal(t, size, r.DataFileSize())
	assert.Equal(t, int64(0), r.BytesFree())
	assert.Equal(t, 0, r.RecycleBinSize())
	elem, err := r.Get(key)
	require.Nil(t, err)
	assert.Equal(t, test.Value(99, 64), elem.Value)
	assert.Nil(t, r.Verify(true))
}

func TestRemoveCountSchedulesOptimization(t *testing.T) {
	attrs := attributes(t)
	attrs.OptimizeAtRemoveCount = 2
	r, sched := open(t, attrs)
	keys := test.PopulateRegion(r, "k", 4, 64)

	r.Remove(keys[0])
	assert.Equal(t, 0, sched.Pending())
	r.Remove(keys[1])
	assert.Equal(t, 1, sched.Pending())
	assert.True(t, r.Optimizing())
	// a pending optimization is not scheduled twice
	r.Remove(keys[2])
	assert.Equal(t, 1, sched.Pending())

	sched.RunAll()

	assert.False(t, r.Optimizing())
	assert.Equal(t, int64(1), r.TimesOptimized())
	assert.Equal(t, int64(0), r.BytesFree())
	assert.Equal(t, int64(0), r.RemoveCount())
	assert.Equal(t, 1, r.Size())
	elem, err := r.Get(keys[3])
	require.Nil(t, err)
	assert.Equal(t, test.Value(3, 64), elem.Value)
}

func TestCountLimitEvictsOldest(t *testing.T) {
	attrs := attributes(t)
	attrs.MaxKeySize = 3
	sink := &eventRecorder{}
	r, err := region.Open(attrs, nil, nil, sink, &test.ManualScheduler{})
	require.Nil(t, err)
	defer r.Dispose()

	keys := test.PopulateRegion(r, "k", 5, 32)

	assert.Equal(t, 3, r.Size())
	assert.Equal(t, []string{"k2", "k3", "k4"}, sortedNames(r.Keys()))
	assert.Equal(t, 2, sink.count(region.EventEvict))
	for _, key := range keys[:2] {
		elem, err := r.Get(key)
		assert.Nil(t, err)
		assert.Nil(t, elem)
	}
	assert.Equal(t, int64(2), r.RemoveCount())
	// k4 took the slot of k0, evicted by the put of k3
	assert.Equal(t, int64(1), r.RecycleCount())
	assert.Equal(t, 1, r.RecycleBinSize())
}

func TestSizeLimitEvicts(t *testing.T) {
	attrs := attributes(t)
	attrs.DiskLimitType = keyindex.Size
	attrs.MaxKeySize = 2
	r, _ := open(t, attrs)

	// every record is charged 1KB
	test.PopulateRegion(r, "k", 3, 500)

	assert.Equal(t, 2, r.Size())
	assert.Equal(t, []string{"k1", "k2"}, sortedNames(r.Keys()))
}

func TestRemovePrefix(t *testing.T) {
	r, _ := open(t, attributes(t))
	for _, name := range []string{"a:1", "a:2", "b:1", "ab"} {
		require.Nil(t, r.Put(region.NewKey(name), []byte(name)))
	}

	assert.True(t, r.Remove(region.NewKey("a:")))

	assert.Equal(t, []string{"ab", "b:1"}, sortedNames(r.Keys()))
	assert.Equal(t, 2, r.RecycleBinSize())
	assert.False(t, r.Remove(region.NewKey("a:")))
}

func TestRemoveGroup(t *testing.T) {
	r, _ := open(t, attributes(t))
	require.Nil(t, r.Put(region.NewGroupKey("users", "g1", "x"), []byte("1")))
	require.Nil(t, r.Put(region.NewGroupKey("users", "g1", "y"), []byte("2")))
	require.Nil(t, r.Put(region.NewGroupKey("users", "g2", "x"), []byte("3")))
	require.Nil(t, r.Put(region.NewKey("x"), []byte("4")))

	names := r.GroupKeys("users", "g1")
	sort.Strings(names)
	assert.Equal(t, []string{"x", "y"}, names)

	assert.True(t, r.Remove(region.GroupWildcard("users", "g1")))

	assert.Empty(t, r.GroupKeys("users", "g1"))
	assert.Equal(t, []string{"g2"}, r.GroupNames("users"))
	assert.Equal(t, 2, r.Size())
}

func TestGetMatching(t *testing.T) {
	r, _ := open(t, attributes(t))
	for _, name := range []string{"quote:AAPL", "quote:MSFT", "trade:AAPL", "quote:AAPL:bid"} {
		require.Nil(t, r.Put(region.NewKey(name), []byte(name)))
	}

	got, err := r.GetMatching("quote:*")

	require.Nil(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, []byte("quote:MSFT"), got[region.NewKey("quote:MSFT")].Value)
}

func TestRemoveAll(t *testing.T) {
	r, _ := open(t, attributes(t))
	test.PopulateRegion(r, "k", 5, 10)

	r.RemoveAll()

	assert.Equal(t, 0, r.Size())
	assert.Equal(t, int64(0), r.DataFileSize())
	require.Nil(t, r.Put(region.NewKey("again"), []byte("x")))
	elem, err := r.Get(region.NewKey("again"))
	require.Nil(t, err)
	assert.Equal(t, []byte("x"), elem.Value)
}

func TestCorruptedRecordResetsRegion(t *testing.T) {
	attrs := attributes(t)
	r, _ := open(t, attrs)
	keys := test.PopulateRegion(r, "k", 3, 10)

	dataPath := filepath.Join(attrs.RootDirectory, attrs.Name+region.DataFileSuffix)
	require.Nil(t, test.OverwriteAt(dataPath, 0, []byte{0x7f, 0, 0, 0}))

	elem, err := r.Get(keys[0])

	assert.Nil(t, elem)
	assert.True(t, errors.Is(err, region.ErrCorrupted), "err=%v", err)
	assert.Equal(t, 0, r.Size())
	assert.Equal(t, int64(0), r.DataFileSize())
	assert.True(t, r.Alive())
}

func TestNotAliveIsNoop(t *testing.T) {
	r, _ := open(t, attributes(t))
	key := region.NewKey("k")
	require.Nil(t, r.Put(key, []byte("v")))

	r.Dispose()

	assert.False(t, r.Alive())
	assert.Nil(t, r.Put(region.NewKey("other"), []byte("v")))
	elem, err := r.Get(key)
	assert.Nil(t, err)
	assert.Nil(t, elem)
	assert.False(t, r.Remove(key))
	assert.False(t, r.Optimize())
	// disposing twice is harmless
	r.Dispose()
}

func TestConcurrentAccessDuringOptimize(t *testing.T) {
	// --- given ---
	r, _ := open(t, attributes(t))
	keys := test.PopulateRegion(r, "k", 300, 200)
	for i := 0; i < len(keys); i += 2 {
		require.True(t, r.Remove(keys[i]))
	}

	// --- when ---
	var wg sync.WaitGroup
	errs := make(chan error, 100)
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.Optimize()
	}()
	for w := 0; w < 4; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 1; i < len(keys); i += 2 {
				elem, err := r.Get(keys[i])
				if err != nil || elem == nil {
					errs <- fmt.Errorf("get %v: %v", keys[i], err)
					return
				}
			}
			for i := 0; i < 20; i++ {
				key := region.NewKey(fmt.Sprintf("w%d-%d", w, i))
				if err := r.Put(key, test.Value(i, 150)); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	// --- then ---
	for err := range errs {
		t.Error(err)
	}
	assert.Equal(t, 150+80, r.Size())
	assert.Nil(t, r.Verify(true))
	for w := 0; w < 4; w++ {
		for i := 0; i < 20; i++ {
			elem, err := r.Get(region.NewKey(fmt.Sprintf("w%d-%d", w, i)))
			require.Nil(t, err)
			require.NotNil(t, elem)
			assert.Equal(t, test.Value(i, 150), elem.Value)
		}
	}
}
