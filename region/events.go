package region

import "github.com/alpacahq/diskcache/worker"

// Event is a lifecycle or traffic notification sent to an EventSink.
type Event int

const (
	EventInitialized Event = iota
	EventUpdate
	EventGet
	EventRemove
	EventRemoveAll
	EventEvict
	EventOptimized
	EventReset
	EventDisposed
)

var eventNames = map[Event]string{
	EventInitialized: "initialized",
	EventUpdate:      "update",
	EventGet:         "get",
	EventRemove:      "remove",
	EventRemoveAll:   "remove_all",
	EventEvict:       "evict",
	EventOptimized:   "optimized",
	EventReset:       "reset",
	EventDisposed:    "disposed",
}

func (e Event) String() string {
	if s, ok := eventNames[e]; ok {
		return s
	}
	return "unknown"
}

// EventSink receives region events.  It must not call back into the region.
type EventSink interface {
	OnEvent(region string, ev Event)
}

type nopSink struct{}

func (nopSink) OnEvent(string, Event) {}

// Scheduler runs background jobs, compactions in particular.
type Scheduler interface {
	Submit(job worker.Job) bool
}
