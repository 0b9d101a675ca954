package projection

import (
	"sync"

	"golang.org/x/exp/slices"
)

// telemetry emission points:
//   intent.received  metadata: sid, rev, screen, intent, ack
//   render.complete  measurements: duration_ms; metadata: status
//   patch.sent       measurements: op_count; metadata: ack
//   error            metadata: kind, message, screen
const (
	TelemetryIntentReceived = "intent.received"
	TelemetryRenderComplete = "render.complete"
	TelemetryPatchSent      = "patch.sent"
	TelemetryError          = "error"
)

type TelemetryEvent struct {
	Name         string
	Measurements map[string]any
	Metadata     map[string]any
}

type TelemetryFunction func(event TelemetryEvent)

type callbackEntry[T any] struct {
	callbackId int
	callback   T
}

// makes a copy of the list on update so that emit never holds the lock
type callbackList[T any] struct {
	mutex          sync.Mutex
	nextCallbackId int
	entries        []callbackEntry[T]
}

func (self *callbackList[T]) get() []callbackEntry[T] {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.entries
}

// returns a function to remove the callback
func (self *callbackList[T]) add(callback T) func() {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	callbackId := self.nextCallbackId
	self.nextCallbackId += 1

	nextEntries := slices.Clone(self.entries)
	nextEntries = append(nextEntries, callbackEntry[T]{
		callbackId: callbackId,
		callback:   callback,
	})
	self.entries = nextEntries

	return func() {
		self.remove(callbackId)
	}
}

func (self *callbackList[T]) remove(callbackId int) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	i := slices.IndexFunc(self.entries, func(entry callbackEntry[T]) bool {
		return entry.callbackId == callbackId
	})
	if i < 0 {
		// not present
		return
	}
	nextEntries := slices.Clone(self.entries)
	nextEntries = slices.Delete(nextEntries, i, i+1)
	self.entries = nextEntries
}
