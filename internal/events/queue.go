package events

import (
	"sync"

	"locsim/internal/types"
)

// queue is a bounded FIFO that never drops must-deliver events. When full,
// a progress event replaces the same device's queued progress event if that
// is the device's newest entry, otherwise it is dropped. A must-deliver event
// evicts the oldest progress event to make room and is appended regardless.
// Neither path reorders events, so per-device order is preserved.
type queue struct {
	mu        sync.Mutex
	items     []types.Event
	capacity  int
	dropped   uint64
	coalesced uint64
}

func newQueue(capacity int) *queue {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	return &queue{capacity: capacity, items: make([]types.Event, 0, capacity)}
}

func (q *queue) push(evt types.Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) < q.capacity {
		q.items = append(q.items, evt)
		return true
	}
	if evt.Type.Droppable() {
		for i := len(q.items) - 1; i >= 0; i-- {
			if q.items[i].DeviceID != evt.DeviceID {
				continue
			}
			if q.items[i].Type == evt.Type {
				q.items[i] = evt
				q.coalesced++
				return true
			}
			break
		}
		q.dropped++
		return false
	}
	for i := range q.items {
		if q.items[i].Type.Droppable() {
			q.items = append(q.items[:i], q.items[i+1:]...)
			q.dropped++
			break
		}
	}
	q.items = append(q.items, evt)
	return true
}

func (q *queue) pop() (types.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return types.Event{}, false
	}
	evt := q.items[0]
	q.items[0] = types.Event{}
	q.items = q.items[1:]
	return evt, true
}

func (q *queue) drain() []types.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	out := q.items
	q.items = make([]types.Event, 0, q.capacity)
	return out
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *queue) counters() (dropped, coalesced uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped, q.coalesced
}
