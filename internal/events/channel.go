// Package events serializes device events from many producers to the
// control-plane streams.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"locsim/internal/logging"
	"locsim/internal/types"
)

const DefaultQueueSize = 256

// New builds an event stamped with a fresh id and the current time.
func New(eventType types.EventType, deviceID string, data any) types.Event {
	return types.Event{
		ID:       uuid.NewString(),
		Type:     eventType,
		DeviceID: deviceID,
		Time:     time.Now().UTC(),
		Data:     data,
	}
}

type Stats struct {
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
	Coalesced   uint64 `json:"coalesced"`
	Subscribers int    `json:"subscribers"`
}

// Channel accepts events from any goroutine without blocking. A single
// consumer moves them from the central queue into each subscriber's queue.
type Channel struct {
	logger logging.Logger
	size   int

	central *queue
	wake    chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}

	mu        sync.Mutex
	closed    bool
	nextID    int
	subs      map[int]*subscriber
	published uint64
}

func NewChannel(size int, logger logging.Logger) *Channel {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = logging.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		logger:  logger,
		size:    size,
		central: newQueue(size),
		wake:    make(chan struct{}, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
		subs:    map[int]*subscriber{},
	}
	go c.consume(ctx)
	return c
}

func (c *Channel) Publish(evt types.Event) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.published++
	c.mu.Unlock()
	if !c.central.push(evt) {
		c.logger.Debug("event_dropped", logging.F("event", string(evt.Type)), logging.Device(evt.DeviceID))
	}
	signal(c.wake)
}

// Subscribe returns a stream of events and a cancel func. The stream is
// closed after cancel or Close.
func (c *Channel) Subscribe() (<-chan types.Event, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub := newSubscriber(c.size)
	if c.closed {
		sub.stop()
		return sub.out, func() {}
	}
	c.nextID++
	id := c.nextID
	c.subs[id] = sub
	cancel := func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
		sub.stop()
	}
	return sub.out, cancel
}

func (c *Channel) Stats() Stats {
	c.mu.Lock()
	stats := Stats{Published: c.published, Subscribers: len(c.subs)}
	subs := make([]*subscriber, 0, len(c.subs))
	for _, sub := range c.subs {
		subs = append(subs, sub)
	}
	c.mu.Unlock()
	dropped, coalesced := c.central.counters()
	stats.Dropped, stats.Coalesced = dropped, coalesced
	for _, sub := range subs {
		d, co := sub.q.counters()
		stats.Dropped += d
		stats.Coalesced += co
	}
	return stats
}

// Close delivers what is already queued, then ends every subscription.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	<-c.done

	c.mu.Lock()
	subs := c.subs
	c.subs = map[int]*subscriber{}
	c.mu.Unlock()
	for _, sub := range subs {
		sub.finish()
	}
}

func (c *Channel) consume(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			c.fanOut(c.central.drain())
			return
		case <-c.wake:
			c.fanOut(c.central.drain())
		}
	}
}

func (c *Channel) fanOut(batch []types.Event) {
	if len(batch) == 0 {
		return
	}
	c.mu.Lock()
	subs := make([]*subscriber, 0, len(c.subs))
	for _, sub := range c.subs {
		subs = append(subs, sub)
	}
	c.mu.Unlock()
	for _, sub := range subs {
		for _, evt := range batch {
			sub.q.push(evt)
		}
		signal(sub.wake)
	}
}

type subscriber struct {
	q        *queue
	wake     chan struct{}
	out      chan types.Event
	stopped  chan struct{}
	stopOnce sync.Once
	// draining is closed to flush remaining events before out is closed.
	draining chan struct{}
	drainOne sync.Once
}

func newSubscriber(size int) *subscriber {
	sub := &subscriber{
		q:        newQueue(size),
		wake:     make(chan struct{}, 1),
		out:      make(chan types.Event),
		stopped:  make(chan struct{}),
		draining: make(chan struct{}),
	}
	go sub.pump()
	return sub
}

func (s *subscriber) stop() {
	s.stopOnce.Do(func() { close(s.stopped) })
}

func (s *subscriber) finish() {
	s.drainOne.Do(func() { close(s.draining) })
}

func (s *subscriber) pump() {
	defer close(s.out)
	for {
		evt, ok := s.q.pop()
		if !ok {
			select {
			case <-s.stopped:
				return
			case <-s.draining:
				return
			case <-s.wake:
				continue
			}
		}
		select {
		case s.out <- evt:
		case <-s.stopped:
			return
		}
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
