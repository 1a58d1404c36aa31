// Copyright (C) 2025 Josh Simonot
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package eventbus

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"sysgrow/pkg/logger"
)

type Topic string
type Event = any

// Handler is a subscriber callback. It always runs on a bus worker, never on
// the publisher's goroutine. A returned error or a panic is logged and
// counted; it never reaches the publisher or other subscribers.
type Handler func(Event) error

// Options configures the shared queue and worker pool.
type Options struct {
	Workers           int
	QueueSize         int
	DropWarnThreshold int
	DropWarnInterval  time.Duration
	TopN              int
}

func (o Options) normalize() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 1024
	}
	if o.DropWarnThreshold <= 0 {
		o.DropWarnThreshold = 10
	}
	if o.DropWarnInterval <= 0 {
		o.DropWarnInterval = time.Minute
	}
	if o.TopN <= 0 {
		o.TopN = 10
	}
	return o
}

// subscription keeps its own FIFO of pending payloads. At most one worker
// drains it at a time, so a subscriber sees events in publish order whatever
// the pool size.
type subscription struct {
	id      uint64
	topic   Topic
	handler Handler

	mu        sync.Mutex
	pending   []Event
	scheduled bool // a worker holds or will receive this subscription
}

// push appends ev and reports whether the subscription must be handed to
// a worker.
func (s *subscription) push(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, ev)
	if s.scheduled {
		return false
	}
	s.scheduled = true
	return true
}

// pop returns the oldest pending payload. When none is left the
// subscription is released for the next push to reschedule.
func (s *subscription) pop() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		s.scheduled = false
		s.pending = nil
		return nil, false
	}
	ev := s.pending[0]
	s.pending[0] = nil
	s.pending = s.pending[1:]
	return ev, true
}

// Bus is an in-process pub/sub router. Publish never blocks: every
// subscriber callback takes one slot of a single bounded queue and is run
// by a fixed pool of workers. When the queue is full the remaining callbacks
// of that publish are dropped and counted.
//
// The composition root owns exactly one Bus per process.
type Bus struct {
	opts Options
	log  *logger.Logger

	mu        sync.RWMutex
	subs      map[Topic][]*subscription
	idCounter atomic.Uint64

	// slots bounds the queued callbacks across all subscriptions; ready
	// carries subscriptions with pending work to the pool. ready never
	// holds more entries than slots, so sending on it cannot block.
	slots   chan struct{}
	ready   chan *subscription
	qmu     sync.RWMutex // held for writing only while closing ready
	started atomic.Bool
	closed  atomic.Bool
	wg      sync.WaitGroup

	drops *DropCounter

	eventCount     atomic.Int64
	deliveredCount atomic.Int64
	failedCount    atomic.Int64
}

// New returns a Bus with its queue allocated. Workers start on Start.
func New(opts Options) *Bus {
	opts = opts.normalize()
	log := logger.New("EventBus")
	return &Bus{
		opts:  opts,
		log:   log,
		subs:  make(map[Topic][]*subscription),
		slots: make(chan struct{}, opts.QueueSize),
		ready: make(chan *subscription, opts.QueueSize),
		drops: NewDropCounter(opts.TopN, opts.DropWarnThreshold, opts.DropWarnInterval, log.Warn),
	}
}

// Start launches the worker pool. Calling it more than once is a no-op.
func (b *Bus) Start() {
	if b.started.Swap(true) {
		return
	}
	b.log.Info("starting %d workers (queue capacity %d)", b.opts.Workers, b.opts.QueueSize)
	for i := range b.opts.Workers {
		b.wg.Add(1)
		go b.worker(i)
	}
}

// Subscribe registers h for topic. Handlers of one topic are enqueued in
// registration order. The returned func removes the subscription; calling
// it again is a no-op.
func (b *Bus) Subscribe(topic Topic, h Handler) func() {
	id := b.idCounter.Add(1)

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], &subscription{id: id, topic: topic, handler: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(topic, id) })
	}
}

func (b *Bus) unsubscribe(topic Topic, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[topic]
	kept := make([]*subscription, 0, len(subs))
	for _, s := range subs {
		if s.id != id {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(b.subs, topic)
		return
	}
	b.subs[topic] = kept
}

// Publish enqueues one work item per current subscriber of topic. If the
// queue fills up part way, the remaining subscribers of this publish are
// dropped; nothing is retried. Publishing on a nil Bus is a no-op.
func (b *Bus) Publish(topic Topic, ev Event) {
	if b == nil {
		return
	}
	b.eventCount.Add(1)

	// snapshot so a concurrent (un)subscribe never races this delivery
	b.mu.RLock()
	subs := append([]*subscription(nil), b.subs[topic]...)
	b.mu.RUnlock()

	if len(subs) == 0 {
		return
	}

	b.qmu.RLock()
	defer b.qmu.RUnlock()

	if b.closed.Load() {
		b.drops.Record(topic, len(subs))
		return
	}

	for i, s := range subs {
		select {
		case b.slots <- struct{}{}:
		default:
			b.drops.Record(topic, len(subs)-i)
			return
		}
		if s.push(ev) {
			b.ready <- s
		}
	}
}

func (b *Bus) worker(id int) {
	defer b.wg.Done()
	b.log.Debug("worker %d running", id)

	for s := range b.ready {
		b.drain(s)
	}
}

// drain runs the pending callbacks of s in order until its FIFO is empty.
func (b *Bus) drain(s *subscription) {
	for {
		ev, ok := s.pop()
		if !ok {
			return
		}
		<-b.slots
		if err := dispatch(s.handler, ev); err != nil {
			b.failedCount.Add(1)
			b.log.Error("subscriber for %q failed: %v", s.topic, err)
			continue
		}
		b.deliveredCount.Add(1)
	}
}

// dispatch runs one callback, turning a panic into an error so the worker
// loop keeps going.
func dispatch(h Handler, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return h(ev)
}

// Close stops accepting work, lets the workers drain what is already
// queued and waits for them. Later publishes are counted as drops.
func (b *Bus) Close() {
	b.qmu.Lock()
	if b.closed.Swap(true) {
		b.qmu.Unlock()
		return
	}
	close(b.ready)
	b.qmu.Unlock()

	if b.started.Load() {
		b.wg.Wait()
	}
	b.log.Info("closed: %d published, %d delivered, %d failed, %d dropped",
		b.eventCount.Load(), b.deliveredCount.Load(), b.failedCount.Load(), b.drops.Total())
}

// SubscriberCount returns the number of registered callbacks across topics.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, subs := range b.subs {
		n += len(subs)
	}
	return n
}

// Metrics is the read-only snapshot consumed by health reporting.
type Metrics struct {
	QueueDepth    int          `json:"queue_depth"`
	QueueCapacity int          `json:"queue_capacity"`
	Workers       int          `json:"workers"`
	Published     int64        `json:"published"`
	Delivered     int64        `json:"delivered"`
	Failed        int64        `json:"failed"`
	DroppedTotal  int64        `json:"dropped_total"`
	DroppedRecent int64        `json:"dropped_recent"`
	TopDropped    []TopicDrops `json:"top_dropped"`
	Subscribers   int          `json:"subscribers"`
}

func (b *Bus) Metrics() Metrics {
	return Metrics{
		QueueDepth:    len(b.slots),
		QueueCapacity: cap(b.slots),
		Workers:       b.opts.Workers,
		Published:     b.eventCount.Load(),
		Delivered:     b.deliveredCount.Load(),
		Failed:        b.failedCount.Load(),
		DroppedTotal:  b.drops.Total(),
		DroppedRecent: b.drops.Recent(),
		TopDropped:    b.drops.Top(),
		Subscribers:   b.SubscriberCount(),
	}
}
