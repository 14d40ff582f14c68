package eventbus

import (
	"sync"
	"sync/atomic"

	evbus "github.com/asaskevich/EventBus"
)

const defaultQueueSize = 1000

type queuedEvent struct {
	topic string
	args  []interface{}
}

// Bus is an async event bus backed by a bounded queue and a worker pool.
// Publish never blocks the caller; when the queue is full the event is
// dropped and counted.
type Bus struct {
	bus     evbus.Bus
	workers int
	queue   chan queuedEvent
	stopCh  chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Int64
	once    sync.Once
}

// New creates and starts a bus with the given worker count.
func New(workers int) *Bus {
	if workers <= 0 {
		workers = 4
	}
	b := &Bus{
		bus:     evbus.New(),
		workers: workers,
		queue:   make(chan queuedEvent, defaultQueueSize),
		stopCh:  make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		b.wg.Add(1)
		go b.worker()
	}
	return b
}

func (b *Bus) worker() {
	defer b.wg.Done()
	for {
		select {
		case <-b.stopCh:
			// drain what is left so subscribers see a consistent tail
			for {
				select {
				case ev := <-b.queue:
					b.dispatch(ev)
				default:
					return
				}
			}
		case ev := <-b.queue:
			b.dispatch(ev)
		}
	}
}

func (b *Bus) dispatch(ev queuedEvent) {
	defer func() {
		if r := recover(); r != nil {
			// a panicking subscriber must not kill the worker
		}
	}()
	b.bus.Publish(ev.topic, ev.args...)
}

// Publish enqueues an event for async delivery. Drops on a full queue.
func (b *Bus) Publish(topic string, args ...interface{}) {
	select {
	case b.queue <- queuedEvent{topic: topic, args: args}:
	default:
		b.dropped.Add(1)
	}
}

// Subscribe registers fn for a topic. fn's signature must match the published
// arguments, per EventBus semantics.
func (b *Bus) Subscribe(topic string, fn interface{}) error {
	return b.bus.Subscribe(topic, fn)
}

// Unsubscribe removes a previously registered handler.
func (b *Bus) Unsubscribe(topic string, fn interface{}) error {
	return b.bus.Unsubscribe(topic, fn)
}

// Dropped returns how many events were discarded due to backpressure.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close stops the workers after draining the queue. Safe to call twice.
func (b *Bus) Close() {
	b.once.Do(func() {
		close(b.stopCh)
		b.wg.Wait()
	})
}
