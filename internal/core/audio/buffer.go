package audio

import "sync"

// Buffer is a bounded FIFO for inbound frames. When full, Push discards the
// oldest frame so a stalled consumer sees recent audio rather than an
// ever-growing backlog. Real-time speech is only useful fresh.
type Buffer struct {
	mu       sync.Mutex
	frames   []Frame
	capacity int
	dropped  uint64
	notify   chan struct{}
	closed   bool
}

// NewBuffer creates a buffer holding at most capacity frames.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 64
	}
	return &Buffer{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// Push adds a frame, evicting the oldest when full. Returns false once the
// buffer is closed.
func (b *Buffer) Push(f Frame) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	if len(b.frames) >= b.capacity {
		b.frames = b.frames[1:]
		b.dropped++
	}
	b.frames = append(b.frames, f)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return true
}

// Pop removes the oldest frame without blocking.
func (b *Buffer) Pop() (Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.frames) == 0 {
		return Frame{}, false
	}
	f := b.frames[0]
	b.frames = b.frames[1:]
	return f, true
}

// Wait returns a channel that receives a signal when frames may be available.
// The channel never closes; callers also select on their context.
func (b *Buffer) Wait() <-chan struct{} {
	return b.notify
}

// Len returns the number of buffered frames.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

// Dropped returns how many frames were evicted.
func (b *Buffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Clear discards all buffered frames, for barge-in flushes.
func (b *Buffer) Clear() {
	b.mu.Lock()
	b.frames = b.frames[:0]
	b.mu.Unlock()
}

// Close stops accepting frames.
func (b *Buffer) Close() {
	b.mu.Lock()
	b.closed = true
	b.frames = nil
	b.mu.Unlock()
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Closed reports whether Close was called.
func (b *Buffer) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
