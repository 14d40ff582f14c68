package pipeline

import (
	"context"
	"sync/atomic"
)

// PendingGeneration is the cancellable handle around one in-flight turn:
// the LLM stream, tool rounds and TTS synthesis driven by it. Barge-in
// cancels it; the owning goroutine marks it finished once fully unwound, which
// is the signal that cancellation is acknowledged.
type PendingGeneration struct {
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	cancelled atomic.Bool
}

func newPendingGeneration(parent context.Context) *PendingGeneration {
	ctx, cancel := context.WithCancel(parent)
	return &PendingGeneration{
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Context is the generation-scoped context passed to providers.
func (p *PendingGeneration) Context() context.Context {
	return p.ctx
}

// Cancel requests cancellation. Safe to call multiple times.
func (p *PendingGeneration) Cancel() {
	p.cancelled.Store(true)
	p.cancel()
}

// Cancelled reports whether Cancel was called. Finish releasing the context
// does not count; only an explicit barge-in cancellation does.
func (p *PendingGeneration) Cancelled() bool {
	return p.cancelled.Load()
}

// Finish marks the generation fully unwound and releases resources.
func (p *PendingGeneration) Finish() {
	p.cancel()
	close(p.done)
}

// Done closes when the generation has fully unwound.
func (p *PendingGeneration) Done() <-chan struct{} {
	return p.done
}
