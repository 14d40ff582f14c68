package pipeline

import (
	"context"
	"io"
	"sync"
	"time"

	"voxloop-server-go/internal/core/audio"
	"voxloop-server-go/internal/core/providers"
	"voxloop-server-go/internal/domain/conversation"
	"voxloop-server-go/internal/domain/tools"
)

// mockChannel is a scriptable duplex audio channel.
type mockChannel struct {
	in chan audio.Frame

	mu         sync.Mutex
	written    []audio.Frame
	flushes    int
	lastFlush  time.Time
	closed     bool
	writeDelay time.Duration
}

func newMockChannel() *mockChannel {
	return &mockChannel{in: make(chan audio.Frame, 64)}
}

func (c *mockChannel) ReadFrame(ctx context.Context) (audio.Frame, error) {
	select {
	case <-ctx.Done():
		return audio.Frame{}, ctx.Err()
	case f, ok := <-c.in:
		if !ok {
			return audio.Frame{}, io.EOF
		}
		return f, nil
	}
}

func (c *mockChannel) WriteFrame(ctx context.Context, frame audio.Frame) error {
	if c.writeDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.writeDelay):
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.ErrClosedPipe
	}
	c.written = append(c.written, frame)
	return nil
}

func (c *mockChannel) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushes++
	c.lastFlush = time.Now()
	return nil
}

func (c *mockChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *mockChannel) writtenFrames() []audio.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]audio.Frame, len(c.written))
	copy(out, c.written)
	return out
}

func (c *mockChannel) flushCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushes
}

// mockASR lets tests inject transcript events directly.
type mockASR struct {
	events chan providers.TranscriptEvent

	mu      sync.Mutex
	fed     int
	started bool
}

func newMockASR() *mockASR {
	return &mockASR{events: make(chan providers.TranscriptEvent, 16)}
}

func (a *mockASR) Start(context.Context) error {
	a.mu.Lock()
	a.started = true
	a.mu.Unlock()
	return nil
}

func (a *mockASR) Feed(_ context.Context, _ audio.Frame) error {
	a.mu.Lock()
	a.fed++
	a.mu.Unlock()
	return nil
}

func (a *mockASR) Events() <-chan providers.TranscriptEvent { return a.events }

func (a *mockASR) Stop() error { return nil }

func (a *mockASR) finalize(text string) {
	a.events <- providers.TranscriptEvent{Text: text, Final: true, At: time.Now()}
}

// mockVAD treats any frame whose first byte is nonzero as speech.
type mockVAD struct{}

func (mockVAD) IsSpeech(pcm []byte) bool { return len(pcm) > 0 && pcm[0] != 0 }
func (mockVAD) Reset()                   {}

func speechFrame(seq uint64) audio.Frame {
	pcm := make([]byte, 320)
	pcm[0] = 1
	return audio.Frame{Seq: seq, PCM: pcm, SampleRate: 16000, Channels: 1}
}

// scriptedResponse is what one LLM stream attempt produces.
type scriptedResponse struct {
	chunks []providers.Chunk
	delay  time.Duration // between chunks
	err    error         // stream creation error
}

// mockLLM pops one scripted response per Stream call; when the script runs
// out it repeats the last entry.
type mockLLM struct {
	mu      sync.Mutex
	script  []scriptedResponse
	calls   int
	history [][]conversation.Message
}

func (m *mockLLM) Stream(ctx context.Context, messages []conversation.Message, _ []tools.Spec) (<-chan providers.Chunk, error) {
	m.mu.Lock()
	snapshot := make([]conversation.Message, len(messages))
	copy(snapshot, messages)
	m.history = append(m.history, snapshot)
	idx := m.calls
	if idx >= len(m.script) {
		idx = len(m.script) - 1
	}
	resp := m.script[idx]
	m.calls++
	m.mu.Unlock()

	if resp.err != nil {
		return nil, resp.err
	}

	out := make(chan providers.Chunk, len(resp.chunks))
	go func() {
		defer close(out)
		for _, chunk := range resp.chunks {
			if resp.delay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(resp.delay):
				}
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (m *mockLLM) streamCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockTTS emits frameCount frames per segment, optionally spaced out so a
// barge-in can land mid-playback.
type mockTTS struct {
	frameCount int
	frameDelay time.Duration

	mu       sync.Mutex
	segments []string
}

func (m *mockTTS) Synthesize(ctx context.Context, text string) (<-chan audio.Frame, error) {
	m.mu.Lock()
	m.segments = append(m.segments, text)
	m.mu.Unlock()

	count := m.frameCount
	if count <= 0 {
		count = 3
	}
	out := make(chan audio.Frame, count)
	go func() {
		defer close(out)
		for i := 0; i < count; i++ {
			if m.frameDelay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(m.frameDelay):
				}
			}
			frame := audio.Frame{
				SampleRate: 16000,
				Channels:   1,
				PCM:        make([]byte, 320),
				Timestamp:  time.Now(),
			}
			select {
			case out <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (m *mockTTS) spokenSegments() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.segments))
	copy(out, m.segments)
	return out
}

func textChunks(parts ...string) []providers.Chunk {
	chunks := make([]providers.Chunk, len(parts))
	for i, p := range parts {
		chunks[i] = providers.Chunk{Delta: p}
	}
	return chunks
}

func toolCallChunk(id, name, args string) providers.Chunk {
	return providers.Chunk{ToolCalls: []conversation.ToolCall{
		{ID: id, Name: name, Arguments: args},
	}}
}
