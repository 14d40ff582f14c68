package providers

import (
	"context"
	"time"

	"voxloop-server-go/internal/core/audio"
	"voxloop-server-go/internal/domain/conversation"
	"voxloop-server-go/internal/domain/tools"
)

// TranscriptEvent is one recognition update from the ASR engine. Partial
// events refine the in-progress utterance; a Final event closes it.
type TranscriptEvent struct {
	Text       string
	Final      bool
	Confidence float64
	At         time.Time
}

// Chunk is one streamed increment from the language model. The stream closes
// after the terminal chunk: either Err is set, or the accumulated response is
// complete (text and/or tool calls).
type Chunk struct {
	Delta     string
	ToolCalls []conversation.ToolCall
	Err       error
}

// LanguageModel streams a chat completion. The returned channel is fed by a
// goroutine owned by the provider and closed when generation finishes or ctx
// is cancelled.
type LanguageModel interface {
	Stream(ctx context.Context, messages []conversation.Message, specs []tools.Spec) (<-chan Chunk, error)
}

// SpeechSynthesizer converts one text segment into PCM frames. The channel
// closes after the last frame; cancellation via ctx stops synthesis early.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text string) (<-chan audio.Frame, error)
}

// SpeechRecognizer consumes inbound audio and emits transcript events.
type SpeechRecognizer interface {
	Start(ctx context.Context) error
	Feed(ctx context.Context, frame audio.Frame) error
	Events() <-chan TranscriptEvent
	Stop() error
}

// VoiceDetector classifies raw PCM as speech or silence.
type VoiceDetector interface {
	IsSpeech(pcm []byte) bool
	Reset()
}

// AudioChannel is the session's duplex connection to the remote peer.
// ReadFrame blocks until an inbound frame, an error, or ctx cancellation.
// Flush discards queued outbound audio; it is the transport half of barge-in.
type AudioChannel interface {
	ReadFrame(ctx context.Context) (audio.Frame, error)
	WriteFrame(ctx context.Context, frame audio.Frame) error
	Flush() error
	Close() error
}
