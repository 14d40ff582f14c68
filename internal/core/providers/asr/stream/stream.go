package stream

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"voxloop-server-go/internal/core/audio"
	"voxloop-server-go/internal/core/providers"
	"voxloop-server-go/internal/core/providers/asr"
	"voxloop-server-go/internal/platform/config"
	"voxloop-server-go/internal/platform/errors"
)

func init() {
	asr.Register("stream", NewProvider)
}

// startRequest opens a recognition stream on the backend.
type startRequest struct {
	Action     string `json:"action"`
	Language   string `json:"language,omitempty"`
	SampleRate int    `json:"sample_rate"`
	Format     string `json:"format"`
}

// transcriptMessage is one recognition update from the backend.
type transcriptMessage struct {
	Text       string  `json:"text"`
	IsFinal    bool    `json:"is_final"`
	Confidence float64 `json:"confidence"`
}

// Provider speaks a simple websocket recognition protocol: one JSON start
// message, binary PCM frames, JSON transcript updates back.
type Provider struct {
	url        string
	apiKey     string
	language   string
	sampleRate int

	mu      sync.Mutex
	conn    *websocket.Conn
	events  chan providers.TranscriptEvent
	done    chan struct{}
	started bool
}

func NewProvider(cfg config.ASRConfig) (asr.Provider, error) {
	if cfg.URL == "" {
		return nil, errors.New(errors.KindConfig, "asr.stream", "missing url")
	}
	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &Provider{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		language:   cfg.Language,
		sampleRate: sampleRate,
	}, nil
}

// Start dials the backend and begins the read loop.
func (p *Provider) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return errors.New(errors.KindProvider, "asr.stream", "already started")
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	headers := http.Header{}
	if p.apiKey != "" {
		headers.Set("Authorization", "Bearer "+p.apiKey)
	}

	conn, resp, err := dialer.DialContext(ctx, p.url, headers)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return errors.Wrap(errors.KindProvider, "asr.stream", "dial "+p.url, err)
	}

	start, err := sonic.Marshal(startRequest{
		Action:     "start",
		Language:   p.language,
		SampleRate: p.sampleRate,
		Format:     "pcm_s16le",
	})
	if err != nil {
		conn.Close()
		return errors.Wrap(errors.KindProvider, "asr.stream", "encode start", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, start); err != nil {
		conn.Close()
		return errors.Wrap(errors.KindProvider, "asr.stream", "send start", err)
	}

	p.conn = conn
	p.events = make(chan providers.TranscriptEvent, 32)
	p.done = make(chan struct{})
	p.started = true

	go p.readLoop(conn, p.events, p.done)
	return nil
}

func (p *Provider) readLoop(conn *websocket.Conn, events chan<- providers.TranscriptEvent, done <-chan struct{}) {
	defer close(events)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var msg transcriptMessage
		if err := sonic.Unmarshal(data, &msg); err != nil {
			continue
		}
		ev := providers.TranscriptEvent{
			Text:       msg.Text,
			Final:      msg.IsFinal,
			Confidence: msg.Confidence,
			At:         time.Now(),
		}
		select {
		case events <- ev:
		case <-done:
			return
		}
	}
}

// Feed sends one inbound audio frame to the recognizer.
func (p *Provider) Feed(ctx context.Context, frame audio.Frame) error {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()

	if conn == nil {
		return errors.New(errors.KindProvider, "asr.stream", "not started")
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.BinaryMessage, frame.PCM); err != nil {
		return errors.Wrap(errors.KindProvider, "asr.stream", "send audio", err)
	}
	return nil
}

// Events returns the transcript stream. The channel closes when the backend
// connection ends.
func (p *Provider) Events() <-chan providers.TranscriptEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events
}

// Stop tells the backend the stream is over and tears the connection down.
func (p *Provider) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return nil
	}
	p.started = false
	close(p.done)

	end, _ := sonic.Marshal(map[string]string{"action": "end"})
	p.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = p.conn.WriteMessage(websocket.TextMessage, end)
	err := p.conn.Close()
	p.conn = nil
	return err
}
