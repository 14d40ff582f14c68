package ws

import (
	"context"
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"voxloop-server-go/internal/core/audio"
	"voxloop-server-go/internal/platform/logging"
)

const (
	// frameHeaderSize is the length of the sequence prefix on every binary
	// message: 8 bytes, big endian.
	frameHeaderSize = 8

	outboundQueueSize = 256
	writeWait         = 5 * time.Second
	pongWait          = 60 * time.Second
)

// controlMessage is the JSON payload of text frames in either direction.
type controlMessage struct {
	Type string `json:"type"`
}

// Channel adapts one websocket connection to the duplex audio interface the
// pipeline consumes. Binary messages carry PCM prefixed with a sequence
// number; text messages carry control JSON. Outbound frames go through a
// bounded queue drained by a single writer goroutine so Flush can discard
// everything not yet on the wire.
type Channel struct {
	conn   *websocket.Conn
	logger *logging.Logger

	sampleRate int
	channels   int

	inbound  chan audio.Frame
	outbound chan audio.Frame
	flushSig chan struct{}

	writeMu sync.Mutex

	closed     atomic.Bool
	closeOnce  sync.Once
	done       chan struct{}
	lastActive atomic.Int64

	readErr atomic.Value // error from the reader goroutine
}

// NewChannel wraps an upgraded connection and starts its reader and writer
// goroutines.
func NewChannel(conn *websocket.Conn, sampleRate, channels int, logger *logging.Logger) *Channel {
	c := &Channel{
		conn:       conn,
		logger:     logger,
		sampleRate: sampleRate,
		channels:   channels,
		inbound:    make(chan audio.Frame, 64),
		outbound:   make(chan audio.Frame, outboundQueueSize),
		flushSig:   make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	c.touch()

	conn.SetPongHandler(func(string) error {
		c.touch()
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))

	go c.readPump()
	go c.writePump()
	return c
}

// ReadFrame returns the next inbound audio frame. It blocks until a frame
// arrives, the context ends, or the connection closes.
func (c *Channel) ReadFrame(ctx context.Context) (audio.Frame, error) {
	select {
	case <-ctx.Done():
		return audio.Frame{}, ctx.Err()
	case frame, ok := <-c.inbound:
		if !ok {
			if err, _ := c.readErr.Load().(error); err != nil {
				return audio.Frame{}, err
			}
			return audio.Frame{}, ErrChannelClosed
		}
		return frame, nil
	}
}

// WriteFrame queues a frame for the writer goroutine.
func (c *Channel) WriteFrame(ctx context.Context, frame audio.Frame) error {
	if c.closed.Load() {
		return ErrChannelClosed
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrChannelClosed
	case c.outbound <- frame:
		return nil
	}
}

// Flush drops every queued outbound frame and tells the client to clear its
// playback buffer. Called on barge-in; must return quickly.
func (c *Channel) Flush() error {
	select {
	case c.flushSig <- struct{}{}:
	default:
	}
	for {
		select {
		case <-c.outbound:
		default:
			return c.writeText(`{"type":"clear"}`)
		}
	}
}

// Close shuts the connection down. Idempotent.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
	return nil
}

// IsStale reports whether nothing has moved on the connection for timeout.
func (c *Channel) IsStale(timeout time.Duration) bool {
	last := time.Unix(0, c.lastActive.Load())
	return time.Since(last) > timeout
}

// Ping sends a websocket ping so intermediaries keep the connection alive.
func (c *Channel) Ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (c *Channel) touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

// readPump moves socket messages onto the inbound channel until the
// connection dies.
func (c *Channel) readPump() {
	defer close(c.inbound)
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.closed.Load() {
				c.readErr.Store(err)
			}
			return
		}
		c.touch()
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		switch msgType {
		case websocket.BinaryMessage:
			frame, err := c.decodeFrame(data)
			if err != nil {
				c.logDebug("[WebSocket] dropping malformed frame: %v", err)
				continue
			}
			select {
			case c.inbound <- frame:
			case <-c.done:
				return
			}
		case websocket.TextMessage:
			c.handleControl(data)
		}
	}
}

// writePump is the only goroutine that writes data messages. A flush signal
// makes it skip frames already pulled off the queue.
func (c *Channel) writePump() {
	for {
		select {
		case <-c.done:
			return
		case <-c.flushSig:
		case frame := <-c.outbound:
			select {
			case <-c.flushSig:
				continue
			default:
			}
			if err := c.writeBinary(encodeFrame(frame)); err != nil {
				c.logDebug("[WebSocket] write frame: %v", err)
				_ = c.Close()
				return
			}
			c.touch()
		}
	}
}

func (c *Channel) handleControl(data []byte) {
	var msg controlMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		c.logDebug("[WebSocket] bad control message: %v", err)
		return
	}
	switch msg.Type {
	case "ping":
		_ = c.writeText(`{"type":"pong"}`)
	case "bye":
		_ = c.Close()
	default:
		c.logDebug("[WebSocket] unknown control type %q", msg.Type)
	}
}

func (c *Channel) decodeFrame(data []byte) (audio.Frame, error) {
	if len(data) < frameHeaderSize {
		return audio.Frame{}, ErrShortFrame
	}
	return audio.Frame{
		Seq:        binary.BigEndian.Uint64(data[:frameHeaderSize]),
		Direction:  audio.DirectionInbound,
		SampleRate: c.sampleRate,
		Channels:   c.channels,
		PCM:        data[frameHeaderSize:],
		Timestamp:  time.Now(),
	}, nil
}

func encodeFrame(frame audio.Frame) []byte {
	buf := make([]byte, frameHeaderSize+len(frame.PCM))
	binary.BigEndian.PutUint64(buf[:frameHeaderSize], frame.Seq)
	copy(buf[frameHeaderSize:], frame.PCM)
	return buf
}

func (c *Channel) writeBinary(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c *Channel) writeText(payload string) error {
	if c.closed.Load() {
		return ErrChannelClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, []byte(payload))
}

func (c *Channel) logDebug(msg string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}
