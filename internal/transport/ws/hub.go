package ws

import (
	"sync"
	"sync/atomic"
	"time"
)

// Session is the part of a pipeline session the hub needs.
type Session interface {
	ID() string
	Stop() error
}

// client pairs a live channel with the session running on it.
type client struct {
	channel *Channel
	session Session
}

// Hub tracks every connected client so the server can report counts, sweep
// stale connections and close everything on shutdown.
type Hub struct {
	clients sync.Map // session id -> *client
	count   atomic.Int64
}

func NewHub() *Hub {
	return &Hub{}
}

func (h *Hub) Register(ch *Channel, s Session) {
	h.clients.Store(s.ID(), &client{channel: ch, session: s})
	h.count.Add(1)
}

func (h *Hub) Unregister(sessionID string) {
	if _, loaded := h.clients.LoadAndDelete(sessionID); loaded {
		h.count.Add(-1)
	}
}

// Count returns the number of live sessions.
func (h *Hub) Count() int {
	return int(h.count.Load())
}

// CloseAll stops every session. Used on server shutdown.
func (h *Hub) CloseAll() {
	h.clients.Range(func(key, value interface{}) bool {
		c := value.(*client)
		_ = c.session.Stop()
		h.Unregister(key.(string))
		return true
	})
}

// SweepStale stops sessions whose connections have been silent longer than
// timeout and returns how many were reaped.
func (h *Hub) SweepStale(timeout time.Duration) int {
	reaped := 0
	h.clients.Range(func(key, value interface{}) bool {
		c := value.(*client)
		if c.channel.IsStale(timeout) {
			_ = c.session.Stop()
			h.Unregister(key.(string))
			reaped++
		}
		return true
	})
	return reaped
}
