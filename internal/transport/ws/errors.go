package ws

import "errors"

var (
	// ErrChannelClosed is returned by channel operations after Close.
	ErrChannelClosed = errors.New("ws: channel closed")

	// ErrServerShutdown is the close reason sent to clients when the server
	// stops.
	ErrServerShutdown = errors.New("ws: server shutting down")

	// ErrShortFrame is returned when a binary message is too small to carry
	// the sequence header.
	ErrShortFrame = errors.New("ws: binary frame shorter than header")
)
