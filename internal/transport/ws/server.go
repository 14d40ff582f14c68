package ws

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"voxloop-server-go/internal/core/pipeline"
	"voxloop-server-go/internal/core/providers"
	"voxloop-server-go/internal/platform/errors"
	"voxloop-server-go/internal/platform/logging"
)

const (
	defaultCloseTimeout = 5 * time.Second
	defaultStaleAfter   = 5 * time.Minute
	sweepInterval       = 30 * time.Second
	pingInterval        = 25 * time.Second
)

// ServerConfig carries the listener settings for the voice endpoint.
type ServerConfig struct {
	Addr             string
	Path             string
	SampleRate       int
	Channels         int
	HandshakeTimeout time.Duration
	StaleAfter       time.Duration
}

// SessionStarter builds a running pipeline session on a freshly accepted
// channel. Providers with per-session state are created inside the starter.
type SessionStarter interface {
	Start(ctx context.Context, channel providers.AudioChannel) (*pipeline.Session, error)
}

// Server accepts websocket connections and runs one pipeline session per
// connection.
type Server struct {
	cfg      ServerConfig
	starter  SessionStarter
	hub      *Hub
	logger   *logging.Logger
	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

func NewServer(cfg ServerConfig, starter SessionStarter, logger *logging.Logger) *Server {
	if cfg.Path == "" {
		cfg.Path = "/voice"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaultStaleAfter
	}
	return &Server{
		cfg:     cfg,
		starter: starter,
		hub:     NewHub(),
		logger:  logger,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: cfg.HandshakeTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
			CheckOrigin:      func(*http.Request) bool { return true },
		},
	}
}

// Hub exposes session tracking, used by the control plane for counts.
func (s *Server) Hub() *Hub { return s.hub }

// Start listens and serves until ctx is cancelled. It blocks.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, func(w http.ResponseWriter, r *http.Request) {
		s.handleConn(ctx, w, r)
	})

	s.httpSrv = &http.Server{
		Addr:    s.cfg.Addr,
		Handler: mux,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	go s.sweepLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logInfo("[WebSocket] listening on %s%s", s.cfg.Addr, s.cfg.Path)
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.Stop()
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return errors.Wrap(errors.KindTransport, "ws.start", "listen", err)
		}
		return nil
	}
}

// Stop closes every session and shuts the listener down.
func (s *Server) Stop() {
	s.hub.CloseAll()
	if s.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultCloseTimeout)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
	}
	s.logInfo("[WebSocket] server stopped")
}

func (s *Server) handleConn(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logWarn("[WebSocket] upgrade from %s: %v", r.RemoteAddr, err)
		return
	}

	channel := NewChannel(conn, s.cfg.SampleRate, s.cfg.Channels, s.logger)
	session, err := s.starter.Start(ctx, channel)
	if err != nil {
		s.logWarn("[WebSocket] start session for %s: %v", r.RemoteAddr, err)
		_ = channel.Close()
		return
	}

	s.hub.Register(channel, session)
	s.logInfo("[WebSocket] session %s connected from %s", session.ID(), r.RemoteAddr)

	go s.keepAlive(ctx, channel)

	err = session.Wait()
	s.hub.Unregister(session.ID())
	_ = session.Stop()
	if err != nil {
		s.logWarn("[WebSocket] session %s ended: %v", session.ID(), err)
	} else {
		s.logInfo("[WebSocket] session %s disconnected", session.ID())
	}
}

// keepAlive pings the client so idle conversations survive proxies.
func (s *Server) keepAlive(ctx context.Context, channel *Channel) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := channel.Ping(); err != nil {
				return
			}
		}
	}
}

func (s *Server) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.hub.SweepStale(s.cfg.StaleAfter); n > 0 {
				s.logInfo("[WebSocket] reaped %d stale sessions", n)
			}
		}
	}
}

func (s *Server) logInfo(msg string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *Server) logWarn(msg string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
