package httptransport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"voxloop-server-go/internal/platform/errors"
	"voxloop-server-go/internal/platform/logging"
)

// Server runs the gin engine behind a graceful http.Server.
type Server struct {
	engine  http.Handler
	addr    string
	logger  *logging.Logger
	httpSrv *http.Server
}

func NewServer(router *Router, port int, logger *logging.Logger) *Server {
	return &Server{
		engine: router.Engine,
		addr:   fmt.Sprintf(":%d", port),
		logger: logger,
	}
}

// Start serves until ctx is cancelled. It blocks.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if s.logger != nil {
			s.logger.Info("[HTTP] control plane listening on %s", s.addr)
		}
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return errors.Wrap(errors.KindTransport, "http.start", "listen", err)
		}
		return nil
	}
}
