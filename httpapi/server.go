package httpapi

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Server is the node's REST admin surface, grounded on the same
// listen/serve/shutdown shape as a conventional net/http front end: bind
// synchronously so callers learn immediately if the port is taken, serve
// in the background, and shut down with a bounded drain.
type Server struct {
	addr string
	srv  *http.Server
	ln   net.Listener
	log  zerolog.Logger
}

// NewServer wraps handler's router at addr.
func NewServer(addr, token string, handler *Handler, log zerolog.Logger) *Server {
	s := &Server{addr: addr, log: log.With().Str("component", "httpapi").Logger()}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           handler.Router(token),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Start binds the listener synchronously, then serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("server error")
		}
	}()
	return nil
}

// Addr returns the listener's bound address. Useful when started on ":0".
func (s *Server) Addr() net.Addr {
	if s.ln != nil {
		return s.ln.Addr()
	}
	return nil
}

// Stop gracefully shuts the server down, draining in-flight requests for
// up to 5 seconds.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
