package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// HTTPServer serves a handler as an extension.
type HTTPServer struct {
	addr string
	srv  *http.Server
	ln   net.Listener
	done chan struct{}
}

// NewHTTPServer creates an HTTPServer listening on addr once loaded.
func NewHTTPServer(addr string, h http.Handler) *HTTPServer {
	return &HTTPServer{
		addr: addr,
		srv: &http.Server{
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
}

func (s *HTTPServer) Name() string { return "http" }

// Load binds the listener and serves in the background.
func (s *HTTPServer) Load(_ context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.ln = ln
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", ln.Addr().String()).Msg("http server stopped unexpectedly")
		}
	}()
	log.Info().Str("addr", ln.Addr().String()).Msg("http server listening")
	return nil
}

// Addr returns the bound address, or nil before Load.
func (s *HTTPServer) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Shutdown drains in-flight requests until ctx expires.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	<-s.done
	return err
}
