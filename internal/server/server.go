// Package server accepts dispatcher protocol connections and runs one
// Handler per connection.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/mattjoyce/ductile-ci/internal/log"
)

// Server owns the TCP listener.
type Server struct {
	addr        string
	handler     *Handler
	readTimeout time.Duration
	logger      *slog.Logger

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup
}

// New creates a Server for addr (host:port).
func New(addr string, handler *Handler, readTimeout time.Duration) *Server {
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	return &Server{
		addr:        addr,
		handler:     handler,
		readTimeout: readTimeout,
		logger:      log.WithComponent("server"),
	}
}

// Listen binds the listening socket. Start calls it when needed.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.ln = ln
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Start accepts connections until ctx is cancelled, then closes the listener
// and waits for open connections to finish. A bind or accept failure is
// returned as a fatal error.
// This is a blocking call.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()

	s.logger.Info("dispatcher listening", "addr", ln.Addr().String())

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	defer s.wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Info("listener stopped")
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	dc := &deadlineConn{Conn: conn, timeout: s.readTimeout}
	if err := s.handler.Handle(ctx, dc); err != nil {
		s.logger.Debug("connection closed with error", "remote", conn.RemoteAddr().String(), "error", err)
	}
}

// deadlineConn refreshes the deadline before every read and write so a
// large results payload is bounded per chunk rather than in total.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(p []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(p)
}

func (c *deadlineConn) Write(p []byte) (int, error) {
	if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Write(p)
}
