// Package server accepts record protocol connections and runs one worker
// goroutine per connection.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/xid"
	"golang.org/x/net/netutil"
	"gradebook-server-go/metrics"
	"gradebook-server-go/models"
	"gradebook-server-go/wire"
	"pkt.systems/pslog"
)

// Handler processes one framed request
type Handler interface {
	Handle(ctx context.Context, raw []byte) models.Response
}

// Config controls the acceptor
type Config struct {
	Addr string
	// MaxConnections caps concurrently served connections; 0 means no cap
	MaxConnections int
	// MaxRequestBytes bounds one request frame
	MaxRequestBytes int
}

// Server is the connection acceptor
type Server struct {
	cfg     Config
	handler Handler
	metrics *metrics.Metrics
	logger  pslog.Logger

	mu       sync.Mutex
	listener net.Listener
	closed   bool
}

// New creates a server; m may be nil
func New(cfg Config, handler Handler, m *metrics.Metrics, logger pslog.Logger) *Server {
	if cfg.MaxRequestBytes <= 0 {
		cfg.MaxRequestBytes = wire.DefaultMaxFrame
	}
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &Server{
		cfg:     cfg,
		handler: handler,
		metrics: m,
		logger:  logger.With("subsystem", "server"),
	}
}

// Listen binds the configured address. A bind failure is the only error
// the caller is expected to treat as fatal.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	if s.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConnections)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.logger.Info("server.listening", "addr", ln.Addr().String(), "max_connections", s.cfg.MaxConnections)
	return nil
}

// Addr returns the bound address, or nil before Listen
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve runs the accept loop until Close is called or ctx is done.
// Accept failures are logged and the loop keeps going.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("server is not listening")
	}

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("server.accept_failed", "error", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}
		go s.serveConn(ctx, conn)
	}
}

// Close stops accepting. Connections already being served keep running
// until their peers disconnect.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.listener == nil {
		s.closed = true
		return nil
	}
	s.closed = true
	return s.listener.Close()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// serveConn is the per-connection worker: read one frame, process it,
// write one frame, until the peer goes away.
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	id := xid.New().String()
	logger := s.logger.With("conn", id, "peer", conn.RemoteAddr().String())

	s.metrics.ConnectionOpened()
	logger.Info("server.conn.open")
	defer func() {
		if r := recover(); r != nil {
			logger.Error("server.conn.panic", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
		_ = conn.Close()
		s.metrics.ConnectionClosed()
		logger.Info("server.conn.closed")
	}()

	r := bufio.NewReader(conn)
	for {
		frame, err := wire.ReadFrame(r, s.cfg.MaxRequestBytes)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				logger.Debug("server.conn.peer_closed")
			case errors.Is(err, wire.ErrFrameTooLarge):
				logger.Warn("server.conn.frame_too_large", "max", s.cfg.MaxRequestBytes)
				_ = wire.WriteJSON(conn, models.Failure("Solicitud demasiado grande"))
			default:
				logger.Warn("server.conn.read_failed", "error", err)
			}
			return
		}
		logger.Debug("server.conn.request", "bytes", len(frame))

		resp := s.handler.Handle(ctx, frame)

		if err := wire.WriteJSON(conn, resp); err != nil {
			logger.Warn("server.conn.write_failed", "error", err)
			return
		}
		logger.Debug("server.conn.response", "status", resp.Status)
	}
}
