package lookup

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"gradebook-server-go/models"
	"gradebook-server-go/wire"
	"pkt.systems/pslog"
)

const (
	CommandList   = "LISTAR"
	CommandSearch = "BUSCAR"

	// MaxCommandBytes bounds a single lookup command
	MaxCommandBytes = 1024

	defaultReadTimeout = 5 * time.Second
)

// Server answers catalog queries one connection at a time. Each
// connection carries exactly one command and one reply.
type Server struct {
	catalog     *Catalog
	logger      pslog.Logger
	readTimeout time.Duration

	mu       sync.Mutex
	listener net.Listener
	closed   bool
	served   int
}

// NewServer creates a lookup server for catalog. readTimeout bounds how
// long a silent client may hold the single serving slot.
func NewServer(catalog *Catalog, readTimeout time.Duration, logger pslog.Logger) *Server {
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &Server{
		catalog:     catalog,
		readTimeout: readTimeout,
		logger:      logger.With("subsystem", "lookup.server"),
	}
}

// Listen binds addr
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.logger.Info("lookup.server.listening", "addr", ln.Addr().String(), "courses", s.catalog.Len())
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

// Serve accepts and answers connections sequentially until Close is
// called or ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("lookup server is not listening")
	}

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("lookup.server.accept_failed", "error", err)
			continue
		}
		s.handle(conn)
	}
}

// Close stops the accept loop
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

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	s.mu.Lock()
	s.served++
	n := s.served
	s.mu.Unlock()

	peer := conn.RemoteAddr().String()
	_ = conn.SetDeadline(time.Now().Add(s.readTimeout))

	r := bufio.NewReaderSize(io.LimitReader(conn, MaxCommandBytes+1), MaxCommandBytes+1)
	frame, err := wire.ReadFrame(r, MaxCommandBytes)
	if err != nil {
		if !errors.Is(err, io.EOF) {
			s.logger.Warn("lookup.server.read_failed", "query", n, "peer", peer, "error", err)
		}
		return
	}
	s.logger.Info("lookup.server.query", "query", n, "peer", peer, "command", string(frame))

	reply := s.Process(string(frame))
	if err := wire.WriteJSON(conn, reply); err != nil {
		s.logger.Warn("lookup.server.write_failed", "query", n, "peer", peer, "error", err)
		return
	}
	if reply.Status == models.LookupOK {
		s.logger.Debug("lookup.server.reply", "query", n, "status", reply.Status)
	} else {
		s.logger.Debug("lookup.server.reply", "query", n, "status", reply.Status, "mensaje", reply.Message)
	}
}

// Process answers one command. The verb is case-insensitive; BUSCAR
// takes exactly one argument.
func (s *Server) Process(command string) models.LookupReply {
	parts := strings.Split(strings.TrimSpace(command), "|")
	verb := strings.ToUpper(strings.TrimSpace(parts[0]))

	switch {
	case verb == CommandList:
		return okReply(s.catalog.Entries())
	case verb == CommandSearch && len(parts) == 2:
		code := strings.TrimSpace(parts[1])
		entry, ok := s.catalog.Find(code)
		if !ok {
			return errorReply(fmt.Sprintf("NRC '%s' no existe", code))
		}
		return okReply(entry)
	default:
		return errorReply("Comando no reconocido")
	}
}

func okReply(data any) models.LookupReply {
	raw, err := json.Marshal(data)
	if err != nil {
		return errorReply(err.Error())
	}
	return models.LookupReply{Status: models.LookupOK, Data: raw}
}

func errorReply(message string) models.LookupReply {
	return models.LookupReply{Status: models.LookupError, Message: message}
}
