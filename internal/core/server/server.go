// Package server is the TCP engine: it listens, accepts clients, runs each
// client's receive → transform → send cycle and records failures.
package server

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"transform_nexus/internal/core/registry"
	"transform_nexus/internal/errorlog"
	"transform_nexus/internal/shared/codec"
	"transform_nexus/internal/shared/logger"
)

// NotifyTitle is the title passed to the notifier for Open failures.
const NotifyTitle = "TCP Server Open"

// Server composes the listener, the client registry and the error log.
type Server struct {
	transform TransformFunc
	notify    NotifyFunc
	errLog    *errorlog.Writer
	codec     *codec.Codec
	hostAddrs func() ([]net.IP, error)
	listen    func(ip net.IP, port, backlog int) (net.Listener, error)
	log       zerolog.Logger

	clients *registry.Registry[*Connection]

	mu         sync.Mutex // serializes Open and Close
	isOpen     atomic.Bool
	listener   net.Listener
	backlog    int
	bufferSize int

	acceptWG sync.WaitGroup // accept loop plus unfinished admissions
	connWG   sync.WaitGroup // connection goroutines
}

// New creates a closed server that replies with transform(message).
func New(transform TransformFunc, opts ...Option) *Server {
	s := &Server{
		transform: transform,
		codec:     codec.ShiftJIS(),
		hostAddrs: interfaceAddrs,
		listen:    listenTCP,
		log:       logger.WithComponent("Server"),
		clients:   registry.New[*Connection](),
	}
	if s.transform == nil {
		s.transform = func(text string) string { return text }
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open starts listening on address:port. It returns true when the server is
// open afterwards, including when it already was.
func (s *Server) Open(address string, port, backlog, bufferSize int) bool {
	return s.Listen(address, port, backlog, bufferSize) == nil
}

// Listen is Open with the failure reason. A *ConfigError means nothing was
// bound.
func (s *Server) Listen(address string, port, backlog, bufferSize int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isOpen.Load() {
		return nil
	}

	if err := checkParams(address, port, backlog, bufferSize); err != nil {
		s.reportOpen(err)
		return err
	}
	ip, err := s.validateAddress(address)
	if err != nil {
		s.reportOpen(err)
		return err
	}

	ln, err := s.listen(ip, port, backlog)
	if err != nil {
		err = fmt.Errorf("failed to listen on %s: %w", net.JoinHostPort(address, fmt.Sprint(port)), err)
		s.reportOpen(err)
		return err
	}

	s.listener = ln
	s.backlog = backlog
	s.bufferSize = bufferSize
	s.isOpen.Store(true)

	s.acceptWG.Add(1)
	go s.acceptLoop(ln, semaphore.NewWeighted(int64(backlog)), bufferSize)

	s.log.Info().
		Str("listen_addr", ln.Addr().String()).
		Int("backlog", backlog).
		Int("buffer_size", bufferSize).
		Str("encoding", s.codec.Name()).
		Msg(">>> TCP server is listening.")
	return nil
}

// Close disconnects every client, stops the listener and marks the server
// closed. It is safe to call at any time and more than once. It must not be
// called from inside the transform.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.log.Warn().Err(err).Msg("Failed to close listener.")
		}
		s.acceptWG.Wait()
		s.listener = nil
	}

	clients := s.clients.Enumerate()
	for _, c := range clients {
		if err := c.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.log.Debug().Err(err).Str("conn_id", c.ID()).Msg("Error closing client.")
		}
	}
	s.clients.Clear()
	s.connWG.Wait()

	if s.isOpen.Swap(false) {
		s.log.Info().Int("clients_closed", len(clients)).Msg("TCP server has been shut down.")
	}
}

// IsOpen reports whether the server is listening.
func (s *Server) IsOpen() bool {
	return s.isOpen.Load()
}

// Addr returns the bound address, or nil when closed.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ClientCount returns the number of registered connections.
func (s *Server) ClientCount() int {
	return s.clients.Len()
}

// Clients returns a snapshot of the registered connections.
func (s *Server) Clients() []*Connection {
	return s.clients.Enumerate()
}

func checkParams(address string, port, backlog, bufferSize int) error {
	switch {
	case port < 0 || port > 65535:
		return &ConfigError{Address: address, Err: fmt.Errorf("%w: port %d", ErrInvalidParameter, port)}
	case backlog <= 0:
		return &ConfigError{Address: address, Err: fmt.Errorf("%w: backlog %d", ErrInvalidParameter, backlog)}
	case bufferSize <= 0:
		return &ConfigError{Address: address, Err: fmt.Errorf("%w: buffer size %d", ErrInvalidParameter, bufferSize)}
	}
	return nil
}

// report sends err to the process log and, when enabled, to the error log file.
func (s *Server) report(event string, err error) {
	s.log.Error().Err(err).Str("event", event).Msg("TCP server error.")
	if s.errLog != nil {
		s.errLog.Append(err.Error())
	}
}

func (s *Server) reportOpen(err error) {
	s.report("open", err)
	if s.notify != nil {
		s.notify(NotifyTitle, err.Error())
	}
}
